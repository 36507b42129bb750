package openai

import (
	"fmt"

	"github.com/poiesic/lessonrag/ai"
)

// token returns the bearer token for the client. langchaingo refuses an
// empty token, and local servers accept any value.
func token(config *ai.Config) string {
	if config.APIKey == "" {
		return "none"
	}
	return config.APIKey
}

// classify tags throttling failures with ai.ErrRateLimited so callers can
// decide on a retry without parsing provider messages.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if ai.IsRateLimited(err) {
		return fmt.Errorf("%w: %w", ai.ErrRateLimited, err)
	}
	return err
}
