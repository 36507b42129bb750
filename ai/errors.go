package ai

import (
	"errors"
	"strings"
)

var (
	// ErrRateLimited marks a transient provider failure worth one retry.
	ErrRateLimited = errors.New("rate limited")

	// ErrEmptyResponse indicates the model returned no usable text.
	ErrEmptyResponse = errors.New("empty response from model")
)

// rateLimitMarkers are substrings providers use to signal throttling.
var rateLimitMarkers = []string{
	"429",
	"rate limit",
	"ratelimit",
	"too many requests",
	"resource exhausted",
	"resource_exhausted",
	"quota",
}

// IsRateLimited reports whether err looks like a transient throttling failure.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
