package ai

// Prompt is a chat-style prompt: a system instruction plus the user turn.
type Prompt struct {
	System string
	User   string
}

// GenerationParams are the sampling parameters passed with every generation call.
type GenerationParams struct {
	Temperature float64
	TopP        float64
	TopK        int
	MaxTokens   int

	// PermissiveSafety asks providers that filter content to relax their
	// safety settings. Educational material on biology or history trips
	// default filters. Providers without safety settings ignore it.
	PermissiveSafety bool
}

// DefaultGenerationParams returns low-temperature, bounded-length settings.
func DefaultGenerationParams() GenerationParams {
	return GenerationParams{
		Temperature:      0.2,
		TopP:             0.8,
		TopK:             40,
		MaxTokens:        1000,
		PermissiveSafety: true,
	}
}
