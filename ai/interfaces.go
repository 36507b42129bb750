package ai

import "context"

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	// Returns an error if the embedding generation fails.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// The returned slice contains embeddings in the same order as the input texts.
	// Returns an error if any embedding generation fails.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator produces text from a prompt using a named model.
// Implementations must be thread-safe for concurrent use.
type Generator interface {
	// Generate runs the prompt against model and returns the raw completion.
	// Rate-limit failures should wrap ErrRateLimited.
	Generate(ctx context.Context, model string, prompt Prompt, params GenerationParams) (string, error)
}

// AIProvider aggregates AI services for convenient initialization and lifecycle management.
type AIProvider interface {
	// Embedder returns the text embedding service.
	Embedder() Embedder

	// Generator returns the text generation service.
	Generator() Generator

	// Close releases resources held by the provider and its services.
	// After Close is called, the provider and its services should not be used.
	Close() error
}
