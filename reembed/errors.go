package reembed

import "errors"

var (
	// ErrRepositoryRequired is returned when a chunk repository is not provided.
	ErrRepositoryRequired = errors.New("chunk repository required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrEmbeddingCountMismatch is returned when the embedder returns a
	// different number of vectors than texts.
	ErrEmbeddingCountMismatch = errors.New("embedding count mismatch")
)
