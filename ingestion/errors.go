package ingestion

import "errors"

var (
	// ErrRepositoryRequired is returned when a chunk repository is not provided.
	ErrRepositoryRequired = errors.New("chunk repository required")

	// ErrChunkerRequired is returned when a chunker is not provided.
	ErrChunkerRequired = errors.New("chunker required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrInvalidRequest is returned when a document lacks text, class or subject.
	ErrInvalidRequest = errors.New("invalid ingestion request")
)
