package embedding

import "errors"

var (
	// ErrEmbedderRequired is returned when no embedder is supplied.
	ErrEmbedderRequired = errors.New("embedder is required")

	// ErrCacheRequired is returned when WithCache is given nil.
	ErrCacheRequired = errors.New("cache is required")

	// ErrPoolRequired is returned when WithPool is given nil.
	ErrPoolRequired = errors.New("worker pool is required")

	// ErrInvalidDimensions is returned for a non-positive vector width.
	ErrInvalidDimensions = errors.New("dimensions must be positive")

	// ErrDimensionMismatch marks a vector whose width differs from the configured one.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrBatchMismatch marks a batch response with the wrong number of vectors.
	ErrBatchMismatch = errors.New("embedding batch size mismatch")
)
