package retrieval

import "errors"

var (
	// ErrRepositoryRequired is returned when a chunk repository is not provided.
	ErrRepositoryRequired = errors.New("chunk repository required")

	// ErrInvalidThreshold is returned when the similarity threshold is outside [0,1).
	ErrInvalidThreshold = errors.New("threshold must be in [0, 1)")
)
