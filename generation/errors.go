package generation

import "errors"

var (
	// ErrGeneratorRequired is returned when a text generator is not provided.
	ErrGeneratorRequired = errors.New("text generator required")

	// ErrPoolRequired is returned when a worker pool is not provided.
	ErrPoolRequired = errors.New("worker pool required")

	// ErrModelsRequired is returned when no generation models are configured.
	ErrModelsRequired = errors.New("at least one generation model required")
)
