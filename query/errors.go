package query

import "errors"

var (
	// ErrCatalogRequired is returned when a catalog is not provided.
	ErrCatalogRequired = errors.New("catalog required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrRetrieverRequired is returned when a retriever is not provided.
	ErrRetrieverRequired = errors.New("retriever required")

	// ErrGeneratorRequired is returned when an answer generator is not provided.
	ErrGeneratorRequired = errors.New("answer generator required")
)
