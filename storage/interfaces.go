package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/poiesic/lessonrag/core"
)

// ScoredChunk is a chunk paired with its cosine similarity to a query vector.
type ScoredChunk struct {
	Chunk      *core.Chunk
	Similarity float32
}

// Catalog answers questions about which class/subject facets hold data.
// The query layer uses it to reject filters naming nothing in the corpus.
type Catalog interface {
	// HasData reports whether any chunk matches the filters.
	// Empty filters report whether the store holds any chunk at all.
	HasData(ctx context.Context, filters core.Filters) (bool, error)
}

// ChunkRepository provides operations for managing chunks.
// Implementations must be thread-safe and support concurrent access.
type ChunkRepository interface {
	Catalog

	// AddChunks stores chunks, overwriting any with the same ID.
	// Each chunk is validated with core.ValidateChunk and its metadata sanitized.
	// Sets CreatedAt if not already set.
	// Returns the stored chunks.
	AddChunks(ctx context.Context, chunks ...*core.Chunk) ([]*core.Chunk, error)

	// UpdateChunks rewrites existing chunks, typically with new embeddings.
	// Returns ErrNotFound if any chunk doesn't exist.
	UpdateChunks(ctx context.Context, chunks ...*core.Chunk) ([]*core.Chunk, error)

	// GetChunk retrieves a single chunk by ID.
	// Returns ErrNotFound if the chunk doesn't exist.
	GetChunk(ctx context.Context, id uuid.UUID) (*core.Chunk, error)

	// DeleteChunks removes chunks and their indices.
	// Returns ErrNotFound if any chunk doesn't exist.
	DeleteChunks(ctx context.Context, ids ...uuid.UUID) error

	// FindSimilar returns chunks matching filters whose cosine similarity to
	// vector is strictly greater than minSimilarity, highest first, at most
	// limit results. Chunks without an embedding never match. Ties are
	// broken by ascending chunk ID.
	FindSimilar(ctx context.Context, vector []float32, filters core.Filters, minSimilarity float32, limit int) ([]ScoredChunk, error)

	// ScanChunks calls fn for every chunk matching filters, in ID order,
	// until fn returns false.
	ScanChunks(ctx context.Context, filters core.Filters, fn func(*core.Chunk) bool) error

	// ScanChunksAfter calls fn for every chunk whose ID sorts after the
	// given ID, in ID order, until fn returns false. uuid.Nil starts at
	// the first chunk. Used to resume long scans.
	ScanChunksAfter(ctx context.Context, after uuid.UUID, fn func(*core.Chunk) bool) error

	// Stats summarizes the stored corpus.
	Stats(ctx context.Context) (*core.CorpusStats, error)

	// Count returns the number of stored chunks.
	Count(ctx context.Context) (int, error)

	// Close closes the storage backend and releases resources.
	Close() error
}

// CheckpointRepository persists progress markers for maintenance jobs.
type CheckpointRepository interface {
	// SaveCheckpoint stores the checkpoint under its name, setting UpdatedAt.
	SaveCheckpoint(ctx context.Context, checkpoint *core.Checkpoint) error

	// LoadCheckpoint returns the named checkpoint.
	// Returns nil, nil if no checkpoint exists.
	LoadCheckpoint(ctx context.Context, name string) (*core.Checkpoint, error)

	// DeleteCheckpoint removes the named checkpoint. Missing checkpoints are ignored.
	DeleteCheckpoint(ctx context.Context, name string) error
}
