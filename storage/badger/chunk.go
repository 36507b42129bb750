package badger

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/poiesic/lessonrag/core"
	"github.com/poiesic/lessonrag/storage"
)

const (
	topChapterCount  = 10
	recentChunkCount = 5
)

// ChunkRepository implements storage.ChunkRepository for BadgerDB.
type ChunkRepository struct {
	backend *Backend
	logger  *slog.Logger
}

var _ storage.ChunkRepository = (*ChunkRepository)(nil)

// NewChunkRepository creates a new ChunkRepository.
func NewChunkRepository(backend *Backend) (storage.ChunkRepository, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	return newChunkRepository(backend), nil
}

func newChunkRepository(backend *Backend) *ChunkRepository {
	return &ChunkRepository{
		backend: backend,
		logger:  slog.Default().With("component", "chunk-repository"),
	}
}

// Close is a no-op; the backend is owned by whoever opened it.
func (r *ChunkRepository) Close() error {
	return nil
}

// AddChunks stores chunks, overwriting any with the same ID.
func (r *ChunkRepository) AddChunks(ctx context.Context, chunks ...*core.Chunk) ([]*core.Chunk, error) {
	if len(chunks) == 0 {
		return chunks, nil
	}
	now := time.Now().UTC()
	for _, c := range chunks {
		if err := core.ValidateChunk(c); err != nil {
			return nil, err
		}
		c.Metadata = core.SanitizeMetadata(c.Metadata)
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
	}

	err := r.backend.Run(ctx, func(tx *badger.Txn) error {
		for _, c := range chunks {
			old, err := getChunk(tx, c.ID)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}
			if err := putChunk(tx, old, c); err != nil {
				return err
			}
		}
		return nil
	}, true)
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// UpdateChunks rewrites existing chunks.
func (r *ChunkRepository) UpdateChunks(ctx context.Context, chunks ...*core.Chunk) ([]*core.Chunk, error) {
	if len(chunks) == 0 {
		return chunks, nil
	}
	err := r.backend.Run(ctx, func(tx *badger.Txn) error {
		for _, c := range chunks {
			old, err := getChunk(tx, c.ID)
			if err != nil {
				return err
			}
			if c.CreatedAt.IsZero() {
				c.CreatedAt = old.CreatedAt
			}
			c.Metadata = core.SanitizeMetadata(c.Metadata)
			if err := putChunk(tx, old, c); err != nil {
				return err
			}
		}
		return nil
	}, true)
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// GetChunk retrieves a single chunk by ID.
func (r *ChunkRepository) GetChunk(ctx context.Context, id uuid.UUID) (*core.Chunk, error) {
	var chunk *core.Chunk
	err := r.backend.Run(ctx, func(tx *badger.Txn) error {
		var err error
		chunk, err = getChunk(tx, id)
		return err
	}, false)
	return chunk, err
}

// DeleteChunks removes chunks and their index entries.
func (r *ChunkRepository) DeleteChunks(ctx context.Context, ids ...uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return r.backend.Run(ctx, func(tx *badger.Txn) error {
		for _, id := range ids {
			old, err := getChunk(tx, id)
			if err != nil {
				return err
			}
			if err := tx.Delete(makeChunkKey(id)); err != nil {
				return err
			}
			if err := tx.Delete(makeChunkDateKey(old.CreatedAt, id)); err != nil {
				return err
			}
			if err := adjustFacet(tx, old, -1); err != nil {
				return err
			}
		}
		return nil
	}, true)
}

// FindSimilar performs a filtered cosine scan over stored chunks.
func (r *ChunkRepository) FindSimilar(ctx context.Context, vector []float32, filters core.Filters, minSimilarity float32, limit int) ([]storage.ScoredChunk, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", storage.ErrInvalidQuery, limit)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", storage.ErrInvalidQuery)
	}

	var results []storage.ScoredChunk
	err := r.scan(ctx, nil, func(c *core.Chunk) (bool, error) {
		if !c.HasEmbedding() || !filters.Matches(c) {
			return true, nil
		}
		sim := core.CosineSimilarity(vector, c.Embedding)
		if sim > minSimilarity {
			results = append(results, storage.ScoredChunk{Chunk: c, Similarity: sim})
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(results, func(a, b storage.ScoredChunk) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}
		return strings.Compare(a.Chunk.ID.String(), b.Chunk.ID.String())
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// ScanChunks calls fn for each chunk matching filters in ID order.
func (r *ChunkRepository) ScanChunks(ctx context.Context, filters core.Filters, fn func(*core.Chunk) bool) error {
	return r.scan(ctx, nil, func(c *core.Chunk) (bool, error) {
		if !filters.Matches(c) {
			return true, nil
		}
		return fn(c), nil
	})
}

// ScanChunksAfter calls fn for each chunk whose ID sorts after the given
// ID, in ID order. A nil UUID starts from the beginning.
func (r *ChunkRepository) ScanChunksAfter(ctx context.Context, after uuid.UUID, fn func(*core.Chunk) bool) error {
	return r.scan(ctx, &after, func(c *core.Chunk) (bool, error) {
		return fn(c), nil
	})
}

// scan iterates chunk records. When after is set, iteration starts just
// past that ID. The context is checked between records.
func (r *ChunkRepository) scan(ctx context.Context, after *uuid.UUID, fn func(*core.Chunk) (bool, error)) error {
	return r.backend.Run(ctx, func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(chunkPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		start := []byte(chunkPrefix)
		if after != nil && *after != uuid.Nil {
			start = makeChunkKey(*after)
		}
		for iter.Seek(start); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := iter.Item()
			if after != nil && *after != uuid.Nil {
				if id, ok := chunkIDFromKey(item.Key()); ok && id == *after {
					continue
				}
			}
			var chunk *core.Chunk
			err := item.Value(func(val []byte) error {
				var err error
				chunk, err = storage.UnmarshalChunk(val)
				return err
			})
			if err != nil {
				return err
			}
			more, err := fn(chunk)
			if err != nil {
				return err
			}
			if !more {
				return nil
			}
		}
		return nil
	}, false)
}

// HasData reports whether any chunk matches the filters, using the facet index.
func (r *ChunkRepository) HasData(ctx context.Context, filters core.Filters) (bool, error) {
	filters = core.NormalizeFilters(filters)
	found := false
	err := r.backend.Run(ctx, func(tx *badger.Txn) error {
		prefix := []byte(facetPrefix)
		if filters.ClassGrade != "" {
			prefix = makeFacetFilterPrefix(filters.ClassGrade, filters.Subject)
		}
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = filters.ClassGrade == "" && filters.Subject != ""
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if !opts.PrefetchValues {
				found = true
				return nil
			}
			var f facet
			err := iter.Item().Value(func(val []byte) error {
				var err error
				f, err = unmarshalFacet(val)
				return err
			})
			if err != nil {
				return err
			}
			if strings.EqualFold(f.Subject, filters.Subject) {
				found = true
				return nil
			}
		}
		return nil
	}, false)
	return found, err
}

// Stats summarizes the stored corpus.
func (r *ChunkRepository) Stats(ctx context.Context) (*core.CorpusStats, error) {
	stats := &core.CorpusStats{}
	err := r.backend.Run(ctx, func(tx *badger.Txn) error {
		facets, err := readFacets(tx)
		if err != nil {
			return err
		}
		classes := make(map[string]struct{})
		subjects := make(map[string]struct{})
		for _, f := range facets {
			classes[strings.ToLower(f.ClassGrade)] = struct{}{}
			subjects[strings.ToLower(f.Subject)] = struct{}{}
		}
		stats.Classes = len(classes)
		stats.Subjects = len(subjects)
		stats.Chapters = len(facets)

		slices.SortFunc(facets, func(a, b facet) int {
			if c := cmp.Compare(b.Count, a.Count); c != 0 {
				return c
			}
			return cmp.Or(
				strings.Compare(a.ClassGrade, b.ClassGrade),
				strings.Compare(a.Subject, b.Subject),
				strings.Compare(a.Chapter, b.Chapter),
			)
		})
		for _, f := range facets[:min(topChapterCount, len(facets))] {
			stats.TopChapters = append(stats.TopChapters, core.ChapterCount{
				ClassGrade: f.ClassGrade,
				Subject:    f.Subject,
				Chapter:    f.Chapter,
				Chunks:     f.Count,
			})
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(chunkPrefix)
		iter := tx.NewIterator(opts)
		for iter.Rewind(); iter.Valid(); iter.Next() {
			var chunk *core.Chunk
			err := iter.Item().Value(func(val []byte) error {
				var err error
				chunk, err = storage.UnmarshalChunk(val)
				return err
			})
			if err != nil {
				iter.Close()
				return err
			}
			stats.TotalChunks++
			if chunk.HasEmbedding() {
				stats.WithEmbeddings++
			}
		}
		iter.Close()

		recent, err := recentChunks(tx, recentChunkCount)
		if err != nil {
			return err
		}
		stats.Recent = recent
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// Count returns the number of stored chunks.
func (r *ChunkRepository) Count(ctx context.Context) (int, error) {
	count := 0
	err := r.backend.Run(ctx, func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(chunkPrefix)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	}, false)
	return count, err
}

func getChunk(tx *badger.Txn, id uuid.UUID) (*core.Chunk, error) {
	item, err := tx.Get(makeChunkKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: chunk %s", storage.ErrNotFound, id)
		}
		return nil, err
	}
	var chunk *core.Chunk
	err = item.Value(func(val []byte) error {
		var err error
		chunk, err = storage.UnmarshalChunk(val)
		return err
	})
	return chunk, err
}

// putChunk writes c and moves its index entries away from old, which may be nil.
func putChunk(tx *badger.Txn, old, c *core.Chunk) error {
	if old != nil {
		if err := tx.Delete(makeChunkDateKey(old.CreatedAt, old.ID)); err != nil {
			return err
		}
		if err := adjustFacet(tx, old, -1); err != nil {
			return err
		}
	}
	if err := tx.Set(makeChunkKey(c.ID), storage.MarshalChunk(c)); err != nil {
		return err
	}
	if err := tx.Set(makeChunkDateKey(c.CreatedAt, c.ID), storage.MarshalID(c.ID)); err != nil {
		return err
	}
	return adjustFacet(tx, c, 1)
}

func adjustFacet(tx *badger.Txn, c *core.Chunk, delta int) error {
	key := makeFacetKey(c.ClassGrade, c.Subject, c.Chapter)
	f := facet{ClassGrade: c.ClassGrade, Subject: c.Subject, Chapter: c.Chapter}

	item, err := tx.Get(key)
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
	case err != nil:
		return err
	default:
		err = item.Value(func(val []byte) error {
			var err error
			f, err = unmarshalFacet(val)
			return err
		})
		if err != nil {
			return err
		}
	}

	f.Count += delta
	if f.Count <= 0 {
		return tx.Delete(key)
	}
	return tx.Set(key, marshalFacet(f))
}

func readFacets(tx *badger.Txn) ([]facet, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(facetPrefix)
	iter := tx.NewIterator(opts)
	defer iter.Close()

	var facets []facet
	for iter.Rewind(); iter.Valid(); iter.Next() {
		err := iter.Item().Value(func(val []byte) error {
			f, err := unmarshalFacet(val)
			if err != nil {
				return err
			}
			facets = append(facets, f)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return facets, nil
}

// recentChunks walks the date index newest first.
func recentChunks(tx *badger.Txn, n int) ([]*core.Chunk, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(chunkDatePrefix)
	opts.Reverse = true
	iter := tx.NewIterator(opts)
	defer iter.Close()

	// Reverse iteration must seek past the last possible key under the prefix.
	seek := append([]byte(chunkDatePrefix), 0xFF)

	var chunks []*core.Chunk
	for iter.Seek(seek); iter.Valid() && len(chunks) < n; iter.Next() {
		var id uuid.UUID
		err := iter.Item().Value(func(val []byte) error {
			var err error
			id, err = storage.UnmarshalID(val)
			return err
		})
		if err != nil {
			return nil, err
		}
		chunk, err := getChunk(tx, id)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}
