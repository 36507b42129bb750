package reembed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/lessonrag/core"
	"github.com/poiesic/lessonrag/storage"
	"github.com/poiesic/lessonrag/storage/badger"
)

type testDB struct {
	chunks      storage.ChunkRepository
	checkpoints *badger.CheckpointRepository
}

func setupTestDB(t *testing.T) *testDB {
	t.Helper()

	backend, err := badger.OpenBackend("", true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	repo, err := badger.NewChunkRepository(backend)
	require.NoError(t, err)

	return &testDB{
		chunks:      repo,
		checkpoints: badger.NewCheckpointRepository(backend),
	}
}

// seedChunks stores n chunks; every chunk at an index in embedded gets a vector.
func seedChunks(t *testing.T, repo storage.ChunkRepository, n int, embedded ...int) []*core.Chunk {
	t.Helper()

	has := make(map[int]bool, len(embedded))
	for _, i := range embedded {
		has[i] = true
	}

	chunks := make([]*core.Chunk, n)
	for i := range chunks {
		chunks[i] = &core.Chunk{
			ID:         core.ChunkID("geo.pdf", "10", "Geography", i),
			ClassGrade: "10",
			Subject:    "Geography",
			Chapter:    "Water Resources",
			Content:    fmt.Sprintf("Passage %d. ", i) + strings.Repeat("Rivers carry water from the hills to the sea. ", 4),
		}
		if has[i] {
			chunks[i].Embedding = []float32{0, 0, 1}
		}
	}
	added, err := repo.AddChunks(context.Background(), chunks...)
	require.NoError(t, err)
	return added
}

func TestChunkIterator_ForEach(t *testing.T) {
	db := setupTestDB(t)
	seedChunks(t, db.chunks, 10)

	it := NewChunkIterator(db.chunks, 3, false)

	var sizes []int
	seen := make(map[uuid.UUID]bool)
	var last uuid.UUID
	err := it.ForEach(context.Background(), uuid.Nil, func(batch []*core.Chunk) error {
		sizes = append(sizes, len(batch))
		for _, c := range batch {
			assert.False(t, seen[c.ID], "chunk visited twice")
			seen[c.ID] = true
			assert.Positive(t, strings.Compare(c.ID.String(), last.String()), "chunks should arrive in ID order")
			last = c.ID
		}
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []int{3, 3, 3, 1}, sizes)
	assert.Len(t, seen, 10)
}

func TestChunkIterator_ExactMultiple(t *testing.T) {
	db := setupTestDB(t)
	seedChunks(t, db.chunks, 6)

	calls := 0
	err := NewChunkIterator(db.chunks, 3, false).ForEach(context.Background(), uuid.Nil, func(batch []*core.Chunk) error {
		calls++
		assert.Len(t, batch, 3)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "no empty trailing batch")
}

func TestChunkIterator_OnlyMissing(t *testing.T) {
	db := setupTestDB(t)
	seedChunks(t, db.chunks, 8, 0, 2, 4, 6)

	var visited int
	err := NewChunkIterator(db.chunks, 2, true).ForEach(context.Background(), uuid.Nil, func(batch []*core.Chunk) error {
		for _, c := range batch {
			assert.False(t, c.HasEmbedding())
		}
		visited += len(batch)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, visited)
}

func TestChunkIterator_AfterCursor(t *testing.T) {
	db := setupTestDB(t)
	seedChunks(t, db.chunks, 5)

	var all []uuid.UUID
	require.NoError(t, db.chunks.ScanChunksAfter(context.Background(), uuid.Nil, func(c *core.Chunk) bool {
		all = append(all, c.ID)
		return true
	}))
	require.Len(t, all, 5)

	var rest []uuid.UUID
	err := NewChunkIterator(db.chunks, 10, false).ForEach(context.Background(), all[1], func(batch []*core.Chunk) error {
		for _, c := range batch {
			rest = append(rest, c.ID)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, all[2:], rest)
}

func TestChunkIterator_Empty(t *testing.T) {
	db := setupTestDB(t)

	called := false
	err := NewChunkIterator(db.chunks, 5, false).ForEach(context.Background(), uuid.Nil, func([]*core.Chunk) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, called)
}

func TestChunkIterator_StopsOnError(t *testing.T) {
	db := setupTestDB(t)
	seedChunks(t, db.chunks, 9)

	boom := errors.New("boom")
	calls := 0
	err := NewChunkIterator(db.chunks, 3, false).ForEach(context.Background(), uuid.Nil, func([]*core.Chunk) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestChunkIterator_ContextCancelled(t *testing.T) {
	db := setupTestDB(t)
	seedChunks(t, db.chunks, 9)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := NewChunkIterator(db.chunks, 3, false).ForEach(ctx, uuid.Nil, func([]*core.Chunk) error {
		calls++
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestNewChunkIterator_DefaultBatchSize(t *testing.T) {
	db := setupTestDB(t)
	it := NewChunkIterator(db.chunks, 0, false)
	assert.Equal(t, DefaultBatchSize, it.batchSize)
}
