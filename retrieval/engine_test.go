package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/lessonrag/core"
	"github.com/poiesic/lessonrag/storage"
	"github.com/poiesic/lessonrag/storage/badger"
)

func newRepo(t *testing.T) storage.ChunkRepository {
	t.Helper()
	repo, err := badger.NewMemoryRepository()
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func addChunk(t *testing.T, repo storage.ChunkRepository, class, subject, chapter string, index int, content string, vec []float32) *core.Chunk {
	t.Helper()
	c := &core.Chunk{
		ID:         core.ChunkID(chapter+".pdf", class, subject, index),
		ClassGrade: class,
		Subject:    subject,
		Chapter:    chapter,
		Content:    content + " " + strings.Repeat("This sentence pads the passage to a storable length. ", 4),
		Embedding:  vec,
	}
	_, err := repo.AddChunks(context.Background(), c)
	require.NoError(t, err)
	return c
}

// unitAt returns a 2-d unit vector whose cosine with [1, 0] is cos.
func unitAt(cos float64) []float32 {
	return []float32{float32(cos), float32(math.Sqrt(1 - cos*cos))}
}

func TestNewEngine(t *testing.T) {
	_, err := NewEngine(nil)
	assert.ErrorIs(t, err, ErrRepositoryRequired)

	repo := newRepo(t)
	_, err = NewEngine(repo, WithThreshold(1.5))
	assert.ErrorIs(t, err, ErrInvalidThreshold)

	e, err := NewEngine(repo)
	require.NoError(t, err)
	assert.InDelta(t, DefaultThreshold, e.Threshold(), 1e-6)
}

func TestRetrieve_VectorTier(t *testing.T) {
	repo := newRepo(t)
	photo := addChunk(t, repo, "10", "Science", "Life Processes", 0,
		"Photosynthesis is the process by which green plants make food.", unitAt(0.81))
	addChunk(t, repo, "10", "Science", "Life Processes", 1, "Respiration releases energy.", unitAt(0.1))

	e, err := NewEngine(repo)
	require.NoError(t, err)

	passages, err := e.Retrieve(context.Background(), []float32{1, 0}, "What is photosynthesis?", core.Filters{}, 5)
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.Equal(t, photo.ID, passages[0].Chunk.ID)
	assert.Equal(t, core.TierVector, passages[0].Tier)
	assert.InDelta(t, 0.81, passages[0].Similarity, 1e-4)
}

func TestRetrieve_TunableThreshold(t *testing.T) {
	repo := newRepo(t)
	addChunk(t, repo, "10", "Science", "Light", 0, "Light travels in straight lines.", unitAt(0.5))

	strict, err := NewEngine(repo, WithThreshold(0.7))
	require.NoError(t, err)
	passages, err := strict.Retrieve(context.Background(), []float32{1, 0}, "zzz qqq", core.Filters{}, 5)
	require.NoError(t, err)
	assert.Empty(t, passages)

	loose, err := NewEngine(repo)
	require.NoError(t, err)
	passages, err = loose.Retrieve(context.Background(), []float32{1, 0}, "zzz qqq", core.Filters{}, 5)
	require.NoError(t, err)
	assert.Len(t, passages, 1)
}

func TestRetrieve_OrderAndTopK(t *testing.T) {
	repo := newRepo(t)
	for i, cos := range []float64{0.4, 0.9, 0.6, 0.9} {
		addChunk(t, repo, "10", "Science", "Light", i, fmt.Sprintf("Passage number %d.", i), unitAt(cos))
	}
	e, err := NewEngine(repo)
	require.NoError(t, err)

	passages, err := e.Retrieve(context.Background(), []float32{1, 0}, "light", core.Filters{}, 3)
	require.NoError(t, err)
	require.Len(t, passages, 3)
	assert.InDelta(t, 0.9, passages[0].Similarity, 1e-4)
	assert.InDelta(t, 0.9, passages[1].Similarity, 1e-4)
	assert.InDelta(t, 0.6, passages[2].Similarity, 1e-4)
	assert.Less(t, passages[0].Chunk.ID.String(), passages[1].Chunk.ID.String())
}

func TestRetrieve_HybridTier(t *testing.T) {
	repo := newRepo(t)
	match := addChunk(t, repo, "10", "Science", "Life Processes", 0,
		"Chlorophyll absorbs light during Photosynthesis.", unitAt(0.1))
	addChunk(t, repo, "10", "Science", "Life Processes", 1, "Digestion begins in the mouth.", unitAt(0.1))

	e, err := NewEngine(repo)
	require.NoError(t, err)

	passages, err := e.Retrieve(context.Background(), []float32{1, 0}, "Photosynthesis, explain!", core.Filters{}, 5)
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.Equal(t, match.ID, passages[0].Chunk.ID)
	assert.Equal(t, core.TierHybrid, passages[0].Tier)
	assert.InDelta(t, 0.3, passages[0].Similarity, 1e-6, "floor applies below 0.3")
}

func TestRetrieve_SentinelSkipsVectorTier(t *testing.T) {
	repo := newRepo(t)
	addChunk(t, repo, "10", "Science", "Light", 0, "Mirrors reflect light.", unitAt(0.99))

	e, err := NewEngine(repo)
	require.NoError(t, err)

	passages, err := e.Retrieve(context.Background(), core.ZeroVector(2), "mirrors", core.Filters{}, 5)
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.Equal(t, core.TierHybrid, passages[0].Tier)
	assert.InDelta(t, 0.3, passages[0].Similarity, 1e-6)
}

func TestRetrieve_KeywordTier(t *testing.T) {
	repo := newRepo(t)
	c := addChunk(t, repo, "9", "Geography", "Drainage Systems", 0, "Rivers of the plains.", nil)

	e, err := NewEngine(repo)
	require.NoError(t, err)

	// Not a hybrid hit: none of the first five words appear, but the full
	// query matches the chapter title.
	passages, err := e.Retrieve(context.Background(), core.ZeroVector(2), "drainage systems", core.Filters{}, 5)
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.Equal(t, c.ID, passages[0].Chunk.ID)
	assert.Equal(t, core.TierKeyword, passages[0].Tier)
	assert.InDelta(t, 0.5, passages[0].Similarity, 1e-6)
}

func TestRetrieve_FiltersApplyToEveryTier(t *testing.T) {
	repo := newRepo(t)
	addChunk(t, repo, "10", "Science", "Light", 0, "Refraction of light.", unitAt(0.9))
	addChunk(t, repo, "8", "Science", "Light", 1, "Refraction of light.", unitAt(0.9))

	e, err := NewEngine(repo)
	require.NoError(t, err)

	for _, vec := range [][]float32{{1, 0}, core.ZeroVector(2)} {
		passages, err := e.Retrieve(context.Background(), vec, "refraction", core.Filters{ClassGrade: " 8 "}, 5)
		require.NoError(t, err)
		require.Len(t, passages, 1)
		assert.Equal(t, "8", passages[0].Chunk.ClassGrade)
	}
}

func TestRetrieve_EmptyIsNotAnError(t *testing.T) {
	repo := newRepo(t)
	e, err := NewEngine(repo)
	require.NoError(t, err)

	passages, err := e.Retrieve(context.Background(), []float32{1, 0}, "anything at all", core.Filters{}, 5)
	require.NoError(t, err)
	assert.Empty(t, passages)
}

type failingRepo struct {
	storage.ChunkRepository
	scans int
}

func (f *failingRepo) FindSimilar(context.Context, []float32, core.Filters, float32, int) ([]storage.ScoredChunk, error) {
	return nil, storage.ErrUnavailable
}

func (f *failingRepo) ScanChunks(context.Context, core.Filters, func(*core.Chunk) bool) error {
	f.scans++
	return nil
}

func TestRetrieve_StorageErrorAborts(t *testing.T) {
	repo := &failingRepo{}
	e, err := NewEngine(repo)
	require.NoError(t, err)

	_, err = e.Retrieve(context.Background(), []float32{1, 0}, "photosynthesis", core.Filters{}, 5)
	assert.True(t, errors.Is(err, storage.ErrUnavailable))
	assert.Zero(t, repo.scans, "later tiers must not run after a storage failure")
}

func TestKeywords(t *testing.T) {
	tests := []struct {
		query string
		want  []string
	}{
		{"What is Photosynthesis?", []string{"what", "is", "photosynthesis"}},
		{"one two three four five six seven", []string{"one", "two", "three", "four", "five"}},
		{"  ... (light) !! ", []string{"light"}},
		{"", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, keywords(tt.query))
		})
	}
}
