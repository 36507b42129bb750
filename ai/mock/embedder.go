package mock

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
)

// DefaultDimensions is the vector width produced when no width is configured.
const DefaultDimensions = 768

// MockEmbedder is a test double for ai.Embedder.
// It allows custom behavior injection via function fields.
type MockEmbedder struct {
	// EmbedTextFunc is called by EmbedText if set.
	// If nil, uses default deterministic behavior.
	EmbedTextFunc func(ctx context.Context, text string) ([]float32, error)

	// EmbedTextsFunc is called by EmbedTexts if set.
	// If nil, uses default deterministic behavior.
	EmbedTextsFunc func(ctx context.Context, texts []string) ([][]float32, error)

	dim int

	mu        sync.Mutex
	callCount int
	textCount int
}

// NewMockEmbedder creates a mock embedder with default deterministic behavior.
// Note: Returns concrete type to allow test assertions.
func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{dim: DefaultDimensions}
}

// NewMockEmbedderWithDimensions creates a mock embedder producing vectors of width dim.
func NewMockEmbedderWithDimensions(dim int) *MockEmbedder {
	return &MockEmbedder{dim: dim}
}

// Dimensions returns the width of generated vectors.
func (m *MockEmbedder) Dimensions() int {
	return m.dim
}

func (m *MockEmbedder) record(texts int) {
	m.mu.Lock()
	m.callCount++
	m.textCount += texts
	m.mu.Unlock()
}

// EmbedText generates a deterministic embedding based on text hash.
func (m *MockEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	m.record(1)

	if m.EmbedTextFunc != nil {
		return m.EmbedTextFunc(ctx, text)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return DeterministicVector(text, m.dim), nil
}

// EmbedTexts generates deterministic embeddings for multiple texts.
func (m *MockEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	m.record(len(texts))

	if m.EmbedTextsFunc != nil {
		return m.EmbedTextsFunc(ctx, texts)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		embeddings[i] = DeterministicVector(text, m.dim)
	}
	return embeddings, nil
}

// CallCount returns the number of times any method was called.
func (m *MockEmbedder) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// TextCount returns the total number of texts sent for embedding.
func (m *MockEmbedder) TextCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.textCount
}

// Reset clears the call counts and injected behavior.
func (m *MockEmbedder) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.textCount = 0
	m.EmbedTextFunc = nil
	m.EmbedTextsFunc = nil
}

// DeterministicVector creates a unit-length vector from text.
// It uses an FNV hash seed so the same text always produces the same vector.
func DeterministicVector(text string, dim int) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	vector := make([]float32, dim)
	var sumSquares float64
	for i := range dim {
		seed = seed*1664525 + 1013904223 // LCG constants
		vector[i] = float32(seed%1000)/1000.0 + 0.001
		sumSquares += float64(vector[i]) * float64(vector[i])
	}

	if sumSquares > 0 {
		norm := float32(1.0 / math.Sqrt(sumSquares))
		for i := range vector {
			vector[i] *= norm
		}
	}
	return vector
}
