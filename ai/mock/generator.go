package mock

import (
	"context"
	"sync"

	"github.com/poiesic/lessonrag/ai"
)

// MockGenerator is a test double for ai.Generator.
type MockGenerator struct {
	// GenerateFunc is called by Generate if set.
	// If nil, Generate returns Response.
	GenerateFunc func(ctx context.Context, model string, prompt ai.Prompt, params ai.GenerationParams) (string, error)

	// Response is the default completion.
	Response string

	mu     sync.Mutex
	calls  []string
	prompt ai.Prompt
}

// NewMockGenerator creates a generator that always answers with response.
func NewMockGenerator(response string) *MockGenerator {
	return &MockGenerator{Response: response}
}

// Generate records the call and delegates to GenerateFunc or returns Response.
func (m *MockGenerator) Generate(ctx context.Context, model string, prompt ai.Prompt, params ai.GenerationParams) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, model)
	m.prompt = prompt
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, model, prompt, params)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return m.Response, nil
}

// Calls returns the models requested, in call order.
func (m *MockGenerator) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of Generate calls.
func (m *MockGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastPrompt returns the prompt of the most recent call.
func (m *MockGenerator) LastPrompt() ai.Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prompt
}

// Reset clears recorded calls.
func (m *MockGenerator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.prompt = ai.Prompt{}
}
