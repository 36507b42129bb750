// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mock

import "github.com/poiesic/lessonrag/ai"

// MockProvider is a test double for ai.AIProvider.
// It aggregates mock embedder and generator instances.
type MockProvider struct {
	embedder  *MockEmbedder
	generator *MockGenerator
}

// NewMockProvider creates a new mock provider with default mock services.
//
// Returns ai.AIProvider interface for consistency with production constructors.
// Use NewMockProviderWithServices to keep handles on the concrete mocks.
func NewMockProvider() ai.AIProvider {
	return &MockProvider{
		embedder:  NewMockEmbedder(),
		generator: NewMockGenerator("mock answer"),
	}
}

// NewMockProviderWithServices creates a mock provider with custom mock services.
// This allows full control over the behavior of each service.
func NewMockProviderWithServices(embedder *MockEmbedder, generator *MockGenerator) *MockProvider {
	return &MockProvider{
		embedder:  embedder,
		generator: generator,
	}
}

// Embedder returns the mock embedder.
func (p *MockProvider) Embedder() ai.Embedder {
	return p.embedder
}

// Generator returns the mock generator.
func (p *MockProvider) Generator() ai.Generator {
	return p.generator
}

// Close is a no-op for mock provider.
func (p *MockProvider) Close() error {
	return nil
}

// GetMockEmbedder returns the underlying mock embedder for test assertions.
func (p *MockProvider) GetMockEmbedder() *MockEmbedder {
	return p.embedder
}

// GetMockGenerator returns the underlying mock generator for test assertions.
func (p *MockProvider) GetMockGenerator() *MockGenerator {
	return p.generator
}
