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

// Package ai provides abstractions for the external AI capabilities used by lessonrag.
//
// This package defines interfaces for text embeddings and text generation.
// The retrieval and answering logic depends on these abstractions rather
// than on a concrete provider.
//
// # Interfaces
//
//   - Embedder: Generates vector embeddings from text
//   - Generator: Produces a completion for a prompt with a named model
//   - AIProvider: Aggregates both for convenient initialization
//
// # Implementation Packages
//
//   - ai/openai: Production implementation using OpenAI-compatible APIs
//   - ai/mock: Test doubles for unit testing without external dependencies
//
// # Constructor Return Type Pattern
//
// Public constructors (openai.NewProvider, openai.NewEmbedder, etc.) return
// INTERFACE types to enforce abstraction. Test utility constructors
// (mock.NewMockEmbedder, mock.NewMockGenerator) return CONCRETE types so
// tests can inject behavior and read call counts.
//
// # Transient Failures
//
// Providers wrap throttling failures with ErrRateLimited. Callers use
// IsRateLimited to decide whether a single retry is worthwhile.
//
// # Usage Example
//
//	config := ai.NewConfig(ai.WithGenerationModels("gemini-2.0-flash", "gemini-1.5-flash"))
//	provider, err := openai.NewProvider(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	vec, err := provider.Embedder().EmbedText(ctx, "What is photosynthesis?")
//	text, err := provider.Generator().Generate(ctx, "gemini-2.0-flash", prompt, ai.DefaultGenerationParams())
package ai
