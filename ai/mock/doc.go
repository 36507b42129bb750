// Package mock provides test double implementations of AI service interfaces.
//
// This package contains mock implementations of ai.Embedder, ai.Generator,
// and ai.AIProvider for use in unit tests. The mocks allow tests to run without
// external AI service dependencies and enable controlled, deterministic behavior.
//
// # Usage in Tests
//
//	embedder := mock.NewMockEmbedderWithDimensions(8)
//	generator := mock.NewMockGenerator("Photosynthesis makes sugar.")
//	generator.GenerateFunc = func(ctx context.Context, model string, p ai.Prompt, _ ai.GenerationParams) (string, error) {
//	    if model == "primary" {
//	        return "", ai.ErrRateLimited
//	    }
//	    return "answer", nil
//	}
//
//	// Check call counts
//	count := embedder.CallCount()
//	models := generator.Calls()
//
// # Default Behavior
//
//   - MockEmbedder: Returns deterministic unit vectors based on text hash
//   - MockGenerator: Returns a fixed response and records each model requested
//   - MockProvider: Aggregates mock embedder and generator
//
// All mocks are safe for concurrent use.
package mock
