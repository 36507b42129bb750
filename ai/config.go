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

package ai

import (
	"errors"
	"slices"
	"strings"
)

// Config holds configuration for AI service providers.
type Config struct {
	// EmbeddingHost is the base URL for the embedding service API.
	// Example: "http://localhost:11434/v1" for local OpenAI-compatible server
	EmbeddingHost string

	// GenerationHost is the base URL for the chat completion API.
	// Example: "https://generativelanguage.googleapis.com/v1beta/openai"
	GenerationHost string

	// APIKey authenticates against hosted providers. Local servers ignore it.
	APIKey string

	// EmbeddingModel is the model identifier to use for text embeddings.
	// Example: "embeddinggemma", "text-embedding-004"
	EmbeddingModel string

	// EmbeddingDimensions is the vector width the embedding model produces.
	// It must match the width of stored vectors.
	// Default: 768
	EmbeddingDimensions int

	// GenerationModels is the ordered model fallback chain.
	// Example: []string{"gemini-2.0-flash", "gemini-1.5-flash", "gemini-1.5-pro"}
	GenerationModels []string
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithEmbeddingHost sets the embedding service host URL.
func WithEmbeddingHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
	}
}

// WithGenerationHost sets the generation service host URL.
func WithGenerationHost(host string) ConfigOption {
	return func(c *Config) {
		c.GenerationHost = host
	}
}

// WithHost sets both embedding and generation hosts to the same URL.
func WithHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
		c.GenerationHost = host
	}
}

// WithAPIKey sets the API key sent to both services.
func WithAPIKey(key string) ConfigOption {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithEmbeddingModel sets the embedding model identifier.
func WithEmbeddingModel(model string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingModel = model
	}
}

// WithEmbeddingDimensions sets the expected embedding width.
func WithEmbeddingDimensions(dim int) ConfigOption {
	return func(c *Config) {
		c.EmbeddingDimensions = dim
	}
}

// WithGenerationModels replaces the model fallback chain.
func WithGenerationModels(models ...string) ConfigOption {
	return func(c *Config) {
		c.GenerationModels = slices.Clone(models)
	}
}

// DefaultConfig returns a Config with sensible defaults for local OpenAI-compatible services.
// By default, both embedding and generation use the same host.
func DefaultConfig() *Config {
	defaultHost := "http://localhost:11434/v1"
	return &Config{
		EmbeddingHost:       defaultHost,
		GenerationHost:      defaultHost,
		EmbeddingModel:      "embeddinggemma",
		EmbeddingDimensions: 768,
		GenerationModels:    []string{"qwen2.5:7b", "qwen2.5:3b", "llama3.2:3b"},
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
//
// Example:
//
//	cfg := NewConfig(
//	    WithGenerationHost("https://generativelanguage.googleapis.com/v1beta/openai"),
//	    WithGenerationModels("gemini-2.0-flash", "gemini-1.5-flash", "gemini-1.5-pro"),
//	    WithAPIKey(os.Getenv("GEMINI_API_KEY")),
//	)
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// normalizeHost appends /v1 unless the path already carries a version segment.
func normalizeHost(host string) string {
	if host == "" {
		return host
	}
	host = strings.TrimSuffix(host, "/")
	if strings.Contains(host, "/v1") {
		return host
	}
	return host + "/v1"
}

// Normalize ensures the configuration is in a canonical form.
// It adds the /v1 suffix most OpenAI-compatible APIs require (Ollama, LocalAI, vLLM)
// and drops blank entries from the model chain.
func (c *Config) Normalize() {
	c.EmbeddingHost = normalizeHost(c.EmbeddingHost)
	c.GenerationHost = normalizeHost(c.GenerationHost)

	models := c.GenerationModels[:0]
	for _, m := range c.GenerationModels {
		if m = strings.TrimSpace(m); m != "" {
			models = append(models, m)
		}
	}
	c.GenerationModels = models
}

// Validate checks that the configuration is valid and complete.
// It automatically normalizes the configuration before validation.
func (c *Config) Validate() error {
	c.Normalize()

	if c.EmbeddingHost == "" {
		return errors.New("ai config: EmbeddingHost is required")
	}
	if c.GenerationHost == "" {
		return errors.New("ai config: GenerationHost is required")
	}
	if c.EmbeddingModel == "" {
		return errors.New("ai config: EmbeddingModel is required")
	}
	if c.EmbeddingDimensions <= 0 {
		return errors.New("ai config: EmbeddingDimensions must be positive")
	}
	if len(c.GenerationModels) == 0 {
		return errors.New("ai config: at least one GenerationModel is required")
	}
	return nil
}
