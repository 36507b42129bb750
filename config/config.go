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

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/poiesic/lessonrag/ai"
	"github.com/poiesic/lessonrag/chunking"
	"github.com/poiesic/lessonrag/embedding"
	"github.com/poiesic/lessonrag/generation"
	"github.com/poiesic/lessonrag/query"
	"github.com/poiesic/lessonrag/retrieval"
	"github.com/poiesic/lessonrag/storage/badger"
	"github.com/poiesic/lessonrag/workers"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Provider names accepted in ai.provider.
const (
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
)

const envPrefix = "LESSONRAG_"

// Config is the complete application configuration.
type Config struct {
	DataDir  string `yaml:"data_dir"`
	InMemory bool   `yaml:"in_memory"`
	LogLevel string `yaml:"log_level"`

	AI         AIConfig         `yaml:"ai"`
	Storage    StorageConfig    `yaml:"storage"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Generation GenerationConfig `yaml:"generation"`
	Query      QueryConfig      `yaml:"query"`
	Workers    WorkersConfig    `yaml:"workers"`
}

// AIConfig selects and configures the model provider.
type AIConfig struct {
	// Provider is "openai" for any OpenAI-compatible endpoint or "mock"
	// for deterministic offline vectors and canned answers.
	Provider            string   `yaml:"provider"`
	EmbeddingHost       string   `yaml:"embedding_host"`
	GenerationHost      string   `yaml:"generation_host"`
	APIKey              string   `yaml:"api_key"`
	EmbeddingModel      string   `yaml:"embedding_model"`
	EmbeddingDimensions int      `yaml:"embedding_dimensions"`
	GenerationModels    []string `yaml:"generation_models"`
}

// StorageConfig bounds access to the chunk store.
type StorageConfig struct {
	MaxConcurrent  int           `yaml:"max_concurrent"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
}

// EmbeddingConfig tunes the caching embedding provider.
type EmbeddingConfig struct {
	// CacheCapacity bounds the vector cache. Zero means unbounded.
	CacheCapacity int           `yaml:"cache_capacity"`
	BatchLimit    int           `yaml:"batch_limit"`
	CallTimeout   time.Duration `yaml:"call_timeout"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// ChunkingConfig mirrors chunking.Options.
type ChunkingConfig struct {
	TargetSize    int `yaml:"target_size"`
	OverlapUnits  int `yaml:"overlap_units"`
	MinChunkSize  int `yaml:"min_chunk_size"`
	MinTextLength int `yaml:"min_text_length"`
}

// RetrievalConfig tunes the tiered retrieval engine.
type RetrievalConfig struct {
	Threshold float32 `yaml:"threshold"`
	TopK      int     `yaml:"top_k"`
}

// GenerationConfig tunes answer synthesis.
type GenerationConfig struct {
	ContextPassages int           `yaml:"context_passages"`
	AttemptTimeout  time.Duration `yaml:"attempt_timeout"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	Temperature     float64       `yaml:"temperature"`
	TopP            float64       `yaml:"top_p"`
	TopK            int           `yaml:"top_k"`
	MaxTokens       int           `yaml:"max_tokens"`
}

// QueryConfig tunes the query orchestrator.
type QueryConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	Enhance bool          `yaml:"enhance"`
}

// WorkersConfig sizes the goroutine pools.
type WorkersConfig struct {
	// PoolSize bounds concurrent embedding and generation calls.
	PoolSize int `yaml:"pool_size"`

	// IngestPoolSize bounds documents ingested at once. Zero picks half the CPUs.
	IngestPoolSize int `yaml:"ingest_pool_size"`
}

// Default returns the built-in configuration.
func Default() *Config {
	aiCfg := ai.DefaultConfig()
	params := ai.DefaultGenerationParams()
	chunkOpts := chunking.DefaultOptions()

	return &Config{
		DataDir:  "lessonrag-data",
		LogLevel: "info",
		AI: AIConfig{
			Provider:            ProviderOpenAI,
			EmbeddingHost:       aiCfg.EmbeddingHost,
			GenerationHost:      aiCfg.GenerationHost,
			EmbeddingModel:      aiCfg.EmbeddingModel,
			EmbeddingDimensions: aiCfg.EmbeddingDimensions,
			GenerationModels:    aiCfg.GenerationModels,
		},
		Storage: StorageConfig{
			MaxConcurrent:  badger.DefaultMaxConcurrent,
			AcquireTimeout: badger.DefaultAcquireTimeout,
		},
		Embedding: EmbeddingConfig{
			CacheCapacity: embedding.DefaultCacheCapacity,
			BatchLimit:    embedding.DefaultBatchLimit,
			CallTimeout:   embedding.DefaultCallTimeout,
			RetryDelay:    embedding.DefaultRetryDelay,
		},
		Chunking: ChunkingConfig{
			TargetSize:    chunkOpts.TargetSize,
			OverlapUnits:  chunkOpts.OverlapUnits,
			MinChunkSize:  chunkOpts.MinChunkSize,
			MinTextLength: chunkOpts.MinTextLength,
		},
		Retrieval: RetrievalConfig{
			Threshold: retrieval.DefaultThreshold,
			TopK:      query.DefaultTopK,
		},
		Generation: GenerationConfig{
			ContextPassages: generation.DefaultContextPassages,
			AttemptTimeout:  generation.DefaultAttemptTimeout,
			RetryDelay:      generation.DefaultRetryDelay,
			Temperature:     params.Temperature,
			TopP:            params.TopP,
			TopK:            params.TopK,
			MaxTokens:       params.MaxTokens,
		},
		Query: QueryConfig{
			Timeout: query.DefaultTimeout,
			Enhance: true,
		},
		Workers: WorkersConfig{
			PoolSize: workers.DefaultSize,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadYAML overlays the file onto c. Keys absent from the file keep their
// current values.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	str("DATA_DIR", &c.DataDir)
	str("LOG_LEVEL", &c.LogLevel)
	str("PROVIDER", &c.AI.Provider)
	str("HOST", &c.AI.EmbeddingHost)
	str("HOST", &c.AI.GenerationHost)
	str("EMBEDDING_HOST", &c.AI.EmbeddingHost)
	str("GENERATION_HOST", &c.AI.GenerationHost)
	str("EMBEDDING_MODEL", &c.AI.EmbeddingModel)

	if v := os.Getenv(envPrefix + "GENERATION_MODELS"); v != "" {
		c.AI.GenerationModels = strings.Split(v, ",")
	}

	// Provider-specific keys only fill a key that is not configured yet.
	if c.AI.APIKey == "" {
		str("API_KEY", &c.AI.APIKey)
	}
	for _, name := range []string{"OPENAI_API_KEY", "GEMINI_API_KEY"} {
		if c.AI.APIKey != "" {
			break
		}
		c.AI.APIKey = os.Getenv(name)
	}

	if v := os.Getenv(envPrefix + "IN_MEMORY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sIN_MEMORY: %w", envPrefix, err)
		}
		c.InMemory = b
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"EMBEDDING_DIMENSIONS", &c.AI.EmbeddingDimensions},
		{"CACHE_CAPACITY", &c.Embedding.CacheCapacity},
		{"TOP_K", &c.Retrieval.TopK},
		{"POOL_SIZE", &c.Workers.PoolSize},
	}
	for _, e := range ints {
		v := os.Getenv(envPrefix + e.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, e.name, err)
		}
		*e.dst = n
	}

	if v := os.Getenv(envPrefix + "THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return fmt.Errorf("%sTHRESHOLD: %w", envPrefix, err)
		}
		c.Retrieval.Threshold = float32(f)
	}
	if v := os.Getenv(envPrefix + "QUERY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sQUERY_TIMEOUT: %w", envPrefix, err)
		}
		c.Query.Timeout = d
	}
	return nil
}

// Validate checks the configuration and normalizes the AI hosts and models.
func (c *Config) Validate() error {
	if !c.InMemory && strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("%w: data_dir is required unless in_memory is set", ErrInvalidConfig)
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log_level must be 'debug', 'info', 'warn', or 'error', got %q", ErrInvalidConfig, c.LogLevel)
	}

	switch c.AI.Provider {
	case ProviderOpenAI, ProviderMock:
	default:
		return fmt.Errorf("%w: ai.provider must be %q or %q, got %q", ErrInvalidConfig, ProviderOpenAI, ProviderMock, c.AI.Provider)
	}

	aiCfg := c.ToAIConfig()
	if err := aiCfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	c.AI.EmbeddingHost = aiCfg.EmbeddingHost
	c.AI.GenerationHost = aiCfg.GenerationHost
	c.AI.GenerationModels = aiCfg.GenerationModels

	checks := []struct {
		ok  bool
		msg string
	}{
		{c.Storage.MaxConcurrent > 0, "storage.max_concurrent must be positive"},
		{c.Storage.AcquireTimeout > 0, "storage.acquire_timeout must be positive"},
		{c.Embedding.CacheCapacity >= 0, "embedding.cache_capacity must be non-negative"},
		{c.Embedding.BatchLimit > 0, "embedding.batch_limit must be positive"},
		{c.Embedding.CallTimeout > 0, "embedding.call_timeout must be positive"},
		{c.Embedding.RetryDelay >= 0, "embedding.retry_delay must be non-negative"},
		{c.Chunking.TargetSize > 0, "chunking.target_size must be positive"},
		{c.Chunking.OverlapUnits >= 0, "chunking.overlap_units must be non-negative"},
		{c.Chunking.MinChunkSize >= 0, "chunking.min_chunk_size must be non-negative"},
		{c.Retrieval.Threshold >= 0 && c.Retrieval.Threshold < 1, "retrieval.threshold must be in [0, 1)"},
		{c.Retrieval.TopK > 0, "retrieval.top_k must be positive"},
		{c.Generation.AttemptTimeout > 0, "generation.attempt_timeout must be positive"},
		{c.Generation.RetryDelay >= 0, "generation.retry_delay must be non-negative"},
		{c.Query.Timeout > 0, "query.timeout must be positive"},
		{c.Workers.PoolSize > 0, "workers.pool_size must be positive"},
		{c.Workers.IngestPoolSize >= 0, "workers.ingest_pool_size must be non-negative"},
	}
	for _, check := range checks {
		if !check.ok {
			return fmt.Errorf("%w: %s", ErrInvalidConfig, check.msg)
		}
	}
	return nil
}

// ToAIConfig converts the AI section into an ai.Config.
func (c *Config) ToAIConfig() *ai.Config {
	return ai.NewConfig(
		ai.WithEmbeddingHost(c.AI.EmbeddingHost),
		ai.WithGenerationHost(c.AI.GenerationHost),
		ai.WithAPIKey(c.AI.APIKey),
		ai.WithEmbeddingModel(c.AI.EmbeddingModel),
		ai.WithEmbeddingDimensions(c.AI.EmbeddingDimensions),
		ai.WithGenerationModels(c.AI.GenerationModels...),
	)
}

// ChunkingOptions converts the chunking section into chunking.Options.
func (c *Config) ChunkingOptions() chunking.Options {
	return chunking.Options{
		TargetSize:    c.Chunking.TargetSize,
		OverlapUnits:  c.Chunking.OverlapUnits,
		MinChunkSize:  c.Chunking.MinChunkSize,
		MinTextLength: c.Chunking.MinTextLength,
	}
}

// GenerationParams converts the generation section into sampling parameters.
func (c *Config) GenerationParams() ai.GenerationParams {
	params := ai.DefaultGenerationParams()
	params.Temperature = c.Generation.Temperature
	params.TopP = c.Generation.TopP
	params.TopK = c.Generation.TopK
	params.MaxTokens = c.Generation.MaxTokens
	return params
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
