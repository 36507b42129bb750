package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/lessonrag/retrieval"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"LESSONRAG_DATA_DIR", "LESSONRAG_LOG_LEVEL", "LESSONRAG_PROVIDER",
		"LESSONRAG_HOST", "LESSONRAG_EMBEDDING_HOST", "LESSONRAG_GENERATION_HOST",
		"LESSONRAG_EMBEDDING_MODEL", "LESSONRAG_GENERATION_MODELS", "LESSONRAG_API_KEY",
		"LESSONRAG_IN_MEMORY", "LESSONRAG_EMBEDDING_DIMENSIONS", "LESSONRAG_CACHE_CAPACITY",
		"LESSONRAG_TOP_K", "LESSONRAG_POOL_SIZE", "LESSONRAG_THRESHOLD", "LESSONRAG_QUERY_TIMEOUT",
		"OPENAI_API_KEY", "GEMINI_API_KEY",
	} {
		t.Setenv(name, "")
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lessonrag.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ProviderOpenAI, cfg.AI.Provider)
	assert.Equal(t, float32(retrieval.DefaultThreshold), cfg.Retrieval.Threshold)
	assert.Equal(t, 10000, cfg.Embedding.CacheCapacity)
	assert.True(t, cfg.Query.Enhance)
	assert.Equal(t, 5, cfg.Workers.PoolSize)
}

func TestLoad_NoFile(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_YAMLOverlay(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
data_dir: /var/lib/lessonrag
ai:
  provider: mock
  generation_models: [gemini-2.0-flash, gemini-1.5-flash]
retrieval:
  threshold: 0.4
query:
  timeout: 15s
embedding:
  cache_capacity: 0
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/lessonrag", cfg.DataDir)
	assert.Equal(t, ProviderMock, cfg.AI.Provider)
	assert.Equal(t, []string{"gemini-2.0-flash", "gemini-1.5-flash"}, cfg.AI.GenerationModels)
	assert.InDelta(t, 0.4, cfg.Retrieval.Threshold, 1e-6)
	assert.Equal(t, 15*time.Second, cfg.Query.Timeout)
	assert.Zero(t, cfg.Embedding.CacheCapacity)

	// untouched keys keep defaults
	assert.Equal(t, Default().AI.EmbeddingModel, cfg.AI.EmbeddingModel)
	assert.Equal(t, Default().Chunking, cfg.Chunking)
	require.NoError(t, cfg.Validate())
}

func TestLoad_BadYAML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "retrieval: [not, a, map]")

	_, err := Load(path)
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "ai:\n  embedding_host: http://file-host:11434/v1\n")

	t.Setenv("LESSONRAG_EMBEDDING_HOST", "http://env-host:8000")
	t.Setenv("LESSONRAG_GENERATION_MODELS", "a, b")
	t.Setenv("LESSONRAG_TOP_K", "8")
	t.Setenv("LESSONRAG_THRESHOLD", "0.5")
	t.Setenv("LESSONRAG_QUERY_TIMEOUT", "5s")
	t.Setenv("LESSONRAG_IN_MEMORY", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://env-host:8000", cfg.AI.EmbeddingHost)
	assert.Equal(t, 8, cfg.Retrieval.TopK)
	assert.InDelta(t, 0.5, cfg.Retrieval.Threshold, 1e-6)
	assert.Equal(t, 5*time.Second, cfg.Query.Timeout)
	assert.True(t, cfg.InMemory)

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "http://env-host:8000/v1", cfg.AI.EmbeddingHost, "validate normalizes hosts")
	assert.Equal(t, []string{"a", "b"}, cfg.AI.GenerationModels)
}

func TestLoad_HostSetsBoth(t *testing.T) {
	clearEnv(t)
	t.Setenv("LESSONRAG_HOST", "http://shared:1234/v1")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://shared:1234/v1", cfg.AI.EmbeddingHost)
	assert.Equal(t, "http://shared:1234/v1", cfg.AI.GenerationHost)
}

func TestLoad_APIKeyPrecedence(t *testing.T) {
	tests := []struct {
		name string
		file string
		env  map[string]string
		want string
	}{
		{"none", "", nil, ""},
		{"gemini only", "", map[string]string{"GEMINI_API_KEY": "g"}, "g"},
		{"openai before gemini", "", map[string]string{"GEMINI_API_KEY": "g", "OPENAI_API_KEY": "o"}, "o"},
		{"prefixed wins", "", map[string]string{"OPENAI_API_KEY": "o", "LESSONRAG_API_KEY": "l"}, "l"},
		{"file wins", "ai:\n  api_key: f\n", map[string]string{"LESSONRAG_API_KEY": "l", "OPENAI_API_KEY": "o"}, "f"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.file != "" {
				path = writeFile(t, tt.file)
			}
			cfg, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.AI.APIKey)
		})
	}
}

func TestLoad_BadEnv(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"int", "LESSONRAG_TOP_K", "many"},
		{"float", "LESSONRAG_THRESHOLD", "high"},
		{"duration", "LESSONRAG_QUERY_TIMEOUT", "soon"},
		{"bool", "LESSONRAG_IN_MEMORY", "perhaps"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			_, err := Load("")
			assert.ErrorContains(t, err, tt.key)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"in memory without dir", func(c *Config) { c.DataDir = ""; c.InMemory = true }, true},
		{"no data dir", func(c *Config) { c.DataDir = " " }, false},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, false},
		{"upper log level", func(c *Config) { c.LogLevel = "DEBUG" }, true},
		{"unknown provider", func(c *Config) { c.AI.Provider = "bedrock" }, false},
		{"no models", func(c *Config) { c.AI.GenerationModels = []string{" "} }, false},
		{"no embedding model", func(c *Config) { c.AI.EmbeddingModel = "" }, false},
		{"threshold one", func(c *Config) { c.Retrieval.Threshold = 1 }, false},
		{"threshold zero", func(c *Config) { c.Retrieval.Threshold = 0 }, true},
		{"negative cache", func(c *Config) { c.Embedding.CacheCapacity = -1 }, false},
		{"zero top k", func(c *Config) { c.Retrieval.TopK = 0 }, false},
		{"zero target size", func(c *Config) { c.Chunking.TargetSize = 0 }, false},
		{"zero query timeout", func(c *Config) { c.Query.Timeout = 0 }, false},
		{"zero pool", func(c *Config) { c.Workers.PoolSize = 0 }, false},
		{"zero storage slots", func(c *Config) { c.Storage.MaxConcurrent = 0 }, false},
		{"negative generation retry delay", func(c *Config) { c.Generation.RetryDelay = -time.Second }, false},
		{"zero generation retry delay", func(c *Config) { c.Generation.RetryDelay = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.AI.APIKey = "secret"
	cfg.Generation.Temperature = 0.7
	cfg.Chunking.OverlapUnits = 2

	aiCfg := cfg.ToAIConfig()
	assert.Equal(t, "secret", aiCfg.APIKey)
	assert.Equal(t, cfg.AI.GenerationModels, aiCfg.GenerationModels)

	params := cfg.GenerationParams()
	assert.InDelta(t, 0.7, params.Temperature, 1e-9)
	assert.True(t, params.PermissiveSafety)

	assert.Equal(t, 2, cfg.ChunkingOptions().OverlapUnits)
}

func TestWriteYAML_RoundTrip(t *testing.T) {
	clearEnv(t)
	cfg := Default()
	cfg.AI.Provider = ProviderMock
	cfg.Query.Timeout = 42 * time.Second

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, cfg.WriteYAML(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
