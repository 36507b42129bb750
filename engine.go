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

package lessonrag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/poiesic/lessonrag/ai"
	"github.com/poiesic/lessonrag/ai/mock"
	"github.com/poiesic/lessonrag/ai/openai"
	"github.com/poiesic/lessonrag/chunking"
	"github.com/poiesic/lessonrag/config"
	"github.com/poiesic/lessonrag/core"
	"github.com/poiesic/lessonrag/embedding"
	"github.com/poiesic/lessonrag/generation"
	"github.com/poiesic/lessonrag/ingestion"
	"github.com/poiesic/lessonrag/query"
	"github.com/poiesic/lessonrag/reembed"
	"github.com/poiesic/lessonrag/retrieval"
	"github.com/poiesic/lessonrag/storage"
	"github.com/poiesic/lessonrag/storage/badger"
	"github.com/poiesic/lessonrag/workers"
)

// MockAnswer is what the mock provider's generator returns for every prompt.
const MockAnswer = "This is a mock answer generated from the retrieved passages."

// Engine wires storage, the model provider and the query and ingestion
// pipelines into one handle.
type Engine struct {
	backend      *badger.Backend
	chunks       storage.ChunkRepository
	checkpoints  storage.CheckpointRepository
	provider     ai.AIProvider
	pool         *workers.Pool
	embedder     *embedding.Provider
	pipeline     *ingestion.Pipeline
	orchestrator *query.Orchestrator
	logger       *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	provider ai.AIProvider
	monitor  query.Monitor
	logger   *slog.Logger
}

// WithProvider uses provider instead of building one from the config.
// The engine takes ownership and closes it.
func WithProvider(provider ai.AIProvider) EngineOption {
	return func(o *engineOptions) {
		o.provider = provider
	}
}

// WithMonitor installs a query monitor.
func WithMonitor(m query.Monitor) EngineOption {
	return func(o *engineOptions) {
		o.monitor = m
	}
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// NewEngine validates cfg and builds every component. A nil cfg uses
// config.Default().
func NewEngine(cfg *config.Config, opts ...EngineOption) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	options := &engineOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	logger := options.logger

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{logger: logger.With("component", "engine")}
	ok := false
	defer func() {
		if !ok {
			_ = e.Close()
		}
	}()

	var err error
	e.backend, err = badger.OpenBackend(cfg.DataDir, cfg.InMemory,
		badger.WithMaxConcurrent(cfg.Storage.MaxConcurrent),
		badger.WithAcquireTimeout(cfg.Storage.AcquireTimeout),
		badger.WithBackendLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	if e.chunks, err = badger.NewChunkRepository(e.backend); err != nil {
		return nil, err
	}
	e.checkpoints = badger.NewCheckpointRepository(e.backend)

	e.provider = options.provider
	if e.provider == nil {
		if e.provider, err = newProvider(cfg); err != nil {
			return nil, err
		}
	}

	if e.pool, err = workers.New(cfg.Workers.PoolSize); err != nil {
		return nil, err
	}
	cache, err := embedding.NewCache(cfg.Embedding.CacheCapacity)
	if err != nil {
		return nil, err
	}
	e.embedder, err = embedding.NewProvider(e.provider.Embedder(),
		embedding.WithCache(cache),
		embedding.WithPool(e.pool),
		embedding.WithDimensions(cfg.AI.EmbeddingDimensions),
		embedding.WithBatchLimit(cfg.Embedding.BatchLimit),
		embedding.WithRetryDelay(cfg.Embedding.RetryDelay),
		embedding.WithCallTimeout(cfg.Embedding.CallTimeout),
		embedding.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	chunker, err := chunking.New(
		chunking.WithOptions(cfg.ChunkingOptions()),
		chunking.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	pipelineOpts := []ingestion.Option{ingestion.WithLogger(logger)}
	if cfg.Workers.IngestPoolSize > 0 {
		pipelineOpts = append(pipelineOpts, ingestion.WithPoolSize(cfg.Workers.IngestPoolSize))
	}
	if e.pipeline, err = ingestion.NewPipeline(e.chunks, chunker, e.embedder, pipelineOpts...); err != nil {
		return nil, err
	}

	retriever, err := retrieval.NewEngine(e.chunks,
		retrieval.WithThreshold(cfg.Retrieval.Threshold),
		retrieval.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	generator, err := generation.NewGenerator(e.provider.Generator(), e.pool, cfg.AI.GenerationModels,
		generation.WithContextPassages(cfg.Generation.ContextPassages),
		generation.WithAttemptTimeout(cfg.Generation.AttemptTimeout),
		generation.WithRetryDelay(cfg.Generation.RetryDelay),
		generation.WithParams(cfg.GenerationParams()),
		generation.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	queryOpts := []query.Option{
		query.WithTimeout(cfg.Query.Timeout),
		query.WithTopK(cfg.Retrieval.TopK),
		query.WithQueryEnhancement(cfg.Query.Enhance),
		query.WithLogger(logger),
	}
	if options.monitor != nil {
		queryOpts = append(queryOpts, query.WithMonitor(options.monitor))
	}
	if e.orchestrator, err = query.NewOrchestrator(e.chunks, e.embedder, retriever, generator, queryOpts...); err != nil {
		return nil, err
	}

	ok = true
	e.logger.Info("engine ready",
		"data_dir", cfg.DataDir,
		"in_memory", cfg.InMemory,
		"provider", cfg.AI.Provider,
		"models", cfg.AI.GenerationModels,
	)
	return e, nil
}

func newProvider(cfg *config.Config) (ai.AIProvider, error) {
	switch cfg.AI.Provider {
	case config.ProviderMock:
		return mock.NewMockProviderWithServices(
			mock.NewMockEmbedderWithDimensions(cfg.AI.EmbeddingDimensions),
			mock.NewMockGenerator(MockAnswer),
		), nil
	default:
		return openai.NewProvider(cfg.ToAIConfig())
	}
}

// Close releases every component. It is safe to call on a partially built engine.
func (e *Engine) Close() error {
	var errs []error
	if e.pipeline != nil {
		e.pipeline.Release()
	}
	if e.embedder != nil {
		errs = append(errs, e.embedder.Close())
	}
	if e.pool != nil {
		e.pool.Release()
	}
	if e.provider != nil {
		if err := e.provider.Close(); err != nil {
			e.logger.Error("error closing AI provider", "err", err)
			errs = append(errs, err)
		}
	}
	if e.chunks != nil {
		errs = append(errs, e.chunks.Close())
	}
	if e.backend != nil {
		if err := e.backend.Close(); err != nil {
			e.logger.Error("error closing backend storage", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Ingest chunks, embeds and stores one document. It returns the number of
// chunks persisted.
func (e *Engine) Ingest(ctx context.Context, req ingestion.Request) (int, error) {
	return e.pipeline.Ingest(ctx, req)
}

// IngestAll ingests documents concurrently. Results are in request order.
func (e *Engine) IngestAll(ctx context.Context, reqs []ingestion.Request) []ingestion.Result {
	return e.pipeline.IngestAll(ctx, reqs)
}

// Query answers question, optionally narrowed by class and subject.
func (e *Engine) Query(ctx context.Context, question string, filters core.Filters) (*core.QueryResult, error) {
	return e.orchestrator.Query(ctx, question, filters)
}

// Stats summarizes the stored corpus.
func (e *Engine) Stats(ctx context.Context) (*core.CorpusStats, error) {
	return e.chunks.Stats(ctx)
}

// ServiceStats is a snapshot of the runtime counters.
type ServiceStats struct {
	Queries    query.Stats
	Embeddings embedding.Stats
}

// ServiceStats returns the query and embedding counters.
func (e *Engine) ServiceStats() ServiceStats {
	return ServiceStats{
		Queries:    e.orchestrator.Stats(),
		Embeddings: e.embedder.Stats(),
	}
}

// NewReembedder returns a reembedder over the stored chunks. It calls the
// provider's embedder directly so every chunk gets a fresh vector, and it
// checkpoints progress so an interrupted run can resume.
func (e *Engine) NewReembedder(cfg *reembed.Config, progress io.Writer) (*reembed.Reembedder, error) {
	r, err := reembed.NewReembedder(e.chunks, e.provider.Embedder(), cfg, progress,
		reembed.WithCheckpoints(e.checkpoints),
		reembed.WithLogger(e.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create reembedder: %w", err)
	}
	return r, nil
}
