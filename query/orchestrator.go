package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/poiesic/lessonrag/core"
	"github.com/poiesic/lessonrag/generation"
	"github.com/poiesic/lessonrag/storage"
)

const (
	// DefaultTimeout bounds a whole query.
	DefaultTimeout = 60 * time.Second

	// DefaultTopK is how many passages are retrieved per query.
	DefaultTopK = 5
)

// Embedder turns query text into a vector. A transient failure may yield
// the zero sentinel instead of an error.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever finds passages for a query.
type Retriever interface {
	Retrieve(ctx context.Context, queryEmbedding []float32, query string, filters core.Filters, topK int) ([]core.RetrievedPassage, error)
}

// AnswerGenerator produces an answer from passages.
type AnswerGenerator interface {
	Generate(ctx context.Context, question string, passages []core.RetrievedPassage) (generation.Answer, error)
}

// Stats counts query outcomes since the orchestrator was created.
type Stats struct {
	QueriesProcessed int64
	QueriesFailed    int64
	NotFound         int64
	Extractive       int64
}

// Orchestrator runs a question through validation, embedding, retrieval and
// generation. It is safe for concurrent use and keeps no per-query state.
type Orchestrator struct {
	catalog   storage.Catalog
	embedder  Embedder
	retriever Retriever
	generator AnswerGenerator

	timeout time.Duration
	topK    int
	enhance bool
	monitor Monitor
	logger  *slog.Logger

	processed  atomic.Int64
	failed     atomic.Int64
	notFound   atomic.Int64
	extractive atomic.Int64
}

// Option configures an Orchestrator.
type Option func(*Orchestrator) error

// WithTimeout sets the deadline applied to each query.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", d)
		}
		o.timeout = d
		return nil
	}
}

// WithTopK sets how many passages are retrieved.
func WithTopK(k int) Option {
	return func(o *Orchestrator) error {
		if k < 1 {
			return fmt.Errorf("top k must be positive, got %d", k)
		}
		o.topK = k
		return nil
	}
}

// WithQueryEnhancement toggles prefixing the embedded text with the filters.
// Enabled by default.
func WithQueryEnhancement(enabled bool) Option {
	return func(o *Orchestrator) error {
		o.enhance = enabled
		return nil
	}
}

// WithMonitor installs a hook observing every query.
func WithMonitor(m Monitor) Option {
	return func(o *Orchestrator) error {
		if m == nil {
			m = &noopMonitor{}
		}
		o.monitor = m
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) error {
		if logger == nil {
			logger = slog.Default()
		}
		o.logger = logger
		return nil
	}
}

// NewOrchestrator creates a query orchestrator.
func NewOrchestrator(catalog storage.Catalog, embedder Embedder, retriever Retriever, generator AnswerGenerator, opts ...Option) (*Orchestrator, error) {
	if catalog == nil {
		return nil, ErrCatalogRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if retriever == nil {
		return nil, ErrRetrieverRequired
	}
	if generator == nil {
		return nil, ErrGeneratorRequired
	}

	o := &Orchestrator{
		catalog:   catalog,
		embedder:  embedder,
		retriever: retriever,
		generator: generator,
		timeout:   DefaultTimeout,
		topK:      DefaultTopK,
		enhance:   true,
		monitor:   &noopMonitor{},
		logger:    slog.Default().With("component", "query"),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Stats returns a snapshot of the outcome counters.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		QueriesProcessed: o.processed.Load(),
		QueriesFailed:    o.failed.Load(),
		NotFound:         o.notFound.Load(),
		Extractive:       o.extractive.Load(),
	}
}

// Query answers a question, optionally restricted to a class and subject.
//
// Malformed input fails with an error wrapping core.ErrValidation before any
// embedding or generation call. Storage failures surface as
// core.ErrServiceUnavailable and a passed deadline as core.ErrTimeout. Finding
// nothing is not an error.
func (o *Orchestrator) Query(ctx context.Context, question string, filters core.Filters) (*core.QueryResult, error) {
	result, err := o.run(ctx, question, filters)
	o.processed.Add(1)
	if err != nil {
		o.failed.Add(1)
		o.logger.Warn("query failed", "err", err)
	}
	o.monitor.Finish(result, err)
	return result, err
}

func (o *Orchestrator) run(ctx context.Context, question string, filters core.Filters) (*core.QueryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	q, err := core.ValidateQuestion(question)
	if err != nil {
		return nil, err
	}
	filters = core.NormalizeFilters(filters)
	o.monitor.Start(q, filters)

	if !filters.IsEmpty() {
		ok, err := o.catalog.HasData(ctx, filters)
		if err != nil {
			return nil, o.classify(err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %w: class %q subject %q",
				core.ErrValidation, core.ErrUnknownFilter, filters.ClassGrade, filters.Subject)
		}
	}

	result := &core.QueryResult{
		Question: q,
		Timings:  core.Timings{},
		Metadata: core.ResultMetadata{Filters: filters},
	}

	// Embedding
	start := time.Now()
	vector, err := o.embedder.Embed(ctx, o.embedText(q, filters))
	o.stageDone(result, core.StageEmbedding, start)
	if err != nil {
		return nil, o.classify(err)
	}
	if core.IsZeroVector(vector) {
		result.Metadata.Warnings = append(result.Metadata.Warnings, "embedding unavailable, used keyword search")
	}

	// Retrieving
	start = time.Now()
	passages, err := o.retriever.Retrieve(ctx, vector, q, filters, o.topK)
	o.stageDone(result, core.StageRetrieving, start)
	if err != nil {
		return nil, o.classify(err)
	}
	o.monitor.AfterRetrieval(passages)

	if len(passages) == 0 {
		o.notFound.Add(1)
		result.Answer = generation.NotFoundAnswer
		result.Metadata.Model = core.ModelNone
		result.Metadata.Tier = core.TierNone
		return result, nil
	}
	result.Sources = passages
	result.Metadata.Tier = passages[0].Tier
	result.Metadata.ChunksFound = len(passages)
	result.Metadata.TopSimilarity = passages[0].Similarity
	for _, p := range passages[1:] {
		result.Metadata.TopSimilarity = max(result.Metadata.TopSimilarity, p.Similarity)
	}

	// Generating
	start = time.Now()
	answer, err := o.generator.Generate(ctx, q, passages)
	o.stageDone(result, core.StageGenerating, start)
	if err != nil {
		return nil, o.classify(err)
	}
	if answer.Extractive {
		o.extractive.Add(1)
	}
	result.Answer = answer.Text
	result.Metadata.Model = answer.Model

	result.Confidence = Confidence(passages)
	if result.Confidence < LowConfidence {
		result.Metadata.Warnings = append(result.Metadata.Warnings, LowConfidenceWarning)
	}
	o.logger.Info("query answered",
		"tier", result.Metadata.Tier,
		"model", result.Metadata.Model,
		"chunks", result.Metadata.ChunksFound,
		"confidence", result.Confidence,
		"total", result.Timings.Total())
	return result, nil
}

func (o *Orchestrator) stageDone(result *core.QueryResult, stage core.Stage, start time.Time) {
	elapsed := time.Since(start)
	result.Timings[stage] = elapsed
	o.monitor.StageDone(stage, elapsed)
}

// embedText prefixes the question with its filters, matching how passages
// are attributed in the corpus.
func (o *Orchestrator) embedText(q string, filters core.Filters) string {
	if !o.enhance {
		return q
	}
	var parts []string
	if filters.Subject != "" {
		parts = append(parts, "Subject: "+filters.Subject)
	}
	if filters.ClassGrade != "" {
		parts = append(parts, "Class: "+filters.ClassGrade)
	}
	if len(parts) == 0 {
		return q
	}
	return strings.Join(parts, " | ") + " - " + q
}

// classify maps a failure to the query error taxonomy.
func (o *Orchestrator) classify(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", core.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, core.ErrValidation):
		return err
	default:
		return fmt.Errorf("%w: %w", core.ErrServiceUnavailable, err)
	}
}
