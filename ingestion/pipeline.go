package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/poiesic/lessonrag/chunking"
	"github.com/poiesic/lessonrag/core"
	"github.com/poiesic/lessonrag/storage"
)

// BatchEmbedder embeds many texts at once. A text whose embedding failed
// transiently gets the zero sentinel.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Request is one document to ingest.
type Request struct {
	Text           string
	ClassGrade     string
	Subject        string
	SourceFilename string
}

// Result reports the outcome of one document in IngestAll.
type Result struct {
	Request Request
	Chunks  int
	Err     error
}

// Pipeline orchestrates chunking, embedding and storage of documents.
type Pipeline struct {
	repo     storage.ChunkRepository
	chunker  *chunking.Chunker
	embedder BatchEmbedder
	pool     *ants.Pool
	logger   *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets how many documents IngestAll processes at once.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}

		// Release old pool
		if p.pool != nil {
			p.pool.Release()
		}

		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(
	repo storage.ChunkRepository,
	chunker *chunking.Chunker,
	embedder BatchEmbedder,
	opts ...Option,
) (*Pipeline, error) {
	if repo == nil {
		return nil, ErrRepositoryRequired
	}
	if chunker == nil {
		return nil, ErrChunkerRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	// Default pool size
	poolSize := max(runtime.NumCPU()/2, 1)
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		repo:     repo,
		chunker:  chunker,
		embedder: embedder,
		pool:     pool,
		logger:   slog.Default().With("component", "ingestion"),
	}

	// Apply options (may override defaults)
	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}
	return p, nil
}

// Ingest chunks, embeds and stores one document.
// Returns the number of chunks persisted.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (int, error) {
	if strings.TrimSpace(req.Text) == "" {
		return 0, fmt.Errorf("%w: text is empty", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.ClassGrade) == "" || strings.TrimSpace(req.Subject) == "" {
		return 0, fmt.Errorf("%w: class grade and subject are required", ErrInvalidRequest)
	}

	chunks := p.chunker.Chunk(chunking.Document{
		Text:           req.Text,
		ClassGrade:     strings.TrimSpace(req.ClassGrade),
		Subject:        strings.TrimSpace(req.Subject),
		SourceFilename: req.SourceFilename,
	})
	chunks = p.dropInvalid(chunks, req.SourceFilename)
	if len(chunks) == 0 {
		p.logger.Warn("document produced no chunks", "source", req.SourceFilename)
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding %s: %w", req.SourceFilename, err)
	}

	missing := 0
	for i, c := range chunks {
		if core.IsZeroVector(vectors[i]) {
			missing++
			continue
		}
		c.Embedding = vectors[i]
	}
	if missing > 0 {
		p.logger.Warn("stored chunks without embeddings", "source", req.SourceFilename, "count", missing)
	}

	added, err := p.repo.AddChunks(ctx, chunks...)
	if err != nil {
		return 0, fmt.Errorf("storing %s: %w", req.SourceFilename, err)
	}

	p.logger.Info("ingested document",
		"source", req.SourceFilename,
		"class", req.ClassGrade,
		"subject", req.Subject,
		"chapter", chunks[0].Chapter,
		"chunks", len(added))
	return len(added), nil
}

// dropInvalid removes passages storage would reject, such as ones shorter
// than core.MinChunkLength characters, so one short passage does not fail
// the whole document.
func (p *Pipeline) dropInvalid(chunks []*core.Chunk, source string) []*core.Chunk {
	kept := chunks[:0]
	for _, c := range chunks {
		if err := core.ValidateChunk(c); err != nil {
			p.logger.Debug("discarding passage", "source", source, "chunk", c.Metadata[core.MetaChunkIndex], "err", err)
			continue
		}
		kept = append(kept, c)
	}
	if dropped := len(chunks) - len(kept); dropped > 0 {
		p.logger.Warn("discarded invalid passages", "source", source, "count", dropped)
	}
	return kept
}

// IngestAll ingests documents concurrently and waits for all of them.
// Results are returned in request order; one failure does not stop the others.
func (p *Pipeline) IngestAll(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		results[i].Request = req
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			results[i].Chunks, results[i].Err = p.Ingest(ctx, req)
		})
		if err != nil {
			wg.Done()
			results[i].Err = err
		}
	}
	wg.Wait()
	return results
}

// Release releases the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}
