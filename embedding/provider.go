// Package embedding turns text into fixed-width vectors with a
// content-addressed cache in front of the embedding service.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/poiesic/lessonrag/ai"
	"github.com/poiesic/lessonrag/core"
	"github.com/poiesic/lessonrag/retry"
	"github.com/poiesic/lessonrag/workers"
)

// Defaults for Provider.
const (
	DefaultDimensions  = 768
	DefaultBatchLimit  = 100
	DefaultRetryDelay  = 2 * time.Second
	DefaultCallTimeout = 30 * time.Second
)

// Stats is a snapshot of provider counters.
type Stats struct {
	EmbeddingsGenerated int64
	CacheHits           int64
	CacheMisses         int64
	Errors              int64
	CacheSize           int
}

// Provider embeds text through an ai.Embedder, caching vectors by content hash.
//
// A persistent embedding failure does not fail the call. The provider
// returns a zero vector of the configured width instead, which the vector
// retrieval tier skips. Context cancellation is always returned as an error.
type Provider struct {
	embedder    ai.Embedder
	cache       Cache
	pool        *workers.Pool
	ownsPool    bool
	group       singleflight.Group
	dim         int
	batchLimit  int
	retryDelay  time.Duration
	callTimeout time.Duration
	logger      *slog.Logger

	generated atomic.Int64
	hits      atomic.Int64
	misses    atomic.Int64
	errors    atomic.Int64
}

// Option configures a Provider.
type Option func(*Provider) error

// WithCache sets the vector cache. Default is an LRU of DefaultCacheCapacity.
func WithCache(cache Cache) Option {
	return func(p *Provider) error {
		if cache == nil {
			return ErrCacheRequired
		}
		p.cache = cache
		return nil
	}
}

// WithPool runs embedding calls on a shared worker pool. The provider does
// not release a pool it did not create.
func WithPool(pool *workers.Pool) Option {
	return func(p *Provider) error {
		if pool == nil {
			return ErrPoolRequired
		}
		p.pool = pool
		return nil
	}
}

// WithDimensions sets the expected vector width.
func WithDimensions(dim int) Option {
	return func(p *Provider) error {
		if dim <= 0 {
			return ErrInvalidDimensions
		}
		p.dim = dim
		return nil
	}
}

// WithBatchLimit caps how many texts go to the embedder in one request.
func WithBatchLimit(n int) Option {
	return func(p *Provider) error {
		if n > 0 {
			p.batchLimit = n
		}
		return nil
	}
}

// WithRetryDelay sets the pause before the single retry after a rate limit.
func WithRetryDelay(d time.Duration) Option {
	return func(p *Provider) error {
		if d >= 0 {
			p.retryDelay = d
		}
		return nil
	}
}

// WithCallTimeout bounds a shared cache fill, which outlives the query that
// started it.
func WithCallTimeout(d time.Duration) Option {
	return func(p *Provider) error {
		if d > 0 {
			p.callTimeout = d
		}
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewProvider creates a caching embedding provider.
func NewProvider(embedder ai.Embedder, opts ...Option) (*Provider, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	p := &Provider{
		embedder:    embedder,
		dim:         DefaultDimensions,
		batchLimit:  DefaultBatchLimit,
		retryDelay:  DefaultRetryDelay,
		callTimeout: DefaultCallTimeout,
		logger:      slog.Default().With("component", "embedding-provider"),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}

	if p.cache == nil {
		cache, err := NewLRUCache(DefaultCacheCapacity)
		if err != nil {
			return nil, err
		}
		p.cache = cache
	}
	if p.pool == nil {
		pool, err := workers.New(workers.DefaultSize)
		if err != nil {
			return nil, err
		}
		p.pool = pool
		p.ownsPool = true
	}
	return p, nil
}

// Dimensions returns the vector width.
func (p *Provider) Dimensions() int {
	return p.dim
}

// Embed returns the vector for text, from the cache when possible.
// Concurrent misses for the same text share one external call.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := core.ContentHash(text)
	if vec, ok := p.cache.Get(key); ok {
		p.hits.Add(1)
		return clone(vec), nil
	}
	p.misses.Add(1)

	ch := p.group.DoChan(key, func() (any, error) {
		// The fill is shared, so it must not die with the first caller.
		fillCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.callTimeout)
		defer cancel()
		return p.fill(fillCtx, key, text)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return core.ZeroVector(p.dim), nil
		}
		return clone(res.Val.([]float32)), nil
	}
}

// fill embeds a single text and caches the result.
func (p *Provider) fill(ctx context.Context, key, text string) ([]float32, error) {
	vec, err := withRetry(ctx, p, func(ctx context.Context) ([]float32, error) {
		return p.embedder.EmbedText(ctx, text)
	})
	if err == nil {
		err = p.check(vec)
	}
	if err != nil {
		p.errors.Add(1)
		p.logger.Warn("embedding failed, using zero vector", "err", err)
		return nil, err
	}

	p.cache.Add(key, vec)
	p.generated.Add(1)
	return vec, nil
}

// EmbedBatch returns one vector per text, in input order. Cached texts are
// served from the cache, duplicates are embedded once, and the rest is sent
// in requests of at most the batch limit. A failed request degrades its
// texts to zero vectors.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	var (
		missKeys  []string
		missTexts []string
		positions = make(map[string][]int)
	)
	for i, text := range texts {
		key := core.ContentHash(text)
		if vec, ok := p.cache.Get(key); ok {
			p.hits.Add(1)
			out[i] = clone(vec)
			continue
		}
		if _, seen := positions[key]; !seen {
			p.misses.Add(1)
			missKeys = append(missKeys, key)
			missTexts = append(missTexts, text)
		}
		positions[key] = append(positions[key], i)
	}

	if len(missTexts) > 0 {
		vecs, err := p.embedMisses(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		for j, key := range missKeys {
			vec := vecs[j]
			if vec == nil {
				vec = core.ZeroVector(p.dim)
			} else {
				p.cache.Add(key, vec)
			}
			for _, i := range positions[key] {
				out[i] = clone(vec)
			}
		}
	}
	return out, nil
}

// embedMisses embeds texts in parallel requests. Failed entries are nil.
// Only context errors are returned.
func (p *Provider) embedMisses(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(texts); start += p.batchLimit {
		end := min(start+p.batchLimit, len(texts))
		g.Go(func() error {
			batch := texts[start:end]
			got, err := withRetry(gctx, p, func(ctx context.Context) ([][]float32, error) {
				v, err := p.embedder.EmbedTexts(ctx, batch)
				if err != nil {
					return nil, err
				}
				if len(v) != len(batch) {
					return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrBatchMismatch, len(v), len(batch))
				}
				return v, nil
			})
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				p.errors.Add(int64(len(batch)))
				p.logger.Warn("batch embedding failed, using zero vectors", "count", len(batch), "err", err)
				return nil
			}
			for i, v := range got {
				if err := p.check(v); err != nil {
					p.errors.Add(1)
					p.logger.Warn("discarding embedding", "err", err)
					continue
				}
				vecs[start+i] = v
				p.generated.Add(1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return vecs, nil
}

// withRetry runs op on the worker pool, retrying once after a rate limit.
func withRetry[T any](ctx context.Context, p *Provider, op func(ctx context.Context) (T, error)) (T, error) {
	policy := retry.Fixed(2, p.retryDelay)
	policy.Retryable = ai.IsRateLimited

	var out T
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		v, err := workers.Submit(ctx, p.pool, op)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (p *Provider) check(vec []float32) error {
	if len(vec) != p.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), p.dim)
	}
	return nil
}

// Stats returns a snapshot of the counters.
func (p *Provider) Stats() Stats {
	return Stats{
		EmbeddingsGenerated: p.generated.Load(),
		CacheHits:           p.hits.Load(),
		CacheMisses:         p.misses.Load(),
		Errors:              p.errors.Load(),
		CacheSize:           p.cache.Len(),
	}
}

// Close releases the worker pool if the provider created it.
func (p *Provider) Close() error {
	if p.ownsPool {
		p.pool.Release()
	}
	return nil
}

// IsSentinel reports whether vec is the zero vector returned on failure.
func IsSentinel(vec []float32) bool {
	return len(vec) == 0 || core.IsZeroVector(vec)
}
