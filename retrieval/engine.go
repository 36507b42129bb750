package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/lessonrag/core"
	"github.com/poiesic/lessonrag/fallback"
	"github.com/poiesic/lessonrag/storage"
)

const (
	// DefaultThreshold is the minimum cosine similarity for the vector tier.
	DefaultThreshold = 0.25

	// DefaultTopK is used when a caller asks for a non-positive number of passages.
	DefaultTopK = 5

	hybridFloor  = 0.3
	keywordScore = 0.5
)

// request carries one retrieval through the tier chain.
type request struct {
	vector  []float32
	query   string
	filters core.Filters
	topK    int
}

// Engine retrieves passages for a query using progressively looser tiers.
// It is safe for concurrent use.
type Engine struct {
	repo      storage.ChunkRepository
	threshold float32
	chain     *fallback.Chain[request, []core.RetrievedPassage]
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine) error

// WithThreshold sets the vector tier similarity threshold.
func WithThreshold(threshold float32) Option {
	return func(e *Engine) error {
		if threshold < 0 || threshold >= 1 {
			return fmt.Errorf("%w: got %v", ErrInvalidThreshold, threshold)
		}
		e.threshold = threshold
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger
		return nil
	}
}

// NewEngine creates a retrieval engine over the repository.
func NewEngine(repo storage.ChunkRepository, opts ...Option) (*Engine, error) {
	if repo == nil {
		return nil, ErrRepositoryRequired
	}
	e := &Engine{
		repo:      repo,
		threshold: DefaultThreshold,
		logger:    slog.Default().With("component", "retrieval"),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	tiers := []fallback.Strategy[request, []core.RetrievedPassage]{
		fallback.Func[request, []core.RetrievedPassage]{Label: core.TierVector.String(), Fn: e.vectorTier},
		fallback.Func[request, []core.RetrievedPassage]{Label: core.TierHybrid.String(), Fn: e.hybridTier},
		fallback.Func[request, []core.RetrievedPassage]{Label: core.TierKeyword.String(), Fn: e.keywordTier},
	}
	// Any error other than an empty tier is a storage failure and must not
	// be mistaken for "nothing found".
	e.chain = fallback.New(tiers,
		fallback.AbortOn[request, []core.RetrievedPassage](func(error) bool { return true }))
	return e, nil
}

// Threshold returns the vector tier similarity threshold.
func (e *Engine) Threshold() float32 {
	return e.threshold
}

// Retrieve returns up to topK passages for the query, best first.
// queryEmbedding may be the zero sentinel, in which case the vector tier is
// skipped. An empty result is returned as nil with no error.
func (e *Engine) Retrieve(ctx context.Context, queryEmbedding []float32, query string, filters core.Filters, topK int) ([]core.RetrievedPassage, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	req := request{
		vector:  queryEmbedding,
		query:   strings.TrimSpace(query),
		filters: core.NormalizeFilters(filters),
		topK:    topK,
	}

	passages, tier, err := e.chain.Run(ctx, req)
	if err != nil {
		if errors.Is(err, fallback.ErrExhausted) {
			e.logger.Debug("no passages found", "query", req.query, "filters", req.filters)
			return nil, nil
		}
		return nil, err
	}
	e.logger.Debug("retrieved passages", "tier", tier, "count", len(passages))
	return passages, nil
}

func (e *Engine) vectorTier(ctx context.Context, req request) ([]core.RetrievedPassage, error) {
	if core.IsZeroVector(req.vector) {
		return nil, fallback.ErrNoResult
	}
	matches, err := e.repo.FindSimilar(ctx, req.vector, req.filters, e.threshold, req.topK)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fallback.ErrNoResult
	}
	passages := make([]core.RetrievedPassage, len(matches))
	for i, m := range matches {
		passages[i] = core.RetrievedPassage{
			Chunk:      m.Chunk,
			Similarity: core.ClampUnit(m.Similarity),
			Tier:       core.TierVector,
		}
	}
	return passages, nil
}

func (e *Engine) hybridTier(ctx context.Context, req request) ([]core.RetrievedPassage, error) {
	kws := keywords(req.query)
	if len(kws) == 0 {
		return nil, fallback.ErrNoResult
	}
	var passages []core.RetrievedPassage
	err := e.repo.ScanChunks(ctx, req.filters, func(c *core.Chunk) bool {
		if !containsAny(c.Content, kws) {
			return true
		}
		sim := max(core.CosineSimilarity(req.vector, c.Embedding), hybridFloor)
		passages = append(passages, core.RetrievedPassage{
			Chunk:      c,
			Similarity: core.ClampUnit(sim),
			Tier:       core.TierHybrid,
		})
		return true
	})
	if err != nil {
		return nil, err
	}
	return rank(passages, req.topK)
}

func (e *Engine) keywordTier(ctx context.Context, req request) ([]core.RetrievedPassage, error) {
	if req.query == "" {
		return nil, fallback.ErrNoResult
	}
	var passages []core.RetrievedPassage
	err := e.repo.ScanChunks(ctx, req.filters, func(c *core.Chunk) bool {
		if containsFold(c.Content, req.query) || containsFold(c.Chapter, req.query) {
			passages = append(passages, core.RetrievedPassage{
				Chunk:      c,
				Similarity: keywordScore,
				Tier:       core.TierKeyword,
			})
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return rank(passages, req.topK)
}

// rank orders passages by similarity, ties by chunk ID, and keeps topK.
func rank(passages []core.RetrievedPassage, topK int) ([]core.RetrievedPassage, error) {
	if len(passages) == 0 {
		return nil, fallback.ErrNoResult
	}
	core.SortPassages(passages)
	if len(passages) > topK {
		passages = passages[:topK]
	}
	return passages, nil
}
