package generation

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/poiesic/lessonrag/ai"
	"github.com/poiesic/lessonrag/core"
	"github.com/poiesic/lessonrag/fallback"
	"github.com/poiesic/lessonrag/retry"
	"github.com/poiesic/lessonrag/workers"
)

const (
	// DefaultContextPassages is how many passages go into the prompt.
	DefaultContextPassages = 3

	// MinContextPassages and MaxContextPassages bound WithContextPassages.
	MinContextPassages = 3
	MaxContextPassages = 5

	// DefaultAttemptTimeout bounds a single model call.
	DefaultAttemptTimeout = 30 * time.Second

	// DefaultRetryDelay is the wait before retrying a rate-limited model.
	DefaultRetryDelay = 2 * time.Second
)

// Answer is the outcome of a generation request.
type Answer struct {
	Text       string
	Model      string
	Extractive bool
}

// Generator answers questions from retrieved passages, falling back across
// models and finally to an extractive answer. It is safe for concurrent use.
type Generator struct {
	llm             ai.Generator
	pool            *workers.Pool
	chain           *fallback.Chain[ai.Prompt, string]
	params          ai.GenerationParams
	contextPassages int
	attemptTimeout  time.Duration
	retryDelay      time.Duration
	// selected is the index of the first model that ever succeeded, or -1.
	selected atomic.Int32
	logger   *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator) error

// WithContextPassages sets how many passages go into the prompt, clamped to 3..5.
func WithContextPassages(n int) Option {
	return func(g *Generator) error {
		g.contextPassages = min(max(n, MinContextPassages), MaxContextPassages)
		return nil
	}
}

// WithAttemptTimeout sets the timeout for each model attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(g *Generator) error {
		if d <= 0 {
			return fmt.Errorf("attempt timeout must be positive, got %s", d)
		}
		g.attemptTimeout = d
		return nil
	}
}

// WithRetryDelay sets the wait before a rate-limited model is retried.
func WithRetryDelay(d time.Duration) Option {
	return func(g *Generator) error {
		if d < 0 {
			return fmt.Errorf("retry delay must not be negative, got %s", d)
		}
		g.retryDelay = d
		return nil
	}
}

// WithParams overrides the generation parameters.
func WithParams(params ai.GenerationParams) Option {
	return func(g *Generator) error {
		g.params = params
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) error {
		if logger == nil {
			logger = slog.Default()
		}
		g.logger = logger
		return nil
	}
}

// NewGenerator creates a generator that tries models in order.
func NewGenerator(llm ai.Generator, pool *workers.Pool, models []string, opts ...Option) (*Generator, error) {
	if llm == nil {
		return nil, ErrGeneratorRequired
	}
	if pool == nil {
		return nil, ErrPoolRequired
	}
	if len(models) == 0 {
		return nil, ErrModelsRequired
	}

	g := &Generator{
		llm:             llm,
		pool:            pool,
		params:          ai.DefaultGenerationParams(),
		contextPassages: DefaultContextPassages,
		attemptTimeout:  DefaultAttemptTimeout,
		retryDelay:      DefaultRetryDelay,
		logger:          slog.Default().With("component", "generation"),
	}
	g.selected.Store(-1)
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}

	strategies := make([]fallback.Strategy[ai.Prompt, string], len(models))
	for i, model := range models {
		strategies[i] = fallback.Func[ai.Prompt, string]{
			Label: model,
			Fn: func(ctx context.Context, prompt ai.Prompt) (string, error) {
				return g.attempt(ctx, model, prompt)
			},
		}
	}
	g.chain = fallback.New(strategies,
		fallback.OnFailure[ai.Prompt, string](func(model string, err error) {
			g.logger.Warn("generation model failed", "model", model, "err", err)
		}))
	return g, nil
}

// Models returns the configured models in priority order.
func (g *Generator) Models() []string {
	return g.chain.Names()
}

// SelectedModel returns the model that first succeeded, or "" if none has yet.
func (g *Generator) SelectedModel() string {
	idx := g.selected.Load()
	if idx < 0 {
		return ""
	}
	return g.chain.Names()[idx]
}

// Generate answers question from passages.
// Returns an error only when ctx is done.
func (g *Generator) Generate(ctx context.Context, question string, passages []core.RetrievedPassage) (Answer, error) {
	if len(passages) == 0 {
		return Answer{Text: NotFoundAnswer, Model: core.ModelNone}, nil
	}

	ranked := slices.Clone(passages)
	core.SortPassages(ranked)
	prompt := BuildPrompt(question, BuildContext(ranked[:min(g.contextPassages, len(ranked))]))

	start := max(int(g.selected.Load()), 0)
	text, idx, err := g.chain.RunFrom(ctx, start, prompt)
	if err == nil {
		g.selected.CompareAndSwap(-1, int32(idx))
		model := g.chain.Names()[idx]
		g.logger.Debug("generated answer", "model", model)
		return Answer{Text: text, Model: model}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Answer{}, ctxErr
	}

	g.logger.Warn("all generation models failed, returning extractive answer", "err", err)
	return Answer{Text: Extractive(ranked[0]), Model: core.ModelFallback, Extractive: true}, nil
}

// attempt runs model calls on the worker pool, each under the attempt
// timeout. A rate-limited call is retried once after the retry delay.
func (g *Generator) attempt(ctx context.Context, model string, prompt ai.Prompt) (string, error) {
	policy := retry.Fixed(2, g.retryDelay)
	policy.Retryable = ai.IsRateLimited

	var text string
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, g.attemptTimeout)
		defer cancel()

		v, err := workers.Submit(attemptCtx, g.pool, func(ctx context.Context) (string, error) {
			return g.llm.Generate(ctx, model, prompt, g.params)
		})
		if err != nil {
			return err
		}
		text = v
		return nil
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ai.ErrEmptyResponse
	}
	return strings.TrimSpace(text), nil
}
