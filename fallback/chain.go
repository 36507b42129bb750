// Package fallback runs an ordered list of strategies until one succeeds.
//
// A Chain is used wherever the system degrades gracefully: generation models
// are tried in order, retrieval tiers widen from vector to keyword search, and
// chapter titles are matched by progressively weaker patterns.
package fallback

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNoResult is returned by a strategy that ran cleanly but produced
	// nothing usable. The chain moves on without recording a failure.
	ErrNoResult = errors.New("no result")

	// ErrExhausted is returned when every strategy declined or failed.
	ErrExhausted = errors.New("all strategies exhausted")

	// ErrNoStrategies is returned when a chain is built with no strategies.
	ErrNoStrategies = errors.New("no strategies configured")
)

// Strategy is one step of a chain.
type Strategy[I, O any] interface {
	Name() string
	Attempt(ctx context.Context, in I) (O, error)
}

// Func adapts a function to the Strategy interface.
type Func[I, O any] struct {
	Label string
	Fn    func(ctx context.Context, in I) (O, error)
}

// Name returns the strategy label.
func (f Func[I, O]) Name() string { return f.Label }

// Attempt invokes the wrapped function.
func (f Func[I, O]) Attempt(ctx context.Context, in I) (O, error) { return f.Fn(ctx, in) }

// Option configures a Chain.
type Option[I, O any] func(*Chain[I, O])

// AbortOn stops the chain at the first error for which fn returns true.
// The error is returned unwrapped.
func AbortOn[I, O any](fn func(error) bool) Option[I, O] {
	return func(c *Chain[I, O]) {
		c.abort = fn
	}
}

// OnFailure registers a callback invoked for each strategy that fails with
// an error other than ErrNoResult.
func OnFailure[I, O any](fn func(name string, err error)) Option[I, O] {
	return func(c *Chain[I, O]) {
		c.onFailure = fn
	}
}

// Chain tries strategies in order and returns the first success.
// A Chain is immutable after construction and safe for concurrent use.
type Chain[I, O any] struct {
	strategies []Strategy[I, O]
	abort      func(error) bool
	onFailure  func(string, error)
}

// New builds a chain over strategies in priority order.
func New[I, O any](strategies []Strategy[I, O], opts ...Option[I, O]) *Chain[I, O] {
	c := &Chain[I, O]{strategies: append([]Strategy[I, O](nil), strategies...)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Len returns the number of strategies.
func (c *Chain[I, O]) Len() int { return len(c.strategies) }

// Names returns the strategy names in order.
func (c *Chain[I, O]) Names() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return names
}

// Run tries every strategy from the first.
func (c *Chain[I, O]) Run(ctx context.Context, in I) (O, string, error) {
	out, idx, err := c.RunFrom(ctx, 0, in)
	if idx < 0 {
		return out, "", err
	}
	return out, c.strategies[idx].Name(), err
}

// RunFrom tries strategies starting at index start and returns the output
// together with the index of the strategy that produced it. On failure the
// index is -1.
func (c *Chain[I, O]) RunFrom(ctx context.Context, start int, in I) (O, int, error) {
	var zero O
	if len(c.strategies) == 0 {
		return zero, -1, ErrNoStrategies
	}
	if start < 0 || start >= len(c.strategies) {
		start = 0
	}

	var errs []error
	for i := start; i < len(c.strategies); i++ {
		if err := ctx.Err(); err != nil {
			return zero, -1, err
		}

		s := c.strategies[i]
		out, err := s.Attempt(ctx, in)
		if err == nil {
			return out, i, nil
		}
		if errors.Is(err, ErrNoResult) {
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, -1, ctxErr
		}
		if c.abort != nil && c.abort(err) {
			return zero, -1, err
		}
		if c.onFailure != nil {
			c.onFailure(s.Name(), err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}

	if len(errs) == 0 {
		return zero, -1, ErrExhausted
	}
	return zero, -1, fmt.Errorf("%w: %w", ErrExhausted, errors.Join(errs...))
}
