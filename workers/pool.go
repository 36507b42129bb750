// Package workers bounds the number of concurrent blocking calls to
// external services.
package workers

import (
	"context"
	"errors"
	"fmt"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/semaphore"
)

// DefaultSize is the number of tasks allowed to run at once.
const DefaultSize = 5

var (
	// ErrPanic wraps a panic recovered from a task.
	ErrPanic = errors.New("task panicked")

	// ErrPoolClosed is returned when submitting to a released pool.
	ErrPoolClosed = errors.New("worker pool closed")
)

// Pool runs tasks on a fixed-size ants pool. A weighted semaphore of the
// same size hands out slots, so waiting for a free worker honors the
// caller's context instead of blocking inside ants.
type Pool struct {
	pool  *ants.Pool
	slots *semaphore.Weighted
}

// New creates a pool of size workers. Sizes below 1 use DefaultSize.
func New(size int) (*Pool, error) {
	if size < 1 {
		size = DefaultSize
	}
	p, err := ants.NewPool(size)
	if err != nil {
		return nil, err
	}
	return &Pool{pool: p, slots: semaphore.NewWeighted(int64(size))}, nil
}

// Do runs fn on the pool and waits for it to finish or for ctx to end.
// If every worker is busy, Do waits for a slot only as long as ctx allows.
// When ctx ends after the task started, Do returns the context error and
// the task keeps running to completion in the background with a canceled
// context.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.pool.IsClosed() {
		return ErrPoolClosed
	}
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return err
	}

	done := make(chan error, 1)
	err := p.pool.Submit(func() {
		defer p.slots.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: %v", ErrPanic, r)
			}
		}()
		done <- fn(ctx)
	})
	if err != nil {
		p.slots.Release(1)
		if errors.Is(err, ants.ErrPoolClosed) {
			return ErrPoolClosed
		}
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit runs fn on p and returns its value.
func Submit[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Cap returns the pool capacity.
func (p *Pool) Cap() int {
	return p.pool.Cap()
}

// Running returns the number of tasks currently executing.
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Release stops the pool. Pending submissions fail with ErrPoolClosed.
func (p *Pool) Release() {
	p.pool.Release()
}
