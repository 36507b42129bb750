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

// Package retry re-runs failing operations with a delay between attempts.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrInvalidMaxAttempts is returned when a policy allows no attempts.
var ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

// Policy controls how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the wait before the second attempt.
	BaseDelay time.Duration

	// Multiplier scales the delay after each attempt. Values below 1 are
	// treated as 1, which gives a fixed delay.
	Multiplier float64

	// Retryable decides whether an error is worth another attempt.
	// Nil retries every error.
	Retryable func(error) bool
}

// Fixed returns a policy with a constant delay.
func Fixed(maxAttempts int, delay time.Duration) Policy {
	return Policy{MaxAttempts: maxAttempts, BaseDelay: delay, Multiplier: 1}
}

// Exponential returns a policy whose delay doubles after each attempt.
func Exponential(maxAttempts int, baseDelay time.Duration) Policy {
	return Policy{MaxAttempts: maxAttempts, BaseDelay: baseDelay, Multiplier: 2}
}

// Do runs op until it succeeds, the policy gives up, or ctx ends.
// Returns the error from the last attempt if all attempts fail.
func Do(ctx context.Context, policy Policy, op func(ctx context.Context) error) error {
	if policy.MaxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}
	mult := policy.Multiplier
	if mult < 1 {
		mult = 1
	}

	delay := policy.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			if attempt > 1 {
				slog.Debug("operation succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		if policy.Retryable != nil && !policy.Retryable(lastErr) {
			return lastErr
		}

		// Don't sleep after the last attempt
		if attempt == policy.MaxAttempts {
			break
		}
		slog.Debug("operation failed, will retry", "attempt", attempt, "maxAttempts", policy.MaxAttempts, "delay", delay, "error", lastErr)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = time.Duration(float64(delay) * mult)
	}

	return lastErr
}
