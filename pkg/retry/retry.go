// Package retry wraps idempotent external calls with a fixed retry schedule.
//
// Errors are classified with engine.IsRetryable: transient, throttled and
// conflict errors are retried, everything else (validation, not found,
// authorization, unknown errors) is returned on the first attempt.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/openfroyo/deployengine/pkg/engine"
)

// Default retry schedule.
const (
	DefaultAttempts = 5
	DefaultDelay    = 2 * time.Second
)

// Policy is a constant-delay retry schedule with a fixed attempt count.
type Policy struct {
	// Attempts is the total number of tries, the first one included.
	Attempts int

	// Delay is the wait between two tries.
	Delay time.Duration

	// OnRetry is called before each new try.
	OnRetry func(operation string, attempt int, err error, wait time.Duration)
}

// DefaultPolicy returns the default schedule.
func DefaultPolicy() Policy {
	return Policy{Attempts: DefaultAttempts, Delay: DefaultDelay}
}

// Disabled returns a policy that tries exactly once.
func Disabled() Policy {
	return Policy{Attempts: 1}
}

func (p Policy) attempts() uint {
	if p.Attempts < 1 {
		return 1
	}
	return uint(p.Attempts)
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempts are exhausted. The last error is returned unchanged.
func Do(ctx context.Context, p Policy, operation string, fn func(ctx context.Context) error) error {
	_, err := Value(ctx, p, operation, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Value is Do for operations returning a result.
func Value[T any](ctx context.Context, p Policy, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	attempt := 0
	op := func() (T, error) {
		attempt++
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		if !Retryable(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewConstantBackOff(p.Delay)),
		backoff.WithMaxTries(p.attempts()),
		backoff.WithMaxElapsedTime(0),
	}
	if p.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(func(err error, wait time.Duration) {
			p.OnRetry(operation, attempt, err, wait)
		}))
	}
	return backoff.Retry(ctx, op, opts...)
}

// Retryable reports whether err is worth another try.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return engine.IsRetryable(err)
}
