package util

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// BackoffOptions controls the delay between retry attempts.
// Delay for attempt n is BaseDelay * 2^n, capped at MaxDelay, plus up to
// Jitter of random spread.
type BackoffOptions struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    time.Duration
}

func (o BackoffOptions) withDefaults() BackoffOptions {
	if o.BaseDelay <= 0 {
		o.BaseDelay = 250 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 10 * time.Second
	}
	if o.Jitter < 0 {
		o.Jitter = 0
	}
	return o
}

func (o BackoffOptions) delay(attempt int) time.Duration {
	d := o.BaseDelay << attempt
	if d > o.MaxDelay || d <= 0 {
		d = o.MaxDelay
	}
	if o.Jitter > 0 {
		d += rand.N(o.Jitter)
	}
	return d
}

// Delay returns the backoff delay for the given attempt, applying defaults
// for unset fields. Exposed for callers that drive their own retry loop.
func (o BackoffOptions) Delay(attempt int) time.Duration {
	return o.withDefaults().delay(attempt)
}

// RetryErr calls fn up to maxTries times until it returns nil error.
// If maxTries <= 0, it defaults to 1. Returns the last error if all attempts fail.
func RetryErr(maxTries int, fn func() error) error {
	if maxTries <= 0 {
		maxTries = 1
	}
	var lastErr error
	for i := 0; i < maxTries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return lastErr
}

// RetryWithContext calls fn up to maxTries times until it returns a result and
// nil error, or until ctx is done. If maxTries <= 0, it defaults to 1.
// Returns ctx.Err() if the context is canceled, otherwise returns the last error.
func RetryWithContext[T any](ctx context.Context, maxTries int, fn func(context.Context) (T, error)) (T, error) {
	if maxTries <= 0 {
		maxTries = 1
	}
	var lastErr error
	var zero T
	for i := 0; i < maxTries; i++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		lastErr = err
	}
	return zero, lastErr
}

// RetryWithBackoff calls fn up to maxTries times, sleeping between attempts
// per opts, until it returns a result and nil error or ctx is done.
func RetryWithBackoff[T any](ctx context.Context, maxTries int, opts BackoffOptions, fn func(context.Context) (T, error)) (T, error) {
	if maxTries <= 0 {
		maxTries = 1
	}
	opts = opts.withDefaults()

	var lastErr error
	var zero T
	for i := 0; i < maxTries; i++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		lastErr = err

		if i < maxTries-1 {
			if err := Sleep(ctx, opts.delay(i)); err != nil {
				return zero, err
			}
		}
	}
	return zero, lastErr
}

// RetryErrWithBackoff is RetryWithBackoff for functions without a result.
func RetryErrWithBackoff(ctx context.Context, maxTries int, opts BackoffOptions, fn func(context.Context) error) error {
	_, err := RetryWithBackoff(ctx, maxTries, opts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Sleep blocks for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
