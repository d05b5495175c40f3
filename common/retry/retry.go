// Package retry retries operations that produce a value, backing off
// exponentially between attempts.
//
// Usage:
//
//	conn, err := retry.Value(ctx, retry.DefaultBackoff, func(ctx context.Context) (net.Conn, error) {
//	    return dialer.DialContext(ctx, "tcp", addr)
//	})
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Backoff controls how many attempts are made and how long to wait between them.
type Backoff struct {
	// Attempts is the total number of calls, including the first. Values
	// below 1 mean a single call.
	Attempts int
	// Base is the wait after the first failure; it doubles after every
	// further failure.
	Base time.Duration
	// Max caps a single wait.
	Max time.Duration
	// Permanent reports errors that must not be retried. Nil retries everything.
	Permanent func(err error) bool
}

// DefaultBackoff suits dialing a runner that may still be starting up.
var DefaultBackoff = Backoff{
	Attempts: 5,
	Base:     200 * time.Millisecond,
	Max:      5 * time.Second,
}

// Delay returns the wait that follows the given failed attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	base, max := b.Base, b.Max
	if base <= 0 {
		base = DefaultBackoff.Base
	}
	if max <= 0 {
		max = DefaultBackoff.Max
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Value calls fn until it succeeds, the attempts run out, fn fails with a
// permanent error, or ctx is done. The last error is returned, joined with
// the context error when cancellation cut the loop short.
func Value[T any](ctx context.Context, b Backoff, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := b.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, errors.Join(lastErr, err)
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if b.Permanent != nil && b.Permanent(err) {
			return zero, err
		}
		if attempt == attempts {
			break
		}

		delay := b.Delay(attempt)
		slog.Debug("retry: attempt failed",
			"attempt", attempt, "max", attempts, "err", err, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, errors.Join(lastErr, ctx.Err())
		case <-timer.C:
		}
	}
	return zero, lastErr
}

// Do is Value for operations without a result.
func Do(ctx context.Context, b Backoff, fn func(ctx context.Context) error) error {
	_, err := Value(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
