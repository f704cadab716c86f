// Package retry runs fallible operations with jittered exponential
// backoff. Waits are cut short the moment the context is cancelled, so a
// caller's deadline bounds the whole retry loop, not just individual
// attempts.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/domainstack/probekit/pkg/securerandom"
)

// Config controls how attempts are spaced.
type Config struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// BaseDelay is the wait after the first failure; it doubles per
	// attempt up to MaxDelay.
	BaseDelay time.Duration
	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration
}

// DefaultConfig spaces three attempts a few hundred milliseconds apart.
func DefaultConfig() Config {
	return Config{
		Attempts:  3,
		BaseDelay: 250 * time.Millisecond,
		MaxDelay:  5 * time.Second,
	}
}

func (c Config) normalized() Config {
	if c.Attempts < 1 {
		c.Attempts = 1
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 250 * time.Millisecond
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	return c
}

// Permanent wraps err so the retry loop stops immediately and returns
// err as-is. Use it for failures that repeating cannot fix, like a
// well-formed "not found" answer.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Do runs op until it succeeds, attempts are exhausted, or ctx is done.
// The error from the final attempt is returned; a cancellation during a
// backoff wait returns ctx.Err().
func Do(ctx context.Context, cfg Config, op func(ctx context.Context) error) error {
	_, err := DoValue(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.normalized()

	var zero T
	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		var pe *permanentError
		if errors.As(err, &pe) {
			return zero, pe.err
		}
		lastErr = err

		if attempt == cfg.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff(cfg, attempt)):
		}
	}
	return zero, lastErr
}

// backoff doubles the base delay per completed attempt, caps it at
// MaxDelay, and jitters the result into [d/2, d] so concurrent callers
// retrying the same upstream do not stampede in lockstep.
func backoff(cfg Config, attempt int) time.Duration {
	d := cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.MaxDelay || d <= 0 {
			d = cfg.MaxDelay
			break
		}
	}
	jittered, err := securerandom.Duration(d/2, d)
	if err != nil {
		return d
	}
	return jittered
}
