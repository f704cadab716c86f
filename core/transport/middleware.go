package transport

import (
	"context"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/domainstack/probekit/pkg/logging"
	"github.com/domainstack/probekit/pkg/retry"
)

// Chain creates a single Middleware from a series of middlewares.
// The middlewares are applied in the order they are passed.
func Chain(middlewares ...Middleware) Middleware {
	return func(base Dialer) Dialer {
		for i := len(middlewares) - 1; i >= 0; i-- {
			base = middlewares[i](base)
		}
		return base
	}
}

// loggingDialer logs dial attempts and their outcome.
type loggingDialer struct {
	Dialer
	logger logging.Logger
}

func (d *loggingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.logger.Debug("dialing", "network", network, "address", address)
	start := time.Now()
	conn, err := d.Dialer.DialContext(ctx, network, address)
	if err != nil {
		d.logger.Debug("dial failed", "address", address, "error", err, "elapsed", time.Since(start))
		return nil, err
	}
	d.logger.Debug("dial succeeded", "address", address, "elapsed", time.Since(start))
	return conn, nil
}

// LoggingMiddleware creates a middleware that logs dial operations.
func LoggingMiddleware(logger logging.Logger) Middleware {
	return func(base Dialer) Dialer {
		return &loggingDialer{Dialer: base, logger: logger.With("component", "dialer")}
	}
}

// timeoutDialer bounds each dial attempt.
type timeoutDialer struct {
	Dialer
	timeout time.Duration
}

func (d *timeoutDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	return d.Dialer.DialContext(ctx, network, address)
}

// TimeoutMiddleware creates a middleware that applies a timeout to each
// dial attempt.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(base Dialer) Dialer {
		return &timeoutDialer{Dialer: base, timeout: timeout}
	}
}

// retryDialer re-dials failed attempts with backoff.
type retryDialer struct {
	Dialer
	cfg retry.Config
}

func (d *retryDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return retry.DoValue(ctx, d.cfg, func(ctx context.Context) (net.Conn, error) {
		return d.Dialer.DialContext(ctx, network, address)
	})
}

// RetryMiddleware creates a middleware that retries failed dial attempts.
func RetryMiddleware(attempts int, delay time.Duration) Middleware {
	cfg := retry.Config{Attempts: attempts, BaseDelay: delay, MaxDelay: 8 * delay}
	return func(base Dialer) Dialer {
		return &retryDialer{Dialer: base, cfg: cfg}
	}
}

// throttlingDialer rate limits dial attempts.
type throttlingDialer struct {
	Dialer
	limiter *rate.Limiter
}

func (d *throttlingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return d.Dialer.DialContext(ctx, network, address)
}

// ThrottlingMiddleware creates a middleware that rate limits dial
// attempts across all users of the wrapped dialer.
func ThrottlingMiddleware(r rate.Limit, b int) Middleware {
	limiter := rate.NewLimiter(r, b)
	return func(base Dialer) Dialer {
		return &throttlingDialer{Dialer: base, limiter: limiter}
	}
}
