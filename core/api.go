package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/domainstack/probekit/core/config"
	"github.com/domainstack/probekit/core/fetch"
	"github.com/domainstack/probekit/core/proxy"
	"github.com/domainstack/probekit/core/transport"
	"github.com/domainstack/probekit/core/verify"
	"github.com/domainstack/probekit/pkg/doh"
	"github.com/domainstack/probekit/pkg/logging"
	"github.com/domainstack/probekit/pkg/netutils"
)

// Engine is the main controller for the probe kit. It owns one resolver,
// one fetcher, and one verifier, all sharing the same egress policy, and
// optionally runs a SOCKS5 guard for sidecar processes.
type Engine struct {
	config   *config.FileConfig
	resolver *doh.Resolver
	fetcher  *fetch.Fetcher
	verifier *verify.Verifier
	health   *doh.HealthChecker
	logger   logging.Logger

	mu    sync.Mutex
	guard *proxy.Guard
}

// NewEngine wires an engine from cfg. A nil cfg uses the defaults; the
// configuration is validated either way.
func NewEngine(cfg *config.FileConfig, logger logging.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = logging.GetLogger()
	}

	// In the file, retries: 0 and retries: -1 both mean "one attempt";
	// the resolver reserves zero for "use the default".
	retries := cfg.DoH.Retries
	if retries <= 0 {
		retries = -1
	}
	resolver, err := doh.NewResolver(doh.Options{
		Providers: dohProviders(cfg.DoH.Providers),
		Timeout:   cfg.DoH.Timeout(),
		Retries:   retries,
		UserAgent: cfg.Fetch.UserAgent,
		CacheSize: cfg.DoH.CacheSize,
		CacheTTL:  cfg.DoH.CacheTTL(),
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("building resolver: %w", err)
	}

	fetcher, err := fetch.New(fetch.Config{Resolver: resolver, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("building fetcher: %w", err)
	}

	verifier, err := verify.New(verify.Config{
		Resolver:     resolver,
		Fetcher:      fetcher,
		ProbeTimeout: cfg.Verification.ProbeTimeout(),
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("building verifier: %w", err)
	}

	return &Engine{
		config:   cfg,
		resolver: resolver,
		fetcher:  fetcher,
		verifier: verifier,
		health:   doh.NewHealthChecker(resolver, "", logger),
		logger:   logger.With("component", "engine"),
	}, nil
}

func dohProviders(list []config.DoHProvider) []doh.Provider {
	out := make([]doh.Provider, 0, len(list))
	for _, p := range list {
		out = append(out, doh.Provider{Key: p.Key, URL: p.URL, Headers: p.Headers})
	}
	return out
}

// FetchOptions returns fetch options primed from the configuration.
// Each call returns a fresh copy for the caller to adjust.
func (e *Engine) FetchOptions() *fetch.Options {
	fc := e.config.Fetch
	return &fetch.Options{
		Timeout:      fc.Timeout(),
		MaxBytes:     fc.MaxBytes,
		MaxRedirects: fc.MaxRedirects,
		AllowHTTP:    fc.AllowHTTP,
		UserAgent:    fc.UserAgent,
		TLS: transport.ClientTLS{
			Library:       fc.TLS.Library,
			ClientHelloID: fc.TLS.ClientHelloID,
			MinVersion:    fc.TLS.MinVersion,
			MaxVersion:    fc.TLS.MaxVersion,
		},
	}
}

// SafeFetch retrieves rawURL under the egress policy. A nil opts uses
// the configuration defaults.
func (e *Engine) SafeFetch(ctx context.Context, rawURL string, opts *fetch.Options) (*fetch.Result, error) {
	if opts == nil {
		opts = e.FetchOptions()
	}
	return e.fetcher.Fetch(ctx, rawURL, opts)
}

// ResolveHost resolves host over DoH and returns its first address.
func (e *Engine) ResolveHost(ctx context.Context, host string) (doh.Address, error) {
	return e.resolver.Lookup(ctx, host)
}

// ResolveHostAll resolves host over DoH to every A and AAAA address,
// served from the answer cache when one is configured.
func (e *Engine) ResolveHostAll(ctx context.Context, host string) ([]doh.Address, error) {
	return e.resolver.LookupAddrsCached(ctx, host)
}

// IsPrivateIP reports whether address must not be probed. Anything that
// does not parse as a globally routable IP counts as private.
func (e *Engine) IsPrivateIP(address string) bool {
	return netutils.IsPrivateIP(address)
}

// VerifyDomain runs a single ownership check against domain with no
// fallback to other methods.
func (e *Engine) VerifyDomain(ctx context.Context, domain, token string, method verify.Method) verify.Result {
	return e.verifier.Verify(ctx, domain, token, method)
}

// VerifyDomainAll tries every ownership check in order and returns the
// first success.
func (e *Engine) VerifyDomainAll(ctx context.Context, domain, token string) verify.Result {
	return e.verifier.VerifyAll(ctx, domain, token)
}

// NewVerificationToken mints a fresh ownership token.
func (e *Engine) NewVerificationToken() (string, error) {
	return verify.GenerateToken()
}

// VerificationInstructions renders the setup steps a domain owner must
// take for one verification method.
func (e *Engine) VerificationInstructions(domain, token string, method verify.Method) (*verify.InstructionSet, error) {
	return verify.Instructions(domain, token, method)
}

// CheckProviders probes every DoH provider once and reports health and
// smoothed latency. Latency history is retained across calls.
func (e *Engine) CheckProviders(ctx context.Context) []doh.ProviderHealth {
	return e.health.CheckAll(ctx)
}

// StartGuard starts the SOCKS5 egress guard and returns its bound
// address. An empty addr falls back to the configured one. The guard
// stops when ctx is cancelled, and only one may run at a time.
func (e *Engine) StartGuard(ctx context.Context, addr string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.guard != nil {
		return "", fmt.Errorf("guard already running on %s", e.guard.Addr())
	}
	if addr == "" {
		addr = e.config.Guard.Addr
	}

	guard, err := proxy.New(proxy.Config{
		Resolver:          e.resolver,
		AllowedPorts:      e.config.Guard.AllowedPorts,
		MaxDialsPerSecond: e.config.Guard.MaxDialsPerSecond,
		Logger:            e.logger,
	})
	if err != nil {
		return "", fmt.Errorf("building egress guard: %w", err)
	}
	if err := guard.Start(addr); err != nil {
		return "", err
	}
	e.guard = guard

	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			if err := e.stopGuard(); err != nil {
				e.logger.Warn("stopping guard after context cancellation", "error", err)
			}
		}()
	}
	return guard.Addr(), nil
}

// Stop shuts down the guard when one is running. Fetch and verify
// operations carry their own lifetimes and are unaffected.
func (e *Engine) Stop() error {
	return e.stopGuard()
}

func (e *Engine) stopGuard() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.guard == nil {
		return nil
	}
	err := e.guard.Stop()
	e.guard = nil
	return err
}

// Status describes the engine state.
func (e *Engine) Status() (string, error) {
	e.mu.Lock()
	guard := e.guard
	e.mu.Unlock()

	if guard != nil {
		if addr := guard.Addr(); addr != "" {
			return fmt.Sprintf("Guard running on %s", addr), nil
		}
	}
	return "Guard stopped", nil
}
