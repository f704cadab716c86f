// Package probekit bundles SSRF-resistant fetching, DNS-over-HTTPS
// resolution, and domain-ownership verification behind a single engine.
package probekit

import (
	"context"

	"github.com/domainstack/probekit/core"
	"github.com/domainstack/probekit/core/config"
	"github.com/domainstack/probekit/core/fetch"
	"github.com/domainstack/probekit/core/verify"
	"github.com/domainstack/probekit/interfaces"
	"github.com/domainstack/probekit/pkg/doh"
	"github.com/domainstack/probekit/pkg/logging"
)

// Engine wraps the core engine behind the public interface.
type Engine struct {
	coreEngine *core.Engine
}

// NewEngine creates a new engine instance. A nil cfg uses the defaults
// and a nil logger uses the process logger.
func NewEngine(cfg *config.FileConfig, logger logging.Logger) (interfaces.Engine, error) {
	coreEngine, err := core.NewEngine(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Engine{coreEngine: coreEngine}, nil
}

// SafeFetch retrieves rawURL under the egress policy.
func (e *Engine) SafeFetch(ctx context.Context, rawURL string, opts *fetch.Options) (*fetch.Result, error) {
	return e.coreEngine.SafeFetch(ctx, rawURL, opts)
}

// FetchOptions returns fetch options primed from the configuration.
func (e *Engine) FetchOptions() *fetch.Options {
	return e.coreEngine.FetchOptions()
}

// ResolveHost resolves host over DoH and returns its first address.
func (e *Engine) ResolveHost(ctx context.Context, host string) (doh.Address, error) {
	return e.coreEngine.ResolveHost(ctx, host)
}

// ResolveHostAll resolves host over DoH to every A and AAAA address.
func (e *Engine) ResolveHostAll(ctx context.Context, host string) ([]doh.Address, error) {
	return e.coreEngine.ResolveHostAll(ctx, host)
}

// IsPrivateIP reports whether address must not be probed.
func (e *Engine) IsPrivateIP(address string) bool {
	return e.coreEngine.IsPrivateIP(address)
}

// VerifyDomain runs a single ownership check with no fallback.
func (e *Engine) VerifyDomain(ctx context.Context, domain, token string, method verify.Method) verify.Result {
	return e.coreEngine.VerifyDomain(ctx, domain, token, method)
}

// VerifyDomainAll tries every ownership check in order.
func (e *Engine) VerifyDomainAll(ctx context.Context, domain, token string) verify.Result {
	return e.coreEngine.VerifyDomainAll(ctx, domain, token)
}

// NewVerificationToken mints a fresh ownership token.
func (e *Engine) NewVerificationToken() (string, error) {
	return e.coreEngine.NewVerificationToken()
}

// VerificationInstructions renders the setup steps for one method.
func (e *Engine) VerificationInstructions(domain, token string, method verify.Method) (*verify.InstructionSet, error) {
	return e.coreEngine.VerificationInstructions(domain, token, method)
}

// CheckProviders probes every DoH provider once.
func (e *Engine) CheckProviders(ctx context.Context) []doh.ProviderHealth {
	return e.coreEngine.CheckProviders(ctx)
}

// StartGuard starts the SOCKS5 egress guard on addr.
func (e *Engine) StartGuard(ctx context.Context, addr string) (string, error) {
	return e.coreEngine.StartGuard(ctx, addr)
}

// Stop gracefully stops the engine.
func (e *Engine) Stop() error {
	return e.coreEngine.Stop()
}

// Status returns the current operational status of the engine.
func (e *Engine) Status() (string, error) {
	return e.coreEngine.Status()
}
