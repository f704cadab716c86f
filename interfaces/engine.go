package interfaces

import (
	"context"

	"github.com/domainstack/probekit/core/fetch"
	"github.com/domainstack/probekit/core/verify"
	"github.com/domainstack/probekit/pkg/doh"
)

// Engine defines the public interface of the probe kit.
type Engine interface {
	// SafeFetch retrieves rawURL under the egress policy. A nil opts
	// uses the configuration defaults.
	SafeFetch(ctx context.Context, rawURL string, opts *fetch.Options) (*fetch.Result, error)
	// FetchOptions returns fetch options primed from the configuration.
	FetchOptions() *fetch.Options
	// ResolveHost resolves host over DoH and returns its first address.
	ResolveHost(ctx context.Context, host string) (doh.Address, error)
	// ResolveHostAll resolves host over DoH to every A and AAAA address.
	ResolveHostAll(ctx context.Context, host string) ([]doh.Address, error)
	// IsPrivateIP reports whether address must not be probed.
	IsPrivateIP(address string) bool
	// VerifyDomain runs a single ownership check with no fallback.
	VerifyDomain(ctx context.Context, domain, token string, method verify.Method) verify.Result
	// VerifyDomainAll tries every ownership check in order.
	VerifyDomainAll(ctx context.Context, domain, token string) verify.Result
	// NewVerificationToken mints a fresh ownership token.
	NewVerificationToken() (string, error)
	// VerificationInstructions renders the setup steps for one method.
	VerificationInstructions(domain, token string, method verify.Method) (*verify.InstructionSet, error)
	// CheckProviders probes every DoH provider once.
	CheckProviders(ctx context.Context) []doh.ProviderHealth
	// StartGuard starts the SOCKS5 egress guard on addr and returns the
	// bound address.
	StartGuard(ctx context.Context, addr string) (string, error)
	// Stop gracefully stops the engine.
	Stop() error
	// Status returns the current operational status of the engine.
	Status() (string, error)
}
