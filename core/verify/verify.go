// Package verify proves control of a domain through publishable
// artifacts: a DNS TXT record, a hosted file under /.well-known, or a
// meta tag on the root page. Every strategy is a best-effort probe
// against infrastructure the domain owner controls, so individual
// probe failures are logged and swallowed; an attempt always produces
// a Result and never an error.
package verify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/domainstack/probekit/core/fetch"
	"github.com/domainstack/probekit/pkg/doh"
	"github.com/domainstack/probekit/pkg/logging"
	"github.com/domainstack/probekit/pkg/netutils"
)

// Method names one verification strategy.
type Method string

const (
	MethodDNSTXT   Method = "dns_txt"
	MethodHTMLFile Method = "html_file"
	MethodMetaTag  Method = "meta_tag"
)

// Methods returns every strategy in the order VerifyAll tries them.
// DNS comes first as the most tamper-resistant and cheapest to check;
// the other two require fetching content the domain serves.
func Methods() []Method {
	return []Method{MethodDNSTXT, MethodHTMLFile, MethodMetaTag}
}

const (
	txtRecordPrefix   = "domainstack-verify="
	fileContentPrefix = "domainstack-verify: "
	metaTagName       = "domainstack-verify"
	legacyTXTLabel    = "_domainstack-verify"
	tokenFileDir      = "/.well-known/domainstack-verify/"
	legacyFilePath    = "/.well-known/domainstack-verify.html"
)

// DefaultProbeTimeout bounds each individual probe, one DNS query or
// one candidate-URL fetch.
const DefaultProbeTimeout = 5 * time.Second

// Result is the outcome of a verification attempt. Method is set only
// when Verified is true. Detail carries a short reason when the
// attempt could not run at all, such as an unknown method.
type Result struct {
	Verified bool
	Method   Method
	Detail   string
}

// TXTResolver is the slice of the DoH resolver the DNS strategy needs.
// *doh.Resolver satisfies it.
type TXTResolver interface {
	ProviderOrder(hostname string) []doh.Provider
	LookupTXTVia(ctx context.Context, p doh.Provider, name string, cacheBust bool) ([]string, error)
}

// Fetcher retrieves pages for the file and meta-tag strategies.
// *fetch.Fetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, opts *fetch.Options) (*fetch.Result, error)
}

// Config assembles a Verifier.
type Config struct {
	// Resolver and Fetcher are required.
	Resolver TXTResolver
	Fetcher  Fetcher
	// ProbeTimeout defaults to DefaultProbeTimeout.
	ProbeTimeout time.Duration
	// Logger defaults to the process logger.
	Logger logging.Logger
}

// Verifier runs ownership checks. It is safe for concurrent use.
type Verifier struct {
	resolver TXTResolver
	fetcher  Fetcher
	timeout  time.Duration
	logger   logging.Logger
}

// New builds a Verifier from cfg.
func New(cfg Config) (*Verifier, error) {
	if cfg.Resolver == nil {
		return nil, errors.New("verify: a resolver is required")
	}
	if cfg.Fetcher == nil {
		return nil, errors.New("verify: a fetcher is required")
	}
	timeout := cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Verifier{
		resolver: cfg.Resolver,
		fetcher:  cfg.Fetcher,
		timeout:  timeout,
		logger:   logger.With("component", "verify"),
	}, nil
}

// Verify runs exactly one strategy against domain with no fallback,
// for re-checks that already know which method succeeded before.
func (v *Verifier) Verify(ctx context.Context, domain, token string, method Method) Result {
	domain, token, res, ok := v.prepare(domain, token)
	if !ok {
		return res
	}
	switch method {
	case MethodDNSTXT:
		return v.verifyDNS(ctx, domain, token)
	case MethodHTMLFile:
		return v.verifyHTMLFile(ctx, domain, token)
	case MethodMetaTag:
		return v.verifyMetaTag(ctx, domain, token)
	default:
		v.logger.Warn("unknown verification method", "method", string(method), "domain", domain)
		return Result{Detail: "unknown verification method"}
	}
}

// VerifyAll tries every strategy in order and returns the first
// success. All three failing yields an unverified Result, never an
// error.
func (v *Verifier) VerifyAll(ctx context.Context, domain, token string) Result {
	domain, token, res, ok := v.prepare(domain, token)
	if !ok {
		return res
	}
	strategies := []struct {
		method Method
		run    func(context.Context, string, string) Result
	}{
		{MethodDNSTXT, v.verifyDNS},
		{MethodHTMLFile, v.verifyHTMLFile},
		{MethodMetaTag, v.verifyMetaTag},
	}
	for _, s := range strategies {
		if res := s.run(ctx, domain, token); res.Verified {
			return res
		}
		if ctx.Err() != nil {
			v.logger.Debug("verification cancelled", "domain", domain, "after", string(s.method))
			return Result{Detail: "cancelled"}
		}
	}
	v.logger.Info("domain could not be verified by any method", "domain", domain)
	return Result{}
}

// prepare normalizes the inputs. A domain that does not survive
// normalization or an empty token cannot be probed at all.
func (v *Verifier) prepare(domain, token string) (string, string, Result, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "", Result{Detail: "empty token"}, false
	}
	normalized, err := netutils.NormalizeHost(domain)
	if err != nil {
		v.logger.Warn("refusing to verify unnormalizable domain", "domain", domain, "error", err)
		return "", "", Result{Detail: "invalid domain"}, false
	}
	if _, ok := dns.IsDomainName(normalized); !ok {
		v.logger.Warn("refusing to verify invalid domain name", "domain", domain)
		return "", "", Result{Detail: "invalid domain"}, false
	}
	return normalized, token, Result{}, true
}
