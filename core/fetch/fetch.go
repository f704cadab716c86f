// Package fetch performs hardened HTTP fetches for probing untrusted
// URLs. Every hop of a redirect chain is validated against scheme,
// hostname, and address policy; hostnames resolve over DoH, never the
// system resolver; and each connection is pinned to the address that
// passed validation.
package fetch

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"

	"github.com/domainstack/probekit/core/transport"
	"github.com/domainstack/probekit/pkg/doh"
	"github.com/domainstack/probekit/pkg/logging"
)

// AddrResolver turns hostnames into vetted addresses. *doh.Resolver
// satisfies it.
type AddrResolver interface {
	LookupAddrsCached(ctx context.Context, hostname string) ([]doh.Address, error)
}

// Config assembles a Fetcher.
type Config struct {
	// Resolver is required.
	Resolver AddrResolver
	// Dialer defaults to a plain TCP dialer with debug logging.
	Dialer transport.Dialer
	// RootCAs defaults to the system pool.
	RootCAs *x509.CertPool
	// Logger defaults to the process logger.
	Logger logging.Logger
}

// Fetcher runs policy-checked fetches. It is safe for concurrent use.
type Fetcher struct {
	resolver AddrResolver
	dialer   transport.Dialer
	rootCAs  *x509.CertPool
	logger   logging.Logger
}

// New builds a Fetcher from cfg.
func New(cfg Config) (*Fetcher, error) {
	if cfg.Resolver == nil {
		return nil, errors.New("fetch: a resolver is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetLogger()
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = transport.LoggingMiddleware(logger)(transport.NewTCPDialer(&transport.Config{}))
	}
	return &Fetcher{
		resolver: cfg.Resolver,
		dialer:   dialer,
		rootCAs:  cfg.RootCAs,
		logger:   logger.With("component", "fetch"),
	}, nil
}

// Result is what a completed fetch delivers. OK mirrors HTTP success
// (2xx); error statuses are delivered as results, not errors.
type Result struct {
	OK     bool
	Status int
	// ContentType is the Content-Type header, empty when absent.
	ContentType string
	Headers     http.Header
	Body        []byte
	FinalURL    string
	Truncated   bool
}

// Fetch retrieves rawURL subject to the per-hop policy. Redirects are
// followed manually so each target is re-validated; when enabled, a
// HEAD refused with 405 is retried once as GET from the original URL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, opts *Options) (*Result, error) {
	o := opts.sanitized()

	ctx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()

	originalURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, wrapError(CodeInvalidURL, err, "parsing %q", rawURL)
	}
	if !originalURL.IsAbs() && o.CurrentURL != "" {
		base, err := url.Parse(o.CurrentURL)
		if err != nil {
			return nil, wrapError(CodeInvalidURL, err, "parsing base URL %q", o.CurrentURL)
		}
		originalURL = base.ResolveReference(originalURL)
	}

	plan, err := f.vetURL(ctx, originalURL, o)
	if err != nil {
		return nil, err
	}
	originalPlan := plan

	method := o.Method
	hops := 0
	headFellBack := false

	for {
		resp, err := f.roundTrip(ctx, method, plan, o)
		if err != nil {
			return nil, err
		}

		// A server that refuses HEAD outright gets one GET retry from
		// the top of the chain.
		if method == http.MethodHead && resp.StatusCode == http.StatusMethodNotAllowed &&
			o.FallbackToGetOnHeadFailure && !headFellBack {
			discard(resp)
			f.logger.Debug("HEAD refused with 405, retrying once as GET", "url", plan.url.String())
			method = http.MethodGet
			headFellBack = true
			plan = originalPlan
			hops = 0
			continue
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			if hops >= o.MaxRedirects {
				status := resp.StatusCode
				discard(resp)
				return nil, newError(CodeRedirectLimit,
					"stopping after %d redirects at %s", hops, plan.url.String()).withStatus(status)
			}
			location := resp.Header.Get("Location")
			if location == "" {
				status := resp.StatusCode
				discard(resp)
				return nil, newError(CodeInvalidResponse,
					"redirect from %s has no Location header", plan.url.String()).withStatus(status)
			}
			nextURL, err := plan.url.Parse(location)
			if err != nil {
				discard(resp)
				return nil, wrapError(CodeInvalidURL, err, "parsing redirect target %q", location)
			}
			if o.ReturnOnDisallowedRedirect && leavesAllowlist(nextURL, o.AllowedHosts) {
				f.logger.Debug("redirect leaves the allowlist, returning the redirect itself",
					"from", plan.url.String(), "target", location)
				return f.deliver(resp, plan, o)
			}
			discard(resp)
			nextPlan, err := f.vetURL(ctx, nextURL, o)
			if err != nil {
				return nil, err
			}
			f.logger.Debug("following redirect",
				"from", plan.url.String(), "to", nextPlan.url.String(), "hop", hops+1)
			plan = nextPlan
			hops++
			continue
		}

		return f.deliver(resp, plan, o)
	}
}

func (f *Fetcher) deliver(resp *http.Response, plan *hopPlan, o Options) (*Result, error) {
	defer func() { _ = resp.Body.Close() }()

	body, truncated, err := readBody(resp, o.MaxBytes, o.TruncateOnLimit)
	if err != nil {
		return nil, err
	}
	return &Result{
		OK:          resp.StatusCode >= 200 && resp.StatusCode < 300,
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Headers:     resp.Header,
		Body:        body,
		FinalURL:    plan.url.String(),
		Truncated:   truncated,
	}, nil
}

// roundTrip issues one request with the connection pinned to the vetted
// address. The request URL keeps the hostname so the Host header and
// certificate verification match what the caller asked for.
func (f *Fetcher) roundTrip(ctx context.Context, method string, plan *hopPlan, o Options) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, plan.url.String(), nil)
	if err != nil {
		return nil, wrapError(CodeInvalidURL, err, "building %s request for %s", method, plan.url.String())
	}
	req.Header.Set("User-Agent", o.UserAgent)
	for k, v := range o.Headers {
		req.Header.Set(k, v)
	}

	dialAddr := net.JoinHostPort(plan.addr.IP.String(), plan.port)
	f.logger.Debug("requesting", "method", method, "url", plan.url.String(), "addr", dialAddr)

	if plan.url.Scheme == "https" && o.TLS.Library == "utls" {
		resp, err := f.roundTripUTLS(ctx, req, dialAddr, plan.hostname, o)
		if err != nil {
			return nil, wrapError(CodeInvalidResponse, err, "request to %s failed", plan.url.String())
		}
		return resp, nil
	}

	tr := &http.Transport{
		Proxy:             nil,
		DisableKeepAlives: true,
		ForceAttemptHTTP2: true,
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			return f.dialer.DialContext(ctx, network, dialAddr)
		},
		TLSClientConfig: &tls.Config{
			ServerName: plan.hostname,
			RootCAs:    f.rootCAs,
			MinVersion: tls.VersionTLS12,
		},
	}
	resp, err := tr.RoundTrip(req)
	if err != nil {
		return nil, wrapError(CodeInvalidResponse, err, "request to %s failed", plan.url.String())
	}
	return resp, nil
}

// roundTripUTLS dials and handshakes by hand so the ClientHello comes
// from the configured browser profile, then speaks whatever protocol the
// server agreed to: h2 through an explicit client conn, HTTP/1.1 through
// a one-shot transport that reuses the handshaken connection.
func (f *Fetcher) roundTripUTLS(ctx context.Context, req *http.Request, dialAddr, hostname string, o Options) (*http.Response, error) {
	raw, err := f.dialer.DialContext(ctx, "tcp", dialAddr)
	if err != nil {
		return nil, err
	}
	tlsConn, err := transport.TLSClient(ctx, raw, o.TLS, hostname, f.rootCAs)
	if err != nil {
		return nil, err
	}

	if uconn, ok := tlsConn.(*utls.UConn); ok && uconn.ConnectionState().NegotiatedProtocol == "h2" {
		h2 := &http2.Transport{}
		cc, err := h2.NewClientConn(tlsConn)
		if err != nil {
			_ = tlsConn.Close()
			return nil, err
		}
		return cc.RoundTrip(req)
	}

	used := false
	tr := &http.Transport{
		DisableKeepAlives: true,
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if used {
				return nil, errors.New("fetch: handshaken connection already consumed")
			}
			used = true
			return tlsConn, nil
		},
	}
	return tr.RoundTrip(req)
}

// discard drains a little of resp.Body before closing so the transport
// can tear the connection down cleanly.
func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
