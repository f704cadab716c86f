package fetch

import (
	"net/http"
	"strings"
	"time"

	"github.com/domainstack/probekit/core/transport"
)

const (
	// DefaultTimeout bounds a whole fetch, redirects and body included.
	DefaultTimeout = 8 * time.Second
	// DefaultMaxBytes is the response body ceiling.
	DefaultMaxBytes int64 = 15 << 20
	// DefaultMaxRedirects is how many redirects a fetch may follow.
	DefaultMaxRedirects = 3
	// DefaultUserAgent identifies this module's probes.
	DefaultUserAgent = "probekit/1.0"
)

// Options tune a single fetch. Construct with NewOptions and adjust;
// a literal Options{} means "GET with no redirects", not the defaults.
type Options struct {
	// Method defaults to GET.
	Method string
	// CurrentURL is the base a relative target URL resolves against.
	// Without it, only absolute URLs are accepted.
	CurrentURL string
	// Headers are set on every hop.
	Headers map[string]string
	// Timeout bounds the whole fetch including redirects and body reads.
	Timeout time.Duration
	// MaxBytes caps the response body size in bytes.
	MaxBytes int64
	// MaxRedirects is how many redirects may be followed. Zero refuses
	// the first redirect.
	MaxRedirects int
	// AllowHTTP permits plain http URLs. Off unless set.
	AllowHTTP bool
	// AllowedHosts, when non-empty, is a case-insensitive hostname
	// allowlist that every hop must match.
	AllowedHosts []string
	// ReturnOnDisallowedRedirect delivers a redirect pointing outside
	// AllowedHosts as the final result instead of failing.
	ReturnOnDisallowedRedirect bool
	// FallbackToGetOnHeadFailure retries a HEAD refused with 405 as a
	// single GET restarted from the original URL.
	FallbackToGetOnHeadFailure bool
	// TruncateOnLimit returns the first MaxBytes of an oversized body
	// with Result.Truncated set instead of failing.
	TruncateOnLimit bool
	// UserAgent overrides DefaultUserAgent.
	UserAgent string
	// TLS selects the client TLS presentation for https hops.
	TLS transport.ClientTLS
}

// NewOptions returns Options with the package defaults filled in.
func NewOptions() *Options {
	return &Options{
		Method:       http.MethodGet,
		Timeout:      DefaultTimeout,
		MaxBytes:     DefaultMaxBytes,
		MaxRedirects: DefaultMaxRedirects,
		UserAgent:    DefaultUserAgent,
	}
}

// sanitized returns a copy with the gaps filled, so later hops see
// stable settings even if the caller mutates opts. nil gets the full
// defaults.
func (o *Options) sanitized() Options {
	var out Options
	if o == nil {
		out = *NewOptions()
	} else {
		out = *o
	}
	out.Method = strings.ToUpper(strings.TrimSpace(out.Method))
	if out.Method == "" {
		out.Method = http.MethodGet
	}
	if out.Timeout <= 0 {
		out.Timeout = DefaultTimeout
	}
	if out.MaxBytes <= 0 {
		out.MaxBytes = DefaultMaxBytes
	}
	if out.MaxRedirects < 0 {
		out.MaxRedirects = 0
	}
	if out.UserAgent == "" {
		out.UserAgent = DefaultUserAgent
	}
	return out
}
