// Package doh resolves hostnames over DNS-over-HTTPS JSON endpoints,
// never touching the operating system resolver. It is the only package
// in this module that is allowed to turn a name into an address.
package doh

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/sync/singleflight"

	"github.com/domainstack/probekit/pkg/logging"
	"github.com/domainstack/probekit/pkg/retry"
	"github.com/domainstack/probekit/pkg/securerandom"
)

const (
	// DefaultTimeout bounds a single DoH HTTP query.
	DefaultTimeout = 2 * time.Second
	// DefaultRetries is how many extra attempts a provider gets after a
	// transport failure before the resolver moves on to the next one.
	DefaultRetries = 1

	maxResponseBytes = 1 << 16
)

// Address is one resolved IP together with its address family.
type Address struct {
	IP net.IP
	// Family is 4 or 6.
	Family int
}

func (a Address) String() string {
	return a.IP.String()
}

// Options configures a Resolver. The zero value is usable; missing
// fields are filled with defaults by NewResolver.
type Options struct {
	// Providers to rotate across. Defaults to DefaultProviders().
	Providers []Provider
	// Timeout per DoH HTTP query. Defaults to DefaultTimeout.
	Timeout time.Duration
	// Retries per provider after a transport failure. Zero means "use
	// DefaultRetries"; a negative value disables retries entirely.
	Retries int
	// UserAgent is sent with every query when non-empty.
	UserAgent string
	// HTTPClient overrides the internal client, mainly for tests.
	HTTPClient *http.Client
	// CacheSize is the maximum number of hostnames kept in the answer
	// cache. Zero disables caching entirely.
	CacheSize int
	// CacheTTL caps how long a cached answer may be served. Answer TTLs
	// below 30 seconds are raised to 30 seconds, answers above CacheTTL
	// are clamped down to it. Defaults to 5 minutes when caching is on.
	CacheTTL time.Duration
	// Logger defaults to the process logger.
	Logger logging.Logger
}

// Resolver queries DoH providers in a deterministic per-hostname order.
// It is safe for concurrent use.
type Resolver struct {
	providers []Provider
	client    *http.Client
	timeout   time.Duration
	retries   int
	userAgent string
	logger    logging.Logger

	cache *answerCache
	group singleflight.Group
}

// NewResolver builds a Resolver from opts.
func NewResolver(opts Options) (*Resolver, error) {
	providers := opts.Providers
	if len(providers) == 0 {
		providers = DefaultProviders()
	}
	for _, p := range providers {
		if p.URL == "" {
			return nil, fmt.Errorf("doh: provider %q has no URL", p.Key)
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	retries := opts.Retries
	if retries == 0 {
		retries = DefaultRetries
	}
	if retries < 0 {
		retries = 0
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger()
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        4,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: timeout,
			},
		}
	}

	r := &Resolver{
		providers: providers,
		client:    client,
		timeout:   timeout,
		retries:   retries,
		userAgent: opts.UserAgent,
		logger:    logger.With("component", "doh"),
	}

	if opts.CacheSize > 0 {
		ttl := opts.CacheTTL
		if ttl <= 0 {
			ttl = defaultCacheTTL
		}
		cache, err := newAnswerCache(opts.CacheSize, ttl)
		if err != nil {
			return nil, fmt.Errorf("doh: building answer cache: %w", err)
		}
		r.cache = cache
	}
	return r, nil
}

// Providers returns the catalog in catalog order.
func (r *Resolver) Providers() []Provider {
	out := make([]Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

// ProviderOrder returns the providers in the order they would be tried
// for hostname. The order is a rotation of the catalog starting at an
// index derived from the lowercased hostname, so repeated lookups of the
// same name hit the same provider first.
func (r *Resolver) ProviderOrder(hostname string) []Provider {
	start := rotationStart(hostname, len(r.providers))
	out := make([]Provider, 0, len(r.providers))
	for i := range r.providers {
		out = append(out, r.providers[(start+i)%len(r.providers)])
	}
	return out
}

// Lookup resolves hostname and returns the first address.
func (r *Resolver) Lookup(ctx context.Context, hostname string) (Address, error) {
	addrs, err := r.LookupAddrs(ctx, hostname)
	if err != nil {
		return Address{}, err
	}
	return addrs[0], nil
}

// LookupAddrs resolves hostname to all of its A and AAAA addresses.
// Providers are tried in ProviderOrder; the first provider that returns
// at least one record wins. A provider that answers cleanly with zero
// records triggers fallback to the next provider, and if every provider
// agrees the name is empty the returned error matches ErrNoRecords.
func (r *Resolver) LookupAddrs(ctx context.Context, hostname string) ([]Address, error) {
	addrs, _, err := r.lookupAddrsTTL(ctx, hostname)
	return addrs, err
}

// LookupAddrsCached is LookupAddrs behind the answer cache. Concurrent
// lookups for the same hostname are collapsed into a single upstream
// query. When caching is disabled it degrades to LookupAddrs.
func (r *Resolver) LookupAddrsCached(ctx context.Context, hostname string) ([]Address, error) {
	key := strings.ToLower(hostname)
	if r.cache == nil {
		return r.LookupAddrs(ctx, key)
	}
	if addrs, ok := r.cache.get(key); ok {
		return addrs, nil
	}
	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		if addrs, ok := r.cache.get(key); ok {
			return addrs, nil
		}
		addrs, minTTL, err := r.lookupAddrsTTL(ctx, key)
		if err != nil {
			return nil, err
		}
		r.cache.set(key, addrs, minTTL)
		return addrs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Address), nil
}

// LookupTXTVia queries a single provider for the TXT records of name and
// returns their data fields with surrounding quotes intact. The caller
// chooses the provider so it can attribute results per provider; pass
// cacheBust to defeat provider-side caching of freshly created records.
func (r *Resolver) LookupTXTVia(ctx context.Context, p Provider, name string, cacheBust bool) ([]string, error) {
	answers, err := r.queryRecords(ctx, p, name, dns.TypeTXT, cacheBust)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, ans := range answers {
		if ans.Type == dns.TypeTXT {
			out = append(out, ans.Data)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("doh: no TXT records for %s from %s: %w", name, p.Key, ErrNoRecords)
	}
	return out, nil
}

func (r *Resolver) lookupAddrsTTL(ctx context.Context, hostname string) ([]Address, time.Duration, error) {
	if len(r.providers) == 0 {
		return nil, 0, ErrNoProviders
	}

	retryCfg := retry.Config{
		Attempts:  r.retries + 1,
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  time.Second,
	}

	var lastErr error
	for _, p := range r.ProviderOrder(hostname) {
		p := p
		res, err := retry.DoValue(ctx, retryCfg, func(ctx context.Context) (addrResult, error) {
			res, qerr := r.queryAddrsVia(ctx, p, hostname)
			if qerr != nil && IsNoRecords(qerr) {
				// A clean empty answer is not a transport failure, so
				// asking the same provider again cannot help.
				return addrResult{}, retry.Permanent(qerr)
			}
			return res, qerr
		})
		if err == nil {
			r.logger.Debug("resolved hostname",
				"hostname", hostname, "provider", p.Key, "addresses", len(res.addrs))
			return res.addrs, minTTLOr(res.minTTL), nil
		}
		if IsNoRecords(err) {
			r.logger.Debug("provider returned no records",
				"hostname", hostname, "provider", p.Key)
		} else {
			r.logger.Warn("provider lookup failed",
				"hostname", hostname, "provider", p.Key, "error", err)
		}
		lastErr = err
	}
	return nil, 0, fmt.Errorf("doh: all providers failed for %s: %w", hostname, lastErr)
}

type addrResult struct {
	addrs  []Address
	minTTL time.Duration
}

// queryAddrsVia issues parallel A and AAAA queries against one provider
// and joins the results. An empty answer for one record type is fine as
// long as the other has records; zero records across both types is the
// ErrNoRecords case. When one query fails in transit and the other comes
// back empty, the transport error wins so the attempt stays retryable.
func (r *Resolver) queryAddrsVia(ctx context.Context, p Provider, hostname string) (addrResult, error) {
	type typeResult struct {
		answers []dnsAnswer
		err     error
	}

	qtypes := []uint16{dns.TypeA, dns.TypeAAAA}
	results := make([]typeResult, len(qtypes))

	var wg sync.WaitGroup
	for i, qtype := range qtypes {
		wg.Add(1)
		go func(i int, qtype uint16) {
			defer wg.Done()
			answers, err := r.queryRecords(ctx, p, hostname, qtype, false)
			results[i] = typeResult{answers: answers, err: err}
		}(i, qtype)
	}
	wg.Wait()

	var (
		addrs  []Address
		minTTL time.Duration
		qerr   error
	)
	for i, qtype := range qtypes {
		res := results[i]
		if res.err != nil {
			qerr = res.err
			continue
		}
		for _, ans := range res.answers {
			if ans.Type != qtype {
				continue
			}
			ip := net.ParseIP(strings.TrimSpace(ans.Data))
			if ip == nil {
				r.logger.Debug("skipping unparseable answer",
					"provider", p.Key, "hostname", hostname, "data", ans.Data)
				continue
			}
			family := 6
			if ip.To4() != nil {
				family = 4
			}
			addrs = append(addrs, Address{IP: ip, Family: family})
			ttl := time.Duration(ans.TTL) * time.Second
			if minTTL == 0 || ttl < minTTL {
				minTTL = ttl
			}
		}
	}

	if len(addrs) == 0 {
		if qerr != nil {
			return addrResult{}, qerr
		}
		return addrResult{}, fmt.Errorf("doh: no records for %s from %s: %w", hostname, p.Key, ErrNoRecords)
	}
	return addrResult{addrs: addrs, minTTL: minTTL}, nil
}

// dnsAnswer is one answer object in the JSON body. The type code is the
// standard DNS numeric type (1 for A, 28 for AAAA, 16 for TXT).
type dnsAnswer struct {
	Name string `json:"name"`
	Type uint16 `json:"type"`
	TTL  uint32 `json:"TTL"`
	Data string `json:"data"`
}

// dnsResponse is the JSON body shared by the Cloudflare and Google APIs.
// Status carries the DNS rcode, not the HTTP status.
type dnsResponse struct {
	Status int         `json:"Status"`
	Answer []dnsAnswer `json:"Answer"`
}

// queryRecords performs one HTTP GET against a provider for a single
// record type and returns the raw answers.
func (r *Resolver) queryRecords(ctx context.Context, p Provider, name string, qtype uint16, cacheBust bool) ([]dnsAnswer, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	q := url.Values{}
	q.Set("name", name)
	q.Set("type", dns.TypeToString[qtype])
	if cacheBust {
		nonce, err := securerandom.Hex(8)
		if err == nil {
			q.Set("cb", nonce)
		}
	}

	reqURL := p.URL + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("doh: building request for %s: %w", p.Key, err)
	}
	req.Header.Set("Accept", "application/dns-json")
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("doh: query to %s failed: %w", p.Key, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("doh: %s returned HTTP %d", p.Key, resp.StatusCode)
	}

	var body dnsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return nil, fmt.Errorf("doh: decoding response from %s: %w", p.Key, err)
	}

	switch body.Status {
	case dns.RcodeSuccess:
		return body.Answer, nil
	case dns.RcodeNameError:
		return nil, nil
	default:
		return nil, fmt.Errorf("doh: %s returned DNS status %s", p.Key, dns.RcodeToString[body.Status])
	}
}

func minTTLOr(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return minCacheTTL
	}
	return ttl
}
