package doh

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domainstack/probekit/pkg/logging"
)

type recordedQuery struct {
	params url.Values
	header http.Header
}

// fakeProvider is a scriptable DoH JSON endpoint.
type fakeProvider struct {
	mu        sync.Mutex
	queries   []recordedQuery
	failFirst int                    // answer HTTP 500 to this many initial requests
	rcode     int                    // DNS status for every answer
	answers   map[string][]dnsAnswer // keyed by the textual query type
}

func (f *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.queries = append(f.queries, recordedQuery{params: r.URL.Query(), header: r.Header.Clone()})
	failing := len(f.queries) <= f.failFirst
	answers := f.answers[r.URL.Query().Get("type")]
	rcode := f.rcode
	f.mu.Unlock()

	if failing {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/dns-json")
	_ = json.NewEncoder(w).Encode(dnsResponse{Status: rcode, Answer: answers})
}

func (f *fakeProvider) hitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func (f *fakeProvider) recorded() []recordedQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedQuery, len(f.queries))
	copy(out, f.queries)
	return out
}

func aAnswer(name, ip string, ttl uint32) dnsAnswer {
	return dnsAnswer{Name: name, Type: dns.TypeA, TTL: ttl, Data: ip}
}

func aaaaAnswer(name, ip string, ttl uint32) dnsAnswer {
	return dnsAnswer{Name: name, Type: dns.TypeAAAA, TTL: ttl, Data: ip}
}

func serveProvider(t *testing.T, key string, fake *fakeProvider) Provider {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return Provider{Key: key, URL: srv.URL + "/dns-query"}
}

func newTestResolver(t *testing.T, opts Options) *Resolver {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	r, err := NewResolver(opts)
	require.NoError(t, err)
	return r
}

// hostWithRotationStart finds a hostname whose deterministic rotation
// lands on the wanted provider index, so tests control which provider is
// tried first without depending on hash values.
func hostWithRotationStart(t *testing.T, want, n int) string {
	t.Helper()
	for i := 0; i < 10000; i++ {
		h := fmt.Sprintf("host%d.test", i)
		if rotationStart(h, n) == want {
			return h
		}
	}
	t.Fatal("no hostname found for rotation start")
	return ""
}

func TestDefaultProviders(t *testing.T) {
	providers := DefaultProviders()
	require.Len(t, providers, 2)
	assert.Equal(t, "cloudflare", providers[0].Key)
	assert.Equal(t, "https://cloudflare-dns.com/dns-query", providers[0].URL)
	assert.Equal(t, "google", providers[1].Key)
	assert.Equal(t, "https://dns.google/resolve", providers[1].URL)
	for _, p := range providers {
		assert.Equal(t, "application/dns-json", p.Headers["Accept"])
	}
}

func TestNewResolverDefaults(t *testing.T) {
	r := newTestResolver(t, Options{})
	require.Len(t, r.Providers(), 2)
	assert.Equal(t, DefaultTimeout, r.timeout)
	assert.Equal(t, DefaultRetries, r.retries)
	assert.Nil(t, r.cache)
}

func TestNewResolverRejectsBlankProviderURL(t *testing.T) {
	_, err := NewResolver(Options{Providers: []Provider{{Key: "broken"}}, Logger: logging.NewNop()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestProviderOrderDeterministic(t *testing.T) {
	r := newTestResolver(t, Options{})

	first := r.ProviderOrder("Example.COM")
	second := r.ProviderOrder("example.com")
	require.Equal(t, first, second, "order must not depend on case")

	keys := map[string]bool{}
	for _, p := range first {
		keys[p.Key] = true
	}
	assert.Len(t, keys, 2, "rotation must include every provider exactly once")

	// Distinct hostnames should not all start at the same provider.
	starts := map[int]bool{}
	for i := 0; i < 100; i++ {
		starts[rotationStart(fmt.Sprintf("host%d.example", i), 2)] = true
	}
	assert.Len(t, starts, 2)
}

func TestLookupAddrsJoinsFamilies(t *testing.T) {
	fake := &fakeProvider{answers: map[string][]dnsAnswer{
		"A":    {aAnswer("dual.test.", "192.0.2.10", 300)},
		"AAAA": {aaaaAnswer("dual.test.", "2001:db8::10", 300)},
	}}
	r := newTestResolver(t, Options{
		Providers: []Provider{serveProvider(t, "p0", fake)},
		UserAgent: "probekit-test/1",
	})

	addrs, err := r.LookupAddrs(context.Background(), "dual.test")
	require.NoError(t, err)
	require.Len(t, addrs, 2)

	families := map[int]string{}
	for _, a := range addrs {
		families[a.Family] = a.IP.String()
	}
	assert.Equal(t, "192.0.2.10", families[4])
	assert.Equal(t, "2001:db8::10", families[6])

	queries := fake.recorded()
	require.Len(t, queries, 2)
	types := map[string]bool{}
	for _, q := range queries {
		types[q.params.Get("type")] = true
		assert.Equal(t, "dual.test", q.params.Get("name"))
		assert.Equal(t, "application/dns-json", q.header.Get("Accept"))
		assert.Equal(t, "probekit-test/1", q.header.Get("User-Agent"))
	}
	assert.True(t, types["A"] && types["AAAA"], "expected parallel A and AAAA queries, saw %v", types)
}

func TestLookupAddrsSkipsNonAddressAnswers(t *testing.T) {
	fake := &fakeProvider{answers: map[string][]dnsAnswer{
		"A": {
			{Name: "alias.test.", Type: dns.TypeCNAME, TTL: 60, Data: "canonical.test."},
			{Name: "canonical.test.", Type: dns.TypeA, TTL: 60, Data: "not-an-ip"},
			aAnswer("canonical.test.", "198.51.100.7", 60),
		},
	}}
	r := newTestResolver(t, Options{Providers: []Provider{serveProvider(t, "p0", fake)}})

	addrs, err := r.LookupAddrs(context.Background(), "alias.test")
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	assert.Equal(t, "198.51.100.7", addrs[0].IP.String())
}

func TestLookupAddrsSingleFamilyIsEnough(t *testing.T) {
	fake := &fakeProvider{answers: map[string][]dnsAnswer{
		"AAAA": {aaaaAnswer("v6only.test.", "2001:db8::6", 120)},
	}}
	r := newTestResolver(t, Options{Providers: []Provider{serveProvider(t, "p0", fake)}})

	addrs, err := r.LookupAddrs(context.Background(), "v6only.test")
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	assert.Equal(t, 6, addrs[0].Family)
}

func TestLookupAddrsFallsBackOnTransportFailure(t *testing.T) {
	broken := &fakeProvider{failFirst: 1 << 30}
	working := &fakeProvider{answers: map[string][]dnsAnswer{
		"A": {aAnswer("x.", "203.0.113.5", 60)},
	}}
	providers := []Provider{serveProvider(t, "first", broken), serveProvider(t, "second", working)}
	r := newTestResolver(t, Options{Providers: providers, Retries: -1})

	host := hostWithRotationStart(t, 0, 2)
	addrs, err := r.LookupAddrs(context.Background(), host)
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	assert.Equal(t, "203.0.113.5", addrs[0].IP.String())
	assert.Equal(t, 2, broken.hitCount(), "broken provider gets exactly one A and one AAAA query")
	assert.Equal(t, 2, working.hitCount())
}

func TestLookupAddrsRetriesTransportFailures(t *testing.T) {
	// First attempt's A and AAAA both fail, the retry succeeds.
	fake := &fakeProvider{
		failFirst: 2,
		answers:   map[string][]dnsAnswer{"A": {aAnswer("x.", "192.0.2.33", 60)}},
	}
	r := newTestResolver(t, Options{Providers: []Provider{serveProvider(t, "p0", fake)}, Retries: 1})

	addrs, err := r.LookupAddrs(context.Background(), "retry.test")
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	assert.Equal(t, 4, fake.hitCount(), "expected two attempts of two queries each")
}

func TestLookupAddrsDoesNotRetryEmptyAnswers(t *testing.T) {
	empty := &fakeProvider{}
	working := &fakeProvider{answers: map[string][]dnsAnswer{
		"A": {aAnswer("x.", "192.0.2.44", 60)},
	}}
	providers := []Provider{serveProvider(t, "first", empty), serveProvider(t, "second", working)}
	r := newTestResolver(t, Options{Providers: providers, Retries: 3})

	host := hostWithRotationStart(t, 0, 2)
	addrs, err := r.LookupAddrs(context.Background(), host)
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	assert.Equal(t, 2, empty.hitCount(), "clean empty answers must not be retried against the same provider")
}

func TestLookupAddrsAllProvidersEmpty(t *testing.T) {
	providers := []Provider{
		serveProvider(t, "first", &fakeProvider{}),
		serveProvider(t, "second", &fakeProvider{}),
	}
	r := newTestResolver(t, Options{Providers: providers, Retries: -1})

	_, err := r.LookupAddrs(context.Background(), "nothing.test")
	require.Error(t, err)
	assert.True(t, IsNoRecords(err), "want the expected no-records classification, got %v", err)
}

func TestLookupAddrsNXDOMAINIsNoRecords(t *testing.T) {
	providers := []Provider{
		serveProvider(t, "first", &fakeProvider{rcode: dns.RcodeNameError}),
		serveProvider(t, "second", &fakeProvider{rcode: dns.RcodeNameError}),
	}
	r := newTestResolver(t, Options{Providers: providers, Retries: -1})

	_, err := r.LookupAddrs(context.Background(), "missing.test")
	require.Error(t, err)
	assert.True(t, IsNoRecords(err))
}

func TestLookupAddrsTransportFailureIsNotNoRecords(t *testing.T) {
	providers := []Provider{
		serveProvider(t, "first", &fakeProvider{failFirst: 1 << 30}),
		serveProvider(t, "second", &fakeProvider{failFirst: 1 << 30}),
	}
	r := newTestResolver(t, Options{Providers: providers, Retries: -1})

	_, err := r.LookupAddrs(context.Background(), "down.test")
	require.Error(t, err)
	assert.False(t, IsNoRecords(err), "transport failures are unexpected errors, got %v", err)
}

func TestLookupAddrsSurfacesServfail(t *testing.T) {
	providers := []Provider{
		serveProvider(t, "first", &fakeProvider{rcode: dns.RcodeServerFailure}),
		serveProvider(t, "second", &fakeProvider{rcode: dns.RcodeServerFailure}),
	}
	r := newTestResolver(t, Options{Providers: providers, Retries: -1})

	_, err := r.LookupAddrs(context.Background(), "sick.test")
	require.Error(t, err)
	assert.False(t, IsNoRecords(err))
	assert.Contains(t, err.Error(), "SERVFAIL")
}

func TestLookupReturnsFirstAddress(t *testing.T) {
	fake := &fakeProvider{answers: map[string][]dnsAnswer{
		"A": {aAnswer("x.", "192.0.2.1", 60), aAnswer("x.", "192.0.2.2", 60)},
	}}
	r := newTestResolver(t, Options{Providers: []Provider{serveProvider(t, "p0", fake)}})

	addr, err := r.Lookup(context.Background(), "multi.test")
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.1", addr.IP.String())
}

func TestLookupTXTVia(t *testing.T) {
	fake := &fakeProvider{answers: map[string][]dnsAnswer{
		"TXT": {
			{Name: "claims.test.", Type: dns.TypeTXT, TTL: 60, Data: `"domainstack-verify=abc123"`},
			{Name: "claims.test.", Type: dns.TypeTXT, TTL: 60, Data: `"v=spf1 -all"`},
		},
	}}
	p := serveProvider(t, "p0", fake)
	r := newTestResolver(t, Options{Providers: []Provider{p}})

	records, err := r.LookupTXTVia(context.Background(), p, "claims.test", true)
	require.NoError(t, err)
	assert.Equal(t, []string{`"domainstack-verify=abc123"`, `"v=spf1 -all"`}, records)

	queries := fake.recorded()
	require.Len(t, queries, 1)
	assert.Equal(t, "TXT", queries[0].params.Get("type"))
	assert.Equal(t, "claims.test", queries[0].params.Get("name"))
	assert.NotEmpty(t, queries[0].params.Get("cb"), "cache busting parameter missing")
}

func TestLookupTXTViaNoCacheBust(t *testing.T) {
	fake := &fakeProvider{answers: map[string][]dnsAnswer{
		"TXT": {{Name: "x.", Type: dns.TypeTXT, TTL: 60, Data: `"hello"`}},
	}}
	p := serveProvider(t, "p0", fake)
	r := newTestResolver(t, Options{Providers: []Provider{p}})

	_, err := r.LookupTXTVia(context.Background(), p, "x.test", false)
	require.NoError(t, err)
	queries := fake.recorded()
	require.Len(t, queries, 1)
	assert.Empty(t, queries[0].params.Get("cb"))
}

func TestLookupTXTViaEmptyIsNoRecords(t *testing.T) {
	fake := &fakeProvider{}
	p := serveProvider(t, "p0", fake)
	r := newTestResolver(t, Options{Providers: []Provider{p}})

	_, err := r.LookupTXTVia(context.Background(), p, "empty.test", false)
	require.Error(t, err)
	assert.True(t, IsNoRecords(err))
}

func TestLookupAddrsCachedCollapsesUpstreamHits(t *testing.T) {
	fake := &fakeProvider{answers: map[string][]dnsAnswer{
		"A": {aAnswer("x.", "192.0.2.77", 300)},
	}}
	r := newTestResolver(t, Options{
		Providers: []Provider{serveProvider(t, "p0", fake)},
		CacheSize: 16,
	})

	first, err := r.LookupAddrsCached(context.Background(), "Cached.Test")
	require.NoError(t, err)
	second, err := r.LookupAddrsCached(context.Background(), "cached.test")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 2, fake.hitCount(), "second lookup must be served from cache")
}

func TestLookupAddrsCachedWithoutCache(t *testing.T) {
	fake := &fakeProvider{answers: map[string][]dnsAnswer{
		"A": {aAnswer("x.", "192.0.2.88", 300)},
	}}
	r := newTestResolver(t, Options{Providers: []Provider{serveProvider(t, "p0", fake)}})

	_, err := r.LookupAddrsCached(context.Background(), "nocache.test")
	require.NoError(t, err)
	_, err = r.LookupAddrsCached(context.Background(), "nocache.test")
	require.NoError(t, err)
	assert.Equal(t, 4, fake.hitCount(), "caching disabled, every lookup goes upstream")
}
