package doh

import (
	"hash/fnv"
	"strings"
)

// Provider describes a single DNS-over-HTTPS endpoint speaking the JSON
// API (RFC 8484's JSON cousin, as served by Cloudflare and Google).
type Provider struct {
	// Key is a short stable identifier used in logs and health reports.
	Key string
	// URL is the query endpoint, e.g. "https://cloudflare-dns.com/dns-query".
	// Query parameters are appended by the resolver.
	URL string
	// Headers are sent verbatim with every request to this provider.
	Headers map[string]string
}

// DefaultProviders returns the built-in provider catalog. The order here
// is only the catalog order; per-lookup order is decided by ProviderOrder.
func DefaultProviders() []Provider {
	return []Provider{
		{
			Key: "cloudflare",
			URL: "https://cloudflare-dns.com/dns-query",
			Headers: map[string]string{
				"Accept": "application/dns-json",
			},
		},
		{
			Key: "google",
			URL: "https://dns.google/resolve",
			Headers: map[string]string{
				"Accept": "application/dns-json",
			},
		},
	}
}

// rotationStart picks the starting index into the provider list for a
// hostname. The same hostname always lands on the same provider first,
// which keeps cache behaviour stable while still spreading distinct
// hostnames across the catalog.
func rotationStart(hostname string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(hostname)))
	return int(h.Sum32() % uint32(n))
}
