package verify

import (
	"context"
	"strings"

	"github.com/domainstack/probekit/pkg/doh"
)

// verifyDNS looks for a TXT record equal to the prefixed token. The
// apex is checked first, then the legacy underscore subdomain, each
// against every provider in rotation order with cache busting so a
// freshly published record is seen. One provider failing must not
// mask a record another provider can see.
func (v *Verifier) verifyDNS(ctx context.Context, domain, token string) Result {
	expected := txtRecordPrefix + token
	hostnames := []string{domain, legacyTXTLabel + "." + domain}

	for _, hostname := range hostnames {
		for _, p := range v.resolver.ProviderOrder(hostname) {
			if ctx.Err() != nil {
				return Result{Detail: "cancelled"}
			}
			values, err := v.lookupTXT(ctx, p, hostname)
			if err != nil {
				if doh.IsNoRecords(err) {
					v.logger.Debug("no TXT records",
						"domain", domain, "hostname", hostname, "provider", p.Key)
				} else {
					v.logger.Warn("TXT lookup failed",
						"domain", domain, "hostname", hostname, "provider", p.Key, "error", err)
				}
				continue
			}
			for _, raw := range values {
				if unquoteTXT(raw) == expected {
					v.logger.Info("domain verified by DNS TXT record",
						"domain", domain, "hostname", hostname, "provider", p.Key)
					return Result{Verified: true, Method: MethodDNSTXT}
				}
			}
		}
	}
	return Result{}
}

func (v *Verifier) lookupTXT(ctx context.Context, p doh.Provider, hostname string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	return v.resolver.LookupTXTVia(ctx, p, hostname, true)
}

// unquoteTXT strips the surrounding double quotes DoH JSON answers
// carry and trims whitespace, leaving the published value.
func unquoteTXT(raw string) string {
	s := strings.TrimSpace(raw)
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		s = s[1 : len(s)-1]
	}
	return strings.TrimSpace(s)
}
