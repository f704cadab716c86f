package fetch

import (
	"context"
	"net"
	"net/url"
	"strings"

	"github.com/domainstack/probekit/pkg/doh"
	"github.com/domainstack/probekit/pkg/netutils"
)

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// hopPlan is the outcome of vetting one URL: the canonical URL, the
// hostname the TLS layer must verify, and the pinned address to dial.
type hopPlan struct {
	url      *url.URL
	hostname string
	port     string
	addr     doh.Address
}

// vetURL runs the full per-hop policy: scheme, hostname blocklist,
// caller allowlist, and address classification. Hostnames are resolved
// over DoH and every returned address must be globally routable; the
// connection is later pinned to the first one, so a post-check re-lookup
// can never steer the dial somewhere else.
func (f *Fetcher) vetURL(ctx context.Context, u *url.URL, opts Options) (*hopPlan, error) {
	if u == nil || !u.IsAbs() {
		return nil, newError(CodeInvalidURL, "URL must be absolute")
	}

	switch u.Scheme {
	case "https":
	case "http":
		if !opts.AllowHTTP {
			return nil, newError(CodeProtocolNotAllowed, "plain http is not allowed")
		}
	default:
		return nil, newError(CodeProtocolNotAllowed, "scheme %q is not allowed", u.Scheme)
	}

	if u.Host == "" {
		return nil, newError(CodeInvalidURL, "URL has no host")
	}

	hostname, err := netutils.NormalizeHost(u.Hostname())
	if err != nil {
		return nil, wrapError(CodeInvalidURL, err, "normalizing host %q", u.Hostname())
	}
	if netutils.IsBlockedHostname(hostname) {
		return nil, newError(CodeHostBlocked, "hostname %s is blocked", hostname)
	}
	if len(opts.AllowedHosts) > 0 && !hostAllowed(hostname, opts.AllowedHosts) {
		return nil, newError(CodeHostNotAllowed, "hostname %s is not in the allowlist", hostname)
	}

	var addr doh.Address
	if ip := net.ParseIP(hostname); ip != nil {
		if netutils.ClassifyIP(ip) != netutils.ClassGlobal {
			return nil, newError(CodePrivateIP, "address %s is not globally routable", hostname)
		}
		family := 6
		if ip.To4() != nil {
			family = 4
		}
		addr = doh.Address{IP: ip, Family: family}
	} else {
		addrs, err := f.resolver.LookupAddrsCached(ctx, hostname)
		if err != nil {
			return nil, wrapError(CodeDNSError, err, "resolving %s", hostname)
		}
		if len(addrs) == 0 {
			return nil, newError(CodeDNSError, "%s has no addresses", hostname)
		}
		for _, a := range addrs {
			if netutils.ClassifyIP(a.IP) != netutils.ClassGlobal {
				return nil, newError(CodePrivateIP, "%s resolves to non-global address %s", hostname, a.IP)
			}
		}
		addr = addrs[0]
	}

	port := u.Port()
	if port == "" {
		port = defaultPorts[u.Scheme]
	}

	canonical := *u
	switch {
	case u.Port() != "":
		canonical.Host = net.JoinHostPort(hostname, u.Port())
	case strings.Contains(hostname, ":"):
		canonical.Host = "[" + hostname + "]"
	default:
		canonical.Host = hostname
	}

	return &hopPlan{url: &canonical, hostname: hostname, port: port, addr: addr}, nil
}

func hostAllowed(hostname string, allowlist []string) bool {
	for _, allowed := range allowlist {
		normalized, err := netutils.NormalizeHost(allowed)
		if err != nil {
			continue
		}
		if strings.EqualFold(normalized, hostname) {
			return true
		}
	}
	return false
}

// leavesAllowlist reports whether target's hostname falls outside a
// configured allowlist. No allowlist means nothing can leave it; a
// hostname that cannot be normalized is left for vetting to reject.
func leavesAllowlist(target *url.URL, allowlist []string) bool {
	if len(allowlist) == 0 {
		return false
	}
	hostname, err := netutils.NormalizeHost(target.Hostname())
	if err != nil {
		return false
	}
	return !hostAllowed(hostname, allowlist)
}
