package proxy

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/armon/go-socks5"

	"github.com/domainstack/probekit/pkg/logging"
	"github.com/domainstack/probekit/pkg/netutils"
)

// resolveTimeout bounds one client-requested name resolution. The
// SOCKS5 server hands the resolver a bare context, so the bound lives
// here.
const resolveTimeout = 5 * time.Second

// dohNameResolver implements socks5.NameResolver on top of the DoH
// resolver. Blocked hostnames are refused before any query is sent,
// and an answer that is not globally routable is refused afterwards,
// so clients cannot use the guard to reach internal addresses by name.
type dohNameResolver struct {
	resolver HostResolver
	logger   logging.Logger
}

func (r *dohNameResolver) Resolve(ctx context.Context, name string) (context.Context, net.IP, error) {
	hostname, err := netutils.NormalizeHost(name)
	if err != nil {
		return ctx, nil, fmt.Errorf("proxy: refusing to resolve %q: %w", name, err)
	}
	if netutils.IsBlockedHostname(hostname) {
		r.logger.Warn("refused blocked hostname", "hostname", hostname)
		return ctx, nil, fmt.Errorf("proxy: hostname %s is blocked", hostname)
	}

	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()
	addr, err := r.resolver.Lookup(ctx, hostname)
	if err != nil {
		r.logger.Debug("resolution failed", "hostname", hostname, "error", err)
		return ctx, nil, fmt.Errorf("proxy: resolving %s: %w", hostname, err)
	}
	if netutils.ClassifyIP(addr.IP) != netutils.ClassGlobal {
		r.logger.Warn("refused hostname resolving to non-global address",
			"hostname", hostname, "addr", addr.IP.String())
		return ctx, nil, fmt.Errorf("proxy: %s resolves to non-global address %s", hostname, addr.IP)
	}
	return ctx, addr.IP, nil
}

// egressRules is the connect policy: CONNECT only, destination port on
// the allowlist, destination address globally routable. Literal-IP
// requests never pass through the resolver, so the address check here
// is the only gate they see.
type egressRules struct {
	ports  map[int]struct{}
	logger logging.Logger
}

func (r *egressRules) Allow(ctx context.Context, req *socks5.Request) (context.Context, bool) {
	dest := req.DestAddr
	if req.Command != socks5.ConnectCommand {
		r.logger.Warn("refused non-connect command", "command", req.Command)
		return ctx, false
	}
	if _, ok := r.ports[dest.Port]; !ok {
		r.logger.Warn("refused disallowed port", "port", dest.Port, "dest", dest.FQDN)
		return ctx, false
	}
	if dest.FQDN != "" {
		hostname, err := netutils.NormalizeHost(dest.FQDN)
		if err != nil || netutils.IsBlockedHostname(hostname) {
			r.logger.Warn("refused blocked destination", "dest", dest.FQDN)
			return ctx, false
		}
	}
	if dest.IP != nil && netutils.ClassifyIP(dest.IP) != netutils.ClassGlobal {
		r.logger.Warn("refused non-global destination address", "addr", dest.IP.String())
		return ctx, false
	}
	return ctx, true
}
