// Package proxy runs a SOCKS5 egress guard for sidecar processes
// whose outbound traffic must obey the same policy as the fetch
// engine: names resolve over DoH, destinations must be globally
// routable, and only an allowlisted set of ports may be reached.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"

	"github.com/armon/go-socks5"
	"golang.org/x/time/rate"

	"github.com/domainstack/probekit/core/transport"
	"github.com/domainstack/probekit/pkg/doh"
	"github.com/domainstack/probekit/pkg/logging"
)

// DefaultAllowedPorts is the destination ports the guard permits when
// none are configured.
var DefaultAllowedPorts = []int{80, 443}

// HostResolver resolves a hostname to one vetted address.
// *doh.Resolver satisfies it.
type HostResolver interface {
	Lookup(ctx context.Context, hostname string) (doh.Address, error)
}

// Config assembles a Guard.
type Config struct {
	// Resolver is required; every FQDN a client asks for goes
	// through it.
	Resolver HostResolver
	// Dialer defaults to a plain TCP dialer with debug logging. The
	// guard does not close injected dialers.
	Dialer transport.Dialer
	// AllowedPorts defaults to DefaultAllowedPorts.
	AllowedPorts []int
	// MaxDialsPerSecond throttles outbound connects when positive.
	MaxDialsPerSecond float64
	// Logger defaults to the process logger.
	Logger logging.Logger
}

// Guard wraps the SOCKS5 server and manages its lifecycle.
type Guard struct {
	server *socks5.Server
	logger logging.Logger

	mu       sync.Mutex
	listener net.Listener
}

// New assembles a Guard from cfg. The server is not listening yet;
// call Start.
func New(cfg Config) (*Guard, error) {
	if cfg.Resolver == nil {
		return nil, errors.New("proxy: a resolver is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetLogger()
	}
	logger = logger.With("component", "egress-guard")

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = transport.LoggingMiddleware(logger)(transport.NewTCPDialer(&transport.Config{}))
	}
	if cfg.MaxDialsPerSecond > 0 {
		burst := int(cfg.MaxDialsPerSecond)
		if burst < 1 {
			burst = 1
		}
		dialer = transport.ThrottlingMiddleware(rate.Limit(cfg.MaxDialsPerSecond), burst)(dialer)
	}

	ports := cfg.AllowedPorts
	if len(ports) == 0 {
		ports = DefaultAllowedPorts
	}
	portSet := make(map[int]struct{}, len(ports))
	for _, p := range ports {
		portSet[p] = struct{}{}
	}

	conf := &socks5.Config{
		Resolver: &dohNameResolver{resolver: cfg.Resolver, logger: logger},
		Rules:    &egressRules{ports: portSet, logger: logger},
		Dial: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
		// The server's own logging is replaced by the structured logs
		// the resolver and ruleset emit.
		Logger: log.New(io.Discard, "", 0),
	}
	server, err := socks5.New(conf)
	if err != nil {
		return nil, fmt.Errorf("proxy: building SOCKS5 server: %w", err)
	}

	return &Guard{server: server, logger: logger}, nil
}

// Start listens on addr and serves in the background. It returns once
// the listener is bound, so Addr is valid immediately after.
func (g *Guard) Start(addr string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listener != nil {
		return errors.New("proxy: guard already started")
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("proxy: listening on %s: %w", addr, err)
	}
	g.listener = listener
	g.logger.Info("egress guard listening", "addr", listener.Addr().String())

	go func() {
		if err := g.server.Serve(listener); err != nil && !errors.Is(err, net.ErrClosed) {
			g.logger.Error("egress guard stopped serving", "error", err)
		}
	}()
	return nil
}

// Stop closes the listener. In-flight connections drain on their own;
// stopping a guard that never started is a no-op.
func (g *Guard) Stop() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listener == nil {
		return nil
	}
	err := g.listener.Close()
	g.listener = nil
	g.logger.Info("egress guard stopped")
	return err
}

// Addr returns the bound listen address, or "" when not running.
func (g *Guard) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}
