package proxy

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domainstack/probekit/pkg/doh"
	"github.com/domainstack/probekit/testutils"
)

type fakeResolver struct {
	mu    sync.Mutex
	addrs map[string]doh.Address
	calls []string
}

func (r *fakeResolver) Lookup(ctx context.Context, hostname string) (doh.Address, error) {
	r.mu.Lock()
	r.calls = append(r.calls, hostname)
	r.mu.Unlock()
	if addr, ok := r.addrs[hostname]; ok {
		return addr, nil
	}
	return doh.Address{}, fmt.Errorf("lookup %s: %w", hostname, doh.ErrNoRecords)
}

func (r *fakeResolver) lookups() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

func makeAddr(ip string) doh.Address {
	parsed := net.ParseIP(ip)
	family := 6
	if parsed.To4() != nil {
		family = 4
	}
	return doh.Address{IP: parsed, Family: family}
}

// rewriteDialer records the addresses it is asked for and connects to a
// fixed local target instead, so guarded dials can be observed without
// reaching real networks.
type rewriteDialer struct {
	mu     sync.Mutex
	target string
	asked  []string
}

func (d *rewriteDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	d.asked = append(d.asked, address)
	d.mu.Unlock()
	return (&net.Dialer{}).DialContext(ctx, network, d.target)
}

func (d *rewriteDialer) Close() error { return nil }

func (d *rewriteDialer) askedAddrs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.asked))
	copy(out, d.asked)
	return out
}

func startGuard(t *testing.T, cfg Config) *Guard {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = testutils.NewTestLogger()
	}
	g, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, g.Start("127.0.0.1:0"))
	t.Cleanup(func() { _ = g.Stop() })
	return g
}

func TestNewRequiresResolver(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestGuardProxiesAllowedDestination(t *testing.T) {
	echo := testutils.NewEchoServer()
	defer echo.Close()

	resolver := &fakeResolver{addrs: map[string]doh.Address{
		"echo.test": makeAddr("93.184.216.34"),
	}}
	dialer := &rewriteDialer{target: echo.Addr()}
	g := startGuard(t, Config{Resolver: resolver, Dialer: dialer})

	testutils.AssertConnectedToProxy(t, g.Addr(), "echo.test:80")

	assert.Equal(t, []string{"echo.test"}, resolver.lookups())
	asked := dialer.askedAddrs()
	require.Len(t, asked, 1)
	assert.Equal(t, "93.184.216.34:80", asked[0], "the guard must dial the resolved address")
}

func TestGuardRefusesPrivateLiteralDestination(t *testing.T) {
	resolver := &fakeResolver{}
	dialer := &rewriteDialer{}
	g := startGuard(t, Config{Resolver: resolver, Dialer: dialer})

	// Allowed ports, non-global literal addresses.
	for _, dest := range []string{"127.0.0.1:80", "10.0.0.8:443", "169.254.169.254:80", "[::1]:443"} {
		err := testutils.CheckSOCKS5Proxy(g.Addr(), dest)
		require.Error(t, err, "dest %s", dest)
	}
	assert.Empty(t, resolver.lookups(), "literal addresses never reach the resolver")
	assert.Empty(t, dialer.askedAddrs(), "refused destinations must not be dialed")
}

func TestGuardRefusesBlockedHostname(t *testing.T) {
	resolver := &fakeResolver{addrs: map[string]doh.Address{
		"db.internal": makeAddr("9.9.9.9"),
	}}
	dialer := &rewriteDialer{}
	g := startGuard(t, Config{Resolver: resolver, Dialer: dialer})

	err := testutils.CheckSOCKS5Proxy(g.Addr(), "db.internal:80")
	require.Error(t, err)
	assert.Empty(t, resolver.lookups(), "blocked hostnames are refused before resolution")
	assert.Empty(t, dialer.askedAddrs())
}

func TestGuardRefusesPrivateResolution(t *testing.T) {
	resolver := &fakeResolver{addrs: map[string]doh.Address{
		"inside.test": makeAddr("10.0.0.5"),
	}}
	dialer := &rewriteDialer{}
	g := startGuard(t, Config{Resolver: resolver, Dialer: dialer})

	err := testutils.CheckSOCKS5Proxy(g.Addr(), "inside.test:80")
	require.Error(t, err)
	assert.Equal(t, []string{"inside.test"}, resolver.lookups())
	assert.Empty(t, dialer.askedAddrs(), "a private answer must not be dialed")
}

func TestGuardRefusesResolutionFailure(t *testing.T) {
	resolver := &fakeResolver{}
	dialer := &rewriteDialer{}
	g := startGuard(t, Config{Resolver: resolver, Dialer: dialer})

	err := testutils.CheckSOCKS5Proxy(g.Addr(), "unresolvable.test:443")
	require.Error(t, err)
	assert.Empty(t, dialer.askedAddrs())
}

func TestGuardRefusesDisallowedPort(t *testing.T) {
	resolver := &fakeResolver{addrs: map[string]doh.Address{
		"echo.test": makeAddr("93.184.216.34"),
	}}
	dialer := &rewriteDialer{}
	g := startGuard(t, Config{Resolver: resolver, Dialer: dialer})

	err := testutils.CheckSOCKS5Proxy(g.Addr(), "echo.test:8443")
	require.Error(t, err)
	assert.Empty(t, dialer.askedAddrs())
}

func TestGuardCustomPortAllowlist(t *testing.T) {
	echo := testutils.NewEchoServer()
	defer echo.Close()

	resolver := &fakeResolver{addrs: map[string]doh.Address{
		"echo.test": makeAddr("93.184.216.34"),
	}}
	dialer := &rewriteDialer{target: echo.Addr()}
	g := startGuard(t, Config{
		Resolver:     resolver,
		Dialer:       dialer,
		AllowedPorts: []int{8443},
	})

	require.Error(t, testutils.CheckSOCKS5Proxy(g.Addr(), "echo.test:443"),
		"default ports are replaced, not extended")
	testutils.AssertConnectedToProxy(t, g.Addr(), "echo.test:8443")
}

func TestGuardLifecycle(t *testing.T) {
	resolver := &fakeResolver{}
	g, err := New(Config{Resolver: resolver, Logger: testutils.NewTestLogger()})
	require.NoError(t, err)

	assert.Empty(t, g.Addr())
	require.NoError(t, g.Start("127.0.0.1:0"))
	assert.NotEmpty(t, g.Addr())

	require.Error(t, g.Start("127.0.0.1:0"), "a running guard must refuse a second start")

	require.NoError(t, g.Stop())
	assert.Empty(t, g.Addr())
	require.NoError(t, g.Stop(), "stopping twice is harmless")

	// A stopped guard can be started again.
	require.NoError(t, g.Start("127.0.0.1:0"))
	require.NoError(t, g.Stop())
}
