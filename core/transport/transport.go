//go:generate mockgen -package=testutils -destination=../../testutils/mock_conn.go net Conn

// Package transport provides outbound dialers for connections whose
// addresses were already resolved and validated elsewhere. Dialers here
// never resolve hostnames; they connect to literal IP:port addresses and
// optionally dress the connection in TLS.
package transport

import (
	"context"
	"net"
	"time"
)

// Dialer makes outbound connections. Implementations must be safe for
// concurrent use.
type Dialer interface {
	// DialContext connects to address on the named network. address is
	// expected to be a literal "ip:port".
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
	// Close releases any resources held by the dialer.
	Close() error
}

// Middleware wraps a Dialer to add behaviour around dialing.
type Middleware func(Dialer) Dialer

// Config carries the options shared by all dialer kinds.
type Config struct {
	DialTimeout time.Duration
	KeepAlive   time.Duration
}
