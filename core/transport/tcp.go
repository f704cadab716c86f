package transport

import (
	"context"
	"fmt"
	"net"
)

// TCPDialer implements Dialer over plain TCP. TLS, when wanted, is
// layered on by the caller via TLSClient so the handshake can use a
// hostname different from the dialed address.
type TCPDialer struct {
	dialer *net.Dialer
}

// NewTCPDialer creates a TCPDialer with the given configuration.
func NewTCPDialer(cfg *Config) *TCPDialer {
	if cfg == nil {
		cfg = &Config{}
	}
	return &TCPDialer{
		dialer: &net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: cfg.KeepAlive,
		},
	}
}

// DialContext connects to address over TCP.
func (t *TCPDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	conn, err := t.dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("transport: dialing %s: %w", address, err)
	}
	return conn, nil
}

// Close is a no-op; connections are owned by their callers.
func (t *TCPDialer) Close() error {
	return nil
}
