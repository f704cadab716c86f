package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"

	utls "github.com/refraction-networking/utls"
)

// ClientTLS selects how an outbound TLS handshake presents itself.
type ClientTLS struct {
	// Library is "stdlib" or "utls". Empty means stdlib.
	Library string
	// ClientHelloID names a browser fingerprint from UTLSHelloIDMap and
	// only applies to the utls library. Empty means HelloChrome_Auto.
	ClientHelloID string
	// MinVersion and MaxVersion are TLS versions as strings ("1.2").
	// Empty means 1.2 and 1.3 respectively.
	MinVersion string
	MaxVersion string
}

// TLSVersionMap maps string representations to tls.Version constants.
var TLSVersionMap = map[string]uint16{
	"1.0": tls.VersionTLS10,
	"1.1": tls.VersionTLS11,
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}

// UTLSHelloIDMap maps string representations to utls.ClientHelloID.
var UTLSHelloIDMap = map[string]utls.ClientHelloID{
	"HelloChrome_Auto":       utls.HelloChrome_Auto,
	"HelloFirefox_Auto":      utls.HelloFirefox_Auto,
	"HelloIOS_Auto":          utls.HelloIOS_Auto,
	"HelloAndroid_11_OkHttp": utls.HelloAndroid_11_OkHttp,
	"HelloEdge_Auto":         utls.HelloEdge_Auto,
	"HelloSafari_Auto":       utls.HelloSafari_Auto,
	"Hello360_Auto":          utls.Hello360_Auto,
	"HelloQQ_Auto":           utls.HelloQQ_Auto,
	"HelloRandomized":        utls.HelloRandomized,
	"HelloRandomizedALPN":    utls.HelloRandomizedALPN,
	"HelloRandomizedNoALPN":  utls.HelloRandomizedNoALPN,
}

// TLSClient wraps an established connection with a client TLS session
// that handshakes for serverName. The dialed address and the certificate
// identity are deliberately decoupled: callers dial a vetted IP and still
// verify the certificate against the hostname they meant to reach.
// Certificate verification is always on; rootCAs nil means system roots.
func TLSClient(ctx context.Context, conn net.Conn, cfg ClientTLS, serverName string, rootCAs *x509.CertPool) (net.Conn, error) {
	switch cfg.Library {
	case "", "stdlib":
		return newStandardTLSClient(ctx, conn, cfg, serverName, rootCAs)
	case "utls":
		return newUTLSClient(ctx, conn, cfg, serverName, rootCAs)
	default:
		return nil, fmt.Errorf("transport: unsupported TLS library %q", cfg.Library)
	}
}

func newStandardTLSClient(ctx context.Context, conn net.Conn, cfg ClientTLS, serverName string, rootCAs *x509.CertPool) (net.Conn, error) {
	minVersion, maxVersion, err := tlsVersions(cfg)
	if err != nil {
		return nil, err
	}
	tlsConn := tls.Client(conn, &tls.Config{
		ServerName: serverName,
		RootCAs:    rootCAs,
		MinVersion: minVersion,
		MaxVersion: maxVersion,
	})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("transport: TLS handshake with %s: %w", serverName, err)
	}
	return tlsConn, nil
}

func newUTLSClient(ctx context.Context, conn net.Conn, cfg ClientTLS, serverName string, rootCAs *x509.CertPool) (net.Conn, error) {
	minVersion, maxVersion, err := tlsVersions(cfg)
	if err != nil {
		return nil, err
	}
	helloName := cfg.ClientHelloID
	if helloName == "" {
		helloName = "HelloChrome_Auto"
	}
	helloID, ok := UTLSHelloIDMap[helloName]
	if !ok {
		return nil, fmt.Errorf("transport: unknown uTLS ClientHelloID %q", helloName)
	}

	uconn := utls.UClient(conn, &utls.Config{
		ServerName: serverName,
		RootCAs:    rootCAs,
		MinVersion: minVersion,
		MaxVersion: maxVersion,
	}, helloID)
	if err := uconn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("transport: uTLS handshake with %s: %w", serverName, err)
	}
	return uconn, nil
}

func tlsVersions(cfg ClientTLS) (uint16, uint16, error) {
	minName := cfg.MinVersion
	if minName == "" {
		minName = "1.2"
	}
	maxName := cfg.MaxVersion
	if maxName == "" {
		maxName = "1.3"
	}
	minVersion, ok := TLSVersionMap[minName]
	if !ok {
		return 0, 0, fmt.Errorf("transport: unknown min TLS version %q", minName)
	}
	maxVersion, ok := TLSVersionMap[maxName]
	if !ok {
		return 0, 0, fmt.Errorf("transport: unknown max TLS version %q", maxName)
	}
	return minVersion, maxVersion, nil
}
