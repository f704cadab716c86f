package testutils

import (
	"context"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/proxy"
)

// TestTimeout is the default timeout for operations in tests.
const TestTimeout = 5 * time.Second

// TestInterval is the default interval for polling in tests.
const TestInterval = 100 * time.Millisecond

// EchoServer is a plain TCP server that echoes back any data it
// receives. Useful for exercising dialers end to end.
type EchoServer struct {
	listener net.Listener
	addr     string
}

// NewEchoServer creates and starts an EchoServer on a loopback port.
func NewEchoServer() *EchoServer {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(err)
	}
	s := &EchoServer{
		listener: listener,
		addr:     listener.Addr().String(),
	}
	go s.run()
	return s
}

func (s *EchoServer) run() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return // Listener was closed
		}
		go func(c net.Conn) {
			defer c.Close()
			_, _ = io.Copy(c, c)
		}(conn)
	}
}

// Addr returns the address of the server.
func (s *EchoServer) Addr() string {
	return s.addr
}

// Close stops the server.
func (s *EchoServer) Close() {
	s.listener.Close()
}

// TLSEchoServer is an EchoServer behind TLS with a self-signed
// certificate valid for 127.0.0.1 and "echo.test".
type TLSEchoServer struct {
	listener net.Listener
	addr     string
	certDER  []byte
}

// NewTLSEchoServer creates and starts a TLSEchoServer on a loopback port.
func NewTLSEchoServer() *TLSEchoServer {
	cert, certDER, err := generateTestCert()
	if err != nil {
		panic(err)
	}

	config := &tls.Config{Certificates: []tls.Certificate{cert}}
	listener, err := tls.Listen("tcp", "127.0.0.1:0", config)
	if err != nil {
		panic(err)
	}

	s := &TLSEchoServer{
		listener: listener,
		addr:     listener.Addr().String(),
		certDER:  certDER,
	}
	go s.run()
	return s
}

func (s *TLSEchoServer) run() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return // Listener was closed
		}
		go func(c net.Conn) {
			defer c.Close()
			_, _ = io.Copy(c, c)
		}(conn)
	}
}

// Addr returns the address of the server.
func (s *TLSEchoServer) Addr() string {
	return s.addr
}

// CertPool returns a pool containing the server's certificate, for
// clients that want the handshake to verify.
func (s *TLSEchoServer) CertPool() *x509.CertPool {
	pool := x509.NewCertPool()
	cert, err := x509.ParseCertificate(s.certDER)
	if err != nil {
		panic(err)
	}
	pool.AddCert(cert)
	return pool
}

// Close stops the server.
func (s *TLSEchoServer) Close() {
	s.listener.Close()
}

// generateTestCert creates a self-signed certificate for testing.
func generateTestCert() (tls.Certificate, []byte, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, nil, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"probekit test"},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		DNSNames:              []string{"echo.test"},
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, nil, err
	}

	certPem := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	keyPem := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})

	pair, err := tls.X509KeyPair(certPem, keyPem)
	if err != nil {
		return tls.Certificate{}, nil, err
	}
	return pair, derBytes, nil
}

// CheckSOCKS5Proxy attempts to reach a target address through a SOCKS5
// proxy and verifies the target echoes data back.
func CheckSOCKS5Proxy(proxyAddr, targetAddr string) error {
	dialer, err := proxy.SOCKS5("tcp", proxyAddr, nil, proxy.Direct)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	defer cancel()

	conn, err := dialer.(proxy.ContextDialer).DialContext(ctx, "tcp", targetAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	payload := "hello"
	_, err = conn.Write([]byte(payload))
	if err != nil {
		return err
	}

	response := make([]byte, len(payload))
	_, err = io.ReadFull(conn, response)
	if err != nil {
		return fmt.Errorf("failed to read echo response: %w", err)
	}

	if string(response) != payload {
		return fmt.Errorf("unexpected response: got %q, want %q", string(response), payload)
	}

	return nil
}

// AssertConnectedToProxy fails the test unless targetAddr is reachable
// through the SOCKS5 proxy at proxyAddr.
func AssertConnectedToProxy(t *testing.T, proxyAddr, targetAddr string) {
	t.Helper()
	err := CheckSOCKS5Proxy(proxyAddr, targetAddr)
	require.NoError(t, err, "Failed to connect to target through SOCKS5 proxy")
}
