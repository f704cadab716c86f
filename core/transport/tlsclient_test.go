package transport

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/domainstack/probekit/testutils"
)

func dialRaw(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("Expected raw dial to succeed, got %v", err)
	}
	return conn
}

func echoOnce(t *testing.T, conn net.Conn) {
	t.Helper()
	payload := []byte("hello over tls")
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("Expected write to succeed, got %v", err)
	}
	echo := make([]byte, len(payload))
	if _, err := io.ReadFull(conn, echo); err != nil {
		t.Fatalf("Expected to read the echo, got %v", err)
	}
	if string(echo) != string(payload) {
		t.Errorf("Expected echo %q, got %q", payload, echo)
	}
}

func TestTLSClientStdlib(t *testing.T) {
	srv := testutils.NewTLSEchoServer()
	defer srv.Close()

	raw := dialRaw(t, srv.Addr())
	conn, err := TLSClient(context.Background(), raw, ClientTLS{Library: "stdlib"}, "echo.test", srv.CertPool())
	if err != nil {
		t.Fatalf("Expected handshake to succeed, got %v", err)
	}
	defer conn.Close()
	echoOnce(t, conn)
}

func TestTLSClientDefaultsToStdlib(t *testing.T) {
	srv := testutils.NewTLSEchoServer()
	defer srv.Close()

	raw := dialRaw(t, srv.Addr())
	conn, err := TLSClient(context.Background(), raw, ClientTLS{}, "echo.test", srv.CertPool())
	if err != nil {
		t.Fatalf("Expected handshake to succeed, got %v", err)
	}
	defer conn.Close()
}

func TestTLSClientUTLS(t *testing.T) {
	srv := testutils.NewTLSEchoServer()
	defer srv.Close()

	raw := dialRaw(t, srv.Addr())
	cfg := ClientTLS{Library: "utls", ClientHelloID: "HelloChrome_Auto"}
	conn, err := TLSClient(context.Background(), raw, cfg, "echo.test", srv.CertPool())
	if err != nil {
		t.Fatalf("Expected uTLS handshake to succeed, got %v", err)
	}
	defer conn.Close()
	echoOnce(t, conn)
}

func TestTLSClientVerifiesServerName(t *testing.T) {
	srv := testutils.NewTLSEchoServer()
	defer srv.Close()

	// The certificate covers "echo.test", not "other.test"; handshaking
	// for the wrong name must fail even with the right root pool.
	raw := dialRaw(t, srv.Addr())
	_, err := TLSClient(context.Background(), raw, ClientTLS{}, "other.test", srv.CertPool())
	if err == nil {
		t.Fatal("Expected certificate verification to fail for a mismatched name")
	}
}

func TestTLSClientUnknownLibrary(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	_, err := TLSClient(context.Background(), client, ClientTLS{Library: "openssl"}, "echo.test", nil)
	if err == nil {
		t.Fatal("Expected an error for an unsupported TLS library")
	}
}

func TestTLSClientUnknownHelloID(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cfg := ClientTLS{Library: "utls", ClientHelloID: "HelloNetscape_4"}
	_, err := TLSClient(context.Background(), client, cfg, "echo.test", nil)
	if err == nil {
		t.Fatal("Expected an error for an unknown ClientHelloID")
	}
}

func TestTLSClientUnknownVersion(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	_, err := TLSClient(context.Background(), client, ClientTLS{MinVersion: "0.9"}, "echo.test", nil)
	if err == nil {
		t.Fatal("Expected an error for an unknown TLS version")
	}
}
