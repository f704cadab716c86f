package netutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeHost(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases", "EXAMPLE.COM", "example.com"},
		{"strips_trailing_dot", "example.com.", "example.com"},
		{"trims_space", "  example.com  ", "example.com"},
		{"punycode", "bücher.de", "xn--bcher-kva.de"},
		{"already_punycode", "xn--bcher-kva.de", "xn--bcher-kva.de"},
		{"underscore_kept", "_acme-challenge.example.com", "_acme-challenge.example.com"},
		{"ip_literal_passthrough", "93.184.216.34", "93.184.216.34"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeHost(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeHostRejects(t *testing.T) {
	for _, in := range []string{"", ".", "   "} {
		_, err := NormalizeHost(in)
		assert.ErrorIs(t, err, ErrEmptyHost, "input %q", in)
	}
}

func TestIsBlockedHostname(t *testing.T) {
	blocked := []string{
		"localhost",
		"foo.localhost",
		"printer.local",
		"db.prod.internal",
	}
	for _, host := range blocked {
		assert.True(t, IsBlockedHostname(host), "expected %s to be blocked", host)
	}

	allowed := []string{
		"example.com",
		"localhost.example.com",
		"internal.example.com",
		"mylocal.example.com",
	}
	for _, host := range allowed {
		assert.False(t, IsBlockedHostname(host), "expected %s to be allowed", host)
	}
}
