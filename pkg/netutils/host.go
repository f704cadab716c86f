package netutils

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/idna"
)

// Hostname suffixes that always resolve inside someone's infrastructure,
// never on the public internet.
var blockedHostSuffixes = []string{".localhost", ".local", ".internal"}

// ErrEmptyHost is returned by NormalizeHost for empty or dot-only input.
var ErrEmptyHost = errors.New("netutils: empty hostname")

// NormalizeHost lowercases a hostname, strips the trailing dot, and
// converts internationalized names to their ASCII (punycode) form, so that
// policy checks and allowlist comparisons all see one canonical spelling.
// ASCII names that fail strict IDNA validation (underscore labels and the
// like) are kept as-is; DNS resolution decides whether they exist.
func NormalizeHost(host string) (string, error) {
	host = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(host), "."))
	if host == "" {
		return "", ErrEmptyHost
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		if isASCII(host) {
			return host, nil
		}
		return "", fmt.Errorf("netutils: hostname %q failed IDNA conversion: %w", host, err)
	}
	return ascii, nil
}

// IsBlockedHostname reports whether the hostname names local
// infrastructure by convention: "localhost" itself or anything under
// .localhost, .local, or .internal. The input is expected to already be
// normalized.
func IsBlockedHostname(host string) bool {
	if host == "localhost" {
		return true
	}
	for _, suffix := range blockedHostSuffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
