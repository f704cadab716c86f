package verify

import "github.com/domainstack/probekit/pkg/securerandom"

// TokenLength is the length of a verification token in characters.
const TokenLength = 32

// GenerateToken mints a fresh verification token: 32 lowercase hex
// characters from 16 random bytes.
func GenerateToken() (string, error) {
	return securerandom.Hex(TokenLength / 2)
}
