// Package securerandom provides crypto/rand-backed helpers for the few
// places probekit needs randomness: verification tokens, retry jitter, and
// cache-busting probe parameters. There is deliberately no math/rand
// fallback; if the system entropy source fails, callers get an error.
package securerandom

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

// Int returns a uniform random integer in [min, max].
func Int(min, max int) (int, error) {
	if max <= min {
		return 0, fmt.Errorf("securerandom: max must be greater than min (got min=%d, max=%d)", min, max)
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max-min+1)))
	if err != nil {
		return 0, fmt.Errorf("securerandom: %w", err)
	}
	return int(n.Int64()) + min, nil
}

// MustInt is Int but panics on entropy failure. Use only where a failed
// read from the entropy source should abort the process.
func MustInt(min, max int) int {
	v, err := Int(min, max)
	if err != nil {
		panic(err)
	}
	return v
}

// Bytes fills b with random bytes.
func Bytes(b []byte) error {
	if _, err := rand.Read(b); err != nil {
		return fmt.Errorf("securerandom: %w", err)
	}
	return nil
}

// Hex returns 2*nBytes lowercase hex characters from nBytes of entropy.
func Hex(nBytes int) (string, error) {
	if nBytes <= 0 {
		return "", fmt.Errorf("securerandom: byte count must be positive, got %d", nBytes)
	}
	b := make([]byte, nBytes)
	if err := Bytes(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Duration returns a uniform random duration in [min, max].
func Duration(min, max time.Duration) (time.Duration, error) {
	if min > max {
		return 0, fmt.Errorf("securerandom: min duration %s exceeds max %s", min, max)
	}
	if min == max {
		return min, nil
	}
	// Durations this package jitters are far below the int range on any
	// supported platform.
	v, err := Int(int(min.Nanoseconds()), int(max.Nanoseconds()))
	if err != nil {
		return 0, err
	}
	return time.Duration(v), nil
}

// MustDuration is Duration but panics on entropy failure.
func MustDuration(min, max time.Duration) time.Duration {
	d, err := Duration(min, max)
	if err != nil {
		panic(err)
	}
	return d
}
