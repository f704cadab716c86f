// Package config holds the on-disk YAML configuration and its
// validation. Durations are carried as millisecond integers in the
// file and converted through accessors.
package config

import "time"

// FileConfig is the top-level configuration structure.
type FileConfig struct {
	Logging      LoggingConfig      `yaml:"logging"`
	DoH          DoHConfig          `yaml:"doh"`
	Fetch        FetchConfig        `yaml:"fetch"`
	Verification VerificationConfig `yaml:"verification"`
	Guard        GuardConfig        `yaml:"guard"`
}

// LoggingConfig selects the process log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DoHConfig tunes the DNS-over-HTTPS resolver.
type DoHConfig struct {
	// Providers override the built-in catalog when non-empty.
	Providers []DoHProvider `yaml:"providers,omitempty"`
	TimeoutMs int           `yaml:"timeout_ms"`
	// Retries per provider; -1 disables retrying.
	Retries         int `yaml:"retries"`
	CacheSize       int `yaml:"cache_size"`
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
}

// DoHProvider describes one resolver endpoint.
type DoHProvider struct {
	Key     string            `yaml:"key"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

// FetchConfig tunes the safe fetch engine.
type FetchConfig struct {
	TimeoutMs    int       `yaml:"timeout_ms"`
	MaxBytes     int64     `yaml:"max_bytes"`
	MaxRedirects int       `yaml:"max_redirects"`
	AllowHTTP    bool      `yaml:"allow_http"`
	UserAgent    string    `yaml:"user_agent"`
	TLS          TLSConfig `yaml:"tls"`
}

// TLSConfig selects the client TLS presentation.
type TLSConfig struct {
	Library       string `yaml:"library"`
	ClientHelloID string `yaml:"client_hello_id"`
	MinVersion    string `yaml:"min_version"`
	MaxVersion    string `yaml:"max_version"`
}

// VerificationConfig tunes the domain verification engine.
type VerificationConfig struct {
	ProbeTimeoutMs int `yaml:"probe_timeout_ms"`
}

// GuardConfig tunes the SOCKS5 egress guard.
type GuardConfig struct {
	Enabled           bool    `yaml:"enabled"`
	Addr              string  `yaml:"addr"`
	AllowedPorts      []int   `yaml:"allowed_ports,omitempty"`
	MaxDialsPerSecond float64 `yaml:"max_dials_per_second"`
}

// Timeout returns the resolver timeout as a duration.
func (c DoHConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// CacheTTL returns the answer-cache ceiling as a duration.
func (c DoHConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// Timeout returns the whole-fetch deadline as a duration.
func (c FetchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// ProbeTimeout returns the per-probe deadline as a duration.
func (c VerificationConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutMs) * time.Millisecond
}
