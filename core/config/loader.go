package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Default returns the configuration the toolkit runs with when no file
// is given. LoadFileConfig overlays the file onto these values, so a
// key absent from the file keeps its default while an explicit zero in
// the file stays zero.
func Default() *FileConfig {
	return &FileConfig{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		DoH: DoHConfig{
			TimeoutMs:       2000,
			Retries:         1,
			CacheSize:       512,
			CacheTTLSeconds: 300,
		},
		Fetch: FetchConfig{
			TimeoutMs:    8000,
			MaxBytes:     15 << 20,
			MaxRedirects: 3,
			AllowHTTP:    false,
			UserAgent:    "probekit/1.0",
		},
		Verification: VerificationConfig{
			ProbeTimeoutMs: 5000,
		},
		Guard: GuardConfig{
			Enabled:      false,
			Addr:         "127.0.0.1:1080",
			AllowedPorts: []int{80, 443},
		},
	}
}

// LoadFileConfig loads configuration from a YAML file on top of the
// defaults and validates the result.
func LoadFileConfig(filePath string) (*FileConfig, error) {
	buf, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", filePath, err)
	}
	return ParseConfig(buf)
}

// ParseConfig overlays a YAML document onto the defaults and validates
// the result. Callers that do not read from a file, such as the mobile
// bridge, use this directly.
func ParseConfig(data []byte) (*FileConfig, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}
