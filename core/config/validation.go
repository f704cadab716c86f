package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/domainstack/probekit/core/transport"
)

var (
	validLogLevels  = map[string]bool{"": true, "debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"": true, "json": true, "console": true}
)

// Validate rejects configurations the components would refuse or,
// worse, misinterpret at runtime.
func (fc *FileConfig) Validate() error {
	if !validLogLevels[fc.Logging.Level] {
		return fmt.Errorf("invalid logging level '%s' (use debug, info, warn, or error)", fc.Logging.Level)
	}
	if !validLogFormats[fc.Logging.Format] {
		return fmt.Errorf("invalid logging format '%s' (use json or console)", fc.Logging.Format)
	}

	for i, p := range fc.DoH.Providers {
		if p.Key == "" {
			return fmt.Errorf("doh provider %d is missing a key", i)
		}
		u, err := url.Parse(p.URL)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return fmt.Errorf("doh provider '%s' has an invalid url: %s", p.Key, p.URL)
		}
		if u.Scheme != "https" {
			return fmt.Errorf("doh provider '%s' must use https, got %s", p.Key, u.Scheme)
		}
	}
	if fc.DoH.TimeoutMs < 0 {
		return fmt.Errorf("doh timeout_ms must not be negative")
	}
	if fc.DoH.Retries < -1 {
		return fmt.Errorf("doh retries must be -1 (disabled) or higher")
	}
	if fc.DoH.CacheSize < 0 {
		return fmt.Errorf("doh cache_size must not be negative")
	}

	if fc.Fetch.TimeoutMs < 0 {
		return fmt.Errorf("fetch timeout_ms must not be negative")
	}
	if fc.Fetch.MaxBytes < 0 {
		return fmt.Errorf("fetch max_bytes must not be negative")
	}
	if fc.Fetch.MaxRedirects < 0 {
		return fmt.Errorf("fetch max_redirects must not be negative")
	}
	if err := fc.Fetch.TLS.validate(); err != nil {
		return err
	}

	if fc.Verification.ProbeTimeoutMs < 0 {
		return fmt.Errorf("verification probe_timeout_ms must not be negative")
	}

	if fc.Guard.Enabled && fc.Guard.Addr == "" {
		return fmt.Errorf("guard is enabled but has no addr")
	}
	for _, port := range fc.Guard.AllowedPorts {
		if port < 1 || port > 65535 {
			return fmt.Errorf("guard allowed port %d is out of range", port)
		}
	}
	if fc.Guard.MaxDialsPerSecond < 0 {
		return fmt.Errorf("guard max_dials_per_second must not be negative")
	}

	return nil
}

func (tc TLSConfig) validate() error {
	switch tc.Library {
	case "", "stdlib", "utls":
	default:
		return fmt.Errorf("invalid tls library '%s' (use stdlib or utls)", tc.Library)
	}
	if tc.Library == "utls" && tc.ClientHelloID != "" {
		if _, ok := transport.UTLSHelloIDMap[tc.ClientHelloID]; !ok {
			return fmt.Errorf("unknown tls client_hello_id '%s'. Supported profiles are: %s",
				tc.ClientHelloID, supportedHelloIDs())
		}
	}
	if tc.MinVersion != "" {
		if _, ok := transport.TLSVersionMap[tc.MinVersion]; !ok {
			return fmt.Errorf("invalid tls min_version '%s'. Supported versions are: %s",
				tc.MinVersion, supportedTLSVersions())
		}
	}
	if tc.MaxVersion != "" {
		if _, ok := transport.TLSVersionMap[tc.MaxVersion]; !ok {
			return fmt.Errorf("invalid tls max_version '%s'. Supported versions are: %s",
				tc.MaxVersion, supportedTLSVersions())
		}
	}
	return nil
}

func supportedTLSVersions() string {
	versions := make([]string, 0, len(transport.TLSVersionMap))
	for v := range transport.TLSVersionMap {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return strings.Join(versions, ", ")
}

func supportedHelloIDs() string {
	ids := make([]string, 0, len(transport.UTLSHelloIDMap))
	for id := range transport.UTLSHelloIDMap {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return strings.Join(ids, ", ")
}
