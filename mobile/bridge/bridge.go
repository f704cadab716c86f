// Package bridge exposes the probekit engine to gomobile bindings.
// Everything crossing the boundary sticks to types the gomobile type
// system can carry: strings, bools, errors, and flat structs of the
// same, with address lists joined into comma-separated strings.
package bridge

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/domainstack/probekit"
	"github.com/domainstack/probekit/core/config"
	"github.com/domainstack/probekit/interfaces"
	"github.com/domainstack/probekit/pkg/logging"
)

// Status constants reported to StatusUpdater callbacks.
const (
	StatusStarting = "STARTING"
	StatusRunning  = "RUNNING"
	StatusStopped  = "STOPPED"
	StatusError    = "ERROR"
)

const (
	resolveTimeout = 10 * time.Second
	verifyTimeout  = 60 * time.Second
)

var (
	mu     sync.Mutex
	engine interfaces.Engine
)

// StatusUpdater is implemented by native mobile code to receive guard
// state transitions.
type StatusUpdater interface {
	// OnStatusUpdate is called with one of the Status constants and a
	// descriptive message.
	OnStatusUpdate(status, message string)
}

// Configure replaces the shared engine using a YAML configuration
// document. An empty document selects the defaults. A running guard is
// stopped before the swap.
func Configure(configYAML string) error {
	cfg, err := config.ParseConfig([]byte(configYAML))
	if err != nil {
		return err
	}
	logging.InitLogger(cfg.Logging.Level, cfg.Logging.Format)

	eng, err := probekit.NewEngine(cfg, nil)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	if engine != nil {
		_ = engine.Stop()
	}
	engine = eng
	return nil
}

// getEngine returns the shared engine, building a default one on first
// use.
func getEngine() (interfaces.Engine, error) {
	mu.Lock()
	defer mu.Unlock()
	if engine == nil {
		eng, err := probekit.NewEngine(nil, nil)
		if err != nil {
			return nil, err
		}
		engine = eng
	}
	return engine, nil
}

// NewToken mints a fresh domain verification token.
func NewToken() (string, error) {
	eng, err := getEngine()
	if err != nil {
		return "", err
	}
	return eng.NewVerificationToken()
}

// ResolveHost resolves host over DoH and returns its addresses joined
// by commas.
func ResolveHost(host string) (string, error) {
	eng, err := getEngine()
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()

	addrs, err := eng.ResolveHostAll(ctx, host)
	if err != nil {
		return "", err
	}
	strs := make([]string, len(addrs))
	for i, a := range addrs {
		strs[i] = a.String()
	}
	return strings.Join(strs, ","), nil
}

// VerifyResult mirrors a verification outcome with gomobile-safe types.
type VerifyResult struct {
	Verified bool
	Method   string
	Detail   string
}

// Verify tries every ownership check for domain and token and reports
// the first method that succeeded.
func Verify(domain, token string) (*VerifyResult, error) {
	eng, err := getEngine()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), verifyTimeout)
	defer cancel()

	res := eng.VerifyDomainAll(ctx, domain, token)
	return &VerifyResult{
		Verified: res.Verified,
		Method:   string(res.Method),
		Detail:   res.Detail,
	}, nil
}

// StartGuard starts the SOCKS5 egress guard and reports the transition
// to updater. An empty addr uses the configured listen address.
func StartGuard(addr string, updater StatusUpdater) {
	eng, err := getEngine()
	if err != nil {
		updater.OnStatusUpdate(StatusError, "Failed to create engine: "+err.Error())
		return
	}

	updater.OnStatusUpdate(StatusStarting, "Starting egress guard...")

	bound, err := eng.StartGuard(context.Background(), addr)
	if err != nil {
		updater.OnStatusUpdate(StatusError, "Failed to start guard: "+err.Error())
		return
	}
	updater.OnStatusUpdate(StatusRunning, "Guard is running on "+bound)
}

// StopGuard stops the egress guard.
func StopGuard(updater StatusUpdater) {
	mu.Lock()
	eng := engine
	mu.Unlock()

	if eng == nil {
		updater.OnStatusUpdate(StatusError, "Engine not initialized")
		return
	}
	if err := eng.Stop(); err != nil {
		updater.OnStatusUpdate(StatusError, "Failed to stop guard: "+err.Error())
		return
	}
	updater.OnStatusUpdate(StatusStopped, "Guard stopped.")
}

// GuardStatus returns a human-readable guard state.
func GuardStatus() string {
	mu.Lock()
	eng := engine
	mu.Unlock()

	if eng == nil {
		return "Guard stopped"
	}
	status, err := eng.Status()
	if err != nil {
		return "Unknown: " + err.Error()
	}
	return status
}
