package doh

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/VividCortex/ewma"

	"github.com/domainstack/probekit/pkg/logging"
)

// defaultProbeHost is a stable name every public provider can resolve.
const defaultProbeHost = "example.com"

// ProviderHealth is the outcome of probing one provider once.
type ProviderHealth struct {
	Provider Provider
	Healthy  bool
	// Latency is this probe alone; Smoothed is the moving average over
	// every successful probe of this provider so far.
	Latency   time.Duration
	Smoothed  time.Duration
	Err       error
	CheckedAt time.Time
}

// HealthChecker probes every provider of a Resolver in parallel and
// keeps a smoothed latency per provider across rounds. Construct one per
// resolver and reuse it so the averages accumulate.
type HealthChecker struct {
	resolver  *Resolver
	probeHost string
	logger    logging.Logger

	mu       sync.Mutex
	averages map[string]ewma.MovingAverage
}

// NewHealthChecker wraps r. probeHost defaults to defaultProbeHost.
func NewHealthChecker(r *Resolver, probeHost string, logger logging.Logger) *HealthChecker {
	if probeHost == "" {
		probeHost = defaultProbeHost
	}
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &HealthChecker{
		resolver:  r,
		probeHost: probeHost,
		logger:    logger.With("component", "doh-health"),
		averages:  make(map[string]ewma.MovingAverage),
	}
}

// CheckAll probes all providers concurrently and returns their health
// sorted healthy-first, then fastest-first by smoothed latency.
func (h *HealthChecker) CheckAll(ctx context.Context) []ProviderHealth {
	providers := h.resolver.Providers()
	results := make([]ProviderHealth, len(providers))

	var wg sync.WaitGroup
	for i, p := range providers {
		wg.Add(1)
		go func(i int, p Provider) {
			defer wg.Done()
			results[i] = h.checkProvider(ctx, p)
		}(i, p)
	}
	wg.Wait()

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Healthy != results[j].Healthy {
			return results[i].Healthy
		}
		return results[i].Smoothed < results[j].Smoothed
	})
	return results
}

// checkProvider counts a clean empty answer as healthy: the probe cares
// about the transport path, not the probe host's zone contents.
func (h *HealthChecker) checkProvider(ctx context.Context, p Provider) ProviderHealth {
	start := time.Now()
	_, err := h.resolver.queryAddrsVia(ctx, p, h.probeHost)
	latency := time.Since(start)

	health := ProviderHealth{
		Provider:  p,
		Latency:   latency,
		CheckedAt: start,
	}
	if err != nil && !IsNoRecords(err) {
		health.Err = err
		h.logger.Warn("provider probe failed", "provider", p.Key, "error", err)
		return health
	}
	health.Healthy = true
	health.Smoothed = h.observe(p.Key, latency)
	h.logger.Debug("provider probe succeeded",
		"provider", p.Key, "latency", latency, "smoothed", health.Smoothed)
	return health
}

func (h *HealthChecker) observe(key string, latency time.Duration) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	avg, ok := h.averages[key]
	if !ok {
		avg = ewma.NewMovingAverage()
		h.averages[key] = avg
	}
	avg.Add(float64(latency))
	return time.Duration(avg.Value())
}
