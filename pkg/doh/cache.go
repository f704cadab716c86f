package doh

import (
	"time"

	lru "github.com/hashicorp/golang-lru"
)

const (
	defaultCacheTTL = 5 * time.Minute
	minCacheTTL     = 30 * time.Second
)

// answerCache remembers resolved addresses per hostname for a bounded
// time. It is owned by its Resolver rather than being process-global, so
// two resolvers never share or poison each other's state.
type answerCache struct {
	entries *lru.Cache
	maxTTL  time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	addrs       []Address
	refreshedAt time.Time
	ttl         time.Duration
}

func (e *cacheEntry) expired(now time.Time) bool {
	return now.Sub(e.refreshedAt) >= e.ttl
}

func newAnswerCache(size int, maxTTL time.Duration) (*answerCache, error) {
	entries, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &answerCache{entries: entries, maxTTL: maxTTL, now: time.Now}, nil
}

// get returns a copy of the cached addresses for hostname, expiring the
// entry lazily on access.
func (c *answerCache) get(hostname string) ([]Address, bool) {
	v, ok := c.entries.Get(hostname)
	if !ok {
		return nil, false
	}
	entry := v.(*cacheEntry)
	if entry.expired(c.now()) {
		c.entries.Remove(hostname)
		return nil, false
	}
	out := make([]Address, len(entry.addrs))
	copy(out, entry.addrs)
	return out, true
}

// set stores addrs under hostname. answerTTL comes from the smallest DNS
// answer TTL and is clamped into [minCacheTTL, maxTTL].
func (c *answerCache) set(hostname string, addrs []Address, answerTTL time.Duration) {
	if len(addrs) == 0 {
		return
	}
	ttl := answerTTL
	if ttl < minCacheTTL {
		ttl = minCacheTTL
	}
	if ttl > c.maxTTL {
		ttl = c.maxTTL
	}
	stored := make([]Address, len(addrs))
	copy(stored, addrs)
	c.entries.Add(hostname, &cacheEntry{addrs: stored, refreshedAt: c.now(), ttl: ttl})
}

func (c *answerCache) len() int {
	return c.entries.Len()
}

func (c *answerCache) purge() {
	c.entries.Purge()
}
