package doh

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAddrs(ips ...string) []Address {
	out := make([]Address, 0, len(ips))
	for _, s := range ips {
		ip := net.ParseIP(s)
		family := 6
		if ip.To4() != nil {
			family = 4
		}
		out = append(out, Address{IP: ip, Family: family})
	}
	return out
}

func TestAnswerCacheRoundTrip(t *testing.T) {
	c, err := newAnswerCache(4, 5*time.Minute)
	require.NoError(t, err)

	c.set("a.test", testAddrs("192.0.2.1", "2001:db8::1"), time.Minute)
	got, ok := c.get("a.test")
	require.True(t, ok)
	assert.Equal(t, testAddrs("192.0.2.1", "2001:db8::1"), got)

	_, ok = c.get("b.test")
	assert.False(t, ok)
}

func TestAnswerCacheCopiesOnGet(t *testing.T) {
	c, err := newAnswerCache(4, 5*time.Minute)
	require.NoError(t, err)

	c.set("a.test", testAddrs("192.0.2.1"), time.Minute)
	got, ok := c.get("a.test")
	require.True(t, ok)
	got[0] = Address{IP: net.ParseIP("203.0.113.9"), Family: 4}

	again, ok := c.get("a.test")
	require.True(t, ok)
	assert.Equal(t, "192.0.2.1", again[0].IP.String(), "callers must not be able to mutate cached entries")
}

func TestAnswerCacheExpires(t *testing.T) {
	c, err := newAnswerCache(4, 5*time.Minute)
	require.NoError(t, err)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.set("a.test", testAddrs("192.0.2.1"), time.Minute)

	now = now.Add(59 * time.Second)
	_, ok := c.get("a.test")
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok = c.get("a.test")
	assert.False(t, ok)
	assert.Equal(t, 0, c.len(), "expired entry is removed on access")
}

func TestAnswerCacheClampsShortTTL(t *testing.T) {
	c, err := newAnswerCache(4, 5*time.Minute)
	require.NoError(t, err)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	// One-second answer TTLs are raised to the 30 second floor.
	c.set("a.test", testAddrs("192.0.2.1"), time.Second)

	now = now.Add(29 * time.Second)
	_, ok := c.get("a.test")
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok = c.get("a.test")
	assert.False(t, ok)
}

func TestAnswerCacheClampsLongTTL(t *testing.T) {
	c, err := newAnswerCache(4, time.Minute)
	require.NoError(t, err)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	// A day-long answer TTL is capped at the configured maximum.
	c.set("a.test", testAddrs("192.0.2.1"), 24*time.Hour)

	now = now.Add(59 * time.Second)
	_, ok := c.get("a.test")
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok = c.get("a.test")
	assert.False(t, ok)
}

func TestAnswerCacheIgnoresEmptySets(t *testing.T) {
	c, err := newAnswerCache(4, 5*time.Minute)
	require.NoError(t, err)

	c.set("a.test", nil, time.Minute)
	_, ok := c.get("a.test")
	assert.False(t, ok)
	assert.Equal(t, 0, c.len())
}

func TestAnswerCacheEvictsOldest(t *testing.T) {
	c, err := newAnswerCache(2, 5*time.Minute)
	require.NoError(t, err)

	c.set("a.test", testAddrs("192.0.2.1"), time.Minute)
	c.set("b.test", testAddrs("192.0.2.2"), time.Minute)
	c.set("c.test", testAddrs("192.0.2.3"), time.Minute)

	assert.Equal(t, 2, c.len())
	_, ok := c.get("a.test")
	assert.False(t, ok, "least recently used entry is evicted first")

	c.purge()
	assert.Equal(t, 0, c.len())
}
