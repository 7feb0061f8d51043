package venue

import (
	"context"
	"sync"
	"time"
)

// Default freshness windows per response kind. Order books go stale fastest;
// candle series tolerate the longest reuse.
const (
	tickerTTL  = 5 * time.Second
	candlesTTL = 30 * time.Second
	bookTTL    = 2 * time.Second

	cacheSweepInterval = 60 * time.Second
)

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// responseCache is a TTL keyed cache for venue read responses. Lookups of
// expired entries miss; a background sweep drops dead entries so the map
// does not grow unbounded across symbols.
type responseCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

func newResponseCache() *responseCache {
	return &responseCache{entries: make(map[string]cacheEntry)}
}

func (c *responseCache) get(key string, now time.Time) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || now.After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

func (c *responseCache) set(key string, value any, ttl time.Duration, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{value: value, expiresAt: now.Add(ttl)}
}

func (c *responseCache) sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// runSweeper evicts expired entries on an interval until ctx is cancelled.
func (c *responseCache) runSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = cacheSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.sweep(now)
		}
	}
}
