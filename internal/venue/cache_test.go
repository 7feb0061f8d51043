package venue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseCacheTTL(t *testing.T) {
	c := newResponseCache()
	now := time.Now()

	c.set("ticker:BTC/USDT", 42.0, 5*time.Second, now)

	v, ok := c.get("ticker:BTC/USDT", now.Add(4*time.Second))
	require.True(t, ok)
	assert.Equal(t, 42.0, v)

	_, ok = c.get("ticker:BTC/USDT", now.Add(6*time.Second))
	assert.False(t, ok, "entry past its TTL must miss")

	_, ok = c.get("ticker:ETH/USDT", now)
	assert.False(t, ok, "unknown key must miss")
}

func TestResponseCacheSetOverwrites(t *testing.T) {
	c := newResponseCache()
	now := time.Now()

	c.set("book:BTC/USDT:10", "old", 2*time.Second, now)
	c.set("book:BTC/USDT:10", "new", 2*time.Second, now.Add(time.Second))

	v, ok := c.get("book:BTC/USDT:10", now.Add(2500*time.Millisecond))
	require.True(t, ok, "overwrite must refresh the expiry")
	assert.Equal(t, "new", v)
}

func TestResponseCacheSweep(t *testing.T) {
	c := newResponseCache()
	now := time.Now()

	c.set("a", 1, time.Second, now)
	c.set("b", 2, 10*time.Second, now)
	c.set("c", 3, time.Second, now)

	removed := c.sweep(now.Add(5 * time.Second))
	assert.Equal(t, 2, removed)

	_, ok := c.get("b", now.Add(5*time.Second))
	assert.True(t, ok, "live entry survives the sweep")
}
