package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheGetSet(t *testing.T) {
	c := NewMemoryCache(64)

	c.Set("a", []byte("alpha"), time.Minute)
	value, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("alpha"), value)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestMemoryCacheTTLExpiry(t *testing.T) {
	c := NewMemoryCache(64)

	c.Set("short", []byte("v"), 10*time.Millisecond)
	_, ok := c.Get("short")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("short")
	assert.False(t, ok, "expired entry must not be returned")
}

func TestMemoryCacheZeroTTLNotStored(t *testing.T) {
	c := NewMemoryCache(64)
	c.Set("k", []byte("v"), 0)
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestMemoryCacheCapacityBound(t *testing.T) {
	const capacity = 320
	c := NewMemoryCache(capacity)

	// Overfill by 4x; the entry count must never exceed capacity by more
	// than 5% at any sampled instant.
	for i := 0; i < capacity*4; i++ {
		c.Set(fmt.Sprintf("key-%d", i), []byte("v"), time.Minute)
		assert.LessOrEqual(t, c.Len(), int(float64(capacity)*1.05))
	}
}

func TestMemoryCacheLRUEviction(t *testing.T) {
	// Single-shard-sized cache behavior is approximated by hammering one
	// shard's worth of entries and checking recently used entries survive.
	c := NewMemoryCache(32)

	for i := 0; i < 32; i++ {
		c.Set(fmt.Sprintf("key-%d", i), []byte("v"), time.Minute)
	}

	// Touch key-0 to make it recently used, then insert enough new keys to
	// force evictions everywhere.
	c.Get("key-0")
	for i := 100; i < 164; i++ {
		c.Set(fmt.Sprintf("key-%d", i), []byte("v"), time.Minute)
	}

	assert.LessOrEqual(t, c.Len(), 33)
}

func TestMemoryCacheTrim(t *testing.T) {
	c := NewMemoryCache(100)
	for i := 0; i < 100; i++ {
		c.Set(fmt.Sprintf("key-%d", i), []byte("v"), time.Minute)
	}

	before := c.Len()
	removed := c.Trim(0.5)
	assert.Greater(t, removed, 0)
	assert.Less(t, c.Len(), before)
}

func TestMemoryCacheStats(t *testing.T) {
	c := NewMemoryCache(16)
	c.Set("a", []byte("v"), time.Minute)

	c.Get("a")
	c.Get("a")
	c.Get("missing")

	hits, misses := c.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)
}
