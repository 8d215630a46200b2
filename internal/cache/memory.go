package cache

import (
	"container/list"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"
)

const shardCount = 16

// MemoryCache is the mandatory in-process tier: a sharded key/value store
// with per-entry TTL and approximate-LRU eviction. Each shard holds its
// own lock and recency list, so eviction order is LRU within a shard and
// approximate-LRU overall.
type MemoryCache struct {
	shards     [shardCount]*memoryShard
	maxEntries int

	hits   atomic.Int64
	misses atomic.Int64
}

type memoryShard struct {
	mu       sync.Mutex
	order    *list.List // front = most recently used
	items    map[string]*list.Element
	capacity int
}

type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewMemoryCache creates a memory tier bounded to maxEntries.
func NewMemoryCache(maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	c := &MemoryCache{maxEntries: maxEntries}
	perShard := (maxEntries + shardCount - 1) / shardCount
	for i := range c.shards {
		c.shards[i] = &memoryShard{
			order:    list.New(),
			items:    make(map[string]*list.Element),
			capacity: perShard,
		}
	}
	return c
}

func (c *MemoryCache) shardFor(key string) *memoryShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%shardCount]
}

// Get returns the cached value for key, if present and unexpired.
func (c *MemoryCache) Get(key string) ([]byte, bool) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	entry := elem.Value.(*memoryEntry)
	if time.Now().After(entry.expiresAt) {
		s.order.Remove(elem)
		delete(s.items, key)
		c.misses.Add(1)
		return nil, false
	}
	s.order.MoveToFront(elem)
	c.hits.Add(1)
	return entry.value, true
}

// Set stores value under key for ttl, evicting the least recently used
// entries in the shard when it is full.
func (c *MemoryCache) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.items[key]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.value = value
		entry.expiresAt = time.Now().Add(ttl)
		s.order.MoveToFront(elem)
		return
	}

	elem := s.order.PushFront(&memoryEntry{
		key:       key,
		value:     value,
		expiresAt: time.Now().Add(ttl),
	})
	s.items[key] = elem

	for s.order.Len() > s.capacity {
		oldest := s.order.Back()
		if oldest == nil {
			break
		}
		s.order.Remove(oldest)
		delete(s.items, oldest.Value.(*memoryEntry).key)
	}
}

// Delete removes key from the cache.
func (c *MemoryCache) Delete(key string) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if elem, ok := s.items[key]; ok {
		s.order.Remove(elem)
		delete(s.items, key)
	}
}

// Len returns the current entry count across all shards.
func (c *MemoryCache) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.Lock()
		total += s.order.Len()
		s.mu.Unlock()
	}
	return total
}

// Capacity returns the configured maximum entry count.
func (c *MemoryCache) Capacity() int {
	return c.maxEntries
}

// Trim drops the least recently used fraction of each shard. Used under
// memory pressure; fraction is clamped to [0,1].
func (c *MemoryCache) Trim(fraction float64) int {
	if fraction <= 0 {
		return 0
	}
	if fraction > 1 {
		fraction = 1
	}
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		drop := int(float64(s.order.Len()) * fraction)
		for i := 0; i < drop; i++ {
			oldest := s.order.Back()
			if oldest == nil {
				break
			}
			s.order.Remove(oldest)
			delete(s.items, oldest.Value.(*memoryEntry).key)
			removed++
		}
		s.mu.Unlock()
	}
	return removed
}

// Stats returns cumulative hit and miss counts.
func (c *MemoryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
