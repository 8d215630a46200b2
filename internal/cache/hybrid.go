package cache

import (
	"context"
	"sync/atomic"
	"time"

	"runhub/pkg/logging"

	"golang.org/x/sync/singleflight"
)

// Tier names the cache tier that served a read.
type Tier string

const (
	TierNone   Tier = ""
	TierMemory Tier = "memory"
	TierRemote Tier = "remote"
)

// Manager coordinates the two cache tiers with read-through and
// write-through semantics. With no remote tier configured it behaves as a
// memory-only cache.
type Manager struct {
	memory *MemoryCache
	remote *RemoteCache // nil in memory-only mode

	group singleflight.Group

	remoteHits   atomic.Int64
	remoteMisses atomic.Int64
	fills        atomic.Int64
}

// NewManager creates a cache manager. remote may be nil for memory-only
// operation.
func NewManager(memory *MemoryCache, remote *RemoteCache) *Manager {
	return &Manager{memory: memory, remote: remote}
}

// Get checks both tiers without invoking a producer.
func (m *Manager) Get(ctx context.Context, key string) ([]byte, Tier) {
	if value, ok := m.memory.Get(key); ok {
		return value, TierMemory
	}
	if m.remote == nil {
		return nil, TierNone
	}
	value, ok, err := m.remote.Get(ctx, key)
	if err != nil {
		logging.Debug("Cache", "Remote read failed for key digest %.12s: %v", key, err)
		return nil, TierNone
	}
	if !ok {
		m.remoteMisses.Add(1)
		return nil, TierNone
	}
	m.remoteHits.Add(1)
	return value, TierRemote
}

// GetOrFill reads through both tiers, invoking produce on a full miss and
// writing the produced value back to both. Concurrent misses on the same
// key share a single producer call. Remote writes are fire-and-forget:
// redis being down never fails the caller.
func (m *Manager) GetOrFill(ctx context.Context, key string, ttl time.Duration, produce func(ctx context.Context) ([]byte, error)) ([]byte, Tier, error) {
	if value, tier := m.Get(ctx, key); tier != TierNone {
		if tier == TierRemote {
			// Promote to the memory tier for subsequent reads.
			m.memory.Set(key, value, ttl)
		}
		return value, tier, nil
	}

	result, err, _ := m.group.Do(key, func() (any, error) {
		// Re-check memory: another caller may have filled while this one
		// waited on the flight group.
		if value, ok := m.memory.Get(key); ok {
			return value, nil
		}
		value, err := produce(ctx)
		if err != nil {
			return nil, err
		}
		m.fills.Add(1)
		m.memory.Set(key, value, ttl)
		m.writeRemoteAsync(key, value, ttl)
		return value, nil
	})
	if err != nil {
		return nil, TierNone, err
	}
	return result.([]byte), TierNone, nil
}

// writeRemoteAsync writes the value to the remote tier in the background.
func (m *Manager) writeRemoteAsync(key string, value []byte, ttl time.Duration) {
	if m.remote == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.remote.Set(ctx, key, value, ttl); err != nil {
			logging.Debug("Cache", "Remote write failed for key digest %.12s: %v", key, err)
		}
	}()
}

// Put writes a value through both tiers outside a read-through flow.
func (m *Manager) Put(key string, value []byte, ttl time.Duration) {
	m.memory.Set(key, value, ttl)
	m.writeRemoteAsync(key, value, ttl)
}

// Warm inserts a value into the memory tier directly. Used by startup
// warmup.
func (m *Manager) Warm(key string, value []byte, ttl time.Duration) {
	m.memory.Set(key, value, ttl)
}

// Memory exposes the memory tier for bounds sampling.
func (m *Manager) Memory() *MemoryCache {
	return m.memory
}

// RemoteAvailable reports whether a remote tier is configured and its
// breaker is not open.
func (m *Manager) RemoteAvailable() bool {
	return m.remote != nil && m.remote.BreakerState() != "open"
}

// RemoteConfigured reports whether a remote tier exists at all.
func (m *Manager) RemoteConfigured() bool {
	return m.remote != nil
}

// Stats summarizes cache activity per tier.
type Stats struct {
	MemoryHits   int64 `json:"memory_hits"`
	MemoryMisses int64 `json:"memory_misses"`
	RemoteHits   int64 `json:"remote_hits"`
	RemoteMisses int64 `json:"remote_misses"`
	Fills        int64 `json:"fills"`
	Entries      int   `json:"entries"`
	Capacity     int   `json:"capacity"`
}

// Stats returns a snapshot of cache counters.
func (m *Manager) Stats() Stats {
	hits, misses := m.memory.Stats()
	return Stats{
		MemoryHits:   hits,
		MemoryMisses: misses,
		RemoteHits:   m.remoteHits.Load(),
		RemoteMisses: m.remoteMisses.Load(),
		Fills:        m.fills.Load(),
		Entries:      m.memory.Len(),
		Capacity:     m.memory.Capacity(),
	}
}
