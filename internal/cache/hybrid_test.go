package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"runhub/internal/breaker"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRemote(t *testing.T) (*RemoteCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	b := breaker.New(UpstreamRemoteCache, breaker.Settings{
		FailureThreshold:  2,
		RollingWindow:     time.Minute,
		OpenDuration:      time.Minute,
		HalfOpenMaxProbes: 1,
		Timeout:           time.Second,
	})
	remote := NewRemoteCache(RemoteOptions{Addr: mr.Addr()}, b)
	t.Cleanup(func() { _ = remote.Close() })
	return remote, mr
}

func TestManagerMemoryOnlyFill(t *testing.T) {
	m := NewManager(NewMemoryCache(64), nil)
	ctx := context.Background()

	var produced int
	producer := func(ctx context.Context) ([]byte, error) {
		produced++
		return []byte("result"), nil
	}

	value, tier, err := m.GetOrFill(ctx, "k", time.Minute, producer)
	require.NoError(t, err)
	assert.Equal(t, TierNone, tier, "first read is a miss")
	assert.Equal(t, []byte("result"), value)

	value, tier, err = m.GetOrFill(ctx, "k", time.Minute, producer)
	require.NoError(t, err)
	assert.Equal(t, TierMemory, tier)
	assert.Equal(t, []byte("result"), value)
	assert.Equal(t, 1, produced, "second read must not invoke the producer")
}

func TestManagerRemoteReadThrough(t *testing.T) {
	remote, mr := newTestRemote(t)
	m := NewManager(NewMemoryCache(64), remote)
	ctx := context.Background()

	// Seed only the remote tier, simulating a fill by another instance.
	mr.Set("shared-key", "shared-value")

	value, tier, err := m.GetOrFill(ctx, "shared-key", time.Minute, func(ctx context.Context) ([]byte, error) {
		t.Fatal("producer must not run when the remote tier has the value")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, TierRemote, tier)
	assert.Equal(t, []byte("shared-value"), value)

	// The value is promoted to memory.
	_, tier, err = m.GetOrFill(ctx, "shared-key", time.Minute, nil)
	require.NoError(t, err)
	assert.Equal(t, TierMemory, tier)
}

func TestManagerWritesThroughToRemote(t *testing.T) {
	remote, mr := newTestRemote(t)
	m := NewManager(NewMemoryCache(64), remote)
	ctx := context.Background()

	_, _, err := m.GetOrFill(ctx, "filled", time.Minute, func(ctx context.Context) ([]byte, error) {
		return []byte("produced"), nil
	})
	require.NoError(t, err)

	// The remote write is asynchronous.
	assert.Eventually(t, func() bool {
		v, err := mr.Get("filled")
		return err == nil && v == "produced"
	}, time.Second, 10*time.Millisecond)
}

func TestManagerRemoteDownDegradesGracefully(t *testing.T) {
	remote, mr := newTestRemote(t)
	m := NewManager(NewMemoryCache(64), remote)
	ctx := context.Background()

	mr.Close()

	// Remote failures must not fail the caller; the producer still runs.
	value, _, err := m.GetOrFill(ctx, "k", time.Minute, func(ctx context.Context) ([]byte, error) {
		return []byte("served"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("served"), value)

	// Subsequent reads come from memory even with redis gone.
	_, tier, err := m.GetOrFill(ctx, "k", time.Minute, nil)
	require.NoError(t, err)
	assert.Equal(t, TierMemory, tier)
}

func TestManagerProducerErrorPropagates(t *testing.T) {
	m := NewManager(NewMemoryCache(64), nil)

	boom := errors.New("backend down")
	_, _, err := m.GetOrFill(context.Background(), "k", time.Minute, func(ctx context.Context) ([]byte, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	// Failed fills are not cached.
	_, tier := m.Get(context.Background(), "k")
	assert.Equal(t, TierNone, tier)
}

func TestManagerSingleflightCollapsesConcurrentFills(t *testing.T) {
	m := NewManager(NewMemoryCache(64), nil)
	ctx := context.Background()

	var produced sync.Map
	var producedCount int
	var mu sync.Mutex

	producer := func(ctx context.Context) ([]byte, error) {
		mu.Lock()
		producedCount++
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		return []byte("once"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			value, _, err := m.GetOrFill(ctx, "hot-key", time.Minute, producer)
			assert.NoError(t, err)
			produced.Store(i, string(value))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, producedCount, "concurrent misses share one producer call")
	produced.Range(func(_, v any) bool {
		assert.Equal(t, "once", v)
		return true
	})
}
