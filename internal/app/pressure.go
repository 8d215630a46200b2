package app

import (
	"context"
	"runtime"
	"sync"
	"time"

	"runhub/internal/cache"
	"runhub/pkg/logging"
)

const (
	pressureSampleInterval = 30 * time.Second

	// pressureHeapLimit is the heap size beyond which the memory cache
	// sheds entries.
	pressureHeapLimit = 1 << 30 // 1 GiB

	// pressureTrimFraction is the share of cache entries evicted per
	// pressure event, oldest first.
	pressureTrimFraction = 0.25
)

// pressureSampler periodically samples heap usage and trims the memory
// cache when the process grows past the limit.
type pressureSampler struct {
	memory *cache.MemoryCache
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newPressureSampler(memory *cache.MemoryCache) *pressureSampler {
	return &pressureSampler{memory: memory}
}

func (p *pressureSampler) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(pressureSampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.sample()
			}
		}
	}()
}

func (p *pressureSampler) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *pressureSampler) sample() {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	if stats.HeapAlloc < pressureHeapLimit {
		return
	}
	evicted := p.memory.Trim(pressureTrimFraction)
	logging.Warn("MemoryPressure", "Heap at %d MiB, evicted %d cache entries",
		stats.HeapAlloc>>20, evicted)
}
