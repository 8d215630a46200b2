package health

import (
	"context"
	"sync"
	"time"

	"runhub/internal/adapter"
	"runhub/internal/api"
	"runhub/pkg/logging"
)

// Config tunes the monitor.
type Config struct {
	Interval      time.Duration
	ProbeTimeout  time.Duration
	Window        time.Duration
	LatencyTarget time.Duration
}

// DefaultConfig returns the monitor defaults: a probe every 30s with a 2s
// timeout, classified over a five minute window against a 500ms p95
// target.
func DefaultConfig() Config {
	return Config{
		Interval:      30 * time.Second,
		ProbeTimeout:  2 * time.Second,
		Window:        5 * time.Minute,
		LatencyTarget: 500 * time.Millisecond,
	}
}

// Monitor periodically probes every managed adapter and classifies each
// one as healthy, degraded or unhealthy.
type Monitor struct {
	cfg     Config
	manager *adapter.Manager
	metrics *Metrics

	mu        sync.RWMutex
	windows   map[string]*window
	snapshots map[string]api.HealthSnapshot

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a monitor over the manager's adapters. metrics may be
// nil in tests.
func NewMonitor(cfg Config, manager *adapter.Manager, metrics *Metrics) *Monitor {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.LatencyTarget <= 0 {
		cfg.LatencyTarget = def.LatencyTarget
	}
	return &Monitor{
		cfg:       cfg,
		manager:   manager,
		metrics:   metrics,
		windows:   make(map[string]*window),
		snapshots: make(map[string]api.HealthSnapshot),
	}
}

// Start launches the probe loop. The first round runs immediately so
// health data exists before the first tool call.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.probeAll(ctx)
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.probeAll(ctx)
			}
		}
	}()
}

// Stop halts the probe loop and waits for the in-flight round.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Monitor) probeAll(ctx context.Context) {
	for _, inst := range m.manager.All() {
		if inst.State == api.StateFailed || inst.State == api.StateShuttingDown {
			continue
		}
		m.probeOne(ctx, inst)
	}
}

func (m *Monitor) probeOne(ctx context.Context, inst *adapter.Instance) {
	name := inst.Config.Name
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	start := time.Now()
	result := inst.Adapter.HealthCheck(probeCtx)
	latency := time.Since(start)
	cancel()

	ok := result.Status == api.HealthHealthy || result.Status == api.HealthDegraded
	if latency > m.cfg.ProbeTimeout {
		ok = false
	}

	m.mu.Lock()
	w, exists := m.windows[name]
	if !exists {
		w = newWindow(m.cfg.Window)
		m.windows[name] = w
	}
	w.add(probe{at: start, ok: ok, latency: latency})
	snap := m.classifyLocked(name, w, result)
	m.snapshots[name] = snap
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ObserveProbe(name, ok, latency)
	}

	prev := m.manager.State(name)
	next := stateFor(snap.Status, prev)
	if next != prev {
		m.manager.SetState(name, next)
	}
	if snap.Status == api.HealthUnhealthy {
		logging.Warn("Health", "Source %s is unhealthy: %s", name, snap.Detail)
	}
}

// classifyLocked derives the adapter's status from its window and breaker.
// Callers hold m.mu.
func (m *Monitor) classifyLocked(name string, w *window, last api.HealthSnapshot) api.HealthSnapshot {
	rate := w.successRate()
	p95 := w.percentile(0.95)
	snap := api.HealthSnapshot{
		LastCheckAt:         time.Now(),
		LastSuccessAt:       w.lastSuccess(),
		LatencyMS:           p95.Milliseconds(),
		ConsecutiveFailures: w.consecutiveFailures(),
		ErrorRate:           1 - rate,
		Detail:              last.Detail,
		P50:                 w.percentile(0.50),
		P95:                 p95,
		P99:                 w.percentile(0.99),
	}

	breakerOpen := m.manager.Breaker(name).IsOpen()
	switch {
	case breakerOpen, rate < 0.90, m.cfg.LatencyTarget > 0 && p95 >= 2*m.cfg.LatencyTarget:
		snap.Status = api.HealthUnhealthy
		if breakerOpen && snap.Detail == "" {
			snap.Detail = "circuit breaker open"
		}
	case rate < 0.99, p95 > m.cfg.LatencyTarget:
		snap.Status = api.HealthDegraded
	default:
		snap.Status = api.HealthHealthy
	}
	return snap
}

// stateFor maps a health status onto the adapter lifecycle. Only ready and
// degraded flip back and forth; failed and shutting-down states are owned
// by the manager.
func stateFor(status api.HealthStatus, prev api.AdapterState) api.AdapterState {
	if prev != api.StateReady && prev != api.StateDegraded {
		return prev
	}
	if status == api.HealthHealthy {
		return api.StateReady
	}
	return api.StateDegraded
}

// Status returns the latest health snapshot for the adapter. Adapters not
// yet probed report unknown.
func (m *Monitor) Status(name string) api.HealthSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if snap, ok := m.snapshots[name]; ok {
		return snap
	}
	return api.HealthSnapshot{Status: api.HealthUnknown}
}

// Healthy reports whether the adapter may participate in query fan-out.
// Unknown counts as healthy so a fresh engine serves before the first
// probe round lands.
func (m *Monitor) Healthy(name string) bool {
	return m.Status(name).Status != api.HealthUnhealthy
}

// Degraded reports whether the adapter serves with degraded quality.
func (m *Monitor) Degraded(name string) bool {
	return m.Status(name).Status == api.HealthDegraded
}

// EngineHealth aggregates adapter health into the engine-level status:
// unhealthy when no adapter serves, degraded when any adapter is not
// healthy, healthy otherwise.
func (m *Monitor) EngineHealth() api.HealthSnapshot {
	instances := m.manager.All()
	snap := api.HealthSnapshot{Status: api.HealthHealthy, LastCheckAt: time.Now()}
	if len(instances) == 0 {
		snap.Status = api.HealthUnhealthy
		snap.Detail = "no sources configured"
		return snap
	}

	serving := 0
	for _, inst := range instances {
		status := m.Status(inst.Config.Name).Status
		if status != api.HealthUnhealthy && inst.State != api.StateFailed {
			serving++
		}
		if status != api.HealthHealthy {
			snap.Status = api.HealthDegraded
		}
	}
	if serving == 0 {
		snap.Status = api.HealthUnhealthy
		snap.Detail = "no healthy sources"
	}
	return snap
}
