package adapter

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"runhub/internal/api"
	"runhub/internal/breaker"
	"runhub/internal/index"
	"runhub/pkg/logging"
)

const (
	initRetryAttempts = 3
	cleanupTimeout    = 10 * time.Second
)

// Instance is one managed adapter with its runtime state.
type Instance struct {
	Config  api.SourceConfig
	Adapter api.Adapter
	State   api.AdapterState
}

// Manager owns the adapter instances for all configured sources. It
// creates them through the registry, drives initialization with retry,
// supports hot replacement and guarantees cleanup on shutdown.
type Manager struct {
	registry *Registry
	breakers *breaker.Set

	mu        sync.RWMutex
	instances map[string]*Instance
	order     []string
}

// NewManager creates a manager backed by the given registry and breaker
// set.
func NewManager(registry *Registry, breakers *breaker.Set) *Manager {
	return &Manager{
		registry:  registry,
		breakers:  breakers,
		instances: make(map[string]*Instance),
	}
}

// Initialize creates and initializes an adapter per enabled source. A
// source that fails to initialize is recorded in the failed state and does
// not block the others; the engine starts degraded rather than not at all.
func (m *Manager) Initialize(ctx context.Context, sources []api.SourceConfig) error {
	var lastErr error
	for _, cfg := range sources {
		if !cfg.Enabled {
			logging.Info("Adapter", "Source %s is disabled, skipping", cfg.Name)
			continue
		}
		if err := m.startInstance(ctx, cfg); err != nil {
			logging.Error("Adapter", err, "Source %s failed to initialize", cfg.Name)
			lastErr = err
		}
	}
	m.mu.RLock()
	ready := 0
	for _, inst := range m.instances {
		if inst.State == api.StateReady {
			ready++
		}
	}
	total := len(m.instances)
	m.mu.RUnlock()
	if total > 0 && ready == 0 {
		return fmt.Errorf("no source initialized successfully: %w", lastErr)
	}
	return nil
}

func (m *Manager) startInstance(ctx context.Context, cfg api.SourceConfig) error {
	ad, err := m.registry.Create(cfg)
	if err != nil {
		return err
	}

	m.setInstance(cfg, ad, api.StateInitializing)

	err = breaker.Retry(ctx, initRetryAttempts, func(ctx context.Context) error {
		return ad.Initialize(ctx, cfg)
	})
	if err != nil {
		m.setState(cfg.Name, api.StateFailed)
		m.cleanupInstance(cfg.Name, ad)
		return fmt.Errorf("initializing source %s: %w", cfg.Name, err)
	}

	m.setState(cfg.Name, api.StateReady)
	logging.Info("Adapter", "Source %s (%s) ready", cfg.Name, cfg.Type)
	return nil
}

// Replace swaps the named source for a freshly initialized instance built
// from the new configuration. The old instance keeps serving until the new
// one is ready; its cleanup failure is logged, not propagated.
func (m *Manager) Replace(ctx context.Context, cfg api.SourceConfig) error {
	ad, err := m.registry.Create(cfg)
	if err != nil {
		return err
	}
	if err := breaker.Retry(ctx, initRetryAttempts, func(ctx context.Context) error {
		return ad.Initialize(ctx, cfg)
	}); err != nil {
		m.cleanupInstance(cfg.Name, ad)
		return fmt.Errorf("initializing replacement for source %s: %w", cfg.Name, err)
	}

	m.mu.Lock()
	old := m.instances[cfg.Name]
	m.instances[cfg.Name] = &Instance{Config: cfg, Adapter: ad, State: api.StateReady}
	if old == nil {
		m.order = append(m.order, cfg.Name)
	}
	m.mu.Unlock()

	if old != nil {
		m.cleanupInstance(cfg.Name, old.Adapter)
	}
	logging.Info("Adapter", "Source %s replaced", cfg.Name)
	return nil
}

// Cleanup releases every adapter. Always called on shutdown; errors are
// aggregated so one failing adapter never skips the rest.
func (m *Manager) Cleanup(ctx context.Context) error {
	m.mu.Lock()
	instances := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		inst.State = api.StateShuttingDown
		instances = append(instances, inst)
	}
	m.mu.Unlock()

	var firstErr error
	for _, inst := range instances {
		cleanupCtx, cancel := context.WithTimeout(ctx, cleanupTimeout)
		if err := inst.Adapter.Cleanup(cleanupCtx); err != nil {
			logging.Error("Adapter", err, "Cleanup of source %s failed", inst.Config.Name)
			if firstErr == nil {
				firstErr = err
			}
		}
		cancel()
	}
	return firstErr
}

// Get returns the named instance.
func (m *Manager) Get(name string) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[name]
	if !ok {
		return nil, false
	}
	copied := *inst
	return &copied, true
}

// All returns every managed instance in name order.
func (m *Manager) All() []*Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Instance, 0, len(m.order))
	for _, name := range m.order {
		if inst, ok := m.instances[name]; ok {
			copied := *inst
			out = append(out, &copied)
		}
	}
	return out
}

// SetState records a state transition, normally driven by the health
// monitor flipping ready instances to degraded and back.
func (m *Manager) SetState(name string, state api.AdapterState) {
	m.setState(name, state)
}

// State reports the named instance's lifecycle state.
func (m *Manager) State(name string) api.AdapterState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if inst, ok := m.instances[name]; ok {
		return inst.State
	}
	return api.StateUninitialized
}

// Breaker returns the circuit breaker guarding the named source.
func (m *Manager) Breaker(name string) *breaker.Breaker {
	return m.breakers.Get("source-" + name)
}

// Sources implements index.Provider over the serving instances.
func (m *Manager) Sources() []index.Source {
	var out []index.Source
	for _, inst := range m.All() {
		if !serving(inst.State) {
			continue
		}
		out = append(out, index.Source{
			Name:            inst.Config.Name,
			Adapter:         inst.Adapter,
			RefreshInterval: inst.Config.RefreshInterval,
		})
	}
	return out
}

// serving reports whether an instance in this state handles traffic.
// Degraded instances still serve; their results are tagged downstream.
func serving(state api.AdapterState) bool {
	return state == api.StateReady || state == api.StateDegraded
}

func (m *Manager) setInstance(cfg api.SourceConfig, ad api.Adapter, state api.AdapterState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.instances[cfg.Name]; !exists {
		m.order = append(m.order, cfg.Name)
	}
	m.instances[cfg.Name] = &Instance{Config: cfg, Adapter: ad, State: state}
	sort.Strings(m.order)
}

func (m *Manager) setState(name string, state api.AdapterState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.instances[name]; ok && inst.State != state {
		logging.Info("Adapter", "Source %s transitioned %s -> %s", name, inst.State, state)
		inst.State = state
	}
}

func (m *Manager) cleanupInstance(name string, ad api.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := ad.Cleanup(ctx); err != nil {
		logging.Error("Adapter", err, "Cleanup of source %s failed", name)
	}
}

// Credential resolves a source's credential reference from the
// environment. The resolved value is returned to the caller only and is
// never logged; a configured but unset variable is a configuration error
// naming the variable, not the value.
func Credential(cfg api.SourceConfig) (string, error) {
	if cfg.Auth.EnvVar == "" {
		return "", nil
	}
	value, ok := os.LookupEnv(cfg.Auth.EnvVar)
	if !ok || value == "" {
		return "", api.NewError(api.ErrConfiguration,
			"source %s references credential env var %s, which is not set", cfg.Name, cfg.Auth.EnvVar)
	}
	return value, nil
}
