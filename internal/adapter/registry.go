package adapter

import (
	"fmt"
	"sort"
	"sync"

	"runhub/internal/api"
)

// Registry maps source types to adapter factories. Registrations replace
// silently until Freeze; after that the set is immutable and registration
// attempts return an error instead of mutating shared state mid-flight.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]api.AdapterFactory
	frozen    bool
}

// NewRegistry creates an empty factory registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]api.AdapterFactory)}
}

// Register installs a factory for the source type, replacing any prior one.
func (r *Registry) Register(sourceType string, factory api.AdapterFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("adapter registry is frozen, cannot register %q", sourceType)
	}
	if sourceType == "" || factory == nil {
		return fmt.Errorf("adapter registration requires a type and a factory")
	}
	r.factories[sourceType] = factory
	return nil
}

// Freeze seals the registry. Called once when bootstrap finishes wiring.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Create constructs an adapter for the source configuration. An unknown
// type is a configuration error naming the registered alternatives.
func (r *Registry) Create(cfg api.SourceConfig) (api.Adapter, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, api.NewError(api.ErrConfiguration,
			"unknown source type %q for source %s (registered: %v)", cfg.Type, cfg.Name, r.Types())
	}
	return factory(cfg)
}

// Types returns the registered source types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
