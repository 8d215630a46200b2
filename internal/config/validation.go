package config

import (
	"fmt"
)

// Validate checks the structural invariants of a loaded configuration.
// Adapter-specific fields are not validated here; the adapter factory owns
// those.
func Validate(cfg *Config) error {
	switch cfg.Cache.Strategy {
	case CacheStrategyHybrid, CacheStrategyMemory:
	default:
		return fmt.Errorf("cache.strategy must be %q or %q, got %q",
			CacheStrategyHybrid, CacheStrategyMemory, cfg.Cache.Strategy)
	}
	if cfg.Cache.Strategy == CacheStrategyHybrid && cfg.Cache.Remote.Addr == "" {
		return fmt.Errorf("cache.strategy is hybrid but cache.remote.addr is empty")
	}
	if cfg.Cache.Memory.MaxEntries <= 0 {
		return fmt.Errorf("cache.memory.maxEntries must be positive, got %d", cfg.Cache.Memory.MaxEntries)
	}

	switch cfg.Server.MCPTransport {
	case MCPTransportStdio, MCPTransportStreamableHTTP:
	default:
		return fmt.Errorf("server.mcpTransport must be %q or %q, got %q",
			MCPTransportStdio, MCPTransportStreamableHTTP, cfg.Server.MCPTransport)
	}

	seen := make(map[string]bool, len(cfg.Sources))
	for i, src := range cfg.Sources {
		if src.Name == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}
		if src.Type == "" {
			return fmt.Errorf("sources[%d] (%s): type is required", i, src.Name)
		}
		if seen[src.Name] {
			return fmt.Errorf("duplicate source name %q", src.Name)
		}
		seen[src.Name] = true
		if src.RefreshInterval < 0 {
			return fmt.Errorf("source %q: refreshInterval must not be negative", src.Name)
		}
	}

	if cfg.Matching.MinConfidence < 0 || cfg.Matching.MinConfidence > 1 {
		return fmt.Errorf("matching.minConfidence must be in [0,1], got %v", cfg.Matching.MinConfidence)
	}
	if cfg.Matching.MaxResults < 0 {
		return fmt.Errorf("matching.maxResults must not be negative, got %d", cfg.Matching.MaxResults)
	}
	if cfg.Performance.PerCallConcurrency <= 0 {
		return fmt.Errorf("performance.perCallConcurrency must be positive, got %d", cfg.Performance.PerCallConcurrency)
	}
	if cfg.Performance.GlobalConcurrency < cfg.Performance.PerCallConcurrency {
		return fmt.Errorf("performance.globalConcurrency (%d) must be at least perCallConcurrency (%d)",
			cfg.Performance.GlobalConcurrency, cfg.Performance.PerCallConcurrency)
	}

	return nil
}
