package config

import "time"

// Default cache TTLs per content type.
const (
	DefaultTTLRunbooks      = time.Hour
	DefaultTTLDecisionTrees = 40 * time.Minute
	DefaultTTLProcedures    = 30 * time.Minute
	DefaultTTLKnowledgeBase = 15 * time.Minute
	DefaultTTLListSources   = 5 * time.Minute
	DefaultTTLHealth        = 10 * time.Second
)

// GetDefaultConfig returns the configuration runhub starts from before the
// user's config.yaml is overlaid.
func GetDefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			HTTPHost:     "localhost",
			HTTPPort:     8420,
			MCPTransport: MCPTransportStreamableHTTP,
			MCPHost:      "localhost",
			MCPPort:      8421,
		},
		Cache: CacheConfig{
			Strategy: CacheStrategyMemory,
			Memory: MemoryCacheConfig{
				MaxEntries: 10000,
				DefaultTTL: Duration(15 * time.Minute),
			},
			Remote: RemoteCacheConfig{
				Breaker: BreakerConfig{
					FailureThreshold:  5,
					RollingWindow:     Duration(30 * time.Second),
					OpenDuration:      Duration(30 * time.Second),
					HalfOpenMaxProbes: 1,
					Timeout:           Duration(2 * time.Second),
				},
			},
		},
		Performance: PerformanceConfig{
			PerCallConcurrency:  10,
			GlobalConcurrency:   50,
			AdapterTimeout:      Duration(10 * time.Second),
			HealthCheckInterval: Duration(30 * time.Second),
			HealthCheckTimeout:  Duration(2 * time.Second),
			HealthWindow:        Duration(5 * time.Minute),
			RetryMaxAttempts:    3,
			WarmupDeadline:      Duration(30 * time.Second),
			AdapterBreaker: BreakerConfig{
				FailureThreshold:  5,
				RollingWindow:     Duration(30 * time.Second),
				OpenDuration:      Duration(30 * time.Second),
				HalfOpenMaxProbes: 1,
				Timeout:           Duration(10 * time.Second),
			},
		},
		ContentTypes: map[string]ContentTypeConfig{
			"runbooks":       {TTL: Duration(DefaultTTLRunbooks)},
			"decision_trees": {TTL: Duration(DefaultTTLDecisionTrees)},
			"procedures":     {TTL: Duration(DefaultTTLProcedures)},
			"knowledge_base": {TTL: Duration(DefaultTTLKnowledgeBase)},
			"list_sources":   {TTL: Duration(DefaultTTLListSources)},
			"health":         {TTL: Duration(DefaultTTLHealth)},
		},
		Matching: MatchingConfig{
			MinConfidence:       0.3,
			MaxResults:          10,
			SimilarityThreshold: 0.85,
			RunbookKeywords:     []string{"runbook", "playbook", "incident response"},
		},
		Storage: StorageConfig{
			DataDir: "./data",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// TTLFor returns the configured cache TTL for a content type, falling back
// to the memory tier default.
func (c *Config) TTLFor(contentType string) time.Duration {
	if ct, ok := c.ContentTypes[contentType]; ok && ct.TTL > 0 {
		return ct.TTL.Std()
	}
	return c.Cache.Memory.DefaultTTL.Std()
}
