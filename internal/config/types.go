package config

import (
	"fmt"
	"time"

	"runhub/internal/api"
)

// Duration wraps time.Duration with YAML support for human-readable values
// such as "30s" or "1h".
type Duration time.Duration

// UnmarshalYAML accepts either a duration string or an integer nanosecond
// count.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := unmarshal(&n); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\" or an integer")
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML renders the duration in its string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std converts to a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the top-level declarative configuration for runhub.
type Config struct {
	Server       ServerConfig                 `yaml:"server"`
	Cache        CacheConfig                  `yaml:"cache"`
	Sources      []SourceEntry                `yaml:"sources"`
	Performance  PerformanceConfig            `yaml:"performance"`
	ContentTypes map[string]ContentTypeConfig `yaml:"contentTypes"`
	Matching     MatchingConfig               `yaml:"matching"`
	Storage      StorageConfig                `yaml:"storage"`
	Logging      LoggingConfig                `yaml:"logging"`
}

// StorageConfig locates runhub's local state.
type StorageConfig struct {
	// DataDir holds the resolution feedback log and any other durable
	// engine state.
	DataDir string `yaml:"dataDir,omitempty"`
}

// ServerConfig configures the two wire surfaces.
type ServerConfig struct {
	HTTPHost     string `yaml:"httpHost,omitempty"`
	HTTPPort     int    `yaml:"httpPort,omitempty"`
	MCPTransport string `yaml:"mcpTransport,omitempty"` // "stdio" or "streamable-http"
	MCPHost      string `yaml:"mcpHost,omitempty"`
	MCPPort      int    `yaml:"mcpPort,omitempty"`
}

// MCP transport names.
const (
	MCPTransportStdio          = "stdio"
	MCPTransportStreamableHTTP = "streamable-http"
)

// CacheConfig configures the two cache tiers.
type CacheConfig struct {
	Strategy string            `yaml:"strategy,omitempty"` // "hybrid" or "memory"
	Memory   MemoryCacheConfig `yaml:"memory,omitempty"`
	Remote   RemoteCacheConfig `yaml:"remote,omitempty"`
}

// Cache strategies.
const (
	CacheStrategyHybrid = "hybrid"
	CacheStrategyMemory = "memory"
)

// MemoryCacheConfig bounds the in-process tier.
type MemoryCacheConfig struct {
	MaxEntries int      `yaml:"maxEntries,omitempty"`
	DefaultTTL Duration `yaml:"defaultTTL,omitempty"`
}

// RemoteCacheConfig configures the optional redis tier. The password is an
// indirect reference resolved from the named environment variable.
type RemoteCacheConfig struct {
	Addr        string        `yaml:"addr,omitempty"`
	DB          int           `yaml:"db,omitempty"`
	PasswordEnv string        `yaml:"passwordEnv,omitempty"`
	Breaker     BreakerConfig `yaml:"breaker,omitempty"`
}

// BreakerConfig parameterizes one circuit breaker.
type BreakerConfig struct {
	FailureThreshold  int      `yaml:"failureThreshold,omitempty"`
	RollingWindow     Duration `yaml:"rollingWindow,omitempty"`
	OpenDuration      Duration `yaml:"openDuration,omitempty"`
	HalfOpenMaxProbes int      `yaml:"halfOpenMaxProbes,omitempty"`
	Timeout           Duration `yaml:"timeout,omitempty"`
}

// SourceEntry is one configured documentation source. Adapter-specific
// fields are carried opaquely in Extra and validated by the adapter
// factory.
type SourceEntry struct {
	Name            string         `yaml:"name"`
	Type            string         `yaml:"type"`
	Priority        int            `yaml:"priority,omitempty"`
	RefreshInterval Duration       `yaml:"refreshInterval,omitempty"`
	Enabled         *bool          `yaml:"enabled,omitempty"`
	AuthEnv         string         `yaml:"authEnv,omitempty"`
	Extra           map[string]any `yaml:",inline"`
}

// IsEnabled treats sources as enabled unless explicitly disabled.
func (s SourceEntry) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// ToAPI converts the entry to the runtime SourceConfig.
func (s SourceEntry) ToAPI() api.SourceConfig {
	return api.SourceConfig{
		Name:            s.Name,
		Type:            s.Type,
		Priority:        s.Priority,
		RefreshInterval: s.RefreshInterval.Std(),
		Enabled:         s.IsEnabled(),
		Auth:            api.AuthRef{EnvVar: s.AuthEnv},
		Extra:           s.Extra,
	}
}

// PerformanceConfig bounds concurrency, deadlines and retries.
type PerformanceConfig struct {
	PerCallConcurrency  int      `yaml:"perCallConcurrency,omitempty"`
	GlobalConcurrency   int      `yaml:"globalConcurrency,omitempty"`
	AdapterTimeout      Duration `yaml:"adapterTimeout,omitempty"`
	HealthCheckInterval Duration `yaml:"healthCheckInterval,omitempty"`
	HealthCheckTimeout  Duration `yaml:"healthCheckTimeout,omitempty"`
	HealthWindow        Duration `yaml:"healthWindow,omitempty"`
	RetryMaxAttempts    int      `yaml:"retryMaxAttempts,omitempty"`
	WarmupDeadline      Duration `yaml:"warmupDeadline,omitempty"`

	// DeletionGrace switches the indexer from the default two-pass deletion
	// rule to a time-based grace window when set.
	DeletionGrace Duration `yaml:"deletionGrace,omitempty"`

	// CheckpointDir persists per-adapter fingerprint maps between restarts.
	// Empty disables checkpointing.
	CheckpointDir string `yaml:"checkpointDir,omitempty"`

	AdapterBreaker BreakerConfig `yaml:"adapterBreaker,omitempty"`
}

// ContentTypeConfig sets per-content-type cache behavior.
type ContentTypeConfig struct {
	TTL              Duration `yaml:"ttl,omitempty"`
	Warmup           bool     `yaml:"warmup,omitempty"`
	WarmupAlertTypes []string `yaml:"warmupAlertTypes,omitempty"`
}

// MatchingConfig tunes the matcher pipeline.
type MatchingConfig struct {
	MinConfidence       float64             `yaml:"minConfidence,omitempty"`
	MaxResults          int                 `yaml:"maxResults,omitempty"`
	AlertAliases        map[string][]string `yaml:"alertAliases,omitempty"`
	SystemAliases       map[string][]string `yaml:"systemAliases,omitempty"`
	SimilarityThreshold float64             `yaml:"similarityThreshold,omitempty"`

	// Runbook detection heuristic: structured alert_types metadata always
	// qualifies; KeywordDetection additionally accepts documents whose
	// title matches one of RunbookKeywords.
	KeywordDetection bool     `yaml:"keywordDetection,omitempty"`
	RunbookKeywords  []string `yaml:"runbookKeywords,omitempty"`

	QualityWeighted bool `yaml:"qualityWeighted,omitempty"`
}

// LoggingConfig sets the log level.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"`
}
