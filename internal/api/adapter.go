package api

import (
	"context"
	"time"
)

// SourceConfig is the declarative configuration for one documentation
// source. Names are unique across the process; Type must name a registered
// adapter factory. Fields the core does not understand are carried opaquely
// in Extra and validated by the adapter factory.
type SourceConfig struct {
	Name            string         `yaml:"name" json:"name"`
	Type            string         `yaml:"type" json:"type"`
	Priority        int            `yaml:"priority" json:"priority"`
	RefreshInterval time.Duration  `yaml:"refreshInterval" json:"refresh_interval"`
	Enabled         bool           `yaml:"enabled" json:"enabled"`
	Auth            AuthRef        `yaml:"auth" json:"auth"`
	Extra           map[string]any `yaml:",inline" json:"extra,omitempty"`
}

// AuthRef is an indirect credential reference. The engine resolves the
// named environment variable at adapter construction time and never logs
// the resolved value.
type AuthRef struct {
	EnvVar string `yaml:"envVar,omitempty" json:"env_var,omitempty"`
}

// AdapterMetadata is the get_metadata result for one adapter.
type AdapterMetadata struct {
	Name          string       `json:"name"`
	Type          string       `json:"type"`
	DocumentCount int          `json:"document_count"`
	LastUpdated   time.Time    `json:"last_updated,omitempty"`
	Status        AdapterState `json:"status"`
}

// SearchOptions carry the optional filters for a plain document search.
type SearchOptions struct {
	Types         []string
	Categories    []string
	MaxResults    int
	MinConfidence float64
}

// EnumerateFunc receives documents one at a time during enumeration.
// Returning an error stops the enumeration and propagates the error.
type EnumerateFunc func(doc *Document) error

// Adapter is the contract every documentation source implements. All
// blocking operations take a context and must return promptly on
// cancellation.
//
// HealthCheck must not block past its context deadline and must not panic;
// internal failures are reported as an unhealthy snapshot, never as an
// error.
type Adapter interface {
	// Initialize establishes connections and validates adapter-specific
	// configuration. Called once before any other method.
	Initialize(ctx context.Context, cfg SourceConfig) error

	// Search performs a free-text document search with optional filters.
	Search(ctx context.Context, query string, opts SearchOptions) ([]*SearchResult, error)

	// GetDocument fetches a single document by id.
	GetDocument(ctx context.Context, id string) (*Document, error)

	// SearchRunbooks returns candidate runbooks for an alert, each with the
	// adapter's own relevance score in Confidence (normalized to [0,1] by
	// the matcher).
	SearchRunbooks(ctx context.Context, query RunbookQuery) ([]*SearchResult, error)

	// HealthCheck probes the underlying source.
	HealthCheck(ctx context.Context) HealthSnapshot

	// Metadata reports the adapter's identity and corpus statistics.
	Metadata() AdapterMetadata

	// Enumerate streams the adapter's full document inventory to fn. The
	// sequence is restartable: each call starts a fresh enumeration with no
	// state carried over from prior passes.
	Enumerate(ctx context.Context, fn EnumerateFunc) error

	// Cleanup releases all owned resources. Idempotent; called on shutdown
	// and on adapter replacement.
	Cleanup(ctx context.Context) error
}

// AdapterFactory constructs an adapter instance from its source
// configuration. Factories validate adapter-specific Extra fields and
// return a configuration error for unusable configs.
type AdapterFactory func(cfg SourceConfig) (Adapter, error)
