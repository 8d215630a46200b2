package matcher

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"runhub/internal/api"
	"runhub/internal/breaker"
	"runhub/internal/index"
	"runhub/pkg/logging"

	"golang.org/x/sync/semaphore"
)

// Config tunes the matching pipeline.
type Config struct {
	MinConfidence       float64
	MaxResults          int
	AlertAliases        map[string][]string
	SystemAliases       map[string][]string
	SimilarityThreshold float64
	PerCallConcurrency  int
	GlobalConcurrency   int
	AdapterTimeout      time.Duration
	RetryMaxAttempts    int
	QualityWeighted     bool
}

// Target is one adapter the matcher fans out to for a single call.
// Unhealthy adapters are excluded before the fan-out; degraded adapters
// are queried but their results carry a degraded_source tag.
type Target struct {
	Name     string
	Priority int
	Adapter  api.Adapter
	Breaker  *breaker.Breaker
	Degraded bool
}

// Result is the matcher's output for one query.
type Result struct {
	Results          []*api.SearchResult
	Degraded         bool
	PartialFailures  []api.PartialFailure
	DeadlineExceeded bool
	// GlobalReasons carries query-level tags such as no_sources_available
	// when no adapter could be queried at all.
	GlobalReasons []api.MatchReason
}

// Matcher executes the query pipeline.
type Matcher struct {
	cfg       Config
	globalSem *semaphore.Weighted
}

// New creates a matcher. The global semaphore bounds adapter calls across
// all concurrent tool invocations.
func New(cfg Config) *Matcher {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.3
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = 0.85
	}
	if cfg.PerCallConcurrency <= 0 {
		cfg.PerCallConcurrency = 10
	}
	if cfg.GlobalConcurrency <= 0 {
		cfg.GlobalConcurrency = 50
	}
	if cfg.AdapterTimeout <= 0 {
		cfg.AdapterTimeout = 10 * time.Second
	}
	if cfg.RetryMaxAttempts <= 0 {
		cfg.RetryMaxAttempts = 3
	}
	return &Matcher{
		cfg:       cfg,
		globalSem: semaphore.NewWeighted(int64(cfg.GlobalConcurrency)),
	}
}

// SearchRunbooks runs the full runbook pipeline for one alert query.
func (m *Matcher) SearchRunbooks(ctx context.Context, snap *index.Snapshot, targets []Target, query api.RunbookQuery) *Result {
	query = m.classifyIntent(query)
	query = m.enhanceContext(query)

	if len(targets) == 0 {
		return &Result{
			Degraded:      true,
			GlobalReasons: []api.MatchReason{api.ReasonNoSourcesAvailable},
		}
	}

	out := m.fanOut(ctx, targets, func(ctx context.Context, t Target) ([]*api.SearchResult, error) {
		return t.Adapter.SearchRunbooks(ctx, query)
	})

	var candidates []*api.SearchResult
	for _, branch := range out.branches {
		for _, raw := range branch.results {
			scored := m.scoreRunbook(snap, query, raw, branch.target)
			if scored != nil {
				candidates = append(candidates, scored)
			}
		}
	}

	candidates = m.dedupe(candidates)
	m.rank(candidates, targetPriorities(targets))
	results, reasons := m.cutoff(candidates, m.cfg.MinConfidence, m.cfg.MaxResults)

	res := &Result{
		Results:          results,
		Degraded:         out.degraded,
		PartialFailures:  out.failures,
		DeadlineExceeded: out.deadlineExceeded,
		GlobalReasons:    reasons,
	}
	if out.allFailed {
		res.GlobalReasons = append(res.GlobalReasons, api.ReasonNoSourcesAvailable)
	}
	return res
}

// classifyIntent normalizes the query: the lightweight rule-based intent
// step confirms operational shape and canonicalizes the severity.
func (m *Matcher) classifyIntent(query api.RunbookQuery) api.RunbookQuery {
	query.AlertType = strings.TrimSpace(query.AlertType)
	if query.Severity != "" {
		query.Severity = api.Severity(strings.ToLower(string(query.Severity)))
	}
	return query
}

// enhanceContext expands affected systems with configured aliases.
func (m *Matcher) enhanceContext(query api.RunbookQuery) api.RunbookQuery {
	if len(query.AffectedSystems) == 0 || len(m.cfg.SystemAliases) == 0 {
		return query
	}
	seen := make(map[string]bool, len(query.AffectedSystems))
	expanded := make([]string, 0, len(query.AffectedSystems))
	for _, sys := range query.AffectedSystems {
		if !seen[sys] {
			seen[sys] = true
			expanded = append(expanded, sys)
		}
		for _, alias := range m.cfg.SystemAliases[sys] {
			if !seen[alias] {
				seen[alias] = true
				expanded = append(expanded, alias)
			}
		}
	}
	query.AffectedSystems = expanded
	return query
}

// branchResult is one adapter's tagged fan-out outcome.
type branchResult struct {
	target  Target
	results []*api.SearchResult
}

type fanOutResult struct {
	branches         []branchResult
	failures         []api.PartialFailure
	degraded         bool
	deadlineExceeded bool
	allFailed        bool
}

// fanOut queries the targets in parallel, bounded by the per-call and
// global concurrency limits. Each branch carries its own partial deadline;
// branches that miss it are excluded and tagged partial_timeout while the
// overall response still returns.
func (m *Matcher) fanOut(ctx context.Context, targets []Target, call func(ctx context.Context, t Target) ([]*api.SearchResult, error)) *fanOutResult {
	out := &fanOutResult{}
	perCallSem := semaphore.NewWeighted(int64(m.cfg.PerCallConcurrency))

	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, target := range targets {
		wg.Add(1)
		go func(t Target) {
			defer wg.Done()

			if err := perCallSem.Acquire(ctx, 1); err != nil {
				mu.Lock()
				out.failures = append(out.failures, api.PartialFailure{AdapterName: t.Name, Reason: "timeout"})
				mu.Unlock()
				return
			}
			defer perCallSem.Release(1)
			if err := m.globalSem.Acquire(ctx, 1); err != nil {
				mu.Lock()
				out.failures = append(out.failures, api.PartialFailure{AdapterName: t.Name, Reason: "timeout"})
				mu.Unlock()
				return
			}
			defer m.globalSem.Release(1)

			branchCtx, cancel := context.WithTimeout(ctx, m.cfg.AdapterTimeout)
			defer cancel()

			var results []*api.SearchResult
			err := breaker.Retry(branchCtx, m.cfg.RetryMaxAttempts, func(ctx context.Context) error {
				return t.Breaker.Do(ctx, func(ctx context.Context) error {
					var callErr error
					results, callErr = call(ctx, t)
					return callErr
				})
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				out.failures = append(out.failures, api.PartialFailure{
					AdapterName: t.Name,
					Reason:      failureReason(err),
				})
				logging.Debug("Matcher", "Adapter %s excluded from fan-out: %v", t.Name, err)
				return
			}
			out.branches = append(out.branches, branchResult{target: t, results: results})
		}(target)
	}
	wg.Wait()

	// Stable branch order keeps downstream scoring deterministic.
	sort.Slice(out.branches, func(i, j int) bool {
		return out.branches[i].target.Name < out.branches[j].target.Name
	})
	sort.Slice(out.failures, func(i, j int) bool {
		return out.failures[i].AdapterName < out.failures[j].AdapterName
	})

	out.degraded = len(out.failures) > 0
	out.allFailed = len(out.branches) == 0
	if err := ctx.Err(); errors.Is(err, context.DeadlineExceeded) {
		out.deadlineExceeded = true
	}
	return out
}

// failureReason maps a branch error to the short envelope reason tag.
func failureReason(err error) string {
	switch {
	case api.IsCode(err, api.ErrCircuitOpen):
		return "breaker_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "partial_timeout"
	case errors.Is(err, context.Canceled):
		return "timeout"
	case strings.Contains(strings.ToLower(err.Error()), "auth"):
		return "auth"
	default:
		return "remote_error"
	}
}
