package engine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"runhub/internal/adapter"
	"runhub/internal/api"
	"runhub/internal/cache"
	"runhub/internal/config"
	"runhub/internal/health"
	"runhub/internal/index"
	"runhub/internal/matcher"
	"runhub/pkg/logging"
)

// Tool names, as exposed on both wire surfaces.
const (
	ToolSearchRunbooks      = "search_runbooks"
	ToolGetDecisionTree     = "get_decision_tree"
	ToolGetProcedure        = "get_procedure"
	ToolSearchKnowledgeBase = "search_knowledge_base"
	ToolGetEscalationPath   = "get_escalation_path"
	ToolListSources         = "list_sources"
	ToolRecordFeedback      = "record_resolution_feedback"
)

// Options wires the engine's collaborators.
type Options struct {
	Config   *config.Config
	Manager  *adapter.Manager
	Indexer  *index.Indexer
	Cache    *cache.Manager
	Monitor  *health.Monitor
	Metrics  *health.Metrics
	Feedback *FeedbackLog
}

// Engine executes tool operations against the corpus and the adapters.
type Engine struct {
	cfg      *config.Config
	manager  *adapter.Manager
	indexer  *index.Indexer
	cache    *cache.Manager
	monitor  *health.Monitor
	metrics  *health.Metrics
	feedback *FeedbackLog
	matcher  *matcher.Matcher
}

// New creates the engine.
func New(opts Options) *Engine {
	m := matcher.New(matcher.Config{
		MinConfidence:       opts.Config.Matching.MinConfidence,
		MaxResults:          opts.Config.Matching.MaxResults,
		AlertAliases:        opts.Config.Matching.AlertAliases,
		SystemAliases:       opts.Config.Matching.SystemAliases,
		SimilarityThreshold: opts.Config.Matching.SimilarityThreshold,
		PerCallConcurrency:  opts.Config.Performance.PerCallConcurrency,
		GlobalConcurrency:   opts.Config.Performance.GlobalConcurrency,
		AdapterTimeout:      opts.Config.Performance.AdapterTimeout.Std(),
		RetryMaxAttempts:    opts.Config.Performance.RetryMaxAttempts,
		QualityWeighted:     opts.Config.Matching.QualityWeighted,
	})
	return &Engine{
		cfg:      opts.Config,
		manager:  opts.Manager,
		indexer:  opts.Indexer,
		cache:    opts.Cache,
		monitor:  opts.Monitor,
		metrics:  opts.Metrics,
		feedback: opts.Feedback,
		matcher:  m,
	}
}

// targets assembles the fan-out list: serving adapters that are not
// unhealthy, each with its breaker and degradation flag.
func (e *Engine) targets() []matcher.Target {
	var out []matcher.Target
	for _, inst := range e.manager.All() {
		if inst.State != api.StateReady && inst.State != api.StateDegraded {
			continue
		}
		name := inst.Config.Name
		if e.monitor != nil && !e.monitor.Healthy(name) {
			continue
		}
		degraded := inst.State == api.StateDegraded
		if e.monitor != nil && e.monitor.Degraded(name) {
			degraded = true
		}
		out = append(out, matcher.Target{
			Name:     name,
			Priority: inst.Config.Priority,
			Adapter:  inst.Adapter,
			Breaker:  e.manager.Breaker(name),
			Degraded: degraded,
		})
	}
	return out
}

// uncacheableResult carries a produced payload that must not be cached
// (degraded or partial) out of the read-through flow.
type uncacheableResult struct {
	payload []byte
}

func (u *uncacheableResult) Error() string { return "result not cacheable" }

// cachedPayload reads through the cache under an epoch-scoped key. produce
// returns the serialized payload and whether it may be cached; degraded
// payloads flow back to the caller without being stored.
func (e *Engine) cachedPayload(ctx context.Context, tool string, args map[string]any, ttl time.Duration, epoch uint64, produce func(ctx context.Context) ([]byte, bool, error)) ([]byte, cache.Tier, string, error) {
	key := cache.Key(tool, args, epoch)

	payload, tier, err := e.cache.GetOrFill(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		data, cacheable, err := produce(ctx)
		if err != nil {
			return nil, err
		}
		if !cacheable {
			return nil, &uncacheableResult{payload: data}
		}
		return data, nil
	})
	if err != nil {
		var unc *uncacheableResult
		if errors.As(err, &unc) {
			return unc.payload, cache.TierNone, key, nil
		}
		return nil, cache.TierNone, key, err
	}
	if e.metrics != nil {
		if tier == cache.TierNone {
			e.metrics.ObserveCache("none", false)
		} else {
			e.metrics.ObserveCache(string(tier), true)
		}
	}
	return payload, tier, key, nil
}

// envelope builds the response envelope common to every operation.
func (e *Engine) envelope(correlationID string, start time.Time, epoch uint64, tier cache.Tier) api.Envelope {
	return api.Envelope{
		RetrievalTimeMS: time.Since(start).Milliseconds(),
		CorpusEpoch:     epoch,
		CacheHit:        tier != cache.TierNone,
		CorrelationID:   correlationID,
	}
}

// correlationID returns the caller-provided id or mints a fresh one.
func correlationID(provided string) string {
	if provided != "" {
		return provided
	}
	return uuid.NewString()
}

// logCall writes the per-call structured log line. Arguments are logged as
// a key digest, never as raw values.
func (e *Engine) logCall(correlationID, tool, keyDigest string, start time.Time, status string, tier cache.Tier, adapters int) {
	duration := time.Since(start)
	cacheState := "miss"
	if tier != cache.TierNone {
		cacheState = "hit:" + string(tier)
	}
	logging.Info("Engine", "tool=%s correlation_id=%s args=%.12s duration=%s status=%s cache=%s adapters=%d",
		tool, correlationID, keyDigest, duration.Round(time.Millisecond), status, cacheState, adapters)
	if e.metrics != nil {
		e.metrics.ObserveToolCall(tool, status, duration)
	}
}

func statusOf(err error) string {
	if err == nil {
		return "ok"
	}
	return string(api.CodeOf(err))
}

// decode unmarshals a cached payload, surfacing corruption as an internal
// error rather than a panic.
func decode[T any](payload []byte) (*T, error) {
	var out T
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, api.NewError(api.ErrInternal, "decoding cached payload").WithCause(err)
	}
	return &out, nil
}
