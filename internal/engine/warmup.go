package engine

import (
	"context"
	"time"

	"runhub/internal/api"
	"runhub/internal/cache"
	"runhub/pkg/logging"
)

// Warmup pre-fills the cache for the alert types configured for warmup.
// Runs once at startup within the configured deadline; failures are
// logged, never fatal.
func (e *Engine) Warmup(ctx context.Context) {
	ct, ok := e.cfg.ContentTypes["runbooks"]
	if !ok || !ct.Warmup || len(ct.WarmupAlertTypes) == 0 {
		return
	}

	deadline := e.cfg.Performance.WarmupDeadline.Std()
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	warmed := 0
	for _, alertType := range ct.WarmupAlertTypes {
		if ctx.Err() != nil {
			break
		}
		if _, err := e.SearchRunbooks(ctx, SearchRunbooksRequest{AlertType: alertType}); err != nil {
			logging.Warn("Engine", "Warmup search for %s failed: %v", alertType, err)
			continue
		}
		warmed++
	}
	logging.Info("Engine", "Cache warmup completed: %d/%d alert types", warmed, len(ct.WarmupAlertTypes))
}

// HealthResponse is the aggregate health the HTTP surface serves.
type HealthResponse struct {
	Status      api.HealthStatus              `json:"status"`
	Sources     map[string]api.HealthSnapshot `json:"sources,omitempty"`
	Cache       cache.Stats                   `json:"cache"`
	CorpusEpoch uint64                        `json:"corpus_epoch"`
	Documents   int                           `json:"documents"`
	CheckedAt   time.Time                     `json:"checked_at"`
}

// Health returns the engine's aggregate health from the monitor's cached
// snapshots. It never probes adapters inline, so it answers fast even when
// a source hangs.
func (e *Engine) Health() HealthResponse {
	snap := e.indexer.Snapshot()
	resp := HealthResponse{
		Status:      api.HealthHealthy,
		Cache:       e.cache.Stats(),
		CorpusEpoch: snap.Epoch,
		Documents:   snap.TotalDocuments(),
		CheckedAt:   time.Now(),
	}
	if e.monitor != nil {
		engine := e.monitor.EngineHealth()
		resp.Status = engine.Status
		resp.Sources = make(map[string]api.HealthSnapshot)
		for _, inst := range e.manager.All() {
			resp.Sources[inst.Config.Name] = e.monitor.Status(inst.Config.Name)
		}
	}
	return resp
}
