package engine

import (
	"context"
	"encoding/json"
	"time"

	"runhub/internal/api"
)

// ListSourcesRequest carries the list_sources arguments. IncludeHealth
// defaults to true when absent; false omits the health snapshots.
type ListSourcesRequest struct {
	IncludeHealth *bool  `json:"include_health,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// ListSourcesResponse enumerates the configured sources with their state.
type ListSourcesResponse struct {
	Sources  []api.SourceSummary `json:"sources"`
	Envelope api.Envelope        `json:"envelope"`
}

// ListSources reports every configured source with its lifecycle state,
// document count and latest health snapshot. The cache key folds in the
// current states so any adapter transition is visible immediately.
func (e *Engine) ListSources(ctx context.Context, req ListSourcesRequest) (*ListSourcesResponse, error) {
	start := time.Now()
	cid := correlationID(req.CorrelationID)
	snap := e.indexer.Snapshot()

	includeHealth := req.IncludeHealth == nil || *req.IncludeHealth

	instances := e.manager.All()
	states := make(map[string]any, len(instances))
	for _, inst := range instances {
		status := api.HealthUnknown
		if e.monitor != nil {
			status = e.monitor.Status(inst.Config.Name).Status
		}
		states[inst.Config.Name] = string(inst.State) + "/" + string(status)
	}
	args := map[string]any{"states": states, "include_health": includeHealth}

	payload, tier, key, err := e.cachedPayload(ctx, ToolListSources, args, e.cfg.TTLFor("list_sources"), snap.Epoch,
		func(ctx context.Context) ([]byte, bool, error) {
			summaries := make([]api.SourceSummary, 0, len(instances))
			for _, inst := range instances {
				name := inst.Config.Name
				summary := api.SourceSummary{
					Name:          name,
					Type:          inst.Config.Type,
					Priority:      inst.Config.Priority,
					Enabled:       inst.Config.Enabled,
					Status:        inst.State,
					DocumentCount: snap.DocumentCount(name),
					LastUpdated:   e.indexer.LastPassAt(name),
				}
				if includeHealth && e.monitor != nil {
					h := e.monitor.Status(name)
					summary.Health = &h
				}
				summaries = append(summaries, summary)
			}
			data, merr := json.Marshal(&ListSourcesResponse{Sources: summaries})
			if merr != nil {
				return nil, false, api.NewError(api.ErrInternal, "encoding source list").WithCause(merr)
			}
			return data, true, nil
		})
	if err != nil {
		e.logCall(cid, ToolListSources, key, start, statusOf(err), tier, len(instances))
		return nil, err
	}

	body, err := decode[ListSourcesResponse](payload)
	if err != nil {
		return nil, err
	}
	e.logCall(cid, ToolListSources, key, start, "ok", tier, len(instances))
	body.Envelope = e.envelope(cid, start, snap.Epoch, tier)
	return body, nil
}
