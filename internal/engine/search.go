package engine

import (
	"context"
	"encoding/json"
	"time"

	"runhub/internal/api"
	"runhub/internal/cache"
	"runhub/internal/matcher"
)

// searchPayload is the cached body of both search operations.
type searchPayload struct {
	Results          []*api.SearchResult `json:"results"`
	Degraded         bool                `json:"degraded"`
	PartialFailures  []api.PartialFailure `json:"partial_failures,omitempty"`
	DeadlineExceeded bool                `json:"deadline_exceeded,omitempty"`
	GlobalReasons    []api.MatchReason   `json:"global_reasons,omitempty"`
}

// SearchRunbooksRequest carries the search_runbooks arguments.
type SearchRunbooksRequest struct {
	AlertType       string         `json:"alert_type"`
	Severity        string         `json:"severity,omitempty"`
	AffectedSystems []string       `json:"affected_systems,omitempty"`
	Context         map[string]any `json:"context,omitempty"`
	CorrelationID   string         `json:"correlation_id,omitempty"`
}

// SearchResponse is the ranked result set with its envelope.
type SearchResponse struct {
	Results  []*api.SearchResult `json:"results"`
	Envelope api.Envelope        `json:"envelope"`
}

// SearchRunbooks executes the runbook retrieval pipeline for an alert.
func (e *Engine) SearchRunbooks(ctx context.Context, req SearchRunbooksRequest) (*SearchResponse, error) {
	start := time.Now()
	cid := correlationID(req.CorrelationID)

	if req.AlertType == "" {
		err := api.Validation("alert_type", "must not be empty")
		e.logCall(cid, ToolSearchRunbooks, "", start, statusOf(err), cache.TierNone, 0)
		return nil, err
	}
	query := api.RunbookQuery{
		AlertType:       req.AlertType,
		AffectedSystems: req.AffectedSystems,
		Context:         req.Context,
	}
	if req.Severity != "" {
		sev, err := api.ParseSeverity(req.Severity)
		if err != nil {
			verr := api.Validation("severity", err.Error())
			e.logCall(cid, ToolSearchRunbooks, "", start, statusOf(verr), cache.TierNone, 0)
			return nil, verr
		}
		query.Severity = sev
	}

	snap := e.indexer.Snapshot()
	targets := e.targets()
	args := map[string]any{
		"alert_type":       req.AlertType,
		"severity":         req.Severity,
		"affected_systems": req.AffectedSystems,
		"context":          req.Context,
	}

	payload, tier, key, err := e.cachedPayload(ctx, ToolSearchRunbooks, args, e.cfg.TTLFor("runbooks"), snap.Epoch,
		func(ctx context.Context) ([]byte, bool, error) {
			res := e.matcher.SearchRunbooks(ctx, snap, targets, query)
			data, merr := json.Marshal(resultPayload(res))
			if merr != nil {
				return nil, false, api.NewError(api.ErrInternal, "encoding search results").WithCause(merr)
			}
			return data, !res.Degraded, nil
		})
	if err != nil {
		e.logCall(cid, ToolSearchRunbooks, key, start, statusOf(err), tier, len(targets))
		return nil, err
	}

	body, err := decode[searchPayload](payload)
	if err != nil {
		return nil, err
	}
	e.logCall(cid, ToolSearchRunbooks, key, start, "ok", tier, len(targets))
	return &SearchResponse{
		Results:  body.Results,
		Envelope: e.searchEnvelope(cid, start, snap.Epoch, tier, body),
	}, nil
}

// SearchKnowledgeBaseRequest carries the search_knowledge_base arguments.
type SearchKnowledgeBaseRequest struct {
	Query         string            `json:"query"`
	Filters       api.SearchFilters `json:"filters,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
}

// SearchKnowledgeBase executes the free-text document search.
func (e *Engine) SearchKnowledgeBase(ctx context.Context, req SearchKnowledgeBaseRequest) (*SearchResponse, error) {
	start := time.Now()
	cid := correlationID(req.CorrelationID)

	if req.Query == "" {
		err := api.Validation("query", "must not be empty")
		e.logCall(cid, ToolSearchKnowledgeBase, "", start, statusOf(err), cache.TierNone, 0)
		return nil, err
	}

	snap := e.indexer.Snapshot()
	targets := e.targets()
	args := map[string]any{
		"query":         req.Query,
		"document_type": req.Filters.DocumentType,
		"source":        req.Filters.Source,
		"types":         req.Filters.Types,
		"categories":    req.Filters.Categories,
	}
	// Explicit zeros are meaningful on these two filters, so they enter the
	// cache key only when the caller set them.
	if req.Filters.MaxResults != nil {
		args["max_results"] = *req.Filters.MaxResults
	}
	if req.Filters.MinConfidence != nil {
		args["min_confidence"] = *req.Filters.MinConfidence
	}

	payload, tier, key, err := e.cachedPayload(ctx, ToolSearchKnowledgeBase, args, e.cfg.TTLFor("knowledge_base"), snap.Epoch,
		func(ctx context.Context) ([]byte, bool, error) {
			res := e.matcher.SearchKnowledgeBase(ctx, targets, req.Query, req.Filters)
			data, merr := json.Marshal(resultPayload(res))
			if merr != nil {
				return nil, false, api.NewError(api.ErrInternal, "encoding search results").WithCause(merr)
			}
			return data, !res.Degraded, nil
		})
	if err != nil {
		e.logCall(cid, ToolSearchKnowledgeBase, key, start, statusOf(err), tier, len(targets))
		return nil, err
	}

	body, err := decode[searchPayload](payload)
	if err != nil {
		return nil, err
	}
	e.logCall(cid, ToolSearchKnowledgeBase, key, start, "ok", tier, len(targets))
	return &SearchResponse{
		Results:  body.Results,
		Envelope: e.searchEnvelope(cid, start, snap.Epoch, tier, body),
	}, nil
}

// searchEnvelope extends the common envelope with search-specific fields.
func (e *Engine) searchEnvelope(cid string, start time.Time, epoch uint64, tier cache.Tier, body *searchPayload) api.Envelope {
	env := e.envelope(cid, start, epoch, tier)
	env.Degraded = body.Degraded
	env.PartialFailures = body.PartialFailures
	env.DeadlineExceeded = body.DeadlineExceeded
	for _, r := range body.Results {
		env.ConfidenceScores = append(env.ConfidenceScores, r.Confidence)
	}
	return env
}

func resultPayload(res *matcher.Result) searchPayload {
	return searchPayload{
		Results:          res.Results,
		Degraded:         res.Degraded,
		PartialFailures:  res.PartialFailures,
		DeadlineExceeded: res.DeadlineExceeded,
		GlobalReasons:    res.GlobalReasons,
	}
}
