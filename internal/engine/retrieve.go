package engine

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"runhub/internal/api"
	"runhub/internal/cache"
	"runhub/internal/index"
)

// DecisionTreeRequest addresses a decision tree either by alert type or by
// scenario tag.
type DecisionTreeRequest struct {
	AlertType     string `json:"alert_type,omitempty"`
	Scenario      string `json:"scenario,omitempty"`
	Severity      string `json:"severity,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// DecisionTreeResponse is the single best matching tree.
type DecisionTreeResponse struct {
	Tree       *api.DecisionNode `json:"tree"`
	Source     api.DocumentKey   `json:"source"`
	Confidence float64           `json:"confidence"`
	Envelope   api.Envelope      `json:"envelope"`
}

// GetDecisionTree returns the highest-confidence decision tree for an
// alert type or scenario.
func (e *Engine) GetDecisionTree(ctx context.Context, req DecisionTreeRequest) (*DecisionTreeResponse, error) {
	start := time.Now()
	cid := correlationID(req.CorrelationID)

	if req.AlertType == "" && req.Scenario == "" {
		err := api.Validation("alert_type", "either alert_type or scenario is required")
		e.logCall(cid, ToolGetDecisionTree, "", start, statusOf(err), cache.TierNone, 0)
		return nil, err
	}
	var severity api.Severity
	if req.Severity != "" {
		sev, err := api.ParseSeverity(req.Severity)
		if err != nil {
			verr := api.Validation("severity", err.Error())
			e.logCall(cid, ToolGetDecisionTree, "", start, statusOf(verr), cache.TierNone, 0)
			return nil, verr
		}
		severity = sev
	}

	snap := e.indexer.Snapshot()
	args := map[string]any{
		"alert_type": req.AlertType,
		"scenario":   req.Scenario,
		"severity":   req.Severity,
	}

	payload, tier, key, err := e.cachedPayload(ctx, ToolGetDecisionTree, args, e.cfg.TTLFor("decision_trees"), snap.Epoch,
		func(ctx context.Context) ([]byte, bool, error) {
			body, ferr := findDecisionTree(snap, req.AlertType, req.Scenario, severity)
			if ferr != nil {
				return nil, false, ferr
			}
			data, merr := json.Marshal(body)
			if merr != nil {
				return nil, false, api.NewError(api.ErrInternal, "encoding decision tree").WithCause(merr)
			}
			return data, true, nil
		})
	if err != nil {
		e.logCall(cid, ToolGetDecisionTree, key, start, statusOf(err), tier, 0)
		return nil, err
	}

	body, err := decode[DecisionTreeResponse](payload)
	if err != nil {
		return nil, err
	}
	e.logCall(cid, ToolGetDecisionTree, key, start, "ok", tier, 0)
	body.Envelope = e.envelope(cid, start, snap.Epoch, tier)
	return body, nil
}

// findDecisionTree picks the single best tree from the corpus: scenario
// lookups use the scenario index; alert type lookups consider matching
// runbooks, preferring severity matches, then higher success rates.
func findDecisionTree(snap *index.Snapshot, alertType, scenario string, severity api.Severity) (*DecisionTreeResponse, error) {
	if scenario != "" {
		trees := snap.Scenarios[scenario]
		if len(trees) == 0 {
			return nil, api.NotFound("decision_tree", scenario).WithDetail("scenario", scenario)
		}
		best := trees[0]
		for _, t := range trees[1:] {
			if t.Confidence > best.Confidence ||
				(t.Confidence == best.Confidence && t.Source.String() < best.Source.String()) {
				best = t
			}
		}
		return &DecisionTreeResponse{Tree: best.Node, Source: best.Source, Confidence: best.Confidence}, nil
	}

	type candidate struct {
		rb  *api.Runbook
		key api.DocumentKey
	}
	var candidates []candidate
	for key, rb := range snap.Runbooks {
		if rb.DecisionTree == nil || !rb.MatchesAlertType(alertType) {
			continue
		}
		candidates = append(candidates, candidate{rb: rb, key: key})
	}
	if len(candidates) == 0 {
		return nil, api.NotFound("decision_tree", alertType).WithDetail("alert_type", alertType)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if severity != "" {
			am, bm := a.rb.MatchesSeverity(severity), b.rb.MatchesSeverity(severity)
			if am != bm {
				return am
			}
		}
		ar, br := successRate(a.rb), successRate(b.rb)
		if ar != br {
			return ar > br
		}
		return a.key.String() < b.key.String()
	})

	best := candidates[0]
	return &DecisionTreeResponse{
		Tree:       best.rb.DecisionTree,
		Source:     best.key,
		Confidence: successRate(best.rb),
	}, nil
}

func successRate(rb *api.Runbook) float64 {
	if rb.HasSuccessRate {
		return rb.SuccessRate
	}
	return 0.9
}

// ProcedureRequest addresses a procedure, optionally a single step of it.
type ProcedureRequest struct {
	ProcedureID   string `json:"procedure_id"`
	Step          int    `json:"step,omitempty"` // 1-based; 0 means the whole procedure
	CorrelationID string `json:"correlation_id,omitempty"`
}

// ProcedureResponse is a procedure, or one step of it when addressed.
type ProcedureResponse struct {
	Procedure api.Procedure      `json:"procedure"`
	Step      *api.ProcedureStep `json:"step,omitempty"`
	Source    api.DocumentKey    `json:"source"`
	Envelope  api.Envelope       `json:"envelope"`
}

// GetProcedure fetches a procedure by id, optionally addressing one step.
func (e *Engine) GetProcedure(ctx context.Context, req ProcedureRequest) (*ProcedureResponse, error) {
	start := time.Now()
	cid := correlationID(req.CorrelationID)

	if req.ProcedureID == "" {
		err := api.Validation("procedure_id", "must not be empty")
		e.logCall(cid, ToolGetProcedure, "", start, statusOf(err), cache.TierNone, 0)
		return nil, err
	}
	if req.Step < 0 {
		err := api.Validation("step", "must be positive")
		e.logCall(cid, ToolGetProcedure, "", start, statusOf(err), cache.TierNone, 0)
		return nil, err
	}

	snap := e.indexer.Snapshot()
	args := map[string]any{"procedure_id": req.ProcedureID, "step": req.Step}

	payload, tier, key, err := e.cachedPayload(ctx, ToolGetProcedure, args, e.cfg.TTLFor("procedures"), snap.Epoch,
		func(ctx context.Context) ([]byte, bool, error) {
			entry, ok := snap.Procedures[req.ProcedureID]
			if !ok {
				return nil, false, api.NotFound("procedure", req.ProcedureID)
			}
			body := &ProcedureResponse{Procedure: entry.Procedure, Source: entry.Source}
			if req.Step > 0 {
				if req.Step > len(entry.Procedure.Steps) {
					return nil, false, api.NotFound("procedure_step", req.ProcedureID).
						WithDetail("step", req.Step).
						WithDetail("steps_available", len(entry.Procedure.Steps))
				}
				step := entry.Procedure.Steps[req.Step-1]
				body.Step = &step
			}
			data, merr := json.Marshal(body)
			if merr != nil {
				return nil, false, api.NewError(api.ErrInternal, "encoding procedure").WithCause(merr)
			}
			return data, true, nil
		})
	if err != nil {
		e.logCall(cid, ToolGetProcedure, key, start, statusOf(err), tier, 0)
		return nil, err
	}

	body, err := decode[ProcedureResponse](payload)
	if err != nil {
		return nil, err
	}
	e.logCall(cid, ToolGetProcedure, key, start, "ok", tier, 0)
	body.Envelope = e.envelope(cid, start, snap.Epoch, tier)
	return body, nil
}

// EscalationRequest addresses an escalation path by severity.
type EscalationRequest struct {
	Severity      string `json:"severity"`
	BusinessHours *bool  `json:"business_hours,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// EscalationResponse is the merged escalation path for a severity.
type EscalationResponse struct {
	Path     api.EscalationPath `json:"path"`
	Envelope api.Envelope       `json:"envelope"`
}

// GetEscalationPath merges the escalation steps every runbook contributes
// for a severity into one role-deduplicated sequence.
func (e *Engine) GetEscalationPath(ctx context.Context, req EscalationRequest) (*EscalationResponse, error) {
	start := time.Now()
	cid := correlationID(req.CorrelationID)

	sev, err := api.ParseSeverity(req.Severity)
	if err != nil {
		verr := api.Validation("severity", err.Error())
		e.logCall(cid, ToolGetEscalationPath, "", start, statusOf(verr), cache.TierNone, 0)
		return nil, verr
	}

	snap := e.indexer.Snapshot()
	args := map[string]any{"severity": req.Severity}
	if req.BusinessHours != nil {
		args["business_hours"] = *req.BusinessHours
	}

	payload, tier, key, err := e.cachedPayload(ctx, ToolGetEscalationPath, args, e.cfg.TTLFor("escalation"), snap.Epoch,
		func(ctx context.Context) ([]byte, bool, error) {
			path := mergeEscalation(snap, sev, req.BusinessHours)
			if len(path.Steps) == 0 {
				return nil, false, api.NotFound("escalation_path", string(sev))
			}
			data, merr := json.Marshal(&EscalationResponse{Path: path})
			if merr != nil {
				return nil, false, api.NewError(api.ErrInternal, "encoding escalation path").WithCause(merr)
			}
			return data, true, nil
		})
	if err != nil {
		e.logCall(cid, ToolGetEscalationPath, key, start, statusOf(err), tier, 0)
		return nil, err
	}

	body, err := decode[EscalationResponse](payload)
	if err != nil {
		return nil, err
	}
	e.logCall(cid, ToolGetEscalationPath, key, start, "ok", tier, 0)
	body.Envelope = e.envelope(cid, start, snap.Epoch, tier)
	return body, nil
}

// mergeEscalation collects matching steps across runbooks, deduplicates by
// role keeping the first in escalation order, and sorts by wait time.
func mergeEscalation(snap *index.Snapshot, sev api.Severity, businessHours *bool) api.EscalationPath {
	path := api.EscalationPath{Severity: sev, BusinessHours: businessHours}
	seen := make(map[string]bool)

	var steps []api.EscalationStep
	for _, entry := range snap.Escalation {
		step := entry.Step
		if step.Severity != "" && step.Severity != sev {
			continue
		}
		if businessHours != nil && step.BusinessHours != nil && *step.BusinessHours != *businessHours {
			continue
		}
		steps = append(steps, step)
	}
	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].WaitBefore != steps[j].WaitBefore {
			return steps[i].WaitBefore < steps[j].WaitBefore
		}
		return steps[i].Role < steps[j].Role
	})
	for _, step := range steps {
		if step.Role == "" || seen[step.Role] {
			continue
		}
		seen[step.Role] = true
		path.Steps = append(path.Steps, step)
	}
	return path
}
