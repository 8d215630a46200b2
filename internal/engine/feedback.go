package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"runhub/internal/api"
	"runhub/internal/cache"
)

// FeedbackLog is the append-only resolution feedback store, one JSON
// record per line. Appends are serialized so records for the same incident
// land in arrival order.
type FeedbackLog struct {
	path string
	mu   sync.Mutex
}

// NewFeedbackLog creates the log file's directory if needed.
func NewFeedbackLog(path string) (*FeedbackLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating feedback dir: %w", err)
	}
	return &FeedbackLog{path: path}, nil
}

// Append writes one feedback record.
func (l *FeedbackLog) Append(fb api.Feedback) error {
	data, err := json.Marshal(fb)
	if err != nil {
		return fmt.Errorf("encoding feedback %s: %w", fb.FeedbackID, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening feedback log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing feedback %s: %w", fb.FeedbackID, err)
	}
	return f.Sync()
}

// ForIncident returns all recorded feedback for an incident in append
// order.
func (l *FeedbackLog) ForIncident(incidentID string) ([]api.Feedback, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening feedback log: %w", err)
	}
	defer f.Close()

	var out []api.Feedback
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var fb api.Feedback
		if err := json.Unmarshal(scanner.Bytes(), &fb); err != nil {
			continue
		}
		if fb.IncidentID == incidentID {
			out = append(out, fb)
		}
	}
	return out, scanner.Err()
}

// FeedbackRequest carries the record_resolution_feedback arguments.
type FeedbackRequest struct {
	IncidentID     string         `json:"incident_id"`
	RunbookID      string         `json:"runbook_id,omitempty"`
	Outcome        string         `json:"outcome"` // "success" or "failure"
	ResolutionTime string         `json:"resolution_time"`
	Method         string         `json:"method,omitempty"`
	Notes          map[string]any `json:"notes,omitempty"`
	CorrelationID  string         `json:"correlation_id,omitempty"`
}

// FeedbackResponse echoes the recorded feedback.
type FeedbackResponse struct {
	Feedback api.Feedback `json:"feedback"`
	Envelope api.Envelope `json:"envelope"`
}

// RecordResolutionFeedback appends one resolution outcome. Writes are
// never cached and never mutate existing records.
func (e *Engine) RecordResolutionFeedback(ctx context.Context, req FeedbackRequest) (*FeedbackResponse, error) {
	start := time.Now()
	cid := correlationID(req.CorrelationID)

	fail := func(err error) (*FeedbackResponse, error) {
		e.logCall(cid, ToolRecordFeedback, "", start, statusOf(err), cache.TierNone, 0)
		return nil, err
	}

	if req.IncidentID == "" {
		return fail(api.Validation("incident_id", "must not be empty"))
	}
	var success bool
	switch req.Outcome {
	case "success":
		success = true
	case "failure":
		success = false
	default:
		return fail(api.Validation("outcome", "must be \"success\" or \"failure\""))
	}
	resolution, err := time.ParseDuration(req.ResolutionTime)
	if err != nil || resolution < 0 {
		return fail(api.Validation("resolution_time", "must be a non-negative duration"))
	}

	notes := req.Notes
	if req.RunbookID != "" {
		if notes == nil {
			notes = make(map[string]any, 1)
		}
		notes["runbook_id"] = req.RunbookID
	}
	fb := api.Feedback{
		FeedbackID: uuid.NewString(),
		IncidentID: req.IncidentID,
		Outcome: api.FeedbackOutcome{
			ResolutionTime: resolution,
			Success:        success,
			Method:         req.Method,
		},
		Notes:      notes,
		RecordedAt: time.Now(),
	}
	if err := e.feedback.Append(fb); err != nil {
		ierr := api.NewError(api.ErrInternal, "recording feedback for incident %s", req.IncidentID).WithCause(err)
		return fail(ierr)
	}

	e.logCall(cid, ToolRecordFeedback, fb.FeedbackID, start, "ok", cache.TierNone, 0)
	return &FeedbackResponse{
		Feedback: fb,
		Envelope: e.envelope(cid, start, e.indexer.Epoch(), cache.TierNone),
	}, nil
}
