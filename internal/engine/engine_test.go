package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"runhub/internal/adapter"
	"runhub/internal/api"
	"runhub/internal/breaker"
	"runhub/internal/cache"
	"runhub/internal/config"
	"runhub/internal/health"
	"runhub/internal/index"
)

const diskRunbookBody = `title: Disk Space Critical Response
alert_types:
  - disk_space_critical
severities:
  - critical
  - high
affected_systems:
  - storage
success_rate: 0.92
avg_resolution_time: 25m
decision_tree:
  condition: Is the disk above 95%?
  scenario: disk_pressure
  confidence: 0.9
  branches:
    - condition: Are old logs present?
      action: Rotate and compress logs
    - action: Expand the volume
procedures:
  - id: emergency_disk_cleanup
    title: Emergency disk cleanup
    steps:
      - action: Identify the largest directories
        command: du -sh /var/* | sort -rh | head
      - action: Rotate logs
        command: logrotate -f /etc/logrotate.conf
      - action: Clear package caches
      - action: Verify free space
        command: df -h
escalation:
  - role: primary-oncall
    severity: critical
  - role: storage-team
    severity: critical
    business_hours: true
    wait_before: 30m
`

// corpusAdapter serves a fixed in-memory document set.
type corpusAdapter struct {
	docs       []*api.Document
	runbookErr error
}

func (c *corpusAdapter) Initialize(ctx context.Context, cfg api.SourceConfig) error { return nil }

func (c *corpusAdapter) Search(ctx context.Context, query string, opts api.SearchOptions) ([]*api.SearchResult, error) {
	var out []*api.SearchResult
	for _, doc := range c.docs {
		out = append(out, &api.SearchResult{Document: doc, Confidence: 0.5})
	}
	return out, nil
}

func (c *corpusAdapter) GetDocument(ctx context.Context, id string) (*api.Document, error) {
	for _, doc := range c.docs {
		if doc.ID == id {
			return doc, nil
		}
	}
	return nil, api.NotFound("document", id)
}

func (c *corpusAdapter) SearchRunbooks(ctx context.Context, query api.RunbookQuery) ([]*api.SearchResult, error) {
	if c.runbookErr != nil {
		return nil, c.runbookErr
	}
	var out []*api.SearchResult
	for _, doc := range c.docs {
		rb, err := index.ParseRunbook(doc)
		if err != nil {
			continue
		}
		if rb.MatchesAlertType(query.AlertType) {
			out = append(out, &api.SearchResult{Runbook: rb, Confidence: 0.6})
		}
	}
	return out, nil
}

func (c *corpusAdapter) HealthCheck(ctx context.Context) api.HealthSnapshot {
	return api.HealthSnapshot{Status: api.HealthHealthy}
}

func (c *corpusAdapter) Metadata() api.AdapterMetadata { return api.AdapterMetadata{} }

func (c *corpusAdapter) Enumerate(ctx context.Context, fn api.EnumerateFunc) error {
	for _, doc := range c.docs {
		if err := fn(doc); err != nil {
			return err
		}
	}
	return nil
}

func (c *corpusAdapter) Cleanup(ctx context.Context) error { return nil }

func diskRunbookDoc() *api.Document {
	return &api.Document{
		ID:          "runbooks/disk.yaml",
		Title:       "Disk Space Critical Response",
		Body:        diskRunbookBody,
		ContentType: "runbook",
	}
}

type testEnv struct {
	engine   *Engine
	indexer  *index.Indexer
	manager  *adapter.Manager
	cfg      *config.Config
	feedback *FeedbackLog
}

func newTestEngine(t *testing.T, adapters map[string]*corpusAdapter) *testEnv {
	t.Helper()
	cfg := config.GetDefaultConfig()

	reg := adapter.NewRegistry()
	require.NoError(t, reg.Register("corpus", func(sc api.SourceConfig) (api.Adapter, error) {
		return adapters[sc.Name], nil
	}))
	reg.Freeze()

	mgr := adapter.NewManager(reg, breaker.NewSet(breaker.DefaultSettings()))
	var sources []api.SourceConfig
	for name := range adapters {
		sources = append(sources, api.SourceConfig{Name: name, Type: "corpus", Enabled: true, Priority: 1})
	}
	require.NoError(t, mgr.Initialize(context.Background(), sources))

	ix := index.NewIndexer(mgr, index.Options{
		Detector: index.NewDetector(index.DetectorConfig{}),
	})
	_, err := ix.RefreshAll(context.Background())
	require.NoError(t, err)

	fb, err := NewFeedbackLog(filepath.Join(t.TempDir(), "feedback.jsonl"))
	require.NoError(t, err)

	eng := New(Options{
		Config:   &cfg,
		Manager:  mgr,
		Indexer:  ix,
		Cache:    cache.NewManager(cache.NewMemoryCache(1000), nil),
		Feedback: fb,
	})
	return &testEnv{engine: eng, indexer: ix, manager: mgr, cfg: &cfg, feedback: fb}
}

func TestSearchRunbooksOperation(t *testing.T) {
	env := newTestEngine(t, map[string]*corpusAdapter{
		"wiki": {docs: []*api.Document{diskRunbookDoc()}},
	})

	t.Run("exact match scores and ranks", func(t *testing.T) {
		resp, err := env.engine.SearchRunbooks(context.Background(), SearchRunbooksRequest{
			AlertType: "disk_space_critical",
			Severity:  "critical",
		})
		require.NoError(t, err)
		require.Len(t, resp.Results, 1)

		got := resp.Results[0]
		// (0.6 base + 0.35 exact + 0.20 severity) * 0.92 clamps to 1.0.
		assert.Equal(t, 1.0, got.Confidence)
		assert.Contains(t, got.MatchReasons, api.ReasonExactAlertTypeMatch)
		assert.Contains(t, got.MatchReasons, api.ReasonSeverityMatch)
		assert.Equal(t, "wiki", got.SourceAdapter)
		assert.False(t, resp.Envelope.Degraded)
		assert.NotEmpty(t, resp.Envelope.CorrelationID)
		assert.Equal(t, []float64{1.0}, resp.Envelope.ConfidenceScores)
	})

	t.Run("identical call hits the cache", func(t *testing.T) {
		req := SearchRunbooksRequest{AlertType: "disk_space_critical", Severity: "critical"}
		first, err := env.engine.SearchRunbooks(context.Background(), req)
		require.NoError(t, err)

		second, err := env.engine.SearchRunbooks(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, second.Envelope.CacheHit)
		assert.Equal(t, first.Results[0].Confidence, second.Results[0].Confidence)

		// Argument order and case do not defeat the cache key.
		third, err := env.engine.SearchRunbooks(context.Background(), SearchRunbooksRequest{
			AlertType: "disk_space_critical", Severity: "CRITICAL",
		})
		require.NoError(t, err)
		assert.True(t, third.Envelope.CacheHit)
	})

	t.Run("validation errors", func(t *testing.T) {
		_, err := env.engine.SearchRunbooks(context.Background(), SearchRunbooksRequest{})
		assert.True(t, api.IsCode(err, api.ErrValidation))

		_, err = env.engine.SearchRunbooks(context.Background(), SearchRunbooksRequest{
			AlertType: "x", Severity: "catastrophic",
		})
		assert.True(t, api.IsCode(err, api.ErrValidation))
	})

	t.Run("no matching runbook returns empty results", func(t *testing.T) {
		resp, err := env.engine.SearchRunbooks(context.Background(), SearchRunbooksRequest{
			AlertType: "unknown_alert",
		})
		require.NoError(t, err)
		assert.Empty(t, resp.Results)
	})
}

func TestSearchRunbooksDegradedNotCached(t *testing.T) {
	broken := &corpusAdapter{runbookErr: errors.New("connection refused")}
	healthy := &corpusAdapter{docs: []*api.Document{diskRunbookDoc()}}
	env := newTestEngine(t, map[string]*corpusAdapter{"wiki": healthy, "git": broken})

	req := SearchRunbooksRequest{AlertType: "disk_space_critical"}
	first, err := env.engine.SearchRunbooks(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, first.Envelope.Degraded)
	require.Len(t, first.Envelope.PartialFailures, 1)
	assert.Equal(t, "git", first.Envelope.PartialFailures[0].AdapterName)
	require.Len(t, first.Results, 1)

	// Degraded responses are produced fresh every time.
	second, err := env.engine.SearchRunbooks(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, second.Envelope.CacheHit)
}

func TestEpochInvalidatesCache(t *testing.T) {
	ad := &corpusAdapter{docs: []*api.Document{diskRunbookDoc()}}
	env := newTestEngine(t, map[string]*corpusAdapter{"wiki": ad})

	req := SearchRunbooksRequest{AlertType: "disk_space_critical"}
	_, err := env.engine.SearchRunbooks(context.Background(), req)
	require.NoError(t, err)

	// Mutate the corpus and refresh: the epoch bump changes every key.
	doc := diskRunbookDoc()
	doc.Body += "\n# appendix\n"
	ad.docs = []*api.Document{doc}
	_, err = env.indexer.RefreshAll(context.Background())
	require.NoError(t, err)

	resp, err := env.engine.SearchRunbooks(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.Envelope.CacheHit)
	assert.Equal(t, env.indexer.Epoch(), resp.Envelope.CorpusEpoch)
}

func TestGetProcedureOperation(t *testing.T) {
	env := newTestEngine(t, map[string]*corpusAdapter{
		"wiki": {docs: []*api.Document{diskRunbookDoc()}},
	})

	t.Run("whole procedure", func(t *testing.T) {
		resp, err := env.engine.GetProcedure(context.Background(), ProcedureRequest{
			ProcedureID: "emergency_disk_cleanup",
		})
		require.NoError(t, err)
		assert.Equal(t, "Emergency disk cleanup", resp.Procedure.Title)
		assert.Len(t, resp.Procedure.Steps, 4)
		assert.Nil(t, resp.Step)
	})

	t.Run("single step addressing", func(t *testing.T) {
		resp, err := env.engine.GetProcedure(context.Background(), ProcedureRequest{
			ProcedureID: "emergency_disk_cleanup",
			Step:        2,
		})
		require.NoError(t, err)
		require.NotNil(t, resp.Step)
		assert.Equal(t, 2, resp.Step.Index)
		assert.Equal(t, "Rotate logs", resp.Step.Action)
	})

	t.Run("step out of range", func(t *testing.T) {
		_, err := env.engine.GetProcedure(context.Background(), ProcedureRequest{
			ProcedureID: "emergency_disk_cleanup",
			Step:        9,
		})
		require.Error(t, err)
		assert.True(t, api.IsCode(err, api.ErrNotFound))
		var engineErr *api.Error
		require.ErrorAs(t, err, &engineErr)
		assert.Equal(t, "procedure_step", engineErr.Details["entity"])
	})

	t.Run("unknown procedure", func(t *testing.T) {
		_, err := env.engine.GetProcedure(context.Background(), ProcedureRequest{ProcedureID: "nope"})
		assert.True(t, api.IsCode(err, api.ErrNotFound))
	})
}

func TestGetDecisionTreeOperation(t *testing.T) {
	env := newTestEngine(t, map[string]*corpusAdapter{
		"wiki": {docs: []*api.Document{diskRunbookDoc()}},
	})

	t.Run("by alert type", func(t *testing.T) {
		resp, err := env.engine.GetDecisionTree(context.Background(), DecisionTreeRequest{
			AlertType: "disk_space_critical",
		})
		require.NoError(t, err)
		require.NotNil(t, resp.Tree)
		assert.Equal(t, "Is the disk above 95%?", resp.Tree.Condition)
		assert.Len(t, resp.Tree.Branches, 2)
		assert.InDelta(t, 0.92, resp.Confidence, 1e-9)
	})

	t.Run("by scenario tag", func(t *testing.T) {
		resp, err := env.engine.GetDecisionTree(context.Background(), DecisionTreeRequest{
			Scenario: "disk_pressure",
		})
		require.NoError(t, err)
		require.NotNil(t, resp.Tree)
		assert.InDelta(t, 0.9, resp.Confidence, 1e-9)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := env.engine.GetDecisionTree(context.Background(), DecisionTreeRequest{
			AlertType: "unknown_alert",
		})
		assert.True(t, api.IsCode(err, api.ErrNotFound))
	})

	t.Run("missing arguments", func(t *testing.T) {
		_, err := env.engine.GetDecisionTree(context.Background(), DecisionTreeRequest{})
		assert.True(t, api.IsCode(err, api.ErrValidation))
	})
}

func TestGetEscalationPathOperation(t *testing.T) {
	env := newTestEngine(t, map[string]*corpusAdapter{
		"wiki": {docs: []*api.Document{diskRunbookDoc()}},
	})

	t.Run("merged path for severity", func(t *testing.T) {
		resp, err := env.engine.GetEscalationPath(context.Background(), EscalationRequest{
			Severity: "critical",
		})
		require.NoError(t, err)
		require.Len(t, resp.Path.Steps, 2)
		assert.Equal(t, "primary-oncall", resp.Path.Steps[0].Role)
		assert.Equal(t, "storage-team", resp.Path.Steps[1].Role)
		assert.Equal(t, 30*time.Minute, resp.Path.Steps[1].WaitBefore)
	})

	t.Run("business hours filter", func(t *testing.T) {
		off := false
		resp, err := env.engine.GetEscalationPath(context.Background(), EscalationRequest{
			Severity:      "critical",
			BusinessHours: &off,
		})
		require.NoError(t, err)
		// The storage team only escalates during business hours.
		require.Len(t, resp.Path.Steps, 1)
		assert.Equal(t, "primary-oncall", resp.Path.Steps[0].Role)
	})

	t.Run("no steps for severity", func(t *testing.T) {
		_, err := env.engine.GetEscalationPath(context.Background(), EscalationRequest{Severity: "low"})
		assert.True(t, api.IsCode(err, api.ErrNotFound))
	})

	t.Run("invalid severity", func(t *testing.T) {
		_, err := env.engine.GetEscalationPath(context.Background(), EscalationRequest{Severity: "bad"})
		assert.True(t, api.IsCode(err, api.ErrValidation))
	})
}

func TestListSourcesOperation(t *testing.T) {
	env := newTestEngine(t, map[string]*corpusAdapter{
		"wiki": {docs: []*api.Document{diskRunbookDoc()}},
	})

	resp, err := env.engine.ListSources(context.Background(), ListSourcesRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "wiki", resp.Sources[0].Name)
	assert.Equal(t, api.StateReady, resp.Sources[0].Status)
	assert.Equal(t, 1, resp.Sources[0].DocumentCount)
}

func TestListSourcesIncludeHealth(t *testing.T) {
	env := newTestEngine(t, map[string]*corpusAdapter{
		"wiki": {docs: []*api.Document{diskRunbookDoc()}},
	})
	mon := health.NewMonitor(health.Config{}, env.manager, health.NewMetrics())
	eng := New(Options{
		Config:   env.cfg,
		Manager:  env.manager,
		Indexer:  env.indexer,
		Cache:    cache.NewManager(cache.NewMemoryCache(1000), nil),
		Monitor:  mon,
		Feedback: env.feedback,
	})

	t.Run("health attached by default", func(t *testing.T) {
		resp, err := eng.ListSources(context.Background(), ListSourcesRequest{})
		require.NoError(t, err)
		require.Len(t, resp.Sources, 1)
		require.NotNil(t, resp.Sources[0].Health)
		assert.Equal(t, api.HealthUnknown, resp.Sources[0].Health.Status)
	})

	t.Run("health omitted on request", func(t *testing.T) {
		off := false
		resp, err := eng.ListSources(context.Background(), ListSourcesRequest{IncludeHealth: &off})
		require.NoError(t, err)
		require.Len(t, resp.Sources, 1)
		assert.Nil(t, resp.Sources[0].Health)
	})
}

func TestSearchKnowledgeBaseOperation(t *testing.T) {
	env := newTestEngine(t, map[string]*corpusAdapter{
		"wiki": {docs: []*api.Document{diskRunbookDoc()}},
	})

	t.Run("text match returns the document", func(t *testing.T) {
		resp, err := env.engine.SearchKnowledgeBase(context.Background(), SearchKnowledgeBaseRequest{
			Query: "disk",
		})
		require.NoError(t, err)
		require.Len(t, resp.Results, 1)
		assert.Contains(t, resp.Results[0].MatchReasons, api.ReasonTextMatch)
	})

	t.Run("zero max_results returns empty data with populated envelope", func(t *testing.T) {
		zero := 0
		resp, err := env.engine.SearchKnowledgeBase(context.Background(), SearchKnowledgeBaseRequest{
			Query:   "disk",
			Filters: api.SearchFilters{MaxResults: &zero},
		})
		require.NoError(t, err)
		assert.Empty(t, resp.Results)
		assert.NotEmpty(t, resp.Envelope.CorrelationID)
		assert.Equal(t, env.indexer.Epoch(), resp.Envelope.CorpusEpoch)
		assert.False(t, resp.Envelope.Degraded)
	})

	t.Run("explicit zero floor caches apart from unset", func(t *testing.T) {
		floor := 0.0
		resp, err := env.engine.SearchKnowledgeBase(context.Background(), SearchKnowledgeBaseRequest{
			Query:   "disk",
			Filters: api.SearchFilters{MinConfidence: &floor},
		})
		require.NoError(t, err)
		// The first subtest already cached the unset-filter call; the
		// explicit zero must not be served from it.
		assert.False(t, resp.Envelope.CacheHit)
		require.Len(t, resp.Results, 1)
	})
}

func TestRecordResolutionFeedback(t *testing.T) {
	env := newTestEngine(t, map[string]*corpusAdapter{
		"wiki": {docs: []*api.Document{diskRunbookDoc()}},
	})

	t.Run("records append-only", func(t *testing.T) {
		resp, err := env.engine.RecordResolutionFeedback(context.Background(), FeedbackRequest{
			IncidentID:     "INC-1234",
			RunbookID:      "runbooks/disk.yaml",
			Outcome:        "success",
			ResolutionTime: "22m",
			Method:         "emergency_disk_cleanup",
		})
		require.NoError(t, err)
		assert.NotEmpty(t, resp.Feedback.FeedbackID)
		assert.True(t, resp.Feedback.Outcome.Success)
		assert.Equal(t, 22*time.Minute, resp.Feedback.Outcome.ResolutionTime)
		assert.Equal(t, "runbooks/disk.yaml", resp.Feedback.Notes["runbook_id"])

		_, err = env.engine.RecordResolutionFeedback(context.Background(), FeedbackRequest{
			IncidentID:     "INC-1234",
			Outcome:        "failure",
			ResolutionTime: "1h",
		})
		require.NoError(t, err)

		records, err := env.engine.feedback.ForIncident("INC-1234")
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.True(t, records[0].Outcome.Success)
		assert.False(t, records[1].Outcome.Success)
	})

	t.Run("validation", func(t *testing.T) {
		_, err := env.engine.RecordResolutionFeedback(context.Background(), FeedbackRequest{
			Outcome: "success", ResolutionTime: "5m",
		})
		assert.True(t, api.IsCode(err, api.ErrValidation))

		_, err = env.engine.RecordResolutionFeedback(context.Background(), FeedbackRequest{
			IncidentID: "INC-1", Outcome: "partial", ResolutionTime: "5m",
		})
		assert.True(t, api.IsCode(err, api.ErrValidation))

		_, err = env.engine.RecordResolutionFeedback(context.Background(), FeedbackRequest{
			IncidentID: "INC-1", Outcome: "success", ResolutionTime: "soon",
		})
		assert.True(t, api.IsCode(err, api.ErrValidation))
	})
}

func TestHealthSummary(t *testing.T) {
	env := newTestEngine(t, map[string]*corpusAdapter{
		"wiki": {docs: []*api.Document{diskRunbookDoc()}},
	})

	got := env.engine.Health()
	assert.Equal(t, api.HealthHealthy, got.Status)
	assert.Equal(t, 1, got.Documents)
	assert.Equal(t, env.indexer.Epoch(), got.CorpusEpoch)
}
