package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"runhub/internal/adapter"
	"runhub/internal/api"
	"runhub/internal/breaker"
	"runhub/internal/cache"
	"runhub/internal/config"
	"runhub/internal/engine"
	"runhub/internal/health"
	"runhub/internal/index"
)

const wireRunbookBody = `title: Disk Space Critical Response
alert_types:
  - disk_space_critical
severities:
  - critical
affected_systems:
  - storage
success_rate: 0.92
procedures:
  - id: emergency_disk_cleanup
    title: Emergency disk cleanup
    steps:
      - action: Identify the largest directories
      - action: Rotate logs
escalation:
  - role: primary-oncall
    severity: critical
`

// wireAdapter serves one fixed runbook document.
type wireAdapter struct {
	docs []*api.Document
}

func (a *wireAdapter) Initialize(ctx context.Context, cfg api.SourceConfig) error { return nil }

func (a *wireAdapter) Search(ctx context.Context, query string, opts api.SearchOptions) ([]*api.SearchResult, error) {
	var out []*api.SearchResult
	for _, doc := range a.docs {
		out = append(out, &api.SearchResult{Document: doc, Confidence: 0.5})
	}
	return out, nil
}

func (a *wireAdapter) GetDocument(ctx context.Context, id string) (*api.Document, error) {
	for _, doc := range a.docs {
		if doc.ID == id {
			return doc, nil
		}
	}
	return nil, api.NotFound("document", id)
}

func (a *wireAdapter) SearchRunbooks(ctx context.Context, query api.RunbookQuery) ([]*api.SearchResult, error) {
	var out []*api.SearchResult
	for _, doc := range a.docs {
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

func (a *wireAdapter) HealthCheck(ctx context.Context) api.HealthSnapshot {
	return api.HealthSnapshot{Status: api.HealthHealthy}
}

func (a *wireAdapter) Metadata() api.AdapterMetadata { return api.AdapterMetadata{} }

func (a *wireAdapter) Enumerate(ctx context.Context, fn api.EnumerateFunc) error {
	for _, doc := range a.docs {
		if err := fn(doc); err != nil {
			return err
		}
	}
	return nil
}

func (a *wireAdapter) Cleanup(ctx context.Context) error { return nil }

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	cfg := config.GetDefaultConfig()

	src := &wireAdapter{docs: []*api.Document{{
		ID:          "runbooks/disk.yaml",
		Title:       "Disk Space Critical Response",
		Body:        wireRunbookBody,
		ContentType: "runbook",
	}}}

	reg := adapter.NewRegistry()
	require.NoError(t, reg.Register("corpus", func(sc api.SourceConfig) (api.Adapter, error) {
		return src, nil
	}))
	reg.Freeze()

	mgr := adapter.NewManager(reg, breaker.NewSet(breaker.DefaultSettings()))
	require.NoError(t, mgr.Initialize(context.Background(), []api.SourceConfig{
		{Name: "wiki", Type: "corpus", Enabled: true, Priority: 1},
	}))

	ix := index.NewIndexer(mgr, index.Options{
		Detector: index.NewDetector(index.DetectorConfig{}),
	})
	_, err := ix.RefreshAll(context.Background())
	require.NoError(t, err)

	fb, err := engine.NewFeedbackLog(filepath.Join(t.TempDir(), "feedback.jsonl"))
	require.NoError(t, err)

	return engine.New(engine.Options{
		Config:   &cfg,
		Manager:  mgr,
		Indexer:  ix,
		Cache:    cache.NewManager(cache.NewMemoryCache(100), nil),
		Feedback: fb,
	})
}

func postJSON(t *testing.T, router http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHTTPSearchRunbooks(t *testing.T) {
	eng := newTestEngine(t)
	router := NewHTTPServer(config.GetDefaultConfig().Server, eng, nil).Router()

	rec := postJSON(t, router, "/api/v1/search_runbooks", map[string]any{
		"alert_type": "disk_space_critical",
		"severity":   "critical",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp engine.SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 1.0, resp.Results[0].Confidence)
	assert.Equal(t, "wiki", resp.Results[0].SourceAdapter)
	assert.NotEmpty(t, resp.Envelope.CorrelationID)
}

func TestHTTPErrorMapping(t *testing.T) {
	eng := newTestEngine(t)
	router := NewHTTPServer(config.GetDefaultConfig().Server, eng, nil).Router()

	t.Run("validation maps to 400", func(t *testing.T) {
		rec := postJSON(t, router, "/api/v1/search_runbooks", map[string]any{})
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var body errorBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "validation", body.Error.Code)
		assert.Equal(t, "alert_type", body.Error.Details["field"])
	})

	t.Run("not found maps to 404", func(t *testing.T) {
		rec := postJSON(t, router, "/api/v1/get_procedure", map[string]any{
			"procedure_id": "does_not_exist",
		})
		require.Equal(t, http.StatusNotFound, rec.Code)

		var body errorBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "not_found", body.Error.Code)
	})

	t.Run("malformed body maps to 400", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/search_runbooks", strings.NewReader("{not json"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHTTPProcedureAndSources(t *testing.T) {
	eng := newTestEngine(t)
	router := NewHTTPServer(config.GetDefaultConfig().Server, eng, nil).Router()

	rec := postJSON(t, router, "/api/v1/get_procedure", map[string]any{
		"procedure_id": "emergency_disk_cleanup",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var proc engine.ProcedureResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &proc))
	assert.Len(t, proc.Procedure.Steps, 2)

	rec = postJSON(t, router, "/api/v1/list_sources", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code)
	var sources engine.ListSourcesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sources))
	require.Len(t, sources.Sources, 1)
	assert.Equal(t, "wiki", sources.Sources[0].Name)
	assert.Equal(t, 1, sources.Sources[0].DocumentCount)
}

func TestHTTPHealthAndMetrics(t *testing.T) {
	eng := newTestEngine(t)
	metrics := health.NewMetrics()
	router := NewHTTPServer(config.GetDefaultConfig().Server, eng, metrics).Router()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var hr engine.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hr))
	assert.Equal(t, api.HealthHealthy, hr.Status)
	assert.Equal(t, 1, hr.Documents)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func toolRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: struct {
			Name      string    `json:"name"`
			Arguments any       `json:"arguments,omitempty"`
			Meta      *mcp.Meta `json:"_meta,omitempty"`
		}{
			Arguments: args,
		},
	}
}

func findTool(t *testing.T, s *MCPServer, name string) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	t.Helper()
	for _, tool := range s.tools() {
		if tool.Tool.Name == name {
			return tool.Handler
		}
	}
	t.Fatalf("tool %s not registered", name)
	return nil
}

func TestMCPToolRegistration(t *testing.T) {
	s := NewMCPServer(config.GetDefaultConfig().Server, newTestEngine(t), "test")

	tools := s.tools()
	require.Len(t, tools, 7)

	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Tool.Name)
		assert.NotEmpty(t, tool.Tool.Description, tool.Tool.Name)
		assert.Equal(t, "object", tool.Tool.InputSchema.Type, tool.Tool.Name)
		assert.NotNil(t, tool.Handler, tool.Tool.Name)
	}
	assert.ElementsMatch(t, names, []string{
		"search_runbooks", "get_decision_tree", "get_procedure",
		"search_knowledge_base", "get_escalation_path", "list_sources",
		"record_resolution_feedback",
	})

	for _, tool := range tools {
		switch tool.Tool.Name {
		case "search_runbooks":
			// The advertised severity set must match what validation accepts.
			sev := tool.Tool.InputSchema.Properties["severity"].(map[string]any)
			assert.NotContains(t, sev["description"], "info")
		case "list_sources":
			assert.Contains(t, tool.Tool.InputSchema.Properties, "include_health")
		}
	}
}

func TestMCPSearchRunbooksHandler(t *testing.T) {
	s := NewMCPServer(config.GetDefaultConfig().Server, newTestEngine(t), "test")
	handler := findTool(t, s, "search_runbooks")

	result, err := handler(context.Background(), toolRequest(map[string]any{
		"alert_type": "disk_space_critical",
		"severity":   "critical",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok)
	var resp engine.SearchResponse
	require.NoError(t, json.Unmarshal([]byte(text.Text), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 1.0, resp.Results[0].Confidence)
}

func TestMCPHandlerErrors(t *testing.T) {
	s := NewMCPServer(config.GetDefaultConfig().Server, newTestEngine(t), "test")

	t.Run("validation surfaces as tool error", func(t *testing.T) {
		handler := findTool(t, s, "search_runbooks")
		result, err := handler(context.Background(), toolRequest(nil))
		require.NoError(t, err)
		require.True(t, result.IsError)

		text, ok := mcp.AsTextContent(result.Content[0])
		require.True(t, ok)
		assert.True(t, strings.HasPrefix(text.Text, "validation:"), text.Text)
	})

	t.Run("not found surfaces as tool error", func(t *testing.T) {
		handler := findTool(t, s, "get_procedure")
		result, err := handler(context.Background(), toolRequest(map[string]any{
			"procedure_id": "missing",
		}))
		require.NoError(t, err)
		require.True(t, result.IsError)

		text, ok := mcp.AsTextContent(result.Content[0])
		require.True(t, ok)
		assert.True(t, strings.HasPrefix(text.Text, "not_found:"), text.Text)
	})
}

func TestMCPFeedbackHandler(t *testing.T) {
	s := NewMCPServer(config.GetDefaultConfig().Server, newTestEngine(t), "test")
	handler := findTool(t, s, "record_resolution_feedback")

	result, err := handler(context.Background(), toolRequest(map[string]any{
		"incident_id":     "INC-42",
		"runbook_id":      "runbooks/disk.yaml",
		"outcome":         "success",
		"resolution_time": "25m",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok)
	var resp engine.FeedbackResponse
	require.NoError(t, json.Unmarshal([]byte(text.Text), &resp))
	assert.NotEmpty(t, resp.Feedback.FeedbackID)
	assert.Equal(t, "INC-42", resp.Feedback.IncidentID)
}
