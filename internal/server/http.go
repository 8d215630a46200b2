package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"runhub/internal/api"
	"runhub/internal/config"
	"runhub/internal/engine"
	"runhub/internal/health"
	"runhub/pkg/logging"
)

// HTTPServer serves the REST surface: the tool endpoints under /api/v1,
// the health probe and the Prometheus metrics.
type HTTPServer struct {
	cfg     config.ServerConfig
	engine  *engine.Engine
	metrics *health.Metrics
	srv     *http.Server
}

// NewHTTPServer creates the HTTP surface for the given engine.
func NewHTTPServer(cfg config.ServerConfig, eng *engine.Engine, metrics *health.Metrics) *HTTPServer {
	return &HTTPServer{cfg: cfg, engine: eng, metrics: metrics}
}

// Router builds the chi router. Exposed separately so tests can drive it
// through httptest without binding a port.
func (s *HTTPServer) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Correlation-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/"+engine.ToolSearchRunbooks, toolEndpoint(s.engine.SearchRunbooks))
		r.Post("/"+engine.ToolGetDecisionTree, toolEndpoint(s.engine.GetDecisionTree))
		r.Post("/"+engine.ToolGetProcedure, toolEndpoint(s.engine.GetProcedure))
		r.Post("/"+engine.ToolSearchKnowledgeBase, toolEndpoint(s.engine.SearchKnowledgeBase))
		r.Post("/"+engine.ToolGetEscalationPath, toolEndpoint(s.engine.GetEscalationPath))
		r.Post("/"+engine.ToolListSources, toolEndpoint(s.engine.ListSources))
		r.Post("/"+engine.ToolRecordFeedback, toolEndpoint(s.engine.RecordResolutionFeedback))
	})

	return r
}

// Start begins serving in a background goroutine.
func (s *HTTPServer) Start(ctx context.Context) error {
	if s.srv != nil {
		return fmt.Errorf("http server already started")
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.HTTPHost, s.cfg.HTTPPort)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logging.Info("HTTPServer", "Starting HTTP server on %s", addr)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("HTTPServer", err, "HTTP server error")
		}
	}()
	return nil
}

// Stop drains in-flight requests, waiting up to shutdownTimeout.
func (s *HTTPServer) Stop(ctx context.Context) error {
	if s.srv == nil {
		return fmt.Errorf("http server not started")
	}
	logging.Info("HTTPServer", "Stopping HTTP server")
	shutdownCtx, done := context.WithTimeout(ctx, shutdownTimeout)
	defer done()
	err := s.srv.Shutdown(shutdownCtx)
	s.srv = nil
	return err
}

// handleHealth answers from cached monitor snapshots so it stays fast
// even when a source hangs. Unhealthy maps to 503 for load balancers.
func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := s.engine.Health()
	status := http.StatusOK
	if resp.Status == api.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// errorBody is the REST error shape.
type errorBody struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details,omitempty"`
	} `json:"error"`
}

// toolEndpoint adapts a typed engine operation to an HTTP handler. The
// request body is the operation's argument struct; an empty body means
// no arguments.
func toolEndpoint[Req any, Resp any](call func(ctx context.Context, req Req) (Resp, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Req
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, api.Validation("body", fmt.Sprintf("invalid JSON: %v", err)))
				return
			}
		}
		resp, err := call(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeError(w http.ResponseWriter, err error) {
	var body errorBody
	body.Error.Code = string(api.CodeOf(err))
	body.Error.Message = err.Error()
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		body.Error.Details = apiErr.Details
	}
	writeJSON(w, httpStatus(api.CodeOf(err)), body)
}

func httpStatus(code api.ErrorCode) int {
	switch code {
	case api.ErrNotFound:
		return http.StatusNotFound
	case api.ErrValidation:
		return http.StatusBadRequest
	case api.ErrTimeout:
		return http.StatusGatewayTimeout
	case api.ErrCircuitOpen, api.ErrDegradedResult:
		return http.StatusServiceUnavailable
	case api.ErrConfiguration:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("HTTPServer", err, "Encoding response failed")
	}
}
