package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"runhub/internal/api"
	"runhub/internal/config"
	"runhub/internal/engine"
	"runhub/pkg/logging"
)

const shutdownTimeout = 5 * time.Second

// MCPServer exposes the engine's tools over the Model Context Protocol,
// on either the stdio or the streamable-http transport.
type MCPServer struct {
	cfg     config.ServerConfig
	engine  *engine.Engine
	version string

	mu         sync.Mutex
	server     *mcpserver.MCPServer
	streamable *mcpserver.StreamableHTTPServer
	cancel     context.CancelFunc
}

// NewMCPServer creates the MCP surface for the given engine.
func NewMCPServer(cfg config.ServerConfig, eng *engine.Engine, version string) *MCPServer {
	return &MCPServer{cfg: cfg, engine: eng, version: version}
}

// Start registers the tools and launches the configured transport. The
// transport runs in a background goroutine until Stop.
func (s *MCPServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return fmt.Errorf("mcp server already started")
	}

	var runCtx context.Context
	runCtx, s.cancel = context.WithCancel(ctx)

	s.server = mcpserver.NewMCPServer(
		"runhub",
		s.version,
		mcpserver.WithToolCapabilities(true),
	)
	s.server.AddTools(s.tools()...)

	addr := fmt.Sprintf("%s:%d", s.cfg.MCPHost, s.cfg.MCPPort)

	switch s.cfg.MCPTransport {
	case config.MCPTransportStdio:
		logging.Info("MCPServer", "Starting MCP server with stdio transport")
		stdio := mcpserver.NewStdioServer(s.server)
		go func() {
			if err := stdio.Listen(runCtx, os.Stdin, os.Stdout); err != nil {
				logging.Error("MCPServer", err, "Stdio server error")
			}
		}()

	default:
		logging.Info("MCPServer", "Starting MCP server with streamable-http transport on %s", addr)
		s.streamable = mcpserver.NewStreamableHTTPServer(s.server)
		streamable := s.streamable
		go func() {
			if err := streamable.Start(addr); err != nil && err != http.ErrServerClosed {
				logging.Error("MCPServer", err, "Streamable HTTP server error")
			}
		}()
	}

	return nil
}

// Stop shuts the transport down, waiting up to shutdownTimeout for
// in-flight requests.
func (s *MCPServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.server == nil {
		s.mu.Unlock()
		return fmt.Errorf("mcp server not started")
	}
	cancel := s.cancel
	streamable := s.streamable
	s.server = nil
	s.streamable = nil
	s.cancel = nil
	s.mu.Unlock()

	logging.Info("MCPServer", "Stopping MCP server")
	if cancel != nil {
		cancel()
	}
	if streamable != nil {
		shutdownCtx, done := context.WithTimeout(ctx, shutdownTimeout)
		defer done()
		if err := streamable.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down streamable HTTP server: %w", err)
		}
	}
	return nil
}

// tools builds the seven tool registrations.
func (s *MCPServer) tools() []mcpserver.ServerTool {
	eng := s.engine
	return []mcpserver.ServerTool{
		{
			Tool: mcp.Tool{
				Name:        engine.ToolSearchRunbooks,
				Description: "Find runbooks matching an alert, ranked by confidence.",
				InputSchema: objectSchema(map[string]any{
					"alert_type":       prop("string", "Alert or incident type to match, e.g. disk_space_critical"),
					"severity":         prop("string", "Alert severity: critical, high, medium or low"),
					"affected_systems": arrayProp("string", "Systems or services involved in the incident"),
					"context":          prop("object", "Additional alert labels used to refine matching"),
					"correlation_id":   prop("string", "Caller-supplied correlation identifier"),
				}, "alert_type"),
			},
			Handler: toolHandler(engine.ToolSearchRunbooks, func(ctx context.Context, req engine.SearchRunbooksRequest) (any, error) {
				return eng.SearchRunbooks(ctx, req)
			}),
		},
		{
			Tool: mcp.Tool{
				Name:        engine.ToolGetDecisionTree,
				Description: "Retrieve the decision tree for an alert type or named scenario.",
				InputSchema: objectSchema(map[string]any{
					"alert_type":     prop("string", "Alert type to look up a tree for"),
					"scenario":       prop("string", "Named troubleshooting scenario"),
					"severity":       prop("string", "Preferred severity when several trees match"),
					"correlation_id": prop("string", "Caller-supplied correlation identifier"),
				}),
			},
			Handler: toolHandler(engine.ToolGetDecisionTree, func(ctx context.Context, req engine.DecisionTreeRequest) (any, error) {
				return eng.GetDecisionTree(ctx, req)
			}),
		},
		{
			Tool: mcp.Tool{
				Name:        engine.ToolGetProcedure,
				Description: "Retrieve a procedure by identifier, whole or one step at a time.",
				InputSchema: objectSchema(map[string]any{
					"procedure_id":   prop("string", "Procedure identifier"),
					"step":           prop("integer", "1-based step number; omit for the whole procedure"),
					"correlation_id": prop("string", "Caller-supplied correlation identifier"),
				}, "procedure_id"),
			},
			Handler: toolHandler(engine.ToolGetProcedure, func(ctx context.Context, req engine.ProcedureRequest) (any, error) {
				return eng.GetProcedure(ctx, req)
			}),
		},
		{
			Tool: mcp.Tool{
				Name:        engine.ToolSearchKnowledgeBase,
				Description: "Free-text search across all indexed documentation.",
				InputSchema: objectSchema(map[string]any{
					"query":          prop("string", "Search text"),
					"filters":        prop("object", "Optional filters: document_type, source, max_results, min_confidence"),
					"correlation_id": prop("string", "Caller-supplied correlation identifier"),
				}, "query"),
			},
			Handler: toolHandler(engine.ToolSearchKnowledgeBase, func(ctx context.Context, req engine.SearchKnowledgeBaseRequest) (any, error) {
				return eng.SearchKnowledgeBase(ctx, req)
			}),
		},
		{
			Tool: mcp.Tool{
				Name:        engine.ToolGetEscalationPath,
				Description: "Merged escalation path for a severity, ordered by wait time.",
				InputSchema: objectSchema(map[string]any{
					"severity":       prop("string", "Severity the escalation applies to"),
					"business_hours": prop("boolean", "Restrict to steps valid inside or outside business hours"),
					"correlation_id": prop("string", "Caller-supplied correlation identifier"),
				}, "severity"),
			},
			Handler: toolHandler(engine.ToolGetEscalationPath, func(ctx context.Context, req engine.EscalationRequest) (any, error) {
				return eng.GetEscalationPath(ctx, req)
			}),
		},
		{
			Tool: mcp.Tool{
				Name:        engine.ToolListSources,
				Description: "List configured documentation sources with state and health.",
				InputSchema: objectSchema(map[string]any{
					"include_health": prop("boolean", "Attach per-source health snapshots; defaults to true"),
					"correlation_id": prop("string", "Caller-supplied correlation identifier"),
				}),
			},
			Handler: toolHandler(engine.ToolListSources, func(ctx context.Context, req engine.ListSourcesRequest) (any, error) {
				return eng.ListSources(ctx, req)
			}),
		},
		{
			Tool: mcp.Tool{
				Name:        engine.ToolRecordFeedback,
				Description: "Record the outcome of an incident resolution for future ranking.",
				InputSchema: objectSchema(map[string]any{
					"incident_id":     prop("string", "Incident the feedback belongs to"),
					"runbook_id":      prop("string", "Runbook that was followed, if any"),
					"outcome":         prop("string", "Either success or failure"),
					"resolution_time": prop("string", "Time to resolution as a duration, e.g. 25m"),
					"method":          prop("string", "How the incident was resolved"),
					"notes":           prop("object", "Free-form notes"),
					"correlation_id":  prop("string", "Caller-supplied correlation identifier"),
				}, "incident_id", "outcome", "resolution_time"),
			},
			Handler: toolHandler(engine.ToolRecordFeedback, func(ctx context.Context, req engine.FeedbackRequest) (any, error) {
				return eng.RecordResolutionFeedback(ctx, req)
			}),
		},
	}
}

// toolHandler bridges an MCP call to a typed engine operation: the raw
// argument map is decoded into the request struct, and the response is
// serialized back as a JSON text result. Engine errors become tool
// errors, not protocol errors.
func toolHandler[Req any](tool string, call func(ctx context.Context, req Req) (any, error)) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, mcpReq mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var req Req
		if args, ok := mcpReq.Params.Arguments.(map[string]any); ok && len(args) > 0 {
			raw, err := json.Marshal(args)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
			}
			if err := json.Unmarshal(raw, &req); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid arguments for %s: %v", tool, err)), nil
			}
		}

		resp, err := call(ctx, req)
		if err != nil {
			return mcp.NewToolResultError(errorMessage(err)), nil
		}
		body, err := json.Marshal(resp)
		if err != nil {
			logging.Error("MCPServer", err, "Encoding %s response failed", tool)
			return mcp.NewToolResultError("internal: encoding response failed"), nil
		}
		return mcp.NewToolResultText(string(body)), nil
	}
}

// errorMessage renders an error for the tool result, prefixed with its
// code so clients can branch without parsing prose.
func errorMessage(err error) string {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return apiErr.Error()
	}
	return fmt.Sprintf("%s: %v", api.ErrInternal, err)
}

func prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}

func arrayProp(itemType, description string) map[string]any {
	return map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": itemType},
		"description": description,
	}
}

func objectSchema(properties map[string]any, required ...string) mcp.ToolInputSchema {
	if required == nil {
		required = []string{}
	}
	return mcp.ToolInputSchema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}
