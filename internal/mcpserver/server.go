// Package mcpserver registers the ServiceNow tools with an MCP server and
// serves them over stdio or streamable HTTP.
//
// # Transports
//
//   - stdio (default): the host launches the agent as a subprocess and
//     exchanges JSON-RPC frames over stdin/stdout. stdout carries nothing
//     else; all diagnostics go to the logger, which writes to stderr.
//   - http: stateless streamable HTTP at the configured endpoint path
//     (default /mcp).
//
// # Instrumentation
//
// Every tool call is wrapped to log the invocation, record
// snmcp_tool_calls_total and snmcp_tool_call_duration_seconds, and publish
// an audit event. Outcomes:
//
//	┌──────────┬──────────────────────────────────────────────┐
//	│ Outcome  │ Meaning                                      │
//	├──────────┼──────────────────────────────────────────────┤
//	│ ok       │ text result (including "not found" messages) │
//	│ rejected │ argument validation failed (isError result)  │
//	│ error    │ hard failure returned as a JSON-RPC error    │
//	└──────────┴──────────────────────────────────────────────┘
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/RaikaSurendra/servicenow-mcp-agent/internal/audit"
	"github.com/RaikaSurendra/servicenow-mcp-agent/internal/config"
	"github.com/RaikaSurendra/servicenow-mcp-agent/internal/observability"
	"github.com/RaikaSurendra/servicenow-mcp-agent/internal/tools"
)

// Name is the server name announced to MCP hosts.
const Name = "ServiceNow Agent"

const instructions = `Tools for ServiceNow incidents, requests, knowledge and the service catalog.
Before ordering, call get_catalog_variables to learn the variable keys of an item,
and get_user_id to resolve the sys_id of the person the request is for.
Pass variables to submit_catalog_request as a JSON object keyed by variable name.`

// Server is an MCP server exposing the ServiceNow tools.
type Server struct {
	mcp       *server.MCPServer
	cfg       config.ServerConfig
	publisher audit.Publisher
	logger    *slog.Logger
}

// New creates a Server with every tool of toolset registered. A nil
// publisher disables auditing.
func New(cfg config.ServerConfig, version string, toolset *tools.Toolset, publisher audit.Publisher, logger *slog.Logger) *Server {
	if publisher == nil {
		publisher = audit.Nop{}
	}

	s := &Server{
		mcp: server.NewMCPServer(Name, version,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
			server.WithInstructions(instructions),
		),
		cfg:       cfg,
		publisher: publisher,
		logger:    logger.With("component", "mcpserver"),
	}

	for _, t := range toolset.Tools() {
		s.mcp.AddTool(t.Definition, s.instrument(t))
	}
	return s
}

// MCP returns the underlying mcp-go server.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// instrument wraps a tool adapter with logging, metrics and auditing.
func (s *Server) instrument(t tools.Tool) server.ToolHandlerFunc {
	name := t.Definition.Name
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		reference, _ := req.GetArguments()[t.ReferenceArg].(string)
		s.logger.Info("🔧 tool called", "tool", name, "reference", reference)

		start := time.Now()
		res, err := t.Handle(ctx, req)
		elapsed := time.Since(start)

		outcome, detail := audit.OutcomeOK, ""
		switch {
		case err != nil:
			outcome, detail = audit.OutcomeError, err.Error()
			s.logger.Error("❌ tool failed", "tool", name, "reference", reference, "error", err)
		case res != nil && res.IsError:
			outcome, detail = audit.OutcomeRejected, resultText(res)
		}

		observability.Metrics.ToolCallsTotal.WithLabelValues(name, outcome).Inc()
		observability.Metrics.ToolCallDuration.WithLabelValues(name).Observe(elapsed.Seconds())

		s.publisher.Publish(ctx, audit.Event{
			Tool:       name,
			Reference:  reference,
			Outcome:    outcome,
			Error:      detail,
			DurationMS: elapsed.Milliseconds(),
			Timestamp:  start.UTC(),
		})
		return res, err
	}
}

func resultText(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if tc, ok := mcp.AsTextContent(c); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Serve runs the configured transport until ctx is cancelled. ready is
// called once the transport accepts requests.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer, ready func()) error {
	switch s.cfg.Transport {
	case config.TransportHTTP:
		return s.serveHTTP(ctx, ready)
	case config.TransportStdio, "":
		return s.serveStdio(ctx, in, out, ready)
	default:
		return fmt.Errorf("unsupported transport %q", s.cfg.Transport)
	}
}

func (s *Server) serveStdio(ctx context.Context, in io.Reader, out io.Writer, ready func()) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))

	s.logger.Info("serving MCP over stdio")
	if ready != nil {
		ready()
	}
	err := stdio.Listen(ctx, in, out)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("stdio transport: %w", err)
	}
	return nil
}

// Handler returns the streamable HTTP handler mounted at the endpoint path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.EndpointPath, server.NewStreamableHTTPServer(s.mcp,
		server.WithEndpointPath(s.cfg.EndpointPath),
		server.WithStateLess(true),
	))
	return mux
}

func (s *Server) serveHTTP(ctx context.Context, ready func()) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down MCP HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("serving MCP over HTTP", "addr", s.cfg.Addr, "endpoint", s.cfg.EndpointPath)
	if ready != nil {
		ready()
	}
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("MCP HTTP server: %w", err)
	}
	return nil
}
