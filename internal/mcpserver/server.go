// Package mcpserver exposes an api.ToolProvider over the Model Context
// Protocol on stdio, SSE or streamable HTTP.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"virtmcp/internal/api"
	"virtmcp/pkg/logging"
)

// Transports.
const (
	TransportStdio          = "stdio"
	TransportSSE            = "sse"
	TransportStreamableHTTP = "streamable-http"
)

// Transports lists the accepted transport names.
var Transports = []string{TransportStdio, TransportSSE, TransportStreamableHTTP}

const (
	mcpPath     = "/mcp"
	metricsPath = "/metrics"
	healthPath  = "/healthz"
)

// Config configures the MCP server.
type Config struct {
	Name      string
	Version   string
	Transport string
	Host      string
	Port      int

	// Metrics is mounted on /metrics for the HTTP transports when set.
	Metrics http.Handler

	// Stdin and Stdout default to the process streams.
	Stdin  io.Reader
	Stdout io.Writer

	ShutdownTimeout time.Duration
}

// Server wraps an mcp-go server whose tools are backed by a provider.
type Server struct {
	cfg      Config
	provider api.ToolProvider
	mcp      *server.MCPServer

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// New registers every tool of provider on a new MCP server.
func New(cfg Config, provider api.ToolProvider) *Server {
	if cfg.Name == "" {
		cfg.Name = "virtmcp"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Transport == "" {
		cfg.Transport = TransportStdio
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	s := &Server{
		cfg:      cfg,
		provider: provider,
		mcp: server.NewMCPServer(cfg.Name, cfg.Version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
	}

	tools := provider.GetTools()
	for _, t := range tools {
		s.mcp.AddTool(mcp.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: convertToMCPSchema(t.Parameters),
		}, s.handler(t.Name))
	}
	logging.Info("MCPServer", "Registered %d tools", len(tools))
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) handler(toolName string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := s.provider.ExecuteTool(ctx, toolName, req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return convertToMCPResult(res), nil
	}
}

// Handler returns the HTTP handler of the configured HTTP transport, with
// health and metrics endpoints mounted next to it.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(healthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	if s.cfg.Metrics != nil {
		mux.Handle(metricsPath, s.cfg.Metrics)
	}

	switch s.cfg.Transport {
	case TransportSSE:
		mux.Handle("/", server.NewSSEServer(s.mcp,
			server.WithBaseURL(fmt.Sprintf("http://%s", s.address())),
			server.WithSSEEndpoint("/sse"),
			server.WithMessageEndpoint("/message"),
			// Clients resolve the relative endpoint against the URL they
			// dialled, which also covers port 0 and wildcard hosts.
			server.WithUseFullURLForMessageEndpoint(false),
			server.WithKeepAlive(true),
			server.WithKeepAliveInterval(30*time.Second),
		))
	default:
		mux.Handle(mcpPath, server.NewStreamableHTTPServer(s.mcp))
	}
	return mux
}

func (s *Server) address() string {
	return net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
}

// Endpoint returns the URL clients connect to, or "stdio".
func (s *Server) Endpoint() string {
	s.mu.Lock()
	addr := s.address()
	if s.listener != nil {
		addr = s.listener.Addr().String()
	}
	s.mu.Unlock()

	switch s.cfg.Transport {
	case TransportSSE:
		return "http://" + addr + "/sse"
	case TransportStreamableHTTP:
		return "http://" + addr + mcpPath
	default:
		return TransportStdio
	}
}

// Serve runs the configured transport until ctx is cancelled or the
// transport fails.
func (s *Server) Serve(ctx context.Context) error {
	switch s.cfg.Transport {
	case TransportStdio:
		return s.serveStdio(ctx)
	case TransportSSE, TransportStreamableHTTP:
		return s.serveHTTP(ctx)
	default:
		return fmt.Errorf("unsupported transport %q", s.cfg.Transport)
	}
}

func (s *Server) serveStdio(ctx context.Context) error {
	in, out := s.cfg.Stdin, s.cfg.Stdout
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}

	logging.Info("MCPServer", "Serving MCP on stdio")
	err := server.NewStdioServer(s.mcp).Listen(ctx, in, out)
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) serveHTTP(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.address())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address(), err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.listener = ln
	s.httpServer = srv
	s.mu.Unlock()

	logging.Info("MCPServer", "Serving MCP with %s transport on %s", s.cfg.Transport, s.Endpoint())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logging.Info("MCPServer", "Stopping MCP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("MCPServer", err, "Error shutting down HTTP server")
		return err
	}
	return nil
}

// convertToMCPSchema converts parameter metadata into a JSON schema object.
func convertToMCPSchema(params []api.ParameterMetadata) mcp.ToolInputSchema {
	properties := make(map[string]interface{}, len(params))
	required := []string{}

	for _, param := range params {
		prop := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			prop["default"] = param.Default
		}
		if len(param.Enum) > 0 {
			prop["enum"] = param.Enum
		}
		if param.Minimum != nil {
			prop["minimum"] = *param.Minimum
		}
		if param.Maximum != nil {
			prop["maximum"] = *param.Maximum
		}
		properties[param.Name] = prop

		if param.Required {
			required = append(required, param.Name)
		}
	}

	return mcp.ToolInputSchema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}

// convertToMCPResult renders provider content as MCP text content. Content
// that is not already a string is marshalled to JSON.
func convertToMCPResult(result *api.CallToolResult) *mcp.CallToolResult {
	content := make([]mcp.Content, len(result.Content))
	for i, c := range result.Content {
		if text, ok := c.(string); ok {
			content[i] = mcp.NewTextContent(text)
			continue
		}
		b, _ := json.Marshal(c)
		content[i] = mcp.NewTextContent(string(b))
	}
	return &mcp.CallToolResult{
		Content: content,
		IsError: result.IsError,
	}
}
