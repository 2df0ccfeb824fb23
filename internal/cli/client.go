package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// TransportType selects how the client talks to the server.
type TransportType string

const (
	TransportStreamableHTTP TransportType = "streamable-http"
	TransportSSE            TransportType = "sse"
)

// DefaultEndpoint is where `virtmcp serve --transport streamable-http`
// listens with the default configuration.
const DefaultEndpoint = "http://localhost:8090/mcp"

// TransportForEndpoint infers the transport from the URL path: endpoints
// ending in /sse use SSE, everything else streamable HTTP.
func TransportForEndpoint(endpoint string) TransportType {
	if strings.HasSuffix(strings.TrimRight(endpoint, "/"), "/sse") {
		return TransportSSE
	}
	return TransportStreamableHTTP
}

// Client is a thin MCP client for one virtmcp server.
type Client struct {
	endpoint  string
	transport TransportType
	timeout   time.Duration
	client    *client.Client
}

// NewClient creates a client. Nothing is dialled until Connect.
func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint:  endpoint,
		transport: TransportForEndpoint(endpoint),
		timeout:   timeout,
	}
}

// Endpoint returns the server URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Connect starts the transport and performs the MCP handshake.
func (c *Client) Connect(ctx context.Context) error {
	var (
		mcpClient *client.Client
		err       error
	)
	switch c.transport {
	case TransportSSE:
		mcpClient, err = client.NewSSEMCPClient(c.endpoint)
	default:
		mcpClient, err = client.NewStreamableHttpClient(c.endpoint)
	}
	if err != nil {
		return fmt.Errorf("failed to create %s client: %w", c.transport, err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to start %s client: %w", c.transport, err)
	}

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: "virtmcp-cli", Version: "1.0.0"}

	initCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if _, err := mcpClient.Initialize(initCtx, req); err != nil {
		mcpClient.Close()
		return fmt.Errorf("initialization failed: %w", err)
	}

	c.client = mcpClient
	return nil
}

// Close shuts the transport down. It is safe to call on an unconnected
// client.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

// CallTool executes a tool and returns the raw MCP result.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	if c.client == nil {
		return nil, fmt.Errorf("client not connected")
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := c.client.CallTool(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("tool call failed: %w", err)
	}
	return result, nil
}

// ListTools returns the tools the server advertises.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	if c.client == nil {
		return nil, fmt.Errorf("client not connected")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := c.client.ListTools(callCtx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	return result.Tools, nil
}
