package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mark3labs/mcp-go/mcp"

	"virtmcp/internal/api"
)

// EndpointEnvVar is the environment variable name for setting the default endpoint.
const EndpointEnvVar = "VIRTMCP_ENDPOINT"

// GetDefaultEndpoint returns the endpoint from the environment, falling back
// to DefaultEndpoint.
func GetDefaultEndpoint() string {
	if endpoint := os.Getenv(EndpointEnvVar); endpoint != "" {
		return endpoint
	}
	return DefaultEndpoint
}

// ExecutorOptions contains configuration options for tool execution.
type ExecutorOptions struct {
	// Endpoint is the server URL. Defaults to GetDefaultEndpoint().
	Endpoint string
	// Format specifies the desired output format (table, json, yaml)
	Format OutputFormat
	// Quiet suppresses progress indicators
	Quiet bool
	// Timeout bounds each request. Long-running actions such as clone need
	// more than the default.
	Timeout time.Duration
	// Out and ErrOut default to stdout and stderr.
	Out    io.Writer
	ErrOut io.Writer
}

// ToolExecutor connects to a virtmcp server, executes tools and formats the
// resulting envelopes.
type ToolExecutor struct {
	client  *Client
	options ExecutorOptions
	tools   map[string]mcp.Tool
}

// DefaultCallTimeout bounds a CLI request when ExecutorOptions.Timeout is
// unset. It covers the longest default action timeout.
const DefaultCallTimeout = 35 * time.Minute

// NewToolExecutor creates a new tool executor with the specified options.
func NewToolExecutor(options ExecutorOptions) (*ToolExecutor, error) {
	if options.Endpoint == "" {
		options.Endpoint = GetDefaultEndpoint()
	}
	if options.Format == "" {
		options.Format = OutputFormatTable
	}
	if err := ValidateOutputFormat(string(options.Format)); err != nil {
		return nil, err
	}
	if options.Timeout <= 0 {
		options.Timeout = DefaultCallTimeout
	}
	if options.Out == nil {
		options.Out = os.Stdout
	}
	if options.ErrOut == nil {
		options.ErrOut = os.Stderr
	}

	return &ToolExecutor{
		client:  NewClient(options.Endpoint, options.Timeout),
		options: options,
	}, nil
}

// Options returns the resolved options.
func (e *ToolExecutor) Options() ExecutorOptions {
	return e.options
}

func (e *ToolExecutor) startSpinner(suffix string) *spinner.Spinner {
	if e.options.Quiet {
		return nil
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(e.options.ErrOut))
	s.Suffix = suffix
	s.Start()
	return s
}

// Connect establishes a connection to the virtmcp server. Failures are
// returned as *ConnectionError.
func (e *ToolExecutor) Connect(ctx context.Context) error {
	s := e.startSpinner(" Connecting to virtmcp server...")
	err := e.client.Connect(ctx)
	if s != nil {
		if err != nil {
			s.FinalMSG = text.FgRed.Sprint("Failed to connect to virtmcp server") + "\n"
		}
		s.Stop()
	}
	if err != nil {
		return &ConnectionError{Endpoint: e.client.Endpoint(), Reason: err}
	}
	return nil
}

// Close gracefully closes the connection to the server.
func (e *ToolExecutor) Close() error {
	return e.client.Close()
}

// Tools returns the tools advertised by the server, fetching them once.
func (e *ToolExecutor) Tools(ctx context.Context) (map[string]mcp.Tool, error) {
	if e.tools != nil {
		return e.tools, nil
	}
	list, err := e.client.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	e.tools = make(map[string]mcp.Tool, len(list))
	for _, t := range list {
		e.tools[t.Name] = t
	}
	return e.tools, nil
}

// Call coerces command-line arguments against the tool's schema and
// executes the action.
func (e *ToolExecutor) Call(ctx context.Context, toolName, action string, raw map[string]string) error {
	tools, err := e.Tools(ctx)
	if err != nil {
		return err
	}
	tool, ok := tools[toolName]
	if !ok {
		names := make([]string, 0, len(tools))
		for name := range tools {
			names = append(names, name)
		}
		sort.Strings(names)
		return fmt.Errorf("unknown tool %q (available: %s)", toolName, strings.Join(names, ", "))
	}

	args, err := CoerceArgs(tool, raw)
	if err != nil {
		return err
	}
	args["action"] = action
	return e.Execute(ctx, toolName, args)
}

// Execute executes a tool with the given args and renders the envelope's
// data. A failed envelope is returned as *ToolError.
func (e *ToolExecutor) Execute(ctx context.Context, toolName string, args map[string]interface{}) error {
	env, err := e.Envelope(ctx, toolName, args)
	if err != nil {
		return err
	}
	return Render(e.options.Out, e.options.Format, env.Data)
}

// Envelope executes a tool and returns the decoded envelope without
// rendering it.
func (e *ToolExecutor) Envelope(ctx context.Context, toolName string, args map[string]interface{}) (api.Envelope, error) {
	s := e.startSpinner(" Executing " + toolName + "...")
	result, err := e.client.CallTool(ctx, toolName, args)
	if s != nil {
		s.Stop()
	}
	if err != nil {
		if !e.options.Quiet {
			fmt.Fprintln(e.options.ErrOut, text.FgRed.Sprint("Command failed"))
		}
		return api.Envelope{}, fmt.Errorf("failed to execute tool %s: %w", toolName, err)
	}

	env, err := envelopeOf(result)
	if err != nil {
		return api.Envelope{}, fmt.Errorf("tool %s: %w", toolName, err)
	}
	if !env.Success {
		return env, &ToolError{Tool: toolName, Kind: env.Error.Kind, Message: env.Error.Message}
	}
	return env, nil
}

// envelopeOf decodes the first text content of result. Results that are
// not envelopes are reported as Internal failures.
func envelopeOf(result *mcp.CallToolResult) (api.Envelope, error) {
	var texts []string
	for _, content := range result.Content {
		if tc, ok := mcp.AsTextContent(content); ok {
			texts = append(texts, tc.Text)
		}
	}
	if len(texts) == 0 {
		return api.Envelope{}, fmt.Errorf("empty result")
	}

	env, err := api.ParseEnvelope(texts[0])
	if err != nil {
		if result.IsError {
			return api.Envelope{
				Error: &api.EnvelopeError{Kind: api.KindInternal, Message: strings.Join(texts, "\n")},
			}, nil
		}
		return api.Envelope{}, err
	}
	return env, nil
}
