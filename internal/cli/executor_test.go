package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"virtmcp/internal/api"
	"virtmcp/internal/dispatcher"
	"virtmcp/internal/hypervisor"
	"virtmcp/internal/mcpserver"
	"virtmcp/internal/orchestrator"
	"virtmcp/internal/scheduler"
	"virtmcp/internal/testing/mock"
)

func newTestServer(t *testing.T, transport string) (*httptest.Server, *mock.FakeVBox) {
	t.Helper()
	fake := mock.NewFakeVBox()
	fake.AddVM("web", "running")
	fake.AddVM("db", "poweroff")

	o := orchestrator.New(orchestrator.Config{
		Backend:          hypervisor.NewVirtualBox("VBoxManage", "", fake),
		Scheduler:        scheduler.New(4, nil),
		ReconcileTimeout: 2 * time.Second,
	})
	require.NoError(t, o.Sync(context.Background()))
	t.Cleanup(o.Close)

	d := dispatcher.New(dispatcher.Config{
		VirtualBox: o,
		Timeouts:   dispatcher.NewTimeouts(dispatcher.TimeoutTable{Default: time.Minute}),
	})
	srv := mcpserver.New(mcpserver.Config{Name: "virtmcp", Version: "test", Transport: transport}, d)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, fake
}

func newTestExecutor(t *testing.T, endpoint string, format OutputFormat) (*ToolExecutor, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	exec, err := NewToolExecutor(ExecutorOptions{
		Endpoint: endpoint,
		Format:   format,
		Quiet:    true,
		Timeout:  10 * time.Second,
		Out:      out,
		ErrOut:   &bytes.Buffer{},
	})
	require.NoError(t, err)
	require.NoError(t, exec.Connect(context.Background()))
	t.Cleanup(func() { exec.Close() })
	return exec, out
}

func TestNewToolExecutor_Defaults(t *testing.T) {
	t.Setenv(EndpointEnvVar, "")
	exec, err := NewToolExecutor(ExecutorOptions{})
	require.NoError(t, err)

	opts := exec.Options()
	assert.Equal(t, DefaultEndpoint, opts.Endpoint)
	assert.Equal(t, OutputFormatTable, opts.Format)
	assert.Equal(t, DefaultCallTimeout, opts.Timeout)
	assert.NotNil(t, opts.Out)
	assert.NotNil(t, opts.ErrOut)
}

func TestNewToolExecutor_EndpointFromEnv(t *testing.T) {
	t.Setenv(EndpointEnvVar, "http://vmhost:9000/sse")
	exec, err := NewToolExecutor(ExecutorOptions{})
	require.NoError(t, err)
	assert.Equal(t, "http://vmhost:9000/sse", exec.Options().Endpoint)
	assert.Equal(t, TransportSSE, exec.client.transport)
}

func TestNewToolExecutor_InvalidFormat(t *testing.T) {
	_, err := NewToolExecutor(ExecutorOptions{Format: "xml"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported output format")
}

func TestTransportForEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		want     TransportType
	}{
		{"http://localhost:8090/mcp", TransportStreamableHTTP},
		{"http://localhost:8090/sse", TransportSSE},
		{"http://localhost:8090/sse/", TransportSSE},
		{"http://localhost:8090/", TransportStreamableHTTP},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			assert.Equal(t, tt.want, TransportForEndpoint(tt.endpoint))
		})
	}
}

func TestConnect_Unreachable(t *testing.T) {
	exec, err := NewToolExecutor(ExecutorOptions{
		Endpoint: "http://127.0.0.1:1/mcp",
		Quiet:    true,
		Timeout:  2 * time.Second,
	})
	require.NoError(t, err)

	err = exec.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, IsConnectionError(err))
	assert.Contains(t, err.Error(), "127.0.0.1:1")
}

func TestCall_ListTable(t *testing.T) {
	ts, _ := newTestServer(t, mcpserver.TransportStreamableHTTP)
	exec, out := newTestExecutor(t, ts.URL+"/mcp", OutputFormatTable)

	require.NoError(t, exec.Call(context.Background(), "vm_management", "list", nil))
	rendered := out.String()
	assert.Contains(t, rendered, "NAME")
	assert.Contains(t, rendered, "web")
	assert.Contains(t, rendered, "db")
	assert.Contains(t, rendered, "Running")
}

func TestCall_CoercesAndFilters(t *testing.T) {
	ts, _ := newTestServer(t, mcpserver.TransportStreamableHTTP)
	exec, _ := newTestExecutor(t, ts.URL+"/mcp", OutputFormatJSON)

	env, err := exec.Envelope(context.Background(), "vm_management", map[string]interface{}{
		"action": "list",
		"filter": "running",
	})
	require.NoError(t, err)
	data := env.Data.(map[string]interface{})
	assert.Equal(t, 1.0, data["count"])

	// timeout_seconds arrives as a string and must reach the server as an integer.
	require.NoError(t, exec.Call(context.Background(), "vm_management", "info", map[string]string{
		"vm_name":         "db",
		"timeout_seconds": "30",
	}))
}

func TestCall_ToolErrorCarriesKind(t *testing.T) {
	ts, fake := newTestServer(t, mcpserver.TransportStreamableHTTP)
	exec, _ := newTestExecutor(t, ts.URL+"/mcp", OutputFormatTable)
	fake.ResetCalls()

	err := exec.Call(context.Background(), "vm_management", "start", map[string]string{"vm_name": "web"})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, api.KindStateConflict, toolErr.Kind)
	assert.Equal(t, "vm_management", toolErr.Tool)
	assert.Empty(t, fake.Calls())
}

func TestCall_UnknownTool(t *testing.T) {
	ts, _ := newTestServer(t, mcpserver.TransportStreamableHTTP)
	exec, _ := newTestExecutor(t, ts.URL+"/mcp", OutputFormatTable)

	err := exec.Call(context.Background(), "container_management", "list", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tool")
	assert.Contains(t, err.Error(), "vm_management")
}

func TestCall_BadIntegerArgument(t *testing.T) {
	ts, _ := newTestServer(t, mcpserver.TransportStreamableHTTP)
	exec, _ := newTestExecutor(t, ts.URL+"/mcp", OutputFormatTable)

	err := exec.Call(context.Background(), "vm_management", "info", map[string]string{
		"vm_name":         "db",
		"timeout_seconds": "soon",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout_seconds must be an integer")
}

func TestCall_OverSSE(t *testing.T) {
	ts, _ := newTestServer(t, mcpserver.TransportSSE)
	exec, out := newTestExecutor(t, ts.URL+"/sse", OutputFormatYAML)

	require.NoError(t, exec.Call(context.Background(), "vm_management", "info", map[string]string{"vm_name": "web"}))
	assert.Contains(t, out.String(), "name: web")
}

func TestClient_NotConnected(t *testing.T) {
	c := NewClient(DefaultEndpoint, time.Second)
	_, err := c.CallTool(context.Background(), "vm_management", nil)
	assert.EqualError(t, err, "client not connected")
	_, err = c.ListTools(context.Background())
	assert.EqualError(t, err, "client not connected")
	assert.NoError(t, c.Close())
}
