package app

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"virtmcp/internal/api"
	"virtmcp/internal/config"
	"virtmcp/internal/executor"
	"virtmcp/internal/testing/mock"
)

func newTestConfig(t *testing.T, fake *mock.FakeVBox) *Config {
	t.Helper()
	cfg := NewConfig(false, t.TempDir(), "test")
	cfg.LogOutput = io.Discard
	cfg.VirtualBoxRunner = fake
	return cfg
}

func TestNewApplication_Defaults(t *testing.T) {
	app, err := NewApplication(newTestConfig(t, mock.NewFakeVBox()))
	require.NoError(t, err)

	s := app.Services()
	assert.Nil(t, s.HyperV)
	assert.Equal(t, config.DefaultConcurrency, s.Scheduler.Limit())
	assert.Len(t, s.Dispatcher.GetTools(), 5)
	assert.Equal(t, "stdio", s.Server.Endpoint())
}

func TestNewApplication_HyperVEnabled(t *testing.T) {
	settings := config.GetDefaultConfig()
	settings.HyperV.Enabled = true
	cfg := newTestConfig(t, mock.NewFakeVBox())
	cfg.Settings = &settings
	cfg.HyperVRunner = mock.NewFakeVBox()

	app, err := NewApplication(cfg)
	require.NoError(t, err)
	require.NotNil(t, app.Services().HyperV)
	_, ok := app.Services().Dispatcher.Tool("hyperv_management")
	assert.True(t, ok)
}

func TestNewApplication_InvalidSettings(t *testing.T) {
	settings := config.GetDefaultConfig()
	settings.Concurrency = 0
	cfg := newTestConfig(t, mock.NewFakeVBox())
	cfg.Settings = &settings

	_, err := NewApplication(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "concurrency")
}

func TestApplyConfig(t *testing.T) {
	app, err := NewApplication(newTestConfig(t, mock.NewFakeVBox()))
	require.NoError(t, err)
	s := app.Services()

	settings := config.GetDefaultConfig()
	settings.Timeouts.Default = 7 * time.Second
	settings.Timeouts.Actions = map[string]time.Duration{"vm_management.stop": time.Minute}
	settings.Retry.MaxAttempts = 9
	settings.Retry.Signatures = []string{"try again"}
	s.ApplyConfig(settings)

	assert.Equal(t, 7*time.Second, s.timeouts.For("vm_management", "start"))
	assert.Equal(t, time.Minute, s.timeouts.For("vm_management", "stop"))
	assert.Equal(t, 9, s.retrying.Policy().MaxAttempts)
	assert.Equal(t, []string{"try again"}, s.retrying.Policy().Signatures)
}

func TestConfigAdapters(t *testing.T) {
	policy := retryPolicy(config.RetryConfig{MaxAttempts: 4})
	assert.Equal(t, 4, policy.MaxAttempts)
	assert.Equal(t, executor.DefaultRetryPolicy().InitialInterval, policy.InitialInterval)
	assert.Equal(t, executor.DefaultSignatures, policy.Signatures)

	assert.Nil(t, limiter(config.RateLimitConfig{}))
	l := limiter(config.RateLimitConfig{PerSecond: 2, Burst: 3})
	require.NotNil(t, l)
	assert.Equal(t, 3, l.Burst())
}

type rpcResponse struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func TestRun_StdioRoundTrip(t *testing.T) {
	fake := mock.NewFakeVBox()
	fake.AddVM("web", "running")
	fake.AddVM("db", "poweroff")

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	cfg := newTestConfig(t, fake)
	cfg.Stdin = stdinR
	cfg.Stdout = stdoutW

	app, err := NewApplication(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	out := bufio.NewReader(stdoutR)
	send := func(line string) rpcResponse {
		t.Helper()
		_, err := io.WriteString(stdinW, line+"\n")
		require.NoError(t, err)
		raw, err := out.ReadBytes('\n')
		require.NoError(t, err)
		var resp rpcResponse
		require.NoError(t, json.Unmarshal(raw, &resp))
		require.Nil(t, resp.Error)
		return resp
	}

	resp := send(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"test","version":"1.0.0"}}}`)
	assert.Contains(t, string(resp.Result), `"virtmcp"`)

	resp = send(`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"vm_management","arguments":{"action":"list","filter":"running"}}}`)
	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Content, 1)
	assert.False(t, result.IsError)

	env, err := api.ParseEnvelope(result.Content[0].Text)
	require.NoError(t, err)
	require.True(t, env.Success)
	data := env.Data.(map[string]interface{})
	assert.Equal(t, 1.0, data["count"])
	vms := data["vms"].([]interface{})
	assert.Equal(t, "web", vms[0].(map[string]interface{})["name"])

	resp = send(`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"vm_management","arguments":{"action":"start","vm_name":"web"}}}`)
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.True(t, result.IsError)
	env, err = api.ParseEnvelope(result.Content[0].Text)
	require.NoError(t, err)
	assert.Equal(t, api.KindStateConflict, env.Error.Kind)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("application did not stop")
	}
	stdinW.Close()
	stdoutR.Close()
}
