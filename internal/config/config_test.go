package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte(content), 0o644))
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfig(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
virtualbox:
  path: /usr/local/bin/VBoxManage
  baseFolder: /srv/vms
hyperv:
  enabled: true
concurrency: 2
timeouts:
  default: 45s
  actions:
    vm_management.stop: 5m
retry:
  maxAttempts: 5
  initialInterval: 1s
rateLimit:
  perSecond: 10
  burst: 20
server:
  transport: streamable-http
  port: 9000
metrics:
  address: 127.0.0.1:9100
`)

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "/usr/local/bin/VBoxManage", cfg.VirtualBox.Path)
	assert.Equal(t, "/srv/vms", cfg.VirtualBox.BaseFolder)
	assert.True(t, cfg.HyperV.Enabled)
	assert.Equal(t, DefaultPowerShellPath, cfg.HyperV.Path)
	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, 45*time.Second, cfg.Timeouts.Default)
	assert.Equal(t, DefaultReconcile, cfg.Timeouts.Reconcile)
	assert.Equal(t, 5*time.Minute, cfg.Timeouts.Actions["vm_management.stop"])
	assert.Equal(t, 30*time.Minute, cfg.Timeouts.Actions["vm_management.clone"], "default entries are kept")
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.InitialInterval)
	assert.Equal(t, 10.0, cfg.RateLimit.PerSecond)
	assert.Equal(t, MCPTransportStreamableHTTP, cfg.Server.Transport)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Address)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"malformed yaml", "server: [", "error loading config"},
		{"bad duration", "timeouts:\n  default: soon\n", "error loading config"},
		{"invalid value", "concurrency: 0\n", "concurrency"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, tt.content)
			_, err := LoadConfig(dir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		fields []string
	}{
		{"defaults", func(*Config) {}, nil},
		{"empty vboxmanage path", func(c *Config) { c.VirtualBox.Path = " " }, []string{"virtualbox.path"}},
		{"hyperv without path", func(c *Config) { c.HyperV = HyperVConfig{Enabled: true} }, []string{"hyperv.path"}},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }, []string{"concurrency"}},
		{"zero timeout", func(c *Config) { c.Timeouts.Default = 0 }, []string{"timeouts.default"}},
		{"negative tool timeout", func(c *Config) { c.Timeouts.Tools["vm_management"] = -time.Second }, []string{"timeouts.tools.vm_management"}},
		{"action key without tool", func(c *Config) { c.Timeouts.Actions["stop"] = time.Second }, []string{"timeouts.actions.stop"}},
		{"no attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, []string{"retry.maxAttempts"}},
		{"max below initial", func(c *Config) { c.Retry.MaxInterval = 100 * time.Millisecond }, []string{"retry.maxInterval"}},
		{"rate without burst", func(c *Config) { c.RateLimit.PerSecond = 5 }, []string{"rateLimit.burst"}},
		{"unknown transport", func(c *Config) { c.Server.Transport = "websocket" }, []string{"server.transport"}},
		{"http without port", func(c *Config) { c.Server.Transport = MCPTransportSSE; c.Server.Port = 0 }, []string{"server.port"}},
		{"stdio ignores port", func(c *Config) { c.Server.Port = 0 }, nil},
		{"bad metrics address", func(c *Config) { c.Metrics.Address = "9100" }, []string{"metrics.address"}},
		{"several problems", func(c *Config) { c.Concurrency = -1; c.Retry.MaxAttempts = 0 }, []string{"concurrency", "retry.maxAttempts"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.fields == nil {
				assert.NoError(t, err)
				return
			}
			var errs ValidationErrors
			require.ErrorAs(t, err, &errs)
			var fields []string
			for _, e := range errs {
				fields = append(fields, e.Field)
			}
			assert.Equal(t, tt.fields, fields)
		})
	}
}

func TestWatcher_ReloadsValidChanges(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "concurrency: 4\n")

	var mu sync.Mutex
	var got []Config
	w := NewWatcher(WatcherConfig{
		ConfigPath: dir,
		Debounce:   20 * time.Millisecond,
		OnChange: func(c Config) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, c)
		},
	})
	require.NoError(t, w.Start())
	defer w.Stop()

	writeConfig(t, dir, "concurrency: 0\n")
	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	assert.Empty(t, got, "invalid configuration must not be delivered")
	mu.Unlock()

	writeConfig(t, dir, "timeouts:\n  default: 7s\n")
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0 && got[len(got)-1].Timeouts.Default == 7*time.Second
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o644))
	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	n := len(got)
	mu.Unlock()

	require.NoError(t, w.Stop())
	writeConfig(t, dir, "timeouts:\n  default: 9s\n")
	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, n, len(got), "no reloads after Stop")
	mu.Unlock()
}

func TestWatcher_MissingDirectory(t *testing.T) {
	w := NewWatcher(WatcherConfig{ConfigPath: filepath.Join(t.TempDir(), "absent")})
	assert.Error(t, w.Start())
}
