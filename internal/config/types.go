package config

import "time"

const (
	// MCPTransportStreamableHTTP is the streamable HTTP transport.
	MCPTransportStreamableHTTP = "streamable-http"
	// MCPTransportSSE is the Server-Sent Events transport.
	MCPTransportSSE = "sse"
	// MCPTransportStdio is the standard I/O transport.
	MCPTransportStdio = "stdio"
)

// Config is the top-level configuration structure for virtmcp.
type Config struct {
	VirtualBox  VirtualBoxConfig `yaml:"virtualbox"`
	HyperV      HyperVConfig     `yaml:"hyperv"`
	Concurrency int              `yaml:"concurrency,omitempty"` // Global ceiling on running hypervisor operations
	Timeouts    TimeoutsConfig   `yaml:"timeouts"`
	Retry       RetryConfig      `yaml:"retry"`
	RateLimit   RateLimitConfig  `yaml:"rateLimit"`
	Server      ServerConfig     `yaml:"server"`
	Metrics     MetricsConfig    `yaml:"metrics"`
}

// VirtualBoxConfig locates VBoxManage.
type VirtualBoxConfig struct {
	Path       string `yaml:"path,omitempty"`       // VBoxManage executable (default: VBoxManage)
	BaseFolder string `yaml:"baseFolder,omitempty"` // Default folder for new VMs (default: VirtualBox's own)
}

// HyperVConfig enables the Hyper-V tool.
type HyperVConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Path    string `yaml:"path,omitempty"` // PowerShell executable (default: powershell.exe)
}

// TimeoutsConfig bounds tool calls. The most specific entry wins: actions
// keyed "tool.action", then tools, then Default.
type TimeoutsConfig struct {
	Default   time.Duration            `yaml:"default,omitempty"`
	Reconcile time.Duration            `yaml:"reconcile,omitempty"` // Follow-up query after a failed operation
	Tools     map[string]time.Duration `yaml:"tools,omitempty"`
	Actions   map[string]time.Duration `yaml:"actions,omitempty"`
}

// RetryConfig controls retries of transient hypervisor failures.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"maxAttempts,omitempty"`
	InitialInterval time.Duration `yaml:"initialInterval,omitempty"`
	MaxInterval     time.Duration `yaml:"maxInterval,omitempty"`
	// Signatures replace the built-in list of retryable stderr fragments
	// when non-empty.
	Signatures []string `yaml:"signatures,omitempty"`
}

// RateLimitConfig limits tool calls per second. Zero disables limiting.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"perSecond,omitempty"`
	Burst     int     `yaml:"burst,omitempty"`
}

// ServerConfig selects the MCP transport.
type ServerConfig struct {
	Transport string `yaml:"transport,omitempty"` // stdio, sse or streamable-http (default: stdio)
	Host      string `yaml:"host,omitempty"`      // Host to bind to for HTTP transports (default: localhost)
	Port      int    `yaml:"port,omitempty"`      // Port for HTTP transports (default: 8090)
}

// MetricsConfig exposes Prometheus metrics. With the HTTP transports the
// metrics are always served on /metrics of the MCP listener; Address adds a
// dedicated listener, which is the only option for stdio.
type MetricsConfig struct {
	Address string `yaml:"address,omitempty"`
}
