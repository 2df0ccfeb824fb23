package app

import (
	"io"

	"virtmcp/internal/config"
	"virtmcp/internal/executor"
)

// Config holds the application configuration
type Config struct {
	// Debug enables debug logging.
	Debug bool

	// ConfigPath is the directory holding config.yaml. It is watched for
	// changes when it exists.
	ConfigPath string

	// Version is reported to MCP clients.
	Version string

	// Settings is the loaded configuration. NewApplication loads it from
	// ConfigPath when nil.
	Settings *config.Config

	// LogOutput defaults to stderr so that the stdio transport owns stdout.
	LogOutput io.Writer

	// Stdin and Stdout override the stdio transport streams.
	Stdin  io.Reader
	Stdout io.Writer

	// VirtualBoxRunner and HyperVRunner replace process execution.
	VirtualBoxRunner executor.Runner
	HyperVRunner     executor.Runner
}

// NewConfig creates a new application configuration
func NewConfig(debug bool, configPath, version string) *Config {
	return &Config{
		Debug:      debug,
		ConfigPath: configPath,
		Version:    version,
	}
}
