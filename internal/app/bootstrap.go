package app

import (
	"context"
	"fmt"
	"os"

	"virtmcp/internal/config"
	"virtmcp/pkg/logging"
)

// Application bootstraps and runs the virtmcp server.
//
// Initialization happens in two phases:
//  1. NewApplication: configure logging, load configuration, wire services
//  2. Run: sync the registry, start watchers and serve MCP until cancelled
//
// Example usage:
//
//	cfg := app.NewConfig(false, "/etc/virtmcp", version)
//	application, err := app.NewApplication(cfg)
//	if err != nil {
//	    return fmt.Errorf("failed to create application: %w", err)
//	}
//	return application.Run(ctx)
type Application struct {
	config   *Config
	services *Services
}

// NewApplication creates and initializes a new application instance.
func NewApplication(cfg *Config) (*Application, error) {
	appLogLevel := logging.LevelInfo
	if cfg.Debug {
		appLogLevel = logging.LevelDebug
	}
	logOutput := cfg.LogOutput
	if logOutput == nil {
		logOutput = os.Stderr
	}
	logging.Init(appLogLevel, logOutput)

	if cfg.Settings == nil {
		settings, err := config.LoadConfig(cfg.ConfigPath)
		if err != nil {
			logging.Error("Bootstrap", err, "Failed to load configuration from path: %s", cfg.ConfigPath)
			return nil, fmt.Errorf("failed to load configuration from path %s: %w", cfg.ConfigPath, err)
		}
		cfg.Settings = &settings
	} else if err := cfg.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Application{
		config:   cfg,
		services: InitializeServices(cfg),
	}, nil
}

// Services exposes the wired components.
func (a *Application) Services() *Services {
	return a.services
}

// Run executes the application until ctx is cancelled or a termination
// signal arrives.
func (a *Application) Run(ctx context.Context) error {
	return runServer(ctx, a.config, a.services)
}
