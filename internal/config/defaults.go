package config

import "time"

const (
	DefaultVBoxManagePath = "VBoxManage"
	DefaultPowerShellPath = "powershell.exe"
	DefaultConcurrency    = 8
	DefaultTimeout        = 2 * time.Minute
	DefaultReconcile      = 30 * time.Second
	DefaultPort           = 8090
)

// GetDefaultConfig returns the configuration used when no config.yaml exists.
func GetDefaultConfig() Config {
	return Config{
		VirtualBox: VirtualBoxConfig{
			Path: DefaultVBoxManagePath,
		},
		HyperV: HyperVConfig{
			Path: DefaultPowerShellPath,
		},
		Concurrency: DefaultConcurrency,
		Timeouts: TimeoutsConfig{
			Default:   DefaultTimeout,
			Reconcile: DefaultReconcile,
			Tools: map[string]time.Duration{
				"snapshot_management": 10 * time.Minute,
			},
			Actions: map[string]time.Duration{
				"vm_management.clone":           30 * time.Minute,
				"storage_management.create_disk": 10 * time.Minute,
			},
		},
		Retry: RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		},
		Server: ServerConfig{
			Transport: MCPTransportStdio,
			Host:      "localhost",
			Port:      DefaultPort,
		},
	}
}
