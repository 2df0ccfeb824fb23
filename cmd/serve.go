package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"virtmcp/internal/app"
	"virtmcp/internal/config"
	"virtmcp/pkg/logging"
)

// envPrefix namespaces the environment variables that mirror serve flags,
// e.g. VIRTMCP_TRANSPORT or VIRTMCP_METRICS_ADDRESS.
const envPrefix = "VIRTMCP"

const (
	flagDebug          = "debug"
	flagConfigPath     = "config-path"
	flagTransport      = "transport"
	flagHost           = "host"
	flagPort           = "port"
	flagMetricsAddress = "metrics-address"
	flagConcurrency    = "concurrency"
	flagEnableHyperV   = "enable-hyperv"
	flagVBoxManagePath = "vboxmanage-path"
	flagPowerShellPath = "powershell-path"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the virtmcp MCP server",
		Long: `Starts the virtmcp MCP server.

With the default stdio transport the server speaks MCP on stdin/stdout and
logs to stderr, which is what AI assistants expect when they launch the
binary themselves. Use --transport streamable-http or --transport sse to
serve over HTTP instead; /healthz and /metrics are served next to the MCP
endpoint.

Configuration:
  Settings are read from config.yaml in --config-path (default
  ~/.config/virtmcp). Flags and VIRTMCP_* environment variables override
  the file, e.g. VIRTMCP_TRANSPORT=sse or VIRTMCP_PORT=9000.
  Timeouts and the retry policy are reloaded when config.yaml changes.`,
		Args: cobra.NoArgs,
	}

	flags := cmd.Flags()
	flags.Bool(flagDebug, false, "Enable debug logging")
	flags.String(flagConfigPath, "", "Configuration directory containing config.yaml (default ~/.config/virtmcp)")
	flags.String(flagTransport, "", "MCP transport: stdio, sse or streamable-http")
	flags.String(flagHost, "", "Listen host for HTTP transports")
	flags.Int(flagPort, 0, "Listen port for HTTP transports")
	flags.String(flagMetricsAddress, "", "Serve Prometheus metrics on a dedicated address, e.g. :9090")
	flags.Int(flagConcurrency, 0, "Maximum number of hypervisor operations running at once")
	flags.Bool(flagEnableHyperV, false, "Expose the hyperv_management tool")
	flags.String(flagVBoxManagePath, "", "Path to the VBoxManage binary")
	flags.String(flagPowerShellPath, "", "Path to powershell.exe for Hyper-V")

	v := newServeViper(flags)
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context(), v)
	}
	return cmd
}

// newServeViper binds the serve flags and their VIRTMCP_* environment
// variables into one lookup.
func newServeViper(flags *pflag.FlagSet) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlags(flags)
	return v
}

func runServe(ctx context.Context, v *viper.Viper) error {
	if ctx == nil {
		ctx = context.Background()
	}

	configPath := v.GetString(flagConfigPath)
	if configPath == "" {
		var err error
		configPath, err = config.GetDefaultConfigPath()
		if err != nil {
			return err
		}
	}

	debug := v.GetBool(flagDebug)
	level := logging.LevelInfo
	if debug {
		level = logging.LevelDebug
	}
	logging.Init(level, os.Stderr)

	settings, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	applyServeOverrides(v, &settings)

	cfg := app.NewConfig(debug, configPath, GetVersion())
	cfg.Settings = &settings

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return application.Run(ctx)
}

// applyServeOverrides copies flags that were set, or whose environment
// variable is present, over the loaded settings.
func applyServeOverrides(v *viper.Viper, s *config.Config) {
	if v.IsSet(flagTransport) {
		s.Server.Transport = v.GetString(flagTransport)
	}
	if v.IsSet(flagHost) {
		s.Server.Host = v.GetString(flagHost)
	}
	if v.IsSet(flagPort) {
		s.Server.Port = v.GetInt(flagPort)
	}
	if v.IsSet(flagMetricsAddress) {
		s.Metrics.Address = v.GetString(flagMetricsAddress)
	}
	if v.IsSet(flagConcurrency) {
		s.Concurrency = v.GetInt(flagConcurrency)
	}
	if v.IsSet(flagEnableHyperV) {
		s.HyperV.Enabled = v.GetBool(flagEnableHyperV)
	}
	if v.IsSet(flagVBoxManagePath) {
		s.VirtualBox.Path = v.GetString(flagVBoxManagePath)
	}
	if v.IsSet(flagPowerShellPath) {
		s.HyperV.Path = v.GetString(flagPowerShellPath)
	}
}
