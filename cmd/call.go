package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"virtmcp/internal/cli"
	"virtmcp/pkg/logging"
)

// clientOptions are the flags shared by commands that talk to a running server.
type clientOptions struct {
	endpoint string
	output   string
	quiet    bool
	timeout  time.Duration
}

func addClientFlags(cmd *cobra.Command, opts *clientOptions) {
	cmd.Flags().StringVar(&opts.endpoint, "endpoint", cli.GetDefaultEndpoint(),
		"Server URL; URLs ending in /sse use the SSE transport (env "+cli.EndpointEnvVar+")")
	cmd.Flags().StringVarP(&opts.output, "output", "o", string(cli.OutputFormatTable), "Output format: table, json or yaml")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress progress indicators")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", cli.DefaultCallTimeout, "Maximum time to wait for the server")
}

func (o clientOptions) executor(cmd *cobra.Command) (*cli.ToolExecutor, error) {
	if err := cli.ValidateOutputFormat(o.output); err != nil {
		return nil, err
	}
	logging.InitForCLI(logging.LevelWarn, os.Stderr)
	return cli.NewToolExecutor(cli.ExecutorOptions{
		Endpoint: o.endpoint,
		Format:   cli.OutputFormat(o.output),
		Quiet:    o.quiet,
		Timeout:  o.timeout,
		Out:      cmd.OutOrStdout(),
		ErrOut:   cmd.ErrOrStderr(),
	})
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newCallCmd() *cobra.Command {
	var opts clientOptions
	cmd := &cobra.Command{
		Use:   "call <tool> <action> [key=value...]",
		Short: "Call a tool action on a running virtmcp server",
		Long: `Calls one action of a portmanteau tool on a running virtmcp server and
prints the result. Arguments are key=value pairs; values are converted to
the types the tool's schema declares.`,
		Example: `  virtmcp call vm_management list filter=running
  virtmcp call vm_management create vm_name=web os_type=Ubuntu_64 memory_mb=2048
  virtmcp call snapshot_management create vm_name=web snapshot_name=before-upgrade
  virtmcp call storage_management create_disk disk_path=/vms/web-data.vdi size=20G -o json`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := cli.ParseArgs(args[2:])
			if err != nil {
				return err
			}

			exec, err := opts.executor(cmd)
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			if err := exec.Connect(ctx); err != nil {
				return err
			}
			defer exec.Close()

			return exec.Call(ctx, args[0], args[1], raw)
		},
	}
	addClientFlags(cmd, &opts)
	return cmd
}

func newToolsCmd() *cobra.Command {
	var opts clientOptions
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools and actions a running virtmcp server offers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			exec, err := opts.executor(cmd)
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			if err := exec.Connect(ctx); err != nil {
				return err
			}
			defer exec.Close()

			tools, err := exec.Tools(ctx)
			if err != nil {
				return fmt.Errorf("failed to list tools: %w", err)
			}
			return cli.RenderTools(cmd.OutOrStdout(), cli.OutputFormat(opts.output), tools)
		},
	}
	addClientFlags(cmd, &opts)
	return cmd
}
