package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"virtmcp/internal/api"
	"virtmcp/internal/cli"
)

// Exit codes for CLI commands. Tool failures map their error kind to a
// distinct code so scripts can react without parsing output.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeConnection indicates the server could not be reached.
	ExitCodeConnection = 2
	// ExitCodeValidation indicates the server rejected the arguments.
	ExitCodeValidation = 3
	// ExitCodeStateConflict indicates the VM was not in a state that allows the action.
	ExitCodeStateConflict = 4
	// ExitCodeNotFound indicates the VM, snapshot or other resource does not exist.
	ExitCodeNotFound = 5
	// ExitCodeTimeout indicates the action exceeded its timeout.
	ExitCodeTimeout = 6
)

// rootCmd represents the base command for the virtmcp application.
var rootCmd = &cobra.Command{
	Use:   "virtmcp",
	Short: "Manage VirtualBox and Hyper-V virtual machines over MCP",
	Long: `virtmcp exposes VirtualBox (and optionally Hyper-V) as a small set of
MCP tools: vm_management, snapshot_management, network_management,
storage_management and system_management.

Run 'virtmcp serve' to start the server for an AI assistant, or use
'virtmcp call' to drive a running server from the shell.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "virtmcp version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
func getExitCode(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}

	if cli.IsConnectionError(err) {
		return ExitCodeConnection
	}

	var toolErr *cli.ToolError
	if errors.As(err, &toolErr) {
		switch toolErr.Kind {
		case api.KindValidation:
			return ExitCodeValidation
		case api.KindStateConflict:
			return ExitCodeStateConflict
		case api.KindNotFound:
			return ExitCodeNotFound
		case api.KindTimeout:
			return ExitCodeTimeout
		}
	}

	return ExitCodeError
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newCallCmd())
	rootCmd.AddCommand(newToolsCmd())
	rootCmd.AddCommand(newVMCmd())
}
