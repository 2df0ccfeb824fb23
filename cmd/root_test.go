package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"virtmcp/internal/api"
	"virtmcp/internal/cli"
)

func TestSetVersion(t *testing.T) {
	original := rootCmd.Version
	defer func() { rootCmd.Version = original }()

	testVersion := "1.2.3-test"
	SetVersion(testVersion)

	if GetVersion() != testVersion {
		t.Errorf("Expected version to be %s, got %s", testVersion, GetVersion())
	}
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "virtmcp" {
		t.Errorf("Expected Use to be 'virtmcp', got %s", rootCmd.Use)
	}
	if rootCmd.Short == "" {
		t.Error("Expected Short description to be set")
	}
	if !rootCmd.SilenceUsage {
		t.Error("Expected SilenceUsage to be true")
	}
}

func TestVersionTemplate(t *testing.T) {
	testCmd := &cobra.Command{
		Use:     "test",
		Version: "1.0.0",
	}
	testCmd.SetVersionTemplate(`{{printf "virtmcp version %s\n" .Version}}`)

	var buf bytes.Buffer
	testCmd.SetOut(&buf)
	testCmd.SetArgs([]string{"--version"})
	if err := testCmd.Execute(); err != nil {
		t.Fatalf("Error executing version command: %v", err)
	}

	if got := buf.String(); got != "virtmcp version 1.0.0\n" {
		t.Errorf("Expected version output %q, got %q", "virtmcp version 1.0.0\n", got)
	}
}

func TestSubcommands(t *testing.T) {
	found := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		found[c.Name()] = true
	}

	for _, expected := range []string{"version", "serve", "call", "tools", "vm"} {
		if !found[expected] {
			t.Errorf("Expected subcommand %s to be registered", expected)
		}
	}
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitCodeSuccess},
		{"plain", errors.New("boom"), ExitCodeError},
		{"connection", &cli.ConnectionError{Endpoint: "http://localhost:8090/mcp", Reason: errors.New("refused")}, ExitCodeConnection},
		{"validation", &cli.ToolError{Kind: api.KindValidation}, ExitCodeValidation},
		{"state conflict", &cli.ToolError{Kind: api.KindStateConflict}, ExitCodeStateConflict},
		{"not found wrapped", fmt.Errorf("call: %w", &cli.ToolError{Kind: api.KindNotFound}), ExitCodeNotFound},
		{"timeout", &cli.ToolError{Kind: api.KindTimeout}, ExitCodeTimeout},
		{"execution", &cli.ToolError{Kind: api.KindExecution}, ExitCodeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getExitCode(tt.err); got != tt.want {
				t.Errorf("getExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCallCommandArgs(t *testing.T) {
	call := newCallCmd()
	call.SetOut(&bytes.Buffer{})
	call.SetErr(&bytes.Buffer{})

	if err := call.Args(call, []string{"vm_management"}); err == nil {
		t.Error("Expected an error when the action is missing")
	}
	if err := call.Args(call, []string{"vm_management", "list", "filter=running"}); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestCallCommandRejectsBadInput(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"malformed pair", []string{"vm_management", "info", "web"}, "expected key=value"},
		{"bad output", []string{"vm_management", "list", "-o", "xml"}, "unsupported output format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call := newCallCmd()
			call.SetOut(&bytes.Buffer{})
			call.SetErr(&bytes.Buffer{})
			call.SetArgs(tt.args)

			err := call.Execute()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestVMListRejectsUnknownFilter(t *testing.T) {
	vm := newVMCmd()
	vm.SetOut(&bytes.Buffer{})
	vm.SetErr(&bytes.Buffer{})
	vm.SetArgs([]string{"list", "--filter", "sleeping"})

	err := vm.Execute()
	if err == nil || !strings.Contains(err.Error(), "invalid filter") {
		t.Errorf("Expected invalid filter error, got %v", err)
	}
}
