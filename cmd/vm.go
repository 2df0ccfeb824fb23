package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var vmListFilters = []string{"all", "running", "stopped"}

func newVMCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vm",
		Short: "Shortcuts for common vm_management actions",
	}
	cmd.AddCommand(newVMListCmd())
	return cmd
}

func newVMListCmd() *cobra.Command {
	var (
		opts   clientOptions
		filter string
	)
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the virtual machines known to a running virtmcp server",
		Example: `  virtmcp vm list
  virtmcp vm list --filter running -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !validVMListFilter(filter) {
				return fmt.Errorf("invalid filter %q: must be one of %v", filter, vmListFilters)
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

			return exec.Call(ctx, "vm_management", "list", map[string]string{"filter": filter})
		},
	}
	addClientFlags(cmd, &opts)
	cmd.Flags().StringVar(&filter, "filter", "all", "Only list VMs in this state group: all, running or stopped")
	return cmd
}

func validVMListFilter(filter string) bool {
	for _, f := range vmListFilters {
		if f == filter {
			return true
		}
	}
	return false
}
