//go:build windows

package executor

import (
	"os/exec"
	"syscall"
)

// configureProcAttr starts the child in a new console process group.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// killProcessGroup terminates the child. Windows has no signal-based group
// kill, so only the direct child is terminated here.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
