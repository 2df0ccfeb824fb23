package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"virtmcp/internal/api"
	"virtmcp/pkg/logging"
)

// waitDelay bounds how long Wait keeps draining pipes after the process group
// was killed, in case a grandchild still holds them open.
const waitDelay = 2 * time.Second

// Command is one external invocation. Args are passed as a vector and never
// shell-interpreted.
type Command struct {
	Path    string
	Args    []string
	Env     []string // extra KEY=VALUE pairs appended to the parent environment
	Timeout time.Duration
	Label   string // short name for logs; defaults to the executable and verb
}

// String renders the command for logs and error messages.
func (c Command) String() string {
	if c.Label != "" {
		return c.Label
	}
	name := filepath.Base(c.Path)
	if len(c.Args) == 0 {
		return name
	}
	return name + " " + c.Args[0]
}

// Result holds the outcome of a finished process.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	WallTime time.Duration
}

// Runner runs a Command. A non-zero exit yields both the Result and an
// *api.ExecutionError; a deadline yields *api.TimeoutError and no partial
// result.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// Observer receives one callback per finished command.
type Observer interface {
	ObserveCommand(command string, outcome string, wallTime time.Duration)
}

// Executor is the process-backed Runner.
type Executor struct {
	defaultTimeout time.Duration
	observer       Observer
}

// New creates an Executor. defaultTimeout applies when a Command carries none.
func New(defaultTimeout time.Duration, observer Observer) *Executor {
	return &Executor{defaultTimeout: defaultTimeout, observer: observer}
}

// Run starts the process in its own process group, waits for it, and kills
// the whole group if the deadline passes or ctx is cancelled.
func (e *Executor) Run(ctx context.Context, c Command) (Result, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, c.Path, c.Args...)
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	configureProcAttr(cmd)
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}
	cmd.WaitDelay = waitDelay

	logging.Debug("Executor", "Running %s %s", c.Path, strings.Join(c.Args, " "))

	start := time.Now()
	runErr := cmd.Run()
	wall := time.Since(start)

	if ctxErr := runCtx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			logging.Warn("Executor", "%s exceeded %s, process group killed", c, timeout)
			e.observe(c, "timeout", wall)
			return Result{}, &api.TimeoutError{Command: c.String(), Timeout: timeout.String()}
		}
		e.observe(c, "cancelled", wall)
		return Result{}, fmt.Errorf("%s cancelled: %w", c, ctxErr)
	}

	res := Result{
		ExitCode: 0,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		WallTime: wall,
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			e.observe(c, "failed", wall)
			return res, &api.ExecutionError{
				Command:  c.String(),
				ExitCode: res.ExitCode,
				Stderr:   res.Stderr,
				Attempts: 1,
			}
		}
		e.observe(c, "failed", wall)
		return Result{}, &api.ExecutionError{
			Command:  c.String(),
			ExitCode: -1,
			Stderr:   runErr.Error(),
			Attempts: 1,
		}
	}

	e.observe(c, "succeeded", wall)
	return res, nil
}

func (e *Executor) observe(c Command, outcome string, wall time.Duration) {
	if e.observer != nil {
		e.observer.ObserveCommand(c.String(), outcome, wall)
	}
}
