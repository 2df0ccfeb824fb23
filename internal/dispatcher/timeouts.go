package dispatcher

import (
	"sync/atomic"
	"time"
)

// TimeoutTable is the timeout configuration for tool calls. An action
// override wins over a tool override, which wins over the default. Action
// keys have the form "tool.action".
type TimeoutTable struct {
	Default time.Duration
	Tools   map[string]time.Duration
	Actions map[string]time.Duration
}

// Timeouts holds a TimeoutTable that can be replaced while calls are in
// flight.
type Timeouts struct {
	table atomic.Pointer[TimeoutTable]
}

// NewTimeouts creates a holder with the given table.
func NewTimeouts(t TimeoutTable) *Timeouts {
	h := &Timeouts{}
	h.Set(t)
	return h
}

// Set replaces the table. Calls already running keep their deadline.
func (h *Timeouts) Set(t TimeoutTable) {
	h.table.Store(&t)
}

// For returns the timeout for one call. Zero means no deadline.
func (h *Timeouts) For(tool, action string) time.Duration {
	t := h.table.Load()
	if d, ok := t.Actions[tool+"."+action]; ok {
		return d
	}
	if d, ok := t.Tools[tool]; ok {
		return d
	}
	return t.Default
}
