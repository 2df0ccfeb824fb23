package dispatcher

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"virtmcp/internal/api"
	"virtmcp/internal/orchestrator"
	"virtmcp/pkg/logging"
)

const (
	actionParam  = "action"
	timeoutParam = "timeout_seconds"
)

// Handler runs one action with validated, normalized arguments.
type Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Action is one entry of a tool's action table.
type Action struct {
	Name        string
	Description string
	Params      []api.ParameterMetadata
	Handler     Handler
}

// Tool is a portmanteau tool: several actions behind one name.
type Tool struct {
	Name        string
	Description string
	actions     map[string]*Action
}

// Actions returns the tool's action names in sorted order.
func (t *Tool) Actions() []string {
	names := make([]string, 0, len(t.actions))
	for name := range t.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Action returns the named action.
func (t *Tool) Action(name string) (*Action, bool) {
	a, ok := t.actions[name]
	return a, ok
}

// Observer receives one callback per dispatched call. outcome is "success" or
// the error kind.
type Observer interface {
	ObserveCall(tool, action, outcome string, duration time.Duration)
}

// Config holds the dispatcher's collaborators.
type Config struct {
	// VirtualBox serves every tool except hyperv_management. Required.
	VirtualBox *orchestrator.Orchestrator
	// HyperV enables hyperv_management when set.
	HyperV *orchestrator.Orchestrator

	Timeouts *Timeouts
	// Limiter rejects calls beyond its rate when set.
	Limiter  *rate.Limiter
	Observer Observer
}

// Dispatcher validates portmanteau tool calls and routes them to the
// orchestrators. It implements api.ToolProvider.
type Dispatcher struct {
	tools    map[string]*Tool
	order    []string
	timeouts *Timeouts
	limiter  *rate.Limiter
	observer Observer
}

var _ api.ToolProvider = (*Dispatcher)(nil)

// New builds the dispatcher and its tool tables.
func New(cfg Config) *Dispatcher {
	d := &Dispatcher{
		tools:    make(map[string]*Tool),
		timeouts: cfg.Timeouts,
		limiter:  cfg.Limiter,
		observer: cfg.Observer,
	}
	if d.timeouts == nil {
		d.timeouts = NewTimeouts(TimeoutTable{})
	}

	d.register(vmTool(cfg.VirtualBox))
	d.register(snapshotTool(cfg.VirtualBox))
	d.register(networkTool(cfg.VirtualBox))
	d.register(storageTool(cfg.VirtualBox))
	d.register(systemTool(cfg.VirtualBox))
	if cfg.HyperV != nil {
		d.register(hypervTool(cfg.HyperV))
	}
	return d
}

func (d *Dispatcher) register(t *Tool) {
	d.tools[t.Name] = t
	d.order = append(d.order, t.Name)
}

func newTool(name, description string, actions ...*Action) *Tool {
	t := &Tool{Name: name, Description: description, actions: make(map[string]*Action, len(actions))}
	for _, a := range actions {
		a.Params = append(a.Params, api.ParameterMetadata{
			Name:        timeoutParam,
			Type:        TypeInteger,
			Description: "Overrides the configured timeout for this call, in seconds",
			Minimum:     intPtr(1),
			Maximum:     intPtr(86400),
		})
		t.actions[a.Name] = a
	}
	return t
}

// Tool returns a registered tool by name.
func (d *Dispatcher) Tool(name string) (*Tool, bool) {
	t, ok := d.tools[name]
	return t, ok
}

// GetTools describes every registered tool. The schema of each is the union
// of its actions' parameters with action as the discriminator.
func (d *Dispatcher) GetTools() []api.ToolMetadata {
	tools := make([]api.ToolMetadata, 0, len(d.order))
	for _, name := range d.order {
		t := d.tools[name]
		desc := t.Description + "\n\nActions:"
		for _, action := range t.Actions() {
			desc += fmt.Sprintf("\n- %s: %s", action, t.actions[action].Description)
		}
		tools = append(tools, api.ToolMetadata{
			Name:        t.Name,
			Description: desc,
			Parameters:  unionParameters(t),
		})
	}
	return tools
}

// ExecuteTool dispatches a call and renders the envelope.
func (d *Dispatcher) ExecuteTool(ctx context.Context, toolName string, args map[string]interface{}) (*api.CallToolResult, error) {
	return d.Dispatch(ctx, toolName, args).ToCallToolResult(), nil
}

// Dispatch validates and runs one call. Every outcome, including a handler
// panic, is returned as an envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, toolName string, args map[string]interface{}) (env api.Envelope) {
	start := time.Now()
	actionName, _ := args[actionParam].(string)

	defer func() {
		if r := recover(); r != nil {
			logging.Error("Dispatcher", fmt.Errorf("%v", r), "Panic in %s.%s", toolName, actionName)
			env = api.Envelope{Error: &api.EnvelopeError{
				Kind:    api.KindInternal,
				Message: fmt.Sprintf("internal error in %s.%s", toolName, actionName),
			}}
		}
		outcome := "success"
		if env.Error != nil {
			outcome = string(env.Error.Kind)
		}
		if d.observer != nil {
			d.observer.ObserveCall(toolName, actionName, outcome, time.Since(start))
		}
	}()

	data, err := d.dispatch(ctx, toolName, actionName, args)
	if err != nil {
		logging.Debug("Dispatcher", "%s.%s failed: %v", toolName, actionName, err)
		return api.Failure(err)
	}
	return api.Success(data)
}

func (d *Dispatcher) dispatch(ctx context.Context, toolName, actionName string, args map[string]interface{}) (interface{}, error) {
	t, ok := d.tools[toolName]
	if !ok {
		return nil, api.NewToolNotFoundError(toolName)
	}
	if actionName == "" {
		if _, present := args[actionParam]; present {
			return nil, api.NewValidationError(actionParam, "must be a non-empty string")
		}
		return nil, api.NewValidationError(actionParam, "is required")
	}
	a, ok := t.actions[actionName]
	if !ok {
		return nil, &api.ValidationError{
			Field:   actionParam,
			Value:   actionName,
			Message: fmt.Sprintf("unknown action %q for %s; valid actions: %v", actionName, toolName, t.Actions()),
		}
	}

	normalized, err := validate(actionName, a.Params, args)
	if err != nil {
		return nil, err
	}

	if d.limiter != nil && !d.limiter.Allow() {
		logging.Warn("Dispatcher", "Rate limit exceeded, rejecting %s.%s", toolName, actionName)
		return nil, &api.ResourceLimitError{Resource: "tool calls per second", Limit: d.limiter.Burst()}
	}

	timeout := d.timeouts.For(toolName, actionName)
	if seconds, ok := normalized[timeoutParam].(int); ok {
		timeout = time.Duration(seconds) * time.Second
	}
	delete(normalized, timeoutParam)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	logging.Debug("Dispatcher", "Running %s.%s (timeout %s)", toolName, actionName, timeout)
	return a.Handler(ctx, normalized)
}

// bind adapts a handler taking a typed parameter struct.
func bind[P any](fn func(ctx context.Context, p P) (interface{}, error)) Handler {
	return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		var p P
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		return fn(ctx, p)
	}
}
