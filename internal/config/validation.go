package config

import (
	"fmt"
	"net"
	"sort"
	"strings"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// ValidateOneOf checks if a value is in a list of allowed values
func ValidateOneOf(field, value string, allowed []string) error {
	for _, allowedValue := range allowed {
		if value == allowedValue {
			return nil
		}
	}
	return ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// Validate checks every field and returns all problems at once.
func (c Config) Validate() error {
	var errs ValidationErrors

	if strings.TrimSpace(c.VirtualBox.Path) == "" {
		errs.Add("virtualbox.path", "is required")
	}
	if c.HyperV.Enabled && strings.TrimSpace(c.HyperV.Path) == "" {
		errs.Add("hyperv.path", "is required when hyperv is enabled")
	}
	if c.Concurrency < 1 {
		errs.Add("concurrency", "must be at least 1", c.Concurrency)
	}

	c.validateTimeouts(&errs)
	c.validateRetry(&errs)

	if c.RateLimit.PerSecond < 0 {
		errs.Add("rateLimit.perSecond", "must not be negative", c.RateLimit.PerSecond)
	}
	if c.RateLimit.PerSecond > 0 && c.RateLimit.Burst < 1 {
		errs.Add("rateLimit.burst", "must be at least 1 when a rate is set", c.RateLimit.Burst)
	}

	transports := []string{MCPTransportStdio, MCPTransportSSE, MCPTransportStreamableHTTP}
	if err := ValidateOneOf("server.transport", c.Server.Transport, transports); err != nil {
		errs = append(errs, err.(ValidationError))
	} else if c.Server.Transport != MCPTransportStdio {
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			errs.Add("server.port", "must be between 1 and 65535", c.Server.Port)
		}
	}

	if c.Metrics.Address != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Address); err != nil {
			errs.Add("metrics.address", fmt.Sprintf("must be host:port: %v", err), c.Metrics.Address)
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func (c Config) validateTimeouts(errs *ValidationErrors) {
	t := c.Timeouts
	if t.Default <= 0 {
		errs.Add("timeouts.default", "must be positive", t.Default.String())
	}
	if t.Reconcile <= 0 {
		errs.Add("timeouts.reconcile", "must be positive", t.Reconcile.String())
	}
	for _, tool := range sortedKeys(t.Tools) {
		if t.Tools[tool] <= 0 {
			errs.Add("timeouts.tools."+tool, "must be positive", t.Tools[tool].String())
		}
	}
	for _, key := range sortedKeys(t.Actions) {
		if tool, action, ok := strings.Cut(key, "."); !ok || tool == "" || action == "" {
			errs.Add("timeouts.actions."+key, "key must be tool.action")
			continue
		}
		if t.Actions[key] <= 0 {
			errs.Add("timeouts.actions."+key, "must be positive", t.Actions[key].String())
		}
	}
}

func (c Config) validateRetry(errs *ValidationErrors) {
	r := c.Retry
	if r.MaxAttempts < 1 {
		errs.Add("retry.maxAttempts", "must be at least 1", r.MaxAttempts)
	}
	if r.InitialInterval < 0 {
		errs.Add("retry.initialInterval", "must not be negative", r.InitialInterval.String())
	}
	if r.MaxInterval > 0 && r.MaxInterval < r.InitialInterval {
		errs.Add("retry.maxInterval", "must not be below retry.initialInterval", r.MaxInterval.String())
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
