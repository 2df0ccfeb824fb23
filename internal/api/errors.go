package api

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a failure for callers of the tool surface.
type ErrorKind string

const (
	KindValidation    ErrorKind = "Validation"
	KindStateConflict ErrorKind = "StateConflict"
	KindResourceLimit ErrorKind = "ResourceLimit"
	KindExecution     ErrorKind = "Execution"
	KindTimeout       ErrorKind = "Timeout"
	KindNotFound      ErrorKind = "NotFound"
	KindInternal      ErrorKind = "Internal"
)

// KindError is implemented by every error in the taxonomy.
type KindError interface {
	error
	Kind() ErrorKind
}

// KindOf returns the taxonomy kind of err, unwrapping as needed.
// Errors outside the taxonomy are reported as KindInternal.
func KindOf(err error) ErrorKind {
	var ke KindError
	if errors.As(err, &ke) {
		return ke.Kind()
	}
	return KindInternal
}

// ValidationError reports a malformed request. Field is empty when the
// problem is not tied to a single parameter (for example an unknown action).
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Kind() ErrorKind { return KindValidation }

// NewValidationError creates a field-level validation error.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// StateConflictError reports that the VM is not in a state that permits the
// requested operation, or that the same operation is already in progress.
type StateConflictError struct {
	VM        string
	Operation string
	State     string
	Message   string
}

func (e *StateConflictError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("cannot %s vm %s in state %s", e.Operation, e.VM, e.State)
}

func (e *StateConflictError) Kind() ErrorKind { return KindStateConflict }

// NewStateConflictError creates a precondition failure for operation on vm.
func NewStateConflictError(vm, operation, state string) *StateConflictError {
	return &StateConflictError{VM: vm, Operation: operation, State: state}
}

// NewInProgressError creates the conflict returned for duplicate operations.
func NewInProgressError(vm, operation string) *StateConflictError {
	return &StateConflictError{
		VM:        vm,
		Operation: operation,
		Message:   fmt.Sprintf("operation already in progress: %s on vm %s", operation, vm),
	}
}

// IsStateConflict reports whether err is or wraps a StateConflictError.
func IsStateConflict(err error) bool {
	var target *StateConflictError
	return errors.As(err, &target)
}

// ResourceLimitError reports that a capacity limit rejected the request.
type ResourceLimitError struct {
	Resource string
	Limit    int
}

func (e *ResourceLimitError) Error() string {
	if e.Limit > 0 {
		return fmt.Sprintf("%s limit of %d reached", e.Resource, e.Limit)
	}
	return fmt.Sprintf("%s limit reached", e.Resource)
}

func (e *ResourceLimitError) Kind() ErrorKind { return KindResourceLimit }

// IsResourceLimit reports whether err is or wraps a ResourceLimitError.
func IsResourceLimit(err error) bool {
	var target *ResourceLimitError
	return errors.As(err, &target)
}

// ExecutionError reports a hypervisor command that exited non-zero.
type ExecutionError struct {
	Command          string
	ExitCode         int
	Stderr           string
	Attempts         int
	RetriesExhausted bool
}

func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	if e.RetriesExhausted {
		msg += fmt.Sprintf(" (retries exhausted after %d attempts)", e.Attempts)
	}
	return msg
}

func (e *ExecutionError) Kind() ErrorKind { return KindExecution }

// IsExecution reports whether err is or wraps an ExecutionError.
func IsExecution(err error) bool {
	var target *ExecutionError
	return errors.As(err, &target)
}

// TimeoutError reports a command or operation that exceeded its deadline.
type TimeoutError struct {
	Command string
	Timeout string

	// LastError is the diagnostic of the last failed attempt, if the deadline
	// expired while waiting to retry.
	LastError string
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("%s timed out after %s", e.Command, e.Timeout)
	if last := strings.TrimSpace(e.LastError); last != "" {
		msg += " (last error: " + last + ")"
	}
	return msg
}

func (e *TimeoutError) Kind() ErrorKind { return KindTimeout }

// IsTimeout reports whether err is or wraps a TimeoutError.
func IsTimeout(err error) bool {
	var target *TimeoutError
	return errors.As(err, &target)
}

// NotFoundError represents a resource not found error with contextual information.
type NotFoundError struct {
	// ResourceType categorizes the missing resource (vm, snapshot, controller, ...)
	ResourceType string

	// ResourceName is the identifier the caller asked for
	ResourceName string

	// Message overrides the default format when set
	Message string
}

func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s %s not found", e.ResourceType, e.ResourceName)
}

func (e *NotFoundError) Kind() ErrorKind { return KindNotFound }

// IsNotFound checks if an error is a NotFoundError using error unwrapping.
func IsNotFound(err error) bool {
	var notFoundErr *NotFoundError
	return errors.As(err, &notFoundErr)
}

// NewNotFoundError creates a new NotFoundError with the specified resource type and name.
func NewNotFoundError(resourceType, resourceName string) *NotFoundError {
	return &NotFoundError{
		ResourceType: resourceType,
		ResourceName: resourceName,
	}
}

var (
	// NewVMNotFoundError creates a vm not found error.
	NewVMNotFoundError = func(name string) *NotFoundError {
		return NewNotFoundError("vm", name)
	}

	// NewSnapshotNotFoundError creates a snapshot not found error.
	NewSnapshotNotFoundError = func(name string) *NotFoundError {
		return NewNotFoundError("snapshot", name)
	}

	// NewControllerNotFoundError creates a storage controller not found error.
	NewControllerNotFoundError = func(name string) *NotFoundError {
		return NewNotFoundError("storage controller", name)
	}

	// NewToolNotFoundError creates a tool not found error.
	NewToolNotFoundError = func(name string) *NotFoundError {
		return NewNotFoundError("tool", name)
	}
)
