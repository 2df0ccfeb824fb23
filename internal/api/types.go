package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// CallToolResult represents the result of a tool call before it is converted
// to the transport's content format.
type CallToolResult struct {
	Content []interface{} `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// ToolMetadata describes a tool that can be exposed
type ToolMetadata struct {
	Name        string // e.g., "vm_management", "snapshot_management"
	Description string
	Parameters  []ParameterMetadata
}

// ParameterMetadata describes a tool parameter
type ParameterMetadata struct {
	Name        string
	Type        string // "string", "integer", "boolean"
	Required    bool
	Description string
	Default     interface{}
	Enum        []string
	Minimum     *int
	Maximum     *int
}

// ToolProvider is implemented by the dispatcher and consumed by the MCP server.
type ToolProvider interface {
	// Returns all tools this provider offers
	GetTools() []ToolMetadata

	// Executes a tool by name
	ExecuteTool(ctx context.Context, toolName string, args map[string]interface{}) (*CallToolResult, error)
}

// EnvelopeError is the error half of an Envelope.
type EnvelopeError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Envelope is the uniform result shape every portmanteau tool returns.
type Envelope struct {
	Success bool           `json:"success"`
	Data    interface{}    `json:"data,omitempty"`
	Error   *EnvelopeError `json:"error,omitempty"`
}

// Success wraps data in a successful envelope.
func Success(data interface{}) Envelope {
	return Envelope{Success: true, Data: data}
}

// Failure wraps err in a failed envelope, classifying it by kind.
func Failure(err error) Envelope {
	return Envelope{
		Success: false,
		Error: &EnvelopeError{
			Kind:    KindOf(err),
			Message: err.Error(),
		},
	}
}

// ToCallToolResult renders the envelope as a single JSON text content item.
func (e Envelope) ToCallToolResult() *CallToolResult {
	data, err := json.Marshal(e)
	if err != nil {
		fallback, _ := json.Marshal(Failure(fmt.Errorf("failed to encode result: %w", err)))
		return &CallToolResult{Content: []interface{}{string(fallback)}, IsError: true}
	}
	return &CallToolResult{
		Content: []interface{}{string(data)},
		IsError: !e.Success,
	}
}

// ParseEnvelope decodes an envelope produced by ToCallToolResult.
func ParseEnvelope(text string) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return Envelope{}, fmt.Errorf("invalid envelope: %w", err)
	}
	if !env.Success && env.Error == nil {
		return Envelope{}, errors.New("invalid envelope: failure without error")
	}
	return env, nil
}
