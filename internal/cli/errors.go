package cli

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"virtmcp/internal/api"
)

// ToolError is a failed envelope returned by the server.
type ToolError struct {
	Tool    string
	Kind    api.ErrorKind
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ConnectionError indicates the server could not be reached or did not
// complete the MCP handshake.
type ConnectionError struct {
	Endpoint string
	Reason   error
}

func (e *ConnectionError) Error() string {
	hint := ""
	if isNetworkError(e.Reason) {
		hint = "\n\nIs the server running? Start it with: virtmcp serve --transport streamable-http"
	}
	return fmt.Sprintf("cannot connect to %s: %v%s", e.Endpoint, e.Reason, hint)
}

func (e *ConnectionError) Unwrap() error {
	return e.Reason
}

// IsConnectionError reports whether err is or wraps a ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	msg := err.Error()
	for _, keyword := range []string{"connection refused", "no such host", "network is unreachable", "dial tcp"} {
		if strings.Contains(msg, keyword) {
			return true
		}
	}
	return false
}
