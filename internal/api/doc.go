// Package api holds the types shared by every layer of virtmcp: the error
// taxonomy, the result envelope returned by the portmanteau tools, and the
// tool metadata that the MCP server turns into input schemas.
//
// # Error taxonomy
//
// Each error type reports a Kind used in result envelopes:
//
//   - ValidationError: malformed request, unknown action, bad parameter
//   - StateConflictError: illegal transition or duplicate in-flight operation
//   - ResourceLimitError: global concurrency ceiling or rate limit reached
//   - ExecutionError: hypervisor command exited non-zero
//   - TimeoutError: a command exceeded its deadline and was killed
//   - NotFoundError: unknown vm, snapshot, controller or tool
//
// Anything else is reported as Internal. Use KindOf or the Is* helpers rather
// than type switches, since errors are usually wrapped.
//
// # Envelope
//
//	{"success": true, "data": {...}}
//	{"success": false, "error": {"kind": "StateConflict", "message": "..."}}
package api
