// Package logging provides the subsystem-tagged structured logger used across
// virtmcp.
//
// It is a thin layer over log/slog. Every entry carries a subsystem attribute
// (Executor, Scheduler, Orchestrator, Dispatcher, ...) and, for errors, an error
// attribute.
//
// # Usage
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//	logging.Info("Scheduler", "Queued %s on %s", kind, vm)
//	logging.Error("Executor", err, "VBoxManage %s failed", verb)
//
// When the MCP server speaks over stdio, stdout carries protocol frames, so
// the logger must be pointed at stderr.
package logging
