// Package subprocess provides the process-based transport for the worker.
//
// This package implements the Transport interface by spawning rigmux-worker
// as a child process and communicating via stdin/stdout. It handles binary
// discovery, process lifecycle management, line buffering, stderr capture,
// and error reporting.
package subprocess
