// Package config provides configuration types shared by the manager and
// its transports.
package config

import "context"

// Transport defines the interface for worker communication.
// Implement this to provide custom transports for testing, mocking,
// or alternative communication methods (e.g., remote workers).
//
// The default implementation is subprocess.WorkerTransport, which spawns
// the rigmux-worker binary and speaks line-delimited JSON over its stdio.
// Custom transports can be injected via Options.Transport.
type Transport interface {
	// Start initializes the transport and prepares it for communication.
	// This is called before any messages are sent or received.
	Start(ctx context.Context) error

	// ReadMessages returns channels for receiving messages and errors.
	// The message channel yields parsed JSON objects from the worker.
	// The error channel yields any errors that occur during reading.
	// Both channels are closed when reading completes or an error occurs.
	ReadMessages(ctx context.Context) (<-chan map[string]any, <-chan error)

	// SendMessage sends a JSON message to the worker.
	// The data should be a complete JSON line (newline is appended if missing).
	// This method must be safe for concurrent use.
	SendMessage(ctx context.Context, data []byte) error

	// Close terminates the transport and releases resources.
	// It's safe to call Close multiple times.
	Close() error

	// IsReady returns true if the transport is ready for communication.
	IsReady() bool

	// EndInput signals that no more input will be sent.
	// For process-based transports, this closes the worker's stdin.
	EndInput() error
}
