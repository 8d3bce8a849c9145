package rigmux

import "github.com/openrig/rigmux/internal/errors"

// Re-export error types from internal package

// WorkerNotFoundError indicates the rigmux-worker binary was not found.
type WorkerNotFoundError = errors.WorkerNotFoundError

// WorkerStartError indicates the worker launched but never became ready.
type WorkerStartError = errors.WorkerStartError

// ConnectionError indicates a failure talking to the worker process.
type ConnectionError = errors.ConnectionError

// ProcessError indicates the worker process exited abnormally.
type ProcessError = errors.ProcessError

// TimeoutError indicates a command outlived its timeout.
type TimeoutError = errors.TimeoutError

// CommandError indicates the worker rejected a command.
type CommandError = errors.CommandError

// DecodeError indicates a worker output line was not valid protocol JSON.
type DecodeError = errors.DecodeError

// RigmuxError is the base interface for all rigmux errors.
type RigmuxError = errors.RigmuxError

// Re-export sentinel errors from internal package.
var (
	// ErrNoWorker indicates no worker is running.
	ErrNoWorker = errors.ErrNoWorker

	// ErrWorkerDied indicates the worker exited while commands were in flight.
	ErrWorkerDied = errors.ErrWorkerDied

	// ErrTransportNotConnected indicates the transport is not started.
	ErrTransportNotConnected = errors.ErrTransportNotConnected

	// ErrCommandTimeout indicates a command timed out.
	ErrCommandTimeout = errors.ErrCommandTimeout

	// ErrRouterStopped indicates the response router has been stopped.
	ErrRouterStopped = errors.ErrRouterStopped

	// ErrStdinClosed indicates the worker's stdin was already closed.
	ErrStdinClosed = errors.ErrStdinClosed

	// ErrEmptyCommand indicates a command with an empty name was sent.
	ErrEmptyCommand = errors.ErrEmptyCommand
)
