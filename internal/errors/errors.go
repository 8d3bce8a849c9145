package errors

import (
	"errors"
	"fmt"
	"time"
)

// RigmuxError is the base interface for all rigmux errors.
type RigmuxError interface {
	error
	IsRigmuxError() bool
}

// Compile-time verification that all error types implement RigmuxError.
var (
	_ RigmuxError = (*WorkerNotFoundError)(nil)
	_ RigmuxError = (*ConnectionError)(nil)
	_ RigmuxError = (*ProcessError)(nil)
	_ RigmuxError = (*WorkerStartError)(nil)
	_ RigmuxError = (*TimeoutError)(nil)
	_ RigmuxError = (*CommandError)(nil)
	_ RigmuxError = (*DecodeError)(nil)
)

// Sentinel errors for commonly checked conditions.
var (
	// ErrNoWorker indicates a command was sent while no worker is running.
	ErrNoWorker = errors.New("no worker running")

	// ErrWorkerDied indicates the worker process exited while commands
	// were in flight.
	ErrWorkerDied = errors.New("worker process died")

	// ErrTransportNotConnected indicates the transport is not connected.
	ErrTransportNotConnected = errors.New("transport not connected")

	// ErrCommandTimeout indicates a command received no response in time.
	ErrCommandTimeout = errors.New("command timeout")

	// ErrRouterStopped indicates the response router has stopped.
	ErrRouterStopped = errors.New("response router stopped")

	// ErrStdinClosed indicates stdin was closed due to context cancellation.
	ErrStdinClosed = errors.New("stdin closed")

	// ErrEmptyCommand indicates a command was sent with an empty name.
	ErrEmptyCommand = errors.New("empty command name")
)

// WorkerNotFoundError indicates the rigmux-worker binary was not found.
type WorkerNotFoundError struct {
	SearchedPaths []string
}

func (e *WorkerNotFoundError) Error() string {
	return fmt.Sprintf("rigmux-worker not found in: %v", e.SearchedPaths)
}

// IsRigmuxError implements RigmuxError.
func (e *WorkerNotFoundError) IsRigmuxError() bool { return true }

// ConnectionError indicates the worker is unreachable: no worker has been
// started, the worker process died, or the transport failed.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("worker connection failed: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsRigmuxError implements RigmuxError.
func (e *ConnectionError) IsRigmuxError() bool { return true }

// ProcessError indicates the worker process failed.
type ProcessError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("worker process failed (exit %d): %v", e.ExitCode, e.Err)
	}

	return fmt.Sprintf("worker process failed (exit %d): %s", e.ExitCode, e.Stderr)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// IsRigmuxError implements RigmuxError.
func (e *ProcessError) IsRigmuxError() bool { return true }

// WorkerStartError indicates the worker failed to become ready: session
// bring-up failed, the ready event never arrived, or the liveness check
// after startup did not pass.
type WorkerStartError struct {
	Reason string
	Stderr string
}

func (e *WorkerStartError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("worker startup failed: %s (stderr: %s)", e.Reason, e.Stderr)
	}

	return fmt.Sprintf("worker startup failed: %s", e.Reason)
}

// IsRigmuxError implements RigmuxError.
func (e *WorkerStartError) IsRigmuxError() bool { return true }

// TimeoutError indicates no response arrived for a command within its
// timeout. The command keeps running in the worker; only the wait is
// abandoned. Unwraps to ErrCommandTimeout for errors.Is checks.
type TimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command %q timed out after %s", e.Command, e.Timeout)
}

func (e *TimeoutError) Unwrap() error {
	return ErrCommandTimeout
}

// IsRigmuxError implements RigmuxError.
func (e *TimeoutError) IsRigmuxError() bool { return true }

// CommandError indicates the worker answered with an error-status response.
// Raw SendCommand calls surface these as responses; the typed helpers
// convert them to this error type.
type CommandError struct {
	Command string
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q failed: %s", e.Command, e.Message)
}

// IsRigmuxError implements RigmuxError.
func (e *CommandError) IsRigmuxError() bool { return true }

// DecodeError indicates a line from the worker was not valid JSON.
// This error preserves the original raw data that failed to parse.
type DecodeError struct {
	RawData string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode worker output: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsRigmuxError implements RigmuxError.
func (e *DecodeError) IsRigmuxError() bool { return true }
