package subprocess

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/openrig/rigmux/internal/config"
	"github.com/openrig/rigmux/internal/errors"
)

const (
	// maxScanTokenSize is the maximum buffer size for reading worker output
	// lines. The largest legal line is a full-depth waveform response, two
	// 16384-element float arrays, which stays well under this limit.
	maxScanTokenSize = 4 * 1024 * 1024 // 4MB

	// maxStderrBufferSize is the maximum size for the stderr buffer.
	// Stderr reading continues indefinitely (callback receives all lines),
	// but the buffer stops growing after this limit to prevent unbounded
	// memory usage.
	maxStderrBufferSize = 10 * 1024 * 1024 // 10MB
)

// WorkerTransport implements Transport by spawning a rigmux-worker
// subprocess and speaking line-delimited JSON over its stdio.
type WorkerTransport struct {
	log            *slog.Logger
	options        *config.Options
	workerPath     string
	args           []string
	env            []string
	cwd            string
	cmd            *exec.Cmd
	stdin          io.WriteCloser
	stdout         io.ReadCloser
	stderr         io.ReadCloser
	stderrCallback func(string) // Callback for streaming stderr output
	exited         chan struct{}
	mu             sync.Mutex // Protects stdin writes
	closing        bool       // Whether Close() has been called (intentional shutdown)
	stdinClosed    bool       // Whether stdin was closed (e.g., due to context cancellation)
}

// Compile-time verification that WorkerTransport implements the Transport interface.
var _ config.Transport = (*WorkerTransport)(nil)

// NewWorkerTransport creates a transport that will spawn the worker binary.
//
// The logger is used for operation tracking and debugging. It will receive
// debug, info, warn, and error messages during transport operations.
//
// Binary discovery is deferred to Start(), which searches for rigmux-worker
// in the following order:
//  1. The explicit path in options.WorkerPath (if provided)
//  2. The RIGMUX_WORKER environment variable
//  3. The system PATH
//  4. Common installation directories (/usr/local/bin, /usr/bin, ~/.local/bin)
//
// Start() returns WorkerNotFoundError if the binary cannot be located.
func NewWorkerTransport(log *slog.Logger, options *config.Options) *WorkerTransport {
	return &WorkerTransport{
		log:            log.With("component", "worker_transport"),
		options:        options,
		stderrCallback: options.Stderr,
		exited:         make(chan struct{}),
	}
}

// Start spawns the worker subprocess.
//
// This method discovers the worker binary, builds command arguments, and
// spawns the process with the configured environment variables. It sets up
// stdin, stdout, and stderr pipes for communication.
//
// Returns WorkerNotFoundError if the binary cannot be located, or
// ConnectionError if the process fails to start.
func (t *WorkerTransport) Start(ctx context.Context) error {
	t.log.Info("Starting worker subprocess")

	discoverer := NewDiscoverer(&DiscoveryConfig{
		WorkerPath: t.options.WorkerPath,
		Logger:     t.log,
	})

	workerPath, err := discoverer.Discover(ctx)
	if err != nil {
		return fmt.Errorf("discover worker: %w", err)
	}

	t.workerPath = workerPath

	t.args = buildArgs(t.options)
	t.log.Debug("Built command arguments", "args", t.args)

	t.env = buildEnvironment(t.options)

	t.cwd = t.options.Cwd
	if t.cwd == "" {
		t.cwd, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
	}

	//nolint:gosec // G204: launching the discovered worker binary with built args is the point of this transport
	cmd := exec.CommandContext(ctx, t.workerPath, t.args...)
	cmd.Dir = t.cwd
	cmd.Env = t.env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		t.log.Error("Failed to create stdin pipe", "error", err)

		return &errors.ConnectionError{Err: fmt.Errorf("stdin pipe: %w", err)}
	}

	t.stdin = stdin

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.log.Error("Failed to create stdout pipe", "error", err)

		return &errors.ConnectionError{Err: fmt.Errorf("stdout pipe: %w", err)}
	}

	t.stdout = stdout

	stderr, err := cmd.StderrPipe()
	if err != nil {
		t.log.Error("Failed to create stderr pipe", "error", err)

		return &errors.ConnectionError{Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	t.stderr = stderr

	if err := cmd.Start(); err != nil {
		t.log.Error("Failed to start worker process", "error", err)

		return &errors.ConnectionError{Err: fmt.Errorf("start process: %w", err)}
	}

	t.cmd = cmd
	t.log.Info("Worker subprocess started", "pid", cmd.Process.Pid, "path", t.workerPath)

	return nil
}

// ReadMessages reads JSON messages from the worker stdout.
//
// This method starts a goroutine that reads line-delimited JSON from the
// worker process stdout. Each line is parsed as a JSON object and sent to
// the messages channel.
//
// The goroutine exits when:
//   - The worker process terminates
//   - The context is cancelled
//   - An unrecoverable error occurs
//
// Parse errors for individual lines are sent to the error channel but do
// not stop message processing. The goroutine closes both channels when it
// exits. Call this at most once per Start.
func (t *WorkerTransport) ReadMessages(
	ctx context.Context,
) (<-chan map[string]any, <-chan error) {
	messages := make(chan map[string]any)
	errs := make(chan error, 1)

	var stderrWg sync.WaitGroup

	var stderrBuffer strings.Builder

	var stderrMu sync.Mutex

	// Always buffer stderr for error reporting (must complete reads before Wait())
	// See: https://pkg.go.dev/os/exec#Cmd.StderrPipe

	stderrWg.Go(func() {
		// Simple scanner loop - relies on process kill to close pipes and
		// unblock Scan(). When Close() kills the process, the OS closes all
		// pipes, which reliably returns from blocked Read() calls.
		scanner := bufio.NewScanner(t.stderr)
		for scanner.Scan() {
			// Check context between lines for cooperative cancellation
			select {
			case <-ctx.Done():
				return
			default:
			}

			line := scanner.Text()

			// Buffer stderr for error reporting (capped at maxStderrBufferSize)
			stderrMu.Lock()

			if stderrBuffer.Len() < maxStderrBufferSize {
				if stderrBuffer.Len() > 0 {
					stderrBuffer.WriteString("\n")
				}

				stderrBuffer.WriteString(line)
			}

			stderrMu.Unlock()

			if t.stderrCallback != nil {
				t.stderrCallback(line)
			}
		}

		// Log scanner errors (don't fail - process may have exited)
		if err := scanner.Err(); err != nil {
			t.log.Debug("Stderr scanner error", "error", err)
		}
	})

	go func() {
		defer close(messages)
		defer close(errs)
		defer t.log.Debug("ReadMessages goroutine stopped")

		scanner := bufio.NewScanner(t.stdout)
		buf := make([]byte, maxScanTokenSize)
		scanner.Buffer(buf, maxScanTokenSize)

		messageCount := 0

		for scanner.Scan() {
			select {
			case <-ctx.Done():
				t.log.Debug("Context cancelled during scan", "error", ctx.Err())

				errs <- ctx.Err()

				return
			default:
			}

			line := scanner.Bytes()

			var msg map[string]any

			if err := json.Unmarshal(line, &msg); err != nil {
				t.log.Debug("Failed to unmarshal worker output", "error", err, "line", string(line))

				errs <- &errors.DecodeError{
					RawData: string(line),
					Err:     err,
				}

				continue
			}

			messageCount++
			t.log.Debug("Received message from worker", "message_count", messageCount)

			select {
			case messages <- msg:
			case <-ctx.Done():
				t.log.Debug("Context cancelled during message send", "error", ctx.Err())

				errs <- ctx.Err()

				return
			}
		}

		if err := scanner.Err(); err != nil {
			t.log.Error("Scanner error while reading worker output", "error", err)

			errs <- fmt.Errorf("scanner error: %w", err)
		}

		// Wait for stderr goroutine before process wait
		stderrWg.Wait()

		t.log.Debug("Waiting for worker process to exit")

		err := t.cmd.Wait()
		close(t.exited)

		if err != nil {
			// Check if this is an intentional shutdown
			t.mu.Lock()
			isClosing := t.closing
			t.mu.Unlock()

			if isClosing {
				t.log.Debug("Worker process terminated during shutdown")

				return
			}

			stderrMu.Lock()

			stderrOutput := strings.TrimSpace(stderrBuffer.String())

			stderrMu.Unlock()

			exitCode := 0

			if exitErr, ok := stderrors.AsType[*exec.ExitError](err); ok {
				exitCode = exitErr.ExitCode()
			}

			t.log.Error("Worker process exited with error", "exit_code", exitCode, "stderr", stderrOutput)

			errs <- &errors.ProcessError{
				ExitCode: exitCode,
				Stderr:   stderrOutput,
				Err:      err,
			}
		} else {
			t.log.Info("Worker process exited cleanly")
		}
	}()

	return messages, errs
}

// SendMessage sends a JSON message to the worker stdin.
//
// The data should be a complete JSON message followed by a newline.
// This method is safe for concurrent use and respects context cancellation
// even during blocking writes.
//
// If context is cancelled during a blocked write, stdin is closed to unblock
// the goroutine (safe since Go 1.9+). Subsequent calls will return ErrStdinClosed.
func (t *WorkerTransport) SendMessage(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stdin == nil {
		return errors.ErrTransportNotConnected
	}

	if t.stdinClosed {
		return errors.ErrStdinClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	t.log.Debug("Sending message to worker", "data_len", len(data))

	// Ensure data ends with newline
	// Use explicit copy to avoid mutating caller's backing array if slice has spare capacity
	if len(data) == 0 || data[len(data)-1] != '\n' {
		newData := make([]byte, len(data)+1)
		copy(newData, data)
		newData[len(data)] = '\n'
		data = newData
	}

	// Write in goroutine to respect context cancellation
	done := make(chan error, 1)

	go func() {
		_, err := t.stdin.Write(data)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.log.Error("Failed to write message to worker", "error", err)

			return fmt.Errorf("write to stdin: %w", err)
		}

		return nil

	case <-ctx.Done():
		t.log.Debug("Context cancelled during write, closing stdin")
		// Close stdin to unblock the blocked Write (safe since Go 1.9+)
		if t.stdin != nil {
			_ = t.stdin.Close()
			t.stdinClosed = true
		}
		// Wait for goroutine to exit with timeout to prevent leak
		select {
		case <-done:
			// Write goroutine exited cleanly
		case <-time.After(1 * time.Second):
			t.log.Warn("Write goroutine did not exit after stdin close, potential leak")
		}

		return ctx.Err()
	}
}

// IsReady checks if the transport is ready for communication.
//
// Returns true if the worker process is running and stdin is open.
func (t *WorkerTransport) IsReady() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.cmd != nil && t.cmd.Process != nil && t.stdin != nil && !t.stdinClosed
}

// EndInput ends the input stream (closes stdin).
//
// This signals to the worker that no more commands will be sent. The worker
// treats stdin EOF as a shutdown request and exits on its own.
func (t *WorkerTransport) EndInput() error {
	return t.CloseStdin()
}

// CloseStdin closes the stdin pipe to signal end of input.
func (t *WorkerTransport) CloseStdin() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stdin != nil && !t.stdinClosed {
		t.log.Debug("Closing stdin pipe")

		err := t.stdin.Close()
		t.stdinClosed = true
		t.stdin = nil

		return err
	}

	return nil
}

// WaitExit blocks until the worker process has been reaped, or the context
// expires. Exit is observed by the ReadMessages goroutine, so this only
// completes after ReadMessages has been started.
func (t *WorkerTransport) WaitExit(ctx context.Context) error {
	select {
	case <-t.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close terminates the worker process.
//
// This forcefully kills the process using SIGKILL. It's safe to call Close
// multiple times or on an already-terminated process. Prefer asking the
// manager for a clean shutdown first; Close is the last resort.
func (t *WorkerTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closing = true
	t.stdinClosed = true

	if t.cmd != nil && t.cmd.Process != nil {
		t.log.Debug("Killing worker process", "pid", t.cmd.Process.Pid)

		// A worker that already exited and was reaped reports ErrProcessDone.
		if err := t.cmd.Process.Kill(); err != nil && !stderrors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("kill worker process (pid %d): %w", t.cmd.Process.Pid, err)
		}
	}

	return nil
}

// buildArgs constructs the worker command line from the options.
func buildArgs(options *config.Options) []string {
	var args []string

	if options.Endpoint != "" {
		args = append(args, "--endpoint", options.Endpoint)
	}

	args = append(args, "--session", options.EffectiveSession())

	if options.Mock {
		args = append(args, "--mock")
	}

	if options.LogLevel != "" {
		args = append(args, "--log-level", options.LogLevel)
	}

	return args
}

// buildEnvironment constructs the worker process environment.
func buildEnvironment(options *config.Options) []string {
	// Start with current environment
	env := os.Environ()

	// Mark the process as manager-supervised so it picks machine-readable
	// log output over the interactive default.
	env = append(env, "RIGMUX_MANAGED=1")

	// Add or override with user-provided environment variables
	for key, value := range options.Env {
		env = append(env, fmt.Sprintf("%s=%s", key, value))
	}

	return env
}
