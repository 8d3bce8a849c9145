package config

import (
	"log/slog"
	"time"
)

// Default timeouts applied when the corresponding Options field is zero.
const (
	// DefaultCommandTimeout bounds how long SendCommand waits for a response.
	DefaultCommandTimeout = 30 * time.Second

	// DefaultStartupTimeout bounds how long StartWorker waits for the ready
	// event after spawning the worker process.
	DefaultStartupTimeout = 30 * time.Second

	// DefaultShutdownGrace is how long Shutdown waits for the worker to exit
	// on its own after acknowledging the shutdown command, before killing it.
	DefaultShutdownGrace = 5 * time.Second
)

// Options configures the manager and the worker process it spawns.
type Options struct {
	// Logger is the slog logger for manager-side debug output.
	// If nil, logging is disabled (silent operation).
	Logger *slog.Logger

	// Endpoint identifies the rig the worker should open, e.g. "mock://rig0"
	// or "rp://10.0.0.17". Required unless Mock is set.
	Endpoint string

	// Session is the session name the worker reports in its ready event.
	// If empty, the endpoint is used.
	Session string

	// Mock forces the mock driver regardless of endpoint scheme.
	Mock bool

	// WorkerPath is the explicit path to the rigmux-worker binary.
	// If empty, the binary is searched in $RIGMUX_WORKER, PATH, and
	// common installation directories.
	WorkerPath string

	// Cwd sets the working directory for the worker process.
	Cwd string

	// Env provides additional environment variables for the worker process.
	Env map[string]string

	// LogLevel sets the worker process log level (zerolog level names).
	// If empty, the worker uses its own default.
	LogLevel string

	// CommandTimeout is the default per-command timeout. Zero means
	// DefaultCommandTimeout. Individual sends may override it.
	CommandTimeout time.Duration

	// StartupTimeout bounds the wait for the worker's ready event.
	// Zero means DefaultStartupTimeout.
	StartupTimeout time.Duration

	// ShutdownGrace bounds the wait for a clean worker exit during Shutdown.
	// Zero means DefaultShutdownGrace.
	ShutdownGrace time.Duration

	// Stderr is a callback invoked with each stderr line from the worker.
	// The worker logs there, so this is the hook for capturing its output.
	Stderr func(string)

	// Transport allows injecting a custom transport implementation.
	// If nil, the default process transport is created automatically.
	// This field is not serialized to JSON.
	Transport Transport `json:"-"`
}

// EffectiveCommandTimeout returns CommandTimeout with the default applied.
func (o *Options) EffectiveCommandTimeout() time.Duration {
	if o.CommandTimeout > 0 {
		return o.CommandTimeout
	}

	return DefaultCommandTimeout
}

// EffectiveStartupTimeout returns StartupTimeout with the default applied.
func (o *Options) EffectiveStartupTimeout() time.Duration {
	if o.StartupTimeout > 0 {
		return o.StartupTimeout
	}

	return DefaultStartupTimeout
}

// EffectiveShutdownGrace returns ShutdownGrace with the default applied.
func (o *Options) EffectiveShutdownGrace() time.Duration {
	if o.ShutdownGrace > 0 {
		return o.ShutdownGrace
	}

	return DefaultShutdownGrace
}

// EffectiveSession returns Session, falling back to the endpoint.
func (o *Options) EffectiveSession() string {
	if o.Session != "" {
		return o.Session
	}

	if o.Endpoint != "" {
		return o.Endpoint
	}

	return "mock"
}
