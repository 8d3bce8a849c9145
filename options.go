package rigmux

import (
	"log/slog"
	"time"
)

// Option configures Options using the functional options pattern.
// Pass options to StartWorker or WithManager.
type Option func(*Options)

// applyOptions applies functional options to an Options struct.
func applyOptions(opts []Option) *Options {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	return options
}

// ===== Basic Configuration =====

// WithLogger sets the logger for manager-side debug output.
// If not set, logging is disabled (silent operation).
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithEndpoint sets the rig endpoint the worker should open,
// e.g. "mock://rig0" or "rp://10.0.0.17".
func WithEndpoint(endpoint string) Option {
	return func(o *Options) {
		o.Endpoint = endpoint
	}
}

// WithSession sets the session name the worker reports in its ready event.
// If not set, the endpoint doubles as the session name.
func WithSession(session string) Option {
	return func(o *Options) {
		o.Session = session
	}
}

// WithMock forces the mock driver regardless of endpoint scheme.
func WithMock(mock bool) Option {
	return func(o *Options) {
		o.Mock = mock
	}
}

// ===== Worker Process =====

// WithWorkerPath sets an explicit path to the rigmux-worker binary,
// bypassing the $RIGMUX_WORKER / PATH search.
func WithWorkerPath(path string) Option {
	return func(o *Options) {
		o.WorkerPath = path
	}
}

// WithCwd sets the working directory for the worker process.
func WithCwd(cwd string) Option {
	return func(o *Options) {
		o.Cwd = cwd
	}
}

// WithEnv provides additional environment variables for the worker process.
func WithEnv(env map[string]string) Option {
	return func(o *Options) {
		o.Env = env
	}
}

// WithLogLevel sets the worker process log level (zerolog level names,
// e.g. "debug", "info", "warn").
func WithLogLevel(level string) Option {
	return func(o *Options) {
		o.LogLevel = level
	}
}

// WithStderr registers a callback invoked with each stderr line from the
// worker. The worker logs to stderr, so this is the hook for capturing
// its output.
func WithStderr(fn func(string)) Option {
	return func(o *Options) {
		o.Stderr = fn
	}
}

// ===== Timeouts =====

// WithCommandTimeout sets the default per-command timeout.
// Individual commands may still override it.
func WithCommandTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.CommandTimeout = d
	}
}

// WithStartupTimeout bounds how long StartWorker waits for the worker's
// ready event.
func WithStartupTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.StartupTimeout = d
	}
}

// WithShutdownGrace bounds how long Shutdown waits for a clean worker
// exit before killing the process.
func WithShutdownGrace(d time.Duration) Option {
	return func(o *Options) {
		o.ShutdownGrace = d
	}
}

// ===== Advanced =====

// WithTransport injects a custom transport implementation, replacing the
// default subprocess transport. Mainly useful for tests.
func WithTransport(t Transport) Option {
	return func(o *Options) {
		o.Transport = t
	}
}
