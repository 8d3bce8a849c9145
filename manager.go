package rigmux

import (
	"context"
	"sync"
	"time"
)

// Manager runs at most one rig worker process and multiplexes commands to
// it from any number of goroutines.
//
// A manager is reusable: after Shutdown, StartWorker brings up a fresh
// worker with clean routing state. Lifecycle calls serialize against each
// other; command calls only ever block on their own response or timeout.
//
// Example usage:
//
//	m := NewManager()
//	defer m.Shutdown(ctx)
//
//	err := m.StartWorker(ctx,
//	    WithSession("bench-1"),
//	    WithMock(true),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	wf, err := m.AcquireWaveform(ctx, "c1", 1024, 0)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	// Process wf.Voltage, wf.Time...
type Manager interface {
	// StartWorker launches the worker process and blocks until it reports
	// ready, the startup fails, or the startup timeout passes. Options are
	// applied only when no worker is running; on an already-running manager
	// the call is a no-op and the running worker keeps its configuration.
	// Returns WorkerNotFoundError if the worker binary cannot be found,
	// WorkerStartError if it launches but never becomes ready.
	StartWorker(ctx context.Context, opts ...Option) error

	// SendCommand sends a raw command and waits for its response using the
	// configured default timeout. A response with Status "error" is not a
	// Go error; a non-nil error means the command never completed.
	SendCommand(ctx context.Context, command string, params map[string]any) (*Response, error)

	// SendCommandWithTimeout is SendCommand with a per-call timeout.
	// Zero or negative falls back to the configured default.
	SendCommandWithTimeout(ctx context.Context, command string, params map[string]any, timeout time.Duration) (*Response, error)

	// Ping round-trips a ping through the worker and verifies the reply.
	Ping(ctx context.Context) error

	// Alive reports whether the worker currently answers pings. It never
	// returns an error; any failure reads as not alive.
	Alive(ctx context.Context) bool

	// Capabilities asks the worker which commands it serves.
	Capabilities(ctx context.Context) (*Capabilities, error)

	// ConfigureGenerator applies a signal generator configuration.
	// Unset optional fields are filled with defaults before sending;
	// Enabled is sent as given.
	ConfigureGenerator(ctx context.Context, cfg GeneratorConfig) error

	// ConfigureController applies a control loop configuration to a
	// controller channel.
	ConfigureController(ctx context.Context, cfg ControllerConfig) error

	// SetSetpoint sets a controller channel's setpoint in volts.
	SetSetpoint(ctx context.Context, channel string, value float64) error

	// Setpoint reads back a controller channel's current setpoint.
	Setpoint(ctx context.Context, channel string) (float64, error)

	// ConfigureDemodulator applies a lock-in demodulator configuration.
	ConfigureDemodulator(ctx context.Context, cfg DemodConfig) error

	// ReadDemodulator reads one demodulated sample from a demodulator
	// channel.
	ReadDemodulator(ctx context.Context, channel string) (DemodSample, error)

	// AcquireWaveform captures a waveform from an acquisition channel.
	// A zero length or decimation means the worker's default.
	AcquireWaveform(ctx context.Context, channel string, length, decimation int) (Waveform, error)

	// SampleChannel reads a single instantaneous voltage from an
	// acquisition channel.
	SampleChannel(ctx context.Context, channel string) (Sample, error)

	// Running reports whether a worker is currently attached.
	Running() bool

	// Session returns the hardware session name of the running worker,
	// or "" when stopped.
	Session() string

	// Mode returns "mock" or "hardware" for the running worker, or ""
	// when stopped.
	Mode() string

	// PendingCommands returns the number of commands awaiting responses.
	// After a shutdown or worker death it settles back to zero.
	PendingCommands() int

	// Shutdown stops the worker: a polite shutdown command, a grace
	// period, then a kill. Safe to call with no worker running.
	Shutdown(ctx context.Context) error
}

// NewManager creates a stopped Manager.
//
// Call StartWorker with options to bring up a worker:
//
//	m := NewManager()
//	err := m.StartWorker(ctx,
//	    WithMock(true),
//	    WithLogger(slog.Default()),
//	)
func NewManager() Manager {
	return newManagerWrapper()
}

var defaultManager = sync.OnceValue(NewManager)

// Default returns a process-wide shared Manager, created on first use.
// Programs that drive a single rig can use it instead of passing a
// Manager around.
func Default() Manager {
	return defaultManager()
}
