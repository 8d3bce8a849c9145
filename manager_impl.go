package rigmux

import (
	"context"
	"sync"
	"time"

	"github.com/openrig/rigmux/internal/manager"
)

// managerWrapper adapts the internal manager to the public interface and
// owns option handling for StartWorker.
type managerWrapper struct {
	// mu serializes lifecycle calls so concurrent StartWorker calls
	// cannot race to replace the implementation.
	mu sync.Mutex

	// implMu guards the impl pointer for the command fast path.
	implMu sync.RWMutex
	impl   *manager.Manager
}

// Compile-time check that *managerWrapper implements the Manager interface.
var _ Manager = (*managerWrapper)(nil)

// newManagerWrapper creates the internal manager implementation.
func newManagerWrapper() Manager {
	return &managerWrapper{impl: manager.New(nil)}
}

func (m *managerWrapper) current() *manager.Manager {
	m.implMu.RLock()
	defer m.implMu.RUnlock()
	return m.impl
}

// StartWorker launches the worker process and waits for it to report ready.
//
// The internal manager binds its configuration at construction, so applying
// options means swapping in a fresh instance. That only happens while no
// worker is running; otherwise the options are ignored and the call is the
// internal manager's idempotent no-op.
func (m *managerWrapper) StartWorker(ctx context.Context, opts ...Option) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	impl := m.current()
	if len(opts) > 0 && !impl.Running() {
		impl = manager.New(applyOptions(opts))
		m.implMu.Lock()
		m.impl = impl
		m.implMu.Unlock()
	}
	return impl.StartWorker(ctx)
}

// SendCommand sends a raw command using the configured default timeout.
func (m *managerWrapper) SendCommand(ctx context.Context, command string, params map[string]any) (*Response, error) {
	return m.current().SendCommand(ctx, command, params, 0)
}

// SendCommandWithTimeout sends a raw command with a per-call timeout.
func (m *managerWrapper) SendCommandWithTimeout(
	ctx context.Context,
	command string,
	params map[string]any,
	timeout time.Duration,
) (*Response, error) {
	return m.current().SendCommand(ctx, command, params, timeout)
}

// Ping round-trips a ping through the worker and verifies the reply.
func (m *managerWrapper) Ping(ctx context.Context) error {
	return m.current().Ping(ctx)
}

// Alive reports whether the worker currently answers pings.
func (m *managerWrapper) Alive(ctx context.Context) bool {
	return m.current().Alive(ctx)
}

// Capabilities asks the worker which commands it serves.
func (m *managerWrapper) Capabilities(ctx context.Context) (*Capabilities, error) {
	return m.current().Capabilities(ctx)
}

// ConfigureGenerator applies a signal generator configuration.
func (m *managerWrapper) ConfigureGenerator(ctx context.Context, cfg GeneratorConfig) error {
	return m.current().ConfigureGenerator(ctx, cfg)
}

// ConfigureController applies a control loop configuration.
func (m *managerWrapper) ConfigureController(ctx context.Context, cfg ControllerConfig) error {
	return m.current().ConfigureController(ctx, cfg)
}

// SetSetpoint sets a controller channel's setpoint in volts.
func (m *managerWrapper) SetSetpoint(ctx context.Context, channel string, value float64) error {
	return m.current().SetSetpoint(ctx, channel, value)
}

// Setpoint reads back a controller channel's current setpoint.
func (m *managerWrapper) Setpoint(ctx context.Context, channel string) (float64, error) {
	return m.current().Setpoint(ctx, channel)
}

// ConfigureDemodulator applies a lock-in demodulator configuration.
func (m *managerWrapper) ConfigureDemodulator(ctx context.Context, cfg DemodConfig) error {
	return m.current().ConfigureDemodulator(ctx, cfg)
}

// ReadDemodulator reads one demodulated sample.
func (m *managerWrapper) ReadDemodulator(ctx context.Context, channel string) (DemodSample, error) {
	return m.current().ReadDemodulator(ctx, channel)
}

// AcquireWaveform captures a waveform from an acquisition channel.
func (m *managerWrapper) AcquireWaveform(ctx context.Context, channel string, length, decimation int) (Waveform, error) {
	return m.current().AcquireWaveform(ctx, channel, length, decimation)
}

// SampleChannel reads a single instantaneous voltage.
func (m *managerWrapper) SampleChannel(ctx context.Context, channel string) (Sample, error) {
	return m.current().SampleChannel(ctx, channel)
}

// Running reports whether a worker is currently attached.
func (m *managerWrapper) Running() bool {
	return m.current().Running()
}

// Session returns the hardware session name of the running worker.
func (m *managerWrapper) Session() string {
	return m.current().Session()
}

// Mode returns "mock" or "hardware" for the running worker.
func (m *managerWrapper) Mode() string {
	return m.current().Mode()
}

// PendingCommands returns the number of commands awaiting responses.
func (m *managerWrapper) PendingCommands() int {
	return m.current().PendingCommands()
}

// Shutdown stops the worker and cleans up resources.
func (m *managerWrapper) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current().Shutdown(ctx)
}
