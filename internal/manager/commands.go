package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openrig/rigmux/internal/errors"
	"github.com/openrig/rigmux/internal/protocol"
	"github.com/openrig/rigmux/internal/rig"
)

// helperTimeout picks the timeout for a typed helper: an explicitly
// configured command timeout wins, otherwise the helper's own constant.
func (m *Manager) helperTimeout(fallback time.Duration) time.Duration {
	if m.options.CommandTimeout > 0 {
		return m.options.CommandTimeout
	}

	return fallback
}

// invoke sends a command and decodes the response payload into out, which
// may be nil for commands with no interesting data. Error-status responses
// come back as *errors.CommandError.
func (m *Manager) invoke(
	ctx context.Context,
	command string,
	params map[string]any,
	out any,
	timeout time.Duration,
) error {
	resp, err := m.SendCommand(ctx, command, params, timeout)
	if err != nil {
		return err
	}

	if err := resp.Err(command); err != nil {
		return err
	}

	if out != nil {
		return resp.DecodeData(out)
	}

	return nil
}

// Ping round-trips a liveness probe through the worker.
func (m *Manager) Ping(ctx context.Context) error {
	resp, err := m.SendCommand(ctx, protocol.CommandPing, nil, m.helperTimeout(pingTimeout))
	if err != nil {
		return err
	}

	if err := resp.Err(protocol.CommandPing); err != nil {
		return err
	}

	if got := resp.DataString(); got != "pong" {
		return &errors.CommandError{
			Command: protocol.CommandPing,
			Message: fmt.Sprintf("unexpected reply: %q", got),
		}
	}

	return nil
}

// Alive reports whether the worker currently answers a ping. Unlike Ping it
// never waits longer than a short probe timeout.
func (m *Manager) Alive(ctx context.Context) bool {
	resp, err := m.SendCommand(ctx, protocol.CommandPing, nil, aliveTimeout)

	return err == nil && !resp.IsError() && resp.DataString() == "pong"
}

// Capabilities fetches the worker's session description and command catalog.
func (m *Manager) Capabilities(ctx context.Context) (*protocol.Capabilities, error) {
	var caps protocol.Capabilities

	err := m.invoke(ctx, protocol.CommandCapabilities, nil, &caps, m.helperTimeout(capabilitiesTimeout))
	if err != nil {
		return nil, err
	}

	return &caps, nil
}

// ConfigureGenerator applies a signal generator configuration. Unset
// optional fields take instrument defaults; Enabled must be set explicitly
// to switch the channel on.
func (m *Manager) ConfigureGenerator(ctx context.Context, cfg rig.GeneratorConfig) error {
	params, err := structParams(cfg.Normalize())
	if err != nil {
		return err
	}

	return m.invoke(ctx, protocol.CommandConfigureGenerator, params, nil, m.helperTimeout(configureTimeout))
}

// ConfigureController applies a feedback controller configuration. Unset
// optional fields take instrument defaults; Enabled must be set explicitly
// to close the loop.
func (m *Manager) ConfigureController(ctx context.Context, cfg rig.ControllerConfig) error {
	params, err := structParams(cfg.Normalize())
	if err != nil {
		return err
	}

	return m.invoke(ctx, protocol.CommandConfigureController, params, nil, m.helperTimeout(configureTimeout))
}

// SetSetpoint moves one controller channel's setpoint.
func (m *Manager) SetSetpoint(ctx context.Context, channel string, value float64) error {
	params := map[string]any{"channel": channel, "value": value}

	return m.invoke(ctx, protocol.CommandSetSetpoint, params, nil, m.helperTimeout(setpointTimeout))
}

// Setpoint reads back one controller channel's setpoint.
func (m *Manager) Setpoint(ctx context.Context, channel string) (float64, error) {
	var result struct {
		Channel string  `json:"channel"`
		Value   float64 `json:"value"`
	}

	params := map[string]any{"channel": channel}

	err := m.invoke(ctx, protocol.CommandGetSetpoint, params, &result, m.helperTimeout(setpointTimeout))
	if err != nil {
		return 0, err
	}

	return result.Value, nil
}

// ConfigureDemodulator applies a lock-in demodulator configuration. Unset
// optional fields take instrument defaults.
func (m *Manager) ConfigureDemodulator(ctx context.Context, cfg rig.DemodConfig) error {
	params, err := structParams(cfg.Normalize())
	if err != nil {
		return err
	}

	return m.invoke(ctx, protocol.CommandDemodulatorSetup, params, nil, m.helperTimeout(configureTimeout))
}

// ReadDemodulator reads one I/Q sample from a demodulator channel.
func (m *Manager) ReadDemodulator(ctx context.Context, channel string) (rig.DemodSample, error) {
	var sample rig.DemodSample

	params := map[string]any{"channel": channel}

	err := m.invoke(ctx, protocol.CommandDemodulatorRead, params, &sample, m.helperTimeout(readTimeout))
	if err != nil {
		return rig.DemodSample{}, err
	}

	return sample, nil
}

// AcquireWaveform captures a waveform from an input channel. Zero length or
// decimation selects the instrument default.
func (m *Manager) AcquireWaveform(ctx context.Context, channel string, length, decimation int) (rig.Waveform, error) {
	params := map[string]any{"channel": channel}

	if length > 0 {
		params["length"] = length
	}

	if decimation > 0 {
		params["decimation"] = decimation
	}

	var waveform rig.Waveform

	err := m.invoke(ctx, protocol.CommandAcquireWaveform, params, &waveform, m.helperTimeout(acquireTimeout))
	if err != nil {
		return rig.Waveform{}, err
	}

	return waveform, nil
}

// SampleChannel reads one instantaneous voltage from an input channel.
func (m *Manager) SampleChannel(ctx context.Context, channel string) (rig.Sample, error) {
	var sample rig.Sample

	params := map[string]any{"channel": channel}

	err := m.invoke(ctx, protocol.CommandSampleChannel, params, &sample, m.helperTimeout(sampleTimeout))
	if err != nil {
		return rig.Sample{}, err
	}

	return sample, nil
}

// structParams converts a config struct to wire params via a JSON round
// trip, so the wire sees exactly the struct's json tags.
func structParams(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}

	var params map[string]any
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}

	return params, nil
}
