package rigmux

import (
	"github.com/openrig/rigmux/internal/config"
	"github.com/openrig/rigmux/internal/protocol"
	"github.com/openrig/rigmux/internal/rig"
)

// Re-export types from internal packages

// ===== Options and Configuration =====

// Options configures the manager and the worker process it spawns.
// Most callers build it through the With* functional options.
type Options = config.Options

// Default timeouts applied when the corresponding Options field is zero.
const (
	// DefaultCommandTimeout bounds how long SendCommand waits for a response.
	DefaultCommandTimeout = config.DefaultCommandTimeout
	// DefaultStartupTimeout bounds how long StartWorker waits for the
	// worker's ready event.
	DefaultStartupTimeout = config.DefaultStartupTimeout
	// DefaultShutdownGrace is how long Shutdown waits for a clean exit
	// before killing the worker.
	DefaultShutdownGrace = config.DefaultShutdownGrace
)

// ===== Wire Protocol =====

// ProtocolVersion is the line protocol version spoken between the manager
// and the worker. A worker reporting a different version is rejected at
// startup.
const ProtocolVersion = protocol.Version

// Request is a single command sent to the worker, one JSON object per line.
type Request = protocol.Request

// Response is the worker's reply to a Request, matched by id.
type Response = protocol.Response

// Capabilities describes a worker: its session, mode, and command set.
type Capabilities = protocol.Capabilities

// CommandDescriptor describes one command a worker serves.
type CommandDescriptor = protocol.CommandDescriptor

// Response status values.
const (
	// StatusOK marks a response whose Data carries the command result.
	StatusOK = protocol.StatusOK
	// StatusError marks a response whose Data carries an error message.
	StatusError = protocol.StatusError
)

// Reserved command names handled by the worker itself rather than a
// hardware module.
const (
	CommandPing         = protocol.CommandPing
	CommandShutdown     = protocol.CommandShutdown
	CommandCapabilities = protocol.CommandCapabilities
)

// Hardware command names accepted by SendCommand. The typed helpers on
// Manager wrap these.
const (
	CommandConfigureGenerator  = protocol.CommandConfigureGenerator
	CommandConfigureController = protocol.CommandConfigureController
	CommandSetSetpoint         = protocol.CommandSetSetpoint
	CommandGetSetpoint         = protocol.CommandGetSetpoint
	CommandDemodulatorSetup    = protocol.CommandDemodulatorSetup
	CommandDemodulatorRead     = protocol.CommandDemodulatorRead
	CommandAcquireWaveform     = protocol.CommandAcquireWaveform
	CommandSampleChannel       = protocol.CommandSampleChannel
)

// ===== Instrument Configuration =====

// GeneratorConfig configures one signal generator channel.
type GeneratorConfig = rig.GeneratorConfig

// ControllerConfig configures one PID controller channel.
type ControllerConfig = rig.ControllerConfig

// DemodConfig configures one lock-in demodulator channel.
type DemodConfig = rig.DemodConfig

// Waveform shapes accepted by the signal generator.
const (
	WaveformSine     = rig.WaveformSine
	WaveformSquare   = rig.WaveformSquare
	WaveformTriangle = rig.WaveformTriangle
)

// Session operating modes reported by Mode().
const (
	ModeMock     = rig.ModeMock
	ModeHardware = rig.ModeHardware
)

// ===== Instrument Data =====

// Waveform is a captured voltage trace with per-sample timestamps.
type Waveform = rig.Waveform

// DemodSample is one demodulated lock-in reading.
type DemodSample = rig.DemodSample

// Sample is one instantaneous voltage reading.
type Sample = rig.Sample

// Instrument timing constants.
const (
	// BaseSampleRate is the undecimated acquisition clock in samples/second.
	BaseSampleRate = rig.BaseSampleRate
	// MaxFrequency is the highest configurable generator or demodulator
	// frequency in Hz.
	MaxFrequency = rig.MaxFrequency
	// MaxWaveformLength is the deepest single acquisition the scope
	// buffer holds.
	MaxWaveformLength = rig.MaxWaveformLength
	// DefaultWaveformLength is used when AcquireWaveform gets length 0.
	DefaultWaveformLength = rig.DefaultWaveformLength
	// DefaultDecimation is used when AcquireWaveform gets decimation 0.
	DefaultDecimation = rig.DefaultDecimation
	// MaxDecimation bounds the scope decimation factor.
	MaxDecimation = rig.MaxDecimation
	// DefaultDemodBandwidth is used when DemodConfig.Bandwidth is 0.
	DefaultDemodBandwidth = rig.DefaultDemodBandwidth
)
