package rig

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"
)

// Instrument timing constants. The acquisition clock runs at the FPGA base
// rate divided by the configured decimation.
const (
	// BaseSampleRate is the undecimated acquisition clock in samples/second.
	BaseSampleRate = 125e6

	// MaxFrequency is the highest configurable generator or demodulator
	// frequency in Hz (Nyquist limit of the base clock).
	MaxFrequency = BaseSampleRate / 2

	// MaxWaveformLength is the deepest single acquisition the scope buffer holds.
	MaxWaveformLength = 16384

	// DefaultDecimation is applied when an acquisition does not specify one.
	DefaultDecimation = 64

	// MaxDecimation bounds the scope decimation factor.
	MaxDecimation = 65536

	// DefaultWaveformLength is applied when an acquisition does not specify
	// a sample count.
	DefaultWaveformLength = 1024

	// DefaultDemodBandwidth is the lock-in filter bandwidth in Hz applied
	// when a demodulator setup does not specify one.
	DefaultDemodBandwidth = 1000
)

// DefaultInput is the input channel routed into controllers and
// demodulators when none is named.
const DefaultInput = "c0"

// Waveform shapes accepted by the signal generator.
const (
	WaveformSine     = "sine"
	WaveformSquare   = "square"
	WaveformTriangle = "triangle"
)

// Session operating modes.
const (
	ModeMock     = "mock"
	ModeHardware = "hardware"
)

// Channel names per module. Input channels are shared by the scope, the
// sampler, and as routing sources for controllers and demodulators.
var (
	GeneratorChannels  = []string{"g0", "g1"}
	InputChannels      = []string{"c0", "c1"}
	ControllerChannels = []string{"pid0", "pid1", "pid2", "pid3"}
	DemodChannels      = []string{"dm0", "dm1", "dm2", "dm3"}
)

// Config describes the session a provider should open.
type Config struct {
	// Endpoint identifies the instrument, e.g. "mock://rig0" or
	// "rp://10.0.0.17:5000". The scheme selects the registered driver.
	Endpoint string

	// Session names this ownership of the instrument, for logs and the
	// ready event.
	Session string

	// Mock forces the built-in mock driver regardless of endpoint scheme.
	Mock bool

	// Logger receives driver bring-up and I/O logging. Pass zerolog.Nop()
	// to silence it.
	Logger zerolog.Logger
}

// Mode reports the session operating mode implied by the config.
func (c Config) Mode() string {
	if c.Mock || strings.HasPrefix(c.Endpoint, ModeMock+"://") {
		return ModeMock
	}

	return ModeHardware
}

// Provider is the hardware capability boundary. One provider owns one
// exclusive instrument session.
//
// Providers are not safe for concurrent use: the control library underneath
// has strict execution-context affinity, which is why providers run inside
// the worker's single serial dispatch loop and nowhere else.
type Provider interface {
	// Initialize brings up the instrument session. Real hardware may take
	// several seconds (FPGA bitstream and firmware load). An error here is
	// fatal to the worker instance.
	Initialize(ctx context.Context) error

	// Close releases the session.
	Close() error

	Generator() Generator
	Controller() Controller
	Demodulator() Demodulator
	Scope() Scope
	Sampler() Sampler
}

// Generator drives the signal generator channels.
type Generator interface {
	Configure(cfg GeneratorConfig) error
}

// Controller drives the feedback controller channels.
type Controller interface {
	Configure(cfg ControllerConfig) error
	SetSetpoint(channel string, value float64) error
	Setpoint(channel string) (float64, error)
}

// Demodulator drives the lock-in demodulation channels.
type Demodulator interface {
	Configure(cfg DemodConfig) error
	Read(channel string) (DemodSample, error)
}

// Scope acquires waveforms from the input channels.
type Scope interface {
	Acquire(channel string, length, decimation int) (Waveform, error)
}

// Sampler reads instantaneous input voltages.
type Sampler interface {
	Sample(channel string) (Sample, error)
}

// GeneratorConfig configures one signal generator channel.
type GeneratorConfig struct {
	Channel   string  `json:"channel"`
	Waveform  string  `json:"waveform"`
	Frequency float64 `json:"frequency"`
	Amplitude float64 `json:"amplitude"`
	Offset    float64 `json:"offset"`
	Phase     float64 `json:"phase"`
	Enabled   bool    `json:"enabled"`
}

// Normalize fills unset optional fields with instrument defaults. Enabled
// is a plain bool and stays as given; callers turning a channel on must say
// so explicitly.
func (c GeneratorConfig) Normalize() GeneratorConfig {
	if c.Waveform == "" {
		c.Waveform = WaveformSine
	}

	return c
}

// Validate checks the config against the instrument's limits.
func (c GeneratorConfig) Validate() error {
	if !slices.Contains(GeneratorChannels, c.Channel) {
		return fmt.Errorf("unknown generator channel: %s (valid: %v)", c.Channel, GeneratorChannels)
	}

	switch c.Waveform {
	case WaveformSine, WaveformSquare, WaveformTriangle:
	default:
		return fmt.Errorf("unknown waveform: %s (valid: sine, square, triangle)", c.Waveform)
	}

	if c.Frequency < 0 || c.Frequency > MaxFrequency {
		return fmt.Errorf("frequency %g Hz out of range [0, %g]", c.Frequency, float64(MaxFrequency))
	}

	if c.Amplitude < 0 || c.Amplitude > 1 {
		return fmt.Errorf("amplitude %g V out of range [0, 1]", c.Amplitude)
	}

	if c.Offset < -1 || c.Offset > 1 {
		return fmt.Errorf("offset %g V out of range [-1, 1]", c.Offset)
	}

	return nil
}

// ControllerConfig configures one feedback controller channel.
type ControllerConfig struct {
	Channel  string  `json:"channel"`
	Input    string  `json:"input"`
	P        float64 `json:"p"`
	I        float64 `json:"i"`
	D        float64 `json:"d"`
	Setpoint float64 `json:"setpoint"`
	Enabled  bool    `json:"enabled"`
}

// Normalize fills unset optional fields with instrument defaults.
func (c ControllerConfig) Normalize() ControllerConfig {
	if c.Input == "" {
		c.Input = DefaultInput
	}

	return c
}

// Validate checks the config against the instrument's limits.
func (c ControllerConfig) Validate() error {
	if !slices.Contains(ControllerChannels, c.Channel) {
		return fmt.Errorf("unknown controller channel: %s (valid: %v)", c.Channel, ControllerChannels)
	}

	if !slices.Contains(InputChannels, c.Input) {
		return fmt.Errorf("unknown controller input: %s (valid: %v)", c.Input, InputChannels)
	}

	if c.Setpoint < -1 || c.Setpoint > 1 {
		return fmt.Errorf("setpoint %g V out of range [-1, 1]", c.Setpoint)
	}

	return nil
}

// DemodConfig configures one lock-in demodulation channel.
type DemodConfig struct {
	Channel   string  `json:"channel"`
	Input     string  `json:"input"`
	Frequency float64 `json:"frequency"`
	Bandwidth float64 `json:"bandwidth"`
}

// Normalize fills unset optional fields with instrument defaults.
func (c DemodConfig) Normalize() DemodConfig {
	if c.Input == "" {
		c.Input = DefaultInput
	}

	if c.Bandwidth == 0 {
		c.Bandwidth = DefaultDemodBandwidth
	}

	return c
}

// Validate checks the config against the instrument's limits.
func (c DemodConfig) Validate() error {
	if !slices.Contains(DemodChannels, c.Channel) {
		return fmt.Errorf("unknown demodulator channel: %s (valid: %v)", c.Channel, DemodChannels)
	}

	if !slices.Contains(InputChannels, c.Input) {
		return fmt.Errorf("unknown demodulator input: %s (valid: %v)", c.Input, InputChannels)
	}

	if c.Frequency <= 0 || c.Frequency > MaxFrequency {
		return fmt.Errorf("frequency %g Hz out of range (0, %g]", c.Frequency, float64(MaxFrequency))
	}

	if c.Bandwidth <= 0 {
		return fmt.Errorf("bandwidth %g Hz must be positive", c.Bandwidth)
	}

	return nil
}

// ValidateAcquisition checks scope acquisition parameters.
func ValidateAcquisition(channel string, length, decimation int) error {
	if !slices.Contains(InputChannels, channel) {
		return fmt.Errorf("unknown input channel: %s (valid: %v)", channel, InputChannels)
	}

	if length < 1 || length > MaxWaveformLength {
		return fmt.Errorf("length %d out of range [1, %d]", length, MaxWaveformLength)
	}

	if decimation < 1 || decimation > MaxDecimation {
		return fmt.Errorf("decimation %d out of range [1, %d]", decimation, MaxDecimation)
	}

	return nil
}

// Waveform is one scope acquisition: parallel voltage and time arrays of
// equal length. Time is seconds since the acquisition trigger.
type Waveform struct {
	Channel string    `json:"channel"`
	Voltage []float64 `json:"voltage"`
	Time    []float64 `json:"time"`
}

// DemodSample is one lock-in reading: quadratures plus derived magnitude
// and phase. Theta is in radians; Timestamp is Unix seconds.
type DemodSample struct {
	Channel   string  `json:"channel"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	R         float64 `json:"r"`
	Theta     float64 `json:"theta"`
	Frequency float64 `json:"frequency"`
	Timestamp float64 `json:"timestamp"`
}

// Sample is one instantaneous input voltage reading. Timestamp is Unix
// seconds.
type Sample struct {
	Channel   string  `json:"channel"`
	Voltage   float64 `json:"voltage"`
	Timestamp float64 `json:"timestamp"`
}
