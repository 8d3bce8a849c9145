package rig

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

func init() {
	Register(ModeMock, func(cfg Config) (Provider, error) {
		return NewMock(cfg), nil
	})
}

// mockNoiseFloor is the standard deviation of the synthetic input noise in
// volts, applied to every reading so unconfigured channels are not dead flat.
const mockNoiseFloor = 0.0005

// NewMock returns the built-in mock provider. It produces synthetic signals
// without contacting hardware: input channel "cN" is a loopback of generator
// "gN", so an acquisition on c0 reflects whatever g0 was configured to emit,
// plus a small noise floor.
//
// An endpoint of "mock://broken" makes Initialize fail, which exercises the
// worker's fatal startup path.
func NewMock(cfg Config) Provider {
	return &mockProvider{
		cfg: cfg,
		log: cfg.Logger.With().Str("driver", ModeMock).Logger(),
		// Fixed seed: acquisitions must be reproducible across test runs.
		rng:         rand.New(rand.NewPCG(125, 64)),
		generators:  make(map[string]GeneratorConfig, len(GeneratorChannels)),
		controllers: make(map[string]ControllerConfig, len(ControllerChannels)),
		demods:      make(map[string]DemodConfig, len(DemodChannels)),
		setpoints:   make(map[string]float64, len(ControllerChannels)),
	}
}

// mockProvider holds the synthetic session state. Like a real session it is
// not safe for concurrent use; only the worker's serial loop may touch it.
type mockProvider struct {
	cfg Config
	log zerolog.Logger

	initialized bool
	epoch       time.Time
	rng         *rand.Rand

	generators  map[string]GeneratorConfig
	controllers map[string]ControllerConfig
	demods      map[string]DemodConfig
	setpoints   map[string]float64
}

// Initialize brings up the synthetic session.
func (m *mockProvider) Initialize(_ context.Context) error {
	if strings.Contains(m.cfg.Endpoint, "broken") {
		return fmt.Errorf("open session %q: simulated bring-up failure", m.cfg.Endpoint)
	}

	m.initialized = true
	m.epoch = time.Now()

	m.log.Info().
		Str("session", m.cfg.Session).
		Str("endpoint", m.cfg.Endpoint).
		Msg("mock session initialized")

	return nil
}

// Close releases the synthetic session.
func (m *mockProvider) Close() error {
	m.initialized = false
	m.log.Info().Str("session", m.cfg.Session).Msg("mock session closed")

	return nil
}

func (m *mockProvider) Generator() Generator     { return mockGenerator{m} }
func (m *mockProvider) Controller() Controller   { return mockController{m} }
func (m *mockProvider) Demodulator() Demodulator { return mockDemodulator{m} }
func (m *mockProvider) Scope() Scope             { return mockScope{m} }
func (m *mockProvider) Sampler() Sampler         { return mockSampler{m} }

func (m *mockProvider) ensureInitialized() error {
	if !m.initialized {
		return fmt.Errorf("session %q not initialized", m.cfg.Session)
	}

	return nil
}

// elapsed is the session-relative time used to evolve synthetic phases.
func (m *mockProvider) elapsed() float64 {
	return time.Since(m.epoch).Seconds()
}

func (m *mockProvider) now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

func (m *mockProvider) noise() float64 {
	return m.rng.NormFloat64() * mockNoiseFloor
}

// feedingGenerator resolves the generator looped back onto an input channel:
// g0 feeds c0, g1 feeds c1. Returns false when that generator is not
// configured or not enabled.
func (m *mockProvider) feedingGenerator(input string) (GeneratorConfig, bool) {
	idx := slices.Index(InputChannels, input)
	if idx < 0 || idx >= len(GeneratorChannels) {
		return GeneratorConfig{}, false
	}

	gen, ok := m.generators[GeneratorChannels[idx]]
	if !ok || !gen.Enabled {
		return GeneratorConfig{}, false
	}

	return gen, true
}

// waveformValue evaluates a generator's output voltage at time t.
func waveformValue(cfg GeneratorConfig, t float64) float64 {
	phase := 2*math.Pi*cfg.Frequency*t + cfg.Phase*math.Pi/180

	switch cfg.Waveform {
	case WaveformSquare:
		if math.Sin(phase) >= 0 {
			return cfg.Amplitude + cfg.Offset
		}

		return -cfg.Amplitude + cfg.Offset

	case WaveformTriangle:
		return 2*cfg.Amplitude/math.Pi*math.Asin(math.Sin(phase)) + cfg.Offset

	default:
		return cfg.Amplitude*math.Sin(phase) + cfg.Offset
	}
}

type mockGenerator struct{ p *mockProvider }

func (g mockGenerator) Configure(cfg GeneratorConfig) error {
	if err := g.p.ensureInitialized(); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	g.p.generators[cfg.Channel] = cfg
	g.p.log.Debug().
		Str("channel", cfg.Channel).
		Str("waveform", cfg.Waveform).
		Float64("frequency", cfg.Frequency).
		Float64("amplitude", cfg.Amplitude).
		Bool("enabled", cfg.Enabled).
		Msg("generator configured")

	return nil
}

type mockController struct{ p *mockProvider }

func (c mockController) Configure(cfg ControllerConfig) error {
	if err := c.p.ensureInitialized(); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	c.p.controllers[cfg.Channel] = cfg
	c.p.setpoints[cfg.Channel] = cfg.Setpoint
	c.p.log.Debug().
		Str("channel", cfg.Channel).
		Str("input", cfg.Input).
		Float64("setpoint", cfg.Setpoint).
		Msg("controller configured")

	return nil
}

func (c mockController) SetSetpoint(channel string, value float64) error {
	if err := c.p.ensureInitialized(); err != nil {
		return err
	}

	if slices.Index(ControllerChannels, channel) < 0 {
		return fmt.Errorf("unknown controller channel: %s (valid: %v)", channel, ControllerChannels)
	}

	if value < -1 || value > 1 {
		return fmt.Errorf("setpoint %g V out of range [-1, 1]", value)
	}

	c.p.setpoints[channel] = value

	return nil
}

func (c mockController) Setpoint(channel string) (float64, error) {
	if err := c.p.ensureInitialized(); err != nil {
		return 0, err
	}

	if slices.Index(ControllerChannels, channel) < 0 {
		return 0, fmt.Errorf("unknown controller channel: %s (valid: %v)", channel, ControllerChannels)
	}

	return c.p.setpoints[channel], nil
}

type mockDemodulator struct{ p *mockProvider }

func (d mockDemodulator) Configure(cfg DemodConfig) error {
	if err := d.p.ensureInitialized(); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	d.p.demods[cfg.Channel] = cfg
	d.p.log.Debug().
		Str("channel", cfg.Channel).
		Str("input", cfg.Input).
		Float64("frequency", cfg.Frequency).
		Float64("bandwidth", cfg.Bandwidth).
		Msg("demodulator configured")

	return nil
}

func (d mockDemodulator) Read(channel string) (DemodSample, error) {
	if err := d.p.ensureInitialized(); err != nil {
		return DemodSample{}, err
	}

	cfg, ok := d.p.demods[channel]
	if !ok {
		return DemodSample{}, fmt.Errorf("demodulator %s not configured", channel)
	}

	x := d.p.noise()
	y := d.p.noise()

	if gen, ok := d.p.feedingGenerator(cfg.Input); ok {
		// First-order low-pass response of the lock-in to the detuned carrier.
		detuning := gen.Frequency - cfg.Frequency
		gain := cfg.Bandwidth / math.Hypot(cfg.Bandwidth, detuning)
		theta := 2*math.Pi*detuning*d.p.elapsed() + gen.Phase*math.Pi/180

		x += gen.Amplitude * gain * math.Cos(theta)
		y += gen.Amplitude * gain * math.Sin(theta)
	}

	return DemodSample{
		Channel:   channel,
		X:         x,
		Y:         y,
		R:         math.Hypot(x, y),
		Theta:     math.Atan2(y, x),
		Frequency: cfg.Frequency,
		Timestamp: d.p.now(),
	}, nil
}

type mockScope struct{ p *mockProvider }

func (s mockScope) Acquire(channel string, length, decimation int) (Waveform, error) {
	if err := s.p.ensureInitialized(); err != nil {
		return Waveform{}, err
	}

	if err := ValidateAcquisition(channel, length, decimation); err != nil {
		return Waveform{}, err
	}

	dt := float64(decimation) / BaseSampleRate
	trigger := s.p.elapsed()

	gen, fed := s.p.feedingGenerator(channel)

	wf := Waveform{
		Channel: channel,
		Voltage: make([]float64, length),
		Time:    make([]float64, length),
	}

	for i := range length {
		t := float64(i) * dt
		wf.Time[i] = t

		v := s.p.noise()
		if fed {
			// Absolute phase so back-to-back acquisitions are not identical.
			v += waveformValue(gen, trigger+t)
		}

		wf.Voltage[i] = v
	}

	s.p.log.Debug().
		Str("channel", channel).
		Int("length", length).
		Int("decimation", decimation).
		Msg("waveform acquired")

	return wf, nil
}

type mockSampler struct{ p *mockProvider }

func (s mockSampler) Sample(channel string) (Sample, error) {
	if err := s.p.ensureInitialized(); err != nil {
		return Sample{}, err
	}

	if slices.Index(InputChannels, channel) < 0 {
		return Sample{}, fmt.Errorf("unknown input channel: %s (valid: %v)", channel, InputChannels)
	}

	v := s.p.noise()
	if gen, ok := s.p.feedingGenerator(channel); ok {
		v += waveformValue(gen, s.p.elapsed())
	}

	return Sample{
		Channel:   channel,
		Voltage:   v,
		Timestamp: s.p.now(),
	}, nil
}
