package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openrig/rigmux/internal/protocol"
	"github.com/openrig/rigmux/internal/rig"
)

// channelParams is the shape shared by every single-channel command.
type channelParams struct {
	Channel string `json:"channel"`
}

type setpointParams struct {
	Channel string  `json:"channel"`
	Value   float64 `json:"value"`
}

type acquireParams struct {
	Channel    string `json:"channel"`
	Length     int    `json:"length"`
	Decimation int    `json:"decimation"`
}

// buildRegistry wires the reserved commands plus every hardware command the
// provider exposes. Defaults live in the preset structs handed to
// decodeParams, so absent params keep their documented values.
func (w *Worker) buildRegistry(p rig.Provider) (*Registry, error) {
	reg := NewRegistry()

	commands := []Command{
		{
			Name:        protocol.CommandPing,
			Description: "Liveness probe, answers pong",
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				return "pong", nil
			},
		},
		{
			Name:        protocol.CommandShutdown,
			Description: "Acknowledge and stop the worker",
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				return "ok", nil
			},
		},
		{
			Name:        protocol.CommandCapabilities,
			Description: "Describe the session and its command catalog",
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				return protocol.Capabilities{
					Session:  w.cfg.Session,
					Mode:     w.mode,
					Protocol: protocol.Version,
					Commands: reg.Catalog(),
				}, nil
			},
		},
		{
			Name:        protocol.CommandConfigureGenerator,
			Description: "Configure a signal generator channel",
			Params: objectSchema(map[string]string{
				"channel":   "string",
				"waveform":  "string",
				"frequency": "float64",
				"amplitude": "float64",
				"offset":    "float64",
				"phase":     "float64",
				"enabled":   "bool",
			}, "channel"),
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				cfg := rig.GeneratorConfig{Enabled: true}
				if err := decodeParams(params, &cfg); err != nil {
					return nil, err
				}

				return nil, p.Generator().Configure(cfg.Normalize())
			},
		},
		{
			Name:        protocol.CommandConfigureController,
			Description: "Configure a PID controller channel",
			Params: objectSchema(map[string]string{
				"channel":  "string",
				"input":    "string",
				"p":        "float64",
				"i":        "float64",
				"d":        "float64",
				"setpoint": "float64",
				"enabled":  "bool",
			}, "channel"),
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				cfg := rig.ControllerConfig{Enabled: true}
				if err := decodeParams(params, &cfg); err != nil {
					return nil, err
				}

				return nil, p.Controller().Configure(cfg.Normalize())
			},
		},
		{
			Name:        protocol.CommandSetSetpoint,
			Description: "Set a controller channel setpoint",
			Params: objectSchema(map[string]string{
				"channel": "string",
				"value":   "float64",
			}, "channel", "value"),
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				var args setpointParams
				if err := decodeParams(params, &args); err != nil {
					return nil, err
				}

				return nil, p.Controller().SetSetpoint(args.Channel, args.Value)
			},
		},
		{
			Name:        protocol.CommandGetSetpoint,
			Description: "Read back a controller channel setpoint",
			Params: objectSchema(map[string]string{
				"channel": "string",
			}, "channel"),
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				var args channelParams
				if err := decodeParams(params, &args); err != nil {
					return nil, err
				}

				value, err := p.Controller().Setpoint(args.Channel)
				if err != nil {
					return nil, err
				}

				return map[string]any{"channel": args.Channel, "value": value}, nil
			},
		},
		{
			Name:        protocol.CommandDemodulatorSetup,
			Description: "Configure a lock-in demodulator channel",
			Params: objectSchema(map[string]string{
				"channel":   "string",
				"input":     "string",
				"frequency": "float64",
				"bandwidth": "float64",
			}, "channel", "frequency"),
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				var cfg rig.DemodConfig
				if err := decodeParams(params, &cfg); err != nil {
					return nil, err
				}

				return nil, p.Demodulator().Configure(cfg.Normalize())
			},
		},
		{
			Name:        protocol.CommandDemodulatorRead,
			Description: "Read one demodulated I/Q sample",
			Params: objectSchema(map[string]string{
				"channel": "string",
			}, "channel"),
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				var args channelParams
				if err := decodeParams(params, &args); err != nil {
					return nil, err
				}

				sample, err := p.Demodulator().Read(args.Channel)
				if err != nil {
					return nil, err
				}

				return sample, nil
			},
		},
		{
			Name:        protocol.CommandAcquireWaveform,
			Description: "Capture a voltage waveform from an input channel",
			Params: objectSchema(map[string]string{
				"channel":    "string",
				"length":     "int",
				"decimation": "int",
			}, "channel"),
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				args := acquireParams{Length: rig.DefaultWaveformLength, Decimation: rig.DefaultDecimation}
				if err := decodeParams(params, &args); err != nil {
					return nil, err
				}

				waveform, err := p.Scope().Acquire(args.Channel, args.Length, args.Decimation)
				if err != nil {
					return nil, err
				}

				return waveform, nil
			},
		},
		{
			Name:        protocol.CommandSampleChannel,
			Description: "Read one instantaneous voltage sample",
			Params: objectSchema(map[string]string{
				"channel": "string",
			}, "channel"),
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				var args channelParams
				if err := decodeParams(params, &args); err != nil {
					return nil, err
				}

				sample, err := p.Sampler().Sample(args.Channel)
				if err != nil {
					return nil, err
				}

				return sample, nil
			},
		},
	}

	for _, cmd := range commands {
		if err := reg.Register(cmd); err != nil {
			return nil, err
		}
	}

	return reg, nil
}

// decodeParams fills v from wire params via a JSON round trip. Fields absent
// from params keep whatever v already holds, which is how defaults work.
func decodeParams(params map[string]any, v any) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}

	return nil
}
