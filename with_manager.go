package rigmux

import (
	"context"
	"fmt"
)

// WithManager manages worker lifecycle with automatic cleanup.
//
// This helper creates a manager, starts a worker with the provided options,
// executes the callback, and shuts the worker down when done.
//
// The callback receives a Manager whose worker is already ready. If the
// callback returns an error, it is returned to the caller. If Shutdown
// fails, a warning is logged but does not override the callback's error.
//
// Example usage:
//
//	err := rigmux.WithManager(ctx, func(m rigmux.Manager) error {
//	    if err := m.ConfigureGenerator(ctx, cfg); err != nil {
//	        return err
//	    }
//	    wf, err := m.AcquireWaveform(ctx, "c0", 1024, 0)
//	    if err != nil {
//	        return err
//	    }
//	    // process wf...
//	    return nil
//	},
//	    rigmux.WithMock(true),
//	    rigmux.WithLogger(log),
//	)
func WithManager(ctx context.Context, fn func(Manager) error, opts ...Option) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	options := applyOptions(opts)

	log := options.Logger
	if log == nil {
		log = NopLogger()
	}

	m := NewManager()
	if err := m.StartWorker(ctx, opts...); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}

	defer func() {
		if shutdownErr := m.Shutdown(ctx); shutdownErr != nil {
			log.Warn("failed to shut down worker", "error", shutdownErr)
		}
	}()

	return fn(m)
}
