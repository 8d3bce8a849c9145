//go:build integration

// Package integration exercises the manager against a real rigmux-worker
// subprocess. The tests need the worker binary installed on PATH or named
// by $RIGMUX_WORKER:
//
//	go build -o ~/.local/bin/rigmux-worker ./cmd/rigmux-worker
//	go test -tags integration ./integration/
//
// Everything runs in mock mode; no hardware is touched.
package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	rigmux "github.com/openrig/rigmux"
)

// skipIfWorkerNotInstalled skips the test if the error indicates the worker
// binary is not installed.
func skipIfWorkerNotInstalled(t *testing.T, err error) {
	t.Helper()

	var notFound *rigmux.WorkerNotFoundError
	if errors.As(err, &notFound) {
		t.Skip("rigmux-worker binary not installed")
	}
}

// startWorker starts a mock-mode worker subprocess and registers shutdown
// as cleanup. Tests that only need a running worker start here.
func startWorker(t *testing.T, opts ...rigmux.Option) rigmux.Manager {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	m := rigmux.NewManager()

	opts = append([]rigmux.Option{
		rigmux.WithMock(true),
		rigmux.WithSession("integration"),
	}, opts...)

	if err := m.StartWorker(ctx, opts...); err != nil {
		skipIfWorkerNotInstalled(t, err)
		t.Fatalf("StartWorker failed: %v", err)
	}

	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := m.Shutdown(shutdownCtx); err != nil {
			t.Errorf("Shutdown failed: %v", err)
		}
	})

	return m
}
