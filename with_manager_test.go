package rigmux_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rigmux "github.com/openrig/rigmux"
	"github.com/openrig/rigmux/internal/worker"
)

func TestWithManager_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := rigmux.WithManager(ctx, func(_ rigmux.Manager) error {
		t.Error("callback should not run with a cancelled context")

		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestWithManager_RunsCallbackAndShutsDown(t *testing.T) {
	pt := newPipeTransport(worker.Config{Endpoint: "mock://rig0", Session: "bench-1"})

	var inside rigmux.Manager

	err := rigmux.WithManager(context.Background(), func(m rigmux.Manager) error {
		inside = m

		require.True(t, m.Running())
		assert.Equal(t, "bench-1", m.Session())

		return m.Ping(context.Background())
	}, rigmux.WithTransport(pt))

	require.NoError(t, err)
	assert.False(t, inside.Running())
	assert.False(t, pt.IsReady())
}

func TestWithManager_CallbackError(t *testing.T) {
	pt := newPipeTransport(worker.Config{Endpoint: "mock://rig0", Session: "bench-1"})
	boom := errors.New("measurement went sideways")

	err := rigmux.WithManager(context.Background(), func(_ rigmux.Manager) error {
		return boom
	}, rigmux.WithTransport(pt))

	require.ErrorIs(t, err, boom)
	// The worker is shut down even when the callback fails.
	assert.False(t, pt.IsReady())
}

func TestWithManager_StartFailure(t *testing.T) {
	pt := newPipeTransport(worker.Config{Endpoint: "mock://broken", Session: "bench-1"})

	err := rigmux.WithManager(context.Background(), func(_ rigmux.Manager) error {
		t.Error("callback should not run when startup fails")

		return nil
	}, rigmux.WithTransport(pt))

	require.Error(t, err)

	var startErr *rigmux.WorkerStartError
	assert.ErrorAs(t, err, &startErr)
}
