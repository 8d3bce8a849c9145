package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rigerrors "github.com/openrig/rigmux/internal/errors"
)

// mockTransport implements Transport for testing.
type mockTransport struct {
	mu       sync.Mutex
	messages [][]byte
	msgChan  chan map[string]any
	errChan  chan error

	// onSend, when set, is invoked with each sent request outside the lock.
	onSend func(data []byte)
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		messages: make([][]byte, 0, 10),
		msgChan:  make(chan map[string]any, 64),
		errChan:  make(chan error, 1),
	}
}

func (m *mockTransport) ReadMessages(_ context.Context) (<-chan map[string]any, <-chan error) {
	return m.msgChan, m.errChan
}

func (m *mockTransport) SendMessage(_ context.Context, data []byte) error {
	m.mu.Lock()
	m.messages = append(m.messages, data)
	hook := m.onSend
	m.mu.Unlock()

	if hook != nil {
		hook(data)
	}

	return nil
}

func (m *mockTransport) getMessages() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([][]byte, len(m.messages))
	copy(result, m.messages)

	return result
}

func (m *mockTransport) sendToRouter(msg map[string]any) {
	m.msgChan <- msg
}

// sentRequest decodes the i-th request recorded by the transport.
func (m *mockTransport) sentRequest(t *testing.T, i int) Request {
	t.Helper()

	msgs := m.getMessages()
	require.Greater(t, len(msgs), i)

	var req Request

	require.NoError(t, json.Unmarshal(msgs[i], &req))

	return req
}

// findPendingCommandID extracts a pending command ID from the router.
// This is a test helper that peeks into the pending table.
func findPendingCommandID(r *Router) string {
	r.pendingMu.RLock()
	defer r.pendingMu.RUnlock()

	for id := range r.pending {
		return id
	}

	return "unknown-command-id"
}

type sendResult struct {
	resp *Response
	err  error
}

func TestRouter_Send_RoutesResponseToCaller(t *testing.T) {
	transport := newMockTransport()
	router := NewRouter(slog.Default(), transport)

	ctx := context.Background()
	require.NoError(t, router.Start(ctx))

	defer router.Stop()

	done := make(chan sendResult, 1)

	go func() {
		resp, err := router.Send(ctx, "ping", nil, 2*time.Second)
		done <- sendResult{resp, err}
	}()

	// Wait for the pending entry, then answer it like the worker would.
	var id string

	require.Eventually(t, func() bool {
		id = findPendingCommandID(router)

		return id != "unknown-command-id"
	}, time.Second, time.Millisecond)

	transport.sendToRouter(map[string]any{
		"id":     id,
		"status": "ok",
		"data":   "pong",
	})

	res := <-done
	require.NoError(t, res.err)
	require.Equal(t, StatusOK, res.resp.Status)
	require.Equal(t, "pong", res.resp.DataString())
	require.Equal(t, id, res.resp.ID)
	assert.Zero(t, router.PendingCount())
}

func TestRouter_Send_WireFormat(t *testing.T) {
	transport := newMockTransport()
	router := NewRouter(slog.Default(), transport)

	ctx := context.Background()
	require.NoError(t, router.Start(ctx))

	defer router.Stop()

	_, err := router.Send(ctx, "configure-generator", map[string]any{
		"channel":   "g0",
		"frequency": 1000.0,
	}, 10*time.Millisecond)
	require.ErrorIs(t, err, rigerrors.ErrCommandTimeout)

	req := transport.sentRequest(t, 0)
	require.NotEmpty(t, req.ID)
	require.Equal(t, "configure-generator", req.Command)
	require.Equal(t, "g0", req.Params["channel"])
	require.InDelta(t, 1000.0, req.Params["frequency"], 0.0001)
}

func TestRouter_Send_ErrorStatusIsResponseNotError(t *testing.T) {
	// Error-status responses come back as responses with nil error so the
	// caller can inspect the status, matching how unknown commands surface.
	transport := newMockTransport()
	router := NewRouter(slog.Default(), transport)

	ctx := context.Background()
	require.NoError(t, router.Start(ctx))

	defer router.Stop()

	done := make(chan sendResult, 1)

	go func() {
		resp, err := router.Send(ctx, "bogus-command", nil, 2*time.Second)
		done <- sendResult{resp, err}
	}()

	var id string

	require.Eventually(t, func() bool {
		id = findPendingCommandID(router)

		return id != "unknown-command-id"
	}, time.Second, time.Millisecond)

	transport.sendToRouter(map[string]any{
		"id":     id,
		"status": "error",
		"data":   "unrecognized command: bogus-command",
	})

	res := <-done
	require.NoError(t, res.err)
	require.True(t, res.resp.IsError())
	require.Equal(t, "unrecognized command: bogus-command", res.resp.ErrorMessage())
	assert.Zero(t, router.PendingCount())
}

func TestRouter_Send_Timeout(t *testing.T) {
	transport := newMockTransport()
	router := NewRouter(slog.Default(), transport)

	ctx := context.Background()
	require.NoError(t, router.Start(ctx))

	defer router.Stop()

	start := time.Now()
	resp, err := router.Send(ctx, "acquire-waveform", map[string]any{"channel": "c0"}, 20*time.Millisecond)

	require.Nil(t, resp)
	require.ErrorIs(t, err, rigerrors.ErrCommandTimeout)

	var timeoutErr *rigerrors.TimeoutError

	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, "acquire-waveform", timeoutErr.Command)
	require.Less(t, time.Since(start), time.Second)

	// The timed-out caller removed its own entry.
	assert.Zero(t, router.PendingCount())
}

func TestRouter_Send_LateResponseDropped(t *testing.T) {
	transport := newMockTransport()
	router := NewRouter(slog.Default(), transport)

	ctx := context.Background()
	require.NoError(t, router.Start(ctx))

	defer router.Stop()

	_, err := router.Send(ctx, "slow-op", nil, 10*time.Millisecond)
	require.ErrorIs(t, err, rigerrors.ErrCommandTimeout)

	// The worker finishes anyway; its orphaned response must be a no-op.
	late := transport.sentRequest(t, 0)
	transport.sendToRouter(map[string]any{
		"id":     late.ID,
		"status": "ok",
		"data":   "too late",
	})

	// Routing still works for subsequent commands.
	done := make(chan sendResult, 1)

	go func() {
		resp, sendErr := router.Send(ctx, "ping", nil, 2*time.Second)
		done <- sendResult{resp, sendErr}
	}()

	var nextID string

	require.Eventually(t, func() bool {
		nextID = findPendingCommandID(router)

		return nextID != "unknown-command-id"
	}, time.Second, time.Millisecond)

	transport.sendToRouter(map[string]any{"id": nextID, "status": "ok", "data": "pong"})

	res := <-done
	require.NoError(t, res.err)
	require.Equal(t, "pong", res.resp.DataString())
	assert.Zero(t, router.PendingCount())
}

func TestRouter_Send_ConcurrentCallersEachGetOwnResponse(t *testing.T) {
	// N concurrent callers with distinct params; every caller must receive
	// the response correlated to its own request, never another caller's.
	transport := newMockTransport()
	transport.onSend = func(data []byte) {
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			return
		}

		transport.sendToRouter(map[string]any{
			"id":     req.ID,
			"status": "ok",
			"data":   map[string]any{"echo": req.Params["n"]},
		})
	}

	router := NewRouter(slog.Default(), transport)

	ctx := context.Background()
	require.NoError(t, router.Start(ctx))

	defer router.Stop()

	const callers = 16

	results := make([]sendResult, callers)

	var wg sync.WaitGroup

	for i := range callers {
		wg.Go(func() {
			resp, err := router.Send(ctx, "echo", map[string]any{"n": i}, 5*time.Second)
			results[i] = sendResult{resp, err}
		})
	}

	wg.Wait()

	for i, res := range results {
		require.NoError(t, res.err)
		require.Equal(t, StatusOK, res.resp.Status)

		payload, ok := res.resp.Data.(map[string]any)
		require.True(t, ok)
		require.EqualValues(t, i, payload["echo"])
	}

	assert.Zero(t, router.PendingCount())
}

func TestRouter_PendingDrainsToZero_MixedOutcomes(t *testing.T) {
	// Any mix of success, error-status, and timeout outcomes must leave the
	// pending table empty.
	transport := newMockTransport()
	transport.onSend = func(data []byte) {
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			return
		}

		switch req.Command {
		case "ok-op":
			transport.sendToRouter(map[string]any{"id": req.ID, "status": "ok", "data": "fine"})
		case "err-op":
			transport.sendToRouter(map[string]any{"id": req.ID, "status": "error", "data": "nope"})
		case "slow-op":
			// Never answered; the caller times out.
		}
	}

	router := NewRouter(slog.Default(), transport)

	ctx := context.Background()
	require.NoError(t, router.Start(ctx))

	defer router.Stop()

	const calls = 30

	outcomes := make([]sendResult, calls)

	var wg sync.WaitGroup

	for i := range calls {
		wg.Go(func() {
			var (
				resp *Response
				err  error
			)

			switch i % 3 {
			case 0:
				resp, err = router.Send(ctx, "ok-op", nil, 2*time.Second)
			case 1:
				resp, err = router.Send(ctx, "err-op", nil, 2*time.Second)
			case 2:
				resp, err = router.Send(ctx, "slow-op", nil, 15*time.Millisecond)
			}

			outcomes[i] = sendResult{resp, err}
		})
	}

	wg.Wait()

	for i, o := range outcomes {
		switch i % 3 {
		case 0:
			require.NoError(t, o.err)
			require.Equal(t, StatusOK, o.resp.Status)
		case 1:
			require.NoError(t, o.err)
			require.True(t, o.resp.IsError())
		case 2:
			require.ErrorIs(t, o.err, rigerrors.ErrCommandTimeout)
		}
	}

	require.Zero(t, router.PendingCount())
}

func TestRouter_Send_FailFastOnTransportError(t *testing.T) {
	// A dead worker must fail blocked callers immediately, not after their
	// full timeout.
	transport := newMockTransport()
	router := NewRouter(slog.Default(), transport)

	ctx := context.Background()
	require.NoError(t, router.Start(ctx))

	defer router.Stop()

	done := make(chan error, 1)

	go func() {
		_, err := router.Send(ctx, "ping", nil, 30*time.Second)
		done <- err
	}()

	require.Eventually(t, func() bool {
		return findPendingCommandID(router) != "unknown-command-id"
	}, time.Second, time.Millisecond)

	transport.errChan <- &rigerrors.ProcessError{ExitCode: 1, Stderr: "session lost"}

	select {
	case err := <-done:
		var connErr *rigerrors.ConnectionError

		require.ErrorAs(t, err, &connErr)

		var procErr *rigerrors.ProcessError

		require.ErrorAs(t, err, &procErr)
		require.Equal(t, 1, procErr.ExitCode)
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not fail fast on transport error")
	}

	assert.Zero(t, router.PendingCount())
}

func TestRouter_DecodeErrorIsRecoverable(t *testing.T) {
	// Garbage on stdout is logged and skipped; routing must survive it.
	transport := newMockTransport()
	router := NewRouter(slog.Default(), transport)

	ctx := context.Background()
	require.NoError(t, router.Start(ctx))

	defer router.Stop()

	transport.errChan <- &rigerrors.DecodeError{
		RawData: "not json at all",
		Err:     errors.New("invalid character 'n'"),
	}

	done := make(chan sendResult, 1)

	go func() {
		resp, err := router.Send(ctx, "ping", nil, 2*time.Second)
		done <- sendResult{resp, err}
	}()

	var id string

	require.Eventually(t, func() bool {
		id = findPendingCommandID(router)

		return id != "unknown-command-id"
	}, time.Second, time.Millisecond)

	transport.sendToRouter(map[string]any{"id": id, "status": "ok", "data": "pong"})

	res := <-done
	require.NoError(t, res.err)
	require.Equal(t, "pong", res.resp.DataString())
}

func TestRouter_Events_ReadySurfaced(t *testing.T) {
	transport := newMockTransport()
	router := NewRouter(slog.Default(), transport)

	ctx := context.Background()
	require.NoError(t, router.Start(ctx))

	defer router.Stop()

	transport.sendToRouter(map[string]any{
		"event":    "ready",
		"session":  "rig0",
		"mode":     "mock",
		"protocol": float64(1),
	})

	select {
	case ev := <-router.Events():
		require.Equal(t, EventReady, ev.Event)
		require.Equal(t, "rig0", ev.Session)
		require.Equal(t, "mock", ev.Mode)
		require.Equal(t, 1, ev.Protocol)
	case <-time.After(time.Second):
		t.Fatal("ready event was not surfaced")
	}
}

func TestRouter_SetFatalError_ConcurrentWithStop(t *testing.T) {
	// This test verifies no panic occurs when SetFatalError and Stop race.
	// Run with: go test -race -count=100
	for range 100 {
		transport := newMockTransport()
		router := NewRouter(slog.Default(), transport)

		ctx := context.Background()
		require.NoError(t, router.Start(ctx))

		var wg sync.WaitGroup

		wg.Add(2)

		// Goroutine 1: SetFatalError
		go func() {
			defer wg.Done()

			router.SetFatalError(errors.New("transport error"))
		}()

		// Goroutine 2: Stop
		go func() {
			defer wg.Done()

			router.Stop()
		}()

		wg.Wait()

		// Verify done channel is closed
		select {
		case <-router.Done():
			// Expected
		default:
			t.Fatal("done channel should be closed")
		}
	}
}

func TestRouter_SetFatalError_MultipleCalls(t *testing.T) {
	// Verify multiple SetFatalError calls don't panic
	transport := newMockTransport()
	router := NewRouter(slog.Default(), transport)

	ctx := context.Background()
	require.NoError(t, router.Start(ctx))

	defer router.Stop()

	// First error should be stored
	router.SetFatalError(errors.New("first error"))
	require.EqualError(t, router.FatalError(), "first error")

	// Second call should not panic, and first error is preserved
	router.SetFatalError(errors.New("second error"))
	require.EqualError(t, router.FatalError(), "first error")
}

func TestRouter_Stop_MultipleCalls(t *testing.T) {
	// Verify multiple Stop calls don't panic
	transport := newMockTransport()
	router := NewRouter(slog.Default(), transport)

	ctx := context.Background()
	require.NoError(t, router.Start(ctx))

	// Multiple Stop calls should not panic
	router.Stop()
	router.Stop()
	router.Stop()

	// Verify done channel is closed
	select {
	case <-router.Done():
		// Expected
	default:
		t.Fatal("done channel should be closed")
	}
}

func TestRouter_Send_ResponseAfterTimeout_Race(t *testing.T) {
	// This test attempts to trigger a race between Send timing out and
	// routeResponse delivering the response.
	//
	// The race window:
	// 1. Send is waiting in select for the response
	// 2. Response arrives, routeResponse looks up the entry (found)
	// 3. Send times out and deletes the entry from the table
	// 4. routeResponse sends to the response channel
	//
	// Run with: go test -race -count=100 -run TestRouter_Send_ResponseAfterTimeout_Race
	for range 100 {
		transport := newMockTransport()
		router := NewRouter(slog.Default(), transport)

		ctx := context.Background()
		require.NoError(t, router.Start(ctx))

		// Use very short timeout to maximize chance of hitting race window
		timeout := 1 * time.Millisecond

		var wg sync.WaitGroup

		wg.Add(2)

		// Goroutine 1: Send command (will timeout)
		go func() {
			defer wg.Done()

			_, _ = router.Send(ctx, "test", map[string]any{}, timeout)
			// We expect this to timeout - ignore the error
		}()

		// Goroutine 2: Send response after a tiny delay
		go func() {
			defer wg.Done()

			// Small delay to let Send register the pending command
			time.Sleep(500 * time.Microsecond)

			// Inject response - this will race with the timeout
			transport.sendToRouter(map[string]any{
				"id":     findPendingCommandID(router),
				"status": "ok",
				"data":   "raced",
			})
		}()

		wg.Wait()
		router.Stop()
	}
}

func TestRouter_Send_ResponseDeliveryRace(t *testing.T) {
	// More aggressive test: many concurrent commands with immediate responses.
	// Run with: go test -race -count=10 -run TestRouter_Send_ResponseDeliveryRace
	transport := newMockTransport()
	router := NewRouter(slog.Default(), transport)

	ctx := context.Background()
	require.NoError(t, router.Start(ctx))

	defer router.Stop()

	var wg sync.WaitGroup

	numCommands := 50

	for range numCommands {
		wg.Go(func() {
			// Very short timeout
			timeout := 100 * time.Microsecond

			responseChan := make(chan struct{})

			go func() {
				_, _ = router.Send(ctx, "test", map[string]any{}, timeout)

				close(responseChan)
			}()

			// Immediately try to inject a response
			time.Sleep(50 * time.Microsecond)

			id := findPendingCommandID(router)
			if id != "unknown-command-id" {
				transport.sendToRouter(map[string]any{
					"id":     id,
					"status": "ok",
					"data":   "raced",
				})
			}

			<-responseChan
		})
	}

	wg.Wait()
}
