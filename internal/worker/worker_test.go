package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/openrig/rigmux/internal/protocol"
	"github.com/openrig/rigmux/internal/rig"
)

// workerHarness runs a worker over in-memory pipes, the same framing the
// manager uses over a real process's stdio.
type workerHarness struct {
	t     *testing.T
	w     *Worker
	stdin *io.PipeWriter
	lines chan map[string]any
	done  chan error
	seq   int
}

func startTestWorker(t *testing.T, cfg Config) *workerHarness {
	t.Helper()

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	w := New(cfg, zerolog.Nop())

	done := make(chan error, 1)
	go func() {
		err := w.Run(context.Background(), inR, outW)
		outW.Close()
		done <- err
	}()

	lines := make(chan map[string]any, 64)
	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(outR)
		scanner.Buffer(make([]byte, maxLineSize), maxLineSize)

		for scanner.Scan() {
			var msg map[string]any
			if json.Unmarshal(scanner.Bytes(), &msg) == nil {
				lines <- msg
			}
		}
	}()

	h := &workerHarness{t: t, w: w, stdin: inW, lines: lines, done: done}

	t.Cleanup(func() {
		inW.Close()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}

		outR.Close()
	})

	return h
}

// next returns the next decoded stdout line from the worker.
func (h *workerHarness) next() map[string]any {
	h.t.Helper()

	select {
	case msg, ok := <-h.lines:
		require.True(h.t, ok, "worker output closed unexpectedly")

		return msg
	case <-time.After(5 * time.Second):
		h.t.Fatal("timed out waiting for worker output")

		return nil
	}
}

func (h *workerHarness) awaitReady() *protocol.Event {
	h.t.Helper()

	event, ok := protocol.EventFromRaw(h.next())
	require.True(h.t, ok, "expected a lifecycle event first")
	require.Equal(h.t, protocol.EventReady, event.Event)

	return event
}

func (h *workerHarness) awaitExit() error {
	h.t.Helper()

	select {
	case err := <-h.done:
		return err
	case <-time.After(5 * time.Second):
		h.t.Fatal("worker did not exit")

		return nil
	}
}

func (h *workerHarness) send(id, command string, params map[string]any) {
	h.t.Helper()

	data, err := json.Marshal(protocol.Request{ID: id, Command: command, Params: params})
	require.NoError(h.t, err)

	_, err = h.stdin.Write(append(data, '\n'))
	require.NoError(h.t, err)
}

// roundTrip sends one request and returns its response.
func (h *workerHarness) roundTrip(command string, params map[string]any) *protocol.Response {
	h.t.Helper()

	h.seq++
	id := fmt.Sprintf("req-%03d", h.seq)
	h.send(id, command, params)

	resp, ok := protocol.ResponseFromRaw(h.next())
	require.True(h.t, ok, "expected a response")
	require.Equal(h.t, id, resp.ID)

	return resp
}

func mockConfig() Config {
	return Config{Endpoint: "mock://rig0", Session: "bench-1"}
}

func TestWorker_ReadyEvent(t *testing.T) {
	h := startTestWorker(t, mockConfig())

	event := h.awaitReady()
	require.Equal(t, "bench-1", event.Session)
	require.Equal(t, rig.ModeMock, event.Mode)
	require.Equal(t, protocol.Version, event.Protocol)

	require.Eventually(t, func() bool {
		return h.w.State() == StateReady
	}, time.Second, 5*time.Millisecond)
}

func TestWorker_FatalEventOnBrokenSession(t *testing.T) {
	h := startTestWorker(t, Config{Endpoint: "mock://broken", Session: "bench-1"})

	event, ok := protocol.EventFromRaw(h.next())
	require.True(t, ok)
	require.Equal(t, protocol.EventFatal, event.Event)
	require.Contains(t, event.Error, "bring-up failure")

	err := h.awaitExit()
	require.Error(t, err)
	require.Equal(t, StateTerminated, h.w.State())
}

func TestWorker_PingPong(t *testing.T) {
	h := startTestWorker(t, mockConfig())
	h.awaitReady()

	resp := h.roundTrip(protocol.CommandPing, nil)
	require.Equal(t, protocol.StatusOK, resp.Status)
	require.Equal(t, "pong", resp.Data)
}

func TestWorker_UnknownCommand(t *testing.T) {
	h := startTestWorker(t, mockConfig())
	h.awaitReady()

	resp := h.roundTrip("warp-drive", nil)
	require.Equal(t, protocol.StatusError, resp.Status)
	require.Equal(t, "unrecognized command: warp-drive", resp.ErrorMessage())

	// The worker keeps serving after a failed command.
	resp = h.roundTrip(protocol.CommandPing, nil)
	require.Equal(t, protocol.StatusOK, resp.Status)
}

func TestWorker_EmptyCommandName(t *testing.T) {
	h := startTestWorker(t, mockConfig())
	h.awaitReady()

	resp := h.roundTrip("", nil)
	require.Equal(t, protocol.StatusError, resp.Status)
	require.Equal(t, "empty command name", resp.ErrorMessage())
}

func TestWorker_MalformedLineSkipped(t *testing.T) {
	h := startTestWorker(t, mockConfig())
	h.awaitReady()

	_, err := h.stdin.Write([]byte("{this is not json\n"))
	require.NoError(t, err)

	// The garbage line produced no response, so the next response on the
	// wire belongs to the ping.
	resp := h.roundTrip(protocol.CommandPing, nil)
	require.Equal(t, protocol.StatusOK, resp.Status)
	require.Equal(t, "pong", resp.Data)
}

func TestWorker_RequestWithoutIDDropped(t *testing.T) {
	h := startTestWorker(t, mockConfig())
	h.awaitReady()

	_, err := h.stdin.Write([]byte(`{"command": "ping"}` + "\n"))
	require.NoError(t, err)

	resp := h.roundTrip(protocol.CommandPing, nil)
	require.Equal(t, protocol.StatusOK, resp.Status)
}

func TestWorker_ShutdownAcksThenExits(t *testing.T) {
	h := startTestWorker(t, mockConfig())
	h.awaitReady()

	resp := h.roundTrip(protocol.CommandShutdown, nil)
	require.Equal(t, protocol.StatusOK, resp.Status)
	require.Equal(t, "ok", resp.Data)

	require.NoError(t, h.awaitExit())
	require.Equal(t, StateTerminated, h.w.State())
}

func TestWorker_StdinEOFTreatedAsShutdown(t *testing.T) {
	h := startTestWorker(t, mockConfig())
	h.awaitReady()

	require.NoError(t, h.stdin.Close())
	require.NoError(t, h.awaitExit())
	require.Equal(t, StateTerminated, h.w.State())
}

func TestWorker_ConfigureGeneratorThenAcquire(t *testing.T) {
	h := startTestWorker(t, mockConfig())
	h.awaitReady()

	resp := h.roundTrip(protocol.CommandConfigureGenerator, map[string]any{
		"channel":   "g0",
		"frequency": 1000.0,
		"amplitude": 0.5,
	})
	require.Equal(t, protocol.StatusOK, resp.Status)

	resp = h.roundTrip(protocol.CommandAcquireWaveform, map[string]any{
		"channel": "c1",
		"length":  1024,
	})
	require.Equal(t, protocol.StatusOK, resp.Status)

	var waveform rig.Waveform
	require.NoError(t, resp.DecodeData(&waveform))
	require.Equal(t, "c1", waveform.Channel)
	require.Len(t, waveform.Voltage, 1024)
	require.Len(t, waveform.Time, 1024)
}

func TestWorker_AcquireDefaultsLengthAndDecimation(t *testing.T) {
	h := startTestWorker(t, mockConfig())
	h.awaitReady()

	resp := h.roundTrip(protocol.CommandAcquireWaveform, map[string]any{"channel": "c0"})
	require.Equal(t, protocol.StatusOK, resp.Status)

	var waveform rig.Waveform
	require.NoError(t, resp.DecodeData(&waveform))
	require.Len(t, waveform.Voltage, 1024)
	require.InDelta(t, float64(rig.DefaultDecimation)/rig.BaseSampleRate, waveform.Time[1], 1e-12)
}

func TestWorker_SchemaRejectsBadParams(t *testing.T) {
	h := startTestWorker(t, mockConfig())
	h.awaitReady()

	// Missing required channel.
	resp := h.roundTrip(protocol.CommandConfigureGenerator, map[string]any{"frequency": 1000.0})
	require.Equal(t, protocol.StatusError, resp.Status)
	require.Contains(t, resp.ErrorMessage(), "invalid params")

	// Wrong type for channel.
	resp = h.roundTrip(protocol.CommandAcquireWaveform, map[string]any{"channel": 42})
	require.Equal(t, protocol.StatusError, resp.Status)
	require.Contains(t, resp.ErrorMessage(), "invalid params")
}

func TestWorker_HandlerErrorBecomesErrorResponse(t *testing.T) {
	h := startTestWorker(t, mockConfig())
	h.awaitReady()

	resp := h.roundTrip(protocol.CommandConfigureGenerator, map[string]any{"channel": "g9"})
	require.Equal(t, protocol.StatusError, resp.Status)
	require.Contains(t, resp.ErrorMessage(), "g9")

	resp = h.roundTrip(protocol.CommandPing, nil)
	require.Equal(t, protocol.StatusOK, resp.Status)
}

func TestWorker_SetpointFlow(t *testing.T) {
	h := startTestWorker(t, mockConfig())
	h.awaitReady()

	resp := h.roundTrip(protocol.CommandConfigureController, map[string]any{
		"channel": "pid0",
		"input":   "c0",
		"p":       0.1,
	})
	require.Equal(t, protocol.StatusOK, resp.Status)

	resp = h.roundTrip(protocol.CommandSetSetpoint, map[string]any{
		"channel": "pid0",
		"value":   0.25,
	})
	require.Equal(t, protocol.StatusOK, resp.Status)

	resp = h.roundTrip(protocol.CommandGetSetpoint, map[string]any{"channel": "pid0"})
	require.Equal(t, protocol.StatusOK, resp.Status)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "pid0", data["channel"])
	require.Equal(t, 0.25, data["value"])
}

func TestWorker_DemodulatorFlow(t *testing.T) {
	h := startTestWorker(t, mockConfig())
	h.awaitReady()

	resp := h.roundTrip(protocol.CommandDemodulatorSetup, map[string]any{
		"channel":   "dm0",
		"input":     "c0",
		"frequency": 1.0e6,
	})
	require.Equal(t, protocol.StatusOK, resp.Status)

	resp = h.roundTrip(protocol.CommandDemodulatorRead, map[string]any{"channel": "dm0"})
	require.Equal(t, protocol.StatusOK, resp.Status)

	var sample rig.DemodSample
	require.NoError(t, resp.DecodeData(&sample))
	require.Equal(t, "dm0", sample.Channel)
	require.Equal(t, 1.0e6, sample.Frequency)
}

func TestWorker_SampleChannel(t *testing.T) {
	h := startTestWorker(t, mockConfig())
	h.awaitReady()

	resp := h.roundTrip(protocol.CommandSampleChannel, map[string]any{"channel": "c0"})
	require.Equal(t, protocol.StatusOK, resp.Status)

	var sample rig.Sample
	require.NoError(t, resp.DecodeData(&sample))
	require.Equal(t, "c0", sample.Channel)
}

func TestWorker_Capabilities(t *testing.T) {
	h := startTestWorker(t, mockConfig())
	h.awaitReady()

	resp := h.roundTrip(protocol.CommandCapabilities, nil)
	require.Equal(t, protocol.StatusOK, resp.Status)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "bench-1", data["session"])
	require.Equal(t, rig.ModeMock, data["mode"])
	require.EqualValues(t, protocol.Version, data["protocol"])

	commands, ok := data["commands"].([]any)
	require.True(t, ok)
	require.Len(t, commands, 11)

	names := make([]string, 0, len(commands))
	for _, c := range commands {
		entry, ok := c.(map[string]any)
		require.True(t, ok)
		name, _ := entry["name"].(string)
		names = append(names, name)
	}
	require.Contains(t, names, protocol.CommandPing)
	require.Contains(t, names, protocol.CommandAcquireWaveform)
	require.Contains(t, names, protocol.CommandDemodulatorRead)
}

func TestWorker_ProcessesRequestsInArrivalOrder(t *testing.T) {
	h := startTestWorker(t, mockConfig())
	h.awaitReady()

	const n = 10

	var batch bytes.Buffer
	for i := range n {
		data, err := json.Marshal(protocol.Request{
			ID:      fmt.Sprintf("batch-%03d", i),
			Command: protocol.CommandPing,
		})
		require.NoError(t, err)
		batch.Write(data)
		batch.WriteByte('\n')
	}

	_, err := h.stdin.Write(batch.Bytes())
	require.NoError(t, err)

	for i := range n {
		resp, ok := protocol.ResponseFromRaw(h.next())
		require.True(t, ok)
		require.Equal(t, fmt.Sprintf("batch-%03d", i), resp.ID)
		require.Equal(t, protocol.StatusOK, resp.Status)
	}
}
