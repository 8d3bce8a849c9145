package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/openrig/rigmux/internal/protocol"
	"github.com/openrig/rigmux/internal/rig"
)

// maxLineSize is the maximum accepted length of a single request line.
const maxLineSize = 1024 * 1024 // 1MB

// State is the worker lifecycle phase.
type State int32

const (
	StateInitializing State = iota
	StateReady
	StateProcessing
	StateShuttingDown
	StateTerminated
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateProcessing:
		return "processing"
	case StateShuttingDown:
		return "shutting-down"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Config selects the session the worker owns.
type Config struct {
	// Endpoint identifies the rig, e.g. "mock://rig0".
	Endpoint string

	// Session is the human-readable session name reported in the ready event.
	Session string

	// Mock forces the mock driver regardless of endpoint scheme.
	Mock bool
}

// Worker owns one exclusive rig session and serves commands over a
// line-delimited JSON protocol. Commands are processed strictly one at a
// time in arrival order.
type Worker struct {
	cfg      Config
	log      zerolog.Logger
	mode     string
	state    atomic.Int32
	registry *Registry
}

// New creates a worker for the given session. The session is not opened
// until Run.
func New(cfg Config, log zerolog.Logger) *Worker {
	return &Worker{
		cfg: cfg,
		log: log.With().Str("component", "worker").Logger(),
	}
}

// State reports the current lifecycle phase.
func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}

// Run opens the session, emits the ready event, and serves requests from in
// until shutdown is requested, in reaches EOF, or the context is cancelled.
// Every parseable request with a correlation id receives exactly one
// response on out.
func (w *Worker) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	w.setState(StateInitializing)
	defer w.setState(StateTerminated)

	rigCfg := rig.Config{
		Endpoint: w.cfg.Endpoint,
		Session:  w.cfg.Session,
		Mock:     w.cfg.Mock,
		Logger:   w.log,
	}
	w.mode = rigCfg.Mode()

	provider, err := rig.Open(rigCfg)
	if err != nil {
		w.writeFatal(out, err)
		return fmt.Errorf("open rig: %w", err)
	}

	if err := provider.Initialize(ctx); err != nil {
		w.writeFatal(out, err)
		return fmt.Errorf("initialize rig: %w", err)
	}

	defer func() {
		if cerr := provider.Close(); cerr != nil {
			w.log.Warn().Err(cerr).Msg("Session close failed")
		}
	}()

	registry, err := w.buildRegistry(provider)
	if err != nil {
		w.writeFatal(out, err)
		return fmt.Errorf("build command registry: %w", err)
	}
	w.registry = registry

	ready := &protocol.Event{
		Event:    protocol.EventReady,
		Session:  w.cfg.Session,
		Mode:     w.mode,
		Protocol: protocol.Version,
	}
	if err := w.writeJSON(out, ready); err != nil {
		return fmt.Errorf("write ready event: %w", err)
	}

	w.setState(StateReady)
	w.log.Info().
		Str("session", w.cfg.Session).
		Str("mode", w.mode).
		Int("commands", registry.Len()).
		Msg("Session ready")

	return w.serve(ctx, in, out)
}

// serve is the dispatch loop. It never processes two requests concurrently.
func (w *Worker) serve(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	buf := make([]byte, maxLineSize)
	scanner.Buffer(buf, maxLineSize)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			w.setState(StateShuttingDown)
			w.log.Info().Msg("Context cancelled, shutting down")

			return ctx.Err()
		default:
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var req protocol.Request
		if err := json.Unmarshal(line, &req); err != nil {
			w.log.Warn().Err(err).Str("line", logSnippet(line)).Msg("Discarding unparseable request")
			continue
		}

		if req.ID == "" {
			w.log.Warn().Str("command", req.Command).Msg("Discarding request without correlation id")
			continue
		}

		w.setState(StateProcessing)
		resp := w.handle(ctx, &req)

		if err := w.writeResponse(out, resp); err != nil {
			w.setState(StateShuttingDown)

			return fmt.Errorf("write response: %w", err)
		}

		// The shutdown ack is written before the session is torn down so
		// the manager never waits on a dead pipe.
		if req.Command == protocol.CommandShutdown && resp.Status == protocol.StatusOK {
			w.setState(StateShuttingDown)
			w.log.Info().Msg("Shutdown acknowledged, exiting")

			return nil
		}

		w.setState(StateReady)
	}

	if err := scanner.Err(); err != nil {
		w.setState(StateShuttingDown)

		return fmt.Errorf("read requests: %w", err)
	}

	// EOF on stdin means the manager is gone. Treat it as shutdown.
	w.setState(StateShuttingDown)
	w.log.Info().Msg("Stdin closed, shutting down")

	return nil
}

// handle runs one request through the registry and folds any failure into
// an error-status response.
func (w *Worker) handle(ctx context.Context, req *protocol.Request) *protocol.Response {
	w.log.Debug().Str("id", req.ID).Str("command", req.Command).Msg("Dispatching command")

	if req.Command == "" {
		return &protocol.Response{ID: req.ID, Status: protocol.StatusError, Data: "empty command name"}
	}

	result, err := w.registry.Dispatch(ctx, req.Command, req.Params)
	if err != nil {
		w.log.Warn().Err(err).Str("id", req.ID).Str("command", req.Command).Msg("Command failed")

		return &protocol.Response{ID: req.ID, Status: protocol.StatusError, Data: err.Error()}
	}

	return &protocol.Response{ID: req.ID, Status: protocol.StatusOK, Data: result}
}

// writeResponse serializes one response line. If the payload itself cannot
// be serialized the caller still gets an error-status response, so the
// request is never left pending.
func (w *Worker) writeResponse(out io.Writer, resp *protocol.Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		w.log.Error().Err(err).Str("id", resp.ID).Msg("Response payload not serializable")

		fallback := &protocol.Response{
			ID:     resp.ID,
			Status: protocol.StatusError,
			Data:   fmt.Sprintf("encode response: %v", err),
		}

		data, err = json.Marshal(fallback)
		if err != nil {
			return fmt.Errorf("encode fallback response: %w", err)
		}
	}

	data = append(data, '\n')
	_, err = out.Write(data)

	return err
}

func (w *Worker) writeJSON(out io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	data = append(data, '\n')
	_, err = out.Write(data)

	return err
}

// writeFatal emits a best-effort fatal event. Startup is already failing,
// so a write error here is only logged.
func (w *Worker) writeFatal(out io.Writer, cause error) {
	event := &protocol.Event{
		Event: protocol.EventFatal,
		Error: cause.Error(),
	}
	if err := w.writeJSON(out, event); err != nil {
		w.log.Error().Err(err).Msg("Failed to write fatal event")
	}
}

// logSnippet caps a raw line for log output.
func logSnippet(line []byte) string {
	const maxLogLine = 200
	if len(line) <= maxLogLine {
		return string(line)
	}

	return string(line[:maxLogLine]) + "..."
}
