package protocol

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/openrig/rigmux/internal/errors"
)

// Transport defines the minimal interface needed for protocol operations.
//
// This interface is satisfied by the subprocess WorkerTransport but allows
// for testing with mock transports.
type Transport interface {
	ReadMessages(ctx context.Context) (<-chan map[string]any, <-chan error)
	SendMessage(ctx context.Context, data []byte) error
}

// Router multiplexes concurrent callers over the worker's serial channel.
//
// The Router handles:
//   - Sending requests tagged with unique correlation ids
//   - Receiving responses and routing each to its waiting caller
//   - Per-command timeout enforcement
//   - Surfacing worker lifecycle events (ready, fatal)
//
// A Router is bound to one worker instance: it is started once with Start()
// and stopped once with Stop(). Restarting a worker means constructing a
// fresh Router, so a previous stop can never disable future routing.
type Router struct {
	log       *slog.Logger
	transport Transport

	// Pending-command table. Each entry holds a buffered one-shot channel;
	// the response listener claims an entry by deleting it under the lock
	// before signalling, and the timeout/cancel paths delete their own
	// entry, so every entry is removed exactly once.
	pendingMu sync.RWMutex
	pending   map[string]*pendingCommand

	// Lifecycle events from the worker (ready, fatal)
	events chan Event

	// Fatal error handling - stores error and broadcasts via done channel
	errMu    sync.RWMutex
	fatalErr error

	// Lifecycle management
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// pendingCommand tracks an outgoing request awaiting its response.
type pendingCommand struct {
	command  string
	response chan *Response
	deadline time.Time
}

// NewRouter creates a response router over the given transport.
//
// The logger receives debug, info, warn, and error messages during protocol
// operations. The transport must be connected before calling Start().
func NewRouter(log *slog.Logger, transport Transport) *Router {
	return &Router{
		log:       log.With("component", "router"),
		transport: transport,
		pending:   make(map[string]*pendingCommand, 16),
		events:    make(chan Event, 8),
		done:      make(chan struct{}),
	}
}

// closeDone safely closes the done channel exactly once.
func (r *Router) closeDone() {
	r.closeOnce.Do(func() {
		close(r.done)
	})
}

// SetFatalError stores a fatal error and broadcasts to all waiters by closing done.
func (r *Router) SetFatalError(err error) {
	r.errMu.Lock()

	if r.fatalErr == nil {
		r.fatalErr = err
	}

	r.errMu.Unlock()

	r.closeDone()
}

// FatalError returns the fatal error if one occurred.
func (r *Router) FatalError() error {
	r.errMu.RLock()
	defer r.errMu.RUnlock()

	return r.fatalErr
}

// Done returns a channel that is closed when the router stops.
func (r *Router) Done() <-chan struct{} {
	return r.done
}

// Events returns the channel carrying worker lifecycle events.
//
// The channel is closed when the router stops. Intended for a single
// consumer: the manager waits on it for the ready event during startup and
// drains it afterwards.
func (r *Router) Events() <-chan Event {
	return r.events
}

// PendingCount reports the number of commands awaiting responses.
func (r *Router) PendingCount() int {
	r.pendingMu.RLock()
	defer r.pendingMu.RUnlock()

	return len(r.pending)
}

// Start begins reading messages from the transport and routing responses.
//
// This method spawns the response listener goroutine. The goroutine stops
// when the context is cancelled, the transport closes, or Stop is called.
func (r *Router) Start(ctx context.Context) error {
	r.log.Debug("Starting response router")

	messages, errs := r.transport.ReadMessages(ctx)

	r.wg.Add(1)

	go r.readLoop(ctx, messages, errs)

	r.log.Info("Response router started")

	return nil
}

// Stop shuts down the router and wakes every waiting caller.
//
// Safe to call multiple times. Waiters observe the done channel and clean
// up their own pending entries, so the table drains to zero.
func (r *Router) Stop() {
	r.log.Debug("Stopping response router")

	r.closeDone()
	r.wg.Wait()
	r.log.Info("Response router stopped")
}

// Send transmits a command and blocks until its response arrives, the
// timeout expires, the router stops, or ctx is cancelled.
//
// The correlation id is generated here and never reused. Error-status
// responses are returned as responses, not Go errors; callers decide how to
// surface them. Send fails with a Go error only for systemic conditions:
// transport failure, timeout, dead worker, cancellation.
func (r *Router) Send(
	ctx context.Context,
	command string,
	params map[string]any,
	timeout time.Duration,
) (*Response, error) {
	id := ulid.Make().String()

	r.log.Debug("Sending command", "id", id, "command", command)

	responseChan := make(chan *Response, 1)
	pending := &pendingCommand{
		command:  command,
		response: responseChan,
		deadline: time.Now().Add(timeout),
	}

	r.pendingMu.Lock()
	r.pending[id] = pending
	r.pendingMu.Unlock()

	req := &Request{ID: id, Command: command, Params: params}

	data, err := json.Marshal(req)
	if err != nil {
		r.removePending(id)
		r.log.Error("Failed to marshal request", "error", err)

		return nil, fmt.Errorf("marshal request: %w", err)
	}

	if err := r.transport.SendMessage(ctx, data); err != nil {
		r.removePending(id)
		r.log.Error("Failed to send request", "id", id, "error", err)

		if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		return nil, &errors.ConnectionError{Err: fmt.Errorf("send request: %w", err)}
	}

	r.log.Debug("Command sent, waiting for response", "id", id)

	select {
	case resp := <-responseChan:
		// Entry already claimed and removed by the listener
		r.log.Debug("Received response", "id", id, "status", resp.Status)

		return resp, nil

	case <-r.done:
		// Router stopped (possibly due to transport error) - fail fast
		r.removePending(id)

		if err := r.FatalError(); err != nil {
			r.log.Warn("Worker failed during command", "id", id, "error", err)

			return nil, &errors.ConnectionError{Err: err}
		}

		r.log.Debug("Router stopped during command", "id", id)

		return nil, &errors.ConnectionError{Err: errors.ErrRouterStopped}

	case <-time.After(timeout):
		r.removePending(id)

		r.log.Warn("Command timed out", "id", id, "command", command, "timeout", timeout)

		return nil, &errors.TimeoutError{Command: command, Timeout: timeout}

	case <-ctx.Done():
		r.removePending(id)

		r.log.Debug("Command cancelled", "id", id)

		return nil, ctx.Err()
	}
}

// removePending deletes a pending entry owned by an exiting Send call.
func (r *Router) removePending(id string) {
	r.pendingMu.Lock()
	delete(r.pending, id)
	r.pendingMu.Unlock()
}

// readLoop is the response listener: it drains the transport and routes
// each message to its waiting caller.
func (r *Router) readLoop(
	ctx context.Context,
	messages <-chan map[string]any,
	errs <-chan error,
) {
	defer r.wg.Done()
	defer close(r.events)
	// Once the listener exits no response can ever be routed again, so
	// every waiting caller is woken rather than left to its timeout.
	defer r.closeDone()
	defer r.log.Debug("Response listener stopped")

	// A closed channel is nilled out rather than ending the loop, so a
	// final response or the transport's terminal error buffered on the
	// other channel is still drained before the router goes down.
	for messages != nil || errs != nil {
		select {
		case msg, ok := <-messages:
			if !ok {
				r.log.Debug("Message channel closed")
				messages = nil

				continue
			}

			r.handleMessage(ctx, msg)

		case err, ok := <-errs:
			if !ok {
				r.log.Debug("Error channel closed")
				errs = nil

				continue
			}

			if err == nil {
				continue
			}

			// Undecodable lines are recoverable: log and keep routing.
			if decErr, ok := stderrors.AsType[*errors.DecodeError](err); ok {
				r.log.Warn("Dropping undecodable worker output", "raw", decErr.RawData)

				continue
			}

			r.log.Debug("Transport error in router", "error", err)
			r.SetFatalError(err)

			return

		case <-r.done:
			r.log.Debug("Router stop signal received")

			return

		case <-ctx.Done():
			r.log.Debug("Context cancelled in response listener")

			return
		}
	}
}

// handleMessage routes a message by shape: an id marks a response, an
// event name marks a lifecycle event, anything else is dropped.
func (r *Router) handleMessage(ctx context.Context, msg map[string]any) {
	if resp, ok := ResponseFromRaw(msg); ok {
		r.routeResponse(resp)

		return
	}

	if ev, ok := EventFromRaw(msg); ok {
		r.handleEvent(ctx, ev)

		return
	}

	r.log.Warn("Dropping message with neither id nor event", "message", msg)
}

// routeResponse delivers a response to the caller waiting on its id.
func (r *Router) routeResponse(resp *Response) {
	// Find and claim the pending entry atomically
	r.pendingMu.Lock()

	pending, exists := r.pending[resp.ID]
	if exists {
		delete(r.pending, resp.ID)
	}

	r.pendingMu.Unlock()

	if !exists {
		// Late arrival after the caller timed out, or a duplicate. Normal.
		r.log.Debug("No pending command for response", "id", resp.ID)

		return
	}

	// We own the entry now; the channel is buffered so this never blocks.
	pending.response <- resp
}

// handleEvent surfaces a worker lifecycle event to the manager.
func (r *Router) handleEvent(ctx context.Context, ev *Event) {
	r.log.Debug("Worker event", "event", ev.Event)

	select {
	case r.events <- *ev:
	case <-r.done:
	case <-ctx.Done():
	}
}
