package manager

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openrig/rigmux/internal/config"
	"github.com/openrig/rigmux/internal/errors"
	"github.com/openrig/rigmux/internal/protocol"
	"github.com/openrig/rigmux/internal/subprocess"
)

// Per-operation timeouts for the typed helpers. An explicitly configured
// CommandTimeout overrides all of them; raw SendCommand uses the configured
// default instead.
const (
	// startupPingTimeout bounds the liveness check at the end of StartWorker.
	startupPingTimeout = 5 * time.Second

	// aliveTimeout bounds the Alive probe.
	aliveTimeout = 2 * time.Second

	// shutdownAckTimeout bounds the wait for the worker to acknowledge the
	// shutdown command before falling back to EOF and then the kill path.
	shutdownAckTimeout = 5 * time.Second

	pingTimeout         = 5 * time.Second
	capabilitiesTimeout = 5 * time.Second
	configureTimeout    = 10 * time.Second
	setpointTimeout     = 5 * time.Second
	readTimeout         = 10 * time.Second
	sampleTimeout       = 5 * time.Second

	// acquireTimeout covers the deepest capture: 16384 samples at maximum
	// decimation is several seconds of wall-clock acquisition.
	acquireTimeout = 60 * time.Second
)

// Manager owns at most one worker process and multiplexes commands to it.
//
// StartWorker and Shutdown are idempotent and may be called in any order;
// a manager whose worker was shut down can start a fresh one. Commands may
// be sent from any number of goroutines concurrently.
type Manager struct {
	log     *slog.Logger
	options *config.Options

	// mu serializes StartWorker and Shutdown so two lifecycle operations
	// can never interleave and race for the hardware session.
	mu sync.Mutex

	// stateMu guards the handle pointer for the fast path in SendCommand.
	stateMu sync.RWMutex
	w       *workerHandle
}

// workerHandle bundles everything belonging to one worker generation. A
// restart builds a whole new handle, so nothing from a dead worker can
// route into a live one.
type workerHandle struct {
	transport config.Transport
	router    *protocol.Router
	cancel    context.CancelFunc
	eg        *errgroup.Group

	session string
	mode    string
}

// New creates a manager with the given options. Nil options select all
// defaults: mock endpoint, discovered worker binary, silent logging.
func New(options *config.Options) *Manager {
	if options == nil {
		options = &config.Options{}
	}

	log := options.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Manager{
		log:     log.With("component", "manager"),
		options: options,
	}
}

// handle returns the current worker generation, or nil when none runs.
func (m *Manager) handle() *workerHandle {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()

	return m.w
}

// Running reports whether a worker is currently attached. It says nothing
// about process health; use Alive for a round-trip check.
func (m *Manager) Running() bool {
	return m.handle() != nil
}

// Session returns the session name reported by the running worker, or ""
// when none runs.
func (m *Manager) Session() string {
	if w := m.handle(); w != nil {
		return w.session
	}

	return ""
}

// Mode returns the operating mode ("mock" or "hardware") reported by the
// running worker, or "" when none runs.
func (m *Manager) Mode() string {
	if w := m.handle(); w != nil {
		return w.mode
	}

	return ""
}

// PendingCommands reports how many sent commands are still awaiting their
// responses.
func (m *Manager) PendingCommands() int {
	if w := m.handle(); w != nil {
		return w.router.PendingCount()
	}

	return 0
}

// StartWorker spawns the worker process, waits for its ready event, and
// verifies it answers a ping. Calling it while a worker is already running
// is a no-op.
//
// The context bounds startup only; the worker outlives the call.
func (m *Manager) StartWorker(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handle() != nil {
		m.log.Debug("Worker already running, ignoring start")

		return nil
	}

	w, err := m.start(ctx)
	if err != nil {
		return err
	}

	m.stateMu.Lock()
	m.w = w
	m.stateMu.Unlock()

	m.log.Info("Worker ready", "session", w.session, "mode", w.mode)

	return nil
}

// start brings up one worker generation: transport, router, ready event,
// liveness check. On any failure everything built so far is torn down.
func (m *Manager) start(ctx context.Context) (*workerHandle, error) {
	transport := m.options.Transport
	if transport == nil {
		transport = subprocess.NewWorkerTransport(m.log, m.options)
	}

	if err := transport.Start(ctx); err != nil {
		return nil, fmt.Errorf("start worker transport: %w", err)
	}

	// The router must keep routing after StartWorker returns, so its
	// lifetime is bound to the worker generation, not the caller's context.
	runCtx, cancel := context.WithCancel(context.Background())

	router := protocol.NewRouter(m.log, transport)

	fail := func(err error) (*workerHandle, error) {
		cancel()

		if cerr := transport.Close(); cerr != nil {
			m.log.Warn("Transport close failed during startup cleanup", "error", cerr)
		}

		router.Stop()

		return nil, err
	}

	if err := router.Start(runCtx); err != nil {
		return fail(fmt.Errorf("start router: %w", err))
	}

	ready, err := m.awaitReady(ctx, router)
	if err != nil {
		return fail(err)
	}

	if ready.Protocol != 0 && ready.Protocol != protocol.Version {
		return fail(&errors.WorkerStartError{
			Reason: fmt.Sprintf("protocol mismatch: worker speaks %d, manager expects %d",
				ready.Protocol, protocol.Version),
		})
	}

	resp, err := router.Send(ctx, protocol.CommandPing, nil, startupPingTimeout)
	if err != nil {
		return fail(&errors.WorkerStartError{
			Reason: fmt.Sprintf("liveness check failed: %v", err),
		})
	}

	if resp.IsError() || resp.DataString() != "pong" {
		return fail(&errors.WorkerStartError{
			Reason: fmt.Sprintf("unexpected ping reply: %v", resp.Data),
		})
	}

	w := &workerHandle{
		transport: transport,
		router:    router,
		cancel:    cancel,
		session:   ready.Session,
		mode:      ready.Mode,
	}

	w.eg, _ = errgroup.WithContext(context.Background())
	w.eg.Go(func() error {
		m.drainEvents(runCtx, router)

		return nil
	})

	return w, nil
}

// awaitReady blocks until the worker announces itself, fails fatally, dies,
// or the startup timeout passes.
func (m *Manager) awaitReady(ctx context.Context, router *protocol.Router) (*protocol.Event, error) {
	timeout := m.options.EffectiveStartupTimeout()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-router.Events():
			if !ok {
				return nil, m.startFailure(router)
			}

			switch ev.Event {
			case protocol.EventReady:
				return &ev, nil

			case protocol.EventFatal:
				return nil, &errors.WorkerStartError{Reason: ev.Error}

			default:
				m.log.Debug("Ignoring event before ready", "event", ev.Event)
			}

		case <-router.Done():
			// The worker can emit a fatal event just before dying; prefer
			// its message over a generic exit error.
			select {
			case ev, ok := <-router.Events():
				if ok && ev.Event == protocol.EventFatal {
					return nil, &errors.WorkerStartError{Reason: ev.Error}
				}
			default:
			}

			return nil, m.startFailure(router)

		case <-timer.C:
			return nil, &errors.WorkerStartError{
				Reason: fmt.Sprintf("no ready event within %s", timeout),
			}

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// startFailure explains a worker that died before reporting ready.
func (m *Manager) startFailure(router *protocol.Router) error {
	err := router.FatalError()
	if err == nil {
		return &errors.WorkerStartError{Reason: "worker exited before ready"}
	}

	if procErr, ok := stderrors.AsType[*errors.ProcessError](err); ok {
		return &errors.WorkerStartError{
			Reason: "worker exited before ready",
			Stderr: procErr.Stderr,
		}
	}

	return &errors.WorkerStartError{Reason: err.Error()}
}

// drainEvents consumes lifecycle events after startup so the router never
// blocks on its event channel. Post-ready events are log-only.
func (m *Manager) drainEvents(ctx context.Context, router *protocol.Router) {
	for {
		select {
		case ev, ok := <-router.Events():
			if !ok {
				return
			}

			if ev.Event == protocol.EventFatal {
				m.log.Error("Worker reported fatal error", "error", ev.Error)
			} else {
				m.log.Debug("Worker event", "event", ev.Event)
			}

		case <-ctx.Done():
			return
		}
	}
}

// SendCommand sends a raw command and waits for its response.
//
// A zero timeout means the configured default. Error-status responses are
// returned as responses with a nil error; a non-nil error means the command
// never completed: no worker, transport failure, timeout, or cancellation.
func (m *Manager) SendCommand(
	ctx context.Context,
	command string,
	params map[string]any,
	timeout time.Duration,
) (*protocol.Response, error) {
	if command == "" {
		return nil, errors.ErrEmptyCommand
	}

	w := m.handle()
	if w == nil {
		return nil, &errors.ConnectionError{Err: errors.ErrNoWorker}
	}

	if timeout <= 0 {
		timeout = m.options.EffectiveCommandTimeout()
	}

	return w.router.Send(ctx, command, params, timeout)
}

// Shutdown stops the running worker: ask politely, wait out the grace
// period, then kill. Calling it with no worker running is a no-op.
//
// New commands fail with ErrNoWorker as soon as Shutdown begins; commands
// already in flight either complete or are woken with a connection error
// when the router stops.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stateMu.Lock()
	w := m.w
	m.w = nil
	m.stateMu.Unlock()

	if w == nil {
		m.log.Debug("Shutdown requested with no worker running")

		return nil
	}

	m.log.Info("Shutting down worker", "session", w.session)

	if resp, err := w.router.Send(ctx, protocol.CommandShutdown, nil, shutdownAckTimeout); err != nil {
		m.log.Warn("Shutdown command failed", "error", err)
	} else if resp.IsError() {
		m.log.Warn("Shutdown command rejected", "error", resp.ErrorMessage())
	}

	// Closing stdin gives a wedged worker a second exit path via EOF.
	if err := w.transport.EndInput(); err != nil {
		m.log.Debug("Closing worker input failed", "error", err)
	}

	forced := false

	if err := m.awaitExit(ctx, w); err != nil {
		m.log.Warn("Worker did not exit in time, killing it", "error", err)

		forced = true
	}

	// Close reaps the process if it exited and kills it if it did not.
	closeErr := w.transport.Close()

	w.cancel()
	w.router.Stop()

	if err := w.eg.Wait(); err != nil && closeErr == nil {
		closeErr = err
	}

	if closeErr != nil {
		return fmt.Errorf("shutdown worker: %w", closeErr)
	}

	if forced {
		m.log.Info("Worker killed")
	} else {
		m.log.Info("Worker exited cleanly")
	}

	return nil
}

// awaitExit waits out the shutdown grace period. The router's done channel
// closes only after the transport has drained the worker's output and
// reaped the process, so it doubles as the exit signal for any transport.
func (m *Manager) awaitExit(ctx context.Context, w *workerHandle) error {
	grace := m.options.EffectiveShutdownGrace()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-w.router.Done():
		return nil

	case <-timer.C:
		return fmt.Errorf("worker still running after %s", grace)

	case <-ctx.Done():
		return ctx.Err()
	}
}
