// Package rigmux arbitrates access to a single piece of lab hardware
// through an isolated worker process.
//
// Exactly one worker owns the hardware session at a time. The manager
// starts the worker, exchanges line-delimited JSON commands with it over
// stdin/stdout, and routes responses back to concurrent callers by
// correlation id. When the worker dies or is shut down, every pending
// command fails promptly and a fresh worker can be started in its place.
//
// # Basic Usage
//
//	m := rigmux.NewManager()
//	if err := m.StartWorker(ctx, rigmux.WithMock(true)); err != nil {
//		log.Fatal(err)
//	}
//	defer m.Shutdown(ctx)
//
//	if err := m.ConfigureGenerator(ctx, rigmux.GeneratorConfig{
//		Channel:   "g0",
//		Enabled:   true,
//		Waveform:  rigmux.WaveformSine,
//		Frequency: 1000.0,
//		Amplitude: 0.5,
//	}); err != nil {
//		log.Fatal(err)
//	}
//
//	wf, err := m.AcquireWaveform(ctx, "c0", 1024, 0)
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(len(wf.Voltage), "samples")
//
// For short-lived programs, WithManager handles the start/shutdown
// bracket:
//
//	err := rigmux.WithManager(ctx, func(m rigmux.Manager) error {
//		return m.Ping(ctx)
//	}, rigmux.WithMock(true))
//
// # Raw Commands
//
// The typed helpers cover the built-in command set. Anything else goes
// through SendCommand, which returns the worker's response envelope
// without interpreting it:
//
//	resp, err := m.SendCommand(ctx, "capabilities", nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if resp.IsError() {
//		log.Fatal(resp.ErrorMessage())
//	}
//
// A transport failure is a Go error; a command the worker rejected is a
// response with Status "error". SendCommand only returns an error for
// the former.
//
// # Error Handling
//
// Errors are typed. Sentinels such as ErrNoWorker and ErrCommandTimeout
// work with errors.Is; structured kinds such as WorkerStartError and
// CommandError work with errors.As:
//
//	if err := m.Ping(ctx); err != nil {
//		var cmdErr *rigmux.CommandError
//		switch {
//		case errors.Is(err, rigmux.ErrNoWorker):
//			// start a worker first
//		case errors.Is(err, rigmux.ErrCommandTimeout):
//			// worker alive but slow
//		case errors.As(err, &cmdErr):
//			log.Printf("worker rejected %s: %s", cmdErr.Command, cmdErr.Message)
//		}
//	}
//
// # Requirements
//
// The manager launches the rigmux-worker binary, looked up in
// $RIGMUX_WORKER, on PATH, and in common install directories unless
// WithWorkerPath overrides it. Build it from cmd/rigmux-worker. Mock
// mode needs no hardware; hardware mode needs a reachable rig endpoint.
package rigmux
