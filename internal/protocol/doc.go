// Package protocol implements the wire protocol spoken with the worker process.
//
// The protocol package defines the line-delimited JSON wire types (Request,
// Response, Event) and provides a Router that multiplexes concurrent callers
// over the worker's serial command channel using correlation ids.
//
// The Router handles:
//   - Sending requests tagged with unique ULID correlation ids
//   - Receiving responses and routing each to the caller that sent its request
//   - Per-command timeout enforcement
//   - Surfacing worker lifecycle events (ready, fatal) to the manager
//
// Example usage:
//
//	transport := subprocess.NewWorkerTransport(log, cfg)
//	transport.Start(ctx)
//
//	router := protocol.NewRouter(log, transport)
//	router.Start(ctx)
//
//	// Send a command with timeout
//	resp, err := router.Send(ctx, "ping", nil, 5*time.Second)
package protocol
