// Package manager runs the client side of the worker protocol: it spawns
// the worker process, waits for its ready event, routes concurrent commands
// through the response router, and tears the worker down again.
//
// A Manager owns at most one worker at a time. Lifecycle operations are
// idempotent, and after Shutdown a new worker can be started on the same
// Manager; each generation gets its own transport and router so nothing
// from a dead worker leaks into a live one.
package manager
