// Package worker implements the session-owning process that serves rig
// commands over line-delimited JSON on stdin/stdout.
//
// One worker owns exactly one rig session for its entire lifetime. Requests
// are dispatched strictly one at a time in arrival order, so hardware access
// never needs locking. Each parseable request with a correlation id receives
// exactly one response; handler failures and panics become error-status
// responses rather than process exits.
//
// The lifecycle on stdout is: a single "ready" event after session bring-up
// (or a "fatal" event and a non-zero exit if bring-up fails), then response
// lines until a shutdown command is acknowledged or stdin reaches EOF.
package worker
