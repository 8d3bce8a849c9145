package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/openrig/rigmux/internal/errors"
)

// Version is the wire protocol version. The manager checks it against the
// worker binary during discovery and the worker reports it in the ready
// event, so a stale binary is rejected before any command is issued.
const Version = 1

// Response status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Reserved command names handled by the worker itself rather than a
// hardware module.
const (
	CommandPing         = "ping"
	CommandShutdown     = "shutdown"
	CommandCapabilities = "capabilities"
)

// Hardware command names.
const (
	CommandConfigureGenerator  = "configure-generator"
	CommandConfigureController = "configure-controller-channel"
	CommandSetSetpoint         = "set-channel-setpoint"
	CommandGetSetpoint         = "get-channel-setpoint"
	CommandDemodulatorSetup    = "demodulator-setup"
	CommandDemodulatorRead     = "demodulator-read"
	CommandAcquireWaveform     = "acquire-waveform"
	CommandSampleChannel       = "sample-channel"
)

// Lifecycle event names emitted by the worker on stdout.
const (
	EventReady = "ready"
	EventFatal = "fatal"
)

// Request is a single command sent to the worker.
//
// Wire format, one JSON object per line:
//
//	{"id": "01JF8...", "command": "acquire-waveform", "params": {"channel": "c1", "length": 1024}}
//
// The id is a ULID generated per send and echoed back in the matching
// Response. Params may be nil for commands that take none.
type Request struct {
	ID      string         `json:"id"`
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// Response is the worker's answer to exactly one Request.
//
// Wire format for success:
//
//	{"id": "01JF8...", "status": "ok", "data": {...}}
//
// Wire format for failure:
//
//	{"id": "01JF8...", "status": "error", "data": "description of what went wrong"}
//
// Every request produces exactly one response. Failures inside a handler
// are responses with status "error", not protocol breakdowns.
type Response struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Data   any    `json:"data"`
}

// IsError reports whether the response carries an error status.
func (r *Response) IsError() bool {
	return r.Status == StatusError
}

// ErrorMessage extracts the description from an error response.
func (r *Response) ErrorMessage() string {
	if !r.IsError() {
		return ""
	}

	if s, ok := r.Data.(string); ok {
		return s
	}

	return fmt.Sprintf("%v", r.Data)
}

// Err converts an error-status response into a *errors.CommandError
// attributed to the given command name, or nil for a success response.
// The command name is not echoed on the wire, so the caller supplies it.
func (r *Response) Err(command string) error {
	if !r.IsError() {
		return nil
	}

	return &errors.CommandError{Command: command, Message: r.ErrorMessage()}
}

// DataString returns the payload as a string, or "" if it is not one.
func (r *Response) DataString() string {
	if s, ok := r.Data.(string); ok {
		return s
	}

	return ""
}

// DecodeData unmarshals the response payload into v via a JSON round trip.
// Payloads arrive as map[string]any; this converts them into typed structs.
func (r *Response) DecodeData(v any) error {
	raw, err := json.Marshal(r.Data)
	if err != nil {
		return fmt.Errorf("marshal response data: %w", err)
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("unmarshal response data: %w", err)
	}

	return nil
}

// Event is a lifecycle notification emitted by the worker outside the
// request/response cycle.
//
// Wire format:
//
//	{"event": "ready", "session": "rig0", "mode": "mock", "protocol": 1}
//	{"event": "fatal", "error": "session open failed: device busy"}
//
// "ready" is emitted exactly once after session bring-up succeeds.
// "fatal" is emitted when bring-up fails; the worker exits non-zero
// immediately after.
type Event struct {
	Event    string `json:"event"`
	Session  string `json:"session,omitempty"`
	Mode     string `json:"mode,omitempty"`
	Protocol int    `json:"protocol,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Capabilities describes a worker session and its command catalog. It is
// the payload of the reserved capabilities command.
type Capabilities struct {
	Session  string              `json:"session"`
	Mode     string              `json:"mode"`
	Protocol int                 `json:"protocol"`
	Commands []CommandDescriptor `json:"commands"`
}

// CommandDescriptor is one catalog entry: a command name, what it does, and
// the JSON schema its params must satisfy.
type CommandDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Params      map[string]any `json:"params,omitempty"`
}

// ResponseFromRaw builds a Response from a decoded wire object. The second
// return is false when the object carries no id, meaning it is not a
// response at all.
func ResponseFromRaw(msg map[string]any) (*Response, bool) {
	id, ok := msg["id"].(string)
	if !ok || id == "" {
		return nil, false
	}

	status, _ := msg["status"].(string)

	return &Response{ID: id, Status: status, Data: msg["data"]}, true
}

// EventFromRaw builds an Event from a decoded wire object. The second
// return is false when the object carries no event name.
func EventFromRaw(msg map[string]any) (*Event, bool) {
	name, ok := msg["event"].(string)
	if !ok || name == "" {
		return nil, false
	}

	ev := &Event{Event: name}

	if s, ok := msg["session"].(string); ok {
		ev.Session = s
	}

	if s, ok := msg["mode"].(string); ok {
		ev.Mode = s
	}

	if p, ok := msg["protocol"].(float64); ok {
		ev.Protocol = int(p)
	}

	if s, ok := msg["error"].(string); ok {
		ev.Error = s
	}

	return ev, true
}
