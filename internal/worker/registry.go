package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/openrig/rigmux/internal/protocol"
)

// Handler executes one command against the session. The returned payload
// becomes the response data; an error becomes an error-status response.
type Handler func(ctx context.Context, params map[string]any) (any, error)

// Command describes one entry in the worker's dispatch table.
type Command struct {
	Name        string
	Description string

	// Params is the JSON schema the request params must satisfy before the
	// handler runs. Nil means the command takes no params (any are ignored).
	Params *jsonschema.Schema

	Handler Handler
}

// registeredCommand pairs a command with its resolved schema.
type registeredCommand struct {
	def      Command
	resolved *jsonschema.Resolved
}

// Registry is the dispatch table mapping command names to handlers.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	commands map[string]*registeredCommand
}

// NewRegistry creates an empty dispatch table.
func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]*registeredCommand, 16),
	}
}

// Register adds a command to the table. The params schema is resolved once
// here so dispatch-time validation is cheap.
func (r *Registry) Register(cmd Command) error {
	if cmd.Name == "" {
		return fmt.Errorf("register command: empty name")
	}

	if cmd.Handler == nil {
		return fmt.Errorf("register command %s: nil handler", cmd.Name)
	}

	var (
		resolved *jsonschema.Resolved
		err      error
	)

	if cmd.Params != nil {
		resolved, err = cmd.Params.Resolve(nil)
		if err != nil {
			return fmt.Errorf("register command %s: resolve schema: %w", cmd.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.commands[cmd.Name]; dup {
		return fmt.Errorf("register command %s: already registered", cmd.Name)
	}

	r.commands[cmd.Name] = &registeredCommand{def: cmd, resolved: resolved}
	r.order = append(r.order, cmd.Name)

	return nil
}

// Dispatch validates params and runs the named command's handler. Unknown
// commands, schema violations, handler errors, and handler panics all come
// back as plain errors for the loop to wrap into error-status responses.
func (r *Registry) Dispatch(ctx context.Context, name string, params map[string]any) (result any, err error) {
	r.mu.RLock()
	rc, ok := r.commands[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unrecognized command: %s", name)
	}

	if params == nil {
		params = map[string]any{}
	}

	if rc.resolved != nil {
		if verr := rc.resolved.Validate(params); verr != nil {
			return nil, fmt.Errorf("invalid params for %s: %v", name, verr)
		}
	}

	// A panic in one handler must never take down the dispatch loop.
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = fmt.Errorf("handler for %s panicked: %v", name, rec)
		}
	}()

	return rc.def.Handler(ctx, params)
}

// Catalog lists the registered commands in registration order, with their
// params schemas rendered as plain maps.
func (r *Registry) Catalog() []protocol.CommandDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]protocol.CommandDescriptor, 0, len(r.order))

	for _, name := range r.order {
		rc := r.commands[name]
		info := protocol.CommandDescriptor{
			Name:        rc.def.Name,
			Description: rc.def.Description,
		}

		if rc.def.Params != nil {
			schemaData, err := json.Marshal(rc.def.Params)
			if err == nil {
				var schemaMap map[string]any
				if json.Unmarshal(schemaData, &schemaMap) == nil {
					info.Params = schemaMap
				}
			}
		}

		result = append(result, info)
	}

	return result
}

// Len reports the number of registered commands.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.commands)
}

// objectSchema builds an object schema from property type names, marking
// the listed names as required.
//
// Type mappings:
//   - "string"           → {"type": "string"}
//   - "int", "int64"     → {"type": "integer"}
//   - "float64", "float" → {"type": "number"}
//   - "bool"             → {"type": "boolean"}
func objectSchema(props map[string]string, required ...string) *jsonschema.Schema {
	properties := make(map[string]*jsonschema.Schema, len(props))
	for name, goType := range props {
		properties[name] = typeSchema(goType)
	}

	return &jsonschema.Schema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}

// typeSchema converts a Go type name to a JSON Schema type.
func typeSchema(goType string) *jsonschema.Schema {
	switch goType {
	case "string":
		return &jsonschema.Schema{Type: "string"}
	case "int", "int8", "int16", "int32", "int64", "uint", "uint8", "uint16", "uint32", "uint64":
		return &jsonschema.Schema{Type: "integer"}
	case "float32", "float64", "float", "number":
		return &jsonschema.Schema{Type: "number"}
	case "bool", "boolean":
		return &jsonschema.Schema{Type: "boolean"}
	default:
		return &jsonschema.Schema{Type: "string"}
	}
}
