package rigmux

import "github.com/openrig/rigmux/internal/config"

// Transport defines the interface for worker communication.
// Implement this to provide custom transports for testing, mocking,
// or alternative communication methods (e.g., a remote worker).
//
// The default implementation spawns the rigmux-worker subprocess and
// talks to it over stdin/stdout. Custom transports are injected via
// WithTransport.
type Transport = config.Transport
