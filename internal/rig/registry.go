package rig

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory opens a provider for the session described by cfg. The returned
// provider is not yet initialized; the worker calls Initialize on it from
// the dispatch goroutine.
type Factory func(cfg Config) (Provider, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Factory)
)

// Register makes a provider driver available under the given endpoint
// scheme. Hardware drivers call Register from an init function, so linking
// a driver package into the worker binary is all it takes to enable it.
//
// Register panics on a nil factory or a duplicate scheme.
func Register(scheme string, factory Factory) {
	driversMu.Lock()
	defer driversMu.Unlock()

	if factory == nil {
		panic("rig: Register factory is nil")
	}

	if _, dup := drivers[scheme]; dup {
		panic("rig: Register called twice for driver " + scheme)
	}

	drivers[scheme] = factory
}

// Drivers returns the sorted names of the registered driver schemes.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()

	list := make([]string, 0, len(drivers))
	for scheme := range drivers {
		list = append(list, scheme)
	}

	sort.Strings(list)

	return list
}

// Open resolves the driver for cfg and opens a provider. The driver is
// selected by the endpoint scheme ("mock://rig0" selects "mock"); the Mock
// flag overrides the scheme entirely.
func Open(cfg Config) (Provider, error) {
	scheme := ModeMock

	if !cfg.Mock {
		var ok bool

		scheme, _, ok = strings.Cut(cfg.Endpoint, "://")
		if !ok || scheme == "" {
			return nil, fmt.Errorf("endpoint %q has no scheme (want e.g. mock://rig0)", cfg.Endpoint)
		}
	}

	driversMu.RLock()
	factory, ok := drivers[scheme]
	driversMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown rig driver %q (forgotten import?)", scheme)
	}

	return factory(cfg)
}
