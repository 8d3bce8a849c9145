// Package rig defines the hardware capability provider boundary.
//
// A Provider owns one exclusive instrument session and exposes its modules:
// signal generators, feedback controllers, lock-in demodulators, the scope,
// and the instantaneous sampler. Providers have strict execution-context
// affinity and are only ever driven from the worker's serial dispatch loop.
//
// Drivers register themselves by endpoint scheme, in the manner of
// database/sql drivers:
//
//	provider, err := rig.Open(rig.Config{Endpoint: "mock://rig0"})
//
// The built-in "mock" driver synthesizes loopback signals (generator gN
// feeds input cN) and needs no hardware.
package rig
