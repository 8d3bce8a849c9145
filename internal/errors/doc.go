// Package errors defines error types for rigmux.
//
// This package provides structured error types that wrap different failure
// scenarios when managing the worker process. All error types support
// error unwrapping and can be checked using errors.Is, errors.As, and errors.AsType.
package errors
