// Package logging provides a minimal logging interface and adapters for marlmesh.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that builders, servers, executors and trainers use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - TrainingLogger with run/component context and domain helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	srv, err := variables.NewServer(ctx, initial, func(o *variables.Options) { o.Logger = logger })
//
// The interface is intentionally small so any structured logger can be plugged in.
package logging
