// Package logging provides a minimal logging interface and adapters for segmesh.
//
// The Logger interface defines the standard logging methods (Debug, Info,
// Warn, Error) with slog style alternating key/value arguments. This package
// includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - SegmeshLogger with run/round context and domain helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	mesh := segmesh.New(ag, func(o *segmesh.Options) { o.Logger = logger })
package logging
