// Package logging provides a minimal logging interface and adapters for AgentRelay.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the relay, stores and engine adapters use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	relay := agentrelay.New(func(o *agentrelay.Options) {
//		o.Logger = logger
//	})
//
// The design intentionally keeps the interface minimal to avoid vendor lock-in
// while supporting structured logging where available.
package logging
