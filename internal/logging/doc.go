// Package logging provides structured logging for coms.
//
// This package wraps Go's log/slog to provide JSON-formatted logs with
// attribute propagation, so a dispatch problem can be traced back to the
// topic, owner scope, and component that produced it.
//
// # Thread Safety
//
// The [Logger] type is safe for concurrent use. Child loggers created via
// With* methods share the underlying writer.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/path/to/logs", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	busLogger := logger.WithComponent("bus")
//	busLogger.WithTopic("ui.refresh").Error("signal handler failed", "subscription", "sub-3")
//
// Output:
//
//	{"time":"...","level":"ERROR","msg":"signal handler failed","component":"bus","topic":"ui.refresh","subscription":"sub-3"}
//
// Tagging a logger twice with the same attribute keeps only the newest
// value. Use [NopLogger] in tests and wherever logging is disabled.
//
// # Configuration
//
//	logging:
//	  enabled: true
//	  level: info
//	  dir: ~/.config/coms/logs
package logging
