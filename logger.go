package cosim

// Logger defines the interface for run logging.
// The orchestrator, the controller and every engine log through this
// interface using key-value pairs, so the hosting process controls where
// and how messages appear.
//
//	logger.Info("cycle completed", "cycle", 3, "steps", 10)
//
// *slog.Logger satisfies Logger without an adapter.
type Logger interface {
	// Info logs an informational message, such as a lifecycle transition.
	Info(msg string, args ...any)

	// Error logs a fault. Kernel faults are logged here with the window
	// bounds and the steps attempted before being returned.
	Error(msg string, args ...any)

	// Warn logs an unusual but recoverable condition, such as a reporting fault.
	Warn(msg string, args ...any)

	// Debug logs per-cycle progress.
	Debug(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger { return nopLogger{} }
