package gpu

import (
	"log/slog"
	"sync/atomic"
)

var (
	discardLogger = slog.New(slog.DiscardHandler)

	// loggerPtr holds the logger used by buffers, steppers and presenters.
	loggerPtr atomic.Pointer[slog.Logger]
)

func init() { loggerPtr.Store(discardLogger) }

// slogger returns the current package logger.
func slogger() *slog.Logger { return loggerPtr.Load() }

// SetLogger replaces the package logger. It is called by particles.SetLogger;
// nil discards all output.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = discardLogger
	}
	loggerPtr.Store(l)
}
