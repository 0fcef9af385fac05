package atomsnap

import (
	"fmt"
	"log/slog"
)

// Config is the immutable record captured at NewGate. It is stored by
// value inside the Gate and never mutated afterward.
type Config struct {
	// Free is invoked exactly once per retired non-nil object, on
	// whichever goroutine happens to win the finalization claim. Required:
	// NewGate returns ErrFreeCallbackRequired if it is nil.
	Free func(object, freeContext any)

	// NumExtraControlBlocks is the number of additional, independent gate
	// slots beyond the default slot 0. Defaults to 0.
	NumExtraControlBlocks int

	// Logger receives a Warn-level record when NewVersion fails for this
	// Gate. Routine allocator events (arena growth, thread-index adoption,
	// page reclamation) are process-wide and always go to slog.Default(),
	// not to this Logger. Defaults to slog.Default() when nil.
	Logger *slog.Logger
}

// Logger is the package's minimal diagnostics seam. It is satisfied
// directly by *slog.Logger through slogLogger below. No exported function
// accepts a Logger: Config.Logger takes a *slog.Logger, which
// resolveLogger wraps.
type Logger interface {
	Debugf(format string, args ...any)
	Warnf(format string, args ...any)
}

type slogLogger struct{ l *slog.Logger }

func (s slogLogger) Debugf(format string, args ...any) { s.l.Debug(fmt.Sprintf(format, args...)) }
func (s slogLogger) Warnf(format string, args ...any)  { s.l.Warn(fmt.Sprintf(format, args...)) }

func resolveLogger(l *slog.Logger) Logger {
	if l == nil {
		l = slog.Default()
	}
	return slogLogger{l: l}
}
