// Package pkglog wires the package manager's NOTICE/INFO/DEBUG/DEBUG2
// message levels onto charmbracelet/log, propagated through context.Context
// the way the resolver and database collaborators expect a printf-style
// sink.
package pkglog

import (
	"context"
	"io"

	"github.com/charmbracelet/log"
)

// Level mirrors opkg's message verbosity levels. DEBUG2 has no stdlib/charm
// equivalent, so it is mapped onto log.DebugLevel alongside DEBUG; Sink
// tags DEBUG2 messages with a verbosity=2 key rather than using a distinct
// charmbracelet level.
type Level int

const (
	Notice Level = iota
	Info
	Debug
	Debug2
)

// New creates a logger with timestamp formatting, writing to w at the given
// verbosity. verbosity 0 logs warnings and errors only (NOTICE and INFO
// messages go out at info level and are suppressed), 1 adds NOTICE and INFO
// ("-v"), 2 or higher adds DEBUG and DEBUG2 ("-vv").
func New(w io.Writer, verbosity int) *log.Logger {
	level := log.WarnLevel
	switch {
	case verbosity >= 2:
		level = log.DebugLevel
	case verbosity == 1:
		level = log.InfoLevel
	}
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})
}

// Sink adapts a *log.Logger to the printf-style func(string, ...interface{})
// signature the resolver and pkgdb take, dispatching on a leading
// "NOTICE:"/"INFO:"/"DEBUG:" prefix the way opkg's own messages are tagged.
func Sink(l *log.Logger) func(string, ...interface{}) {
	return func(format string, args ...interface{}) {
		switch {
		case hasPrefix(format, "NOTICE:"):
			l.With("notice", true).Infof(format, args...)
		case hasPrefix(format, "DEBUG2:"):
			l.With("verbosity", 2).Debugf(format, args...)
		case hasPrefix(format, "DEBUG:"):
			l.Debugf(format, args...)
		case hasPrefix(format, "INFO:"):
			l.Infof(format, args...)
		default:
			l.Infof(format, args...)
		}
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

type ctxKey int

const loggerKey ctxKey = 0

// WithLogger attaches l to ctx for downstream retrieval via FromContext.
func WithLogger(ctx context.Context, l *log.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext retrieves the logger attached to ctx, falling back to
// log.Default() so callers never need a nil check.
func FromContext(ctx context.Context) *log.Logger {
	if l, ok := ctx.Value(loggerKey).(*log.Logger); ok {
		return l
	}
	return log.Default()
}
