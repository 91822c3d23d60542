// Package logging holds the logger shared by every snowmpm package. By
// default nothing is logged; the command line installs a handler with
// SetLogger.
package logging

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler silently discards all log records. Enabled returns false so
// callers skip formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(slog.New(nopHandler{}))
}

// SetLogger sets the shared logger. It is safe for concurrent use with
// logging from any goroutine. Passing nil restores the silent default.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	loggerPtr.Store(l)
}

// Logger returns the shared logger.
func Logger() *slog.Logger { return loggerPtr.Load() }

// For returns the shared logger tagged with a package name.
func For(pkg string) *slog.Logger {
	l := Logger()
	if !l.Enabled(context.Background(), slog.LevelError) {
		return l
	}
	return l.With("pkg", pkg)
}
