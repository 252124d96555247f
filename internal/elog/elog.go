// Package elog is a small structured logger in the shape of the teacher's
// own `log` package (a log/slog wrapper exposing Trace/Debug/Info/Warn/
// Error/Crit with contextual key/value pairs, observed directly in
// go-ethereum's log/logger_test.go). It exists because that package is
// internal to the teacher's module and cannot be imported as a third-party
// dependency; this is the same technique applied to our own domain.
package elog

import (
	"context"
	"log/slog"
	"os"
)

// Level mirrors the teacher's five-plus-one severities. Trace has no
// direct slog equivalent, so it is modeled one step below slog.LevelDebug.
type Level = slog.Level

const (
	LevelTrace Level = slog.LevelDebug - 4
	LevelDebug Level = slog.LevelDebug
	LevelInfo  Level = slog.LevelInfo
	LevelWarn  Level = slog.LevelWarn
	LevelError Level = slog.LevelError
	LevelCrit  Level = slog.LevelError + 4
)

var root = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: LevelInfo}))

// SetRoot replaces the process-wide default logger, e.g. to raise
// verbosity or redirect output in cmd/etschash.
func SetRoot(l *slog.Logger) { root = l }

// Logger is a contextual logger carrying a fixed set of key/value pairs,
// the same shape as the teacher's `log.New("epoch", n)`.
type Logger struct {
	s *slog.Logger
}

// New returns a Logger with ctx appended to every subsequent call, or the
// process root logger if ctx is empty.
func New(ctx ...any) Logger {
	if len(ctx) == 0 {
		return Logger{s: root}
	}
	return Logger{s: root.With(ctx...)}
}

func (l Logger) Trace(msg string, ctx ...any) { l.s.Log(context.Background(), LevelTrace, msg, ctx...) }
func (l Logger) Debug(msg string, ctx ...any) { l.s.Debug(msg, ctx...) }
func (l Logger) Info(msg string, ctx ...any)  { l.s.Info(msg, ctx...) }
func (l Logger) Warn(msg string, ctx ...any)  { l.s.Warn(msg, ctx...) }
func (l Logger) Error(msg string, ctx ...any) { l.s.Error(msg, ctx...) }
func (l Logger) Crit(msg string, ctx ...any) {
	l.s.Log(context.Background(), LevelCrit, msg, ctx...)
	os.Exit(1)
}
