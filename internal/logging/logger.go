package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger provides structured logging for the recognizer and its workers
type Logger struct {
	prefix string
	stage  string
	// base carries the component attribute only; stage is added once on top.
	base   *slog.Logger
	logger *slog.Logger
}

var level = new(slog.LevelVar)

// NewLogger creates a new logger with a prefix writing to stdout
func NewLogger(prefix string) *Logger {
	return NewLoggerTo(os.Stdout, prefix)
}

// NewLoggerTo creates a prefixed logger writing to w
func NewLoggerTo(w io.Writer, prefix string) *Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	base := slog.New(handler).With("component", prefix)
	return &Logger{
		prefix: prefix,
		base:   base,
		logger: base,
	}
}

// Discard returns a logger that drops everything, for tests
func Discard() *Logger {
	return NewLoggerTo(io.Discard, "discard")
}

// SetLevel sets the process-wide minimum level ("debug", "info", "warn",
// "error"). Unknown names fall back to info.
func SetLevel(name string) {
	l, _ := levelFromString(name)
	level.Set(l)
}

func levelFromString(s string) (slog.Level, bool) {
	switch strings.ToLower(s) {
	case "debug", "dbg":
		return slog.LevelDebug, true
	case "info", "inf":
		return slog.LevelInfo, true
	case "warn", "wrn":
		return slog.LevelWarn, true
	case "error", "err":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// With derives a logger for a sub-component, e.g. "recognizer.pass1".
// Nested stages are joined into a single stage attribute.
func (l *Logger) With(prefix string) *Logger {
	if l == nil {
		return Discard()
	}
	stage := prefix
	if l.stage != "" {
		stage = l.stage + "." + prefix
	}
	return &Logger{
		prefix: l.prefix + "." + prefix,
		stage:  stage,
		base:   l.base,
		logger: l.base.With("stage", stage),
	}
}

// Prefix returns the component name
func (l *Logger) Prefix() string { return l.prefix }

// Info logs an informational message with key-value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg, keysAndValues...)
}

// Warn logs a warning message with key-value pairs
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn(msg, keysAndValues...)
}

// Error logs an error message with key-value pairs
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, keysAndValues...)
}

// Debug logs a debug message with key-value pairs
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}
