package logging

import (
	"fmt"
	"log/slog"
	"reflect"

	"smartsched/internal/observability"
)

// Logger defines a minimal, printf-style logging contract shared by the
// domain, application and adapter layers.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// IsNil reports whether logger is nil or wraps a nil pointer receiver.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	val := reflect.ValueOf(logger)
	switch val.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

type slogPrintfLogger struct {
	logger *slog.Logger
}

// NewComponentLogger returns the process logger (slog.Default) scoped to a
// component. The serve command installs the configured handler as default.
func NewComponentLogger(component string) Logger {
	return FromSlog(slog.Default(), component)
}

// FromSlog adapts a slog logger to printf-style call sites.
func FromSlog(logger *slog.Logger, component string) Logger {
	if logger == nil {
		return Nop()
	}
	if component != "" {
		logger = logger.With("component", component)
	}
	return &slogPrintfLogger{logger: logger}
}

func (l *slogPrintfLogger) Debug(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *slogPrintfLogger) Info(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *slogPrintfLogger) Warn(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *slogPrintfLogger) Error(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

// FromObservabilityWithComponent wraps an observability logger and preserves
// printf-style call sites by formatting the message before emitting it.
func FromObservabilityWithComponent(logger *observability.Logger, component string) Logger {
	if logger == nil {
		return Nop()
	}
	return FromSlog(logger.Slog(), component)
}
