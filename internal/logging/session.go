package logging

import (
	"context"
	"strings"

	"smartsched/internal/observability"
)

// WithSession returns a logger that prefixes every line with the session id.
func WithSession(logger Logger, sessionID string) Logger {
	if IsNil(logger) {
		return Nop()
	}
	if sessionID == "" {
		return logger
	}
	return &sessionLogger{logger: logger, prefix: "session=" + escapePercent(sessionID) + " "}
}

// FromContext tags logger with the session carried by ctx, if any.
func FromContext(ctx context.Context, logger Logger) Logger {
	return WithSession(logger, observability.SessionIDFromContext(ctx))
}

type sessionLogger struct {
	logger Logger
	prefix string
}

func (l *sessionLogger) Debug(format string, args ...any) {
	l.logger.Debug(l.prefix+format, args...)
}

func (l *sessionLogger) Info(format string, args ...any) {
	l.logger.Info(l.prefix+format, args...)
}

func (l *sessionLogger) Warn(format string, args ...any) {
	l.logger.Warn(l.prefix+format, args...)
}

func (l *sessionLogger) Error(format string, args ...any) {
	l.logger.Error(l.prefix+format, args...)
}

func escapePercent(s string) string {
	return strings.ReplaceAll(s, "%", "%%")
}
