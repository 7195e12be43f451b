package logging

import (
	"context"
)

type ctxKey int

const loggerCtxKey ctxKey = iota

var fallbackLogger = New()

// WithLogger puts the given logger into the context, from where it can be
// later retrieved by LoggerFromContext.
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey, logger)
}

// LoggerFromContext extracts the logger previously associated with the
// context, falling back to a default stdout logger.
func LoggerFromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerCtxKey).(Logger); ok {
		return logger
	}
	return fallbackLogger
}
