// Package wslog carries a zerolog.Logger through a context.Context, the
// way tzrikka-timpani's internal/logger package carries an *slog.Logger,
// adapted to the zerolog stack the rest of this module's ambient logging
// uses.
package wslog

import (
	"context"
	"os"

	"github.com/rs/zerolog"
)

type ctxKey struct{}

var ctxLoggerKey = ctxKey{}

// New builds the module's default logger: console-formatted when stderr is
// a terminal, structured JSON otherwise, at info level.
func New() zerolog.Logger {
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	if fi, err := os.Stderr.Stat(); err != nil || (fi.Mode()&os.ModeCharDevice) == 0 {
		return zerolog.New(os.Stderr).Level(zerolog.InfoLevel).With().Timestamp().Logger()
	}
	return zerolog.New(writer).Level(zerolog.InfoLevel).With().Timestamp().Logger()
}

// InContext returns a copy of ctx carrying l, retrievable with FromContext.
func InContext(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxLoggerKey, l)
}

// FromContext returns the logger stored in ctx by InContext, or a fresh
// stderr-backed JSON logger with timestamps if none was stored.
func FromContext(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(ctxLoggerKey).(zerolog.Logger); ok {
		return l
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// WithConn returns a child logger tagging subsequent lines with connID, the
// way a per-connection worker should log once it has registered.
func WithConn(l zerolog.Logger, connID string) zerolog.Logger {
	return l.With().Str("conn_id", connID).Logger()
}
