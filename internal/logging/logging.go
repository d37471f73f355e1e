// Package logging holds the structured logging helpers shared by every component.
// Loggers are always passed explicitly; the run logger is built once by the driver.
package logging

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
)

type ctxKey struct{}

// LogOperation records a named step of the pipeline at info level.
func LogOperation(logger *slog.Logger, operation string, attrs ...any) {
	if logger == nil {
		return
	}
	logger.Info(operation, attrs...)
}

// LogError records a failed step together with its cause.
func LogError(logger *slog.Logger, msg string, err error, attrs ...any) {
	if logger == nil {
		return
	}
	args := make([]any, 0, len(attrs)+1)
	if err != nil {
		args = append(args, slog.String("error", err.Error()))
	}
	args = append(args, attrs...)
	logger.Error(msg, args...)
}

// SafeCloseWithLogging closes c and logs a failure instead of returning it.
// Meant for defer statements on read paths where a close error changes nothing.
func SafeCloseWithLogging(c io.Closer, logger *slog.Logger, name string) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		LogError(logger, "failed to close resource", err, slog.String("resource", name))
	}
}

// SafeRollbackWithLogging rolls back tx unless it was already committed.
func SafeRollbackWithLogging(tx *sql.Tx, logger *slog.Logger, name string) {
	if tx == nil {
		return
	}
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		LogError(logger, "failed to roll back transaction", err, slog.String("transaction", name))
	}
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger stored by WithLogger, or a logger that discards everything.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && logger != nil {
			return logger
		}
	}
	return Discard()
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OrDiscard returns logger, or a discarding logger when it is nil.
func OrDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return Discard()
	}
	return logger
}
