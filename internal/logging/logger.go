// Package logging provides structured logging helpers for the loader and CLI.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/sdk/log"
)

// instrumentationName identifies log records exported over OTLP.
const instrumentationName = "tidb-eagerload"

type contextKey string

const (
	loggerKey      contextKey = "logger"
	operationIDKey contextKey = "operation_id"
)

// Logger wraps slog.Logger with loader-specific helpers.
type Logger struct {
	*slog.Logger
}

// Config holds logging configuration
type Config struct {
	Level          string              // debug, info, warn, error
	Format         string              // json, text
	LoggerProvider *log.LoggerProvider // Optional OTLP logger provider for exporting logs
	Output         io.Writer           // Defaults to os.Stderr; stdout carries CLI results
}

// NewLogger builds a logger writing to cfg.Output and, when a provider is
// attached, to OTLP as well.
func NewLogger(cfg Config) *Logger {
	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelError,
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	if cfg.LoggerProvider != nil {
		handler = newFanoutHandler(handler,
			otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(cfg.LoggerProvider)))
	}

	return &Logger{Logger: slog.New(handler)}
}

// parseLevel maps a configured level name onto slog; unknown names mean info.
func parseLevel(name string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// fanoutHandler delivers each record to every handler enabled for its level.
type fanoutHandler struct {
	handlers []slog.Handler
}

func newFanoutHandler(handlers ...slog.Handler) *fanoutHandler {
	return &fanoutHandler{handlers: handlers}
}

func (f *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, h := range f.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (f *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f *fanoutHandler) WithGroup(name string) slog.Handler {
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f *fanoutHandler) derive(fn func(slog.Handler) slog.Handler) *fanoutHandler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = fn(h)
	}
	return &fanoutHandler{handlers: next}
}

// WithOperationID returns a logger tagging every record with operationID.
func (l *Logger) WithOperationID(operationID string) *Logger {
	return &Logger{Logger: l.With(slog.String("operation_id", operationID))}
}

// FromContext returns the logger stored in ctx, falling back to slog's default.
func FromContext(ctx context.Context) *Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey).(*Logger); ok {
			return logger
		}
	}
	return &Logger{Logger: slog.Default()}
}

// WithLogger adds a logger to the context
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// OperationID returns the operation ID carried by ctx, if any.
func OperationID(ctx context.Context) string {
	if operationID, ok := ctx.Value(operationIDKey).(string); ok {
		return operationID
	}
	return ""
}

// WithOperationIDContext adds an operation ID to the context
func WithOperationIDContext(ctx context.Context, operationID string) context.Context {
	return context.WithValue(ctx, operationIDKey, operationID)
}
