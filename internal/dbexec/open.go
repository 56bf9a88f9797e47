package dbexec

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/go-sql-driver/mysql"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// OpenOptions controls how a database handle is opened.
type OpenOptions struct {
	DSN            string
	MetricsEnabled bool
	TracingEnabled bool
	// SQLCommenter injects trace context into SQL comments; requires tracing.
	SQLCommenter bool
	MaxOpen      int
	MaxIdle      int
	MaxLifetime  time.Duration
}

// Open opens a MySQL/TiDB handle, instrumented with otelsql when metrics or
// tracing are enabled. The returned unregister func is never nil.
func Open(opts OpenOptions, logger *slog.Logger) (*sql.DB, func() error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	noop := func() error { return nil }

	var db *sql.DB
	unregister := noop
	if opts.MetricsEnabled || opts.TracingEnabled {
		otelOpts := []otelsql.Option{
			otelsql.WithAttributes(semconv.DBSystemMySQL),
		}
		if opts.TracingEnabled {
			otelOpts = append(otelOpts, otelsql.WithSpanOptions(otelsql.SpanOptions{
				DisableErrSkip: true,
			}))
		}
		if opts.SQLCommenter && opts.TracingEnabled {
			otelOpts = append(otelOpts, otelsql.WithSQLCommenter(true))
		} else if opts.SQLCommenter {
			logger.Warn("SQLCommenter requires tracing to be enabled - skipping SQLCommenter")
		}

		var err error
		db, err = otelsql.Open("mysql", opts.DSN, otelOpts...)
		if err != nil {
			return nil, noop, err
		}

		if opts.MetricsEnabled {
			reg, err := otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(semconv.DBSystemMySQL))
			if err != nil {
				logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
			} else {
				unregister = reg.Unregister
			}
		}

		logger.Info("database instrumentation enabled",
			slog.Bool("metrics", opts.MetricsEnabled),
			slog.Bool("tracing", opts.TracingEnabled),
		)
	} else {
		var err error
		db, err = sql.Open("mysql", opts.DSN)
		if err != nil {
			return nil, noop, err
		}
	}

	if opts.MaxOpen > 0 {
		db.SetMaxOpenConns(opts.MaxOpen)
	}
	if opts.MaxIdle > 0 {
		db.SetMaxIdleConns(opts.MaxIdle)
	}
	if opts.MaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.MaxLifetime)
	}
	return db, unregister, nil
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// WaitForDatabase pings db until it answers or timeout elapses. A zero timeout
// tries once.
func WaitForDatabase(ctx context.Context, db Pinger, timeout, interval time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout == 0 {
		return NormalizeQueryError(db.PingContext(ctx))
	}
	if interval <= 0 {
		interval = time.Second
	}

	deadline := time.Now().Add(timeout)
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		attempt++
		err := db.PingContext(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("database connection established", slog.Int("attempts", attempt))
			}
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("database not available after %v: %w", timeout, NormalizeQueryError(err))
		}

		logger.Warn("database not ready, retrying...",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", interval),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
