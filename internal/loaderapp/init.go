package loaderapp

import (
	"context"
	"fmt"
	"log/slog"

	"tidb-eagerload/internal/findop"
)

// Init initializes all runtime resources. It is idempotent.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	if a.initialized {
		a.stateMu.Unlock()
		return nil
	}
	a.stateMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	cleanup := cleanupStack{}
	success := false
	defer func() {
		if !success {
			cleanup.run(context.Background(), a.logger)
		}
	}()

	if a.loggerProvider != nil {
		cleanup.push("logger provider", func(shutdownCtx context.Context) error {
			return a.loggerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	meterProvider, loaderMetrics, err := initMetrics(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
	}
	if meterProvider != nil {
		cleanup.push("meter provider", func(shutdownCtx context.Context) error {
			return meterProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	tracerProvider, err := initTracing(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}
	if tracerProvider != nil {
		cleanup.push("tracer provider", func(shutdownCtx context.Context) error {
			return tracerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	executor := a.executor
	if executor == nil {
		db, unregister, err := connectDB(ctx, a.cfg, a.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		cleanup.push("database", func(_ context.Context) error {
			if err := unregister(); err != nil {
				a.logger.Warn("failed to unregister DB stats metrics", slog.String("error", err.Error()))
			}
			return db.Close()
		})
		executor = buildQueryExecutor(a.cfg, db)
	}

	// Metrics travel on the context of each Load call.
	runner := findop.NewRunner(executor, findop.WithLogger(a.logger))

	a.stateMu.Lock()
	a.meterProvider = meterProvider
	a.loaderMetrics = loaderMetrics
	a.tracerProvider = tracerProvider
	a.executor = executor
	a.runner = runner
	a.cleanup = cleanup
	a.initialized = true
	a.stateMu.Unlock()

	success = true
	return nil
}
