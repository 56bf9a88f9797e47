// Package loaderapp wires configuration, observability, and the database into
// a ready-to-use eager loader.
package loaderapp

import (
	"fmt"
	"sync"

	"tidb-eagerload/internal/config"
	"tidb-eagerload/internal/dbexec"
	"tidb-eagerload/internal/findop"
	"tidb-eagerload/internal/logging"
	"tidb-eagerload/internal/naming"
	"tidb-eagerload/internal/observability"
)

// App owns runtime resources for one loader process.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	loggerProvider *observability.LoggerProvider
	meterProvider  *observability.MeterProvider
	loaderMetrics  *observability.LoaderMetrics
	tracerProvider *observability.TracerProvider

	executor dbexec.QueryExecutor
	runner   *findop.Runner
	namer    *naming.Namer

	cleanup cleanupStack

	stateMu     sync.Mutex
	initialized bool

	shutdownOnce sync.Once
}

// Option configures an App.
type Option func(*App)

// WithQueryExecutor makes Init use executor instead of opening a database.
func WithQueryExecutor(executor dbexec.QueryExecutor) Option {
	return func(a *App) {
		a.executor = executor
	}
}

// New creates an App lifecycle wrapper. cfg should already be validated.
func New(cfg *config.Config, logger *logging.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	app := &App{
		cfg:    cfg,
		logger: logger,
		namer:  naming.New(cfg.Naming, logger.Logger),
	}
	for _, opt := range opts {
		opt(app)
	}
	return app, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}

// Namer returns the namer used to default relation names.
func (a *App) Namer() *naming.Namer {
	return a.namer
}

// MeterProvider returns the meter provider, or nil when metrics are disabled.
func (a *App) MeterProvider() *observability.MeterProvider {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.meterProvider
}
