package loaderapp

import (
	"context"
	"database/sql"
	"log/slog"

	"tidb-eagerload/internal/config"
	"tidb-eagerload/internal/dbexec"
	"tidb-eagerload/internal/logging"
	"tidb-eagerload/internal/observability"
)

// InitLogger builds the process logger and, when log export is enabled, the
// OTLP logger provider behind it. The returned provider may be nil.
func InitLogger(cfg *config.Config) (*logging.Logger, *observability.LoggerProvider, error) {
	loggerCfg := logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	if !cfg.Observability.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	logsConfig := cfg.Observability.LogsConfig()
	logger.Info("initializing OpenTelemetry logging",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("otlp_endpoint", logsConfig.Endpoint),
		slog.String("otlp_protocol", logsConfig.Protocol),
		slog.Bool("insecure", logsConfig.Insecure),
	)

	loggerProvider, err := observability.InitLoggerProvider(observabilityConfig(cfg, logsConfig))
	if err != nil {
		return nil, nil, err
	}

	loggerCfg.LoggerProvider = loggerProvider.Provider()
	logger = logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	return logger, loggerProvider, nil
}

func observabilityConfig(cfg *config.Config, otlp config.OTLPConfig) observability.Config {
	return observability.Config{
		ServiceName:      cfg.Observability.ServiceName,
		ServiceVersion:   cfg.Observability.ServiceVersion,
		Environment:      cfg.Observability.Environment,
		TraceSampleRatio: cfg.Observability.TraceSampleRatio,
		OTLPConfig: observability.OTLPExporterConfig{
			Endpoint:          otlp.Endpoint,
			Protocol:          otlp.Protocol,
			Insecure:          otlp.Insecure,
			TLSCertFile:       otlp.TLSCertFile,
			TLSClientCertFile: otlp.TLSClientCertFile,
			TLSClientKeyFile:  otlp.TLSClientKeyFile,
			Headers:           otlp.Headers,
			Timeout:           otlp.Timeout,
			Compression:       otlp.Compression,
			RetryEnabled:      otlp.RetryEnabled,
			RetryMaxAttempts:  otlp.RetryMaxAttempts,
		},
	}
}

func initMetrics(cfg *config.Config, logger *logging.Logger) (*observability.MeterProvider, *observability.LoaderMetrics, error) {
	if !cfg.Observability.MetricsEnabled {
		return nil, nil, nil
	}

	meterProvider, err := observability.InitMeterProvider(observabilityConfig(cfg, config.OTLPConfig{}))
	if err != nil {
		return nil, nil, err
	}

	loaderMetrics, err := observability.InitMetrics(logger.Logger)
	if err != nil {
		_ = meterProvider.Shutdown(context.Background(), logger.Logger)
		return nil, nil, err
	}
	return meterProvider, loaderMetrics, nil
}

func initTracing(cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}

	tracesConfig := cfg.Observability.TracesConfig()
	logger.Info("initializing OpenTelemetry tracing",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("otlp_endpoint", tracesConfig.Endpoint),
		slog.String("otlp_protocol", tracesConfig.Protocol),
		slog.Float64("sample_ratio", cfg.Observability.TraceSampleRatio),
	)

	return observability.InitTracerProvider(observabilityConfig(cfg, tracesConfig))
}

func connectDB(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*sql.DB, func() error, error) {
	if err := cfg.Database.RegisterTLS(); err != nil {
		return nil, nil, err
	}
	dsn, err := cfg.Database.DSN()
	if err != nil {
		return nil, nil, err
	}

	db, unregister, err := dbexec.Open(dbexec.OpenOptions{
		DSN:            dsn,
		MetricsEnabled: cfg.Observability.MetricsEnabled,
		TracingEnabled: cfg.Observability.TracingEnabled,
		SQLCommenter:   cfg.Observability.SQLCommenterEnabled,
		MaxOpen:        cfg.Database.Pool.MaxOpen,
		MaxIdle:        cfg.Database.Pool.MaxIdle,
		MaxLifetime:    cfg.Database.Pool.MaxLifetime,
	}, logger.Logger)
	if err != nil {
		return nil, nil, err
	}

	if err := dbexec.WaitForDatabase(ctx, db, cfg.Database.ConnectionTimeout, cfg.Database.ConnectionRetryInterval, logger.Logger); err != nil {
		_ = unregister()
		_ = db.Close()
		return nil, nil, err
	}

	logger.Info("connected to database",
		slog.String("database", cfg.Database.Database),
		slog.Bool("role_enabled", cfg.Database.Role.Enabled),
		slog.Int("pool_max_open", cfg.Database.Pool.MaxOpen),
		slog.Int("pool_max_idle", cfg.Database.Pool.MaxIdle),
	)
	return db, unregister, nil
}

func buildQueryExecutor(cfg *config.Config, db *sql.DB) dbexec.QueryExecutor {
	if !cfg.Database.Role.Enabled {
		return dbexec.NewStandardExecutor(db)
	}
	return dbexec.NewRoleExecutor(dbexec.RoleExecutorConfig{
		DB:           db,
		DatabaseName: cfg.Database.Database,
		DefaultRole:  cfg.Database.Role.Default,
		AllowedRoles: cfg.Database.Role.AllowedRoles,
		ValidateRole: len(cfg.Database.Role.AllowedRoles) > 0,
	})
}
