package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// LoaderMetrics holds custom metrics for eager-load find operations.
// A nil *LoaderMetrics is valid and records nothing.
type LoaderMetrics struct {
	findDuration      metric.Float64Histogram
	findErrors        metric.Int64Counter
	batchOwnerCount   metric.Int64Histogram
	batchResultRows   metric.Int64Histogram
	batchQueriesSaved metric.Int64Counter
	ownersUnmatched   metric.Int64Counter
}

// InitLoaderMetrics initializes loader metrics on the global meter provider.
func InitLoaderMetrics() (*LoaderMetrics, error) {
	return NewLoaderMetrics(otel.Meter("tidb-eagerload"))
}

// NewLoaderMetrics creates loader instruments on meter.
func NewLoaderMetrics(meter metric.Meter) (*LoaderMetrics, error) {
	findDuration, err := meter.Float64Histogram(
		"eagerload.find.duration",
		metric.WithDescription("Duration of eager-load find operations in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create find duration histogram: %w", err)
	}

	findErrors, err := meter.Int64Counter(
		"eagerload.find.errors",
		metric.WithDescription("Number of eager-load find operations that failed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create find error counter: %w", err)
	}

	batchOwnerCount, err := meter.Int64Histogram(
		"eagerload.batch.owner_count",
		metric.WithDescription("Number of distinct owner keys included in a batch query"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch owner count histogram: %w", err)
	}

	batchResultRows, err := meter.Int64Histogram(
		"eagerload.batch.result_rows",
		metric.WithDescription("Number of rows returned by a batch query"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch result rows histogram: %w", err)
	}

	batchQueriesSaved, err := meter.Int64Counter(
		"eagerload.batch.queries_saved",
		metric.WithDescription("Number of queries saved by batching"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch queries saved counter: %w", err)
	}

	ownersUnmatched, err := meter.Int64Counter(
		"eagerload.owners.unmatched",
		metric.WithDescription("Number of owners that received an empty relation"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create unmatched owners counter: %w", err)
	}

	return &LoaderMetrics{
		findDuration:      findDuration,
		findErrors:        findErrors,
		batchOwnerCount:   batchOwnerCount,
		batchResultRows:   batchResultRows,
		batchQueriesSaved: batchQueriesSaved,
		ownersUnmatched:   ownersUnmatched,
	}, nil
}

// RecordFind records one find operation with its duration and outcome.
func (m *LoaderMetrics) RecordFind(ctx context.Context, duration time.Duration, relation string, err error) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("relation", relation),
		attribute.Bool("has_error", err != nil),
	}
	m.findDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	if err != nil {
		m.findErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("relation", relation),
		))
	}
}

func (m *LoaderMetrics) RecordBatchOwnerCount(ctx context.Context, count int64, relation string) {
	if m == nil {
		return
	}
	m.batchOwnerCount.Record(ctx, count, metric.WithAttributes(
		attribute.String("relation", relation),
	))
}

func (m *LoaderMetrics) RecordBatchResultRows(ctx context.Context, count int64, relation string) {
	if m == nil {
		return
	}
	m.batchResultRows.Record(ctx, count, metric.WithAttributes(
		attribute.String("relation", relation),
	))
}

func (m *LoaderMetrics) RecordBatchQueriesSaved(ctx context.Context, count int64, relation string) {
	if m == nil || count <= 0 {
		return
	}
	m.batchQueriesSaved.Add(ctx, count, metric.WithAttributes(
		attribute.String("relation", relation),
	))
}

func (m *LoaderMetrics) RecordOwnersUnmatched(ctx context.Context, count int64, relation string) {
	if m == nil || count <= 0 {
		return
	}
	m.ownersUnmatched.Add(ctx, count, metric.WithAttributes(
		attribute.String("relation", relation),
	))
}

// InitMetrics initializes all custom metrics and returns the LoaderMetrics instance
func InitMetrics(logger *slog.Logger) (*LoaderMetrics, error) {
	metrics, err := InitLoaderMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize loader metrics: %w", err)
	}

	logger.Info("custom loader metrics initialized")
	return metrics, nil
}

type loaderMetricsContextKey struct{}

// ContextWithLoaderMetrics stores loader metrics in the provided context.
func ContextWithLoaderMetrics(ctx context.Context, metrics *LoaderMetrics) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loaderMetricsContextKey{}, metrics)
}

// LoaderMetricsFromContext returns loader metrics from context, or nil.
func LoaderMetricsFromContext(ctx context.Context) *LoaderMetrics {
	if ctx == nil {
		return nil
	}
	metrics, _ := ctx.Value(loaderMetricsContextKey{}).(*LoaderMetrics)
	return metrics
}
