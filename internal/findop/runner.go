package findop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tidb-eagerload/internal/dbexec"
	"tidb-eagerload/internal/logging"
	"tidb-eagerload/internal/model"
	"tidb-eagerload/internal/observability"
	"tidb-eagerload/internal/query"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// ErrHydrationMisaligned is returned when a Hydrator does not produce exactly
// one record per row.
var ErrHydrationMisaligned = errors.New("hydrated records do not align with result rows")

// Hydrator turns raw rows into records, one per row and in row order.
type Hydrator func(rows *model.RowSet) ([]model.Record, error)

// Runner drives Operations against a QueryExecutor.
type Runner struct {
	executor dbexec.QueryExecutor
	hydrate  Hydrator
	metrics  *observability.LoaderMetrics
	logger   *logging.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithHydrator replaces model.HydrateRecords.
func WithHydrator(h Hydrator) RunnerOption {
	return func(r *Runner) {
		if h != nil {
			r.hydrate = h
		}
	}
}

// WithMetrics records loader metrics for every run.
func WithMetrics(m *observability.LoaderMetrics) RunnerOption {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithLogger sets the logger used when the context carries none.
func WithLogger(l *logging.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = l
	}
}

// NewRunner creates a Runner that executes queries through executor.
func NewRunner(executor dbexec.QueryExecutor, opts ...RunnerOption) *Runner {
	r := &Runner{
		executor: executor,
		hydrate:  model.HydrateRecords,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes op against b and returns the value op.OnAfterInternal decides.
func (r *Runner) Run(ctx context.Context, op Operation, b *query.Builder) (result interface{}, err error) {
	operationID := uuid.NewString()
	ctx = logging.WithOperationIDContext(ctx, operationID)
	logger := r.loggerFor(ctx).WithOperationID(operationID)
	metrics := r.metricsFor(ctx)

	ctx, span := startFindSpan(ctx, findSpanName,
		attribute.String("eagerload.operation", op.Name()),
		attribute.String("eagerload.operation_id", operationID),
	)
	start := time.Now()
	defer func() {
		finishFindSpan(span, err, "")
		span.End()
		metrics.RecordFind(ctx, time.Since(start), op.Name(), err)
	}()

	if err := op.OnBeforeBuild(b); err != nil {
		return nil, err
	}
	q, err := b.ToSQL()
	if err != nil {
		return nil, err
	}

	rows, err := r.executor.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("eager load %s: %w", op.Name(), err)
	}
	raw, err := scanRowSet(rows)
	if err != nil {
		return nil, fmt.Errorf("eager load %s: failed to scan rows: %w", op.Name(), err)
	}
	span.SetAttributes(attribute.Int("eagerload.rows", raw.Len()))

	stripped := op.OnRawResult(b, raw)
	records, err := r.hydrate(stripped)
	if err != nil {
		return nil, fmt.Errorf("eager load %s: failed to hydrate rows: %w", op.Name(), err)
	}
	if len(records) != stripped.Len() {
		return nil, fmt.Errorf("%w: %d records for %d rows", ErrHydrationMisaligned, len(records), stripped.Len())
	}

	result = op.OnAfterInternal(b, records)

	if reporter, ok := op.(statsReporter); ok {
		stats := reporter.Stats()
		metrics.RecordBatchOwnerCount(ctx, int64(stats.DistinctKeys), op.Name())
		metrics.RecordBatchResultRows(ctx, int64(stats.Rows), op.Name())
		metrics.RecordOwnersUnmatched(ctx, int64(stats.Unmatched), op.Name())
		span.SetAttributes(
			attribute.Int("eagerload.owners", stats.Owners),
			attribute.Int("eagerload.distinct_keys", stats.DistinctKeys),
		)
		logger.Debug("eager load complete",
			slog.String("operation", op.Name()),
			slog.Int("owners", stats.Owners),
			slog.Int("distinct_keys", stats.DistinctKeys),
			slog.Int("rows", stats.Rows),
			slog.Int("unmatched_owners", stats.Unmatched),
			slog.Duration("duration", time.Since(start)),
		)
	} else {
		logger.Debug("eager load complete",
			slog.String("operation", op.Name()),
			slog.Int("rows", raw.Len()),
			slog.Duration("duration", time.Since(start)),
		)
	}
	return result, nil
}

// metricsFor prefers the runner's metrics over any carried by ctx.
func (r *Runner) metricsFor(ctx context.Context) *observability.LoaderMetrics {
	if r.metrics != nil {
		return r.metrics
	}
	return observability.LoaderMetricsFromContext(ctx)
}

func (r *Runner) loggerFor(ctx context.Context) *logging.Logger {
	if r.logger != nil {
		return r.logger
	}
	return logging.FromContext(ctx)
}

// scanRowSet reads every row into a RowSet and closes rows.
func scanRowSet(rows dbexec.Rows) (*model.RowSet, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	rs := &model.RowSet{Columns: columns, Values: make([][]interface{}, 0)}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}
		for i := range values {
			values[i] = model.NormalizeValue(values[i])
		}
		rs.Values = append(rs.Values, values)
	}
	return rs, rows.Err()
}
