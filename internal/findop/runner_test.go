package findop

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"tidb-eagerload/internal/dbexec"
	"tidb-eagerload/internal/logging"
	"tidb-eagerload/internal/model"
	"tidb-eagerload/internal/observability"
	"tidb-eagerload/internal/query"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const movieActorsSQL = "SELECT `actors`.*, `movie_actors`.`movie_id` AS `__eagerload_owner_0` " +
	"FROM `actors` INNER JOIN `movie_actors` ON `movie_actors`.`actor_id` = `actors`.`id` " +
	"WHERE `movie_actors`.`movie_id` IN (?,?)"

func TestRunnerRunsAllPhases(t *testing.T) {
	db, mock := newMockDB(t)
	expectQuery(t, mock, movieActorsSQL, []interface{}{int64(1), int64(2)},
		sqlmock.NewRows([]string{"id", "name", "__eagerload_owner_0"}).
			AddRow(int64(10), []byte("Ada"), int64(1)).
			AddRow(int64(11), "Grace", int64(1)).
			AddRow(int64(10), "Ada", int64(2)),
	)

	m1 := model.Record{"id": int64(1)}
	m2 := model.Record{"id": int64(2)}
	op := NewManyToManyFind("actors", ManyToManyOptions{Relation: movieActors(), Owners: owners(m1, m2)})

	runner := NewRunner(dbexec.NewStandardExecutor(db))
	result, err := runner.Run(context.Background(), op, query.New("actors"))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	records, ok := result.([]model.Record)
	require.True(t, ok)
	require.Len(t, records, 3)
	assert.Equal(t, model.Record{"id": int64(10), "name": "Ada"}, records[0])

	m1Actors := m1["actors"].([]model.Record)
	require.Len(t, m1Actors, 2)
	assert.Equal(t, "Ada", m1Actors[0]["name"])
	assert.Equal(t, "Grace", m1Actors[1]["name"])
	assert.Equal(t, []model.Record{records[2]}, m2["actors"])
}

func TestRunnerWrapsQueryErrors(t *testing.T) {
	db, mock := newMockDB(t)
	boom := errors.New("boom")
	mock.ExpectQuery("SELECT").WillReturnError(boom)

	op := NewManyToManyFind("actors", ManyToManyOptions{Relation: movieActors(), Owners: owners(model.Record{"id": 1})})
	_, err := NewRunner(dbexec.NewStandardExecutor(db)).Run(context.Background(), op, query.New("actors"))

	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Contains(t, err.Error(), "eager load actors")
}

func TestRunnerReturnsBuildErrorsUnwrapped(t *testing.T) {
	rel := movieActors()
	rel.JoinTableRelatedCols = nil
	op := NewManyToManyFind("actors", ManyToManyOptions{Relation: rel, Owners: owners(model.Record{"id": 1})})

	_, err := NewRunner(&joinExecutor{}).Run(context.Background(), op, query.New("actors"))

	require.Error(t, err)
	assert.NotContains(t, err.Error(), "eager load")
}

func TestRunnerRejectsMisalignedHydration(t *testing.T) {
	exec := &joinExecutor{
		columns: []string{"id"},
		byOwner: map[int64][][]any{1: {{int64(10)}, {int64(11)}}},
	}
	dropLast := func(rows *model.RowSet) ([]model.Record, error) {
		records, err := model.HydrateRecords(rows)
		if err != nil {
			return nil, err
		}
		return records[:len(records)-1], nil
	}
	op := NewManyToManyFind("actors", ManyToManyOptions{Relation: movieActors(), Owners: owners(model.Record{"id": int64(1)})})

	_, err := NewRunner(exec, WithHydrator(dropLast)).Run(context.Background(), op, query.New("actors"))

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHydrationMisaligned))
}

func TestRunnerPropagatesHydratorErrors(t *testing.T) {
	exec := &joinExecutor{columns: []string{"id"}, byOwner: map[int64][][]any{1: {{int64(10)}}}}
	bad := errors.New("cannot hydrate")
	op := NewManyToManyFind("actors", ManyToManyOptions{Relation: movieActors(), Owners: owners(model.Record{"id": int64(1)})})

	_, err := NewRunner(exec, WithHydrator(func(*model.RowSet) ([]model.Record, error) { return nil, bad })).
		Run(context.Background(), op, query.New("actors"))

	assert.True(t, errors.Is(err, bad))
}

func TestRunnerScanErrors(t *testing.T) {
	rowsErr := errors.New("stream broken")
	exec := executorFunc(func(ctx context.Context, q string, args ...any) (dbexec.Rows, error) {
		return &fakeRows{columns: []string{"id"}, err: rowsErr}, nil
	})
	op := NewManyToManyFind("actors", ManyToManyOptions{Relation: movieActors(), Owners: owners(model.Record{"id": int64(1)})})

	_, err := NewRunner(exec).Run(context.Background(), op, query.New("actors"))

	assert.True(t, errors.Is(err, rowsErr))
	assert.Contains(t, err.Error(), "failed to scan rows")
}

type executorFunc func(ctx context.Context, query string, args ...any) (dbexec.Rows, error)

func (f executorFunc) QueryContext(ctx context.Context, query string, args ...any) (dbexec.Rows, error) {
	return f(ctx, query, args...)
}

func TestRunnerRecordsSpan(t *testing.T) {
	recorder, cleanup := installFindSpanRecorder(t)
	defer cleanup()

	exec := &joinExecutor{
		columns: []string{"id"},
		byOwner: map[int64][][]any{1: {{int64(10)}}, 2: {{int64(11)}}},
	}
	op := NewManyToManyFind("actors", ManyToManyOptions{
		Relation: movieActors(),
		Owners:   owners(model.Record{"id": int64(1)}, model.Record{"id": int64(2)}, model.Record{"id": int64(3)}),
	})

	_, err := NewRunner(exec).Run(context.Background(), op, query.New("actors"))
	require.NoError(t, err)

	span := findEndedSpanByName(recorder.Ended(), "eagerload.find")
	require.NotNil(t, span)
	attrs := span.Attributes()
	assert.Equal(t, "actors", readSpanString(attrs, "eagerload.operation"))
	assert.Equal(t, "success", readSpanString(attrs, "eagerload.outcome"))
	assert.NotEmpty(t, readSpanString(attrs, "eagerload.operation_id"))
	assert.Equal(t, int64(2), readSpanInt(attrs, "eagerload.rows"))
	assert.Equal(t, int64(3), readSpanInt(attrs, "eagerload.owners"))
}

func TestRunnerRecordsErrorSpan(t *testing.T) {
	recorder, cleanup := installFindSpanRecorder(t)
	defer cleanup()

	exec := executorFunc(func(ctx context.Context, q string, args ...any) (dbexec.Rows, error) {
		return nil, dbexec.ErrAccessDenied
	})
	op := NewManyToManyFind("actors", ManyToManyOptions{Relation: movieActors(), Owners: owners(model.Record{"id": 1})})

	_, err := NewRunner(exec).Run(context.Background(), op, query.New("actors"))
	require.ErrorIs(t, err, dbexec.ErrAccessDenied)

	span := findEndedSpanByName(recorder.Ended(), "eagerload.find")
	require.NotNil(t, span)
	assert.Equal(t, "error", readSpanString(span.Attributes(), "eagerload.outcome"))
	assert.Equal(t, codes.Error, span.Status().Code)
}

func TestRunnerRecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()
	metrics, err := observability.NewLoaderMetrics(provider.Meter("test"))
	require.NoError(t, err)

	exec := &joinExecutor{columns: []string{"id"}, byOwner: map[int64][][]any{1: {{int64(10)}}}}
	op := NewManyToManyFind("actors", ManyToManyOptions{
		Relation: movieActors(),
		Owners:   owners(model.Record{"id": int64(1)}, model.Record{"id": int64(4)}),
	})

	_, err = NewRunner(exec, WithMetrics(metrics)).Run(context.Background(), op, query.New("actors"))
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	names := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = m.Data
		}
	}
	assert.Contains(t, names, "eagerload.find.duration")
	assert.Contains(t, names, "eagerload.batch.owner_count")
	assert.Contains(t, names, "eagerload.batch.result_rows")
	assert.NotContains(t, names, "eagerload.find.errors")

	unmatched, ok := names["eagerload.owners.unmatched"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, unmatched.DataPoints, 1)
	assert.Equal(t, int64(1), unmatched.DataPoints[0].Value)
}

func TestRunnerLogsWithOperationID(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(logging.Config{Level: "debug", Format: "text", Output: &buf})
	exec := &joinExecutor{columns: []string{"id"}, byOwner: map[int64][][]any{1: {{int64(10)}}}}
	op := NewManyToManyFind("actors", ManyToManyOptions{Relation: movieActors(), Owners: owners(model.Record{"id": int64(1)})})

	_, err := NewRunner(exec, WithLogger(logger)).Run(context.Background(), op, query.New("actors"))
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "eager load complete")
	assert.Contains(t, out, "operation_id=")
	assert.Contains(t, out, "distinct_keys=1")
}

func TestScanRowSetNormalizesBytes(t *testing.T) {
	rows := &fakeRows{
		columns: []string{"id", "name"},
		rows:    [][]any{{int64(1), []byte("Ada")}, {int64(2), nil}},
	}

	rs, err := scanRowSet(rows)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, rs.Columns)
	assert.Equal(t, [][]interface{}{{int64(1), "Ada"}, {int64(2), nil}}, rs.Values)
}
