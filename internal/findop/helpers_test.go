package findop

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"

	"tidb-eagerload/internal/dbexec"
	"tidb-eagerload/internal/model"
	"tidb-eagerload/internal/relation"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func movieActors() *relation.ManyToMany {
	return &relation.ManyToMany{
		Name:                 "actors",
		OwnerTable:           "movies",
		RelatedTable:         "actors",
		RelatedColumns:       []string{"id"},
		JoinTable:            "movie_actors",
		JoinTableOwnerCols:   []string{"movie_id"},
		JoinTableRelatedCols: []string{"actor_id"},
		OwnerProp:            []string{"id"},
	}
}

func moviePoster() *relation.ManyToMany {
	return &relation.ManyToMany{
		Name:                 "poster",
		OwnerTable:           "movies",
		RelatedTable:         "images",
		RelatedColumns:       []string{"id"},
		JoinTable:            "movie_posters",
		JoinTableOwnerCols:   []string{"movie_id"},
		JoinTableRelatedCols: []string{"image_id"},
		OwnerProp:            []string{"id"},
		Cardinality:          relation.OneToOne,
	}
}

func owners(records ...model.Record) []model.Owner {
	out := make([]model.Owner, len(records))
	for i, r := range records {
		out[i] = r
	}
	return out
}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func expectQuery(t *testing.T, mock sqlmock.Sqlmock, sql string, args []interface{}, rows *sqlmock.Rows) {
	t.Helper()

	query := regexp.QuoteMeta(sql)
	expectation := mock.ExpectQuery(query)
	if len(args) > 0 {
		expectation = expectation.WithArgs(toDriverValues(args)...)
	}
	expectation.WillReturnRows(rows)
}

func toDriverValues(args []interface{}) []driver.Value {
	values := make([]driver.Value, len(args))
	for i, arg := range args {
		values[i] = arg
	}
	return values
}

type fakeRows struct {
	columns []string
	rows    [][]any
	idx     int
	err     error
}

func (r *fakeRows) Columns() ([]string, error) {
	return r.columns, nil
}

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	if r.idx == 0 || r.idx > len(r.rows) {
		return errors.New("scan called without advancing rows")
	}
	row := r.rows[r.idx-1]
	if len(row) != len(dest) {
		return fmt.Errorf("scan row has %d values, dest has %d", len(row), len(dest))
	}
	for i, value := range row {
		ptr, ok := dest[i].(*any)
		if !ok {
			return fmt.Errorf("unsupported scan destination %T", dest[i])
		}
		*ptr = value
	}
	return nil
}

func (r *fakeRows) Err() error   { return r.err }
func (r *fakeRows) Close() error { return nil }

// joinExecutor answers many-to-many find queries from an in-memory join
// table. Each query argument is treated as a single-column owner key and every
// related row of that owner is returned with the owner key alias appended.
type joinExecutor struct {
	columns []string
	byOwner map[int64][][]any

	mu      sync.Mutex
	queries [][]any
}

var _ dbexec.QueryExecutor = (*joinExecutor)(nil)

func (e *joinExecutor) QueryContext(ctx context.Context, query string, args ...any) (dbexec.Rows, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.queries = append(e.queries, args)
	e.mu.Unlock()

	rows := &fakeRows{columns: append(append([]string(nil), e.columns...), ownerJoinAlias(0))}
	for _, arg := range args {
		id, ok := arg.(int64)
		if !ok {
			return nil, fmt.Errorf("unexpected arg %T", arg)
		}
		for _, related := range e.byOwner[id] {
			row := append(append([]any(nil), related...), id)
			rows.rows = append(rows.rows, row)
		}
	}
	return rows, nil
}

func (e *joinExecutor) queryCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queries)
}

func installFindSpanRecorder(t *testing.T) (*tracetest.SpanRecorder, func()) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	tp.RegisterSpanProcessor(recorder)

	oldProvider := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	return recorder, func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(oldProvider)
	}
}

func findEndedSpanByName(spans []sdktrace.ReadOnlySpan, name string) sdktrace.ReadOnlySpan {
	for _, span := range spans {
		if span.Name() == name {
			return span
		}
	}
	return nil
}

func readSpanString(attrs []attribute.KeyValue, key string) string {
	for _, attr := range attrs {
		if string(attr.Key) == key {
			return attr.Value.AsString()
		}
	}
	return ""
}

func readSpanInt(attrs []attribute.KeyValue, key string) int64 {
	for _, attr := range attrs {
		if string(attr.Key) == key {
			return attr.Value.AsInt64()
		}
	}
	return -1
}
