package loaderapp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"tidb-eagerload/internal/config"
	"tidb-eagerload/internal/dbexec"
	"tidb-eagerload/internal/logging"
	"tidb-eagerload/internal/model"
	"tidb-eagerload/internal/naming"
	"tidb-eagerload/internal/query"
	"tidb-eagerload/internal/relation"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{Level: "error", Format: "text", Output: io.Discard})
}

func testConfig() *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     1,
			User:     "root",
			Password: "invalid",
			Database: "test",
			TLS:      config.DatabaseTLSConfig{Mode: "off"},
			Pool: config.PoolConfig{
				MaxOpen:     1,
				MaxIdle:     1,
				MaxLifetime: time.Second,
			},
			ConnectionRetryInterval: 10 * time.Millisecond,
		},
		Loader: config.LoaderConfig{
			MaxOwnersPerQuery: 1000,
			Concurrency:       1,
		},
		Observability: config.ObservabilityConfig{
			ServiceName: "tidb-eagerload",
			Environment: "test",
			Logging:     config.LoggingConfig{Level: "error", Format: "text"},
		},
		Naming: naming.DefaultConfig(),
	}
}

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

func newMockExecutor(t *testing.T) (dbexec.QueryExecutor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return dbexec.NewStandardExecutor(db), mock
}

func TestNew_RequiresConfigAndLogger(t *testing.T) {
	_, err := New(nil, testLogger())
	assert.EqualError(t, err, "config is required")

	_, err = New(testConfig(), nil)
	assert.EqualError(t, err, "logger is required")
}

func TestLoad_BeforeInitFails(t *testing.T) {
	app, err := New(testConfig(), testLogger())
	require.NoError(t, err)

	_, err = app.Load(context.Background(), movieActors(), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not initialized")
}

func TestLoad_EndToEnd(t *testing.T) {
	executor, mock := newMockExecutor(t)
	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT `actors`.*, `movie_actors`.`movie_id` AS `__eagerload_owner_0` " +
			"FROM `actors` INNER JOIN `movie_actors` ON `movie_actors`.`actor_id` = `actors`.`id` " +
			"WHERE `movie_actors`.`movie_id` IN (?,?) ORDER BY `actors`.`name` ASC",
	)).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "__eagerload_owner_0"}).
			AddRow(int64(10), "Ada", int64(1)).
			AddRow(int64(11), "Bo", int64(1)))

	cfg := testConfig()
	cfg.Observability.MetricsEnabled = true
	app, err := New(cfg, testLogger(), WithQueryExecutor(executor))
	require.NoError(t, err)
	require.NoError(t, app.Init(context.Background()))
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })

	first := model.Record{"id": int64(1)}
	second := model.Record{"id": int64(2)}
	result, err := app.Load(context.Background(), movieActors(), []model.Owner{first, second}, func(b *query.Builder) {
		b.OrderBy("`actors`.`name` ASC")
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	related, ok := result.([]model.Record)
	require.True(t, ok)
	assert.Len(t, related, 2)
	assert.Equal(t, []model.Record{
		{"id": int64(10), "name": "Ada"},
		{"id": int64(11), "name": "Bo"},
	}, first["actors"])
	assert.Equal(t, []model.Record{}, second["actors"])

	var dump bytes.Buffer
	require.NotNil(t, app.MeterProvider())
	require.NoError(t, app.MeterProvider().WriteText(&dump))
	assert.Contains(t, dump.String(), "eagerload_find_duration")
	assert.Contains(t, dump.String(), "eagerload_owners_unmatched")
}

func TestLoad_ZeroOwnersSkipsQuery(t *testing.T) {
	executor, mock := newMockExecutor(t)

	app, err := New(testConfig(), testLogger(), WithQueryExecutor(executor))
	require.NoError(t, err)
	require.NoError(t, app.Init(context.Background()))

	result, err := app.Load(context.Background(), movieActors(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []model.Record{}, result)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Nil(t, app.MeterProvider(), "metrics are disabled")
}

func TestLoadRelations_UsesNamer(t *testing.T) {
	cfg := testConfig()
	cfg.Naming.PluralOverrides["person"] = "people"
	app, err := New(cfg, testLogger())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "relations.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`relations:
  - owner_table: movies
    related_table: person
    related_columns: [id]
    join_table: movie_people
    join_table_owner_cols: [movie_id]
    join_table_related_cols: [person_id]
    owner_props: [id]
`), 0600))

	rels, err := app.LoadRelations(path)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "people", rels[0].Name)

	reloaded, err := app.LoadRelations(path)
	require.NoError(t, err)
	assert.Equal(t, "people", reloaded[0].Name, "reloading does not collide with the previous load")
}

func TestInitFailure_DoesNotMarkInitialized(t *testing.T) {
	app, err := New(testConfig(), testLogger())
	require.NoError(t, err)

	err = app.Init(context.Background())
	require.Error(t, err, "unreachable database")
	assert.Contains(t, err.Error(), "failed to connect to database")

	app.stateMu.Lock()
	initialized := app.initialized
	app.stateMu.Unlock()
	assert.False(t, initialized)
}

func TestInit_Idempotent(t *testing.T) {
	executor, _ := newMockExecutor(t)
	app, err := New(testConfig(), testLogger(), WithQueryExecutor(executor))
	require.NoError(t, err)

	require.NoError(t, app.Init(context.Background()))
	runner := app.runner
	require.NoError(t, app.Init(context.Background()))
	assert.Same(t, runner, app.runner)
}

func TestShutdown_Idempotent(t *testing.T) {
	app := &App{logger: testLogger()}
	calls := 0
	app.cleanup.push("test", func(context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, app.Shutdown(context.Background()))
	require.NoError(t, app.Shutdown(context.Background()))
	assert.Equal(t, 1, calls)
}

func TestCleanupStack_RunsInReverseOrder(t *testing.T) {
	var order []string
	stack := cleanupStack{}
	stack.push("database", func(context.Context) error {
		order = append(order, "database")
		return nil
	})
	stack.push("tracer provider", func(context.Context) error {
		order = append(order, "tracer provider")
		return errors.New("flush failed")
	})
	stack.push("meter provider", func(context.Context) error {
		order = append(order, "meter provider")
		return nil
	})

	stack.run(context.Background(), testLogger())
	assert.Equal(t, []string{"meter provider", "tracer provider", "database"}, order)
}

func TestBuildQueryExecutor(t *testing.T) {
	cfg := testConfig()
	_, isStandard := buildQueryExecutor(cfg, nil).(*dbexec.StandardExecutor)
	assert.True(t, isStandard)

	cfg.Database.Role = config.RoleConfig{Enabled: true, Default: "reader"}
	_, isRole := buildQueryExecutor(cfg, nil).(*dbexec.RoleExecutor)
	assert.True(t, isRole)
}
