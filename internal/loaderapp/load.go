package loaderapp

import (
	"context"
	"fmt"

	"tidb-eagerload/internal/findop"
	"tidb-eagerload/internal/logging"
	"tidb-eagerload/internal/model"
	"tidb-eagerload/internal/observability"
	"tidb-eagerload/internal/query"
	"tidb-eagerload/internal/relation"
)

// LoadRelations reads relation descriptors from path, defaulting names with
// the app's namer. Each call starts from an empty name registry.
func (a *App) LoadRelations(path string) ([]*relation.ManyToMany, error) {
	a.namer.Reset()
	return relation.LoadFile(path, a.namer)
}

// Load eager loads rel onto owners using the configured loader settings.
// modify may be nil.
func (a *App) Load(ctx context.Context, rel *relation.ManyToMany, owners []model.Owner, modify func(*query.Builder)) (interface{}, error) {
	a.stateMu.Lock()
	runner := a.runner
	metrics := a.loaderMetrics
	a.stateMu.Unlock()

	if runner == nil {
		return nil, fmt.Errorf("app is not initialized")
	}
	if rel == nil {
		return nil, fmt.Errorf("relation is required")
	}

	ctx = logging.WithLogger(ctx, a.logger)
	ctx = observability.ContextWithLoaderMetrics(ctx, metrics)

	return findop.LoadManyToMany(ctx, runner, rel, owners, findop.LoadOptions{
		MaxOwnersPerQuery: a.cfg.Loader.MaxOwnersPerQuery,
		Concurrency:       a.cfg.Loader.Concurrency,
		AlwaysReturnArray: a.cfg.Loader.AlwaysReturnArray,
		Modify:            modify,
	})
}
