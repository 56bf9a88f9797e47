// Package findop runs find operations: hooks that shape a query before it is
// built, see the raw rows after it runs, and post-process hydrated records.
package findop

import (
	"tidb-eagerload/internal/model"
	"tidb-eagerload/internal/query"
)

// Operation is driven by a Runner in a fixed order: OnBeforeBuild once,
// OnRawResult once with the fetched rows, then OnAfterInternal once with the
// records hydrated from the rows OnRawResult returned, index for index.
type Operation interface {
	Name() string
	OnBeforeBuild(b *query.Builder) error
	OnRawResult(b *query.Builder, rows *model.RowSet) *model.RowSet
	OnAfterInternal(b *query.Builder, related []model.Record) interface{}
}

// Stats summarizes one completed operation.
type Stats struct {
	Owners       int
	DistinctKeys int
	Rows         int
	Unmatched    int
}

// statsReporter is implemented by operations that expose Stats after a run.
type statsReporter interface {
	Stats() Stats
}
