package findop

import (
	"context"

	"tidb-eagerload/internal/model"
	"tidb-eagerload/internal/query"
	"tidb-eagerload/internal/relation"

	"golang.org/x/sync/errgroup"
)

// LoadOptions controls LoadManyToMany.
type LoadOptions struct {
	// MaxOwnersPerQuery caps the distinct owner keys per query. 0 means no cap.
	MaxOwnersPerQuery int
	// Concurrency is the number of chunk queries run at once. Values below 2 run
	// chunks sequentially.
	Concurrency int
	// AlwaysReturnArray makes the result a []model.Record for one-to-one relations too.
	AlwaysReturnArray bool
	// Modify is applied to each chunk's builder before the find operation runs,
	// for extra filters, ordering or a custom select list.
	Modify func(b *query.Builder)
}

// LoadManyToMany eager loads rel for owners, splitting the owners into chunks
// of at most MaxOwnersPerQuery distinct keys. Owners sharing a key always land
// in the same chunk. Results are concatenated in chunk order.
func LoadManyToMany(ctx context.Context, runner *Runner, rel *relation.ManyToMany, owners []model.Owner, opts LoadOptions) (interface{}, error) {
	if len(owners) == 0 {
		return emptyResult(rel, opts.AlwaysReturnArray), nil
	}

	chunks := chunkOwners(owners, rel.OwnerProp, opts.MaxOwnersPerQuery)
	results := make([][]model.Record, len(chunks))

	runChunk := func(ctx context.Context, i int) error {
		b := query.New(rel.RelatedTable)
		if opts.Modify != nil {
			opts.Modify(b)
		}
		op := NewManyToManyFind(rel.Name, ManyToManyOptions{
			Relation:          rel,
			Owners:            chunks[i],
			AlwaysReturnArray: true,
		})
		res, err := runner.Run(ctx, op, b)
		if err != nil {
			return err
		}
		results[i], _ = res.([]model.Record)
		return nil
	}

	if opts.Concurrency > 1 && len(chunks) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Concurrency)
		for i := range chunks {
			g.Go(func() error {
				return runChunk(gctx, i)
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i := range chunks {
			if err := runChunk(ctx, i); err != nil {
				return nil, err
			}
		}
	}

	runner.metricsFor(ctx).RecordBatchQueriesSaved(ctx, batchQueriesSaved(len(owners), len(chunks)), rel.Name)

	total := 0
	for _, res := range results {
		total += len(res)
	}
	related := make([]model.Record, 0, total)
	for _, res := range results {
		related = append(related, res...)
	}

	if opts.AlwaysReturnArray || !rel.IsOneToOne() {
		return related, nil
	}
	if len(related) == 0 {
		return nil, nil
	}
	return related[0], nil
}

func emptyResult(rel *relation.ManyToMany, alwaysReturnArray bool) interface{} {
	if rel.IsOneToOne() && !alwaysReturnArray {
		return nil
	}
	return []model.Record{}
}

// chunkOwners groups owners by key in first-seen order and packs at most max
// groups into each chunk. Owners with an incomplete key join the first chunk.
func chunkOwners(owners []model.Owner, props []string, max int) [][]model.Owner {
	if len(owners) == 0 {
		return nil
	}
	if max <= 0 {
		return [][]model.Owner{owners}
	}

	groupIndex := make(map[string]int)
	var groups [][]model.Owner
	var keyless []model.Owner
	for _, owner := range owners {
		values := owner.Values(props)
		if hasNil(values) {
			keyless = append(keyless, owner)
			continue
		}
		key := model.PropKey(values)
		idx, ok := groupIndex[key]
		if !ok {
			idx = len(groups)
			groupIndex[key] = idx
			groups = append(groups, nil)
		}
		groups[idx] = append(groups[idx], owner)
	}

	if len(groups) <= max {
		return [][]model.Owner{owners}
	}

	chunks := make([][]model.Owner, 0, (len(groups)+max-1)/max)
	for start := 0; start < len(groups); start += max {
		end := start + max
		if end > len(groups) {
			end = len(groups)
		}
		var chunk []model.Owner
		if start == 0 {
			chunk = append(chunk, keyless...)
		}
		for _, group := range groups[start:end] {
			chunk = append(chunk, group...)
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

func hasNil(values []interface{}) bool {
	for _, value := range values {
		if value == nil {
			return true
		}
	}
	return false
}

func batchQueriesSaved(ownerCount, chunkCount int) int64 {
	// Compare one query per owner against one query per chunk.
	if ownerCount <= 0 || chunkCount <= 0 {
		return 0
	}
	if saved := ownerCount - chunkCount; saved > 0 {
		return int64(saved)
	}
	return 0
}
