package findop

import (
	"strconv"

	"tidb-eagerload/internal/model"
	"tidb-eagerload/internal/naming"
	"tidb-eagerload/internal/query"
	"tidb-eagerload/internal/relation"
	"tidb-eagerload/internal/sqlutil"
)

const ownerJoinAliasPrefix = naming.ReservedPrefix + "owner_"

func ownerJoinAlias(i int) string {
	return ownerJoinAliasPrefix + strconv.Itoa(i)
}

// ManyToManyOptions configures a ManyToManyFind.
type ManyToManyOptions struct {
	Relation          *relation.ManyToMany
	Owners            []model.Owner
	AlwaysReturnArray bool
}

// ManyToManyFind loads related rows for a batch of owners in one query and
// assigns each owner its own slice of the result.
// An instance serves a single run and is not safe for concurrent use.
type ManyToManyFind struct {
	// AlwaysReturnArray makes OnAfterInternal return every related record even
	// for one-to-one relations.
	AlwaysReturnArray bool

	name                 string
	relation             *relation.ManyToMany
	owners               []model.Owner
	ownerJoinColumnAlias []string
	rowsByOwnerKey       map[string][]int
	stats                Stats
}

// NewManyToManyFind creates a find operation for opt.Owners.
func NewManyToManyFind(name string, opt ManyToManyOptions) *ManyToManyFind {
	aliases := make([]string, len(opt.Relation.JoinTableOwnerCols))
	for i := range aliases {
		aliases[i] = ownerJoinAlias(i)
	}
	return &ManyToManyFind{
		AlwaysReturnArray:    opt.AlwaysReturnArray,
		name:                 name,
		relation:             opt.Relation,
		owners:               opt.Owners,
		ownerJoinColumnAlias: aliases,
	}
}

func (op *ManyToManyFind) Name() string {
	return op.name
}

// Stats reports counters from the most recent run.
func (op *ManyToManyFind) Stats() Stats {
	return op.stats
}

// OnBeforeBuild selects the related table and join-table extras unless the
// caller already chose columns, restricts the query to the owners, and tags
// each row with the owner key it was fetched for.
func (op *ManyToManyFind) OnBeforeBuild(b *query.Builder) error {
	rel := op.relation
	ownerIDs := uniqueOwnerTuples(op.owners, rel.OwnerProp)
	op.stats = Stats{Owners: len(op.owners), DistinctKeys: len(ownerIDs)}

	if !b.Has(query.ClauseSelect) {
		cols := make([]string, 0, 1+len(rel.JoinTableExtras))
		cols = append(cols, sqlutil.AllColumns(rel.RelatedTable))
		for _, extra := range rel.JoinTableExtras {
			cols = append(cols, sqlutil.Aliased(sqlutil.QualifiedIdentifier(rel.JoinTable, extra.JoinTableCol), extra.AliasCol))
		}
		b.Select(cols...)
	}

	if err := rel.FindQuery(b, ownerIDs); err != nil {
		return err
	}

	ownerCols := rel.FullJoinTableOwnerCols()
	tagged := make([]string, len(ownerCols))
	for i, col := range ownerCols {
		tagged[i] = sqlutil.Aliased(col, op.ownerJoinColumnAlias[i])
	}
	b.Select(tagged...)
	return nil
}

// OnRawResult indexes rows by owner key and returns the rows without the
// owner key columns, in the same order.
func (op *ManyToManyFind) OnRawResult(b *query.Builder, rows *model.RowSet) *model.RowSet {
	op.rowsByOwnerKey = make(map[string][]int)
	if rows == nil {
		rows = &model.RowSet{}
	}
	op.stats.Rows = rows.Len()

	aliasCols := rows.ColumnIndexes(op.ownerJoinColumnAlias)
	for i := 0; i < rows.Len(); i++ {
		key := model.PropKey(rows.ValuesAt(i, aliasCols))
		op.rowsByOwnerKey[key] = append(op.rowsByOwnerKey[key], i)
	}
	return rows.Without(op.ownerJoinColumnAlias)
}

// OnAfterInternal writes the relation onto every owner. One-to-one owners get
// the first matching record or nil; one-to-many owners get a possibly empty list.
func (op *ManyToManyFind) OnAfterInternal(b *query.Builder, related []model.Record) interface{} {
	rel := op.relation
	oneToOne := rel.IsOneToOne()
	op.stats.Unmatched = 0

	for _, owner := range op.owners {
		key := model.PropKey(owner.Values(rel.OwnerProp))
		indices := op.rowsByOwnerKey[key]
		if len(indices) == 0 {
			op.stats.Unmatched++
		}

		if oneToOne {
			var value interface{}
			if len(indices) > 0 && indices[0] < len(related) {
				value = related[indices[0]]
			}
			owner.SetRelation(rel.Name, value)
			continue
		}

		list := make([]model.Record, 0, len(indices))
		for _, idx := range indices {
			if idx < len(related) {
				list = append(list, related[idx])
			}
		}
		owner.SetRelation(rel.Name, list)
	}

	if op.AlwaysReturnArray {
		return related
	}
	if oneToOne {
		if len(related) == 0 {
			return nil
		}
		return related[0]
	}
	return related
}

// uniqueOwnerTuples returns each distinct owner key once, in first-seen order.
// Keys containing nil are skipped since they cannot match a join row.
func uniqueOwnerTuples(owners []model.Owner, props []string) []query.Tuple {
	if len(props) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(owners))
	tuples := make([]query.Tuple, 0, len(owners))
	for _, owner := range owners {
		values := owner.Values(props)
		if hasNil(values) {
			continue
		}
		key := model.PropKey(values)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		tuples = append(tuples, query.Tuple{Values: values})
	}
	return tuples
}
