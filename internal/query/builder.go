// Package query wraps squirrel's select builder with the small, mutable surface a
// find operation needs: column selection, clause presence checks, joins and
// filters. A Builder is mutated in place and rendered once with ToSQL.
package query

import (
	"errors"

	"tidb-eagerload/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

// ErrNoColumns indicates ToSQL was called before any column was selected.
var ErrNoColumns = errors.New("query has no selected columns")

// Clause identifies a kind of clause that may be present on a Builder.
type Clause int

const (
	ClauseSelect Clause = iota
	ClauseJoin
	ClauseWhere
	ClauseOrderBy
	ClauseLimit
)

func (c Clause) String() string {
	switch c {
	case ClauseSelect:
		return "select"
	case ClauseJoin:
		return "join"
	case ClauseWhere:
		return "where"
	case ClauseOrderBy:
		return "order_by"
	case ClauseLimit:
		return "limit"
	default:
		return "unknown"
	}
}

// SQLQuery represents a planned SQL statement with bound args.
type SQLQuery struct {
	SQL  string
	Args []interface{}
}

// Builder accumulates a SELECT against a single base table.
type Builder struct {
	table   string
	sel     sq.SelectBuilder
	clauses map[Clause]int
}

// New starts a SELECT ... FROM `table`.
func New(table string) *Builder {
	return &Builder{
		table:   table,
		sel:     sq.Select().From(sqlutil.QuoteIdentifier(table)),
		clauses: make(map[Clause]int),
	}
}

// Table returns the unquoted base table name.
func (b *Builder) Table() string {
	return b.table
}

// Select appends column expressions to the select list.
func (b *Builder) Select(columns ...string) *Builder {
	if len(columns) == 0 {
		return b
	}
	b.sel = b.sel.Columns(columns...)
	b.clauses[ClauseSelect] += len(columns)
	return b
}

// Has reports whether at least one clause of the given kind was added.
func (b *Builder) Has(c Clause) bool {
	return b.clauses[c] > 0
}

// Join adds an INNER JOIN. join is everything after the JOIN keyword.
func (b *Builder) Join(join string, args ...interface{}) *Builder {
	b.sel = b.sel.JoinClause("INNER JOIN "+join, args...)
	b.clauses[ClauseJoin]++
	return b
}

// Where adds a predicate; multiple predicates are ANDed. pred may be a string
// with placeholders or any squirrel Sqlizer (sq.Eq, sq.Expr, ...).
func (b *Builder) Where(pred interface{}, args ...interface{}) *Builder {
	b.sel = b.sel.Where(pred, args...)
	b.clauses[ClauseWhere]++
	return b
}

// OrderBy appends ORDER BY expressions.
func (b *Builder) OrderBy(orderBys ...string) *Builder {
	if len(orderBys) == 0 {
		return b
	}
	b.sel = b.sel.OrderBy(orderBys...)
	b.clauses[ClauseOrderBy] += len(orderBys)
	return b
}

// Limit sets the LIMIT clause.
func (b *Builder) Limit(limit uint64) *Builder {
	b.sel = b.sel.Limit(limit)
	b.clauses[ClauseLimit] = 1
	return b
}

// ToSQL renders the statement with '?' placeholders.
func (b *Builder) ToSQL() (SQLQuery, error) {
	if !b.Has(ClauseSelect) {
		return SQLQuery{}, ErrNoColumns
	}
	query, args, err := b.sel.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: query, Args: args}, nil
}
