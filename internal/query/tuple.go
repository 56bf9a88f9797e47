package query

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Tuple is an ordered composite key value.
type Tuple struct {
	Values []interface{}
}

// TupleIn builds a set-membership predicate over pre-quoted columns.
// A single column renders as `col` IN (?,?); several columns render as
// (`a`, `b`) IN ((?,?), (?,?)). No tuples renders a predicate that matches nothing.
func TupleIn(quotedColumns []string, tuples []Tuple) (sq.Sqlizer, error) {
	width := len(quotedColumns)
	if width == 0 {
		return nil, fmt.Errorf("tuple IN requires at least one column")
	}
	if len(tuples) == 0 {
		return sq.Expr("(1=0)"), nil
	}

	if width == 1 {
		flat := make([]interface{}, 0, len(tuples))
		for _, tuple := range tuples {
			if len(tuple.Values) != 1 {
				return nil, fmt.Errorf("tuple width mismatch: expected 1 value")
			}
			flat = append(flat, tuple.Values[0])
		}
		return sq.Eq{quotedColumns[0]: flat}, nil
	}

	args := make([]interface{}, 0, len(tuples)*width)
	rowPlaceholders := make([]string, 0, len(tuples))
	valuePlaceholders := "(" + sq.Placeholders(width) + ")"
	for _, tuple := range tuples {
		if len(tuple.Values) != width {
			return nil, fmt.Errorf("tuple width mismatch: expected %d values", width)
		}
		rowPlaceholders = append(rowPlaceholders, valuePlaceholders)
		args = append(args, tuple.Values...)
	}

	return sq.Expr(
		fmt.Sprintf("(%s) IN (%s)", strings.Join(quotedColumns, ", "), strings.Join(rowPlaceholders, ", ")),
		args...,
	), nil
}
