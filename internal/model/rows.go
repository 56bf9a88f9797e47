// Package model holds the row and record shapes that flow through a find operation
// and the key function shared by owners and result rows.
package model

// RowSet is a raw query result: one column list and one value slice per row.
// Values[i][j] belongs to Columns[j].
type RowSet struct {
	Columns []string
	Values  [][]interface{}
}

// Len returns the number of rows.
func (rs *RowSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.Values)
}

// ColumnIndex returns the position of the named column, or -1.
func (rs *RowSet) ColumnIndex(name string) int {
	if rs == nil {
		return -1
	}
	for i, col := range rs.Columns {
		if col == name {
			return i
		}
	}
	return -1
}

// ColumnIndexes resolves several column names at once. Missing columns map to -1.
func (rs *RowSet) ColumnIndexes(names []string) []int {
	idx := make([]int, len(names))
	for i, name := range names {
		idx[i] = rs.ColumnIndex(name)
	}
	return idx
}

// ValuesAt returns the values of row at the given column positions. A negative
// position yields nil so callers can always build a key.
func (rs *RowSet) ValuesAt(row int, cols []int) []interface{} {
	values := make([]interface{}, len(cols))
	rowValues := rs.Values[row]
	for i, col := range cols {
		if col >= 0 && col < len(rowValues) {
			values[i] = rowValues[col]
		}
	}
	return values
}

// Without returns a new RowSet that omits the named columns. Row order and count
// are preserved; the receiver is left untouched.
func (rs *RowSet) Without(names []string) *RowSet {
	drop := make(map[string]struct{}, len(names))
	for _, name := range names {
		drop[name] = struct{}{}
	}

	keep := make([]int, 0, len(rs.Columns))
	columns := make([]string, 0, len(rs.Columns))
	for i, col := range rs.Columns {
		if _, ok := drop[col]; ok {
			continue
		}
		keep = append(keep, i)
		columns = append(columns, col)
	}

	values := make([][]interface{}, len(rs.Values))
	for i, row := range rs.Values {
		projected := make([]interface{}, len(keep))
		for j, col := range keep {
			if col < len(row) {
				projected[j] = row[col]
			}
		}
		values[i] = projected
	}
	return &RowSet{Columns: columns, Values: values}
}

// NormalizeValue converts driver values into the shapes records carry.
// MySQL returns most text and decimal columns as []byte.
func NormalizeValue(val interface{}) interface{} {
	if val == nil {
		return nil
	}
	if b, ok := val.([]byte); ok {
		return string(b)
	}
	return val
}
