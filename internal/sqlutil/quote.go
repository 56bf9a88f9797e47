// Package sqlutil provides SQL identifier helpers shared by the query builder and
// relation descriptors.
package sqlutil

import "strings"

// QuoteIdentifier quotes a SQL identifier (table name, column name, etc.)
// with backticks and escapes any backticks within the identifier.
func QuoteIdentifier(name string) string {
	escaped := strings.ReplaceAll(name, "`", "``")
	return "`" + escaped + "`"
}

// QualifiedIdentifier returns `table`.`column`.
func QualifiedIdentifier(table, column string) string {
	return QuoteIdentifier(table) + "." + QuoteIdentifier(column)
}

// AllColumns returns `table`.*.
func AllColumns(table string) string {
	return QuoteIdentifier(table) + ".*"
}

// Aliased returns "expr AS `alias`".
func Aliased(expr, alias string) string {
	return expr + " AS " + QuoteIdentifier(alias)
}
