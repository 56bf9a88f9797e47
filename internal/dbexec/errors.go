package dbexec

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// ErrAccessDenied is returned when the database rejects a query for lack of privileges.
var ErrAccessDenied = errors.New("access denied")

// MySQL/TiDB error codes for access control violations.
// See: https://dev.mysql.com/doc/mysql-errors/8.0/en/server-error-reference.html
const (
	mysqlErrDBAccessDenied     = 1044 // Access denied for user to database
	mysqlErrTableAccessDenied  = 1142 // SELECT command denied to user for table
	mysqlErrColumnAccessDenied = 1143 // SELECT command denied to user for column
)

// NormalizeQueryError maps privilege errors to ErrAccessDenied and returns
// every other error unchanged.
func NormalizeQueryError(err error) error {
	if err == nil {
		return nil
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlErrDBAccessDenied, mysqlErrTableAccessDenied, mysqlErrColumnAccessDenied:
			return fmt.Errorf("%w: %s", ErrAccessDenied, mysqlErr.Message)
		}
	}
	return err
}
