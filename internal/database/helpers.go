package database

import (
	"database/sql"
	"errors"
)

// ErrNotFound is wrapped by repository lookups and guarded writes when no
// row matches the given id. Callers branch with errors.Is rather than
// matching message text.
var ErrNotFound = errors.New("not found")

// execRequireRows turns a zero-row UPDATE into notFoundErr so writes
// against missing ids fail loudly instead of silently succeeding.
func execRequireRows(result sql.Result, err, notFoundErr error) error {
	if err != nil {
		return err
	}
	affected, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return rowsErr
	}
	if affected == 0 {
		return notFoundErr
	}
	return nil
}
