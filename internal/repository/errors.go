package repository

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// ErrVersionConflict reports a conditional write that matched no row because the
// row's status or version changed since it was read.
var ErrVersionConflict = errors.New("version conflict")

// ErrDuplicate reports a unique constraint violation.
var ErrDuplicate = errors.New("duplicate record")

var errNotFound = sql.ErrNoRows

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
