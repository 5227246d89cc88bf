package repository

import (
	"database/sql"
	"fmt"
)

func expectOneRow(res sql.Result, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	return nil
}
