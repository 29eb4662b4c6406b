package repositories

import (
	"database/sql"
	"fmt"
)

// execOne runs a write and fails with notFound when no row was touched.
func execOne(db *sql.DB, notFound error, query string, args ...any) error {
	result, err := db.Exec(query, args...)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
