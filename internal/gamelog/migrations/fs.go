// Package migrations holds the goose migrations of the game log database.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
)

//go:embed *.sql
var FS embed.FS

// addColumn runs ALTER TABLE ADD COLUMN and treats an existing column as success.
// Files written by older writers may already carry the column without a goose version row.
func addColumn(ctx context.Context, tx *sql.Tx, table, column, decl string) error {
	q := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl)
	if _, err := tx.ExecContext(ctx, q); err != nil {
		if IsDuplicateColumn(err) {
			return nil
		}
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}

// IsDuplicateColumn reports whether err is SQLite's "duplicate column name" failure.
func IsDuplicateColumn(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate column name")
}
