package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(Up00003, Down00003)
}

// Up00003 adds the ECO classification written when a game finishes.
func Up00003(ctx context.Context, tx *sql.Tx) error {
	if err := addColumn(ctx, tx, "games", "opening_eco", "TEXT"); err != nil {
		return err
	}
	return addColumn(ctx, tx, "games", "opening_name", "TEXT")
}

func Down00003(context.Context, *sql.Tx) error {
	return nil
}
