package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(Up00002, Down00002)
}

func Up00002(ctx context.Context, tx *sql.Tx) error {
	return addColumn(ctx, tx, "games", "moves_uci", "TEXT")
}

func Down00002(context.Context, *sql.Tx) error {
	return nil
}
