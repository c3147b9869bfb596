package storage

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

// Migrate applies every pending goose migration under migrationsDir.
// Grounded on dsmolchanov-nerve's internal/store/migrate.go; this module
// takes the table name as a parameter instead of hardcoding
// "schema_migrations" so it's configurable via the database.migrations_table
// option.
func Migrate(ctx context.Context, db *sql.DB, migrationsDir, tableName string) error {
	goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	goose.SetTableName(tableName)
	return goose.UpContext(ctx, db, migrationsDir)
}
