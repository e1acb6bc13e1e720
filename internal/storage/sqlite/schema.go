package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/scrypster/rollcall/internal/storage"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns the mapping database migrations.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// migrate brings db up to the latest schema version.
func migrate(ctx context.Context, db *sql.DB) error {
	mgr, err := storage.NewMigrationManager(ctx, db, Migrations())
	if err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	if _, err := mgr.Up(ctx); err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	return nil
}
