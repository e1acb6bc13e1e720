package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
)

// ErrNoMigration indicates no migration has been applied yet.
var ErrNoMigration = errors.New("no migration")

// MigrationManager applies numbered SQL migrations from an fs.FS and records
// the applied versions in a schema_migrations table. Files are named
// NNN_name.up.sql and NNN_name.down.sql. Statements use "?" placeholders, so
// the manager is meant for SQLite.
type MigrationManager struct {
	db   *sql.DB
	fsys fs.FS
}

// migration represents a single up/down migration pair.
type migration struct {
	version  uint
	name     string
	upFile   string
	downFile string
}

// NewMigrationManager creates the tracking table if needed and returns a
// manager reading migrations from the root of fsys.
func NewMigrationManager(ctx context.Context, db *sql.DB, fsys fs.FS) (*MigrationManager, error) {
	if db == nil {
		return nil, fmt.Errorf("migrations: database connection is required")
	}
	if fsys == nil {
		return nil, fmt.Errorf("migrations: migration files are required")
	}

	mgr := &MigrationManager{db: db, fsys: fsys}
	if err := mgr.ensureSchemaTable(ctx); err != nil {
		return nil, fmt.Errorf("migrations: failed to create schema table: %w", err)
	}
	return mgr, nil
}

func (mgr *MigrationManager) ensureSchemaTable(ctx context.Context) error {
	_, err := mgr.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// Up applies all pending migrations in ascending version order. Each
// migration runs in its own transaction together with its version record.
// It returns the number of migrations applied.
func (mgr *MigrationManager) Up(ctx context.Context) (int, error) {
	migrations, err := mgr.loadMigrations()
	if err != nil {
		return 0, err
	}

	current, err := mgr.Version(ctx)
	if err != nil && !errors.Is(err, ErrNoMigration) {
		return 0, err
	}

	applied := 0
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		stmt, err := fs.ReadFile(mgr.fsys, m.upFile)
		if err != nil {
			return applied, fmt.Errorf("migrations: failed to read %s: %w", m.upFile, err)
		}
		err = mgr.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, string(stmt)); err != nil {
				return fmt.Errorf("migrations: failed to apply version %d (%s): %w", m.version, m.name, err)
			}
			if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
				return fmt.Errorf("migrations: failed to record version %d: %w", m.version, err)
			}
			return nil
		})
		if err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

// Down rolls back every applied migration in descending version order.
func (mgr *MigrationManager) Down(ctx context.Context) error {
	migrations, err := mgr.loadMigrations()
	if err != nil {
		return err
	}

	current, err := mgr.Version(ctx)
	if errors.Is(err, ErrNoMigration) {
		return nil
	}
	if err != nil {
		return err
	}

	for i := len(migrations) - 1; i >= 0; i-- {
		m := migrations[i]
		if m.version > current {
			continue
		}
		if m.downFile == "" {
			return fmt.Errorf("migrations: version %d (%s) has no down migration", m.version, m.name)
		}
		stmt, err := fs.ReadFile(mgr.fsys, m.downFile)
		if err != nil {
			return fmt.Errorf("migrations: failed to read %s: %w", m.downFile, err)
		}
		err = mgr.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, string(stmt)); err != nil {
				return fmt.Errorf("migrations: failed to roll back version %d (%s): %w", m.version, m.name, err)
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", m.version); err != nil {
				return fmt.Errorf("migrations: failed to remove version %d: %w", m.version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Version returns the highest applied migration version, or ErrNoMigration.
func (mgr *MigrationManager) Version(ctx context.Context) (uint, error) {
	var version uint
	err := mgr.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("migrations: failed to query version: %w", err)
	}
	if version == 0 {
		return 0, ErrNoMigration
	}
	return version, nil
}

func (mgr *MigrationManager) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := mgr.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrations: failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// loadMigrations pairs up and down files by version, ascending. Files without
// a numeric prefix are ignored; versions without an up file are skipped.
func (mgr *MigrationManager) loadMigrations() ([]migration, error) {
	entries, err := fs.ReadDir(mgr.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("migrations: failed to read migration files: %w", err)
	}

	byVersion := make(map[uint]*migration)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		versionStr, rest, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(versionStr, 10, 64)
		if err != nil {
			continue
		}
		version := uint(v)

		m, ok := byVersion[version]
		if !ok {
			m = &migration{version: version}
			byVersion[version] = m
		}
		switch {
		case strings.HasSuffix(rest, ".up.sql"):
			m.name = strings.TrimSuffix(rest, ".up.sql")
			m.upFile = name
		case strings.HasSuffix(rest, ".down.sql"):
			m.downFile = name
		}
	}

	migrations := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.upFile != "" {
			migrations = append(migrations, *m)
		}
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].version < migrations[j].version
	})
	return migrations, nil
}
