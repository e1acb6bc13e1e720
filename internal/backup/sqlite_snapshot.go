package backup

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// vacuumInto writes a consistent copy of the database at sourcePath to
// destPath. VACUUM INTO reads through the WAL, so the source may be in use.
func vacuumInto(ctx context.Context, sourcePath, destPath string) error {
	db, err := sql.Open("sqlite", sourcePath)
	if err != nil {
		return fmt.Errorf("failed to open source database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping source database: %w", err)
	}

	// VACUUM INTO does not accept bound parameters.
	quoted := strings.ReplaceAll(destPath, "'", "''")
	if _, err := db.ExecContext(ctx, "VACUUM INTO '"+quoted+"'"); err != nil {
		return fmt.Errorf("failed to snapshot database: %w", err)
	}
	return nil
}

// integrityCheck runs PRAGMA integrity_check and confirms the mapping tables
// exist.
func integrityCheck(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("failed to run integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}

	var tables int
	err = db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sqlite_master
		WHERE type = 'table' AND name IN ('learned_mappings', 'mapping_history')
	`).Scan(&tables)
	if err != nil {
		return fmt.Errorf("failed to inspect schema: %w", err)
	}
	if tables != 2 {
		return fmt.Errorf("snapshot is not a mapping database")
	}
	return nil
}

// replaceFile copies src next to dst and renames it over dst, so dst is
// never left half-written. Stale WAL and SHM files of dst are removed.
func replaceFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer func() { _ = in.Close() }()

	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".restore-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to copy snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(dst + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", dst+suffix, err)
		}
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return fmt.Errorf("failed to replace database: %w", err)
	}
	return nil
}
