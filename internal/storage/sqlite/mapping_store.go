// Package sqlite provides a SQLite implementation of storage.MappingStore.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/rollcall/internal/storage"
	"github.com/scrypster/rollcall/pkg/types"
)

// timeLayout is fixed-width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// MappingStore implements storage.MappingStore using SQLite.
type MappingStore struct {
	db *sql.DB
}

var _ storage.MappingStore = (*MappingStore)(nil)

// NewMappingStore opens (or creates) the SQLite database at dsn.
// If the first open fails because of stale WAL files left by a crashed
// process, the files are removed and the open is retried once.
func NewMappingStore(dsn string) (*MappingStore, error) {
	store, err := openMappingStore(dsn)
	if err == nil {
		return store, nil
	}

	if !isRecoverableWALError(err) {
		return nil, err
	}

	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" || !isWALStale(dbPath) {
		return nil, err
	}

	removeStaleWAL(dbPath)

	store, retryErr := openMappingStore(dsn)
	if retryErr != nil {
		return nil, fmt.Errorf("sqlite: failed after WAL recovery: %w (original: %v)", retryErr, err)
	}

	slog.Info("sqlite: recovered from stale WAL files", "path", dbPath)
	return store, nil
}

func openMappingStore(dsn string) (*MappingStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// One connection serialises writes and avoids SQLITE_BUSY under
	// concurrent confirmations. It also keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	if err := migrate(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}

	return &MappingStore{db: db}, nil
}

// GetDB returns the underlying database connection.
func (s *MappingStore) GetDB() *sql.DB {
	return s.db
}

// Get returns the mapping for (scope, transcriptName).
func (s *MappingStore) Get(ctx context.Context, scope, transcriptName string) (*types.LearnedMapping, error) {
	scope = types.NormalizeScope(scope)
	key := types.NormalizeKey(transcriptName)
	if scope == "" || key == "" {
		return nil, fmt.Errorf("%w: scope and transcript name are required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT scope, transcript_name, resolved_email, resolved_name, created_at, created_by
		FROM learned_mappings
		WHERE scope = ? AND transcript_key = ?
	`, scope, key)

	m, err := scanMapping(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get mapping: %w", err)
	}
	return m, nil
}

// Put upserts the mapping and records a confirm event in one transaction.
func (s *MappingStore) Put(ctx context.Context, mapping *types.LearnedMapping) error {
	if err := storage.ValidateMapping(mapping); err != nil {
		return err
	}
	mapping.Scope = types.NormalizeScope(mapping.Scope)
	if mapping.CreatedAt.IsZero() {
		mapping.CreatedAt = time.Now().UTC()
	}
	if mapping.CreatedBy == "" {
		mapping.CreatedBy = "auto"
	}
	createdAt := mapping.CreatedAt.UTC().Format(timeLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO learned_mappings (scope, transcript_key, transcript_name, resolved_email, resolved_name, created_at, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope, transcript_key) DO UPDATE SET
			transcript_name = excluded.transcript_name,
			resolved_email = excluded.resolved_email,
			resolved_name = excluded.resolved_name,
			created_at = excluded.created_at,
			created_by = excluded.created_by
	`, mapping.Scope, mapping.Key(), mapping.TranscriptName, mapping.ResolvedEmail,
		mapping.ResolvedName, createdAt, mapping.CreatedBy)
	if err != nil {
		return fmt.Errorf("sqlite: failed to upsert mapping: %w", err)
	}

	err = insertEvent(ctx, tx, types.MappingEvent{
		Scope:          mapping.Scope,
		TranscriptName: mapping.TranscriptName,
		ResolvedEmail:  mapping.ResolvedEmail,
		ResolvedName:   mapping.ResolvedName,
		Action:         types.MappingConfirmed,
		Actor:          mapping.CreatedBy,
		At:             mapping.CreatedAt,
	})
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: failed to commit mapping: %w", err)
	}
	return nil
}

// Delete removes the mapping for (scope, transcriptName).
func (s *MappingStore) Delete(ctx context.Context, scope, transcriptName, actor string) error {
	scope = types.NormalizeScope(scope)
	key := types.NormalizeKey(transcriptName)
	if scope == "" || key == "" {
		return fmt.Errorf("%w: scope and transcript name are required", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var email, name string
	err = tx.QueryRowContext(ctx, `
		SELECT resolved_email, resolved_name FROM learned_mappings
		WHERE scope = ? AND transcript_key = ?
	`, scope, key).Scan(&email, &name)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("sqlite: failed to read mapping: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM learned_mappings WHERE scope = ? AND transcript_key = ?`, scope, key); err != nil {
		return fmt.Errorf("sqlite: failed to delete mapping: %w", err)
	}

	err = insertEvent(ctx, tx, types.MappingEvent{
		Scope:          scope,
		TranscriptName: transcriptName,
		ResolvedEmail:  email,
		ResolvedName:   name,
		Action:         types.MappingDeleted,
		Actor:          actor,
		At:             time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: failed to commit delete: %w", err)
	}
	return nil
}

// List returns every mapping in scope.
func (s *MappingStore) List(ctx context.Context, scope string) ([]types.LearnedMapping, error) {
	scope = types.NormalizeScope(scope)
	rows, err := s.db.QueryContext(ctx, `
		SELECT scope, transcript_name, resolved_email, resolved_name, created_at, created_by
		FROM learned_mappings
		WHERE scope = ?
		ORDER BY transcript_key
	`, scope)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list mappings: %w", err)
	}
	defer rows.Close()

	mappings := []types.LearnedMapping{}
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan mapping: %w", err)
		}
		mappings = append(mappings, *m)
	}
	return mappings, rows.Err()
}

// History returns the newest mapping events for scope.
func (s *MappingStore) History(ctx context.Context, scope string, limit int) ([]types.MappingEvent, error) {
	scope = types.NormalizeScope(scope)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scope, transcript_name, resolved_email, resolved_name, action, actor, at
		FROM mapping_history
		WHERE scope = ?
		ORDER BY at DESC, rowid DESC
		LIMIT ?
	`, scope, storage.NormalizeHistoryLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query history: %w", err)
	}
	defer rows.Close()

	events := []types.MappingEvent{}
	for rows.Next() {
		var (
			e      types.MappingEvent
			action string
			at     string
		)
		if err := rows.Scan(&e.ID, &e.Scope, &e.TranscriptName, &e.ResolvedEmail,
			&e.ResolvedName, &action, &e.Actor, &at); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan history: %w", err)
		}
		e.Action = types.MappingAction(action)
		if e.At, err = time.Parse(timeLayout, at); err != nil {
			return nil, fmt.Errorf("sqlite: bad history timestamp %q: %w", at, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close releases the database handle.
func (s *MappingStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMapping(row rowScanner) (*types.LearnedMapping, error) {
	var (
		m         types.LearnedMapping
		createdAt string
	)
	if err := row.Scan(&m.Scope, &m.TranscriptName, &m.ResolvedEmail, &m.ResolvedName,
		&createdAt, &m.CreatedBy); err != nil {
		return nil, err
	}
	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("bad created_at %q: %w", createdAt, err)
	}
	m.CreatedAt = t
	return &m, nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, e types.MappingEvent) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO mapping_history (id, scope, transcript_name, resolved_email, resolved_name, action, actor, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, uuid.New().String(), e.Scope, e.TranscriptName, e.ResolvedEmail, e.ResolvedName,
		string(e.Action), e.Actor, e.At.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("sqlite: failed to record history: %w", err)
	}
	return nil
}

// dbPathFromDSN extracts the filesystem path from a DSN, or "" for in-memory
// databases.
func dbPathFromDSN(dsn string) string {
	if dsn == ":memory:" || dsn == "" {
		return ""
	}
	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil {
			return ""
		}
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == ":memory:" {
			return ""
		}
		return path
	}
	return dsn
}

// isRecoverableWALError matches errors caused by stale WAL files after a crash.
func isRecoverableWALError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "disk I/O error") ||
		strings.Contains(msg, "database is locked")
}

// isWALStale reports whether -shm/-wal files exist and no process holds them.
// Returns false when lsof is unavailable.
func isWALStale(dbPath string) bool {
	shmPath := dbPath + "-shm"
	walPath := dbPath + "-wal"
	if !fileExists(shmPath) && !fileExists(walPath) {
		return false
	}

	lsofPath, err := exec.LookPath("lsof")
	if err != nil {
		return false
	}

	output, err := exec.Command(lsofPath, "-t", dbPath, shmPath, walPath).Output()
	if err != nil {
		// lsof exits 1 when nothing holds the files.
		return true
	}
	return strings.TrimSpace(string(output)) == ""
}

func removeStaleWAL(dbPath string) {
	for _, suffix := range []string{"-shm", "-wal"} {
		path := dbPath + suffix
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("sqlite: failed to remove stale WAL file", "path", path, "error", err)
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
