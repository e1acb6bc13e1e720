package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrNoSnapshots is returned by Latest when the snapshot directory is empty.
var ErrNoSnapshots = errors.New("backup: no snapshots")

// Service takes and restores snapshots of one database. Snapshot calls are
// serialized.
type Service struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// NewService validates cfg and returns a Service. A zero Retention uses
// DefaultRetentionPolicy.
func NewService(cfg Config, logger *slog.Logger) (*Service, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("backup: database path is required")
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("backup: snapshot directory is required")
	}
	if cfg.Retention == (RetentionPolicy{}) {
		cfg.Retention = DefaultRetentionPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cfg: cfg, logger: logger, now: time.Now}, nil
}

// Snapshot writes a new snapshot, verifies it unless SkipVerify is set, and
// prunes expired snapshots. A snapshot that fails verification is removed.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.snapshotLocked(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	expired, err := prune(s.cfg.Dir, s.cfg.Retention)
	if err != nil {
		s.logger.Warn("snapshot pruning failed", "error", err)
	} else if len(expired) > 0 {
		s.logger.Info("pruned snapshots", "count", len(expired))
	}
	return snap, nil
}

func (s *Service) snapshotLocked(ctx context.Context) (Snapshot, error) {
	if _, err := os.Stat(s.cfg.DBPath); err != nil {
		return Snapshot{}, fmt.Errorf("backup: database not found: %w", err)
	}
	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return Snapshot{}, fmt.Errorf("backup: failed to create snapshot directory: %w", err)
	}

	start := s.now()
	snap := Snapshot{Path: filepath.Join(s.cfg.Dir, snapshotName(start)), CreatedAt: start.UTC()}

	if err := vacuumInto(ctx, s.cfg.DBPath, snap.Path); err != nil {
		_ = os.Remove(snap.Path)
		return Snapshot{}, fmt.Errorf("backup: %w", err)
	}

	if !s.cfg.SkipVerify {
		if err := integrityCheck(ctx, snap.Path); err != nil {
			_ = os.Remove(snap.Path)
			return Snapshot{}, fmt.Errorf("backup: verification failed: %w", err)
		}
		snap.Verified = true
	}

	if info, err := os.Stat(snap.Path); err == nil {
		snap.Size = info.Size()
	}

	s.logger.Info("snapshot written",
		"path", snap.Path,
		"size", snap.Size,
		"verified", snap.Verified,
		"duration", s.now().Sub(start))
	return snap, nil
}

// List returns the snapshots on disk, newest first.
func (s *Service) List() ([]Snapshot, error) {
	return listSnapshots(s.cfg.Dir)
}

// Latest returns the newest snapshot.
func (s *Service) Latest() (Snapshot, error) {
	snapshots, err := s.List()
	if err != nil {
		return Snapshot{}, err
	}
	if len(snapshots) == 0 {
		return Snapshot{}, ErrNoSnapshots
	}
	return snapshots[0], nil
}

// Restore verifies the snapshot at path and replaces the database with it.
// The database must not be open elsewhere. If a database already exists, it
// is snapshotted first so the restore can be undone. Restore does not prune.
func (s *Service) Restore(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := integrityCheck(ctx, path); err != nil {
		return fmt.Errorf("backup: refusing to restore %s: %w", path, err)
	}

	if _, err := os.Stat(s.cfg.DBPath); err == nil {
		pre, err := s.snapshotLocked(ctx)
		if err != nil {
			return fmt.Errorf("backup: failed to snapshot current database: %w", err)
		}
		s.logger.Info("saved current database before restore", "path", pre.Path)
	}

	if err := os.MkdirAll(filepath.Dir(s.cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("backup: failed to create database directory: %w", err)
	}
	if err := replaceFile(path, s.cfg.DBPath); err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	s.logger.Info("database restored", "from", path, "to", s.cfg.DBPath)
	return nil
}

// Prune deletes snapshots the retention policy does not keep.
func (s *Service) Prune() ([]Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return prune(s.cfg.Dir, s.cfg.Retention)
}
