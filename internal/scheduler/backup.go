package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/scrypster/rollcall/internal/backup"
)

// Snapshotter takes one database snapshot. *backup.Service implements it.
type Snapshotter interface {
	Snapshot(ctx context.Context) (backup.Snapshot, error)
}

// BackupScheduler snapshots the mapping database on a cron schedule.
// Runs that would overlap a still-running snapshot are skipped.
type BackupScheduler struct {
	cron        *cron.Cron
	snapshotter Snapshotter
	entry       cron.EntryID
	logger      *slog.Logger
	timeout     time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// NewBackupScheduler parses spec and prepares the job. Each run is bounded
// by timeout; zero means no limit.
func NewBackupScheduler(spec string, snapshotter Snapshotter, timeout time.Duration, logger *slog.Logger) (*BackupScheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("scheduler: invalid backup schedule %q: %w", spec, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &BackupScheduler{
		snapshotter: snapshotter,
		logger:      logger.With("component", "backup_scheduler"),
		timeout:     timeout,
		ctx:         ctx,
		cancel:      cancel,
	}
	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	s.entry = s.cron.Schedule(schedule, cron.FuncJob(func() { _, _ = s.RunOnce() }))
	return s, nil
}

// Start begins running the job in the background.
func (s *BackupScheduler) Start() {
	s.cron.Start()
	s.logger.Info("backup scheduler started", "next_run", s.Next())
}

// Stop cancels a running snapshot and waits for it to return.
func (s *BackupScheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("backup scheduler stopped")
}

// Next returns the next scheduled run, or the zero time before Start.
func (s *BackupScheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// RunOnce takes a snapshot immediately. Failures are logged and returned.
func (s *BackupScheduler) RunOnce() (backup.Snapshot, error) {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	snap, err := s.snapshotter.Snapshot(ctx)
	if err != nil {
		s.logger.Error("scheduled snapshot failed", "error", err)
		return backup.Snapshot{}, err
	}
	return snap, nil
}
