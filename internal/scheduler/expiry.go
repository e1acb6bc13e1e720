// Package scheduler runs periodic maintenance for a long-lived resolver.
package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/scrypster/rollcall/pkg/types"
)

// Expirer removes pending reviews older than their TTL.
// *engine.IdentityResolver implements it.
type Expirer interface {
	ExpirePending(now time.Time) []types.PendingReview
}

// ExpiryScheduler calls Expirer.ExpirePending on a cron schedule.
type ExpiryScheduler struct {
	cron    *cron.Cron
	expirer Expirer
	entry   cron.EntryID
	logger  *slog.Logger
	now     func() time.Time
}

// NewExpiryScheduler parses spec (standard five-field cron or a descriptor
// such as "@hourly") and prepares the job. Nothing runs until Start.
func NewExpiryScheduler(spec string, expirer Expirer, logger *slog.Logger) (*ExpiryScheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("scheduler: invalid expiry schedule %q: %w", spec, err)
	}

	s := &ExpiryScheduler{
		cron:    cron.New(),
		expirer: expirer,
		logger:  logger.With("component", "expiry_scheduler"),
		now:     time.Now,
	}
	s.entry = s.cron.Schedule(schedule, cron.FuncJob(func() { s.RunOnce() }))
	return s, nil
}

// Start begins running the job in the background.
func (s *ExpiryScheduler) Start() {
	s.cron.Start()
	s.logger.Info("expiry scheduler started", "next_run", s.Next())
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *ExpiryScheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("expiry scheduler stopped")
}

// Next returns the next scheduled run, or the zero time before Start.
func (s *ExpiryScheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// RunOnce expires pending reviews immediately and returns how many were removed.
func (s *ExpiryScheduler) RunOnce() int {
	expired := s.expirer.ExpirePending(s.now())
	if len(expired) > 0 {
		s.logger.Info("expired pending reviews", "count", len(expired))
	}
	return len(expired)
}
