package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Scheduler runs a full group sync of every workspace on a cron schedule.
// The schedule can be replaced while running.
type Scheduler struct {
	job  *GroupSyncJob
	cron *cron.Cron

	mu       sync.Mutex
	entry    cron.EntryID
	schedule string
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewScheduler creates a scheduler for job. Call Start to begin.
func NewScheduler(job *GroupSyncJob) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		job:    job,
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start registers the schedule (standard 5-field cron syntax) and starts the cron loop.
func (s *Scheduler) Start(schedule string) error {
	if err := s.Reschedule(schedule); err != nil {
		return err
	}
	s.cron.Start()
	slog.Info("group sync scheduler started", "schedule", schedule)
	return nil
}

// Reschedule replaces the schedule. An unchanged schedule is a no-op.
func (s *Scheduler) Reschedule(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if schedule == s.schedule && s.entry != 0 {
		return nil
	}
	id, err := s.cron.AddFunc(schedule, func() {
		s.job.SyncAll(s.ctx, TriggerSchedule)
	})
	if err != nil {
		return fmt.Errorf("invalid sync schedule %q: %w", schedule, err)
	}
	if s.entry != 0 {
		s.cron.Remove(s.entry)
		slog.Info("group sync schedule changed", "from", s.schedule, "to", schedule)
	}
	s.entry = id
	s.schedule = schedule
	return nil
}

// Schedule returns the active schedule.
func (s *Scheduler) Schedule() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule
}

// Stop cancels a sync in flight and waits for the cron loop to exit.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	slog.Info("group sync scheduler stopped")
}
