// Package scheduler enqueues recurring jobs: the nightly full sync (cron
// expression), incremental syncs (interval ticker), and stale-job cleanup
// sweeps. Fires only create PENDING jobs; the queue's worker pool executes
// them. A fire that is delivered later than its grace window is dropped,
// not executed late.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/medialib/curator/pkg/config"
	"github.com/medialib/curator/pkg/models"
)

// minIncrementalInterval is the floor for the incremental sync ticker.
// Variable so tests can run the loop at millisecond scale.
var minIncrementalInterval = config.MinIncrementalInterval

// Jobs is the persistence surface the scheduler needs.
type Jobs interface {
	Create(ctx context.Context, job *models.Job) error
}

// Scheduler owns the recurring triggers.
type Scheduler struct {
	jobs   Jobs
	config *config.SchedulerConfig
	logger *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a scheduler.
func New(jobs Jobs, cfg *config.SchedulerConfig, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		jobs:   jobs,
		config: cfg,
		logger: logger.With("component", "scheduler"),
		stopCh: make(chan struct{}),
	}
}

// Start launches the trigger loops. Returns an error when the cron
// expression does not parse; a disabled scheduler starts nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("scheduler disabled")
		return nil
	}

	schedule, err := cron.ParseStandard(s.config.FullSyncCron)
	if err != nil {
		return fmt.Errorf("parsing full sync cron %q: %w", s.config.FullSyncCron, err)
	}

	incremental := s.config.IncrementalInterval
	if incremental < minIncrementalInterval {
		s.logger.Warn("incremental interval below minimum, clamping",
			"configured", incremental, "minimum", minIncrementalInterval)
		incremental = minIncrementalInterval
	}

	s.logger.Info("scheduler started",
		"full_sync_cron", s.config.FullSyncCron,
		"incremental_interval", incremental,
		"cleanup_interval", s.config.CleanupInterval)

	s.wg.Add(3)
	go s.runCron(ctx, schedule)
	go s.runTicker(ctx, incremental, config.IncrementalGrace, s.enqueueIncrementalSync)
	go s.runTicker(ctx, s.config.CleanupInterval, 0, s.enqueueCleanup)
	return nil
}

// Stop signals the trigger loops to exit and waits for them.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) runCron(ctx context.Context, schedule cron.Schedule) {
	defer s.wg.Done()
	for {
		next := schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-s.stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.fire(ctx, next, config.FullSyncGrace, s.enqueueFullSync)
		}
	}
}

func (s *Scheduler) runTicker(ctx context.Context, interval, grace time.Duration, enqueue func(context.Context)) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			// The tick carries its scheduled delivery time, which lags
			// when the receiver was blocked.
			s.fire(ctx, tick, grace, enqueue)
		}
	}
}

// fire runs enqueue unless the fire arrived past its grace window. A zero
// grace means never drop.
func (s *Scheduler) fire(ctx context.Context, scheduled time.Time, grace time.Duration, enqueue func(context.Context)) {
	if late := time.Since(scheduled); grace > 0 && late > grace {
		s.logger.Warn("dropping late scheduler fire",
			"scheduled", scheduled, "late_by", late, "grace", grace)
		return
	}
	enqueue(ctx)
}

func (s *Scheduler) enqueueFullSync(ctx context.Context) {
	s.enqueue(ctx, models.JobTypeSyncFull, map[string]any{
		"trigger": "scheduled",
		"force":   s.config.FullSyncForce,
	})
}

func (s *Scheduler) enqueueIncrementalSync(ctx context.Context) {
	s.enqueue(ctx, models.JobTypeSyncIncremental, map[string]any{
		"trigger": "scheduled",
	})
}

func (s *Scheduler) enqueueCleanup(ctx context.Context) {
	s.enqueue(ctx, models.JobTypeCleanup, map[string]any{
		"trigger": "scheduled",
	})
}

func (s *Scheduler) enqueue(ctx context.Context, jobType models.JobType, metadata map[string]any) {
	job := &models.Job{Type: jobType, Metadata: metadata}
	if err := s.jobs.Create(ctx, job); err != nil {
		s.logger.Error("enqueueing scheduled job failed",
			"job_type", string(jobType), "error", err)
		return
	}
	s.logger.Info("scheduled job enqueued", "job_type", string(jobType), "job_id", job.ID)
}
