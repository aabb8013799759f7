// Package cleanup enforces retention policies on the job and plan tables.
package cleanup

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/medialib/curator/pkg/config"
)

// Jobs is the job-table surface the sweep needs.
type Jobs interface {
	ReapStale(ctx context.Context, staleAfter, pendingAfter time.Duration) (int, int, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Plans is the plan-table surface the sweep needs.
type Plans interface {
	DeleteCancelledBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Result summarizes one sweep. It is persisted as the cleanup job's
// result document.
type Result struct {
	ReapedRunning  int `json:"reaped_running"`
	ExpiredPending int `json:"expired_pending"`
	DeletedJobs    int `json:"deleted_jobs"`
	DeletedPlans   int `json:"deleted_plans"`
}

// Service runs retention sweeps:
//   - RUNNING jobs without a progress update for twice the job timeout
//     are failed (the worker holding them is gone)
//   - PENDING jobs older than the stale-pending age are cancelled
//   - terminal jobs and cancelled plans past retention are deleted
//
// Every step is idempotent; a sweep is safe to re-run at any time.
type Service struct {
	jobs      Jobs
	plans     Plans
	retention *config.RetentionConfig
	logger    *slog.Logger

	staleAfter   time.Duration
	pendingAfter time.Duration
}

// NewService creates a cleanup service. The stale threshold is derived
// from the queue's job timeout.
func NewService(jobs Jobs, plans Plans, retention *config.RetentionConfig, queueCfg *config.QueueConfig, schedCfg *config.SchedulerConfig, logger *slog.Logger) *Service {
	return &Service{
		jobs:         jobs,
		plans:        plans,
		retention:    retention,
		logger:       logger.With("component", "cleanup"),
		staleAfter:   2 * queueCfg.JobTimeout,
		pendingAfter: schedCfg.StalePendingAge,
	}
}

// Run executes one full sweep. Steps run independently; a failing step
// does not stop the others. The returned error joins any step failures.
func (s *Service) Run(ctx context.Context) (*Result, error) {
	result := &Result{}
	var errs []error

	reaped, expired, err := s.jobs.ReapStale(ctx, s.staleAfter, s.pendingAfter)
	if err != nil {
		s.logger.Error("stale job sweep failed", "error", err)
		errs = append(errs, err)
	} else {
		result.ReapedRunning = reaped
		result.ExpiredPending = expired
		if reaped > 0 || expired > 0 {
			s.logger.Info("reaped stale jobs", "failed", reaped, "expired", expired)
		}
	}

	deleted, err := s.jobs.DeleteTerminalBefore(ctx, time.Now().Add(-s.retention.JobRetention))
	if err != nil {
		s.logger.Error("job retention sweep failed", "error", err)
		errs = append(errs, err)
	} else {
		result.DeletedJobs = deleted
		if deleted > 0 {
			s.logger.Info("deleted old jobs", "count", deleted)
		}
	}

	plans, err := s.plans.DeleteCancelledBefore(ctx, time.Now().Add(-s.retention.PlanRetention))
	if err != nil {
		s.logger.Error("plan retention sweep failed", "error", err)
		errs = append(errs, err)
	} else {
		result.DeletedPlans = plans
		if plans > 0 {
			s.logger.Info("deleted old cancelled plans", "count", plans)
		}
	}

	return result, errors.Join(errs...)
}
