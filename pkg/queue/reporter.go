package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/medialib/curator/pkg/events"
)

// Reporter persists and broadcasts a running job's progress. Persisted
// updates are throttled so tight loops do not hammer the jobs table;
// forced updates and events bypass the throttle.
type Reporter struct {
	jobID    string
	jobs     Jobs
	bus      *events.Bus
	throttle time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	startedAt time.Time
	last      time.Time
}

// NewReporter creates a reporter for one job. bus may be nil when no
// subscriber surface exists (tests, one-shot CLI runs).
func NewReporter(jobID string, jobs Jobs, bus *events.Bus, throttle time.Duration, logger *slog.Logger) *Reporter {
	return &Reporter{
		jobID:     jobID,
		jobs:      jobs,
		bus:       bus,
		throttle:  throttle,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Progress records a throttled progress update. percent is clamped by
// the store; message replaces the job's status line.
func (r *Reporter) Progress(ctx context.Context, percent float64, message string) {
	r.report(ctx, percent, message, false)
}

// ForceProgress records a progress update immediately, bypassing the
// throttle. Use it for milestones (0%, 100%, phase changes).
func (r *Reporter) ForceProgress(ctx context.Context, percent float64, message string) {
	r.report(ctx, percent, message, true)
}

func (r *Reporter) report(ctx context.Context, percent float64, message string, force bool) {
	r.mu.Lock()
	now := time.Now()
	if !force && now.Sub(r.last) < r.throttle {
		r.mu.Unlock()
		return
	}
	r.last = now
	r.mu.Unlock()

	if err := r.jobs.UpdateProgress(ctx, r.jobID, percent, message); err != nil {
		r.logger.Warn("progress update failed", "job_id", r.jobID, "error", err)
	}
}

// Counts publishes a sync_progress event with processed/total counts and
// records the derived percentage, throttled.
func (r *Reporter) Counts(ctx context.Context, processed, total int, message string) {
	percent := 0.0
	if total > 0 {
		percent = float64(processed) / float64(total) * 100
	}
	r.report(ctx, percent, message, false)
	if r.bus != nil {
		r.bus.PublishJob(r.jobID, events.NewProgress(
			r.jobID, processed, total, message, time.Since(r.startedAt)))
	}
}

// Detail publishes a sync_detail event; nothing is persisted.
func (r *Reporter) Detail(entity, action, message string) {
	if r.bus != nil {
		r.bus.PublishJob(r.jobID, events.NewDetail(r.jobID, entity, action, message))
	}
}

// Complete publishes the terminal sync_complete event.
func (r *Reporter) Complete(status string, processed, failed int, errs []string) {
	if r.bus != nil {
		r.bus.PublishJob(r.jobID, events.NewComplete(
			r.jobID, status, processed, failed, time.Since(r.startedAt), errs))
	}
}
