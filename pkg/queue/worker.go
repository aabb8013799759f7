package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/medialib/curator/pkg/config"
	"github.com/medialib/curator/pkg/events"
	"github.com/medialib/curator/pkg/models"
	"github.com/medialib/curator/pkg/store"
)

// jobRegistry is the subset of Pool the worker uses to expose running
// jobs for cancellation.
type jobRegistry interface {
	registerJob(jobID string, cancel context.CancelFunc)
	unregisterJob(jobID string)
	runnerFor(jobType models.JobType) (Runner, bool)
}

// Worker polls for pending jobs and runs them one at a time.
type Worker struct {
	id     string
	jobs   Jobs
	bus    *events.Bus
	config *config.QueueConfig
	pool   jobRegistry
	logger *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu            sync.RWMutex
	status        WorkerStatus
	currentJobID  string
	jobsProcessed int
	lastActivity  time.Time
}

// NewWorker creates a worker. bus may be nil.
func NewWorker(id string, jobs Jobs, bus *events.Bus, cfg *config.QueueConfig, pool jobRegistry, logger *slog.Logger) *Worker {
	return &Worker{
		id:           id,
		jobs:         jobs,
		bus:          bus,
		config:       cfg,
		pool:         pool,
		logger:       logger.With("worker_id", id),
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for the current job to
// finish. Safe to call multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the worker's health snapshot.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:            w.id,
		Status:        w.status,
		CurrentJobID:  w.currentJobID,
		JobsProcessed: w.jobsProcessed,
		LastActivity:  w.lastActivity,
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	w.logger.Info("worker started")

	for {
		select {
		case <-w.stopCh:
			w.logger.Info("worker shutting down")
			return
		case <-ctx.Done():
			w.logger.Info("context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, store.ErrNoJobsAvailable) {
					w.sleep(w.pollInterval())
					continue
				}
				w.logger.Error("job processing error", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess claims the next pending job and runs it to a terminal
// state.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	job, err := w.jobs.ClaimNext(ctx)
	if err != nil {
		return err
	}

	log := w.logger.With("job_id", job.ID, "job_type", string(job.Type))
	log.Info("job claimed")

	w.setStatus(WorkerStatusWorking, job.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	runner, ok := w.pool.runnerFor(job.Type)
	if !ok {
		log.Error("no runner registered")
		return w.jobs.Fail(context.Background(), job.ID,
			fmt.Sprintf("%v: %s", ErrNoRunner, job.Type))
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()

	// Registered so the API can cancel a running job on this process.
	w.pool.registerJob(job.ID, cancel)
	defer w.pool.unregisterJob(job.ID)

	reporter := NewReporter(job.ID, w.jobs, w.bus, w.config.ProgressThrottle, w.logger)
	result, runErr := w.runSafely(jobCtx, runner, job, reporter)

	// Terminal writes use a background context: the job context is
	// usually already expired or cancelled on the paths that matter.
	switch {
	case runErr == nil:
		if err := w.jobs.Complete(context.Background(), job.ID, result); err != nil {
			return fmt.Errorf("completing job %s: %w", job.ID, err)
		}
		log.Info("job completed")
	case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
		msg := fmt.Sprintf("job timed out after %v", w.config.JobTimeout)
		if err := w.jobs.Fail(context.Background(), job.ID, msg); err != nil {
			return fmt.Errorf("failing job %s: %w", job.ID, err)
		}
		log.Warn("job timed out")
	case errors.Is(jobCtx.Err(), context.Canceled):
		if err := w.jobs.Cancel(context.Background(), job.ID); err != nil {
			return fmt.Errorf("cancelling job %s: %w", job.ID, err)
		}
		log.Info("job cancelled")
	default:
		if err := w.jobs.Fail(context.Background(), job.ID, runErr.Error()); err != nil {
			return fmt.Errorf("failing job %s: %w", job.ID, err)
		}
		log.Error("job failed", "error", runErr)
	}

	w.mu.Lock()
	w.jobsProcessed++
	w.mu.Unlock()
	return nil
}

// runSafely converts a runner panic into an error so the job still
// reaches a terminal state.
func (w *Worker) runSafely(ctx context.Context, runner Runner, job *models.Job, reporter *Reporter) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("runner panicked: %v", r)
		}
	}()
	return runner.Run(ctx, job, reporter)
}

// pollInterval returns the poll duration with jitter so idle workers do
// not thundering-herd the jobs table.
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

func (w *Worker) setStatus(status WorkerStatus, jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentJobID = jobID
	w.lastActivity = time.Now()
}
