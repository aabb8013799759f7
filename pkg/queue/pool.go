package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/medialib/curator/pkg/config"
	"github.com/medialib/curator/pkg/events"
	"github.com/medialib/curator/pkg/models"
)

// Pool manages the queue workers and the runner registry.
type Pool struct {
	jobs    Jobs
	bus     *events.Bus
	config  *config.QueueConfig
	logger  *slog.Logger
	workers []*Worker

	stopOnce sync.Once
	started  bool

	mu         sync.RWMutex
	runners    map[models.JobType]Runner
	activeJobs map[string]context.CancelFunc
}

// NewPool creates a worker pool. bus may be nil.
func NewPool(jobs Jobs, bus *events.Bus, cfg *config.QueueConfig, logger *slog.Logger) *Pool {
	return &Pool{
		jobs:       jobs,
		bus:        bus,
		config:     cfg,
		logger:     logger.With("component", "queue"),
		workers:    make([]*Worker, 0, cfg.WorkerCount),
		runners:    make(map[models.JobType]Runner),
		activeJobs: make(map[string]context.CancelFunc),
	}
}

// Register binds a runner to a job type. Later registrations for the
// same type replace earlier ones.
func (p *Pool) Register(jobType models.JobType, runner Runner) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runners[jobType] = runner
}

// Start sweeps jobs left RUNNING by a previous process back to PENDING,
// then spawns the workers. Duplicate calls are no-ops.
func (p *Pool) Start(ctx context.Context) error {
	if p.started {
		p.logger.Warn("pool already started, ignoring duplicate Start call")
		return nil
	}
	p.started = true

	reset, err := p.jobs.ResetRunning(ctx)
	if err != nil {
		return fmt.Errorf("resetting interrupted jobs: %w", err)
	}
	if reset > 0 {
		p.logger.Info("re-queued interrupted jobs", "count", reset)
	}

	p.logger.Info("starting worker pool", "worker_count", p.config.WorkerCount)
	for i := 0; i < p.config.WorkerCount; i++ {
		worker := NewWorker(fmt.Sprintf("worker-%d", i), p.jobs, p.bus, p.config, p, p.logger)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}
	return nil
}

// Stop signals every worker to stop and waits for in-flight jobs to
// finish.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		active := p.activeJobIDs()
		if len(active) > 0 {
			p.logger.Info("waiting for active jobs", "count", len(active), "job_ids", active)
		}
		for _, worker := range p.workers {
			worker.Stop()
		}
		p.logger.Info("worker pool stopped")
	})
}

// CancelJob cancels a job running on this process. Returns false when
// the job is not running here; the caller falls back to a store-level
// cancel for pending jobs.
func (p *Pool) CancelJob(jobID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.activeJobs[jobID]; ok {
		cancel()
		return true
	}
	return false
}

// Health returns the pool's health snapshot.
func (p *Pool) Health() *PoolHealth {
	stats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats[i] = worker.Health()
		if stats[i].Status == WorkerStatusWorking {
			activeWorkers++
		}
	}
	return &PoolHealth{
		ActiveWorkers: activeWorkers,
		TotalWorkers:  len(p.workers),
		ActiveJobs:    p.activeJobIDs(),
		WorkerStats:   stats,
	}
}

func (p *Pool) registerJob(jobID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeJobs[jobID] = cancel
}

func (p *Pool) unregisterJob(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeJobs, jobID)
}

func (p *Pool) runnerFor(jobType models.JobType) (Runner, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	runner, ok := p.runners[jobType]
	return runner, ok
}

func (p *Pool) activeJobIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.activeJobs))
	for id := range p.activeJobs {
		ids = append(ids, id)
	}
	return ids
}
