// Package queue implements the DB-backed job queue: a pool of workers
// that claim pending jobs, run the registered runner for the job type
// under a timeout, and persist terminal state. Progress flows through a
// throttled reporter into the jobs table and the event bus.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/medialib/curator/pkg/models"
)

// ErrNoRunner is returned when a claimed job has no registered runner.
var ErrNoRunner = errors.New("no runner registered for job type")

// Jobs is the persistence surface the pool needs.
type Jobs interface {
	ClaimNext(ctx context.Context) (*models.Job, error)
	UpdateProgress(ctx context.Context, id string, progress float64, message string) error
	Complete(ctx context.Context, id string, result any) error
	Fail(ctx context.Context, id, message string) error
	Cancel(ctx context.Context, id string) error
	ResetRunning(ctx context.Context) (int, error)
}

// Runner executes one job type. The returned value is persisted as the
// job's result on success.
type Runner interface {
	Run(ctx context.Context, job *models.Job, reporter *Reporter) (any, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, job *models.Job, reporter *Reporter) (any, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, job *models.Job, reporter *Reporter) (any, error) {
	return f(ctx, job, reporter)
}

// WorkerStatus is a worker's current state.
type WorkerStatus string

// Worker states.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// WorkerHealth is one worker's health snapshot.
type WorkerHealth struct {
	ID            string       `json:"id"`
	Status        WorkerStatus `json:"status"`
	CurrentJobID  string       `json:"current_job_id,omitempty"`
	JobsProcessed int          `json:"jobs_processed"`
	LastActivity  time.Time    `json:"last_activity"`
}

// PoolHealth is the pool's health snapshot.
type PoolHealth struct {
	ActiveWorkers int            `json:"active_workers"`
	TotalWorkers  int            `json:"total_workers"`
	ActiveJobs    []string       `json:"active_jobs,omitempty"`
	WorkerStats   []WorkerHealth `json:"worker_stats"`
}
