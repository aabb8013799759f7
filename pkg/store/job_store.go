package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/medialib/curator/pkg/models"
)

// JobFilter narrows List.
type JobFilter struct {
	Status *models.JobStatus
	Type   *models.JobType
	Limit  int
}

// JobStore persists the DB-backed job queue. Workers claim jobs with
// ClaimNext; claims use FOR UPDATE SKIP LOCKED so concurrent workers
// never grab the same job.
type JobStore struct {
	db *sqlx.DB
}

// NewJobStore creates a job store.
func NewJobStore(db *sqlx.DB) *JobStore {
	return &JobStore{db: db}
}

const jobColumns = `id, type, status, metadata, progress, message, result,
	created_at, started_at, completed_at`

type jobRow struct {
	ID          string           `db:"id"`
	Type        models.JobType   `db:"type"`
	Status      models.JobStatus `db:"status"`
	Metadata    []byte           `db:"metadata"`
	Progress    float64          `db:"progress"`
	Message     string           `db:"message"`
	Result      json.RawMessage  `db:"result"`
	CreatedAt   time.Time        `db:"created_at"`
	StartedAt   *time.Time       `db:"started_at"`
	CompletedAt *time.Time       `db:"completed_at"`
}

func (r *jobRow) toModel() (*models.Job, error) {
	j := &models.Job{
		ID:          r.ID,
		Type:        r.Type,
		Status:      r.Status,
		Progress:    r.Progress,
		Message:     r.Message,
		Result:      r.Result,
		CreatedAt:   r.CreatedAt,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &j.Metadata); err != nil {
			return nil, fmt.Errorf("decoding job metadata: %w", err)
		}
	}
	return j, nil
}

// Create enqueues a new PENDING job.
func (s *JobStore) Create(ctx context.Context, job *models.Job) error {
	if job.Type == "" {
		return NewValidationError("type", "job type is required")
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Status = models.JobStatusPending
	job.CreatedAt = time.Now()

	metadata, err := json.Marshal(orEmptyMap(job.Metadata))
	if err != nil {
		return fmt.Errorf("encoding job metadata: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, status, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		job.ID, job.Type, job.Status, metadata, job.CreatedAt,
	); err != nil {
		return fmt.Errorf("inserting job: %w", err)
	}
	return nil
}

// Get returns a job by ID.
func (s *JobStore) Get(ctx context.Context, id string) (*models.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying job %s: %w", id, err)
	}
	return row.toModel()
}

// List returns jobs newest first.
func (s *JobStore) List(ctx context.Context, f JobFilter) ([]models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Status != nil {
		conds = append(conds, `status = `+arg(*f.Status))
	}
	if f.Type != nil {
		conds = append(conds, `type = `+arg(*f.Type))
	}
	for i, c := range conds {
		if i == 0 {
			query += ` WHERE ` + c
		} else {
			query += ` AND ` + c
		}
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ` + arg(f.Limit)
	}

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	jobs := make([]models.Job, 0, len(rows))
	for i := range rows {
		j, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, nil
}

// ClaimNext atomically claims the oldest PENDING job and transitions it
// to RUNNING. Returns ErrNoJobsAvailable when the queue is empty.
func (s *JobStore) ClaimNext(ctx context.Context) (*models.Job, error) {
	var claimed *models.Job
	err := inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var row jobRow
		err := tx.GetContext(ctx, &row, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE status = $1
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED`,
			models.JobStatusPending)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNoJobsAvailable
		}
		if err != nil {
			return fmt.Errorf("selecting next job: %w", err)
		}
		now := time.Now()
		if _, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = $1, started_at = $2, updated_at = $2
			WHERE id = $3`,
			models.JobStatusRunning, now, row.ID); err != nil {
			return fmt.Errorf("claiming job %s: %w", row.ID, err)
		}
		row.Status = models.JobStatusRunning
		row.StartedAt = &now
		claimed, err = row.toModel()
		return err
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// UpdateProgress records progress (clamped to 0-100) and an optional
// message on a RUNNING job. It also bumps updated_at, which the stale
// reaper uses as a liveness signal.
func (s *JobStore) UpdateProgress(ctx context.Context, id string, progress float64, message string) error {
	progress = min(max(progress, 0), 100)
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET progress = $1, message = $2, updated_at = now()
		WHERE id = $3 AND status = $4`,
		progress, message, id, models.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("updating progress for job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Complete finishes a RUNNING job with its result document.
func (s *JobStore) Complete(ctx context.Context, id string, result any) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding result for job %s: %w", id, err)
	}
	return s.finish(ctx, id, models.JobStatusCompleted, encoded, "", 100)
}

// Fail finishes a RUNNING job with an error message.
func (s *JobStore) Fail(ctx context.Context, id, message string) error {
	return s.finish(ctx, id, models.JobStatusFailed, nil, message, -1)
}

// Cancel cancels a PENDING or RUNNING job. Cancellation of a running job
// is cooperative; the queue's worker observes it and stops.
func (s *JobStore) Cancel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = $1, completed_at = now(), updated_at = now()
		WHERE id = $2 AND status IN ($3, $4)`,
		models.JobStatusCancelled, id, models.JobStatusPending, models.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("cancelling job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("counting affected jobs: %w", err)
	}
	if n == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// ReapStale fails RUNNING jobs whose last progress update is older than
// staleAfter and cancels PENDING jobs older than pendingAfter. Returns
// the counts of reaped running and cancelled pending jobs.
func (s *JobStore) ReapStale(ctx context.Context, staleAfter, pendingAfter time.Duration) (int, int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = $1, message = 'stale job reaped',
			completed_at = now(), updated_at = now()
		WHERE status = $2 AND updated_at < now() - $3::interval`,
		models.JobStatusFailed, models.JobStatusRunning, intervalString(staleAfter))
	if err != nil {
		return 0, 0, fmt.Errorf("reaping stale running jobs: %w", err)
	}
	reaped, err := res.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("counting reaped jobs: %w", err)
	}

	res, err = s.db.ExecContext(ctx, `
		UPDATE jobs SET status = $1, message = 'expired before execution',
			completed_at = now(), updated_at = now()
		WHERE status = $2 AND created_at < now() - $3::interval`,
		models.JobStatusCancelled, models.JobStatusPending, intervalString(pendingAfter))
	if err != nil {
		return int(reaped), 0, fmt.Errorf("expiring stale pending jobs: %w", err)
	}
	expired, err := res.RowsAffected()
	if err != nil {
		return int(reaped), 0, fmt.Errorf("counting expired jobs: %w", err)
	}
	return int(reaped), int(expired), nil
}

// ResetRunning moves all RUNNING jobs back to PENDING. Called once at
// startup to recover jobs orphaned by an unclean shutdown.
func (s *JobStore) ResetRunning(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = $1, started_at = NULL, progress = 0,
			message = '', updated_at = now()
		WHERE status = $2`,
		models.JobStatusPending, models.JobStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("resetting running jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting reset jobs: %w", err)
	}
	return int(n), nil
}

// DeleteTerminalBefore removes terminal jobs older than cutoff.
func (s *JobStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE status IN ($1, $2, $3) AND completed_at < $4`,
		models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting old jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted jobs: %w", err)
	}
	return int(n), nil
}

func (s *JobStore) finish(ctx context.Context, id string, status models.JobStatus, result []byte, message string, progress float64) error {
	query := `UPDATE jobs SET status = $1, completed_at = now(), updated_at = now()`
	args := []any{status}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if result != nil {
		query += `, result = ` + arg(result)
	}
	if message != "" {
		query += `, message = ` + arg(message)
	}
	if progress >= 0 {
		query += `, progress = ` + arg(progress)
	}
	query += ` WHERE id = ` + arg(id) + ` AND status = ` + arg(models.JobStatusRunning)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("finishing job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("counting affected jobs: %w", err)
	}
	if n == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func intervalString(d time.Duration) string {
	return fmt.Sprintf("%d seconds", int64(d.Seconds()))
}
