package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/medialib/curator/pkg/models"
)

// SyncHistoryStore persists per-run sync log rows. The newest completed
// row per entity type doubles as the incremental-sync watermark.
type SyncHistoryStore struct {
	db *sqlx.DB
}

// NewSyncHistoryStore creates a sync history store.
func NewSyncHistoryStore(db *sqlx.DB) *SyncHistoryStore {
	return &SyncHistoryStore{db: db}
}

// Start opens a RUNNING history row and returns its ID.
func (s *SyncHistoryStore) Start(ctx context.Context, entityType models.SyncEntityType) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sync_history (entity_type, status, started_at)
		VALUES ($1,$2,$3) RETURNING id`,
		entityType, models.SyncStatusRunning, time.Now(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("starting sync history for %s: %w", entityType, err)
	}
	return id, nil
}

// Complete finalizes a history row with the run's counts and outcome.
// Error strings are capped at 50 to bound the row size.
func (s *SyncHistoryStore) Complete(ctx context.Context, id int64, result *models.SyncResult) error {
	errs := result.Errors
	if len(errs) > 50 {
		errs = errs[:50]
	}
	encoded, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("encoding sync errors: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_history SET
			status = $1, completed_at = now(),
			synced = $2, created = $3, updated = $4, failed = $5, errors = $6
		WHERE id = $7`,
		result.Outcome(), result.Processed, result.Created, result.Updated,
		result.Failed, encoded, id)
	if err != nil {
		return fmt.Errorf("completing sync history %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// LatestWatermark returns the start time of the most recent successfully
// completed run for the entity type. Partial runs do not advance the
// watermark: their failures must be retried by the next incremental pass.
// Returns (zero, nil) when no completed run exists.
func (s *SyncHistoryStore) LatestWatermark(ctx context.Context, entityType models.SyncEntityType) (time.Time, error) {
	var started time.Time
	err := s.db.GetContext(ctx, &started, `
		SELECT started_at FROM sync_history
		WHERE entity_type = $1 AND status = $2
		ORDER BY completed_at DESC
		LIMIT 1`,
		entityType, models.SyncStatusCompleted)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("querying watermark for %s: %w", entityType, err)
	}
	return started, nil
}

// Recent returns the latest history rows, newest first.
func (s *SyncHistoryStore) Recent(ctx context.Context, limit int) ([]models.SyncHistory, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []struct {
		models.SyncHistory
		ErrorsJSON []byte `db:"errors"`
	}
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, entity_type, status, started_at, completed_at,
			synced, created, updated, failed, errors
		FROM sync_history ORDER BY started_at DESC LIMIT $1`, limit); err != nil {
		return nil, fmt.Errorf("listing sync history: %w", err)
	}
	out := make([]models.SyncHistory, 0, len(rows))
	for i := range rows {
		h := rows[i].SyncHistory
		if len(rows[i].ErrorsJSON) > 0 {
			if err := json.Unmarshal(rows[i].ErrorsJSON, &h.Errors); err != nil {
				return nil, fmt.Errorf("decoding sync errors: %w", err)
			}
		}
		out = append(out, h)
	}
	return out, nil
}
