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

// BulkAction is a bulk review operation over a plan's pending changes.
type BulkAction string

// Bulk review actions. All of them touch PENDING changes only; reviewed
// and applied changes are never revisited.
const (
	BulkAcceptAll          BulkAction = "accept_all"
	BulkRejectAll          BulkAction = "reject_all"
	BulkAcceptByField      BulkAction = "accept_by_field"
	BulkAcceptByConfidence BulkAction = "accept_by_confidence"
)

// PlanFilter narrows ListPlans. Limit/Offset page the listing; zero
// Limit returns everything.
type PlanFilter struct {
	Status *models.PlanStatus
	Limit  int
	Offset int
}

// PlanStore persists analysis plans and their changes.
type PlanStore struct {
	db *sqlx.DB
}

// NewPlanStore creates a plan store.
func NewPlanStore(db *sqlx.DB) *PlanStore {
	return &PlanStore{db: db}
}

const planColumns = `id, name, description, status, metadata, created_at, applied_at`

const changeColumns = `id, plan_id, scene_id, field, action, current_value,
	proposed_value, confidence, reason, status, applied_at`

type planRow struct {
	ID          string            `db:"id"`
	Name        string            `db:"name"`
	Description string            `db:"description"`
	Status      models.PlanStatus `db:"status"`
	Metadata    []byte            `db:"metadata"`
	CreatedAt   time.Time         `db:"created_at"`
	AppliedAt   *time.Time        `db:"applied_at"`
}

func (r *planRow) toModel() (*models.AnalysisPlan, error) {
	p := &models.AnalysisPlan{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Status:      r.Status,
		CreatedAt:   r.CreatedAt,
		AppliedAt:   r.AppliedAt,
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &p.Metadata); err != nil {
			return nil, fmt.Errorf("decoding plan metadata: %w", err)
		}
	}
	return p, nil
}

// Create persists a plan and all of its changes in one transaction. IDs
// are assigned here; change statuses start PENDING.
func (s *PlanStore) Create(ctx context.Context, plan *models.AnalysisPlan) error {
	if plan.Name == "" {
		return NewValidationError("name", "plan name is required")
	}
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	plan.Status = models.PlanStatusDraft
	plan.CreatedAt = time.Now()

	metadata, err := json.Marshal(orEmptyMap(plan.Metadata))
	if err != nil {
		return fmt.Errorf("encoding plan metadata: %w", err)
	}

	return inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO plans (id, name, description, status, metadata, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			plan.ID, plan.Name, plan.Description, plan.Status, metadata, plan.CreatedAt,
		); err != nil {
			return fmt.Errorf("inserting plan: %w", err)
		}
		for i := range plan.Changes {
			ch := &plan.Changes[i]
			if !ch.Field.Valid() {
				return NewValidationError("field", fmt.Sprintf("unknown change field %q", ch.Field))
			}
			if ch.ID == "" {
				ch.ID = uuid.NewString()
			}
			ch.PlanID = plan.ID
			ch.Status = models.ChangeStatusPending
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO plan_changes
					(id, plan_id, scene_id, field, action, current_value, proposed_value, confidence, reason, status)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
				ch.ID, ch.PlanID, ch.SceneID, ch.Field, ch.Action,
				nullableJSON(ch.CurrentValue), []byte(ch.ProposedValue),
				ch.Confidence, ch.Reason, ch.Status,
			); err != nil {
				return fmt.Errorf("inserting change for scene %s: %w", ch.SceneID, err)
			}
		}
		return nil
	})
}

// Get returns a plan with its changes loaded.
func (s *PlanStore) Get(ctx context.Context, id string) (*models.AnalysisPlan, error) {
	var row planRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+planColumns+` FROM plans WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying plan %s: %w", id, err)
	}
	plan, err := row.toModel()
	if err != nil {
		return nil, err
	}
	if err := s.db.SelectContext(ctx, &plan.Changes,
		`SELECT `+changeColumns+` FROM plan_changes WHERE plan_id = $1 ORDER BY scene_id, field, id`, id); err != nil {
		return nil, fmt.Errorf("loading changes for plan %s: %w", id, err)
	}
	return plan, nil
}

// List returns plans without changes, newest first.
func (s *PlanStore) List(ctx context.Context, f PlanFilter) ([]models.AnalysisPlan, error) {
	query := `SELECT ` + planColumns + ` FROM plans`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Status != nil {
		query += ` WHERE status = ` + arg(*f.Status)
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ` + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += ` OFFSET ` + arg(f.Offset)
	}

	var rows []planRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listing plans: %w", err)
	}
	plans := make([]models.AnalysisPlan, 0, len(rows))
	for i := range rows {
		p, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		plans = append(plans, *p)
	}
	return plans, nil
}

// GetChange returns a single change.
func (s *PlanStore) GetChange(ctx context.Context, changeID string) (*models.PlanChange, error) {
	var ch models.PlanChange
	err := s.db.GetContext(ctx, &ch,
		`SELECT `+changeColumns+` FROM plan_changes WHERE id = $1`, changeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying change %s: %w", changeID, err)
	}
	return &ch, nil
}

// UpdateChangeStatus sets a change to APPROVED or REJECTED during review.
// Applied changes and changes of applied plans are immutable.
func (s *PlanStore) UpdateChangeStatus(ctx context.Context, changeID string, status models.ChangeStatus) error {
	if status != models.ChangeStatusApproved && status != models.ChangeStatusRejected &&
		status != models.ChangeStatusPending {
		return NewValidationError("status", fmt.Sprintf("cannot set change status to %q", status))
	}
	return inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var current struct {
			Status     models.ChangeStatus `db:"status"`
			PlanStatus models.PlanStatus   `db:"plan_status"`
		}
		err := tx.GetContext(ctx, &current, `
			SELECT c.status, p.status AS plan_status
			FROM plan_changes c JOIN plans p ON p.id = c.plan_id
			WHERE c.id = $1
			FOR UPDATE OF c`, changeID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("locking change %s: %w", changeID, err)
		}
		if current.PlanStatus == models.PlanStatusApplied {
			return ErrPlanApplied
		}
		if current.Status == models.ChangeStatusApplied {
			return ErrChangeApplied
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE plan_changes SET status = $1 WHERE id = $2`, status, changeID); err != nil {
			return fmt.Errorf("updating change %s: %w", changeID, err)
		}
		return nil
	})
}

// UpdateChangeValue replaces a change's proposed value during review.
// The edit resets the change to PENDING so it must be re-approved.
// Applied changes and changes of applied plans are immutable.
func (s *PlanStore) UpdateChangeValue(ctx context.Context, changeID string, proposed json.RawMessage) error {
	if len(proposed) == 0 || !json.Valid(proposed) {
		return NewValidationError("proposed_value", "proposed value must be non-empty JSON")
	}
	return inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var current struct {
			Status     models.ChangeStatus `db:"status"`
			PlanStatus models.PlanStatus   `db:"plan_status"`
		}
		err := tx.GetContext(ctx, &current, `
			SELECT c.status, p.status AS plan_status
			FROM plan_changes c JOIN plans p ON p.id = c.plan_id
			WHERE c.id = $1
			FOR UPDATE OF c`, changeID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("locking change %s: %w", changeID, err)
		}
		if current.PlanStatus == models.PlanStatusApplied {
			return ErrPlanApplied
		}
		if current.Status == models.ChangeStatusApplied {
			return ErrChangeApplied
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE plan_changes SET proposed_value = $1, status = $2 WHERE id = $3`,
			[]byte(proposed), models.ChangeStatusPending, changeID); err != nil {
			return fmt.Errorf("updating change %s value: %w", changeID, err)
		}
		return nil
	})
}

// BulkUpdateChanges applies a bulk review action to the plan's PENDING
// changes and returns the number of changes affected.
func (s *PlanStore) BulkUpdateChanges(ctx context.Context, planID string, action BulkAction, field models.ChangeField, minConfidence float64) (int, error) {
	var affected int
	err := inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var planStatus models.PlanStatus
		err := tx.GetContext(ctx, &planStatus,
			`SELECT status FROM plans WHERE id = $1 FOR UPDATE`, planID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("locking plan %s: %w", planID, err)
		}
		if planStatus == models.PlanStatusApplied {
			return ErrPlanApplied
		}

		var res sql.Result
		switch action {
		case BulkAcceptAll:
			res, err = tx.ExecContext(ctx, `
				UPDATE plan_changes SET status = $1
				WHERE plan_id = $2 AND status = $3`,
				models.ChangeStatusApproved, planID, models.ChangeStatusPending)
		case BulkRejectAll:
			res, err = tx.ExecContext(ctx, `
				UPDATE plan_changes SET status = $1
				WHERE plan_id = $2 AND status = $3`,
				models.ChangeStatusRejected, planID, models.ChangeStatusPending)
		case BulkAcceptByField:
			if !field.Valid() {
				return NewValidationError("field", fmt.Sprintf("unknown change field %q", field))
			}
			res, err = tx.ExecContext(ctx, `
				UPDATE plan_changes SET status = $1
				WHERE plan_id = $2 AND status = $3 AND field = $4`,
				models.ChangeStatusApproved, planID, models.ChangeStatusPending, field)
		case BulkAcceptByConfidence:
			res, err = tx.ExecContext(ctx, `
				UPDATE plan_changes SET status = $1
				WHERE plan_id = $2 AND status = $3 AND confidence >= $4`,
				models.ChangeStatusApproved, planID, models.ChangeStatusPending, minConfidence)
		default:
			return NewValidationError("action", fmt.Sprintf("unknown bulk action %q", action))
		}
		if err != nil {
			return fmt.Errorf("bulk %s on plan %s: %w", action, planID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("counting affected changes: %w", err)
		}
		affected = int(n)
		return nil
	})
	return affected, err
}

// MarkChangeApplied transitions an approved change to APPLIED and stamps it.
func (s *PlanStore) MarkChangeApplied(ctx context.Context, changeID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE plan_changes SET status = $1, applied_at = now()
		WHERE id = $2 AND status = $3`,
		models.ChangeStatusApplied, changeID, models.ChangeStatusApproved)
	if err != nil {
		return fmt.Errorf("marking change %s applied: %w", changeID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("counting affected changes: %w", err)
	}
	if n == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// SetStatus transitions the plan's lifecycle state. Allowed transitions:
// DRAFT->REVIEWING, DRAFT->CANCELLED, REVIEWING->APPLIED,
// REVIEWING->CANCELLED, REVIEWING->DRAFT. Terminal states permit nothing.
func (s *PlanStore) SetStatus(ctx context.Context, planID string, status models.PlanStatus) error {
	if !status.Valid() {
		return NewValidationError("status", fmt.Sprintf("unknown plan status %q", status))
	}
	return inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var current models.PlanStatus
		err := tx.GetContext(ctx, &current,
			`SELECT status FROM plans WHERE id = $1 FOR UPDATE`, planID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("locking plan %s: %w", planID, err)
		}
		if !validPlanTransition(current, status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
		}
		if status == models.PlanStatusApplied {
			_, err = tx.ExecContext(ctx,
				`UPDATE plans SET status = $1, applied_at = now() WHERE id = $2`, status, planID)
		} else {
			_, err = tx.ExecContext(ctx,
				`UPDATE plans SET status = $1 WHERE id = $2`, status, planID)
		}
		if err != nil {
			return fmt.Errorf("updating plan %s: %w", planID, err)
		}
		return nil
	})
}

// UpdateMetadata replaces the plan's metadata document.
func (s *PlanStore) UpdateMetadata(ctx context.Context, planID string, metadata map[string]any) error {
	encoded, err := json.Marshal(orEmptyMap(metadata))
	if err != nil {
		return fmt.Errorf("encoding plan metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE plans SET metadata = $1 WHERE id = $2`, encoded, planID)
	if err != nil {
		return fmt.Errorf("updating plan %s metadata: %w", planID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a plan and (by cascade) its changes. Applied plans are
// audit records and cannot be deleted.
func (s *PlanStore) Delete(ctx context.Context, planID string) error {
	return inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var status models.PlanStatus
		err := tx.GetContext(ctx, &status,
			`SELECT status FROM plans WHERE id = $1 FOR UPDATE`, planID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("locking plan %s: %w", planID, err)
		}
		if status == models.PlanStatusApplied {
			return ErrPlanApplied
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM plans WHERE id = $1`, planID); err != nil {
			return fmt.Errorf("deleting plan %s: %w", planID, err)
		}
		return nil
	})
}

// DeleteCancelledBefore removes cancelled plans older than cutoff.
// Applied plans are audit records and are kept indefinitely.
func (s *PlanStore) DeleteCancelledBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM plans
		WHERE status = $1 AND created_at < $2`,
		models.PlanStatusCancelled, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting old plans: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted plans: %w", err)
	}
	return int(n), nil
}

// ChangeCounts returns per-status change counts for a plan.
func (s *PlanStore) ChangeCounts(ctx context.Context, planID string) (map[models.ChangeStatus]int, error) {
	var rows []struct {
		Status models.ChangeStatus `db:"status"`
		Count  int                 `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT status, COUNT(*) AS count FROM plan_changes
		WHERE plan_id = $1 GROUP BY status`, planID); err != nil {
		return nil, fmt.Errorf("counting changes for plan %s: %w", planID, err)
	}
	counts := make(map[models.ChangeStatus]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// PlanStats is the aggregate snapshot behind the stats endpoint.
type PlanStats struct {
	PlansByStatus   map[models.PlanStatus]int   `json:"plans_by_status"`
	ChangesByStatus map[models.ChangeStatus]int `json:"changes_by_status"`
	ChangesByField  map[models.ChangeField]int  `json:"changes_by_field"`
}

// Stats aggregates plan and change counts across all plans.
func (s *PlanStore) Stats(ctx context.Context) (*PlanStats, error) {
	stats := &PlanStats{
		PlansByStatus:   make(map[models.PlanStatus]int),
		ChangesByStatus: make(map[models.ChangeStatus]int),
		ChangesByField:  make(map[models.ChangeField]int),
	}

	var planRows []struct {
		Status models.PlanStatus `db:"status"`
		Count  int               `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &planRows,
		`SELECT status, COUNT(*) AS count FROM plans GROUP BY status`); err != nil {
		return nil, fmt.Errorf("counting plans by status: %w", err)
	}
	for _, r := range planRows {
		stats.PlansByStatus[r.Status] = r.Count
	}

	var statusRows []struct {
		Status models.ChangeStatus `db:"status"`
		Count  int                 `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &statusRows,
		`SELECT status, COUNT(*) AS count FROM plan_changes GROUP BY status`); err != nil {
		return nil, fmt.Errorf("counting changes by status: %w", err)
	}
	for _, r := range statusRows {
		stats.ChangesByStatus[r.Status] = r.Count
	}

	var fieldRows []struct {
		Field models.ChangeField `db:"field"`
		Count int                `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &fieldRows,
		`SELECT field, COUNT(*) AS count FROM plan_changes GROUP BY field`); err != nil {
		return nil, fmt.Errorf("counting changes by field: %w", err)
	}
	for _, r := range fieldRows {
		stats.ChangesByField[r.Field] = r.Count
	}

	return stats, nil
}

func validPlanTransition(from, to models.PlanStatus) bool {
	switch from {
	case models.PlanStatusDraft:
		return to == models.PlanStatusReviewing || to == models.PlanStatusCancelled
	case models.PlanStatusReviewing:
		return to == models.PlanStatusApplied || to == models.PlanStatusCancelled ||
			to == models.PlanStatusDraft
	}
	return false
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
