package models

import (
	"encoding/json"
	"time"
)

// PlanStatus is the lifecycle state of an analysis plan.
type PlanStatus string

// Plan lifecycle states. Plans are created DRAFT, transition REVIEWING
// while being applied, and end APPLIED or CANCELLED.
const (
	PlanStatusDraft     PlanStatus = "draft"
	PlanStatusReviewing PlanStatus = "reviewing"
	PlanStatusApplied   PlanStatus = "applied"
	PlanStatusCancelled PlanStatus = "cancelled"
)

// Valid reports whether s is a known plan status.
func (s PlanStatus) Valid() bool {
	switch s {
	case PlanStatusDraft, PlanStatusReviewing, PlanStatusApplied, PlanStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the status permits no further transitions.
func (s PlanStatus) Terminal() bool {
	return s == PlanStatusApplied || s == PlanStatusCancelled
}

// AnalysisPlan is a reviewable batch of metadata changes staged locally
// before being applied to the Catalog. A plan exclusively owns its changes.
type AnalysisPlan struct {
	ID          string         `db:"id" json:"id"`
	Name        string         `db:"name" json:"name"`
	Description string         `db:"description" json:"description"`
	Status      PlanStatus     `db:"status" json:"status"`
	Metadata    map[string]any `db:"-" json:"metadata"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	AppliedAt   *time.Time     `db:"applied_at" json:"applied_at,omitempty"`

	Changes []PlanChange `db:"-" json:"changes,omitempty"`
}

// ChangeField identifies the scene field a change targets.
type ChangeField string

// Change target fields.
const (
	FieldStudio     ChangeField = "studio"
	FieldPerformers ChangeField = "performers"
	FieldTags       ChangeField = "tags"
	FieldDetails    ChangeField = "details"
	FieldMarkers    ChangeField = "markers"
)

// Valid reports whether f is a known change field.
func (f ChangeField) Valid() bool {
	switch f {
	case FieldStudio, FieldPerformers, FieldTags, FieldDetails, FieldMarkers:
		return true
	}
	return false
}

// ChangeAction is the mutation kind a change proposes.
type ChangeAction string

// Change actions.
const (
	ActionSet    ChangeAction = "set"
	ActionAdd    ChangeAction = "add"
	ActionRemove ChangeAction = "remove"
	ActionUpdate ChangeAction = "update"
)

// ChangeStatus is the review state of a single proposed change.
type ChangeStatus string

// Change review states. Applied is terminal: an applied change is immutable.
const (
	ChangeStatusPending  ChangeStatus = "pending"
	ChangeStatusApproved ChangeStatus = "approved"
	ChangeStatusRejected ChangeStatus = "rejected"
	ChangeStatusApplied  ChangeStatus = "applied"
)

// PlanChange is a single atomic field-level edit proposal.
type PlanChange struct {
	ID            string          `db:"id" json:"id"`
	PlanID        string          `db:"plan_id" json:"plan_id"`
	SceneID       string          `db:"scene_id" json:"scene_id"`
	Field         ChangeField     `db:"field" json:"field"`
	Action        ChangeAction    `db:"action" json:"action"`
	CurrentValue  json.RawMessage `db:"current_value" json:"current_value,omitempty"`
	ProposedValue json.RawMessage `db:"proposed_value" json:"proposed_value"`
	Confidence    float64         `db:"confidence" json:"confidence"`
	Reason        string          `db:"reason" json:"reason"`
	Status        ChangeStatus    `db:"status" json:"status"`
	AppliedAt     *time.Time      `db:"applied_at" json:"applied_at,omitempty"`
}

// MarkerValue is the proposed_value payload for marker changes.
type MarkerValue struct {
	Seconds    float64  `json:"seconds"`
	EndSeconds *float64 `json:"end_seconds,omitempty"`
	Title      string   `json:"title"`
	Tags       []string `json:"tags"` // first tag is primary
}
