package models

import (
	"encoding/json"
	"time"
)

// JobType identifies the long-running operation a job performs.
type JobType string

// Job types.
const (
	JobTypeAnalysis        JobType = "analysis"
	JobTypeSyncFull        JobType = "sync_full"
	JobTypeSyncIncremental JobType = "sync_incremental"
	JobTypeSyncTargeted    JobType = "sync_targeted"
	JobTypeCleanup         JobType = "cleanup"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

// Job lifecycle states.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
// Invariant: CompletedAt is set iff the status is terminal.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Job is a uniform wrapper around every long-running operation.
type Job struct {
	ID          string          `db:"id" json:"id"`
	Type        JobType         `db:"type" json:"type"`
	Status      JobStatus       `db:"status" json:"status"`
	Metadata    map[string]any  `db:"-" json:"metadata,omitempty"`
	Progress    float64         `db:"progress" json:"progress"` // 0-100
	Message     string          `db:"message" json:"message"`
	Result      json.RawMessage `db:"result" json:"result,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	StartedAt   *time.Time      `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
}
