package models

import "time"

// SyncEntityType names the entity class a sync run covers.
type SyncEntityType string

// Sync entity types. SyncEntityAll is the combined run driven by the
// scheduler's incremental mode.
const (
	SyncEntityScene     SyncEntityType = "scene"
	SyncEntityPerformer SyncEntityType = "performer"
	SyncEntityTag       SyncEntityType = "tag"
	SyncEntityStudio    SyncEntityType = "studio"
	SyncEntityAll       SyncEntityType = "all"
)

// SyncStatus is the outcome of a sync run.
type SyncStatus string

// Sync outcomes, computed from processed vs failed counts.
const (
	SyncStatusRunning   SyncStatus = "running"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusPartial   SyncStatus = "partial"
	SyncStatusFailed    SyncStatus = "failed"
)

// SyncHistory is a per-entity-type log row for one sync run. The latest
// completed row per entity type is the incremental watermark.
type SyncHistory struct {
	ID          int64          `db:"id" json:"id"`
	EntityType  SyncEntityType `db:"entity_type" json:"entity_type"`
	Status      SyncStatus     `db:"status" json:"status"`
	StartedAt   time.Time      `db:"started_at" json:"started_at"`
	CompletedAt *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	Synced      int            `db:"synced" json:"synced"`
	Created     int            `db:"created" json:"created"`
	Updated     int            `db:"updated" json:"updated"`
	Failed      int            `db:"failed" json:"failed"`
	Errors      []string       `db:"-" json:"errors,omitempty"`
}

// SyncResult is the aggregate outcome returned by a sync engine run.
type SyncResult struct {
	EntityType SyncEntityType `json:"entity_type"`
	Status     SyncStatus     `json:"status"`
	Processed  int            `json:"processed"`
	Created    int            `json:"created"`
	Updated    int            `json:"updated"`
	Failed     int            `json:"failed"`
	Errors     []string       `json:"errors,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	Duration   time.Duration  `json:"duration"`
}

// Outcome computes the run status from the processed/failed counts.
func (r *SyncResult) Outcome() SyncStatus {
	switch {
	case r.Failed == 0:
		return SyncStatusCompleted
	case r.Failed < r.Processed:
		return SyncStatusPartial
	default:
		return SyncStatusFailed
	}
}
