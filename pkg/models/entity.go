package models

import "time"

// Performer is a mirror of a Catalog performer.
type Performer struct {
	ID         string    `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	Aliases    []string  `db:"-" json:"aliases"`
	LastSynced time.Time `db:"last_synced" json:"last_synced"`
}

// Tag is a mirror of a Catalog tag. ParentID forms a DAG; cycles are
// rejected at sync time.
type Tag struct {
	ID         string    `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	ParentID   *string   `db:"parent_id" json:"parent_id,omitempty"`
	LastSynced time.Time `db:"last_synced" json:"last_synced"`
}

// Studio is a mirror of a Catalog studio.
type Studio struct {
	ID         string    `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	ParentID   *string   `db:"parent_id" json:"parent_id,omitempty"`
	LastSynced time.Time `db:"last_synced" json:"last_synced"`
}

// EntityRef is a lightweight id/name pair for a related entity as
// delivered by the Catalog. Sync uses it to create minimal mirror
// records for entities it has not seen yet.
type EntityRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AI status tags drive the operator workflow for video analysis: scenes
// tagged AI_TagMe are picked up, then re-tagged AI_Tagged on success or
// AI_Errored on failure.
const (
	TagAITagMe   = "AI_TagMe"
	TagAITagged  = "AI_Tagged"
	TagAIErrored = "AI_Errored"
)
