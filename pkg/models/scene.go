// Package models defines the domain records shared across the service:
// the Catalog mirror entities (scenes, performers, tags, studios), the
// analysis-plan aggregates, jobs, and sync bookkeeping.
package models

import "time"

// Scene is the mirror-DB representation of a Catalog scene.
//
// Relationship fields (Files, Markers, PerformerIDs, TagIDs) are loaded
// on demand by the scene store; scalar fields map 1:1 to columns.
type Scene struct {
	ID        string   `db:"id" json:"id"`
	Title     string   `db:"title" json:"title"`
	Details   string   `db:"details" json:"details"`
	URL       string   `db:"url" json:"url"`
	Organized bool     `db:"organized" json:"organized"`
	Rating    *float64 `db:"rating" json:"rating,omitempty"` // 0-5 internal scale
	StudioID  *string  `db:"studio_id" json:"studio_id,omitempty"`

	PerformerIDs []string      `db:"-" json:"performer_ids"`
	TagIDs       []string      `db:"-" json:"tag_ids"`
	Files        []SceneFile   `db:"-" json:"files"`
	Markers      []SceneMarker `db:"-" json:"markers"`

	// Refs carries related-entity names from the Catalog. Populated only
	// on scenes fetched remotely, never loaded from the mirror.
	Refs SceneRefs `db:"-" json:"-"`

	Analyzed       bool `db:"analyzed" json:"analyzed"`
	VideoAnalyzed  bool `db:"video_analyzed" json:"video_analyzed"`
	ManuallyEdited bool `db:"manually_edited" json:"manually_edited"`
	SyncConflict   bool `db:"sync_conflict" json:"sync_conflict"`

	// Checksum is the content checksum recorded at sync time (hex SHA-256).
	Checksum string `db:"checksum" json:"-"`

	StashCreatedAt time.Time  `db:"stash_created_at" json:"stash_created_at"`
	StashUpdatedAt time.Time  `db:"stash_updated_at" json:"stash_updated_at"`
	StashDate      *time.Time `db:"stash_date" json:"stash_date,omitempty"`
	LastSynced     time.Time  `db:"last_synced" json:"last_synced"`
}

// PrimaryFile returns the scene's primary file, or nil when the scene
// has no files. Invariant: if any file exists, exactly one is primary.
func (s *Scene) PrimaryFile() *SceneFile {
	for i := range s.Files {
		if s.Files[i].IsPrimary {
			return &s.Files[i]
		}
	}
	return nil
}

// FilePath returns the primary file's path, or "" when the scene has no files.
func (s *Scene) FilePath() string {
	if f := s.PrimaryFile(); f != nil {
		return f.Path
	}
	return ""
}

// SceneRefs holds the id/name pairs of a remote scene's relationships.
type SceneRefs struct {
	Studio     *EntityRef
	Performers []EntityRef
	Tags       []EntityRef
}

// SceneFile is a single media file attached to a scene.
type SceneFile struct {
	ID        string  `db:"id" json:"id"`
	SceneID   string  `db:"scene_id" json:"scene_id"`
	Path      string  `db:"path" json:"path"`
	Size      int64   `db:"size" json:"size"`
	Width     int     `db:"width" json:"width"`
	Height    int     `db:"height" json:"height"`
	Duration  float64 `db:"duration" json:"duration"` // seconds
	FrameRate float64 `db:"frame_rate" json:"frame_rate"`
	Codec     string  `db:"codec" json:"codec"`
	Phash     *string `db:"phash" json:"phash,omitempty"`
	Oshash    *string `db:"oshash" json:"oshash,omitempty"`
	IsPrimary bool    `db:"is_primary" json:"is_primary"`
}

// SceneMarker is a timecoded annotation on a scene. A marker always has a
// primary tag; EndSeconds, when set, is >= Seconds.
type SceneMarker struct {
	ID           string   `db:"id" json:"id"`
	SceneID      string   `db:"scene_id" json:"scene_id"`
	Seconds      float64  `db:"seconds" json:"seconds"`
	EndSeconds   *float64 `db:"end_seconds" json:"end_seconds,omitempty"`
	Title        string   `db:"title" json:"title"`
	PrimaryTagID string   `db:"primary_tag_id" json:"primary_tag_id"`
	TagIDs       []string `db:"-" json:"tag_ids"`
}
