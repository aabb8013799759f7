package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/medialib/curator/pkg/models"
)

// SceneStore persists the scene mirror: scalar fields plus owned files,
// markers, and the many-to-many performer/tag relations.
type SceneStore struct {
	db *sqlx.DB
}

// NewSceneStore creates a scene store.
func NewSceneStore(db *sqlx.DB) *SceneStore {
	return &SceneStore{db: db}
}

// SceneFilter narrows scene listings. Nil fields are ignored; set fields
// are ANDed.
type SceneFilter struct {
	IDs           []string
	Organized     *bool
	Analyzed      *bool
	VideoAnalyzed *bool
	StudioID      *string
}

const sceneColumns = `id, title, details, url, organized, rating, studio_id,
	analyzed, video_analyzed, manually_edited, sync_conflict, checksum,
	stash_created_at, stash_updated_at, stash_date, last_synced`

// Get returns a scene with its relationships loaded.
func (s *SceneStore) Get(ctx context.Context, id string) (*models.Scene, error) {
	var scene models.Scene
	err := s.db.GetContext(ctx, &scene,
		`SELECT `+sceneColumns+` FROM scenes WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying scene %s: %w", id, err)
	}
	scenes := []models.Scene{scene}
	if err := s.loadRelations(ctx, scenes); err != nil {
		return nil, err
	}
	return &scenes[0], nil
}

// List returns scenes matching the filter, relationships loaded.
func (s *SceneStore) List(ctx context.Context, f SceneFilter) ([]models.Scene, error) {
	query := `SELECT ` + sceneColumns + ` FROM scenes`
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.IDs) > 0 {
		query, inArgs, err := sqlx.In(query+` WHERE id IN (?) ORDER BY id`, f.IDs)
		if err != nil {
			return nil, fmt.Errorf("building scene id query: %w", err)
		}
		var scenes []models.Scene
		if err := s.db.SelectContext(ctx, &scenes, s.db.Rebind(query), inArgs...); err != nil {
			return nil, fmt.Errorf("querying scenes by id: %w", err)
		}
		if err := s.loadRelations(ctx, scenes); err != nil {
			return nil, err
		}
		return scenes, nil
	}

	if f.Organized != nil {
		conds = append(conds, "organized = "+arg(*f.Organized))
	}
	if f.Analyzed != nil {
		conds = append(conds, "analyzed = "+arg(*f.Analyzed))
	}
	if f.VideoAnalyzed != nil {
		conds = append(conds, "video_analyzed = "+arg(*f.VideoAnalyzed))
	}
	if f.StudioID != nil {
		conds = append(conds, "studio_id = "+arg(*f.StudioID))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id"

	var scenes []models.Scene
	if err := s.db.SelectContext(ctx, &scenes, query, args...); err != nil {
		return nil, fmt.Errorf("querying scenes: %w", err)
	}
	if err := s.loadRelations(ctx, scenes); err != nil {
		return nil, err
	}
	return scenes, nil
}

// Upsert inserts or updates a scene's scalar fields. Returns true when the
// scene was newly created.
func (s *SceneStore) Upsert(ctx context.Context, scene *models.Scene) (bool, error) {
	if scene.ID == "" {
		return false, NewValidationError("id", "scene id must not be empty")
	}
	var created bool
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO scenes (id, title, details, url, organized, rating, studio_id,
			analyzed, video_analyzed, manually_edited, sync_conflict, checksum,
			stash_created_at, stash_updated_at, stash_date, last_synced)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			details = EXCLUDED.details,
			url = EXCLUDED.url,
			organized = EXCLUDED.organized,
			rating = EXCLUDED.rating,
			studio_id = EXCLUDED.studio_id,
			checksum = EXCLUDED.checksum,
			stash_created_at = EXCLUDED.stash_created_at,
			stash_updated_at = EXCLUDED.stash_updated_at,
			stash_date = EXCLUDED.stash_date,
			last_synced = EXCLUDED.last_synced
		RETURNING (xmax = 0)`,
		scene.ID, scene.Title, scene.Details, scene.URL, scene.Organized,
		scene.Rating, scene.StudioID, scene.Analyzed, scene.VideoAnalyzed,
		scene.ManuallyEdited, scene.SyncConflict, scene.Checksum,
		scene.StashCreatedAt, scene.StashUpdatedAt, scene.StashDate,
		scene.LastSynced,
	).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("upserting scene %s: %w", scene.ID, err)
	}
	return created, nil
}

// ReplaceFiles reconciles the stored file list with the given one: files
// absent from the list are deleted, the rest upserted.
func (s *SceneStore) ReplaceFiles(ctx context.Context, sceneID string, files []models.SceneFile) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		ids := make([]string, 0, len(files))
		for _, f := range files {
			ids = append(ids, f.ID)
		}
		if err := deleteAbsent(ctx, tx, "scene_files", "scene_id", sceneID, ids); err != nil {
			return err
		}
		for _, f := range files {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO scene_files (id, scene_id, path, size, width, height,
					duration, frame_rate, codec, phash, oshash, is_primary)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
				ON CONFLICT (id) DO UPDATE SET
					path = EXCLUDED.path,
					size = EXCLUDED.size,
					width = EXCLUDED.width,
					height = EXCLUDED.height,
					duration = EXCLUDED.duration,
					frame_rate = EXCLUDED.frame_rate,
					codec = EXCLUDED.codec,
					phash = EXCLUDED.phash,
					oshash = EXCLUDED.oshash,
					is_primary = EXCLUDED.is_primary`,
				f.ID, sceneID, f.Path, f.Size, f.Width, f.Height,
				f.Duration, f.FrameRate, f.Codec, f.Phash, f.Oshash, f.IsPrimary,
			); err != nil {
				return fmt.Errorf("upserting file %s: %w", f.ID, err)
			}
		}
		return nil
	})
}

// ReplaceMarkers reconciles stored markers with the given list. Markers
// lacking a primary tag are skipped by the caller, not here.
func (s *SceneStore) ReplaceMarkers(ctx context.Context, sceneID string, markers []models.SceneMarker) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		ids := make([]string, 0, len(markers))
		for _, m := range markers {
			ids = append(ids, m.ID)
		}
		if err := deleteAbsent(ctx, tx, "scene_markers", "scene_id", sceneID, ids); err != nil {
			return err
		}
		for _, m := range markers {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO scene_markers (id, scene_id, seconds, end_seconds, title, primary_tag_id)
				VALUES ($1,$2,$3,$4,$5,$6)
				ON CONFLICT (id) DO UPDATE SET
					seconds = EXCLUDED.seconds,
					end_seconds = EXCLUDED.end_seconds,
					title = EXCLUDED.title,
					primary_tag_id = EXCLUDED.primary_tag_id`,
				m.ID, sceneID, m.Seconds, m.EndSeconds, m.Title, m.PrimaryTagID,
			); err != nil {
				return fmt.Errorf("upserting marker %s: %w", m.ID, err)
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM scene_marker_tags WHERE marker_id = $1`, m.ID); err != nil {
				return fmt.Errorf("clearing marker tags %s: %w", m.ID, err)
			}
			for _, tagID := range m.TagIDs {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO scene_marker_tags (marker_id, tag_id) VALUES ($1,$2)
					ON CONFLICT DO NOTHING`, m.ID, tagID); err != nil {
					return fmt.Errorf("inserting marker tag: %w", err)
				}
			}
		}
		return nil
	})
}

// SetPerformers clears and repopulates the scene's performer relations.
func (s *SceneStore) SetPerformers(ctx context.Context, sceneID string, performerIDs []string) error {
	return s.replaceRelation(ctx, "scene_performers", "performer_id", sceneID, performerIDs)
}

// SetTags clears and repopulates the scene's tag relations.
func (s *SceneStore) SetTags(ctx context.Context, sceneID string, tagIDs []string) error {
	return s.replaceRelation(ctx, "scene_tags", "tag_id", sceneID, tagIDs)
}

// MarkAnalyzed flags the given scenes analyzed; when video is set,
// video_analyzed is flagged as well.
func (s *SceneStore) MarkAnalyzed(ctx context.Context, sceneIDs []string, video bool) error {
	if len(sceneIDs) == 0 {
		return nil
	}
	query, args, err := sqlx.In(
		`UPDATE scenes SET analyzed = TRUE, video_analyzed = (video_analyzed OR ?) WHERE id IN (?)`,
		video, sceneIDs)
	if err != nil {
		return fmt.Errorf("building mark-analyzed query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("marking scenes analyzed: %w", err)
	}
	return nil
}

// SetManuallyEdited records that an operator edited the scene's text
// fields; the smart sync strategy preserves such edits.
func (s *SceneStore) SetManuallyEdited(ctx context.Context, sceneID string, edited bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scenes SET manually_edited = $2 WHERE id = $1`, sceneID, edited)
	if err != nil {
		return fmt.Errorf("setting manually_edited on %s: %w", sceneID, err)
	}
	return nil
}

// SetSyncConflict flags a scene whose incoming sync data conflicted with
// local state under the manual conflict policy.
func (s *SceneStore) SetSyncConflict(ctx context.Context, sceneID string, conflict bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scenes SET sync_conflict = $2 WHERE id = $1`, sceneID, conflict)
	if err != nil {
		return fmt.Errorf("setting sync_conflict on %s: %w", sceneID, err)
	}
	return nil
}

// Touch updates last_synced on a scene.
func (s *SceneStore) Touch(ctx context.Context, sceneID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scenes SET last_synced = $2 WHERE id = $1`, sceneID, at)
	if err != nil {
		return fmt.Errorf("touching scene %s: %w", sceneID, err)
	}
	return nil
}

// Count returns the number of mirrored scenes.
func (s *SceneStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM scenes`); err != nil {
		return 0, fmt.Errorf("counting scenes: %w", err)
	}
	return n, nil
}

// --- relation loading ---

func (s *SceneStore) loadRelations(ctx context.Context, scenes []models.Scene) error {
	if len(scenes) == 0 {
		return nil
	}
	ids := make([]string, len(scenes))
	index := make(map[string]*models.Scene, len(scenes))
	for i := range scenes {
		ids[i] = scenes[i].ID
		index[scenes[i].ID] = &scenes[i]
	}

	// Files
	var files []models.SceneFile
	query, args, err := sqlx.In(`SELECT id, scene_id, path, size, width, height,
		duration, frame_rate, codec, phash, oshash, is_primary
		FROM scene_files WHERE scene_id IN (?) ORDER BY is_primary DESC, id`, ids)
	if err != nil {
		return fmt.Errorf("building files query: %w", err)
	}
	if err := s.db.SelectContext(ctx, &files, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("loading scene files: %w", err)
	}
	for _, f := range files {
		sc := index[f.SceneID]
		sc.Files = append(sc.Files, f)
	}

	// Markers + marker tags
	var markers []models.SceneMarker
	query, args, err = sqlx.In(`SELECT id, scene_id, seconds, end_seconds, title, primary_tag_id
		FROM scene_markers WHERE scene_id IN (?) ORDER BY seconds`, ids)
	if err != nil {
		return fmt.Errorf("building markers query: %w", err)
	}
	if err := s.db.SelectContext(ctx, &markers, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("loading scene markers: %w", err)
	}
	if len(markers) > 0 {
		markerIDs := make([]string, len(markers))
		markerIndex := make(map[string]*models.SceneMarker, len(markers))
		for i := range markers {
			markerIDs[i] = markers[i].ID
			markerIndex[markers[i].ID] = &markers[i]
		}
		var rows []struct {
			MarkerID string `db:"marker_id"`
			TagID    string `db:"tag_id"`
		}
		query, args, err = sqlx.In(
			`SELECT marker_id, tag_id FROM scene_marker_tags WHERE marker_id IN (?)`, markerIDs)
		if err != nil {
			return fmt.Errorf("building marker tags query: %w", err)
		}
		if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
			return fmt.Errorf("loading marker tags: %w", err)
		}
		for _, r := range rows {
			m := markerIndex[r.MarkerID]
			m.TagIDs = append(m.TagIDs, r.TagID)
		}
	}
	for _, m := range markers {
		sc := index[m.SceneID]
		sc.Markers = append(sc.Markers, m)
	}

	// Performer and tag relations
	if err := s.loadIDRelation(ctx, "scene_performers", "performer_id", ids, func(sceneID, id string) {
		sc := index[sceneID]
		sc.PerformerIDs = append(sc.PerformerIDs, id)
	}); err != nil {
		return err
	}
	return s.loadIDRelation(ctx, "scene_tags", "tag_id", ids, func(sceneID, id string) {
		sc := index[sceneID]
		sc.TagIDs = append(sc.TagIDs, id)
	})
}

func (s *SceneStore) loadIDRelation(ctx context.Context, table, column string, sceneIDs []string, add func(sceneID, id string)) error {
	var rows []struct {
		SceneID string `db:"scene_id"`
		ID      string `db:"rel_id"`
	}
	query, args, err := sqlx.In(
		`SELECT scene_id, `+column+` AS rel_id FROM `+table+` WHERE scene_id IN (?) ORDER BY `+column, sceneIDs)
	if err != nil {
		return fmt.Errorf("building %s query: %w", table, err)
	}
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("loading %s: %w", table, err)
	}
	for _, r := range rows {
		add(r.SceneID, r.ID)
	}
	return nil
}

func (s *SceneStore) replaceRelation(ctx context.Context, table, column, sceneID string, ids []string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE scene_id = $1`, sceneID); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO `+table+` (scene_id, `+column+`) VALUES ($1,$2) ON CONFLICT DO NOTHING`,
				sceneID, id); err != nil {
				return fmt.Errorf("inserting into %s: %w", table, err)
			}
		}
		return nil
	})
}

func (s *SceneStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return inTx(ctx, s.db, fn)
}

// deleteAbsent removes rows owned by ownerID whose id is not in keep.
func deleteAbsent(ctx context.Context, tx *sqlx.Tx, table, ownerCol, ownerID string, keep []string) error {
	if len(keep) == 0 {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE `+ownerCol+` = $1`, ownerID)
		if err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
		return nil
	}
	query, args, err := sqlx.In(
		`DELETE FROM `+table+` WHERE `+ownerCol+` = ? AND id NOT IN (?)`, ownerID, keep)
	if err != nil {
		return fmt.Errorf("building delete for %s: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return fmt.Errorf("pruning %s: %w", table, err)
	}
	return nil
}
