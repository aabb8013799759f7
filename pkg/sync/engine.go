package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/medialib/curator/pkg/catalog"
	"github.com/medialib/curator/pkg/config"
	"github.com/medialib/curator/pkg/models"
	"github.com/medialib/curator/pkg/store"
)

// fallbackWatermark bounds the first-ever incremental "all" run when no
// completed history exists for it.
const fallbackWatermark = 24 * time.Hour

// Mode selects how the scene set is resolved.
type Mode string

// Sync modes.
const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
	ModeTargeted    Mode = "targeted"
)

// ProgressFunc receives batch-level progress during a run.
type ProgressFunc func(processed, total int, message string)

// Options shapes one scene sync run.
type Options struct {
	Mode Mode

	// SceneIDs and Query narrow a targeted run. IDs win when both are set.
	SceneIDs []string
	Query    string

	Progress ProgressFunc
}

// Catalog is the remote read surface the engine pulls from.
type Catalog interface {
	GetScenes(ctx context.Context, q catalog.SceneQuery) ([]*models.Scene, int, error)
	GetScene(ctx context.Context, id string) (*models.Scene, error)
	FindScenes(ctx context.Context, query string) ([]*models.Scene, error)
	GetAllPerformers(ctx context.Context) ([]*models.Performer, error)
	GetPerformersSince(ctx context.Context, ts time.Time) ([]*models.Performer, error)
	GetAllTags(ctx context.Context) ([]*models.Tag, error)
	GetTagsSince(ctx context.Context, ts time.Time) ([]*models.Tag, error)
	GetAllStudios(ctx context.Context) ([]*models.Studio, error)
	GetStudiosSince(ctx context.Context, ts time.Time) ([]*models.Studio, error)
}

// Scenes is the mirror scene surface.
type Scenes interface {
	Get(ctx context.Context, id string) (*models.Scene, error)
	Upsert(ctx context.Context, scene *models.Scene) (bool, error)
	ReplaceFiles(ctx context.Context, sceneID string, files []models.SceneFile) error
	ReplaceMarkers(ctx context.Context, sceneID string, markers []models.SceneMarker) error
	SetPerformers(ctx context.Context, sceneID string, performerIDs []string) error
	SetTags(ctx context.Context, sceneID string, tagIDs []string) error
	SetSyncConflict(ctx context.Context, sceneID string, conflict bool) error
	Touch(ctx context.Context, sceneID string, at time.Time) error
}

// Entities is the mirror entity surface.
type Entities interface {
	PerformersByIDs(ctx context.Context, ids []string) (map[string]models.Performer, error)
	TagsByIDs(ctx context.Context, ids []string) (map[string]models.Tag, error)
	StudiosByIDs(ctx context.Context, ids []string) (map[string]models.Studio, error)
	UpsertPerformer(ctx context.Context, p *models.Performer) (bool, error)
	UpsertTag(ctx context.Context, t *models.Tag) (bool, error)
	UpsertStudio(ctx context.Context, st *models.Studio) (bool, error)
}

// History is the sync bookkeeping surface.
type History interface {
	Start(ctx context.Context, entityType models.SyncEntityType) (int64, error)
	Complete(ctx context.Context, id int64, result *models.SyncResult) error
	LatestWatermark(ctx context.Context, entityType models.SyncEntityType) (time.Time, error)
}

// Engine pulls Catalog data into the mirror.
type Engine struct {
	catalog  Catalog
	scenes   Scenes
	entities Entities
	history  History
	strategy Strategy
	resolver *Resolver
	cfg      *config.SyncConfig
	logger   *slog.Logger
}

// NewEngine wires a sync engine from the configured strategy and
// conflict policy.
func NewEngine(cat Catalog, scenes Scenes, entities Entities, history History, cfg *config.SyncConfig, logger *slog.Logger) *Engine {
	return &Engine{
		catalog:  cat,
		scenes:   scenes,
		entities: entities,
		history:  history,
		strategy: StrategyFor(cfg.Strategy),
		resolver: NewResolver(cfg.ConflictPolicy, logger),
		cfg:      cfg,
		logger:   logger.With("component", "sync"),
	}
}

// WithStrategy returns a copy of the engine using the given merge
// strategy. Forced full syncs use it to override the configured one.
func (e *Engine) WithStrategy(s Strategy) *Engine {
	clone := *e
	clone.strategy = s
	return &clone
}

// SyncScenes runs one scene sync in the requested mode.
func (e *Engine) SyncScenes(ctx context.Context, opts Options) (*models.SyncResult, error) {
	historyID, err := e.history.Start(ctx, models.SyncEntityScene)
	if err != nil {
		return nil, err
	}
	result := &models.SyncResult{
		EntityType: models.SyncEntityScene,
		StartedAt:  time.Now(),
	}

	var runErr error
	switch opts.Mode {
	case ModeTargeted:
		runErr = e.syncTargeted(ctx, opts, result)
	default:
		since, err := e.watermark(ctx, models.SyncEntityScene, opts.Mode == ModeIncremental)
		if err != nil {
			return nil, err
		}
		runErr = e.syncPaged(ctx, since, opts.Progress, result)
	}

	result.Duration = time.Since(result.StartedAt)
	result.Status = result.Outcome()
	if err := e.history.Complete(ctx, historyID, result); err != nil {
		return nil, err
	}
	if runErr != nil {
		return result, runErr
	}
	e.logger.Info("scene sync finished",
		"mode", string(opts.Mode), "status", string(result.Status),
		"processed", result.Processed, "created", result.Created,
		"updated", result.Updated, "failed", result.Failed,
		"duration", result.Duration)
	return result, nil
}

// syncScenesSince runs a scene sync from an explicit watermark under its
// own history row. Used by SyncAll, which owns the combined watermark.
func (e *Engine) syncScenesSince(ctx context.Context, since *time.Time, progress ProgressFunc) (*models.SyncResult, error) {
	historyID, err := e.history.Start(ctx, models.SyncEntityScene)
	if err != nil {
		return nil, err
	}
	result := &models.SyncResult{
		EntityType: models.SyncEntityScene,
		StartedAt:  time.Now(),
	}
	runErr := e.syncPaged(ctx, since, progress, result)
	result.Duration = time.Since(result.StartedAt)
	result.Status = result.Outcome()
	if err := e.history.Complete(ctx, historyID, result); err != nil {
		return nil, err
	}
	return result, runErr
}

// syncPaged walks the Catalog's scene pages, reconciling each batch.
func (e *Engine) syncPaged(ctx context.Context, since *time.Time, progress ProgressFunc, result *models.SyncResult) error {
	lastTotal := 0
	for page := 1; ; page++ {
		scenes, total, err := e.catalog.GetScenes(ctx, catalog.SceneQuery{
			Page:         page,
			PerPage:      e.cfg.BatchSize,
			Sort:         "updated_at",
			UpdatedSince: since,
		})
		if err != nil {
			if result.Processed == 0 {
				return fmt.Errorf("fetching scenes: %w", err)
			}
			// Scenes on the unfetched pages count as failed so the run
			// reports partial instead of completed.
			result.Errors = append(result.Errors, fmt.Sprintf("page %d: %v", page, err))
			if remaining := lastTotal - result.Processed; remaining > 0 {
				result.Processed += remaining
				result.Failed += remaining
			}
			return nil
		}
		lastTotal = total
		if len(scenes) == 0 {
			return nil
		}

		e.syncBatch(ctx, scenes, result)
		if progress != nil {
			progress(result.Processed, total,
				fmt.Sprintf("synced %d/%d scenes", result.Processed, total))
		}
		if result.Processed >= total {
			return nil
		}
	}
}

func (e *Engine) syncTargeted(ctx context.Context, opts Options, result *models.SyncResult) error {
	var scenes []*models.Scene
	if len(opts.SceneIDs) > 0 {
		for _, id := range opts.SceneIDs {
			scene, err := e.catalog.GetScene(ctx, id)
			if err != nil {
				result.Processed++
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("scene %s: %v", id, err))
				continue
			}
			scenes = append(scenes, scene)
		}
	} else {
		found, err := e.catalog.FindScenes(ctx, opts.Query)
		if err != nil {
			return fmt.Errorf("finding scenes: %w", err)
		}
		scenes = found
	}

	e.syncBatch(ctx, scenes, result)
	if opts.Progress != nil {
		opts.Progress(result.Processed, result.Processed,
			fmt.Sprintf("synced %d scenes", result.Processed))
	}
	return nil
}

// prefetched holds the mirror entities referenced by one batch, loaded
// in three queries so per-scene reconciliation stays in memory.
type prefetched struct {
	performers map[string]models.Performer
	tags       map[string]models.Tag
	studios    map[string]models.Studio
}

func (e *Engine) syncBatch(ctx context.Context, scenes []*models.Scene, result *models.SyncResult) {
	pre, err := e.prefetch(ctx, scenes)
	if err != nil {
		for _, scene := range scenes {
			result.Processed++
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("scene %s: %v", scene.ID, err))
		}
		return
	}

	for _, remote := range scenes {
		result.Processed++
		created, updated, err := e.syncScene(ctx, remote, pre)
		switch {
		case err != nil:
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("scene %s: %v", remote.ID, err))
			e.logger.Warn("scene sync failed", "scene_id", remote.ID, "error", err)
		case created:
			result.Created++
		case updated:
			result.Updated++
		}
	}
}

func (e *Engine) prefetch(ctx context.Context, scenes []*models.Scene) (*prefetched, error) {
	performerIDs := make(map[string]bool)
	tagIDs := make(map[string]bool)
	studioIDs := make(map[string]bool)
	for _, s := range scenes {
		for _, id := range s.PerformerIDs {
			performerIDs[id] = true
		}
		for _, id := range s.TagIDs {
			tagIDs[id] = true
		}
		if s.StudioID != nil {
			studioIDs[*s.StudioID] = true
		}
	}

	performers, err := e.entities.PerformersByIDs(ctx, keys(performerIDs))
	if err != nil {
		return nil, err
	}
	tags, err := e.entities.TagsByIDs(ctx, keys(tagIDs))
	if err != nil {
		return nil, err
	}
	studios, err := e.entities.StudiosByIDs(ctx, keys(studioIDs))
	if err != nil {
		return nil, err
	}
	return &prefetched{performers: performers, tags: tags, studios: studios}, nil
}

// syncScene reconciles one remote scene into the mirror.
func (e *Engine) syncScene(ctx context.Context, remote *models.Scene, pre *prefetched) (created, updated bool, err error) {
	if remote.ID == "" {
		return false, false, fmt.Errorf("scene has no id")
	}

	local, err := e.scenes.Get(ctx, remote.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		local = &models.Scene{ID: remote.ID}
		// New rows take every field regardless of strategy.
		FullStrategy{}.Merge(local, remote)
		created = true
	case err != nil:
		return false, false, err
	default:
		if !e.strategy.ShouldSync(remote, local) {
			return false, false, e.scenes.Touch(ctx, remote.ID, time.Now())
		}
		switch e.resolver.Resolve(local, remote) {
		case ResolutionSkip:
			return false, false, e.scenes.Touch(ctx, remote.ID, time.Now())
		case ResolutionConflict:
			return false, false, e.scenes.SetSyncConflict(ctx, remote.ID, true)
		}
		e.strategy.Merge(local, remote)
		updated = true
	}

	if err := e.ensureEntities(ctx, remote, pre); err != nil {
		return false, false, err
	}
	if _, err := e.scenes.Upsert(ctx, local); err != nil {
		return false, false, err
	}
	if err := e.scenes.SetPerformers(ctx, remote.ID, remote.PerformerIDs); err != nil {
		return false, false, err
	}
	if err := e.scenes.SetTags(ctx, remote.ID, remote.TagIDs); err != nil {
		return false, false, err
	}
	if err := e.scenes.ReplaceFiles(ctx, remote.ID, reconcileFiles(local, remote)); err != nil {
		return false, false, err
	}
	if err := e.scenes.ReplaceMarkers(ctx, remote.ID, remote.Markers); err != nil {
		return false, false, err
	}
	return created, updated, nil
}

// ensureEntities creates minimal mirror records for entities the scene
// references that the mirror has not seen yet.
func (e *Engine) ensureEntities(ctx context.Context, remote *models.Scene, pre *prefetched) error {
	if ref := remote.Refs.Studio; ref != nil {
		if _, ok := pre.studios[ref.ID]; !ok {
			st := &models.Studio{ID: ref.ID, Name: ref.Name}
			if _, err := e.entities.UpsertStudio(ctx, st); err != nil {
				return fmt.Errorf("creating studio %s: %w", ref.ID, err)
			}
			pre.studios[ref.ID] = *st
		}
	}
	for _, ref := range remote.Refs.Performers {
		if _, ok := pre.performers[ref.ID]; ok {
			continue
		}
		p := &models.Performer{ID: ref.ID, Name: ref.Name}
		if _, err := e.entities.UpsertPerformer(ctx, p); err != nil {
			return fmt.Errorf("creating performer %s: %w", ref.ID, err)
		}
		pre.performers[ref.ID] = *p
	}
	for _, ref := range remote.Refs.Tags {
		if _, ok := pre.tags[ref.ID]; ok {
			continue
		}
		t := &models.Tag{ID: ref.ID, Name: ref.Name}
		if _, err := e.entities.UpsertTag(ctx, t); err != nil {
			return fmt.Errorf("creating tag %s: %w", ref.ID, err)
		}
		pre.tags[ref.ID] = *t
	}
	return nil
}

// reconcileFiles prepares the remote file list for the mirror: files
// without an ID get a deterministic one from {scene_id, path}, and the
// current primary is preserved when it still exists remotely. Files
// absent from the remote list are dropped by the replace.
func reconcileFiles(local, remote *models.Scene) []models.SceneFile {
	files := make([]models.SceneFile, len(remote.Files))
	copy(files, remote.Files)
	for i := range files {
		files[i].SceneID = remote.ID
		if files[i].ID == "" {
			files[i].ID = fileID(remote.ID, files[i].Path)
		}
	}

	var currentPrimary string
	for _, f := range local.Files {
		if f.IsPrimary {
			currentPrimary = f.ID
			break
		}
	}
	if currentPrimary != "" {
		keep := false
		for i := range files {
			if files[i].ID == currentPrimary {
				keep = true
				break
			}
		}
		if keep {
			for i := range files {
				files[i].IsPrimary = files[i].ID == currentPrimary
			}
			return files
		}
	}

	// No surviving primary: the first listed file is primary.
	for i := range files {
		files[i].IsPrimary = i == 0
	}
	return files
}

// fileID derives a stable file ID from the scene and path for remotes
// that omit file IDs.
func fileID(sceneID, path string) string {
	sum := sha256.Sum256([]byte(sceneID + "\x00" + path))
	return hex.EncodeToString(sum[:8])
}

// watermark resolves the incremental starting point for an entity type.
// Nil means a full pull: either the run is not incremental or no
// completed run exists yet.
func (e *Engine) watermark(ctx context.Context, entityType models.SyncEntityType, incremental bool) (*time.Time, error) {
	if !incremental {
		return nil, nil
	}
	wm, err := e.history.LatestWatermark(ctx, entityType)
	if err != nil {
		return nil, err
	}
	if wm.IsZero() {
		e.logger.Info("no watermark, degrading to full sync", "entity_type", string(entityType))
		return nil, nil
	}
	return &wm, nil
}

// SyncPerformers pulls performers into the mirror.
func (e *Engine) SyncPerformers(ctx context.Context, incremental bool) (*models.SyncResult, error) {
	since, err := e.watermark(ctx, models.SyncEntityPerformer, incremental)
	if err != nil {
		return nil, err
	}
	return e.syncPerformersSince(ctx, since)
}

func (e *Engine) syncPerformersSince(ctx context.Context, since *time.Time) (*models.SyncResult, error) {
	return e.syncEntities(ctx, models.SyncEntityPerformer, since,
		func(ctx context.Context, since *time.Time) (int, func(context.Context, int) (bool, error), error) {
			var performers []*models.Performer
			var err error
			if since != nil {
				performers, err = e.catalog.GetPerformersSince(ctx, *since)
			} else {
				performers, err = e.catalog.GetAllPerformers(ctx)
			}
			if err != nil {
				return 0, nil, err
			}
			return len(performers), func(ctx context.Context, i int) (bool, error) {
				return e.entities.UpsertPerformer(ctx, performers[i])
			}, nil
		})
}

// SyncTags pulls tags into the mirror.
func (e *Engine) SyncTags(ctx context.Context, incremental bool) (*models.SyncResult, error) {
	since, err := e.watermark(ctx, models.SyncEntityTag, incremental)
	if err != nil {
		return nil, err
	}
	return e.syncTagsSince(ctx, since)
}

func (e *Engine) syncTagsSince(ctx context.Context, since *time.Time) (*models.SyncResult, error) {
	return e.syncEntities(ctx, models.SyncEntityTag, since,
		func(ctx context.Context, since *time.Time) (int, func(context.Context, int) (bool, error), error) {
			var tags []*models.Tag
			var err error
			if since != nil {
				tags, err = e.catalog.GetTagsSince(ctx, *since)
			} else {
				tags, err = e.catalog.GetAllTags(ctx)
			}
			if err != nil {
				return 0, nil, err
			}
			return len(tags), func(ctx context.Context, i int) (bool, error) {
				return e.entities.UpsertTag(ctx, tags[i])
			}, nil
		})
}

// SyncStudios pulls studios into the mirror.
func (e *Engine) SyncStudios(ctx context.Context, incremental bool) (*models.SyncResult, error) {
	since, err := e.watermark(ctx, models.SyncEntityStudio, incremental)
	if err != nil {
		return nil, err
	}
	return e.syncStudiosSince(ctx, since)
}

func (e *Engine) syncStudiosSince(ctx context.Context, since *time.Time) (*models.SyncResult, error) {
	return e.syncEntities(ctx, models.SyncEntityStudio, since,
		func(ctx context.Context, since *time.Time) (int, func(context.Context, int) (bool, error), error) {
			var studios []*models.Studio
			var err error
			if since != nil {
				studios, err = e.catalog.GetStudiosSince(ctx, *since)
			} else {
				studios, err = e.catalog.GetAllStudios(ctx)
			}
			if err != nil {
				return 0, nil, err
			}
			return len(studios), func(ctx context.Context, i int) (bool, error) {
				return e.entities.UpsertStudio(ctx, studios[i])
			}, nil
		})
}

// syncEntities is the shared fetch-and-upsert loop for the flat entity
// types.
func (e *Engine) syncEntities(
	ctx context.Context,
	entityType models.SyncEntityType,
	since *time.Time,
	fetch func(ctx context.Context, since *time.Time) (int, func(context.Context, int) (bool, error), error),
) (*models.SyncResult, error) {
	historyID, err := e.history.Start(ctx, entityType)
	if err != nil {
		return nil, err
	}
	result := &models.SyncResult{
		EntityType: entityType,
		StartedAt:  time.Now(),
	}

	total, upsert, fetchErr := fetch(ctx, since)
	if fetchErr != nil {
		result.Errors = append(result.Errors, fetchErr.Error())
		result.Status = models.SyncStatusFailed
		result.Duration = time.Since(result.StartedAt)
		if err := e.history.Complete(ctx, historyID, result); err != nil {
			return nil, err
		}
		return result, fetchErr
	}

	for i := 0; i < total; i++ {
		result.Processed++
		created, err := upsert(ctx, i)
		switch {
		case err != nil:
			result.Failed++
			result.Errors = append(result.Errors, err.Error())
		case created:
			result.Created++
		default:
			result.Updated++
		}
	}

	result.Duration = time.Since(result.StartedAt)
	result.Status = result.Outcome()
	if err := e.history.Complete(ctx, historyID, result); err != nil {
		return nil, err
	}
	e.logger.Info("entity sync finished",
		"entity_type", string(entityType), "status", string(result.Status),
		"processed", result.Processed, "failed", result.Failed)
	return result, nil
}

// SyncAll runs entities first, then scenes, under one combined history
// row. An incremental run with no prior completed "all" run falls back
// to a 24-hour watermark instead of a full pull.
func (e *Engine) SyncAll(ctx context.Context, incremental bool, progress ProgressFunc) (*models.SyncResult, error) {
	historyID, err := e.history.Start(ctx, models.SyncEntityAll)
	if err != nil {
		return nil, err
	}
	combined := &models.SyncResult{
		EntityType: models.SyncEntityAll,
		StartedAt:  time.Now(),
	}

	var since *time.Time
	if incremental {
		wm, err := e.history.LatestWatermark(ctx, models.SyncEntityAll)
		if err != nil {
			return nil, err
		}
		if wm.IsZero() {
			e.logger.Info("no combined watermark, using 24h fallback")
			fallback := time.Now().Add(-fallbackWatermark)
			since = &fallback
		} else {
			since = &wm
		}
	}

	steps := []func(context.Context) (*models.SyncResult, error){
		func(ctx context.Context) (*models.SyncResult, error) { return e.syncStudiosSince(ctx, since) },
		func(ctx context.Context) (*models.SyncResult, error) { return e.syncPerformersSince(ctx, since) },
		func(ctx context.Context) (*models.SyncResult, error) { return e.syncTagsSince(ctx, since) },
		func(ctx context.Context) (*models.SyncResult, error) {
			return e.syncScenesSince(ctx, since, progress)
		},
	}
	for _, step := range steps {
		result, err := step(ctx)
		if result != nil {
			combined.Processed += result.Processed
			combined.Created += result.Created
			combined.Updated += result.Updated
			combined.Failed += result.Failed
			combined.Errors = append(combined.Errors, result.Errors...)
		}
		if err != nil {
			combined.Errors = append(combined.Errors, err.Error())
		}
	}

	combined.Duration = time.Since(combined.StartedAt)
	combined.Status = combined.Outcome()
	if err := e.history.Complete(ctx, historyID, combined); err != nil {
		return nil, err
	}
	return combined, nil
}

func keys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
