package sync

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medialib/curator/pkg/catalog"
	"github.com/medialib/curator/pkg/config"
	"github.com/medialib/curator/pkg/models"
	"github.com/medialib/curator/pkg/store"
)

type fakeCatalog struct {
	scenes     []*models.Scene
	performers []*models.Performer
	tags       []*models.Tag
	studios    []*models.Studio
	sceneErr   map[string]error
	lastSince  *time.Time
}

func (f *fakeCatalog) GetScenes(_ context.Context, q catalog.SceneQuery) ([]*models.Scene, int, error) {
	f.lastSince = q.UpdatedSince
	start := (q.Page - 1) * q.PerPage
	if start >= len(f.scenes) {
		return nil, len(f.scenes), nil
	}
	end := min(start+q.PerPage, len(f.scenes))
	return f.scenes[start:end], len(f.scenes), nil
}

func (f *fakeCatalog) GetScene(_ context.Context, id string) (*models.Scene, error) {
	if err, ok := f.sceneErr[id]; ok {
		return nil, err
	}
	for _, s := range f.scenes {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, catalog.ErrNotFound
}

func (f *fakeCatalog) FindScenes(context.Context, string) ([]*models.Scene, error) {
	return f.scenes, nil
}

func (f *fakeCatalog) GetAllPerformers(context.Context) ([]*models.Performer, error) {
	return f.performers, nil
}

func (f *fakeCatalog) GetPerformersSince(_ context.Context, ts time.Time) ([]*models.Performer, error) {
	f.lastSince = &ts
	return f.performers, nil
}

func (f *fakeCatalog) GetAllTags(context.Context) ([]*models.Tag, error) { return f.tags, nil }

func (f *fakeCatalog) GetTagsSince(_ context.Context, ts time.Time) ([]*models.Tag, error) {
	f.lastSince = &ts
	return f.tags, nil
}

func (f *fakeCatalog) GetAllStudios(context.Context) ([]*models.Studio, error) {
	return f.studios, nil
}

func (f *fakeCatalog) GetStudiosSince(_ context.Context, ts time.Time) ([]*models.Studio, error) {
	f.lastSince = &ts
	return f.studios, nil
}

type fakeScenes struct {
	rows       map[string]*models.Scene
	files      map[string][]models.SceneFile
	markers    map[string][]models.SceneMarker
	performers map[string][]string
	tags       map[string][]string
	touched    []string
	conflicts  []string
}

func newFakeScenes(scenes ...*models.Scene) *fakeScenes {
	f := &fakeScenes{
		rows:       map[string]*models.Scene{},
		files:      map[string][]models.SceneFile{},
		markers:    map[string][]models.SceneMarker{},
		performers: map[string][]string{},
		tags:       map[string][]string{},
	}
	for _, s := range scenes {
		f.rows[s.ID] = s
	}
	return f
}

func (f *fakeScenes) Get(_ context.Context, id string) (*models.Scene, error) {
	s, ok := f.rows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s, nil
}

func (f *fakeScenes) Upsert(_ context.Context, scene *models.Scene) (bool, error) {
	_, existed := f.rows[scene.ID]
	f.rows[scene.ID] = scene
	return !existed, nil
}

func (f *fakeScenes) ReplaceFiles(_ context.Context, sceneID string, files []models.SceneFile) error {
	f.files[sceneID] = files
	return nil
}

func (f *fakeScenes) ReplaceMarkers(_ context.Context, sceneID string, markers []models.SceneMarker) error {
	f.markers[sceneID] = markers
	return nil
}

func (f *fakeScenes) SetPerformers(_ context.Context, sceneID string, ids []string) error {
	f.performers[sceneID] = ids
	return nil
}

func (f *fakeScenes) SetTags(_ context.Context, sceneID string, ids []string) error {
	f.tags[sceneID] = ids
	return nil
}

func (f *fakeScenes) SetSyncConflict(_ context.Context, sceneID string, conflict bool) error {
	if conflict {
		f.conflicts = append(f.conflicts, sceneID)
	}
	return nil
}

func (f *fakeScenes) Touch(_ context.Context, sceneID string, _ time.Time) error {
	f.touched = append(f.touched, sceneID)
	return nil
}

type fakeEntities struct {
	performers map[string]models.Performer
	tags       map[string]models.Tag
	studios    map[string]models.Studio
}

func newFakeEntities() *fakeEntities {
	return &fakeEntities{
		performers: map[string]models.Performer{},
		tags:       map[string]models.Tag{},
		studios:    map[string]models.Studio{},
	}
}

func (f *fakeEntities) PerformersByIDs(_ context.Context, ids []string) (map[string]models.Performer, error) {
	out := map[string]models.Performer{}
	for _, id := range ids {
		if p, ok := f.performers[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (f *fakeEntities) TagsByIDs(_ context.Context, ids []string) (map[string]models.Tag, error) {
	out := map[string]models.Tag{}
	for _, id := range ids {
		if t, ok := f.tags[id]; ok {
			out[id] = t
		}
	}
	return out, nil
}

func (f *fakeEntities) StudiosByIDs(_ context.Context, ids []string) (map[string]models.Studio, error) {
	out := map[string]models.Studio{}
	for _, id := range ids {
		if s, ok := f.studios[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

func (f *fakeEntities) UpsertPerformer(_ context.Context, p *models.Performer) (bool, error) {
	_, existed := f.performers[p.ID]
	f.performers[p.ID] = *p
	return !existed, nil
}

func (f *fakeEntities) UpsertTag(_ context.Context, t *models.Tag) (bool, error) {
	_, existed := f.tags[t.ID]
	f.tags[t.ID] = *t
	return !existed, nil
}

func (f *fakeEntities) UpsertStudio(_ context.Context, s *models.Studio) (bool, error) {
	_, existed := f.studios[s.ID]
	f.studios[s.ID] = *s
	return !existed, nil
}

type fakeHistory struct {
	watermarks map[models.SyncEntityType]time.Time
	started    []models.SyncEntityType
	completed  []*models.SyncResult
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{watermarks: map[models.SyncEntityType]time.Time{}}
}

func (f *fakeHistory) Start(_ context.Context, entityType models.SyncEntityType) (int64, error) {
	f.started = append(f.started, entityType)
	return int64(len(f.started)), nil
}

func (f *fakeHistory) Complete(_ context.Context, _ int64, result *models.SyncResult) error {
	f.completed = append(f.completed, result)
	return nil
}

func (f *fakeHistory) LatestWatermark(_ context.Context, entityType models.SyncEntityType) (time.Time, error) {
	return f.watermarks[entityType], nil
}

func testEngine(cat *fakeCatalog, scenes *fakeScenes, entities *fakeEntities, history *fakeHistory, cfg *config.SyncConfig) *Engine {
	if cfg == nil {
		cfg = config.DefaultSyncConfig()
	}
	return NewEngine(cat, scenes, entities, history, cfg, slog.Default())
}

func remoteScene(id string) *models.Scene {
	studioID := "s1"
	return &models.Scene{
		ID:             id,
		Title:          "scene " + id,
		StudioID:       &studioID,
		PerformerIDs:   []string{"p1"},
		TagIDs:         []string{"t1"},
		StashUpdatedAt: time.Now(),
		Refs: models.SceneRefs{
			Studio:     &models.EntityRef{ID: "s1", Name: "Studio One"},
			Performers: []models.EntityRef{{ID: "p1", Name: "Performer One"}},
			Tags:       []models.EntityRef{{ID: "t1", Name: "Tag One"}},
		},
		Files: []models.SceneFile{
			{Path: "/media/a.mp4", Size: 100},
			{Path: "/media/b.mp4", Size: 200},
		},
		Markers: []models.SceneMarker{
			{ID: "m1", SceneID: id, Seconds: 10, PrimaryTagID: "t1"},
		},
	}
}

func TestSyncScenesCreatesMissingRows(t *testing.T) {
	cat := &fakeCatalog{scenes: []*models.Scene{remoteScene("1")}}
	scenes := newFakeScenes()
	entities := newFakeEntities()
	history := newFakeHistory()
	e := testEngine(cat, scenes, entities, history, nil)

	result, err := e.SyncScenes(context.Background(), Options{Mode: ModeFull})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, models.SyncStatusCompleted, result.Status)

	// Minimal entity records were created from the scene's refs.
	assert.Equal(t, "Studio One", entities.studios["s1"].Name)
	assert.Equal(t, "Performer One", entities.performers["p1"].Name)
	assert.Equal(t, "Tag One", entities.tags["t1"].Name)

	// Files without IDs got deterministic ones; the first file is primary.
	files := scenes.files["1"]
	require.Len(t, files, 2)
	assert.NotEmpty(t, files[0].ID)
	assert.Equal(t, files[0].ID, fileID("1", "/media/a.mp4"))
	assert.True(t, files[0].IsPrimary)
	assert.False(t, files[1].IsPrimary)

	assert.Len(t, scenes.markers["1"], 1)
	require.Len(t, history.completed, 1)
	assert.Equal(t, models.SyncEntityScene, history.completed[0].EntityType)
}

func TestSyncScenesUpdatesDivergedRows(t *testing.T) {
	remote := remoteScene("1")
	local := &models.Scene{ID: "1", Title: "stale title"}

	cat := &fakeCatalog{scenes: []*models.Scene{remote}}
	scenes := newFakeScenes(local)
	e := testEngine(cat, scenes, newFakeEntities(), newFakeHistory(), nil)

	result, err := e.SyncScenes(context.Background(), Options{Mode: ModeFull})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, remote.Title, scenes.rows["1"].Title)
}

func TestSyncScenesSkipsUnchangedRows(t *testing.T) {
	remote := remoteScene("1")
	local := &models.Scene{ID: "1"}
	FullStrategy{}.Merge(local, remote)

	cat := &fakeCatalog{scenes: []*models.Scene{remote}}
	scenes := newFakeScenes(local)
	smart := testEngine(cat, scenes, newFakeEntities(), newFakeHistory(),
		&config.SyncConfig{Strategy: "smart", ConflictPolicy: "remote_wins", BatchSize: 100})

	result, err := smart.SyncScenes(context.Background(), Options{Mode: ModeFull})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, []string{"1"}, scenes.touched, "unchanged rows only refresh last_synced")
}

func TestSyncScenesManualPolicyFlagsConflict(t *testing.T) {
	remote := remoteScene("1")
	local := &models.Scene{ID: "1", Title: "different local title"}

	cat := &fakeCatalog{scenes: []*models.Scene{remote}}
	scenes := newFakeScenes(local)
	e := testEngine(cat, scenes, newFakeEntities(), newFakeHistory(),
		&config.SyncConfig{Strategy: "smart", ConflictPolicy: "manual", BatchSize: 100})

	result, err := e.SyncScenes(context.Background(), Options{Mode: ModeFull})
	require.NoError(t, err)

	assert.Equal(t, []string{"1"}, scenes.conflicts)
	assert.Equal(t, 0, result.Updated, "manual policy skips the mutation")
	assert.Equal(t, "different local title", scenes.rows["1"].Title)
}

func TestSyncScenesIncrementalUsesWatermark(t *testing.T) {
	wm := time.Now().Add(-time.Hour)
	history := newFakeHistory()
	history.watermarks[models.SyncEntityScene] = wm

	cat := &fakeCatalog{}
	e := testEngine(cat, newFakeScenes(), newFakeEntities(), history, nil)

	_, err := e.SyncScenes(context.Background(), Options{Mode: ModeIncremental})
	require.NoError(t, err)
	require.NotNil(t, cat.lastSince)
	assert.True(t, cat.lastSince.Equal(wm))
}

func TestSyncScenesIncrementalDegradesToFullWithoutWatermark(t *testing.T) {
	cat := &fakeCatalog{scenes: []*models.Scene{remoteScene("1")}}
	e := testEngine(cat, newFakeScenes(), newFakeEntities(), newFakeHistory(), nil)

	result, err := e.SyncScenes(context.Background(), Options{Mode: ModeIncremental})
	require.NoError(t, err)
	assert.Nil(t, cat.lastSince, "no watermark means an unfiltered pull")
	assert.Equal(t, 1, result.Created)
}

func TestSyncScenesTargetedCountsFetchFailures(t *testing.T) {
	cat := &fakeCatalog{
		scenes:   []*models.Scene{remoteScene("1")},
		sceneErr: map[string]error{"2": fmt.Errorf("boom")},
	}
	e := testEngine(cat, newFakeScenes(), newFakeEntities(), newFakeHistory(), nil)

	result, err := e.SyncScenes(context.Background(), Options{
		Mode:     ModeTargeted,
		SceneIDs: []string{"1", "2"},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, models.SyncStatusPartial, result.Status)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "scene 2")
}

func TestSyncScenesPreservesExistingPrimaryFile(t *testing.T) {
	remote := remoteScene("1")
	local := &models.Scene{
		ID:    "1",
		Title: "old title",
		Files: []models.SceneFile{
			{ID: fileID("1", "/media/b.mp4"), Path: "/media/b.mp4", IsPrimary: true},
		},
	}

	cat := &fakeCatalog{scenes: []*models.Scene{remote}}
	scenes := newFakeScenes(local)
	e := testEngine(cat, scenes, newFakeEntities(), newFakeHistory(), nil)

	_, err := e.SyncScenes(context.Background(), Options{Mode: ModeFull})
	require.NoError(t, err)

	files := scenes.files["1"]
	require.Len(t, files, 2)
	for _, f := range files {
		if f.Path == "/media/b.mp4" {
			assert.True(t, f.IsPrimary, "surviving primary is preserved")
		} else {
			assert.False(t, f.IsPrimary)
		}
	}
}

func TestSyncEntitiesIncremental(t *testing.T) {
	wm := time.Now().Add(-2 * time.Hour)
	history := newFakeHistory()
	history.watermarks[models.SyncEntityPerformer] = wm

	cat := &fakeCatalog{performers: []*models.Performer{{ID: "p1", Name: "One"}}}
	entities := newFakeEntities()
	e := testEngine(cat, newFakeScenes(), entities, history, nil)

	result, err := e.SyncPerformers(context.Background(), true)
	require.NoError(t, err)

	require.NotNil(t, cat.lastSince)
	assert.True(t, cat.lastSince.Equal(wm))
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, "One", entities.performers["p1"].Name)
}

func TestSyncAllRunsEntitiesBeforeScenes(t *testing.T) {
	cat := &fakeCatalog{
		scenes:  []*models.Scene{remoteScene("1")},
		tags:    []*models.Tag{{ID: "t1", Name: "Tag One"}},
		studios: []*models.Studio{{ID: "s1", Name: "Studio One"}},
	}
	history := newFakeHistory()
	e := testEngine(cat, newFakeScenes(), newFakeEntities(), history, nil)

	result, err := e.SyncAll(context.Background(), false, nil)
	require.NoError(t, err)

	assert.Equal(t, models.SyncEntityAll, result.EntityType)
	assert.Equal(t, 3, result.Processed, "two entities plus one scene")
	assert.Equal(t, []models.SyncEntityType{
		models.SyncEntityAll,
		models.SyncEntityStudio,
		models.SyncEntityPerformer,
		models.SyncEntityTag,
		models.SyncEntityScene,
	}, history.started)
}

func TestSyncAllIncrementalFallbackWatermark(t *testing.T) {
	cat := &fakeCatalog{}
	e := testEngine(cat, newFakeScenes(), newFakeEntities(), newFakeHistory(), nil)

	before := time.Now().Add(-fallbackWatermark)
	_, err := e.SyncAll(context.Background(), true, nil)
	require.NoError(t, err)

	require.NotNil(t, cat.lastSince, "first incremental all-run uses the 24h fallback")
	assert.WithinDuration(t, before, *cat.lastSince, time.Minute)
}
