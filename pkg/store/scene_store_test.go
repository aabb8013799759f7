package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medialib/curator/pkg/models"
	"github.com/medialib/curator/test/util"
)

func seedScene(t *testing.T, scenes *SceneStore, id string) *models.Scene {
	t.Helper()
	scene := &models.Scene{
		ID:             id,
		Title:          "Scene " + id,
		Details:        "some details",
		URL:            "https://catalog.local/scenes/" + id,
		Checksum:       "abc123",
		StashCreatedAt: time.Now().Add(-24 * time.Hour),
		StashUpdatedAt: time.Now().Add(-time.Hour),
		LastSynced:     time.Now(),
	}
	created, err := scenes.Upsert(context.Background(), scene)
	require.NoError(t, err)
	require.True(t, created)
	return scene
}

func TestSceneStore_UpsertPreservesLocalFlags(t *testing.T) {
	db := util.SetupTestDatabase(t)
	scenes := NewSceneStore(db)
	ctx := context.Background()

	scene := seedScene(t, scenes, "s1")
	require.NoError(t, scenes.MarkAnalyzed(ctx, []string{scene.ID}, true))
	require.NoError(t, scenes.SetManuallyEdited(ctx, scene.ID, true))

	// A later sync upsert rewrites Catalog fields but not local flags.
	scene.Title = "renamed"
	created, err := scenes.Upsert(ctx, scene)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := scenes.Get(ctx, scene.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)
	assert.True(t, got.Analyzed)
	assert.True(t, got.VideoAnalyzed)
	assert.True(t, got.ManuallyEdited)
}

func TestSceneStore_UpsertRequiresID(t *testing.T) {
	db := util.SetupTestDatabase(t)
	scenes := NewSceneStore(db)

	_, err := scenes.Upsert(context.Background(), &models.Scene{})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestSceneStore_ReplaceFilesReconciles(t *testing.T) {
	db := util.SetupTestDatabase(t)
	scenes := NewSceneStore(db)
	ctx := context.Background()
	scene := seedScene(t, scenes, "s1")

	files := []models.SceneFile{
		{ID: "f1", Path: "/media/a.mp4", Size: 100, IsPrimary: true},
		{ID: "f2", Path: "/media/a.mkv", Size: 200},
	}
	require.NoError(t, scenes.ReplaceFiles(ctx, scene.ID, files))

	got, err := scenes.Get(ctx, scene.ID)
	require.NoError(t, err)
	require.Len(t, got.Files, 2)
	require.NotNil(t, got.PrimaryFile())
	assert.Equal(t, "/media/a.mp4", got.FilePath())

	// Drop f2, re-point primary.
	files = []models.SceneFile{
		{ID: "f1", Path: "/media/a-renamed.mp4", Size: 100, IsPrimary: true},
	}
	require.NoError(t, scenes.ReplaceFiles(ctx, scene.ID, files))
	got, err = scenes.Get(ctx, scene.ID)
	require.NoError(t, err)
	require.Len(t, got.Files, 1)
	assert.Equal(t, "/media/a-renamed.mp4", got.FilePath())
}

func TestSceneStore_MarkersAndRelations(t *testing.T) {
	db := util.SetupTestDatabase(t)
	scenes := NewSceneStore(db)
	entities := NewEntityStore(db)
	ctx := context.Background()
	scene := seedScene(t, scenes, "s1")

	_, err := entities.UpsertPerformer(ctx, &models.Performer{ID: "p1", Name: "Alice"})
	require.NoError(t, err)
	_, err = entities.UpsertTag(ctx, &models.Tag{ID: "t1", Name: "outdoor"})
	require.NoError(t, err)
	_, err = entities.UpsertTag(ctx, &models.Tag{ID: "t2", Name: "night"})
	require.NoError(t, err)

	require.NoError(t, scenes.SetPerformers(ctx, scene.ID, []string{"p1"}))
	require.NoError(t, scenes.SetTags(ctx, scene.ID, []string{"t1", "t2"}))

	end := 42.5
	markers := []models.SceneMarker{
		{ID: "m1", Seconds: 10, EndSeconds: &end, Title: "intro", PrimaryTagID: "t1", TagIDs: []string{"t1", "t2"}},
	}
	require.NoError(t, scenes.ReplaceMarkers(ctx, scene.ID, markers))

	got, err := scenes.Get(ctx, scene.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, got.PerformerIDs)
	assert.ElementsMatch(t, []string{"t1", "t2"}, got.TagIDs)
	require.Len(t, got.Markers, 1)
	assert.Equal(t, "t1", got.Markers[0].PrimaryTagID)
	assert.ElementsMatch(t, []string{"t1", "t2"}, got.Markers[0].TagIDs)

	// Shrinking the relations removes the stale rows.
	require.NoError(t, scenes.SetTags(ctx, scene.ID, []string{"t2"}))
	require.NoError(t, scenes.ReplaceMarkers(ctx, scene.ID, nil))
	got, err = scenes.Get(ctx, scene.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"t2"}, got.TagIDs)
	assert.Empty(t, got.Markers)
}

func TestSceneStore_ListFilters(t *testing.T) {
	db := util.SetupTestDatabase(t)
	scenes := NewSceneStore(db)
	entities := NewEntityStore(db)
	ctx := context.Background()

	_, err := entities.UpsertStudio(ctx, &models.Studio{ID: "st1", Name: "Acme"})
	require.NoError(t, err)

	a := seedScene(t, scenes, "a")
	b := seedScene(t, scenes, "b")
	seedScene(t, scenes, "c")

	studioID := "st1"
	a.StudioID = &studioID
	a.Organized = true
	_, err = scenes.Upsert(ctx, a)
	require.NoError(t, err)
	require.NoError(t, scenes.MarkAnalyzed(ctx, []string{b.ID}, false))

	organized := true
	list, err := scenes.List(ctx, SceneFilter{Organized: &organized})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0].ID)

	analyzed := false
	list, err = scenes.List(ctx, SceneFilter{Analyzed: &analyzed})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = scenes.List(ctx, SceneFilter{StudioID: &studioID})
	require.NoError(t, err)
	require.Len(t, list, 1)

	list, err = scenes.List(ctx, SceneFilter{IDs: []string{"a", "c"}})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "c", list[1].ID)

	n, err := scenes.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
