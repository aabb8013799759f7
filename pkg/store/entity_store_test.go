package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medialib/curator/pkg/models"
	"github.com/medialib/curator/test/util"
)

func TestEntityStore_PerformerAliases(t *testing.T) {
	db := util.SetupTestDatabase(t)
	entities := NewEntityStore(db)
	ctx := context.Background()

	created, err := entities.UpsertPerformer(ctx, &models.Performer{
		ID: "p1", Name: "Alice", Aliases: []string{"Ali", "A."},
	})
	require.NoError(t, err)
	assert.True(t, created)

	// Re-upsert replaces the alias set.
	created, err = entities.UpsertPerformer(ctx, &models.Performer{
		ID: "p1", Name: "Alice B", Aliases: []string{"Ali"},
	})
	require.NoError(t, err)
	assert.False(t, created)

	performers, err := entities.ListPerformers(ctx)
	require.NoError(t, err)
	require.Len(t, performers, 1)
	assert.Equal(t, "Alice B", performers[0].Name)
	assert.Equal(t, []string{"Ali"}, performers[0].Aliases)

	byID, err := entities.PerformersByIDs(ctx, []string{"p1", "missing"})
	require.NoError(t, err)
	require.Len(t, byID, 1)
	assert.Equal(t, "Alice B", byID["p1"].Name)
}

func TestEntityStore_UpsertValidation(t *testing.T) {
	db := util.SetupTestDatabase(t)
	entities := NewEntityStore(db)
	ctx := context.Background()

	var verr *ValidationError
	_, err := entities.UpsertPerformer(ctx, &models.Performer{ID: "p1"})
	require.ErrorAs(t, err, &verr)
	_, err = entities.UpsertTag(ctx, &models.Tag{Name: "orphan"})
	require.ErrorAs(t, err, &verr)
	_, err = entities.UpsertStudio(ctx, &models.Studio{})
	require.ErrorAs(t, err, &verr)
}

func TestEntityStore_TagsAndStudios(t *testing.T) {
	db := util.SetupTestDatabase(t)
	entities := NewEntityStore(db)
	ctx := context.Background()

	parent := "t-root"
	_, err := entities.UpsertTag(ctx, &models.Tag{ID: "t-root", Name: "location"})
	require.NoError(t, err)
	_, err = entities.UpsertTag(ctx, &models.Tag{ID: "t1", Name: "outdoor", ParentID: &parent})
	require.NoError(t, err)

	tags, err := entities.ListTags(ctx)
	require.NoError(t, err)
	require.Len(t, tags, 2)
	// Ordered by name.
	assert.Equal(t, "location", tags[0].Name)
	require.NotNil(t, tags[1].ParentID)
	assert.Equal(t, "t-root", *tags[1].ParentID)

	byID, err := entities.TagsByIDs(ctx, []string{"t1"})
	require.NoError(t, err)
	assert.Equal(t, "outdoor", byID["t1"].Name)

	_, err = entities.UpsertStudio(ctx, &models.Studio{ID: "st1", Name: "Acme"})
	require.NoError(t, err)
	studios, err := entities.ListStudios(ctx)
	require.NoError(t, err)
	require.Len(t, studios, 1)

	byStudioID, err := entities.StudiosByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, byStudioID)
}
