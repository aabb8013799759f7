package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medialib/curator/pkg/models"
	"github.com/medialib/curator/test/util"
)

func TestSyncHistoryStore_StartComplete(t *testing.T) {
	db := util.SetupTestDatabase(t)
	history := NewSyncHistoryStore(db)
	ctx := context.Background()

	id, err := history.Start(ctx, models.SyncEntityScene)
	require.NoError(t, err)

	result := &models.SyncResult{
		EntityType: models.SyncEntityScene,
		Processed:  10,
		Created:    3,
		Updated:    6,
		Failed:     1,
		Errors:     []string{"scene s9: fetch failed"},
	}
	require.NoError(t, history.Complete(ctx, id, result))

	rows, err := history.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.SyncStatusPartial, rows[0].Status)
	assert.Equal(t, 10, rows[0].Synced)
	assert.Equal(t, 3, rows[0].Created)
	assert.Equal(t, 1, rows[0].Failed)
	assert.Equal(t, []string{"scene s9: fetch failed"}, rows[0].Errors)
	require.NotNil(t, rows[0].CompletedAt)

	assert.ErrorIs(t, history.Complete(ctx, 9999, result), ErrNotFound)
}

func TestSyncHistoryStore_ErrorsCapped(t *testing.T) {
	db := util.SetupTestDatabase(t)
	history := NewSyncHistoryStore(db)
	ctx := context.Background()

	id, err := history.Start(ctx, models.SyncEntityTag)
	require.NoError(t, err)

	errs := make([]string, 80)
	for i := range errs {
		errs[i] = fmt.Sprintf("tag %d: boom", i)
	}
	require.NoError(t, history.Complete(ctx, id, &models.SyncResult{
		Processed: 80, Failed: 80, Errors: errs,
	}))

	rows, err := history.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Len(t, rows[0].Errors, 50)
	assert.Equal(t, models.SyncStatusFailed, rows[0].Status)
}

func TestSyncHistoryStore_LatestWatermark(t *testing.T) {
	db := util.SetupTestDatabase(t)
	history := NewSyncHistoryStore(db)
	ctx := context.Background()

	// No completed run: zero watermark, no error.
	wm, err := history.LatestWatermark(ctx, models.SyncEntityScene)
	require.NoError(t, err)
	assert.True(t, wm.IsZero())

	first, err := history.Start(ctx, models.SyncEntityScene)
	require.NoError(t, err)
	require.NoError(t, history.Complete(ctx, first, &models.SyncResult{Processed: 5}))

	// A partial run does not advance the watermark.
	partial, err := history.Start(ctx, models.SyncEntityScene)
	require.NoError(t, err)
	require.NoError(t, history.Complete(ctx, partial, &models.SyncResult{Processed: 5, Failed: 2}))

	// Another entity type has its own watermark.
	other, err := history.Start(ctx, models.SyncEntityPerformer)
	require.NoError(t, err)
	require.NoError(t, history.Complete(ctx, other, &models.SyncResult{Processed: 1}))

	wm, err = history.LatestWatermark(ctx, models.SyncEntityScene)
	require.NoError(t, err)
	assert.False(t, wm.IsZero())
	assert.WithinDuration(t, time.Now(), wm, time.Minute)

	var firstStarted time.Time
	require.NoError(t, db.GetContext(ctx, &firstStarted,
		`SELECT started_at FROM sync_history WHERE id = $1`, first))
	assert.WithinDuration(t, firstStarted, wm, time.Second)
}
