package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/medialib/curator/pkg/models"
)

func TestChecksumIgnoresRelationOrder(t *testing.T) {
	a := &models.Scene{Title: "x", PerformerIDs: []string{"1", "2"}, TagIDs: []string{"a", "b"}}
	b := &models.Scene{Title: "x", PerformerIDs: []string{"2", "1"}, TagIDs: []string{"b", "a"}}
	assert.Equal(t, Checksum(a), Checksum(b))
}

func TestChecksumDetectsContentChange(t *testing.T) {
	a := &models.Scene{Title: "x"}
	b := &models.Scene{Title: "y"}
	assert.NotEqual(t, Checksum(a), Checksum(b))

	rating := 4.5
	c := &models.Scene{Title: "x", Rating: &rating}
	assert.NotEqual(t, Checksum(a), Checksum(c))
}

func TestSmartStrategyShouldSync(t *testing.T) {
	now := time.Now()
	remote := &models.Scene{ID: "1", Title: "same", StashUpdatedAt: now}
	local := &models.Scene{ID: "1", Title: "same", StashUpdatedAt: now, Checksum: Checksum(remote)}

	assert.False(t, SmartStrategy{}.ShouldSync(remote, local),
		"equal timestamp and checksum means no sync")

	remote.StashUpdatedAt = now.Add(time.Minute)
	assert.True(t, SmartStrategy{}.ShouldSync(remote, local), "newer remote timestamp")

	remote.StashUpdatedAt = now
	remote.Title = "changed"
	assert.True(t, SmartStrategy{}.ShouldSync(remote, local), "checksum divergence")
}

func TestSmartStrategyMergePreservesManualEdits(t *testing.T) {
	local := &models.Scene{
		ID: "1", Title: "curated title", Details: "curated details",
		URL: "http://local", ManuallyEdited: true,
	}
	rating := 3.0
	remote := &models.Scene{
		ID: "1", Title: "remote title", Details: "remote details",
		URL: "http://remote", Organized: true, Rating: &rating,
		StashUpdatedAt: time.Now(),
	}

	SmartStrategy{}.Merge(local, remote)

	assert.Equal(t, "curated title", local.Title)
	assert.Equal(t, "curated details", local.Details)
	assert.Equal(t, "http://local", local.URL)
	assert.True(t, local.Organized, "non-text fields still follow the remote")
	assert.Equal(t, 3.0, *local.Rating)
	assert.Equal(t, Checksum(remote), local.Checksum)
}

func TestFullStrategyOverwrites(t *testing.T) {
	local := &models.Scene{ID: "1", Title: "old", ManuallyEdited: true}
	remote := &models.Scene{ID: "1", Title: "new"}

	assert.True(t, FullStrategy{}.ShouldSync(remote, local))
	FullStrategy{}.Merge(local, remote)
	assert.Equal(t, "new", local.Title, "full sync ignores the manual-edit flag")
}

func TestStrategyFor(t *testing.T) {
	assert.IsType(t, FullStrategy{}, StrategyFor("full"))
	assert.IsType(t, IncrementalStrategy{}, StrategyFor("incremental"))
	assert.IsType(t, SmartStrategy{}, StrategyFor("smart"))
	assert.IsType(t, SmartStrategy{}, StrategyFor("bogus"))
}
