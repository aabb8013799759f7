package sync

import (
	"log/slog"

	"github.com/medialib/curator/pkg/models"
)

// Conflict resolution policies.
const (
	PolicyRemoteWins = "remote_wins"
	PolicyLocalWins  = "local_wins"
	PolicyMerge      = "merge"
	PolicyManual     = "manual"
)

// Resolution is the resolver's verdict for a diverged row.
type Resolution int

const (
	// ResolutionApply merges the remote data into the local row.
	ResolutionApply Resolution = iota
	// ResolutionSkip leaves the local row untouched.
	ResolutionSkip
	// ResolutionConflict flags the row for operator review and skips
	// the mutation.
	ResolutionConflict
)

// Resolver decides what happens when the mirror row and incoming data
// diverge, logging the field-level delta either way.
type Resolver struct {
	policy string
	logger *slog.Logger
}

// NewResolver creates a resolver; unknown policies fall back to
// remote_wins.
func NewResolver(policy string, logger *slog.Logger) *Resolver {
	switch policy {
	case PolicyRemoteWins, PolicyLocalWins, PolicyMerge, PolicyManual:
	default:
		policy = PolicyRemoteWins
	}
	return &Resolver{policy: policy, logger: logger.With("component", "sync")}
}

// Resolve applies the configured policy to a diverged scene. The merge
// policy resolves to an apply with SmartStrategy merge semantics, which
// the engine honors through the strategy in use.
func (r *Resolver) Resolve(local, remote *models.Scene) Resolution {
	delta := diffFields(local, remote)
	if len(delta) == 0 {
		return ResolutionSkip
	}
	r.logger.Debug("scene diverged",
		"scene_id", remote.ID, "fields", delta, "policy", r.policy)

	switch r.policy {
	case PolicyLocalWins:
		return ResolutionSkip
	case PolicyManual:
		return ResolutionConflict
	default:
		return ResolutionApply
	}
}

// diffFields names the scalar fields that differ between the rows.
func diffFields(local, remote *models.Scene) []string {
	var delta []string
	if local.Title != remote.Title {
		delta = append(delta, "title")
	}
	if local.Details != remote.Details {
		delta = append(delta, "details")
	}
	if local.URL != remote.URL {
		delta = append(delta, "url")
	}
	if local.Organized != remote.Organized {
		delta = append(delta, "organized")
	}
	if !floatPtrEqual(local.Rating, remote.Rating) {
		delta = append(delta, "rating")
	}
	if !strPtrEqual(local.StudioID, remote.StudioID) {
		delta = append(delta, "studio")
	}
	if !local.StashUpdatedAt.Equal(remote.StashUpdatedAt) {
		delta = append(delta, "updated_at")
	}
	return delta
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
