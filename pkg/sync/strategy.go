// Package sync implements the mirror synchronization engine: full,
// incremental and targeted pulls from the Catalog, pluggable merge
// strategies, and conflict resolution between remote data and local
// edits.
package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/medialib/curator/pkg/models"
)

// Strategy decides whether a remote scene needs syncing and how its
// fields merge into the local row.
type Strategy interface {
	// ShouldSync reports whether the remote scene differs enough from the
	// local row to warrant a write.
	ShouldSync(remote, local *models.Scene) bool

	// Merge copies the remote scene's fields into the local row.
	// Relationship reconciliation happens separately in the engine.
	Merge(local, remote *models.Scene)
}

// StrategyFor returns the named strategy; unknown names get smart.
func StrategyFor(name string) Strategy {
	switch name {
	case "full":
		return FullStrategy{}
	case "incremental":
		return IncrementalStrategy{}
	default:
		return SmartStrategy{}
	}
}

// FullStrategy always syncs and overwrites every field from remote.
type FullStrategy struct{}

func (FullStrategy) ShouldSync(*models.Scene, *models.Scene) bool { return true }

func (FullStrategy) Merge(local, remote *models.Scene) {
	overwriteScalars(local, remote)
}

// IncrementalStrategy syncs only scenes the Catalog has touched since
// the local row was last written, overwriting on sync.
type IncrementalStrategy struct{}

func (IncrementalStrategy) ShouldSync(remote, local *models.Scene) bool {
	return remote.StashUpdatedAt.After(local.StashUpdatedAt)
}

func (IncrementalStrategy) Merge(local, remote *models.Scene) {
	overwriteScalars(local, remote)
}

// SmartStrategy syncs when either the remote timestamp or a content
// checksum indicates change. On merge, file-derived data always follows
// the remote; text fields are preserved when the row is flagged
// manually edited.
type SmartStrategy struct{}

func (SmartStrategy) ShouldSync(remote, local *models.Scene) bool {
	if remote.StashUpdatedAt.After(local.StashUpdatedAt) {
		return true
	}
	return Checksum(remote) != local.Checksum
}

func (SmartStrategy) Merge(local, remote *models.Scene) {
	if local.ManuallyEdited {
		// Keep locally curated text; take everything else.
		title, details, url := local.Title, local.Details, local.URL
		overwriteScalars(local, remote)
		local.Title, local.Details, local.URL = title, details, url
		return
	}
	overwriteScalars(local, remote)
}

func overwriteScalars(local, remote *models.Scene) {
	local.Title = remote.Title
	local.Details = remote.Details
	local.URL = remote.URL
	local.Organized = remote.Organized
	local.Rating = remote.Rating
	local.StudioID = remote.StudioID
	local.StashDate = remote.StashDate
	local.StashCreatedAt = remote.StashCreatedAt
	local.StashUpdatedAt = remote.StashUpdatedAt
	local.Checksum = Checksum(remote)
}

// Checksum computes the content checksum over the fixed field subset
// used for change detection: title, details, url, date, rating,
// organized, primary file, performers, tags, studio. ID lists are
// sorted so ordering differences do not register as change.
func Checksum(s *models.Scene) string {
	var sb strings.Builder
	sb.WriteString(s.Title)
	sb.WriteByte('|')
	sb.WriteString(s.Details)
	sb.WriteByte('|')
	sb.WriteString(s.URL)
	sb.WriteByte('|')
	if s.StashDate != nil {
		sb.WriteString(s.StashDate.Format("2006-01-02"))
	}
	sb.WriteByte('|')
	if s.Rating != nil {
		fmt.Fprintf(&sb, "%g", *s.Rating)
	}
	sb.WriteByte('|')
	fmt.Fprintf(&sb, "%t", s.Organized)
	sb.WriteByte('|')
	if f := s.PrimaryFile(); f != nil {
		fmt.Fprintf(&sb, "%s:%d", f.Path, f.Size)
	}
	sb.WriteByte('|')
	sb.WriteString(strings.Join(sortedCopy(s.PerformerIDs), ","))
	sb.WriteByte('|')
	sb.WriteString(strings.Join(sortedCopy(s.TagIDs), ","))
	sb.WriteByte('|')
	if s.StudioID != nil {
		sb.WriteString(*s.StudioID)
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

func sortedCopy(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}
