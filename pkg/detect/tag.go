package detect

import (
	"context"
	"fmt"
	"strings"

	"github.com/medialib/curator/pkg/ai"
	"github.com/medialib/curator/pkg/models"
)

// Duration bucket boundaries, in seconds.
const (
	durationShortMax  = 5 * 60
	durationMediumMax = 15 * 60
	durationLongMax   = 45 * 60
)

// tagHierarchy maps a general tag to its more specific children. A
// proposed child is redundant when the parent is already present and
// vice versa.
var tagHierarchy = map[string][]string{
	"bareback": {"raw", "no condom"},
	"outdoor":  {"public", "outside"},
	"group":    {"threesome", "foursome", "orgy"},
	"oral":     {"blowjob", "deepthroat"},
	"amateur":  {"homemade"},
}

// TagAI is the AI delegate for tag detection.
type TagAI interface {
	DetectTags(ctx context.Context, data ai.PromptData) ([]ai.Detection, error)
}

// TagDetector proposes tags from technical file properties and an
// optional AI delegate, then filters hierarchy-redundant proposals.
type TagDetector struct {
	ai        TagAI
	hierarchy map[string][]string
}

// NewTagDetector creates a detector. delegate may be nil to disable AI
// proposals.
func NewTagDetector(delegate TagAI) *TagDetector {
	hierarchy := make(map[string][]string, len(tagHierarchy))
	for parent, children := range tagHierarchy {
		hierarchy[parent] = append([]string(nil), children...)
	}
	return &TagDetector{ai: delegate, hierarchy: hierarchy}
}

// Detect returns tag proposals for the scene. availableTags bounds AI
// proposals (case-insensitive); existingTags drives the redundancy
// filter and duplicate suppression.
func (d *TagDetector) Detect(ctx context.Context, scene *models.Scene, availableTags, existingTags []string) ([]Result, error) {
	results := TechnicalTags(scene.PrimaryFile())

	if d.ai != nil {
		data := ai.PromptDataFromScene(scene, "", nil, availableTags)
		detections, err := d.ai.DetectTags(ctx, data)
		if err != nil {
			return nil, err
		}
		available := lowerSet(availableTags)
		for _, det := range detections {
			// Proposals outside the available-tag set are discarded.
			if len(available) > 0 && !available[strings.ToLower(det.Value)] {
				continue
			}
			results = append(results, Result{
				Value:      det.Value,
				Confidence: det.Confidence,
				Source:     SourceAI,
			})
		}
	}

	results = dedupeByValue(results)
	results = d.FilterRedundant(results, existingTags)
	sortByConfidence(results)
	return results, nil
}

// TechnicalTags derives deterministic tags from the file's resolution,
// duration and frame-rate buckets. Technical tags carry confidence 1.
func TechnicalTags(f *models.SceneFile) []Result {
	if f == nil {
		return nil
	}
	var results []Result
	technical := func(value string) {
		results = append(results, Result{
			Value:      value,
			Confidence: 1.0,
			Source:     SourceTechnical,
		})
	}

	switch {
	case f.Width >= 3840 && f.Height >= 2160:
		technical("4K")
		technical("UHD")
		technical("2160p")
	case f.Width >= 2560 && f.Height >= 1440:
		technical("1440p")
	case f.Width >= 1920 && f.Height >= 1080:
		technical("1080p")
		technical("Full HD")
	case f.Width >= 1280 && f.Height >= 720:
		technical("720p")
		technical("HD")
	case f.Width > 0:
		technical("SD")
	}

	switch {
	case f.Duration <= 0:
	case f.Duration < durationShortMax:
		technical("short")
	case f.Duration < durationMediumMax:
		technical("medium")
	case f.Duration < durationLongMax:
		technical("long")
	default:
		technical("full scene")
	}

	if f.FrameRate >= 60 {
		technical("60fps")
	}
	return results
}

// FilterRedundant drops proposals made redundant by the hierarchy: a
// child when its parent already exists, a parent when any of its
// children already exists, and any proposal already present.
func (d *TagDetector) FilterRedundant(proposals []Result, existing []string) []Result {
	existingSet := lowerSet(existing)

	out := proposals[:0]
	for _, p := range proposals {
		lower := strings.ToLower(p.Value)
		if existingSet[lower] {
			continue
		}
		if d.redundant(lower, existingSet) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (d *TagDetector) redundant(proposed string, existing map[string]bool) bool {
	// Proposed child, parent present.
	for parent, children := range d.hierarchy {
		if !existing[strings.ToLower(parent)] {
			continue
		}
		for _, child := range children {
			if strings.ToLower(child) == proposed {
				return true
			}
		}
	}
	// Proposed parent, a specific child present.
	if children, ok := d.hierarchy[proposed]; ok {
		for _, child := range children {
			if existing[strings.ToLower(child)] {
				return true
			}
		}
	}
	return false
}

// RegisterHierarchy adds a parent tag with its child tags to the
// redundancy table, merging with any existing entry.
func (d *TagDetector) RegisterHierarchy(parent string, children []string) error {
	if parent == "" || len(children) == 0 {
		return fmt.Errorf("hierarchy entry requires a parent and at least one child")
	}
	key := strings.ToLower(parent)
	if d.hierarchy == nil {
		d.hierarchy = make(map[string][]string)
	}
	d.hierarchy[key] = append(d.hierarchy[key], children...)
	return nil
}

func lowerSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[strings.ToLower(v)] = true
	}
	return set
}
