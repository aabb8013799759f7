// Package detect implements the per-scene detectors: studio and
// performer identification from file paths, technical and AI tag
// proposals, details cleanup, and remote video-tag analysis. Detectors
// are pure over their inputs except where they delegate to the AI or
// video services.
package detect

import "sort"

// Source labels where a detection came from.
type Source string

// Detection sources.
const (
	SourcePattern   Source = "pattern"
	SourcePath      Source = "path"
	SourceTechnical Source = "technical"
	SourceAI        Source = "ai"
	SourceRelated   Source = "related"
)

// Result is one detected value with its confidence and provenance.
type Result struct {
	Value      string         `json:"value"`
	Confidence float64        `json:"confidence"` // in [0,1]
	Source     Source         `json:"source"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// FilterByConfidence returns the results at or above threshold,
// preserving order.
func FilterByConfidence(results []Result, threshold float64) []Result {
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if r.Confidence >= threshold {
			out = append(out, r)
		}
	}
	return out
}

// sortByConfidence orders results best first, stably.
func sortByConfidence(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Confidence > results[j].Confidence
	})
}
