package detect

import (
	"context"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/agext/levenshtein"

	"github.com/medialib/curator/pkg/ai"
	"github.com/medialib/curator/pkg/models"
)

// Performer match confidence tiers.
const (
	confPerformerExact    = 1.0
	confPerformerAlias    = 0.95
	confPerformerFuzzyMin = 0.5

	// fuzzyMatchThreshold is the minimum combined similarity score for a
	// fuzzy candidate to count as a match at all.
	fuzzyMatchThreshold = 0.6
)

// candidateSeparators split a path segment into potential name strings.
var candidateSeparators = []string{
	" and ", " & ", ", ", " - ", "_", " with ", " feat ", " ft ", " featuring ",
}

// ignoreWords are format markers, quality tags and generic verbs that
// never belong to a performer name.
var ignoreWords = map[string]bool{
	"1080p": true, "720p": true, "2160p": true, "4k": true, "uhd": true,
	"hd": true, "sd": true, "fhd": true, "hevc": true, "x264": true,
	"x265": true, "h264": true, "h265": true, "web": true, "webrip": true,
	"mp4": true, "wmv": true, "mov": true, "avi": true, "mkv": true,
	"scene": true, "part": true, "full": true, "final": true, "video": true,
	"clip": true, "new": true, "vol": true, "xxx": true,
	"fucks": true, "fucking": true, "gets": true, "does": true, "takes": true,
}

// PerformerAI is the AI delegate for performer detection.
type PerformerAI interface {
	DetectPerformers(ctx context.Context, data ai.PromptData) ([]ai.Detection, error)
}

// PerformerDetector extracts candidate names from a scene's file path
// and matches them against the known-performer list.
type PerformerDetector struct {
	ai PerformerAI
}

// NewPerformerDetector creates a detector. delegate may be nil to
// disable AI augmentation.
func NewPerformerDetector(delegate PerformerAI) *PerformerDetector {
	return &PerformerDetector{ai: delegate}
}

// Detect returns matched performers keyed by canonical name, keeping the
// maximum confidence per performer.
func (d *PerformerDetector) Detect(ctx context.Context, scene *models.Scene, known []models.Performer) ([]Result, error) {
	byName := make(map[string]Result)

	for _, candidate := range ExtractCandidates(scene.FilePath()) {
		result, ok := matchPerformer(candidate, known)
		if !ok {
			continue
		}
		key := strings.ToLower(result.Value)
		if existing, dup := byName[key]; !dup || result.Confidence > existing.Confidence {
			byName[key] = result
		}
	}

	if d.ai != nil {
		detections, err := d.ai.DetectPerformers(ctx, ai.PromptDataFromScene(scene, "", nil, nil))
		if err != nil {
			return nil, err
		}
		for _, det := range detections {
			if det.Value == "" {
				continue
			}
			result := Result{Value: det.Value, Confidence: det.Confidence, Source: SourceAI}
			// Prefer the canonical name when the AI answer matches a
			// known performer.
			if matched, ok := matchPerformer(det.Value, known); ok {
				result.Value = matched.Value
			}
			key := strings.ToLower(result.Value)
			if existing, dup := byName[key]; !dup || result.Confidence > existing.Confidence {
				byName[key] = result
			}
		}
	}

	results := make([]Result, 0, len(byName))
	for _, r := range byName {
		results = append(results, r)
	}
	sortByConfidence(results)
	return results, nil
}

// ExtractCandidates pulls potential performer-name strings from the
// file name and its parent directory.
func ExtractCandidates(path string) []string {
	if path == "" {
		return nil
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	parent := filepath.Base(filepath.Dir(path))

	var candidates []string
	for _, segment := range []string{base, parent} {
		if segment == "" || segment == "." || segment == string(filepath.Separator) {
			continue
		}
		candidates = append(candidates, extractFromSegment(segment)...)
	}
	return dedupeStrings(candidates)
}

func extractFromSegment(segment string) []string {
	pieces := []string{segment}
	split := false
	for _, sep := range candidateSeparators {
		var next []string
		for _, piece := range pieces {
			parts := strings.Split(piece, sep)
			if len(parts) > 1 {
				split = true
			}
			next = append(next, parts...)
		}
		pieces = next
	}

	if !split {
		// No separator matched; fall back to contiguous
		// capitalized-word runs ("John Smith Does Something" -> runs).
		pieces = capitalizedRuns(segment)
	}

	var out []string
	for _, piece := range pieces {
		cleaned := stripIgnoreWords(piece)
		if validCandidate(cleaned) {
			out = append(out, cleaned)
		}
	}
	return out
}

// capitalizedRuns returns maximal runs of consecutive capitalized words.
func capitalizedRuns(s string) []string {
	words := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	var runs []string
	var current []string
	flush := func() {
		if len(current) > 0 {
			runs = append(runs, strings.Join(current, " "))
			current = nil
		}
	}
	for _, w := range words {
		r := []rune(w)
		if unicode.IsUpper(r[0]) && !ignoreWords[strings.ToLower(w)] {
			current = append(current, w)
		} else {
			flush()
		}
	}
	flush()
	return runs
}

func stripIgnoreWords(s string) string {
	words := strings.Fields(s)
	kept := words[:0]
	for _, w := range words {
		if !ignoreWords[strings.ToLower(w)] {
			kept = append(kept, w)
		}
	}
	return strings.TrimSpace(strings.Join(kept, " "))
}

// validCandidate enforces the candidate preconditions: at least 2 runes,
// at most 50, at least one letter, not mostly digits.
func validCandidate(s string) bool {
	runes := []rune(s)
	if len(runes) < 2 || len(runes) > 50 {
		return false
	}
	letters, digits := 0, 0
	for _, r := range runes {
		switch {
		case unicode.IsLetter(r):
			letters++
		case unicode.IsDigit(r):
			digits++
		}
	}
	if letters == 0 {
		return false
	}
	return digits*2 <= len(runes)
}

// matchPerformer resolves a candidate against the known list: exact
// name, then exact alias, then fuzzy similarity with name-part bonuses.
func matchPerformer(candidate string, known []models.Performer) (Result, bool) {
	lower := strings.ToLower(strings.TrimSpace(candidate))
	if lower == "" {
		return Result{}, false
	}

	for i := range known {
		if strings.ToLower(known[i].Name) == lower {
			return Result{
				Value:      known[i].Name,
				Confidence: confPerformerExact,
				Source:     SourcePath,
			}, true
		}
	}
	for i := range known {
		for _, alias := range known[i].Aliases {
			if strings.ToLower(alias) == lower {
				return Result{
					Value:      known[i].Name,
					Confidence: confPerformerAlias,
					Source:     SourcePath,
					Metadata:   map[string]any{"alias": alias},
				}, true
			}
		}
	}

	var (
		bestScore float64
		bestName  string
	)
	for i := range known {
		score := nameSimilarity(lower, strings.ToLower(known[i].Name))
		if score > bestScore {
			bestScore = score
			bestName = known[i].Name
		}
	}
	if bestScore < fuzzyMatchThreshold {
		return Result{}, false
	}
	return Result{
		Value:      bestName,
		Confidence: max(confPerformerFuzzyMin, bestScore*0.85),
		Source:     SourcePath,
		Metadata:   map[string]any{"similarity": bestScore},
	}, true
}

// nameSimilarity combines edit-distance similarity with first/last name
// bonuses, capped at 1.
func nameSimilarity(a, b string) float64 {
	score := levenshtein.Similarity(a, b, nil)

	aParts := strings.Fields(a)
	bParts := strings.Fields(b)
	if len(aParts) > 0 && len(bParts) > 0 {
		if aParts[0] == bParts[0] {
			score += 0.1
		}
		if len(aParts) > 1 && len(bParts) > 1 && aParts[len(aParts)-1] == bParts[len(bParts)-1] {
			score += 0.1
		}
	}
	return min(score, 1.0)
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		key := strings.ToLower(s)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}
