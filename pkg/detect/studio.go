package detect

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/medialib/curator/pkg/ai"
	"github.com/medialib/curator/pkg/models"
)

// Studio match confidence tiers.
const (
	confStudioDirExact    = 0.95
	confStudioFilePattern = 0.90
	confStudioDirPattern  = 0.85
)

// studioPattern maps a compiled filename/directory regex to a studio name.
type studioPattern struct {
	re     *regexp.Regexp
	studio string
}

// StudioAI is the AI delegate for studio detection.
type StudioAI interface {
	DetectStudio(ctx context.Context, data ai.PromptData) (*ai.Detection, error)
}

// StudioDetector proposes a studio for a scene from its file path,
// falling back to an optional AI delegate.
type StudioDetector struct {
	patterns []studioPattern
	ai       StudioAI
}

// NewStudioDetector creates a detector. delegate may be nil to disable
// AI fallback.
func NewStudioDetector(delegate StudioAI) *StudioDetector {
	return &StudioDetector{ai: delegate}
}

// RegisterPattern adds a custom path pattern for a studio. Invalid
// expressions fail fast at registration.
func (d *StudioDetector) RegisterPattern(pattern, studio string) error {
	if studio == "" {
		return fmt.Errorf("studio name is required for pattern %q", pattern)
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return fmt.Errorf("invalid studio pattern %q: %w", pattern, err)
	}
	d.patterns = append(d.patterns, studioPattern{re: re, studio: studio})
	return nil
}

// Detect returns studio candidates best first. knownStudios is the
// caller-supplied reference list; matching is case- and
// separator-insensitive against directory components.
func (d *StudioDetector) Detect(ctx context.Context, scene *models.Scene, knownStudios []string) ([]Result, error) {
	path := scene.FilePath()
	var results []Result

	if path != "" {
		dir, file := filepath.Split(path)
		components := splitPathComponents(dir)

		// Tier 1: a directory component that is a known studio.
		for _, component := range components {
			normalized := normalizeStudio(component)
			for _, studio := range knownStudios {
				if normalized != "" && normalized == normalizeStudio(studio) {
					results = append(results, Result{
						Value:      studio,
						Confidence: confStudioDirExact,
						Source:     SourcePath,
					})
				}
			}
		}

		// Tier 2: registered patterns against the filename, then the
		// directory components.
		for _, p := range d.patterns {
			if p.re.MatchString(file) {
				results = append(results, Result{
					Value:      p.studio,
					Confidence: confStudioFilePattern,
					Source:     SourcePattern,
				})
				continue
			}
			for _, component := range components {
				if p.re.MatchString(component) {
					results = append(results, Result{
						Value:      p.studio,
						Confidence: confStudioDirPattern,
						Source:     SourcePattern,
					})
					break
				}
			}
		}

		// Tier 3: known-studio substring anywhere in the path.
		if len(results) == 0 {
			haystack := normalizeStudio(path)
			for _, studio := range knownStudios {
				needle := normalizeStudio(studio)
				if needle != "" && strings.Contains(haystack, needle) {
					results = append(results, Result{
						Value:      studio,
						Confidence: confStudioDirPattern,
						Source:     SourcePath,
					})
				}
			}
		}
	}

	// AI fallback only when nothing deterministic matched.
	if len(results) == 0 && d.ai != nil {
		detection, err := d.ai.DetectStudio(ctx, ai.PromptDataFromScene(scene, "", nil, nil))
		if err != nil {
			return nil, err
		}
		if detection != nil && detection.Value != "" {
			results = append(results, Result{
				Value:      detection.Value,
				Confidence: detection.Confidence,
				Source:     SourceAI,
			})
		}
	}

	sortByConfidence(results)
	return dedupeByValue(results), nil
}

// splitPathComponents returns the directory components of dir, deepest
// last, skipping empty and root parts.
func splitPathComponents(dir string) []string {
	parts := strings.FieldsFunc(filepath.ToSlash(dir), func(r rune) bool {
		return r == '/'
	})
	out := parts[:0]
	for _, p := range parts {
		if p != "" && p != "." {
			out = append(out, p)
		}
	}
	return out
}

// normalizeStudio lowercases and strips every non-alphanumeric rune so
// "SeanCody", "Sean Cody" and "sean-cody" compare equal.
func normalizeStudio(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(unicode.ToLower(r))
		}
	}
	return sb.String()
}

// dedupeByValue keeps the first (highest-confidence) result per value.
func dedupeByValue(results []Result) []Result {
	seen := make(map[string]bool, len(results))
	out := results[:0]
	for _, r := range results {
		key := strings.ToLower(r.Value)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}
