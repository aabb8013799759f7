package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strings"

	"github.com/medialib/curator/pkg/config"
	"github.com/medialib/curator/pkg/models"
)

// AITagSuffix marks tags created by video analysis so operators can tell
// them from curated tags.
const AITagSuffix = "_AI"

// confidence reported for detections when the service omits per-span
// confidences.
const defaultVideoConfidence = 0.9

// Timespan is one detected occurrence of a tag in the video.
type Timespan struct {
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// VideoTagDetector sends a scene's primary file to the remote
// video-analysis service and converts the response into tag and marker
// proposals.
type VideoTagDetector struct {
	url           string
	frameInterval float64
	threshold     float64
	httpClient    *http.Client
	logger        *slog.Logger
}

// NewVideoTagDetector creates a detector from configuration.
func NewVideoTagDetector(cfg *config.VideoConfig, logger *slog.Logger) *VideoTagDetector {
	return &VideoTagDetector{
		url:           strings.TrimSuffix(cfg.URL, "/") + "/process_video/",
		frameInterval: cfg.FrameInterval,
		threshold:     cfg.Threshold,
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		logger:        logger.With("component", "videotag"),
	}
}

// FrameInterval returns the configured sampling interval in seconds.
func (d *VideoTagDetector) FrameInterval() float64 {
	return d.frameInterval
}

// Detect analyzes the scene's primary file. tagNames maps tag IDs to
// names and is used to recognize existing AI markers for removal
// proposals. vrVideo toggles the service's VR reprojection.
func (d *VideoTagDetector) Detect(ctx context.Context, scene *models.Scene, tagNames map[string]string, vrVideo bool) ([]models.ProposedChange, error) {
	path := scene.FilePath()
	if path == "" {
		return nil, fmt.Errorf("scene %s has no file to analyze", scene.ID)
	}

	tags, timespans, err := d.analyze(ctx, path, vrVideo)
	if err != nil {
		return nil, err
	}

	var changes []models.ProposedChange

	existingTags := lowerSet(namesForIDs(scene.TagIDs, tagNames))
	for _, tag := range tags {
		name := EnsureAISuffix(tag)
		if existingTags[strings.ToLower(name)] {
			continue
		}
		changes = append(changes, models.ProposedChange{
			Field:         models.FieldTags,
			Action:        models.ActionAdd,
			ProposedValue: name,
			Confidence:    defaultVideoConfidence,
			Reason:        "video analysis detected " + tag,
		})
	}

	detected := make(map[string][]Timespan, len(timespans))
	for tag, spans := range timespans {
		name := EnsureAISuffix(tag)
		merged := MergeTimespans(spans, d.frameInterval)
		detected[name] = merged
		for _, span := range merged {
			end := span.End
			confidence := defaultVideoConfidence
			if span.Confidence != nil {
				confidence = *span.Confidence
			}
			changes = append(changes, models.ProposedChange{
				Field:  models.FieldMarkers,
				Action: models.ActionAdd,
				ProposedValue: models.MarkerValue{
					Seconds:    span.Start,
					EndSeconds: &end,
					Title:      tag,
					Tags:       []string{name},
				},
				Confidence: confidence,
				Reason:     fmt.Sprintf("video analysis detected %s at %.1fs", tag, span.Start),
			})
		}
	}

	// Existing AI markers absent from the new detection get removal
	// proposals; curated markers are never touched.
	for _, marker := range scene.Markers {
		name, ok := tagNames[marker.PrimaryTagID]
		if !ok || !strings.HasSuffix(name, AITagSuffix) {
			continue
		}
		if markerStillDetected(marker, detected[name], d.frameInterval) {
			continue
		}
		changes = append(changes, models.ProposedChange{
			Field:  models.FieldMarkers,
			Action: models.ActionRemove,
			CurrentValue: models.MarkerValue{
				Seconds:    marker.Seconds,
				EndSeconds: marker.EndSeconds,
				Title:      marker.Title,
				Tags:       []string{name},
			},
			Confidence: defaultVideoConfidence,
			Reason:     fmt.Sprintf("marker %s at %.1fs no longer detected", name, marker.Seconds),
		})
	}

	return changes, nil
}

// analyze POSTs the file to the service and parses either response shape.
// Returns the flat detected tag names and the per-tag timespans.
func (d *VideoTagDetector) analyze(ctx context.Context, path string, vrVideo bool) ([]string, map[string][]Timespan, error) {
	body, err := json.Marshal(map[string]any{
		"path":              path,
		"frame_interval":    d.frameInterval,
		"threshold":         d.threshold,
		"return_confidence": true,
		"vr_video":          vrVideo,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("encoding video request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("building video request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("video analysis request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("reading video response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("video service returned %d: %s",
			resp.StatusCode, truncateString(string(payload), 200))
	}
	return parseVideoResponse(payload)
}

type videoTagInfo struct {
	VideoTags    map[string][]string             `json:"video_tags"`
	TagTimespans map[string]map[string][]Timespan `json:"tag_timespans"`
}

type legacyJSONResult struct {
	Timespans map[string]map[string][]Timespan `json:"timespans"`
}

// parseVideoResponse handles both documented shapes: the canonical
// video_tag_info document and the legacy json_result one, which may
// arrive JSON-encoded as a string.
func parseVideoResponse(payload []byte) ([]string, map[string][]Timespan, error) {
	var envelope struct {
		Result struct {
			VideoTagInfo *videoTagInfo   `json:"video_tag_info"`
			JSONResult   json.RawMessage `json:"json_result"`
		} `json:"result"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, nil, fmt.Errorf("decoding video response: %w", err)
	}

	if info := envelope.Result.VideoTagInfo; info != nil {
		var tags []string
		for _, names := range info.VideoTags {
			tags = append(tags, names...)
		}
		sort.Strings(tags)
		return tags, flattenTimespans(info.TagTimespans), nil
	}

	if len(envelope.Result.JSONResult) > 0 {
		raw := envelope.Result.JSONResult
		// The legacy field sometimes arrives as a JSON-encoded string.
		if raw[0] == '"' {
			var inner string
			if err := json.Unmarshal(raw, &inner); err != nil {
				return nil, nil, fmt.Errorf("decoding string-encoded json_result: %w", err)
			}
			raw = []byte(inner)
		}
		var legacy legacyJSONResult
		if err := json.Unmarshal(raw, &legacy); err != nil {
			return nil, nil, fmt.Errorf("decoding legacy json_result: %w", err)
		}
		timespans := flattenTimespans(legacy.Timespans)
		tags := make([]string, 0, len(timespans))
		for tag := range timespans {
			tags = append(tags, tag)
		}
		sort.Strings(tags)
		return tags, timespans, nil
	}

	return nil, nil, fmt.Errorf("video response has neither video_tag_info nor json_result")
}

func flattenTimespans(byCategory map[string]map[string][]Timespan) map[string][]Timespan {
	out := make(map[string][]Timespan)
	for _, byTag := range byCategory {
		for tag, spans := range byTag {
			out[tag] = append(out[tag], spans...)
		}
	}
	return out
}

// MergeTimespans merges consecutive occurrences of the same tag: two
// spans merge when their confidences differ by less than 0.01 and the
// gap between them is at most frameInterval x 1.1. Merging is stable:
// merging an already-merged list changes nothing.
func MergeTimespans(spans []Timespan, frameInterval float64) []Timespan {
	if len(spans) == 0 {
		return nil
	}
	sorted := append([]Timespan(nil), spans...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	maxGap := frameInterval * 1.1
	merged := []Timespan{sorted[0]}
	for _, span := range sorted[1:] {
		last := &merged[len(merged)-1]
		if span.Start-last.End <= maxGap && confidenceClose(last.Confidence, span.Confidence) {
			if span.End > last.End {
				last.End = span.End
			}
			continue
		}
		merged = append(merged, span)
	}
	return merged
}

func confidenceClose(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return math.Abs(*a-*b) < 0.01
}

// EnsureAISuffix appends the AI tag suffix unless it is already present.
func EnsureAISuffix(name string) string {
	if strings.HasSuffix(name, AITagSuffix) {
		return name
	}
	return name + AITagSuffix
}

func namesForIDs(ids []string, names map[string]string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if name, ok := names[id]; ok {
			out = append(out, name)
		}
	}
	return out
}

func markerStillDetected(marker models.SceneMarker, spans []Timespan, frameInterval float64) bool {
	tolerance := frameInterval * 1.1
	for _, span := range spans {
		if math.Abs(span.Start-marker.Seconds) <= tolerance {
			return true
		}
	}
	return false
}

func truncateString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
