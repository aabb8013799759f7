package catalog

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/medialib/curator/pkg/models"
)

// wireID tolerates servers that emit ID scalars as JSON numbers.
type wireID string

func (id *wireID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = wireID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = wireID(n.String())
	return nil
}

type wireRef struct {
	ID   wireID `json:"id"`
	Name string `json:"name"`
}

type wireFingerprint struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type wireFile struct {
	ID           wireID            `json:"id"`
	Path         string            `json:"path"`
	Size         int64             `json:"size"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	Duration     float64           `json:"duration"`
	FrameRate    float64           `json:"frame_rate"`
	VideoCodec   string            `json:"video_codec"`
	Fingerprints []wireFingerprint `json:"fingerprints"`
}

type wireMarker struct {
	ID         wireID   `json:"id"`
	Seconds    float64  `json:"seconds"`
	EndSeconds *float64 `json:"end_seconds"`
	Title      string   `json:"title"`
	PrimaryTag *wireRef `json:"primary_tag"`
	Tags       []wireRef `json:"tags"`
}

type wireScene struct {
	ID         wireID       `json:"id"`
	Title      string       `json:"title"`
	Details    string       `json:"details"`
	URL        string       `json:"url"`
	Date       *string      `json:"date"`
	Rating100  *int         `json:"rating100"`
	Organized  bool         `json:"organized"`
	CreatedAt  wireTime     `json:"created_at"`
	UpdatedAt  wireTime     `json:"updated_at"`
	Files      []wireFile   `json:"files"`
	Performers []wireRef    `json:"performers"`
	Tags       []wireRef    `json:"tags"`
	Studio     *wireRef     `json:"studio"`
	Markers    []wireMarker `json:"scene_markers"`
}

type wirePerformer struct {
	ID        wireID   `json:"id"`
	Name      string   `json:"name"`
	AliasList []string `json:"alias_list"`
	UpdatedAt wireTime `json:"updated_at"`
}

type wireTag struct {
	ID        wireID    `json:"id"`
	Name      string    `json:"name"`
	Parents   []wireRef `json:"parents"`
	UpdatedAt wireTime  `json:"updated_at"`
}

type wireStudio struct {
	ID           wireID   `json:"id"`
	Name         string   `json:"name"`
	ParentStudio *wireRef `json:"parent_studio"`
	UpdatedAt    wireTime `json:"updated_at"`
}

// wireTime accepts the timestamp layouts the Catalog is known to emit.
type wireTime struct {
	time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (t *wireTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	var lastErr error
	for _, layout := range timeLayouts {
		parsed, err := time.Parse(layout, s)
		if err == nil {
			t.Time = parsed
			return nil
		}
		lastErr = err
	}
	return lastErr
}

// --- normalization ---

// normalizeScene converts a wire scene into the local model. Rating is
// converted from the Catalog's 0-100 scale to the internal 0-5.
func normalizeScene(w *wireScene) *models.Scene {
	s := &models.Scene{
		ID:             string(w.ID),
		Title:          w.Title,
		Details:        w.Details,
		URL:            w.URL,
		Organized:      w.Organized,
		StashCreatedAt: w.CreatedAt.Time,
		StashUpdatedAt: w.UpdatedAt.Time,
	}
	if w.Rating100 != nil {
		r := float64(*w.Rating100) / 20.0
		s.Rating = &r
	}
	if w.Date != nil && *w.Date != "" {
		if d, err := time.Parse("2006-01-02", *w.Date); err == nil {
			s.StashDate = &d
		}
	}
	if w.Studio != nil {
		id := string(w.Studio.ID)
		s.StudioID = &id
		s.Refs.Studio = &models.EntityRef{ID: id, Name: w.Studio.Name}
	}
	for _, p := range w.Performers {
		s.PerformerIDs = append(s.PerformerIDs, string(p.ID))
		s.Refs.Performers = append(s.Refs.Performers, models.EntityRef{ID: string(p.ID), Name: p.Name})
	}
	for _, t := range w.Tags {
		s.TagIDs = append(s.TagIDs, string(t.ID))
		s.Refs.Tags = append(s.Refs.Tags, models.EntityRef{ID: string(t.ID), Name: t.Name})
	}
	for i, f := range w.Files {
		file := models.SceneFile{
			ID:        string(f.ID),
			SceneID:   s.ID,
			Path:      f.Path,
			Size:      f.Size,
			Width:     f.Width,
			Height:    f.Height,
			Duration:  f.Duration,
			FrameRate: f.FrameRate,
			Codec:     f.VideoCodec,
			IsPrimary: i == 0,
		}
		for _, fp := range f.Fingerprints {
			value := fp.Value
			switch fp.Type {
			case "phash":
				file.Phash = &value
			case "oshash":
				file.Oshash = &value
			}
		}
		s.Files = append(s.Files, file)
	}
	for _, m := range w.Markers {
		// Markers without a primary tag are invalid upstream data.
		if m.PrimaryTag == nil || m.PrimaryTag.ID == "" {
			continue
		}
		marker := models.SceneMarker{
			ID:           string(m.ID),
			SceneID:      s.ID,
			Seconds:      m.Seconds,
			EndSeconds:   m.EndSeconds,
			Title:        m.Title,
			PrimaryTagID: string(m.PrimaryTag.ID),
		}
		for _, t := range m.Tags {
			marker.TagIDs = append(marker.TagIDs, string(t.ID))
		}
		s.Markers = append(s.Markers, marker)
	}
	return s
}

func normalizePerformer(w *wirePerformer) *models.Performer {
	return &models.Performer{
		ID:      string(w.ID),
		Name:    w.Name,
		Aliases: w.AliasList,
	}
}

func normalizeTag(w *wireTag) *models.Tag {
	t := &models.Tag{
		ID:   string(w.ID),
		Name: w.Name,
	}
	if len(w.Parents) > 0 {
		id := string(w.Parents[0].ID)
		t.ParentID = &id
	}
	return t
}

func normalizeStudio(w *wireStudio) *models.Studio {
	s := &models.Studio{
		ID:   string(w.ID),
		Name: w.Name,
	}
	if w.ParentStudio != nil {
		id := string(w.ParentStudio.ID)
		s.ParentID = &id
	}
	return s
}

// intID parses a string ID into an int when the Catalog requires numeric
// IDs in mutation inputs, passing the string through otherwise.
func intID(id string) any {
	if n, err := strconv.Atoi(id); err == nil {
		return n
	}
	return id
}
