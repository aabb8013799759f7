package detect

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medialib/curator/pkg/ai"
	"github.com/medialib/curator/pkg/models"
)

func TestTechnicalTags4K(t *testing.T) {
	file := &models.SceneFile{Width: 3840, Height: 2160, Duration: 2100, FrameRate: 60}
	results := TechnicalTags(file)

	values := make([]string, 0, len(results))
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Confidence, 0.9)
		assert.Equal(t, SourceTechnical, r.Source)
		values = append(values, r.Value)
	}
	assert.ElementsMatch(t, []string{"4K", "UHD", "2160p", "long", "60fps"}, values)
}

func TestTechnicalTagsDurationBuckets(t *testing.T) {
	cases := []struct {
		duration float64
		want     string
	}{
		{120, "short"},
		{600, "medium"},
		{2000, "long"},
		{3600, "full scene"},
	}
	for _, tc := range cases {
		results := TechnicalTags(&models.SceneFile{Width: 1280, Height: 720, Duration: tc.duration})
		values := make([]string, 0, len(results))
		for _, r := range results {
			values = append(values, r.Value)
		}
		assert.Contains(t, values, tc.want, "duration %.0f", tc.duration)
	}
}

func TestTechnicalTagsNilFile(t *testing.T) {
	assert.Empty(t, TechnicalTags(nil))
}

func TestFilterRedundantChildOfExistingParent(t *testing.T) {
	d := NewTagDetector(nil)
	proposed := []Result{
		{Value: "bareback", Confidence: 0.8},
		{Value: "raw", Confidence: 0.8},
	}

	filtered := d.FilterRedundant(proposed, []string{"bareback"})
	assert.Empty(t, filtered,
		"bareback is already present and raw is its child")
}

func TestFilterRedundantParentOfExistingChild(t *testing.T) {
	d := NewTagDetector(nil)
	proposed := []Result{{Value: "group", Confidence: 0.9}}

	filtered := d.FilterRedundant(proposed, []string{"threesome"})
	assert.Empty(t, filtered, "a specific child already covers the parent")
}

func TestFilterRedundantKeepsUnrelated(t *testing.T) {
	d := NewTagDetector(nil)
	proposed := []Result{{Value: "outdoor", Confidence: 0.9}}

	filtered := d.FilterRedundant(proposed, []string{"bareback"})
	require.Len(t, filtered, 1)
	assert.Equal(t, "outdoor", filtered[0].Value)
}

type tagAIFunc func() []string

func (f tagAIFunc) DetectTags(_ context.Context, _ ai.PromptData) ([]ai.Detection, error) {
	var out []ai.Detection
	for _, v := range f() {
		out = append(out, ai.Detection{Value: v, Confidence: 0.8})
	}
	return out, nil
}

func TestDetectDiscardsTagsOutsideAvailableSet(t *testing.T) {
	d := NewTagDetector(tagAIFunc(func() []string {
		return []string{"outdoor", "invented tag"}
	}))
	scene := sceneWithPath("/videos/test.mp4")

	results, err := d.Detect(context.Background(), scene,
		[]string{"Outdoor", "4K"}, nil)
	require.NoError(t, err)

	values := make([]string, 0, len(results))
	for _, r := range results {
		values = append(values, r.Value)
	}
	assert.Contains(t, values, "outdoor", "available tags match case-insensitively")
	assert.NotContains(t, values, "invented tag")
}
