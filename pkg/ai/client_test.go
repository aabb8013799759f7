package ai

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medialib/curator/pkg/config"
)

func testAIClient(t *testing.T, handler http.HandlerFunc) (*Client, *CostTracker) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	tracker := NewCostTracker(nil)
	client := NewClient(&config.AIConfig{
		URL:         server.URL,
		Model:       "gpt-4o-mini",
		Temperature: 0.2,
		Timeout:     5 * time.Second,
	}, tracker, slog.Default())
	return client, tracker
}

func completionJSON(content string, promptTokens, completionTokens int) string {
	body, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
		"usage": map[string]any{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
		},
	})
	return string(body)
}

func TestCompleteRecordsCost(t *testing.T) {
	client, tracker := testAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(completionJSON("Sean Cody", 1000, 500)))
	})

	content, err := client.Complete(context.Background(), OpStudioDetection,
		[]Message{{Role: "user", Content: "who made this"}})
	require.NoError(t, err)
	assert.Equal(t, "Sean Cody", content)

	snap := tracker.Snapshot()
	op := snap.Operations[OpStudioDetection]
	assert.Equal(t, int64(1), op.Calls)
	assert.Equal(t, int64(1000), op.PromptTokens)
	assert.Equal(t, int64(500), op.CompletionTokens)
	// 1000 in @ $0.15/M + 500 out @ $0.60/M.
	assert.InDelta(t, 0.00045, op.CostUSD, 1e-9)
}

func TestCompleteEstimatesTokensWhenUsageMissing(t *testing.T) {
	client, tracker := testAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(completionJSON("12345678", 0, 0)))
	})

	prompt := "0123456789abcdef" // 16 chars -> 4 tokens
	_, err := client.Complete(context.Background(), OpTagDetection,
		[]Message{{Role: "user", Content: prompt}})
	require.NoError(t, err)

	op := tracker.Snapshot().Operations[OpTagDetection]
	assert.Equal(t, int64(4), op.PromptTokens)
	assert.Equal(t, int64(2), op.CompletionTokens)
}

func TestCompleteStructuredMalformedIsProtocolError(t *testing.T) {
	client, _ := testAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(completionJSON("this is not json", 10, 10)))
	})

	var out detectionList
	err := client.CompleteStructured(context.Background(), OpStudioDetection,
		[]Message{{Role: "user", Content: "x"}},
		"detections", detectionListSchema, &out)
	require.ErrorIs(t, err, ErrProtocol)
}

func TestDetectStudioPicksHighestConfidence(t *testing.T) {
	client, _ := testAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		content := `{"detections":[
			{"value":"Maybe Studios","confidence":0.4},
			{"value":"Sean Cody","confidence":0.9}]}`
		w.Write([]byte(completionJSON(content, 10, 10)))
	})

	detection, err := client.DetectStudio(context.Background(), PromptData{Title: "test"})
	require.NoError(t, err)
	require.NotNil(t, detection)
	assert.Equal(t, "Sean Cody", detection.Value)
	assert.InDelta(t, 0.9, detection.Confidence, 0.001)
}

func TestBatchAnalyzeFillsUnmatchedScenes(t *testing.T) {
	client, _ := testAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		content := `{"scenes":{"1":{"tags":[{"value":"outdoor","confidence":0.8}]}}}`
		w.Write([]byte(completionJSON(content, 10, 10)))
	})

	results, err := client.BatchAnalyze(context.Background(), OpTagDetection,
		map[string]PromptData{
			"1": {Title: "first"},
			"2": {Title: "second"},
		})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Len(t, results["1"].Tags, 1)
	assert.Empty(t, results["2"].Tags, "unmatched scene yields an empty result, not an error")
}

func TestRenderPromptMissingFieldsAreEmpty(t *testing.T) {
	rendered, err := RenderPrompt(StudioPrompt, PromptData{FilePath: "/videos/x.mp4"})
	require.NoError(t, err)
	assert.Contains(t, rendered, "/videos/x.mp4")
	assert.Contains(t, rendered, "Title: \n")
}
