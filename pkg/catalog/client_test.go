package catalog

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medialib/curator/pkg/config"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cache, err := NewEntityCache(64, time.Minute, time.Hour)
	require.NoError(t, err)

	client := NewClient(&config.CatalogConfig{
		URL:            server.URL,
		Timeout:        5 * time.Second,
		MaxConnections: 2,
		MaxRetries:     3,
	}, cache, slog.New(slog.NewTextHandler(testWriter{t}, nil)))
	client.retryInterval = time.Millisecond
	t.Cleanup(client.Close)
	return client, server
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func graphqlOK(data string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":` + data + `}`))
	}
}

func TestGetSceneNormalization(t *testing.T) {
	client, _ := testClient(t, graphqlOK(`{
		"findScene": {
			"id": 42,
			"title": "Test Scene",
			"details": "Some details",
			"rating100": 80,
			"organized": true,
			"date": "2024-03-01",
			"created_at": "2024-01-01T00:00:00Z",
			"updated_at": "2024-02-01T12:30:00Z",
			"files": [{
				"id": "7",
				"path": "/videos/test.mp4",
				"size": 1000,
				"width": 3840,
				"height": 2160,
				"duration": 2100,
				"frame_rate": 60,
				"video_codec": "h264",
				"fingerprints": [{"type": "phash", "value": "abc123"}],
				"some_future_field": {"nested": true}
			}],
			"performers": [{"id": 1, "name": "John Smith"}],
			"tags": [{"id": "5", "name": "4K"}],
			"studio": {"id": "3", "name": "Sean Cody"},
			"scene_markers": [
				{"id": "m1", "seconds": 10, "title": "intro", "primary_tag": {"id": "5"}, "tags": []},
				{"id": "m2", "seconds": 20, "title": "orphan", "primary_tag": null, "tags": []}
			]
		}
	}`))

	scene, err := client.GetScene(context.Background(), "42")
	require.NoError(t, err)

	assert.Equal(t, "42", scene.ID, "numeric wire IDs normalize to strings")
	require.NotNil(t, scene.Rating)
	assert.InDelta(t, 4.0, *scene.Rating, 0.001, "rating100 converts to the 0-5 scale")
	require.NotNil(t, scene.StashDate)
	assert.Equal(t, "2024-03-01", scene.StashDate.Format("2006-01-02"))
	assert.Equal(t, []string{"1"}, scene.PerformerIDs)
	require.NotNil(t, scene.StudioID)
	assert.Equal(t, "3", *scene.StudioID)

	require.Len(t, scene.Files, 1)
	assert.True(t, scene.Files[0].IsPrimary)
	require.NotNil(t, scene.Files[0].Phash)
	assert.Equal(t, "abc123", *scene.Files[0].Phash)

	// The marker without a primary tag is dropped.
	require.Len(t, scene.Markers, 1)
	assert.Equal(t, "m1", scene.Markers[0].ID)
}

func TestExecuteRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		graphqlOK(`{"stats":{"scene_count":10}}`)(w, r)
	}))

	stats, err := client.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, stats.SceneCount)
	assert.Equal(t, int32(3), calls.Load())
}

func TestExecuteDoesNotRetryAuthentication(t *testing.T) {
	var calls atomic.Int32
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.GetStats(context.Background())
	require.ErrorIs(t, err, ErrAuthentication)
	assert.Equal(t, int32(1), calls.Load())
}

func TestExecuteSurfacesGraphQLErrors(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"errors":[{"message":"unknown field frobnicate"}]}`))
	}))

	_, err := client.GetStats(context.Background())
	require.ErrorIs(t, err, ErrProtocol)
	assert.Contains(t, err.Error(), "frobnicate")
}

func TestCreatePerformerReturnsExistingOnExactName(t *testing.T) {
	var mutations atomic.Int32
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphqlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		if req.Variables["input"] != nil {
			mutations.Add(1)
			w.Write([]byte(`{"data":{"performerCreate":{"id":"99","name":"New Person"}}}`))
			return
		}
		w.Write([]byte(`{"data":{"findPerformers":{"count":1,
			"performers":[{"id":"1","name":"John Smith","alias_list":["Johnny S"]}]}}}`))
	}))

	existing, err := client.CreatePerformer(context.Background(), "john smith")
	require.NoError(t, err)
	assert.Equal(t, "1", existing.ID)
	assert.Zero(t, mutations.Load(), "exact-name match must not create a duplicate")

	created, err := client.CreatePerformer(context.Background(), "New Person")
	require.NoError(t, err)
	assert.Equal(t, "99", created.ID)
	assert.Equal(t, int32(1), mutations.Load())
}

func TestGetAllTagsUsesListingCache(t *testing.T) {
	var calls atomic.Int32
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		graphqlOK(`{"findTags":{"count":1,"tags":[{"id":"5","name":"4K"}]}}`)(w, r)
	}))

	ctx := context.Background()
	first, err := client.GetAllTags(ctx)
	require.NoError(t, err)
	second, err := client.GetAllTags(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
}
