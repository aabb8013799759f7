package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/medialib/curator/pkg/config"
	"github.com/medialib/curator/pkg/models"
)

// Cache key prefixes invalidated when the corresponding entity set mutates.
const (
	cachePrefixPerformers = "performers:"
	cachePrefixTags       = "tags:"
	cachePrefixStudios    = "studios:"
)

// Client is the GraphQL client for the Catalog server. It is stateless
// apart from its connection pool and the entity cache; methods are safe
// for concurrent use.
type Client struct {
	url        string
	apiKey     string
	maxRetries int
	httpClient *http.Client
	cache      *EntityCache
	logger     *slog.Logger

	// retryInterval is the backoff base; shortened in tests.
	retryInterval time.Duration
}

// NewClient creates a Catalog client from configuration. The HTTP pool
// is bounded by cfg.MaxConnections and kept alive between requests.
func NewClient(cfg *config.CatalogConfig, cache *EntityCache, logger *slog.Logger) *Client {
	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxConnections,
		MaxIdleConnsPerHost: cfg.MaxConnections,
		MaxConnsPerHost:     cfg.MaxConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	return &Client{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		cache:         cache,
		logger:        logger.With("component", "catalog"),
		retryInterval: 2 * time.Second,
	}
}

// Close releases the client's idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// --- transport ---

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []GraphQLError  `json:"errors"`
}

// execute POSTs one GraphQL document with retry. Transient failures
// (connection, timeout, 429, 5xx) are retried with exponential backoff
// and jitter up to maxRetries attempts; 401 and protocol errors are not.
func (c *Client) execute(ctx context.Context, query string, variables map[string]any, out any) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryInterval
	policy.Multiplier = 2
	policy.MaxInterval = 10 * time.Second
	policy.RandomizationFactor = 0.2

	attempts := uint64(c.maxRetries)
	if attempts == 0 {
		attempts = 1
	}

	operation := func() error {
		err := c.executeOnce(ctx, query, variables, out)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, attempts-1), ctx))
}

func (c *Client) executeOnce(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("%w: encoding request: %v", ErrProtocol, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: building request: %v", ErrConnection, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("ApiKey", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrAuthentication
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: server returned %d", ErrConnection, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: unexpected status %d", ErrProtocol, resp.StatusCode)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", ErrConnection, err)
	}

	var gqlResp graphqlResponse
	if err := json.Unmarshal(payload, &gqlResp); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrProtocol, err)
	}
	if len(gqlResp.Errors) > 0 {
		msg := gqlResp.Errors[0].Message
		lower := strings.ToLower(msg)
		switch {
		case strings.Contains(lower, "not found"):
			return fmt.Errorf("%w: %s", ErrNotFound, msg)
		case strings.Contains(lower, "unauthorized"), strings.Contains(lower, "unauthenticated"):
			return ErrAuthentication
		}
		return fmt.Errorf("%w: %s", ErrProtocol, msg)
	}
	if out != nil {
		if err := json.Unmarshal(gqlResp.Data, out); err != nil {
			return fmt.Errorf("%w: decoding data: %v", ErrProtocol, err)
		}
	}
	return nil
}

// --- scene reads ---

// SceneQuery selects the scenes to fetch.
type SceneQuery struct {
	Page         int
	PerPage      int
	Query        string
	Sort         string
	Direction    string
	UpdatedSince *time.Time
}

// GetScenes fetches one page of scenes and the total match count.
func (c *Client) GetScenes(ctx context.Context, q SceneQuery) ([]*models.Scene, int, error) {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.PerPage <= 0 {
		q.PerPage = 100
	}
	filter := map[string]any{
		"page":     q.Page,
		"per_page": q.PerPage,
	}
	if q.Query != "" {
		filter["q"] = q.Query
	}
	if q.Sort != "" {
		filter["sort"] = q.Sort
		direction := q.Direction
		if direction == "" {
			direction = "ASC"
		}
		filter["direction"] = direction
	}
	variables := map[string]any{"filter": filter}
	if q.UpdatedSince != nil {
		variables["scene_filter"] = map[string]any{
			"updated_at": map[string]any{
				"value":    q.UpdatedSince.UTC().Format(time.RFC3339),
				"modifier": "GREATER_THAN",
			},
		}
	}

	var result struct {
		FindScenes struct {
			Count  int         `json:"count"`
			Scenes []wireScene `json:"scenes"`
		} `json:"findScenes"`
	}
	if err := c.execute(ctx, queryFindScenes, variables, &result); err != nil {
		return nil, 0, err
	}
	scenes := make([]*models.Scene, 0, len(result.FindScenes.Scenes))
	for i := range result.FindScenes.Scenes {
		scenes = append(scenes, normalizeScene(&result.FindScenes.Scenes[i]))
	}
	return scenes, result.FindScenes.Count, nil
}

// GetScene fetches a single scene by ID.
func (c *Client) GetScene(ctx context.Context, id string) (*models.Scene, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: scene id is required", ErrValidation)
	}
	var result struct {
		FindScene *wireScene `json:"findScene"`
	}
	if err := c.execute(ctx, queryFindScene, map[string]any{"id": id}, &result); err != nil {
		return nil, err
	}
	if result.FindScene == nil {
		return nil, fmt.Errorf("%w: scene %s", ErrNotFound, id)
	}
	return normalizeScene(result.FindScene), nil
}

// FindScenes fetches every scene matching a free-text query, paging
// through the result set.
func (c *Client) FindScenes(ctx context.Context, query string) ([]*models.Scene, error) {
	var all []*models.Scene
	for page := 1; ; page++ {
		scenes, total, err := c.GetScenes(ctx, SceneQuery{Page: page, PerPage: 100, Query: query})
		if err != nil {
			return nil, err
		}
		all = append(all, scenes...)
		if len(all) >= total || len(scenes) == 0 {
			return all, nil
		}
	}
}

// --- entity reads ---

// GetAllPerformers returns every performer. Results are cached for the
// listing TTL.
func (c *Client) GetAllPerformers(ctx context.Context) ([]*models.Performer, error) {
	key := cachePrefixPerformers + "all"
	if cached, ok := c.cache.Get(key); ok {
		return cached.([]*models.Performer), nil
	}
	performers, err := c.fetchPerformers(ctx, nil)
	if err != nil {
		return nil, err
	}
	c.cache.SetListing(key, performers)
	return performers, nil
}

// GetPerformersSince returns performers updated after ts. Not cached.
func (c *Client) GetPerformersSince(ctx context.Context, ts time.Time) ([]*models.Performer, error) {
	return c.fetchPerformers(ctx, &ts)
}

func (c *Client) fetchPerformers(ctx context.Context, since *time.Time) ([]*models.Performer, error) {
	var all []*models.Performer
	for page := 1; ; page++ {
		variables := map[string]any{
			"filter": map[string]any{"page": page, "per_page": 500},
		}
		if since != nil {
			variables["performer_filter"] = updatedSinceFilter(*since)
		}
		var result struct {
			FindPerformers struct {
				Count      int             `json:"count"`
				Performers []wirePerformer `json:"performers"`
			} `json:"findPerformers"`
		}
		if err := c.execute(ctx, queryAllPerformers, variables, &result); err != nil {
			return nil, err
		}
		for i := range result.FindPerformers.Performers {
			all = append(all, normalizePerformer(&result.FindPerformers.Performers[i]))
		}
		if len(all) >= result.FindPerformers.Count || len(result.FindPerformers.Performers) == 0 {
			return all, nil
		}
	}
}

// GetAllTags returns every tag. Results are cached for the listing TTL.
func (c *Client) GetAllTags(ctx context.Context) ([]*models.Tag, error) {
	key := cachePrefixTags + "all"
	if cached, ok := c.cache.Get(key); ok {
		return cached.([]*models.Tag), nil
	}
	tags, err := c.fetchTags(ctx, nil)
	if err != nil {
		return nil, err
	}
	c.cache.SetListing(key, tags)
	return tags, nil
}

// GetTagsSince returns tags updated after ts. Not cached.
func (c *Client) GetTagsSince(ctx context.Context, ts time.Time) ([]*models.Tag, error) {
	return c.fetchTags(ctx, &ts)
}

func (c *Client) fetchTags(ctx context.Context, since *time.Time) ([]*models.Tag, error) {
	var all []*models.Tag
	for page := 1; ; page++ {
		variables := map[string]any{
			"filter": map[string]any{"page": page, "per_page": 500},
		}
		if since != nil {
			variables["tag_filter"] = updatedSinceFilter(*since)
		}
		var result struct {
			FindTags struct {
				Count int       `json:"count"`
				Tags  []wireTag `json:"tags"`
			} `json:"findTags"`
		}
		if err := c.execute(ctx, queryAllTags, variables, &result); err != nil {
			return nil, err
		}
		for i := range result.FindTags.Tags {
			all = append(all, normalizeTag(&result.FindTags.Tags[i]))
		}
		if len(all) >= result.FindTags.Count || len(result.FindTags.Tags) == 0 {
			return all, nil
		}
	}
}

// GetAllStudios returns every studio. Results are cached for the listing TTL.
func (c *Client) GetAllStudios(ctx context.Context) ([]*models.Studio, error) {
	key := cachePrefixStudios + "all"
	if cached, ok := c.cache.Get(key); ok {
		return cached.([]*models.Studio), nil
	}
	studios, err := c.fetchStudios(ctx, nil)
	if err != nil {
		return nil, err
	}
	c.cache.SetListing(key, studios)
	return studios, nil
}

// GetStudiosSince returns studios updated after ts. Not cached.
func (c *Client) GetStudiosSince(ctx context.Context, ts time.Time) ([]*models.Studio, error) {
	return c.fetchStudios(ctx, &ts)
}

func (c *Client) fetchStudios(ctx context.Context, since *time.Time) ([]*models.Studio, error) {
	var all []*models.Studio
	for page := 1; ; page++ {
		variables := map[string]any{
			"filter": map[string]any{"page": page, "per_page": 500},
		}
		if since != nil {
			variables["studio_filter"] = updatedSinceFilter(*since)
		}
		var result struct {
			FindStudios struct {
				Count   int          `json:"count"`
				Studios []wireStudio `json:"studios"`
			} `json:"findStudios"`
		}
		if err := c.execute(ctx, queryAllStudios, variables, &result); err != nil {
			return nil, err
		}
		for i := range result.FindStudios.Studios {
			all = append(all, normalizeStudio(&result.FindStudios.Studios[i]))
		}
		if len(all) >= result.FindStudios.Count || len(result.FindStudios.Studios) == 0 {
			return all, nil
		}
	}
}

// Stats is the Catalog's aggregate entity counts.
type Stats struct {
	SceneCount     int `json:"scene_count"`
	PerformerCount int `json:"performer_count"`
	TagCount       int `json:"tag_count"`
	StudioCount    int `json:"studio_count"`
}

// GetStats fetches aggregate counts from the Catalog.
func (c *Client) GetStats(ctx context.Context) (*Stats, error) {
	var result struct {
		Stats Stats `json:"stats"`
	}
	if err := c.execute(ctx, queryStats, nil, &result); err != nil {
		return nil, err
	}
	return &result.Stats, nil
}

// --- writes ---

// SceneUpdate is the partial update applied by UpdateScene. Nil fields
// are left untouched.
type SceneUpdate struct {
	Title        *string
	Details      *string
	URL          *string
	StudioID     *string
	PerformerIDs []string
	TagIDs       []string
	Organized    *bool
	Rating       *float64 // 0-5 internal scale
}

func (u *SceneUpdate) input(id string) map[string]any {
	input := map[string]any{"id": intID(id)}
	if u.Title != nil {
		input["title"] = *u.Title
	}
	if u.Details != nil {
		input["details"] = *u.Details
	}
	if u.URL != nil {
		input["url"] = *u.URL
	}
	if u.StudioID != nil {
		input["studio_id"] = intID(*u.StudioID)
	}
	if u.PerformerIDs != nil {
		input["performer_ids"] = intIDs(u.PerformerIDs)
	}
	if u.TagIDs != nil {
		input["tag_ids"] = intIDs(u.TagIDs)
	}
	if u.Organized != nil {
		input["organized"] = *u.Organized
	}
	if u.Rating != nil {
		input["rating100"] = int(*u.Rating * 20)
	}
	return input
}

// UpdateScene applies a partial update to one scene.
func (c *Client) UpdateScene(ctx context.Context, id string, update SceneUpdate) error {
	if id == "" {
		return fmt.Errorf("%w: scene id is required", ErrValidation)
	}
	return c.execute(ctx, mutationSceneUpdate,
		map[string]any{"input": update.input(id)}, nil)
}

// BulkUpdateScenes applies the same partial update to many scenes.
func (c *Client) BulkUpdateScenes(ctx context.Context, ids []string, update SceneUpdate) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: scene ids are required", ErrValidation)
	}
	input := update.input("")
	delete(input, "id")
	input["ids"] = intIDs(ids)
	return c.execute(ctx, mutationBulkSceneUpdate, map[string]any{"input": input}, nil)
}

// CreatePerformer creates a performer, returning the existing record on
// an exact-name match instead of duplicating it.
func (c *Client) CreatePerformer(ctx context.Context, name string) (*models.Performer, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: performer name is required", ErrValidation)
	}
	performers, err := c.GetAllPerformers(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range performers {
		if strings.EqualFold(p.Name, name) {
			return p, nil
		}
	}

	var result struct {
		PerformerCreate wirePerformer `json:"performerCreate"`
	}
	err = c.execute(ctx, mutationPerformerCreate,
		map[string]any{"input": map[string]any{"name": name}}, &result)
	if err != nil {
		return nil, err
	}
	c.cache.Invalidate(cachePrefixPerformers)
	return normalizePerformer(&result.PerformerCreate), nil
}

// CreateTag creates a tag, returning the existing record on an
// exact-name match.
func (c *Client) CreateTag(ctx context.Context, name string) (*models.Tag, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: tag name is required", ErrValidation)
	}
	tags, err := c.GetAllTags(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tags {
		if strings.EqualFold(t.Name, name) {
			return t, nil
		}
	}

	var result struct {
		TagCreate wireTag `json:"tagCreate"`
	}
	err = c.execute(ctx, mutationTagCreate,
		map[string]any{"input": map[string]any{"name": name}}, &result)
	if err != nil {
		return nil, err
	}
	c.cache.Invalidate(cachePrefixTags)
	return normalizeTag(&result.TagCreate), nil
}

// FindOrCreateTag returns the ID of the tag with the given name,
// creating it when absent.
func (c *Client) FindOrCreateTag(ctx context.Context, name string) (string, error) {
	tag, err := c.CreateTag(ctx, name)
	if err != nil {
		return "", err
	}
	return tag.ID, nil
}

// CreateStudio creates a studio, returning the existing record on an
// exact-name match.
func (c *Client) CreateStudio(ctx context.Context, name string) (*models.Studio, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: studio name is required", ErrValidation)
	}
	studios, err := c.GetAllStudios(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range studios {
		if strings.EqualFold(s.Name, name) {
			return s, nil
		}
	}

	var result struct {
		StudioCreate wireStudio `json:"studioCreate"`
	}
	err = c.execute(ctx, mutationStudioCreate,
		map[string]any{"input": map[string]any{"name": name}}, &result)
	if err != nil {
		return nil, err
	}
	c.cache.Invalidate(cachePrefixStudios)
	return normalizeStudio(&result.StudioCreate), nil
}

// CreateMarker creates a scene marker. The first tag is the primary tag;
// the remainder become secondary tags.
func (c *Client) CreateMarker(ctx context.Context, sceneID string, seconds float64, title string, tagIDs []string) (string, error) {
	if sceneID == "" {
		return "", fmt.Errorf("%w: scene id is required", ErrValidation)
	}
	if len(tagIDs) == 0 {
		return "", fmt.Errorf("%w: marker requires at least one tag", ErrValidation)
	}
	input := map[string]any{
		"scene_id":       intID(sceneID),
		"seconds":        seconds,
		"title":          title,
		"primary_tag_id": intID(tagIDs[0]),
	}
	if len(tagIDs) > 1 {
		input["tag_ids"] = intIDs(tagIDs[1:])
	}
	var result struct {
		SceneMarkerCreate struct {
			ID wireID `json:"id"`
		} `json:"sceneMarkerCreate"`
	}
	if err := c.execute(ctx, mutationMarkerCreate, map[string]any{"input": input}, &result); err != nil {
		return "", err
	}
	return string(result.SceneMarkerCreate.ID), nil
}

// DeleteMarker removes a scene marker by ID.
func (c *Client) DeleteMarker(ctx context.Context, markerID string) error {
	if markerID == "" {
		return fmt.Errorf("%w: marker id is required", ErrValidation)
	}
	return c.execute(ctx, mutationMarkerDestroy, map[string]any{"id": markerID}, nil)
}

// --- helpers ---

func updatedSinceFilter(ts time.Time) map[string]any {
	return map[string]any{
		"updated_at": map[string]any{
			"value":    ts.UTC().Format(time.RFC3339),
			"modifier": "GREATER_THAN",
		},
	}
}

func intIDs(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = intID(id)
	}
	return out
}
