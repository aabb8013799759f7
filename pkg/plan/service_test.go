package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medialib/curator/pkg/catalog"
	"github.com/medialib/curator/pkg/models"
	"github.com/medialib/curator/pkg/store"
)

type fakePlans struct {
	plan     *models.AnalysisPlan
	statuses []models.PlanStatus
	applied  []string
	metadata map[string]any
}

func (f *fakePlans) Get(_ context.Context, id string) (*models.AnalysisPlan, error) {
	if f.plan == nil || f.plan.ID != id {
		return nil, store.ErrNotFound
	}
	return f.plan, nil
}

func (f *fakePlans) List(context.Context, store.PlanFilter) ([]models.AnalysisPlan, error) {
	return []models.AnalysisPlan{*f.plan}, nil
}

func (f *fakePlans) GetChange(_ context.Context, changeID string) (*models.PlanChange, error) {
	for i := range f.plan.Changes {
		if f.plan.Changes[i].ID == changeID {
			return &f.plan.Changes[i], nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakePlans) UpdateChangeStatus(_ context.Context, changeID string, status models.ChangeStatus) error {
	for i := range f.plan.Changes {
		if f.plan.Changes[i].ID == changeID {
			f.plan.Changes[i].Status = status
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakePlans) UpdateChangeValue(_ context.Context, changeID string, proposed json.RawMessage) error {
	for i := range f.plan.Changes {
		if f.plan.Changes[i].ID == changeID {
			f.plan.Changes[i].ProposedValue = proposed
			f.plan.Changes[i].Status = models.ChangeStatusPending
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakePlans) BulkUpdateChanges(_ context.Context, _ string, action store.BulkAction, _ models.ChangeField, _ float64) (int, error) {
	n := 0
	for i := range f.plan.Changes {
		if f.plan.Changes[i].Status != models.ChangeStatusPending {
			continue
		}
		switch action {
		case store.BulkAcceptAll:
			f.plan.Changes[i].Status = models.ChangeStatusApproved
		case store.BulkRejectAll:
			f.plan.Changes[i].Status = models.ChangeStatusRejected
		}
		n++
	}
	return n, nil
}

func (f *fakePlans) MarkChangeApplied(ctx context.Context, changeID string) error {
	f.applied = append(f.applied, changeID)
	return f.UpdateChangeStatus(ctx, changeID, models.ChangeStatusApplied)
}

func (f *fakePlans) SetStatus(_ context.Context, _ string, status models.PlanStatus) error {
	f.statuses = append(f.statuses, status)
	f.plan.Status = status
	return nil
}

func (f *fakePlans) UpdateMetadata(_ context.Context, _ string, metadata map[string]any) error {
	f.metadata = metadata
	return nil
}

func (f *fakePlans) Delete(context.Context, string) error { return nil }

func (f *fakePlans) ChangeCounts(context.Context, string) (map[models.ChangeStatus]int, error) {
	counts := make(map[models.ChangeStatus]int)
	for _, ch := range f.plan.Changes {
		counts[ch.Status]++
	}
	return counts, nil
}

type fakeScenes struct {
	scenes     map[string]*models.Scene
	performers map[string][]string
	tags       map[string][]string
	edited     map[string]bool
	markers    map[string][]models.SceneMarker
}

func newFakeScenes(scenes ...*models.Scene) *fakeScenes {
	f := &fakeScenes{
		scenes:     map[string]*models.Scene{},
		performers: map[string][]string{},
		tags:       map[string][]string{},
		edited:     map[string]bool{},
		markers:    map[string][]models.SceneMarker{},
	}
	for _, sc := range scenes {
		f.scenes[sc.ID] = sc
	}
	return f
}

func (f *fakeScenes) Get(_ context.Context, id string) (*models.Scene, error) {
	sc, ok := f.scenes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return sc, nil
}

func (f *fakeScenes) Upsert(_ context.Context, scene *models.Scene) (bool, error) {
	f.scenes[scene.ID] = scene
	return false, nil
}

func (f *fakeScenes) SetPerformers(_ context.Context, sceneID string, ids []string) error {
	f.performers[sceneID] = ids
	return nil
}

func (f *fakeScenes) SetTags(_ context.Context, sceneID string, ids []string) error {
	f.tags[sceneID] = ids
	return nil
}

func (f *fakeScenes) SetManuallyEdited(_ context.Context, sceneID string, edited bool) error {
	f.edited[sceneID] = edited
	return nil
}

func (f *fakeScenes) ReplaceMarkers(_ context.Context, sceneID string, markers []models.SceneMarker) error {
	f.markers[sceneID] = markers
	return nil
}

type fakeEntities struct {
	performers map[string]models.Performer
	tags       map[string]models.Tag
	studios    []models.Studio
}

func (f *fakeEntities) ListPerformers(context.Context) ([]models.Performer, error) {
	out := make([]models.Performer, 0, len(f.performers))
	for _, p := range f.performers {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeEntities) ListTags(context.Context) ([]models.Tag, error) {
	out := make([]models.Tag, 0, len(f.tags))
	for _, t := range f.tags {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeEntities) ListStudios(context.Context) ([]models.Studio, error) {
	return f.studios, nil
}

func (f *fakeEntities) PerformersByIDs(_ context.Context, ids []string) (map[string]models.Performer, error) {
	out := make(map[string]models.Performer)
	for _, id := range ids {
		if p, ok := f.performers[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (f *fakeEntities) TagsByIDs(_ context.Context, ids []string) (map[string]models.Tag, error) {
	out := make(map[string]models.Tag)
	for _, id := range ids {
		if t, ok := f.tags[id]; ok {
			out[id] = t
		}
	}
	return out, nil
}

func (f *fakeEntities) UpsertPerformer(_ context.Context, p *models.Performer) (bool, error) {
	if f.performers == nil {
		f.performers = map[string]models.Performer{}
	}
	f.performers[p.ID] = *p
	return true, nil
}

func (f *fakeEntities) UpsertTag(_ context.Context, t *models.Tag) (bool, error) {
	if f.tags == nil {
		f.tags = map[string]models.Tag{}
	}
	f.tags[t.ID] = *t
	return true, nil
}

func (f *fakeEntities) UpsertStudio(_ context.Context, st *models.Studio) (bool, error) {
	f.studios = append(f.studios, *st)
	return true, nil
}

type fakeCatalog struct {
	updates     map[string][]catalog.SceneUpdate
	failScene   string
	tagCreates  []string
	markersMade []string
	deleted     []string
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{updates: map[string][]catalog.SceneUpdate{}}
}

func (f *fakeCatalog) UpdateScene(_ context.Context, id string, update catalog.SceneUpdate) error {
	if id == f.failScene {
		return fmt.Errorf("catalog unavailable")
	}
	f.updates[id] = append(f.updates[id], update)
	return nil
}

func (f *fakeCatalog) CreatePerformer(_ context.Context, name string) (*models.Performer, error) {
	return &models.Performer{ID: "p-" + name, Name: name}, nil
}

func (f *fakeCatalog) CreateStudio(_ context.Context, name string) (*models.Studio, error) {
	return &models.Studio{ID: "s-" + name, Name: name}, nil
}

func (f *fakeCatalog) FindOrCreateTag(_ context.Context, name string) (string, error) {
	f.tagCreates = append(f.tagCreates, name)
	return "t-" + name, nil
}

func (f *fakeCatalog) CreateMarker(_ context.Context, sceneID string, seconds float64, _ string, _ []string) (string, error) {
	id := fmt.Sprintf("m-%s-%g", sceneID, seconds)
	f.markersMade = append(f.markersMade, id)
	return id, nil
}

func (f *fakeCatalog) DeleteMarker(_ context.Context, markerID string) error {
	f.deleted = append(f.deleted, markerID)
	return nil
}

func raw(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func testService(plans *fakePlans, scenes *fakeScenes, entities *fakeEntities, cat *fakeCatalog) *Service {
	return NewService(plans, scenes, entities, cat, slog.Default())
}

func draftPlan(changes ...models.PlanChange) *models.AnalysisPlan {
	return &models.AnalysisPlan{
		ID:      "plan-1",
		Name:    "test plan",
		Status:  models.PlanStatusDraft,
		Changes: changes,
	}
}

func TestApplyHappyPath(t *testing.T) {
	plans := &fakePlans{plan: draftPlan(
		models.PlanChange{
			ID: "c1", SceneID: "1", Field: models.FieldPerformers,
			Action: models.ActionAdd, ProposedValue: raw("Jane Doe"),
			Status: models.ChangeStatusApproved,
		},
		models.PlanChange{
			ID: "c2", SceneID: "1", Field: models.FieldDetails,
			Action: models.ActionUpdate, ProposedValue: raw("Cleaned text."),
			Status: models.ChangeStatusApproved,
		},
	)}
	scenes := newFakeScenes(&models.Scene{ID: "1", Title: "scene one"})
	cat := newFakeCatalog()
	svc := testService(plans, scenes, &fakeEntities{}, cat)

	result, err := svc.Apply(context.Background(), "plan-1", ApplyOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Applied)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 1.0, result.SuccessRate)

	assert.Equal(t, []models.PlanStatus{
		models.PlanStatusReviewing, models.PlanStatusApplied,
	}, plans.statuses)
	assert.Equal(t, []string{"c1", "c2"}, plans.applied)
	assert.Len(t, cat.updates["1"], 2)
	assert.True(t, scenes.edited["1"], "details apply marks the scene manually edited")
	assert.Contains(t, plans.metadata, "apply_result")
}

func TestApplyPartialFailure(t *testing.T) {
	plans := &fakePlans{plan: draftPlan(
		models.PlanChange{
			ID: "c1", SceneID: "1", Field: models.FieldDetails,
			Action: models.ActionUpdate, ProposedValue: raw("ok"),
			Status: models.ChangeStatusApproved,
		},
		models.PlanChange{
			ID: "c2", SceneID: "2", Field: models.FieldDetails,
			Action: models.ActionUpdate, ProposedValue: raw("fails"),
			Status: models.ChangeStatusApproved,
		},
	)}
	scenes := newFakeScenes(
		&models.Scene{ID: "1"}, &models.Scene{ID: "2"},
	)
	cat := newFakeCatalog()
	cat.failScene = "2"
	svc := testService(plans, scenes, &fakeEntities{}, cat)

	result, err := svc.Apply(context.Background(), "plan-1", ApplyOptions{})
	require.NoError(t, err, "per-change failures are collected, not propagated")

	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.Applied)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 0.5, result.SuccessRate)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "c2", result.Errors[0].ChangeID)

	assert.Equal(t, models.PlanStatusApplied, plans.plan.Status,
		"partial failure still ends APPLIED")
}

func TestApplyNothingApprovedIsNoOp(t *testing.T) {
	plans := &fakePlans{plan: draftPlan(
		models.PlanChange{
			ID: "c1", SceneID: "1", Field: models.FieldDetails,
			Action: models.ActionUpdate, ProposedValue: raw("x"),
			Status: models.ChangeStatusPending,
		},
	)}
	scenes := newFakeScenes(&models.Scene{ID: "1"})
	cat := newFakeCatalog()
	svc := testService(plans, scenes, &fakeEntities{}, cat)

	result, err := svc.Apply(context.Background(), "plan-1", ApplyOptions{})
	require.NoError(t, err)

	assert.Equal(t, 0, result.Total)
	assert.Equal(t, 1.0, result.SuccessRate)
	assert.Empty(t, cat.updates)
	assert.Equal(t, models.PlanStatusApplied, plans.plan.Status)
}

func TestApplyRejectsAppliedPlan(t *testing.T) {
	plans := &fakePlans{plan: draftPlan()}
	plans.plan.Status = models.PlanStatusApplied
	svc := testService(plans, newFakeScenes(), &fakeEntities{}, newFakeCatalog())

	_, err := svc.Apply(context.Background(), "plan-1", ApplyOptions{})
	assert.ErrorIs(t, err, store.ErrPlanApplied)
}

func TestApplyPerformerRemoveMatchesCaseInsensitively(t *testing.T) {
	plans := &fakePlans{plan: draftPlan(
		models.PlanChange{
			ID: "c1", SceneID: "1", Field: models.FieldPerformers,
			Action: models.ActionRemove, ProposedValue: raw("JOHN SMITH"),
			Status: models.ChangeStatusApproved,
		},
	)}
	scenes := newFakeScenes(&models.Scene{ID: "1", PerformerIDs: []string{"p1", "p2"}})
	entities := &fakeEntities{performers: map[string]models.Performer{
		"p1": {ID: "p1", Name: "John Smith"},
		"p2": {ID: "p2", Name: "Jane Doe"},
	}}
	svc := testService(plans, scenes, entities, newFakeCatalog())

	result, err := svc.Apply(context.Background(), "plan-1", ApplyOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Applied)
	assert.Equal(t, []string{"p2"}, scenes.performers["1"])
}

func TestApplyTagAddPrefersLocalTag(t *testing.T) {
	plans := &fakePlans{plan: draftPlan(
		models.PlanChange{
			ID: "c1", SceneID: "1", Field: models.FieldTags,
			Action: models.ActionAdd, ProposedValue: raw("4k"),
			Status: models.ChangeStatusApproved,
		},
	)}
	scenes := newFakeScenes(&models.Scene{ID: "1"})
	entities := &fakeEntities{tags: map[string]models.Tag{
		"t1": {ID: "t1", Name: "4K"},
	}}
	cat := newFakeCatalog()
	svc := testService(plans, scenes, entities, cat)

	_, err := svc.Apply(context.Background(), "plan-1", ApplyOptions{})
	require.NoError(t, err)

	assert.Empty(t, cat.tagCreates, "local tag resolved without a catalog round-trip")
	assert.Equal(t, []string{"t1"}, scenes.tags["1"])
}

func TestApplyMarkerRemoveAtExactSeconds(t *testing.T) {
	plans := &fakePlans{plan: draftPlan(
		models.PlanChange{
			ID: "c1", SceneID: "1", Field: models.FieldMarkers,
			Action:       models.ActionRemove,
			CurrentValue: raw(models.MarkerValue{Seconds: 30}),
			Status:       models.ChangeStatusApproved,
		},
	)}
	scene := &models.Scene{ID: "1", Markers: []models.SceneMarker{
		{ID: "m1", SceneID: "1", Seconds: 30, PrimaryTagID: "t1"},
		{ID: "m2", SceneID: "1", Seconds: 60, PrimaryTagID: "t1"},
	}}
	scenes := newFakeScenes(scene)
	cat := newFakeCatalog()
	svc := testService(plans, scenes, &fakeEntities{}, cat)

	result, err := svc.Apply(context.Background(), "plan-1", ApplyOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Applied)
	assert.Equal(t, []string{"m1"}, cat.deleted)
	require.Len(t, scenes.markers["1"], 1)
	assert.Equal(t, "m2", scenes.markers["1"][0].ID)
}

func TestApplyFieldFilter(t *testing.T) {
	plans := &fakePlans{plan: draftPlan(
		models.PlanChange{
			ID: "c1", SceneID: "1", Field: models.FieldDetails,
			Action: models.ActionUpdate, ProposedValue: raw("x"),
			Status: models.ChangeStatusApproved,
		},
		models.PlanChange{
			ID: "c2", SceneID: "1", Field: models.FieldTags,
			Action: models.ActionAdd, ProposedValue: raw("4K"),
			Status: models.ChangeStatusApproved,
		},
	)}
	scenes := newFakeScenes(&models.Scene{ID: "1"})
	svc := testService(plans, scenes, &fakeEntities{tags: map[string]models.Tag{
		"t1": {ID: "t1", Name: "4K"},
	}}, newFakeCatalog())

	result, err := svc.Apply(context.Background(), "plan-1",
		ApplyOptions{Field: models.FieldDetails})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Total)
	assert.Equal(t, []string{"c1"}, plans.applied)
}

func TestGetGroupsChangesByScene(t *testing.T) {
	plans := &fakePlans{plan: draftPlan(
		models.PlanChange{ID: "c1", SceneID: "1", Field: models.FieldTags, Status: models.ChangeStatusPending},
		models.PlanChange{ID: "c2", SceneID: "2", Field: models.FieldTags, Status: models.ChangeStatusApproved},
		models.PlanChange{ID: "c3", SceneID: "1", Field: models.FieldDetails, Status: models.ChangeStatusPending},
	)}
	scenes := newFakeScenes(
		&models.Scene{ID: "1", Title: "first"},
		&models.Scene{ID: "2", Title: "second"},
	)
	svc := testService(plans, scenes, &fakeEntities{}, newFakeCatalog())

	detail, err := svc.Get(context.Background(), "plan-1")
	require.NoError(t, err)

	require.Len(t, detail.Scenes, 2)
	assert.Equal(t, "first", detail.Scenes[0].SceneTitle)
	assert.Len(t, detail.Scenes[0].Changes, 2)
	assert.Len(t, detail.Scenes[1].Changes, 1)
	assert.Equal(t, 2, detail.Counts[models.ChangeStatusPending])
	assert.Equal(t, 1, detail.Counts[models.ChangeStatusApproved])
}
