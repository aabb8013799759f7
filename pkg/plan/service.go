// Package plan implements the review and apply lifecycle of analysis
// plans: grouping changes for review, bulk review actions, and pushing
// approved changes to the Catalog while keeping the mirror consistent.
package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/medialib/curator/pkg/catalog"
	"github.com/medialib/curator/pkg/models"
	"github.com/medialib/curator/pkg/store"
)

// Catalog is the remote surface the apply step needs.
type Catalog interface {
	UpdateScene(ctx context.Context, id string, update catalog.SceneUpdate) error
	CreatePerformer(ctx context.Context, name string) (*models.Performer, error)
	CreateStudio(ctx context.Context, name string) (*models.Studio, error)
	FindOrCreateTag(ctx context.Context, name string) (string, error)
	CreateMarker(ctx context.Context, sceneID string, seconds float64, title string, tagIDs []string) (string, error)
	DeleteMarker(ctx context.Context, markerID string) error
}

// Plans is the plan persistence surface.
type Plans interface {
	Get(ctx context.Context, id string) (*models.AnalysisPlan, error)
	List(ctx context.Context, f store.PlanFilter) ([]models.AnalysisPlan, error)
	GetChange(ctx context.Context, changeID string) (*models.PlanChange, error)
	UpdateChangeStatus(ctx context.Context, changeID string, status models.ChangeStatus) error
	UpdateChangeValue(ctx context.Context, changeID string, proposed json.RawMessage) error
	BulkUpdateChanges(ctx context.Context, planID string, action store.BulkAction, field models.ChangeField, minConfidence float64) (int, error)
	MarkChangeApplied(ctx context.Context, changeID string) error
	SetStatus(ctx context.Context, planID string, status models.PlanStatus) error
	UpdateMetadata(ctx context.Context, planID string, metadata map[string]any) error
	Delete(ctx context.Context, planID string) error
	ChangeCounts(ctx context.Context, planID string) (map[models.ChangeStatus]int, error)
}

// Scenes is the mirror scene surface the apply step mutates.
type Scenes interface {
	Get(ctx context.Context, id string) (*models.Scene, error)
	Upsert(ctx context.Context, scene *models.Scene) (bool, error)
	SetPerformers(ctx context.Context, sceneID string, performerIDs []string) error
	SetTags(ctx context.Context, sceneID string, tagIDs []string) error
	SetManuallyEdited(ctx context.Context, sceneID string, edited bool) error
	ReplaceMarkers(ctx context.Context, sceneID string, markers []models.SceneMarker) error
}

// Entities is the mirror entity surface used for name resolution.
type Entities interface {
	ListPerformers(ctx context.Context) ([]models.Performer, error)
	ListTags(ctx context.Context) ([]models.Tag, error)
	ListStudios(ctx context.Context) ([]models.Studio, error)
	PerformersByIDs(ctx context.Context, ids []string) (map[string]models.Performer, error)
	TagsByIDs(ctx context.Context, ids []string) (map[string]models.Tag, error)
	UpsertPerformer(ctx context.Context, p *models.Performer) (bool, error)
	UpsertTag(ctx context.Context, t *models.Tag) (bool, error)
	UpsertStudio(ctx context.Context, st *models.Studio) (bool, error)
}

// Service drives the plan lifecycle.
type Service struct {
	plans    Plans
	scenes   Scenes
	entities Entities
	catalog  Catalog
	logger   *slog.Logger
}

// NewService wires a plan service.
func NewService(plans Plans, scenes Scenes, entities Entities, cat Catalog, logger *slog.Logger) *Service {
	return &Service{
		plans:    plans,
		scenes:   scenes,
		entities: entities,
		catalog:  cat,
		logger:   logger.With("component", "plan"),
	}
}

// SceneDetail groups a plan's changes for one scene, for review UIs.
type SceneDetail struct {
	SceneID    string              `json:"scene_id"`
	SceneTitle string              `json:"scene_title"`
	Changes    []models.PlanChange `json:"changes"`
}

// Detail is a plan with its changes grouped per scene plus review counts.
type Detail struct {
	Plan   *models.AnalysisPlan        `json:"plan"`
	Scenes []SceneDetail               `json:"scenes"`
	Counts map[models.ChangeStatus]int `json:"counts"`
}

// Get returns the plan with changes grouped by scene, in first-seen
// scene order.
func (s *Service) Get(ctx context.Context, planID string) (*Detail, error) {
	plan, err := s.plans.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	counts, err := s.plans.ChangeCounts(ctx, planID)
	if err != nil {
		return nil, err
	}

	detail := &Detail{Plan: plan, Counts: counts}
	index := make(map[string]int)
	for _, ch := range plan.Changes {
		i, ok := index[ch.SceneID]
		if !ok {
			title := ch.SceneID
			if scene, err := s.scenes.Get(ctx, ch.SceneID); err == nil {
				title = scene.Title
			}
			i = len(detail.Scenes)
			index[ch.SceneID] = i
			detail.Scenes = append(detail.Scenes, SceneDetail{
				SceneID:    ch.SceneID,
				SceneTitle: title,
			})
		}
		detail.Scenes[i].Changes = append(detail.Scenes[i].Changes, ch)
	}
	return detail, nil
}

// List returns plans matching the filter.
func (s *Service) List(ctx context.Context, f store.PlanFilter) ([]models.AnalysisPlan, error) {
	return s.plans.List(ctx, f)
}

// ReviewChange accepts or rejects a single change. Applied changes are
// immutable.
func (s *Service) ReviewChange(ctx context.Context, changeID string, accept bool) error {
	status := models.ChangeStatusApproved
	if !accept {
		status = models.ChangeStatusRejected
	}
	return s.plans.UpdateChangeStatus(ctx, changeID, status)
}

// EditChange replaces a change's proposed value during review. The
// store resets the change to pending so the edited value is re-approved
// before apply.
func (s *Service) EditChange(ctx context.Context, changeID string, proposed json.RawMessage) error {
	return s.plans.UpdateChangeValue(ctx, changeID, proposed)
}

// BulkReview runs a bulk review action over the plan's pending changes
// and returns the number of changes affected.
func (s *Service) BulkReview(ctx context.Context, planID string, action store.BulkAction, field models.ChangeField, minConfidence float64) (int, error) {
	return s.plans.BulkUpdateChanges(ctx, planID, action, field, minConfidence)
}

// Cancel moves a draft or reviewing plan to CANCELLED.
func (s *Service) Cancel(ctx context.Context, planID string) error {
	return s.plans.SetStatus(ctx, planID, models.PlanStatusCancelled)
}

// Delete removes a plan and its changes. Applied plans are kept as an
// audit record and cannot be deleted.
func (s *Service) Delete(ctx context.Context, planID string) error {
	return s.plans.Delete(ctx, planID)
}

// ApplyOptions narrows which approved changes an apply run touches.
type ApplyOptions struct {
	// Field, when set, applies only changes targeting this field.
	Field models.ChangeField
	// ChangeIDs, when non-empty, applies only these changes.
	ChangeIDs []string
}

// ApplyError records one failed change; the run continues past it.
type ApplyError struct {
	ChangeID string `json:"change_id"`
	SceneID  string `json:"scene_id"`
	Message  string `json:"message"`
}

// ApplyResult summarizes an apply run.
type ApplyResult struct {
	Total       int          `json:"total"`
	Applied     int          `json:"applied"`
	Failed      int          `json:"failed"`
	SuccessRate float64      `json:"success_rate"`
	Errors      []ApplyError `json:"errors,omitempty"`
}

// Apply pushes the plan's approved changes to the Catalog. The plan
// moves DRAFT to REVIEWING at the start and always ends APPLIED, even
// when individual changes fail; failures are collected, not propagated.
// With nothing approved the run is a no-op with a success rate of 1.
func (s *Service) Apply(ctx context.Context, planID string, opts ApplyOptions) (*ApplyResult, error) {
	plan, err := s.plans.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	switch plan.Status {
	case models.PlanStatusApplied:
		return nil, store.ErrPlanApplied
	case models.PlanStatusCancelled:
		return nil, store.ErrInvalidTransition
	case models.PlanStatusDraft:
		if err := s.plans.SetStatus(ctx, planID, models.PlanStatusReviewing); err != nil {
			return nil, err
		}
	}

	selected := selectChanges(plan.Changes, opts)
	result := &ApplyResult{Total: len(selected)}

	for _, ch := range selected {
		if err := s.applyChange(ctx, &ch); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, ApplyError{
				ChangeID: ch.ID,
				SceneID:  ch.SceneID,
				Message:  err.Error(),
			})
			s.logger.Error("change apply failed",
				"plan_id", planID, "change_id", ch.ID,
				"scene_id", ch.SceneID, "field", ch.Field, "error", err)
			continue
		}
		if err := s.plans.MarkChangeApplied(ctx, ch.ID); err != nil {
			return nil, fmt.Errorf("recording applied change %s: %w", ch.ID, err)
		}
		result.Applied++
	}

	if result.Total > 0 {
		result.SuccessRate = float64(result.Applied) / float64(result.Total)
	} else {
		result.SuccessRate = 1.0
	}

	if err := s.plans.SetStatus(ctx, planID, models.PlanStatusApplied); err != nil {
		return nil, err
	}
	metadata := plan.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["apply_result"] = result
	if err := s.plans.UpdateMetadata(ctx, planID, metadata); err != nil {
		return nil, err
	}

	s.logger.Info("plan applied",
		"plan_id", planID,
		"applied", result.Applied,
		"failed", result.Failed)
	return result, nil
}

func selectChanges(changes []models.PlanChange, opts ApplyOptions) []models.PlanChange {
	var ids map[string]bool
	if len(opts.ChangeIDs) > 0 {
		ids = make(map[string]bool, len(opts.ChangeIDs))
		for _, id := range opts.ChangeIDs {
			ids[id] = true
		}
	}

	var out []models.PlanChange
	for _, ch := range changes {
		if ch.Status != models.ChangeStatusApproved {
			continue
		}
		if opts.Field != "" && ch.Field != opts.Field {
			continue
		}
		if ids != nil && !ids[ch.ID] {
			continue
		}
		out = append(out, ch)
	}
	return out
}

func (s *Service) applyChange(ctx context.Context, ch *models.PlanChange) error {
	switch ch.Field {
	case models.FieldStudio:
		return s.applyStudio(ctx, ch)
	case models.FieldPerformers:
		return s.applyPerformers(ctx, ch)
	case models.FieldTags:
		return s.applyTags(ctx, ch)
	case models.FieldDetails:
		return s.applyDetails(ctx, ch)
	case models.FieldMarkers:
		return s.applyMarkers(ctx, ch)
	}
	return fmt.Errorf("unknown change field %q", ch.Field)
}

func (s *Service) applyStudio(ctx context.Context, ch *models.PlanChange) error {
	name, err := decodeString(ch.ProposedValue)
	if err != nil {
		return err
	}
	studio, err := s.catalog.CreateStudio(ctx, name)
	if err != nil {
		return fmt.Errorf("resolving studio %q: %w", name, err)
	}
	if err := s.catalog.UpdateScene(ctx, ch.SceneID, catalog.SceneUpdate{StudioID: &studio.ID}); err != nil {
		return err
	}

	if _, err := s.entities.UpsertStudio(ctx, studio); err != nil {
		return err
	}
	scene, err := s.scenes.Get(ctx, ch.SceneID)
	if err != nil {
		return err
	}
	scene.StudioID = &studio.ID
	_, err = s.scenes.Upsert(ctx, scene)
	return err
}

func (s *Service) applyPerformers(ctx context.Context, ch *models.PlanChange) error {
	name, err := decodeString(ch.ProposedValue)
	if err != nil {
		return err
	}
	scene, err := s.scenes.Get(ctx, ch.SceneID)
	if err != nil {
		return err
	}

	var ids []string
	switch ch.Action {
	case models.ActionAdd:
		performer, err := s.catalog.CreatePerformer(ctx, name)
		if err != nil {
			return fmt.Errorf("resolving performer %q: %w", name, err)
		}
		if _, err := s.entities.UpsertPerformer(ctx, performer); err != nil {
			return err
		}
		ids = union(scene.PerformerIDs, performer.ID)
	case models.ActionRemove:
		current, err := s.entities.PerformersByIDs(ctx, scene.PerformerIDs)
		if err != nil {
			return err
		}
		ids = scene.PerformerIDs[:0:0]
		for _, id := range scene.PerformerIDs {
			if p, ok := current[id]; ok && strings.EqualFold(p.Name, name) {
				continue
			}
			ids = append(ids, id)
		}
	default:
		return fmt.Errorf("unsupported performer action %q", ch.Action)
	}

	if err := s.catalog.UpdateScene(ctx, ch.SceneID, catalog.SceneUpdate{PerformerIDs: ids}); err != nil {
		return err
	}
	return s.scenes.SetPerformers(ctx, ch.SceneID, ids)
}

func (s *Service) applyTags(ctx context.Context, ch *models.PlanChange) error {
	name, err := decodeString(ch.ProposedValue)
	if err != nil {
		return err
	}
	scene, err := s.scenes.Get(ctx, ch.SceneID)
	if err != nil {
		return err
	}

	var ids []string
	switch ch.Action {
	case models.ActionAdd:
		tagID, err := s.resolveTag(ctx, name)
		if err != nil {
			return err
		}
		ids = union(scene.TagIDs, tagID)
	case models.ActionRemove:
		current, err := s.entities.TagsByIDs(ctx, scene.TagIDs)
		if err != nil {
			return err
		}
		ids = scene.TagIDs[:0:0]
		for _, id := range scene.TagIDs {
			if t, ok := current[id]; ok && strings.EqualFold(t.Name, name) {
				continue
			}
			ids = append(ids, id)
		}
	default:
		return fmt.Errorf("unsupported tag action %q", ch.Action)
	}

	if err := s.catalog.UpdateScene(ctx, ch.SceneID, catalog.SceneUpdate{TagIDs: ids}); err != nil {
		return err
	}
	return s.scenes.SetTags(ctx, ch.SceneID, ids)
}

// resolveTag finds a tag by name in the mirror, falling back to
// find-or-create on the Catalog for tags that do not exist locally yet
// (the AI status tags on first use).
func (s *Service) resolveTag(ctx context.Context, name string) (string, error) {
	tags, err := s.entities.ListTags(ctx)
	if err != nil {
		return "", err
	}
	for _, t := range tags {
		if strings.EqualFold(t.Name, name) {
			return t.ID, nil
		}
	}

	tagID, err := s.catalog.FindOrCreateTag(ctx, name)
	if err != nil {
		return "", fmt.Errorf("resolving tag %q: %w", name, err)
	}
	if _, err := s.entities.UpsertTag(ctx, &models.Tag{ID: tagID, Name: name}); err != nil {
		return "", err
	}
	return tagID, nil
}

// applyDetails overwrites the description and marks the mirror row
// manually edited so smart sync stops rewriting it.
func (s *Service) applyDetails(ctx context.Context, ch *models.PlanChange) error {
	details, err := decodeString(ch.ProposedValue)
	if err != nil {
		return err
	}
	if err := s.catalog.UpdateScene(ctx, ch.SceneID, catalog.SceneUpdate{Details: &details}); err != nil {
		return err
	}

	scene, err := s.scenes.Get(ctx, ch.SceneID)
	if err != nil {
		return err
	}
	scene.Details = details
	if _, err := s.scenes.Upsert(ctx, scene); err != nil {
		return err
	}
	return s.scenes.SetManuallyEdited(ctx, ch.SceneID, true)
}

func (s *Service) applyMarkers(ctx context.Context, ch *models.PlanChange) error {
	switch ch.Action {
	case models.ActionAdd:
		var marker models.MarkerValue
		if err := json.Unmarshal(ch.ProposedValue, &marker); err != nil {
			return fmt.Errorf("decoding marker value: %w", err)
		}
		if len(marker.Tags) == 0 {
			return fmt.Errorf("marker requires at least one tag")
		}
		tagIDs := make([]string, 0, len(marker.Tags))
		for _, name := range marker.Tags {
			id, err := s.resolveTag(ctx, name)
			if err != nil {
				return err
			}
			tagIDs = append(tagIDs, id)
		}
		markerID, err := s.catalog.CreateMarker(ctx, ch.SceneID, marker.Seconds, marker.Title, tagIDs)
		if err != nil {
			return err
		}

		scene, err := s.scenes.Get(ctx, ch.SceneID)
		if err != nil {
			return err
		}
		markers := append(scene.Markers, models.SceneMarker{
			ID:           markerID,
			SceneID:      ch.SceneID,
			Seconds:      marker.Seconds,
			EndSeconds:   marker.EndSeconds,
			Title:        marker.Title,
			PrimaryTagID: tagIDs[0],
			TagIDs:       tagIDs[1:],
		})
		return s.scenes.ReplaceMarkers(ctx, ch.SceneID, markers)

	case models.ActionRemove:
		var marker models.MarkerValue
		if err := json.Unmarshal(ch.CurrentValue, &marker); err != nil {
			return fmt.Errorf("decoding marker value: %w", err)
		}
		scene, err := s.scenes.Get(ctx, ch.SceneID)
		if err != nil {
			return err
		}
		kept := make([]models.SceneMarker, 0, len(scene.Markers))
		var removed *models.SceneMarker
		for i := range scene.Markers {
			m := scene.Markers[i]
			if removed == nil && m.Seconds == marker.Seconds {
				removed = &m
				continue
			}
			kept = append(kept, m)
		}
		if removed == nil {
			return fmt.Errorf("no marker at %gs on scene %s", marker.Seconds, ch.SceneID)
		}
		if err := s.catalog.DeleteMarker(ctx, removed.ID); err != nil {
			return err
		}
		return s.scenes.ReplaceMarkers(ctx, ch.SceneID, kept)
	}
	return fmt.Errorf("unsupported marker action %q", ch.Action)
}

func decodeString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("decoding change value: %w", err)
	}
	return s, nil
}

func union(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(append([]string(nil), ids...), id)
}
