package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/medialib/curator/pkg/ai"
	"github.com/medialib/curator/pkg/config"
	"github.com/medialib/curator/pkg/detect"
	"github.com/medialib/curator/pkg/models"
	"github.com/medialib/curator/pkg/store"
)

// SceneSource is the mirror-DB scene access the engine needs.
type SceneSource interface {
	List(ctx context.Context, f store.SceneFilter) ([]models.Scene, error)
	MarkAnalyzed(ctx context.Context, sceneIDs []string, video bool) error
}

// EntitySource provides the detector reference data.
type EntitySource interface {
	ListPerformers(ctx context.Context) ([]models.Performer, error)
	ListTags(ctx context.Context) ([]models.Tag, error)
	ListStudios(ctx context.Context) ([]models.Studio, error)
}

// PlanSink persists the produced plan.
type PlanSink interface {
	Create(ctx context.Context, plan *models.AnalysisPlan) error
}

// VideoDetector is the remote video-analysis entry point.
type VideoDetector interface {
	Detect(ctx context.Context, scene *models.Scene, tagNames map[string]string, vrVideo bool) ([]models.ProposedChange, error)
}

// Options selects which detectors run and how the run is shaped.
type Options struct {
	DetectStudios    bool `json:"detect_studios"`
	DetectPerformers bool `json:"detect_performers"`
	DetectTags       bool `json:"detect_tags"`
	DetectDetails    bool `json:"detect_details"`
	DetectVideoTags  bool `json:"detect_video_tags"`

	// ConfidenceThreshold is the minimum confidence for a proposal;
	// zero means the configured default.
	ConfidenceThreshold float64 `json:"confidence_threshold,omitempty"`

	// BatchSize and MaxConcurrent shape the batch processor; zero means
	// the configured default.
	BatchSize     int `json:"batch_size,omitempty"`
	MaxConcurrent int `json:"max_concurrent,omitempty"`
}

func (o Options) anyEnabled() bool {
	return o.DetectStudios || o.DetectPerformers || o.DetectTags ||
		o.DetectDetails || o.DetectVideoTags
}

func (o Options) onlyVideo() bool {
	return o.DetectVideoTags && !o.DetectStudios && !o.DetectPerformers &&
		!o.DetectTags && !o.DetectDetails
}

// Request is one analysis invocation.
type Request struct {
	// SceneIDs selects explicit scenes; when empty, Filter is used.
	SceneIDs []string
	Filter   store.SceneFilter
	Options  Options
	PlanName string

	// Progress, when set, receives percent (0-100) and a message.
	Progress func(percent float64, message string)
}

// Engine runs detectors over a scene set and produces a reviewable plan.
type Engine struct {
	scenes   SceneSource
	entities EntitySource
	plans    PlanSink

	studio     *detect.StudioDetector
	performers *detect.PerformerDetector
	tags       *detect.TagDetector
	details    *detect.DetailsCleaner
	video      VideoDetector

	tracker  *ai.CostTracker
	defaults *config.AnalysisConfig
	logger   *slog.Logger
}

// NewEngine wires an analysis engine. video may be nil when video
// analysis is not configured; tracker may be nil when no AI delegate is
// in use.
func NewEngine(
	scenes SceneSource,
	entities EntitySource,
	plans PlanSink,
	studio *detect.StudioDetector,
	performers *detect.PerformerDetector,
	tags *detect.TagDetector,
	details *detect.DetailsCleaner,
	video VideoDetector,
	tracker *ai.CostTracker,
	defaults *config.AnalysisConfig,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		scenes:     scenes,
		entities:   entities,
		plans:      plans,
		studio:     studio,
		performers: performers,
		tags:       tags,
		details:    details,
		video:      video,
		tracker:    tracker,
		defaults:   defaults,
		logger:     logger.With("component", "analysis"),
	}
}

// refData is the detector reference data loaded once per run from the
// mirror DB, bounding what detectors can propose.
type refData struct {
	studioNames       []string
	performers        []models.Performer
	performerNameByID map[string]string
	tagNameByID       map[string]string
	availableTags     []string
	availableTagSet   map[string]bool
}

// Analyze runs the configured detectors over the requested scene set and
// returns the resulting plan. Per-scene failures are recorded on the
// scene's change set; the run continues. When no scene yields a change,
// an unpersisted sentinel plan in APPLIED state is returned.
func (e *Engine) Analyze(ctx context.Context, req Request) (*models.AnalysisPlan, error) {
	opts := e.applyDefaults(req.Options)
	if !opts.anyEnabled() {
		return nil, fmt.Errorf("no detectors enabled")
	}

	ref, err := e.loadReferenceData(ctx)
	if err != nil {
		return nil, err
	}

	filter := req.Filter
	if len(req.SceneIDs) > 0 {
		filter = store.SceneFilter{IDs: req.SceneIDs}
	}
	scenes, err := e.scenes.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("resolving scene set: %w", err)
	}

	report := func(percent float64, message string) {
		if req.Progress != nil {
			req.Progress(percent, message)
		}
	}
	report(0, fmt.Sprintf("analyzing %d scenes", len(scenes)))

	processor := NewBatchProcessor(
		opts.BatchSize, opts.MaxConcurrent,
		func(ctx context.Context, batch []models.Scene) []models.SceneChanges {
			out := make([]models.SceneChanges, len(batch))
			for i := range batch {
				if ctx.Err() != nil {
					out[i] = models.SceneChanges{
						SceneID:    batch[i].ID,
						SceneTitle: batch[i].Title,
						Err:        "cancelled",
					}
					continue
				}
				out[i] = e.analyzeScene(ctx, &batch[i], ref, opts)
			}
			return out
		},
		func(scene models.Scene, err error) models.SceneChanges {
			return models.SceneChanges{
				SceneID:    scene.ID,
				SceneTitle: scene.Title,
				Err:        err.Error(),
			}
		},
	)

	sceneChanges := processor.Process(ctx, scenes,
		func(_, _, processedItems, totalItems int) {
			percent := float64(processedItems) / float64(totalItems) * 90
			report(percent, fmt.Sprintf("analyzed %d/%d scenes", processedItems, totalItems))
		})

	if err := e.videoOnlyFailure(opts, sceneChanges); err != nil {
		return nil, err
	}

	stats := models.ComputeStatistics(sceneChanges)
	plan, err := e.buildPlan(ctx, req.PlanName, sceneChanges, stats, opts)
	if err != nil {
		return nil, err
	}

	processedIDs := make([]string, 0, len(sceneChanges))
	for _, sc := range sceneChanges {
		if sc.Err == "" {
			processedIDs = append(processedIDs, sc.SceneID)
		}
	}
	if err := e.scenes.MarkAnalyzed(ctx, processedIDs, opts.DetectVideoTags); err != nil {
		return nil, fmt.Errorf("marking scenes analyzed: %w", err)
	}

	report(100, fmt.Sprintf("plan ready: %d changes across %d scenes",
		stats.TotalChanges, stats.ScenesWithChanges))
	e.logger.Info("analysis finished",
		"scenes", len(scenes),
		"changes", stats.TotalChanges,
		"errors", stats.ScenesWithErrors)
	return plan, nil
}

func (e *Engine) applyDefaults(opts Options) Options {
	if opts.ConfidenceThreshold <= 0 {
		opts.ConfidenceThreshold = e.defaults.ConfidenceThreshold
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = e.defaults.BatchSize
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = e.defaults.MaxConcurrent
	}
	return opts
}

func (e *Engine) loadReferenceData(ctx context.Context) (*refData, error) {
	performers, err := e.entities.ListPerformers(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading performers: %w", err)
	}
	tags, err := e.entities.ListTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading tags: %w", err)
	}
	studios, err := e.entities.ListStudios(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading studios: %w", err)
	}

	ref := &refData{
		performers:        performers,
		performerNameByID: make(map[string]string, len(performers)),
		tagNameByID:       make(map[string]string, len(tags)),
		availableTags:     make([]string, 0, len(tags)),
		availableTagSet:   make(map[string]bool, len(tags)),
	}
	for _, p := range performers {
		ref.performerNameByID[p.ID] = p.Name
	}
	for _, t := range tags {
		ref.tagNameByID[t.ID] = t.Name
		ref.availableTags = append(ref.availableTags, t.Name)
		ref.availableTagSet[strings.ToLower(t.Name)] = true
	}
	for _, s := range studios {
		ref.studioNames = append(ref.studioNames, s.Name)
	}
	return ref, nil
}

// analyzeScene runs the enabled detectors in order: studio, performers,
// tags, details, video tags. Detector failures are accumulated into the
// scene's error field, not propagated.
func (e *Engine) analyzeScene(ctx context.Context, scene *models.Scene, ref *refData, opts Options) models.SceneChanges {
	sc := models.SceneChanges{SceneID: scene.ID, SceneTitle: scene.Title}
	var errs []string

	existingPerformers := make(map[string]bool, len(scene.PerformerIDs))
	for _, id := range scene.PerformerIDs {
		if name, ok := ref.performerNameByID[id]; ok {
			existingPerformers[strings.ToLower(name)] = true
		}
	}
	existingTags := make([]string, 0, len(scene.TagIDs))
	for _, id := range scene.TagIDs {
		if name, ok := ref.tagNameByID[id]; ok {
			existingTags = append(existingTags, name)
		}
	}

	if opts.DetectStudios && scene.StudioID == nil {
		results, err := e.studio.Detect(ctx, scene, ref.studioNames)
		if err != nil {
			errs = append(errs, fmt.Sprintf("studio: %v", err))
		} else if filtered := detect.FilterByConfidence(results, opts.ConfidenceThreshold); len(filtered) > 0 {
			best := filtered[0]
			sc.Changes = append(sc.Changes, models.ProposedChange{
				Field:         models.FieldStudio,
				Action:        models.ActionSet,
				ProposedValue: best.Value,
				Confidence:    best.Confidence,
				Reason:        fmt.Sprintf("studio detected via %s", best.Source),
			})
		}
	}

	if opts.DetectPerformers {
		results, err := e.performers.Detect(ctx, scene, ref.performers)
		if err != nil {
			errs = append(errs, fmt.Sprintf("performers: %v", err))
		} else {
			for _, r := range detect.FilterByConfidence(results, opts.ConfidenceThreshold) {
				if existingPerformers[strings.ToLower(r.Value)] {
					continue
				}
				sc.Changes = append(sc.Changes, models.ProposedChange{
					Field:         models.FieldPerformers,
					Action:        models.ActionAdd,
					CurrentValue:  nil,
					ProposedValue: r.Value,
					Confidence:    r.Confidence,
					Reason:        fmt.Sprintf("performer detected via %s", r.Source),
				})
			}
		}
	}

	if opts.DetectTags {
		results, err := e.tags.Detect(ctx, scene, ref.availableTags, existingTags)
		if err != nil {
			errs = append(errs, fmt.Sprintf("tags: %v", err))
		} else {
			for _, r := range detect.FilterByConfidence(results, opts.ConfidenceThreshold) {
				// Proposals outside the mirror's tag set are discarded.
				if !ref.availableTagSet[strings.ToLower(r.Value)] {
					continue
				}
				sc.Changes = append(sc.Changes, models.ProposedChange{
					Field:         models.FieldTags,
					Action:        models.ActionAdd,
					ProposedValue: r.Value,
					Confidence:    r.Confidence,
					Reason:        fmt.Sprintf("tag detected via %s", r.Source),
				})
			}
		}
	}

	if opts.DetectDetails {
		if cleaned, changed := e.details.Propose(scene.Details); changed {
			sc.Changes = append(sc.Changes, models.ProposedChange{
				Field:         models.FieldDetails,
				Action:        models.ActionUpdate,
				CurrentValue:  scene.Details,
				ProposedValue: cleaned,
				Confidence:    1.0,
				Reason:        "normalized description text",
			})
		}
	}

	if opts.DetectVideoTags {
		var videoErr error
		if e.video == nil {
			videoErr = fmt.Errorf("video analysis is not configured")
		} else {
			changes, err := e.video.Detect(ctx, scene, ref.tagNameByID, false)
			if err != nil {
				videoErr = err
			} else {
				for _, ch := range changes {
					if ch.Confidence >= opts.ConfidenceThreshold {
						sc.Changes = append(sc.Changes, ch)
					}
				}
			}
		}
		if videoErr != nil {
			errs = append(errs, fmt.Sprintf("video: %v", videoErr))
		}
		sc.Changes = append(sc.Changes, e.statusTagChanges(existingTags, videoErr)...)
	}

	sc.Err = strings.Join(errs, "; ")
	return sc
}

// statusTagChanges keeps the operator-visible AI status tags consistent:
// a scene queued with AI_TagMe gets AI_Tagged on success or AI_Errored
// on failure, and the queue tag is removed either way.
func (e *Engine) statusTagChanges(existingTags []string, videoErr error) []models.ProposedChange {
	queued := false
	for _, name := range existingTags {
		if name == models.TagAITagMe {
			queued = true
			break
		}
	}
	if !queued {
		return nil
	}

	statusTag := models.TagAITagged
	reason := "video analysis completed"
	if videoErr != nil {
		statusTag = models.TagAIErrored
		reason = "video analysis failed"
	}
	return []models.ProposedChange{
		{
			Field:         models.FieldTags,
			Action:        models.ActionRemove,
			CurrentValue:  models.TagAITagMe,
			ProposedValue: models.TagAITagMe,
			Confidence:    1.0,
			Reason:        reason,
		},
		{
			Field:         models.FieldTags,
			Action:        models.ActionAdd,
			ProposedValue: statusTag,
			Confidence:    1.0,
			Reason:        reason,
		},
	}
}

// videoOnlyFailure propagates the real cause when video detection was
// the only thing asked for and it failed for every scene; an empty plan
// would otherwise hide the outage.
func (e *Engine) videoOnlyFailure(opts Options, sceneChanges []models.SceneChanges) error {
	if !opts.onlyVideo() || len(sceneChanges) == 0 {
		return nil
	}
	for _, sc := range sceneChanges {
		if sc.Err == "" {
			return nil
		}
	}
	return fmt.Errorf("video analysis failed for all %d scenes: %s",
		len(sceneChanges), sceneChanges[0].Err)
}

// buildPlan converts per-scene changes into a persisted plan, or returns
// the unpersisted APPLIED sentinel when there is nothing to review.
func (e *Engine) buildPlan(ctx context.Context, name string, sceneChanges []models.SceneChanges, stats models.PlanStatistics, opts Options) (*models.AnalysisPlan, error) {
	if name == "" {
		name = "Analysis plan"
	}

	metadata := map[string]any{
		"total_changes":       stats.TotalChanges,
		"scene_count":         stats.SceneCount,
		"scenes_with_changes": stats.ScenesWithChanges,
		"scenes_with_errors":  stats.ScenesWithErrors,
		"mean_confidence":     stats.MeanConfidence,
		"options":             opts,
	}
	byField := make(map[string]int, len(stats.ChangesByField))
	for field, count := range stats.ChangesByField {
		byField[string(field)] = count
	}
	metadata["changes_by_field"] = byField
	if e.tracker != nil {
		metadata["costs"] = e.tracker.Snapshot()
	}
	if errs := collectErrors(sceneChanges); len(errs) > 0 {
		metadata["errors"] = errs
	}

	if stats.TotalChanges == 0 {
		// Nothing to review: an unpersisted sentinel that is already
		// terminal.
		return &models.AnalysisPlan{
			Name:     name,
			Status:   models.PlanStatusApplied,
			Metadata: metadata,
		}, nil
	}

	plan := &models.AnalysisPlan{
		Name:     name,
		Metadata: metadata,
	}
	for _, sc := range sceneChanges {
		for _, pc := range sc.Changes {
			current, err := marshalValue(pc.CurrentValue)
			if err != nil {
				return nil, fmt.Errorf("encoding current value for scene %s: %w", sc.SceneID, err)
			}
			proposed, err := marshalValue(pc.ProposedValue)
			if err != nil {
				return nil, fmt.Errorf("encoding proposed value for scene %s: %w", sc.SceneID, err)
			}
			plan.Changes = append(plan.Changes, models.PlanChange{
				SceneID:       sc.SceneID,
				Field:         pc.Field,
				Action:        pc.Action,
				CurrentValue:  current,
				ProposedValue: proposed,
				Confidence:    pc.Confidence,
				Reason:        pc.Reason,
			})
		}
	}
	if err := e.plans.Create(ctx, plan); err != nil {
		return nil, fmt.Errorf("persisting plan: %w", err)
	}
	return plan, nil
}

func collectErrors(sceneChanges []models.SceneChanges) []string {
	var errs []string
	for _, sc := range sceneChanges {
		if sc.Err != "" {
			errs = append(errs, fmt.Sprintf("scene %s: %s", sc.SceneID, sc.Err))
		}
	}
	return errs
}

func marshalValue(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
