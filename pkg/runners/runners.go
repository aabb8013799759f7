// Package runners bridges the engines to the job queue: each runner
// decodes its job's metadata, drives the engine with progress wired to
// the reporter, and returns the result document persisted on the job.
package runners

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/medialib/curator/pkg/analysis"
	"github.com/medialib/curator/pkg/cleanup"
	"github.com/medialib/curator/pkg/models"
	"github.com/medialib/curator/pkg/queue"
	"github.com/medialib/curator/pkg/store"
	"github.com/medialib/curator/pkg/sync"
)

// AnalysisParams is the metadata document of an analysis job.
type AnalysisParams struct {
	SceneIDs      []string         `json:"scene_ids,omitempty"`
	PlanName      string           `json:"plan_name,omitempty"`
	Options       analysis.Options `json:"options"`
	Organized     *bool            `json:"organized,omitempty"`
	Analyzed      *bool            `json:"analyzed,omitempty"`
	VideoAnalyzed *bool            `json:"video_analyzed,omitempty"`
	StudioID      *string          `json:"studio_id,omitempty"`
}

// SyncParams is the metadata document of a sync job.
type SyncParams struct {
	Force    bool     `json:"force,omitempty"`
	SceneIDs []string `json:"scene_ids,omitempty"`
	Query    string   `json:"query,omitempty"`
}

// Analyzer runs one analysis request. Satisfied by *analysis.Engine.
type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (*models.AnalysisPlan, error)
}

// Syncer pulls Catalog data into the mirror. Satisfied by *sync.Engine.
type Syncer interface {
	SyncAll(ctx context.Context, incremental bool, progress sync.ProgressFunc) (*models.SyncResult, error)
	SyncScenes(ctx context.Context, opts sync.Options) (*models.SyncResult, error)
}

// Sweeper runs one retention sweep. Satisfied by *cleanup.Service.
type Sweeper interface {
	Run(ctx context.Context) (*cleanup.Result, error)
}

// RegisterAll wires every job type onto the pool.
func RegisterAll(pool *queue.Pool, syncEngine *sync.Engine, analysisEngine *analysis.Engine, cleanupSvc *cleanup.Service) {
	pool.Register(models.JobTypeAnalysis, Analysis(analysisEngine))
	syncRunner := Sync(syncEngine, syncEngine.WithStrategy(sync.FullStrategy{}))
	pool.Register(models.JobTypeSyncFull, syncRunner)
	pool.Register(models.JobTypeSyncIncremental, syncRunner)
	pool.Register(models.JobTypeSyncTargeted, syncRunner)
	pool.Register(models.JobTypeCleanup, Cleanup(cleanupSvc))
}

// Analysis returns the runner for analysis jobs. The plan (or its
// sentinel when nothing was proposed) is the job result.
func Analysis(engine Analyzer) queue.RunnerFunc {
	return func(ctx context.Context, job *models.Job, reporter *queue.Reporter) (any, error) {
		var params AnalysisParams
		if err := decodeMetadata(job, &params); err != nil {
			return nil, err
		}

		req := analysis.Request{
			SceneIDs: params.SceneIDs,
			PlanName: params.PlanName,
			Options:  params.Options,
			Filter: store.SceneFilter{
				IDs:           params.SceneIDs,
				Organized:     params.Organized,
				Analyzed:      params.Analyzed,
				VideoAnalyzed: params.VideoAnalyzed,
				StudioID:      params.StudioID,
			},
			Progress: func(percent float64, message string) {
				reporter.Progress(ctx, percent, message)
			},
		}

		plan, err := engine.Analyze(ctx, req)
		if err != nil {
			return nil, err
		}
		reporter.ForceProgress(ctx, 100, "analysis complete")
		return map[string]any{
			"plan_id":     plan.ID,
			"plan_status": plan.Status,
			"metadata":    plan.Metadata,
		}, nil
	}
}

// Sync returns the runner shared by the three sync job types. forced is
// the engine variant used when a full sync carries the force flag; it
// rewrites every row instead of skipping unchanged ones.
func Sync(engine, forced Syncer) queue.RunnerFunc {
	return func(ctx context.Context, job *models.Job, reporter *queue.Reporter) (any, error) {
		var params SyncParams
		if err := decodeMetadata(job, &params); err != nil {
			return nil, err
		}

		progress := func(processed, total int, message string) {
			reporter.Counts(ctx, processed, total, message)
		}

		var (
			result *models.SyncResult
			err    error
		)
		switch job.Type {
		case models.JobTypeSyncFull:
			eng := engine
			if params.Force {
				eng = forced
			}
			result, err = eng.SyncAll(ctx, false, progress)
		case models.JobTypeSyncIncremental:
			result, err = engine.SyncAll(ctx, true, progress)
		case models.JobTypeSyncTargeted:
			result, err = engine.SyncScenes(ctx, sync.Options{
				Mode:     sync.ModeTargeted,
				SceneIDs: params.SceneIDs,
				Query:    params.Query,
				Progress: progress,
			})
		default:
			return nil, fmt.Errorf("sync runner cannot handle job type %q", job.Type)
		}

		if result != nil {
			reporter.Complete(string(result.Status), result.Processed, result.Failed, result.Errors)
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}

// Cleanup returns the runner for retention sweeps.
func Cleanup(svc Sweeper) queue.RunnerFunc {
	return func(ctx context.Context, job *models.Job, reporter *queue.Reporter) (any, error) {
		result, err := svc.Run(ctx)
		if err != nil {
			return nil, err
		}
		reporter.ForceProgress(ctx, 100, "cleanup complete")
		return result, nil
	}
}

// decodeMetadata round-trips the job's metadata map through JSON into a
// typed parameter struct.
func decodeMetadata(job *models.Job, out any) error {
	if len(job.Metadata) == 0 {
		return nil
	}
	raw, err := json.Marshal(job.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata for job %s: %w", job.ID, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding metadata for job %s: %w", job.ID, err)
	}
	return nil
}
