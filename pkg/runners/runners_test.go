package runners

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medialib/curator/pkg/analysis"
	"github.com/medialib/curator/pkg/cleanup"
	"github.com/medialib/curator/pkg/models"
	"github.com/medialib/curator/pkg/queue"
	syncpkg "github.com/medialib/curator/pkg/sync"
)

type fakeAnalyzer struct {
	got  analysis.Request
	plan *models.AnalysisPlan
	err  error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, req analysis.Request) (*models.AnalysisPlan, error) {
	f.got = req
	return f.plan, f.err
}

type fakeSyncer struct {
	name        string
	calls       []string
	gotOpts     syncpkg.Options
	incremental bool
	result      *models.SyncResult
	err         error
}

func (f *fakeSyncer) SyncAll(ctx context.Context, incremental bool, progress syncpkg.ProgressFunc) (*models.SyncResult, error) {
	f.calls = append(f.calls, "all")
	f.incremental = incremental
	return f.result, f.err
}

func (f *fakeSyncer) SyncScenes(ctx context.Context, opts syncpkg.Options) (*models.SyncResult, error) {
	f.calls = append(f.calls, "scenes")
	f.gotOpts = opts
	return f.result, f.err
}

type fakeSweeper struct {
	result *cleanup.Result
	err    error
}

func (f *fakeSweeper) Run(ctx context.Context) (*cleanup.Result, error) {
	return f.result, f.err
}

type nopJobs struct{}

func (nopJobs) ClaimNext(context.Context) (*models.Job, error) { return nil, nil }
func (nopJobs) UpdateProgress(context.Context, string, float64, string) error {
	return nil
}
func (nopJobs) Complete(context.Context, string, any) error { return nil }
func (nopJobs) Fail(context.Context, string, string) error  { return nil }
func (nopJobs) Cancel(context.Context, string) error        { return nil }
func (nopJobs) ResetRunning(context.Context) (int, error)   { return 0, nil }

func testReporter(jobID string) *queue.Reporter {
	return queue.NewReporter(jobID, nopJobs{}, nil, 0, slog.Default())
}

func job(jobType models.JobType, metadata map[string]any) *models.Job {
	return &models.Job{ID: "j1", Type: jobType, Metadata: metadata}
}

func TestAnalysisRunnerDecodesMetadata(t *testing.T) {
	analyzer := &fakeAnalyzer{plan: &models.AnalysisPlan{
		ID:     "plan-1",
		Status: models.PlanStatusDraft,
	}}
	runner := Analysis(analyzer)

	result, err := runner.Run(context.Background(), job(models.JobTypeAnalysis, map[string]any{
		"scene_ids": []any{"s1", "s2"},
		"plan_name": "nightly",
		"organized": false,
		"options": map[string]any{
			"detect_studios": true,
			"detect_tags":    true,
			"batch_size":     float64(5),
		},
	}), testReporter("j1"))
	require.NoError(t, err)

	assert.Equal(t, []string{"s1", "s2"}, analyzer.got.SceneIDs)
	assert.Equal(t, "nightly", analyzer.got.PlanName)
	assert.True(t, analyzer.got.Options.DetectStudios)
	assert.True(t, analyzer.got.Options.DetectTags)
	assert.False(t, analyzer.got.Options.DetectPerformers)
	assert.Equal(t, 5, analyzer.got.Options.BatchSize)
	require.NotNil(t, analyzer.got.Filter.Organized)
	assert.False(t, *analyzer.got.Filter.Organized)
	assert.NotNil(t, analyzer.got.Progress)

	doc := result.(map[string]any)
	assert.Equal(t, "plan-1", doc["plan_id"])
}

func TestSyncRunnerDispatchesByJobType(t *testing.T) {
	engine := &fakeSyncer{name: "normal", result: &models.SyncResult{Status: models.SyncStatusCompleted}}
	forced := &fakeSyncer{name: "forced", result: &models.SyncResult{Status: models.SyncStatusCompleted}}
	runner := Sync(engine, forced)

	_, err := runner.Run(context.Background(),
		job(models.JobTypeSyncIncremental, nil), testReporter("j1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"all"}, engine.calls)
	assert.True(t, engine.incremental)

	_, err = runner.Run(context.Background(),
		job(models.JobTypeSyncFull, nil), testReporter("j2"))
	require.NoError(t, err)
	assert.False(t, engine.incremental)
	assert.Empty(t, forced.calls, "force not set, forced engine untouched")

	_, err = runner.Run(context.Background(),
		job(models.JobTypeSyncTargeted, map[string]any{
			"scene_ids": []any{"s1"},
			"query":     "beach",
		}), testReporter("j3"))
	require.NoError(t, err)
	assert.Equal(t, syncpkg.ModeTargeted, engine.gotOpts.Mode)
	assert.Equal(t, []string{"s1"}, engine.gotOpts.SceneIDs)
	assert.Equal(t, "beach", engine.gotOpts.Query)

	_, err = runner.Run(context.Background(),
		job(models.JobTypeAnalysis, nil), testReporter("j4"))
	assert.Error(t, err, "sync runner rejects foreign job types")
}

func TestSyncRunnerForceUsesForcedEngine(t *testing.T) {
	engine := &fakeSyncer{name: "normal", result: &models.SyncResult{}}
	forced := &fakeSyncer{name: "forced", result: &models.SyncResult{}}
	runner := Sync(engine, forced)

	_, err := runner.Run(context.Background(),
		job(models.JobTypeSyncFull, map[string]any{"force": true}), testReporter("j1"))
	require.NoError(t, err)
	assert.Empty(t, engine.calls)
	assert.Equal(t, []string{"all"}, forced.calls)
}

func TestSyncRunnerPropagatesPartialResultWithError(t *testing.T) {
	engine := &fakeSyncer{
		result: &models.SyncResult{Status: models.SyncStatusPartial, Processed: 10, Failed: 2},
		err:    errors.New("page 3 fetch failed"),
	}
	runner := Sync(engine, engine)

	result, err := runner.Run(context.Background(),
		job(models.JobTypeSyncIncremental, nil), testReporter("j1"))
	require.Error(t, err)
	assert.Nil(t, result, "failed runs persist the error, not a result document")
}

func TestCleanupRunnerReturnsSweepResult(t *testing.T) {
	sweeper := &fakeSweeper{result: &cleanup.Result{DeletedJobs: 7}}
	runner := Cleanup(sweeper)

	result, err := runner.Run(context.Background(),
		job(models.JobTypeCleanup, nil), testReporter("j1"))
	require.NoError(t, err)
	assert.Equal(t, &cleanup.Result{DeletedJobs: 7}, result)
}
