package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medialib/curator/pkg/config"
	"github.com/medialib/curator/pkg/models"
)

type fakeJobs struct {
	mu      sync.Mutex
	created []*models.Job
}

func (f *fakeJobs) Create(ctx context.Context, job *models.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job.ID = "job-1"
	f.created = append(f.created, job)
	return nil
}

func (f *fakeJobs) types() []models.JobType {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]models.JobType, len(f.created))
	for i, j := range f.created {
		types[i] = j.Type
	}
	return types
}

func testConfig() *config.SchedulerConfig {
	cfg := config.DefaultSchedulerConfig()
	cfg.FullSyncCron = "0 2 * * *"
	return cfg
}

func TestStartRejectsBadCronExpression(t *testing.T) {
	cfg := testConfig()
	cfg.FullSyncCron = "not a cron"
	s := New(&fakeJobs{}, cfg, slog.Default())

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "full sync cron")
}

func TestDisabledSchedulerStartsNothing(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	jobs := &fakeJobs{}
	s := New(jobs, cfg, slog.Default())

	require.NoError(t, s.Start(context.Background()))
	s.Stop()
	assert.Empty(t, jobs.created)
}

func TestFireDropsLateFiresPastGrace(t *testing.T) {
	jobs := &fakeJobs{}
	s := New(jobs, testConfig(), slog.Default())

	s.fire(context.Background(), time.Now().Add(-10*time.Minute), config.IncrementalGrace, s.enqueueIncrementalSync)
	assert.Empty(t, jobs.created, "fire 10m late should be dropped against a 5m grace")

	s.fire(context.Background(), time.Now().Add(-time.Minute), config.IncrementalGrace, s.enqueueIncrementalSync)
	require.Len(t, jobs.created, 1)
	assert.Equal(t, models.JobTypeSyncIncremental, jobs.created[0].Type)
}

func TestFireWithZeroGraceNeverDrops(t *testing.T) {
	jobs := &fakeJobs{}
	s := New(jobs, testConfig(), slog.Default())

	s.fire(context.Background(), time.Now().Add(-24*time.Hour), 0, s.enqueueCleanup)
	require.Len(t, jobs.created, 1)
	assert.Equal(t, models.JobTypeCleanup, jobs.created[0].Type)
}

func TestFullSyncCarriesForceFlag(t *testing.T) {
	jobs := &fakeJobs{}
	cfg := testConfig()
	cfg.FullSyncForce = true
	s := New(jobs, cfg, slog.Default())

	s.enqueueFullSync(context.Background())
	require.Len(t, jobs.created, 1)
	assert.Equal(t, models.JobTypeSyncFull, jobs.created[0].Type)
	assert.Equal(t, true, jobs.created[0].Metadata["force"])
	assert.Equal(t, "scheduled", jobs.created[0].Metadata["trigger"])
}

func TestTickerLoopEnqueuesUntilStopped(t *testing.T) {
	old := minIncrementalInterval
	minIncrementalInterval = 10 * time.Millisecond
	defer func() { minIncrementalInterval = old }()

	jobs := &fakeJobs{}
	cfg := testConfig()
	cfg.IncrementalInterval = time.Millisecond // clamped up to the test floor
	cfg.CleanupInterval = time.Hour
	s := New(jobs, cfg, slog.Default())

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool {
		for _, typ := range jobs.types() {
			if typ == models.JobTypeSyncIncremental {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	for _, typ := range jobs.types() {
		assert.NotEqual(t, models.JobTypeCleanup, typ, "cleanup ticker should not have fired yet")
	}
}
