package config

import "time"

// SchedulerConfig controls the cron and interval triggers.
type SchedulerConfig struct {
	// Enabled turns the scheduler on.
	Enabled bool `yaml:"enabled"`

	// FullSyncCron is the cron expression for the nightly full sync.
	FullSyncCron string `yaml:"full_sync_cron"`

	// FullSyncForce sets the force flag on scheduled full syncs.
	FullSyncForce bool `yaml:"full_sync_force"`

	// IncrementalInterval is the interval between incremental syncs.
	// Minimum 5 minutes.
	IncrementalInterval time.Duration `yaml:"incremental_interval"`

	// CleanupInterval is the interval between stale-job sweeps.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// StalePendingAge is how old a PENDING job may be before the cleanup
	// sweep cancels it.
	StalePendingAge time.Duration `yaml:"stale_pending_age"`
}

// Grace windows for late scheduler fires. A fire later than its window is
// dropped rather than executed.
const (
	FullSyncGrace    = 1 * time.Hour
	IncrementalGrace = 5 * time.Minute
)

// DefaultSchedulerConfig returns the built-in scheduler defaults.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Enabled:             true,
		FullSyncCron:        "0 2 * * *",
		IncrementalInterval: 60 * time.Minute,
		CleanupInterval:     30 * time.Minute,
		StalePendingAge:     24 * time.Hour,
	}
}
