package config

import "time"

// QueueConfig contains job queue and worker pool configuration.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines.
	WorkerCount int `yaml:"worker_count"`

	// PollInterval is the base interval for checking pending jobs.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// JobTimeout is the maximum time a job may run.
	JobTimeout time.Duration `yaml:"job_timeout"`

	// GracefulShutdownTimeout is the max time to wait for active jobs to
	// complete during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// ProgressThrottle is the minimum interval between persisted progress
	// updates for a job (forced updates bypass it).
	ProgressThrottle time.Duration `yaml:"progress_throttle"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             5,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		JobTimeout:              2 * time.Hour,
		GracefulShutdownTimeout: 30 * time.Second,
		ProgressThrottle:        1 * time.Second,
	}
}
