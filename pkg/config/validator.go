package config

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// Validate checks the resolved configuration for out-of-range values.
func Validate(cfg *Config) error {
	if cfg.Catalog == nil || cfg.Catalog.URL == "" {
		return invalid("catalog", "url", "catalog URL is required")
	}
	if cfg.Catalog.Timeout <= 0 {
		return invalid("catalog", "timeout", "timeout must be positive")
	}
	if cfg.Catalog.MaxConnections < 1 {
		return invalid("catalog", "max_connections", "max_connections must be at least 1")
	}
	if cfg.Catalog.MaxRetries < 1 || cfg.Catalog.MaxRetries > 10 {
		return invalid("catalog", "max_retries", "max_retries must be between 1 and 10")
	}

	if cfg.Analysis.ConfidenceThreshold < 0 || cfg.Analysis.ConfidenceThreshold > 1 {
		return invalid("analysis", "confidence_threshold", "confidence_threshold must be in [0,1]")
	}
	if cfg.Analysis.BatchSize < 1 || cfg.Analysis.BatchSize > 100 {
		return invalid("analysis", "batch_size", "batch_size must be between 1 and 100")
	}
	if cfg.Analysis.MaxConcurrent < 1 || cfg.Analysis.MaxConcurrent > 10 {
		return invalid("analysis", "max_concurrent", "max_concurrent must be between 1 and 10")
	}

	switch cfg.Sync.Strategy {
	case "full", "incremental", "smart":
	default:
		return invalid("sync", "strategy",
			fmt.Sprintf("unknown strategy %q (want full, incremental or smart)", cfg.Sync.Strategy))
	}
	switch cfg.Sync.ConflictPolicy {
	case "remote_wins", "local_wins", "merge", "manual":
	default:
		return invalid("sync", "conflict_policy",
			fmt.Sprintf("unknown conflict policy %q", cfg.Sync.ConflictPolicy))
	}
	if cfg.Sync.BatchSize < 1 {
		return invalid("sync", "batch_size", "batch_size must be at least 1")
	}

	if cfg.Queue.WorkerCount < 1 || cfg.Queue.WorkerCount > 50 {
		return invalid("queue", "worker_count", "worker_count must be between 1 and 50")
	}
	if cfg.Queue.PollInterval <= 0 {
		return invalid("queue", "poll_interval", "poll_interval must be positive")
	}
	if cfg.Queue.PollIntervalJitter < 0 {
		return invalid("queue", "poll_interval_jitter", "poll_interval_jitter must be non-negative")
	}
	if cfg.Queue.JobTimeout <= 0 {
		return invalid("queue", "job_timeout", "job_timeout must be positive")
	}
	if cfg.Queue.ProgressThrottle < 0 {
		return invalid("queue", "progress_throttle", "progress_throttle must be non-negative")
	}

	if cfg.Retention.JobRetention <= 0 {
		return invalid("retention", "job_retention", "job_retention must be positive")
	}
	if cfg.Retention.PlanRetention <= 0 {
		return invalid("retention", "plan_retention", "plan_retention must be positive")
	}

	if cfg.Scheduler.Enabled {
		if _, err := cron.ParseStandard(cfg.Scheduler.FullSyncCron); err != nil {
			return invalid("scheduler", "full_sync_cron", fmt.Sprintf("invalid cron expression: %v", err))
		}
		if cfg.Scheduler.IncrementalInterval < MinIncrementalInterval {
			return invalid("scheduler", "incremental_interval", "incremental_interval must be at least 5m")
		}
		if cfg.Scheduler.CleanupInterval <= 0 {
			return invalid("scheduler", "cleanup_interval", "cleanup_interval must be positive")
		}
	}

	return nil
}
