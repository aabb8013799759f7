package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads, merges, and validates configuration from
// {configDir}/curator.yaml. A missing file yields pure defaults.
//
// Steps performed:
//  1. Read curator.yaml (optional)
//  2. Expand environment variables ({{.VAR}} syntax)
//  3. Parse YAML
//  4. Merge user values over built-in defaults
//  5. Validate
func Initialize(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)

	cfg := Default()

	path := filepath.Join(configDir, "curator.yaml")
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		log.Info("No curator.yaml found, using defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	default:
		var user Config
		if err := yaml.Unmarshal(ExpandEnv(data), &user); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
		}
		if err := mergeConfig(cfg, &user); err != nil {
			return nil, fmt.Errorf("merging configuration: %w", err)
		}
		log.Info("Loaded configuration", "path", path)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	log.Info("Configuration initialized",
		"sync_strategy", cfg.Sync.Strategy,
		"workers", cfg.Queue.WorkerCount,
		"scheduler_enabled", cfg.Scheduler.Enabled)
	return cfg, nil
}

// mergeConfig overlays non-zero user values onto the defaults, section by
// section so a partially specified section keeps its remaining defaults.
func mergeConfig(dst, user *Config) error {
	sections := []struct {
		dst, src any
	}{
		{dst.Catalog, user.Catalog},
		{dst.AI, user.AI},
		{dst.Video, user.Video},
		{dst.Analysis, user.Analysis},
		{dst.Sync, user.Sync},
		{dst.Queue, user.Queue},
		{dst.Scheduler, user.Scheduler},
		{dst.Retention, user.Retention},
	}
	for _, s := range sections {
		if isNil(s.src) {
			continue
		}
		if err := mergo.Merge(s.dst, s.src, mergo.WithOverride); err != nil {
			return err
		}
	}
	return nil
}

func isNil(v any) bool {
	switch t := v.(type) {
	case *CatalogConfig:
		return t == nil
	case *AIConfig:
		return t == nil
	case *VideoConfig:
		return t == nil
	case *AnalysisConfig:
		return t == nil
	case *SyncConfig:
		return t == nil
	case *QueueConfig:
		return t == nil
	case *SchedulerConfig:
		return t == nil
	case *RetentionConfig:
		return t == nil
	}
	return v == nil
}

// MinIncrementalInterval is the floor for scheduled incremental syncs.
const MinIncrementalInterval = 5 * time.Minute
