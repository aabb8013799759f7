// Package config loads and validates service configuration from
// curator.yaml plus environment variables.
package config

// Config is the fully resolved service configuration.
type Config struct {
	Catalog   *CatalogConfig   `yaml:"catalog"`
	AI        *AIConfig        `yaml:"ai"`
	Video     *VideoConfig     `yaml:"video"`
	Analysis  *AnalysisConfig  `yaml:"analysis"`
	Sync      *SyncConfig      `yaml:"sync"`
	Queue     *QueueConfig     `yaml:"queue"`
	Scheduler *SchedulerConfig `yaml:"scheduler"`
	Retention *RetentionConfig `yaml:"retention"`
}

// Default returns a Config populated with built-in defaults for every
// subsystem. The loader merges user YAML on top.
func Default() *Config {
	return &Config{
		Catalog:   DefaultCatalogConfig(),
		AI:        DefaultAIConfig(),
		Video:     DefaultVideoConfig(),
		Analysis:  DefaultAnalysisConfig(),
		Sync:      DefaultSyncConfig(),
		Queue:     DefaultQueueConfig(),
		Scheduler: DefaultSchedulerConfig(),
		Retention: DefaultRetentionConfig(),
	}
}
