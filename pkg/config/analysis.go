package config

// AnalysisConfig holds analysis engine defaults. Per-run options override
// these values.
type AnalysisConfig struct {
	// ConfidenceThreshold is the minimum detector confidence for a change
	// to be proposed.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// BatchSize is the number of scenes per analysis batch.
	BatchSize int `yaml:"batch_size"`

	// MaxConcurrent caps the number of batches in flight.
	MaxConcurrent int `yaml:"max_concurrent"`
}

// DefaultAnalysisConfig returns the built-in analysis defaults.
func DefaultAnalysisConfig() *AnalysisConfig {
	return &AnalysisConfig{
		ConfidenceThreshold: 0.7,
		BatchSize:           15,
		MaxConcurrent:       3,
	}
}

// SyncConfig holds sync engine settings.
type SyncConfig struct {
	// Strategy selects the merge strategy: "full", "incremental", "smart".
	Strategy string `yaml:"strategy"`

	// ConflictPolicy selects conflict resolution: "remote_wins",
	// "local_wins", "merge", "manual".
	ConflictPolicy string `yaml:"conflict_policy"`

	// BatchSize is the number of scenes fetched and reconciled per page.
	BatchSize int `yaml:"batch_size"`
}

// DefaultSyncConfig returns the built-in sync defaults.
func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		Strategy:       "smart",
		ConflictPolicy: "remote_wins",
		BatchSize:      100,
	}
}
