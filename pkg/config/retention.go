package config

import "time"

// RetentionConfig controls how long finished records are kept.
type RetentionConfig struct {
	// JobRetention is how long terminal jobs stay before deletion.
	JobRetention time.Duration `yaml:"job_retention"`

	// PlanRetention is how long cancelled plans stay before deletion.
	// Applied plans are audit records and are never deleted.
	PlanRetention time.Duration `yaml:"plan_retention"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		JobRetention:  30 * 24 * time.Hour,
		PlanRetention: 90 * 24 * time.Hour,
	}
}
