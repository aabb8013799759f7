package models

// ProposedChange is a not-yet-persisted change emitted by the analysis
// engine for a single scene. It becomes a PlanChange when the plan is saved.
type ProposedChange struct {
	Field         ChangeField  `json:"field"`
	Action        ChangeAction `json:"action"`
	CurrentValue  any          `json:"current_value,omitempty"`
	ProposedValue any          `json:"proposed_value"`
	Confidence    float64      `json:"confidence"`
	Reason        string       `json:"reason"`
}

// SceneChanges groups the proposed changes for one scene. Err carries a
// per-scene analysis failure without aborting the run.
type SceneChanges struct {
	SceneID    string           `json:"scene_id"`
	SceneTitle string           `json:"scene_title"`
	Changes    []ProposedChange `json:"changes"`
	Err        string           `json:"error,omitempty"`
}

// PlanStatistics summarizes a plan at creation time.
type PlanStatistics struct {
	TotalChanges      int                 `json:"total_changes"`
	SceneCount        int                 `json:"scene_count"`
	ScenesWithChanges int                 `json:"scenes_with_changes"`
	ScenesWithErrors  int                 `json:"scenes_with_errors"`
	ChangesByField    map[ChangeField]int `json:"changes_by_field"`
	MeanConfidence    float64             `json:"mean_confidence"`
}

// ComputeStatistics derives plan statistics from per-scene change sets.
func ComputeStatistics(changes []SceneChanges) PlanStatistics {
	stats := PlanStatistics{
		SceneCount:     len(changes),
		ChangesByField: make(map[ChangeField]int),
	}
	var confSum float64
	for _, sc := range changes {
		if sc.Err != "" {
			stats.ScenesWithErrors++
		}
		if len(sc.Changes) > 0 {
			stats.ScenesWithChanges++
		}
		for _, ch := range sc.Changes {
			stats.TotalChanges++
			stats.ChangesByField[ch.Field]++
			confSum += ch.Confidence
		}
	}
	if stats.TotalChanges > 0 {
		stats.MeanConfidence = confSum / float64(stats.TotalChanges)
	}
	return stats
}
