package events

import "time"

// EventType labels the payload carried by an Event.
type EventType string

// Event types.
const (
	EventTypeSyncProgress EventType = "sync_progress"
	EventTypeSyncDetail   EventType = "sync_detail"
	EventTypeSyncComplete EventType = "sync_complete"
)

// Event is one bus message.
type Event struct {
	Type      EventType `json:"type"`
	JobID     string    `json:"job_id"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// ProgressPayload reports coarse job progress.
type ProgressPayload struct {
	Processed  int           `json:"processed"`
	Total      int           `json:"total"`
	Percentage float64       `json:"percentage"`
	Message    string        `json:"message"`
	Elapsed    time.Duration `json:"elapsed_ms"`
	ETA        time.Duration `json:"eta_ms"`
}

// DetailPayload reports a noteworthy per-item event during a run.
type DetailPayload struct {
	Entity  string `json:"entity"`
	Action  string `json:"action"`
	Message string `json:"message"`
}

// CompletePayload reports a finished run.
type CompletePayload struct {
	Status    string        `json:"status"`
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Elapsed   time.Duration `json:"elapsed_ms"`
	Errors    []string      `json:"errors,omitempty"`
}

// NewProgress builds a sync_progress event, deriving percentage and ETA
// from the counts and elapsed time.
func NewProgress(jobID string, processed, total int, message string, elapsed time.Duration) Event {
	payload := ProgressPayload{
		Processed: processed,
		Total:     total,
		Message:   message,
		Elapsed:   elapsed,
	}
	if total > 0 {
		payload.Percentage = float64(processed) / float64(total) * 100
	}
	if processed > 0 && total > processed {
		perItem := elapsed / time.Duration(processed)
		payload.ETA = perItem * time.Duration(total-processed)
	}
	return Event{
		Type:      EventTypeSyncProgress,
		JobID:     jobID,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

// NewDetail builds a sync_detail event.
func NewDetail(jobID, entity, action, message string) Event {
	return Event{
		Type:      EventTypeSyncDetail,
		JobID:     jobID,
		Timestamp: time.Now(),
		Payload:   DetailPayload{Entity: entity, Action: action, Message: message},
	}
}

// NewComplete builds a sync_complete event.
func NewComplete(jobID, status string, processed, failed int, elapsed time.Duration, errs []string) Event {
	return Event{
		Type:      EventTypeSyncComplete,
		JobID:     jobID,
		Timestamp: time.Now(),
		Payload: CompletePayload{
			Status:    status,
			Processed: processed,
			Failed:    failed,
			Elapsed:   elapsed,
			Errors:    errs,
		},
	}
}
