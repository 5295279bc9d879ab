// Package task defines the core task model shared across subsystems.
package task

import "time"

// Type identifies what kind of work a task performs.
type Type string

// Task types accepted by the API.
const (
	TypeCrawl      Type = "crawl"
	TypeExtraction Type = "llm_extraction"
)

// Status represents the lifecycle state of a task.
type Status string

// Task status values persisted in the task store.
const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether a status will never change again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Parameters captures per-task knobs requested by the client.
type Parameters struct {
	URLs              []string          `json:"urls"`
	Instruction       string            `json:"instruction,omitempty"`
	WebhookURL        string            `json:"webhook_url,omitempty"`
	WebhookHeaders    map[string]string `json:"webhook_headers,omitempty"`
	WebhookDataInBody *bool             `json:"webhook_data_in_payload,omitempty"`
	Tags              map[string]string `json:"tags,omitempty"`
}

// Task is the metadata persisted for each submitted request.
type Task struct {
	ID            string           `json:"id"`
	Type          Type             `json:"type"`
	Status        Status           `json:"status"`
	CorrelationID string           `json:"correlation_id"`
	Submitted     time.Time        `json:"submitted_at"`
	Started       *time.Time       `json:"started_at,omitempty"`
	Finished      *time.Time       `json:"finished_at,omitempty"`
	ErrorText     string           `json:"error_text,omitempty"`
	Parameters    Parameters       `json:"parameters"`
	Results       []map[string]any `json:"results,omitempty"`
}

// QueueItem wraps a task ready to run.
type QueueItem struct {
	TaskID        string
	Type          Type
	Params        Parameters
	CorrelationID string
	Submitted     int64
}
