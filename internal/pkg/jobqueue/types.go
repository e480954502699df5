package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeWebhookReprocess JobType = "webhook_reprocess"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// ReprocessJobPayload identifies the failed webhook event to re-run.
type ReprocessJobPayload struct {
	Provider string `json:"provider"`
	EventID  string `json:"event_id"`
}

// ToMap converts the payload to a map for storage
func (p ReprocessJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"provider": p.Provider,
		"event_id": p.EventID,
	}
}

func ReprocessJobPayloadFromMap(data map[string]interface{}) (*ReprocessJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var payload ReprocessJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// ReprocessJobID is deterministic so an event is queued at most once at a time.
func ReprocessJobID(provider, eventID string) string {
	return string(JobTypeWebhookReprocess) + ":" + provider + ":" + eventID
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing(now time.Time) {
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted(now time.Time) {
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed records a failed run and counts it against the retry budget.
func (j *Job) MarkAsFailed(errorMsg string, now time.Time) {
	j.Status = JobStatusFailed
	j.UpdatedAt = now
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying(now time.Time) {
	j.Status = JobStatusRetrying
	j.UpdatedAt = now
}
