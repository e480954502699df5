package jobqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatus(t *testing.T) {
	tests := []struct {
		name     string
		status   JobStatus
		expected string
	}{
		{"Pending", JobStatusPending, "pending"},
		{"Processing", JobStatusProcessing, "processing"},
		{"Completed", JobStatusCompleted, "completed"},
		{"Failed", JobStatusFailed, "failed"},
		{"Retrying", JobStatusRetrying, "retrying"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(tt.status))
		})
	}
}

func TestReprocessJobPayloadFromMap(t *testing.T) {
	payload, err := ReprocessJobPayloadFromMap(ReprocessJobPayload{Provider: "razorpay", EventID: "evt_1"}.ToMap())
	require.NoError(t, err)
	assert.Equal(t, "razorpay", payload.Provider)
	assert.Equal(t, "evt_1", payload.EventID)

	assert.Equal(t, "webhook_reprocess:razorpay:evt_1", ReprocessJobID("razorpay", "evt_1"))
}

func TestJobLifecycle(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	job := &Job{ID: "j", Status: JobStatusPending, MaxRetries: 2}

	job.MarkAsProcessing(now)
	assert.Equal(t, JobStatusProcessing, job.Status)
	require.NotNil(t, job.ProcessedAt)

	job.MarkAsFailed("boom", now)
	assert.Equal(t, 1, job.RetryCount)
	assert.True(t, job.IsRetryable())

	job.MarkAsRetrying(now)
	assert.False(t, job.IsRetryable(), "only failed jobs are retryable")

	job.Status = JobStatusProcessing
	job.MarkAsFailed("boom again", now)
	assert.Equal(t, 2, job.RetryCount)
	assert.False(t, job.IsRetryable())

	job.MarkAsCompleted(now)
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Empty(t, job.ErrorMsg)
	require.NotNil(t, job.CompletedAt)
}
