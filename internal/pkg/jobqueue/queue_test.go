package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/MealPay/internal/pkg/billing"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestNewQueue(t *testing.T) {
	tests := []struct {
		name            string
		opts            Options
		expectedWorkers int
		expectedMax     int
		expectedBackoff time.Duration
	}{
		{"Explicit options", Options{Workers: 5, MaxAttempts: 4, Backoff: time.Second}, 5, 4, time.Second},
		{"Zero values", Options{}, 3, DefaultMaxRetries, DefaultBackoff},
		{"Negative values", Options{Workers: -1, MaxAttempts: -1, Backoff: -time.Second}, 3, DefaultMaxRetries, DefaultBackoff},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := NewQueue(nil, tt.opts)

			assert.NotNil(t, queue)
			assert.Equal(t, tt.expectedWorkers, queue.workers)
			assert.Equal(t, tt.expectedMax, queue.MaxAttempts())
			assert.Equal(t, tt.expectedBackoff, queue.backoff)
			assert.False(t, queue.running)
		})
	}
}

func TestConstants(t *testing.T) {
	assert.Equal(t, "job:", JobKeyPrefix)
	assert.Equal(t, "job_queue", JobQueueKey)
	assert.Equal(t, "job_processing", JobProcessingKey)
	assert.Equal(t, "job_delayed", JobDelayedKey)
	assert.Equal(t, "job_stats", JobStatsKey)

	assert.Equal(t, 3, DefaultMaxRetries)
	assert.Equal(t, 24*time.Hour, JobTTL)
}

func TestScheduleRejectsExhaustedAttempts(t *testing.T) {
	queue := NewQueue(nil, Options{MaxAttempts: 2})
	err := queue.ScheduleReprocess(context.Background(), "razorpay", "evt_1", 3)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
}

func newTestQueue(t *testing.T, maxAttempts int) (*Queue, *testClock) {
	clock := &testClock{now: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	client := newIsolatedRedisClient(t)
	return NewQueue(client, Options{MaxAttempts: maxAttempts, Backoff: time.Minute, Now: clock.Now}), clock
}

// runNext promotes due jobs and processes one pending job synchronously.
func runNext(t *testing.T, q *Queue) bool {
	t.Helper()
	ctx := context.Background()
	_, err := q.promoteDue(ctx)
	require.NoError(t, err)
	size, err := q.GetQueueSize(ctx)
	require.NoError(t, err)
	if size == 0 {
		return false
	}
	job, err := q.dequeueJob(ctx)
	require.NoError(t, err)
	q.processJob(ctx, job)
	return true
}

func TestScheduleAndProcess(t *testing.T) {
	q, clock := newTestQueue(t, 3)
	ctx := context.Background()

	var calls []string
	q.handler = func(_ context.Context, provider, eventID string) error {
		calls = append(calls, provider+"/"+eventID)
		return nil
	}

	require.NoError(t, q.ScheduleReprocess(ctx, "razorpay", "evt_1", 1))
	// Scheduling again while queued is a no-op.
	require.NoError(t, q.ScheduleReprocess(ctx, "razorpay", "evt_1", 1))

	delayed, err := q.GetDelayedSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), delayed)

	assert.False(t, runNext(t, q), "job must wait for its backoff")

	clock.Advance(time.Minute)
	assert.True(t, runNext(t, q))
	assert.Equal(t, []string{"razorpay/evt_1"}, calls)

	_, err = q.GetJob(ctx, ReprocessJobID("razorpay", "evt_1"))
	assert.Error(t, err, "completed jobs are removed")

	stats, err := q.GetJobStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[JobStatusCompleted])
}

func TestRetryWithLinearBackoff(t *testing.T) {
	q, clock := newTestQueue(t, 3)
	ctx := context.Background()

	runs := 0
	q.handler = func(context.Context, string, string) error {
		runs++
		return errors.New("payment order not found")
	}

	require.NoError(t, q.ScheduleReprocess(ctx, "razorpay", "evt_2", 1))
	for i := 1; i <= 3; i++ {
		clock.Advance(time.Duration(i) * time.Minute)
		require.True(t, runNext(t, q), "attempt %d", i)
	}
	assert.Equal(t, 3, runs)

	clock.Advance(time.Hour)
	assert.False(t, runNext(t, q), "no attempts left")

	job, err := q.GetJob(ctx, ReprocessJobID("razorpay", "evt_2"))
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, 3, job.RetryCount)
	assert.Equal(t, "payment order not found", job.ErrorMsg)
}

func TestJobsThatNoLongerApplyAreDropped(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"already reprocessed", fmt.Errorf("claim: %w", billing.ErrNotReprocessable)},
		{"event missing", fmt.Errorf("webhook event evt not found: %w", gorm.ErrRecordNotFound)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, clock := newTestQueue(t, 3)
			ctx := context.Background()
			q.handler = func(context.Context, string, string) error { return tt.err }

			require.NoError(t, q.ScheduleReprocess(ctx, "razorpay", "evt_3", 1))
			clock.Advance(time.Minute)
			require.True(t, runNext(t, q))

			clock.Advance(time.Hour)
			assert.False(t, runNext(t, q))
			_, err := q.GetJob(ctx, ReprocessJobID("razorpay", "evt_3"))
			assert.Error(t, err)
		})
	}
}

func TestRecoverStuck(t *testing.T) {
	q, clock := newTestQueue(t, 3)
	ctx := context.Background()
	q.handler = func(context.Context, string, string) error { return nil }

	require.NoError(t, q.ScheduleReprocess(ctx, "razorpay", "evt_4", 1))
	clock.Advance(time.Minute)
	_, err := q.promoteDue(ctx)
	require.NoError(t, err)

	// Simulate a worker that crashed after dequeuing.
	job, err := q.dequeueJob(ctx)
	require.NoError(t, err)
	job.MarkAsProcessing(clock.Now())
	q.updateJob(ctx, job)

	n, err := q.recoverStuck(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	clock.Advance(11 * time.Minute)
	n, err = q.recoverStuck(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	size, err := q.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)
}
