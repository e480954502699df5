package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/MealPay/app/repository"
	"github.com/ManuelReschke/MealPay/internal/pkg/billing"
)

const (
	// Redis key prefixes
	JobKeyPrefix     = "job:"
	JobQueueKey      = "job_queue"
	JobProcessingKey = "job_processing"
	JobDelayedKey    = "job_delayed"
	JobStatsKey      = "job_stats"

	// Job settings
	DefaultMaxRetries = 3
	DefaultBackoff    = time.Minute
	JobTTL            = 24 * time.Hour // Jobs expire after 24 hours
)

// ErrRetriesExhausted is returned when an event is scheduled past its retry budget.
var ErrRetriesExhausted = errors.New("reprocess attempts exhausted")

// ReprocessFunc re-runs one failed webhook event.
type ReprocessFunc func(ctx context.Context, provider, eventID string) error

// Options configures a Queue.
type Options struct {
	Workers     int
	MaxAttempts int
	Backoff     time.Duration
	Now         func() time.Time
}

// Queue retries failed webhook events through Redis. Jobs wait in a delayed
// set until due, then move to the pending list that workers pop from.
type Queue struct {
	client      *redis.Client
	workers     int
	maxAttempts int
	backoff     time.Duration
	now         func() time.Time
	handler     ReprocessFunc
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
}

// NewQueue creates a new job queue
func NewQueue(client *redis.Client, opts Options) *Queue {
	workers := opts.Workers
	if workers <= 0 {
		workers = 3 // Default number of workers
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxRetries
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Queue{
		client:      client,
		workers:     workers,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		now:         now,
		stopCh:      make(chan struct{}),
	}
}

// MaxAttempts is the number of reprocess runs allowed per event.
func (q *Queue) MaxAttempts() int { return q.maxAttempts }

// Start starts the workers, the delayed-job promoter and the stuck sweeper.
func (q *Queue) Start(handler ReprocessFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}

	q.handler = handler
	q.stopCh = make(chan struct{})
	q.running = true
	log.Infof("[RetryQueue] Starting %d workers (max attempts %d, backoff %s)", q.workers, q.maxAttempts, q.backoff)

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	q.wg.Add(2)
	go q.promoter(time.Second)
	go q.stuckSweeper(10*time.Minute, time.Minute)
}

// Stop stops the job queue workers
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.running {
		return
	}

	log.Info("[RetryQueue] Stopping workers...")
	close(q.stopCh)
	q.running = false
	q.wg.Wait()
	log.Info("[RetryQueue] All workers stopped")
}

// ScheduleReprocess queues a failed event. attempt is the number of the run
// being scheduled; it is delayed by attempt times the backoff.
func (q *Queue) ScheduleReprocess(ctx context.Context, provider, eventID string, attempt int) error {
	_, err := q.schedule(ctx, provider, eventID, attempt)
	return err
}

// schedule reports whether a new job was created. An event that already has
// a queued job is left alone.
func (q *Queue) schedule(ctx context.Context, provider, eventID string, attempt int) (bool, error) {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > q.maxAttempts {
		return false, fmt.Errorf("%w: event %s after %d attempts", ErrRetriesExhausted, eventID, q.maxAttempts)
	}

	now := q.now()
	job := &Job{
		ID:         ReprocessJobID(provider, eventID),
		Type:       JobTypeWebhookReprocess,
		Status:     JobStatusPending,
		Payload:    ReprocessJobPayload{Provider: provider, EventID: eventID}.ToMap(),
		CreatedAt:  now,
		UpdatedAt:  now,
		RetryCount: attempt - 1,
		MaxRetries: q.maxAttempts,
	}
	jobData, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("failed to marshal job: %w", err)
	}

	created, err := q.client.SetNX(ctx, JobKeyPrefix+job.ID, jobData, JobTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to store job %s: %w", job.ID, err)
	}
	if !created {
		log.Debugf("[RetryQueue] Event %s is already queued", eventID)
		return false, nil
	}

	due := now.Add(q.backoff * time.Duration(attempt))
	pipe := q.client.Pipeline()
	pipe.ZAdd(ctx, JobDelayedKey, redis.Z{Score: float64(due.Unix()), Member: job.ID})
	pipe.HIncrBy(ctx, JobStatsKey, string(JobStatusPending), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		q.client.Del(ctx, JobKeyPrefix+job.ID)
		return false, fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}

	log.Infof("[RetryQueue] Scheduled reprocess of %s (attempt %d/%d) at %s", eventID, attempt, q.maxAttempts, due.Format(time.RFC3339))
	return true, nil
}

// promoteDue moves delayed jobs that are due onto the pending list.
func (q *Queue) promoteDue(ctx context.Context) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, JobDelayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(q.now().Unix(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, id := range ids {
		// Only the caller that removes the member pushes it.
		removed, err := q.client.ZRem(ctx, JobDelayedKey, id).Result()
		if err != nil {
			return promoted, err
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, JobQueueKey, id).Err(); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

func (q *Queue) promoter(interval time.Duration) {
	defer q.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ctx := context.Background()
	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			if _, err := q.promoteDue(ctx); err != nil {
				log.Errorf("[RetryQueue] Promoting delayed jobs failed: %v", err)
			}
		}
	}
}

// stuckSweeper periodically scans the processing list and requeues jobs stuck for longer than maxAge
func (q *Queue) stuckSweeper(maxAge time.Duration, interval time.Duration) {
	defer q.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ctx := context.Background()
	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			if n, err := q.recoverStuck(ctx, maxAge); err != nil {
				log.Errorf("[RetryQueue] Sweeper error: %v", err)
			} else if n > 0 {
				log.Warnf("[RetryQueue] Recovered %d stuck jobs", n)
			}
		}
	}
}

func (q *Queue) recoverStuck(ctx context.Context, maxAge time.Duration) (int, error) {
	ids, err := q.client.LRange(ctx, JobProcessingKey, 0, -1).Result()
	if err != nil {
		return 0, err
	}
	now := q.now()
	recovered := 0
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if err != nil {
			// Job data missing or unreadable; drop it from the processing list
			_ = q.client.LRem(ctx, JobProcessingKey, 1, id).Err()
			continue
		}
		if job.Status != JobStatusProcessing {
			_ = q.client.LRem(ctx, JobProcessingKey, 1, id).Err()
			continue
		}
		started := job.UpdatedAt
		if job.ProcessedAt != nil {
			started = *job.ProcessedAt
		}
		if now.Sub(started) <= maxAge {
			continue
		}
		job.Status = JobStatusPending
		job.ErrorMsg = "recovered by sweeper"
		job.UpdatedAt = now
		q.updateJob(ctx, job)
		_ = q.client.LRem(ctx, JobProcessingKey, 1, id).Err()
		_ = q.client.RPush(ctx, JobQueueKey, id).Err()
		recovered++
	}
	return recovered, nil
}

// worker processes jobs from the queue
func (q *Queue) worker(id int) {
	defer q.wg.Done()
	ctx := context.Background()

	for {
		select {
		case <-q.stopCh:
			return
		default:
			job, err := q.dequeueJob(ctx)
			if err != nil {
				if err != redis.Nil {
					log.Errorf("[RetryQueue] Worker %d: Error dequeuing job: %v", id, err)
					time.Sleep(time.Second)
				}
				continue
			}
			q.processJob(ctx, job)
		}
	}
}

// dequeueJob gets the next job from the queue
func (q *Queue) dequeueJob(ctx context.Context) (*Job, error) {
	// Move job from pending queue to processing queue atomically
	jobID, err := q.client.BRPopLPush(ctx, JobQueueKey, JobProcessingKey, time.Second).Result()
	if err != nil {
		return nil, err
	}

	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		q.client.LRem(ctx, JobProcessingKey, 1, jobID)
		return nil, fmt.Errorf("job data not found for ID %s: %w", jobID, err)
	}
	return job, nil
}

// processJob runs a single job and decides whether it is done, retried or dropped.
func (q *Queue) processJob(ctx context.Context, job *Job) {
	defer q.removeFromProcessing(ctx, job.ID)

	job.MarkAsProcessing(q.now())
	q.updateJob(ctx, job)

	err := q.run(ctx, job)
	switch {
	case err == nil:
		log.Infof("[RetryQueue] Job %s completed successfully", job.ID)
		q.updateJobStats(ctx, JobStatusCompleted, 1)
		q.removeJob(ctx, job.ID)
		return
	case errors.Is(err, billing.ErrNotReprocessable):
		// The event was processed or claimed elsewhere.
		log.Infof("[RetryQueue] Job %s no longer needed: %v", job.ID, err)
		q.updateJobStats(ctx, JobStatusCompleted, 1)
		q.removeJob(ctx, job.ID)
		return
	case repository.IsNotFound(err):
		log.Errorf("[RetryQueue] Job %s dropped: %v", job.ID, err)
		q.updateJobStats(ctx, JobStatusFailed, 1)
		q.removeJob(ctx, job.ID)
		return
	}

	log.Errorf("[RetryQueue] Job %s failed: %v", job.ID, err)
	job.MarkAsFailed(err.Error(), q.now())
	if !job.IsRetryable() {
		// Keep the job record until it expires so sweeps do not requeue it.
		log.Errorf("[RetryQueue] Job %s permanently failed after %d attempts", job.ID, job.RetryCount)
		q.updateJob(ctx, job)
		q.updateJobStats(ctx, JobStatusFailed, 1)
		return
	}

	job.MarkAsRetrying(q.now())
	q.updateJob(ctx, job)
	due := q.now().Add(q.backoff * time.Duration(job.RetryCount+1))
	if err := q.client.ZAdd(ctx, JobDelayedKey, redis.Z{Score: float64(due.Unix()), Member: job.ID}).Err(); err != nil {
		log.Errorf("[RetryQueue] Failed to reschedule job %s: %v", job.ID, err)
		return
	}
	log.Infof("[RetryQueue] Retrying job %s (attempt %d/%d) at %s", job.ID, job.RetryCount+1, job.MaxRetries, due.Format(time.RFC3339))
}

func (q *Queue) run(ctx context.Context, job *Job) error {
	if job.Type != JobTypeWebhookReprocess {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	if q.handler == nil {
		return errors.New("no reprocess handler registered")
	}
	payload, err := ReprocessJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid payload for job %s: %w", job.ID, err)
	}
	return q.handler(ctx, payload.Provider, payload.EventID)
}

// updateJob updates job data in Redis
func (q *Queue) updateJob(ctx context.Context, job *Job) {
	jobData, err := json.Marshal(job)
	if err != nil {
		log.Errorf("[RetryQueue] Failed to marshal job %s: %v", job.ID, err)
		return
	}
	if err := q.client.Set(ctx, JobKeyPrefix+job.ID, jobData, JobTTL).Err(); err != nil {
		log.Errorf("[RetryQueue] Failed to update job %s: %v", job.ID, err)
	}
}

func (q *Queue) removeFromProcessing(ctx context.Context, jobID string) {
	if err := q.client.LRem(ctx, JobProcessingKey, 1, jobID).Err(); err != nil {
		log.Errorf("[RetryQueue] Failed to remove job %s from processing queue: %v", jobID, err)
	}
}

func (q *Queue) removeJob(ctx context.Context, jobID string) {
	if err := q.client.Del(ctx, JobKeyPrefix+jobID).Err(); err != nil {
		log.Errorf("[RetryQueue] Failed to remove job %s: %v", jobID, err)
	}
}

func (q *Queue) updateJobStats(ctx context.Context, status JobStatus, delta int64) {
	if err := q.client.HIncrBy(ctx, JobStatsKey, string(status), delta).Err(); err != nil {
		log.Errorf("[RetryQueue] Failed to update job stats: %v", err)
	}
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	jobData, err := q.client.Get(ctx, JobKeyPrefix+jobID).Result()
	if err != nil {
		return nil, err
	}

	var job Job
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// GetJobStats returns statistics about job statuses
func (q *Queue) GetJobStats(ctx context.Context) (map[JobStatus]int64, error) {
	stats, err := q.client.HGetAll(ctx, JobStatsKey).Result()
	if err != nil {
		return nil, err
	}

	result := make(map[JobStatus]int64)
	for status, count := range stats {
		if n, err := strconv.ParseInt(count, 10, 64); err == nil {
			result[JobStatus(status)] = n
		}
	}
	return result, nil
}

// GetQueueSize returns the number of pending jobs
func (q *Queue) GetQueueSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, JobQueueKey).Result()
}

// GetDelayedSize returns the number of jobs waiting for their retry time
func (q *Queue) GetDelayedSize(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, JobDelayedKey).Result()
}
