package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/VenueFox/internal/pkg/cache"
	"github.com/ManuelReschke/VenueFox/internal/pkg/metrics"
)

const (
	// Redis key prefixes
	JobKeyPrefix     = "job:"
	JobQueueKey      = "job_queue"
	JobProcessingKey = "job_processing"
	JobStatsKey      = "job_stats"

	DefaultMaxRetries = 3
	JobTTL            = 24 * time.Hour
)

// Handler runs one job. A returned error fails the attempt.
type Handler func(ctx context.Context, job *Job) error

// Queue manages background jobs using Redis
type Queue struct {
	client     *redis.Client
	workers    int
	workerPool chan struct{}
	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool

	handlers   map[JobType]Handler
	retryDelay func(attempt int) time.Duration
}

// NewQueue creates a job queue on the shared cache client
func NewQueue(workers int) *Queue {
	return NewQueueWithClient(cache.GetClient(), workers)
}

// NewQueueWithClient creates a job queue on client
func NewQueueWithClient(client *redis.Client, workers int) *Queue {
	if workers <= 0 {
		workers = 3
	}

	return &Queue{
		client:     client,
		workers:    workers,
		workerPool: make(chan struct{}, workers),
		stopCh:     make(chan struct{}),
		handlers:   make(map[JobType]Handler),
		retryDelay: func(attempt int) time.Duration { return time.Minute * time.Duration(attempt) },
	}
}

// Register binds a handler to a job type. Call before Start.
func (q *Queue) Register(jobType JobType, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = h
}

// Start starts the job queue workers
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}

	q.running = true
	q.stopCh = make(chan struct{})
	log.Infof("[JobQueue] Starting %d workers", q.workers)

	for i := 0; i < q.workers; i++ {
		q.workerPool <- struct{}{}
	}

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	// recovers jobs left in processing by a crashed worker
	q.wg.Add(1)
	go q.stuckSweeper(10*time.Minute, 1*time.Minute)
}

// Stop stops the job queue workers
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	log.Info("[JobQueue] Stopping workers...")
	close(q.stopCh)
	q.running = false
	q.mu.Unlock()

	q.wg.Wait()
	for len(q.workerPool) > 0 {
		<-q.workerPool
	}
	log.Info("[JobQueue] All workers stopped")
}

func (q *Queue) stuckSweeper(maxAge time.Duration, interval time.Duration) {
	defer q.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			if n, err := q.recoverStuck(context.Background(), maxAge); err != nil {
				log.Errorf("[JobQueue] Sweeper error: %v", err)
			} else if n > 0 {
				log.Warnf("[JobQueue] Sweeper requeued %d stuck jobs", n)
			}
		}
	}
}

// recoverStuck moves jobs processing for longer than maxAge back to pending.
func (q *Queue) recoverStuck(ctx context.Context, maxAge time.Duration) (int, error) {
	ids, err := q.client.LRange(ctx, JobProcessingKey, 0, -1).Result()
	if err != nil {
		return 0, err
	}
	now := time.Now()
	recovered := 0
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if err != nil {
			// job data expired or unreadable
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

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	ctx := context.Background()

	for {
		select {
		case <-q.stopCh:
			return
		case <-q.workerPool:
		}

		processed, err := q.processNext(ctx, time.Second)
		q.workerPool <- struct{}{}
		if err != nil {
			log.Errorf("[JobQueue] Worker %d: %v", id, err)
		}
		if !processed {
			select {
			case <-q.stopCh:
				return
			case <-time.After(200 * time.Millisecond):
			}
		}
	}
}

// EnqueueJob adds a new job to the queue
func (q *Queue) EnqueueJob(jobType JobType, payload map[string]interface{}) (*Job, error) {
	ctx := context.Background()
	now := time.Now()

	job := &Job{
		ID:         uuid.New().String(),
		Type:       jobType,
		Status:     JobStatusPending,
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
		MaxRetries: DefaultMaxRetries,
	}

	jobData, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, JobKeyPrefix+job.ID, jobData, JobTTL)
	pipe.LPush(ctx, JobQueueKey, job.ID)
	pipe.HIncrBy(ctx, JobStatsKey, string(JobStatusPending), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	log.Debugf("[JobQueue] Enqueued job %s (Type: %s)", job.ID, job.Type)
	return job, nil
}

// processNext runs at most one job. processed is false when the queue stayed
// empty for wait.
func (q *Queue) processNext(ctx context.Context, wait time.Duration) (bool, error) {
	job, err := q.dequeueJob(ctx, wait)
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	q.processJob(ctx, job)
	return true, nil
}

func (q *Queue) dequeueJob(ctx context.Context, wait time.Duration) (*Job, error) {
	jobID, err := q.client.BRPopLPush(ctx, JobQueueKey, JobProcessingKey, wait).Result()
	if err != nil {
		return nil, err
	}

	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		q.removeFromProcessing(ctx, jobID)
		return nil, fmt.Errorf("job %s unreadable: %w", jobID, err)
	}
	return job, nil
}

func (q *Queue) handler(jobType JobType) Handler {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.handlers[jobType]
}

func (q *Queue) processJob(ctx context.Context, job *Job) {
	job.MarkAsProcessing()
	q.updateJob(ctx, job)

	var err error
	if h := q.handler(job.Type); h != nil {
		err = h(ctx, job)
	} else {
		err = fmt.Errorf("unknown job type: %s", job.Type)
	}

	switch {
	case err == nil:
		job.MarkAsCompleted()
		q.updateJobStats(ctx, JobStatusCompleted, 1)
		q.removeCompletedJob(ctx, job.ID)
		metrics.JobsProcessed.WithLabelValues(string(job.Type), string(JobStatusCompleted)).Inc()

	default:
		log.Errorf("[JobQueue] Job %s (%s) failed: %v", job.ID, job.Type, err)
		job.MarkAsFailed(err.Error())
		if job.IsRetryable() {
			log.Infof("[JobQueue] Retrying job %s (Attempt %d/%d)", job.ID, job.RetryCount, job.MaxRetries)
			job.MarkAsRetrying()
			q.updateJob(ctx, job)
			id := job.ID
			time.AfterFunc(q.retryDelay(job.RetryCount), func() {
				if err := q.client.LPush(context.Background(), JobQueueKey, id).Err(); err != nil {
					log.Errorf("[JobQueue] Failed to requeue job %s: %v", id, err)
				}
			})
			metrics.JobsProcessed.WithLabelValues(string(job.Type), string(JobStatusRetrying)).Inc()
		} else {
			log.Errorf("[JobQueue] Job %s permanently failed after %d attempts", job.ID, job.RetryCount)
			q.updateJob(ctx, job)
			q.updateJobStats(ctx, JobStatusFailed, 1)
			metrics.JobsProcessed.WithLabelValues(string(job.Type), string(JobStatusFailed)).Inc()
		}
	}

	q.removeFromProcessing(ctx, job.ID)
}

func (q *Queue) updateJob(ctx context.Context, job *Job) {
	jobData, err := json.Marshal(job)
	if err != nil {
		log.Errorf("[JobQueue] Failed to marshal job %s: %v", job.ID, err)
		return
	}
	if err := q.client.Set(ctx, JobKeyPrefix+job.ID, jobData, JobTTL).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to update job %s: %v", job.ID, err)
	}
}

func (q *Queue) removeFromProcessing(ctx context.Context, jobID string) {
	if err := q.client.LRem(ctx, JobProcessingKey, 1, jobID).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to remove job %s from processing queue: %v", jobID, err)
	}
}

func (q *Queue) removeCompletedJob(ctx context.Context, jobID string) {
	if err := q.client.Del(ctx, JobKeyPrefix+jobID).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to remove completed job %s: %v", jobID, err)
	}
}

func (q *Queue) updateJobStats(ctx context.Context, status JobStatus, delta int64) {
	if err := q.client.HIncrBy(ctx, JobStatsKey, string(status), delta).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to update job stats: %v", err)
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
		if n, err := json.Number(count).Int64(); err == nil {
			result[JobStatus(status)] = n
		}
	}
	return result, nil
}

// GetQueueSize returns the number of pending jobs
func (q *Queue) GetQueueSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, JobQueueKey).Result()
}

// GetProcessingSize returns the number of jobs being processed
func (q *Queue) GetProcessingSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, JobProcessingKey).Result()
}
