package jobqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q := NewQueueWithClient(client, 2)
	q.retryDelay = func(int) time.Duration { return time.Millisecond }
	return q, mr
}

// waitFor polls cond until it holds or the timeout passes
func waitFor(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func TestNewQueue(t *testing.T) {
	tests := []struct {
		name            string
		workers         int
		expectedWorkers int
	}{
		{"Valid worker count", 5, 5},
		{"Zero workers", 0, 3},
		{"Negative workers", -1, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := NewQueueWithClient(nil, tt.workers)

			assert.Equal(t, tt.expectedWorkers, queue.workers)
			assert.Equal(t, tt.expectedWorkers, cap(queue.workerPool))
			assert.False(t, queue.running)
		})
	}
}

func TestQueue_EnqueueAndComplete(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	var got *Job
	q.Register(JobTypeBillingNotification, func(_ context.Context, job *Job) error {
		got = job
		return nil
	})

	job, err := q.EnqueueJob(JobTypeBillingNotification, BillingNotificationJobPayload{TenantID: 4, To: "active"}.ToMap())
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxRetries, job.MaxRetries)

	size, _ := q.GetQueueSize(ctx)
	assert.Equal(t, int64(1), size)

	processed, err := q.processNext(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, processed)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, JobStatusProcessing, got.Status)

	_, err = q.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, redis.Nil, "completed jobs are removed")
	processing, _ := q.GetProcessingSize(ctx)
	assert.Zero(t, processing)

	stats, err := q.GetJobStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[JobStatusCompleted])
}

func TestQueue_EmptyQueue(t *testing.T) {
	q, _ := newTestQueue(t)

	processed, err := q.processNext(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestQueue_RetriesThenFails(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	attempts := 0
	q.Register(JobTypeRenewalReminder, func(context.Context, *Job) error {
		attempts++
		return errors.New("smtp timeout")
	})

	job, err := q.EnqueueJob(JobTypeRenewalReminder, RenewalReminderJobPayload{TenantID: 1, PeriodEnd: time.Now()}.ToMap())
	require.NoError(t, err)

	for i := 0; i < DefaultMaxRetries; i++ {
		require.True(t, waitFor(func() bool {
			n, _ := q.GetQueueSize(ctx)
			return n == 1
		}, time.Second), "attempt %d requeued", i+1)
		processed, err := q.processNext(ctx, 100*time.Millisecond)
		require.NoError(t, err)
		require.True(t, processed)
	}

	assert.Equal(t, DefaultMaxRetries, attempts)
	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, stored.Status)
	assert.Equal(t, DefaultMaxRetries, stored.RetryCount)
	assert.Equal(t, "smtp timeout", stored.ErrorMsg)

	time.Sleep(20 * time.Millisecond)
	size, _ := q.GetQueueSize(ctx)
	assert.Zero(t, size, "no retry after the last attempt")

	stats, _ := q.GetJobStats(ctx)
	assert.Equal(t, int64(1), stats[JobStatusFailed])
}

func TestQueue_UnknownJobType(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	job, err := q.EnqueueJob("image_processing", nil)
	require.NoError(t, err)

	processed, err := q.processNext(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, processed)

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusRetrying, stored.Status)
	assert.Contains(t, stored.ErrorMsg, "unknown job type")
}

func TestQueue_RecoverStuck(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	job, err := q.EnqueueJob(JobTypeBillingNotification, nil)
	require.NoError(t, err)
	_, err = q.dequeueJob(ctx, 100*time.Millisecond)
	require.NoError(t, err)

	started := time.Now().Add(-time.Hour)
	job.Status = JobStatusProcessing
	job.ProcessedAt = &started
	q.updateJob(ctx, job)

	n, err := q.recoverStuck(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	size, _ := q.GetQueueSize(ctx)
	assert.Equal(t, int64(1), size)
	stored, _ := q.GetJob(ctx, job.ID)
	assert.Equal(t, JobStatusPending, stored.Status)
}

func TestQueue_StartStop(t *testing.T) {
	q, _ := newTestQueue(t)
	done := make(chan struct{})
	q.Register(JobTypeBillingNotification, func(context.Context, *Job) error {
		close(done)
		return nil
	})

	q.Start()
	q.Start()
	_, err := q.EnqueueJob(JobTypeBillingNotification, nil)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("job was not processed by a worker")
	}
	q.Stop()
	q.Stop()
	assert.False(t, q.running)
}

func TestJob_StatusTransitions(t *testing.T) {
	job := &Job{Status: JobStatusFailed, RetryCount: 1, MaxRetries: 3}
	assert.True(t, job.IsRetryable())

	job.RetryCount = 3
	assert.False(t, job.IsRetryable())

	job.MarkAsProcessing()
	assert.Equal(t, JobStatusProcessing, job.Status)
	assert.NotNil(t, job.ProcessedAt)

	job.MarkAsFailed("boom")
	assert.Equal(t, 4, job.RetryCount)
	assert.Equal(t, "boom", job.ErrorMsg)

	job.MarkAsCompleted()
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Empty(t, job.ErrorMsg)
}
