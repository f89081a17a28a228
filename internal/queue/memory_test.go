package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjoudeh/duewatch/internal/domain"
	"github.com/rjoudeh/duewatch/internal/queue"
	"github.com/rjoudeh/duewatch/pkg/backoff"
)

type payload struct {
	TaskID string `json:"taskId"`
}

func dequeueWithin(t *testing.T, q *queue.Memory, d time.Duration) *domain.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	return job
}

func TestMemory_EnqueueDequeue(t *testing.T) {
	q := queue.NewMemory()
	id, err := q.Enqueue(context.Background(), domain.JobTypeStatusUpdate, payload{TaskID: "t1"}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job := dequeueWithin(t, q, time.Second)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, domain.JobTypeStatusUpdate, job.Type)
	assert.Equal(t, domain.JobActive, job.State)
	assert.Equal(t, 1, job.Attempts, "claiming counts one dispatch attempt")
	assert.JSONEq(t, `{"taskId":"t1"}`, string(job.Payload))
}

func TestMemory_Enqueue_EmptyType(t *testing.T) {
	q := queue.NewMemory()
	_, err := q.Enqueue(context.Background(), "", payload{TaskID: "t1"}, nil)
	var enqErr *domain.EnqueueError
	require.ErrorAs(t, err, &enqErr)
}

func TestMemory_Enqueue_UnmarshallablePayload(t *testing.T) {
	q := queue.NewMemory()
	_, err := q.Enqueue(context.Background(), domain.JobTypeStatusUpdate, make(chan int), nil)
	var enqErr *domain.EnqueueError
	require.ErrorAs(t, err, &enqErr, "unmarshallable payload must fail with EnqueueError")
}

func TestMemory_Dequeue_BlocksUntilEnqueue(t *testing.T) {
	q := queue.NewMemory()

	done := make(chan *domain.Job, 1)
	go func() {
		job := dequeueWithin(t, q, 2*time.Second)
		done <- job
	}()

	time.Sleep(50 * time.Millisecond)
	_, err := q.Enqueue(context.Background(), domain.JobTypeStatusUpdate, payload{TaskID: "t1"}, nil)
	require.NoError(t, err)

	select {
	case job := <-done:
		assert.Equal(t, 1, job.Attempts)
	case <-time.After(2 * time.Second):
		t.Fatal("dequeue did not wake after enqueue")
	}
}

func TestMemory_Dequeue_ContextCancelled(t *testing.T) {
	q := queue.NewMemory()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemory_FIFOWithinEligibleJobs(t *testing.T) {
	q := queue.NewMemory()
	ctx := context.Background()

	first, err := q.Enqueue(ctx, domain.JobTypeStatusUpdate, payload{TaskID: "a"}, nil)
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, domain.JobTypeOverdueNotification, payload{TaskID: "b"}, nil)
	require.NoError(t, err)

	assert.Equal(t, first, dequeueWithin(t, q, time.Second).ID)
	assert.Equal(t, second, dequeueWithin(t, q, time.Second).ID)
}

func TestMemory_MarkSucceeded(t *testing.T) {
	q := queue.NewMemory()
	id, _ := q.Enqueue(context.Background(), domain.JobTypeStatusUpdate, payload{TaskID: "t1"}, nil)
	job := dequeueWithin(t, q, time.Second)

	require.NoError(t, q.MarkSucceeded(context.Background(), job.ID, []byte(`{"success":true}`)))

	stored, ok := q.Job(id)
	require.True(t, ok)
	assert.Equal(t, domain.JobCompleted, stored.State)
	require.NotNil(t, stored.CompletedAt)

	res, ok := q.Result(id)
	require.True(t, ok)
	assert.JSONEq(t, `{"success":true}`, string(res))
}

func TestMemory_MarkFailed_RetryScheduledThenRedelivered(t *testing.T) {
	q := queue.NewMemory(queue.WithRetryBackoff(backoff.NewFixed(10 * time.Millisecond)))
	id, _ := q.Enqueue(context.Background(), domain.JobTypeStatusUpdate, payload{TaskID: "t1"}, nil)

	job := dequeueWithin(t, q, time.Second)
	require.NoError(t, q.MarkFailed(context.Background(), job.ID, errors.New("transient"), true))

	stored, _ := q.Job(id)
	assert.Equal(t, domain.JobRetryScheduled, stored.State)
	assert.Equal(t, "transient", stored.LastError)

	// After the backoff delay the job must come around again with a
	// higher attempt count.
	again := dequeueWithin(t, q, 2*time.Second)
	assert.Equal(t, id, again.ID)
	assert.Equal(t, 2, again.Attempts)
}

func TestMemory_MarkFailed_Terminal(t *testing.T) {
	q := queue.NewMemory()
	id, _ := q.Enqueue(context.Background(), domain.JobTypeStatusUpdate, payload{TaskID: "t1"}, nil)
	job := dequeueWithin(t, q, time.Second)

	require.NoError(t, q.MarkFailed(context.Background(), job.ID, errors.New("routing problem"), false))

	stored, _ := q.Job(id)
	assert.Equal(t, domain.JobFailedPermanent, stored.State)
	require.NotNil(t, stored.CompletedAt)
}

func TestMemory_MarkFailed_ExhaustedBudgetForcedTerminal(t *testing.T) {
	q := queue.NewMemory(
		queue.WithMaxAttempts(1),
		queue.WithRetryBackoff(backoff.NewFixed(time.Millisecond)),
	)
	id, _ := q.Enqueue(context.Background(), domain.JobTypeStatusUpdate, payload{TaskID: "t1"}, nil)
	job := dequeueWithin(t, q, time.Second)
	assert.Equal(t, 1, job.Attempts)

	// Caller asks for a retry but the budget is spent.
	require.NoError(t, q.MarkFailed(context.Background(), job.ID, errors.New("boom"), true))

	stored, _ := q.Job(id)
	assert.Equal(t, domain.JobFailedPermanent, stored.State,
		"attempts == maxAttempts must be terminal even when shouldRetry is set")
}

func TestMemory_LeaseExpiry_Redelivers(t *testing.T) {
	q := queue.NewMemory(queue.WithLeaseTimeout(20 * time.Millisecond))
	id, _ := q.Enqueue(context.Background(), domain.JobTypeStatusUpdate, payload{TaskID: "t1"}, nil)

	first := dequeueWithin(t, q, time.Second)
	require.Equal(t, id, first.ID)

	// Never settled: the lease expires and the job is redelivered.
	second := dequeueWithin(t, q, 2*time.Second)
	assert.Equal(t, id, second.ID)
	assert.Equal(t, 2, second.Attempts)
}

func TestMemory_ConcurrentDequeue_NoDoubleDelivery(t *testing.T) {
	q := queue.NewMemory()
	ctx := context.Background()

	const n = 20
	for i := 0; i < n; i++ {
		_, err := q.Enqueue(ctx, domain.JobTypeStatusUpdate, payload{TaskID: "t"}, nil)
		require.NoError(t, err)
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				dctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
				job, err := q.Dequeue(dctx)
				cancel()
				if err != nil {
					return // drained
				}
				mu.Lock()
				seen[job.ID]++
				mu.Unlock()
				_ = q.MarkSucceeded(ctx, job.ID, nil)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n, "every job delivered")
	for id, count := range seen {
		assert.Equal(t, 1, count, "job %s delivered more than once", id)
	}
}

func TestMemory_Closed_RejectsEnqueue(t *testing.T) {
	q := queue.NewMemory()
	q.Close()
	_, err := q.Enqueue(context.Background(), domain.JobTypeStatusUpdate, payload{TaskID: "t1"}, nil)
	var enqErr *domain.EnqueueError
	require.ErrorAs(t, err, &enqErr)
}
