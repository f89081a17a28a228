// Package redis implements the durable job queue and scanner leader
// election on top of Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rjoudeh/duewatch/internal/domain"
	"github.com/rjoudeh/duewatch/internal/queue"
	"github.com/rjoudeh/duewatch/pkg/backoff"
)

const (
	keyPending = "jobs:pending" // LIST of job ids, RPUSH in / LPOP out
	keyDelayed = "jobs:delayed" // ZSET job id → eligible-at unix ms
	keyActive  = "jobs:active"  // ZSET job id → lease expiry unix ms

	terminalTTL = 24 * time.Hour
	resultTTL   = time.Hour

	defaultLeaseTimeout = 30 * time.Second
	defaultMaxAttempts  = 3
	defaultPollInterval = 250 * time.Millisecond

	// promoteBatch bounds how many delayed or expired jobs one worker
	// moves per pass, so a large backlog doesn't stall a single Dequeue.
	promoteBatch = 128
)

func jobKey(jobID string) string    { return "job:data:" + jobID }
func resultKey(jobID string) string { return "job:result:" + jobID }

// promoteScript moves jobs whose score is due from a ZSET onto the pending
// list. Used both for delayed jobs (score = eligible-at) and for expired
// leases (score = lease expiry).
var promoteScript = redis.NewScript(`
	local due = redis.call("zrangebyscore", KEYS[1], 0, ARGV[1], "LIMIT", 0, ARGV[2])
	for _, id in ipairs(due) do
		redis.call("zrem", KEYS[1], id)
		redis.call("rpush", KEYS[2], id)
	end
	return #due
`)

// claimScript pops one pending job id and records its lease atomically, so
// no two workers can hold the same job.
var claimScript = redis.NewScript(`
	local id = redis.call("lpop", KEYS[1])
	if not id then
		return false
	end
	redis.call("zadd", KEYS[2], ARGV[1], id)
	return id
`)

// Queue is a Redis-backed queue.JobQueue. Multiple worker processes may
// dequeue concurrently; the claim script plus the active-set lease is the
// sole concurrency-safety boundary.
type Queue struct {
	client       *redis.Client
	maxAttempts  int
	retryDelay   backoff.Strategy
	leaseTimeout time.Duration
	pollInterval time.Duration
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

func WithMaxAttempts(n int) QueueOption {
	return func(q *Queue) { q.maxAttempts = n }
}

func WithRetryBackoff(s backoff.Strategy) QueueOption {
	return func(q *Queue) { q.retryDelay = s }
}

func WithLeaseTimeout(d time.Duration) QueueOption {
	return func(q *Queue) { q.leaseTimeout = d }
}

func WithPollInterval(d time.Duration) QueueOption {
	return func(q *Queue) { q.pollInterval = d }
}

// NewQueue creates a Redis-backed job queue.
func NewQueue(client *redis.Client, opts ...QueueOption) *Queue {
	q := &Queue{
		client:       client,
		maxAttempts:  defaultMaxAttempts,
		retryDelay:   backoff.Default(),
		leaseTimeout: defaultLeaseTimeout,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// NewClient creates a Redis client with the timeouts the engine expects.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		PoolSize:     10,
	})
}

func (q *Queue) Enqueue(ctx context.Context, jobType string, payload any, opts *queue.Options) (string, error) {
	if jobType == "" {
		return "", &domain.EnqueueError{JobType: jobType, Err: errors.New("empty job type")}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", &domain.EnqueueError{JobType: jobType, Err: fmt.Errorf("marshal payload: %w", err)}
	}

	maxAttempts := q.maxAttempts
	var spec *domain.BackoffSpec
	if opts != nil {
		if opts.MaxAttempts > 0 {
			maxAttempts = opts.MaxAttempts
		}
		spec = opts.Backoff
	}

	now := time.Now().UTC()
	job := &domain.Job{
		ID:          uuid.New().String(),
		Type:        jobType,
		Payload:     raw,
		State:       domain.JobPending,
		MaxAttempts: maxAttempts,
		Backoff:     spec,
		EnqueuedAt:  now,
		RunAt:       now,
		UpdatedAt:   now,
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", &domain.EnqueueError{JobType: jobType, Err: fmt.Errorf("marshal job: %w", err)}
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), data, 0)
	pipe.RPush(ctx, keyPending, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", &domain.EnqueueError{JobType: jobType, Err: fmt.Errorf("redis enqueue: %w", err)}
	}
	return job.ID, nil
}

// Dequeue polls Redis until an eligible job is claimed or ctx is done.
// Each pass first promotes due delayed jobs and reclaims expired leases,
// so stalled workers cannot strand jobs.
func (q *Queue) Dequeue(ctx context.Context) (*domain.Job, error) {
	for {
		job, err := q.tryClaim(ctx)
		if err != nil {
			return nil, err
		}
		if job != nil {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

func (q *Queue) tryClaim(ctx context.Context) (*domain.Job, error) {
	nowMs := time.Now().UnixMilli()

	if err := promoteScript.Run(ctx, q.client,
		[]string{keyDelayed, keyPending}, nowMs, promoteBatch).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("promote delayed jobs: %w", err)
	}
	if err := promoteScript.Run(ctx, q.client,
		[]string{keyActive, keyPending}, nowMs, promoteBatch).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("reclaim expired leases: %w", err)
	}

	leaseExpiry := time.Now().Add(q.leaseTimeout).UnixMilli()
	id, err := claimScript.Run(ctx, q.client, []string{keyPending, keyActive}, leaseExpiry).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // nothing eligible
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}

	job, err := q.getJob(ctx, id)
	if err != nil {
		var notFound *domain.JobNotFoundError
		if errors.As(err, &notFound) {
			// Record evaporated (e.g. expired terminal TTL while its id
			// lingered); drop the orphaned lease and keep claiming.
			_ = q.client.ZRem(ctx, keyActive, id).Err()
			return nil, nil
		}
		return nil, err
	}

	// This worker is the only claimer, so a plain read-modify-write on
	// the job record is safe here.
	job.State = domain.JobActive
	job.Attempts++
	job.UpdatedAt = time.Now().UTC()
	if err := q.putJob(ctx, job, 0); err != nil {
		return nil, err
	}
	return job, nil
}

func (q *Queue) MarkSucceeded(ctx context.Context, jobID string, result []byte) error {
	job, err := q.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	job.State = domain.JobCompleted
	job.UpdatedAt = now
	job.CompletedAt = &now
	job.LastError = ""
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", jobID, err)
	}

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, keyActive, jobID)
	pipe.Set(ctx, jobKey(jobID), data, terminalTTL)
	if result != nil {
		pipe.Set(ctx, resultKey(jobID), result, resultTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis mark succeeded %s: %w", jobID, err)
	}
	return nil
}

func (q *Queue) MarkFailed(ctx context.Context, jobID string, jobErr error, shouldRetry bool) error {
	job, err := q.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	job.UpdatedAt = now
	if jobErr != nil {
		job.LastError = jobErr.Error()
	}

	if shouldRetry && job.AttemptsRemaining() {
		delay := q.retryDelay
		if job.Backoff != nil {
			delay = backoff.FromSpec(job.Backoff.Type, time.Duration(job.Backoff.DelayMs)*time.Millisecond)
		}
		job.State = domain.JobRetryScheduled
		job.RunAt = now.Add(delay.Delay(job.Attempts))

		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("marshal job %s: %w", jobID, err)
		}
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, keyActive, jobID)
		pipe.ZAdd(ctx, keyDelayed, redis.Z{Score: float64(job.RunAt.UnixMilli()), Member: jobID})
		pipe.Set(ctx, jobKey(jobID), data, 0)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("redis schedule retry %s: %w", jobID, err)
		}
		return nil
	}

	job.State = domain.JobFailedPermanent
	job.CompletedAt = &now
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", jobID, err)
	}
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, keyActive, jobID)
	pipe.Set(ctx, jobKey(jobID), data, terminalTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis mark failed %s: %w", jobID, err)
	}
	return nil
}

// Job returns the stored record for a job id.
func (q *Queue) Job(ctx context.Context, jobID string) (*domain.Job, error) {
	return q.getJob(ctx, jobID)
}

// Result returns the stored handler result for a completed job.
func (q *Queue) Result(ctx context.Context, jobID string) ([]byte, error) {
	data, err := q.client.Get(ctx, resultKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, &domain.JobNotFoundError{JobID: jobID}
		}
		return nil, fmt.Errorf("redis get result %s: %w", jobID, err)
	}
	return data, nil
}

func (q *Queue) getJob(ctx context.Context, jobID string) (*domain.Job, error) {
	data, err := q.client.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, &domain.JobNotFoundError{JobID: jobID}
		}
		return nil, fmt.Errorf("redis get job %s: %w", jobID, err)
	}
	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", jobID, err)
	}
	return &job, nil
}

func (q *Queue) putJob(ctx context.Context, job *domain.Job, ttl time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	if err := q.client.Set(ctx, jobKey(job.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set job %s: %w", job.ID, err)
	}
	return nil
}

var _ queue.JobQueue = (*Queue)(nil)
