package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rjoudeh/duewatch/internal/domain"
	"github.com/rjoudeh/duewatch/pkg/backoff"
)

const (
	defaultLeaseTimeout = 30 * time.Second
	defaultMaxAttempts  = 3
	wakeInterval        = 250 * time.Millisecond
)

// Memory is an in-memory JobQueue for tests and single-process runs. Safe
// for concurrent use.
type Memory struct {
	mu      sync.Mutex
	jobs    map[string]*domain.Job
	order   map[string]uint64    // jobID → enqueue sequence, oldest first
	leases  map[string]time.Time // jobID → lease expiry while ACTIVE
	results map[string][]byte
	seq     uint64

	maxAttempts  int
	retryDelay   backoff.Strategy
	leaseTimeout time.Duration
	notify       chan struct{}
	closed       bool
}

// MemoryOption configures a Memory queue.
type MemoryOption func(*Memory)

func WithMaxAttempts(n int) MemoryOption {
	return func(m *Memory) { m.maxAttempts = n }
}

func WithRetryBackoff(s backoff.Strategy) MemoryOption {
	return func(m *Memory) { m.retryDelay = s }
}

func WithLeaseTimeout(d time.Duration) MemoryOption {
	return func(m *Memory) { m.leaseTimeout = d }
}

// NewMemory creates an empty in-memory queue.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		jobs:         make(map[string]*domain.Job),
		order:        make(map[string]uint64),
		leases:       make(map[string]time.Time),
		results:      make(map[string][]byte),
		maxAttempts:  defaultMaxAttempts,
		retryDelay:   backoff.Default(),
		leaseTimeout: defaultLeaseTimeout,
		notify:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Enqueue(_ context.Context, jobType string, payload any, opts *Options) (string, error) {
	if jobType == "" {
		return "", &domain.EnqueueError{JobType: jobType, Err: errors.New("empty job type")}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", &domain.EnqueueError{JobType: jobType, Err: fmt.Errorf("marshal payload: %w", err)}
	}

	maxAttempts := m.maxAttempts
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

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", &domain.EnqueueError{JobType: jobType, Err: errors.New("queue closed")}
	}
	m.seq++
	m.jobs[job.ID] = job
	m.order[job.ID] = m.seq
	m.mu.Unlock()

	m.wake()
	return job.ID, nil
}

func (m *Memory) Dequeue(ctx context.Context) (*domain.Job, error) {
	for {
		if job := m.claim(); job != nil {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.notify:
		case <-time.After(wakeInterval):
			// Re-scan for delayed jobs and expired leases.
		}
	}
}

// claim reclaims expired leases and then hands out the oldest eligible job,
// transitioning it to ACTIVE and counting one attempt.
func (m *Memory) claim() *domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()

	for id, expiry := range m.leases {
		if expiry.After(now) {
			continue
		}
		// Lease expired mid-flight: make the job deliverable again. The
		// attempt was already counted on claim.
		delete(m.leases, id)
		if j, ok := m.jobs[id]; ok && j.State == domain.JobActive {
			j.State = domain.JobPending
			j.UpdatedAt = now
		}
	}

	var (
		best    *domain.Job
		bestSeq uint64
	)
	for id, j := range m.jobs {
		if j.State != domain.JobPending && j.State != domain.JobRetryScheduled {
			continue
		}
		if j.RunAt.After(now) {
			continue
		}
		if seq := m.order[id]; best == nil || seq < bestSeq {
			best, bestSeq = j, seq
		}
	}
	if best == nil {
		return nil
	}

	best.State = domain.JobActive
	best.Attempts++
	best.UpdatedAt = now
	m.leases[best.ID] = now.Add(m.leaseTimeout)

	cp := *best
	return &cp
}

func (m *Memory) MarkSucceeded(_ context.Context, jobID string, result []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return &domain.JobNotFoundError{JobID: jobID}
	}
	now := time.Now().UTC()
	job.State = domain.JobCompleted
	job.UpdatedAt = now
	job.CompletedAt = &now
	job.LastError = ""
	delete(m.leases, jobID)
	if result != nil {
		m.results[jobID] = result
	}
	return nil
}

func (m *Memory) MarkFailed(_ context.Context, jobID string, jobErr error, shouldRetry bool) error {
	m.mu.Lock()

	job, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return &domain.JobNotFoundError{JobID: jobID}
	}

	now := time.Now().UTC()
	job.UpdatedAt = now
	if jobErr != nil {
		job.LastError = jobErr.Error()
	}
	delete(m.leases, jobID)

	// attempts <= maxAttempts must hold after every decision; an exhausted
	// budget is terminal no matter what the caller asked for.
	if shouldRetry && job.AttemptsRemaining() {
		delay := m.retryDelay
		if job.Backoff != nil {
			delay = backoff.FromSpec(job.Backoff.Type, time.Duration(job.Backoff.DelayMs)*time.Millisecond)
		}
		job.State = domain.JobRetryScheduled
		job.RunAt = now.Add(delay.Delay(job.Attempts))
		m.mu.Unlock()
		m.wake()
		return nil
	}

	job.State = domain.JobFailedPermanent
	job.CompletedAt = &now
	m.mu.Unlock()
	return nil
}

// Job returns a copy of the stored job, for inspection in tests.
func (m *Memory) Job(jobID string) (*domain.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, false
	}
	cp := *j
	return &cp, true
}

// Result returns the stored handler result for a completed job.
func (m *Memory) Result(jobID string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[jobID]
	return r, ok
}

// Close rejects further enqueues. In-flight jobs may still be settled.
func (m *Memory) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

func (m *Memory) wake() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

var _ JobQueue = (*Memory)(nil)
