// Package queue defines the durable job queue contract shared by the
// in-memory and Redis implementations.
package queue

import (
	"context"

	"github.com/rjoudeh/duewatch/internal/domain"
)

// Options tunes a single enqueue. Zero values fall back to the queue's
// configured defaults.
type Options struct {
	// MaxAttempts caps dispatch attempts for this job.
	MaxAttempts int
	// Backoff schedules redelivery delays for this job's retries.
	Backoff *domain.BackoffSpec
}

// JobQueue is the durable store for pending/active/delayed/failed jobs.
//
// Dequeue holds a lease on the returned job: at most one worker holds a
// given job at a time, and an expired lease makes the job eligible for
// redelivery (at-least-once in the presence of timeouts). FIFO is not
// guaranteed across job types; delayed jobs become eligible only after
// their scheduled time.
type JobQueue interface {
	// Enqueue persists a new pending job and returns its id. It fails
	// with a domain.EnqueueError when the payload cannot be marshalled
	// or the store is unreachable.
	Enqueue(ctx context.Context, jobType string, payload any, opts *Options) (string, error)

	// Dequeue blocks until an eligible job can be claimed or ctx is
	// done. Claiming transitions the job PENDING → ACTIVE and counts
	// one dispatch attempt.
	Dequeue(ctx context.Context) (*domain.Job, error)

	// MarkSucceeded settles an active job as COMPLETED and stores the
	// handler's result.
	MarkSucceeded(ctx context.Context, jobID string, result []byte) error

	// MarkFailed settles an active job after a failed attempt. With
	// shouldRetry the job is rescheduled (RETRY_SCHEDULED) after its
	// backoff delay; otherwise it is FAILED_PERMANENT. A job whose
	// attempt budget is exhausted is forced terminal regardless of
	// shouldRetry.
	MarkFailed(ctx context.Context, jobID string, jobErr error, shouldRetry bool) error
}
