package domain

import (
	"encoding/json"
	"time"
)

// JobState represents the lifecycle state of a queued job.
type JobState string

const (
	JobPending         JobState = "PENDING"
	JobActive          JobState = "ACTIVE"
	JobRetryScheduled  JobState = "RETRY_SCHEDULED"
	JobCompleted       JobState = "COMPLETED"
	JobFailedPermanent JobState = "FAILED_PERMANENT"
)

// IsTerminal returns true if no further state transitions are possible.
func (s JobState) IsTerminal() bool {
	return s == JobCompleted || s == JobFailedPermanent
}

// Job type names routed by the worker's handler registry.
const (
	JobTypeOverdueNotification = "overdue-notification"
	JobTypeStatusUpdate        = "status-update"
)

// Job is a unit of deferred work tracked through a retry-aware lifecycle.
// Payload is immutable once enqueued; only State, Attempts, LastError and
// the scheduling timestamps mutate.
type Job struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	State       JobState        `json:"state"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Backoff     *BackoffSpec    `json:"backoff,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	// RunAt is the earliest time the job is eligible for delivery. Zero
	// means immediately; retries push it forward by the backoff delay.
	RunAt       time.Time  `json:"run_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// AttemptsRemaining reports whether the job may still be retried after a
// failed attempt.
func (j *Job) AttemptsRemaining() bool {
	return j.Attempts < j.MaxAttempts
}

// Backoff spec types accepted at the enqueue boundary.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// BackoffSpec selects the redelivery delay policy for a job's retries. It
// is stored with the job so any worker can compute the next delay.
type BackoffSpec struct {
	Type    string `json:"type"` // "fixed" or "exponential"
	DelayMs int    `json:"delay_ms"`
}

// JobOutcome records the terminal result of a job for the audit trail.
type JobOutcome struct {
	ID         string    `json:"id"`
	JobID      string    `json:"job_id"`
	JobType    string    `json:"job_type"`
	WorkerID   string    `json:"worker_id"`
	Attempt    int       `json:"attempt"`
	State      JobState  `json:"state"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}
