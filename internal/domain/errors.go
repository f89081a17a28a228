package domain

import (
	"fmt"
	"strings"
)

// ValidationError marks a payload that can never succeed no matter how often
// it is retried. Handlers report it directly instead of raising it.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// UnknownJobTypeError is returned when no handler is registered for a job
// type. Retrying cannot fix a routing problem, so it is always terminal.
type UnknownJobTypeError struct {
	JobType string
}

func (e *UnknownJobTypeError) Error() string {
	return fmt.Sprintf("no handler registered for job type %q", e.JobType)
}

// TaskNotFoundError is returned by the collaborator when a status update
// matched no task rows.
type TaskNotFoundError struct {
	TaskIDs []string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("no tasks matched: %s", strings.Join(e.TaskIDs, ", "))
}

// JobNotFoundError is returned when a job ID does not exist in the queue.
type JobNotFoundError struct {
	JobID string
}

func (e *JobNotFoundError) Error() string {
	return fmt.Sprintf("job not found: %s", e.JobID)
}

// QueryError wraps a failed read against the collaborator's storage.
type QueryError struct {
	Op  string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %s: %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// EnqueueError wraps a failed job submission: malformed payload or an
// unreachable store. Producers use it to decide whether to roll back.
type EnqueueError struct {
	JobType string
	Err     error
}

func (e *EnqueueError) Error() string {
	return fmt.Sprintf("enqueue %s: %v", e.JobType, e.Err)
}

func (e *EnqueueError) Unwrap() error { return e.Err }
