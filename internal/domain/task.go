package domain

import "time"

// TaskStatus is the status enumeration of the task-management API's tasks.
// The engine never owns task storage; it reads filtered snapshots and writes
// status through the collaborator contract.
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskCancelled  TaskStatus = "CANCELLED"
)

// Valid reports whether s is a member of the status enumeration.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskCompleted, TaskCancelled:
		return true
	}
	return false
}

// ParseTaskStatus converts a raw string into a TaskStatus, returning a
// ValidationError for anything outside the enumeration.
func ParseTaskStatus(raw string) (TaskStatus, error) {
	s := TaskStatus(raw)
	if !s.Valid() {
		return "", &ValidationError{Msg: "Invalid status value: " + raw}
	}
	return s, nil
}

// TaskRef is a read-only snapshot of a task owned by the external
// collaborator.
type TaskRef struct {
	ID      string     `json:"id"`
	Status  TaskStatus `json:"status"`
	DueDate time.Time  `json:"due_date"`
}

// OverdueFilter selects tasks whose due date has passed. Status narrows the
// match to a single status when non-nil.
type OverdueFilter struct {
	DueBefore time.Time
	Status    *TaskStatus
}
