package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rjoudeh/duewatch/internal/domain"
)

// TaskRepository is the engine's view of the task-management API's storage:
// read filtered task snapshots, write task status, append the job audit
// trail. Task rows are owned by the CRUD side; the engine never creates
// them.
type TaskRepository interface {
	FindOverdueTasks(ctx context.Context, f domain.OverdueFilter) ([]domain.TaskRef, error)
	UpdateTaskStatus(ctx context.Context, id string, status domain.TaskStatus) (int64, error)
	UpdateTaskStatusBulk(ctx context.Context, ids []string, status domain.TaskStatus) (int64, error)
	RecordJobOutcome(ctx context.Context, outcome *domain.JobOutcome) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository wraps a pgxpool with the TaskRepository interface.
func NewRepository(pool *pgxpool.Pool) TaskRepository {
	return &repository{pool: pool}
}

// NewPool creates a pgxpool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

func (r *repository) FindOverdueTasks(ctx context.Context, f domain.OverdueFilter) ([]domain.TaskRef, error) {
	query := `
		SELECT id, status, due_date
		FROM tasks
		WHERE due_date < $1
	`
	args := []any{f.DueBefore}
	if f.Status != nil {
		query += ` AND status = $2`
		args = append(args, string(*f.Status))
	}
	query += ` ORDER BY due_date ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &domain.QueryError{Op: "find overdue tasks", Err: err}
	}
	defer rows.Close()

	var tasks []domain.TaskRef
	for rows.Next() {
		var (
			task      domain.TaskRef
			statusStr string
		)
		if err := rows.Scan(&task.ID, &statusStr, &task.DueDate); err != nil {
			return nil, &domain.QueryError{Op: "scan overdue task", Err: err}
		}
		task.Status = domain.TaskStatus(statusStr)
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.QueryError{Op: "iterate overdue tasks", Err: err}
	}
	return tasks, nil
}

func (r *repository) UpdateTaskStatus(ctx context.Context, id string, status domain.TaskStatus) (int64, error) {
	return r.UpdateTaskStatusBulk(ctx, []string{id}, status)
}

func (r *repository) UpdateTaskStatusBulk(ctx context.Context, ids []string, status domain.TaskStatus) (int64, error) {
	if !status.Valid() {
		return 0, &domain.ValidationError{Msg: "Invalid status value: " + string(status)}
	}
	if len(ids) == 0 {
		return 0, &domain.TaskNotFoundError{TaskIDs: ids}
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE tasks
		SET status = $1, updated_at = $2
		WHERE id = ANY($3)
	`, string(status), time.Now().UTC(), ids)
	if err != nil {
		return 0, &domain.QueryError{Op: "update task status", Err: err}
	}

	affected := tag.RowsAffected()
	if affected == 0 {
		return 0, &domain.TaskNotFoundError{TaskIDs: ids}
	}
	return affected, nil
}

func (r *repository) RecordJobOutcome(ctx context.Context, outcome *domain.JobOutcome) error {
	if outcome.ID == "" {
		outcome.ID = uuid.New().String()
	}
	if outcome.FinishedAt.IsZero() {
		outcome.FinishedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO job_outcomes
			(id, job_id, job_type, worker_id, attempt, state, duration_ms, error, finished_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		outcome.ID, outcome.JobID, outcome.JobType, outcome.WorkerID,
		outcome.Attempt, string(outcome.State), outcome.DurationMs,
		outcome.Error, outcome.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("record outcome for job %s: %w", outcome.JobID, err)
	}
	return nil
}
