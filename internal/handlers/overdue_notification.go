package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rjoudeh/duewatch/internal/domain"
	"github.com/rjoudeh/duewatch/internal/queue"
)

// TaskFinder is the slice of the collaborator contract this handler needs.
type TaskFinder interface {
	FindOverdueTasks(ctx context.Context, f domain.OverdueFilter) ([]domain.TaskRef, error)
}

// Enqueuer submits child jobs produced by the fan-out.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload any, opts *queue.Options) (string, error)
}

// OverdueNotificationHandler fans one overdue-notification job out into
// chunked status-update child jobs, one per overdue task.
//
// The job payload is informational only: the handler re-queries the full
// overdue set fresh so that tasks resolved since enqueue time are skipped.
// A chunk is not all-or-nothing; the contract is an accurate tally, and a
// failed chunk never stops the ones after it.
type OverdueNotificationHandler struct {
	finder    TaskFinder
	enqueuer  Enqueuer
	chunkSize int
	logger    *slog.Logger
}

// OverdueNotificationOption configures an OverdueNotificationHandler.
type OverdueNotificationOption func(*OverdueNotificationHandler)

func WithChunkSize(n int) OverdueNotificationOption {
	return func(h *OverdueNotificationHandler) { h.chunkSize = n }
}

func WithNotificationLogger(l *slog.Logger) OverdueNotificationOption {
	return func(h *OverdueNotificationHandler) { h.logger = l }
}

// NewOverdueNotificationHandler creates the handler for
// overdue-notification jobs.
func NewOverdueNotificationHandler(finder TaskFinder, enqueuer Enqueuer, opts ...OverdueNotificationOption) *OverdueNotificationHandler {
	h := &OverdueNotificationHandler{
		finder:    finder,
		enqueuer:  enqueuer,
		chunkSize: DefaultChunkSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *OverdueNotificationHandler) JobType() string { return domain.JobTypeOverdueNotification }

func (h *OverdueNotificationHandler) Handle(ctx context.Context, job *domain.Job) (*domain.Result, error) {
	ctx, span := otel.Tracer("handlers").Start(ctx, "handler.overdue_notification")
	defer span.End()

	pending := domain.TaskPending
	tasks, err := h.finder.FindOverdueTasks(ctx, domain.OverdueFilter{
		DueBefore: time.Now().UTC(),
		Status:    &pending,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "overdue query failed")
		// Propagate so the dispatcher's retry policy decides whether to
		// run the whole notification job again.
		return nil, fmt.Errorf("query overdue tasks: %w", err)
	}
	if len(tasks) == 0 {
		return &domain.Result{Success: true, Processed: 0, Message: "no overdue tasks"}, nil
	}

	span.SetAttributes(attribute.Int("overdue.count", len(tasks)))
	log := h.logger.With(slog.String("job_id", job.ID))

	var processed, failed int
	chunks := Chunk(tasks, h.chunkSize)
	for i, chunk := range chunks {
		var chunkFailed int
		for _, task := range chunk {
			// TODO: the child job re-asserts the task's current status
			// instead of carrying a target one; confirm a transition is
			// not intended before changing this.
			_, err := h.enqueuer.Enqueue(ctx, domain.JobTypeStatusUpdate, StatusUpdatePayload{
				TaskID: task.ID,
				Status: string(task.Status),
			}, nil)
			if err != nil {
				chunkFailed++
				log.Error("failed to enqueue status update",
					slog.String("task_id", task.ID),
					slog.Int("chunk", i+1),
					slog.String("error", err.Error()),
				)
				continue
			}
			processed++
		}
		failed += chunkFailed
		log.Info("fan-out chunk processed",
			slog.Int("chunk", i+1),
			slog.Int("chunks", len(chunks)),
			slog.Int("size", len(chunk)),
			slog.Int("failed", chunkFailed),
		)
	}

	return &domain.Result{
		Success:   true,
		Processed: processed,
		Failed:    failed,
		Message: fmt.Sprintf("enqueued %d status updates in %d chunks (%d failed)",
			processed, len(chunks), failed),
	}, nil
}

var _ Handler = (*OverdueNotificationHandler)(nil)
