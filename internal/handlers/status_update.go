package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rjoudeh/duewatch/internal/domain"
	"github.com/rjoudeh/duewatch/pkg/retry"
)

const defaultLocalAttempts = 3

// TaskUpdater is the slice of the collaborator contract this handler needs.
type TaskUpdater interface {
	UpdateTaskStatus(ctx context.Context, id string, status domain.TaskStatus) (int64, error)
}

// StatusUpdateHandler applies a task status transition with a local retry
// loop.
//
// Local retries run back-to-back with no delay: the external update is
// assumed fast and idempotent, and this budget is separate from the
// dispatcher's. Validation failures are reported as settled results so
// they never consume a dispatch attempt.
type StatusUpdateHandler struct {
	updater  TaskUpdater
	attempts int
	logger   *slog.Logger
}

// StatusUpdateOption configures a StatusUpdateHandler.
type StatusUpdateOption func(*StatusUpdateHandler)

func WithLocalAttempts(n int) StatusUpdateOption {
	return func(h *StatusUpdateHandler) { h.attempts = n }
}

func WithStatusUpdateLogger(l *slog.Logger) StatusUpdateOption {
	return func(h *StatusUpdateHandler) { h.logger = l }
}

// NewStatusUpdateHandler creates the handler for status-update jobs.
func NewStatusUpdateHandler(updater TaskUpdater, opts ...StatusUpdateOption) *StatusUpdateHandler {
	h := &StatusUpdateHandler{
		updater:  updater,
		attempts: defaultLocalAttempts,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *StatusUpdateHandler) JobType() string { return domain.JobTypeStatusUpdate }

func (h *StatusUpdateHandler) Handle(ctx context.Context, job *domain.Job) (*domain.Result, error) {
	ctx, span := otel.Tracer("handlers").Start(ctx, "handler.status_update")
	defer span.End()

	var p StatusUpdatePayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		span.SetStatus(codes.Error, "invalid payload")
		return &domain.Result{Success: false, Error: "invalid status-update payload: " + err.Error()}, nil
	}
	if p.TaskID == "" {
		span.SetStatus(codes.Error, "missing taskId")
		return &domain.Result{Success: false, Error: "missing required field 'taskId'"}, nil
	}
	if p.Status == "" {
		span.SetStatus(codes.Error, "missing status")
		return &domain.Result{Success: false, Error: "missing required field 'status'"}, nil
	}
	status, err := domain.ParseTaskStatus(p.Status)
	if err != nil {
		span.SetStatus(codes.Error, "invalid status")
		return &domain.Result{Success: false, Error: err.Error()}, nil
	}

	span.SetAttributes(
		attribute.String("task.id", p.TaskID),
		attribute.String("task.status", string(status)),
	)
	log := h.logger.With(
		slog.String("job_id", job.ID),
		slog.String("task_id", p.TaskID),
		slog.String("status", string(status)),
	)

	updateErr := retry.Do(ctx, retry.Config{
		MaxAttempts: h.attempts,
		OnRetry: func(attempt int, err error) {
			log.Warn("status update attempt failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		},
	}, func() error {
		_, err := h.updater.UpdateTaskStatus(ctx, p.TaskID, status)
		return err
	})
	if updateErr != nil {
		span.RecordError(updateErr)
		span.SetStatus(codes.Error, "update exhausted local retries")
		log.Error("status update failed after all local attempts",
			slog.Int("attempts", h.attempts),
			slog.String("error", updateErr.Error()),
		)
		return &domain.Result{
			Success: false,
			Error:   fmt.Sprintf("status update failed after %d attempts", h.attempts),
			Detail:  updateErr.Error(),
		}, nil
	}

	return &domain.Result{Success: true, Processed: 1}, nil
}

var _ Handler = (*StatusUpdateHandler)(nil)
