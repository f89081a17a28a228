package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/rjoudeh/duewatch/internal/domain"
	"github.com/rjoudeh/duewatch/internal/handlers"
	"github.com/rjoudeh/duewatch/internal/kafka"
	"github.com/rjoudeh/duewatch/internal/queue"
	"github.com/rjoudeh/duewatch/pkg/telemetry"
)

// Decision is what the worker does with a job after its handler returns.
type Decision int

const (
	// DecisionComplete settles the job; a handler-reported failure with no
	// error is still complete from the queue's point of view.
	DecisionComplete Decision = iota
	// DecisionRetry schedules the job for queue-level redelivery.
	DecisionRetry
	// DecisionTerminal marks the job permanently failed and dead-letters it.
	DecisionTerminal
)

// OutcomeRecorder persists a per-attempt audit row.
type OutcomeRecorder interface {
	RecordJobOutcome(ctx context.Context, outcome *domain.JobOutcome) error
}

// Worker pulls jobs off the queue and routes them to registered handlers.
// Retry policy lives here, not in the handlers: a handler error asks for
// a retry, and the worker grants it only while budget remains.
type Worker struct {
	queue    queue.JobQueue
	registry *handlers.Registry
	audit    OutcomeRecorder
	dlq      kafka.DeadLetterer // nil disables dead-lettering
	workerID string
	workers  int
	timeout  time.Duration
	limiter  *rate.Limiter
	logger   *slog.Logger

	wg       sync.WaitGroup
	inFlight atomic.Int64
}

// Option configures a Worker.
type Option func(*Worker)

func WithWorkers(n int) Option                  { return func(w *Worker) { w.workers = n } }
func WithJobTimeout(d time.Duration) Option     { return func(w *Worker) { w.timeout = d } }
func WithLogger(l *slog.Logger) Option          { return func(w *Worker) { w.logger = l } }
func WithDeadLetterer(d kafka.DeadLetterer) Option { return func(w *Worker) { w.dlq = d } }
func WithRateLimit(perSecond float64, burst int) Option {
	return func(w *Worker) { w.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// NewWorker constructs a Worker with the given dependencies and options.
func NewWorker(
	workerID string,
	q queue.JobQueue,
	registry *handlers.Registry,
	audit OutcomeRecorder,
	opts ...Option,
) *Worker {
	w := &Worker{
		queue:    q,
		registry: registry,
		audit:    audit,
		workerID: workerID,
		workers:  4,
		timeout:  30 * time.Second,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run starts the worker pool. Blocks until ctx is cancelled and every
// in-flight job has finished.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker pool starting",
		slog.String("worker_id", w.workerID),
		slog.Int("workers", w.workers),
	)
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go func(slot int) {
			defer w.wg.Done()
			w.loop(ctx, slot)
		}(i)
	}
	w.wg.Wait()
	return ctx.Err()
}

func (w *Worker) loop(ctx context.Context, slot int) {
	for {
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return
			}
		}
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			w.logger.Error("dequeue failed",
				slog.Int("slot", slot),
				slog.String("error", err.Error()),
			)
			continue
		}
		w.processJob(ctx, job)
	}
}

func (w *Worker) processJob(ctx context.Context, job *domain.Job) {
	ctx, span := otel.Tracer("worker").Start(ctx, "worker.process_job")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.type", job.Type),
		attribute.Int("job.attempt", job.Attempts),
		attribute.String("worker.id", w.workerID),
	)

	log := w.logger.With(
		slog.String("job_id", job.ID),
		slog.String("job_type", job.Type),
		slog.Int("attempt", job.Attempts),
		slog.Int("max_attempts", job.MaxAttempts),
		slog.String("worker_id", w.workerID),
	)

	h, err := w.registry.Get(job.Type)
	if err != nil {
		// Retrying cannot fix an unknown type; fail it on the first attempt.
		log.Error("no handler for job type", slog.String("error", err.Error()))
		span.RecordError(err)
		span.SetStatus(codes.Error, "no handler registered")
		if markErr := w.queue.MarkFailed(ctx, job.ID, err, false); markErr != nil {
			log.Error("failed to mark job failed", slog.String("error", markErr.Error()))
		}
		w.deadLetter(ctx, job, err.Error(), log)
		w.recordOutcome(ctx, job, domain.JobFailedPermanent, 0, err.Error(), log)
		telemetry.WorkerJobsProcessed.WithLabelValues(job.Type, "unknown_type").Inc()
		return
	}

	w.inFlight.Add(1)
	telemetry.WorkerJobsInFlight.WithLabelValues(job.Type).Inc()
	defer func() {
		telemetry.WorkerJobsInFlight.WithLabelValues(job.Type).Dec()
		w.inFlight.Add(-1)
	}()

	start := time.Now()
	result, handleErr := w.execute(ctx, span, h, job)
	durationSec := time.Since(start).Seconds()
	durationMs := int64(durationSec * 1000)
	telemetry.WorkerJobDurationSeconds.WithLabelValues(job.Type).Observe(durationSec)

	switch w.decide(job, handleErr) {
	case DecisionComplete:
		var resultJSON []byte
		if result != nil {
			resultJSON, _ = json.Marshal(result)
		}
		if markErr := w.queue.MarkSucceeded(ctx, job.ID, resultJSON); markErr != nil {
			log.Error("failed to mark job succeeded", slog.String("error", markErr.Error()))
		}
		outcome := "completed"
		if result != nil && !result.Success {
			// Handler settled a failure itself (validation, local-retry
			// exhaustion); the queue's retry budget is untouched.
			outcome = "settled_failure"
			log.Warn("job settled as failure",
				slog.String("error", result.Error),
				slog.Int64("duration_ms", durationMs),
			)
		} else {
			log.Info("job completed",
				slog.Int64("duration_ms", durationMs),
			)
		}
		w.recordOutcome(ctx, job, domain.JobCompleted, durationMs, "", log)
		telemetry.WorkerJobsProcessed.WithLabelValues(job.Type, outcome).Inc()

	case DecisionRetry:
		log.Warn("job attempt failed, scheduling retry",
			slog.String("error", handleErr.Error()),
			slog.Int64("duration_ms", durationMs),
		)
		span.RecordError(handleErr)
		if markErr := w.queue.MarkFailed(ctx, job.ID, handleErr, true); markErr != nil {
			log.Error("failed to schedule retry", slog.String("error", markErr.Error()))
		}
		w.recordOutcome(ctx, job, domain.JobRetryScheduled, durationMs, handleErr.Error(), log)
		telemetry.WorkerRetriesTotal.WithLabelValues(job.Type).Inc()
		telemetry.WorkerJobsProcessed.WithLabelValues(job.Type, "retry_scheduled").Inc()

	case DecisionTerminal:
		log.Error("job failed permanently",
			slog.String("error", handleErr.Error()),
			slog.Int64("duration_ms", durationMs),
		)
		span.RecordError(handleErr)
		span.SetStatus(codes.Error, "job exhausted all attempts")
		if markErr := w.queue.MarkFailed(ctx, job.ID, handleErr, false); markErr != nil {
			log.Error("failed to mark job failed", slog.String("error", markErr.Error()))
		}
		w.deadLetter(ctx, job, handleErr.Error(), log)
		w.recordOutcome(ctx, job, domain.JobFailedPermanent, durationMs, handleErr.Error(), log)
		telemetry.WorkerJobsProcessed.WithLabelValues(job.Type, "failed_permanent").Inc()
	}
}

// execute runs the handler under the per-job timeout, converting panics
// into ordinary errors so one bad payload cannot take the pool down.
func (w *Worker) execute(ctx context.Context, span trace.Span, h handlers.Handler, job *domain.Job) (result *domain.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	// Attach the span to a fresh context so the job timeout is independent
	// of pool shutdown, but handler child spans are still parented here.
	execCtx, cancel := context.WithTimeout(
		trace.ContextWithSpan(context.Background(), span),
		w.timeout,
	)
	defer cancel()
	return h.Handle(execCtx, job)
}

// decide maps a handler outcome to a queue transition. The dequeue already
// consumed this attempt, so budget remains only if more attempts are left.
func (w *Worker) decide(job *domain.Job, handleErr error) Decision {
	if handleErr == nil {
		return DecisionComplete
	}
	if job.AttemptsRemaining() {
		return DecisionRetry
	}
	return DecisionTerminal
}

func (w *Worker) deadLetter(ctx context.Context, job *domain.Job, reason string, log *slog.Logger) {
	if w.dlq == nil {
		return
	}
	if err := w.dlq.PublishDeadLetter(ctx, job, reason); err != nil {
		log.Error("failed to publish dead letter", slog.String("error", err.Error()))
		return
	}
	telemetry.WorkerDLQTotal.WithLabelValues(job.Type).Inc()
}

func (w *Worker) recordOutcome(ctx context.Context, job *domain.Job, state domain.JobState, durationMs int64, errMsg string, log *slog.Logger) {
	if w.audit == nil {
		return
	}
	outcome := &domain.JobOutcome{
		JobID:      job.ID,
		JobType:    job.Type,
		WorkerID:   w.workerID,
		Attempt:    job.Attempts,
		State:      state,
		DurationMs: durationMs,
		Error:      errMsg,
		FinishedAt: time.Now().UTC(),
	}
	if err := w.audit.RecordJobOutcome(ctx, outcome); err != nil {
		log.Error("failed to record job outcome", slog.String("error", err.Error()))
	}
}
