package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rjoudeh/duewatch/internal/domain"
	"github.com/rjoudeh/duewatch/internal/handlers"
	"github.com/rjoudeh/duewatch/internal/queue"
	redisqueue "github.com/rjoudeh/duewatch/internal/redis"
	"github.com/rjoudeh/duewatch/pkg/telemetry"
)

const defaultCheckInterval = 15 * time.Second

// TaskFinder is the slice of the repository contract the scanner needs.
type TaskFinder interface {
	FindOverdueTasks(ctx context.Context, f domain.OverdueFilter) ([]domain.TaskRef, error)
}

// Enqueuer submits one notification job per overdue task.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload any, opts *queue.Options) (string, error)
}

// Scanner periodically sweeps for overdue tasks and enqueues an
// overdue-notification job for each one. With an Elector configured, only
// the current leader scans, so multiple instances can run for availability
// without duplicating jobs.
type Scanner struct {
	finder        TaskFinder
	enqueuer      Enqueuer
	elector       *redisqueue.Elector // nil means single instance, always leader
	schedule      cron.Schedule
	checkInterval time.Duration
	logger        *slog.Logger

	nextRun time.Time
}

// Option configures a Scanner.
type Option func(*Scanner)

func WithElector(e *redisqueue.Elector) Option {
	return func(s *Scanner) { s.elector = e }
}

func WithCheckInterval(d time.Duration) Option {
	return func(s *Scanner) { s.checkInterval = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) { s.logger = l }
}

// NewScanner constructs a Scanner that fires on the given cron schedule.
func NewScanner(finder TaskFinder, enqueuer Enqueuer, schedule cron.Schedule, opts ...Option) *Scanner {
	s := &Scanner{
		finder:        finder,
		enqueuer:      enqueuer,
		schedule:      schedule,
		checkInterval: defaultCheckInterval,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run is the main polling loop. Blocks until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	// Check once immediately before waiting for the first tick.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			if s.elector != nil {
				s.elector.Resign(context.Background())
			}
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scanner) tick(ctx context.Context) {
	if s.elector != nil && !s.elector.AcquireOrRenew(ctx) {
		return
	}
	now := time.Now()
	if now.Before(s.nextRun) {
		return
	}
	s.nextRun = s.schedule.Next(now)

	summary := s.Scan(ctx)
	if summary.Success {
		s.logger.Info("scan cycle finished",
			slog.String("message", summary.Message),
			slog.Int("found", len(summary.Data)),
			slog.Int("enqueued", summary.SuccessCount),
			slog.Int("failed", summary.FailCount),
			slog.Time("next_run", s.nextRun),
		)
	} else {
		s.logger.Error("scan cycle failed",
			slog.String("message", summary.Message),
			slog.Time("next_run", s.nextRun),
		)
	}
}

// Scan runs one sweep and reports what happened. A panic anywhere inside
// the cycle is converted into a failed summary so the loop survives it.
func (s *Scanner) Scan(ctx context.Context) (summary domain.CycleSummary) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scan cycle panicked", slog.Any("panic", r))
			summary = domain.CycleSummary{
				Success: false,
				Message: fmt.Sprintf("scan cycle panicked: %v", r),
			}
			telemetry.ScannerCyclesTotal.WithLabelValues("panic").Inc()
		}
	}()

	pending := domain.TaskPending
	tasks, err := s.finder.FindOverdueTasks(ctx, domain.OverdueFilter{
		DueBefore: time.Now().UTC(),
		Status:    &pending,
	})
	if err != nil {
		telemetry.ScannerCyclesTotal.WithLabelValues("failure").Inc()
		return domain.CycleSummary{
			Success: false,
			Message: "overdue query failed: " + err.Error(),
		}
	}
	if len(tasks) == 0 {
		telemetry.ScannerCyclesTotal.WithLabelValues("success").Inc()
		return domain.CycleSummary{
			Success: true,
			Message: "No overdue tasks found",
			Data:    []domain.TaskRef{},
		}
	}

	telemetry.ScannerOverdueFound.Add(float64(len(tasks)))

	// Enqueue concurrently and settle every outcome; one failed enqueue
	// must not short-circuit the rest of the sweep.
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		failed    int
	)
	for _, task := range tasks {
		wg.Add(1)
		go func(task domain.TaskRef) {
			defer wg.Done()
			_, err := s.enqueuer.Enqueue(ctx, domain.JobTypeOverdueNotification,
				handlers.OverdueNotificationPayload{TaskID: task.ID}, nil)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				s.logger.Error("failed to enqueue notification",
					slog.String("task_id", task.ID),
					slog.String("error", err.Error()),
				)
				return
			}
			succeeded++
		}(task)
	}
	wg.Wait()

	telemetry.ScannerEnqueueFailures.Add(float64(failed))
	telemetry.ScannerCyclesTotal.WithLabelValues("success").Inc()

	return domain.CycleSummary{
		Success:      true,
		Message:      fmt.Sprintf("Enqueued notifications for %d of %d overdue tasks", succeeded, len(tasks)),
		Data:         tasks,
		SuccessCount: succeeded,
		FailCount:    failed,
	}
}
