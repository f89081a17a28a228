package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjoudeh/duewatch/internal/domain"
	"github.com/rjoudeh/duewatch/internal/handlers"
	"github.com/rjoudeh/duewatch/internal/queue"
)

// ── mocks ────────────────────────────────────────────────────────────────────

type queueCall struct {
	op          string // "succeeded" or "failed"
	jobID       string
	shouldRetry bool
	result      []byte
}

type fakeQueue struct {
	calls []queueCall
}

func (q *fakeQueue) Enqueue(_ context.Context, _ string, _ any, _ *queue.Options) (string, error) {
	return "", errors.New("not implemented")
}
func (q *fakeQueue) Dequeue(_ context.Context) (*domain.Job, error) {
	return nil, errors.New("not implemented")
}
func (q *fakeQueue) MarkSucceeded(_ context.Context, jobID string, result []byte) error {
	q.calls = append(q.calls, queueCall{op: "succeeded", jobID: jobID, result: result})
	return nil
}
func (q *fakeQueue) MarkFailed(_ context.Context, jobID string, _ error, shouldRetry bool) error {
	q.calls = append(q.calls, queueCall{op: "failed", jobID: jobID, shouldRetry: shouldRetry})
	return nil
}

var _ queue.JobQueue = (*fakeQueue)(nil)

type fakeAudit struct {
	mu       sync.Mutex
	outcomes []*domain.JobOutcome
}

func (a *fakeAudit) RecordJobOutcome(_ context.Context, o *domain.JobOutcome) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outcomes = append(a.outcomes, o)
	return nil
}

func (a *fakeAudit) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.outcomes)
}

type fakeDLQ struct {
	published []string // job IDs
	reasons   []string
}

func (d *fakeDLQ) PublishDeadLetter(_ context.Context, job *domain.Job, reason string) error {
	d.published = append(d.published, job.ID)
	d.reasons = append(d.reasons, reason)
	return nil
}
func (d *fakeDLQ) Close() error { return nil }

type fakeHandler struct {
	jobType string
	result  *domain.Result
	err     error
	panics  bool
	calls   int
}

func (h *fakeHandler) JobType() string { return h.jobType }
func (h *fakeHandler) Handle(_ context.Context, _ *domain.Job) (*domain.Result, error) {
	h.calls++
	if h.panics {
		panic("handler exploded")
	}
	return h.result, h.err
}

// ── helpers ───────────────────────────────────────────────────────────────────

func newTestWorker(q *fakeQueue, audit *fakeAudit, dlq *fakeDLQ, reg *handlers.Registry) *Worker {
	opts := []Option{
		WithLogger(slog.Default()),
		WithJobTimeout(time.Second),
	}
	if dlq != nil {
		opts = append(opts, WithDeadLetterer(dlq))
	}
	return NewWorker("test-worker", q, reg, audit, opts...)
}

func statusJob(attempts, maxAttempts int) *domain.Job {
	return &domain.Job{
		ID:          "job-1",
		Type:        domain.JobTypeStatusUpdate,
		Payload:     []byte(`{"taskId":"t-1","status":"COMPLETED"}`),
		State:       domain.JobActive,
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
	}
}

// ── tests ─────────────────────────────────────────────────────────────────────

func TestWorker_SuccessPath_MarksSucceeded(t *testing.T) {
	q := &fakeQueue{}
	audit := &fakeAudit{}
	dlq := &fakeDLQ{}

	reg := handlers.NewRegistry()
	reg.Register(&fakeHandler{
		jobType: domain.JobTypeStatusUpdate,
		result:  &domain.Result{Success: true, Processed: 1},
	})

	w := newTestWorker(q, audit, dlq, reg)
	w.processJob(context.Background(), statusJob(1, 3))

	require.Len(t, q.calls, 1)
	assert.Equal(t, "succeeded", q.calls[0].op)
	assert.Equal(t, "job-1", q.calls[0].jobID)
	assert.NotEmpty(t, q.calls[0].result, "handler result must be persisted")
	assert.Empty(t, dlq.published, "no dead letter on success")
	require.Len(t, audit.outcomes, 1)
	assert.Equal(t, domain.JobCompleted, audit.outcomes[0].State)
	assert.Equal(t, "test-worker", audit.outcomes[0].WorkerID)
}

func TestWorker_SettledFailure_StillMarksSucceeded(t *testing.T) {
	q := &fakeQueue{}
	audit := &fakeAudit{}
	dlq := &fakeDLQ{}

	// The handler settled the failure itself (e.g. invalid payload), so the
	// queue must not burn a retry on it.
	reg := handlers.NewRegistry()
	reg.Register(&fakeHandler{
		jobType: domain.JobTypeStatusUpdate,
		result:  &domain.Result{Success: false, Error: "Invalid status value: BOGUS"},
	})

	w := newTestWorker(q, audit, dlq, reg)
	w.processJob(context.Background(), statusJob(1, 3))

	require.Len(t, q.calls, 1)
	assert.Equal(t, "succeeded", q.calls[0].op)
	assert.Empty(t, dlq.published)
}

func TestWorker_HandlerError_BudgetLeft_SchedulesRetry(t *testing.T) {
	q := &fakeQueue{}
	audit := &fakeAudit{}
	dlq := &fakeDLQ{}

	reg := handlers.NewRegistry()
	reg.Register(&fakeHandler{
		jobType: domain.JobTypeStatusUpdate,
		err:     errors.New("database unavailable"),
	})

	w := newTestWorker(q, audit, dlq, reg)
	w.processJob(context.Background(), statusJob(1, 3))

	require.Len(t, q.calls, 1)
	assert.Equal(t, "failed", q.calls[0].op)
	assert.True(t, q.calls[0].shouldRetry, "attempts below budget must retry")
	assert.Empty(t, dlq.published, "retryable failures never dead-letter")
	require.Len(t, audit.outcomes, 1)
	assert.Equal(t, domain.JobRetryScheduled, audit.outcomes[0].State)
}

func TestWorker_HandlerError_BudgetExhausted_Terminal(t *testing.T) {
	q := &fakeQueue{}
	audit := &fakeAudit{}
	dlq := &fakeDLQ{}

	reg := handlers.NewRegistry()
	reg.Register(&fakeHandler{
		jobType: domain.JobTypeStatusUpdate,
		err:     errors.New("database unavailable"),
	})

	w := newTestWorker(q, audit, dlq, reg)
	w.processJob(context.Background(), statusJob(3, 3)) // final attempt

	require.Len(t, q.calls, 1)
	assert.Equal(t, "failed", q.calls[0].op)
	assert.False(t, q.calls[0].shouldRetry, "exhausted budget must be terminal")
	assert.Equal(t, []string{"job-1"}, dlq.published)
	require.Len(t, audit.outcomes, 1)
	assert.Equal(t, domain.JobFailedPermanent, audit.outcomes[0].State)
	assert.Equal(t, "database unavailable", audit.outcomes[0].Error)
}

func TestWorker_UnknownJobType_TerminalOnFirstAttempt(t *testing.T) {
	q := &fakeQueue{}
	audit := &fakeAudit{}
	dlq := &fakeDLQ{}

	// Registry has no handler registered at all.
	w := newTestWorker(q, audit, dlq, handlers.NewRegistry())
	job := statusJob(1, 3)
	job.Type = "sms"
	w.processJob(context.Background(), job)

	require.Len(t, q.calls, 1)
	assert.Equal(t, "failed", q.calls[0].op)
	assert.False(t, q.calls[0].shouldRetry, "retrying cannot fix an unknown type")
	assert.Equal(t, []string{"job-1"}, dlq.published)
	require.Len(t, audit.outcomes, 1)
	assert.Equal(t, domain.JobFailedPermanent, audit.outcomes[0].State)
}

func TestWorker_HandlerPanic_TreatedAsFailure(t *testing.T) {
	q := &fakeQueue{}
	audit := &fakeAudit{}

	reg := handlers.NewRegistry()
	reg.Register(&fakeHandler{jobType: domain.JobTypeStatusUpdate, panics: true})

	w := newTestWorker(q, audit, nil, reg)
	w.processJob(context.Background(), statusJob(1, 3))

	require.Len(t, q.calls, 1)
	assert.Equal(t, "failed", q.calls[0].op)
	assert.True(t, q.calls[0].shouldRetry)
	require.Len(t, audit.outcomes, 1)
	assert.Contains(t, audit.outcomes[0].Error, "handler panic")
}

func TestWorker_NilDLQ_TerminalFailureStillRecorded(t *testing.T) {
	q := &fakeQueue{}
	audit := &fakeAudit{}

	reg := handlers.NewRegistry()
	reg.Register(&fakeHandler{jobType: domain.JobTypeStatusUpdate, err: errors.New("boom")})

	w := newTestWorker(q, audit, nil, reg)
	w.processJob(context.Background(), statusJob(3, 3))

	require.Len(t, q.calls, 1)
	assert.False(t, q.calls[0].shouldRetry)
	require.Len(t, audit.outcomes, 1)
	assert.Equal(t, domain.JobFailedPermanent, audit.outcomes[0].State)
}

func TestWorker_Decide(t *testing.T) {
	w := &Worker{}
	err := errors.New("x")

	assert.Equal(t, DecisionComplete, w.decide(statusJob(1, 3), nil))
	assert.Equal(t, DecisionRetry, w.decide(statusJob(1, 3), err))
	assert.Equal(t, DecisionRetry, w.decide(statusJob(2, 3), err))
	assert.Equal(t, DecisionTerminal, w.decide(statusJob(3, 3), err))
}

func TestWorker_RunDrainsOnCancel(t *testing.T) {
	mem := queue.NewMemory(queue.WithMaxAttempts(3))
	defer mem.Close()

	_, err := mem.Enqueue(context.Background(), domain.JobTypeStatusUpdate,
		map[string]string{"taskId": "t-1", "status": "COMPLETED"}, nil)
	require.NoError(t, err)

	done := make(chan struct{})
	reg := handlers.NewRegistry()
	reg.Register(&fakeHandler{
		jobType: domain.JobTypeStatusUpdate,
		result:  &domain.Result{Success: true},
	})

	audit := &fakeAudit{}
	w := NewWorker("test-worker", mem, reg, audit,
		WithWorkers(2),
		WithJobTimeout(time.Second),
	)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return audit.count() == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker pool did not stop after cancel")
	}
}
