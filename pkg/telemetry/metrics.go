package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── Scanner ─────────────────────────────────────────────────────────────────

	ScannerCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "duewatch",
		Subsystem: "scanner",
		Name:      "cycles_total",
		Help:      "Total scan cycles, labelled by result.",
	}, []string{"result"})

	ScannerOverdueFound = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "duewatch",
		Subsystem: "scanner",
		Name:      "overdue_tasks_found_total",
		Help:      "Total overdue tasks found across all scan cycles.",
	})

	ScannerEnqueueFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "duewatch",
		Subsystem: "scanner",
		Name:      "enqueue_failures_total",
		Help:      "Total job enqueues that failed during scan cycles.",
	})

	// ─── Worker ──────────────────────────────────────────────────────────────────

	WorkerJobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "duewatch",
		Subsystem: "worker",
		Name:      "jobs_processed_total",
		Help:      "Total jobs processed, labelled by job_type and outcome.",
	}, []string{"job_type", "outcome"})

	WorkerJobsInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "duewatch",
		Subsystem: "worker",
		Name:      "jobs_inflight",
		Help:      "Jobs currently being executed.",
	}, []string{"job_type"})

	WorkerJobDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "duewatch",
		Subsystem: "worker",
		Name:      "job_duration_seconds",
		Help:      "End-to-end job execution time in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"job_type"})

	WorkerRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "duewatch",
		Subsystem: "worker",
		Name:      "retries_total",
		Help:      "Total jobs scheduled for a queue-level retry.",
	}, []string{"job_type"})

	WorkerDLQTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "duewatch",
		Subsystem: "worker",
		Name:      "dlq_total",
		Help:      "Total jobs forwarded to the dead-letter topic.",
	}, []string{"job_type"})
)
