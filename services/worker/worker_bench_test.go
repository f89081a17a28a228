package worker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/rjoudeh/duewatch/internal/domain"
	"github.com/rjoudeh/duewatch/internal/handlers"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// BenchmarkWorker_ProcessJob measures the overhead of processJob with a
// no-op handler — i.e., the dispatch engine itself, excluding real I/O.
func BenchmarkWorker_ProcessJob(b *testing.B) {
	reg := handlers.NewRegistry()
	reg.Register(&fakeHandler{
		jobType: domain.JobTypeStatusUpdate,
		result:  &domain.Result{Success: true},
	})

	w := NewWorker("bench-worker", &fakeQueue{}, reg, nil,
		WithLogger(discardLogger),
		WithJobTimeout(time.Second),
	)

	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w.processJob(ctx, statusJob(1, 3))
	}
}

// BenchmarkWorker_ProcessJob_Parallel measures throughput under concurrent load.
func BenchmarkWorker_ProcessJob_Parallel(b *testing.B) {
	reg := handlers.NewRegistry()
	reg.Register(&fakeHandler{
		jobType: domain.JobTypeStatusUpdate,
		result:  &domain.Result{Success: true},
	})

	b.RunParallel(func(pb *testing.PB) {
		w := NewWorker("bench-worker", &fakeQueue{}, reg, nil,
			WithLogger(discardLogger),
			WithJobTimeout(time.Second),
		)
		ctx := context.Background()

		for pb.Next() {
			w.processJob(ctx, statusJob(1, 3))
		}
	})
}
