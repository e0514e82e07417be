// ============================================================================
// Worker Pool
// ============================================================================
//
// Package: internal/worker
// Files: worker.go, worker_pool.go, types.go
// Purpose: bounded pool of goroutines that run Execution Jobs
//
// How it works: each Worker is a long-lived goroutine running
//   for task := range taskCh { result := task.Job.Run(ctx); resultCh <- result }
// (under a context.WithTimeout when the Task carries a Timeout), instead of
// one goroutine per submitted Job (see SPEC_FULL.md §5 OQ-1). Pool owns taskCh/resultCh and a
// sync.WaitGroup-tracked stopCh for graceful shutdown: Stop closes taskCh,
// waits for every Worker to drain it, then closes resultCh.
//
// The orchestrator never reads resultCh: a Job reports its own completion
// through its CompletionSink (the registry) or its callback, so
// Worker.Run's send to resultCh is a non-blocking best-effort report,
// never a synchronization point.
// ============================================================================
package worker

import (
	"context"
	"time"
)

// Worker receives Tasks from taskCh and reports Results on resultCh. It
// knows nothing about Fingerprints, Jobs, or the Registry; it only knows
// how to run a Runnable under a deadline.
type Worker struct {
	id       int
	taskCh   <-chan Task
	resultCh chan<- Result
}

func newWorker(id int, taskCh <-chan Task, resultCh chan<- Result) *Worker {
	return &Worker{id: id, taskCh: taskCh, resultCh: resultCh}
}

// Run is the Worker's main loop. It exits when taskCh is closed.
func (w *Worker) Run() {
	for task := range w.taskCh {
		start := time.Now()

		ctx := context.Background()
		var cancel context.CancelFunc
		if task.Timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, task.Timeout)
		}

		err := task.Job.Run(ctx)
		if cancel != nil {
			cancel()
		}

		result := Result{
			Fingerprint: task.Fingerprint,
			RunID:       task.RunID,
			Success:     err == nil,
			Error:       err,
			Duration:    time.Since(start),
		}

		select {
		case w.resultCh <- result:
		default:
			// resultCh full (Pool.Stop closes it only after every Worker
			// has returned, so it is never closed here); a Job's own terminal state (the
			// Registry entry it populated before returning) is the
			// authoritative record, so a dropped Result here is not fatal.
		}
	}
}
