package worker

import (
	"context"
	"time"

	"github.com/ChuLiYu/ledger-preexec/pkg/types"
)

// Runnable is anything a Worker can drive to completion. internal/execjob's
// Job implements this so the pool never needs to import execjob, or know
// what kind of Job it is running.
type Runnable interface {
	Run(ctx context.Context) error
}

// Task is one unit of work submitted to the Pool. Fingerprint and RunID are
// carried through to Result purely for correlation; the pool does not
// interpret them.
type Task struct {
	Fingerprint types.Fingerprint
	RunID       string
	Job         Runnable
	Timeout     time.Duration
}

// Result is what a Worker reports back after running a Task's Job to
// completion, to timeout, or to cancellation.
type Result struct {
	Fingerprint types.Fingerprint
	RunID       string
	Success     bool
	Error       error
	Duration    time.Duration
}
