// ============================================================================
// Job Registry
// ============================================================================
//
// Package: internal/registry
// File: registry.go
// Purpose: thread-safe directory of running and completed Execution Jobs,
//          keyed by fingerprint
//
// State machine:
//   EnlistRunning(job) ------> running[fp] += job
//                                    |
//                    MoveRunningToComplete(job)
//                                    v
//   running[fp] -= job ------> completed[fp] = job   (first completer wins)
//
// CheckComplete(fp) answers Unknown / Failure / Success from the completed
// map alone; SnapshotExpired(budget) copies every running Job whose
// CheckExpired(budget) holds out from under the lock, so the sweeper can
// call Cancel() on each one without holding it; RemoveCompleted(seq) prunes
// completed entries at or below seq.
//
// Grounded on the teacher's internal/jobmanager.JobManager (one mutex,
// small single-purpose methods, shortest-critical-section discipline),
// generalized from its single jobs-map-plus-indexes design to the
// two-structure running-multimap / completed-map model above.
// ============================================================================
package registry

import (
	"sync"
	"time"

	"github.com/ChuLiYu/ledger-preexec/internal/execjob"
	"github.com/ChuLiYu/ledger-preexec/pkg/types"
)

// CheckResult is CheckComplete's three-way outcome (spec.md §4.4).
type CheckResult int

const (
	// Unknown means no completed Job exists for the fingerprint.
	Unknown CheckResult = -1
	// Failure means a completed Job exists and its exe_result was false.
	Failure CheckResult = 0
	// Success means a completed Job exists and its exe_result was true.
	Success CheckResult = 1
)

// Status summarizes the registry's size (spec.md §4.4 status()).
type Status struct {
	RunningSize   int
	CompletedSize int
}

// Registry holds the running multimap and the completed map under a
// single mutex. Every operation acquires the mutex for the shortest
// interval consistent with its semantics; spawning a worker or cancelling
// a Job is never done while holding it (spec.md §4.4).
type Registry struct {
	mu        sync.Mutex
	running   map[types.Fingerprint][]*execjob.Job
	completed map[types.Fingerprint]*execjob.Job
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		running:   make(map[types.Fingerprint][]*execjob.Job),
		completed: make(map[types.Fingerprint]*execjob.Job),
	}
}

// CheckComplete probes the completed map (spec.md §4.4 check_complete).
func (r *Registry) CheckComplete(fp types.Fingerprint) CheckResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.completed[fp]
	if !ok {
		return Unknown
	}
	if job.ExeResult() {
		return Success
	}
	return Failure
}

// Completed returns the completed Job for fp, if any. Callers that already
// know a fingerprint is cached (via CheckComplete) use this to read the
// Job's closing ledger or timeout index without re-running anything.
func (r *Registry) Completed(fp types.Fingerprint) (*execjob.Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.completed[fp]
	return job, ok
}

// EnlistRunning inserts job into the running multimap under its own
// fingerprint (spec.md §4.4 enlist_running). Duplicates racing on the same
// fingerprint are permitted and expected (spec.md §9 "Multimap of running
// by fingerprint").
func (r *Registry) EnlistRunning(job *execjob.Job) {
	fp := job.Fingerprint()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running[fp] = append(r.running[fp], job)
}

// Discard removes job from the running multimap without moving it to
// completed, used when a worker could not be started for it (spec.md §4.5
// async_pre_process spawn-failure path). It returns as soon as the first
// pointer-identity match is removed; there is at most one, since a given
// *Job value is only ever enlisted once.
func (r *Registry) Discard(job *execjob.Job) {
	fp := job.Fingerprint()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeFromRunningLocked(fp, job)
}

// MoveRunningToComplete implements execjob.CompletionSink: it removes job
// from the running multimap and inserts it into the completed map keyed by
// its fingerprint. If a completed entry for that fingerprint already
// exists, job is the later arriver and is simply dropped — first-completer
// wins (spec.md §4.4).
func (r *Registry) MoveRunningToComplete(job *execjob.Job) {
	fp := job.Fingerprint()
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeFromRunningLocked(fp, job)

	if _, exists := r.completed[fp]; exists {
		return
	}
	r.completed[fp] = job
}

func (r *Registry) removeFromRunningLocked(fp types.Fingerprint, job *execjob.Job) {
	jobs := r.running[fp]
	for i, candidate := range jobs {
		if candidate == job {
			jobs = append(jobs[:i], jobs[i+1:]...)
			break
		}
	}
	if len(jobs) == 0 {
		delete(r.running, fp)
	} else {
		r.running[fp] = jobs
	}
}

// RemoveCompleted prunes every completed Job whose consensus value's
// ledger sequence is <= ledgerSeq (spec.md §4.4 remove_completed, P7).
func (r *Registry) RemoveCompleted(ledgerSeq uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for fp, job := range r.completed {
		if job.ConsensusValue().LedgerSeq <= ledgerSeq {
			delete(r.completed, fp)
		}
	}
}

// SnapshotExpired returns every running Job whose CheckExpired(globalBudget)
// holds. The sweeper must call Cancel() on each entry outside the registry
// lock (spec.md §4.4 snapshot_expired).
func (r *Registry) SnapshotExpired(globalBudget time.Duration) []*execjob.Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []*execjob.Job
	for _, jobs := range r.running {
		for _, job := range jobs {
			if job.CheckExpired(globalBudget) {
				expired = append(expired, job)
			}
		}
	}
	return expired
}

// Status reports the current running/completed sizes (spec.md §4.4
// status()).
func (r *Registry) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	running := 0
	for _, jobs := range r.running {
		running += len(jobs)
	}
	return Status{RunningSize: running, CompletedSize: len(r.completed)}
}
