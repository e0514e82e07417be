// Package sweeper implements the Expiry Sweeper: a periodic task that
// cancels running Jobs exceeding the global wall-clock budget (spec.md §4.4
// snapshot_expired, §5 "The expiry sweeper runs on a shared timer thread at
// a fixed cadence and must not block").
//
// Grounded on the teacher's internal/controller.Controller.timeoutLoop for
// the ticker-plus-stopCh shape, and on the original source's
// LedgerContextManager::OnTimer for the snapshot-then-cancel-outside-lock
// discipline: OnTimer collects every context whose CheckExpire(5s) holds
// into a slice while under ctxs_lock, releases the lock, then calls
// Cancel() on each collected context.
package sweeper

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/ledger-preexec/internal/execjob"
	"github.com/ChuLiYu/ledger-preexec/internal/metrics"
	"github.com/ChuLiYu/ledger-preexec/internal/registry"
)

// Config tunes the sweeper's cadence and the global per-Job wall-clock
// budget (spec.md §6 "the two tunables exposed are the sweeper cadence
// ... and the global job budget"). Metrics is optional; a nil Metrics
// leaves cancellation/timeout counters unrecorded.
type Config struct {
	Cadence      time.Duration
	GlobalBudget time.Duration
	Metrics      *metrics.Collector
}

// DefaultConfig matches spec.md §6's defaults: 10ms cadence, 5s budget.
func DefaultConfig() Config {
	return Config{Cadence: 10 * time.Millisecond, GlobalBudget: 5 * time.Second}
}

// Sweeper periodically asks a Registry for its expired running Jobs and
// cancels each one outside the registry's lock. registry.Registry.
// SnapshotExpired already does the copy-under-lock half; Sweeper supplies
// the timer loop and the outside-lock Cancel() calls.
type Sweeper struct {
	registry *registry.Registry
	config   Config
	log      *slog.Logger

	mu      sync.Mutex
	stopped bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New returns a Sweeper bound to reg, not yet started.
func New(reg *registry.Registry, config Config) *Sweeper {
	return &Sweeper{
		registry: reg,
		config:   config,
		log:      slog.Default().With("component", "sweeper"),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the sweeper's timer loop in a background goroutine. It is
// safe to call Stop at any point afterward, even before the first tick.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.loop()
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Cadence)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep runs one pass: snapshot the expired running Jobs, then cancel each
// one with the registry lock already released. Cancel() blocks until the
// Job's worker goroutine has actually returned, so a slow cancellation
// delays only this pass, never the registry itself.
func (s *Sweeper) sweep() {
	expired := s.registry.SnapshotExpired(s.config.GlobalBudget)
	for _, job := range expired {
		s.cancelOne(job)
	}
}

func (s *Sweeper) cancelOne(job *execjob.Job) {
	fp := job.Fingerprint()
	idx := job.TimeoutTxIndex()
	s.log.Warn("cancelling expired job", "fingerprint", fp.String(), "timeout_tx_index", idx)
	job.Cancel()

	if s.config.Metrics != nil {
		s.config.Metrics.RecordCancelled()
		s.config.Metrics.RecordTimeout()
	}
}

// Stop halts the timer loop and waits for the in-flight sweep, if any, to
// finish. It does not cancel any Job itself; Jobs still running when Stop
// is called remain running until the next sweeper instance (if any) or the
// orchestrator's own sync-poll path cancels them.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
}
