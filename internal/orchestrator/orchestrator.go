// Package orchestrator implements the four entry points spec.md §4.5
// describes (SyncProcess, AsyncPreProcess, SyncPreProcess, SyncTestProcess),
// composing the Fingerprinter, Job Registry, Execution Job and Worker Pool.
//
// Grounded on the original source's LedgerContextManager (SyncProcess,
// AsyncPreProcess, SyncPreProcess, SyncTestProcess in
// ledgercontext_manager.cpp) for exact control flow — including the
// original's "only a cached success short-circuits; a cached failure is
// replayed" quirk (CheckComplete's `> 0` guard only matches 1, never 0) —
// and on the teacher's internal/controller.Controller for the surrounding
// Go idiom: a struct wrapping its collaborators, a Config value, Start/Stop,
// log/slog.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ChuLiYu/ledger-preexec/internal/execjob"
	"github.com/ChuLiYu/ledger-preexec/internal/fingerprint"
	"github.com/ChuLiYu/ledger-preexec/internal/registry"
	"github.com/ChuLiYu/ledger-preexec/internal/worker"
	"github.com/ChuLiYu/ledger-preexec/pkg/types"
)

// recordCacheHit, recordEnlisted, and recordCancelledOnTimeout are no-ops
// when the Orchestrator was built with a nil Deps.Metrics, so callers that
// never wire a collector (most unit tests) don't need to care.
func (o *Orchestrator) recordCacheHit() {
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordCacheHit()
	}
}

func (o *Orchestrator) recordEnlisted() {
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordEnlisted()
	}
}

func (o *Orchestrator) recordCancelledOnTimeout() {
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordCancelled()
		o.deps.Metrics.RecordTimeout()
	}
}

// preProcessTxTimeout is the fixed per-transaction timeout the source
// hard-codes for AsyncPreProcess/SyncPreProcess jobs (utils::MICRO_UNITS_PER_SEC,
// i.e. 1s — spec.md §4.5).
const preProcessTxTimeout = time.Second

// defaultPollInterval matches spec.md §4.5's 10ms busy-poll cadence for the
// two sync entry points.
const defaultPollInterval = 10 * time.Millisecond

// Config tunes the orchestrator's worker pool and polling cadence.
type Config struct {
	WorkerCount  int
	TaskBuffer   int
	PollInterval time.Duration
}

// DefaultConfig sizes the pool at 64 workers (SPEC_FULL.md §5 OQ-1) and
// polls every 10ms.
func DefaultConfig() Config {
	return Config{WorkerCount: 64, TaskBuffer: 64, PollInterval: defaultPollInterval}
}

// Orchestrator composes the registry, worker pool and Job collaborators
// into the four public entry points callers use.
type Orchestrator struct {
	registry *registry.Registry
	pool     *worker.Pool
	deps     execjob.Deps
	config   Config
	log      *slog.Logger
}

// New returns an Orchestrator bound to reg and deps, with its own worker
// pool sized per config. Call Start before submitting any async/sync-pre
// work.
func New(deps execjob.Deps, reg *registry.Registry, config Config) *Orchestrator {
	if config.PollInterval <= 0 {
		config.PollInterval = defaultPollInterval
	}
	return &Orchestrator{
		registry: reg,
		pool:     worker.NewPool(config.TaskBuffer),
		deps:     deps,
		config:   config,
		log:      slog.Default().With("component", "orchestrator"),
	}
}

// Start launches the underlying worker pool.
func (o *Orchestrator) Start() error {
	return o.pool.Start(o.config.WorkerCount)
}

// Stop drains and stops the underlying worker pool. Jobs already enlisted
// in the registry are unaffected; stopping the pool only refuses new work.
func (o *Orchestrator) Stop() {
	o.pool.Stop()
}

// SyncProcess runs cv to completion, returning its closing ledger
// (spec.md §4.5 sync_process). A cached completed Job, success or failure,
// is returned directly without re-running. Otherwise the Job runs inline
// on the calling goroutine — no worker is spawned, and the Job is never
// enlisted in the registry. Used on the commit path.
func (o *Orchestrator) SyncProcess(ctx context.Context, cv types.ConsensusValue) (*execjob.ClosingLedger, error) {
	fp, err := fingerprint.Of(cv)
	if err != nil {
		return nil, fmt.Errorf("fingerprint consensus value: %w", err)
	}

	if o.registry.CheckComplete(fp) != registry.Unknown {
		if job, ok := o.registry.Completed(fp); ok {
			o.recordCacheHit()
			return job.ClosingLedger(), nil
		}
	}

	job := execjob.NewApplyJob(fp, cv, preProcessTxTimeout, true, nil, nil, o.deps)
	job.MarkStarted()
	if err := job.Run(ctx); err != nil {
		return nil, err
	}
	return job.ClosingLedger(), nil
}

// AsyncPreProcess speculatively executes cv off the calling goroutine
// (spec.md §4.5 async_pre_process). Returns 1 if a cached success already
// exists for fingerprint(cv) (callback is NOT invoked in that case — the
// caller already knows); 0 if a worker could not be started; −1 once the
// Job has been enlisted and handed to a worker. A cached failure is NOT
// short-circuited here: it is replayed, matching the original's
// CheckComplete `> 0` guard, which only matches a cached success.
func (o *Orchestrator) AsyncPreProcess(cv types.ConsensusValue, timeout time.Duration, callback func(ok bool)) (int, error) {
	fp, err := fingerprint.Of(cv)
	if err != nil {
		return 0, fmt.Errorf("fingerprint consensus value: %w", err)
	}

	if o.registry.CheckComplete(fp) == registry.Success {
		o.recordCacheHit()
		return 1, nil
	}

	job := execjob.NewApplyJob(fp, cv, preProcessTxTimeout, false, callback, o.registry, o.deps)
	o.registry.EnlistRunning(job)
	o.recordEnlisted()

	task := worker.Task{Fingerprint: fp, RunID: job.RunID.String(), Job: job}
	if err := o.pool.Submit(task); err != nil {
		o.log.Error("start process-value worker failed", "fingerprint", fp.String(), "error", err)
		o.registry.Discard(job)
		return 0, nil
	}
	job.MarkStarted()

	return -1, nil
}

// SyncPreProcess speculatively executes cv and blocks the calling goroutine
// until it terminates or total_timeout elapses (spec.md §4.5
// sync_pre_process). Returns (true, −1) on a cached success or on normal
// completion; returns (false, timeout_tx_index) if the Job was cancelled
// for exceeding total_timeout.
func (o *Orchestrator) SyncPreProcess(cv types.ConsensusValue, totalTimeout time.Duration) (bool, int, error) {
	fp, err := fingerprint.Of(cv)
	if err != nil {
		return false, -1, fmt.Errorf("fingerprint consensus value: %w", err)
	}

	if o.registry.CheckComplete(fp) == registry.Success {
		o.recordCacheHit()
		return true, -1, nil
	}

	job := execjob.NewApplyJob(fp, cv, preProcessTxTimeout, false, func(bool) {}, o.registry, o.deps)
	o.registry.EnlistRunning(job)
	o.recordEnlisted()

	task := worker.Task{Fingerprint: fp, RunID: job.RunID.String(), Job: job}
	if err := o.pool.Submit(task); err != nil {
		o.registry.Discard(job)
		return false, -1, nil
	}
	job.MarkStarted()

	if !o.pollUntilDone(job, totalTimeout) {
		job.Cancel()
		o.recordCancelledOnTimeout()
		return false, job.TimeoutTxIndex(), nil
	}
	return true, -1, nil
}

// SyncTestProcess runs a ContractTest/ContractQuery Job (never cached,
// never enlisted in the registry) and blocks until it terminates or
// totalTimeout elapses (spec.md §4.5 sync_test_process). On expiry it
// cancels the Job and returns ERRCODE_TX_TIMEOUT. On completion it
// flattens every applied transaction's nested instructions into txs,
// stamping each with the closing ledger's sequence and close time.
func (o *Orchestrator) SyncTestProcess(contractType types.ContractType, param types.ContractTestParameter, totalTimeout time.Duration) (types.Result, []execjob.LogEntry, []types.TxInstruction, []any) {
	job := execjob.NewTestJob(contractType, param, o.deps)
	job.MarkStarted()

	runDone := make(chan struct{})
	go func() {
		job.Run(context.Background())
		close(runDone)
	}()

	if !o.waitFor(runDone, totalTimeout) {
		job.Cancel()
		o.recordCancelledOnTimeout()
		o.log.Warn("test contract timeout", "timeout", totalTimeout)
		return types.Result{Code: types.ErrCodeTxTimeout, Desc: "Execute contract timeout"}, nil, nil, nil
	}

	header := job.ClosingLedger().Header()
	var txs []types.TxInstruction
	for _, applied := range job.ClosingLedger().AppliedTransactions() {
		for _, instr := range applied.Instructions {
			instr.LedgerSeq = header.Seq
			instr.CloseTime = header.CloseTime
			txs = append(txs, instr)
		}
	}

	return job.Result(), job.Logs(), txs, job.Returns()
}

// pollUntilDone busy-polls job.IsRunning at Config.PollInterval until it
// returns false or totalTimeout elapses, returning false on expiry
// (spec.md §5 "the Orchestrator's caller thread may block via busy-poll
// with 10ms sleeps").
func (o *Orchestrator) pollUntilDone(job *execjob.Job, totalTimeout time.Duration) bool {
	deadline := time.Now().Add(totalTimeout)
	ticker := time.NewTicker(o.config.PollInterval)
	defer ticker.Stop()

	for job.IsRunning() {
		if time.Now().After(deadline) {
			return false
		}
		<-ticker.C
	}
	return true
}

// waitFor blocks on done or totalTimeout elapsing, whichever comes first.
func (o *Orchestrator) waitFor(done <-chan struct{}, totalTimeout time.Duration) bool {
	select {
	case <-done:
		return true
	case <-time.After(totalTimeout):
		return false
	}
}
