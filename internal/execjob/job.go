// Package execjob implements the Execution Job: one speculative run of a
// consensus value, or one contract test/query, against the collaborator
// interfaces internal/collaborators declares (spec.md §4.2).
//
// Grounded structurally on original_source's LedgerContext class
// (ledgercontext_manager.cpp) for the operation contract, and on the
// teacher's internal/jobmanager.Job for the Go idiom of a mutex-guarded
// struct with small accessor methods rather than exported fields.
package execjob

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ChuLiYu/ledger-preexec/internal/collaborators"
	"github.com/ChuLiYu/ledger-preexec/internal/contractstack"
	"github.com/ChuLiYu/ledger-preexec/internal/metrics"
	"github.com/ChuLiYu/ledger-preexec/internal/synthetic"
	"github.com/ChuLiYu/ledger-preexec/pkg/types"
	"github.com/google/uuid"
)

// LogEntry is one accumulated push_log call.
type LogEntry struct {
	Address string
	Lines   []string
}

// CompletionSink receives a Job once its worker returns, so it can migrate
// from a running set to a completed one. internal/registry implements
// this; declared here (rather than imported from there) to keep the
// dependency direction registry -> execjob, not the reverse.
type CompletionSink interface {
	MoveRunningToComplete(job *Job)
}

// Deps bundles the external collaborators a Job needs. Every Job of every
// kind is constructed with the same Deps; a kind that does not use one of
// them (e.g. a ContractQuery Job never calls Applier.Apply) simply never
// invokes it.
type Deps struct {
	Applier     collaborators.TransactionApplier
	Interpreter collaborators.ContractInterpreter
	Accounts    collaborators.AccountStore
	KeyGen      collaborators.KeyGenerator
	Clock       collaborators.Clock
	LedgerView  collaborators.LedgerStateView

	// Metrics is optional; a nil Metrics leaves every Record* call a no-op,
	// so tests that build Deps by hand never need to set it.
	Metrics *metrics.Collector
}

// Job is one speculative execution: a real consensus-value apply, or a
// synthetic contract test/query (spec.md §3 "Job").
type Job struct {
	RunID uuid.UUID

	kind           types.JobKind
	fingerprint    types.Fingerprint
	consensusValue types.ConsensusValue
	testParam      types.ContractTestParameter
	txTimeout      time.Duration
	sync           bool
	callback       func(ok bool)
	sink           CompletionSink

	deps Deps

	contractIDs   *contractstack.Stack
	closingLedger ClosingLedger

	mu              sync.Mutex
	startTime       time.Time
	timeoutTxIndex  int
	exeResult       bool
	result          types.Result
	logs            []LogEntry
	returns         []any
	transactionRefs []types.Transaction

	started         atomic.Bool
	cancelRequested atomic.Bool
	cancelFn        context.CancelFunc
	done            chan struct{}
}

func newJob(deps Deps) *Job {
	return &Job{
		RunID:          uuid.New(),
		deps:           deps,
		contractIDs:    contractstack.New(),
		timeoutTxIndex: -1,
		done:           make(chan struct{}),
	}
}

// NewApplyJob builds a Job that applies cv to the ledger (spec.md §4.2
// do_apply). callback is invoked exactly once on completion if async
// (sync == false); it must be nil for sync Jobs, matching sync_process's
// "no callback is fired" rule.
func NewApplyJob(fingerprint types.Fingerprint, cv types.ConsensusValue, txTimeout time.Duration, sync bool, callback func(ok bool), sink CompletionSink, deps Deps) *Job {
	j := newJob(deps)
	j.kind = types.ApplyReal
	j.testParam.ContractType = types.NoContractType
	j.fingerprint = fingerprint
	j.consensusValue = cv
	j.txTimeout = txTimeout
	j.sync = sync
	j.callback = callback
	j.sink = sink
	return j
}

// NewTestJob builds a ContractTest or ContractQuery Job (spec.md §4.2
// do_test), discriminated by param.ExeOrQuery.
func NewTestJob(contractType types.ContractType, param types.ContractTestParameter, deps Deps) *Job {
	j := newJob(deps)
	param.ContractType = contractType
	if param.ExeOrQuery {
		j.kind = types.ContractTest
	} else {
		j.kind = types.ContractQuery
	}
	j.testParam = param
	j.sync = true
	return j
}

// Kind reports what shape of execution this Job runs.
func (j *Job) Kind() types.JobKind { return j.kind }

// Fingerprint returns the Job's cached content-address. Zero for
// ContractTest/ContractQuery Jobs, which are never keyed in the registry
// (spec.md §3: "fingerprint: set iff kind = ApplyReal").
func (j *Job) Fingerprint() types.Fingerprint { return j.fingerprint }

// ConsensusValue returns a copy of the Job's (possibly synthetic-adjusted)
// consensus value.
func (j *Job) ConsensusValue() types.ConsensusValue {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.consensusValue.Clone()
}

// ClosingLedger returns the Job's closing ledger builder. Callers must
// only read from it once the Job is terminal (spec.md §3).
func (j *Job) ClosingLedger() *ClosingLedger { return &j.closingLedger }

// ExeResult returns the Job's terminal boolean outcome. Valid only once
// IsRunning() is false.
func (j *Job) ExeResult() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.exeResult
}

// Result returns the structured terminal outcome for a test/query Job.
func (j *Job) Result() types.Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// TimeoutTxIndex returns the index of the first transaction that exceeded
// tx_timeout, or -1.
func (j *Job) TimeoutTxIndex() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.timeoutTxIndex
}

// Logs returns a copy of every accumulated log entry, in append order.
func (j *Job) Logs() []LogEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]LogEntry(nil), j.logs...)
}

// Returns returns a copy of every accumulated return value, in append
// order.
func (j *Job) Returns() []any {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]any(nil), j.returns...)
}

// MarkStarted records that the Job has been handed to a worker, before the
// worker necessarily reaches Run. The orchestrator calls this immediately
// after a successful pool submission, matching the original's semantics
// where Start() returning true means the thread is already schedulable.
func (j *Job) MarkStarted() { j.started.Store(true) }

// IsRunning reports whether the Job has been started and has not yet
// returned from Run.
func (j *Job) IsRunning() bool {
	if !j.started.Load() {
		return false
	}
	select {
	case <-j.done:
		return false
	default:
		return true
	}
}

// CheckExpired reports whether the Job has been running at least budget
// (spec.md §4.2 check_expired). It returns false before the Job has
// recorded a start time.
func (j *Job) CheckExpired(budget time.Duration) bool {
	j.mu.Lock()
	start := j.startTime
	j.mu.Unlock()
	if start.IsZero() {
		return false
	}
	return j.deps.Clock.Now().Sub(start) >= budget
}

// Run drives the Job to completion: it dispatches on kind, and returns
// once the applier/interpreter returns or Cancel has been honored
// (spec.md §4.2 run()). It implements internal/worker.Runnable.
func (j *Job) Run(outerCtx context.Context) error {
	ctx, cancel := context.WithCancel(outerCtx)
	j.mu.Lock()
	j.startTime = j.deps.Clock.Now()
	j.cancelFn = cancel
	j.mu.Unlock()

	if j.cancelRequested.Load() {
		cancel()
	}
	defer close(j.done)

	if j.kind == types.ApplyReal {
		return j.doApply(ctx)
	}
	return j.doTest(ctx)
}

// Cancel is idempotent: it snapshots the contract-id stack under lock,
// signals the interpreter for each id in LIFO order, cancels the Job's own
// context (unblocking an applier waiting on ctx outside a contract call),
// and waits for Run to return (spec.md §4.2 cancel()).
func (j *Job) Cancel() {
	j.cancelRequested.Store(true)

	ids := j.contractIDs.Snapshot()
	for _, id := range ids {
		j.deps.Interpreter.Cancel(id)
	}

	j.mu.Lock()
	cancel := j.cancelFn
	j.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	<-j.done
}

// PushLog implements types.ContractHost.
func (j *Job) PushLog(address string, lines []string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.logs = append(j.logs, LogEntry{Address: address, Lines: append([]string(nil), lines...)})
}

// PushReturn implements types.ContractHost. The address parameter is kept
// for interface compatibility with spec.md's push_return(address, ret) but
// ignored; returns accumulate as a plain append-only list (spec.md §9 Open
// Question (b)).
func (j *Job) PushReturn(address string, value any) {
	_ = address
	j.mu.Lock()
	defer j.mu.Unlock()
	j.returns = append(j.returns, value)
}

// PushContractID implements types.ContractHost.
func (j *Job) PushContractID(id int64) { j.contractIDs.Push(id) }

// PopContractID implements types.ContractHost.
func (j *Job) PopContractID() { j.contractIDs.Pop() }

// TopContractID implements types.ContractHost.
func (j *Job) TopContractID() int64 { return j.contractIDs.Top() }

// doApply is spec.md §4.2's do_apply(): initialize the closing ledger
// header, delegate to the applier, record the outcome, fire the async
// callback, hand the Job to its registry sink, and report completion
// latency to Metrics.
func (j *Job) doApply(ctx context.Context) error {
	lcl := j.deps.LedgerView.LastClosedLedger()

	j.closingLedger.SetHeader(types.LedgerHeader{
		Seq:                j.consensusValue.LedgerSeq,
		CloseTime:          j.consensusValue.CloseTime,
		PreviousHash:       j.consensusValue.PreviousLedgerHash,
		ConsensusValueHash: j.fingerprint,
		Version:            lcl.Version,
	})

	ok, timeoutTxIndex := j.deps.Applier.Apply(ctx, &j.consensusValue, j, j.txTimeout)

	j.mu.Lock()
	j.exeResult = ok
	j.timeoutTxIndex = timeoutTxIndex
	startTime := j.startTime
	j.mu.Unlock()

	if !j.sync && j.callback != nil {
		j.callback(ok)
	}
	if j.sink != nil {
		j.sink.MoveRunningToComplete(j)
	}
	if j.deps.Metrics != nil {
		j.deps.Metrics.RecordCompleted(j.deps.Clock.Now().Sub(startTime).Seconds())
	}
	return nil
}

// doTest is spec.md §4.2's do_test(): materialize a synthetic environment
// for any account absent from the real store, reseat the consensus value's
// sequence and close time, then branch on exe_or_query.
func (j *Job) doTest(ctx context.Context) error {
	env := synthetic.NewEnvironment()

	j.mu.Lock()
	param := j.testParam
	j.mu.Unlock()

	if param.ContractAddress == "" {
		addr, err := j.deps.KeyGen.NewAddress()
		if err != nil {
			j.failSynthesis()
			return fmt.Errorf("derive synthetic contract address: %w", err)
		}
		account := types.Account{
			Address:  addr,
			Contract: &types.ContractPayload{Code: param.Code, Type: param.ContractType},
		}
		if !env.AddEntry(addr, account) {
			j.failSynthesis()
			return fmt.Errorf("install synthetic contract account %s", addr)
		}
		param.ContractAddress = addr
	}

	if _, ok := j.deps.Accounts.AccountFromDB(param.SourceAddress); !ok {
		if !synthetic.IsValidAddress(param.SourceAddress) {
			addr, err := j.deps.KeyGen.NewAddress()
			if err != nil {
				j.failSynthesis()
				return fmt.Errorf("derive synthetic source address: %w", err)
			}
			param.SourceAddress = addr
		}
		if !env.AddEntry(param.SourceAddress, types.Account{Address: param.SourceAddress}) {
			j.failSynthesis()
			return fmt.Errorf("install synthetic source account %s", param.SourceAddress)
		}
	}

	lcl := j.deps.LedgerView.LastClosedLedger()
	j.mu.Lock()
	j.consensusValue.LedgerSeq = lcl.Seq + 1
	j.consensusValue.CloseTime = lcl.CloseTime + 1
	j.testParam = param
	cv := j.consensusValue
	j.mu.Unlock()

	j.closingLedger.SetHeader(types.LedgerHeader{
		Seq:       cv.LedgerSeq,
		CloseTime: cv.CloseTime,
		Version:   lcl.Version,
	})

	if param.ExeOrQuery {
		return j.doTestExecute(ctx, param, env, cv)
	}
	return j.doTestQuery(ctx, param, cv)
}

func (j *Job) failSynthesis() {
	j.mu.Lock()
	j.exeResult = false
	j.result = types.Result{Code: types.ErrCodeSynthesisFailed, Desc: "synthetic account install failed"}
	j.mu.Unlock()

	if j.deps.Metrics != nil {
		j.deps.Metrics.RecordSynthesisFailure()
	}
}

func (j *Job) doTestExecute(ctx context.Context, param types.ContractTestParameter, env *synthetic.Environment, cv types.ConsensusValue) error {
	tx := types.Transaction{
		SourceAddress: param.SourceAddress,
		Operations: []types.Operation{{
			Type:    types.OperationPayment,
			Payment: &types.PaymentOperation{DestAddress: param.ContractAddress, Input: param.Input},
		}},
	}

	j.mu.Lock()
	j.transactionRefs = append(j.transactionRefs, tx)
	j.mu.Unlock()

	ok, instructions := j.deps.Applier.DoTransaction(ctx, tx, env, j)

	j.mu.Lock()
	if n := len(j.transactionRefs); n > 0 {
		j.transactionRefs = j.transactionRefs[:n-1]
	}
	j.mu.Unlock()

	applied := types.AppliedTransaction{Env: tx, Instructions: instructions}
	if ok {
		applied.ErrorCode = types.ErrCodeOK
	} else {
		applied.ErrorCode = types.ErrCodeApplyFailed
		applied.ErrorDesc = "apply failed"
	}
	j.closingLedger.AppendApplied(applied)

	j.mu.Lock()
	j.exeResult = ok
	if ok {
		j.result = types.Result{Code: types.ErrCodeOK}
	} else {
		j.result = types.Result{Code: types.ErrCodeApplyFailed, Desc: "apply failed"}
	}
	j.mu.Unlock()
	return nil
}

func (j *Job) doTestQuery(ctx context.Context, param types.ContractTestParameter, cv types.ConsensusValue) error {
	cvJSON, err := json.Marshal(cv)
	if err != nil {
		j.failSynthesis()
		return fmt.Errorf("marshal consensus value: %w", err)
	}

	contractParam := types.ContractParameter{
		Code:           param.Code,
		Sender:         param.SourceAddress,
		ThisAddress:    param.ContractAddress,
		Input:          param.Input,
		OperationIndex: 0,
		TriggerTx:      "{}",
		ConsensusValue: string(cvJSON),
		Host:           j,
	}

	result, ok := j.deps.Interpreter.Query(ctx, param.ContractType, contractParam)

	j.mu.Lock()
	j.exeResult = ok
	j.result = result
	j.mu.Unlock()
	return nil
}
