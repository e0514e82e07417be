package execjob

import (
	"context"
	"testing"
	"time"

	"github.com/ChuLiYu/ledger-preexec/internal/collaborators"
	"github.com/ChuLiYu/ledger-preexec/internal/collaborators/fakes"
	"github.com/ChuLiYu/ledger-preexec/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDeps(applier *fakes.Applier, interpreter collaborators.ContractInterpreter) Deps {
	return Deps{
		Applier:     applier,
		Interpreter: interpreter,
		Accounts:    fakes.NewAccountStore(),
		KeyGen:      &fakes.KeyGenerator{},
		Clock:       collaborators.SystemClock{},
		LedgerView:  fakes.LedgerStateView{Last: types.LastClosedLedger{Seq: 9, CloseTime: 100, Version: 3}},
	}
}

func sampleConsensusValue() types.ConsensusValue {
	return types.ConsensusValue{
		LedgerSeq: 10,
		CloseTime: 1000,
		Transactions: []types.Transaction{
			{SourceAddress: "a"},
			{SourceAddress: "b"},
			{SourceAddress: "c"},
		},
	}
}

// P5: stack discipline under success.
func TestJob_DoApply_NormalCompletion(t *testing.T) {
	applier := &fakes.Applier{}
	job := NewApplyJob(types.Fingerprint{1}, sampleConsensusValue(), time.Second, true, nil, nil, testDeps(applier, &fakes.NestedContractInterpreter{}))

	job.MarkStarted()
	err := job.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, job.ExeResult())
	assert.Equal(t, -1, job.TimeoutTxIndex())
	assert.False(t, job.IsRunning())
	assert.Equal(t, 3, len(job.Logs()))
	assert.Equal(t, 3, len(job.Returns()))
	assert.Equal(t, 0, job.contractIDs.Len())
}

func TestJob_DoApply_VersionInheritedFromLastClosed(t *testing.T) {
	applier := &fakes.Applier{}
	job := NewApplyJob(types.Fingerprint{2}, sampleConsensusValue(), time.Second, true, nil, nil, testDeps(applier, &fakes.NestedContractInterpreter{}))
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, int32(3), job.ClosingLedger().Header().Version)
}

func TestJob_DoApply_AsyncCallbackFiresOnce(t *testing.T) {
	applier := &fakes.Applier{}
	calls := 0
	sink := &fakeSink{}
	job := NewApplyJob(types.Fingerprint{3}, sampleConsensusValue(), time.Second, false, func(ok bool) { calls++ }, sink, testDeps(applier, &fakes.NestedContractInterpreter{}))

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, sink.calls)
}

// S2: timeout with partial progress.
func TestJob_Cancel_DuringSlowTransaction(t *testing.T) {
	applier := &fakes.Applier{SlowTxIndex: 1, SlowDelay: 3 * time.Second}
	job := NewApplyJob(types.Fingerprint{4}, sampleConsensusValue(), time.Second, true, nil, nil, testDeps(applier, &fakes.NestedContractInterpreter{}))

	job.MarkStarted()
	runDone := make(chan struct{})
	go func() {
		job.Run(context.Background())
		close(runDone)
	}()

	time.Sleep(20 * time.Millisecond)
	job.Cancel()

	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Cancel")
	}

	assert.False(t, job.IsRunning())
	assert.True(t, applier.WasCancelled())
	assert.Equal(t, 1, job.TimeoutTxIndex())
}

// P6: idempotent cancellation.
func TestJob_Cancel_Idempotent(t *testing.T) {
	applier := &fakes.Applier{SlowTxIndex: 0, SlowDelay: time.Second}
	job := NewApplyJob(types.Fingerprint{5}, sampleConsensusValue(), 5*time.Second, true, nil, nil, testDeps(applier, &fakes.NestedContractInterpreter{}))

	job.MarkStarted()
	go job.Run(context.Background())
	time.Sleep(10 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		job.Cancel()
		job.Cancel()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("double Cancel did not return")
	}
}

// S4: synthetic account for empty contract address.
func TestJob_DoTest_SynthesizesContractAccountWhenAddressEmpty(t *testing.T) {
	applier := &fakes.Applier{}
	param := types.ContractTestParameter{
		ContractAddress: "",
		SourceAddress:   "already-valid-source-account-addr-000",
		Code:            []byte("wasm-bytes"),
		Input:           []byte("payload"),
		ExeOrQuery:      true,
	}
	accounts := fakes.NewAccountStore()
	accounts.Put(types.Account{Address: param.SourceAddress})

	deps := testDeps(applier, &fakes.NestedContractInterpreter{})
	deps.Accounts = accounts

	job := NewTestJob(7, param, deps)
	require.NoError(t, job.Run(context.Background()))

	assert.True(t, job.ExeResult())
	assert.NotEmpty(t, job.testParam.ContractAddress)
	applied := job.ClosingLedger().AppliedTransactions()
	require.Len(t, applied, 1)
	assert.Equal(t, param.SourceAddress, applied[0].Env.SourceAddress)
}

// S3: nested cancellation order.
func TestJob_DoTestQuery_NestedCancelOrder(t *testing.T) {
	interpreter := &fakes.NestedContractInterpreter{InvocationIDs: []int64{7, 8, 9}, BlockFor: 5 * time.Second}
	applier := &fakes.Applier{}
	param := types.ContractTestParameter{
		ContractAddress: "contract-addr",
		SourceAddress:   "source-addr",
		Code:            []byte("wasm"),
		ExeOrQuery:      false,
	}
	accounts := fakes.NewAccountStore()
	accounts.Put(types.Account{Address: param.SourceAddress})

	deps := testDeps(applier, interpreter)
	deps.Accounts = accounts

	job := NewTestJob(3, param, deps)
	job.MarkStarted()

	runDone := make(chan struct{})
	go func() {
		job.Run(context.Background())
		close(runDone)
	}()

	time.Sleep(30 * time.Millisecond)
	job.Cancel()

	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatal("nested query did not unblock after Cancel")
	}

	assert.Equal(t, []int64{9, 8, 7}, interpreter.CancelOrder())
	assert.Equal(t, 0, job.contractIDs.Len())
}

func TestJob_CheckExpired(t *testing.T) {
	applier := &fakes.Applier{}
	job := NewApplyJob(types.Fingerprint{6}, sampleConsensusValue(), time.Second, true, nil, nil, testDeps(applier, &fakes.NestedContractInterpreter{}))

	assert.False(t, job.CheckExpired(time.Millisecond))

	job.mu.Lock()
	job.startTime = time.Now().Add(-time.Hour)
	job.mu.Unlock()

	assert.True(t, job.CheckExpired(time.Second))
}

type fakeSink struct {
	calls int
}

func (s *fakeSink) MoveRunningToComplete(job *Job) { s.calls++ }
