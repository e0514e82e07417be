package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/ChuLiYu/ledger-preexec/internal/collaborators"
	"github.com/ChuLiYu/ledger-preexec/internal/collaborators/fakes"
	"github.com/ChuLiYu/ledger-preexec/internal/execjob"
	"github.com/ChuLiYu/ledger-preexec/internal/registry"
	"github.com/ChuLiYu/ledger-preexec/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func slowDeps(applier *fakes.Applier) execjob.Deps {
	return execjob.Deps{
		Applier:     applier,
		Interpreter: &fakes.NestedContractInterpreter{},
		Accounts:    fakes.NewAccountStore(),
		KeyGen:      &fakes.KeyGenerator{},
		Clock:       collaborators.SystemClock{},
		LedgerView:  fakes.LedgerStateView{},
	}
}

func TestSweeper_CancelsExpiredRunningJob(t *testing.T) {
	reg := registry.New()
	applier := &fakes.Applier{SlowTxIndex: 0, SlowDelay: 2 * time.Second}
	cv := types.ConsensusValue{Transactions: []types.Transaction{{}}}
	job := execjob.NewApplyJob(types.Fingerprint{1}, cv, time.Second, true, nil, reg, slowDeps(applier))

	reg.EnlistRunning(job)
	job.MarkStarted()

	runDone := make(chan struct{})
	go func() {
		job.Run(context.Background())
		close(runDone)
	}()
	time.Sleep(5 * time.Millisecond)

	s := New(reg, Config{Cadence: 5 * time.Millisecond, GlobalBudget: 20 * time.Millisecond})
	s.Start()
	defer s.Stop()

	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not cancel expired job")
	}

	assert.True(t, applier.WasCancelled())
	assert.Equal(t, 0, reg.Status().RunningSize)
	require.Equal(t, registry.Failure, reg.CheckComplete(types.Fingerprint{1}))
}

func TestSweeper_LeavesFreshJobRunning(t *testing.T) {
	reg := registry.New()
	applier := &fakes.Applier{SlowTxIndex: 0, SlowDelay: 2 * time.Second}
	cv := types.ConsensusValue{Transactions: []types.Transaction{{}}}
	job := execjob.NewApplyJob(types.Fingerprint{2}, cv, time.Second, true, nil, reg, slowDeps(applier))

	reg.EnlistRunning(job)
	job.MarkStarted()
	go job.Run(context.Background())

	s := New(reg, Config{Cadence: 5 * time.Millisecond, GlobalBudget: time.Hour})
	s.Start()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, reg.Status().RunningSize)
	assert.False(t, applier.WasCancelled())

	s.Stop()
	job.Cancel()
}

func TestSweeper_StopIsIdempotent(t *testing.T) {
	reg := registry.New()
	s := New(reg, DefaultConfig())
	s.Start()
	s.Stop()
	s.Stop()
}
