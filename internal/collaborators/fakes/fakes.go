// Package fakes provides in-memory test doubles for the collaborator
// interfaces in internal/collaborators, used by this module's own tests
// and usable by an embedder's integration tests.
//
// Grounded on the teacher's internal/worker/worker_test.go, which drives
// its Worker with a simulated task body (configurable delay / failure)
// rather than a real backend; these fakes follow the same shape for the
// Applier/ContractInterpreter contracts instead.
package fakes

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ChuLiYu/ledger-preexec/internal/collaborators"
	"github.com/ChuLiYu/ledger-preexec/pkg/types"
)

// Applier is a scriptable fake of collaborators.Applier.
//
// SlowDelay, if set, simulates a transaction taking that long to apply:
// the transaction at index SlowTxIndex waits SlowDelay, every other one
// waits zero, letting tests exercise the per-transaction timeout path
// (spec.md S2).
type Applier struct {
	SlowTxIndex int
	SlowDelay   time.Duration
	Fail        bool

	mu        sync.Mutex
	cancelled bool
}

// Apply walks cv.Transactions, honoring ctx cancellation and the
// configured slow-transaction delay, and reports the first transaction
// that exceeded txTimeout.
func (a *Applier) Apply(ctx context.Context, cv *types.ConsensusValue, host collaborators.ContractHost, txTimeout time.Duration) (bool, int) {
	if a.Fail {
		return false, -1
	}

	for i := range cv.Transactions {
		delay := time.Duration(0)
		if i == a.SlowTxIndex {
			delay = a.SlowDelay
		}

		host.PushContractID(int64(1000 + i))
		select {
		case <-ctx.Done():
			a.mu.Lock()
			a.cancelled = true
			a.mu.Unlock()
			host.PopContractID()
			return false, i
		case <-time.After(delay):
		}
		host.PushLog(cv.Transactions[i].SourceAddress, []string{"applied"})
		host.PushReturn(cv.Transactions[i].SourceAddress, true)
		host.PopContractID()

		if delay >= txTimeout {
			return false, i
		}
	}
	return true, -1
}

// WasCancelled reports whether Apply observed ctx.Done() before finishing.
func (a *Applier) WasCancelled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cancelled
}

// DoTransaction implements collaborators.TransactionApplier for the
// synthetic Execute path: it pushes one contract id, logs, and returns.
func (a *Applier) DoTransaction(ctx context.Context, tx types.Transaction, env collaborators.Environment, host collaborators.ContractHost) (bool, []types.TxInstruction) {
	if a.Fail {
		return false, nil
	}
	host.PushContractID(1)
	host.PushLog(tx.SourceAddress, []string{"synthetic-exec"})
	host.PopContractID()
	return true, []types.TxInstruction{{ContractAddress: tx.SourceAddress}}
}

// NestedContractInterpreter simulates a contract that recursively invokes
// sub-contracts (pushing a sequence of invocation ids) and then blocks
// until cancelled, recording the order Cancel was called in (spec.md S3).
type NestedContractInterpreter struct {
	InvocationIDs []int64
	BlockFor      time.Duration

	mu         sync.Mutex
	cancelLog  []int64
	cancelled  map[int64]chan struct{}
	onceInit   sync.Once
}

func (n *NestedContractInterpreter) init() {
	n.onceInit.Do(func() {
		n.cancelled = make(map[int64]chan struct{})
		for _, id := range n.InvocationIDs {
			n.cancelled[id] = make(chan struct{})
		}
	})
}

// Query pushes every configured invocation id onto param.Host (nesting
// outward), then blocks on the innermost id's cancellation channel,
// BlockFor, or ctx, whichever comes first, before popping back off.
func (n *NestedContractInterpreter) Query(ctx context.Context, contractType types.ContractType, param types.ContractParameter) (types.Result, bool) {
	n.init()
	if param.Host == nil {
		return types.Result{Code: types.ErrCodeInternalError, Desc: "no host"}, false
	}
	n.RunNested(ctx, param.Host)
	return types.Result{Code: types.ErrCodeOK}, true
}

// RunNested drives the push/block/cancel-order sequence against an
// explicit ContractHost, mirroring how a real interpreter would call back
// into the Job while this fake plays the role of "the interpreter".
func (n *NestedContractInterpreter) RunNested(ctx context.Context, host collaborators.ContractHost) {
	n.init()
	for _, id := range n.InvocationIDs {
		host.PushContractID(id)
	}

	innermost := n.InvocationIDs[len(n.InvocationIDs)-1]
	select {
	case <-n.cancelled[innermost]:
	case <-time.After(n.BlockFor):
	case <-ctx.Done():
	}

	for range n.InvocationIDs {
		host.PopContractID()
	}
}

// Cancel records the order ids were cancelled in and unblocks the id's
// wait channel.
func (n *NestedContractInterpreter) Cancel(invocationID int64) {
	n.init()
	n.mu.Lock()
	n.cancelLog = append(n.cancelLog, invocationID)
	n.mu.Unlock()

	if ch, ok := n.cancelled[invocationID]; ok {
		select {
		case <-ch:
		default:
			close(ch)
		}
	}
}

// CancelOrder returns the ids in the order Cancel was invoked.
func (n *NestedContractInterpreter) CancelOrder() []int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]int64(nil), n.cancelLog...)
}

// AccountStore is an in-memory fake of collaborators.AccountStore.
type AccountStore struct {
	mu       sync.Mutex
	accounts map[string]types.Account
}

// NewAccountStore returns an empty fake account store.
func NewAccountStore() *AccountStore {
	return &AccountStore{accounts: make(map[string]types.Account)}
}

// Put installs an account, for tests to seed "real" accounts.
func (s *AccountStore) Put(account types.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.Address] = account
}

// AccountFromDB implements collaborators.AccountStore.
func (s *AccountStore) AccountFromDB(address string) (types.Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[address]
	return acc, ok
}

// KeyGenerator deterministically mints addresses "fake-addr-N" in test
// suites that need no real randomness.
type KeyGenerator struct {
	mu  sync.Mutex
	ctr int
}

// NewAddress implements collaborators.KeyGenerator.
func (k *KeyGenerator) NewAddress() (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.ctr++
	return fmt.Sprintf("fake-addr-%d", k.ctr), nil
}

// LedgerStateView is a fixed fake of collaborators.LedgerStateView.
type LedgerStateView struct {
	Last types.LastClosedLedger
}

// LastClosedLedger implements collaborators.LedgerStateView.
func (v LedgerStateView) LastClosedLedger() types.LastClosedLedger { return v.Last }
