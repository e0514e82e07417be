// Package collaborators defines the external-collaborator contracts this
// engine consumes but does not implement: the ledger state store, the
// transaction applier, the contract interpreter, and key derivation
// (spec.md §1 "Out of scope", §6 "External Interfaces").
//
// Structurally grounded on the teacher's internal/worker/source.go
// JobSource interface: that interface decouples the worker pool from
// wherever jobs actually come from (a local JobManager or a remote gRPC
// master); these interfaces decouple the Execution Job from wherever
// transactions are actually applied and contracts actually run.
package collaborators

import (
	"context"
	"time"

	"github.com/ChuLiYu/ledger-preexec/pkg/types"
)

// ContractHost is the subset of an Execution Job that the Applier and
// ContractInterpreter are allowed to call back into while a job is
// running. Aliased to types.ContractHost, which is declared alongside
// types.ContractParameter to avoid an import cycle; this alias keeps every
// collaborator signature in this package readable without an explicit
// types. qualifier.
type ContractHost = types.ContractHost

// Applier applies a consensus value's transactions to a closing ledger.
// It must call back into host around every contract invocation and set
// timeoutTxIndex to the first transaction that exceeded txTimeout, or
// leave it at -1 (spec.md §6).
type Applier interface {
	Apply(ctx context.Context, cv *types.ConsensusValue, host ContractHost, txTimeout time.Duration) (ok bool, timeoutTxIndex int)
}

// TransactionApplier additionally exposes the single-transaction entry
// point the synthetic Execute path drives (spec.md §4.2 do_test).
type TransactionApplier interface {
	Applier
	DoTransaction(ctx context.Context, tx types.Transaction, env Environment, host ContractHost) (ok bool, instructions []types.TxInstruction)
}

// ContractInterpreter is the embedded smart-contract VM. Query answers a
// synthetic query parameter; Cancel aborts the invocation with the given
// id at its next safe point (spec.md §6).
type ContractInterpreter interface {
	Query(ctx context.Context, contractType types.ContractType, param types.ContractParameter) (types.Result, bool)
	Cancel(invocationID int64)
}

// AccountStore is the read-only real ledger account store (spec.md §6).
type AccountStore interface {
	AccountFromDB(address string) (types.Account, bool)
}

// KeyGenerator derives a fresh synthetic account address, standing in for
// the key-derivation/signing subsystem spec.md §1 places out of scope.
type KeyGenerator interface {
	NewAddress() (string, error)
}

// Clock is the monotonic high-resolution clock contract (spec.md §6).
type Clock interface {
	Now() time.Time
}

// LedgerStateView is the minimal read-only view of "the ledger this node
// last closed" a Job needs to seed a new closing ledger header and to
// compute last_closed+1 sequencing for synthetic jobs (spec.md §4.2).
type LedgerStateView interface {
	LastClosedLedger() types.LastClosedLedger
}

// Environment is the synthetic, per-Job account environment described in
// spec.md §4.2 do_test. It is a narrow interface so internal/execjob does
// not need to import internal/synthetic directly.
type Environment interface {
	AddEntry(address string, account types.Account) bool
}

// SystemClock implements Clock using the real wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }
