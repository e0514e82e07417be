package execjob

import (
	"sync"

	"github.com/ChuLiYu/ledger-preexec/pkg/types"
)

// ClosingLedger is the mutable builder a Job populates while it runs and
// callers may read only once the Job is terminal (spec.md §3 "Job" —
// closing_ledger).
type ClosingLedger struct {
	mu      sync.Mutex
	header  types.LedgerHeader
	applied []types.AppliedTransaction
}

// SetHeader installs the closing ledger's header, called once at the start
// of do_apply/do_test.
func (l *ClosingLedger) SetHeader(h types.LedgerHeader) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.header = h
}

// Header returns the closing ledger's header.
func (l *ClosingLedger) Header() types.LedgerHeader {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.header
}

// AppendApplied records one applied transaction and its nested
// instructions.
func (l *ClosingLedger) AppendApplied(tx types.AppliedTransaction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.applied = append(l.applied, tx)
}

// AppliedTransactions returns a copy of every transaction recorded so far.
func (l *ClosingLedger) AppliedTransactions() []types.AppliedTransaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]types.AppliedTransaction(nil), l.applied...)
}
