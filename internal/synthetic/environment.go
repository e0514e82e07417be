// Package synthetic builds the ephemeral, per-Job account environment that
// spec.md §4.2 do_test materializes for contract test/query Jobs whose
// contract or source address is absent from the real ledger store.
//
// Grounded on original_source/src/ledger/ledgercontext_manager.cpp's
// LedgerContext::Test(), which allocates a fresh Environment, a temporary
// private key, and installs one or two accounts on it before dispatching
// to either DoTransaction or ContractManager::Query.
package synthetic

import (
	"sync"

	"github.com/ChuLiYu/ledger-preexec/pkg/types"
)

// Environment is a private, in-memory account overlay. It implements
// internal/collaborators.Environment so an Execution Job can hand it to
// the transaction applier without that package importing this one.
type Environment struct {
	mu       sync.Mutex
	accounts map[string]types.Account
}

// NewEnvironment returns an empty synthetic environment.
func NewEnvironment() *Environment {
	return &Environment{accounts: make(map[string]types.Account)}
}

// AddEntry installs account at address. It fails only if address is empty;
// installing over an existing entry is allowed since a Job's environment is
// private and short-lived.
func (e *Environment) AddEntry(address string, account types.Account) bool {
	if address == "" {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.accounts[address] = account
	return true
}

// Lookup returns the account installed at address, for tests that need to
// assert on what do_test synthesized (spec.md S4).
func (e *Environment) Lookup(address string) (types.Account, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	acc, ok := e.accounts[address]
	return acc, ok
}

// Len reports how many accounts have been installed.
func (e *Environment) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.accounts)
}
