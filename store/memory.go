// Package store provides the in-memory Store used by tests and single-node
// deployments. Durable multi-instance backends live in subpackages.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/briefcast/quotacore"
)

// MemoryStore is an in-memory account and ledger store.
type MemoryStore struct {
	mu        sync.RWMutex
	accounts  map[string]quotacore.Account
	ledger    map[string][]quotacore.LedgerEntry
	settleErr error
}

var _ quotacore.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]quotacore.Account),
		ledger:   make(map[string][]quotacore.LedgerEntry),
	}
}

// PutAccount creates or replaces an account record.
func (s *MemoryStore) PutAccount(acct quotacore.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acct.ID] = acct
}

// Account resolves an account by id.
func (s *MemoryStore) Account(_ context.Context, accountID string) (quotacore.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return quotacore.Account{}, quotacore.ErrUserNotFound
	}
	return acct, nil
}

// Settle writes the new balance and appends the ledger entry atomically.
func (s *MemoryStore) Settle(_ context.Context, accountID string, newBalance int64, entry quotacore.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.settleErr != nil {
		return s.settleErr
	}

	acct, ok := s.accounts[accountID]
	if !ok {
		return quotacore.ErrUserNotFound
	}
	acct.Balance = newBalance
	s.accounts[accountID] = acct
	s.ledger[accountID] = append(s.ledger[accountID], entry)
	return nil
}

// LastRenewal returns the creation time of the most recent renewal-class
// entry (monthly_reset or purchase).
func (s *MemoryStore) LastRenewal(_ context.Context, accountID string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.ledger[accountID]
	for i := len(entries) - 1; i >= 0; i-- {
		k := entries[i].Kind
		if k == quotacore.LedgerMonthlyReset || k == quotacore.LedgerPurchase {
			return entries[i].CreatedAt, true, nil
		}
	}
	return time.Time{}, false, nil
}

// Entries returns a copy of the account's ledger in append order.
func (s *MemoryStore) Entries(accountID string) []quotacore.LedgerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.ledger[accountID]
	out := make([]quotacore.LedgerEntry, len(entries))
	copy(out, entries)
	return out
}

// SetSettleError makes subsequent Settle calls fail with err until cleared
// with nil. Test hook for storage-unavailable paths.
func (s *MemoryStore) SetSettleError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settleErr = err
}
