package quotacore

import (
	"context"
	"time"
)

// renewalGuard is the idempotency short-circuit for monthly renewal: the last
// renewed month per account, held in a bounded store so the table cannot grow
// without bound. It is an optimization only; when cold, "already renewed this
// month" is re-derived from the ledger.
type renewalGuard struct {
	months *KeyedStore[string]
}

func newRenewalGuard(maxKeys int) *renewalGuard {
	return &renewalGuard{months: NewKeyedStore[string](maxKeys)}
}

func (g *renewalGuard) renewed(accountID, month string) bool {
	m, ok := g.months.Get(accountID)
	return ok && m == month
}

func (g *renewalGuard) record(accountID, month string) {
	g.months.Put(accountID, month)
}

// monthOf formats a renewal month key.
func monthOf(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// RenewIfDue resets the account's balance to its plan allotment if no renewal
// has happened this calendar month, exactly once even under concurrent
// first-request-of-the-month races. Returns whether a renewal was applied.
// Free and unlimited tiers are exempt entirely.
func (m *CreditManager) RenewIfDue(ctx context.Context, accountID string) (bool, error) {
	// Fast path: guard already records the current month, no lock, no I/O.
	if m.guard.renewed(accountID, monthOf(m.now())) {
		return false, nil
	}

	lock := m.locks.lock(accountID)
	defer m.locks.unlock(lock)

	acct, err := m.store.Account(ctx, accountID)
	if err != nil {
		return false, err
	}
	plan, _ := m.plan(acct.Tier)
	return m.renewLocked(ctx, &acct, plan)
}

// renewLocked performs the renewal check and reset. Caller must hold the
// account lock. On renewal acct.Balance is updated in place so callers see
// the post-renewal balance without a second store read.
func (m *CreditManager) renewLocked(ctx context.Context, acct *Account, plan Plan) (bool, error) {
	if plan.Unlimited || plan.MonthlyCredits <= 0 {
		return false, nil
	}

	month := monthOf(m.now())

	// Double-checked: another request may have renewed while we waited for
	// the account lock.
	if m.guard.renewed(acct.ID, month) {
		return false, nil
	}

	last, ok, err := m.store.LastRenewal(ctx, acct.ID)
	if err != nil {
		return false, err
	}
	if ok && monthOf(last) == month {
		// Renewed elsewhere (another process or an earlier cold start); just
		// warm the guard.
		m.guard.record(acct.ID, month)
		return false, nil
	}

	newBalance := plan.MonthlyCredits
	entry := LedgerEntry{
		AccountID:    acct.ID,
		Delta:        newBalance - acct.Balance,
		BalanceAfter: newBalance,
		Kind:         LedgerMonthlyReset,
		Description:  "monthly renewal (" + string(plan.Tier) + ")",
		CreatedAt:    m.now(),
	}
	if err := m.store.Settle(ctx, acct.ID, newBalance, entry); err != nil {
		return false, err
	}

	acct.Balance = newBalance
	m.guard.record(acct.ID, month)
	m.meter.OnRenew(RenewEvent{
		AccountID: acct.ID,
		Tier:      plan.Tier,
		Allotment: newBalance,
		Month:     month,
	})
	return true, nil
}
