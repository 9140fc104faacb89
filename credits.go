package quotacore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CreditManager prevents overdraft under concurrency with a two-phase
// hold/settle protocol. Every mutating operation for a given account runs
// under that account's exclusive lock; operations on different accounts
// proceed fully in parallel. Reservations live in process memory only and
// are terminated by exactly one Consume or Release.
type CreditManager struct {
	store Store
	plan  func(PlanTier) (Plan, bool)
	meter Meter
	now   func() time.Time

	// Account locks are reclaimed once idle and recreated on demand, so the
	// lock table cannot grow without bound over the process lifetime. Held
	// locks are pinned and never reclaimed.
	locks *lockTable

	resMu        sync.Mutex
	reservations map[string]*Reservation
	held         map[string]int64 // open reservation sum per account

	guard *renewalGuard
}

// NewCreditManager creates a manager over the given store and plan catalog.
func NewCreditManager(store Store, plan func(PlanTier) (Plan, bool), meter Meter, maxLocks int) *CreditManager {
	if meter == nil {
		meter = &noopMeter{}
	}
	return &CreditManager{
		store:        store,
		plan:         plan,
		meter:        meter,
		now:          time.Now,
		locks:        newLockTable(maxLocks),
		reservations: make(map[string]*Reservation),
		held:         make(map[string]int64),
		guard:        newRenewalGuard(maxLocks),
	}
}

// SetClock replaces the manager's time source (shared by Core so renewal and
// reservation ages follow one clock). Call before first use.
func (m *CreditManager) SetClock(now func() time.Time) {
	m.now = now
	m.locks.setClock(now)
	m.guard.months.SetClock(now)
}

// heldFor returns the open reservation sum for an account.
func (m *CreditManager) heldFor(accountID string) int64 {
	m.resMu.Lock()
	defer m.resMu.Unlock()
	return m.held[accountID]
}

// Reserve places a hold of amount credits on the account and returns the
// reservation's operation id. The renewal guard runs first, then
// available = balance - open holds is checked; a request that would overdraw
// fails with InsufficientCreditsError. The unlimited tier always succeeds
// and records a marker reservation with no balance effect.
func (m *CreditManager) Reserve(ctx context.Context, accountID string, amount int64, kind OperationKind) (string, error) {
	if amount <= 0 {
		return "", ErrInvalidAmount
	}

	lock := m.locks.lock(accountID)
	defer m.locks.unlock(lock)

	acct, err := m.store.Account(ctx, accountID)
	if err != nil {
		return "", err
	}

	plan, _ := m.plan(acct.Tier)

	if _, err := m.renewLocked(ctx, &acct, plan); err != nil {
		return "", err
	}

	unlimited := plan.Unlimited
	if !unlimited {
		available := acct.Balance - m.heldFor(accountID)
		if available < amount {
			return "", &InsufficientCreditsError{
				AccountID: accountID,
				Balance:   acct.Balance,
				Available: available,
				Requested: amount,
			}
		}
	}

	res := &Reservation{
		OperationID: uuid.New().String(),
		AccountID:   accountID,
		Amount:      amount,
		Kind:        kind,
		Unlimited:   unlimited,
		CreatedAt:   m.now(),
	}

	m.resMu.Lock()
	m.reservations[res.OperationID] = res
	if !unlimited {
		m.held[accountID] += amount
	}
	m.resMu.Unlock()

	m.meter.OnReserve(ReserveEvent{
		AccountID:   accountID,
		OperationID: res.OperationID,
		Amount:      amount,
		Kind:        kind,
		Unlimited:   unlimited,
	})

	return res.OperationID, nil
}

// Consume settles a reservation: the balance is debited (floored at zero to
// tolerate external balance adjustments racing with this operation), a
// consumption ledger entry is appended, and the reservation is removed.
// The reservation is removed only after the store settle is confirmed, so a
// failed ledger write leaves it intact for a retry. An unknown, already
// consumed, or already released id fails with ErrReservationNotFound; the
// three are indistinguishable by design.
func (m *CreditManager) Consume(ctx context.Context, operationID, description string) (int64, error) {
	res, ok := m.peek(operationID)
	if !ok {
		return 0, ErrReservationNotFound
	}

	lock := m.locks.lock(res.AccountID)
	defer m.locks.unlock(lock)

	// Re-check under the account lock: a racing settle may have resolved it.
	res, ok = m.peek(operationID)
	if !ok {
		return 0, ErrReservationNotFound
	}

	acct, err := m.store.Account(ctx, res.AccountID)
	if err != nil {
		return 0, err
	}

	if res.Unlimited {
		m.remove(res)
		m.meter.OnSettle(SettleEvent{
			AccountID:   res.AccountID,
			OperationID: operationID,
			Amount:      res.Amount,
			Consumed:    true,
			NewBalance:  acct.Balance,
		})
		return acct.Balance, nil
	}

	newBalance := acct.Balance - res.Amount
	if newBalance < 0 {
		newBalance = 0
	}

	entry := LedgerEntry{
		AccountID:    res.AccountID,
		Delta:        newBalance - acct.Balance,
		BalanceAfter: newBalance,
		Kind:         LedgerConsumption,
		Description:  description,
		CreatedAt:    m.now(),
	}
	if err := m.store.Settle(ctx, res.AccountID, newBalance, entry); err != nil {
		return 0, err
	}

	m.remove(res)
	m.meter.OnSettle(SettleEvent{
		AccountID:   res.AccountID,
		OperationID: operationID,
		Amount:      res.Amount,
		Consumed:    true,
		NewBalance:  newBalance,
	})
	return newBalance, nil
}

// Release discards a reservation without any ledger effect. Releasing an
// unknown or already resolved id is a harmless no-op: call sites release
// defensively on failure and cancellation paths.
func (m *CreditManager) Release(operationID string) {
	res, ok := m.peek(operationID)
	if !ok {
		return
	}

	lock := m.locks.lock(res.AccountID)
	defer m.locks.unlock(lock)

	res, ok = m.peek(operationID)
	if !ok {
		return
	}
	m.remove(res)
	m.meter.OnSettle(SettleEvent{
		AccountID:   res.AccountID,
		OperationID: operationID,
		Amount:      res.Amount,
	})
}

// Available reports balance minus open holds for an account, running the
// renewal guard first so a stale month is never reported.
func (m *CreditManager) Available(ctx context.Context, accountID string) (int64, error) {
	lock := m.locks.lock(accountID)
	defer m.locks.unlock(lock)

	acct, err := m.store.Account(ctx, accountID)
	if err != nil {
		return 0, err
	}
	plan, _ := m.plan(acct.Tier)
	if _, err := m.renewLocked(ctx, &acct, plan); err != nil {
		return 0, err
	}
	available := acct.Balance - m.heldFor(accountID)
	if available < 0 {
		available = 0
	}
	return available, nil
}

// SweepReservations reclaims reservations older than cutoff as automatic
// releases and returns how many were reclaimed. Abandoned holds (caller
// crashed between reserve and settle) otherwise block capacity until process
// restart. Reclamation never consumes: no ledger entry is written.
func (m *CreditManager) SweepReservations(cutoff time.Time) int {
	m.resMu.Lock()
	var stale []string
	for id, res := range m.reservations {
		if res.CreatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.resMu.Unlock()

	reclaimed := 0
	for _, id := range stale {
		res, ok := m.peek(id)
		if !ok {
			continue
		}
		lock := m.locks.lock(res.AccountID)
		if res, ok = m.peek(id); ok {
			m.remove(res)
			reclaimed++
			m.meter.OnSettle(SettleEvent{
				AccountID:   res.AccountID,
				OperationID: id,
				Amount:      res.Amount,
				Reclaimed:   true,
			})
		}
		m.locks.unlock(lock)
	}
	return reclaimed
}

// OpenReservations reports the number of unresolved reservations.
func (m *CreditManager) OpenReservations() int {
	m.resMu.Lock()
	defer m.resMu.Unlock()
	return len(m.reservations)
}

func (m *CreditManager) peek(operationID string) (*Reservation, bool) {
	m.resMu.Lock()
	defer m.resMu.Unlock()
	res, ok := m.reservations[operationID]
	return res, ok
}

// remove deletes a reservation and releases its hold. Caller must hold the
// account lock.
func (m *CreditManager) remove(res *Reservation) {
	m.resMu.Lock()
	defer m.resMu.Unlock()
	delete(m.reservations, res.OperationID)
	if !res.Unlimited {
		m.held[res.AccountID] -= res.Amount
		if m.held[res.AccountID] <= 0 {
			delete(m.held, res.AccountID)
		}
	}
}
