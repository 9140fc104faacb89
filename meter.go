package quotacore

import "time"

// Meter observes core events for monitoring/logging. Implementations must be
// cheap and non-blocking; they are called while locks are held.
type Meter interface {
	// OnRate is called for every counted rate check.
	OnRate(event RateEvent)

	// OnReserve is called when a reservation is placed.
	OnReserve(event ReserveEvent)

	// OnSettle is called when a reservation resolves (consume, release, or
	// sweep reclamation).
	OnSettle(event SettleEvent)

	// OnRenew is called when a monthly renewal is applied.
	OnRenew(event RenewEvent)

	// OnSweep is called after each background sweep pass.
	OnSweep(event SweepEvent)
}

// RateEvent describes one rate-limit verdict.
type RateEvent struct {
	Identity Identity
	Category Category
	Decision Decision
	Err      error
}

// ReserveEvent describes a placed reservation.
type ReserveEvent struct {
	AccountID   string
	OperationID string
	Amount      int64
	Kind        OperationKind
	Unlimited   bool
}

// SettleEvent describes a resolved reservation. Consumed is true for a
// charge; Reclaimed is true when the sweep released an abandoned hold.
type SettleEvent struct {
	AccountID   string
	OperationID string
	Amount      int64
	Consumed    bool
	NewBalance  int64
	Reclaimed   bool
}

// RenewEvent describes an applied monthly renewal.
type RenewEvent struct {
	AccountID string
	Tier      PlanTier
	Allotment int64
	Month     string
}

// SweepEvent reports what one sweep pass reclaimed.
type SweepEvent struct {
	RateWindows  int
	Locks        int
	GuardEntries int
	Reservations int
	Elapsed      time.Duration
}

// noopMeter is a meter that does nothing.
type noopMeter struct{}

func (m *noopMeter) OnRate(RateEvent)       {}
func (m *noopMeter) OnReserve(ReserveEvent) {}
func (m *noopMeter) OnSettle(SettleEvent)   {}
func (m *noopMeter) OnRenew(RenewEvent)     {}
func (m *noopMeter) OnSweep(SweepEvent)     {}
