package quotacore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Idle horizons for process-local bookkeeping tables. Account locks and guard
// entries are recreated on demand, so dropping idle ones is always safe.
const (
	lockIdleHorizon  = time.Hour
	guardIdleHorizon = 24 * time.Hour
)

// Core is the process-scoped quota and rate-governance engine. It owns the
// in-memory state (reservations, rate windows, account locks, renewal guard)
// and consumes the externally persisted account record and ledger through a
// Store. Create one per process; tests create disposable instances.
//
// The intended call sequence for a paid operation: RateCheck, then Reserve,
// then the paid work, then Consume on success or Release on failure.
type Core struct {
	cfg     Config
	store   Store
	credits *CreditManager
	limiter *RateLimiter
	meter   Meter
	now     func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	stop      chan struct{}
	done      chan struct{}
}

// Option configures a Core.
type Option func(*Core)

// WithMeter sets the meter.
func WithMeter(m Meter) Option {
	return func(c *Core) { c.meter = m }
}

// WithRateStore sets the rate limiter backend (e.g. redisrate.Store for
// multi-instance deployments). Default is the bounded in-memory store.
func WithRateStore(rs RateStore) Option {
	return func(c *Core) { c.limiter = NewRateLimiter(c.cfg.Rate, c.cfg.Plan, rs) }
}

// WithClock sets the time source for every component. Test hook.
func WithClock(now func() time.Time) Option {
	return func(c *Core) { c.now = now }
}

// NewCore creates a core over the given store. The config is validated; the
// in-memory rate store and a no-op meter are used unless overridden.
func NewCore(cfg Config, store Store, opts ...Option) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Core{
		cfg:   cfg,
		store: store,
		now:   time.Now,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	// Apply defaults after options.
	if c.meter == nil {
		c.meter = &noopMeter{}
	}
	if c.limiter == nil {
		c.limiter = NewRateLimiter(cfg.Rate, cfg.Plan, nil)
	}
	c.limiter.SetClock(c.now)

	c.credits = NewCreditManager(store, cfg.Plan, c.meter, cfg.Sweep.MaxAccountLocks)
	c.credits.SetClock(c.now)

	return c, nil
}

// RateCheck returns the admission verdict for one request. It is cheap, does
// no ledger I/O, and always returns a verdict; exempt categories are always
// allowed. Denials are expected and frequent, so they carry no error.
func (c *Core) RateCheck(ctx context.Context, id Identity, category Category) Decision {
	d, err := c.limiter.Check(ctx, id, category)
	c.meter.OnRate(RateEvent{Identity: id, Category: category, Decision: d, Err: err})
	return d
}

// Reserve holds amount credits against the account and returns the
// operation id used to settle the hold.
func (c *Core) Reserve(ctx context.Context, accountID string, amount int64, kind OperationKind) (string, error) {
	return c.credits.Reserve(ctx, accountID, amount, kind)
}

// Consume settles a reservation as a charge and returns the new balance.
func (c *Core) Consume(ctx context.Context, operationID, description string) (int64, error) {
	return c.credits.Consume(ctx, operationID, description)
}

// Release discards a reservation. Safe to call defensively; unknown ids are
// a no-op.
func (c *Core) Release(operationID string) {
	c.credits.Release(operationID)
}

// RenewIfDue applies the once-per-month balance reset if it is due.
func (c *Core) RenewIfDue(ctx context.Context, accountID string) (bool, error) {
	return c.credits.RenewIfDue(ctx, accountID)
}

// Balance returns the account's persisted balance.
func (c *Core) Balance(ctx context.Context, accountID string) (int64, error) {
	acct, err := c.store.Account(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

// Available returns balance minus open holds.
func (c *Core) Available(ctx context.Context, accountID string) (int64, error) {
	return c.credits.Available(ctx, accountID)
}

// Start launches the background sweep loop. It returns immediately and is a
// no-op after the first call; the loop runs until Close is called or ctx is
// cancelled.
func (c *Core) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.started.Store(true)
		go func() {
			defer close(c.done)
			ticker := time.NewTicker(c.cfg.Sweep.Interval())
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					c.Sweep()
				case <-ctx.Done():
					return
				case <-c.stop:
					return
				}
			}
		}()
	})
}

// Close stops the sweep loop. Safe to call more than once.
func (c *Core) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	if !c.started.Load() {
		return
	}
	select {
	case <-c.done:
	case <-time.After(time.Second):
	}
}

// Sweep runs one reclamation pass over every bounded table: idle rate
// windows, idle account locks, stale guard entries, and reservations older
// than the configured TTL (reclaimed as automatic releases, never consumed).
func (c *Core) Sweep() SweepEvent {
	start := c.now()

	ev := SweepEvent{}

	// Rate window horizon: twice the longest interval a window can matter
	// for, so an in-flight cooldown is never dropped.
	rateHorizon := 2 * c.cfg.Rate.WindowPeriod()
	if cd := 2 * c.cfg.Rate.LongCooldown(); cd > rateHorizon {
		rateHorizon = cd
	}
	if ms, ok := c.limiter.store.(*MemoryRateStore); ok {
		ev.RateWindows = ms.Sweep(start.Add(-rateHorizon))
	}

	ev.Locks = c.credits.locks.sweep(start.Add(-lockIdleHorizon))
	ev.GuardEntries = c.credits.guard.months.Sweep(start.Add(-guardIdleHorizon))
	ev.Reservations = c.credits.SweepReservations(start.Add(-c.cfg.Sweep.ReservationTTL()))

	ev.Elapsed = c.now().Sub(start)
	c.meter.OnSweep(ev)
	return ev
}

// Err converts a denial into a typed error for callers that propagate
// rate-limit failures instead of inspecting the Decision.
func (d Decision) Err(id Identity) error {
	if d.Allowed {
		return nil
	}
	return &RateLimitError{Identity: id, RetryAfter: d.RetryAfter}
}
