package quotacore

import (
	"context"
	"sync"
	"time"
)

// RateLimits are the resolved limits for one identity. The caller of a
// RateStore has already applied plan scaling; backends only do the counting.
type RateLimits struct {
	WindowLimit   int64
	WindowPeriod  time.Duration
	BurstLimit    int64
	BurstPeriod   time.Duration
	ShortCooldown time.Duration
	LongCooldown  time.Duration
}

// RateStore holds per-key window state and applies one hit against it. The
// in-memory store is the default; redisrate provides the same contract on
// Redis for multi-instance deployments.
type RateStore interface {
	Hit(ctx context.Context, key string, lim RateLimits, now time.Time) (Decision, error)
}

// RateLimiter performs admission control per caller identity. A 60-second
// sliding window bounds sustained rate and a nested 10-second burst window
// bounds spikes; violations set an escalating, self-expiring cooldown.
// Checks are cheap: no I/O on the in-memory backend, one round trip on Redis.
type RateLimiter struct {
	cfg    RateConfig
	plan   func(PlanTier) (Plan, bool)
	store  RateStore
	exempt map[Category]bool
	now    func() time.Time
}

// NewRateLimiter creates a limiter with the given config and plan catalog
// lookup. If store is nil an in-memory store bounded by cfg.MaxKeys is used.
func NewRateLimiter(cfg RateConfig, plan func(PlanTier) (Plan, bool), store RateStore) *RateLimiter {
	if store == nil {
		store = NewMemoryRateStore(cfg.MaxKeys)
	}
	exempt := make(map[Category]bool, len(cfg.ExemptCategories))
	for _, c := range cfg.ExemptCategories {
		exempt[c] = true
	}
	return &RateLimiter{
		cfg:    cfg,
		plan:   plan,
		store:  store,
		exempt: exempt,
		now:    time.Now,
	}
}

// SetClock replaces the limiter's time source, propagating it to an
// in-memory backend so eviction ordering follows the same clock. Not
// synchronized; call before the first Check.
func (l *RateLimiter) SetClock(now func() time.Time) {
	l.now = now
	if m, ok := l.store.(*MemoryRateStore); ok {
		m.windows.SetClock(now)
	}
}

// Check returns the verdict for one request. It always returns a verdict:
// a backend failure fails open (err reports it so callers can log).
// Exempt categories bypass counting entirely and report Remaining = -1.
func (l *RateLimiter) Check(ctx context.Context, id Identity, category Category) (Decision, error) {
	if l.exempt[category] {
		return Decision{Allowed: true, Remaining: -1}, nil
	}

	lim := l.resolve(id)
	key := string(id.Kind) + ":" + id.Key + ":" + string(category)

	d, err := l.store.Hit(ctx, key, lim, l.now())
	if err != nil {
		return Decision{Allowed: true, Remaining: -1}, err
	}
	return d, nil
}

// resolve applies plan scaling for account identities; addr identities get
// the fixed stricter limits.
func (l *RateLimiter) resolve(id Identity) RateLimits {
	lim := RateLimits{
		WindowLimit:   l.cfg.WindowLimit,
		WindowPeriod:  l.cfg.WindowPeriod(),
		BurstLimit:    l.cfg.BurstLimit,
		BurstPeriod:   l.cfg.BurstPeriod(),
		ShortCooldown: l.cfg.ShortCooldown(),
		LongCooldown:  l.cfg.LongCooldown(),
	}

	switch id.Kind {
	case IdentityAddr:
		lim.WindowLimit = l.cfg.AddrWindowLimit
		lim.BurstLimit = l.cfg.AddrBurstLimit
	default:
		if p, ok := l.plan(id.Tier); ok && p.RateMultiplier > 0 {
			lim.WindowLimit = int64(float64(lim.WindowLimit) * p.RateMultiplier)
			lim.BurstLimit = int64(float64(lim.BurstLimit) * p.RateMultiplier)
		}
	}
	return lim
}

// rateWindow is the per-key counter state. Each window carries its own mutex
// so hits on the same key serialize (read-then-increment must not race) while
// distinct keys proceed in parallel.
type rateWindow struct {
	mu           sync.Mutex
	windowCount  int64
	windowStart  time.Time
	burstCount   int64
	burstStart   time.Time
	blockedUntil time.Time
}

// MemoryRateStore keeps window state in a bounded KeyedStore. Idle keys are
// reclaimed by Sweep; overflow drops the least recently active key.
type MemoryRateStore struct {
	windows *KeyedStore[*rateWindow]
}

var _ RateStore = (*MemoryRateStore)(nil)

// NewMemoryRateStore creates an in-memory rate store holding at most maxKeys
// window entries.
func NewMemoryRateStore(maxKeys int) *MemoryRateStore {
	return &MemoryRateStore{windows: NewKeyedStore[*rateWindow](maxKeys)}
}

// Hit records one request against key and returns the verdict.
func (s *MemoryRateStore) Hit(_ context.Context, key string, lim RateLimits, now time.Time) (Decision, error) {
	w := s.windows.GetOrCreate(key, func() *rateWindow {
		return &rateWindow{windowStart: now, burstStart: now}
	})

	w.mu.Lock()
	defer w.mu.Unlock()

	// Active cooldown: deny without touching the counters.
	if now.Before(w.blockedUntil) {
		return Decision{RetryAfter: w.blockedUntil.Sub(now)}, nil
	}

	// Each window resets independently once its own period has elapsed.
	if now.Sub(w.windowStart) >= lim.WindowPeriod {
		w.windowCount = 0
		w.windowStart = now
	}
	if now.Sub(w.burstStart) >= lim.BurstPeriod {
		w.burstCount = 0
		w.burstStart = now
	}

	// Sustained-rate violation escalates to the long cooldown.
	if w.windowCount >= lim.WindowLimit {
		w.blockedUntil = now.Add(lim.LongCooldown)
		return Decision{RetryAfter: lim.LongCooldown}, nil
	}
	if w.burstCount >= lim.BurstLimit {
		w.blockedUntil = now.Add(lim.ShortCooldown)
		return Decision{RetryAfter: lim.ShortCooldown}, nil
	}

	w.windowCount++
	w.burstCount++

	remaining := lim.WindowLimit - w.windowCount
	if br := lim.BurstLimit - w.burstCount; br < remaining {
		remaining = br
	}
	return Decision{Allowed: true, Remaining: remaining}, nil
}

// Sweep drops window entries idle since before cutoff, returning the count.
func (s *MemoryRateStore) Sweep(cutoff time.Time) int {
	return s.windows.Sweep(cutoff)
}

// Len reports resident window entries.
func (s *MemoryRateStore) Len() int {
	return s.windows.Len()
}
