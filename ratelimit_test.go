package quotacore_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qc "github.com/briefcast/quotacore"
)

func testRateConfig() qc.RateConfig {
	return qc.RateConfig{
		WindowLimit:          10,
		WindowSeconds:        60,
		BurstLimit:           4,
		BurstSeconds:         10,
		ShortCooldownSeconds: 5,
		LongCooldownSeconds:  30,
		AddrWindowLimit:      6,
		AddrBurstLimit:       3,
		ExemptCategories:     []qc.Category{qc.CategoryStatus, qc.CategoryQuota},
		MaxKeys:              100,
	}
}

func newTestLimiter(t *testing.T, cfg qc.RateConfig) (*qc.RateLimiter, *fakeClock) {
	t.Helper()
	plans := qc.DefaultConfig().Plan
	l := qc.NewRateLimiter(cfg, plans, nil)
	clock := newFakeClock()
	l.SetClock(clock.Now)
	return l, clock
}

func freeID(key string) qc.Identity {
	return qc.Identity{Kind: qc.IdentityAccount, Key: key, Tier: qc.TierFree}
}

// Test 1: burst limit denies the (b+1)-th request with the short cooldown
func TestRateLimiter_BurstDenialShortCooldown(t *testing.T) {
	l, _ := newTestLimiter(t, testRateConfig())
	ctx := context.Background()
	id := freeID("acct-1")

	for i := 0; i < 4; i++ {
		d, err := l.Check(ctx, id, qc.CategorySummarize)
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d should pass", i+1)
	}

	d, err := l.Check(ctx, id, qc.CategorySummarize)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 5*time.Second, d.RetryAfter)
}

// Test 2: window limit denies the (K+1)-th request with the long cooldown
// even when the burst limit was respected throughout
func TestRateLimiter_WindowDenialLongCooldown(t *testing.T) {
	l, clock := newTestLimiter(t, testRateConfig())
	ctx := context.Background()
	id := freeID("acct-1")

	// 10 requests spread so no burst window ever sees more than 4.
	for i := 0; i < 10; i++ {
		if i > 0 && i%4 == 0 {
			clock.Advance(10 * time.Second)
		}
		d, err := l.Check(ctx, id, qc.CategorySummarize)
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d should pass", i+1)
	}

	d, err := l.Check(ctx, id, qc.CategorySummarize)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 30*time.Second, d.RetryAfter)
}

// Test 3: while blocked, checks are denied without counting and retry_after
// shrinks as the cooldown runs down
func TestRateLimiter_BlockedChecksDoNotCount(t *testing.T) {
	l, clock := newTestLimiter(t, testRateConfig())
	ctx := context.Background()
	id := freeID("acct-1")

	for i := 0; i < 5; i++ {
		l.Check(ctx, id, qc.CategorySummarize)
	}

	clock.Advance(2 * time.Second)
	d, err := l.Check(ctx, id, qc.CategorySummarize)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 3*time.Second, d.RetryAfter)

	// Once the cooldown and the burst period have both elapsed, requests
	// flow again: the denials above must not have advanced any counter.
	clock.Advance(10 * time.Second)
	d, err = l.Check(ctx, id, qc.CategorySummarize)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

// Test 4: window and burst counters reset independently
func TestRateLimiter_IndependentWindowResets(t *testing.T) {
	l, clock := newTestLimiter(t, testRateConfig())
	ctx := context.Background()
	id := freeID("acct-1")

	for i := 0; i < 4; i++ {
		d, _ := l.Check(ctx, id, qc.CategorySummarize)
		require.True(t, d.Allowed)
	}

	// Burst window rolls over; sustained window (10/min) keeps counting.
	clock.Advance(11 * time.Second)
	for i := 0; i < 4; i++ {
		d, _ := l.Check(ctx, id, qc.CategorySummarize)
		require.True(t, d.Allowed, "second burst request %d", i+1)
	}
}

// Test 5: exempt categories bypass counting entirely
func TestRateLimiter_ExemptCategoryAlwaysAllowed(t *testing.T) {
	l, _ := newTestLimiter(t, testRateConfig())
	ctx := context.Background()
	id := freeID("acct-1")

	for i := 0; i < 100; i++ {
		d, err := l.Check(ctx, id, qc.CategoryStatus)
		require.NoError(t, err)
		require.True(t, d.Allowed)
		assert.Equal(t, int64(-1), d.Remaining)
	}

	// The counted category is untouched by the exempt traffic.
	d, _ := l.Check(ctx, id, qc.CategorySummarize)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(3), d.Remaining)
}

// Test 6: plan multiplier scales account limits
func TestRateLimiter_PlanMultiplierScalesLimits(t *testing.T) {
	l, _ := newTestLimiter(t, testRateConfig())
	ctx := context.Background()
	pro := qc.Identity{Kind: qc.IdentityAccount, Key: "acct-pro", Tier: qc.TierPro}

	// Pro multiplier is 4x: burst limit 16 instead of 4.
	for i := 0; i < 16; i++ {
		d, err := l.Check(ctx, pro, qc.CategorySummarize)
		require.NoError(t, err)
		require.True(t, d.Allowed, "pro request %d should pass", i+1)
	}
	d, _ := l.Check(ctx, pro, qc.CategorySummarize)
	assert.False(t, d.Allowed)
}

// Test 7: addr identities get the fixed stricter limits
func TestRateLimiter_AddrLimitsStricter(t *testing.T) {
	l, _ := newTestLimiter(t, testRateConfig())
	ctx := context.Background()
	addr := qc.Identity{Kind: qc.IdentityAddr, Key: "203.0.113.7"}

	for i := 0; i < 3; i++ {
		d, _ := l.Check(ctx, addr, qc.CategorySummarize)
		require.True(t, d.Allowed)
	}
	d, _ := l.Check(ctx, addr, qc.CategorySummarize)
	assert.False(t, d.Allowed)
}

// Test 8: distinct keys are throttled independently
func TestRateLimiter_KeysIndependent(t *testing.T) {
	l, _ := newTestLimiter(t, testRateConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		l.Check(ctx, freeID("acct-1"), qc.CategorySummarize)
	}
	d, _ := l.Check(ctx, freeID("acct-1"), qc.CategorySummarize)
	require.False(t, d.Allowed)

	d, _ = l.Check(ctx, freeID("acct-2"), qc.CategorySummarize)
	assert.True(t, d.Allowed)

	// Same key, different category also counts separately.
	d, _ = l.Check(ctx, freeID("acct-1"), qc.CategoryUpload)
	assert.True(t, d.Allowed)
}

// Test 9: concurrent checks admit exactly the burst limit (no two callers
// observe the same pre-increment count)
func TestRateLimiter_ConcurrentAdmissionExact(t *testing.T) {
	l, _ := newTestLimiter(t, testRateConfig())
	ctx := context.Background()
	id := freeID("acct-1")

	var wg sync.WaitGroup
	decisions := make([]qc.Decision, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			decisions[idx], _ = l.Check(ctx, id, qc.CategorySummarize)
		}(i)
	}
	wg.Wait()

	allowed := 0
	for _, d := range decisions {
		if d.Allowed {
			allowed++
		}
	}
	assert.Equal(t, 4, allowed)
}

// Test 10: the window table stays bounded under many distinct identities
func TestRateLimiter_MemoryBounded(t *testing.T) {
	cfg := testRateConfig()
	cfg.MaxKeys = 50
	rs := qc.NewMemoryRateStore(cfg.MaxKeys)
	l := qc.NewRateLimiter(cfg, qc.DefaultConfig().Plan, rs)
	ctx := context.Background()

	for i := 0; i < 500; i++ {
		addr := qc.Identity{Kind: qc.IdentityAddr, Key: string(rune('a'+i%26)) + string(rune('0'+i/26))}
		l.Check(ctx, addr, qc.CategorySummarize)
	}
	assert.LessOrEqual(t, rs.Len(), 50)
}
