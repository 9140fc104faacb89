package quotacore_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qc "github.com/briefcast/quotacore"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	assert.NoError(t, qc.DefaultConfig().Validate())
}

func TestConfig_Validate(t *testing.T) {
	t.Run("no plans", func(t *testing.T) {
		cfg := qc.DefaultConfig()
		cfg.Plans = nil
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least one plan")
	})

	t.Run("duplicate tier", func(t *testing.T) {
		cfg := qc.DefaultConfig()
		cfg.Plans = append(cfg.Plans, qc.Plan{Tier: qc.TierFree, RateMultiplier: 1})
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate")
	})

	t.Run("zero multiplier", func(t *testing.T) {
		cfg := qc.DefaultConfig()
		cfg.Plans[0].RateMultiplier = 0
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rate_multiplier")
	})

	t.Run("burst above window", func(t *testing.T) {
		cfg := qc.DefaultConfig()
		cfg.Rate.BurstLimit = cfg.Rate.WindowLimit
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "burst_limit")
	})

	t.Run("burst period above window period", func(t *testing.T) {
		cfg := qc.DefaultConfig()
		cfg.Rate.BurstSeconds = cfg.Rate.WindowSeconds
		assert.Error(t, cfg.Validate())
	})

	t.Run("zero sweep interval", func(t *testing.T) {
		cfg := qc.DefaultConfig()
		cfg.Sweep.IntervalSeconds = 0
		assert.Error(t, cfg.Validate())
	})
}

func TestConfig_PlanLookup(t *testing.T) {
	cfg := qc.DefaultConfig()

	p, ok := cfg.Plan(qc.TierPro)
	require.True(t, ok)
	assert.Equal(t, int64(1500), p.MonthlyCredits)

	_, ok = cfg.Plan(qc.PlanTier("enterprise"))
	assert.False(t, ok)
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("QC_PRO_CREDITS", "2500")

	path := filepath.Join(t.TempDir(), "quota.yaml")
	doc := `
plans:
  - tier: free
    rate_multiplier: 1
  - tier: pro
    monthly_credits: ${QC_PRO_CREDITS}
    rate_multiplier: 4
rate:
  window_limit: 30
  window_seconds: 60
  burst_limit: 15
  burst_seconds: 10
  short_cooldown_seconds: 5
  long_cooldown_seconds: 45
  addr_window_limit: 10
  addr_burst_limit: 5
  exempt_categories: [status, quota]
  max_keys: 5000
sweep:
  interval_seconds: 300
  reservation_ttl_seconds: 1200
  max_account_locks: 5000
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := qc.LoadConfig(path)
	require.NoError(t, err)

	p, ok := cfg.Plan(qc.TierPro)
	require.True(t, ok)
	assert.Equal(t, int64(2500), p.MonthlyCredits)
	assert.Equal(t, 45*time.Second, cfg.Rate.LongCooldown())
	assert.Equal(t, 20*time.Minute, cfg.Sweep.ReservationTTL())
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := qc.LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("plans: []\n"), 0o600))

	_, err := qc.LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one plan")
}
