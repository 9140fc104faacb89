package quotacore

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level core configuration.
type Config struct {
	Plans []Plan      `yaml:"plans"`
	Rate  RateConfig  `yaml:"rate"`
	Sweep SweepConfig `yaml:"sweep"`
}

// RateConfig tunes the rate limiter. Window limits are the base limits for
// account identities before the plan multiplier is applied; addr limits are
// fixed and stricter, covering unauthenticated callers.
type RateConfig struct {
	WindowLimit   int64 `yaml:"window_limit"`
	WindowSeconds int   `yaml:"window_seconds"`
	BurstLimit    int64 `yaml:"burst_limit"`
	BurstSeconds  int   `yaml:"burst_seconds"`

	ShortCooldownSeconds int `yaml:"short_cooldown_seconds"`
	LongCooldownSeconds  int `yaml:"long_cooldown_seconds"`

	AddrWindowLimit int64 `yaml:"addr_window_limit"`
	AddrBurstLimit  int64 `yaml:"addr_burst_limit"`

	ExemptCategories []Category `yaml:"exempt_categories"`

	// MaxKeys bounds the in-memory window table.
	MaxKeys int `yaml:"max_keys"`
}

func (r RateConfig) WindowPeriod() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

func (r RateConfig) BurstPeriod() time.Duration {
	return time.Duration(r.BurstSeconds) * time.Second
}

func (r RateConfig) ShortCooldown() time.Duration {
	return time.Duration(r.ShortCooldownSeconds) * time.Second
}

func (r RateConfig) LongCooldown() time.Duration {
	return time.Duration(r.LongCooldownSeconds) * time.Second
}

// SweepConfig tunes the background sweep loop.
type SweepConfig struct {
	IntervalSeconds       int `yaml:"interval_seconds"`
	ReservationTTLSeconds int `yaml:"reservation_ttl_seconds"`
	MaxAccountLocks       int `yaml:"max_account_locks"`
}

func (s SweepConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

func (s SweepConfig) ReservationTTL() time.Duration {
	return time.Duration(s.ReservationTTLSeconds) * time.Second
}

// DefaultConfig returns the production defaults. Callers typically start here
// and override the plan catalog.
func DefaultConfig() Config {
	return Config{
		Plans: []Plan{
			{Tier: TierFree, MonthlyCredits: 0, RateMultiplier: 1},
			{Tier: TierStarter, MonthlyCredits: 300, RateMultiplier: 2},
			{Tier: TierPro, MonthlyCredits: 1500, RateMultiplier: 4},
			{Tier: TierUnlimited, RateMultiplier: 8, Unlimited: true},
		},
		Rate: RateConfig{
			WindowLimit:          30,
			WindowSeconds:        60,
			BurstLimit:           15,
			BurstSeconds:         10,
			ShortCooldownSeconds: 5,
			LongCooldownSeconds:  30,
			AddrWindowLimit:      10,
			AddrBurstLimit:       5,
			ExemptCategories:     []Category{CategoryStatus, CategoryQuota},
			MaxKeys:              10000,
		},
		Sweep: SweepConfig{
			IntervalSeconds:       300,
			ReservationTTLSeconds: 900,
			MaxAccountLocks:       10000,
		},
	}
}

// LoadConfig reads and parses a YAML config file. Environment variables in
// the format ${VAR} are expanded before parsing. Fields left unset fall back
// to DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("quotacore: read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("quotacore: parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Plan resolves a tier against the catalog.
func (c Config) Plan(tier PlanTier) (Plan, bool) {
	for _, p := range c.Plans {
		if p.Tier == tier {
			return p, true
		}
	}
	return Plan{}, false
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	if len(c.Plans) == 0 {
		return fmt.Errorf("quotacore: config: at least one plan is required")
	}

	tiers := make(map[PlanTier]bool, len(c.Plans))
	for i, p := range c.Plans {
		if p.Tier == "" {
			return fmt.Errorf("quotacore: config: plans[%d]: tier is required", i)
		}
		if tiers[p.Tier] {
			return fmt.Errorf("quotacore: config: duplicate plan tier %q", p.Tier)
		}
		tiers[p.Tier] = true

		if p.MonthlyCredits < 0 {
			return fmt.Errorf("quotacore: config: plans[%d] (%s): monthly_credits must be >= 0", i, p.Tier)
		}
		if p.RateMultiplier <= 0 {
			return fmt.Errorf("quotacore: config: plans[%d] (%s): rate_multiplier must be > 0", i, p.Tier)
		}
	}

	r := c.Rate
	if r.WindowLimit <= 0 || r.BurstLimit <= 0 {
		return fmt.Errorf("quotacore: config: rate limits must be > 0")
	}
	if r.BurstLimit >= r.WindowLimit {
		return fmt.Errorf("quotacore: config: burst_limit (%d) must be below window_limit (%d)", r.BurstLimit, r.WindowLimit)
	}
	if r.WindowSeconds <= 0 || r.BurstSeconds <= 0 {
		return fmt.Errorf("quotacore: config: rate periods must be > 0")
	}
	if r.BurstSeconds >= r.WindowSeconds {
		return fmt.Errorf("quotacore: config: burst_seconds must be below window_seconds")
	}
	if r.ShortCooldownSeconds <= 0 || r.LongCooldownSeconds <= 0 {
		return fmt.Errorf("quotacore: config: cooldowns must be > 0")
	}
	if r.AddrWindowLimit <= 0 || r.AddrBurstLimit <= 0 {
		return fmt.Errorf("quotacore: config: addr limits must be > 0")
	}
	if r.MaxKeys <= 0 {
		return fmt.Errorf("quotacore: config: rate max_keys must be > 0")
	}

	if c.Sweep.IntervalSeconds <= 0 {
		return fmt.Errorf("quotacore: config: sweep interval_seconds must be > 0")
	}
	if c.Sweep.ReservationTTLSeconds <= 0 {
		return fmt.Errorf("quotacore: config: reservation_ttl_seconds must be > 0")
	}
	if c.Sweep.MaxAccountLocks <= 0 {
		return fmt.Errorf("quotacore: config: max_account_locks must be > 0")
	}

	return nil
}
