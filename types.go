package quotacore

import "time"

// PlanTier identifies an account's subscription tier.
type PlanTier string

const (
	TierFree      PlanTier = "free"
	TierStarter   PlanTier = "starter"
	TierPro       PlanTier = "pro"
	TierUnlimited PlanTier = "unlimited"
)

// Plan describes the quota characteristics of a tier. Plans are configuration
// data consumed by the core; pricing is owned by the billing layer.
type Plan struct {
	Tier           PlanTier `yaml:"tier"`
	MonthlyCredits int64    `yaml:"monthly_credits"`
	RateMultiplier float64  `yaml:"rate_multiplier"`
	Unlimited      bool     `yaml:"unlimited"`
}

// Account is the externally persisted account record, referenced by id.
// Balance is a non-negative credit count mutated only through the
// CreditManager and the renewal guard.
type Account struct {
	ID      string
	Tier    PlanTier
	Balance int64
}

// LedgerKind classifies a ledger entry.
type LedgerKind string

const (
	LedgerConsumption  LedgerKind = "consumption"
	LedgerPurchase     LedgerKind = "purchase"
	LedgerBonus        LedgerKind = "bonus"
	LedgerRefund       LedgerKind = "refund"
	LedgerMonthlyReset LedgerKind = "monthly_reset"
)

// LedgerEntry is one immutable row of the append-only ledger. Summing Delta
// over an account's entries from zero reproduces its current balance.
type LedgerEntry struct {
	AccountID    string
	Delta        int64
	BalanceAfter int64
	Kind         LedgerKind
	Description  string
	CreatedAt    time.Time
}

// OperationKind names the paid operation a reservation is backing.
type OperationKind string

const (
	OpSummarize  OperationKind = "summarize"
	OpTranscribe OperationKind = "transcribe"
	OpHighlight  OperationKind = "highlight"
)

// Reservation is an ephemeral two-phase hold on account balance. It lives in
// process memory only and is terminated by exactly one Consume or Release.
type Reservation struct {
	OperationID string
	AccountID   string
	Amount      int64
	Kind        OperationKind
	Unlimited   bool
	CreatedAt   time.Time
}

// IdentityKind distinguishes how a caller was identified.
type IdentityKind string

const (
	IdentityAccount IdentityKind = "account"
	IdentityAddr    IdentityKind = "addr"
)

// Identity is a resolved caller identity for rate limiting. Authenticated
// requests carry the account id and tier; unauthenticated requests carry the
// normalized source address. Resolution is the caller's job.
type Identity struct {
	Kind IdentityKind
	Key  string
	Tier PlanTier
}

// Category buckets requests for rate limiting. Low-cost diagnostic
// categories are exempt from counting so quota polling cannot starve itself.
type Category string

const (
	CategorySummarize Category = "summarize"
	CategoryUpload    Category = "upload"
	CategoryAuth      Category = "auth"
	CategoryStatus    Category = "status"
	CategoryQuota     Category = "quota"
)

// Decision is the rate limiter's verdict for a single request.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}
