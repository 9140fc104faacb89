package quotacore

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors.
var (
	ErrUserNotFound        = errors.New("quotacore: user not found")
	ErrInsufficientCredits = errors.New("quotacore: insufficient credits")
	ErrReservationNotFound = errors.New("quotacore: reservation not found")
	ErrRateLimited         = errors.New("quotacore: rate limited")
	ErrIPRateLimited       = errors.New("quotacore: ip rate limited")
	ErrInvalidAmount       = errors.New("quotacore: reserve amount must be positive")
)

// InsufficientCreditsError reports why a reserve was refused. It carries the
// figures the UI displays; it unwraps to ErrInsufficientCredits.
type InsufficientCreditsError struct {
	AccountID string
	Balance   int64
	Available int64
	Requested int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("quotacore: insufficient credits for %s: balance=%d available=%d requested=%d",
		e.AccountID, e.Balance, e.Available, e.Requested)
}

func (e *InsufficientCreditsError) Unwrap() error {
	return ErrInsufficientCredits
}

// RateLimitError is returned by Core.RateCheck helpers when a caller is
// blocked. RetryAfter is how long the caller must back off.
type RateLimitError struct {
	Identity   Identity
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("quotacore: %s %q rate limited, retry after %s",
		e.Identity.Kind, e.Identity.Key, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	if e.Identity.Kind == IdentityAddr {
		return ErrIPRateLimited
	}
	return ErrRateLimited
}

// IsRecoverable returns true if the caller can succeed later without changing
// the request: rate limits expire and credits renew or can be purchased.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrIPRateLimited) ||
		errors.Is(err, ErrInsufficientCredits)
}
