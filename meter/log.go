package meter

import (
	"log/slog"

	"github.com/briefcast/quotacore"
)

// LogMeter logs core events using slog.
type LogMeter struct {
	Logger *slog.Logger
}

var _ quotacore.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnRate(e quotacore.RateEvent) {
	if e.Err != nil {
		m.Logger.Warn("rate_backend_error",
			"identity", e.Identity.Key,
			"kind", e.Identity.Kind,
			"category", e.Category,
			"error", e.Err,
		)
		return
	}
	if e.Decision.Allowed {
		return
	}
	m.Logger.Info("rate_denied",
		"identity", e.Identity.Key,
		"kind", e.Identity.Kind,
		"category", e.Category,
		"retry_after_ms", e.Decision.RetryAfter.Milliseconds(),
	)
}

func (m *LogMeter) OnReserve(e quotacore.ReserveEvent) {
	m.Logger.Info("reserve",
		"account", e.AccountID,
		"operation", e.OperationID,
		"amount", e.Amount,
		"op_kind", e.Kind,
		"unlimited", e.Unlimited,
	)
}

func (m *LogMeter) OnSettle(e quotacore.SettleEvent) {
	switch {
	case e.Reclaimed:
		m.Logger.Warn("reservation_reclaimed",
			"account", e.AccountID,
			"operation", e.OperationID,
			"amount", e.Amount,
		)
	case e.Consumed:
		m.Logger.Info("consume",
			"account", e.AccountID,
			"operation", e.OperationID,
			"amount", e.Amount,
			"new_balance", e.NewBalance,
		)
	default:
		m.Logger.Info("release",
			"account", e.AccountID,
			"operation", e.OperationID,
			"amount", e.Amount,
		)
	}
}

func (m *LogMeter) OnRenew(e quotacore.RenewEvent) {
	m.Logger.Info("monthly_renewal",
		"account", e.AccountID,
		"tier", e.Tier,
		"allotment", e.Allotment,
		"month", e.Month,
	)
}

func (m *LogMeter) OnSweep(e quotacore.SweepEvent) {
	if e.RateWindows == 0 && e.Locks == 0 && e.GuardEntries == 0 && e.Reservations == 0 {
		return
	}
	m.Logger.Info("sweep",
		"rate_windows", e.RateWindows,
		"locks", e.Locks,
		"guard_entries", e.GuardEntries,
		"reservations", e.Reservations,
		"elapsed_ms", e.Elapsed.Milliseconds(),
	)
}
