package meter

import "github.com/briefcast/quotacore"

// NoopMeter discards all events.
type NoopMeter struct{}

var _ quotacore.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnRate(quotacore.RateEvent)       {}
func (m *NoopMeter) OnReserve(quotacore.ReserveEvent) {}
func (m *NoopMeter) OnSettle(quotacore.SettleEvent)   {}
func (m *NoopMeter) OnRenew(quotacore.RenewEvent)     {}
func (m *NoopMeter) OnSweep(quotacore.SweepEvent)     {}
