package world

// WorldMetrics is a thread-safe read-only view of key world runtime signals.
// It is updated from the world loop goroutine and read from HTTP handlers/tests.
type WorldMetrics struct {
	Tick uint64 `json:"tick"`

	Operators  int `json:"operators"`
	Clients    int `json:"clients"`
	Stations   int `json:"stations"`
	Vehicles   int `json:"vehicles"`
	Industries int `json:"industries"`

	// LivePackets counts pool slots currently allocated across all
	// stations and vehicle holds.
	LivePackets int `json:"live_packets"`

	QueueDepths QueueDepths `json:"queue_depths"`

	StepMS float64 `json:"step_ms"`

	Ledger LedgerMetrics `json:"ledger"`
}

type QueueDepths struct {
	Inbox  int `json:"inbox"`
	Join   int `json:"join"`
	Leave  int `json:"leave"`
	Attach int `json:"attach"`
}

// LedgerMetrics copies the ledger scalars only; the per-cargo map stays
// inside the world loop.
type LedgerMetrics struct {
	Balance         int64  `json:"balance"`
	DeliveredUnits  uint64 `json:"delivered_units"`
	DeliveredIncome int64  `json:"delivered_income"`
	TransferCredits int64  `json:"transfer_credits"`
	TruncatedUnits  uint64 `json:"truncated_units"`
}

func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	v := w.metrics.Load()
	if v == nil {
		return WorldMetrics{}
	}
	m, ok := v.(WorldMetrics)
	if !ok {
		return WorldMetrics{}
	}
	return m
}
