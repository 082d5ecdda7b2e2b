package world

import (
	"testing"

	"freightline.ai/internal/protocol"
)

// The metrics snapshot published after each step mirrors the ledger scalars
// and the entity counts without exposing live world state.
func TestMetrics_MirrorsLedgerAndCounts(t *testing.T) {
	w := newTestWorld(t, "main")
	id := joinOp(t, w, "dispatch")

	buildCoalRun(t, w, id)
	seedCargo(t, w, 1, "COAL", 50, 7)
	stepAct(w, id, protocol.CommandReq{ID: "C5", Type: "SET_ORDERS", VehicleID: 1, Orders: []protocol.OrderReq{
		{Station: 1},
		{Station: 2, Flags: []string{"UNLOAD"}},
	}})
	stepTicks(w, 40)

	m := w.Metrics()
	if m.Tick == 0 {
		t.Fatalf("metrics never published")
	}
	if m.Stations != 2 || m.Vehicles != 1 || m.Operators != 1 {
		t.Fatalf("counts: %d stations, %d vehicles, %d operators", m.Stations, m.Vehicles, m.Operators)
	}
	if m.Ledger.DeliveredUnits != w.ledger.DeliveredUnits || m.Ledger.DeliveredUnits != 50 {
		t.Fatalf("delivered units = %d, ledger says %d, want 50", m.Ledger.DeliveredUnits, w.ledger.DeliveredUnits)
	}
	if m.Ledger.Balance != int64(w.ledger.Balance) || m.Ledger.Balance != 8000 {
		t.Fatalf("balance = %d, ledger says %d, want 8000", m.Ledger.Balance, w.ledger.Balance)
	}
	if m.Ledger.DeliveredIncome != int64(w.ledger.DeliveredIncome) {
		t.Fatalf("delivered income = %d, ledger says %d", m.Ledger.DeliveredIncome, w.ledger.DeliveredIncome)
	}
	if m.Ledger.TransferCredits != int64(w.ledger.TransferCredits) || m.Ledger.TruncatedUnits != w.ledger.TruncatedUnits {
		t.Fatalf("transfer/truncated = %d/%d, ledger says %d/%d",
			m.Ledger.TransferCredits, m.Ledger.TruncatedUnits, w.ledger.TransferCredits, w.ledger.TruncatedUnits)
	}
	if m.LivePackets != w.pool.Len() {
		t.Fatalf("live packets = %d, pool tracks %d", m.LivePackets, w.pool.Len())
	}
}
