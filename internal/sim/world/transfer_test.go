package world

import (
	"testing"

	"freightline.ai/internal/protocol"
	"freightline.ai/internal/sim/cargo"
)

// Two-leg feeder run: a branch train hands coal over at the junction, a
// main-line train carries it on to the accepting plant. The transfer leg
// earns a virtual share that rides with the cargo; real money moves only at
// final delivery.
func TestTransfer_FeederShareRidesWithCargo(t *testing.T) {
	w := newTestWorld(t, "main")
	id := joinOp(t, w, "dispatch")
	o := w.operators[id]

	stepAct(w, id,
		protocol.CommandReq{ID: "C1", Type: "CREATE_STATION", Name: "Mine Yard", Tile: uint32(tileAt(10, 10))},
		protocol.CommandReq{ID: "C2", Type: "CREATE_STATION", Name: "Junction", Tile: uint32(tileAt(30, 10))},
		protocol.CommandReq{ID: "C3", Type: "CREATE_STATION", Name: "Power Plant", Tile: uint32(tileAt(60, 10))},
		protocol.CommandReq{ID: "C4", Type: "SET_ACCEPT", Station: 3, Cargo: "COAL", Accept: boolPtr(true)},
		protocol.CommandReq{ID: "C5", Type: "CREATE_VEHICLE", VehicleType: "COAL_TRAIN", Station: 1},
		protocol.CommandReq{ID: "C6", Type: "CREATE_VEHICLE", VehicleType: "COAL_TRAIN", Station: 2},
	)

	seedCargo(t, w, 1, "COAL", 30, 7)

	stepAct(w, id,
		protocol.CommandReq{ID: "C7", Type: "SET_ORDERS", VehicleID: 1, Orders: []protocol.OrderReq{
			{Station: 1},
			{Station: 2, Flags: []string{"UNLOAD", "TRANSFER", "NO_LOAD"}},
		}},
		protocol.CommandReq{ID: "C8", Type: "SET_ORDERS", VehicleID: 2, Orders: []protocol.OrderReq{
			{Station: 2},
			{Station: 3, Flags: []string{"UNLOAD"}},
		}},
	)

	stepTicks(w, 80)

	// Leg one, 20 tiles at COAL's 60% transfer cut:
	//   leg income (120 + 20*2) * 30 = 4800, share 2880.
	// Final delivery prices the whole 50-tile route:
	//   (120 + 50*2) * 30 = 6600.
	const wantShare = 2880
	const wantIncome = 6600

	if w.ledger.TransferCredits != wantShare {
		t.Fatalf("transfer credits = %d, want %d", w.ledger.TransferCredits, wantShare)
	}
	if w.ledger.Balance != wantIncome {
		t.Fatalf("balance = %d, want %d (transfer shares must not touch it)", w.ledger.Balance, wantIncome)
	}
	if w.ledger.DeliveredUnits != 30 {
		t.Fatalf("delivered %d units, want 30", w.ledger.DeliveredUnits)
	}

	// Settlement is reported per unload tick; aggregate the events.
	var trUnits, delUnits uint
	var trShare, delIncome, legProfit int64
	for _, re := range o.Retained {
		switch re.Event["type"] {
		case "TRANSFER":
			if re.Event["station"] != uint16(2) {
				t.Fatalf("transfer at station %v, want 2", re.Event["station"])
			}
			trUnits += re.Event["units"].(uint)
			trShare += re.Event["share"].(int64)
		case "DELIVERY":
			if re.Event["station"] != uint16(3) {
				t.Fatalf("delivery at station %v, want 3", re.Event["station"])
			}
			delUnits += re.Event["units"].(uint)
			delIncome += re.Event["income"].(int64)
			legProfit += re.Event["leg_profit"].(int64)
		}
	}
	if trUnits != 30 || trShare != wantShare {
		t.Fatalf("transfer events sum to units=%d share=%d, want 30/%d", trUnits, trShare, wantShare)
	}
	if delUnits != 30 || delIncome != wantIncome {
		t.Fatalf("delivery events sum to units=%d income=%d, want 30/%d", delUnits, delIncome, wantIncome)
	}
	// The main-line leg's profit is the route income minus the branch
	// train's share.
	if legProfit != wantIncome-wantShare {
		t.Fatalf("leg profit = %d, want %d", legProfit, wantIncome-wantShare)
	}

	if w.pool.Len() != 0 {
		t.Fatalf("pool still tracks %d live packets", w.pool.Len())
	}
}

// NO_UNLOAD holds cargo aboard through an accepting stop.
func TestStage_NoUnloadKeepsCargoAboard(t *testing.T) {
	w := newTestWorld(t, "main")
	id := joinOp(t, w, "dispatch")

	stepAct(w, id,
		protocol.CommandReq{ID: "C1", Type: "CREATE_STATION", Name: "A", Tile: uint32(tileAt(10, 10))},
		protocol.CommandReq{ID: "C2", Type: "CREATE_STATION", Name: "B", Tile: uint32(tileAt(20, 10))},
		protocol.CommandReq{ID: "C3", Type: "CREATE_STATION", Name: "C", Tile: uint32(tileAt(30, 10))},
		protocol.CommandReq{ID: "C4", Type: "SET_ACCEPT", Station: 2, Cargo: "COAL", Accept: boolPtr(true)},
		protocol.CommandReq{ID: "C5", Type: "SET_ACCEPT", Station: 3, Cargo: "COAL", Accept: boolPtr(true)},
		protocol.CommandReq{ID: "C6", Type: "CREATE_VEHICLE", VehicleType: "COAL_TRAIN", Station: 1},
	)
	seedCargo(t, w, 1, "COAL", 25, 7)

	stepAct(w, id, protocol.CommandReq{ID: "C7", Type: "SET_ORDERS", VehicleID: 1, Orders: []protocol.OrderReq{
		{Station: 1},
		{Station: 2, Flags: []string{"NO_UNLOAD", "NO_LOAD"}},
		{Station: 3, Flags: []string{"UNLOAD"}},
	}})

	stepTicks(w, 60)

	if got := countEvents(w.operators[id], "DELIVERY"); got == 0 {
		t.Fatalf("cargo never delivered")
	}
	del := lastEvent(w.operators[id], "DELIVERY")
	if del["station"] != uint16(3) {
		t.Fatalf("delivered at station %v, want 3 (B is NO_UNLOAD)", del["station"])
	}
	if w.ledger.DeliveredUnits != 25 {
		t.Fatalf("delivered %d units, want 25", w.ledger.DeliveredUnits)
	}
}

// Forced unload flags strip only cargo with no onward plan. Once the hub
// plans mine cargo onward via the plant, a train that does not serve the
// plant keeps that cargo aboard instead of dumping it at the hub.
func TestTransfer_PlannedFlowKeepsCargoAboard(t *testing.T) {
	w := newTestWorld(t, "main")
	id := joinOp(t, w, "dispatch")

	stepAct(w, id,
		protocol.CommandReq{ID: "C1", Type: "CREATE_STATION", Name: "Mine", Tile: uint32(tileAt(10, 10))},
		protocol.CommandReq{ID: "C2", Type: "CREATE_STATION", Name: "Hub", Tile: uint32(tileAt(30, 10))},
		protocol.CommandReq{ID: "C3", Type: "CREATE_STATION", Name: "Plant", Tile: uint32(tileAt(50, 10))},
		protocol.CommandReq{ID: "C4", Type: "CREATE_VEHICLE", VehicleType: "COAL_TRAIN", Station: 1},
	)
	seedCargo(t, w, 1, "COAL", 20, 7)

	stepAct(w, id, protocol.CommandReq{ID: "C5", Type: "SET_ORDERS", VehicleID: 1, Orders: []protocol.OrderReq{
		{Station: 1},
		{Station: 2, Flags: []string{"UNLOAD", "TRANSFER", "NO_LOAD"}},
	}})
	stepTicks(w, 20)

	// Unplanned cargo is handed over and queues under the wildcard hop.
	hub := w.stations[2]
	ge := hub.Goods[w.catalogs.Cargoes.Index["COAL"]]
	if ge == nil || ge.Cargo.AvailableCount() != 20 {
		t.Fatalf("hub cargo missing after transfer")
	}
	ge.Cargo.ForEach(func(hop cargo.StationID, p *cargo.Packet) {
		if hop != cargo.InvalidStation {
			t.Fatalf("transferred cargo keyed to hop %d, want wildcard", hop)
		}
	})

	// Plan the onward leg, then run another load of mine cargo to the hub.
	stepAct(w, id,
		protocol.CommandReq{ID: "C6", Type: "SET_FLOW", Station: 2, Cargo: "COAL", SourceStation: 1, Via: []uint16{3}},
	)
	seedCargo(t, w, 1, "COAL", 15, 7)
	stepTicks(w, 30)

	// The plan names the plant and the train never goes there: the cargo is
	// still useful aboard, so the forced flags leave it alone.
	if got := ge.Cargo.AvailableCount(); got != 20 {
		t.Fatalf("hub holds %d units, want the unplanned 20 only", got)
	}
	if got := w.vehicles[1].Hold.TotalCount(); got != 15 {
		t.Fatalf("train holds %d units, want the planned 15 kept aboard", got)
	}
}
