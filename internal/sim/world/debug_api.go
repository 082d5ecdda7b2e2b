package world

import (
	"freightline.ai/internal/sim/cargo"
)

// ---- Debug/Test Helpers ----
//
// These helpers exist to allow black-box tests in sibling packages (e.g.
// internal/sim/worldtest) to set up deterministic preconditions and inspect
// outcomes without reaching into world internals.
//
// They are NOT safe to call concurrently with Run(). Prefer using them only
// in tests that drive the world via StepOnce(), from a single goroutine.

func (w *World) DebugStation(id cargo.StationID) *Station {
	if w == nil {
		return nil
	}
	return w.stations[id]
}

func (w *World) DebugVehicle(id uint32) *Vehicle {
	if w == nil {
		return nil
	}
	return w.vehicles[id]
}

func (w *World) DebugIndustry(id uint16) *Industry {
	if w == nil {
		return nil
	}
	return w.industries[id]
}

func (w *World) DebugLedger() Ledger {
	if w == nil {
		return Ledger{}
	}
	return w.ledger
}

// DebugPoolLen reports the number of live packets. Useful for asserting that
// teardown paths free everything they destroy.
func (w *World) DebugPoolLen() int {
	if w == nil {
		return 0
	}
	return w.pool.Len()
}

// DebugAddCargo drops units of a cargo type at a station the way industry
// production does: one fresh packet, routed by the station's planned flows.
// Reports false when the station or cargo type does not exist.
func (w *World) DebugAddCargo(station cargo.StationID, cargoID string, units uint, src cargo.SourceID) bool {
	if w == nil || units == 0 {
		return false
	}
	st := w.stations[station]
	if st == nil {
		return false
	}
	idx, ok := w.catalogs.Cargoes.Index[cargoID]
	if !ok {
		return false
	}
	ge := w.ensureGoods(st, idx)
	p := w.pool.NewPacket(units, cargo.Source{Type: cargo.SourceIndustry, ID: src}, station, st.Tile)
	ge.Cargo.Append(p, ge.DesiredHop(p))
	return true
}

// DebugStateDigest exposes the deterministic state digest for lockstep
// comparisons across worlds.
func (w *World) DebugStateDigest(nowTick uint64) string {
	if w == nil {
		return ""
	}
	return w.stateDigest(nowTick)
}
