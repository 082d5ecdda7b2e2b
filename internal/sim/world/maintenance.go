package world

import (
	"freightline.ai/internal/protocol"
	"freightline.ai/internal/sim/cargo"
)

// systemCargoAging runs on day boundaries. Only cargo in motion ages;
// packets waiting at stations keep the transit days they arrived with.
func (w *World) systemCargoAging(nowTick uint64) {
	for _, id := range sortedVehicleIDs(w.vehicles) {
		w.vehicles[id].Hold.AgeCargo()
	}
}

// systemStorage enforces the per-goods storage cap, dropping the newest
// waiting cargo in deterministic station order. Reserved cargo is safe.
func (w *World) systemStorage(nowTick uint64) {
	capUnits := uint(w.cfg.Tune.StationStorageCap)
	if capUnits == 0 {
		return
	}
	batch := uint(w.cfg.Tune.TruncateBatch)
	if batch == 0 {
		batch = capUnits
	}
	for _, sid := range sortedStationIDs(w.stations) {
		st := w.stations[sid]
		for _, idx := range sortedGoodsIndexes(st.Goods) {
			ge := st.Goods[idx]
			have := ge.Cargo.AvailableCount()
			if have <= capUnits {
				continue
			}
			excess := have - capUnits
			if excess > batch {
				excess = batch
			}
			dropped := map[cargo.SourceID]uint{}
			cut := ge.Cargo.Truncate(excess, dropped)
			if cut == 0 {
				continue
			}
			w.ledger.TruncatedUnits += uint64(cut)
			cargoID := w.catalogs.Cargoes.Palette[idx]
			w.broadcastEvent(protocol.Event{
				"t":       nowTick,
				"type":    "CARGO_TRUNCATED",
				"station": uint16(sid),
				"cargo":   cargoID,
				"units":   cut,
				"sources": dropped,
			})
			w.audit(AuditEntry{
				Tick: nowTick, Actor: "world", Action: "TRUNCATE",
				Station: uint16(sid), Cargo: cargoID, Units: cut,
				Reason: "storage cap",
			})
		}
	}
}
