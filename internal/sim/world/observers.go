package world

import (
	"freightline.ai/internal/protocol"
)

// buildObs assembles the full-state frame one operator sees for this tick.
// Pending events ride along and are consumed; missed frames are recoverable
// through the retained-event cursor.
func (w *World) buildObs(o *Operator, nowTick uint64) protocol.ObsMsg {
	dayTicks := uint64(w.cfg.Tune.DayTicks)

	obs := protocol.ObsMsg{
		Type:            protocol.TypeObs,
		ProtocolVersion: protocol.Version,
		Tick:            nowTick,
		OperatorID:      o.ID,
		World: protocol.WorldObs{
			Day:         nowTick / dayTicks,
			DayTick:     int(nowTick % dayTicks),
			Stations:    len(w.stations),
			Vehicles:    len(w.vehicles),
			Industries:  len(w.industries),
			LivePackets: w.pool.Len(),
		},
		Ledger: protocol.LedgerObs{
			Balance:         int64(w.ledger.Balance),
			DeliveredUnits:  w.ledger.DeliveredUnits,
			DeliveredIncome: int64(w.ledger.DeliveredIncome),
			TransferCredits: int64(w.ledger.TransferCredits),
			TruncatedUnits:  w.ledger.TruncatedUnits,
		},
		Events:       o.TakeEvents(),
		EventsCursor: o.EventCursor,
	}

	obs.Stations = make([]protocol.StationObs, 0, len(w.stations))
	for _, sid := range sortedStationIDs(w.stations) {
		st := w.stations[sid]
		so := protocol.StationObs{
			ID:   uint16(st.ID),
			Name: st.Name,
			Tile: uint32(st.Tile),
		}
		for _, idx := range sortedGoodsIndexes(st.Goods) {
			ge := st.Goods[idx]
			so.Cargo = append(so.Cargo, protocol.StationCargoObs{
				Cargo:     w.catalogs.Cargoes.Palette[idx],
				Available: ge.Cargo.AvailableCount(),
				Reserved:  ge.Cargo.ReservedCount(),
				AvgDays:   ge.Cargo.DaysInTransit(),
				Accepted:  ge.Accepted,
			})
		}
		obs.Stations = append(obs.Stations, so)
	}

	obs.Vehicles = make([]protocol.VehicleObs, 0, len(w.vehicles))
	for _, vid := range sortedVehicleIDs(w.vehicles) {
		v := w.vehicles[vid]
		obs.Vehicles = append(obs.Vehicles, protocol.VehicleObs{
			ID:          v.ID,
			VehicleType: v.TypeID,
			State:       v.State.String(),
			AtStation:   uint16(v.AtStation),
			DestStation: uint16(v.DestStation),
			OrderIndex:  v.OrderIdx,
			Cargo: protocol.HoldObs{
				Cargo:       w.catalogs.Cargoes.Palette[v.CargoIndex],
				Stored:      v.Hold.StoredCount(),
				Reserved:    v.Hold.ReservedCount(),
				AvgDays:     v.Hold.DaysInTransit(),
				FeederShare: int64(v.Hold.FeederShare()),
			},
		})
	}

	return obs
}
