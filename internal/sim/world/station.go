package world

import (
	"sort"

	"freightline.ai/internal/protocol"
	"freightline.ai/internal/sim/cargo"
)

type Station struct {
	ID   cargo.StationID
	Name string
	Tile cargo.TileIndex

	// Goods keyed by cargo palette index. Entries appear lazily the first
	// time a cargo type is handled here.
	Goods map[uint16]*GoodsEntry
}

// GoodsEntry tracks one cargo type at one station: the waiting packets, the
// acceptance switch and the operator-planned onward flows. It serves as the
// routing source for every cargo decision made at this station.
type GoodsEntry struct {
	Accepted bool
	Cargo    *cargo.StationCargoList

	// Flows maps a packet's origin station to the planned via stations,
	// first choice first. Missing origins fall back to the wildcard hop.
	Flows map[cargo.StationID][]cargo.StationID
}

func (ge *GoodsEntry) DesiredHop(p *cargo.Packet) cargo.StationID {
	via := ge.Flows[p.SourceStation()]
	if len(via) == 0 {
		return cargo.InvalidStation
	}
	return via[0]
}

func (ge *GoodsEntry) NextHop(p *cargo.Packet, avoid, avoid2 cargo.StationID) cargo.StationID {
	for _, hop := range ge.Flows[p.SourceStation()] {
		if hop != avoid && hop != avoid2 {
			return hop
		}
	}
	return cargo.InvalidStation
}

func (w *World) newStation(name string, tile cargo.TileIndex) *Station {
	idNum := w.nextStationNum.Add(1)
	id := cargo.StationID(idNum)
	st := &Station{
		ID:    id,
		Name:  name,
		Tile:  tile,
		Goods: map[uint16]*GoodsEntry{},
	}
	w.stations[id] = st
	return st
}

func (w *World) ensureGoods(st *Station, cargoIdx uint16) *GoodsEntry {
	ge := st.Goods[cargoIdx]
	if ge == nil {
		ge = &GoodsEntry{
			Cargo: cargo.NewStationCargoList(w.pool),
			Flows: map[cargo.StationID][]cargo.StationID{},
		}
		st.Goods[cargoIdx] = ge
	}
	return ge
}

func sortedStationIDs(stations map[cargo.StationID]*Station) []cargo.StationID {
	ids := make([]cargo.StationID, 0, len(stations))
	for id := range stations {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sortedGoodsIndexes(goods map[uint16]*GoodsEntry) []uint16 {
	idxs := make([]uint16, 0, len(goods))
	for idx := range goods {
		idxs = append(idxs, idx)
	}
	sort.Slice(idxs, func(i, j int) bool { return idxs[i] < idxs[j] })
	return idxs
}

func sortedFlowSources(flows map[cargo.StationID][]cargo.StationID) []cargo.StationID {
	srcs := make([]cargo.StationID, 0, len(flows))
	for src := range flows {
		srcs = append(srcs, src)
	}
	sort.Slice(srcs, func(i, j int) bool { return srcs[i] < srcs[j] })
	return srcs
}

// removeStation retires a station: waiting cargo everywhere is re-keyed away
// from it, hops aboard vehicles are rewritten, and only then are packets
// still naming it swept to the wildcard. Routing state referencing the
// station is dropped and vehicles bound for it are diverted.
func (w *World) removeStation(id cargo.StationID, actor string, nowTick uint64) {
	st := w.stations[id]
	if st == nil {
		return
	}

	// Re-key waiting cargo at every other station.
	for _, sid := range sortedStationIDs(w.stations) {
		other := w.stations[sid]
		if other.ID == id {
			continue
		}
		for _, idx := range sortedGoodsIndexes(other.Goods) {
			ge := other.Goods[idx]
			delete(ge.Flows, id)
			for src, via := range ge.Flows {
				trimmed := dropStationFromVia(via, id)
				if len(trimmed) == 0 {
					delete(ge.Flows, src)
					continue
				}
				ge.Flows[src] = trimmed
			}
			ge.Cargo.Reroute(id, id, ge)
		}
	}

	// Rewrite hops stamped on cargo aboard vehicles. The routing source is
	// the goods entry at the vehicle's next stop, when it has one.
	for _, vid := range sortedVehicleIDs(w.vehicles) {
		v := w.vehicles[vid]
		v.Hold.Reroute(id, id, w.routeProviderFor(v))
	}

	// Vehicles stopped here can still hold open reservations against the
	// waiting cargo. What is aboard stays aboard; the lists drop the
	// obligation before they are destroyed.
	for _, vid := range sortedVehicleIDs(w.vehicles) {
		v := w.vehicles[vid]
		if v.AtStation != id {
			continue
		}
		if r := v.Hold.ReservedCount(); r > 0 {
			v.Hold.Keep(cargo.ActionLoad, r)
			w.ensureGoods(st, v.CargoIndex).Cargo.ForgetReserved(r)
		}
	}

	// Sweep any packet fields still naming the station.
	w.pool.InvalidateStation(id)

	// The station's own cargo is destroyed with it.
	for _, idx := range sortedGoodsIndexes(st.Goods) {
		st.Goods[idx].Cargo.Clear()
	}
	delete(w.stations, id)

	// Orders naming the station disappear; vehicles bound for it divert.
	for _, vid := range sortedVehicleIDs(w.vehicles) {
		w.vehicleStationRemoved(w.vehicles[vid], id, nowTick)
	}

	w.broadcastEvent(protocol.Event{
		"t":       nowTick,
		"type":    "STATION_REMOVED",
		"station": uint16(id),
		"name":    st.Name,
	})
	w.audit(AuditEntry{Tick: nowTick, Actor: actor, Action: "REMOVE_STATION", Station: uint16(id)})
}

func dropStationFromVia(via []cargo.StationID, id cargo.StationID) []cargo.StationID {
	out := via[:0]
	for _, hop := range via {
		if hop != id {
			out = append(out, hop)
		}
	}
	return out
}

// routeProviderFor picks the routing source for cargo aboard a vehicle: the
// goods entry at its next stop. Vehicles without a destination route against
// nothing and their hops normalize to the wildcard.
func (w *World) routeProviderFor(v *Vehicle) cargo.RouteProvider {
	if v.DestStation == cargo.InvalidStation {
		return nil
	}
	st := w.stations[v.DestStation]
	if st == nil {
		return nil
	}
	ge := st.Goods[v.CargoIndex]
	if ge == nil {
		return nil
	}
	return ge
}
