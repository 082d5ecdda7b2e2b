package world

import (
	"sort"

	"freightline.ai/internal/protocol"
	"freightline.ai/internal/sim/cargo"
	"freightline.ai/internal/sim/catalogs"
)

type VehicleState uint8

const (
	StateEnRoute VehicleState = iota
	StateUnloading
	StateLoading
	StateIdle
)

func (s VehicleState) String() string {
	switch s {
	case StateEnRoute:
		return "EN_ROUTE"
	case StateUnloading:
		return "UNLOADING"
	case StateLoading:
		return "LOADING"
	case StateIdle:
		return "IDLE"
	default:
		return "UNKNOWN"
	}
}

type Order struct {
	Station  cargo.StationID
	Flags    cargo.OrderFlags
	FullLoad bool
}

type Vehicle struct {
	ID         uint32
	TypeID     string
	CargoIndex uint16

	Hold *cargo.VehicleCargoList

	Orders   []Order
	OrderIdx int

	State        VehicleState
	AtStation    cargo.StationID
	DestStation  cargo.StationID
	LegTicksLeft uint
}

func (v *Vehicle) spec(cats *catalogs.Catalogs) catalogs.VehicleTypeDef {
	return cats.VehicleTypes.Defs[v.TypeID]
}

func (v *Vehicle) currentOrder() (Order, bool) {
	if len(v.Orders) == 0 || v.OrderIdx < 0 || v.OrderIdx >= len(v.Orders) {
		return Order{}, false
	}
	return v.Orders[v.OrderIdx], true
}

// nextStopStack lists the stations the vehicle will call at after the
// current order, nearest first, deduplicated, capped at four entries.
func (v *Vehicle) nextStopStack() cargo.StationIDStack {
	var stack cargo.StationIDStack
	n := len(v.Orders)
	if n == 0 {
		return stack
	}
	for i := 1; i < n && len(stack) < 4; i++ {
		s := v.Orders[(v.OrderIdx+i)%n].Station
		if s == cargo.InvalidStation || stack.Contains(s) {
			continue
		}
		stack = append(stack, s)
	}
	return stack
}

func sortedVehicleIDs(vehicles map[uint32]*Vehicle) []uint32 {
	ids := make([]uint32, 0, len(vehicles))
	for id := range vehicles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (w *World) newVehicle(typeID string, at cargo.StationID) *Vehicle {
	def := w.catalogs.VehicleTypes.Defs[typeID]
	idNum := w.nextVehicleNum.Add(1)
	v := &Vehicle{
		ID:          uint32(idNum),
		TypeID:      typeID,
		CargoIndex:  w.catalogs.Cargoes.Index[def.Cargo],
		Hold:        cargo.NewVehicleCargoList(w.pool),
		State:       StateIdle,
		AtStation:   at,
		DestStation: cargo.InvalidStation,
	}
	w.vehicles[v.ID] = v
	return v
}

// systemVehicles advances every vehicle one tick in ID order: en-route legs
// count down, vehicles at a stop move cargo within the per-tick budget.
func (w *World) systemVehicles(nowTick uint64) {
	for _, id := range sortedVehicleIDs(w.vehicles) {
		v := w.vehicles[id]
		switch v.State {
		case StateEnRoute:
			if v.LegTicksLeft > 0 {
				v.LegTicksLeft--
			}
			if v.LegTicksLeft == 0 {
				w.vehicleArrive(v, nowTick)
			}
		case StateUnloading:
			w.vehicleUnloadTick(v, nowTick)
		case StateLoading:
			w.vehicleLoadTick(v, nowTick)
		case StateIdle:
			// Waiting for orders.
		}
	}
}

func (w *World) vehicleArrive(v *Vehicle, nowTick uint64) {
	v.AtStation = v.DestStation
	v.DestStation = cargo.InvalidStation
	st := w.stations[v.AtStation]
	if st == nil {
		// Destination vanished mid-leg and no diversion was possible.
		v.AtStation = cargo.InvalidStation
		v.State = StateIdle
		return
	}

	order, ok := v.currentOrder()
	if !ok {
		v.State = StateIdle
		return
	}

	ge := w.ensureGoods(st, v.CargoIndex)
	next := v.nextStopStack()
	v.Hold.Stage(ge.Accepted, st.ID, next, order.Flags, ge)

	v.State = StateUnloading
	w.broadcastEvent(protocol.Event{
		"t":       nowTick,
		"type":    "VEHICLE_ARRIVED",
		"vehicle": v.ID,
		"station": uint16(st.ID),
	})
}

func (w *World) vehicleUnloadTick(v *Vehicle, nowTick uint64) {
	st := w.stations[v.AtStation]
	if st == nil {
		v.State = StateIdle
		v.AtStation = cargo.InvalidStation
		return
	}
	def := v.spec(w.catalogs)
	ge := w.ensureGoods(st, v.CargoIndex)

	if v.Hold.UnloadCount() > 0 {
		pay := w.newStopPayment(v, st, nowTick)
		v.Hold.Unload(def.LoadPerTick, ge.Cargo, pay)
		pay.flush()
	}
	if v.Hold.UnloadCount() > 0 {
		return
	}

	// Unloading finished; set up the load phase.
	order, _ := v.currentOrder()
	if order.Flags&cargo.OrderNoLoad != 0 {
		w.vehicleDepart(v, st, nowTick)
		return
	}
	free := uint(0)
	if def.Capacity > v.Hold.TotalCount() {
		free = def.Capacity - v.Hold.TotalCount()
	}
	if free > 0 {
		ge.Cargo.Reserve(free, v.Hold, st.Tile, v.nextStopStack())
	}
	v.State = StateLoading
}

func (w *World) vehicleLoadTick(v *Vehicle, nowTick uint64) {
	st := w.stations[v.AtStation]
	if st == nil {
		v.State = StateIdle
		v.AtStation = cargo.InvalidStation
		return
	}
	def := v.spec(w.catalogs)
	ge := w.ensureGoods(st, v.CargoIndex)
	next := v.nextStopStack()

	// Committing a reservation consumes no free space; fresh cargo does.
	free := uint(0)
	if def.Capacity > v.Hold.TotalCount() {
		free = def.Capacity - v.Hold.TotalCount()
	}
	budget := def.LoadPerTick
	if maxMove := v.Hold.ReservedCount() + free; budget > maxMove {
		budget = maxMove
	}
	if budget > 0 {
		ge.Cargo.Load(budget, v.Hold, st.Tile, next)
	}

	// Reserved units sit in the hold but are not loaded yet; a vehicle is
	// full only once the whole reservation has been committed.
	full := v.Hold.ReservedCount() == 0 && v.Hold.TotalCount() >= def.Capacity
	order, _ := v.currentOrder()
	if order.FullLoad {
		if full {
			w.vehicleDepart(v, st, nowTick)
		}
		return
	}
	if full || (v.Hold.ReservedCount() == 0 && !ge.Cargo.HasCargoFor(next)) {
		w.vehicleDepart(v, st, nowTick)
	}
}

func (w *World) vehicleDepart(v *Vehicle, st *Station, nowTick uint64) {
	// A vehicle never leaves with an open reservation.
	if r := v.Hold.ReservedCount(); r > 0 {
		ge := w.ensureGoods(st, v.CargoIndex)
		v.Hold.Return(ge.Cargo, r)
	}

	if len(v.Orders) == 0 {
		v.State = StateIdle
		return
	}
	v.OrderIdx = (v.OrderIdx + 1) % len(v.Orders)
	dest := v.Orders[v.OrderIdx].Station
	if dest == v.AtStation {
		// Single-stop loop: stay put.
		v.State = StateIdle
		return
	}

	v.DestStation = dest
	v.AtStation = cargo.InvalidStation
	v.State = StateEnRoute
	v.LegTicksLeft = v.spec(w.catalogs).TicksPerLeg
	w.broadcastEvent(protocol.Event{
		"t":       nowTick,
		"type":    "VEHICLE_DEPARTED",
		"vehicle": v.ID,
		"station": uint16(st.ID),
		"dest":    uint16(dest),
	})
}

// startOrders points an idle vehicle at the first order's station, or stages
// a stop in place when it is already there.
func (w *World) startOrders(v *Vehicle, nowTick uint64) {
	if len(v.Orders) == 0 {
		return
	}
	first := v.Orders[v.OrderIdx].Station
	if v.AtStation == first {
		v.DestStation = first
		v.AtStation = cargo.InvalidStation
		v.LegTicksLeft = 0
		w.vehicleArrive(v, nowTick)
		return
	}
	v.DestStation = first
	v.AtStation = cargo.InvalidStation
	v.State = StateEnRoute
	v.LegTicksLeft = v.spec(w.catalogs).TicksPerLeg
}

// abortStop unwinds an in-progress stop before orders change: reservations
// go back to the station and staged cargo reverts to keep.
func (w *World) abortStop(v *Vehicle) {
	if v.State != StateUnloading && v.State != StateLoading {
		return
	}
	st := w.stations[v.AtStation]
	if st != nil {
		if r := v.Hold.ReservedCount(); r > 0 {
			ge := w.ensureGoods(st, v.CargoIndex)
			v.Hold.Return(ge.Cargo, r)
		}
	}
	v.Hold.KeepAll()
	v.State = StateIdle
}

// vehicleStationRemoved strips a retired station from the order list and
// diverts or idles the vehicle if it was using it.
func (w *World) vehicleStationRemoved(v *Vehicle, id cargo.StationID, nowTick uint64) {
	kept := v.Orders[:0]
	for i, o := range v.Orders {
		if o.Station == id {
			if i < v.OrderIdx {
				v.OrderIdx--
			}
			continue
		}
		kept = append(kept, o)
	}
	v.Orders = kept
	if v.OrderIdx < 0 || v.OrderIdx >= len(v.Orders) {
		v.OrderIdx = 0
	}

	if v.AtStation == id {
		// The ground vanished under an in-progress stop. Reservations were
		// already handled by the station teardown; cargo reverts to keep.
		v.Hold.KeepAll()
		v.AtStation = cargo.InvalidStation
		v.State = StateIdle
		if len(v.Orders) > 0 {
			w.startOrders(v, nowTick)
		}
		return
	}
	if v.State == StateEnRoute && v.DestStation == id {
		if len(v.Orders) == 0 {
			v.DestStation = cargo.InvalidStation
			v.State = StateIdle
			return
		}
		v.DestStation = v.Orders[v.OrderIdx].Station
		v.LegTicksLeft = v.spec(w.catalogs).TicksPerLeg
	}
}

// removeVehicle retires a vehicle. At a station, staged transfer cargo is
// handed over and reservations returned; everything else is destroyed with
// the vehicle.
func (w *World) removeVehicle(v *Vehicle, actor string, nowTick uint64) {
	st := w.stations[v.AtStation]
	if st != nil {
		ge := w.ensureGoods(st, v.CargoIndex)
		if r := v.Hold.ReservedCount(); r > 0 {
			v.Hold.Return(ge.Cargo, r)
		}
		v.Hold.Transfer(ge.Cargo)
	}
	lost := v.Hold.TotalCount()
	v.Hold.Clear()
	delete(w.vehicles, v.ID)

	w.broadcastEvent(protocol.Event{
		"t":       nowTick,
		"type":    "VEHICLE_REMOVED",
		"vehicle": v.ID,
		"lost":    lost,
	})
	w.audit(AuditEntry{Tick: nowTick, Actor: actor, Action: "REMOVE_VEHICLE", Vehicle: v.ID, Units: lost})
}
