package world

import (
	"fmt"

	"freightline.ai/internal/protocol"
	"freightline.ai/internal/sim/cargo"
)

func (w *World) applyCommand(o *Operator, cmd protocol.CommandReq, nowTick uint64) {
	switch cmd.Type {
	case "CREATE_STATION":
		w.cmdCreateStation(o, cmd, nowTick)
	case "REMOVE_STATION":
		w.cmdRemoveStation(o, cmd, nowTick)
	case "SET_ACCEPT":
		w.cmdSetAccept(o, cmd, nowTick)
	case "SET_FLOW":
		w.cmdSetFlow(o, cmd, nowTick)
	case "CREATE_INDUSTRY":
		w.cmdCreateIndustry(o, cmd, nowTick)
	case "REMOVE_INDUSTRY":
		w.cmdRemoveIndustry(o, cmd, nowTick)
	case "CREATE_VEHICLE":
		w.cmdCreateVehicle(o, cmd, nowTick)
	case "REMOVE_VEHICLE":
		w.cmdRemoveVehicle(o, cmd, nowTick)
	case "SET_ORDERS":
		w.cmdSetOrders(o, cmd, nowTick)
	default:
		w.addEvent(o, actionResult(nowTick, cmd.ID, false, protocol.ErrBadRequest, "unknown command type"))
	}
}

func actionResult(tick uint64, ref string, ok bool, code string, message string) protocol.Event {
	if !protocol.IsKnownCode(code) {
		code = protocol.ErrInternal
		if message == "" {
			message = "unknown error code"
		}
	}
	e := protocol.Event{
		"t":    tick,
		"type": "ACTION_RESULT",
		"ref":  ref,
		"ok":   ok,
	}
	if code != "" {
		e["code"] = code
	}
	if message != "" {
		e["message"] = message
	}
	return e
}

func (w *World) cmdCreateStation(o *Operator, cmd protocol.CommandReq, nowTick uint64) {
	if cmd.Tile == uint32(cargo.InvalidTile) {
		w.addEvent(o, actionResult(nowTick, cmd.ID, false, protocol.ErrBadRequest, "invalid tile"))
		return
	}
	if w.nextStationNum.Load()+1 >= uint64(cargo.InvalidStation) {
		w.addEvent(o, actionResult(nowTick, cmd.ID, false, protocol.ErrNoResource, "station ids exhausted"))
		return
	}
	for _, st := range w.stations {
		if st.Tile == cargo.TileIndex(cmd.Tile) {
			w.addEvent(o, actionResult(nowTick, cmd.ID, false, protocol.ErrConflict, "tile already has a station"))
			return
		}
	}

	st := w.newStation(cmd.Name, cargo.TileIndex(cmd.Tile))
	if st.Name == "" {
		st.Name = fmt.Sprintf("Station %d", st.ID)
	}
	w.broadcastEvent(protocol.Event{
		"t":       nowTick,
		"type":    "STATION_CREATED",
		"station": uint16(st.ID),
		"name":    st.Name,
		"tile":    uint32(st.Tile),
	})
	w.audit(AuditEntry{Tick: nowTick, Actor: o.ID, Action: "CREATE_STATION", Station: uint16(st.ID)})
	w.addEvent(o, actionResult(nowTick, cmd.ID, true, "", fmt.Sprintf("station %d", st.ID)))
}

func (w *World) cmdRemoveStation(o *Operator, cmd protocol.CommandReq, nowTick uint64) {
	id := cargo.StationID(cmd.Station)
	if w.stations[id] == nil {
		w.addEvent(o, actionResult(nowTick, cmd.ID, false, protocol.ErrInvalidTarget, "station not found"))
		return
	}
	w.removeStation(id, o.ID, nowTick)
	w.addEvent(o, actionResult(nowTick, cmd.ID, true, "", "ok"))
}

func (w *World) cmdSetAccept(o *Operator, cmd protocol.CommandReq, nowTick uint64) {
	st := w.stations[cargo.StationID(cmd.Station)]
	if st == nil {
		w.addEvent(o, actionResult(nowTick, cmd.ID, false, protocol.ErrInvalidTarget, "station not found"))
		return
	}
	idx, ok := w.catalogs.Cargoes.Index[cmd.Cargo]
	if !ok {
		w.addEvent(o, actionResult(nowTick, cmd.ID, false, protocol.ErrBadRequest, "unknown cargo"))
		return
	}
	if cmd.Accept == nil {
		w.addEvent(o, actionResult(nowTick, cmd.ID, false, protocol.ErrBadRequest, "missing accept"))
		return
	}
	ge := w.ensureGoods(st, idx)
	ge.Accepted = *cmd.Accept
	w.audit(AuditEntry{
		Tick: nowTick, Actor: o.ID, Action: "SET_ACCEPT",
		Station: uint16(st.ID), Cargo: cmd.Cargo,
	})
	w.addEvent(o, actionResult(nowTick, cmd.ID, true, "", "ok"))
}

func (w *World) cmdSetFlow(o *Operator, cmd protocol.CommandReq, nowTick uint64) {
	st := w.stations[cargo.StationID(cmd.Station)]
	if st == nil {
		w.addEvent(o, actionResult(nowTick, cmd.ID, false, protocol.ErrInvalidTarget, "station not found"))
		return
	}
	idx, ok := w.catalogs.Cargoes.Index[cmd.Cargo]
	if !ok {
		w.addEvent(o, actionResult(nowTick, cmd.ID, false, protocol.ErrBadRequest, "unknown cargo"))
		return
	}
	src := cargo.StationID(cmd.SourceStation)
	if w.stations[src] == nil {
		w.addEvent(o, actionResult(nowTick, cmd.ID, false, protocol.ErrInvalidTarget, "source station not found"))
		return
	}
	via := make([]cargo.StationID, 0, len(cmd.Via))
	for _, hop := range cmd.Via {
		hid := cargo.StationID(hop)
		if hid == st.ID {
			w.addEvent(o, actionResult(nowTick, cmd.ID, false, protocol.ErrBadRequest, "via names the station itself"))
			return
		}
		if w.stations[hid] == nil {
			w.addEvent(o, actionResult(nowTick, cmd.ID, false, protocol.ErrInvalidTarget, "via station not found"))
			return
		}
		via = append(via, hid)
	}

	ge := w.ensureGoods(st, idx)
	if len(via) == 0 {
		delete(ge.Flows, src)
	} else {
		ge.Flows[src] = via
	}
	w.audit(AuditEntry{
		Tick: nowTick, Actor: o.ID, Action: "SET_FLOW",
		Station: uint16(st.ID), Cargo: cmd.Cargo, Units: uint(len(via)),
	})
	w.addEvent(o, actionResult(nowTick, cmd.ID, true, "", "ok"))
}

func (w *World) cmdCreateIndustry(o *Operator, cmd protocol.CommandReq, nowTick uint64) {
	if _, ok := w.catalogs.Industries.ByID[cmd.Industry]; !ok {
		w.addEvent(o, actionResult(nowTick, cmd.ID, false, protocol.ErrBadRequest, "unknown industry type"))
		return
	}
	st := w.stations[cargo.StationID(cmd.Station)]
	if st == nil {
		w.addEvent(o, actionResult(nowTick, cmd.ID, false, protocol.ErrInvalidTarget, "station not found"))
		return
	}
	if w.nextIndustryNum.Load()+1 >= uint64(cargo.InvalidSource) {
		w.addEvent(o, actionResult(nowTick, cmd.ID, false, protocol.ErrNoResource, "industry ids exhausted"))
		return
	}
	tile := cargo.TileIndex(cmd.Tile)
	if cmd.Tile == 0 || cmd.Tile == uint32(cargo.InvalidTile) {
		tile = st.Tile
	}

	ind := w.newIndustry(cmd.Industry, st.ID, tile)
	w.broadcastEvent(protocol.Event{
		"t":        nowTick,
		"type":     "INDUSTRY_CREATED",
		"industry": ind.ID,
		"station":  uint16(st.ID),
	})
	w.audit(AuditEntry{Tick: nowTick, Actor: o.ID, Action: "CREATE_INDUSTRY", Station: uint16(st.ID)})
	w.addEvent(o, actionResult(nowTick, cmd.ID, true, "", fmt.Sprintf("industry %d", ind.ID)))
}

func (w *World) cmdRemoveIndustry(o *Operator, cmd protocol.CommandReq, nowTick uint64) {
	ind := w.industries[cmd.IndustryID]
	if ind == nil {
		w.addEvent(o, actionResult(nowTick, cmd.ID, false, protocol.ErrInvalidTarget, "industry not found"))
		return
	}
	w.removeIndustry(ind, o.ID, nowTick)
	w.addEvent(o, actionResult(nowTick, cmd.ID, true, "", "ok"))
}

func (w *World) cmdCreateVehicle(o *Operator, cmd protocol.CommandReq, nowTick uint64) {
	if _, ok := w.catalogs.VehicleTypes.Defs[cmd.VehicleType]; !ok {
		w.addEvent(o, actionResult(nowTick, cmd.ID, false, protocol.ErrBadRequest, "unknown vehicle type"))
		return
	}
	st := w.stations[cargo.StationID(cmd.Station)]
	if st == nil {
		w.addEvent(o, actionResult(nowTick, cmd.ID, false, protocol.ErrInvalidTarget, "station not found"))
		return
	}

	v := w.newVehicle(cmd.VehicleType, st.ID)
	w.broadcastEvent(protocol.Event{
		"t":       nowTick,
		"type":    "VEHICLE_CREATED",
		"vehicle": v.ID,
		"station": uint16(st.ID),
	})
	w.audit(AuditEntry{Tick: nowTick, Actor: o.ID, Action: "CREATE_VEHICLE", Station: uint16(st.ID), Vehicle: v.ID})
	w.addEvent(o, actionResult(nowTick, cmd.ID, true, "", fmt.Sprintf("vehicle %d", v.ID)))
}

func (w *World) cmdRemoveVehicle(o *Operator, cmd protocol.CommandReq, nowTick uint64) {
	v := w.vehicles[cmd.VehicleID]
	if v == nil {
		w.addEvent(o, actionResult(nowTick, cmd.ID, false, protocol.ErrInvalidTarget, "vehicle not found"))
		return
	}
	w.removeVehicle(v, o.ID, nowTick)
	w.addEvent(o, actionResult(nowTick, cmd.ID, true, "", "ok"))
}

func (w *World) cmdSetOrders(o *Operator, cmd protocol.CommandReq, nowTick uint64) {
	v := w.vehicles[cmd.VehicleID]
	if v == nil {
		w.addEvent(o, actionResult(nowTick, cmd.ID, false, protocol.ErrInvalidTarget, "vehicle not found"))
		return
	}
	if len(cmd.Orders) > 16 {
		w.addEvent(o, actionResult(nowTick, cmd.ID, false, protocol.ErrBadRequest, "too many orders"))
		return
	}
	orders := make([]Order, 0, len(cmd.Orders))
	for _, or := range cmd.Orders {
		sid := cargo.StationID(or.Station)
		if w.stations[sid] == nil {
			w.addEvent(o, actionResult(nowTick, cmd.ID, false, protocol.ErrInvalidTarget, "order station not found"))
			return
		}
		flags, fullLoad, err := parseOrderFlags(or.Flags)
		if err != nil {
			w.addEvent(o, actionResult(nowTick, cmd.ID, false, protocol.ErrBadRequest, err.Error()))
			return
		}
		orders = append(orders, Order{Station: sid, Flags: flags, FullLoad: fullLoad})
	}

	w.abortStop(v)
	v.Orders = orders
	v.OrderIdx = 0

	switch {
	case len(orders) == 0:
		v.DestStation = cargo.InvalidStation
		v.State = StateIdle
	case v.State == StateEnRoute:
		// Divert the running leg to the new first stop.
		v.DestStation = orders[0].Station
		v.LegTicksLeft = v.spec(w.catalogs).TicksPerLeg
	default:
		w.startOrders(v, nowTick)
	}

	w.audit(AuditEntry{
		Tick: nowTick, Actor: o.ID, Action: "SET_ORDERS",
		Vehicle: v.ID, Units: uint(len(orders)),
	})
	w.addEvent(o, actionResult(nowTick, cmd.ID, true, "", "ok"))
}

func parseOrderFlags(names []string) (flags cargo.OrderFlags, fullLoad bool, err error) {
	for _, name := range names {
		switch name {
		case "UNLOAD":
			flags |= cargo.OrderUnload
		case "TRANSFER":
			flags |= cargo.OrderTransfer
		case "NO_UNLOAD":
			flags |= cargo.OrderNoUnload
		case "NO_LOAD":
			flags |= cargo.OrderNoLoad
		case "FULL_LOAD":
			fullLoad = true
		default:
			return 0, false, fmt.Errorf("unknown order flag %q", name)
		}
	}
	if flags&cargo.OrderNoUnload != 0 && flags&(cargo.OrderUnload|cargo.OrderTransfer) != 0 {
		return 0, false, fmt.Errorf("NO_UNLOAD conflicts with UNLOAD/TRANSFER")
	}
	if fullLoad && flags&cargo.OrderNoLoad != 0 {
		return 0, false, fmt.Errorf("FULL_LOAD conflicts with NO_LOAD")
	}
	return flags, fullLoad, nil
}
