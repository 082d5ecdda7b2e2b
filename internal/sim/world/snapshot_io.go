package world

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"freightline.ai/internal/persistence/snapshot"
	"freightline.ai/internal/sim/cargo"
	"freightline.ai/internal/sim/tuning"
)

type snapReq struct {
	Resp chan snapResp
}

type snapResp struct {
	Tick uint64
	Err  string
}

// RequestSnapshot asks the world loop goroutine to enqueue a snapshot.
// It is safe to call from other goroutines (e.g. HTTP handlers).
func (w *World) RequestSnapshot(ctx context.Context) (tick uint64, err error) {
	if w == nil {
		return 0, errors.New("world not running")
	}
	resp := make(chan snapResp, 1)
	req := snapReq{Resp: resp}

	select {
	case w.snapReq <- req:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case r := <-resp:
		if r.Err != "" {
			return r.Tick, errors.New(r.Err)
		}
		return r.Tick, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (w *World) handleSnapReq(req snapReq) {
	cur := w.tick.Load()
	snapTick := uint64(0)
	if cur > 0 {
		snapTick = cur - 1
	}

	errStr := ""
	if w.snapshotSink == nil {
		errStr = "snapshot sink not configured"
	} else {
		snap := w.ExportSnapshot(snapTick)
		select {
		case w.snapshotSink <- snap:
		default:
			errStr = "snapshot sink busy"
		}
	}

	if req.Resp != nil {
		select {
		case req.Resp <- snapResp{Tick: snapTick, Err: errStr}:
		default:
		}
	}
}

func packetV2(p *cargo.Packet) snapshot.PacketV2 {
	st := p.State()
	return snapshot.PacketV2{
		Count:         st.Count,
		DaysInTransit: st.DaysInTransit,
		FeederShare:   st.FeederShare,
		SourceType:    st.SourceType,
		SourceID:      st.SourceID,
		SourceStation: st.SourceStation,
		SourceTile:    st.SourceTile,
		LoadedAt:      st.LoadedAt,
		NextStation:   st.NextStation,
	}
}

func packetState(pv snapshot.PacketV2) cargo.PacketState {
	return cargo.PacketState{
		Count:         pv.Count,
		DaysInTransit: pv.DaysInTransit,
		FeederShare:   pv.FeederShare,
		SourceType:    pv.SourceType,
		SourceID:      pv.SourceID,
		SourceStation: pv.SourceStation,
		SourceTile:    pv.SourceTile,
		LoadedAt:      pv.LoadedAt,
		NextStation:   pv.NextStation,
	}
}

// ExportSnapshot captures the authoritative state at nowTick. Must be called
// from the world loop goroutine.
func (w *World) ExportSnapshot(nowTick uint64) snapshot.SnapshotV2 {
	snap := snapshot.SnapshotV2{
		Header: snapshot.Header{
			Version: snapshot.CurrentVersion,
			WorldID: w.cfg.ID,
			Tick:    nowTick,
		},
		Seed:               w.cfg.Seed,
		TickRate:           w.cfg.Tune.TickRateHz,
		DayTicks:           w.cfg.Tune.DayTicks,
		SnapshotEveryTicks: w.cfg.Tune.SnapshotEveryTicks,
		PacketPoolCap:      w.cfg.Tune.PacketPoolCap,
		StationStorageCap:  w.cfg.Tune.StationStorageCap,
		TruncateBatch:      w.cfg.Tune.TruncateBatch,
		PaymentRatePct:     w.cfg.Tune.PaymentRatePct,
		RateLimits: snapshot.RateLimitsV2{
			ActWindowTicks: w.cfg.Tune.RateLimits.ActWindowTicks,
			ActMax:         w.cfg.Tune.RateLimits.ActMax,
		},
		Counters: snapshot.CountersV2{
			NextOperator: w.nextOperatorNum.Load(),
			NextStation:  w.nextStationNum.Load(),
			NextVehicle:  w.nextVehicleNum.Load(),
			NextIndustry: w.nextIndustryNum.Load(),
			EventCursor:  w.eventCursor,
		},
	}

	snap.Stations = make([]snapshot.StationV2, 0, len(w.stations))
	for _, sid := range sortedStationIDs(w.stations) {
		st := w.stations[sid]
		sv := snapshot.StationV2{
			ID:   uint16(st.ID),
			Name: st.Name,
			Tile: uint32(st.Tile),
		}
		for _, idx := range sortedGoodsIndexes(st.Goods) {
			ge := st.Goods[idx]
			cv := snapshot.StationCargoV2{
				Cargo:    w.catalogs.Cargoes.Palette[idx],
				Accepted: ge.Accepted,
				Reserved: ge.Cargo.ReservedCount(),
			}
			// ForEach walks hop keys in ascending order, so consecutive
			// packets with the same hop form exactly one bucket.
			ge.Cargo.ForEach(func(hop cargo.StationID, p *cargo.Packet) {
				n := len(cv.Buckets)
				if n == 0 || cv.Buckets[n-1].NextHop != uint16(hop) {
					cv.Buckets = append(cv.Buckets, snapshot.BucketV2{NextHop: uint16(hop)})
					n = len(cv.Buckets)
				}
				cv.Buckets[n-1].Packets = append(cv.Buckets[n-1].Packets, packetV2(p))
			})
			for _, src := range sortedFlowSources(ge.Flows) {
				via := ge.Flows[src]
				fv := snapshot.FlowV2{SourceStation: uint16(src), Via: make([]uint16, 0, len(via))}
				for _, hop := range via {
					fv.Via = append(fv.Via, uint16(hop))
				}
				cv.Flows = append(cv.Flows, fv)
			}
			sv.Cargo = append(sv.Cargo, cv)
		}
		snap.Stations = append(snap.Stations, sv)
	}

	snap.Vehicles = make([]snapshot.VehicleV2, 0, len(w.vehicles))
	for _, vid := range sortedVehicleIDs(w.vehicles) {
		v := w.vehicles[vid]
		vv := snapshot.VehicleV2{
			ID:           v.ID,
			VehicleType:  v.TypeID,
			State:        uint8(v.State),
			AtStation:    uint16(v.AtStation),
			DestStation:  uint16(v.DestStation),
			LegTicksLeft: v.LegTicksLeft,
			OrderIndex:   v.OrderIdx,
			ActionCounts: v.Hold.ActionCounts(),
		}
		for _, ord := range v.Orders {
			vv.Orders = append(vv.Orders, snapshot.OrderV2{
				Station:  uint16(ord.Station),
				Flags:    uint8(ord.Flags),
				FullLoad: ord.FullLoad,
			})
		}
		v.Hold.ForEach(func(p *cargo.Packet) {
			vv.Packets = append(vv.Packets, packetV2(p))
		})
		snap.Vehicles = append(snap.Vehicles, vv)
	}

	snap.Industries = make([]snapshot.IndustryV2, 0, len(w.industries))
	for _, iid := range sortedIndustryIDs(w.industries) {
		ind := w.industries[iid]
		snap.Industries = append(snap.Industries, snapshot.IndustryV2{
			ID:      ind.ID,
			Type:    ind.Type,
			Station: uint16(ind.Station),
			Tile:    uint32(ind.Tile),
		})
	}

	snap.Operators = make([]snapshot.OperatorV2, 0, len(w.operators))
	for _, oid := range sortedOperatorIDs(w.operators) {
		o := w.operators[oid]
		snap.Operators = append(snap.Operators, snapshot.OperatorV2{
			ID:          o.ID,
			Name:        o.Name,
			ResumeToken: o.ResumeToken,
			EventCursor: o.EventCursor,
		})
	}

	snap.Ledger = snapshot.LedgerV2{
		Balance:         int64(w.ledger.Balance),
		DeliveredUnits:  w.ledger.DeliveredUnits,
		DeliveredIncome: int64(w.ledger.DeliveredIncome),
		TransferCredits: int64(w.ledger.TransferCredits),
		TruncatedUnits:  w.ledger.TruncatedUnits,
	}
	cargoIDs := make([]string, 0, len(w.ledger.PerCargo))
	for id := range w.ledger.PerCargo {
		cargoIDs = append(cargoIDs, id)
	}
	sort.Strings(cargoIDs)
	for _, id := range cargoIDs {
		t := w.ledger.PerCargo[id]
		snap.Ledger.PerCargo = append(snap.Ledger.PerCargo, snapshot.CargoTotalsV2{
			Cargo:           id,
			DeliveredUnits:  t.DeliveredUnits,
			DeliveredIncome: int64(t.DeliveredIncome),
		})
	}

	return snap
}

// ImportSnapshot replaces the current in-memory world state with the
// snapshot and sets the world's tick to snapshotTick+1 (the next tick to
// simulate). Nothing is committed if any part of the snapshot fails to
// validate.
//
// This must be called only when the world is stopped or from the world
// loop goroutine.
func (w *World) ImportSnapshot(s snapshot.SnapshotV2) error {
	if s.Header.Version < 1 || s.Header.Version > snapshot.CurrentVersion {
		return fmt.Errorf("unsupported snapshot version: %d", s.Header.Version)
	}
	if s.Header.WorldID != w.cfg.ID {
		return fmt.Errorf("snapshot world mismatch: cfg=%q snap=%q", w.cfg.ID, s.Header.WorldID)
	}
	if w.cfg.Seed != s.Seed {
		return fmt.Errorf("snapshot seed mismatch: cfg=%d snap=%d", w.cfg.Seed, s.Seed)
	}
	if w.cfg.Tune.DayTicks != s.DayTicks {
		return fmt.Errorf("snapshot day_ticks mismatch: cfg=%d snap=%d", w.cfg.Tune.DayTicks, s.DayTicks)
	}

	// Operational parameters: the snapshot is authoritative when present,
	// so a resumed world replays the same way it ran. Staged here, committed
	// with the rest of the state below.
	tune := w.cfg.Tune
	if s.TickRate > 0 {
		tune.TickRateHz = s.TickRate
	}
	if s.SnapshotEveryTicks > 0 {
		tune.SnapshotEveryTicks = s.SnapshotEveryTicks
	}
	if s.PacketPoolCap > 0 {
		tune.PacketPoolCap = s.PacketPoolCap
	}
	if s.StationStorageCap > 0 {
		tune.StationStorageCap = s.StationStorageCap
	}
	if s.TruncateBatch > 0 {
		tune.TruncateBatch = s.TruncateBatch
	}
	if s.PaymentRatePct > 0 {
		tune.PaymentRatePct = s.PaymentRatePct
	}
	if s.RateLimits.ActWindowTicks > 0 || s.RateLimits.ActMax > 0 {
		tune.RateLimits = tuning.RateLimits{
			ActWindowTicks: s.RateLimits.ActWindowTicks,
			ActMax:         s.RateLimits.ActMax,
		}
	}

	pool := cargo.NewPool(tune.PacketPoolCap)

	stations := map[cargo.StationID]*Station{}
	for _, sv := range s.Stations {
		id := cargo.StationID(sv.ID)
		if id == 0 || id == cargo.InvalidStation {
			return fmt.Errorf("station %d: reserved id", sv.ID)
		}
		if _, dup := stations[id]; dup {
			return fmt.Errorf("station %d: duplicate id", sv.ID)
		}
		st := &Station{
			ID:    id,
			Name:  sv.Name,
			Tile:  cargo.TileIndex(sv.Tile),
			Goods: map[uint16]*GoodsEntry{},
		}
		for _, cv := range sv.Cargo {
			idx, ok := w.catalogs.Cargoes.Index[cv.Cargo]
			if !ok {
				return fmt.Errorf("station %d: unknown cargo %q", sv.ID, cv.Cargo)
			}
			if _, dup := st.Goods[idx]; dup {
				return fmt.Errorf("station %d: duplicate cargo %q", sv.ID, cv.Cargo)
			}
			ge := &GoodsEntry{
				Accepted: cv.Accepted,
				Cargo:    cargo.NewStationCargoList(pool),
				Flows:    map[cargo.StationID][]cargo.StationID{},
			}
			for _, bv := range cv.Buckets {
				pkts := make([]*cargo.Packet, 0, len(bv.Packets))
				for _, pv := range bv.Packets {
					p, err := pool.RestorePacket(packetState(pv))
					if err != nil {
						return fmt.Errorf("station %d cargo %q: %w", sv.ID, cv.Cargo, err)
					}
					pkts = append(pkts, p)
				}
				hop := cargo.StationID(bv.NextHop)
				if s.Header.Version < 2 {
					// Per-hop buckets postdate v1; fold everything into
					// the wildcard bucket.
					hop = cargo.InvalidStation
				}
				ge.Cargo.RestoreBucket(hop, pkts)
			}
			ge.Cargo.RestoreReserved(cv.Reserved)
			for _, fv := range cv.Flows {
				via := make([]cargo.StationID, 0, len(fv.Via))
				for _, hop := range fv.Via {
					via = append(via, cargo.StationID(hop))
				}
				ge.Flows[cargo.StationID(fv.SourceStation)] = via
			}
			st.Goods[idx] = ge
		}
		stations[id] = st
	}

	vehicles := map[uint32]*Vehicle{}
	for _, vv := range s.Vehicles {
		if _, dup := vehicles[vv.ID]; dup {
			return fmt.Errorf("vehicle %d: duplicate id", vv.ID)
		}
		def, ok := w.catalogs.VehicleTypes.Defs[vv.VehicleType]
		if !ok {
			return fmt.Errorf("vehicle %d: unknown vehicle type %q", vv.ID, vv.VehicleType)
		}
		cargoIdx, ok := w.catalogs.Cargoes.Index[def.Cargo]
		if !ok {
			return fmt.Errorf("vehicle %d: type %q carries unknown cargo %q", vv.ID, vv.VehicleType, def.Cargo)
		}
		if vv.State > uint8(StateIdle) {
			return fmt.Errorf("vehicle %d: unknown state %d", vv.ID, vv.State)
		}
		if len(vv.Orders) > 0 && (vv.OrderIndex < 0 || vv.OrderIndex >= len(vv.Orders)) {
			return fmt.Errorf("vehicle %d: order index %d out of range", vv.ID, vv.OrderIndex)
		}
		if at := cargo.StationID(vv.AtStation); at != cargo.InvalidStation {
			if _, ok := stations[at]; !ok {
				return fmt.Errorf("vehicle %d: at unknown station %d", vv.ID, vv.AtStation)
			}
		}
		if dst := cargo.StationID(vv.DestStation); dst != cargo.InvalidStation {
			if _, ok := stations[dst]; !ok {
				return fmt.Errorf("vehicle %d: destined for unknown station %d", vv.ID, vv.DestStation)
			}
		}

		hold := cargo.NewVehicleCargoList(pool)
		pkts := make([]*cargo.Packet, 0, len(vv.Packets))
		for _, pv := range vv.Packets {
			p, err := pool.RestorePacket(packetState(pv))
			if err != nil {
				return fmt.Errorf("vehicle %d: %w", vv.ID, err)
			}
			pkts = append(pkts, p)
		}
		if err := hold.Restore(pkts, vv.ActionCounts); err != nil {
			return fmt.Errorf("vehicle %d: %w", vv.ID, err)
		}

		orders := make([]Order, 0, len(vv.Orders))
		for _, ov := range vv.Orders {
			orders = append(orders, Order{
				Station:  cargo.StationID(ov.Station),
				Flags:    cargo.OrderFlags(ov.Flags),
				FullLoad: ov.FullLoad,
			})
		}

		vehicles[vv.ID] = &Vehicle{
			ID:           vv.ID,
			TypeID:       vv.VehicleType,
			CargoIndex:   cargoIdx,
			Hold:         hold,
			Orders:       orders,
			OrderIdx:     vv.OrderIndex,
			State:        VehicleState(vv.State),
			AtStation:    cargo.StationID(vv.AtStation),
			DestStation:  cargo.StationID(vv.DestStation),
			LegTicksLeft: vv.LegTicksLeft,
		}
	}

	industries := map[uint16]*Industry{}
	for _, iv := range s.Industries {
		if _, dup := industries[iv.ID]; dup {
			return fmt.Errorf("industry %d: duplicate id", iv.ID)
		}
		if _, ok := w.catalogs.Industries.ByID[iv.Type]; !ok {
			return fmt.Errorf("industry %d: unknown industry type %q", iv.ID, iv.Type)
		}
		if st := cargo.StationID(iv.Station); st != cargo.InvalidStation {
			if _, ok := stations[st]; !ok {
				return fmt.Errorf("industry %d: attached to unknown station %d", iv.ID, iv.Station)
			}
		}
		industries[iv.ID] = &Industry{
			ID:      iv.ID,
			Type:    iv.Type,
			Station: cargo.StationID(iv.Station),
			Tile:    cargo.TileIndex(iv.Tile),
		}
	}

	operators := map[string]*Operator{}
	for _, ov := range s.Operators {
		if ov.ID == "" {
			return fmt.Errorf("operator with empty id")
		}
		if _, dup := operators[ov.ID]; dup {
			return fmt.Errorf("operator %s: duplicate id", ov.ID)
		}
		o := &Operator{
			ID:          ov.ID,
			Name:        ov.Name,
			ResumeToken: ov.ResumeToken,
			EventCursor: ov.EventCursor,
		}
		o.initDefaults()
		operators[ov.ID] = o
	}

	ledger := NewLedger()
	ledger.Balance = cargo.Money(s.Ledger.Balance)
	ledger.DeliveredUnits = s.Ledger.DeliveredUnits
	ledger.DeliveredIncome = cargo.Money(s.Ledger.DeliveredIncome)
	ledger.TransferCredits = cargo.Money(s.Ledger.TransferCredits)
	ledger.TruncatedUnits = s.Ledger.TruncatedUnits
	for _, tv := range s.Ledger.PerCargo {
		ledger.PerCargo[tv.Cargo] = &CargoTotals{
			DeliveredUnits:  tv.DeliveredUnits,
			DeliveredIncome: cargo.Money(tv.DeliveredIncome),
		}
	}

	// Legacy saves predate leg routing; stamp every live packet with the
	// wildcard hop.
	cargo.AfterLoad(s.Header.Version, pool)

	// Commit. Connected sessions are transport state and do not survive an
	// import.
	w.cfg.Tune = tune
	w.pool = pool
	w.stations = stations
	w.vehicles = vehicles
	w.industries = industries
	w.operators = operators
	w.clients = map[string]*clientState{}
	w.ledger = ledger

	w.nextOperatorNum.Store(s.Counters.NextOperator)
	w.nextStationNum.Store(s.Counters.NextStation)
	w.nextVehicleNum.Store(s.Counters.NextVehicle)
	w.nextIndustryNum.Store(s.Counters.NextIndustry)
	w.eventCursor = s.Counters.EventCursor

	w.tick.Store(s.Header.Tick + 1)
	return nil
}
