package worldtest

import (
	"encoding/json"
	"fmt"
	"testing"

	"freightline.ai/internal/protocol"
	"freightline.ai/internal/sim/cargo"
	"freightline.ai/internal/sim/catalogs"
	world "freightline.ai/internal/sim/world"
)

// Harness is a small black-box test helper for driving a world via exported APIs:
// - Join() issues JoinRequest via StepOnce()
// - Command()/CommandFor() issue ACT via StepOnce()
// - Per-operator Out channels carry OBS JSON
// - ExportSnapshot/Debug* helpers provide deterministic preconditions
//
// It intentionally avoids touching world internals so tests can live outside
// the world package.
type Harness struct {
	T    *testing.T
	Cats *catalogs.Catalogs
	W    *world.World

	DefaultOperatorID string
	ResumeToken       string

	cmdSeq   int
	sessions map[string]*session
}

func NewHarness(t *testing.T, cfg world.WorldConfig, cats *catalogs.Catalogs, operatorName string) *Harness {
	t.Helper()

	w, err := world.New(cfg, cats)
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}

	h := &Harness{
		T:        t,
		Cats:     cats,
		W:        w,
		sessions: map[string]*session{},
	}
	h.DefaultOperatorID = h.Join(operatorName)
	return h
}

// NewHarnessWithWorld is like NewHarness, but uses an already-constructed
// world instance. This is useful for snapshot round-trip tests where the
// snapshot is imported before any session exists.
func NewHarnessWithWorld(t *testing.T, w *world.World, cats *catalogs.Catalogs) *Harness {
	t.Helper()
	if w == nil {
		t.Fatalf("NewHarnessWithWorld: nil world")
	}
	return &Harness{
		T:        t,
		Cats:     cats,
		W:        w,
		sessions: map[string]*session{},
	}
}

type session struct {
	OperatorID string
	Out        chan []byte
	lastObs    protocol.ObsMsg
}

func (h *Harness) Join(operatorName string) string {
	h.T.Helper()

	out := make(chan []byte, 16)
	resp := make(chan world.JoinResponse, 1)
	_, _ = h.W.StepOnce([]world.JoinRequest{{
		Name: operatorName,
		Out:  out,
		Resp: resp,
	}}, nil, nil)
	jr := <-resp
	if jr.Welcome.OperatorID == "" {
		h.T.Fatalf("join returned empty operator id")
	}
	s := &session{OperatorID: jr.Welcome.OperatorID, Out: out}
	h.sessions[s.OperatorID] = s
	if h.ResumeToken == "" {
		h.ResumeToken = jr.Welcome.ResumeToken
	}
	h.drainAllObs()
	return s.OperatorID
}

func (h *Harness) LastObs() protocol.ObsMsg {
	return h.LastObsFor(h.DefaultOperatorID)
}

func (h *Harness) LastObsFor(operatorID string) protocol.ObsMsg {
	h.T.Helper()
	s := h.sessions[operatorID]
	if s == nil {
		h.T.Fatalf("unknown operator id: %q", operatorID)
	}
	return s.lastObs
}

// Command applies the given commands as one ACT on the next tick and returns
// the default operator's OBS frame for that tick.
func (h *Harness) Command(cmds ...protocol.CommandReq) protocol.ObsMsg {
	return h.CommandFor(h.DefaultOperatorID, cmds...)
}

func (h *Harness) CommandFor(operatorID string, cmds ...protocol.CommandReq) protocol.ObsMsg {
	h.T.Helper()
	act := protocol.ActMsg{
		Type:            protocol.TypeAct,
		ProtocolVersion: protocol.Version,
		Tick:            h.W.CurrentTick(),
		OperatorID:      operatorID,
		Commands:        cmds,
	}
	_, _ = h.W.StepOnce(nil, nil, []world.ActionEnvelope{{
		OperatorID: operatorID,
		Act:        act,
	}})
	h.drainAllObs()
	return h.LastObsFor(operatorID)
}

// MustCommand is Command plus a check that every ACTION_RESULT in the frame
// reports ok.
func (h *Harness) MustCommand(cmds ...protocol.CommandReq) protocol.ObsMsg {
	h.T.Helper()
	obs := h.Command(cmds...)
	for _, ev := range obs.Events {
		if ev["type"] != "ACTION_RESULT" {
			continue
		}
		if ok, _ := ev["ok"].(bool); !ok {
			h.T.Fatalf("command %v failed: %v", ev["ref"], ev["message"])
		}
	}
	return obs
}

// NextCmdID hands out per-harness command ids (C1, C2, ...).
func (h *Harness) NextCmdID() string {
	h.cmdSeq++
	return fmt.Sprintf("C%d", h.cmdSeq)
}

func (h *Harness) StepNoop() protocol.ObsMsg {
	h.T.Helper()
	_, _ = h.W.StepOnce(nil, nil, nil)
	h.drainAllObs()
	return h.LastObs()
}

// StepFor advances n ticks with no actions.
func (h *Harness) StepFor(n int) {
	h.T.Helper()
	for i := 0; i < n; i++ {
		h.StepNoop()
	}
}

// StepUntil advances until cond holds, failing the test after max ticks.
// cond is evaluated after each tick. Returns the number of ticks stepped.
func (h *Harness) StepUntil(max int, cond func() bool) int {
	h.T.Helper()
	for i := 1; i <= max; i++ {
		h.StepNoop()
		if cond() {
			return i
		}
	}
	h.T.Fatalf("condition not reached within %d ticks", max)
	return 0
}

// AddStation creates a station and returns its id, read back from the
// STATION_CREATED broadcast.
func (h *Harness) AddStation(name string, x, y uint32) uint16 {
	h.T.Helper()
	obs := h.MustCommand(protocol.CommandReq{
		ID: h.NextCmdID(), Type: "CREATE_STATION", Name: name, Tile: x | y<<16,
	})
	ev := requireEvent(h.T, obs, "STATION_CREATED")
	return uint16(evUint(h.T, ev, "station"))
}

// AddVehicle creates a vehicle of the given type at a station and returns
// its id from the VEHICLE_CREATED broadcast.
func (h *Harness) AddVehicle(vehicleType string, at uint16) uint32 {
	h.T.Helper()
	obs := h.MustCommand(protocol.CommandReq{
		ID: h.NextCmdID(), Type: "CREATE_VEHICLE", VehicleType: vehicleType, Station: at,
	})
	ev := requireEvent(h.T, obs, "VEHICLE_CREATED")
	return uint32(evUint(h.T, ev, "vehicle"))
}

// AddIndustry attaches an industry of the given catalog type to a station.
func (h *Harness) AddIndustry(industryType string, at uint16) uint16 {
	h.T.Helper()
	obs := h.MustCommand(protocol.CommandReq{
		ID: h.NextCmdID(), Type: "CREATE_INDUSTRY", Industry: industryType, Station: at,
	})
	ev := requireEvent(h.T, obs, "INDUSTRY_CREATED")
	return uint16(evUint(h.T, ev, "industry"))
}

func (h *Harness) SetOrders(vehicleID uint32, orders ...protocol.OrderReq) {
	h.T.Helper()
	h.MustCommand(protocol.CommandReq{
		ID: h.NextCmdID(), Type: "SET_ORDERS", VehicleID: vehicleID, Orders: orders,
	})
}

func (h *Harness) SetAccept(station uint16, cargoID string, accept bool) {
	h.T.Helper()
	h.MustCommand(protocol.CommandReq{
		ID: h.NextCmdID(), Type: "SET_ACCEPT", Station: station, Cargo: cargoID, Accept: &accept,
	})
}

// SetFlow plans the onward via stations for cargo arriving at station from
// source. An empty via list clears the plan.
func (h *Harness) SetFlow(station uint16, cargoID string, source uint16, via ...uint16) {
	h.T.Helper()
	h.MustCommand(protocol.CommandReq{
		ID: h.NextCmdID(), Type: "SET_FLOW", Station: station, Cargo: cargoID,
		SourceStation: source, Via: via,
	})
}

// ProduceCargo seeds units at a station between ticks, the way production
// does. It is a Debug hook rather than a command so tests control exact
// packet boundaries.
func (h *Harness) ProduceCargo(station uint16, cargoID string, units uint, src uint16) {
	h.T.Helper()
	if !h.W.DebugAddCargo(cargo.StationID(station), cargoID, units, cargo.SourceID(src)) {
		h.T.Fatalf("DebugAddCargo(%d, %s, %d) returned false", station, cargoID, units)
	}
}

// StationCargo exposes one cargo list at a station for direct assertions on
// packet layout. Fails the test when the station has never handled the cargo.
func (h *Harness) StationCargo(station uint16, cargoID string) *cargo.StationCargoList {
	h.T.Helper()
	st := h.W.DebugStation(cargo.StationID(station))
	if st == nil {
		h.T.Fatalf("station %d not found", station)
	}
	idx, ok := h.Cats.Cargoes.Index[cargoID]
	if !ok {
		h.T.Fatalf("unknown cargo %q", cargoID)
	}
	ge := st.Goods[idx]
	if ge == nil {
		h.T.Fatalf("station %d has no %s entry", station, cargoID)
	}
	return ge.Cargo
}

// VehicleObs finds the vehicle summary in an OBS frame.
func (h *Harness) VehicleObs(obs protocol.ObsMsg, vehicleID uint32) (protocol.VehicleObs, bool) {
	for _, v := range obs.Vehicles {
		if v.ID == vehicleID {
			return v, true
		}
	}
	return protocol.VehicleObs{}, false
}

// StationCargoObs finds one cargo line of a station summary in an OBS frame.
func (h *Harness) StationCargoObs(obs protocol.ObsMsg, station uint16, cargoID string) (protocol.StationCargoObs, bool) {
	for _, st := range obs.Stations {
		if st.ID != station {
			continue
		}
		for _, c := range st.Cargo {
			if c.Cargo == cargoID {
				return c, true
			}
		}
	}
	return protocol.StationCargoObs{}, false
}

// RunStop drives a vehicle's current stop to completion: it steps until the
// vehicle reports EN_ROUTE or IDLE again, collecting every event seen along
// the way. Fails the test if the stop does not finish within max ticks.
func (h *Harness) RunStop(vehicleID uint32, max int) []protocol.Event {
	h.T.Helper()
	var events []protocol.Event
	for i := 0; i < max; i++ {
		obs := h.StepNoop()
		events = append(events, obs.Events...)
		v, ok := h.VehicleObs(obs, vehicleID)
		if !ok {
			h.T.Fatalf("vehicle %d missing from OBS", vehicleID)
		}
		if v.State == "EN_ROUTE" || v.State == "IDLE" {
			return events
		}
	}
	h.T.Fatalf("vehicle %d still mid-stop after %d ticks", vehicleID, max)
	return nil
}

func (h *Harness) drainAllObs() {
	h.T.Helper()
	for _, s := range h.sessions {
		h.drainOneObs(s)
	}
}

func (h *Harness) drainOneObs(s *session) {
	h.T.Helper()
	var last []byte
	for {
		select {
		case b := <-s.Out:
			last = b
			continue
		default:
		}
		break
	}
	if len(last) == 0 {
		return
	}
	var obs protocol.ObsMsg
	if err := json.Unmarshal(last, &obs); err != nil {
		h.T.Fatalf("unmarshal OBS: %v", err)
	}
	s.lastObs = obs
}

// requireEvent returns the first event of the given type in the frame.
func requireEvent(t *testing.T, obs protocol.ObsMsg, eventType string) protocol.Event {
	t.Helper()
	for _, ev := range obs.Events {
		if ev["type"] == eventType {
			return ev
		}
	}
	t.Fatalf("no %s event in frame at tick %d", eventType, obs.Tick)
	return nil
}

// eventsOfType filters a collected event slice.
func eventsOfType(events []protocol.Event, eventType string) []protocol.Event {
	var out []protocol.Event
	for _, ev := range events {
		if ev["type"] == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// evUint reads a numeric event field. OBS frames arrive as JSON, so numbers
// decode as float64.
func evUint(t *testing.T, ev protocol.Event, key string) uint64 {
	t.Helper()
	f, ok := ev[key].(float64)
	if !ok {
		t.Fatalf("event field %q missing or not numeric: %v", key, ev[key])
	}
	return uint64(f)
}
