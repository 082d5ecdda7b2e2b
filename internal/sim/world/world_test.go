package world

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"

	"freightline.ai/internal/protocol"
	"freightline.ai/internal/sim/cargo"
	"freightline.ai/internal/sim/catalogs"
	"freightline.ai/internal/sim/tuning"
)

func testDigest(v interface{}) string {
	b, _ := json.Marshal(v)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// testCatalogs builds a small fixed catalog set with round numbers so
// payment assertions stay exact. Legs are short to keep scenarios quick.
func testCatalogs() *catalogs.Catalogs {
	cargoDefs := []catalogs.CargoDef{
		{ID: "COAL", Label: "Coal", UnitWeight: 16, BaseRate: 120, RatePerTile: 2, PenaltyPerDay: 8, TransferCut: 60},
		{ID: "GOODS", Label: "Goods", UnitWeight: 8, BaseRate: 210, RatePerTile: 4, PenaltyPerDay: 18, TransferCut: 50},
	}
	vehicleDefs := []catalogs.VehicleTypeDef{
		{ID: "BOX_TRUCK", Label: "Box Truck", Cargo: "GOODS", Capacity: 32, TicksPerLeg: 3, LoadPerTick: 8},
		{ID: "COAL_TRAIN", Label: "Coal Train", Cargo: "COAL", Capacity: 120, TicksPerLeg: 4, LoadPerTick: 20},
	}
	industryDefs := []catalogs.IndustryDef{
		{ID: "CITY", Label: "City District", Accepts: []string{"GOODS"}},
		{ID: "COAL_MINE", Label: "Coal Mine", Produces: []catalogs.ProducedCargo{{Cargo: "COAL", UnitsPerDay: 60}}},
	}

	var c catalogs.Catalogs
	c.Cargoes.Defs = map[string]catalogs.CargoDef{}
	c.Cargoes.Index = map[string]uint16{}
	for i, d := range cargoDefs {
		c.Cargoes.Defs[d.ID] = d
		c.Cargoes.Palette = append(c.Cargoes.Palette, d.ID)
		c.Cargoes.Index[d.ID] = uint16(i)
	}
	c.Cargoes.PaletteDigest = testDigest(c.Cargoes.Palette)
	c.Cargoes.DefsDigest = testDigest(cargoDefs)

	c.VehicleTypes.Defs = map[string]catalogs.VehicleTypeDef{}
	c.VehicleTypes.Index = map[string]uint16{}
	for i, d := range vehicleDefs {
		c.VehicleTypes.Defs[d.ID] = d
		c.VehicleTypes.Palette = append(c.VehicleTypes.Palette, d.ID)
		c.VehicleTypes.Index[d.ID] = uint16(i)
	}
	c.VehicleTypes.PaletteDigest = testDigest(c.VehicleTypes.Palette)
	c.VehicleTypes.DefsDigest = testDigest(vehicleDefs)

	c.Industries.ByID = map[string]catalogs.IndustryDef{}
	for _, d := range industryDefs {
		c.Industries.ByID[d.ID] = d
	}
	c.Industries.Digest = testDigest(industryDefs)

	return &c
}

func testTuning() tuning.Tuning {
	t := tuning.Defaults()
	t.DayTicks = 1000 // keep transit-day aging out of short scenarios
	t.SnapshotEveryTicks = 0
	return t
}

func newTestWorld(t *testing.T, id string) *World {
	t.Helper()
	w, err := New(WorldConfig{ID: id, Seed: 42, Tune: testTuning()}, testCatalogs())
	if err != nil {
		t.Fatalf("new world: %v", err)
	}
	return w
}

// joinOp joins an operator synchronously, outside the tick loop.
func joinOp(t *testing.T, w *World, name string) string {
	t.Helper()
	resp := make(chan JoinResponse, 1)
	w.handleJoin(JoinRequest{Name: name, Resp: resp})
	r := <-resp
	if r.Welcome.OperatorID == "" {
		t.Fatalf("join returned no operator id")
	}
	return r.Welcome.OperatorID
}

// stepAct advances one tick applying the given commands for the operator.
func stepAct(w *World, operatorID string, cmds ...protocol.CommandReq) {
	act := protocol.ActMsg{
		Type:            protocol.TypeAct,
		ProtocolVersion: protocol.Version,
		Tick:            w.tick.Load(),
		OperatorID:      operatorID,
		Commands:        cmds,
	}
	w.step(nil, nil, []ActionEnvelope{{OperatorID: operatorID, Act: act}})
}

func stepTicks(w *World, n int) {
	for i := 0; i < n; i++ {
		w.step(nil, nil, nil)
	}
}

func tileAt(x, y uint32) cargo.TileIndex {
	return cargo.TileIndex(x | y<<16)
}

// seedCargo drops units of a cargo type at a station the way production
// does, routed by the station's flows.
func seedCargo(t *testing.T, w *World, st cargo.StationID, cargoID string, units uint, srcID cargo.SourceID) {
	t.Helper()
	station := w.stations[st]
	if station == nil {
		t.Fatalf("seed cargo: station %d not found", st)
	}
	idx, ok := w.catalogs.Cargoes.Index[cargoID]
	if !ok {
		t.Fatalf("seed cargo: unknown cargo %q", cargoID)
	}
	ge := w.ensureGoods(station, idx)
	p := w.pool.NewPacket(units, cargo.Source{Type: cargo.SourceIndustry, ID: srcID}, st, station.Tile)
	ge.Cargo.Append(p, ge.DesiredHop(p))
}

// lastEvent returns the operator's most recent retained event of the given
// type, or nil. The staged frame is consumed by OBS delivery, so assertions
// read the retained ring.
func lastEvent(o *Operator, eventType string) protocol.Event {
	for i := len(o.Retained) - 1; i >= 0; i-- {
		if o.Retained[i].Event["type"] == eventType {
			return o.Retained[i].Event
		}
	}
	return nil
}

func countEvents(o *Operator, eventType string) int {
	n := 0
	for _, re := range o.Retained {
		if re.Event["type"] == eventType {
			n++
		}
	}
	return n
}
