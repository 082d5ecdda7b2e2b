package world

import (
	"path/filepath"
	"strings"
	"testing"

	"freightline.ai/internal/persistence/snapshot"
	"freightline.ai/internal/protocol"
	"freightline.ai/internal/sim/cargo"
)

// Snapshot a world mid-route, write it through the zstd file codec, import
// it into a fresh world and run both in lockstep. Digests must agree at the
// import point and on every subsequent tick.
func TestSnapshot_RoundTripResumesIdentically(t *testing.T) {
	w1 := newTestWorld(t, "main")
	id := joinOp(t, w1, "dispatch")

	buildCoalRun(t, w1, id)
	seedCargo(t, w1, 1, "COAL", 90, 7)
	stepAct(w1, id, protocol.CommandReq{ID: "C5", Type: "SET_ORDERS", VehicleID: 1, Orders: []protocol.OrderReq{
		{Station: 1},
		{Station: 2, Flags: []string{"UNLOAD"}},
	}})
	stepTicks(w1, 6)

	// Train is now en route with all 90 units aboard. Leave fresh cargo
	// behind and a second operator in the roster so both survive the trip
	// through the file.
	seedCargo(t, w1, 1, "COAL", 25, 9)
	joinOp(t, w1, "observer")
	stepTicks(w1, 1)

	v := w1.vehicles[1]
	if v.State != StateEnRoute || v.Hold.TotalCount() != 90 {
		t.Fatalf("setup: vehicle state=%v hold=%d, want en-route with 90", v.State, v.Hold.TotalCount())
	}

	snapTick := w1.tick.Load() - 1
	snap := w1.ExportSnapshot(snapTick)

	if snap.Header.Version != snapshot.CurrentVersion || snap.Header.WorldID != "main" || snap.Header.Tick != snapTick {
		t.Fatalf("header = %+v", snap.Header)
	}
	if len(snap.Stations) != 2 || len(snap.Vehicles) != 1 || len(snap.Operators) != 2 {
		t.Fatalf("exported %d stations, %d vehicles, %d operators",
			len(snap.Stations), len(snap.Vehicles), len(snap.Operators))
	}
	mineCoal := snap.Stations[0].Cargo[0]
	if len(mineCoal.Buckets) != 1 || mineCoal.Buckets[0].NextHop != uint16(cargo.InvalidStation) {
		t.Fatalf("mine buckets = %+v, want one wildcard bucket", mineCoal.Buckets)
	}
	units := uint(0)
	for _, pv := range mineCoal.Buckets[0].Packets {
		units += uint(pv.Count)
	}
	if units != 25 {
		t.Fatalf("mine holds %d units at export, want 25", units)
	}

	path := filepath.Join(t.TempDir(), "main.snap.zst")
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	got, err := snapshot.ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if got.Header != snap.Header {
		t.Fatalf("header changed through file: %+v != %+v", got.Header, snap.Header)
	}

	w2 := newTestWorld(t, "main")
	if err := w2.ImportSnapshot(got); err != nil {
		t.Fatalf("import snapshot: %v", err)
	}
	if w2.tick.Load() != w1.tick.Load() {
		t.Fatalf("resumed tick %d, want %d", w2.tick.Load(), w1.tick.Load())
	}
	if d1, d2 := w1.stateDigest(w1.tick.Load()), w2.stateDigest(w2.tick.Load()); d1 != d2 {
		t.Fatalf("digest mismatch right after import:\n%s\n%s", d1, d2)
	}

	for i := 0; i < 30; i++ {
		w1.step(nil, nil, nil)
		w2.step(nil, nil, nil)
		d1 := w1.stateDigest(w1.tick.Load())
		d2 := w2.stateDigest(w2.tick.Load())
		if d1 != d2 {
			t.Fatalf("digest diverged %d ticks after import:\n%s\n%s", i+1, d1, d2)
		}
	}
	if w1.ledger.DeliveredUnits == 0 || w1.ledger.DeliveredUnits != w2.ledger.DeliveredUnits {
		t.Fatalf("delivered units: live=%d resumed=%d", w1.ledger.DeliveredUnits, w2.ledger.DeliveredUnits)
	}
}

func TestImportSnapshot_RejectsMismatches(t *testing.T) {
	w1 := newTestWorld(t, "main")
	id := joinOp(t, w1, "dispatch")
	buildCoalRun(t, w1, id)
	seedCargo(t, w1, 1, "COAL", 40, 7)
	stepTicks(w1, 3)
	snap := w1.ExportSnapshot(w1.tick.Load() - 1)

	t.Run("world id", func(t *testing.T) {
		w2 := newTestWorld(t, "other")
		err := w2.ImportSnapshot(snap)
		if err == nil || !strings.Contains(err.Error(), "world mismatch") {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("seed", func(t *testing.T) {
		w2, err := New(WorldConfig{ID: "main", Seed: 7, Tune: testTuning()}, testCatalogs())
		if err != nil {
			t.Fatalf("new world: %v", err)
		}
		err = w2.ImportSnapshot(snap)
		if err == nil || !strings.Contains(err.Error(), "seed mismatch") {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("version", func(t *testing.T) {
		bad := snap
		bad.Header.Version = snapshot.CurrentVersion + 1
		w2 := newTestWorld(t, "main")
		err := w2.ImportSnapshot(bad)
		if err == nil || !strings.Contains(err.Error(), "unsupported snapshot version") {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("day ticks", func(t *testing.T) {
		bad := snap
		bad.DayTicks = snap.DayTicks + 1
		w2 := newTestWorld(t, "main")
		err := w2.ImportSnapshot(bad)
		if err == nil || !strings.Contains(err.Error(), "day_ticks mismatch") {
			t.Fatalf("err = %v", err)
		}
	})
}

// A failed import must leave the world untouched.
func TestImportSnapshot_ValidationFailureCommitsNothing(t *testing.T) {
	w1 := newTestWorld(t, "main")
	id := joinOp(t, w1, "dispatch")
	buildCoalRun(t, w1, id)
	seedCargo(t, w1, 1, "COAL", 40, 7)
	stepTicks(w1, 3)
	snap := w1.ExportSnapshot(w1.tick.Load() - 1)
	snap.Stations[0].Cargo[0].Cargo = "PLUTONIUM"

	w2 := newTestWorld(t, "main")
	before := w2.stateDigest(w2.tick.Load())

	err := w2.ImportSnapshot(snap)
	if err == nil || !strings.Contains(err.Error(), "unknown cargo") {
		t.Fatalf("err = %v", err)
	}
	if len(w2.stations) != 0 || len(w2.vehicles) != 0 {
		t.Fatalf("failed import committed state: %d stations, %d vehicles", len(w2.stations), len(w2.vehicles))
	}
	if after := w2.stateDigest(w2.tick.Load()); after != before {
		t.Fatalf("failed import changed the digest")
	}
}

// Version 1 saves predate per-hop buckets: every station packet folds into
// the wildcard bucket and gets re-stamped on import.
func TestImportSnapshot_V1FoldsHopsToWildcard(t *testing.T) {
	w := newTestWorld(t, "main")

	tn := testTuning()
	v1 := snapshot.SnapshotV2{
		Header:   snapshot.Header{Version: 1, WorldID: "main", Tick: 10},
		Seed:     42,
		DayTicks: tn.DayTicks,
		Stations: []snapshot.StationV2{
			{
				ID:   1,
				Name: "Mine Yard",
				Tile: uint32(tileAt(10, 10)),
				Cargo: []snapshot.StationCargoV2{
					{
						Cargo: "COAL",
						Buckets: []snapshot.BucketV2{
							{NextHop: 5, Packets: []snapshot.PacketV2{{
								Count:         40,
								SourceType:    uint8(cargo.SourceIndustry),
								SourceID:      7,
								SourceStation: 1,
								SourceTile:    uint32(tileAt(10, 10)),
								LoadedAt:      uint32(tileAt(10, 10)),
								NextStation:   5,
							}}},
						},
					},
				},
			},
		},
		Counters: snapshot.CountersV2{NextStation: 2},
	}

	if err := w.ImportSnapshot(v1); err != nil {
		t.Fatalf("import v1: %v", err)
	}
	if w.tick.Load() != 11 {
		t.Fatalf("tick = %d, want 11", w.tick.Load())
	}

	ge := w.stations[1].Goods[w.catalogs.Cargoes.Index["COAL"]]
	if ge == nil {
		t.Fatalf("coal entry missing after import")
	}
	seen := 0
	ge.Cargo.ForEach(func(hop cargo.StationID, p *cargo.Packet) {
		seen++
		if hop != cargo.InvalidStation {
			t.Fatalf("packet keyed under hop %d, want wildcard", hop)
		}
		if p.State().NextStation != uint16(cargo.InvalidStation) {
			t.Fatalf("packet next station = %d, want wildcard", p.State().NextStation)
		}
	})
	if seen != 1 || ge.Cargo.TotalCount() != 40 {
		t.Fatalf("restored %d packets totalling %d units", seen, ge.Cargo.TotalCount())
	}
}
