package indexdb

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"freightline.ai/internal/persistence/snapshot"
	"freightline.ai/internal/protocol"
	"freightline.ai/internal/sim/catalogs"
	"freightline.ai/internal/sim/tuning"
	"freightline.ai/internal/sim/world"
)

func TestSQLiteIndex_RecordSnapshotAndLatest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")

	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}

	snap := snapshot.SnapshotV2{
		Header: snapshot.Header{Version: snapshot.CurrentVersion, WorldID: "main", Tick: 6000},
		Seed:   42,
		Stations: []snapshot.StationV2{
			{
				ID: 1, Name: "Norwood Mills", Tile: 100,
				Cargo: []snapshot.StationCargoV2{
					{
						Cargo: "COAL",
						Buckets: []snapshot.BucketV2{
							{NextHop: 0xFFFF, Packets: []snapshot.PacketV2{
								{Count: 30, SourceStation: 1, SourceTile: 100},
								{Count: 12, SourceStation: 1, SourceTile: 100},
							}},
						},
					},
				},
			},
			{ID: 2, Name: "Port Arden", Tile: 900},
		},
		Vehicles: []snapshot.VehicleV2{
			{
				ID: 7, VehicleType: "FREIGHT_TRAIN",
				Packets:      []snapshot.PacketV2{{Count: 50, SourceStation: 1, SourceTile: 100, LoadedAt: 100}},
				ActionCounts: [4]uint{0, 0, 50, 0},
			},
		},
		Industries: []snapshot.IndustryV2{{ID: 1, Type: "COAL_MINE", Station: 1, Tile: 90}},
		Ledger: snapshot.LedgerV2{
			Balance:         1234,
			DeliveredUnits:  200,
			DeliveredIncome: 1500,
			TransferCredits: 88,
			TruncatedUnits:  9,
		},
	}
	idx.RecordSnapshot("/abs/snaps/6000.snap.zst", "abcd1234", snap)
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	var (
		worldID  string
		snapPath string
		digest   string
		stations int
		vehicles int
		packets  int
	)
	row := db.QueryRow(`SELECT world_id,path,digest,stations,vehicles,packets FROM snapshots WHERE tick=6000`)
	if err := row.Scan(&worldID, &snapPath, &digest, &stations, &vehicles, &packets); err != nil {
		t.Fatalf("Scan snapshots: %v", err)
	}
	if worldID != "main" || snapPath != "/abs/snaps/6000.snap.zst" || digest != "abcd1234" {
		t.Fatalf("snapshot row mismatch: world=%q path=%q digest=%q", worldID, snapPath, digest)
	}
	if stations != 2 || vehicles != 1 || packets != 3 {
		t.Fatalf("snapshot counts mismatch: stations=%d vehicles=%d packets=%d", stations, vehicles, packets)
	}

	var (
		stationUnits int64
		vehicleUnits int64
		delivered    int64
		balance      int64
	)
	row = db.QueryRow(`SELECT station_units,vehicle_units,delivered_units,balance FROM stats WHERE tick=6000`)
	if err := row.Scan(&stationUnits, &vehicleUnits, &delivered, &balance); err != nil {
		t.Fatalf("Scan stats: %v", err)
	}
	if stationUnits != 42 || vehicleUnits != 50 || delivered != 200 || balance != 1234 {
		t.Fatalf("stats row mismatch: station=%d vehicle=%d delivered=%d balance=%d",
			stationUnits, vehicleUnits, delivered, balance)
	}

	// Resume lookup reopens the same file.
	idx2, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx2.Close()
	gotPath, gotTick, ok, err := idx2.LatestSnapshot("main")
	if err != nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	if !ok || gotPath != "/abs/snaps/6000.snap.zst" || gotTick != 6000 {
		t.Fatalf("LatestSnapshot mismatch: ok=%v path=%q tick=%d", ok, gotPath, gotTick)
	}
	if _, _, ok, err := idx2.LatestSnapshot("other"); err != nil || ok {
		t.Fatalf("LatestSnapshot for unknown world: ok=%v err=%v", ok, err)
	}
}

func TestSQLiteIndex_WriteTickAndAudit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")

	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}

	entry := world.TickLogEntry{
		Tick:   17,
		Digest: "feedface",
		Joins:  []world.RecordedJoin{{OperatorID: "O1", Name: "dispatch-alpha"}},
		Leaves: []string{"O2"},
		Actions: []world.RecordedAction{
			{OperatorID: "O1", Act: protocol.ActMsg{Type: protocol.TypeAct, Tick: 17}},
		},
	}
	if err := idx.WriteTick(entry); err != nil {
		t.Fatalf("WriteTick: %v", err)
	}
	if err := idx.WriteAudit(world.AuditEntry{
		Tick: 17, Actor: "O1", Action: "TRUNCATE",
		Station: 3, Cargo: "COAL", Units: 40, Reason: "storage cap",
	}); err != nil {
		t.Fatalf("WriteAudit: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	var (
		digest  string
		joins   int
		actions int
	)
	row := db.QueryRow(`SELECT digest,joins,actions FROM ticks WHERE tick=17`)
	if err := row.Scan(&digest, &joins, &actions); err != nil {
		t.Fatalf("Scan ticks: %v", err)
	}
	if digest != "feedface" || joins != 1 || actions != 1 {
		t.Fatalf("tick row mismatch: digest=%q joins=%d actions=%d", digest, joins, actions)
	}

	var name string
	if err := db.QueryRow(`SELECT name FROM joins WHERE tick=17 AND operator_id='O1'`).Scan(&name); err != nil {
		t.Fatalf("Scan joins: %v", err)
	}
	if name != "dispatch-alpha" {
		t.Fatalf("join name mismatch: %q", name)
	}

	var (
		action  string
		station int64
		units   int64
	)
	row = db.QueryRow(`SELECT action,station,units FROM audits WHERE tick=17 AND seq=0`)
	if err := row.Scan(&action, &station, &units); err != nil {
		t.Fatalf("Scan audits: %v", err)
	}
	if action != "TRUNCATE" || station != 3 || units != 40 {
		t.Fatalf("audit row mismatch: action=%q station=%d units=%d", action, station, units)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqTick, tick: world.TickLogEntry{Tick: 1}}

	_ = s.WriteTick(world.TickLogEntry{Tick: 2})
	_ = s.WriteAudit(world.AuditEntry{Tick: 2})
	s.RecordSnapshot("/tmp/2.snap.zst", "", snapshot.SnapshotV2{})

	st := s.Stats()
	if st.DropTickTotal != 1 {
		t.Fatalf("DropTickTotal=%d want=1", st.DropTickTotal)
	}
	if st.DropAuditTotal != 1 {
		t.Fatalf("DropAuditTotal=%d want=1", st.DropAuditTotal)
	}
	if st.DropSnapshotTotal != 1 {
		t.Fatalf("DropSnapshotTotal=%d want=1", st.DropSnapshotTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_UpsertCatalogs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")

	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}

	cats := &catalogs.Catalogs{
		Cargoes: catalogs.CargoCatalog{
			Palette:       []string{"COAL", "GOODS"},
			PaletteDigest: "cargo-digest",
		},
		VehicleTypes: catalogs.VehicleTypeCatalog{
			Palette:       []string{"FREIGHT_TRAIN"},
			PaletteDigest: "vehicle-digest",
		},
		Industries: catalogs.IndustryCatalog{
			ByID:   map[string]catalogs.IndustryDef{"COAL_MINE": {ID: "COAL_MINE", Label: "Coal Mine"}},
			Digest: "industry-digest",
		},
	}
	if err := idx.UpsertCatalogs("", cats, tuning.Defaults()); err != nil {
		t.Fatalf("UpsertCatalogs: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	for _, name := range []string{"cargo_palette", "vehicle_palette", "industries", "tuning"} {
		var digest string
		if err := db.QueryRow(`SELECT digest FROM catalogs WHERE name=?`, name).Scan(&digest); err != nil {
			t.Fatalf("catalog row %q: %v", name, err)
		}
		if digest == "" {
			t.Fatalf("catalog row %q has empty digest", name)
		}
	}
}
