package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"freightline.ai/internal/persistence/snapshot"
	"freightline.ai/internal/sim/catalogs"
	"freightline.ai/internal/sim/tuning"
	"freightline.ai/internal/sim/world"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTick     atomic.Uint64
	dropAudit    atomic.Uint64
	dropSnapshot atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqAudit
	reqSnapshot
)

type req struct {
	kind reqKind

	tick     world.TickLogEntry
	audit    world.AuditEntry
	snapshot snapshotRow
}

type snapshotRow struct {
	WorldID    string
	Tick       uint64
	Path       string
	Digest     string
	Seed       int64
	Stations   int
	Vehicles   int
	Industries int
	Operators  int
	Packets    int
	Stats      statsRow
	RecordedAt string
}

type statsRow struct {
	LivePackets     int
	StationUnits    uint64
	VehicleUnits    uint64
	DeliveredUnits  uint64
	DeliveredIncome int64
	TransferCredits int64
	TruncatedUnits  uint64
	Balance         int64
}

// IndexStats reports writer-queue health for the metrics endpoint.
type IndexStats struct {
	QueueDepth        int
	QueueCapacity     int
	DropTickTotal     uint64
	DropAuditTotal    uint64
	DropSnapshotTotal uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// High buffer: allow bursty audit writes (e.g. a station sweep dropping
		// many packets) without stalling the sim.
		ch: make(chan req, 262144),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			digest TEXT NOT NULL,
			joins INTEGER NOT NULL,
			leaves INTEGER NOT NULL,
			actions INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS joins (
			tick INTEGER NOT NULL,
			operator_id TEXT NOT NULL,
			name TEXT NOT NULL,
			PRIMARY KEY (tick, operator_id)
		);`,
		`CREATE TABLE IF NOT EXISTS leaves (
			tick INTEGER NOT NULL,
			operator_id TEXT NOT NULL,
			PRIMARY KEY (tick, operator_id)
		);`,
		`CREATE TABLE IF NOT EXISTS actions (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			operator_id TEXT NOT NULL,
			act_json TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_actions_operator_tick ON actions(operator_id, tick);`,
		`CREATE TABLE IF NOT EXISTS audits (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			station INTEGER NOT NULL,
			vehicle INTEGER NOT NULL,
			cargo TEXT,
			units INTEGER NOT NULL,
			reason TEXT,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_actor_tick ON audits(actor, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_station_tick ON audits(station, tick);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			world_id TEXT NOT NULL,
			path TEXT NOT NULL,
			digest TEXT NOT NULL,
			seed INTEGER NOT NULL,
			stations INTEGER NOT NULL,
			vehicles INTEGER NOT NULL,
			industries INTEGER NOT NULL,
			operators INTEGER NOT NULL,
			packets INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_world_tick ON snapshots(world_id, tick);`,
		`CREATE TABLE IF NOT EXISTS stats (
			tick INTEGER PRIMARY KEY,
			live_packets INTEGER NOT NULL,
			station_units INTEGER NOT NULL,
			vehicle_units INTEGER NOT NULL,
			delivered_units INTEGER NOT NULL,
			delivered_income INTEGER NOT NULL,
			transfer_credits INTEGER NOT NULL,
			truncated_units INTEGER NOT NULL,
			balance INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) WriteTick(entry world.TickLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: entry}:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		s.dropTick.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) WriteAudit(entry world.AuditEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqAudit, audit: entry}:
	default:
		s.dropAudit.Add(1)
	}
	return nil
}

// RecordSnapshot indexes a written snapshot file plus the cargo totals
// derived from it, so operators can locate resume points without decoding
// snapshot blobs.
func (s *SQLiteIndex) RecordSnapshot(path, digest string, snap snapshot.SnapshotV2) {
	if s == nil || s.closed.Load() {
		return
	}
	st := deriveStats(snap)
	r := snapshotRow{
		WorldID:    snap.Header.WorldID,
		Tick:       snap.Header.Tick,
		Path:       path,
		Digest:     digest,
		Seed:       snap.Seed,
		Stations:   len(snap.Stations),
		Vehicles:   len(snap.Vehicles),
		Industries: len(snap.Industries),
		Operators:  len(snap.Operators),
		Packets:    st.LivePackets,
		Stats:      st,
		RecordedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

func deriveStats(snap snapshot.SnapshotV2) statsRow {
	st := statsRow{
		DeliveredUnits:  snap.Ledger.DeliveredUnits,
		DeliveredIncome: snap.Ledger.DeliveredIncome,
		TransferCredits: snap.Ledger.TransferCredits,
		TruncatedUnits:  snap.Ledger.TruncatedUnits,
		Balance:         snap.Ledger.Balance,
	}
	for _, stn := range snap.Stations {
		for _, sc := range stn.Cargo {
			for _, b := range sc.Buckets {
				st.LivePackets += len(b.Packets)
				for _, p := range b.Packets {
					st.StationUnits += uint64(p.Count)
				}
			}
		}
	}
	for _, v := range snap.Vehicles {
		st.LivePackets += len(v.Packets)
		for _, p := range v.Packets {
			st.VehicleUnits += uint64(p.Count)
		}
	}
	return st
}

// LatestSnapshot returns the newest indexed snapshot for the world, or
// ok=false when none has been recorded yet. Called on the startup path
// before the writer loop carries traffic, so a direct query is fine.
func (s *SQLiteIndex) LatestSnapshot(worldID string) (path string, tick uint64, ok bool, err error) {
	if s == nil {
		return "", 0, false, nil
	}
	row := s.db.QueryRow(
		`SELECT path, tick FROM snapshots WHERE world_id = ? ORDER BY tick DESC LIMIT 1`,
		worldID,
	)
	var t int64
	if err := row.Scan(&path, &t); err != nil {
		if err == sql.ErrNoRows {
			return "", 0, false, nil
		}
		return "", 0, false, err
	}
	return path, uint64(t), true, nil
}

func (s *SQLiteIndex) Stats() IndexStats {
	if s == nil {
		return IndexStats{}
	}
	return IndexStats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropTickTotal:     s.dropTick.Load(),
		DropAuditTotal:    s.dropAudit.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
	}
}

func (s *SQLiteIndex) UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	// Raw json for base catalogs.
	raw := map[string][]byte{}
	read := func(name, path string) {
		b, err := os.ReadFile(path)
		if err != nil {
			return
		}
		raw[name] = b
	}
	if configDir != "" {
		read("cargo_defs", filepath.Join(configDir, "cargo_types.json"))
		read("vehicle_defs", filepath.Join(configDir, "vehicle_types.json"))
		read("industry_defs", filepath.Join(configDir, "industries.json"))
	}

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if b := raw["cargo_defs"]; len(b) > 0 {
		rows = append(rows, kv{name: "cargo_defs", digest: cats.Cargoes.DefsDigest, json: b})
	}
	if b, _ := json.Marshal(cats.Cargoes.Palette); len(b) > 0 {
		rows = append(rows, kv{name: "cargo_palette", digest: cats.Cargoes.PaletteDigest, json: b})
	}
	if b := raw["vehicle_defs"]; len(b) > 0 {
		rows = append(rows, kv{name: "vehicle_defs", digest: cats.VehicleTypes.DefsDigest, json: b})
	}
	if b, _ := json.Marshal(cats.VehicleTypes.Palette); len(b) > 0 {
		rows = append(rows, kv{name: "vehicle_palette", digest: cats.VehicleTypes.PaletteDigest, json: b})
	}
	{
		// Canonicalize industries to stable JSON for easier querying.
		inds := make([]catalogs.IndustryDef, 0, len(cats.Industries.ByID))
		for _, ind := range cats.Industries.ByID {
			inds = append(inds, ind)
		}
		sort.Slice(inds, func(i, j int) bool { return inds[i].ID < inds[j].ID })
		if b, _ := json.Marshal(inds); len(b) > 0 {
			rows = append(rows, kv{name: "industries", digest: cats.Industries.Digest, json: b})
		}
	}
	if b := raw["industry_defs"]; len(b) > 0 {
		rows = append(rows, kv{name: "industry_defs", digest: cats.Industries.Digest, json: b})
	}

	// Tuning: store the values we actually apply (canonical JSON).
	{
		b, _ := json.Marshal(tune)
		sum := sha256.Sum256(b)
		digest := hex.EncodeToString(sum[:])
		rows = append(rows, kv{name: "tuning", digest: digest, json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.name == "" || r.digest == "" || len(r.json) == 0 {
			continue
		}
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	// Prepared statements (on db; executed within tx).
	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(tick,digest,joins,leaves,actions,raw_json) VALUES(?,?,?,?,?,?)`)
	insertJoin, _ := s.db.Prepare(`INSERT OR REPLACE INTO joins(tick,operator_id,name) VALUES(?,?,?)`)
	insertLeave, _ := s.db.Prepare(`INSERT OR REPLACE INTO leaves(tick,operator_id) VALUES(?,?)`)
	insertAction, _ := s.db.Prepare(`INSERT OR REPLACE INTO actions(tick,seq,operator_id,act_json) VALUES(?,?,?,?)`)
	insertAudit, _ := s.db.Prepare(`INSERT OR REPLACE INTO audits(tick,seq,actor,action,station,vehicle,cargo,units,reason,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(tick,world_id,path,digest,seed,stations,vehicles,industries,operators,packets,created_at) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	insertStats, _ := s.db.Prepare(`INSERT OR REPLACE INTO stats(tick,live_packets,station_units,vehicle_units,delivered_units,delivered_income,transfer_credits,truncated_units,balance) VALUES(?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertTick != nil {
			_ = insertTick.Close()
		}
		if insertJoin != nil {
			_ = insertJoin.Close()
		}
		if insertLeave != nil {
			_ = insertLeave.Close()
		}
		if insertAction != nil {
			_ = insertAction.Close()
		}
		if insertAudit != nil {
			_ = insertAudit.Close()
		}
		if insertSnapshot != nil {
			_ = insertSnapshot.Close()
		}
		if insertStats != nil {
			_ = insertStats.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		lastAuditTick uint64
		auditSeq      int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			b, _ := json.Marshal(r.tick)
			if insertTick != nil {
				if _, err := tx.Stmt(insertTick).Exec(
					int64(r.tick.Tick),
					r.tick.Digest,
					len(r.tick.Joins),
					len(r.tick.Leaves),
					len(r.tick.Actions),
					string(b),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
			for _, j := range r.tick.Joins {
				if insertJoin == nil {
					break
				}
				if _, err := tx.Stmt(insertJoin).Exec(int64(r.tick.Tick), j.OperatorID, j.Name); err != nil {
					rollback()
					break
				}
				opCount++
			}
			for _, id := range r.tick.Leaves {
				if insertLeave == nil {
					break
				}
				if _, err := tx.Stmt(insertLeave).Exec(int64(r.tick.Tick), id); err != nil {
					rollback()
					break
				}
				opCount++
			}
			for i, a := range r.tick.Actions {
				if insertAction == nil {
					break
				}
				actJSON, _ := json.Marshal(a.Act)
				if _, err := tx.Stmt(insertAction).Exec(int64(r.tick.Tick), i, a.OperatorID, string(actJSON)); err != nil {
					rollback()
					break
				}
				opCount++
			}

		case reqAudit:
			a := r.audit
			if a.Tick != lastAuditTick {
				lastAuditTick = a.Tick
				auditSeq = 0
			}
			seq := auditSeq
			auditSeq++
			raw, _ := json.Marshal(a)
			if insertAudit != nil {
				if _, err := tx.Stmt(insertAudit).Exec(
					int64(a.Tick),
					seq,
					a.Actor,
					a.Action,
					int64(a.Station),
					int64(a.Vehicle),
					a.Cargo,
					int64(a.Units),
					a.Reason,
					string(raw),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqSnapshot:
			sn := r.snapshot
			if insertSnapshot != nil {
				if _, err := tx.Stmt(insertSnapshot).Exec(
					int64(sn.Tick),
					sn.WorldID,
					sn.Path,
					sn.Digest,
					sn.Seed,
					sn.Stations,
					sn.Vehicles,
					sn.Industries,
					sn.Operators,
					sn.Packets,
					sn.RecordedAt,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
			if insertStats != nil {
				st := sn.Stats
				if _, err := tx.Stmt(insertStats).Exec(
					int64(sn.Tick),
					st.LivePackets,
					int64(st.StationUnits),
					int64(st.VehicleUnits),
					int64(st.DeliveredUnits),
					st.DeliveredIncome,
					st.TransferCredits,
					int64(st.TruncatedUnits),
					st.Balance,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		flushIfNeeded()
	}

	commit()
}
