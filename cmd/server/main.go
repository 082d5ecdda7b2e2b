package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"freightline.ai/internal/persistence/archive"
	"freightline.ai/internal/persistence/indexdb"
	persistlog "freightline.ai/internal/persistence/log"
	"freightline.ai/internal/persistence/snapshot"
	"freightline.ai/internal/sim/catalogs"
	"freightline.ai/internal/sim/tuning"
	"freightline.ai/internal/sim/world"
	"freightline.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "main", "world id")
		seed       = flag.Int64("seed", 1337, "world seed (used only when starting a fresh world)")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable indexing (tick/audit + catalogs + snapshot metadata)")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	_ = os.MkdirAll(worldDir, 0o755)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}

	// Optional: read-model index backend (does not affect sim determinism).
	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(worldDir, "index.db"))
		if err != nil {
			logger.Fatalf("open index db: %v", err)
		}
		defer idx.Close()
	} else {
		logger.Printf("index db disabled")
	}

	// Resolve the snapshot to resume from: explicit flag, then the index,
	// then a directory scan (covers resumes with -disable_db).
	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		if idx != nil {
			if path, tick, ok, err := idx.LatestSnapshot(*worldID); err != nil {
				logger.Printf("index: latest snapshot: %v", err)
			} else if ok {
				if _, statErr := os.Stat(path); statErr == nil {
					snapshotToLoad = path
					logger.Printf("index: latest snapshot tick=%d", tick)
				} else {
					logger.Printf("index: snapshot file missing (%s); falling back to scan", path)
				}
			}
		}
		if snapshotToLoad == "" {
			snapshotToLoad = latestSnapshot(worldDir)
		}
	}

	// Load tuning (required for fresh world; optional for snapshot resumes).
	tune, tuneErr := tuning.Load(tp)
	if tuneErr != nil {
		if snapshotToLoad == "" {
			logger.Fatalf("load tuning: %v", tuneErr)
		}
		// Resume fallback: snapshot carries the effective tuning; allow missing file.
		if os.IsNotExist(tuneErr) {
			logger.Printf("tuning not found (%s); using defaults", tp)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", tuneErr)
		}
	}

	if idx != nil {
		if err := idx.UpsertCatalogs(*configDir, cats, tune); err != nil {
			logger.Printf("index: upsert catalogs: %v", err)
		}
	}

	// Create world (fresh or resumed from snapshot).
	var w *world.World
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if snap.Header.WorldID != "" && snap.Header.WorldID != *worldID {
			logger.Fatalf("snapshot world id mismatch: flag=%s snap=%s", *worldID, snap.Header.WorldID)
		}
		// The snapshot is authoritative for seed and day length; ImportSnapshot
		// adopts the remaining operational parameters itself.
		resumeTune := tune
		resumeTune.DayTicks = snap.DayTicks
		w, err = world.New(world.WorldConfig{
			ID:   *worldID,
			Seed: snap.Seed,
			Tune: resumeTune,
		}, cats)
		if err != nil {
			logger.Fatalf("world: %v", err)
		}
		if err := w.ImportSnapshot(snap); err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s tick=%d", filepath.Base(snapshotToLoad), w.CurrentTick())
	} else {
		w, err = world.New(world.WorldConfig{
			ID:   *worldID,
			Seed: *seed,
			Tune: tune,
		}, cats)
		if err != nil {
			logger.Fatalf("world: %v", err)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	tickLog := persistlog.NewTickLogger(worldDir, w.DayTicks())
	auditLog := persistlog.NewAuditLogger(worldDir, w.DayTicks())
	defer tickLog.Close()
	defer auditLog.Close()
	w.SetTickLogger(multiTickLogger{a: tickLog, b: idx})
	w.SetAuditLogger(multiAuditLogger{a: auditLog, b: idx})

	// Snapshot writer.
	snapCh := make(chan snapshot.SnapshotV2, 2)
	w.SetSnapshotSink(snapCh)
	snapWriterDone := make(chan struct{})
	go func() {
		defer close(snapWriterDone)
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				path := filepath.Join(worldDir, "snapshots", fmt.Sprintf("%d.snap.zst", snap.Header.Tick))
				if err := snapshot.WriteSnapshot(path, snap); err != nil {
					logger.Printf("snapshot write: %v", err)
					continue
				}
				recordSnapshot(idx, path, snap, logger)
				if day, archivedPath, ok, err := archive.ArchiveDaySnapshot(worldDir, path, snap); err != nil {
					logger.Printf("archive day snapshot: %v", err)
				} else if ok {
					logger.Printf("archived day=%d snapshot=%s", day, filepath.Base(archivedPath))
				}
			}
		}
	}()

	worldDone := make(chan struct{})
	go func() {
		defer close(worldDone)
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		m := w.Metrics()
		tick := w.CurrentTick()
		if m.Tick != 0 {
			tick = m.Tick
		}

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP freightline_world_tick Current world tick.\n")
		fmt.Fprintf(rw, "# TYPE freightline_world_tick gauge\n")
		fmt.Fprintf(rw, "freightline_world_tick{world=%q} %d\n", *worldID, tick)

		fmt.Fprintf(rw, "# HELP freightline_world_entities Current entity counts.\n")
		fmt.Fprintf(rw, "# TYPE freightline_world_entities gauge\n")
		fmt.Fprintf(rw, "freightline_world_entities{world=%q,kind=%q} %d\n", *worldID, "stations", m.Stations)
		fmt.Fprintf(rw, "freightline_world_entities{world=%q,kind=%q} %d\n", *worldID, "vehicles", m.Vehicles)
		fmt.Fprintf(rw, "freightline_world_entities{world=%q,kind=%q} %d\n", *worldID, "industries", m.Industries)
		fmt.Fprintf(rw, "freightline_world_entities{world=%q,kind=%q} %d\n", *worldID, "operators", m.Operators)
		fmt.Fprintf(rw, "freightline_world_entities{world=%q,kind=%q} %d\n", *worldID, "clients", m.Clients)

		fmt.Fprintf(rw, "# HELP freightline_world_live_packets Allocated cargo packets.\n")
		fmt.Fprintf(rw, "# TYPE freightline_world_live_packets gauge\n")
		fmt.Fprintf(rw, "freightline_world_live_packets{world=%q} %d\n", *worldID, m.LivePackets)

		fmt.Fprintf(rw, "# HELP freightline_world_queue_depth Channel backlog depth.\n")
		fmt.Fprintf(rw, "# TYPE freightline_world_queue_depth gauge\n")
		fmt.Fprintf(rw, "freightline_world_queue_depth{world=%q,queue=%q} %d\n", *worldID, "inbox", m.QueueDepths.Inbox)
		fmt.Fprintf(rw, "freightline_world_queue_depth{world=%q,queue=%q} %d\n", *worldID, "join", m.QueueDepths.Join)
		fmt.Fprintf(rw, "freightline_world_queue_depth{world=%q,queue=%q} %d\n", *worldID, "leave", m.QueueDepths.Leave)
		fmt.Fprintf(rw, "freightline_world_queue_depth{world=%q,queue=%q} %d\n", *worldID, "attach", m.QueueDepths.Attach)

		fmt.Fprintf(rw, "# HELP freightline_world_step_ms Last tick step duration in milliseconds.\n")
		fmt.Fprintf(rw, "# TYPE freightline_world_step_ms gauge\n")
		fmt.Fprintf(rw, "freightline_world_step_ms{world=%q} %.3f\n", *worldID, m.StepMS)

		fmt.Fprintf(rw, "# HELP freightline_ledger_balance Ledger balance.\n")
		fmt.Fprintf(rw, "# TYPE freightline_ledger_balance gauge\n")
		fmt.Fprintf(rw, "freightline_ledger_balance{world=%q} %d\n", *worldID, m.Ledger.Balance)

		fmt.Fprintf(rw, "# HELP freightline_ledger_delivered_units_total Units delivered to accepting stations.\n")
		fmt.Fprintf(rw, "# TYPE freightline_ledger_delivered_units_total counter\n")
		fmt.Fprintf(rw, "freightline_ledger_delivered_units_total{world=%q} %d\n", *worldID, m.Ledger.DeliveredUnits)

		fmt.Fprintf(rw, "# HELP freightline_ledger_delivered_income_total Income from deliveries.\n")
		fmt.Fprintf(rw, "# TYPE freightline_ledger_delivered_income_total counter\n")
		fmt.Fprintf(rw, "freightline_ledger_delivered_income_total{world=%q} %d\n", *worldID, m.Ledger.DeliveredIncome)

		fmt.Fprintf(rw, "# HELP freightline_ledger_transfer_credits_total Feeder share credited at transfers.\n")
		fmt.Fprintf(rw, "# TYPE freightline_ledger_transfer_credits_total counter\n")
		fmt.Fprintf(rw, "freightline_ledger_transfer_credits_total{world=%q} %d\n", *worldID, m.Ledger.TransferCredits)

		fmt.Fprintf(rw, "# HELP freightline_ledger_truncated_units_total Units dropped by station storage sweeps.\n")
		fmt.Fprintf(rw, "# TYPE freightline_ledger_truncated_units_total counter\n")
		fmt.Fprintf(rw, "freightline_ledger_truncated_units_total{world=%q} %d\n", *worldID, m.Ledger.TruncatedUnits)

		writeIndexMetrics(rw, idx)
	})

	enableAdminHTTP := envBool("FL_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("FL_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		// Local-only admin endpoints (do not affect simulation determinism).
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				WorldID string             `json:"world_id"`
				Tick    uint64             `json:"tick"`
				Metrics world.WorldMetrics `json:"metrics"`
			}{
				WorldID: *worldID,
				Tick:    w.CurrentTick(),
				Metrics: w.Metrics(),
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})
		mux.HandleFunc("/admin/v1/snapshot", func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			ctx2, cancel2 := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel2()
			tick, err := w.RequestSnapshot(ctx2)
			rw.Header().Set("Content-Type", "application/json")
			if err != nil {
				rw.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "tick": tick, "error": err.Error()})
				return
			}
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "tick": tick})
		})
	} else {
		logger.Printf("admin endpoints disabled (FL_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(w, logger).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	// Final snapshot once the world loop and the periodic writer have stopped,
	// so a restart resumes from the shutdown tick instead of the last
	// periodic snapshot.
	<-worldDone
	<-snapWriterDone
	if tick := w.CurrentTick(); tick > 0 {
		final := w.ExportSnapshot(tick - 1)
		path := filepath.Join(worldDir, "snapshots", fmt.Sprintf("%d.snap.zst", final.Header.Tick))
		if err := snapshot.WriteSnapshot(path, final); err != nil {
			logger.Printf("final snapshot write: %v", err)
		} else {
			logger.Printf("final snapshot written tick=%d", final.Header.Tick)
			recordSnapshot(idx, path, final, logger)
		}
	}
}

func recordSnapshot(idx *indexdb.SQLiteIndex, path string, snap snapshot.SnapshotV2, logger *log.Logger) {
	if idx == nil {
		return
	}
	digest, err := fileSHA256(path)
	if err != nil {
		logger.Printf("snapshot digest: %v", err)
	}
	idx.RecordSnapshot(path, digest, snap)
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func latestSnapshot(worldDir string) string {
	dir := filepath.Join(worldDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		base := strings.TrimSuffix(name, ".snap.zst")
		tick, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func writeIndexMetrics(rw http.ResponseWriter, idx *indexdb.SQLiteIndex) {
	if idx == nil {
		return
	}
	s := idx.Stats()
	fmt.Fprintf(rw, "# HELP freightline_index_queue_depth Current index writer queue depth.\n")
	fmt.Fprintf(rw, "# TYPE freightline_index_queue_depth gauge\n")
	fmt.Fprintf(rw, "freightline_index_queue_depth %d\n", s.QueueDepth)

	fmt.Fprintf(rw, "# HELP freightline_index_queue_capacity Index writer queue capacity.\n")
	fmt.Fprintf(rw, "# TYPE freightline_index_queue_capacity gauge\n")
	fmt.Fprintf(rw, "freightline_index_queue_capacity %d\n", s.QueueCapacity)

	fmt.Fprintf(rw, "# HELP freightline_index_dropped_total Index writes dropped because the queue was full.\n")
	fmt.Fprintf(rw, "# TYPE freightline_index_dropped_total counter\n")
	fmt.Fprintf(rw, "freightline_index_dropped_total{kind=%q} %d\n", "tick", s.DropTickTotal)
	fmt.Fprintf(rw, "freightline_index_dropped_total{kind=%q} %d\n", "audit", s.DropAuditTotal)
	fmt.Fprintf(rw, "freightline_index_dropped_total{kind=%q} %d\n", "snapshot", s.DropSnapshotTotal)
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

type multiTickLogger struct {
	a world.TickLogger
	b world.TickLogger
}

func (m multiTickLogger) WriteTick(entry world.TickLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteTick(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTick(entry)
	}
	return nil
}

type multiAuditLogger struct {
	a world.AuditLogger
	b world.AuditLogger
}

func (m multiAuditLogger) WriteAudit(entry world.AuditEntry) error {
	if m.a != nil {
		_ = m.a.WriteAudit(entry)
	}
	if m.b != nil {
		_ = m.b.WriteAudit(entry)
	}
	return nil
}
