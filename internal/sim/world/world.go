package world

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"freightline.ai/internal/persistence/snapshot"
	"freightline.ai/internal/protocol"
	"freightline.ai/internal/sim/cargo"
	"freightline.ai/internal/sim/catalogs"
	"freightline.ai/internal/sim/tuning"
)

type WorldConfig struct {
	ID   string
	Seed int64
	Tune tuning.Tuning
}

type JoinRequest struct {
	Name string
	Out  chan []byte
	Resp chan JoinResponse
}

type AttachRequest struct {
	ResumeToken string
	Out         chan []byte
	Resp        chan JoinResponse
}

type JoinResponse struct {
	Welcome  protocol.WelcomeMsg
	Catalogs []protocol.CatalogMsg
}

type ActionEnvelope struct {
	OperatorID string
	Act        protocol.ActMsg
}

type RecordedJoin struct {
	OperatorID string `json:"operator_id"`
	Name       string `json:"name"`
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

type TickLogEntry struct {
	Tick    uint64           `json:"tick"`
	Joins   []RecordedJoin   `json:"joins,omitempty"`
	Leaves  []string         `json:"leaves,omitempty"`
	Actions []RecordedAction `json:"actions,omitempty"`
	Digest  string           `json:"digest"`
}

type RecordedAction struct {
	OperatorID string          `json:"operator_id"`
	Act        protocol.ActMsg `json:"act"`
}

type AuditEntry struct {
	Tick    uint64 `json:"tick"`
	Actor   string `json:"actor"`
	Action  string `json:"action"` // e.g. "CREATE_VEHICLE", "TRUNCATE"
	Station uint16 `json:"station"`
	Vehicle uint32 `json:"vehicle,omitempty"`
	Cargo   string `json:"cargo,omitempty"`
	Units   uint   `json:"units,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type clientState struct {
	Out chan []byte
}

// World is a single-threaded authoritative simulation.
// All state must be accessed only from the world loop goroutine.
type World struct {
	cfg      WorldConfig
	catalogs *catalogs.Catalogs

	tick atomic.Uint64

	pool *cargo.Pool

	stations   map[cargo.StationID]*Station
	vehicles   map[uint32]*Vehicle
	industries map[uint16]*Industry

	operators map[string]*Operator
	clients   map[string]*clientState

	ledger Ledger

	inbox  chan ActionEnvelope
	join   chan JoinRequest
	attach chan AttachRequest
	leave  chan string
	stop   chan struct{}

	eventsReq chan eventsReq
	snapReq   chan snapReq

	nextOperatorNum atomic.Uint64
	nextStationNum  atomic.Uint64
	nextVehicleNum  atomic.Uint64
	nextIndustryNum atomic.Uint64

	// Global retained-event cursor, shared across operators.
	eventCursor uint64

	// Optional loggers (may be nil). Implemented in internal/persistence/*.
	tickLogger  TickLogger
	auditLogger AuditLogger

	// Optional snapshot sink (may be nil). Snapshot writing should be off-thread.
	snapshotSink chan<- snapshot.SnapshotV2

	// Last completed step's WorldMetrics, for HTTP handlers.
	metrics atomic.Value
}

func New(cfg WorldConfig, cats *catalogs.Catalogs) (*World, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("empty world id")
	}
	if cats == nil || len(cats.Cargoes.Palette) == 0 {
		return nil, fmt.Errorf("catalogs with at least one cargo type required")
	}
	if cfg.Tune.TickRateHz <= 0 || cfg.Tune.DayTicks <= 0 {
		return nil, fmt.Errorf("tick rate and day length must be positive")
	}
	if cfg.Tune.PacketPoolCap <= 0 {
		return nil, fmt.Errorf("packet pool capacity must be positive")
	}

	w := &World{
		cfg:        cfg,
		catalogs:   cats,
		pool:       cargo.NewPool(cfg.Tune.PacketPoolCap),
		stations:   map[cargo.StationID]*Station{},
		vehicles:   map[uint32]*Vehicle{},
		industries: map[uint16]*Industry{},
		operators:  map[string]*Operator{},
		clients:    map[string]*clientState{},
		inbox:      make(chan ActionEnvelope, 1024),
		join:       make(chan JoinRequest, 64),
		attach:     make(chan AttachRequest, 64),
		leave:      make(chan string, 64),
		stop:       make(chan struct{}),
		eventsReq:  make(chan eventsReq, 64),
		snapReq:    make(chan snapReq, 4),
		ledger:     NewLedger(),
	}
	return w, nil
}

func (w *World) SetTickLogger(l TickLogger)                    { w.tickLogger = l }
func (w *World) SetAuditLogger(l AuditLogger)                  { w.auditLogger = l }
func (w *World) SetSnapshotSink(ch chan<- snapshot.SnapshotV2) { w.snapshotSink = ch }

func (w *World) Inbox() chan<- ActionEnvelope { return w.inbox }
func (w *World) Join() chan<- JoinRequest     { return w.join }
func (w *World) Attach() chan<- AttachRequest { return w.attach }
func (w *World) Leave() chan<- string         { return w.leave }

func (w *World) CurrentTick() uint64 { return w.tick.Load() }

// DayTicks is the in-game day length in ticks, as validated at construction
// or adopted from a snapshot.
func (w *World) DayTicks() uint64 { return uint64(w.cfg.Tune.DayTicks) }

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.Tune.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingActions []ActionEnvelope
	var pendingJoins []JoinRequest
	var pendingLeaves []string

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.join:
			pendingJoins = append(pendingJoins, req)
		case req := <-w.attach:
			w.handleAttach(req)
		case id := <-w.leave:
			pendingLeaves = append(pendingLeaves, id)
		case env := <-w.inbox:
			pendingActions = append(pendingActions, env)
		case req := <-w.eventsReq:
			w.handleEventsReq(req)
		case req := <-w.snapReq:
			w.handleSnapReq(req)
		case <-ticker.C:
			w.step(pendingJoins, pendingLeaves, pendingActions)
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingActions = pendingActions[:0]
		}
	}
}

func (w *World) Stop() { close(w.stop) }

func (w *World) joinOperator(name string, out chan []byte) JoinResponse {
	if name == "" {
		name = "operator"
	}

	idNum := w.nextOperatorNum.Add(1)
	operatorID := fmt.Sprintf("O%d", idNum)

	o := &Operator{
		ID:   operatorID,
		Name: name,
	}
	o.initDefaults()

	w.operators[operatorID] = o
	if out != nil {
		w.clients[operatorID] = &clientState{Out: out}
	}

	token := fmt.Sprintf("resume_%s_%s", w.cfg.ID, uuid.NewString())
	o.ResumeToken = token

	return JoinResponse{
		Welcome:  w.buildWelcome(operatorID, token),
		Catalogs: w.catalogMessages(),
	}
}

func (w *World) handleJoin(req JoinRequest) {
	resp := w.joinOperator(req.Name, req.Out)
	if req.Resp != nil {
		req.Resp <- resp
	}
}

func (w *World) handleAttach(req AttachRequest) {
	token := strings.TrimSpace(req.ResumeToken)
	if token == "" || req.Out == nil {
		if req.Resp != nil {
			req.Resp <- JoinResponse{}
		}
		return
	}

	// Find the operator deterministically by iterating sorted ids.
	ids := make([]string, 0, len(w.operators))
	for id := range w.operators {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var o *Operator
	for _, id := range ids {
		oo := w.operators[id]
		if oo != nil && oo.ResumeToken == token {
			o = oo
			break
		}
	}
	if o == nil {
		if req.Resp != nil {
			req.Resp <- JoinResponse{}
		}
		return
	}

	// Attach client (does not affect simulation determinism).
	w.clients[o.ID] = &clientState{Out: req.Out}

	// Rotate token on successful resume.
	newToken := fmt.Sprintf("resume_%s_%s", w.cfg.ID, uuid.NewString())
	o.ResumeToken = newToken

	if req.Resp != nil {
		req.Resp <- JoinResponse{
			Welcome:  w.buildWelcome(o.ID, newToken),
			Catalogs: w.catalogMessages(),
		}
	}
}

func (w *World) handleLeave(operatorID string) {
	delete(w.clients, operatorID)
}

func (w *World) buildWelcome(operatorID, token string) protocol.WelcomeMsg {
	return protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		OperatorID:      operatorID,
		ResumeToken:     token,
		WorldParams: protocol.WorldParams{
			WorldID:           w.cfg.ID,
			TickRateHz:        w.cfg.Tune.TickRateHz,
			DayTicks:          w.cfg.Tune.DayTicks,
			Seed:              w.cfg.Seed,
			StationStorageCap: w.cfg.Tune.StationStorageCap,
		},
		Catalogs: protocol.CatalogDigests{
			CargoPalette: protocol.DigestRef{
				Digest: w.catalogs.Cargoes.PaletteDigest,
				Count:  len(w.catalogs.Cargoes.Palette),
			},
			VehiclePalette: protocol.DigestRef{
				Digest: w.catalogs.VehicleTypes.PaletteDigest,
				Count:  len(w.catalogs.VehicleTypes.Palette),
			},
			IndustriesDigest: w.catalogs.Industries.Digest,
		},
	}
}

func (w *World) step(joins []JoinRequest, leaves []string, actions []ActionEnvelope) {
	stepStart := time.Now()
	nowTick := w.tick.Load()

	// Apply leaves and joins deterministically at tick boundary.
	recordedLeaves := make([]string, 0, len(leaves))
	for _, id := range leaves {
		if _, ok := w.operators[id]; ok {
			w.handleLeave(id)
			recordedLeaves = append(recordedLeaves, id)
		}
	}
	recordedJoins := make([]RecordedJoin, 0, len(joins))
	for _, req := range joins {
		resp := w.joinOperator(req.Name, req.Out)
		if req.Resp != nil {
			req.Resp <- resp
		}
		recordedJoins = append(recordedJoins, RecordedJoin{OperatorID: resp.Welcome.OperatorID, Name: req.Name})
	}

	// Apply actions in server_receive_order (the inbox order).
	recorded := make([]RecordedAction, 0, len(actions))
	for _, env := range actions {
		o := w.operators[env.OperatorID]
		if o == nil {
			continue
		}
		env.Act.OperatorID = env.OperatorID // trust session identity
		recorded = append(recorded, RecordedAction{OperatorID: env.OperatorID, Act: env.Act})
		w.applyAct(o, env.Act, nowTick)
	}

	// Systems: day boundary (aging, production) -> vehicles -> storage caps.
	if nowTick != 0 && nowTick%uint64(w.cfg.Tune.DayTicks) == 0 {
		w.systemCargoAging(nowTick)
		w.systemProduction(nowTick)
	}
	w.systemVehicles(nowTick)
	w.systemStorage(nowTick)

	// Build + send OBS for each connected operator.
	for _, id := range sortedOperatorIDs(w.operators) {
		o := w.operators[id]
		cl := w.clients[id]
		if cl == nil {
			// No session. Staged frame events are dropped; reconnecting
			// clients replay from the retained ring instead.
			o.Events = nil
			continue
		}
		obs := w.buildObs(o, nowTick)
		b, err := json.Marshal(obs)
		if err != nil {
			continue
		}
		sendLatest(cl.Out, b)
	}

	digest := w.stateDigest(nowTick)
	if w.tickLogger != nil {
		_ = w.tickLogger.WriteTick(TickLogEntry{Tick: nowTick, Joins: recordedJoins, Leaves: recordedLeaves, Actions: recorded, Digest: digest})
	}

	// Periodic snapshot, starting after tick 0.
	every := uint64(w.cfg.Tune.SnapshotEveryTicks)
	if w.snapshotSink != nil && every != 0 && nowTick != 0 && nowTick%every == 0 {
		snap := w.ExportSnapshot(nowTick)
		select {
		case w.snapshotSink <- snap:
		default:
			// Drop snapshot if sink is backed up.
		}
	}

	stepMS := float64(time.Since(stepStart).Microseconds()) / 1000.0
	nextTick := w.tick.Add(1)
	w.metrics.Store(WorldMetrics{
		Tick:        nextTick,
		Operators:   len(w.operators),
		Clients:     len(w.clients),
		Stations:    len(w.stations),
		Vehicles:    len(w.vehicles),
		Industries:  len(w.industries),
		LivePackets: w.pool.Len(),
		QueueDepths: QueueDepths{
			Inbox:  len(w.inbox),
			Join:   len(w.join),
			Leave:  len(w.leave),
			Attach: len(w.attach),
		},
		StepMS: stepMS,
		Ledger: LedgerMetrics{
			Balance:         int64(w.ledger.Balance),
			DeliveredUnits:  w.ledger.DeliveredUnits,
			DeliveredIncome: int64(w.ledger.DeliveredIncome),
			TransferCredits: int64(w.ledger.TransferCredits),
			TruncatedUnits:  w.ledger.TruncatedUnits,
		},
	})
}

// StepOnce advances the world by a single tick using the same ordering
// semantics as the server. It is primarily intended for deterministic
// replays/tests.
func (w *World) StepOnce(joins []JoinRequest, leaves []string, actions []ActionEnvelope) (tick uint64, digest string) {
	tick = w.tick.Load()
	w.step(joins, leaves, actions)
	return tick, w.stateDigest(tick)
}

func (w *World) applyAct(o *Operator, act protocol.ActMsg, nowTick uint64) {
	// Staleness check: accept only [now-2, now].
	if act.Tick+2 < nowTick || act.Tick > nowTick {
		w.addEvent(o, actionResult(nowTick, "ACT", false, protocol.ErrStale, "act tick out of range"))
		return
	}

	limits := w.cfg.Tune.RateLimits
	for _, cmd := range act.Commands {
		if !o.RateLimitAllow("CMD", nowTick, uint64(limits.ActWindowTicks), limits.ActMax) {
			w.addEvent(o, actionResult(nowTick, cmd.ID, false, protocol.ErrRateLimit, "too many commands"))
			continue
		}
		w.applyCommand(o, cmd, nowTick)
	}
}

func (w *World) audit(e AuditEntry) {
	if w.auditLogger != nil {
		_ = w.auditLogger.WriteAudit(e)
	}
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
