package world

import (
	"freightline.ai/internal/protocol"
	"freightline.ai/internal/sim/cargo"
	"freightline.ai/internal/sim/catalogs"
)

// Ledger is the world's single money account plus cumulative cargo totals.
type Ledger struct {
	Balance         cargo.Money
	DeliveredUnits  uint64
	DeliveredIncome cargo.Money
	TransferCredits cargo.Money
	TruncatedUnits  uint64

	// Per-cargo delivery totals, keyed by cargo id.
	PerCargo map[string]*CargoTotals
}

type CargoTotals struct {
	DeliveredUnits  uint64
	DeliveredIncome cargo.Money
}

func NewLedger() Ledger {
	return Ledger{PerCargo: map[string]*CargoTotals{}}
}

func (l *Ledger) totalsFor(cargoID string) *CargoTotals {
	t := l.PerCargo[cargoID]
	if t == nil {
		t = &CargoTotals{}
		l.PerCargo[cargoID] = t
	}
	return t
}

// stopPayment settles one vehicle's cargo handling during a single tick at a
// station. Deliveries move real money; transfer shares are credited
// virtually and ride onward with the packet.
type stopPayment struct {
	w   *World
	v   *Vehicle
	st  *Station
	def catalogs.CargoDef

	tick uint64

	deliveredUnits  uint
	deliveredIncome cargo.Money
	legProfit       cargo.Money
	transferUnits   uint
	transferShare   cargo.Money
}

func (w *World) newStopPayment(v *Vehicle, st *Station, nowTick uint64) *stopPayment {
	cargoID := w.catalogs.Cargoes.Palette[v.CargoIndex]
	return &stopPayment{
		w:    w,
		v:    v,
		st:   st,
		def:  w.catalogs.Cargoes.Defs[cargoID],
		tick: nowTick,
	}
}

func (p *stopPayment) PayFinalDelivery(pkt *cargo.Packet, n uint) {
	income := p.w.cargoIncome(p.def, tileDistance(pkt.SourceTile(), p.st.Tile), pkt.DaysInTransit(), n)
	p.w.ledger.Balance += income
	p.w.ledger.DeliveredIncome += income
	p.w.ledger.DeliveredUnits += uint64(n)
	t := p.w.ledger.totalsFor(p.def.ID)
	t.DeliveredUnits += uint64(n)
	t.DeliveredIncome += income

	p.deliveredUnits += n
	p.deliveredIncome += income
	p.legProfit += income - pkt.FeederShareFor(n)
}

func (p *stopPayment) PayTransfer(pkt *cargo.Packet, n uint) cargo.Money {
	loadedAt := pkt.LoadedAt()
	if loadedAt == cargo.InvalidTile {
		return 0
	}
	legIncome := p.w.cargoIncome(p.def, tileDistance(loadedAt, p.st.Tile), pkt.DaysInTransit(), n)
	share := legIncome * cargo.Money(p.def.TransferCut) / 100
	if share < 0 {
		share = 0
	}
	p.w.ledger.TransferCredits += share

	p.transferUnits += n
	p.transferShare += share
	return share
}

// flush reports the tick's settled cargo to the operators and audit log.
func (p *stopPayment) flush() {
	if p.deliveredUnits > 0 {
		p.w.broadcastEvent(protocol.Event{
			"t":          p.tick,
			"type":       "DELIVERY",
			"vehicle":    p.v.ID,
			"station":    uint16(p.st.ID),
			"cargo":      p.def.ID,
			"units":      p.deliveredUnits,
			"income":     int64(p.deliveredIncome),
			"leg_profit": int64(p.legProfit),
		})
		p.w.audit(AuditEntry{
			Tick: p.tick, Actor: "world", Action: "DELIVERY",
			Station: uint16(p.st.ID), Vehicle: p.v.ID,
			Cargo: p.def.ID, Units: p.deliveredUnits,
		})
	}
	if p.transferUnits > 0 {
		p.w.broadcastEvent(protocol.Event{
			"t":       p.tick,
			"type":    "TRANSFER",
			"vehicle": p.v.ID,
			"station": uint16(p.st.ID),
			"cargo":   p.def.ID,
			"units":   p.transferUnits,
			"share":   int64(p.transferShare),
		})
		p.w.audit(AuditEntry{
			Tick: p.tick, Actor: "world", Action: "TRANSFER",
			Station: uint16(p.st.ID), Vehicle: p.v.ID,
			Cargo: p.def.ID, Units: p.transferUnits,
		})
	}
}

// cargoIncome prices n units hauled dist tiles in the given transit days.
// Stale cargo never drops below a quarter of the base rate.
func (w *World) cargoIncome(def catalogs.CargoDef, dist uint, days uint, n uint) cargo.Money {
	per := def.BaseRate + int64(dist)*def.RatePerTile - int64(days)*def.PenaltyPerDay
	if floor := def.BaseRate / 4; per < floor {
		per = floor
	}
	total := per * int64(n)
	total = total * int64(w.cfg.Tune.PaymentRatePct) / 100
	return cargo.Money(total)
}

// tileDistance is the Manhattan distance between two packed tile indexes
// (low 16 bits x, high 16 bits y).
func tileDistance(a, b cargo.TileIndex) uint {
	ax, ay := int(a&0xFFFF), int(a>>16)
	bx, by := int(b&0xFFFF), int(b>>16)
	dx := ax - bx
	if dx < 0 {
		dx = -dx
	}
	dy := ay - by
	if dy < 0 {
		dy = -dy
	}
	return uint(dx + dy)
}
