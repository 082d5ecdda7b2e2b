package cargo

const (
	poolIndexBits = 20
	poolIndexMask = 1<<poolIndexBits - 1
	poolGenMax    = 1<<(32-poolIndexBits) - 1

	// MaxPoolPackets is the largest capacity a pool can be built with,
	// bounded by the slot-index bits of a PacketID.
	MaxPoolPackets = 1 << poolIndexBits
)

// PacketID is a stable handle to a pooled packet: the low bits index the
// slot, the high bits carry the slot's generation so handles to freed
// packets fail validation instead of aliasing a reused slot.
type PacketID uint32

// InvalidPacket is the zero handle. Generations start at 1, so no live
// packet ever has it.
const InvalidPacket PacketID = 0

func makePacketID(slot, gen uint32) PacketID { return PacketID(gen<<poolIndexBits | slot) }

func (id PacketID) slot() uint32 { return uint32(id) & poolIndexMask }
func (id PacketID) gen() uint32  { return uint32(id) >> poolIndexBits }

type poolSlot struct {
	gen uint32
	pkt *Packet
}

// Pool owns all packet storage for one world: a fixed-capacity arena with
// O(1) allocation and free through a free list, and forward iteration over
// live slots for the pool-wide sweeps.
type Pool struct {
	slots    []poolSlot
	free     []uint32
	live     int
	capacity int
}

// NewPool builds an empty pool. Capacity is a hard ceiling on live packets.
func NewPool(capacity int) *Pool {
	if capacity <= 0 || capacity > MaxPoolPackets {
		panic("cargo: pool capacity out of range")
	}
	return &Pool{capacity: capacity}
}

// Alloc hands out a zeroed packet. Exhaustion is fatal: the cargo ceiling is
// a design limit of the simulation, not a runtime condition to retry.
func (pl *Pool) Alloc() (*Packet, PacketID) {
	var idx uint32
	switch {
	case len(pl.free) > 0:
		idx = pl.free[len(pl.free)-1]
		pl.free = pl.free[:len(pl.free)-1]
	case len(pl.slots) < pl.capacity:
		pl.slots = append(pl.slots, poolSlot{gen: 1})
		idx = uint32(len(pl.slots) - 1)
	default:
		panic("cargo: packet pool exhausted")
	}
	s := &pl.slots[idx]
	id := makePacketID(idx, s.gen)
	p := &Packet{id: id}
	s.pkt = p
	pl.live++
	return p, id
}

// Free returns the packet behind id to the free list and bumps the slot's
// generation. Freeing a stale or invalid handle is a logic defect.
func (pl *Pool) Free(id PacketID) {
	s := pl.slotFor(id)
	if s == nil || s.pkt == nil {
		panic("cargo: free of invalid packet handle")
	}
	s.pkt = nil
	s.gen++
	if s.gen > poolGenMax {
		s.gen = 1
	}
	pl.free = append(pl.free, id.slot())
	pl.live--
}

// Get resolves a handle; nil when it is stale or was never allocated.
func (pl *Pool) Get(id PacketID) *Packet {
	if s := pl.slotFor(id); s != nil {
		return s.pkt
	}
	return nil
}

// Valid reports whether id names a live packet.
func (pl *Pool) Valid(id PacketID) bool { return pl.Get(id) != nil }

// Len is the number of live packets.
func (pl *Pool) Len() int { return pl.live }

// Cap is the fixed capacity the pool was built with.
func (pl *Pool) Cap() int { return pl.capacity }

// IterateFrom visits live packets in slot order starting at the given slot
// index, stopping early when fn returns false. Freed slots are skipped.
func (pl *Pool) IterateFrom(start uint32, fn func(PacketID, *Packet) bool) {
	for i := int(start); i < len(pl.slots); i++ {
		s := &pl.slots[i]
		if s.pkt == nil {
			continue
		}
		if !fn(makePacketID(uint32(i), s.gen), s.pkt) {
			return
		}
	}
}

func (pl *Pool) slotFor(id PacketID) *poolSlot {
	idx := id.slot()
	if idx >= uint32(len(pl.slots)) {
		return nil
	}
	s := &pl.slots[idx]
	if s.gen != id.gen() {
		return nil
	}
	return s
}

// InvalidateSource clears provenance on every live packet produced by the
// given source. Used when an industry or town is removed from the map.
func (pl *Pool) InvalidateSource(st SourceType, id SourceID) {
	pl.IterateFrom(0, func(_ PacketID, p *Packet) bool {
		if p.source.Type == st && p.source.ID == id {
			p.source.ID = InvalidSource
		}
		return true
	})
}

// InvalidateStation forgets a removed station pool-wide: next hops naming it
// fall back to the wildcard and matching first-pickup stations are cleared.
// Station lists must have re-keyed their buckets (Reroute) before this runs,
// since the hop is those lists' map key.
func (pl *Pool) InvalidateStation(st StationID) {
	pl.IterateFrom(0, func(_ PacketID, p *Packet) bool {
		if p.nextStation == st {
			p.nextStation = InvalidStation
		}
		if p.sourceStation == st {
			p.sourceStation = InvalidStation
		}
		return true
	})
}

// AfterLoad reconciles pool contents restored from an older snapshot format.
// Version 1 predates per-hop station queues: its packets carry no next hop,
// so they fall back to the wildcard and station lists re-key on import.
func AfterLoad(version int, pl *Pool) {
	if version >= 2 {
		return
	}
	pl.IterateFrom(0, func(_ PacketID, p *Packet) bool {
		p.nextStation = InvalidStation
		return true
	})
}
