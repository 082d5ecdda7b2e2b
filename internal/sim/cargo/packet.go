package cargo

import "errors"

var errZeroCountPacket = errors.New("cargo: packet with zero count in snapshot")

// MaxPacketCount is the most units one packet can carry.
const MaxPacketCount = 0xFFFF

// MaxDaysInTransit is where the aging counter saturates.
const MaxDaysInTransit = 0xFF

// Packet is a quantity of one cargo type sharing provenance and transit
// history. A live packet is owned by exactly one list at a time; moving
// cargo between lists transfers the pointer, never copies it.
//
// Of the two leg fields only one is meaningful at a time: loadedAt while a
// vehicle list owns the packet, nextStation while a station list does (or
// right after staging split the packet off for handoff). Reading the other
// interpretation is a bug.
type Packet struct {
	id            PacketID
	count         uint16
	daysInTransit uint8
	feederShare   Money
	source        Source
	sourceStation StationID
	sourceTile    TileIndex

	loadedAt    TileIndex
	nextStation StationID
}

// NewPacket allocates and initializes a packet at its first pickup.
func (pl *Pool) NewPacket(count uint, source Source, sourceStation StationID, sourceTile TileIndex) *Packet {
	if count == 0 || count > MaxPacketCount {
		panic("cargo: packet count out of range")
	}
	p, _ := pl.Alloc()
	p.count = uint16(count)
	p.source = source
	p.sourceStation = sourceStation
	p.sourceTile = sourceTile
	p.loadedAt = InvalidTile
	p.nextStation = InvalidStation
	return p
}

// ID is the packet's pool handle.
func (p *Packet) ID() PacketID { return p.id }

// Count is the number of units the packet represents, always in
// [1, MaxPacketCount] for a live packet.
func (p *Packet) Count() uint { return uint(p.count) }

// DaysInTransit is the saturating age of the cargo in aging days.
func (p *Packet) DaysInTransit() uint { return uint(p.daysInTransit) }

// FeederShare is the money already paid to earlier carriers of this cargo.
func (p *Packet) FeederShare() Money { return p.feederShare }

// FeederShareFor is the share carried by part units of the packet, rounded
// down. The remainder stays with the rest of the packet.
func (p *Packet) FeederShareFor(part uint) Money {
	return p.feederShare * Money(part) / Money(p.count)
}

// Source is the producing entity.
func (p *Packet) Source() Source { return p.source }

// SourceStation is the station of first pickup.
func (p *Packet) SourceStation() StationID { return p.sourceStation }

// SourceTile is the tile of first pickup.
func (p *Packet) SourceTile() TileIndex { return p.sourceTile }

// LoadedAt is the tile the packet was last loaded at. Meaningful only while
// a vehicle list owns the packet.
func (p *Packet) LoadedAt() TileIndex { return p.loadedAt }

// NextStation is the packet's desired next hop. Meaningful only while a
// station list owns the packet.
func (p *Packet) NextStation() StationID { return p.nextStation }

// Split carves off newSize units into a new packet allocated from pool. The
// feeder share moves proportionally, rounded down, with the remainder
// staying here. Splitting a packet's whole count or more is a logic defect.
func (p *Packet) Split(pool *Pool, newSize uint) *Packet {
	if newSize == 0 || newSize >= uint(p.count) {
		panic("cargo: split size out of range")
	}
	fs := p.FeederShareFor(newSize)
	np, _ := pool.Alloc()
	np.count = uint16(newSize)
	np.daysInTransit = p.daysInTransit
	np.feederShare = fs
	np.source = p.source
	np.sourceStation = p.sourceStation
	np.sourceTile = p.sourceTile
	np.loadedAt = p.loadedAt
	np.nextStation = p.nextStation
	p.feederShare -= fs
	p.count -= uint16(newSize)
	return np
}

// Merge absorbs other's units and feeder share into p. Callers must verify
// capacity first and return other to the pool afterwards. Transit ages
// combine as the count-weighted average, rounded down.
func (p *Packet) Merge(other *Packet) {
	total := uint(p.count) + uint(other.count)
	if total > MaxPacketCount {
		panic("cargo: merge exceeds packet capacity")
	}
	days := (uint(p.daysInTransit)*uint(p.count) + uint(other.daysInTransit)*uint(other.count)) / total
	p.daysInTransit = uint8(days)
	p.count = uint16(total)
	p.feederShare += other.feederShare
}

// TryMerge is the capacity-checked merge used on append paths: on success
// other's contents are absorbed and the caller must free it, on failure both
// packets are left unchanged.
func (p *Packet) TryMerge(other *Packet) bool {
	if uint(p.count)+uint(other.count) > MaxPacketCount {
		return false
	}
	p.Merge(other)
	return true
}

// Reduce destroys n units in place, dropping the proportional feeder share.
// Used when cargo is consumed rather than moved. Reducing by the packet's
// whole count or more is a logic defect; destroy the packet instead.
func (p *Packet) Reduce(n uint) {
	if n >= uint(p.count) {
		panic("cargo: reduce size out of range")
	}
	p.feederShare -= p.FeederShareFor(n)
	p.count -= uint16(n)
}

// mergable is the shared merge key: same provenance, same first pickup and
// equal transit age. Station lists add nothing (the bucket key covers the
// next hop); vehicle lists additionally require the same loading tile.
func mergable(a, b *Packet) bool {
	return a.source == b.source &&
		a.sourceStation == b.sourceStation &&
		a.sourceTile == b.sourceTile &&
		a.daysInTransit == b.daysInTransit
}

// PacketState is the flat persisted form of a packet, one field per
// persisted column. Snapshot code maps it to its own wire structs.
type PacketState struct {
	Count         uint16
	DaysInTransit uint8
	FeederShare   int64
	SourceType    uint8
	SourceID      uint16
	SourceStation uint16
	SourceTile    uint32
	LoadedAt      uint32
	NextStation   uint16
}

// State captures every persisted field of the packet.
func (p *Packet) State() PacketState {
	return PacketState{
		Count:         p.count,
		DaysInTransit: p.daysInTransit,
		FeederShare:   int64(p.feederShare),
		SourceType:    uint8(p.source.Type),
		SourceID:      uint16(p.source.ID),
		SourceStation: uint16(p.sourceStation),
		SourceTile:    uint32(p.sourceTile),
		LoadedAt:      uint32(p.loadedAt),
		NextStation:   uint16(p.nextStation),
	}
}

// RestorePacket reallocates a packet from persisted fields. Unlike the
// fatal-tier constructors this reports corrupt data as an error, since the
// input crossed a process boundary.
func (pl *Pool) RestorePacket(st PacketState) (*Packet, error) {
	if st.Count == 0 {
		return nil, errZeroCountPacket
	}
	p, _ := pl.Alloc()
	p.count = st.Count
	p.daysInTransit = st.DaysInTransit
	p.feederShare = Money(st.FeederShare)
	p.source = Source{Type: SourceType(st.SourceType), ID: SourceID(st.SourceID)}
	p.sourceStation = StationID(st.SourceStation)
	p.sourceTile = TileIndex(st.SourceTile)
	p.loadedAt = TileIndex(st.LoadedAt)
	p.nextStation = StationID(st.NextStation)
	return p, nil
}
