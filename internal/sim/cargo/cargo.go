// Package cargo implements the freight packet subsystem: a pooled packet
// arena, the per-vehicle and per-station lists that own those packets, and
// the staging machinery that classifies cargo at every stop.
//
// All mutation is single-threaded inside the world tick. Nothing in this
// package is safe for concurrent use.
package cargo

// StationID identifies a station. InvalidStation doubles as the wildcard
// "any destination" next hop on waiting cargo.
type StationID uint16

const InvalidStation StationID = 0xFFFF

// TileIndex locates a map tile.
type TileIndex uint32

const InvalidTile TileIndex = 0xFFFFFFFF

// Money is a signed amount in the smallest currency unit.
type Money int64

// SourceType tells what kind of producer created a packet.
type SourceType uint8

const (
	SourceIndustry SourceType = iota
	SourceTown
	SourceHeadquarters
)

// SourceID identifies the producer within its type.
type SourceID uint16

const InvalidSource SourceID = 0xFFFF

// Source is packet provenance: the entity that produced the cargo.
type Source struct {
	Type SourceType
	ID   SourceID
}

// MoveToAction is the staging bucket a unit of vehicle cargo sits in. The
// order of the constants is also the physical order of the segments in a
// vehicle list after staging.
type MoveToAction uint8

const (
	// ActionTransfer hands cargo to the station for someone else to carry.
	ActionTransfer MoveToAction = iota
	// ActionDeliver consumes cargo at this stop.
	ActionDeliver
	// ActionKeep leaves cargo aboard untouched.
	ActionKeep
	// ActionLoad marks cargo reserved at a station but not yet loaded.
	ActionLoad

	NumMoveToActions
)

func (a MoveToAction) String() string {
	switch a {
	case ActionTransfer:
		return "transfer"
	case ActionDeliver:
		return "deliver"
	case ActionKeep:
		return "keep"
	case ActionLoad:
		return "load"
	}
	return "invalid"
}

// OrderFlags carry the cargo-handling bits of a vehicle's current order.
type OrderFlags uint8

const (
	// OrderUnload forces cargo off regardless of what the stop accepts.
	OrderUnload OrderFlags = 1 << iota
	// OrderTransfer hands forced-off cargo to the station for onward
	// carriage instead of delivering it.
	OrderTransfer
	// OrderNoUnload keeps everything aboard at this stop.
	OrderNoUnload
	// OrderNoLoad takes no new cargo at this stop.
	OrderNoLoad
)

// StationIDStack is an ordered set of candidate next hops, highest priority
// first. Produced by order logic, consumed read-only here. The wildcard is
// implicit: station lists always fall back to it after the listed hops.
type StationIDStack []StationID

// Contains reports whether id is one of the candidate hops.
func (s StationIDStack) Contains(id StationID) bool {
	for _, v := range s {
		if v == id {
			return true
		}
	}
	return false
}

// First is the highest-priority hop, wildcard when the stack is empty.
func (s StationIDStack) First() StationID {
	if len(s) == 0 {
		return InvalidStation
	}
	return s[0]
}

// Payment settles money for cargo leaving a vehicle. The lists pass count,
// feeder share and provenance faithfully and record nothing themselves.
type Payment interface {
	// PayFinalDelivery settles n units of p reaching their destination.
	PayFinalDelivery(p *Packet, n uint)
	// PayTransfer settles the partial leg for n units of p and returns the
	// feeder share earned, which travels onward with the packet.
	PayTransfer(p *Packet, n uint) Money
}

// RouteProvider supplies next-hop routing for cargo handled at one station.
// Implementations should return the wildcard when no usable hop exists; the
// lists normalize an avoided return to the wildcard.
type RouteProvider interface {
	// DesiredHop reports where p wants to travel next from this station.
	DesiredHop(p *Packet) StationID
	// NextHop picks a replacement hop for p that avoids the given stations.
	NextHop(p *Packet, avoid, avoid2 StationID) StationID
}
