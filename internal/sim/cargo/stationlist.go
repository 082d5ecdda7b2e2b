package cargo

import "sort"

// StationCargoList holds cargo waiting at a station for one cargo type,
// keyed by the next hop each packet wants to reach. The wildcard key
// InvalidStation collects cargo with no routing preference; vehicles drain
// it last. Buckets are FIFO and a key with no packets is absent from the
// map, so key presence alone answers "anything bound for X".
type StationCargoList struct {
	cargoList
	pool *Pool

	packets       map[StationID][]*Packet
	reservedCount uint
}

// NewStationCargoList builds an empty list sharing pool with the vehicle
// lists it will exchange cargo with.
func NewStationCargoList(pool *Pool) *StationCargoList {
	return &StationCargoList{pool: pool, packets: make(map[StationID][]*Packet)}
}

// AvailableCount is the cargo on hand, excluding units reserved by vehicles.
func (l *StationCargoList) AvailableCount() uint { return l.count }

// ReservedCount is the cargo promised to loading vehicles.
func (l *StationCargoList) ReservedCount() uint { return l.reservedCount }

// TotalCount is everything the station is responsible for.
func (l *StationCargoList) TotalCount() uint { return l.count + l.reservedCount }

// Append queues p under nextHop, merging into the newest mergable packet of
// that bucket. Takes ownership of p.
func (l *StationCargoList) Append(p *Packet, nextHop StationID) {
	if p == nil {
		panic("cargo: append of nil packet")
	}
	p.nextStation = nextHop
	l.addToCache(p, p.Count())

	bucket := l.packets[nextHop]
	for i := len(bucket) - 1; i >= 0; i-- {
		if mergable(bucket[i], p) && bucket[i].TryMerge(p) {
			l.pool.Free(p.ID())
			return
		}
	}
	l.packets[nextHop] = append(bucket, p)
}

// HasCargoFor reports whether any waiting packet is keyed to one of the
// stops in next, or to the wildcard. The wildcard is checked last so a
// routed match wins when both are present.
func (l *StationCargoList) HasCargoFor(next StationIDStack) bool {
	for _, id := range next {
		if len(l.packets[id]) > 0 {
			return true
		}
	}
	return len(l.packets[InvalidStation]) > 0
}

// shiftCargo detaches up to max units, draining the buckets named in next in
// order and the wildcard bucket last. Each departing packet is handed to
// move after the caches are updated; boundary packets split.
func (l *StationCargoList) shiftCargo(next StationIDStack, max uint, move func(*Packet)) uint {
	moved := uint(0)
	for _, id := range next {
		if moved >= max {
			break
		}
		moved += l.shiftBucket(id, max-moved, move)
	}
	if moved < max {
		moved += l.shiftBucket(InvalidStation, max-moved, move)
	}
	return moved
}

func (l *StationCargoList) shiftBucket(id StationID, max uint, move func(*Packet)) uint {
	bucket, ok := l.packets[id]
	if !ok {
		return 0
	}
	moved := uint(0)
	for max > 0 && len(bucket) > 0 {
		p := bucket[0]
		take := p.Count()
		if take > max {
			np := p.Split(l.pool, max)
			l.removeFromCache(np, max)
			move(np)
			moved += max
			break
		}
		bucket = bucket[1:]
		l.removeFromCache(p, take)
		move(p)
		moved += take
		max -= take
	}
	if len(bucket) == 0 {
		delete(l.packets, id)
	} else {
		l.packets[id] = bucket
	}
	return moved
}

// Reserve moves up to max units into dest's load bucket without committing
// them. Reserved cargo leaves the waiting totals but stays the station's
// responsibility until Load commits it or Return brings it back. loadedAt
// records where the leg started, keeping cargo loaded at different stations
// from merging aboard.
func (l *StationCargoList) Reserve(max uint, dest *VehicleCargoList, loadedAt TileIndex, next StationIDStack) uint {
	moved := l.shiftCargo(next, max, func(p *Packet) {
		p.loadedAt = loadedAt
		dest.Append(p, ActionLoad)
	})
	l.reservedCount += moved
	return moved
}

// Load moves up to max units aboard dest. Cargo the vehicle already
// reserved is committed first by reclassifying it in place; only the
// remainder is shifted fresh from the waiting buckets.
func (l *StationCargoList) Load(max uint, dest *VehicleCargoList, loadedAt TileIndex, next StationIDStack) uint {
	moved := uint(0)
	if r := dest.ActionCount(ActionLoad); r > 0 {
		commit := min(r, max)
		if commit > l.reservedCount {
			panic("cargo: committing more than is reserved")
		}
		l.reservedCount -= commit
		dest.Keep(ActionLoad, commit)
		moved += commit
	}
	if moved < max {
		moved += l.shiftCargo(next, max-moved, func(p *Packet) {
			p.loadedAt = loadedAt
			dest.Append(p, ActionKeep)
		})
	}
	return moved
}

// returnPacket takes back one reserved packet. It queues under the wildcard:
// no hop was recorded while the cargo sat aboard.
func (l *StationCargoList) returnPacket(p *Packet) {
	if p.Count() > l.reservedCount {
		panic("cargo: returning more than is reserved")
	}
	l.reservedCount -= p.Count()
	p.loadedAt = InvalidTile
	l.Append(p, InvalidStation)
}

// ForgetReserved drops n units of reservation bookkeeping without moving
// any cargo: the reserving vehicle keeps what is already aboard. Used when
// the station is torn down mid-load.
func (l *StationCargoList) ForgetReserved(n uint) {
	if n > l.reservedCount {
		panic("cargo: forgetting more than is reserved")
	}
	l.reservedCount -= n
}

// Truncate destroys up to max waiting units, newest first within each
// bucket, walking buckets in ascending key order so the cut is
// deterministic. Reserved cargo is never touched. When dropped is non-nil
// the destroyed units are tallied per origin.
func (l *StationCargoList) Truncate(max uint, dropped map[SourceID]uint) uint {
	if max == 0 || l.count == 0 {
		return 0
	}
	keys := make([]StationID, 0, len(l.packets))
	for id := range l.packets {
		keys = append(keys, id)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	moved := uint(0)
	for _, id := range keys {
		if moved >= max {
			break
		}
		bucket := l.packets[id]
		for moved < max && len(bucket) > 0 {
			i := len(bucket) - 1
			p := bucket[i]
			take := p.Count()
			if take > max-moved {
				take = max - moved
				l.removeFromCache(p, take)
				if dropped != nil {
					dropped[p.source.ID] += take
				}
				p.Reduce(take)
				moved += take
				break
			}
			bucket = bucket[:i]
			l.removeFromCache(p, take)
			if dropped != nil {
				dropped[p.source.ID] += take
			}
			l.pool.Free(p.ID())
			moved += take
		}
		if len(bucket) == 0 {
			delete(l.packets, id)
		} else {
			l.packets[id] = bucket
		}
	}
	return moved
}

// Reroute re-keys every packet waiting for an avoided station. Packets keep
// their identity and order but move buckets; replacement hops that still
// name an avoided station normalize to the wildcard. Callers pass the same
// station twice to retire a single one.
func (l *StationCargoList) Reroute(avoid, avoid2 StationID, ge RouteProvider) {
	l.rerouteBucket(avoid, avoid, avoid2, ge)
	l.rerouteBucket(avoid2, avoid, avoid2, ge)
	l.InvalidateCache()
}

func (l *StationCargoList) rerouteBucket(id, avoid, avoid2 StationID, ge RouteProvider) {
	bucket, ok := l.packets[id]
	if !ok {
		return
	}
	delete(l.packets, id)
	for _, p := range bucket {
		hop := InvalidStation
		if ge != nil {
			hop = ge.NextHop(p, avoid, avoid2)
		}
		if hop == avoid || hop == avoid2 {
			hop = InvalidStation
		}
		p.nextStation = hop
		l.packets[hop] = append(l.packets[hop], p)
	}
}

// InvalidateCache recomputes the cached totals from the buckets. The
// reserved count tracks cargo that lives in vehicle lists and is preserved.
func (l *StationCargoList) InvalidateCache() {
	l.resetCache()
	for _, bucket := range l.packets {
		for _, p := range bucket {
			l.addToCache(p, p.Count())
		}
	}
}

// OnCleanPool drops all references without freeing: the pool owns
// reclamation during a cleanup pass.
func (l *StationCargoList) OnCleanPool() {
	l.packets = make(map[StationID][]*Packet)
	l.resetCache()
	l.reservedCount = 0
}

// Clear destroys all waiting cargo. Reserved cargo must have been returned
// or committed first.
func (l *StationCargoList) Clear() {
	if l.reservedCount != 0 {
		panic("cargo: clearing a station list with outstanding reservations")
	}
	for _, bucket := range l.packets {
		for _, p := range bucket {
			l.pool.Free(p.ID())
		}
	}
	l.packets = make(map[StationID][]*Packet)
	l.resetCache()
}

// RestoreBucket adopts snapshot packets for one hop key in stored order,
// without re-merging.
func (l *StationCargoList) RestoreBucket(nextHop StationID, packets []*Packet) {
	if len(packets) == 0 {
		return
	}
	for _, p := range packets {
		p.nextStation = nextHop
		l.addToCache(p, p.Count())
	}
	l.packets[nextHop] = append(l.packets[nextHop], packets...)
}

// RestoreReserved adopts the snapshot's outstanding reservation total. The
// reserved packets themselves are restored into vehicle lists.
func (l *StationCargoList) RestoreReserved(n uint) { l.reservedCount = n }

// ForEach visits buckets in ascending key order, packets front to back.
func (l *StationCargoList) ForEach(fn func(StationID, *Packet)) {
	keys := make([]StationID, 0, len(l.packets))
	for id := range l.packets {
		keys = append(keys, id)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, id := range keys {
		for _, p := range l.packets[id] {
			fn(id, p)
		}
	}
}
