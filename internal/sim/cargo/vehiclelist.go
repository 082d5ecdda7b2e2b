package cargo

import "fmt"

// VehicleCargoList holds the cargo aboard one vehicle. The backing slice is
// insertion-ordered (front = earliest loaded) and, after staging, physically
// grouped into [transfer][deliver][keep][load] segments. actionCounts is a
// partition of the cached count into those four buckets; the partition is
// over fungible units, so a segment boundary may sit inside a packet after
// reclassification and the front/back consumers split at it.
type VehicleCargoList struct {
	cargoList
	pool *Pool

	packets      []*Packet
	feederShare  Money
	actionCounts [NumMoveToActions]uint
}

// NewVehicleCargoList builds an empty list. All lists moving cargo between
// each other must share the same pool.
func NewVehicleCargoList(pool *Pool) *VehicleCargoList {
	return &VehicleCargoList{pool: pool}
}

// Source is the first pickup station of the frontmost (oldest) packet, or
// InvalidStation when empty.
func (l *VehicleCargoList) Source() StationID {
	if len(l.packets) == 0 {
		return InvalidStation
	}
	return l.packets[0].sourceStation
}

// FeederShare is the cached sum of feeder shares aboard.
func (l *VehicleCargoList) FeederShare() Money { return l.feederShare }

// ActionCount is the number of units staged into the given bucket.
func (l *VehicleCargoList) ActionCount(a MoveToAction) uint { return l.actionCounts[a] }

// ActionCounts is a copy of the staged partition.
func (l *VehicleCargoList) ActionCounts() [NumMoveToActions]uint { return l.actionCounts }

// StoredCount is the cargo actually loaded, excluding reservations.
func (l *VehicleCargoList) StoredCount() uint { return l.count - l.actionCounts[ActionLoad] }

// TotalCount includes reserved cargo.
func (l *VehicleCargoList) TotalCount() uint { return l.count }

// ReservedCount is the cargo reserved for this vehicle but not yet loaded.
func (l *VehicleCargoList) ReservedCount() uint { return l.actionCounts[ActionLoad] }

// UnloadCount is the cargo wanting off at the current stop.
func (l *VehicleCargoList) UnloadCount() uint {
	return l.actionCounts[ActionTransfer] + l.actionCounts[ActionDeliver]
}

// RemainingCount is the cargo staying aboard past the current stop.
func (l *VehicleCargoList) RemainingCount() uint {
	return l.actionCounts[ActionKeep] + l.actionCounts[ActionLoad]
}

func (l *VehicleCargoList) addToMeta(p *Packet, action MoveToAction) {
	l.feederShare += p.feederShare
	l.addToCache(p, p.Count())
	l.actionCounts[action] += p.Count()
}

func (l *VehicleCargoList) removeFromMeta(p *Packet, action MoveToAction, n uint) {
	if n > l.actionCounts[action] {
		panic("cargo: action bucket underflow")
	}
	l.feederShare -= p.FeederShareFor(n)
	l.removeFromCache(p, n)
	l.actionCounts[action] -= n
}

func (l *VehicleCargoList) assertConsistency() {
	total := uint(0)
	for _, c := range l.actionCounts {
		total += c
	}
	if total != l.count {
		panic("cargo: action counts out of sync with cached count")
	}
}

func vehicleMergable(a, b *Packet) bool {
	return mergable(a, b) && a.loadedAt == b.loadedAt
}

// Append takes ownership of p, classifying it under action. Only the tail
// segment can be appended to: action must be ActionLoad, or ActionKeep while
// nothing is reserved. Mergable packets in the tail segment combine instead
// of growing the list.
func (l *VehicleCargoList) Append(p *Packet, action MoveToAction) {
	if p == nil {
		panic("cargo: append of nil packet")
	}
	if action != ActionLoad && !(action == ActionKeep && l.actionCounts[ActionLoad] == 0) {
		panic("cargo: append must target the tail segment")
	}
	l.addToMeta(p, action)

	if l.count == p.Count() {
		l.packets = append(l.packets, p)
		return
	}

	// Look for a merge target, but only within the tail segment.
	sum := p.Count()
	for i := len(l.packets) - 1; i >= 0; i-- {
		icp := l.packets[i]
		if vehicleMergable(icp, p) && icp.TryMerge(p) {
			l.pool.Free(p.ID())
			return
		}
		sum += icp.Count()
		if sum >= l.actionCounts[action] {
			break
		}
	}
	l.packets = append(l.packets, p)
	l.assertConsistency()
}

// AgeCargo ages every packet aboard by one day, saturating at
// MaxDaysInTransit. Saturated packets stop contributing to the average.
func (l *VehicleCargoList) AgeCargo() {
	for _, p := range l.packets {
		if p.daysInTransit == MaxDaysInTransit {
			continue
		}
		p.daysInTransit++
		l.daysSum += uint64(p.count)
	}
}

// chooseAction classifies one packet for a stop, evaluated once per packet
// during staging. hop is where the packet wants to go next, current the stop
// being handled, accepted whether the stop takes this cargo type, next the
// vehicle's onward stops and flags the current order's cargo bits.
func chooseAction(p *Packet, hop, current StationID, accepted bool, next StationIDStack, flags OrderFlags) MoveToAction {
	if flags&OrderNoUnload != 0 {
		return ActionKeep
	}
	if (hop == InvalidStation || hop == current) && flags&(OrderUnload|OrderTransfer) != 0 {
		if flags&OrderTransfer != 0 {
			return ActionTransfer
		}
		return ActionDeliver
	}
	switch {
	case accepted && !next.Contains(hop):
		return ActionDeliver
	case hop == current && !next.Contains(hop):
		return ActionTransfer
	default:
		return ActionKeep
	}
}

// Stage reclassifies everything aboard for a stop at current, rebuilding the
// backing order into [transfer][deliver][keep] segments and stamping a next
// hop on transfer packets. It reports whether anything wants off; callers
// skip cargo handling entirely when it returns false. Staging with
// reservations outstanding is a logic defect.
func (l *VehicleCargoList) Stage(accepted bool, current StationID, next StationIDStack, flags OrderFlags, ge RouteProvider) bool {
	l.assertConsistency()
	if l.actionCounts[ActionLoad] != 0 {
		panic("cargo: staging with reserved cargo aboard")
	}

	var transfer, deliver, keep []*Packet
	l.actionCounts[ActionTransfer] = 0
	l.actionCounts[ActionDeliver] = 0
	l.actionCounts[ActionKeep] = 0

	for _, p := range l.packets {
		hop := InvalidStation
		if ge != nil {
			hop = ge.DesiredHop(p)
		}
		action := chooseAction(p, hop, current, accepted, next, flags)
		switch action {
		case ActionTransfer:
			p.nextStation = l.transferHop(p, current, next, ge)
			transfer = append(transfer, p)
		case ActionDeliver:
			deliver = append(deliver, p)
		default:
			keep = append(keep, p)
		}
		l.actionCounts[action] += p.Count()
	}

	l.packets = l.packets[:0]
	l.packets = append(l.packets, transfer...)
	l.packets = append(l.packets, deliver...)
	l.packets = append(l.packets, keep...)
	l.assertConsistency()
	return l.actionCounts[ActionTransfer] > 0 || l.actionCounts[ActionDeliver] > 0
}

// transferHop picks the hop stamped on a transfer packet: somewhere that is
// neither the station it is being dropped at nor the vehicle's own next
// stop. Falls back to the wildcard.
func (l *VehicleCargoList) transferHop(p *Packet, current StationID, next StationIDStack, ge RouteProvider) StationID {
	if ge == nil {
		return InvalidStation
	}
	hop := ge.NextHop(p, current, next.First())
	if hop == current || hop == next.First() {
		return InvalidStation
	}
	return hop
}

// Transfer flushes the whole transfer bucket to dest under each packet's
// stamped hop, with no payment involved. Used when cargo handling is cut
// short; the regular stop protocol moves transfer cargo through Unload.
func (l *VehicleCargoList) Transfer(dest *StationCargoList) uint {
	moved := l.shiftFront(ActionTransfer, l.actionCounts[ActionTransfer], func(p *Packet) {
		dest.Append(p, p.nextStation)
	})
	l.assertConsistency()
	return moved
}

// Return gives up to max units of reserved cargo back to dest, undoing a
// reservation that will not be loaded. The cargo queues under the wildcard
// hop: no hop was recorded for it while reserved.
func (l *VehicleCargoList) Return(dest *StationCargoList, max uint) uint {
	n := min(max, l.actionCounts[ActionLoad])
	moved := l.shiftBack(ActionLoad, n, func(p *Packet) {
		dest.returnPacket(p)
	})
	l.assertConsistency()
	return moved
}

// Unload moves up to max units off the vehicle. Transfer cargo goes first:
// the carrier's cut is settled through pay and rides onward with the packet
// into dest under its stamped hop. Delivery starts only once the transfer
// bucket is empty: those units are paid out and destroyed.
func (l *VehicleCargoList) Unload(max uint, dest *StationCargoList, pay Payment) uint {
	moved := uint(0)
	if t := l.actionCounts[ActionTransfer]; t > 0 {
		moved += l.shiftFront(ActionTransfer, min(t, max), func(p *Packet) {
			share := pay.PayTransfer(p, p.Count())
			p.feederShare += share
			dest.Append(p, p.nextStation)
		})
	}
	if l.actionCounts[ActionTransfer] == 0 && moved < max {
		if d := l.actionCounts[ActionDeliver]; d > 0 {
			moved += l.consumeFront(ActionDeliver, min(d, max-moved), func(p *Packet, n uint) {
				pay.PayFinalDelivery(p, n)
			})
		}
	}
	l.assertConsistency()
	return moved
}

// Shift moves up to max units of keep cargo onto another vehicle, newest
// first, splitting the boundary packet. Both vehicles must be outside a load
// cycle.
func (l *VehicleCargoList) Shift(max uint, dest *VehicleCargoList) uint {
	if l.actionCounts[ActionLoad] != 0 {
		panic("cargo: shifting with reserved cargo aboard")
	}
	n := min(max, l.actionCounts[ActionKeep])
	moved := l.shiftBack(ActionKeep, n, func(p *Packet) {
		dest.Append(p, ActionKeep)
	})
	l.assertConsistency()
	return moved
}

// Truncate destroys up to max units of keep cargo, newest first. Used when
// capacity shrinks under the cargo already aboard.
func (l *VehicleCargoList) Truncate(max uint) uint {
	if l.actionCounts[ActionLoad] != 0 {
		panic("cargo: truncating with reserved cargo aboard")
	}
	n := min(max, l.actionCounts[ActionKeep])
	moved := l.consumeBack(ActionKeep, n, nil)
	l.assertConsistency()
	return moved
}

// Reroute rewrites stamped hops that name an avoided station. Only transfer
// packets carry a meaningful hop aboard, so only that segment is touched.
func (l *VehicleCargoList) Reroute(avoid, avoid2 StationID, ge RouteProvider) {
	rem := l.actionCounts[ActionTransfer]
	for _, p := range l.packets {
		if rem == 0 {
			break
		}
		if p.Count() < rem {
			rem -= p.Count()
		} else {
			rem = 0
		}
		if p.nextStation == avoid || p.nextStation == avoid2 {
			hop := InvalidStation
			if ge != nil {
				hop = ge.NextHop(p, avoid, avoid2)
			}
			if hop == avoid || hop == avoid2 {
				hop = InvalidStation
			}
			p.nextStation = hop
		}
	}
}

// Keep reclassifies up to max units from the deliver or load bucket back to
// keep, undoing staging or consuming a reservation. The partition is over
// fungible units, so only the counts move.
func (l *VehicleCargoList) Keep(from MoveToAction, max uint) uint {
	if from != ActionDeliver && from != ActionLoad {
		panic("cargo: keep can only reclassify deliver or load cargo")
	}
	n := min(max, l.actionCounts[from])
	l.actionCounts[from] -= n
	l.actionCounts[ActionKeep] += n
	l.assertConsistency()
	return n
}

// KeepAll reclassifies everything aboard as keep.
func (l *VehicleCargoList) KeepAll() {
	l.actionCounts[ActionKeep] += l.actionCounts[ActionTransfer] +
		l.actionCounts[ActionDeliver] + l.actionCounts[ActionLoad]
	l.actionCounts[ActionTransfer] = 0
	l.actionCounts[ActionDeliver] = 0
	l.actionCounts[ActionLoad] = 0
	l.assertConsistency()
}

// shiftFront detaches up to max units from the front of the list, splitting
// the boundary packet, and hands each departing packet to move with the
// caches already updated. The budget must not exceed the front bucket.
func (l *VehicleCargoList) shiftFront(action MoveToAction, max uint, move func(*Packet)) uint {
	moved := uint(0)
	for max > 0 && len(l.packets) > 0 {
		p := l.packets[0]
		take := p.Count()
		if take > max {
			np := p.Split(l.pool, max)
			l.removeFromMeta(np, action, max)
			move(np)
			moved += max
			break
		}
		l.packets = l.packets[1:]
		l.removeFromMeta(p, action, take)
		move(p)
		moved += take
		max -= take
	}
	return moved
}

// consumeFront destroys up to max units from the front of the list. Partial
// packets are reduced in place rather than split, so consumption never
// allocates. fn, when non-nil, sees the packet and the units leaving it
// before they are gone.
func (l *VehicleCargoList) consumeFront(action MoveToAction, max uint, fn func(*Packet, uint)) uint {
	moved := uint(0)
	for max > 0 && len(l.packets) > 0 {
		p := l.packets[0]
		take := p.Count()
		if take > max {
			l.removeFromMeta(p, action, max)
			if fn != nil {
				fn(p, max)
			}
			p.Reduce(max)
			moved += max
			break
		}
		l.packets = l.packets[1:]
		l.removeFromMeta(p, action, take)
		if fn != nil {
			fn(p, take)
		}
		l.pool.Free(p.ID())
		moved += take
		max -= take
	}
	return moved
}

// shiftBack is shiftFront from the tail, for the load and keep buckets.
func (l *VehicleCargoList) shiftBack(action MoveToAction, max uint, move func(*Packet)) uint {
	moved := uint(0)
	for max > 0 && len(l.packets) > 0 {
		i := len(l.packets) - 1
		p := l.packets[i]
		take := p.Count()
		if take > max {
			np := p.Split(l.pool, max)
			l.removeFromMeta(np, action, max)
			move(np)
			moved += max
			break
		}
		l.packets = l.packets[:i]
		l.removeFromMeta(p, action, take)
		move(p)
		moved += take
		max -= take
	}
	return moved
}

// consumeBack is consumeFront from the tail.
func (l *VehicleCargoList) consumeBack(action MoveToAction, max uint, fn func(*Packet, uint)) uint {
	moved := uint(0)
	for max > 0 && len(l.packets) > 0 {
		i := len(l.packets) - 1
		p := l.packets[i]
		take := p.Count()
		if take > max {
			l.removeFromMeta(p, action, max)
			if fn != nil {
				fn(p, max)
			}
			p.Reduce(max)
			moved += max
			break
		}
		l.packets = l.packets[:i]
		l.removeFromMeta(p, action, take)
		if fn != nil {
			fn(p, take)
		}
		l.pool.Free(p.ID())
		moved += take
		max -= take
	}
	return moved
}

// InvalidateCache recomputes the cached totals from the backing slice. The
// staged partition is maintained incrementally and left alone; pool sweeps
// never change packet counts.
func (l *VehicleCargoList) InvalidateCache() {
	l.resetCache()
	l.feederShare = 0
	for _, p := range l.packets {
		l.feederShare += p.feederShare
		l.addToCache(p, p.Count())
	}
	l.assertConsistency()
}

// OnCleanPool drops all references without freeing: the pool owns
// reclamation during a cleanup pass.
func (l *VehicleCargoList) OnCleanPool() {
	l.packets = nil
	l.resetCache()
	l.feederShare = 0
	l.actionCounts = [NumMoveToActions]uint{}
}

// Clear destroys everything aboard, returning the packets to the pool.
func (l *VehicleCargoList) Clear() {
	for _, p := range l.packets {
		l.pool.Free(p.ID())
	}
	l.packets = nil
	l.resetCache()
	l.feederShare = 0
	l.actionCounts = [NumMoveToActions]uint{}
}

// ForEach visits the packets front to back.
func (l *VehicleCargoList) ForEach(fn func(*Packet)) {
	for _, p := range l.packets {
		fn(p)
	}
}

// Restore adopts snapshot contents: packets in stored order without
// re-merging, the staged partition taken as-is. A partition that does not
// sum to the adopted units is a corrupt save.
func (l *VehicleCargoList) Restore(packets []*Packet, counts [NumMoveToActions]uint) error {
	if l.count != 0 || len(l.packets) != 0 {
		panic("cargo: restore into a non-empty list")
	}
	total := uint(0)
	for _, p := range packets {
		l.feederShare += p.feederShare
		l.addToCache(p, p.Count())
		total += p.Count()
	}
	l.packets = append(l.packets, packets...)
	sum := uint(0)
	for _, c := range counts {
		sum += c
	}
	if sum != total {
		return fmt.Errorf("staged counts sum to %d, packets hold %d units", sum, total)
	}
	l.actionCounts = counts
	return nil
}
