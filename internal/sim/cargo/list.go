package cargo

// cargoList is the cache base both list kinds embed: a unit count and a
// time-weighted transit sum over the backing container. Every mutation that
// adds or removes packet units must route through addToCache or
// removeFromCache before returning, so the caches track the container
// exactly at all times.
type cargoList struct {
	count   uint
	daysSum uint64 // sum over packets of count * daysInTransit
}

// Count is the total units held.
func (l *cargoList) Count() uint { return l.count }

// DaysInTransit is the average transit age of the held cargo in days,
// zero when the list is empty.
func (l *cargoList) DaysInTransit() uint {
	if l.count == 0 {
		return 0
	}
	return uint(l.daysSum / uint64(l.count))
}

// addToCache accounts n units of p entering the list.
func (l *cargoList) addToCache(p *Packet, n uint) {
	l.count += n
	l.daysSum += uint64(n) * uint64(p.daysInTransit)
}

// removeFromCache accounts n units of p leaving the list.
func (l *cargoList) removeFromCache(p *Packet, n uint) {
	if n > l.count {
		panic("cargo: list cache underflow")
	}
	l.count -= n
	l.daysSum -= uint64(n) * uint64(p.daysInTransit)
}

func (l *cargoList) resetCache() {
	l.count = 0
	l.daysSum = 0
}
