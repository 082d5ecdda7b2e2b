package world

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"

	"freightline.ai/internal/sim/cargo"
)

// stateDigest hashes the authoritative world state in a canonical order.
// Transport details (clients, resume tokens, retained events) stay out, so
// a replayed world digests identically to the live one.
func (w *World) stateDigest(nowTick uint64) string {
	h := sha256.New()
	var tmp [8]byte

	w.digestHeader(h, &tmp, nowTick)
	w.digestLedger(h, &tmp)
	w.digestStations(h, &tmp)
	w.digestVehicles(h, &tmp)
	w.digestIndustries(h, &tmp)

	return hex.EncodeToString(h.Sum(nil))
}

func digestWriteU64(h hashWriter, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteI64(h hashWriter, tmp *[8]byte, v int64) {
	digestWriteU64(h, tmp, uint64(v))
}

func digestWriteString(h hashWriter, tmp *[8]byte, s string) {
	digestWriteU64(h, tmp, uint64(len(s)))
	h.Write([]byte(s))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

type hashWriter interface {
	Write(p []byte) (n int, err error)
}

func (w *World) digestHeader(h hashWriter, tmp *[8]byte, nowTick uint64) {
	digestWriteU64(h, tmp, nowTick)
	digestWriteI64(h, tmp, w.cfg.Seed)
	digestWriteU64(h, tmp, w.nextOperatorNum.Load())
	digestWriteU64(h, tmp, w.nextStationNum.Load())
	digestWriteU64(h, tmp, w.nextVehicleNum.Load())
	digestWriteU64(h, tmp, w.nextIndustryNum.Load())
	digestWriteU64(h, tmp, w.eventCursor)
}

func (w *World) digestLedger(h hashWriter, tmp *[8]byte) {
	digestWriteI64(h, tmp, int64(w.ledger.Balance))
	digestWriteU64(h, tmp, w.ledger.DeliveredUnits)
	digestWriteI64(h, tmp, int64(w.ledger.DeliveredIncome))
	digestWriteI64(h, tmp, int64(w.ledger.TransferCredits))
	digestWriteU64(h, tmp, w.ledger.TruncatedUnits)

	ids := make([]string, 0, len(w.ledger.PerCargo))
	for id := range w.ledger.PerCargo {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		t := w.ledger.PerCargo[id]
		digestWriteString(h, tmp, id)
		digestWriteU64(h, tmp, t.DeliveredUnits)
		digestWriteI64(h, tmp, int64(t.DeliveredIncome))
	}
}

// digestPacket hashes the nine persistent packet fields. Pool handles are
// runtime identity and never enter the digest.
func digestPacket(h hashWriter, tmp *[8]byte, p *cargo.Packet) {
	st := p.State()
	digestWriteU64(h, tmp, uint64(st.Count))
	digestWriteU64(h, tmp, uint64(st.DaysInTransit))
	digestWriteI64(h, tmp, st.FeederShare)
	digestWriteU64(h, tmp, uint64(st.SourceType))
	digestWriteU64(h, tmp, uint64(st.SourceID))
	digestWriteU64(h, tmp, uint64(st.SourceStation))
	digestWriteU64(h, tmp, uint64(st.SourceTile))
	digestWriteU64(h, tmp, uint64(st.LoadedAt))
	digestWriteU64(h, tmp, uint64(st.NextStation))
}

func (w *World) digestStations(h hashWriter, tmp *[8]byte) {
	digestWriteU64(h, tmp, uint64(len(w.stations)))
	for _, sid := range sortedStationIDs(w.stations) {
		st := w.stations[sid]
		digestWriteU64(h, tmp, uint64(st.ID))
		digestWriteString(h, tmp, st.Name)
		digestWriteU64(h, tmp, uint64(st.Tile))

		idxs := sortedGoodsIndexes(st.Goods)
		digestWriteU64(h, tmp, uint64(len(idxs)))
		for _, idx := range idxs {
			ge := st.Goods[idx]
			digestWriteU64(h, tmp, uint64(idx))
			h.Write([]byte{boolByte(ge.Accepted)})
			digestWriteU64(h, tmp, uint64(ge.Cargo.ReservedCount()))

			srcs := sortedFlowSources(ge.Flows)
			digestWriteU64(h, tmp, uint64(len(srcs)))
			for _, src := range srcs {
				digestWriteU64(h, tmp, uint64(src))
				via := ge.Flows[src]
				digestWriteU64(h, tmp, uint64(len(via)))
				for _, hop := range via {
					digestWriteU64(h, tmp, uint64(hop))
				}
			}

			ge.Cargo.ForEach(func(hop cargo.StationID, p *cargo.Packet) {
				digestWriteU64(h, tmp, uint64(hop))
				digestPacket(h, tmp, p)
			})
		}
	}
}

func (w *World) digestVehicles(h hashWriter, tmp *[8]byte) {
	digestWriteU64(h, tmp, uint64(len(w.vehicles)))
	for _, vid := range sortedVehicleIDs(w.vehicles) {
		v := w.vehicles[vid]
		digestWriteU64(h, tmp, uint64(v.ID))
		digestWriteString(h, tmp, v.TypeID)
		digestWriteU64(h, tmp, uint64(v.State))
		digestWriteU64(h, tmp, uint64(v.AtStation))
		digestWriteU64(h, tmp, uint64(v.DestStation))
		digestWriteU64(h, tmp, uint64(v.LegTicksLeft))
		digestWriteU64(h, tmp, uint64(v.OrderIdx))

		digestWriteU64(h, tmp, uint64(len(v.Orders)))
		for _, o := range v.Orders {
			digestWriteU64(h, tmp, uint64(o.Station))
			digestWriteU64(h, tmp, uint64(o.Flags))
			h.Write([]byte{boolByte(o.FullLoad)})
		}

		counts := v.Hold.ActionCounts()
		for _, c := range counts {
			digestWriteU64(h, tmp, uint64(c))
		}
		v.Hold.ForEach(func(p *cargo.Packet) {
			digestPacket(h, tmp, p)
		})
	}
}

func (w *World) digestIndustries(h hashWriter, tmp *[8]byte) {
	digestWriteU64(h, tmp, uint64(len(w.industries)))
	for _, id := range sortedIndustryIDs(w.industries) {
		ind := w.industries[id]
		digestWriteU64(h, tmp, uint64(ind.ID))
		digestWriteString(h, tmp, ind.Type)
		digestWriteU64(h, tmp, uint64(ind.Station))
		digestWriteU64(h, tmp, uint64(ind.Tile))
	}
}
