package world

import (
	"sort"

	"freightline.ai/internal/protocol"
	"freightline.ai/internal/sim/cargo"
	"freightline.ai/internal/sim/catalogs"
)

type Industry struct {
	ID      uint16
	Type    string
	Station cargo.StationID
	Tile    cargo.TileIndex
}

func (ind *Industry) spec(cats *catalogs.Catalogs) catalogs.IndustryDef {
	return cats.Industries.ByID[ind.Type]
}

func sortedIndustryIDs(industries map[uint16]*Industry) []uint16 {
	ids := make([]uint16, 0, len(industries))
	for id := range industries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (w *World) newIndustry(indType string, station cargo.StationID, tile cargo.TileIndex) *Industry {
	idNum := w.nextIndustryNum.Add(1)
	ind := &Industry{
		ID:      uint16(idNum),
		Type:    indType,
		Station: station,
		Tile:    tile,
	}
	w.industries[ind.ID] = ind
	return ind
}

// systemProduction runs on day boundaries: every industry hands its daily
// output to its home station, routed by the station's planned flows.
func (w *World) systemProduction(nowTick uint64) {
	for _, id := range sortedIndustryIDs(w.industries) {
		ind := w.industries[id]
		st := w.stations[ind.Station]
		if st == nil {
			continue
		}
		def := ind.spec(w.catalogs)
		for _, prod := range def.Produces {
			if prod.UnitsPerDay == 0 {
				continue
			}
			idx, ok := w.catalogs.Cargoes.Index[prod.Cargo]
			if !ok {
				continue
			}
			ge := w.ensureGoods(st, idx)
			units := prod.UnitsPerDay
			if units > cargo.MaxPacketCount {
				units = cargo.MaxPacketCount
			}
			p := w.pool.NewPacket(units, cargo.Source{Type: cargo.SourceIndustry, ID: cargo.SourceID(ind.ID)}, st.ID, ind.Tile)
			ge.Cargo.Append(p, ge.DesiredHop(p))
		}
	}
}

// removeIndustry retires an industry; packets it originated stay in the
// world but forget their origin.
func (w *World) removeIndustry(ind *Industry, actor string, nowTick uint64) {
	w.pool.InvalidateSource(cargo.SourceIndustry, cargo.SourceID(ind.ID))
	delete(w.industries, ind.ID)

	w.broadcastEvent(protocol.Event{
		"t":        nowTick,
		"type":     "INDUSTRY_REMOVED",
		"industry": ind.ID,
	})
	w.audit(AuditEntry{Tick: nowTick, Actor: actor, Action: "REMOVE_INDUSTRY", Station: uint16(ind.Station)})
}
