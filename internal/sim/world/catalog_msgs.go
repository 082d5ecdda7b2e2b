package world

import (
	"sort"

	"freightline.ai/internal/protocol"
	"freightline.ai/internal/sim/catalogs"
)

type cargoCatalogData struct {
	Palette []string            `json:"palette"`
	Defs    []catalogs.CargoDef `json:"defs"`
}

func (w *World) cargoCatalogMsg() protocol.CatalogMsg {
	defs := make([]catalogs.CargoDef, 0, len(w.catalogs.Cargoes.Palette))
	for _, id := range w.catalogs.Cargoes.Palette {
		defs = append(defs, w.catalogs.Cargoes.Defs[id])
	}
	return protocol.CatalogMsg{
		Type:            protocol.TypeCatalog,
		ProtocolVersion: protocol.Version,
		Name:            "cargo_palette",
		Digest:          w.catalogs.Cargoes.PaletteDigest,
		Part:            1,
		TotalParts:      1,
		Data: cargoCatalogData{
			Palette: w.catalogs.Cargoes.Palette,
			Defs:    defs,
		},
	}
}

type vehicleCatalogData struct {
	Palette []string                  `json:"palette"`
	Defs    []catalogs.VehicleTypeDef `json:"defs"`
}

func (w *World) vehicleCatalogMsg() protocol.CatalogMsg {
	defs := make([]catalogs.VehicleTypeDef, 0, len(w.catalogs.VehicleTypes.Palette))
	for _, id := range w.catalogs.VehicleTypes.Palette {
		defs = append(defs, w.catalogs.VehicleTypes.Defs[id])
	}
	return protocol.CatalogMsg{
		Type:            protocol.TypeCatalog,
		ProtocolVersion: protocol.Version,
		Name:            "vehicle_palette",
		Digest:          w.catalogs.VehicleTypes.PaletteDigest,
		Part:            1,
		TotalParts:      1,
		Data: vehicleCatalogData{
			Palette: w.catalogs.VehicleTypes.Palette,
			Defs:    defs,
		},
	}
}

func (w *World) industriesCatalogMsg() protocol.CatalogMsg {
	ids := make([]string, 0, len(w.catalogs.Industries.ByID))
	for id := range w.catalogs.Industries.ByID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	defs := make([]catalogs.IndustryDef, 0, len(ids))
	for _, id := range ids {
		defs = append(defs, w.catalogs.Industries.ByID[id])
	}
	return protocol.CatalogMsg{
		Type:            protocol.TypeCatalog,
		ProtocolVersion: protocol.Version,
		Name:            "industries",
		Digest:          w.catalogs.Industries.Digest,
		Part:            1,
		TotalParts:      1,
		Data:            defs,
	}
}

func (w *World) catalogMessages() []protocol.CatalogMsg {
	return []protocol.CatalogMsg{
		w.cargoCatalogMsg(),
		w.vehicleCatalogMsg(),
		w.industriesCatalogMsg(),
	}
}
