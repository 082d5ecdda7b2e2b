package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

type Catalogs struct {
	Cargoes      CargoCatalog
	VehicleTypes VehicleTypeCatalog
	Industries   IndustryCatalog
}

type CargoCatalog struct {
	Palette       []string
	Index         map[string]uint16
	Defs          map[string]CargoDef
	PaletteDigest string
	DefsDigest    string
}

type CargoDef struct {
	ID            string `json:"id"`
	Label         string `json:"label"`
	UnitWeight    int    `json:"unit_weight"`
	BaseRate      int64  `json:"base_rate"`
	RatePerTile   int64  `json:"rate_per_tile"`
	PenaltyPerDay int64  `json:"penalty_per_day"`
	TransferCut   int64  `json:"transfer_cut_pct"`
}

type VehicleTypeCatalog struct {
	Palette       []string
	Index         map[string]uint16
	Defs          map[string]VehicleTypeDef
	PaletteDigest string
	DefsDigest    string
}

type VehicleTypeDef struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Cargo       string `json:"cargo"`
	Capacity    uint   `json:"capacity"`
	TicksPerLeg uint   `json:"ticks_per_leg"`
	LoadPerTick uint   `json:"load_per_tick"`
}

type IndustryCatalog struct {
	ByID   map[string]IndustryDef
	Digest string
}

type IndustryDef struct {
	ID       string          `json:"id"`
	Label    string          `json:"label"`
	Produces []ProducedCargo `json:"produces"`
	Accepts  []string        `json:"accepts,omitempty"`
}

type ProducedCargo struct {
	Cargo       string `json:"cargo"`
	UnitsPerDay uint   `json:"units_per_day"`
}

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs

	if err := loadCargoes(filepath.Join(configDir, "cargo_types.json"), &c.Cargoes); err != nil {
		return nil, err
	}
	if err := loadVehicleTypes(filepath.Join(configDir, "vehicle_types.json"), &c.VehicleTypes); err != nil {
		return nil, err
	}
	if err := loadIndustries(filepath.Join(configDir, "industries.json"), &c.Industries); err != nil {
		return nil, err
	}

	for id, vt := range c.VehicleTypes.Defs {
		if _, ok := c.Cargoes.Defs[vt.Cargo]; !ok {
			return nil, fmt.Errorf("vehicle_types.json: %s carries unknown cargo %q", id, vt.Cargo)
		}
	}
	for id, ind := range c.Industries.ByID {
		for _, p := range ind.Produces {
			if _, ok := c.Cargoes.Defs[p.Cargo]; !ok {
				return nil, fmt.Errorf("industries.json: %s produces unknown cargo %q", id, p.Cargo)
			}
		}
		for _, a := range ind.Accepts {
			if _, ok := c.Cargoes.Defs[a]; !ok {
				return nil, fmt.Errorf("industries.json: %s accepts unknown cargo %q", id, a)
			}
		}
	}

	return &c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadCargoes(path string, out *CargoCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.DefsDigest = sha256Hex(raw)

	var defs []CargoDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("cargo_types.json: %w", err)
	}
	out.Defs = map[string]CargoDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("cargo_types.json: empty id")
		}
		if d.BaseRate <= 0 {
			return fmt.Errorf("cargo_types.json: %s: base_rate must be positive", d.ID)
		}
		if d.TransferCut < 0 || d.TransferCut > 100 {
			return fmt.Errorf("cargo_types.json: %s: transfer_cut_pct out of range", d.ID)
		}
		out.Defs[d.ID] = d
	}

	ids := make([]string, 0, len(out.Defs))
	for id := range out.Defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out.Palette = ids
	out.Index = make(map[string]uint16, len(ids))
	for i, id := range ids {
		out.Index[id] = uint16(i)
	}
	palJSON, _ := json.Marshal(ids)
	out.PaletteDigest = sha256Hex(palJSON)
	return nil
}

func loadVehicleTypes(path string, out *VehicleTypeCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.DefsDigest = sha256Hex(raw)

	var defs []VehicleTypeDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("vehicle_types.json: %w", err)
	}
	out.Defs = map[string]VehicleTypeDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("vehicle_types.json: empty id")
		}
		if d.Capacity == 0 {
			return fmt.Errorf("vehicle_types.json: %s: zero capacity", d.ID)
		}
		if d.TicksPerLeg == 0 {
			return fmt.Errorf("vehicle_types.json: %s: zero ticks_per_leg", d.ID)
		}
		if d.LoadPerTick == 0 {
			return fmt.Errorf("vehicle_types.json: %s: zero load_per_tick", d.ID)
		}
		out.Defs[d.ID] = d
	}

	ids := make([]string, 0, len(out.Defs))
	for id := range out.Defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out.Palette = ids
	out.Index = make(map[string]uint16, len(ids))
	for i, id := range ids {
		out.Index[id] = uint16(i)
	}
	palJSON, _ := json.Marshal(ids)
	out.PaletteDigest = sha256Hex(palJSON)
	return nil
}

func loadIndustries(path string, out *IndustryCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []IndustryDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("industries.json: %w", err)
	}
	out.ByID = map[string]IndustryDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("industries.json: empty id")
		}
		out.ByID[d.ID] = d
	}
	return nil
}
