package worldtest

import (
	"os"
	"path/filepath"
	"testing"

	"freightline.ai/internal/sim/catalogs"
	"freightline.ai/internal/sim/tuning"
	world "freightline.ai/internal/sim/world"
)

// WriteCatalogs materializes a small catalog set in a temp dir and loads it
// through the same JSON path the server uses. Rates are round numbers so
// payment assertions stay exact, and legs are short to keep scenarios quick.
func WriteCatalogs(t *testing.T) *catalogs.Catalogs {
	t.Helper()
	dir := t.TempDir()

	write(t, dir, "cargo_types.json", `[
  {"id": "COAL", "label": "Coal", "unit_weight": 16,
   "base_rate": 120, "rate_per_tile": 2, "penalty_per_day": 8, "transfer_cut_pct": 60},
  {"id": "GOODS", "label": "Goods", "unit_weight": 8,
   "base_rate": 210, "rate_per_tile": 4, "penalty_per_day": 18, "transfer_cut_pct": 50}
]`)
	write(t, dir, "vehicle_types.json", `[
  {"id": "COAL_TRAIN", "label": "Coal Train", "cargo": "COAL",
   "capacity": 120, "ticks_per_leg": 4, "load_per_tick": 20},
  {"id": "BOX_TRUCK", "label": "Box Truck", "cargo": "GOODS",
   "capacity": 32, "ticks_per_leg": 3, "load_per_tick": 8}
]`)
	write(t, dir, "industries.json", `[
  {"id": "COAL_MINE", "label": "Coal Mine",
   "produces": [{"cargo": "COAL", "units_per_day": 60}]},
  {"id": "CITY", "label": "City District", "accepts": ["GOODS"]}
]`)

	cats, err := catalogs.Load(dir)
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	return cats
}

func write(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

// DefaultConfig is the standard scenario config: day boundaries pushed out of
// short runs and periodic snapshots off.
func DefaultConfig(id string) world.WorldConfig {
	tune := tuning.Defaults()
	tune.DayTicks = 1000
	tune.SnapshotEveryTicks = 0
	return world.WorldConfig{ID: id, Seed: 42, Tune: tune}
}
