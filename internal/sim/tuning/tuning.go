package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	TickRateHz         int `yaml:"tick_rate_hz"`
	DayTicks           int `yaml:"day_ticks"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`

	PacketPoolCap     int `yaml:"packet_pool_cap"`
	StationStorageCap int `yaml:"station_storage_cap"`
	TruncateBatch     int `yaml:"truncate_batch"`
	PaymentRatePct    int `yaml:"payment_rate_pct"`

	RateLimits RateLimits `yaml:"rate_limits"`
}

type RateLimits struct {
	ActWindowTicks int `yaml:"act_window_ticks"`
	ActMax         int `yaml:"act_max"`
}

// Defaults mirrors configs/tuning.yaml so a missing or partial file
// still yields a runnable world.
func Defaults() Tuning {
	return Tuning{
		TickRateHz:         10,
		DayTicks:           74,
		SnapshotEveryTicks: 3000,
		PacketPoolCap:      1 << 16,
		StationStorageCap:  4096,
		TruncateBatch:      256,
		PaymentRatePct:     100,
		RateLimits: RateLimits{
			ActWindowTicks: 100,
			ActMax:         32,
		},
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}
