package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// CurrentVersion is bumped when the encoding changes in a way the importer
// must reconcile. Version 1 snapshots predate per-hop station buckets.
const CurrentVersion = 2

type Header struct {
	Version int    `json:"version"`
	WorldID string `json:"world_id"`
	Tick    uint64 `json:"tick"`
}

type SnapshotV2 struct {
	Header Header `json:"header"`

	Seed     int64 `json:"seed"`
	TickRate int   `json:"tick_rate_hz"`
	DayTicks int   `json:"day_ticks"`

	// Operational parameters captured for deterministic resume.
	SnapshotEveryTicks int          `json:"snapshot_every_ticks,omitempty"`
	PacketPoolCap      int          `json:"packet_pool_cap,omitempty"`
	StationStorageCap  int          `json:"station_storage_cap,omitempty"`
	TruncateBatch      int          `json:"truncate_batch,omitempty"`
	PaymentRatePct     int          `json:"payment_rate_pct,omitempty"`
	RateLimits         RateLimitsV2 `json:"rate_limits,omitempty"`

	Stations   []StationV2  `json:"stations"`
	Vehicles   []VehicleV2  `json:"vehicles"`
	Industries []IndustryV2 `json:"industries"`
	Operators  []OperatorV2 `json:"operators,omitempty"`

	Ledger LedgerV2 `json:"ledger"`

	Counters CountersV2 `json:"counters"`
}

type RateLimitsV2 struct {
	ActWindowTicks int `json:"act_window_ticks,omitempty"`
	ActMax         int `json:"act_max,omitempty"`
}

type CountersV2 struct {
	NextOperator uint64 `json:"next_operator"`
	NextStation  uint64 `json:"next_station"`
	NextVehicle  uint64 `json:"next_vehicle"`
	NextIndustry uint64 `json:"next_industry"`
	EventCursor  uint64 `json:"event_cursor"`
}

// PacketV2 stores a cargo packet inline in whichever list owns it. Pool
// handles are not persisted; the importer re-allocates.
type PacketV2 struct {
	Count         uint16 `json:"count"`
	DaysInTransit uint8  `json:"days_in_transit"`
	FeederShare   int64  `json:"feeder_share"`
	SourceType    uint8  `json:"source_type"`
	SourceID      uint16 `json:"source_id"`
	SourceStation uint16 `json:"source_station"`
	SourceTile    uint32 `json:"source_tile"`
	LoadedAt      uint32 `json:"loaded_at"`
	NextStation   uint16 `json:"next_station"`
}

type BucketV2 struct {
	NextHop uint16     `json:"next_hop"`
	Packets []PacketV2 `json:"packets"`
}

type StationCargoV2 struct {
	Cargo    string     `json:"cargo"`
	Accepted bool       `json:"accepted"`
	Buckets  []BucketV2 `json:"buckets"`
	Reserved uint       `json:"reserved"`
	Flows    []FlowV2   `json:"flows,omitempty"`
}

type FlowV2 struct {
	SourceStation uint16   `json:"source_station"`
	Via           []uint16 `json:"via"`
}

type StationV2 struct {
	ID    uint16           `json:"id"`
	Name  string           `json:"name"`
	Tile  uint32           `json:"tile"`
	Cargo []StationCargoV2 `json:"cargo"`
}

type VehicleV2 struct {
	ID           uint32     `json:"id"`
	VehicleType  string     `json:"vehicle_type"`
	State        uint8      `json:"state"`
	AtStation    uint16     `json:"at_station"`
	DestStation  uint16     `json:"dest_station"`
	LegTicksLeft uint       `json:"leg_ticks_left"`
	OrderIndex   int        `json:"order_index"`
	Orders       []OrderV2  `json:"orders"`
	Packets      []PacketV2 `json:"packets"`
	ActionCounts [4]uint    `json:"action_counts"`
}

type OrderV2 struct {
	Station  uint16 `json:"station"`
	Flags    uint8  `json:"flags"`
	FullLoad bool   `json:"full_load"`
}

type IndustryV2 struct {
	ID      uint16 `json:"id"`
	Type    string `json:"industry_type"`
	Station uint16 `json:"station"`
	Tile    uint32 `json:"tile"`
}

type OperatorV2 struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ResumeToken string `json:"resume_token,omitempty"`
	EventCursor uint64 `json:"event_cursor,omitempty"`
}

type LedgerV2 struct {
	Balance         int64           `json:"balance"`
	DeliveredUnits  uint64          `json:"delivered_units"`
	DeliveredIncome int64           `json:"delivered_income"`
	TransferCredits int64           `json:"transfer_credits"`
	TruncatedUnits  uint64          `json:"truncated_units"`
	PerCargo        []CargoTotalsV2 `json:"per_cargo,omitempty"`
}

type CargoTotalsV2 struct {
	Cargo           string `json:"cargo"`
	DeliveredUnits  uint64 `json:"delivered_units"`
	DeliveredIncome int64  `json:"delivered_income"`
}

func WriteSnapshot(path string, snap SnapshotV2) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func ReadSnapshot(path string) (SnapshotV2, error) {
	var snap SnapshotV2
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Read header line (ignore it for now, gob also contains header).
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}
