package protocol

type ObsMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	OperatorID      string `json:"operator_id"`

	World    WorldObs     `json:"world"`
	Stations []StationObs `json:"stations"`
	Vehicles []VehicleObs `json:"vehicles"`
	Ledger   LedgerObs    `json:"ledger"`
	Events   []Event      `json:"events"`

	EventsCursor uint64 `json:"events_cursor"`
}

type WorldObs struct {
	Day         uint64 `json:"day"`
	DayTick     int    `json:"day_tick"`
	Stations    int    `json:"stations"`
	Vehicles    int    `json:"vehicles"`
	Industries  int    `json:"industries"`
	LivePackets int    `json:"live_packets"`
}

type StationObs struct {
	ID    uint16            `json:"id"`
	Name  string            `json:"name"`
	Tile  uint32            `json:"tile"`
	Cargo []StationCargoObs `json:"cargo"`
}

type StationCargoObs struct {
	Cargo     string `json:"cargo"`
	Available uint   `json:"available"`
	Reserved  uint   `json:"reserved"`
	AvgDays   uint   `json:"avg_days"`
	Accepted  bool   `json:"accepted"`
}

type VehicleObs struct {
	ID          uint32  `json:"id"`
	VehicleType string  `json:"vehicle_type"`
	State       string  `json:"state"` // "EN_ROUTE","UNLOADING","LOADING","IDLE"
	AtStation   uint16  `json:"at_station"`
	DestStation uint16  `json:"dest_station"`
	OrderIndex  int     `json:"order_index"`
	Cargo       HoldObs `json:"cargo"`
}

type HoldObs struct {
	Cargo       string `json:"cargo"`
	Stored      uint   `json:"stored"`
	Reserved    uint   `json:"reserved"`
	AvgDays     uint   `json:"avg_days"`
	FeederShare int64  `json:"feeder_share"`
}

type LedgerObs struct {
	Balance         int64  `json:"balance"`
	DeliveredUnits  uint64 `json:"delivered_units"`
	DeliveredIncome int64  `json:"delivered_income"`
	TransferCredits int64  `json:"transfer_credits"`
	TruncatedUnits  uint64 `json:"truncated_units"`
}

type Event map[string]interface{}

// ACT (client -> server)
type ActMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Tick            uint64       `json:"tick"`
	OperatorID      string       `json:"operator_id"`
	Commands        []CommandReq `json:"commands,omitempty"`
}

type CommandReq struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	Name string `json:"name,omitempty"`
	Tile uint32 `json:"tile,omitempty"`

	Station  uint16 `json:"station,omitempty"`
	Cargo    string `json:"cargo,omitempty"`
	Industry string `json:"industry,omitempty"`

	VehicleType string     `json:"vehicle_type,omitempty"`
	VehicleID   uint32     `json:"vehicle_id,omitempty"`
	Orders      []OrderReq `json:"orders,omitempty"`

	SourceStation uint16   `json:"source_station,omitempty"`
	Via           []uint16 `json:"via,omitempty"`

	Accept     *bool  `json:"accept,omitempty"`
	IndustryID uint16 `json:"industry_id,omitempty"`
}

type OrderReq struct {
	Station uint16   `json:"station"`
	Flags   []string `json:"flags,omitempty"` // "UNLOAD","TRANSFER","NO_UNLOAD","NO_LOAD","FULL_LOAD"
}
