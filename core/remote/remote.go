package remote

import (
	"context"
	"time"
)

// Vehicle is an entry of the account's vehicle list.
type Vehicle struct {
	VIN    string `json:"vin"`
	Name   string `json:"name"`
	Model  string `json:"model"`
	Series string `json:"series"`
	// EV is true for vehicles with a traction battery that can be charged.
	EV                 bool    `json:"ev"`
	BatteryCapacityKWh float64 `json:"battery_capacity_kwh"`
}

// Status is a snapshot of the vehicle state.
type Status struct {
	Time          time.Time `json:"time"`
	EngineRunning bool      `json:"engine_running"`
	// BatteryActive reports whether the high-voltage system is powered.
	BatteryActive bool    `json:"battery_active"`
	Charging      bool    `json:"charging"`
	SoC           float64 `json:"soc"`
	RangeKM       float64 `json:"range_km"`
	MileageKM     float64 `json:"mileage_km"`
	Locked        bool    `json:"locked"`
	BootOpen      bool    `json:"boot_open"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	SpeedKMH      float64 `json:"speed_kmh"`
	InteriorTempC float64 `json:"interior_temp_c"`
	ExteriorTempC float64 `json:"exterior_temp_c"`
	ClimateOn     bool    `json:"climate_on"`
}

// ChargeStatus describes an ongoing or idle charging session.
type ChargeStatus struct {
	Charging  bool    `json:"charging"`
	PluggedIn bool    `json:"plugged_in"`
	PowerKW   float64 `json:"power_kw"`
	CurrentA  float64 `json:"current_a"`
	VoltageV  float64 `json:"voltage_v"`
	TargetSoC int     `json:"target_soc"`
	// Remaining is the manufacturer's estimate until the target is reached.
	// Zero when unknown.
	Remaining time.Duration `json:"remaining"`
	// Schedule is the charging window stored in the vehicle, if any.
	Schedule *ChargingSchedule `json:"schedule,omitempty"`
}

// HeatingSchedule is the battery pre-heating schedule.
type HeatingSchedule struct {
	Enabled   bool   `json:"enabled"`
	StartTime string `json:"start_time"`
}

// Message is an inbox entry.
type Message struct {
	ID      string    `json:"id"`
	VIN     string    `json:"vin,omitempty"`
	Title   string    `json:"title"`
	Content string    `json:"content"`
	Type    string    `json:"type"`
	Time    time.Time `json:"time"`
	Read    bool      `json:"read"`
}

// Action identifies a remote control operation.
type Action string

const (
	ActionLock           Action = "lock"
	ActionUnlock         Action = "unlock"
	ActionOpenBoot       Action = "open_boot"
	ActionClimate        Action = "climate"
	ActionRearDefrost    Action = "rear_defrost"
	ActionFrontDefrost   Action = "front_defrost"
	ActionStartCharging  Action = "start_charging"
	ActionStopCharging   Action = "stop_charging"
	ActionTargetSoC      Action = "target_soc"
	ActionBatteryHeating Action = "battery_heating"
	ActionChargeSchedule Action = "charge_schedule"
	ActionFindMyCar      Action = "find_my_car"
)

// Control is a single remote control request.
type Control struct {
	Action Action `json:"action"`
	// Value carries the action argument (climate mode, "on"/"off", target SoC...).
	Value    string            `json:"value,omitempty"`
	Schedule *ChargingSchedule `json:"schedule,omitempty"`
}

// API is the remote telemetry/control service. Implementations return
// *Error values so callers can tell expired sessions from other failures.
type API interface {
	Login(ctx context.Context) error
	ListVehicles(ctx context.Context) ([]Vehicle, error)
	FetchStatus(ctx context.Context, vin string) (Status, error)
	FetchChargeStatus(ctx context.Context, vin string) (ChargeStatus, error)
	FetchHeatingSchedule(ctx context.Context, vin string) (HeatingSchedule, error)
	SendControl(ctx context.Context, vin string, c Control) error
	// FetchInbox returns one page of messages, newest first. Pages start at 1.
	FetchInbox(ctx context.Context, page int) ([]Message, error)
	MarkRead(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}
