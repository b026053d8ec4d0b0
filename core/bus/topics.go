package bus

// Topics relative to a vehicle prefix.
const (
	TopicAvailable = "available"

	TopicRefreshMode          = "refresh/mode"
	TopicRefreshLastActivity  = "refresh/lastActivity"
	TopicRefreshLastSuccess   = "refresh/lastSuccess"
	TopicRefreshLastError     = "refresh/lastError"
	TopicPeriodActive         = "refresh/period/active"
	TopicPeriodInactive       = "refresh/period/inActive"
	TopicPeriodAfterShutdown  = "refresh/period/afterShutdown"
	TopicPeriodInactiveGrace  = "refresh/period/inActiveGrace"
	TopicPeriodCharging       = "refresh/period/charging"
	TopicPeriodError          = "refresh/period/error"
	TopicChargingMinPercent   = "refresh/period/chargingMinPercent"
	TopicHVBatteryActive      = "drivetrain/hvBatteryActive"
	TopicCharging             = "drivetrain/charging"
	TopicChargingSchedule     = "drivetrain/chargingSchedule"
	TopicSoCTarget            = "drivetrain/socTarget"
	TopicBatteryHeating       = "drivetrain/batteryHeating"
	TopicDoorsLocked          = "doors/locked"
	TopicDoorsBoot            = "doors/boot"
	TopicRemoteClimate        = "climate/remoteClimateState"
	TopicRearWindowDefroster  = "climate/rearWindowDefrosterHeating"
	TopicFrontWindowDefroster = "climate/frontWindowDefrosterHeating"
	TopicFindMyCar            = "location/findMyCar"
)

// Command topic suffixes.
const (
	SetSuffix    = "set"
	ResultSuffix = "result"
)

// Availability payloads.
const (
	Online  = "online"
	Offline = "offline"
)

// Telemetry topics published after each successful poll.
const (
	TopicRunning           = "drivetrain/running"
	TopicSoC               = "drivetrain/soc"
	TopicRange             = "drivetrain/range"
	TopicMileage           = "drivetrain/mileage"
	TopicPluggedIn         = "drivetrain/pluggedIn"
	TopicChargingPower     = "drivetrain/power"
	TopicChargingRemaining = "drivetrain/remainingChargingTime"
	TopicHeatingSchedule   = "drivetrain/batteryHeatingSchedule"
	TopicLatitude          = "location/latitude"
	TopicLongitude         = "location/longitude"
	TopicSpeed             = "location/speed"
	TopicInteriorTemp      = "climate/interiorTemperature"
	TopicExteriorTemp      = "climate/exteriorTemperature"
	TopicLastMessage       = "info/lastMessage"
)
