package remote

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ScheduleMode selects how a scheduled charge ends.
type ScheduleMode string

const (
	ScheduleDisabled  ScheduleMode = "DISABLED"
	ScheduleUntilTime ScheduleMode = "UNTIL_CONFIGURED_TIME"
	ScheduleUntilSoC  ScheduleMode = "UNTIL_CONFIGURED_SOC"
)

// ChargingSchedule is a daily charging window, times in "HH:MM".
type ChargingSchedule struct {
	StartTime string       `json:"startTime"`
	EndTime   string       `json:"endTime"`
	Mode      ScheduleMode `json:"mode"`
}

// ParseChargingSchedule decodes and validates a JSON schedule payload.
func ParseChargingSchedule(payload string) (ChargingSchedule, error) {
	var s ChargingSchedule
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return ChargingSchedule{}, fmt.Errorf("invalid schedule: %w", err)
	}
	s.Mode = ScheduleMode(strings.ToUpper(string(s.Mode)))
	return s, s.Validate()
}

// Validate checks the mode and both clock times.
func (s ChargingSchedule) Validate() error {
	switch s.Mode {
	case ScheduleDisabled, ScheduleUntilTime, ScheduleUntilSoC:
	default:
		return fmt.Errorf("unknown schedule mode %q", s.Mode)
	}
	if _, _, err := ClockTime(s.StartTime); err != nil {
		return fmt.Errorf("startTime: %w", err)
	}
	if _, _, err := ClockTime(s.EndTime); err != nil {
		return fmt.Errorf("endTime: %w", err)
	}
	return nil
}

// Start returns the schedule start as hour and minute.
func (s ChargingSchedule) Start() (int, int, error) {
	return ClockTime(s.StartTime)
}

// ClockTime parses "HH:MM".
func ClockTime(v string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q", v)
	}
	return t.Hour(), t.Minute(), nil
}
