package session

import (
	"fmt"
	"strings"

	"github.com/kilianp07/fleetbridge/core/bus"
	"github.com/kilianp07/fleetbridge/core/remote"
)

// Waker schedules a daily wake-up for a vehicle. Scheduling again for the
// same vin replaces the previous wake-up.
type Waker interface {
	ScheduleWakeUp(vin string, hour, minute int, fire func()) error
	CancelWakeUp(vin string)
}

// SetChargingSchedule stores the schedule and arranges for a forced refresh
// when the charging window opens. A disabled schedule cancels the wake-up.
func (s *Session) SetChargingSchedule(sched remote.ChargingSchedule) error {
	if err := sched.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	s.mu.Lock()
	s.schedule = &sched
	s.mu.Unlock()

	if s.waker != nil {
		if sched.Mode == remote.ScheduleDisabled {
			s.waker.CancelWakeUp(s.vin)
		} else {
			hour, minute, _ := sched.Start()
			if err := s.waker.ScheduleWakeUp(s.vin, hour, minute, func() {
				s.SetRefreshMode(ModeForce)
			}); err != nil {
				return fmt.Errorf("schedule wake-up: %w", err)
			}
		}
	}
	s.publish(update{topic: bus.TopicChargingSchedule, value: sched})
	return nil
}

// SyncChargingSchedule applies a schedule reported by the vehicle. It only
// re-registers the wake-up when the schedule differs from the stored one, and
// reports whether it did.
func (s *Session) SyncChargingSchedule(sched remote.ChargingSchedule) (bool, error) {
	sched.Mode = remote.ScheduleMode(strings.ToUpper(string(sched.Mode)))
	s.mu.Lock()
	same := s.schedule != nil && *s.schedule == sched
	s.mu.Unlock()
	if same {
		return false, nil
	}
	return true, s.SetChargingSchedule(sched)
}

// ChargingSchedule returns the configured schedule, if any.
func (s *Session) ChargingSchedule() (remote.ChargingSchedule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedule == nil {
		return remote.ChargingSchedule{}, false
	}
	return *s.schedule, true
}
