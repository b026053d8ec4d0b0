package session

import (
	"math"
	"time"

	"github.com/kilianp07/fleetbridge/core/bus"
	"github.com/kilianp07/fleetbridge/core/remote"
)

const (
	// below this draw the power reading is not usable for an estimate
	minChargingPowerKW = 0.1
	// longer remaining-time estimates are treated as bogus
	maxPlausibleRemaining = 24 * time.Hour
)

// chargingCadence estimates how long the vehicle needs to gain minPercent of
// its capacity at the current power. The result is bounded by the remaining
// charging time when that estimate is plausible. ok is false when no
// estimate can be made.
func chargingCadence(capacityKWh, powerKW, minPercent float64, remaining time.Duration) (time.Duration, bool) {
	power := math.Abs(powerKW)
	if power < minChargingPowerKW || capacityKWh <= 0 || minPercent <= 0 {
		return 0, false
	}
	// one percent is capacity/100 kWh, in hours at power kW, times 3600 s
	onePercent := capacityKWh * 36 / power
	p := time.Duration(math.Ceil(onePercent*minPercent)) * time.Second
	if remaining > 0 && remaining < maxPlausibleRemaining {
		p = clamp(p, time.Second, remaining)
	}
	return p, true
}

// UpdateChargingCadence recomputes the charging period from a charge status.
// When charging continues without a usable power reading the previous period
// is kept; ChargingUpdated in the snapshot tells when it was last computed.
func (s *Session) UpdateChargingCadence(cs remote.ChargeStatus, now time.Time) {
	s.mu.Lock()
	prev := s.chargingPeriod
	s.isCharging = cs.Charging
	if !cs.Charging {
		s.chargingPeriod = 0
	} else if p, ok := chargingCadence(s.batteryCapacity, cs.PowerKW, s.chargeMinPercent, cs.Remaining); ok {
		if s.activePeriod != Unset {
			p = clamp(p, s.activePeriod, s.upperBoundLocked())
		}
		s.chargingPeriod = p
		s.chargingUpdated = now
	}
	cur := s.chargingPeriod
	s.mu.Unlock()
	if cur != prev {
		s.publish(update{topic: bus.TopicPeriodCharging, value: cur})
	}
}

// ChargingPeriod returns the current charging cadence, 0 when not charging.
func (s *Session) ChargingPeriod() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chargingPeriod
}

// ErrorPeriod returns the current error backoff.
func (s *Session) ErrorPeriod() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorPeriod
}
