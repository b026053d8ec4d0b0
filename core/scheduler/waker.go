package scheduler

import "time"

// ChargingWaker schedules the daily wake-up of a vehicle ahead of its
// charging window.
type ChargingWaker struct {
	s      *Scheduler
	offset time.Duration
}

// NewChargingWaker returns a waker firing at the window start shifted by
// offset. A negative offset wakes the vehicle earlier.
func NewChargingWaker(s *Scheduler, offset time.Duration) *ChargingWaker {
	return &ChargingWaker{s: s, offset: offset}
}

func wakeJobID(vin string) string { return "charging-wakeup-" + vin }

// ScheduleWakeUp (re)registers the wake-up job for vin.
func (w *ChargingWaker) ScheduleWakeUp(vin string, hour, minute int, fire func()) error {
	h, m := shiftClock(hour, minute, w.offset)
	w.s.log.Infof("charging wake-up for %s at %02d:%02d", vin, h, m)
	return w.s.Daily(wakeJobID(vin), h, m, fire)
}

// CancelWakeUp removes the wake-up job for vin.
func (w *ChargingWaker) CancelWakeUp(vin string) {
	w.s.Remove(wakeJobID(vin))
}

// shiftClock moves a wall clock time by offset, wrapping around midnight.
func shiftClock(hour, minute int, offset time.Duration) (int, int) {
	const day = 24 * 60
	total := (hour*60 + minute + int(offset/time.Minute)) % day
	if total < 0 {
		total += day
	}
	return total / 60, total % 60
}
