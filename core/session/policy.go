package session

import "time"

// timing is the immutable input of the refresh decision, copied out of a
// Session under its lock.
type timing struct {
	lastActivity  time.Time
	lastSuccess   time.Time
	lastFailure   time.Time
	lastShutdown  time.Time
	errorPeriod   time.Duration
	chargingPer   time.Duration
	active        time.Duration
	inactive      time.Duration
	afterShutdown time.Duration
	inactiveGrace time.Duration
	charging      bool
	hvActive      bool
}

// decide implements the periodic part of the timing policy. First match wins.
func decide(t timing, now time.Time) bool {
	lastPoll := t.lastSuccess
	if t.lastFailure.After(lastPoll) {
		lastPoll = t.lastFailure
	}
	if t.lastActivity.After(lastPoll) {
		return true
	}
	if !t.lastFailure.IsZero() {
		return elapsed(now, t.lastFailure, t.errorPeriod)
	}
	if t.charging && t.chargingPer > 0 {
		return elapsed(now, t.lastSuccess, t.chargingPer)
	}
	if t.hvActive {
		return elapsed(now, t.lastSuccess, t.active)
	}
	if t.inactiveGrace > 0 && now.Before(t.lastShutdown.Add(t.inactiveGrace)) {
		return elapsed(now, t.lastSuccess, t.afterShutdown)
	}
	return elapsed(now, t.lastSuccess, t.inactive)
}

// elapsed reports whether at least d has passed since since. A zero since
// counts as never.
func elapsed(now, since time.Time, d time.Duration) bool {
	if since.IsZero() {
		return true
	}
	return now.Sub(since) >= d
}
