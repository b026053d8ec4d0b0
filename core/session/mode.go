package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/kilianp07/fleetbridge/core/bus"
)

// RefreshMode governs whether and how aggressively a vehicle is polled.
type RefreshMode int

const (
	// ModeOff stops polling until another mode is requested.
	ModeOff RefreshMode = iota
	// ModePeriodic polls according to the timing policy.
	ModePeriodic
	// ModeForce polls once on the next evaluation, then restores the
	// previous mode.
	ModeForce
)

func (m RefreshMode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModePeriodic:
		return "periodic"
	case ModeForce:
		return "force"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseRefreshMode parses the bus representation of a mode.
func ParseRefreshMode(v string) (RefreshMode, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "off":
		return ModeOff, nil
	case "periodic":
		return ModePeriodic, nil
	case "force":
		return ModeForce, nil
	default:
		return ModeOff, fmt.Errorf("unsupported refresh mode %q", v)
	}
}

// setModeLocked applies a mode transition. It reports whether the current
// mode changed.
func (s *Session) setModeLocked(m RefreshMode) bool {
	switch {
	case m == s.mode:
		return false
	case m == ModeForce:
		s.previousMode = s.mode
		s.mode = ModeForce
		return true
	case s.mode == ModeForce:
		// the pending forced refresh still fires, then lands on m
		s.previousMode = m
		return false
	default:
		s.mode = m
		return true
	}
}

// SetRefreshMode requests a mode. Setting the current mode again has no
// effect.
func (s *Session) SetRefreshMode(m RefreshMode) {
	s.mu.Lock()
	changed := s.setModeLocked(m)
	s.mu.Unlock()
	if changed {
		s.publish(update{topic: bus.TopicRefreshMode, value: m})
	}
}

// RefreshMode returns the current mode.
func (s *Session) RefreshMode() RefreshMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// ShouldRefresh evaluates the timing policy at now. A pending forced refresh
// is consumed: the previous mode is restored and true is returned.
func (s *Session) ShouldRefresh(now time.Time) bool {
	s.mu.Lock()
	switch s.mode {
	case ModeOff:
		s.mu.Unlock()
		return false
	case ModeForce:
		s.mode = s.previousMode
		restored := s.mode
		s.mu.Unlock()
		s.publish(update{topic: bus.TopicRefreshMode, value: restored})
		return true
	}
	t := s.timingLocked()
	s.mu.Unlock()
	return decide(t, now)
}
