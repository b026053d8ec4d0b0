package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/fleetbridge/core/bus"
	"github.com/kilianp07/fleetbridge/core/logger"
	"github.com/kilianp07/fleetbridge/core/remote"
)

// Unset marks a configured period that has not been set yet.
const Unset time.Duration = -1

// ErrInvalidValue is returned by setters for out of range values.
var ErrInvalidValue = errors.New("invalid value")

// Defaults fill periods that were not configured over the bus in time.
type Defaults struct {
	Active        time.Duration
	Inactive      time.Duration
	AfterShutdown time.Duration
	InactiveGrace time.Duration
}

// Options configure a new Session.
type Options struct {
	VIN       string
	Publisher bus.Publisher
	Logger    logger.Logger
	Waker     Waker
	// BatteryCapacityKWh is the usable capacity used for charging cadence.
	BatteryCapacityKWh float64
	// ChargePollingMinPercent is how many percent of charge to wait for
	// between two polls while charging.
	ChargePollingMinPercent float64
	Now                     func() time.Time
}

// Session is the refresh state of one vehicle. It is safe for concurrent use.
type Session struct {
	vin   string
	pub   bus.Publisher
	log   logger.Logger
	waker Waker

	mu           sync.Mutex
	mode         RefreshMode
	previousMode RefreshMode
	complete     bool

	activePeriod        time.Duration
	inactivePeriod      time.Duration
	afterShutdownPeriod time.Duration
	inactiveGrace       time.Duration
	chargingPeriod      time.Duration
	chargingUpdated     time.Time
	errorPeriod         time.Duration

	lastCarActivity time.Time
	lastSuccess     time.Time
	lastFailure     time.Time
	lastCarShutdown time.Time

	isCharging      bool
	hvBatteryActive bool
	hvFromCar       bool

	batteryCapacity  float64
	chargeMinPercent float64
	schedule         *remote.ChargingSchedule
}

type update struct {
	topic string
	value any
}

// New creates an incomplete Session in mode off. It becomes pollable once all
// four periods are set.
func New(opts Options) *Session {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	pub := opts.Publisher
	if pub == nil {
		pub = bus.Nop{}
	}
	minPercent := opts.ChargePollingMinPercent
	if minPercent <= 0 {
		minPercent = 1
	}
	return &Session{
		vin:                 opts.VIN,
		pub:                 pub,
		log:                 logger.OrNop(opts.Logger),
		waker:               opts.Waker,
		mode:                ModeOff,
		previousMode:        ModePeriodic,
		activePeriod:        Unset,
		inactivePeriod:      Unset,
		afterShutdownPeriod: Unset,
		inactiveGrace:       Unset,
		errorPeriod:         Unset,
		lastCarShutdown:     now(),
		batteryCapacity:     opts.BatteryCapacityKWh,
		chargeMinPercent:    minPercent,
	}
}

// VIN returns the vehicle identifier.
func (s *Session) VIN() string { return s.vin }

func (s *Session) publish(updates ...update) {
	for _, u := range updates {
		if err := s.pub.Publish(u.topic, u.value); err != nil {
			s.log.Warnf("publish %s: %v", u.topic, err)
		}
	}
}

func validPeriod(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: period must be positive, got %s", ErrInvalidValue, d)
	}
	return nil
}

// setPeriod assigns a configured period and runs completion.
func (s *Session) setPeriod(field *time.Duration, topic string, d time.Duration) error {
	if err := validPeriod(d); err != nil {
		return err
	}
	s.mu.Lock()
	active, inactive := s.activePeriod, s.inactivePeriod
	switch field {
	case &s.activePeriod:
		active = d
	case &s.inactivePeriod:
		inactive = d
	}
	if active != Unset && inactive != Unset && active > inactive {
		s.mu.Unlock()
		return fmt.Errorf("%w: active period %s exceeds inactive period %s", ErrInvalidValue, active, inactive)
	}
	*field = d
	ups := []update{{topic: topic, value: d}}
	ups = append(ups, s.normalizeLocked()...)
	ups = append(ups, s.completeLocked()...)
	s.mu.Unlock()
	s.publish(ups...)
	return nil
}

// SetActivePeriod sets the cadence while the vehicle is awake.
func (s *Session) SetActivePeriod(d time.Duration) error {
	return s.setPeriod(&s.activePeriod, bus.TopicPeriodActive, d)
}

// SetInactivePeriod sets the idle cadence.
func (s *Session) SetInactivePeriod(d time.Duration) error {
	return s.setPeriod(&s.inactivePeriod, bus.TopicPeriodInactive, d)
}

// SetAfterShutdownPeriod sets the cadence right after the vehicle shut down.
func (s *Session) SetAfterShutdownPeriod(d time.Duration) error {
	return s.setPeriod(&s.afterShutdownPeriod, bus.TopicPeriodAfterShutdown, d)
}

// SetInactiveGracePeriod sets how long the after-shutdown cadence applies.
func (s *Session) SetInactiveGracePeriod(d time.Duration) error {
	return s.setPeriod(&s.inactiveGrace, bus.TopicPeriodInactiveGrace, d)
}

// SetChargePollingMinPercent sets how many percent of charge to wait for
// between polls while charging.
func (s *Session) SetChargePollingMinPercent(p float64) error {
	if p <= 0 || p > 100 {
		return fmt.Errorf("%w: charging min percent must be in (0, 100], got %v", ErrInvalidValue, p)
	}
	s.mu.Lock()
	s.chargeMinPercent = p
	s.mu.Unlock()
	s.publish(update{topic: bus.TopicChargingMinPercent, value: p})
	return nil
}

// SetBatteryCapacity overrides the capacity used for the charging cadence.
func (s *Session) SetBatteryCapacity(kwh float64) error {
	if kwh <= 0 {
		return fmt.Errorf("%w: capacity must be positive, got %v", ErrInvalidValue, kwh)
	}
	s.mu.Lock()
	s.batteryCapacity = kwh
	s.mu.Unlock()
	return nil
}

// IsComplete reports whether all configured periods have been set.
func (s *Session) IsComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.complete
}

// ConfigureMissing fills every unset period from d.
func (s *Session) ConfigureMissing(d Defaults) {
	s.mu.Lock()
	var ups []update
	fill := func(field *time.Duration, topic string, v time.Duration) {
		if *field == Unset {
			*field = v
			ups = append(ups, update{topic: topic, value: v})
		}
	}
	fill(&s.activePeriod, bus.TopicPeriodActive, d.Active)
	fill(&s.inactivePeriod, bus.TopicPeriodInactive, d.Inactive)
	fill(&s.afterShutdownPeriod, bus.TopicPeriodAfterShutdown, d.AfterShutdown)
	fill(&s.inactiveGrace, bus.TopicPeriodInactiveGrace, d.InactiveGrace)
	ups = append(ups, s.normalizeLocked()...)
	ups = append(ups, s.completeLocked()...)
	s.mu.Unlock()
	s.publish(ups...)
}

func (s *Session) completeLocked() []update {
	if s.complete {
		return nil
	}
	if s.activePeriod == Unset || s.inactivePeriod == Unset ||
		s.afterShutdownPeriod == Unset || s.inactiveGrace == Unset {
		return nil
	}
	s.complete = true
	if s.mode == ModeOff || s.mode == ModeForce {
		s.mode = ModePeriodic
		return []update{{topic: bus.TopicRefreshMode, value: ModePeriodic}}
	}
	return nil
}

// normalizeLocked keeps errorPeriod within [active, inactive].
func (s *Session) normalizeLocked() []update {
	if s.activePeriod == Unset {
		return nil
	}
	prev := s.errorPeriod
	if s.lastFailure.IsZero() || s.errorPeriod == Unset {
		s.errorPeriod = s.activePeriod
	} else {
		s.errorPeriod = clamp(s.errorPeriod, s.activePeriod, s.upperBoundLocked())
	}
	if s.errorPeriod == prev {
		return nil
	}
	return []update{{topic: bus.TopicPeriodError, value: s.errorPeriod}}
}

func (s *Session) upperBoundLocked() time.Duration {
	if s.inactivePeriod == Unset {
		return s.activePeriod
	}
	return s.inactivePeriod
}

// clamp bounds v to [lo, hi]. When hi < lo the lower bound wins.
func clamp(v, lo, hi time.Duration) time.Duration {
	if v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}

// MarkSuccessfulRefresh records a successful poll and resets the error
// backoff.
func (s *Session) MarkSuccessfulRefresh(now time.Time) {
	s.mu.Lock()
	s.lastSuccess = now
	s.lastFailure = time.Time{}
	ups := []update{
		{topic: bus.TopicRefreshLastSuccess, value: now},
		{topic: bus.TopicAvailable, value: bus.Online},
	}
	if s.activePeriod != Unset && s.errorPeriod != s.activePeriod {
		s.errorPeriod = s.activePeriod
		ups = append(ups, update{topic: bus.TopicPeriodError, value: s.errorPeriod})
	}
	s.mu.Unlock()
	s.publish(ups...)
}

// MarkFailedRefresh records a failed poll. The first failure of a run waits
// the active period, every consecutive one doubles the wait up to the
// inactive period.
func (s *Session) MarkFailedRefresh(now time.Time) {
	s.markFailure(now, true)
}

// MarkAuthFailure records a poll that failed on an expired login. The error
// backoff does not grow.
func (s *Session) MarkAuthFailure(now time.Time) {
	s.markFailure(now, false)
}

func (s *Session) markFailure(now time.Time, grow bool) {
	s.mu.Lock()
	switch {
	case s.lastFailure.IsZero() || s.errorPeriod == Unset:
		s.errorPeriod = s.activePeriod
	case grow:
		s.errorPeriod = clamp(2*s.errorPeriod, s.activePeriod, s.upperBoundLocked())
	}
	s.lastFailure = now
	ups := []update{
		{topic: bus.TopicRefreshLastError, value: now},
		{topic: bus.TopicPeriodError, value: s.errorPeriod},
		{topic: bus.TopicAvailable, value: bus.Offline},
	}
	s.mu.Unlock()
	s.publish(ups...)
}

// NotifyCarActivity records user or vehicle activity, forcing a refresh on
// the next evaluation.
func (s *Session) NotifyCarActivity(now time.Time) {
	s.mu.Lock()
	s.lastCarActivity = now
	s.mu.Unlock()
	s.publish(update{topic: bus.TopicRefreshLastActivity, value: now})
}

// SetHVBatteryActive sets the logical awake flag. Waking the vehicle counts
// as activity.
func (s *Session) SetHVBatteryActive(active bool, now time.Time) {
	s.mu.Lock()
	s.hvBatteryActive = active
	if active {
		s.lastCarActivity = now
	}
	s.mu.Unlock()
	ups := []update{{topic: bus.TopicHVBatteryActive, value: active}}
	if active {
		ups = append(ups, update{topic: bus.TopicRefreshLastActivity, value: now})
	}
	s.publish(ups...)
}

// UpdateFromStatus derives the awake state and charging flag from a fetched
// status. A falling edge of the raw high-voltage signal records a shutdown.
func (s *Session) UpdateFromStatus(st remote.Status, now time.Time) {
	raw := st.BatteryActive || st.EngineRunning
	s.mu.Lock()
	prev := s.hvFromCar
	s.hvFromCar = raw
	s.isCharging = st.Charging
	var ups []update
	if !st.Charging && s.chargingPeriod != 0 {
		s.chargingPeriod = 0
		ups = append(ups, update{topic: bus.TopicPeriodCharging, value: time.Duration(0)})
	}
	switch {
	case prev && !raw:
		s.lastCarShutdown = now
		s.hvBatteryActive = false
		ups = append(ups, update{topic: bus.TopicHVBatteryActive, value: false})
	case !prev && raw:
		s.hvBatteryActive = true
		s.lastCarActivity = now
		ups = append(ups,
			update{topic: bus.TopicHVBatteryActive, value: true},
			update{topic: bus.TopicRefreshLastActivity, value: now},
		)
	}
	s.mu.Unlock()
	s.publish(ups...)
}

func (s *Session) timingLocked() timing {
	return timing{
		lastActivity:  s.lastCarActivity,
		lastSuccess:   s.lastSuccess,
		lastFailure:   s.lastFailure,
		lastShutdown:  s.lastCarShutdown,
		errorPeriod:   s.errorPeriod,
		chargingPer:   s.chargingPeriod,
		active:        s.activePeriod,
		inactive:      s.inactivePeriod,
		afterShutdown: s.afterShutdownPeriod,
		inactiveGrace: s.inactiveGrace,
		charging:      s.isCharging,
		hvActive:      s.hvBatteryActive,
	}
}

// Snapshot is a copy of the session state for reporting.
type Snapshot struct {
	VIN                 string                   `json:"vin"`
	Mode                string                   `json:"mode"`
	Complete            bool                     `json:"complete"`
	ActivePeriod        time.Duration            `json:"active_period"`
	InactivePeriod      time.Duration            `json:"inactive_period"`
	AfterShutdownPeriod time.Duration            `json:"after_shutdown_period"`
	InactiveGrace       time.Duration            `json:"inactive_grace_period"`
	ChargingPeriod      time.Duration            `json:"charging_period"`
	ChargingUpdated     time.Time                `json:"charging_period_updated"`
	ErrorPeriod         time.Duration            `json:"error_period"`
	LastActivity        time.Time                `json:"last_activity"`
	LastSuccess         time.Time                `json:"last_success"`
	LastFailure         time.Time                `json:"last_failure"`
	LastShutdown        time.Time                `json:"last_shutdown"`
	Charging            bool                     `json:"charging"`
	HVBatteryActive     bool                     `json:"hv_battery_active"`
	ChargeMinPercent    float64                  `json:"charge_min_percent"`
	BatteryCapacityKWh  float64                  `json:"battery_capacity_kwh"`
	ChargingSchedule    *remote.ChargingSchedule `json:"charging_schedule,omitempty"`
}

// Snapshot returns a consistent copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		VIN:                 s.vin,
		Mode:                s.mode.String(),
		Complete:            s.complete,
		ActivePeriod:        s.activePeriod,
		InactivePeriod:      s.inactivePeriod,
		AfterShutdownPeriod: s.afterShutdownPeriod,
		InactiveGrace:       s.inactiveGrace,
		ChargingPeriod:      s.chargingPeriod,
		ChargingUpdated:     s.chargingUpdated,
		ErrorPeriod:         s.errorPeriod,
		LastActivity:        s.lastCarActivity,
		LastSuccess:         s.lastSuccess,
		LastFailure:         s.lastFailure,
		LastShutdown:        s.lastCarShutdown,
		Charging:            s.isCharging,
		HVBatteryActive:     s.hvBatteryActive,
		ChargeMinPercent:    s.chargeMinPercent,
		BatteryCapacityKWh:  s.batteryCapacity,
	}
	if s.schedule != nil {
		sched := *s.schedule
		snap.ChargingSchedule = &sched
	}
	return snap
}
