// Package poll runs one refresh loop per vehicle. Each iteration asks the
// vehicle's session whether a refresh is due and, if so, fetches fresh data
// from the remote API and publishes it.
package poll

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/kilianp07/fleetbridge/core/bus"
	"github.com/kilianp07/fleetbridge/core/forward"
	"github.com/kilianp07/fleetbridge/core/logger"
	"github.com/kilianp07/fleetbridge/core/monitoring"
	"github.com/kilianp07/fleetbridge/core/remote"
	"github.com/kilianp07/fleetbridge/core/session"
	"github.com/kilianp07/fleetbridge/internal/eventbus"
)

// DefaultTick is the idle wait between two evaluations.
const DefaultTick = time.Second

// Relogin is the view of the re-authentication coordinator used by loops.
type Relogin interface {
	Relogin() bool
	InProgress() bool
}

// Forwarder receives every successful snapshot.
type Forwarder interface {
	ForwardAll(ctx context.Context, s forward.Snapshot)
}

// Options configure a Loop.
type Options struct {
	Vehicle   remote.Vehicle
	Session   *session.Session
	API       remote.API
	Relogin   Relogin
	Forwarder Forwarder
	// Publisher is scoped to the vehicle.
	Publisher bus.Publisher
	Events    *eventbus.TypedBus[Event]
	Defaults  session.Defaults
	// ConfigGrace is how long to wait for periods configured over the bus
	// before falling back to Defaults.
	ConfigGrace time.Duration
	Tick        time.Duration
	Logger      logger.Logger
	Now         func() time.Time
}

// Loop polls a single vehicle.
type Loop struct {
	vehicle   remote.Vehicle
	session   *session.Session
	api       remote.API
	relogin   Relogin
	forwarder Forwarder
	pub       bus.Publisher
	events    *eventbus.TypedBus[Event]
	defaults  session.Defaults
	grace     time.Duration
	tick      time.Duration
	log       logger.Logger
	now       func() time.Time
	trigger   chan struct{}
}

// New creates a loop. Run starts it.
func New(opts Options) *Loop {
	l := &Loop{
		vehicle:   opts.Vehicle,
		session:   opts.Session,
		api:       opts.API,
		relogin:   opts.Relogin,
		forwarder: opts.Forwarder,
		pub:       opts.Publisher,
		events:    opts.Events,
		defaults:  opts.Defaults,
		grace:     opts.ConfigGrace,
		tick:      opts.Tick,
		log:       logger.OrNop(opts.Logger),
		now:       opts.Now,
		trigger:   make(chan struct{}, 1),
	}
	if l.tick <= 0 {
		l.tick = DefaultTick
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.pub == nil {
		l.pub = bus.Nop{}
	}
	return l
}

// VIN returns the polled vehicle.
func (l *Loop) VIN() string { return l.vehicle.VIN }

// Trigger wakes the loop before its idle tick elapses.
func (l *Loop) Trigger() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled, which is not an error. A panic raised by
// the remote API fails the refresh like any unexpected error; a panic anywhere
// else in the loop is returned as an error.
func (l *Loop) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("poll loop %s: panic: %v", l.vehicle.VIN, r)
			l.log.Errorf("%v\n%s", err, debug.Stack())
			monitoring.CaptureVehicle(err, l.vehicle.VIN, "poll_loop")
		}
	}()
	start := l.now()
	l.log.Infof("poll loop started")
	for {
		if ctx.Err() != nil {
			l.log.Infof("poll loop stopped")
			return nil
		}
		if l.iterate(ctx, start) {
			continue
		}
		if !l.wait(ctx) {
			l.log.Infof("poll loop stopped")
			return nil
		}
	}
}

func (l *Loop) wait(ctx context.Context) bool {
	t := time.NewTimer(l.tick)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
	case <-l.trigger:
	}
	return true
}

// iterate runs one evaluation and reports whether a refresh was attempted.
func (l *Loop) iterate(ctx context.Context, start time.Time) bool {
	if l.relogin != nil && l.relogin.InProgress() {
		return false
	}
	now := l.now()
	if !l.session.IsComplete() {
		if now.Sub(start) >= l.grace {
			l.log.Warnf("refresh periods not configured after %s, applying defaults", l.grace)
			l.session.ConfigureMissing(l.defaults)
		}
		return false
	}
	if !l.session.ShouldRefresh(now) {
		return false
	}
	l.refresh(ctx)
	return true
}

type fetched struct {
	status  remote.Status
	charge  *remote.ChargeStatus
	heating *remote.HeatingSchedule
}

func (l *Loop) fetch(ctx context.Context) (f fetched, err error) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Errorf("remote api panic: %v\n%s", r, debug.Stack())
			err = remote.Errorf(remote.KindUnexpected, "fetch", "panic: %v", r)
		}
	}()
	st, err := l.api.FetchStatus(ctx, l.vehicle.VIN)
	if err != nil {
		return f, fmt.Errorf("fetch status: %w", err)
	}
	f.status = st
	if !l.vehicle.EV {
		return f, nil
	}
	cs, err := l.api.FetchChargeStatus(ctx, l.vehicle.VIN)
	if err != nil {
		return f, fmt.Errorf("fetch charge status: %w", err)
	}
	f.charge = &cs
	hs, err := l.api.FetchHeatingSchedule(ctx, l.vehicle.VIN)
	if err != nil {
		l.log.Warnf("fetch heating schedule: %v", err)
	} else {
		f.heating = &hs
	}
	return f, nil
}

func (l *Loop) refresh(ctx context.Context) {
	start := l.now()
	f, err := l.fetch(ctx)
	now := l.now()
	if err != nil && ctx.Err() != nil {
		return
	}
	ev := Event{VIN: l.vehicle.VIN, Outcome: outcome(err), Err: err, Latency: now.Sub(start), Time: now}
	if err != nil {
		l.onFailure(err, now)
	} else {
		l.onSuccess(ctx, f, now)
		ev.Status = &f.status
		ev.Charge = f.charge
	}
	ev.Session = l.session.Snapshot()
	if l.events != nil {
		l.events.Publish(ev)
	}
}

func (l *Loop) onSuccess(ctx context.Context, f fetched, now time.Time) {
	l.session.UpdateFromStatus(f.status, now)
	if f.charge != nil {
		l.session.UpdateChargingCadence(*f.charge, now)
		if f.charge.Schedule != nil {
			if _, err := l.session.SyncChargingSchedule(*f.charge.Schedule); err != nil {
				l.log.Warnf("reported charging schedule ignored: %v", err)
			}
		}
	}
	publishTelemetry(l.pub, l.log, f)
	l.session.MarkSuccessfulRefresh(now)
	l.log.Debugf("refreshed, soc %.1f%%", f.status.SoC)
	if l.forwarder != nil {
		l.forwarder.ForwardAll(ctx, forward.Snapshot{Vehicle: l.vehicle, Status: f.status, Charge: f.charge, Time: now})
	}
}

func (l *Loop) onFailure(err error, now time.Time) {
	switch remote.KindOf(err) {
	case remote.KindAuthExpired:
		l.log.Warnf("refresh failed, session expired: %v", err)
		if l.relogin != nil {
			l.relogin.Relogin()
		}
		l.session.MarkAuthFailure(now)
	case remote.KindRemote:
		l.session.MarkFailedRefresh(now)
		l.log.Warnf("refresh failed: %v, next attempt in %s", err, l.session.ErrorPeriod())
	default:
		l.session.MarkFailedRefresh(now)
		l.log.Errorf("refresh failed unexpectedly: %v", err)
		monitoring.CaptureVehicle(err, l.vehicle.VIN, "poll")
	}
}
