package command

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/kilianp07/fleetbridge/core/bus"
	"github.com/kilianp07/fleetbridge/core/remote"
	"github.com/kilianp07/fleetbridge/core/session"
)

// Handler executes one command for one vehicle. forceRefresh asks the
// gateway to poll the vehicle right after a successful command.
type Handler interface {
	Handle(ctx context.Context, payload string) (forceRefresh bool, err error)
}

// Target is what a handler acts on.
type Target struct {
	VIN     string
	Session *session.Session
	API     remote.API
	Now     func() time.Time
}

// Binding ties a command topic to its handler constructor.
type Binding struct {
	Topic string
	New   func(Target) Handler
}

// handler converts the payload to T, then applies it.
type handler[T any] struct {
	parse func(string) (T, error)
	apply func(ctx context.Context, v T) error
	force bool
}

func (h handler[T]) Handle(ctx context.Context, payload string) (bool, error) {
	v, err := h.parse(strings.TrimSpace(payload))
	if err != nil {
		return false, err
	}
	if err := h.apply(ctx, v); err != nil {
		var pe *PayloadError
		if errors.As(err, &pe) && pe.Payload == "" {
			pe.Payload = payload
		}
		return false, err
	}
	return h.force, nil
}

func parseBool(p string) (bool, error) {
	switch strings.ToLower(p) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, payloadErr(p, "expected true or false")
}

func parseSeconds(p string) (time.Duration, error) {
	n, err := strconv.Atoi(p)
	if err != nil || n <= 0 {
		return 0, payloadErr(p, "expected a positive number of seconds")
	}
	return time.Duration(n) * time.Second, nil
}

func parsePercent(p string) (float64, error) {
	f, err := strconv.ParseFloat(p, 64)
	if err != nil || f <= 0 || f > 100 {
		return 0, payloadErr(p, "expected a percentage in (0, 100]")
	}
	return f, nil
}

func parseMode(p string) (session.RefreshMode, error) {
	m, err := session.ParseRefreshMode(p)
	if err != nil {
		return 0, payloadErr(p, "expected off, periodic or force")
	}
	return m, nil
}

func parseSoCTarget(p string) (int, error) {
	n, err := strconv.Atoi(p)
	if err != nil || n < 40 || n > 100 || n%10 != 0 {
		return 0, payloadErr(p, "expected 40 to 100 in steps of 10")
	}
	return n, nil
}

func parseSchedule(p string) (remote.ChargingSchedule, error) {
	s, err := remote.ParseChargingSchedule(p)
	if err != nil {
		return s, payloadErr(p, "%v", err)
	}
	return s, nil
}

// oneOf accepts the listed values, case-insensitively.
func oneOf(values ...string) func(string) (string, error) {
	return func(p string) (string, error) {
		v := strings.ToLower(p)
		for _, ok := range values {
			if v == ok {
				return v, nil
			}
		}
		return "", payloadErr(p, "expected one of %s", strings.Join(values, ", "))
	}
}

// sessionValue maps session.ErrInvalidValue to a payload error.
func sessionValue(err error) error {
	if errors.Is(err, session.ErrInvalidValue) {
		return &PayloadError{Reason: err.Error()}
	}
	return err
}

func period(set func(*session.Session, time.Duration) error) func(Target) Handler {
	return func(t Target) Handler {
		return handler[time.Duration]{
			parse: parseSeconds,
			apply: func(_ context.Context, d time.Duration) error {
				return sessionValue(set(t.Session, d))
			},
		}
	}
}

// control sends c as the single remote call of a command.
func control(t Target, c remote.Control) func(context.Context) error {
	return func(ctx context.Context) error {
		return t.API.SendControl(ctx, t.VIN, c)
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// Default lists every supported command.
var Default = []Binding{
	{Topic: bus.TopicRefreshMode, New: func(t Target) Handler {
		return handler[session.RefreshMode]{
			parse: parseMode,
			apply: func(_ context.Context, m session.RefreshMode) error {
				t.Session.SetRefreshMode(m)
				return nil
			},
		}
	}},
	{Topic: bus.TopicPeriodActive, New: period((*session.Session).SetActivePeriod)},
	{Topic: bus.TopicPeriodInactive, New: period((*session.Session).SetInactivePeriod)},
	{Topic: bus.TopicPeriodAfterShutdown, New: period((*session.Session).SetAfterShutdownPeriod)},
	{Topic: bus.TopicPeriodInactiveGrace, New: period((*session.Session).SetInactiveGracePeriod)},
	{Topic: bus.TopicChargingMinPercent, New: func(t Target) Handler {
		return handler[float64]{
			parse: parsePercent,
			apply: func(_ context.Context, p float64) error {
				return sessionValue(t.Session.SetChargePollingMinPercent(p))
			},
		}
	}},
	{Topic: bus.TopicHVBatteryActive, New: func(t Target) Handler {
		return handler[bool]{
			parse: parseBool,
			apply: func(_ context.Context, v bool) error {
				t.Session.SetHVBatteryActive(v, t.Now())
				return nil
			},
		}
	}},
	{Topic: bus.TopicDoorsLocked, New: func(t Target) Handler {
		return handler[bool]{
			parse: parseBool,
			apply: func(ctx context.Context, locked bool) error {
				a := remote.ActionUnlock
				if locked {
					a = remote.ActionLock
				}
				return control(t, remote.Control{Action: a})(ctx)
			},
			force: true,
		}
	}},
	{Topic: bus.TopicDoorsBoot, New: func(t Target) Handler {
		return handler[bool]{
			parse: func(p string) (bool, error) {
				open, err := parseBool(p)
				if err == nil && open {
					return false, payloadErr(p, "the boot can only be opened remotely")
				}
				return open, err
			},
			apply: func(ctx context.Context, _ bool) error {
				return control(t, remote.Control{Action: remote.ActionOpenBoot})(ctx)
			},
			force: true,
		}
	}},
	{Topic: bus.TopicRemoteClimate, New: func(t Target) Handler {
		return handler[string]{
			parse: oneOf("off", "on", "front", "blowingonly"),
			apply: func(ctx context.Context, mode string) error {
				return control(t, remote.Control{Action: remote.ActionClimate, Value: mode})(ctx)
			},
			force: true,
		}
	}},
	{Topic: bus.TopicRearWindowDefroster, New: func(t Target) Handler {
		return handler[string]{
			parse: oneOf("on", "off"),
			apply: func(ctx context.Context, v string) error {
				return control(t, remote.Control{Action: remote.ActionRearDefrost, Value: v})(ctx)
			},
			force: true,
		}
	}},
	{Topic: bus.TopicFrontWindowDefroster, New: func(t Target) Handler {
		return handler[string]{
			parse: oneOf("on", "off"),
			apply: func(ctx context.Context, v string) error {
				return control(t, remote.Control{Action: remote.ActionFrontDefrost, Value: v})(ctx)
			},
			force: true,
		}
	}},
	{Topic: bus.TopicCharging, New: func(t Target) Handler {
		return handler[bool]{
			parse: parseBool,
			apply: func(ctx context.Context, start bool) error {
				a := remote.ActionStopCharging
				if start {
					a = remote.ActionStartCharging
				}
				return control(t, remote.Control{Action: a})(ctx)
			},
			force: true,
		}
	}},
	{Topic: bus.TopicSoCTarget, New: func(t Target) Handler {
		return handler[int]{
			parse: parseSoCTarget,
			apply: func(ctx context.Context, soc int) error {
				return control(t, remote.Control{Action: remote.ActionTargetSoC, Value: strconv.Itoa(soc)})(ctx)
			},
			force: true,
		}
	}},
	{Topic: bus.TopicBatteryHeating, New: func(t Target) Handler {
		return handler[bool]{
			parse: parseBool,
			apply: func(ctx context.Context, on bool) error {
				return control(t, remote.Control{Action: remote.ActionBatteryHeating, Value: onOff(on)})(ctx)
			},
			force: true,
		}
	}},
	{Topic: bus.TopicChargingSchedule, New: func(t Target) Handler {
		return handler[remote.ChargingSchedule]{
			parse: parseSchedule,
			apply: func(ctx context.Context, s remote.ChargingSchedule) error {
				if err := control(t, remote.Control{Action: remote.ActionChargeSchedule, Schedule: &s})(ctx); err != nil {
					return err
				}
				return sessionValue(t.Session.SetChargingSchedule(s))
			},
			force: true,
		}
	}},
	{Topic: bus.TopicFindMyCar, New: func(t Target) Handler {
		return handler[string]{
			parse: oneOf("activate", "lights_only", "horn_only", "stop"),
			apply: func(ctx context.Context, mode string) error {
				return control(t, remote.Control{Action: remote.ActionFindMyCar, Value: mode})(ctx)
			},
		}
	}},
}
