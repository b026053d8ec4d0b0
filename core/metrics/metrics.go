package metrics

import "time"

// Poll outcomes.
const (
	OutcomeSuccess     = "success"
	OutcomeAuthExpired = "auth_expired"
	OutcomeRemoteError = "remote_error"
	OutcomeUnexpected  = "unexpected"
)

// PollEvent describes one refresh attempt of a vehicle.
type PollEvent struct {
	VIN            string
	Outcome        string
	Latency        time.Duration
	ErrorPeriod    time.Duration
	ChargingPeriod time.Duration
	SoC            float64
	Time           time.Time
}

// Sink records poll events. Additional event kinds are recorded when the sink
// implements the matching recorder interface.
type Sink interface {
	RecordPoll(ev PollEvent) error
}

// CommandEvent describes the handling of one inbound command.
type CommandEvent struct {
	VIN     string
	Command string
	Success bool
	// Reason is empty on success, otherwise the failure kind.
	Reason  string
	Latency time.Duration
	Time    time.Time
}

// CommandRecorder records command results.
type CommandRecorder interface {
	RecordCommand(ev CommandEvent) error
}

// ReloginEvent describes one login attempt.
type ReloginEvent struct {
	Success  bool
	Duration time.Duration
	Time     time.Time
}

// ReloginRecorder records login attempts.
type ReloginRecorder interface {
	RecordRelogin(ev ReloginEvent) error
}

// InboxEvent describes one inbox polling run.
type InboxEvent struct {
	Pages    int
	Messages int
	Time     time.Time
}

// InboxRecorder records inbox runs.
type InboxRecorder interface {
	RecordInbox(ev InboxEvent) error
}

// FleetSizeRecorder records the number of vehicles handled by the gateway.
type FleetSizeRecorder interface {
	RecordFleetSize(size int) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordPoll(PollEvent) error       { return nil }
func (NopSink) RecordCommand(CommandEvent) error { return nil }
func (NopSink) RecordRelogin(ReloginEvent) error { return nil }
func (NopSink) RecordInbox(InboxEvent) error     { return nil }
func (NopSink) RecordFleetSize(int) error        { return nil }

// RecordCommand forwards ev when s records commands.
func RecordCommand(s Sink, ev CommandEvent) error {
	if r, ok := s.(CommandRecorder); ok {
		return r.RecordCommand(ev)
	}
	return nil
}

// RecordInbox forwards ev when s records inbox runs.
func RecordInbox(s Sink, ev InboxEvent) error {
	if r, ok := s.(InboxRecorder); ok {
		return r.RecordInbox(ev)
	}
	return nil
}

// RecordFleetSize forwards size when s records it.
func RecordFleetSize(s Sink, size int) error {
	if r, ok := s.(FleetSizeRecorder); ok {
		return r.RecordFleetSize(size)
	}
	return nil
}

// Relogins returns s as a ReloginRecorder, or a no-op recorder.
func Relogins(s Sink) ReloginRecorder {
	if r, ok := s.(ReloginRecorder); ok {
		return r
	}
	return NopSink{}
}
