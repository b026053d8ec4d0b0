package poll

import (
	"time"

	"github.com/kilianp07/fleetbridge/core/metrics"
	"github.com/kilianp07/fleetbridge/core/remote"
	"github.com/kilianp07/fleetbridge/core/session"
)

// Event is published on the event bus after every refresh attempt.
type Event struct {
	VIN     string
	Outcome string
	Err     error
	Latency time.Duration
	// Status and Charge are set on success. Charge is nil for vehicles
	// without a traction battery.
	Status  *remote.Status
	Charge  *remote.ChargeStatus
	Session session.Snapshot
	Time    time.Time
}

// Metrics converts the event for metrics sinks.
func (e Event) Metrics() metrics.PollEvent {
	ev := metrics.PollEvent{
		VIN:            e.VIN,
		Outcome:        e.Outcome,
		Latency:        e.Latency,
		ErrorPeriod:    e.Session.ErrorPeriod,
		ChargingPeriod: e.Session.ChargingPeriod,
		Time:           e.Time,
	}
	if e.Status != nil {
		ev.SoC = e.Status.SoC
	}
	return ev
}

func outcome(err error) string {
	if err == nil {
		return metrics.OutcomeSuccess
	}
	switch remote.KindOf(err) {
	case remote.KindAuthExpired:
		return metrics.OutcomeAuthExpired
	case remote.KindRemote:
		return metrics.OutcomeRemoteError
	default:
		return metrics.OutcomeUnexpected
	}
}
