package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/fleetbridge/core/metrics"
)

// PromSink records gateway events in Prometheus metrics.
type PromSink struct {
	polls          *prometheus.CounterVec
	pollLatency    *prometheus.HistogramVec
	errorPeriod    *prometheus.GaugeVec
	chargingPeriod *prometheus.GaugeVec
	soc            *prometheus.GaugeVec
	commands       *prometheus.CounterVec
	relogins       *prometheus.CounterVec
	inboxMessages  prometheus.Counter
	fleet          prometheus.Gauge
}

// NewPromSink registers gateway metrics on the default Prometheus registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vehicle_polls_total",
			Help: "Total number of vehicle refresh attempts",
		}, []string{"vin", "outcome"}),
		pollLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vehicle_poll_duration_seconds",
			Help:    "Duration of a vehicle refresh against the remote API",
			Buckets: prometheus.DefBuckets,
		}, []string{"vin"}),
		errorPeriod: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vehicle_error_period_seconds",
			Help: "Current error backoff of a vehicle",
		}, []string{"vin"}),
		chargingPeriod: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vehicle_charging_period_seconds",
			Help: "Current charging poll cadence of a vehicle, 0 when not charging",
		}, []string{"vin"}),
		soc: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vehicle_soc_percent",
			Help: "Last reported state of charge",
		}, []string{"vin"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vehicle_commands_total",
			Help: "Total number of handled bus commands",
		}, []string{"vin", "command", "success"}),
		relogins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "remote_relogins_total",
			Help: "Total number of relogin attempts",
		}, []string{"success"}),
		inboxMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inbox_messages_total",
			Help: "Total number of new inbox messages processed",
		}),
		fleet: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_vehicles",
			Help: "Number of vehicles handled by the gateway",
		}),
	}
	var err error
	if s.polls, err = register(reg, s.polls); err != nil {
		return nil, err
	}
	if s.pollLatency, err = register(reg, s.pollLatency); err != nil {
		return nil, err
	}
	if s.errorPeriod, err = register(reg, s.errorPeriod); err != nil {
		return nil, err
	}
	if s.chargingPeriod, err = register(reg, s.chargingPeriod); err != nil {
		return nil, err
	}
	if s.soc, err = register(reg, s.soc); err != nil {
		return nil, err
	}
	if s.commands, err = register(reg, s.commands); err != nil {
		return nil, err
	}
	if s.relogins, err = register(reg, s.relogins); err != nil {
		return nil, err
	}
	if s.inboxMessages, err = register(reg, s.inboxMessages); err != nil {
		return nil, err
	}
	if s.fleet, err = register(reg, s.fleet); err != nil {
		return nil, err
	}
	return s, nil
}

// register registers c, reusing an identical collector registered before.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordPoll counts the attempt and updates the per-vehicle gauges.
func (s *PromSink) RecordPoll(ev coremetrics.PollEvent) error {
	s.polls.WithLabelValues(ev.VIN, ev.Outcome).Inc()
	s.pollLatency.WithLabelValues(ev.VIN).Observe(ev.Latency.Seconds())
	s.errorPeriod.WithLabelValues(ev.VIN).Set(ev.ErrorPeriod.Seconds())
	s.chargingPeriod.WithLabelValues(ev.VIN).Set(ev.ChargingPeriod.Seconds())
	if ev.Outcome == coremetrics.OutcomeSuccess {
		s.soc.WithLabelValues(ev.VIN).Set(ev.SoC)
	}
	return nil
}

// RecordCommand counts a handled command.
func (s *PromSink) RecordCommand(ev coremetrics.CommandEvent) error {
	s.commands.WithLabelValues(ev.VIN, ev.Command, strconv.FormatBool(ev.Success)).Inc()
	return nil
}

// RecordRelogin counts a login attempt.
func (s *PromSink) RecordRelogin(ev coremetrics.ReloginEvent) error {
	s.relogins.WithLabelValues(strconv.FormatBool(ev.Success)).Inc()
	return nil
}

// RecordInbox counts processed inbox messages.
func (s *PromSink) RecordInbox(ev coremetrics.InboxEvent) error {
	s.inboxMessages.Add(float64(ev.Messages))
	return nil
}

// RecordFleetSize sets the gauge to the number of handled vehicles.
func (s *PromSink) RecordFleetSize(size int) error {
	s.fleet.Set(float64(size))
	return nil
}
