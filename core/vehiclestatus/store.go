// Package vehiclestatus keeps the last known state of every handled vehicle
// for the status API. It is fed by poll events.
package vehiclestatus

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/fleetbridge/core/bus"
	"github.com/kilianp07/fleetbridge/core/metrics"
	"github.com/kilianp07/fleetbridge/core/poll"
	"github.com/kilianp07/fleetbridge/core/remote"
	"github.com/kilianp07/fleetbridge/internal/eventbus"
)

// Status captures the current known state of a vehicle.
type Status struct {
	VIN            string        `json:"vin"`
	Name           string        `json:"name,omitempty"`
	Model          string        `json:"model,omitempty"`
	EV             bool          `json:"ev"`
	Availability   string        `json:"availability"`
	RefreshMode    string        `json:"refresh_mode"`
	LastOutcome    string        `json:"last_outcome,omitempty"`
	LastError      string        `json:"last_error,omitempty"`
	LastSuccess    time.Time     `json:"last_success,omitempty"`
	LastAttempt    time.Time     `json:"last_attempt,omitempty"`
	ErrorPeriod    time.Duration `json:"error_period"`
	ChargingPeriod time.Duration `json:"charging_period"`
	SoC            float64       `json:"soc"`
	RangeKM        float64       `json:"range_km"`
	Charging       bool          `json:"charging"`
	PluggedIn      bool          `json:"plugged_in"`
	Locked         bool          `json:"locked"`
}

// Filter selects vehicles in List. Zero values match everything.
type Filter struct {
	Model    string
	Charging *bool
}

type Store interface {
	Register(v remote.Vehicle)
	Apply(ev poll.Event)
	Get(vin string) (Status, bool)
	List(Filter) []Status
}

type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Status
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string]Status{}}
}

// Register adds a vehicle with unknown availability.
func (s *MemoryStore) Register(v remote.Vehicle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.data[v.VIN]
	st.VIN = v.VIN
	st.Name = v.Name
	st.Model = v.Model
	st.EV = v.EV
	if st.Availability == "" {
		st.Availability = "unknown"
	}
	s.data[v.VIN] = st
}

// Apply records the outcome of a refresh attempt. Only successful
// attempts update the telemetry fields.
func (s *MemoryStore) Apply(ev poll.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.data[ev.VIN]
	st.VIN = ev.VIN
	st.LastOutcome = ev.Outcome
	st.LastAttempt = ev.Time
	st.RefreshMode = ev.Session.Mode
	st.ErrorPeriod = ev.Session.ErrorPeriod
	st.ChargingPeriod = ev.Session.ChargingPeriod
	if ev.Outcome != metrics.OutcomeSuccess {
		if ev.Err != nil {
			st.LastError = remote.Reason(ev.Err)
		}
		st.Availability = bus.Offline
		s.data[ev.VIN] = st
		return
	}
	st.Availability = bus.Online
	st.LastError = ""
	st.LastSuccess = ev.Time
	if ev.Status != nil {
		st.SoC = ev.Status.SoC
		st.RangeKM = ev.Status.RangeKM
		st.Charging = ev.Status.Charging
		st.Locked = ev.Status.Locked
	}
	if ev.Charge != nil {
		st.PluggedIn = ev.Charge.PluggedIn
	}
	s.data[ev.VIN] = st
}

func (s *MemoryStore) Get(vin string) (Status, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.data[vin]
	return st, ok
}

func (s *MemoryStore) List(f Filter) []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]Status, 0, len(s.data))
	for _, st := range s.data {
		if f.Model != "" && st.Model != f.Model {
			continue
		}
		if f.Charging != nil && st.Charging != *f.Charging {
			continue
		}
		res = append(res, st)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].VIN < res[j].VIN })
	return res
}

// Track applies poll events to s until ctx is done or the bus closes.
func Track(ctx context.Context, events *eventbus.TypedBus[poll.Event], s Store) {
	ch := events.Subscribe()
	go func() {
		defer events.Unsubscribe(ch)
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				s.Apply(ev)
			case <-ctx.Done():
				return
			}
		}
	}()
}
