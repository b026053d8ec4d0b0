package vehiclestatus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kilianp07/fleetbridge/core/metrics"
	"github.com/kilianp07/fleetbridge/core/poll"
	"github.com/kilianp07/fleetbridge/core/remote"
	"github.com/kilianp07/fleetbridge/core/session"
	"github.com/kilianp07/fleetbridge/internal/eventbus"
)

func TestMemoryStore_Register(t *testing.T) {
	s := NewMemoryStore()
	s.Register(remote.Vehicle{VIN: "v1", Model: "m1", EV: true})
	st, ok := s.Get("v1")
	if !ok || st.Availability != "unknown" || !st.EV {
		t.Fatalf("unexpected status %#v", st)
	}
	if _, ok := s.Get("v2"); ok {
		t.Fatal("unexpected vehicle v2")
	}
}

func TestMemoryStore_ApplySuccessThenFailure(t *testing.T) {
	s := NewMemoryStore()
	s.Register(remote.Vehicle{VIN: "v1"})
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.Apply(poll.Event{
		VIN:     "v1",
		Outcome: metrics.OutcomeSuccess,
		Status:  &remote.Status{SoC: 55, Charging: true, Locked: true},
		Charge:  &remote.ChargeStatus{PluggedIn: true},
		Session: session.Snapshot{Mode: "PERIODIC", ChargingPeriod: 40 * time.Minute},
		Time:    now,
	})
	st, _ := s.Get("v1")
	if st.Availability != "online" || st.SoC != 55 || !st.PluggedIn || st.ChargingPeriod != 40*time.Minute {
		t.Fatalf("success not applied: %#v", st)
	}

	s.Apply(poll.Event{
		VIN:     "v1",
		Outcome: metrics.OutcomeRemoteError,
		Err:     remote.Errorf(remote.KindRemote, "fetch status", "gateway timeout"),
		Session: session.Snapshot{Mode: "PERIODIC", ErrorPeriod: time.Minute},
		Time:    now.Add(time.Minute),
	})
	st, _ = s.Get("v1")
	if st.Availability != "offline" || st.LastError != "gateway timeout" {
		t.Fatalf("failure not applied: %#v", st)
	}
	if st.SoC != 55 || !st.LastSuccess.Equal(now) {
		t.Fatalf("telemetry should survive failures: %#v", st)
	}
}

func TestMemoryStore_Filter(t *testing.T) {
	s := NewMemoryStore()
	s.Register(remote.Vehicle{VIN: "v2", Model: "m2"})
	s.Register(remote.Vehicle{VIN: "v1", Model: "m1"})
	s.Apply(poll.Event{VIN: "v1", Outcome: metrics.OutcomeSuccess, Status: &remote.Status{Charging: true}})

	if out := s.List(Filter{}); len(out) != 2 || out[0].VIN != "v1" {
		t.Fatalf("expected sorted list, got %#v", out)
	}
	if out := s.List(Filter{Model: "m2"}); len(out) != 1 || out[0].VIN != "v2" {
		t.Fatalf("model filter failed: %#v", out)
	}
	charging := true
	if out := s.List(Filter{Charging: &charging}); len(out) != 1 || out[0].VIN != "v1" {
		t.Fatalf("charging filter failed: %#v", out)
	}
}

func TestTrack(t *testing.T) {
	events := eventbus.NewTyped[poll.Event]()
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	Track(ctx, events, s)

	events.Publish(poll.Event{VIN: "v1", Outcome: metrics.OutcomeUnexpected, Err: errors.New("boom")})
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if st, ok := s.Get("v1"); ok && st.Availability == "offline" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("event not tracked")
}
