package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	coremetrics "github.com/kilianp07/fleetbridge/core/metrics"
)

func TestPromSink_RecordPoll(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	ev := coremetrics.PollEvent{
		VIN:            "VIN1",
		Outcome:        coremetrics.OutcomeSuccess,
		Latency:        150 * time.Millisecond,
		ErrorPeriod:    30 * time.Second,
		ChargingPeriod: 2400 * time.Second,
		SoC:            64,
		Time:           time.Now(),
	}
	if err := sink.RecordPoll(ev); err != nil {
		t.Fatalf("record: %v", err)
	}
	ev.Outcome = coremetrics.OutcomeRemoteError
	ev.SoC = 0
	if err := sink.RecordPoll(ev); err != nil {
		t.Fatalf("record: %v", err)
	}

	expected := `
# HELP vehicle_polls_total Total number of vehicle refresh attempts
# TYPE vehicle_polls_total counter
vehicle_polls_total{outcome="remote_error",vin="VIN1"} 1
vehicle_polls_total{outcome="success",vin="VIN1"} 1
`
	if err := testutil.CollectAndCompare(sink.polls, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}
	if v := testutil.ToFloat64(sink.soc.WithLabelValues("VIN1")); v != 64 {
		t.Errorf("soc gauge %v", v)
	}
	if v := testutil.ToFloat64(sink.chargingPeriod.WithLabelValues("VIN1")); v != 2400 {
		t.Errorf("charging period gauge %v", v)
	}
	if c := testutil.CollectAndCount(sink.pollLatency); c == 0 {
		t.Errorf("latency not recorded")
	}
}

func TestPromSink_CommandsReloginsFleet(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	_ = sink.RecordCommand(coremetrics.CommandEvent{VIN: "VIN1", Command: "doors/locked", Success: true})
	_ = sink.RecordRelogin(coremetrics.ReloginEvent{Success: false})
	_ = sink.RecordInbox(coremetrics.InboxEvent{Messages: 3})
	_ = sink.RecordFleetSize(2)

	if v := testutil.ToFloat64(sink.commands.WithLabelValues("VIN1", "doors/locked", "true")); v != 1 {
		t.Errorf("commands %v", v)
	}
	if v := testutil.ToFloat64(sink.relogins.WithLabelValues("false")); v != 1 {
		t.Errorf("relogins %v", v)
	}
	if v := testutil.ToFloat64(sink.inboxMessages); v != 3 {
		t.Errorf("inbox %v", v)
	}
	if v := testutil.ToFloat64(sink.fleet); v != 2 {
		t.Errorf("fleet %v", v)
	}
}

func TestPromSink_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	second, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("second sink: %v", err)
	}
	_ = first.RecordFleetSize(5)
	if v := testutil.ToFloat64(second.fleet); v != 5 {
		t.Fatalf("collectors not shared, got %v", v)
	}
}
