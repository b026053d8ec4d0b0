package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetbridge/config"
	"github.com/kilianp07/fleetbridge/core/bus"
	"github.com/kilianp07/fleetbridge/core/factory"
	"github.com/kilianp07/fleetbridge/core/forward"
	"github.com/kilianp07/fleetbridge/core/remote/remotetest"
	"github.com/kilianp07/fleetbridge/infra/mqtt"
	"github.com/kilianp07/fleetbridge/infra/remote/sim"
)

type fakeBus struct {
	*mqtt.MockPublisher
	mu      sync.Mutex
	handler mqtt.CommandFunc
	closed  bool
}

func (f *fakeBus) HandleCommands(fn mqtt.CommandFunc) {
	f.mu.Lock()
	f.handler = fn
	f.mu.Unlock()
}

func (f *fakeBus) IsConnected() bool { return true }

func (f *fakeBus) Disconnect() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeBus) get(topic string) (string, bool) { return f.Last(topic) }

func (f *fakeBus) send(vin, command, payload string) {
	f.mu.Lock()
	fn := f.handler
	f.mu.Unlock()
	fn(vin, command, payload)
}

func withFakeBus(t *testing.T) *fakeBus {
	t.Helper()
	fb := &fakeBus{MockPublisher: mqtt.NewMockPublisher()}
	orig := newBusClient
	newBusClient = func(mqtt.Config) (BusClient, error) { return fb, nil }
	t.Cleanup(func() { newBusClient = orig })
	return fb
}

func testConfig() *config.Config {
	disabled := true
	cfg := &config.Config{}
	cfg.MQTT.Broker = "tcp://unused:1883"
	cfg.Remote.Type = "sim"
	cfg.Remote.Sim = sim.Config{Vehicles: []sim.VehicleConfig{
		{VIN: "SIM1", EV: true, CapacityKWh: 50, SoC: 40, PluggedIn: true},
		{VIN: "SIM2", EV: true, CapacityKWh: 50, SoC: 40},
	}}
	cfg.Vehicles = []config.VehicleConfig{{VIN: "SIM2", Disabled: disabled}}
	cfg.Gateway.ConfigGrace = time.Millisecond
	cfg.Gateway.Tick = 5 * time.Millisecond
	cfg.Gateway.InboxInterval = time.Hour
	cfg.SetDefaults()
	return cfg
}

func eventually(t *testing.T, fb *fakeBus, topic, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		v, ok := fb.get(topic)
		return ok && (want == "" || v == want)
	}, 3*time.Second, 10*time.Millisecond, "topic %s", topic)
}

func TestServicePollsAndHandlesCommands(t *testing.T) {
	fb := withFakeBus(t)
	cfg := testConfig()
	require.NoError(t, cfg.Validate())
	remoteAPI, err := NewRemote(cfg.Remote)
	require.NoError(t, err)

	svc, err := New(context.Background(), cfg, remoteAPI)
	require.NoError(t, err)
	assert.Equal(t, []string{"SIM1"}, vins(svc))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	eventually(t, fb, "vehicles/SIM1/drivetrain/soc", "40")
	eventually(t, fb, "vehicles/SIM1/refresh/mode", "periodic")

	fb.send("SIM1", "doors/locked", "false")
	eventually(t, fb, "vehicles/SIM1/doors/locked/result", "Success")
	eventually(t, fb, "vehicles/SIM1/doors/locked", "false")

	fb.send("SIM1", "drivetrain/socTarget", "45")
	eventually(t, fb, "vehicles/SIM1/drivetrain/socTarget/result", "")
	v, _ := fb.get("vehicles/SIM1/drivetrain/socTarget/result")
	assert.Contains(t, v, "Failed: ")

	require.Eventually(t, func() bool {
		st, ok := svc.Status().Get("SIM1")
		return ok && st.Availability == bus.Online
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("service did not stop")
	}
	require.NoError(t, svc.Close())
	assert.True(t, fb.closed)
}

func TestServiceFailsWhenLoginFails(t *testing.T) {
	withFakeBus(t)
	cfg := testConfig()
	api := remotetest.New()
	api.SetError(remotetest.OpLogin, errors.New("bad credentials"))
	_, err := New(context.Background(), cfg, api)
	require.Error(t, err)
	assert.Zero(t, api.Calls(remotetest.OpList))
}

func TestNewRemote(t *testing.T) {
	_, err := NewRemote(config.RemoteConfig{Type: "carrier-pigeon"})
	assert.Error(t, err)
	api, err := NewRemote(config.RemoteConfig{Type: "http"})
	require.NoError(t, err)
	assert.NotNil(t, api)
}

func vins(s *Service) []string {
	out := make([]string, 0, len(s.loops))
	for _, l := range s.loops {
		out = append(out, l.VIN())
	}
	return out
}

type brokenForwarder struct{}

func (brokenForwarder) Name() string { return "broken" }

func (brokenForwarder) Forward(context.Context, forward.Snapshot) error { return nil }

func (brokenForwarder) Close() error { return errFlush }

var errFlush = errors.New("flush failed")

func TestCloseReportsForwarderErrors(t *testing.T) {
	withFakeBus(t)
	require.NoError(t, forward.Register("test-broken-close", func(map[string]any) (forward.Forwarder, error) {
		return brokenForwarder{}, nil
	}))
	cfg := testConfig()
	cfg.Forwarders = []factory.ModuleConfig{{Type: "test-broken-close"}}
	remoteAPI, err := NewRemote(cfg.Remote)
	require.NoError(t, err)

	svc, err := New(context.Background(), cfg, remoteAPI)
	require.NoError(t, err)
	err = svc.Close()
	require.Error(t, err)
	assert.ErrorIs(t, err, errFlush)
	assert.Contains(t, err.Error(), "forwarders")
}
