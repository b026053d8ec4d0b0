package poll

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetbridge/core/bus"
	"github.com/kilianp07/fleetbridge/core/forward"
	"github.com/kilianp07/fleetbridge/core/metrics"
	"github.com/kilianp07/fleetbridge/core/remote"
	"github.com/kilianp07/fleetbridge/core/remote/remotetest"
	"github.com/kilianp07/fleetbridge/core/session"
	"github.com/kilianp07/fleetbridge/internal/eventbus"
)

var defaults = session.Defaults{
	Active:        30 * time.Second,
	Inactive:      time.Hour,
	AfterShutdown: 2 * time.Minute,
	InactiveGrace: 10 * time.Minute,
}

type fakeRelogin struct {
	inProgress atomic.Bool
	calls      atomic.Int32
}

func (f *fakeRelogin) Relogin() bool {
	f.calls.Add(1)
	return true
}

func (f *fakeRelogin) InProgress() bool { return f.inProgress.Load() }

type topicRecorder struct {
	mu     sync.Mutex
	values map[string]any
}

func (r *topicRecorder) Publish(topic string, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.values == nil {
		r.values = map[string]any{}
	}
	r.values[topic] = value
	return nil
}

func (r *topicRecorder) get(topic string) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.values[topic]
}

type forwardRecorder struct {
	mu    sync.Mutex
	snaps []forward.Snapshot
}

func (f *forwardRecorder) ForwardAll(_ context.Context, s forward.Snapshot) {
	f.mu.Lock()
	f.snaps = append(f.snaps, s)
	f.mu.Unlock()
}

type fakeWaker struct {
	mu        sync.Mutex
	scheduled int
	hour      int
	minute    int
	fire      func()
}

func (w *fakeWaker) ScheduleWakeUp(_ string, hour, minute int, fire func()) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.scheduled++
	w.hour, w.minute, w.fire = hour, minute, fire
	return nil
}

func (w *fakeWaker) CancelWakeUp(string) {}

type harness struct {
	api     *remotetest.Fake
	waker   *fakeWaker
	sess    *session.Session
	relogin *fakeRelogin
	pub     *topicRecorder
	fwd     *forwardRecorder
	events  *eventbus.TypedBus[Event]
	loop    *Loop
	now     time.Time
}

func newHarness(t *testing.T, v remote.Vehicle, configured bool) *harness {
	t.Helper()
	h := &harness{
		api:     remotetest.New(v),
		relogin: &fakeRelogin{},
		waker:   &fakeWaker{},
		pub:     &topicRecorder{},
		fwd:     &forwardRecorder{},
		events:  eventbus.NewTyped[Event](),
		now:     time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return h.now }
	h.sess = session.New(session.Options{VIN: v.VIN, Publisher: h.pub, Waker: h.waker, BatteryCapacityKWh: 100, Now: clock})
	if configured {
		h.sess.ConfigureMissing(defaults)
	}
	h.loop = New(Options{
		Vehicle:     v,
		Session:     h.sess,
		API:         h.api,
		Relogin:     h.relogin,
		Forwarder:   h.fwd,
		Publisher:   h.pub,
		Events:      h.events,
		Defaults:    defaults,
		ConfigGrace: time.Minute,
		Tick:        5 * time.Millisecond,
		Now:         clock,
	})
	return h
}

var electric = remote.Vehicle{VIN: "VIN1", EV: true, BatteryCapacityKWh: 100}

func TestIterateRefreshesAndPublishes(t *testing.T) {
	h := newHarness(t, electric, true)
	sub := h.events.Subscribe()
	h.api.SetStatus("VIN1", remote.Status{SoC: 64, Charging: true, BatteryActive: true})
	h.api.SetCharge("VIN1", remote.ChargeStatus{Charging: true, PowerKW: 1.5, PluggedIn: true})

	require.True(t, h.loop.iterate(context.Background(), h.now))

	assert.Equal(t, 64.0, h.pub.get(bus.TopicSoC))
	assert.Equal(t, true, h.pub.get(bus.TopicPluggedIn))
	assert.Equal(t, bus.Online, h.pub.get(bus.TopicAvailable))
	assert.Equal(t, 1, h.api.Calls(remotetest.OpCharge))
	assert.Equal(t, 1, h.api.Calls(remotetest.OpHeating))
	require.Len(t, h.fwd.snaps, 1)
	assert.Equal(t, 64.0, h.fwd.snaps[0].Status.SoC)

	e := <-sub
	assert.Equal(t, metrics.OutcomeSuccess, e.Outcome)
	assert.Equal(t, 2400*time.Second, e.Session.ChargingPeriod)
	assert.True(t, e.Session.HVBatteryActive)
	assert.Equal(t, 64.0, e.Metrics().SoC)

	// just refreshed: nothing due
	assert.False(t, h.loop.iterate(context.Background(), h.now))
}

func TestIterateSkipsChargeFetchForCombustionVehicles(t *testing.T) {
	h := newHarness(t, remote.Vehicle{VIN: "ICE1"}, true)
	require.True(t, h.loop.iterate(context.Background(), h.now))
	assert.Equal(t, 1, h.api.Calls(remotetest.OpStatus))
	assert.Equal(t, 0, h.api.Calls(remotetest.OpCharge))
	assert.Equal(t, 0, h.api.Calls(remotetest.OpHeating))
}

func TestReportedScheduleRegistersWakeUp(t *testing.T) {
	h := newHarness(t, electric, true)
	sched := remote.ChargingSchedule{StartTime: "22:30", EndTime: "06:00", Mode: "until_configured_time"}
	h.api.SetCharge("VIN1", remote.ChargeStatus{PluggedIn: true, Schedule: &sched})

	require.True(t, h.loop.iterate(context.Background(), h.now))
	assert.Equal(t, 1, h.waker.scheduled)
	assert.Equal(t, 22, h.waker.hour)
	assert.Equal(t, 30, h.waker.minute)
	stored, ok := h.sess.ChargingSchedule()
	require.True(t, ok)
	assert.Equal(t, remote.ScheduleUntilTime, stored.Mode)

	// an unchanged schedule does not re-register the job
	h.sess.SetRefreshMode(session.ModeForce)
	require.True(t, h.loop.iterate(context.Background(), h.now))
	assert.Equal(t, 1, h.waker.scheduled)

	h.waker.fire()
	assert.Equal(t, session.ModeForce, h.sess.RefreshMode())
}

func TestInvalidReportedScheduleDoesNotFailRefresh(t *testing.T) {
	h := newHarness(t, electric, true)
	sub := h.events.Subscribe()
	h.api.SetCharge("VIN1", remote.ChargeStatus{Schedule: &remote.ChargingSchedule{StartTime: "99:00", EndTime: "06:00", Mode: remote.ScheduleUntilTime}})

	require.True(t, h.loop.iterate(context.Background(), h.now))
	assert.Equal(t, metrics.OutcomeSuccess, (<-sub).Outcome)
	assert.Zero(t, h.waker.scheduled)
}

func TestHeatingFailureIsSwallowed(t *testing.T) {
	h := newHarness(t, electric, true)
	h.api.SetError(remotetest.OpHeating, remote.Errorf(remote.KindRemote, "heating", "unsupported"))
	require.True(t, h.loop.iterate(context.Background(), h.now))
	snap := h.sess.Snapshot()
	assert.True(t, snap.LastFailure.IsZero())
	assert.Equal(t, h.now, snap.LastSuccess)
}

func TestAwaitsConfigurationThenAppliesDefaults(t *testing.T) {
	h := newHarness(t, electric, false)
	start := h.now
	assert.False(t, h.loop.iterate(context.Background(), start))
	assert.False(t, h.sess.IsComplete())
	assert.Equal(t, 0, h.api.Calls(remotetest.OpStatus))

	h.now = start.Add(time.Minute)
	assert.False(t, h.loop.iterate(context.Background(), start))
	assert.True(t, h.sess.IsComplete())
	assert.Equal(t, defaults.Active, h.sess.Snapshot().ActivePeriod)

	assert.True(t, h.loop.iterate(context.Background(), start))
}

func TestSkipsWhileReloginInProgress(t *testing.T) {
	h := newHarness(t, electric, true)
	h.relogin.inProgress.Store(true)
	h.sess.SetRefreshMode(session.ModeForce)
	assert.False(t, h.loop.iterate(context.Background(), h.now))
	assert.Equal(t, 0, h.api.Calls(remotetest.OpStatus))
	assert.Equal(t, session.ModeForce, h.sess.RefreshMode())
}

func TestAuthExpiredHandsOffToCoordinator(t *testing.T) {
	h := newHarness(t, electric, true)
	sub := h.events.Subscribe()
	h.api.SetError(remotetest.OpStatus, remote.Errorf(remote.KindAuthExpired, "status", "token expired"))

	require.True(t, h.loop.iterate(context.Background(), h.now))
	assert.Equal(t, int32(1), h.relogin.calls.Load())
	assert.Equal(t, defaults.Active, h.sess.ErrorPeriod())
	assert.Equal(t, bus.Offline, h.pub.get(bus.TopicAvailable))
	assert.Equal(t, metrics.OutcomeAuthExpired, (<-sub).Outcome)

	h.now = h.now.Add(time.Hour)
	require.True(t, h.loop.iterate(context.Background(), h.now))
	assert.Equal(t, defaults.Active, h.sess.ErrorPeriod())
}

func TestRemoteErrorsGrowBackoff(t *testing.T) {
	h := newHarness(t, electric, true)
	h.api.SetError(remotetest.OpCharge, remote.Errorf(remote.KindRemote, "charge", "vehicle asleep"))
	var seq []time.Duration
	for i := 0; i < 3; i++ {
		require.True(t, h.loop.iterate(context.Background(), h.now))
		seq = append(seq, h.sess.ErrorPeriod())
		h.now = h.now.Add(h.sess.ErrorPeriod())
	}
	assert.Equal(t, []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second}, seq)
	assert.Equal(t, int32(0), h.relogin.calls.Load())
	assert.Empty(t, h.fwd.snaps)
}

func TestUnexpectedErrorIsOrdinaryFailure(t *testing.T) {
	h := newHarness(t, electric, true)
	sub := h.events.Subscribe()
	h.api.FailNext(remotetest.OpStatus, errors.New("decode: unexpected EOF"), errors.New("again"))
	require.True(t, h.loop.iterate(context.Background(), h.now))
	assert.Equal(t, metrics.OutcomeUnexpected, (<-sub).Outcome)
	h.now = h.now.Add(30 * time.Second)
	require.True(t, h.loop.iterate(context.Background(), h.now))
	assert.Equal(t, 60*time.Second, h.sess.ErrorPeriod())
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, electric, true)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.loop.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatalf("loop did not stop")
	}
}

type panickingAPI struct {
	*remotetest.Fake
}

func (panickingAPI) FetchStatus(context.Context, string) (remote.Status, error) {
	panic("nil map")
}

func TestRemotePanicFailsRefreshOnly(t *testing.T) {
	h := newHarness(t, electric, true)
	h.loop.api = panickingAPI{h.api}
	sub := h.events.Subscribe()

	require.True(t, h.loop.iterate(context.Background(), h.now))

	e := <-sub
	assert.Equal(t, metrics.OutcomeUnexpected, e.Outcome)
	assert.Equal(t, bus.Offline, h.pub.get(bus.TopicAvailable))
	assert.Empty(t, h.fwd.snaps)
}

type panickingForwarder struct{}

func (panickingForwarder) ForwardAll(context.Context, forward.Snapshot) { panic("nil map") }

func TestRunReturnsErrorOnPanic(t *testing.T) {
	h := newHarness(t, electric, true)
	h.loop.forwarder = panickingForwarder{}
	err := h.loop.Run(context.Background())
	if err == nil {
		t.Fatalf("expected error from panicking loop")
	}
	assert.Contains(t, err.Error(), "VIN1")
}

func TestTriggerWakesIdleLoop(t *testing.T) {
	h := newHarness(t, electric, true)
	h.loop.tick = time.Hour
	sub := h.events.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.loop.Run(ctx) }()

	// first refresh happens right away since nothing was polled yet
	select {
	case <-sub:
	case <-time.After(time.Second):
		t.Fatalf("no initial refresh")
	}
	h.sess.SetRefreshMode(session.ModeForce)
	h.loop.Trigger()
	select {
	case e := <-sub:
		assert.Equal(t, metrics.OutcomeSuccess, e.Outcome)
	case <-time.After(time.Second):
		t.Fatalf("trigger did not wake the loop")
	}
	assert.Equal(t, 2, h.api.Calls(remotetest.OpStatus))
}
