package inbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetbridge/core/bus"
	"github.com/kilianp07/fleetbridge/core/metrics"
	"github.com/kilianp07/fleetbridge/core/remote"
	"github.com/kilianp07/fleetbridge/core/remote/remotetest"
	"github.com/kilianp07/fleetbridge/core/session"
	"github.com/kilianp07/fleetbridge/core/store"
	memstore "github.com/kilianp07/fleetbridge/infra/store"
)

type fakeRelogin struct {
	pending bool
	calls   int
}

func (f *fakeRelogin) Relogin() bool {
	f.calls++
	return true
}

func (f *fakeRelogin) InProgress() bool { return f.pending }

type pubRecorder struct {
	mu     sync.Mutex
	topics map[string]any
}

func (p *pubRecorder) Publish(topic string, value any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.topics == nil {
		p.topics = map[string]any{}
	}
	p.topics[topic] = value
	return nil
}

type inboxSink struct {
	metrics.NopSink
	events []metrics.InboxEvent
}

func (s *inboxSink) RecordInbox(ev metrics.InboxEvent) error {
	s.events = append(s.events, ev)
	return nil
}

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func msg(id, vin string, minutes int) remote.Message {
	return remote.Message{ID: id, VIN: vin, Title: "title " + id, Content: "content " + id, Type: "alarm", Time: t0.Add(time.Duration(minutes) * time.Minute)}
}

type env struct {
	api     *remotetest.Fake
	store   store.Store
	relogin *fakeRelogin
	sess    *session.Session
	pub     *pubRecorder
	sink    *inboxSink
	poller  *Poller
}

func newEnv(t *testing.T, del bool) *env {
	t.Helper()
	e := &env{
		api:     remotetest.New(),
		store:   memstore.NewMemory(),
		relogin: &fakeRelogin{},
		pub:     &pubRecorder{},
		sink:    &inboxSink{},
	}
	e.sess = session.New(session.Options{VIN: "VIN1"})
	e.poller = New(Options{
		API:             e.api,
		Store:           e.store,
		Relogin:         e.relogin,
		Vehicles:        map[string]Vehicle{"VIN1": {Session: e.sess, Publisher: e.pub}},
		DeleteAfterRead: del,
		Metrics:         e.sink,
		Now:             func() time.Time { return t0.Add(time.Hour) },
	})
	return e
}

func (e *env) seed(t *testing.T, m remote.Message) {
	t.Helper()
	require.NoError(t, store.SetJSON(context.Background(), e.store, MarkerKey, Marker{ID: m.ID, Time: m.Time}))
}

func TestProcessesNewMessagesOldestFirst(t *testing.T) {
	e := newEnv(t, false)
	// newest first, two per page
	e.api.SetInbox(2, msg("m5", "VIN1", 5), msg("m4", "", 4), msg("m3", "VIN1", 3), msg("m2", "VIN1", 2), msg("m1", "VIN1", 1))
	e.seed(t, msg("m2", "VIN1", 2))

	require.NoError(t, e.poller.Run(context.Background()))

	assert.Equal(t, []string{"m3", "m4", "m5"}, e.api.Read())
	assert.Equal(t, 2, e.api.Calls(remotetest.OpInbox))
	assert.Equal(t, "m5", e.pub.topics[bus.Join(bus.TopicLastMessage, "id")])
	assert.Equal(t, "title m5", e.pub.topics[bus.Join(bus.TopicLastMessage, "title")])
	assert.Equal(t, t0.Add(time.Hour), e.sess.Snapshot().LastActivity)

	var m Marker
	ok, err := store.GetJSON(context.Background(), e.store, MarkerKey, &m)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "m5", m.ID)
	require.Len(t, e.sink.events, 1)
	assert.Equal(t, 3, e.sink.events[0].Messages)
	assert.Equal(t, 2, e.sink.events[0].Pages)
}

func TestSecondRunFindsNothing(t *testing.T) {
	e := newEnv(t, false)
	e.api.SetInbox(2, msg("m2", "VIN1", 2), msg("m1", "VIN1", 1))
	e.seed(t, msg("m1", "VIN1", 1))

	require.NoError(t, e.poller.Run(context.Background()))
	require.NoError(t, e.poller.Run(context.Background()))
	assert.Equal(t, []string{"m2"}, e.api.Read())
}

func TestFirstRunOnlyTakesNewest(t *testing.T) {
	e := newEnv(t, false)
	e.api.SetInbox(2, msg("m3", "VIN1", 3), msg("m2", "VIN1", 2), msg("m1", "VIN1", 1))

	require.NoError(t, e.poller.Run(context.Background()))
	assert.Equal(t, []string{"m3"}, e.api.Read())
	assert.Equal(t, 1, e.api.Calls(remotetest.OpInbox))
}

func TestEmptyPageStops(t *testing.T) {
	e := newEnv(t, false)
	e.api.SetInbox(2, msg("m3", "VIN1", 3), msg("m2", "VIN1", 2), msg("m1", "VIN1", 1))
	e.seed(t, msg("m0", "VIN1", 0))

	require.NoError(t, e.poller.Run(context.Background()))
	assert.Equal(t, []string{"m1", "m2", "m3"}, e.api.Read())
	assert.Equal(t, 3, e.api.Calls(remotetest.OpInbox))
}

func TestDeleteAfterRead(t *testing.T) {
	e := newEnv(t, true)
	e.api.SetInbox(2, msg("m2", "VIN1", 2), msg("m1", "VIN1", 1))
	e.seed(t, msg("m1", "VIN1", 1))

	require.NoError(t, e.poller.Run(context.Background()))
	assert.Equal(t, []string{"m2"}, e.api.Deleted())
	assert.Empty(t, e.api.Read())
}

func TestUnknownVehicleIsNotPublished(t *testing.T) {
	e := newEnv(t, false)
	e.api.SetInbox(2, msg("m2", "OTHER", 2), msg("m1", "VIN1", 1))
	e.seed(t, msg("m1", "VIN1", 1))

	require.NoError(t, e.poller.Run(context.Background()))
	assert.Empty(t, e.pub.topics)
	assert.Equal(t, []string{"m2"}, e.api.Read())
}

func TestSkippedDuringRelogin(t *testing.T) {
	e := newEnv(t, false)
	e.relogin.pending = true
	require.NoError(t, e.poller.Run(context.Background()))
	assert.Zero(t, e.api.Calls(remotetest.OpInbox))
}

func TestAuthExpiredRequestsRelogin(t *testing.T) {
	e := newEnv(t, false)
	e.api.SetError(remotetest.OpInbox, remote.Errorf(remote.KindAuthExpired, "inbox", "token expired"))
	err := e.poller.Run(context.Background())
	require.Error(t, err)
	assert.True(t, remote.IsAuthExpired(err))
	assert.Equal(t, 1, e.relogin.calls)
}

func TestPartialFailureKeepsProgress(t *testing.T) {
	e := newEnv(t, false)
	e.api.SetInbox(5, msg("m3", "VIN1", 3), msg("m2", "VIN1", 2), msg("m1", "VIN1", 1))
	e.seed(t, msg("m1", "VIN1", 1))
	e.api.FailNext(remotetest.OpMarkRead, nil, remote.Errorf(remote.KindRemote, "read", "busy"))

	require.Error(t, e.poller.Run(context.Background()))
	var m Marker
	_, err := store.GetJSON(context.Background(), e.store, MarkerKey, &m)
	require.NoError(t, err)
	assert.Equal(t, "m2", m.ID)

	require.NoError(t, e.poller.Run(context.Background()))
	assert.Equal(t, []string{"m2", "m3"}, e.api.Read())
}

func TestReadMessageIsNotActivity(t *testing.T) {
	e := newEnv(t, true)
	old := msg("m2", "VIN1", 2)
	old.Read = true
	e.api.SetInbox(2, old, msg("m1", "VIN1", 1))
	e.seed(t, msg("m1", "VIN1", 1))

	require.NoError(t, e.poller.Run(context.Background()))
	assert.Empty(t, e.pub.topics)
	assert.True(t, e.sess.Snapshot().LastActivity.IsZero())
	assert.Equal(t, []string{"m2"}, e.api.Deleted())

	var m Marker
	_, err := store.GetJSON(context.Background(), e.store, MarkerKey, &m)
	require.NoError(t, err)
	assert.Equal(t, "m2", m.ID)
}
