package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetbridge/core/remote"
)

type testServer struct {
	*httptest.Server
	logins  atomic.Int32
	reject  atomic.Bool

	mu      sync.Mutex
	control remote.Control
}

func (ts *testServer) lastControl() remote.Control {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.control
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("grant_type") != "password" || r.Form.Get("password") != "secret" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		ts.logins.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"token123","token_type":"bearer","expires_in":3600}`))
	})
	authed := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if ts.reject.Load() || r.Header.Get("Authorization") != "Bearer token123" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			h(w, r)
		}
	}
	mux.HandleFunc("/vehicles", authed(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"vin":"VIN1","name":"Car","ev":true,"battery_capacity_kwh":64}]`))
	}))
	mux.HandleFunc("/vehicles/VIN1/status", authed(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"soc":55.5,"charging":true,"locked":true}`))
	}))
	mux.HandleFunc("/vehicles/VIN1/charging", authed(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"charging":true,"power_kw":7.2,"remaining_seconds":5400,"target_soc":80}`))
	}))
	mux.HandleFunc("/vehicles/VIN1/controls", authed(func(w http.ResponseWriter, r *http.Request) {
		var ctl remote.Control
		_ = json.NewDecoder(r.Body).Decode(&ctl)
		ts.mu.Lock()
		ts.control = ctl
		ts.mu.Unlock()
		if ctl.Action == remote.ActionOpenBoot {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"message":"vehicle is moving"}`))
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	mux.HandleFunc("/inbox", authed(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "2" {
			_, _ = w.Write([]byte(`{"messages":[{"id":"m1","title":"Hello"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"messages":[]}`))
	}))
	mux.HandleFunc("/inbox/m1/read", authed(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	ts.Server = httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func newClient(ts *testServer, password string) *Client {
	return New(Config{BaseURL: ts.URL, ClientID: "id", Username: "user", Password: password, Timeout: 2 * time.Second})
}

func TestCallsBeforeLoginAreAuthExpired(t *testing.T) {
	ts := newTestServer(t)
	c := newClient(ts, "secret")
	_, err := c.FetchStatus(context.Background(), "VIN1")
	require.Error(t, err)
	assert.True(t, remote.IsAuthExpired(err))
}

func TestLoginAndFetch(t *testing.T) {
	ts := newTestServer(t)
	c := newClient(ts, "secret")
	ctx := context.Background()
	require.NoError(t, c.Login(ctx))
	assert.EqualValues(t, 1, ts.logins.Load())

	vs, err := c.ListVehicles(ctx)
	require.NoError(t, err)
	require.Len(t, vs, 1)
	assert.Equal(t, "VIN1", vs[0].VIN)
	assert.True(t, vs[0].EV)

	st, err := c.FetchStatus(ctx, "VIN1")
	require.NoError(t, err)
	assert.Equal(t, 55.5, st.SoC)
	assert.True(t, st.Charging)

	cs, err := c.FetchChargeStatus(ctx, "VIN1")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, cs.Remaining)
	assert.Equal(t, 80, cs.TargetSoC)

	msgs, err := c.FetchInbox(ctx, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NoError(t, c.MarkRead(ctx, "m1"))
	msgs, err = c.FetchInbox(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestLoginRejected(t *testing.T) {
	ts := newTestServer(t)
	c := newClient(ts, "wrong")
	err := c.Login(context.Background())
	require.Error(t, err)
	assert.True(t, remote.IsAuthExpired(err))
}

func TestUnauthorizedResponseExpiresSession(t *testing.T) {
	ts := newTestServer(t)
	c := newClient(ts, "secret")
	ctx := context.Background()
	require.NoError(t, c.Login(ctx))

	ts.reject.Store(true)
	_, err := c.FetchStatus(ctx, "VIN1")
	assert.True(t, remote.IsAuthExpired(err))

	ts.reject.Store(false)
	// the session stays invalid until the next login
	_, err = c.FetchStatus(ctx, "VIN1")
	assert.True(t, remote.IsAuthExpired(err))
	require.NoError(t, c.Login(ctx))
	_, err = c.FetchStatus(ctx, "VIN1")
	assert.NoError(t, err)
}

func TestControlErrorsCarryServiceMessage(t *testing.T) {
	ts := newTestServer(t)
	c := newClient(ts, "secret")
	ctx := context.Background()
	require.NoError(t, c.Login(ctx))

	require.NoError(t, c.SendControl(ctx, "VIN1", remote.Control{Action: remote.ActionLock}))
	assert.Equal(t, remote.ActionLock, ts.lastControl().Action)

	err := c.SendControl(ctx, "VIN1", remote.Control{Action: remote.ActionOpenBoot})
	require.Error(t, err)
	assert.Equal(t, remote.KindRemote, remote.KindOf(err))
	assert.Equal(t, "vehicle is moving", remote.Reason(err))
}

func TestUnknownResourceIsRemoteError(t *testing.T) {
	ts := newTestServer(t)
	c := newClient(ts, "secret")
	ctx := context.Background()
	require.NoError(t, c.Login(ctx))
	_, err := c.FetchHeatingSchedule(ctx, "VIN1")
	require.Error(t, err)
	assert.Equal(t, remote.KindRemote, remote.KindOf(err))
	assert.Contains(t, remote.Reason(err), "404")
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{BaseURL: "https://api.example.com/"}
	cfg.SetDefaults()
	assert.Equal(t, "https://api.example.com/oauth/token", cfg.TokenURL)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Error(t, cfg.Validate())
	cfg.Username, cfg.Password = "u", "p"
	assert.NoError(t, cfg.Validate())
}
