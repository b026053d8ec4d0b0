package forward

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreforward "github.com/kilianp07/fleetbridge/core/forward"
	"github.com/kilianp07/fleetbridge/core/remote"
)

func TestABRPForwarderSendsTelemetry(t *testing.T) {
	var (
		query url.Values
		body  struct {
			TLM map[string]any `json:"tlm"`
		}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f, err := NewABRPForwarder(ABRPConfig{URL: srv.URL, APIKey: "key", Tokens: map[string]string{"VIN1": "user-token"}})
	require.NoError(t, err)
	snap := coreforward.Snapshot{
		Vehicle: remote.Vehicle{VIN: "VIN1"},
		Status:  remote.Status{SoC: 70, Charging: true, Latitude: 48.85, Longitude: 2.35},
		Charge:  &remote.ChargeStatus{PowerKW: 7},
		Time:    time.Unix(1700000000, 0),
	}
	require.NoError(t, f.Forward(context.Background(), snap))

	assert.Equal(t, "key", query.Get("api_key"))
	assert.Equal(t, "user-token", query.Get("token"))
	assert.Equal(t, 70.0, body.TLM["soc"])
	assert.Equal(t, -7.0, body.TLM["power"])
	assert.Equal(t, 1700000000.0, body.TLM["utc"])
	assert.Equal(t, true, body.TLM["is_parked"])
}

func TestABRPForwarderSkipsVehiclesWithoutToken(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	defer srv.Close()

	f, err := NewABRPForwarder(ABRPConfig{URL: srv.URL, APIKey: "key"})
	require.NoError(t, err)
	require.NoError(t, f.Forward(context.Background(), coreforward.Snapshot{Vehicle: remote.Vehicle{VIN: "VIN2"}}))
	assert.False(t, called)
}

func TestABRPForwarderReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	f, err := NewABRPForwarder(ABRPConfig{URL: srv.URL, APIKey: "key", Tokens: map[string]string{"VIN1": "t"}})
	require.NoError(t, err)
	err = f.Forward(context.Background(), coreforward.Snapshot{Vehicle: remote.Vehicle{VIN: "VIN1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestABRPRequiresAPIKey(t *testing.T) {
	_, err := NewABRPForwarder(ABRPConfig{})
	assert.Error(t, err)
}
