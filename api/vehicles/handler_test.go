package vehicles

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kilianp07/fleetbridge/core/metrics"
	"github.com/kilianp07/fleetbridge/core/poll"
	"github.com/kilianp07/fleetbridge/core/remote"
	"github.com/kilianp07/fleetbridge/core/vehiclestatus"
)

type staticCommands []string

func (s staticCommands) Commands(string) []string { return s }

func newRouter(store vehiclestatus.Store) http.Handler {
	r := chi.NewRouter()
	NewHandler(store, staticCommands{"doors/locked"}).Routes(r)
	return r
}

func serve(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func TestList(t *testing.T) {
	store := vehiclestatus.NewMemoryStore()
	store.Register(remote.Vehicle{VIN: "v1", Model: "m1"})
	store.Register(remote.Vehicle{VIN: "v2", Model: "m2"})
	store.Apply(poll.Event{VIN: "v2", Outcome: metrics.OutcomeSuccess, Status: &remote.Status{Charging: true}})
	h := newRouter(store)

	rr := serve(t, h, "/vehicles")
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	var out []vehiclestatus.Status
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 2 || out[0].VIN != "v1" {
		t.Fatalf("unexpected output %#v", out)
	}

	rr = serve(t, h, "/vehicles?charging=true")
	out = nil
	_ = json.Unmarshal(rr.Body.Bytes(), &out)
	if len(out) != 1 || out[0].VIN != "v2" {
		t.Fatalf("charging filter bad %#v", out)
	}

	if rr := serve(t, h, "/vehicles?charging=maybe"); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestListEmpty(t *testing.T) {
	rr := serve(t, newRouter(vehiclestatus.NewMemoryStore()), "/vehicles")
	if rr.Body.String() != "[]\n" {
		t.Fatalf("expected empty array got %s", rr.Body.String())
	}
}

func TestGetAndCommands(t *testing.T) {
	store := vehiclestatus.NewMemoryStore()
	store.Register(remote.Vehicle{VIN: "v1"})
	h := newRouter(store)

	rr := serve(t, h, "/vehicles/v1")
	var st vehiclestatus.Status
	if err := json.Unmarshal(rr.Body.Bytes(), &st); err != nil || st.VIN != "v1" {
		t.Fatalf("unexpected vehicle %s (%v)", rr.Body.String(), err)
	}
	if rr := serve(t, h, "/vehicles/nope"); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	rr = serve(t, h, "/vehicles/v1/commands")
	var cmds []string
	if err := json.Unmarshal(rr.Body.Bytes(), &cmds); err != nil || len(cmds) != 1 {
		t.Fatalf("unexpected commands %s", rr.Body.String())
	}
}
