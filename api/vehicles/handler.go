// Package vehicles exposes the tracked vehicle status over HTTP.
package vehicles

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kilianp07/fleetbridge/core/vehiclestatus"
)

// Commander lists the bus commands accepted for a vehicle.
type Commander interface {
	Commands(vin string) []string
}

// Handler serves /vehicles routes.
type Handler struct {
	store    vehiclestatus.Store
	commands Commander
}

// NewHandler returns a Handler. commands may be nil.
func NewHandler(store vehiclestatus.Store, commands Commander) *Handler {
	return &Handler{store: store, commands: commands}
}

// Routes mounts the handler on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/vehicles", h.list)
	r.Get("/vehicles/{vin}", h.get)
	r.Get("/vehicles/{vin}/commands", h.listCommands)
}

// list serves GET /vehicles?model=&charging=.
func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	f := vehiclestatus.Filter{Model: r.URL.Query().Get("model")}
	if raw := r.URL.Query().Get("charging"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			http.Error(w, "charging must be true or false", http.StatusBadRequest)
			return
		}
		f.Charging = &v
	}
	writeJSON(w, h.store.List(f))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	st, ok := h.store.Get(chi.URLParam(r, "vin"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, st)
}

func (h *Handler) listCommands(w http.ResponseWriter, r *http.Request) {
	vin := chi.URLParam(r, "vin")
	if _, ok := h.store.Get(vin); !ok || h.commands == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, h.commands.Commands(vin))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
