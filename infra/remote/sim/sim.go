// Package sim is an in-memory remote.API backed by a small fleet model.
// It is used for demo runs and end-to-end tests of the gateway.
package sim

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kilianp07/fleetbridge/core/remote"
)

const (
	defaultPageSize = 10
	kmPerKWh        = 6.5
	climateKW       = 1.5
)

// VehicleConfig describes one simulated vehicle.
type VehicleConfig struct {
	VIN         string  `json:"vin"`
	Name        string  `json:"name"`
	Model       string  `json:"model"`
	EV          bool    `json:"ev"`
	CapacityKWh float64 `json:"capacity_kwh"`
	// SoC is the initial state of charge in percent.
	SoC       float64 `json:"soc"`
	PluggedIn bool    `json:"plugged_in"`
	// Schedule is the charging window the vehicle starts with.
	Schedule *remote.ChargingSchedule `json:"schedule"`
}

// Config configures the simulated fleet.
type Config struct {
	Vehicles []VehicleConfig `json:"vehicles"`
	// Size generates vehicles SIM0001..SIMnnnn when Vehicles is empty.
	Size         int     `json:"size"`
	ChargeRateKW float64 `json:"charge_rate_kw"`
	// SessionTTL expires the login after the given duration. Zero keeps
	// sessions valid until ExpireSession is called.
	SessionTTL time.Duration `json:"session_ttl"`
	PageSize   int           `json:"page_size"`
}

// SetDefaults fills unset values.
func (c *Config) SetDefaults() {
	if len(c.Vehicles) == 0 && c.Size == 0 {
		c.Size = 2
	}
	if c.ChargeRateKW == 0 {
		c.ChargeRateKW = 11
	}
	if c.PageSize == 0 {
		c.PageSize = defaultPageSize
	}
}

type vehicle struct {
	info     remote.Vehicle
	battery  *battery
	status   remote.Status
	plugged  bool
	charging bool
	target   int
	heating  remote.HeatingSchedule
	schedule *remote.ChargingSchedule
	updated  time.Time
}

// API simulates the manufacturer service.
type API struct {
	mu        sync.Mutex
	now       func() time.Time
	vehicles  map[string]*vehicle
	order     []string
	chargeKW  float64
	ttl       time.Duration
	loggedIn  bool
	loginAt   time.Time
	logins    int
	pageSize  int
	inbox     []remote.Message // newest first
	nextMsgID int
}

var _ remote.API = (*API)(nil)

// New builds a simulated fleet. now may be nil.
func New(cfg Config, now func() time.Time) *API {
	cfg.SetDefaults()
	if now == nil {
		now = time.Now
	}
	a := &API{
		now:      now,
		vehicles: map[string]*vehicle{},
		chargeKW: cfg.ChargeRateKW,
		ttl:      cfg.SessionTTL,
		pageSize: cfg.PageSize,
	}
	vcs := cfg.Vehicles
	if len(vcs) == 0 {
		vcs = generate(cfg.Size)
	}
	t := now()
	for _, vc := range vcs {
		a.add(vc, t)
	}
	return a
}

func generate(n int) []VehicleConfig {
	out := make([]VehicleConfig, n)
	for i := range out {
		out[i] = VehicleConfig{
			VIN:         fmt.Sprintf("SIM%04d", i+1),
			Name:        fmt.Sprintf("Simulated %d", i+1),
			Model:       "SIM-EV",
			EV:          i%4 != 3,
			CapacityKWh: 64,
			SoC:         float64(40 + (i*17)%50),
			PluggedIn:   i%2 == 0,
		}
	}
	return out
}

func (a *API) add(vc VehicleConfig, t time.Time) {
	v := &vehicle{
		info: remote.Vehicle{
			VIN:   vc.VIN,
			Name:  vc.Name,
			Model: vc.Model,
			EV:    vc.EV,
		},
		plugged: vc.PluggedIn && vc.EV,
		target:  80,
		heating: remote.HeatingSchedule{StartTime: "06:00"},
		updated: t,
	}
	if vc.EV && vc.Schedule != nil {
		s := *vc.Schedule
		v.schedule = &s
	}
	if vc.EV {
		v.info.BatteryCapacityKWh = vc.CapacityKWh
		v.battery = &battery{capacityKWh: vc.CapacityKWh, soc: vc.SoC / 100, chargeKW: a.chargeKW, dischargeKW: 100}
	}
	v.status = remote.Status{Locked: true, ExteriorTempC: 12, InteriorTempC: 14}
	a.vehicles[vc.VIN] = v
	a.order = append(a.order, vc.VIN)
}

// ExpireSession invalidates the current login.
func (a *API) ExpireSession() {
	a.mu.Lock()
	a.loggedIn = false
	a.mu.Unlock()
}

// Logins returns the number of successful logins.
func (a *API) Logins() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.logins
}

// PushMessage adds an inbox message for vin and returns its id.
func (a *API) PushMessage(vin, title, content string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pushLocked(vin, title, content, "info")
}

func (a *API) pushLocked(vin, title, content, typ string) string {
	a.nextMsgID++
	m := remote.Message{
		ID:      "msg-" + strconv.Itoa(a.nextMsgID),
		VIN:     vin,
		Title:   title,
		Content: content,
		Type:    typ,
		Time:    a.now(),
	}
	a.inbox = append([]remote.Message{m}, a.inbox...)
	return m.ID
}

func (a *API) session(op string) error {
	if !a.loggedIn {
		return remote.Errorf(remote.KindAuthExpired, op, "not logged in")
	}
	if a.ttl > 0 && a.now().Sub(a.loginAt) >= a.ttl {
		a.loggedIn = false
		return remote.Errorf(remote.KindAuthExpired, op, "session expired")
	}
	return nil
}

func (a *API) lookup(op, vin string) (*vehicle, error) {
	if err := a.session(op); err != nil {
		return nil, err
	}
	v, ok := a.vehicles[vin]
	if !ok {
		return nil, remote.Errorf(remote.KindRemote, op, "unknown vehicle %s", vin)
	}
	a.advance(v)
	return v, nil
}

// advance runs the battery model up to now.
func (a *API) advance(v *vehicle) {
	now := a.now()
	dt := now.Sub(v.updated)
	v.updated = now
	if v.battery == nil || dt <= 0 {
		return
	}
	if v.charging {
		// charging stops once the target is reached
		need := (float64(v.target)/100 - v.battery.soc) * v.battery.capacityKWh
		chargeDT := min(dt, time.Duration(need/a.chargeKW*float64(time.Hour)))
		v.battery.apply(-a.chargeKW, chargeDT)
		if chargeDT < dt || v.battery.percent() >= float64(v.target)-0.01 {
			v.charging = false
			a.pushLocked(v.info.VIN, "Charging complete", fmt.Sprintf("Charged to %.0f%%", v.battery.percent()), "charging")
		}
	}
	if v.status.ClimateOn {
		v.battery.apply(climateKW, dt)
	}
}

func (a *API) Login(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.loggedIn = true
	a.loginAt = a.now()
	a.logins++
	return nil
}

func (a *API) ListVehicles(context.Context) ([]remote.Vehicle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.session("list vehicles"); err != nil {
		return nil, err
	}
	out := make([]remote.Vehicle, 0, len(a.order))
	for _, vin := range a.order {
		out = append(out, a.vehicles[vin].info)
	}
	return out, nil
}

func (a *API) FetchStatus(_ context.Context, vin string) (remote.Status, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, err := a.lookup("fetch status", vin)
	if err != nil {
		return remote.Status{}, err
	}
	st := v.status
	st.Time = v.updated
	st.Charging = v.charging
	if v.battery != nil {
		st.SoC = round1(v.battery.percent())
		st.RangeKM = round1(v.battery.soc * v.battery.capacityKWh * kmPerKWh)
		st.BatteryActive = v.charging || st.ClimateOn
	}
	return st, nil
}

func (a *API) FetchChargeStatus(_ context.Context, vin string) (remote.ChargeStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, err := a.lookup("fetch charge status", vin)
	if err != nil {
		return remote.ChargeStatus{}, err
	}
	if v.battery == nil {
		return remote.ChargeStatus{}, remote.Errorf(remote.KindRemote, "fetch charge status", "vehicle has no traction battery")
	}
	cs := remote.ChargeStatus{
		Charging:  v.charging,
		PluggedIn: v.plugged,
		TargetSoC: v.target,
	}
	if v.schedule != nil {
		sched := *v.schedule
		cs.Schedule = &sched
	}
	if v.charging {
		cs.PowerKW = a.chargeKW
		cs.VoltageV = 400
		cs.CurrentA = round1(a.chargeKW * 1000 / cs.VoltageV)
		missing := (float64(v.target) - v.battery.percent()) / 100 * v.battery.capacityKWh
		cs.Remaining = time.Duration(missing / a.chargeKW * float64(time.Hour)).Round(time.Second)
	}
	return cs, nil
}

func (a *API) FetchHeatingSchedule(_ context.Context, vin string) (remote.HeatingSchedule, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, err := a.lookup("fetch heating schedule", vin)
	if err != nil {
		return remote.HeatingSchedule{}, err
	}
	return v.heating, nil
}

func (a *API) SendControl(_ context.Context, vin string, c remote.Control) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	op := "send " + string(c.Action)
	v, err := a.lookup(op, vin)
	if err != nil {
		return err
	}
	if v.battery == nil {
		switch c.Action {
		case remote.ActionStartCharging, remote.ActionStopCharging, remote.ActionTargetSoC,
			remote.ActionBatteryHeating, remote.ActionChargeSchedule:
			return remote.Errorf(remote.KindRemote, op, "vehicle has no traction battery")
		}
	}
	switch c.Action {
	case remote.ActionLock:
		v.status.Locked = true
		v.status.BootOpen = false
	case remote.ActionUnlock:
		v.status.Locked = false
	case remote.ActionOpenBoot:
		if v.status.Locked {
			return remote.Errorf(remote.KindRemote, op, "vehicle is locked")
		}
		v.status.BootOpen = true
	case remote.ActionClimate:
		v.status.ClimateOn = !strings.EqualFold(c.Value, "off")
	case remote.ActionRearDefrost, remote.ActionFrontDefrost, remote.ActionFindMyCar:
	case remote.ActionStartCharging:
		if !v.plugged {
			return remote.Errorf(remote.KindRemote, op, "charging cable not connected")
		}
		if !v.charging {
			v.charging = true
			a.pushLocked(vin, "Charging started", "Charging session started", "charging")
		}
	case remote.ActionStopCharging:
		v.charging = false
	case remote.ActionTargetSoC:
		n, err := strconv.Atoi(c.Value)
		if err != nil {
			return remote.Errorf(remote.KindRemote, op, "invalid target %q", c.Value)
		}
		v.target = n
	case remote.ActionBatteryHeating:
		v.heating.Enabled = strings.EqualFold(c.Value, "on")
	case remote.ActionChargeSchedule:
		if c.Schedule == nil {
			return remote.Errorf(remote.KindRemote, op, "missing schedule")
		}
		s := *c.Schedule
		v.schedule = &s
	default:
		return remote.Errorf(remote.KindRemote, op, "unsupported action")
	}
	return nil
}

// SetPluggedIn simulates connecting or removing the charging cable.
func (a *API) SetPluggedIn(vin string, plugged bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if v, ok := a.vehicles[vin]; ok {
		a.advance(v)
		v.plugged = plugged && v.battery != nil
		if !v.plugged {
			v.charging = false
		}
	}
}

func (a *API) FetchInbox(_ context.Context, page int) ([]remote.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.session("fetch inbox"); err != nil {
		return nil, err
	}
	if page < 1 {
		return nil, remote.Errorf(remote.KindRemote, "fetch inbox", "invalid page %d", page)
	}
	start := (page - 1) * a.pageSize
	if start >= len(a.inbox) {
		return nil, nil
	}
	end := min(start+a.pageSize, len(a.inbox))
	out := make([]remote.Message, end-start)
	copy(out, a.inbox[start:end])
	return out, nil
}

func (a *API) MarkRead(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.session("mark read"); err != nil {
		return err
	}
	i := a.message(id)
	if i < 0 {
		return remote.Errorf(remote.KindRemote, "mark read", "unknown message %s", id)
	}
	a.inbox[i].Read = true
	return nil
}

func (a *API) Delete(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.session("delete message"); err != nil {
		return err
	}
	i := a.message(id)
	if i < 0 {
		return remote.Errorf(remote.KindRemote, "delete message", "unknown message %s", id)
	}
	a.inbox = append(a.inbox[:i], a.inbox[i+1:]...)
	return nil
}

func (a *API) message(id string) int {
	for i, m := range a.inbox {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}
