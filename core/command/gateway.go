// Package command routes commands received from the bus to per-vehicle
// handlers and publishes their results.
package command

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"github.com/kilianp07/fleetbridge/core/bus"
	"github.com/kilianp07/fleetbridge/core/logger"
	"github.com/kilianp07/fleetbridge/core/metrics"
	"github.com/kilianp07/fleetbridge/core/monitoring"
	"github.com/kilianp07/fleetbridge/core/remote"
	"github.com/kilianp07/fleetbridge/core/session"
)

// Result payloads.
const (
	ResultSuccess = "Success"
	resultFailed  = "Failed: "
)

// Relogin is the part of the re-authentication coordinator used here.
type Relogin interface {
	Relogin() bool
}

// Trigger wakes a vehicle's poll loop.
type Trigger interface {
	Trigger()
}

// Vehicle is one vehicle served by the gateway.
type Vehicle struct {
	VIN     string
	Session *session.Session
	// Publisher is scoped to the vehicle.
	Publisher bus.Publisher
	Loop      Trigger
}

// Options configure a Gateway.
type Options struct {
	API      remote.API
	Relogin  Relogin
	Metrics  metrics.Sink
	Logger   logger.Logger
	Bindings []Binding
	Now      func() time.Time
}

type route struct {
	vehicle  Vehicle
	handlers map[string]Handler
}

// Gateway dispatches commands. Routes are built once by NewGateway and never
// change, so Dispatch may run concurrently.
type Gateway struct {
	routes  map[string]route
	relogin Relogin
	metrics metrics.Sink
	log     logger.Logger
	now     func() time.Time
}

// NewGateway binds every command to every vehicle.
func NewGateway(opts Options, vehicles ...Vehicle) *Gateway {
	g := &Gateway{
		routes:  make(map[string]route, len(vehicles)),
		relogin: opts.Relogin,
		metrics: opts.Metrics,
		log:     logger.OrNop(opts.Logger),
		now:     opts.Now,
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.metrics == nil {
		g.metrics = metrics.NopSink{}
	}
	bindings := opts.Bindings
	if bindings == nil {
		bindings = Default
	}
	for _, v := range vehicles {
		if v.Publisher == nil {
			v.Publisher = bus.Nop{}
		}
		t := Target{VIN: v.VIN, Session: v.Session, API: opts.API, Now: g.now}
		r := route{vehicle: v, handlers: make(map[string]Handler, len(bindings))}
		for _, b := range bindings {
			r.handlers[b.Topic] = b.New(t)
		}
		g.routes[v.VIN] = r
	}
	return g
}

// Commands returns the command topics handled for vin, sorted.
func (g *Gateway) Commands(vin string) []string {
	r, ok := g.routes[vin]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(r.handlers))
	for c := range r.handlers {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Dispatch runs command for vin and publishes its result. It never fails:
// errors end up in the result topic, the logs and the metrics.
func (g *Gateway) Dispatch(ctx context.Context, vin, command, payload string) {
	r, ok := g.routes[vin]
	if !ok {
		g.log.Warnf("command %s for unknown vehicle %s ignored", command, vin)
		return
	}
	start := g.now()
	ev := metrics.CommandEvent{VIN: vin, Command: command, Time: start}
	h, ok := r.handlers[command]
	if !ok {
		g.log.Warnf("unsupported command %s for %s", command, vin)
		g.publishResult(r.vehicle, command, resultFailed+"unsupported command")
		ev.Reason = ReasonUnsupported
		g.record(ev)
		return
	}

	force, err := g.run(ctx, h, payload)
	ev.Latency = g.now().Sub(start)
	if err != nil {
		g.fail(r.vehicle, command, payload, err, &ev)
		g.record(ev)
		return
	}
	ev.Success = true
	g.log.Infof("command %s=%q for %s succeeded", command, payload, vin)
	g.publishResult(r.vehicle, command, ResultSuccess)
	if force && r.vehicle.Session != nil {
		r.vehicle.Session.SetRefreshMode(session.ModeForce)
	}
	if r.vehicle.Loop != nil {
		r.vehicle.Loop.Trigger()
	}
	g.record(ev)
}

// run isolates a handler: a panic becomes an unexpected error.
func (g *Gateway) run(ctx context.Context, h Handler, payload string) (force bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v\n%s", rec, debug.Stack())
		}
	}()
	return h.Handle(ctx, payload)
}

func (g *Gateway) fail(v Vehicle, command, payload string, err error, ev *metrics.CommandEvent) {
	reason, msg := classify(err)
	ev.Reason = reason
	switch reason {
	case ReasonPayload, remote.KindRemote.String():
		g.log.Warnf("command %s=%q for %s failed: %v", command, payload, v.VIN, err)
	case remote.KindAuthExpired.String():
		g.log.Warnf("command %s for %s failed, session expired: %v", command, v.VIN, err)
		if g.relogin != nil {
			g.relogin.Relogin()
		}
	default:
		g.log.Errorf("command %s=%q for %s failed unexpectedly: %v", command, payload, v.VIN, err)
		monitoring.CaptureException(err, map[string]string{monitoring.TagVIN: v.VIN, monitoring.TagCommand: command})
	}
	g.publishResult(v, command, resultFailed+msg)
}

func (g *Gateway) publishResult(v Vehicle, command, result string) {
	topic := bus.Join(command, bus.ResultSuffix)
	if err := v.Publisher.Publish(topic, result); err != nil {
		g.log.Warnf("publish %s for %s: %v", topic, v.VIN, err)
	}
}

func (g *Gateway) record(ev metrics.CommandEvent) {
	if err := metrics.RecordCommand(g.metrics, ev); err != nil {
		g.log.Warnf("record command metrics: %v", err)
	}
}
