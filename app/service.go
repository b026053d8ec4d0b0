// Package app wires the gateway together: remote API, MQTT bus, per-vehicle
// sessions and poll loops, the command gateway and the scheduled jobs.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/fleetbridge/api"
	"github.com/kilianp07/fleetbridge/config"
	"github.com/kilianp07/fleetbridge/core/bus"
	"github.com/kilianp07/fleetbridge/core/command"
	"github.com/kilianp07/fleetbridge/core/forward"
	"github.com/kilianp07/fleetbridge/core/inbox"
	coremetrics "github.com/kilianp07/fleetbridge/core/metrics"
	coremon "github.com/kilianp07/fleetbridge/core/monitoring"
	"github.com/kilianp07/fleetbridge/core/poll"
	"github.com/kilianp07/fleetbridge/core/relogin"
	"github.com/kilianp07/fleetbridge/core/remote"
	"github.com/kilianp07/fleetbridge/core/scheduler"
	"github.com/kilianp07/fleetbridge/core/session"
	"github.com/kilianp07/fleetbridge/core/store"
	"github.com/kilianp07/fleetbridge/core/vehiclestatus"
	_ "github.com/kilianp07/fleetbridge/infra/forward"
	"github.com/kilianp07/fleetbridge/infra/logger"
	"github.com/kilianp07/fleetbridge/infra/metrics"
	"github.com/kilianp07/fleetbridge/infra/monitoring"
	"github.com/kilianp07/fleetbridge/infra/mqtt"
	"github.com/kilianp07/fleetbridge/infra/remote/httpapi"
	"github.com/kilianp07/fleetbridge/infra/remote/sim"
	infrastore "github.com/kilianp07/fleetbridge/infra/store"
	"github.com/kilianp07/fleetbridge/internal/eventbus"
)

const (
	inboxJobID     = "inbox"
	commandTimeout = 30 * time.Second
)

// BusClient is the MQTT side of the gateway.
type BusClient interface {
	bus.Publisher
	HandleCommands(fn mqtt.CommandFunc)
	IsConnected() bool
	Disconnect()
}

var newBusClient = func(cfg mqtt.Config) (BusClient, error) {
	c, err := mqtt.NewPahoClient(cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// NewRemote builds the configured remote API implementation.
func NewRemote(cfg config.RemoteConfig) (remote.API, error) {
	switch cfg.Type {
	case "http":
		return httpapi.New(cfg.HTTP), nil
	case "sim":
		return sim.New(cfg.Sim, nil), nil
	default:
		return nil, fmt.Errorf("unknown remote type %q", cfg.Type)
	}
}

// Service orchestrates the gateway components.
type Service struct {
	cfg     *config.Config
	log     logger.Logger
	api     remote.API
	client  BusClient
	store   store.Store
	sched   *scheduler.Scheduler
	relogin *relogin.Coordinator
	sink    coremetrics.Sink
	fanout  *forward.Fanout
	events  *eventbus.TypedBus[poll.Event]
	status  *vehiclestatus.MemoryStore
	gateway *command.Gateway
	inbox   *inbox.Poller
	loops   []*poll.Loop

	// commands run on this context so they outlive MQTT callbacks
	ctx    context.Context
	cancel context.CancelFunc
}

// New logs in, lists the account's vehicles and builds one session and poll
// loop per handled vehicle.
func New(ctx context.Context, cfg *config.Config, api remote.API) (*Service, error) {
	log := logger.New("service")
	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)

	if err := api.Login(ctx); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	listed, err := api.ListVehicles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}

	s := &Service{
		cfg:    cfg,
		log:    log,
		api:    api,
		events: eventbus.NewTyped[poll.Event](),
		status: vehiclestatus.NewMemoryStore(),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	if err := s.build(ctx, listed); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) build(ctx context.Context, listed []remote.Vehicle) error {
	cfg := s.cfg
	var err error
	if s.sink, err = coremetrics.NewSink(cfg.Metrics.Sinks); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	if s.fanout, err = forward.New(cfg.Forwarders, logger.New("forward")); err != nil {
		return err
	}
	if s.store, err = infrastore.Open(ctx, cfg.Store); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	loc, err := cfg.Gateway.Location()
	if err != nil {
		return err
	}
	s.sched = scheduler.New(loc, logger.New("scheduler"))
	s.relogin = relogin.New(s.sched, s.api, cfg.Gateway.ReloginDelay, logger.New("relogin"), coremetrics.Relogins(s.sink))
	waker := scheduler.NewChargingWaker(s.sched, cfg.Gateway.ChargingWakeupOffset)

	if s.client, err = newBusClient(cfg.MQTT); err != nil {
		return fmt.Errorf("mqtt client: %w", err)
	}

	defaults := session.Defaults{
		Active:        cfg.Gateway.ActivePeriod,
		Inactive:      cfg.Gateway.InactivePeriod,
		AfterShutdown: cfg.Gateway.AfterShutdownPeriod,
		InactiveGrace: cfg.Gateway.InactiveGracePeriod,
	}
	var cmdVehicles []command.Vehicle
	inboxVehicles := map[string]inbox.Vehicle{}
	for _, v := range listed {
		vc, _ := cfg.Vehicle(v.VIN)
		if vc.Disabled {
			s.log.Infof("vehicle %s disabled by configuration", v.VIN)
			continue
		}
		v = applyOverrides(v, vc)
		vlog := logger.ForVehicle(v.VIN)
		pub := bus.Scoped(s.client, bus.VehiclePrefix(v.VIN))
		sess := session.New(session.Options{
			VIN:                     v.VIN,
			Publisher:               pub,
			Logger:                  vlog,
			Waker:                   waker,
			BatteryCapacityKWh:      v.BatteryCapacityKWh,
			ChargePollingMinPercent: vc.ChargePollingMinPercent,
		})
		loop := poll.New(poll.Options{
			Vehicle:     v,
			Session:     sess,
			API:         s.api,
			Relogin:     s.relogin,
			Forwarder:   s.fanout,
			Publisher:   pub,
			Events:      s.events,
			Defaults:    defaults,
			ConfigGrace: cfg.Gateway.ConfigGrace,
			Tick:        cfg.Gateway.Tick,
			Logger:      vlog,
		})
		s.loops = append(s.loops, loop)
		cmdVehicles = append(cmdVehicles, command.Vehicle{VIN: v.VIN, Session: sess, Publisher: pub, Loop: loop})
		inboxVehicles[v.VIN] = inbox.Vehicle{Session: sess, Publisher: pub}
		s.status.Register(v)
	}
	if len(s.loops) == 0 {
		s.log.Warnf("no vehicle to handle")
	}

	s.gateway = command.NewGateway(command.Options{
		API:     s.api,
		Relogin: s.relogin,
		Metrics: s.sink,
		Logger:  logger.New("command"),
	}, cmdVehicles...)
	s.client.HandleCommands(s.dispatch)

	s.inbox = inbox.New(inbox.Options{
		API:             s.api,
		Store:           s.store,
		Relogin:         s.relogin,
		Vehicles:        inboxVehicles,
		MaxPages:        cfg.Gateway.InboxMaxPages,
		DeleteAfterRead: cfg.Gateway.DeleteAfterRead,
		Metrics:         s.sink,
		Logger:          logger.New("inbox"),
	})
	if err := coremetrics.RecordFleetSize(s.sink, len(s.loops)); err != nil {
		s.log.Warnf("record fleet size: %v", err)
	}
	s.log.Infof("handling %d of %d vehicles", len(s.loops), len(listed))
	return nil
}

func applyOverrides(v remote.Vehicle, vc config.VehicleConfig) remote.Vehicle {
	if vc.EV != nil {
		v.EV = *vc.EV
	}
	if vc.BatteryCapacityKWh > 0 {
		v.BatteryCapacityKWh = vc.BatteryCapacityKWh
	}
	return v
}

func (s *Service) dispatch(vin, cmd, payload string) {
	ctx, cancel := context.WithTimeout(s.ctx, commandTimeout)
	defer cancel()
	s.gateway.Dispatch(ctx, vin, cmd, payload)
}

// Gateway returns the command gateway.
func (s *Service) Gateway() *command.Gateway { return s.gateway }

// Status returns the tracked vehicle status.
func (s *Service) Status() vehiclestatus.Store { return s.status }

// Run starts every loop and job and blocks until ctx is canceled or a loop
// fails.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	metrics.StartPollCollector(ctx, s.events, s.sink)
	vehiclestatus.Track(ctx, s.events, s.status)

	if err := s.sched.Every(inboxJobID, s.cfg.Gateway.InboxInterval, func() {
		if err := s.inbox.Run(ctx); err != nil {
			s.log.Warnf("inbox: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule inbox: %w", err)
	}
	s.sched.Start()

	for _, l := range s.loops {
		g.Go(func() error {
			if err := l.Run(ctx); err != nil {
				return fmt.Errorf("poll loop %s: %w", l.VIN(), err)
			}
			return nil
		})
	}
	if s.cfg.API.Enabled {
		router := api.NewRouter(s.status, s.gateway, s.health)
		g.Go(func() error { return api.Serve(ctx, s.cfg.API.Address, router) })
	}
	return g.Wait()
}

func (s *Service) health() error {
	if s.client == nil || !s.client.IsConnected() {
		return errors.New("mqtt disconnected")
	}
	return nil
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	s.cancel()
	var errs []error
	if s.sched != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.sched.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("scheduler: %w", err))
		}
		cancel()
	}
	if s.client != nil {
		s.client.Disconnect()
	}
	if s.fanout != nil {
		if err := s.fanout.Close(); err != nil {
			errs = append(errs, fmt.Errorf("forwarders: %w", err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	s.events.Close()
	coremon.Flush(2 * time.Second)
	return errors.Join(errs...)
}
