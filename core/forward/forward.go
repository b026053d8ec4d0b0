// Package forward hands fresh vehicle data to third-party integrations
// (time series stores, message streams, range planners). Forwarding is best
// effort: a failing integration never affects polling.
package forward

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/kilianp07/fleetbridge/core/factory"
	"github.com/kilianp07/fleetbridge/core/logger"
	"github.com/kilianp07/fleetbridge/core/remote"
)

// Snapshot is the data of one successful poll.
type Snapshot struct {
	Vehicle remote.Vehicle
	Status  remote.Status
	Charge  *remote.ChargeStatus
	Time    time.Time
}

// Forwarder sends a snapshot to one integration.
type Forwarder interface {
	Name() string
	Forward(ctx context.Context, s Snapshot) error
}

var registry = factory.NewRegistry[Forwarder]()

// Register adds a forwarder factory identified by name.
func Register(name string, f factory.Factory[Forwarder]) error {
	return registry.Register(name, f)
}

// Fanout forwards snapshots to every configured integration.
type Fanout struct {
	forwarders []Forwarder
	log        logger.Logger
}

// NewFanout wraps the given forwarders.
func NewFanout(log logger.Logger, fs ...Forwarder) *Fanout {
	return &Fanout{forwarders: fs, log: logger.OrNop(log)}
}

// New builds a Fanout from module configurations.
func New(cfgs []factory.ModuleConfig, log logger.Logger) (*Fanout, error) {
	fs := make([]Forwarder, 0, len(cfgs))
	for _, c := range factory.Enabled(cfgs) {
		f, err := registry.Create(c)
		if err != nil {
			for _, created := range fs {
				_ = closeForwarder(created)
			}
			return nil, fmt.Errorf("forwarder %s: %w", c.Type, err)
		}
		fs = append(fs, f)
	}
	return NewFanout(log, fs...), nil
}

// Len returns the number of forwarders.
func (f *Fanout) Len() int { return len(f.forwarders) }

// ForwardAll sends s to every forwarder. Errors and panics are logged.
func (f *Fanout) ForwardAll(ctx context.Context, s Snapshot) {
	for _, fw := range f.forwarders {
		f.forwardOne(ctx, fw, s)
	}
}

func (f *Fanout) forwardOne(ctx context.Context, fw Forwarder, s Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			f.log.Errorf("forwarder %s panicked for %s: %v", fw.Name(), s.Vehicle.VIN, r)
		}
	}()
	if err := fw.Forward(ctx, s); err != nil {
		f.log.Warnf("forwarder %s failed for %s: %v", fw.Name(), s.Vehicle.VIN, err)
	}
}

// Close releases forwarders holding connections. Every forwarder is closed
// even when an earlier one fails.
func (f *Fanout) Close() error {
	var errs []error
	for _, fw := range f.forwarders {
		if err := closeForwarder(fw); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", fw.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func closeForwarder(fw Forwarder) error {
	if c, ok := fw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
