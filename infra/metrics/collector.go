package metrics

import (
	"context"

	coremetrics "github.com/kilianp07/fleetbridge/core/metrics"
	"github.com/kilianp07/fleetbridge/core/poll"
	"github.com/kilianp07/fleetbridge/infra/logger"
	"github.com/kilianp07/fleetbridge/internal/eventbus"
)

// StartPollCollector subscribes to poll events and records them in sink.
// It stops when the context is canceled or the bus is closed.
func StartPollCollector(ctx context.Context, bus *eventbus.TypedBus[poll.Event], sink coremetrics.Sink) {
	if bus == nil || sink == nil {
		return
	}
	log := logger.New("metrics_collector")
	sub := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				if err := sink.RecordPoll(ev.Metrics()); err != nil {
					log.Warnf("record poll for %s: %v", ev.VIN, err)
				}
			}
		}
	}()
}
