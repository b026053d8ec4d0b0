// Package inbox polls the account message inbox. Messages about a vehicle
// count as vehicle activity and are mirrored on the bus.
package inbox

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/fleetbridge/core/bus"
	"github.com/kilianp07/fleetbridge/core/logger"
	"github.com/kilianp07/fleetbridge/core/metrics"
	"github.com/kilianp07/fleetbridge/core/remote"
	"github.com/kilianp07/fleetbridge/core/session"
	"github.com/kilianp07/fleetbridge/core/store"
)

// MarkerKey is the store key of the last processed message.
const MarkerKey = "inbox/marker"

// DefaultMaxPages bounds one run.
const DefaultMaxPages = 5

// Relogin is the view of the re-authentication coordinator used here.
type Relogin interface {
	Relogin() bool
	InProgress() bool
}

// Vehicle is a vehicle whose messages are tracked.
type Vehicle struct {
	Session *session.Session
	// Publisher is scoped to the vehicle.
	Publisher bus.Publisher
}

// Marker identifies the newest processed message.
type Marker struct {
	ID   string    `json:"id"`
	Time time.Time `json:"time"`
}

// newer reports whether m was received after the marker.
func (k Marker) newer(m remote.Message) bool {
	if m.ID == k.ID {
		return false
	}
	return !m.Time.Before(k.Time)
}

// Options configure a Poller.
type Options struct {
	API      remote.API
	Store    store.Store
	Relogin  Relogin
	Vehicles map[string]Vehicle
	MaxPages int
	// DeleteAfterRead deletes processed messages instead of marking them
	// read.
	DeleteAfterRead bool
	Metrics         metrics.Sink
	Logger          logger.Logger
	Now             func() time.Time
}

// Poller fetches new inbox messages. Run is not reentrant; the scheduler
// skips a run while the previous one is still going.
type Poller struct {
	api      remote.API
	store    store.Store
	relogin  Relogin
	vehicles map[string]Vehicle
	maxPages int
	del      bool
	metrics  metrics.Sink
	log      logger.Logger
	now      func() time.Time
}

// New creates a poller.
func New(opts Options) *Poller {
	p := &Poller{
		api:      opts.API,
		store:    opts.Store,
		relogin:  opts.Relogin,
		vehicles: opts.Vehicles,
		maxPages: opts.MaxPages,
		del:      opts.DeleteAfterRead,
		metrics:  opts.Metrics,
		log:      logger.OrNop(opts.Logger),
		now:      opts.Now,
	}
	if p.maxPages <= 0 {
		p.maxPages = DefaultMaxPages
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.metrics == nil {
		p.metrics = metrics.NopSink{}
	}
	return p
}

// Run processes messages received since the previous run. Without a stored
// marker only the newest message is processed so a fresh install does not
// replay the inbox history.
func (p *Poller) Run(ctx context.Context) error {
	if p.relogin != nil && p.relogin.InProgress() {
		p.log.Debugf("relogin in progress, inbox check skipped")
		return nil
	}
	var marker Marker
	hasMarker, err := store.GetJSON(ctx, p.store, MarkerKey, &marker)
	if err != nil {
		return fmt.Errorf("load inbox marker: %w", err)
	}

	fresh, pages, err := p.collect(ctx, marker, hasMarker)
	if err != nil {
		return p.failed(err)
	}
	if !hasMarker && len(fresh) > 1 {
		fresh = fresh[:1]
	}

	processed := 0
	for i := len(fresh) - 1; i >= 0; i-- {
		m := fresh[i]
		if err := p.process(ctx, m); err != nil {
			p.save(ctx, marker, processed)
			return p.failed(err)
		}
		marker = Marker{ID: m.ID, Time: m.Time}
		processed++
	}
	p.save(ctx, marker, processed)
	if err := metrics.RecordInbox(p.metrics, metrics.InboxEvent{Pages: pages, Messages: processed, Time: p.now()}); err != nil {
		p.log.Warnf("record inbox metrics: %v", err)
	}
	if processed > 0 {
		p.log.Infof("processed %d inbox message(s)", processed)
	}
	return nil
}

// collect pages through the inbox, newest first, until it reaches a message
// that is not newer than the marker.
func (p *Poller) collect(ctx context.Context, marker Marker, hasMarker bool) ([]remote.Message, int, error) {
	var fresh []remote.Message
	pages := 0
	for page := 1; page <= p.maxPages; page++ {
		msgs, err := p.api.FetchInbox(ctx, page)
		if err != nil {
			return nil, pages, fmt.Errorf("fetch inbox page %d: %w", page, err)
		}
		pages++
		if len(msgs) == 0 {
			break
		}
		for _, m := range msgs {
			if hasMarker && !marker.newer(m) {
				return fresh, pages, nil
			}
			fresh = append(fresh, m)
		}
		if !hasMarker {
			break
		}
	}
	return fresh, pages, nil
}

// process handles one message. Only unread messages count as vehicle
// activity; read ones are still deleted when configured.
func (p *Poller) process(ctx context.Context, m remote.Message) error {
	if v, ok := p.vehicles[m.VIN]; ok && m.VIN != "" && !m.Read {
		v.Session.NotifyCarActivity(p.now())
		publishMessage(v.Publisher, p.log, m)
	}
	if p.del {
		if err := p.api.Delete(ctx, m.ID); err != nil {
			return fmt.Errorf("delete message %s: %w", m.ID, err)
		}
		return nil
	}
	if m.Read {
		return nil
	}
	if err := p.api.MarkRead(ctx, m.ID); err != nil {
		return fmt.Errorf("mark message %s read: %w", m.ID, err)
	}
	return nil
}

func (p *Poller) save(ctx context.Context, marker Marker, processed int) {
	if processed == 0 {
		return
	}
	if err := store.SetJSON(ctx, p.store, MarkerKey, marker); err != nil {
		p.log.Errorf("save inbox marker: %v", err)
	}
}

func (p *Poller) failed(err error) error {
	if remote.IsAuthExpired(err) && p.relogin != nil {
		p.log.Warnf("inbox check failed, session expired: %v", err)
		p.relogin.Relogin()
	}
	return err
}

func publishMessage(pub bus.Publisher, log logger.Logger, m remote.Message) {
	if pub == nil {
		return
	}
	fields := []struct {
		name  string
		value any
	}{
		{"id", m.ID},
		{"title", m.Title},
		{"content", m.Content},
		{"type", m.Type},
		{"time", m.Time},
	}
	for _, f := range fields {
		topic := bus.Join(bus.TopicLastMessage, f.name)
		if err := pub.Publish(topic, f.value); err != nil {
			log.Warnf("publish %s: %v", topic, err)
		}
	}
}
