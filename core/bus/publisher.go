// Package bus defines how the gateway publishes state to the message bus.
package bus

import (
	"errors"
	"strings"
)

// ErrNotConnected is returned when the bus connection is down.
var ErrNotConnected = errors.New("bus not connected")

// Publisher publishes a retained value on a topic relative to the gateway
// prefix.
type Publisher interface {
	Publish(topic string, value any) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(topic string, value any) error

func (f PublisherFunc) Publish(topic string, value any) error { return f(topic, value) }

// Nop discards everything.
type Nop struct{}

func (Nop) Publish(string, any) error { return nil }

type scoped struct {
	prefix string
	next   Publisher
}

// Scoped returns a publisher that prepends prefix to every topic.
func Scoped(p Publisher, prefix string) Publisher {
	return &scoped{prefix: strings.Trim(prefix, "/"), next: p}
}

func (s *scoped) Publish(topic string, value any) error {
	return s.next.Publish(Join(s.prefix, topic), value)
}

// Join concatenates topic levels, skipping empty ones.
func Join(levels ...string) string {
	parts := make([]string, 0, len(levels))
	for _, l := range levels {
		l = strings.Trim(l, "/")
		if l != "" {
			parts = append(parts, l)
		}
	}
	return strings.Join(parts, "/")
}

// VehiclePrefix is the topic level under which a vehicle's topics live.
func VehiclePrefix(vin string) string {
	return Join("vehicles", vin)
}
