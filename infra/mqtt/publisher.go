package mqtt

import (
	"sync"

	"github.com/kilianp07/fleetbridge/core/bus"
)

// MockPublisher records published values, used in tests.
type MockPublisher struct {
	Messages map[string][]string
	// FailTopics makes Publish fail for the listed topics.
	FailTopics map[string]bool
	mu         sync.Mutex
}

// NewMockPublisher creates a new MockPublisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		Messages:   make(map[string][]string),
		FailTopics: make(map[string]bool),
	}
}

// Publish formats value the way the broker would receive it and records it.
func (m *MockPublisher) Publish(topic string, value any) error {
	payload, err := bus.Format(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailTopics[topic] {
		return bus.ErrNotConnected
	}
	m.Messages[topic] = append(m.Messages[topic], string(payload))
	return nil
}

// Last returns the latest payload on topic.
func (m *MockPublisher) Last(topic string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vs := m.Messages[topic]
	if len(vs) == 0 {
		return "", false
	}
	return vs[len(vs)-1], true
}
