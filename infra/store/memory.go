// Package store provides the state store backends.
package store

import (
	"context"
	"sync"

	"github.com/kilianp07/fleetbridge/core/store"
)

// Memory keeps state in process memory. State is lost on restart.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{values: map[string]string{}}
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }
