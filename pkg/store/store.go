// Package store persists named counters across restarts.
package store

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by Load for counters that were never saved.
var ErrNotFound = errors.New("counter not found")

// Counter names.
const (
	// FCntUp is the LoRaWAN uplink frame counter of the session.
	FCntUp = "fcnt_up"
	// Sweep is the data rate sweep counter.
	Sweep = "sweep"
)

// CounterStore loads and saves named uint32 counters.
type CounterStore interface {
	Load(ctx context.Context, name string) (uint32, error)
	Save(ctx context.Context, name string, v uint32) error
	Close() error
}

// Ensure Memory implements CounterStore.
var _ CounterStore = (*Memory)(nil)

// Memory keeps counters in memory only.
type Memory struct {
	mu       sync.Mutex
	counters map[string]uint32
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{counters: make(map[string]uint32)}
}

// Load returns the saved value of name.
func (m *Memory) Load(ctx context.Context, name string) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.counters[name]
	if !ok {
		return 0, ErrNotFound
	}
	return v, nil
}

// Save stores v under name.
func (m *Memory) Save(ctx context.Context, name string, v uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counters[name] = v
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}

// LoadOr returns the saved value of name, or def when it was never saved.
func LoadOr(ctx context.Context, s CounterStore, name string, def uint32) (uint32, error) {
	v, err := s.Load(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	return v, err
}
