package storage

import (
	"context"
	"sync"

	apperrors "github.com/jrsteele09/go-session-relay/internal/errors"
)

var _ Store = (*MemoryStore)(nil)

type memoryWatch struct {
	origin string
	fn     func(Event)
}

// MemoryStore is a thread-safe in-process Store. Watchers are notified on the
// writer's goroutine after the lock is released.
type MemoryStore struct {
	mu      sync.RWMutex
	values  map[string]string
	watches map[uint64]memoryWatch
	nextID  uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:  make(map[string]string),
		watches: make(map[uint64]memoryWatch),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.values[key]
	if !ok {
		return "", apperrors.ErrNotFound
	}
	return value, nil
}

func (m *MemoryStore) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	m.values[key] = value
	targets := m.targetsLocked(OriginFrom(ctx))
	m.mu.Unlock()

	notify(targets, Event{Key: key, Origin: OriginFrom(ctx)})
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	if _, ok := m.values[key]; !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.values, key)
	targets := m.targetsLocked(OriginFrom(ctx))
	m.mu.Unlock()

	notify(targets, Event{Key: key, Origin: OriginFrom(ctx)})
	return nil
}

func (m *MemoryStore) Watch(origin string, fn func(Event)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.watches[id] = memoryWatch{origin: origin, fn: fn}
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.watches, id)
		m.mu.Unlock()
	}
}

// WatchCount returns the number of attached watches.
func (m *MemoryStore) WatchCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.watches)
}

func (m *MemoryStore) targetsLocked(origin string) []func(Event) {
	targets := make([]func(Event), 0, len(m.watches))
	for _, w := range m.watches {
		if origin != "" && w.origin == origin {
			continue
		}
		targets = append(targets, w.fn)
	}
	return targets
}

func notify(targets []func(Event), e Event) {
	for _, fn := range targets {
		fn(e)
	}
}
