package broadcast

import (
	"context"
	"sync"

	apperrors "github.com/jrsteele09/go-session-relay/internal/errors"
)

var _ Bus = (*MemoryBus)(nil)

// MemoryBus delivers messages between handles in the same process.
// Delivery happens on the poster's goroutine after the bus lock is released.
type MemoryBus struct {
	mu      sync.RWMutex
	handles map[string]map[*memoryChannel]struct{}
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handles: make(map[string]map[*memoryChannel]struct{})}
}

func (b *MemoryBus) Open(name string) Channel {
	c := &memoryChannel{bus: b, name: name, subs: make(map[uint64]func(Message))}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handles[name] == nil {
		b.handles[name] = make(map[*memoryChannel]struct{})
	}
	b.handles[name][c] = struct{}{}
	return c
}

// HandleCount returns the number of open handles on name.
func (b *MemoryBus) HandleCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handles[name])
}

func (b *MemoryBus) remove(c *memoryChannel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handles[c.name], c)
	if len(b.handles[c.name]) == 0 {
		delete(b.handles, c.name)
	}
}

func (b *MemoryBus) peers(sender *memoryChannel) []*memoryChannel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	peers := make([]*memoryChannel, 0, len(b.handles[sender.name]))
	for c := range b.handles[sender.name] {
		if c != sender {
			peers = append(peers, c)
		}
	}
	return peers
}

type memoryChannel struct {
	bus  *MemoryBus
	name string

	mu     sync.Mutex
	subs   map[uint64]func(Message)
	nextID uint64
	closed bool
}

func (c *memoryChannel) Name() string {
	return c.name
}

func (c *memoryChannel) Post(_ context.Context, msg Message) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return apperrors.ErrChannelClosed
	}

	for _, peer := range c.bus.peers(c) {
		peer.deliver(msg)
	}
	return nil
}

func (c *memoryChannel) deliver(msg Message) {
	c.mu.Lock()
	subs := make([]func(Message), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(msg)
	}
}

func (c *memoryChannel) Subscribe(fn func(Message)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return func() {}
	}
	id := c.nextID
	c.nextID++
	c.subs[id] = fn

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *memoryChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.subs = make(map[uint64]func(Message))
	c.mu.Unlock()

	c.bus.remove(c)
	return nil
}
