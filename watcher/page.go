package watcher

import "sync"

// Page is the page-lifecycle signal source of one mounted view.
type Page interface {
	// OnVisibilityChange calls fn with the new visibility state.
	OnVisibilityChange(fn func(visible bool)) (cancel func())
	// OnFocus calls fn whenever the view's window gains focus.
	OnFocus(fn func()) (cancel func())
}

var _ Page = (*PageEmitter)(nil)

// PageEmitter is a Page driven by whoever learns about visibility and focus,
// the websocket read loop in production and the test body in tests.
type PageEmitter struct {
	mu         sync.Mutex
	visible    bool
	visibility map[uint64]func(bool)
	focus      map[uint64]func()
	nextID     uint64
}

func NewPageEmitter() *PageEmitter {
	return &PageEmitter{
		visible:    true,
		visibility: make(map[uint64]func(bool)),
		focus:      make(map[uint64]func()),
	}
}

func (p *PageEmitter) OnVisibilityChange(fn func(visible bool)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.visibility[id] = fn
	return func() {
		p.mu.Lock()
		delete(p.visibility, id)
		p.mu.Unlock()
	}
}

func (p *PageEmitter) OnFocus(fn func()) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.focus[id] = fn
	return func() {
		p.mu.Lock()
		delete(p.focus, id)
		p.mu.Unlock()
	}
}

// SetVisible records the visibility state and notifies listeners when it changed.
func (p *PageEmitter) SetVisible(visible bool) {
	p.mu.Lock()
	if p.visible == visible {
		p.mu.Unlock()
		return
	}
	p.visible = visible
	listeners := make([]func(bool), 0, len(p.visibility))
	for _, fn := range p.visibility {
		listeners = append(listeners, fn)
	}
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(visible)
	}
}

// Visible reports the last recorded visibility state.
func (p *PageEmitter) Visible() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible
}

// Focus notifies focus listeners.
func (p *PageEmitter) Focus() {
	p.mu.Lock()
	listeners := make([]func(), 0, len(p.focus))
	for _, fn := range p.focus {
		listeners = append(listeners, fn)
	}
	p.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// ListenerCount returns the number of attached visibility and focus listeners.
func (p *PageEmitter) ListenerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.visibility) + len(p.focus)
}
