package providerfake

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-session-relay/identity"
	"github.com/jrsteele09/go-session-relay/sessions"
)

var _ identity.Provider = (*FakeProvider)(nil)

// FakeProvider is an in-memory identity.Provider whose session and failures
// are set directly by tests.
type FakeProvider struct {
	lock    sync.RWMutex
	session *sessions.Session
	err     error
	calls   int
	subs    map[uint64]sessions.StateChangeFunc
	nextID  uint64
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{subs: make(map[uint64]sessions.StateChangeFunc)}
}

// SetSession replaces the session returned by CurrentSession without emitting
// an event, as if another tab had changed it.
func (p *FakeProvider) SetSession(s *sessions.Session) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.session = s
}

// SetAccessToken is shorthand for SetSession with only an access token; "" clears it.
func (p *FakeProvider) SetAccessToken(accessToken string) {
	if accessToken == "" {
		p.SetSession(nil)
		return
	}
	p.SetSession(&sessions.Session{AccessToken: accessToken, RefreshToken: "refresh-" + accessToken})
}

// SetError makes CurrentSession fail until cleared with nil.
func (p *FakeProvider) SetError(err error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.err = err
}

// Calls returns how many times CurrentSession has been called.
func (p *FakeProvider) Calls() int {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.calls
}

// SubscriberCount returns the number of live state-change subscriptions.
func (p *FakeProvider) SubscriberCount() int {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return len(p.subs)
}

func (p *FakeProvider) CurrentSession(_ context.Context) (*sessions.Session, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	if p.session == nil {
		return nil, nil
	}
	s := *p.session
	return &s, nil
}

func (p *FakeProvider) OnSessionStateChange(fn sessions.StateChangeFunc) sessions.Subscription {
	p.lock.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	p.lock.Unlock()

	return sessions.SubscriptionFunc(func() {
		p.lock.Lock()
		delete(p.subs, id)
		p.lock.Unlock()
	})
}

// Emit stores s as the current session and delivers event to every
// subscriber on the calling goroutine, the way a same-tab sign-in does.
func (p *FakeProvider) Emit(event sessions.StateEvent, s *sessions.Session) {
	p.lock.Lock()
	p.session = s
	subs := make([]sessions.StateChangeFunc, 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.lock.Unlock()

	for _, fn := range subs {
		fn(event, s)
	}
}
