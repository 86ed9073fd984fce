package watcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/jrsteele09/go-session-relay/broadcast"
	"github.com/jrsteele09/go-session-relay/identity"
	apperrors "github.com/jrsteele09/go-session-relay/internal/errors"
	"github.com/jrsteele09/go-session-relay/sessions"
	"github.com/jrsteele09/go-session-relay/storage"
	"github.com/rs/zerolog"
)

// DefaultPollInterval bounds how stale a view can get when no push trigger fires.
const DefaultPollInterval = 5 * time.Second

// Trigger names the signal that asked for a re-check.
type Trigger string

const (
	TriggerStorage    Trigger = "storage"
	TriggerBroadcast  Trigger = "broadcast"
	TriggerVisibility Trigger = "visibility"
	TriggerFocus      Trigger = "focus"
	TriggerPoll       Trigger = "poll"
)

// Reloader forces the view to start over with fresh state.
type Reloader interface {
	Reload(reason Trigger)
}

// ReloaderFunc adapts a function to Reloader.
type ReloaderFunc func(reason Trigger)

func (f ReloaderFunc) Reload(reason Trigger) {
	f(reason)
}

// Observer receives re-check outcomes, typically for metrics.
type Observer interface {
	ObserveRecheck(trigger Trigger, changed bool)
}

// Deps are the collaborators of one watcher. Provider and Reloader are
// required; a nil Storage, Bus or Page simply leaves that trigger out.
type Deps struct {
	Provider identity.Provider
	Storage  storage.Store
	Bus      broadcast.Bus
	Page     Page
	Reloader Reloader
	// Origin is the view's own storage origin; its writes do not trigger it.
	Origin string
}

type Option func(*Watcher)

func WithClock(clock clockwork.Clock) Option {
	return func(w *Watcher) {
		w.clock = clock
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithStorageKeyFilter replaces identity.IsAuthTokenKey as the predicate
// deciding which storage keys are session keys.
func WithStorageKeyFilter(fn func(key string) bool) Option {
	return func(w *Watcher) {
		w.isSessionKey = fn
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(w *Watcher) {
		w.log = log
	}
}

func WithObserver(o Observer) Option {
	return func(w *Watcher) {
		w.observer = o
	}
}

// Watcher reloads its view whenever the session it last observed is no longer
// the current one. Every trigger funnels into one re-check routine run by a
// single loop goroutine, so re-checks never overlap.
type Watcher struct {
	deps         Deps
	clock        clockwork.Clock
	interval     time.Duration
	isSessionKey func(string) bool
	log          zerolog.Logger
	observer     Observer

	mu           sync.Mutex
	mounted      bool
	lastObserved string
	channel      broadcast.Channel
	ctx          context.Context
	wake         chan Trigger
	detach       []func()
	stopLoop     context.CancelFunc
	loopDone     chan struct{}
}

func New(deps Deps, opts ...Option) (*Watcher, error) {
	if deps.Provider == nil {
		return nil, fmt.Errorf("[watcher New] provider is required")
	}
	if deps.Reloader == nil {
		return nil, fmt.Errorf("[watcher New] reloader is required")
	}

	w := &Watcher{
		deps:         deps,
		clock:        clockwork.NewRealClock(),
		interval:     DefaultPollInterval,
		isSessionKey: identity.IsAuthTokenKey,
		log:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Use mounts a watcher and returns its unmount func, for callers that only
// need the lifecycle.
func Use(ctx context.Context, deps Deps, opts ...Option) (unmount func(), err error) {
	w, err := New(deps, opts...)
	if err != nil {
		return nil, err
	}
	if err := w.Mount(ctx); err != nil {
		return nil, err
	}
	return w.Unmount, nil
}

// Mount captures the baseline session and attaches every trigger. The
// returned watcher keeps running until Unmount, independent of ctx.
func (w *Watcher) Mount(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.mounted {
		return apperrors.ErrAlreadyMounted
	}

	loopCtx, stopLoop := context.WithCancel(context.WithoutCancel(ctx))
	w.ctx = loopCtx
	w.stopLoop = stopLoop
	w.lastObserved = w.currentID(ctx)
	w.wake = make(chan Trigger, 1)
	w.detach = nil
	w.mounted = true

	if w.deps.Bus != nil {
		w.channel = w.deps.Bus.Open(broadcast.SessionChannel)
		cancel := w.channel.Subscribe(func(msg broadcast.Message) {
			if msg.Type == broadcast.TypeSessionChanged {
				w.trigger(TriggerBroadcast)
			}
		})
		channel := w.channel
		w.detach = append(w.detach, cancel, func() { _ = channel.Close() })
	}

	if w.deps.Storage != nil {
		w.detach = append(w.detach, w.deps.Storage.Watch(w.deps.Origin, func(e storage.Event) {
			if w.isSessionKey(e.Key) {
				w.trigger(TriggerStorage)
			}
		}))
	}

	if w.deps.Page != nil {
		w.detach = append(w.detach,
			w.deps.Page.OnVisibilityChange(func(visible bool) {
				if visible {
					w.trigger(TriggerVisibility)
				}
			}),
			w.deps.Page.OnFocus(func() {
				w.trigger(TriggerFocus)
			}),
		)
	}

	sub := w.deps.Provider.OnSessionStateChange(w.onStateChange)
	w.detach = append(w.detach, sub.Unsubscribe)

	ticker := w.clock.NewTicker(w.interval)
	w.detach = append(w.detach, ticker.Stop)

	w.loopDone = make(chan struct{})
	go w.loop(loopCtx, w.wake, ticker.Chan(), w.loopDone)

	w.log.Debug().Bool("authenticated", w.lastObserved != "").Dur("poll", w.interval).Msg("watcher mounted")
	return nil
}

// Unmount detaches every trigger, stops the poll and waits for an in-flight
// re-check to finish. No re-check or reload happens after it returns.
func (w *Watcher) Unmount() {
	w.mu.Lock()
	if !w.mounted {
		w.mu.Unlock()
		return
	}
	w.mounted = false
	detach := w.detach
	w.detach = nil
	w.channel = nil
	stopLoop := w.stopLoop
	loopDone := w.loopDone
	w.mu.Unlock()

	for _, fn := range detach {
		fn()
	}
	stopLoop()
	<-loopDone

	w.log.Debug().Msg("watcher unmounted")
}

// LastObserved returns the session identity the watcher currently holds.
func (w *Watcher) LastObserved() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastObserved
}

func (w *Watcher) loop(ctx context.Context, wake <-chan Trigger, tick <-chan time.Time, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case trigger := <-wake:
			w.recheck(ctx, trigger)
		case <-tick:
			w.recheck(ctx, TriggerPoll)
		}
	}
}

// trigger asks the loop for a re-check. A re-check that is already pending
// covers this one, so a full wake channel drops the request.
func (w *Watcher) trigger(t Trigger) {
	w.mu.Lock()
	wake := w.wake
	mounted := w.mounted
	w.mu.Unlock()
	if !mounted {
		return
	}
	select {
	case wake <- t:
	default:
	}
}

// recheck compares the current session with the last observed one and
// reloads on divergence. Running it again without a session change is a no-op.
func (w *Watcher) recheck(ctx context.Context, trigger Trigger) {
	current := w.currentID(ctx)

	w.mu.Lock()
	if !w.mounted {
		w.mu.Unlock()
		return
	}
	changed := current != w.lastObserved
	if changed {
		w.lastObserved = current
	}
	w.mu.Unlock()

	if w.observer != nil {
		w.observer.ObserveRecheck(trigger, changed)
	}
	if !changed {
		return
	}

	w.log.Info().Str("trigger", string(trigger)).Bool("authenticated", current != "").Msg("session changed, reloading view")
	w.deps.Reloader.Reload(trigger)
}

// onStateChange handles transitions this view caused itself. The new
// identity is recorded before returning so the view does not reload for its
// own change, and the other views are told to re-check.
func (w *Watcher) onStateChange(event sessions.StateEvent, s *sessions.Session) {
	if !event.Propagates() {
		return
	}

	w.mu.Lock()
	if !w.mounted {
		w.mu.Unlock()
		return
	}
	w.lastObserved = sessions.ID(s)
	channel := w.channel
	ctx := w.ctx
	w.mu.Unlock()

	if channel == nil {
		return
	}
	if err := channel.Post(ctx, broadcast.SessionChanged(event)); err != nil {
		w.log.Warn().Err(err).Str("event", string(event)).Msg("session broadcast failed")
	}
}

// currentID queries the provider; a failed query counts as no session.
func (w *Watcher) currentID(ctx context.Context) string {
	s, err := w.deps.Provider.CurrentSession(ctx)
	if err != nil {
		w.log.Warn().Err(err).Msg("session lookup failed, treating as signed out")
		return ""
	}
	return sessions.ID(s)
}
