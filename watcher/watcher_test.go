package watcher_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/jrsteele09/go-session-relay/broadcast"
	"github.com/jrsteele09/go-session-relay/identity/providerfake"
	apperrors "github.com/jrsteele09/go-session-relay/internal/errors"
	"github.com/jrsteele09/go-session-relay/sessions"
	"github.com/jrsteele09/go-session-relay/storage"
	"github.com/jrsteele09/go-session-relay/watcher"
	"github.com/stretchr/testify/require"
)

const (
	testOrigin     = "view-1"
	testSessionKey = "sb-proj-auth-token"
	pollInterval   = 5 * time.Second
	settle         = 100 * time.Millisecond
	tick           = 2 * time.Millisecond
)

type recordingReloader struct {
	mu      sync.Mutex
	reasons []watcher.Trigger
}

func (r *recordingReloader) Reload(reason watcher.Trigger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
}

func (r *recordingReloader) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reasons)
}

func (r *recordingReloader) last() watcher.Trigger {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.reasons) == 0 {
		return ""
	}
	return r.reasons[len(r.reasons)-1]
}

// testFixture wires one watcher to in-memory collaborators and a fake clock.
type testFixture struct {
	provider *providerfake.FakeProvider
	store    *storage.MemoryStore
	bus      *broadcast.MemoryBus
	page     *watcher.PageEmitter
	clock    *clockwork.FakeClock
	reloader *recordingReloader
	watcher  *watcher.Watcher
}

func setupTestFixture(t *testing.T, initialAccessToken string) *testFixture {
	t.Helper()

	f := &testFixture{
		provider: providerfake.NewFakeProvider(),
		store:    storage.NewMemoryStore(),
		bus:      broadcast.NewMemoryBus(),
		page:     watcher.NewPageEmitter(),
		clock:    clockwork.NewFakeClock(),
		reloader: &recordingReloader{},
	}
	f.provider.SetAccessToken(initialAccessToken)

	w, err := watcher.New(watcher.Deps{
		Provider: f.provider,
		Storage:  f.store,
		Bus:      f.bus,
		Page:     f.page,
		Reloader: f.reloader,
		Origin:   testOrigin,
	}, watcher.WithClock(f.clock), watcher.WithPollInterval(pollInterval))
	require.NoError(t, err)
	require.NoError(t, w.Mount(context.Background()))
	t.Cleanup(w.Unmount)

	f.watcher = w
	return f
}

func (f *testFixture) requireReloads(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return f.reloader.count() == n }, time.Second, tick)
	require.Never(t, func() bool { return f.reloader.count() > n }, settle, tick)
}

func (f *testFixture) otherTabWrites(t *testing.T, key string) {
	t.Helper()
	ctx := storage.WithOrigin(context.Background(), "view-2")
	require.NoError(t, f.store.Set(ctx, key, "payload"))
}

func (f *testFixture) otherTabBroadcasts(t *testing.T, event sessions.StateEvent) {
	t.Helper()
	other := f.bus.Open(broadcast.SessionChannel)
	defer other.Close()
	require.NoError(t, other.Post(context.Background(), broadcast.SessionChanged(event)))
}

func TestNew_RequiresProviderAndReloader(t *testing.T) {
	_, err := watcher.New(watcher.Deps{Reloader: &recordingReloader{}})
	require.Error(t, err)

	_, err = watcher.New(watcher.Deps{Provider: providerfake.NewFakeProvider()})
	require.Error(t, err)
}

func TestMount_CapturesBaseline(t *testing.T) {
	f := setupTestFixture(t, "A")

	require.Equal(t, "A", f.watcher.LastObserved())
	require.Equal(t, 1, f.provider.Calls())
	require.Equal(t, 0, f.reloader.count())
}

func TestMount_Twice(t *testing.T) {
	f := setupTestFixture(t, "A")

	require.ErrorIs(t, f.watcher.Mount(context.Background()), apperrors.ErrAlreadyMounted)
}

func TestChangeDetection_EachTrigger(t *testing.T) {
	triggers := map[watcher.Trigger]func(t *testing.T, f *testFixture){
		watcher.TriggerStorage: func(t *testing.T, f *testFixture) {
			f.otherTabWrites(t, testSessionKey)
		},
		watcher.TriggerBroadcast: func(t *testing.T, f *testFixture) {
			f.otherTabBroadcasts(t, sessions.EventSignedIn)
		},
		watcher.TriggerVisibility: func(t *testing.T, f *testFixture) {
			f.page.SetVisible(false)
			f.page.SetVisible(true)
		},
		watcher.TriggerFocus: func(t *testing.T, f *testFixture) {
			f.page.Focus()
		},
		watcher.TriggerPoll: func(t *testing.T, f *testFixture) {
			f.clock.Advance(pollInterval)
		},
	}

	for trigger, fire := range triggers {
		t.Run(string(trigger), func(t *testing.T) {
			f := setupTestFixture(t, "A")
			f.provider.SetAccessToken("B")

			fire(t, f)

			f.requireReloads(t, 1)
			require.Equal(t, trigger, f.reloader.last())
			require.Equal(t, "B", f.watcher.LastObserved())
		})
	}
}

func TestTriggersWithoutChange(t *testing.T) {
	f := setupTestFixture(t, "A")

	f.otherTabWrites(t, testSessionKey)
	f.otherTabBroadcasts(t, sessions.EventTokenRefreshed)
	f.page.Focus()
	f.clock.Advance(pollInterval)

	require.Eventually(t, func() bool { return f.provider.Calls() > 1 }, time.Second, tick)
	f.requireReloads(t, 0)
	require.Equal(t, "A", f.watcher.LastObserved())
}

func TestIgnoredSignals(t *testing.T) {
	f := setupTestFixture(t, "A")
	f.provider.SetAccessToken("B")

	// unrelated key, own write, and the page going hidden are not triggers
	f.otherTabWrites(t, "theme")
	require.NoError(t, f.store.Set(storage.WithOrigin(context.Background(), testOrigin), testSessionKey, "mine"))
	f.page.SetVisible(false)

	require.Never(t, func() bool { return f.provider.Calls() > 1 }, settle, tick)
	require.Equal(t, 0, f.reloader.count())
}

func TestSignOutElsewhereReloads(t *testing.T) {
	f := setupTestFixture(t, "A")
	f.provider.SetAccessToken("")

	f.otherTabBroadcasts(t, sessions.EventSignedOut)

	f.requireReloads(t, 1)
	require.Equal(t, "", f.watcher.LastObserved())
}

func TestSelfChangeSuppression(t *testing.T) {
	f := setupTestFixture(t, "A")
	receiver := f.bus.Open(broadcast.SessionChannel)
	defer receiver.Close()

	var mu sync.Mutex
	var received []broadcast.Message
	receiver.Subscribe(func(m broadcast.Message) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, m)
	})

	f.provider.Emit(sessions.EventSignedIn, &sessions.Session{AccessToken: "B", RefreshToken: "RT"})
	require.Equal(t, "B", f.watcher.LastObserved())

	f.clock.Advance(pollInterval)
	require.Eventually(t, func() bool { return f.provider.Calls() == 2 }, time.Second, tick)
	f.requireReloads(t, 0)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []broadcast.Message{{Type: "session-changed", Event: sessions.EventSignedIn}}, received)
}

func TestSelfChange_NonPropagatingEventIgnored(t *testing.T) {
	f := setupTestFixture(t, "A")

	f.provider.Emit(sessions.EventUserUpdated, &sessions.Session{AccessToken: "B"})
	require.Equal(t, "A", f.watcher.LastObserved())

	f.clock.Advance(pollInterval)
	f.requireReloads(t, 1)
}

func TestBoundedStaleness(t *testing.T) {
	f := setupTestFixture(t, "A")
	f.provider.SetAccessToken("B")

	f.clock.Advance(pollInterval - time.Millisecond)
	require.Never(t, func() bool { return f.reloader.count() > 0 }, settle, tick)

	f.clock.Advance(time.Millisecond)
	f.requireReloads(t, 1)
	require.Equal(t, watcher.TriggerPoll, f.reloader.last())
}

func TestProviderFailureKeepsWatching(t *testing.T) {
	f := setupTestFixture(t, "")
	f.provider.SetError(errors.New("network down"))

	f.clock.Advance(pollInterval)
	require.Eventually(t, func() bool { return f.provider.Calls() == 2 }, time.Second, tick)
	require.Equal(t, 0, f.reloader.count())

	f.provider.SetError(nil)
	f.provider.SetAccessToken("B")
	f.clock.Advance(pollInterval)

	f.requireReloads(t, 1)
	require.Equal(t, "B", f.watcher.LastObserved())
}

func TestProviderFailureCountsAsSignedOut(t *testing.T) {
	f := setupTestFixture(t, "A")
	f.provider.SetError(errors.New("revoked"))

	f.page.Focus()

	f.requireReloads(t, 1)
	require.Equal(t, "", f.watcher.LastObserved())
}

func TestTeardownCompleteness(t *testing.T) {
	f := setupTestFixture(t, "A")
	other := f.bus.Open(broadcast.SessionChannel)
	defer other.Close()

	require.Equal(t, 1, f.store.WatchCount())
	require.Equal(t, 2, f.page.ListenerCount())
	require.Equal(t, 1, f.provider.SubscriberCount())
	require.Equal(t, 2, f.bus.HandleCount(broadcast.SessionChannel))

	f.watcher.Unmount()
	f.watcher.Unmount()

	require.Equal(t, 0, f.store.WatchCount())
	require.Equal(t, 0, f.page.ListenerCount())
	require.Equal(t, 0, f.provider.SubscriberCount())
	require.Equal(t, 1, f.bus.HandleCount(broadcast.SessionChannel))

	calls := f.provider.Calls()
	f.provider.SetAccessToken("B")

	f.clock.Advance(3 * pollInterval)
	f.otherTabWrites(t, testSessionKey)
	require.NoError(t, other.Post(context.Background(), broadcast.SessionChanged(sessions.EventSignedOut)))
	f.page.SetVisible(false)
	f.page.SetVisible(true)
	f.page.Focus()
	f.provider.Emit(sessions.EventSignedIn, &sessions.Session{AccessToken: "C"})

	require.Never(t, func() bool { return f.provider.Calls() != calls || f.reloader.count() != 0 }, settle, tick)
	require.Equal(t, "A", f.watcher.LastObserved())
}

func TestRemount(t *testing.T) {
	f := setupTestFixture(t, "A")
	f.watcher.Unmount()

	f.provider.SetAccessToken("B")
	require.NoError(t, f.watcher.Mount(context.Background()))
	require.Equal(t, "B", f.watcher.LastObserved())

	f.page.Focus()
	require.Eventually(t, func() bool { return f.provider.Calls() == 3 }, time.Second, tick)
	f.requireReloads(t, 0)
}

func TestUse(t *testing.T) {
	provider := providerfake.NewFakeProvider()
	provider.SetAccessToken("A")
	page := watcher.NewPageEmitter()
	reloader := &recordingReloader{}

	unmount, err := watcher.Use(context.Background(), watcher.Deps{
		Provider: provider,
		Page:     page,
		Reloader: reloader,
	}, watcher.WithClock(clockwork.NewFakeClock()))
	require.NoError(t, err)

	provider.SetAccessToken("B")
	page.Focus()
	require.Eventually(t, func() bool { return reloader.count() == 1 }, time.Second, tick)

	unmount()
	require.Equal(t, 0, page.ListenerCount())
	require.Equal(t, 0, provider.SubscriberCount())
}
