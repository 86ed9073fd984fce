package storage_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jrsteele09/go-session-relay/storage"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// eventLog collects watch deliveries from any goroutine.
type eventLog struct {
	mu     sync.Mutex
	events []storage.Event
}

func (l *eventLog) add(e storage.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) snapshot() []storage.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]storage.Event(nil), l.events...)
}

func newRedisStore(t *testing.T) *storage.RedisStore {
	t.Helper()
	store, _ := newRedisStoreWithClient(t)
	return store
}

func newRedisStoreWithClient(t *testing.T) (*storage.RedisStore, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return storage.NewRedisStore(client, zerolog.Nop()), client
}

func TestStores(t *testing.T) {
	stores := map[string]func(t *testing.T) storage.Store{
		"memory": func(t *testing.T) storage.Store { return storage.NewMemoryStore() },
		"redis":  func(t *testing.T) storage.Store { return newRedisStore(t) },
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			t.Run("get set delete", func(t *testing.T) {
				store := newStore(t)
				ctx := context.Background()

				_, err := store.Get(ctx, "missing")
				require.True(t, storage.IsNotFound(err))

				require.NoError(t, store.Set(ctx, "k", "v1"))
				value, err := store.Get(ctx, "k")
				require.NoError(t, err)
				require.Equal(t, "v1", value)

				require.NoError(t, store.Delete(ctx, "k"))
				_, err = store.Get(ctx, "k")
				require.True(t, storage.IsNotFound(err))

				require.NoError(t, store.Delete(ctx, "k"))
			})

			t.Run("watch skips own origin", func(t *testing.T) {
				store := newStore(t)
				var tabA, tabB eventLog
				cancelA := store.Watch("tab-a", tabA.add)
				defer cancelA()
				cancelB := store.Watch("tab-b", tabB.add)
				defer cancelB()

				ctx := storage.WithOrigin(context.Background(), "tab-a")
				require.NoError(t, store.Set(ctx, "sb-ref-auth-token", "one"))
				require.NoError(t, store.Set(ctx, "sb-ref-auth-token", "two"))
				require.NoError(t, store.Delete(ctx, "sb-ref-auth-token"))

				require.Eventually(t, func() bool { return len(tabB.snapshot()) == 3 }, time.Second, 5*time.Millisecond)
				events := tabB.snapshot()
				for _, e := range events {
					require.Equal(t, storage.Event{Key: "sb-ref-auth-token", Origin: "tab-a"}, e)
				}
				require.Empty(t, tabA.snapshot())
			})

			t.Run("cancelled watch receives nothing", func(t *testing.T) {
				store := newStore(t)
				var log eventLog
				cancel := store.Watch("tab-a", log.add)
				cancel()
				cancel()

				require.NoError(t, store.Set(context.Background(), "k", "v"))
				require.Never(t, func() bool { return len(log.snapshot()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
			})
		})
	}
}

func TestPartition(t *testing.T) {
	stores := map[string]func(t *testing.T) storage.Store{
		"memory": func(t *testing.T) storage.Store { return storage.NewMemoryStore() },
		"redis":  func(t *testing.T) storage.Store { return newRedisStore(t) },
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			shared := newStore(t)
			deviceA := storage.Partition(shared, "a")
			deviceB := storage.Partition(shared, "b")
			ctx := context.Background()

			var seenA, seenB eventLog
			defer deviceA.Watch("", seenA.add)()
			defer deviceB.Watch("", seenB.add)()

			require.NoError(t, deviceA.Set(ctx, "token", "A"))

			value, err := deviceA.Get(ctx, "token")
			require.NoError(t, err)
			require.Equal(t, "A", value)

			_, err = deviceB.Get(ctx, "token")
			require.True(t, storage.IsNotFound(err))

			require.Eventually(t, func() bool { return len(seenA.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
			require.Equal(t, []storage.Event{{Key: "token"}}, seenA.snapshot())
			require.Never(t, func() bool { return len(seenB.snapshot()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
		})
	}
}

func TestRedisStore_EventsArePartitionedAndCarryNoValues(t *testing.T) {
	store, client := newRedisStoreWithClient(t)
	ctx := context.Background()

	sub := client.PSubscribe(ctx, "storage:events:*")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, storage.Partition(store, "a").Set(ctx, "sb-ref-auth-token", `{"refresh_token":"RT-secret"}`))

	select {
	case msg := <-sub.Channel():
		require.Equal(t, "storage:events:device:a:", msg.Channel)
		require.NotContains(t, msg.Payload, "RT-secret")
		require.JSONEq(t, `{"key":"device:a:sb-ref-auth-token"}`, msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("no storage event published")
	}
}

func TestMemoryStoreWatchCount(t *testing.T) {
	store := storage.NewMemoryStore()
	cancel := store.Watch("x", func(storage.Event) {})
	require.Equal(t, 1, store.WatchCount())
	cancel()
	require.Equal(t, 0, store.WatchCount())
}
