package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/jrsteele09/go-session-relay/internal/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// redisKeyPrefix keeps the shared storage away from other keys in the database.
	redisKeyPrefix = "storage:"
	// redisEventChannel prefixes the channels that carry changes as JSON
	// Events. A partitioned key publishes on redisEventChannel+":device:<id>:",
	// any other key on redisEventChannel+":".
	redisEventChannel = "storage:events"

	subscribeTimeout = 5 * time.Second
)

var (
	_ Store         = (*RedisStore)(nil)
	_ prefixWatcher = (*RedisStore)(nil)
)

// RedisStore is a Store shared by every instance of the service. Changes are
// fanned out over Redis pub/sub so a write on one instance reaches watches on
// all of them.
type RedisStore struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewRedisStore(client *redis.Client, log zerolog.Logger) *RedisStore {
	return &RedisStore{client: client, log: log.With().Str("component", "storage").Logger()}
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, redisKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", apperrors.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("[RedisStore Get] %s: %w", key, err)
	}
	return value, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, redisKeyPrefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("[RedisStore Set] %s: %w", key, err)
	}
	return r.publish(ctx, Event{Key: key, Origin: OriginFrom(ctx)})
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	deleted, err := r.client.Del(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		return fmt.Errorf("[RedisStore Delete] %s: %w", key, err)
	}
	if deleted == 0 {
		return nil
	}
	return r.publish(ctx, Event{Key: key, Origin: OriginFrom(ctx)})
}

func eventChannel(key string) string {
	return redisEventChannel + ":" + partitionPrefix(key)
}

func (r *RedisStore) publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("[RedisStore publish] marshal: %w", err)
	}
	if err := r.client.Publish(ctx, eventChannel(e.Key), payload).Err(); err != nil {
		return fmt.Errorf("[RedisStore publish] %s: %w", e.Key, err)
	}
	return nil
}

// Watch receives the changes of every key. It subscribes before returning,
// so no change published after Watch returns is missed.
func (r *RedisStore) Watch(origin string, fn func(Event)) func() {
	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
	defer cancel()
	return r.watch(ctx, r.client.PSubscribe(ctx, redisEventChannel+":*"), origin, fn)
}

// WatchPrefix receives only the changes under prefix, which must be a
// partition prefix.
func (r *RedisStore) WatchPrefix(prefix, origin string, fn func(Event)) func() {
	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
	defer cancel()
	return r.watch(ctx, r.client.Subscribe(ctx, redisEventChannel+":"+prefix), origin, fn)
}

func (r *RedisStore) watch(ctx context.Context, pubsub *redis.PubSub, origin string, fn func(Event)) func() {
	if _, err := pubsub.Receive(ctx); err != nil {
		r.log.Err(err).Msg("storage watch subscribe failed")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range pubsub.Channel() {
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				r.log.Warn().Err(err).Msg("dropping malformed storage event")
				continue
			}
			if origin != "" && e.Origin == origin {
				continue
			}
			fn(e)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = pubsub.Close()
			<-done
		})
	}
}
