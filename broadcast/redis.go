package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/go-session-relay/internal/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	redisChannelPrefix = "broadcast:"
	subscribeTimeout   = 5 * time.Second
)

var _ Bus = (*RedisBus)(nil)

// RedisBus carries broadcasts over Redis pub/sub so views connected to
// different instances of the service still hear each other.
type RedisBus struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewRedisBus(client *redis.Client, log zerolog.Logger) *RedisBus {
	return &RedisBus{client: client, log: log.With().Str("component", "broadcast").Logger()}
}

func (b *RedisBus) Open(name string) Channel {
	return &redisChannel{bus: b, name: name, sender: uuid.NewString(), subs: make(map[*redis.PubSub]chan struct{})}
}

// envelope tags a message with the handle that posted it.
type envelope struct {
	Sender  string  `json:"sender"`
	Message Message `json:"message"`
}

type redisChannel struct {
	bus    *RedisBus
	name   string
	sender string

	mu     sync.Mutex
	subs   map[*redis.PubSub]chan struct{}
	closed bool
}

func (c *redisChannel) Name() string {
	return c.name
}

func (c *redisChannel) Post(ctx context.Context, msg Message) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return apperrors.ErrChannelClosed
	}

	payload, err := json.Marshal(envelope{Sender: c.sender, Message: msg})
	if err != nil {
		return fmt.Errorf("[RedisBus Post] marshal: %w", err)
	}
	if err := c.bus.client.Publish(ctx, redisChannelPrefix+c.name, payload).Err(); err != nil {
		return fmt.Errorf("[RedisBus Post] %s: %w", c.name, err)
	}
	return nil
}

func (c *redisChannel) Subscribe(fn func(Message)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return func() {}
	}

	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
	defer cancel()
	pubsub := c.bus.client.Subscribe(ctx, redisChannelPrefix+c.name)
	if _, err := pubsub.Receive(ctx); err != nil {
		c.bus.log.Err(err).Str("channel", c.name).Msg("broadcast subscribe failed")
	}

	done := make(chan struct{})
	c.subs[pubsub] = done
	go func() {
		defer close(done)
		for msg := range pubsub.Channel() {
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				c.bus.log.Warn().Err(err).Str("channel", c.name).Msg("dropping malformed broadcast")
				continue
			}
			if env.Sender == c.sender {
				continue
			}
			fn(env.Message)
		}
	}()

	return func() {
		c.mu.Lock()
		_, ok := c.subs[pubsub]
		delete(c.subs, pubsub)
		c.mu.Unlock()
		if ok {
			_ = pubsub.Close()
			<-done
		}
	}
}

func (c *redisChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	c.subs = make(map[*redis.PubSub]chan struct{})
	c.mu.Unlock()

	for pubsub, done := range subs {
		_ = pubsub.Close()
		<-done
	}
	return nil
}
