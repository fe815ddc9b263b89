package realtime

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"

	"support-chat/internal/observability"
)

// RedisTransport relays events through Redis pub/sub so that sessions
// on different nodes see the same per-channel stream. Each
// subscription runs one reader goroutine, which preserves delivery
// order within a channel.
type RedisTransport struct {
	rdb *redis.Client
}

// NewRedisTransport connects and pings the Redis instance.
func NewRedisTransport(ctx context.Context, addr, password string) (*RedisTransport, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisTransport{rdb: rdb}, nil
}

// Publish sends an event envelope on the channel.
func (t *RedisTransport) Publish(ctx context.Context, channel, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	body, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		return err
	}
	if err := t.rdb.Publish(ctx, channel, body).Err(); err != nil {
		return err
	}
	observability.IncTransportPublish(event)
	return nil
}

// Subscribe opens a Redis subscription on the channel and starts its
// reader goroutine.
func (t *RedisTransport) Subscribe(channel string) (Subscription, error) {
	pubsub := t.rdb.Subscribe(context.Background(), channel)
	if _, err := pubsub.Receive(context.Background()); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	sub := &redisSubscription{
		pubsub:   pubsub,
		handlers: make(map[string][]Handler),
	}
	go sub.read()
	return sub, nil
}

// Close releases the underlying Redis client.
func (t *RedisTransport) Close() error {
	return t.rdb.Close()
}

type redisSubscription struct {
	pubsub *redis.PubSub

	mu       sync.Mutex
	handlers map[string][]Handler
	closed   bool
}

func (s *redisSubscription) read() {
	for msg := range s.pubsub.Channel() {
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			log.Printf("realtime: bad envelope on %s: %v", msg.Channel, err)
			continue
		}

		s.mu.Lock()
		fns := make([]Handler, len(s.handlers[env.Event]))
		copy(fns, s.handlers[env.Event])
		s.mu.Unlock()

		for _, fn := range fns {
			fn(env.Data)
		}
	}
}

func (s *redisSubscription) Bind(event string, fn Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.handlers[event] = append(s.handlers[event], fn)
}

func (s *redisSubscription) UnbindAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = make(map[string][]Handler)
}

func (s *redisSubscription) Close() error {
	s.mu.Lock()
	s.closed = true
	s.handlers = make(map[string][]Handler)
	s.mu.Unlock()
	return s.pubsub.Close()
}
