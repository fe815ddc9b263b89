package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"support-chat/internal/observability"
)

// Hub is the in-process Transport: channels are maps of live
// subscriptions guarded by a RWMutex, and publishes dispatch
// synchronously in subscription order. Single-node deployments and
// tests use it directly; multi-node deployments swap in RedisTransport.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*hubSubscription]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{channels: make(map[string]map[*hubSubscription]bool)}
}

// Publish marshals the payload and delivers it to every current
// subscriber of the channel.
func (h *Hub) Publish(ctx context.Context, channel, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	h.mu.RLock()
	subs := make([]*hubSubscription, 0, len(h.channels[channel]))
	for sub := range h.channels[channel] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		sub.dispatch(event, data)
	}
	observability.IncTransportPublish(event)
	return nil
}

// Subscribe attaches a new subscription to the channel.
func (h *Hub) Subscribe(channel string) (Subscription, error) {
	sub := &hubSubscription{
		hub:      h,
		channel:  channel,
		handlers: make(map[string][]Handler),
	}

	h.mu.Lock()
	if _, ok := h.channels[channel]; !ok {
		h.channels[channel] = make(map[*hubSubscription]bool)
	}
	h.channels[channel][sub] = true
	h.mu.Unlock()
	return sub, nil
}

func (h *Hub) remove(sub *hubSubscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.channels[sub.channel]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.channels, sub.channel)
		}
	}
}

// SubscriberCount reports live subscriptions on a channel.
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

type hubSubscription struct {
	hub     *Hub
	channel string

	mu       sync.Mutex
	handlers map[string][]Handler
	closed   bool
}

func (s *hubSubscription) Bind(event string, fn Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.handlers[event] = append(s.handlers[event], fn)
}

func (s *hubSubscription) UnbindAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = make(map[string][]Handler)
}

func (s *hubSubscription) Close() error {
	s.mu.Lock()
	s.closed = true
	s.handlers = make(map[string][]Handler)
	s.mu.Unlock()

	s.hub.remove(s)
	return nil
}

func (s *hubSubscription) dispatch(event string, data json.RawMessage) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	fns := make([]Handler, len(s.handlers[event]))
	copy(fns, s.handlers[event])
	s.mu.Unlock()

	for _, fn := range fns {
		fn(data)
	}
}
