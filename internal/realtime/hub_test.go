package realtime

import (
	"context"
	"encoding/json"
	"testing"
)

func TestHubSubscribeAndClose(t *testing.T) {
	hub := NewHub()

	sub, err := hub.Subscribe("chat-1")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if hub.SubscriberCount("chat-1") != 1 {
		t.Fatalf("expected one subscriber")
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if hub.SubscriberCount("chat-1") != 0 {
		t.Fatalf("expected channel to be removed")
	}
}

func TestHubPublishReachesBoundHandlers(t *testing.T) {
	hub := NewHub()
	sub, _ := hub.Subscribe("chat-1")

	var got []string
	sub.Bind("new-message", func(payload json.RawMessage) {
		var text string
		_ = json.Unmarshal(payload, &text)
		got = append(got, text)
	})

	if err := hub.Publish(context.Background(), "chat-1", "new-message", "a"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	_ = hub.Publish(context.Background(), "chat-1", "new-message", "b")
	_ = hub.Publish(context.Background(), "chat-1", "other-event", "c")
	_ = hub.Publish(context.Background(), "chat-2", "new-message", "d")

	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("expected ordered delivery of a,b; got %v", got)
	}
}

func TestHubUnbindAllStopsDelivery(t *testing.T) {
	hub := NewHub()
	sub, _ := hub.Subscribe("chat-1")

	calls := 0
	sub.Bind("typing", func(json.RawMessage) { calls++ })

	_ = hub.Publish(context.Background(), "chat-1", "typing", true)
	sub.UnbindAll()
	_ = hub.Publish(context.Background(), "chat-1", "typing", true)

	if calls != 1 {
		t.Fatalf("expected one delivery, got %d", calls)
	}
}

func TestHubClosedSubscriptionDeliversNothing(t *testing.T) {
	hub := NewHub()
	sub, _ := hub.Subscribe("chat-1")
	other, _ := hub.Subscribe("chat-1")

	calls := 0
	sub.Bind("new-message", func(json.RawMessage) { calls++ })
	other.Bind("new-message", func(json.RawMessage) { calls++ })

	_ = sub.Close()
	_ = hub.Publish(context.Background(), "chat-1", "new-message", "x")

	if calls != 1 {
		t.Fatalf("expected only the live subscription to receive, got %d", calls)
	}
}
