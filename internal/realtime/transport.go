package realtime

import (
	"context"
	"encoding/json"
	"fmt"
)

// Channel and event names shared by publishers and subscribers.
// admin-chats fans out to every admin console; chat-{id} carries the
// per-thread stream for both parties.
const (
	ChannelAdminChats = "admin-chats"

	EventNewChat         = "new-chat"
	EventNewChatActivity = "new-chat-activity"
	EventChatDeleted     = "chat-deleted"

	EventNewMessage     = "new-message"
	EventTyping         = "typing"
	EventMessageEdited  = "message-edited"
	EventMessageDeleted = "message-deleted"
)

// ChatChannel returns the per-thread channel name for a chat.
func ChatChannel(chatID int) string {
	return fmt.Sprintf("chat-%d", chatID)
}

// MessagesReadEventName returns the role-specific read-receipt event.
func MessagesReadEventName(readerRole string) string {
	return "messages-read-by-" + readerRole
}

// Handler consumes one event payload. Handlers run on the delivery
// goroutine of their channel and must not block.
type Handler func(payload json.RawMessage)

// Subscription is a live attachment to one channel. Bind registers a
// handler for an event name; UnbindAll drops handlers without leaving
// the channel; Close leaves the channel. A closed subscription
// delivers nothing.
type Subscription interface {
	Bind(event string, fn Handler)
	UnbindAll()
	Close() error
}

// Transport is the pub/sub relay the chat core and the session
// controllers coordinate through. Delivery is at-least-once and
// ordered per channel for each live subscriber; durability comes from
// storage, not from the transport.
type Transport interface {
	Publish(ctx context.Context, channel, event string, payload any) error
	Subscribe(channel string) (Subscription, error)
}

// envelope is the wire form used by networked transports.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}
