package chat

import (
	"context"
	"log"

	"support-chat/internal/auth"
	"support-chat/internal/models"
	"support-chat/internal/realtime"
	"support-chat/internal/repositories"
)

// DefaultPageSize is the message page size when the client sends none.
const DefaultPageSize = 20

// MessagePage is one pull-paginated slice of a chat's history, oldest
// first. NextCursor is the id of the oldest message in the page and is
// passed back to fetch the page before it; zero means nothing fetched.
type MessagePage struct {
	Messages   []models.Message `json:"messages"`
	NextCursor int              `json:"next_cursor"`
	HasMore    bool             `json:"has_more"`
}

// ChatPage is a chat together with its newest message page.
type ChatPage struct {
	Chat models.Chat `json:"chat"`
	MessagePage
}

// Core is the chat synchronization protocol: it validates and writes
// through the persistence gateway, then announces the change on the
// realtime transport. Persistence is the source of truth; publishes
// after a successful write are best effort and never roll it back.
type Core struct {
	chats     repositories.ChatRepository
	messages  repositories.MessageRepository
	transport realtime.Transport
}

// NewCore wires the core to its gateways.
func NewCore(chats repositories.ChatRepository, messages repositories.MessageRepository, transport realtime.Transport) *Core {
	return &Core{chats: chats, messages: messages, transport: transport}
}

// GetOrCreateActiveChat returns the user's active chat and its newest
// message page, creating the chat on first contact. Creation is
// announced on admin-chats so every connected console discovers the
// thread without polling. Idempotent under concurrent first sends.
func (c *Core) GetOrCreateActiveChat(ctx context.Context, user auth.Identity, cursor, limit int) (ChatPage, error) {
	if user.Role != models.RoleUser {
		return ChatPage{}, ErrNotAllowed
	}

	chat, created, err := c.chats.GetOrCreateActiveChat(ctx, user.ID)
	if err != nil {
		return ChatPage{}, err
	}
	if created {
		c.publish(ctx, realtime.ChannelAdminChats, realtime.EventNewChat, chat)
	}

	page, err := c.page(ctx, chat.ID, cursor, limit)
	if err != nil {
		return ChatPage{}, err
	}
	return ChatPage{Chat: chat, MessagePage: page}, nil
}

// Messages pulls one older page of a chat's history. Chat owner or
// admin only.
func (c *Core) Messages(ctx context.Context, actor auth.Identity, chatID, cursor, limit int) (MessagePage, error) {
	if _, err := c.authorizeChat(ctx, actor, chatID); err != nil {
		return MessagePage{}, err
	}
	return c.page(ctx, chatID, cursor, limit)
}

// ListChats returns the admin console's chat list, newest activity
// first, each entry carrying a derived last-message preview.
func (c *Core) ListChats(ctx context.Context, actor auth.Identity) ([]models.ChatSummary, error) {
	if !actor.IsAdmin() {
		return nil, ErrNotAllowed
	}
	return c.chats.ListChats(ctx)
}

// SendMessage persists a message, bumps the chat's activity timestamp
// and announces it on the chat channel plus the shared admin channel.
func (c *Core) SendMessage(ctx context.Context, actor auth.Identity, chatID int, content, fileURL, fileType *string) (models.Message, error) {
	chat, err := c.authorizeChat(ctx, actor, chatID)
	if err != nil {
		return models.Message{}, err
	}

	draft := models.Message{Content: content, FileURL: fileURL, FileType: fileType}
	if !draft.HasBody() {
		return models.Message{}, ErrEmptyMessage
	}

	msg, err := c.messages.CreateMessage(ctx, chat.ID, actor.ID, actor.Role, content, fileURL, fileType)
	if err != nil {
		return models.Message{}, err
	}
	if err := c.chats.TouchChat(ctx, chat.ID); err != nil {
		log.Printf("chat: touch chat %d failed: %v", chat.ID, err)
	}

	c.publish(ctx, realtime.ChatChannel(chat.ID), realtime.EventNewMessage, msg)
	c.publish(ctx, realtime.ChannelAdminChats, realtime.EventNewChatActivity,
		models.ChatActivityEvent{ChatID: chat.ID, Message: msg})
	return msg, nil
}

// EditMessage rewrites the content of a message. Only the original
// sender or an admin may edit, and tombstoned messages stay closed.
func (c *Core) EditMessage(ctx context.Context, actor auth.Identity, messageID int, content string) (models.Message, error) {
	msg, err := c.messages.GetMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.SenderID != actor.ID && !actor.IsAdmin() {
		return models.Message{}, ErrNotAllowed
	}
	if msg.IsDeleted || !msg.HasBody() {
		return models.Message{}, ErrMessageDeleted
	}

	updated, err := c.messages.UpdateContent(ctx, messageID, content)
	if err != nil {
		return models.Message{}, err
	}

	c.publish(ctx, realtime.ChatChannel(updated.ChatID), realtime.EventMessageEdited, updated)
	return updated, nil
}

// DeleteMessage tombstones a message, keeping its row and id so
// already-rendered clients can blank it in place. Deleting an already
// deleted message is a no-op with the same final state.
func (c *Core) DeleteMessage(ctx context.Context, actor auth.Identity, messageID int) (models.Message, error) {
	msg, err := c.messages.GetMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.SenderID != actor.ID && !actor.IsAdmin() {
		return models.Message{}, ErrNotAllowed
	}

	deleted, err := c.messages.Tombstone(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}

	c.publish(ctx, realtime.ChatChannel(deleted.ChatID), realtime.EventMessageDeleted,
		models.MessageDeletedEvent{MessageID: deleted.ID})
	return deleted, nil
}

// MarkRead sweeps every unread message in the chat not authored by the
// reader and tells the counterpart which side read.
func (c *Core) MarkRead(ctx context.Context, actor auth.Identity, chatID int) error {
	chat, err := c.authorizeChat(ctx, actor, chatID)
	if err != nil {
		return err
	}

	if _, err := c.messages.MarkReadExceptSender(ctx, chat.ID, actor.ID); err != nil {
		return err
	}

	c.publish(ctx, realtime.ChatChannel(chat.ID), realtime.MessagesReadEventName(actor.Role),
		models.MessagesReadEvent{ChatID: chat.ID, ReaderID: actor.ID})
	return nil
}

// SetTyping relays the ephemeral typing hint. Nothing is persisted;
// the receiver assigns the boolean and decays it on its own timer.
func (c *Core) SetTyping(ctx context.Context, actor auth.Identity, chatID int, isTyping bool) error {
	chat, err := c.authorizeChat(ctx, actor, chatID)
	if err != nil {
		return err
	}
	return c.transport.Publish(ctx, realtime.ChatChannel(chat.ID), realtime.EventTyping,
		models.TypingEvent{IsTyping: isTyping, SenderRole: actor.Role})
}

// DeleteChat removes a chat and all its messages. Admin only. Every
// admin session learns of it on admin-chats and evicts the thread.
func (c *Core) DeleteChat(ctx context.Context, actor auth.Identity, chatID int) error {
	if !actor.IsAdmin() {
		return ErrNotAllowed
	}
	if err := c.chats.DeleteChat(ctx, chatID); err != nil {
		return err
	}

	c.publish(ctx, realtime.ChannelAdminChats, realtime.EventChatDeleted,
		models.ChatDeletedEvent{ChatID: chatID})
	return nil
}

// AdminUnreadCounts snapshots unread user-authored messages per chat.
// Deltas after the snapshot arrive as new-message and read events the
// console folds in itself.
func (c *Core) AdminUnreadCounts(ctx context.Context, actor auth.Identity) (map[int]int, error) {
	if !actor.IsAdmin() {
		return nil, ErrNotAllowed
	}

	rows, err := c.messages.UnreadByChat(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[int]int, len(rows))
	for _, row := range rows {
		counts[row.ChatID] = row.Count
	}
	return counts, nil
}

// ActiveChat finds the user's active chat without creating one.
// Returns repositories.ErrChatNotFound for first-time users.
func (c *Core) ActiveChat(ctx context.Context, user auth.Identity) (models.Chat, error) {
	return c.chats.FindActiveChat(ctx, user.ID)
}

// UserUnreadCount counts unread admin messages in the caller's active
// chat. Zero when the user has no chat yet.
func (c *Core) UserUnreadCount(ctx context.Context, user auth.Identity) (int, error) {
	chat, err := c.chats.FindActiveChat(ctx, user.ID)
	if err != nil {
		if err == repositories.ErrChatNotFound {
			return 0, nil
		}
		return 0, err
	}
	return c.messages.CountUnreadForUser(ctx, chat.ID)
}

func (c *Core) authorizeChat(ctx context.Context, actor auth.Identity, chatID int) (models.Chat, error) {
	chat, err := c.chats.GetChat(ctx, chatID)
	if err != nil {
		return models.Chat{}, err
	}
	if !actor.IsAdmin() && chat.UserID != actor.ID {
		return models.Chat{}, ErrNotAllowed
	}
	return chat, nil
}

func (c *Core) page(ctx context.Context, chatID, cursor, limit int) (MessagePage, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	// One extra row detects whether an older page remains.
	msgs, err := c.messages.FindMessagesPage(ctx, chatID, cursor, limit+1)
	if err != nil {
		return MessagePage{}, err
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}

	nextCursor := 0
	if len(msgs) > 0 {
		nextCursor = msgs[len(msgs)-1].ID
	}

	// Fetched newest first; displayed oldest first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	return MessagePage{Messages: msgs, NextCursor: nextCursor, HasMore: hasMore}, nil
}

func (c *Core) publish(ctx context.Context, channel, event string, payload any) {
	if err := c.transport.Publish(ctx, channel, event, payload); err != nil {
		log.Printf("chat: publish %s on %s failed: %v", event, channel, err)
	}
}
