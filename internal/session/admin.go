package session

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"

	"support-chat/internal/auth"
	"support-chat/internal/chat"
	"support-chat/internal/models"
	"support-chat/internal/realtime"
)

// ChatItem is one row of the admin console's chat list: the chat plus
// the display-only projection the console keeps patched from pushes.
type ChatItem struct {
	models.Chat
	LastMessage string `json:"last_message"`
	Unread      int    `json:"unread"`
}

// AdminSnapshot is the opened-chat view pushed after EnterChat.
type AdminSnapshot struct {
	ChatID     int              `json:"chat_id"`
	Messages   []models.Message `json:"messages"`
	NextCursor int              `json:"next_cursor"`
	HasMore    bool             `json:"has_more"`
}

// AdminSession is the per-admin state machine: one chat list fed by
// the shared admin channel, plus at most one open chat fed by that
// chat's own channel. It holds exactly one chat-channel subscription
// at a time; entering a chat tears the previous one down first.
type AdminSession struct {
	core      *chat.Core
	transport realtime.Transport
	sink      Sink
	admin     auth.Identity
	typing    *typingNotifier

	mu           sync.Mutex
	chats        []ChatItem
	activeChatID int
	messages     []models.Message
	cursor       int
	hasMore      bool
	otherTyping  bool
	adminSub     realtime.Subscription
	chatSub      realtime.Subscription
	decay        typingDecayTimer
	closed       bool
}

// NewAdminSession builds an idle session for one admin identity.
func NewAdminSession(core *chat.Core, transport realtime.Transport, sink Sink, admin auth.Identity) *AdminSession {
	s := &AdminSession{core: core, transport: transport, sink: sink, admin: admin}
	s.typing = newTypingNotifier(func(isTyping bool) {
		s.mu.Lock()
		chatID := s.activeChatID
		s.mu.Unlock()
		if chatID == 0 {
			return
		}
		if err := s.core.SetTyping(context.Background(), s.admin, chatID, isTyping); err != nil {
			log.Printf("session: admin typing publish failed: %v", err)
		}
	})
	s.decay.after = typingDecay
	s.decay.clear = func() {
		s.mu.Lock()
		s.otherTyping = false
		s.mu.Unlock()
		s.sink.Send(realtime.EventTyping, models.TypingEvent{IsTyping: false, SenderRole: models.RoleUser})
	}
	return s
}

// Start loads the list and unread snapshot, then subscribes to the
// shared admin channel. Pushes only patch what this cold fetch can
// always rebuild.
func (s *AdminSession) Start(ctx context.Context) error {
	if err := s.refreshChatList(ctx); err != nil {
		return err
	}

	sub, err := s.transport.Subscribe(realtime.ChannelAdminChats)
	if err != nil {
		return err
	}
	sub.Bind(realtime.EventNewChat, s.onNewChat)
	sub.Bind(realtime.EventNewChatActivity, s.onChatActivity)
	sub.Bind(realtime.EventChatDeleted, s.onChatDeleted)

	s.mu.Lock()
	s.adminSub = sub
	s.mu.Unlock()
	return nil
}

// EnterChat opens a chat: loads its first page, moves the single
// chat-channel subscription over and zeroes the list's unread badge.
// Selecting the already-open chat is a no-op. The previous chat's
// state is cleared together with its subscription, so a failed load
// leaves the session with no open chat rather than one that no longer
// receives events.
func (s *AdminSession) EnterChat(ctx context.Context, chatID int) error {
	s.mu.Lock()
	if s.activeChatID == chatID {
		s.mu.Unlock()
		return nil
	}
	prev := s.chatSub
	s.chatSub = nil
	s.activeChatID = 0
	s.messages = nil
	s.cursor = 0
	s.hasMore = false
	s.otherTyping = false
	s.mu.Unlock()

	s.decay.Cancel()
	if prev != nil {
		prev.UnbindAll()
		_ = prev.Close()
	}

	page, err := s.core.Messages(ctx, s.admin, chatID, 0, chat.DefaultPageSize)
	if err != nil {
		return err
	}

	sub, err := s.transport.Subscribe(realtime.ChatChannel(chatID))
	if err != nil {
		return err
	}
	sub.Bind(realtime.EventNewMessage, s.onNewMessage)
	sub.Bind(realtime.EventTyping, s.onTyping)
	sub.Bind(realtime.MessagesReadEventName(models.RoleUser), s.onMessagesRead)
	sub.Bind(realtime.EventMessageEdited, s.onMessageEdited)
	sub.Bind(realtime.EventMessageDeleted, s.onMessageDeleted)

	s.mu.Lock()
	s.activeChatID = chatID
	s.messages = page.Messages
	s.cursor = page.NextCursor
	s.hasMore = page.HasMore
	s.otherTyping = false
	s.chatSub = sub
	for i := range s.chats {
		if s.chats[i].ID == chatID {
			s.chats[i].Unread = 0
		}
	}
	var sweep bool
	if n := len(page.Messages); n > 0 {
		last := page.Messages[n-1]
		sweep = last.SenderRole == models.RoleUser && !last.IsRead
	}
	s.mu.Unlock()

	s.sink.Send(FrameChatOpened, AdminSnapshot{
		ChatID:     chatID,
		Messages:   page.Messages,
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	})

	if sweep {
		if err := s.core.MarkRead(ctx, s.admin, chatID); err != nil {
			log.Printf("session: admin read sweep failed: %v", err)
		}
	}
	return nil
}

// LeaveChat closes the open chat and its subscription.
func (s *AdminSession) LeaveChat() {
	s.mu.Lock()
	sub := s.chatSub
	s.chatSub = nil
	s.activeChatID = 0
	s.messages = nil
	s.cursor = 0
	s.hasMore = false
	s.otherTyping = false
	s.mu.Unlock()

	s.decay.Cancel()
	if sub != nil {
		sub.UnbindAll()
		_ = sub.Close()
	}
	s.sink.Send(FrameChatClosed, nil)
}

// LoadOlder pulls the page before the stored cursor and prepends it.
func (s *AdminSession) LoadOlder(ctx context.Context) error {
	s.mu.Lock()
	chatID, cursor, hasMore := s.activeChatID, s.cursor, s.hasMore
	s.mu.Unlock()
	if chatID == 0 || !hasMore {
		return nil
	}

	page, err := s.core.Messages(ctx, s.admin, chatID, cursor, chat.DefaultPageSize)
	if err != nil {
		return err
	}

	s.mu.Lock()
	stale := s.activeChatID != chatID
	if !stale {
		s.messages = append(append([]models.Message{}, page.Messages...), s.messages...)
		s.cursor = page.NextCursor
		s.hasMore = page.HasMore
	}
	s.mu.Unlock()
	if stale {
		// The open chat changed while the page was in flight; the page
		// belongs to a chat this session no longer shows.
		return nil
	}

	s.sink.Send(FrameOlderMessages, page)
	return nil
}

// Keystroke feeds the typing debouncer for the open chat.
func (s *AdminSession) Keystroke() {
	s.typing.Keystroke()
}

// MarkRead sweeps the open chat on behalf of the admin.
func (s *AdminSession) MarkRead(ctx context.Context) error {
	s.mu.Lock()
	chatID := s.activeChatID
	s.mu.Unlock()
	if chatID == 0 {
		return nil
	}
	return s.core.MarkRead(ctx, s.admin, chatID)
}

// Close tears down every subscription. A session that skips this leaks
// a subscription that would double-apply future events.
func (s *AdminSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	adminSub, chatSub := s.adminSub, s.chatSub
	s.adminSub, s.chatSub = nil, nil
	s.mu.Unlock()

	s.typing.Stop()
	s.decay.Cancel()
	for _, sub := range []realtime.Subscription{adminSub, chatSub} {
		if sub != nil {
			sub.UnbindAll()
			_ = sub.Close()
		}
	}
}

// Chats returns a copy of the current list state.
func (s *AdminSession) Chats() []ChatItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChatItem, len(s.chats))
	copy(out, s.chats)
	return out
}

// Messages returns a copy of the open chat's message state.
func (s *AdminSession) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// ActiveChatID returns the open chat id, zero when none.
func (s *AdminSession) ActiveChatID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeChatID
}

// CounterpartTyping reports the decayed typing flag for the open chat.
func (s *AdminSession) CounterpartTyping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.otherTyping
}

func (s *AdminSession) refreshChatList(ctx context.Context) error {
	summaries, err := s.core.ListChats(ctx, s.admin)
	if err != nil {
		return err
	}
	counts, err := s.core.AdminUnreadCounts(ctx, s.admin)
	if err != nil {
		return err
	}

	items := make([]ChatItem, 0, len(summaries))
	for _, summary := range summaries {
		items = append(items, ChatItem{
			Chat:        summary.Chat,
			LastMessage: summary.LastMessage,
			Unread:      counts[summary.ID],
		})
	}

	s.mu.Lock()
	active := s.activeChatID
	for i := range items {
		if items[i].ID == active {
			items[i].Unread = 0
		}
	}
	s.chats = items
	snapshot := make([]ChatItem, len(items))
	copy(snapshot, items)
	s.mu.Unlock()

	s.sink.Send(FrameChatList, snapshot)
	return nil
}

// onNewChat refetches the list; the push is a wake-up, storage is the
// truth.
func (s *AdminSession) onNewChat(payload json.RawMessage) {
	if err := s.refreshChatList(context.Background()); err != nil {
		log.Printf("session: chat list refresh failed: %v", err)
	}
}

func (s *AdminSession) onChatActivity(payload json.RawMessage) {
	var event models.ChatActivityEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		log.Printf("session: bad new-chat-activity payload: %v", err)
		return
	}

	s.mu.Lock()
	found := false
	for i := range s.chats {
		if s.chats[i].ID == event.ChatID {
			s.chats[i].LastMessage = event.Message.Preview()
			s.chats[i].UpdatedAt = event.Message.CreatedAt
			if event.ChatID != s.activeChatID && event.Message.SenderRole == models.RoleUser {
				s.chats[i].Unread++
			}
			found = true
			break
		}
	}
	if !found {
		// Activity can outrun the new-chat refetch; show a stub row
		// until the next cold fetch fills it in.
		item := ChatItem{LastMessage: event.Message.Preview()}
		item.ID = event.ChatID
		item.UserID = event.Message.SenderID
		item.IsActive = true
		item.UpdatedAt = event.Message.CreatedAt
		if event.Message.SenderRole == models.RoleUser {
			item.Unread = 1
		}
		s.chats = append(s.chats, item)
	}
	sort.SliceStable(s.chats, func(i, j int) bool {
		return s.chats[i].UpdatedAt.After(s.chats[j].UpdatedAt)
	})
	s.mu.Unlock()

	s.sink.Send(realtime.EventNewChatActivity, event)
}

func (s *AdminSession) onChatDeleted(payload json.RawMessage) {
	var event models.ChatDeletedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		log.Printf("session: bad chat-deleted payload: %v", err)
		return
	}

	s.mu.Lock()
	kept := s.chats[:0]
	for _, item := range s.chats {
		if item.ID != event.ChatID {
			kept = append(kept, item)
		}
	}
	s.chats = kept
	wasActive := s.activeChatID == event.ChatID
	s.mu.Unlock()

	if wasActive {
		s.LeaveChat()
	}
	s.sink.Send(realtime.EventChatDeleted, event)
}

func (s *AdminSession) onNewMessage(payload json.RawMessage) {
	var msg models.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("session: bad new-message payload: %v", err)
		return
	}

	s.mu.Lock()
	if s.activeChatID != msg.ChatID {
		s.mu.Unlock()
		return
	}
	s.messages = append(s.messages, msg)
	s.otherTyping = false
	s.mu.Unlock()

	s.decay.Cancel()
	s.sink.Send(realtime.EventNewMessage, msg)

	// Auto read-sweep: the open chat's newest message is user-authored
	// and unread, so the admin is looking at it right now.
	if msg.SenderRole == models.RoleUser && !msg.IsRead {
		if err := s.core.MarkRead(context.Background(), s.admin, msg.ChatID); err != nil {
			log.Printf("session: admin read sweep failed: %v", err)
		}
	}
}

func (s *AdminSession) onTyping(payload json.RawMessage) {
	var event models.TypingEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return
	}
	if event.SenderRole != models.RoleUser {
		return
	}

	s.mu.Lock()
	s.otherTyping = event.IsTyping
	s.mu.Unlock()

	if event.IsTyping {
		s.decay.Refresh()
	} else {
		s.decay.Cancel()
	}
	s.sink.Send(realtime.EventTyping, event)
}

func (s *AdminSession) onMessagesRead(payload json.RawMessage) {
	var event models.MessagesReadEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return
	}

	s.mu.Lock()
	for i := range s.messages {
		if s.messages[i].SenderID != event.ReaderID {
			s.messages[i].IsRead = true
		}
	}
	s.mu.Unlock()

	s.sink.Send(realtime.MessagesReadEventName(models.RoleUser), event)
}

func (s *AdminSession) onMessageEdited(payload json.RawMessage) {
	var msg models.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return
	}

	s.mu.Lock()
	for i := range s.messages {
		if s.messages[i].ID == msg.ID {
			s.messages[i] = msg
			break
		}
	}
	s.mu.Unlock()

	s.sink.Send(realtime.EventMessageEdited, msg)
}

func (s *AdminSession) onMessageDeleted(payload json.RawMessage) {
	var event models.MessageDeletedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return
	}

	s.mu.Lock()
	for i := range s.messages {
		if s.messages[i].ID == event.MessageID {
			s.messages[i].IsDeleted = true
			s.messages[i].Content = nil
			s.messages[i].FileURL = nil
			s.messages[i].FileType = nil
			break
		}
	}
	s.mu.Unlock()

	s.sink.Send(realtime.EventMessageDeleted, event)
}
