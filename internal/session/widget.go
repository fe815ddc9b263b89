package session

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"support-chat/internal/auth"
	"support-chat/internal/chat"
	"support-chat/internal/models"
	"support-chat/internal/realtime"
	"support-chat/internal/repositories"
)

// WidgetSnapshot is the opened-widget view pushed after Open.
type WidgetSnapshot struct {
	Chat       models.Chat      `json:"chat"`
	Messages   []models.Message `json:"messages"`
	NextCursor int              `json:"next_cursor"`
	HasMore    bool             `json:"has_more"`
}

// WidgetSession is the single-thread user analogue of AdminSession.
// Closed, it keeps only the unread badge current over a narrow
// new-message binding; opening loads history, moves to the full event
// set and sweeps admin messages read. One subscription either way.
type WidgetSession struct {
	core      *chat.Core
	transport realtime.Transport
	sink      Sink
	user      auth.Identity
	typing    *typingNotifier

	mu          sync.Mutex
	open        bool
	chatID      int
	messages    []models.Message
	cursor      int
	hasMore     bool
	unread      int
	adminTyping bool
	sub         realtime.Subscription
	decay       typingDecayTimer
	closed      bool
}

// NewWidgetSession builds an idle widget session for one user.
func NewWidgetSession(core *chat.Core, transport realtime.Transport, sink Sink, user auth.Identity) *WidgetSession {
	s := &WidgetSession{core: core, transport: transport, sink: sink, user: user}
	s.typing = newTypingNotifier(func(isTyping bool) {
		s.mu.Lock()
		chatID, isOpen := s.chatID, s.open
		s.mu.Unlock()
		if chatID == 0 || !isOpen {
			return
		}
		if err := s.core.SetTyping(context.Background(), s.user, chatID, isTyping); err != nil {
			log.Printf("session: widget typing publish failed: %v", err)
		}
	})
	s.decay.after = typingDecay
	s.decay.clear = func() {
		s.mu.Lock()
		s.adminTyping = false
		s.mu.Unlock()
		s.sink.Send(realtime.EventTyping, models.TypingEvent{IsTyping: false, SenderRole: models.RoleAdmin})
	}
	return s
}

// Start brings up the closed-widget path: unread badge plus the narrow
// new-message binding. First-time users have no chat yet and stay
// dormant until Open creates one.
func (s *WidgetSession) Start(ctx context.Context) error {
	existing, err := s.core.ActiveChat(ctx, s.user)
	if err != nil {
		if errors.Is(err, repositories.ErrChatNotFound) {
			s.sink.Send(FrameUnreadCount, 0)
			return nil
		}
		return err
	}

	unread, err := s.core.UserUnreadCount(ctx, s.user)
	if err != nil {
		return err
	}

	sub, err := s.transport.Subscribe(realtime.ChatChannel(existing.ID))
	if err != nil {
		return err
	}
	sub.Bind(realtime.EventNewMessage, s.onClosedNewMessage)

	s.mu.Lock()
	s.chatID = existing.ID
	s.unread = unread
	s.sub = sub
	s.mu.Unlock()

	s.sink.Send(FrameUnreadCount, unread)
	return nil
}

// Open loads (or lazily creates) the active chat, switches the
// subscription to the full event set and marks admin messages read.
func (s *WidgetSession) Open(ctx context.Context) error {
	page, err := s.core.GetOrCreateActiveChat(ctx, s.user, 0, chat.DefaultPageSize)
	if err != nil {
		return err
	}

	s.mu.Lock()
	prev := s.sub
	s.sub = nil
	s.mu.Unlock()
	if prev != nil {
		prev.UnbindAll()
		_ = prev.Close()
	}

	sub, err := s.transport.Subscribe(realtime.ChatChannel(page.Chat.ID))
	if err != nil {
		return err
	}
	sub.Bind(realtime.EventNewMessage, s.onNewMessage)
	sub.Bind(realtime.EventTyping, s.onTyping)
	sub.Bind(realtime.MessagesReadEventName(models.RoleAdmin), s.onMessagesRead)
	sub.Bind(realtime.EventMessageEdited, s.onMessageEdited)
	sub.Bind(realtime.EventMessageDeleted, s.onMessageDeleted)

	s.mu.Lock()
	s.open = true
	s.chatID = page.Chat.ID
	s.messages = page.Messages
	s.cursor = page.NextCursor
	s.hasMore = page.HasMore
	s.unread = 0
	s.sub = sub
	var sweep bool
	for _, msg := range page.Messages {
		if msg.SenderRole == models.RoleAdmin && !msg.IsRead {
			sweep = true
			break
		}
	}
	s.mu.Unlock()

	s.sink.Send(FrameChatOpened, WidgetSnapshot{
		Chat:       page.Chat,
		Messages:   page.Messages,
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	})

	if sweep {
		if err := s.core.MarkRead(ctx, s.user, page.Chat.ID); err != nil {
			log.Printf("session: widget read sweep failed: %v", err)
		}
	}
	return nil
}

// CloseWidget drops back to the closed path. The channel subscription
// stays; only its bindings narrow, so there is still exactly one.
func (s *WidgetSession) CloseWidget() {
	s.mu.Lock()
	sub := s.sub
	s.open = false
	s.messages = nil
	s.cursor = 0
	s.hasMore = false
	s.adminTyping = false
	s.mu.Unlock()

	s.typing.Stop()
	s.decay.Cancel()
	if sub != nil {
		sub.UnbindAll()
		sub.Bind(realtime.EventNewMessage, s.onClosedNewMessage)
	}
	s.sink.Send(FrameChatClosed, nil)
}

// LoadOlder pulls the page before the stored cursor and prepends it.
func (s *WidgetSession) LoadOlder(ctx context.Context) error {
	s.mu.Lock()
	chatID, cursor, hasMore, isOpen := s.chatID, s.cursor, s.hasMore, s.open
	s.mu.Unlock()
	if chatID == 0 || !isOpen || !hasMore {
		return nil
	}

	page, err := s.core.Messages(ctx, s.user, chatID, cursor, chat.DefaultPageSize)
	if err != nil {
		return err
	}

	s.mu.Lock()
	stale := !s.open || s.chatID != chatID
	if !stale {
		s.messages = append(append([]models.Message{}, page.Messages...), s.messages...)
		s.cursor = page.NextCursor
		s.hasMore = page.HasMore
	}
	s.mu.Unlock()
	if stale {
		// The widget closed or changed threads while the page was in
		// flight; the page has no view to land in.
		return nil
	}

	s.sink.Send(FrameOlderMessages, page)
	return nil
}

// Keystroke feeds the typing debouncer.
func (s *WidgetSession) Keystroke() {
	s.typing.Keystroke()
}

// MarkRead sweeps the chat on behalf of the user.
func (s *WidgetSession) MarkRead(ctx context.Context) error {
	s.mu.Lock()
	chatID := s.chatID
	s.mu.Unlock()
	if chatID == 0 {
		return nil
	}
	return s.core.MarkRead(ctx, s.user, chatID)
}

// Close tears the session down entirely.
func (s *WidgetSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	s.typing.Stop()
	s.decay.Cancel()
	if sub != nil {
		sub.UnbindAll()
		_ = sub.Close()
	}
}

// Unread returns the badge count maintained while the widget is closed.
func (s *WidgetSession) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// Messages returns a copy of the open widget's message state.
func (s *WidgetSession) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// ChatID returns the thread id, zero for first-time users still closed.
func (s *WidgetSession) ChatID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatID
}

// AdminTyping reports the decayed counterpart typing flag.
func (s *WidgetSession) AdminTyping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adminTyping
}

// onClosedNewMessage is the narrow closed-widget binding: admin
// messages only bump the badge, history stays unloaded.
func (s *WidgetSession) onClosedNewMessage(payload json.RawMessage) {
	var msg models.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return
	}
	if msg.SenderRole != models.RoleAdmin {
		return
	}

	s.mu.Lock()
	s.unread++
	unread := s.unread
	s.mu.Unlock()

	s.sink.Send(FrameUnreadCount, unread)
}

func (s *WidgetSession) onNewMessage(payload json.RawMessage) {
	var msg models.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("session: bad new-message payload: %v", err)
		return
	}

	s.mu.Lock()
	if !s.open || s.chatID != msg.ChatID {
		s.mu.Unlock()
		return
	}
	s.messages = append(s.messages, msg)
	s.adminTyping = false
	s.mu.Unlock()

	s.decay.Cancel()
	s.sink.Send(realtime.EventNewMessage, msg)

	// The widget is open, so an incoming admin message is seen at once.
	if msg.SenderRole == models.RoleAdmin && !msg.IsRead {
		if err := s.core.MarkRead(context.Background(), s.user, msg.ChatID); err != nil {
			log.Printf("session: widget read sweep failed: %v", err)
		}
	}
}

func (s *WidgetSession) onTyping(payload json.RawMessage) {
	var event models.TypingEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return
	}
	if event.SenderRole != models.RoleAdmin {
		return
	}

	s.mu.Lock()
	s.adminTyping = event.IsTyping
	s.mu.Unlock()

	if event.IsTyping {
		s.decay.Refresh()
	} else {
		s.decay.Cancel()
	}
	s.sink.Send(realtime.EventTyping, event)
}

func (s *WidgetSession) onMessagesRead(payload json.RawMessage) {
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

	s.sink.Send(realtime.MessagesReadEventName(models.RoleAdmin), event)
}

func (s *WidgetSession) onMessageEdited(payload json.RawMessage) {
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

func (s *WidgetSession) onMessageDeleted(payload json.RawMessage) {
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
