package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"support-chat/internal/models"
	"support-chat/internal/repositories"
)

// FakeStore is an in-memory persistence gateway implementing both
// repository interfaces, for tests that exercise protocol behavior
// end to end rather than single calls.
type FakeStore struct {
	mu         sync.Mutex
	nextChatID int
	nextMsgID  int
	clock      int64
	chats      map[int]models.Chat
	messages   map[int]models.Message
}

func NewFakeStore() *FakeStore {
	return &FakeStore{
		chats:    make(map[int]models.Chat),
		messages: make(map[int]models.Message),
	}
}

// tick produces strictly increasing timestamps so updated_at ordering
// is deterministic.
func (s *FakeStore) tick() time.Time {
	s.clock++
	return time.Unix(0, s.clock*int64(time.Millisecond))
}

func (s *FakeStore) GetOrCreateActiveChat(ctx context.Context, userID int) (models.Chat, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, chat := range s.chats {
		if chat.UserID == userID && chat.IsActive {
			return chat, false, nil
		}
	}

	s.nextChatID++
	now := s.tick()
	chat := models.Chat{ID: s.nextChatID, UserID: userID, IsActive: true, CreatedAt: now, UpdatedAt: now}
	s.chats[chat.ID] = chat
	return chat, true, nil
}

func (s *FakeStore) FindActiveChat(ctx context.Context, userID int) (models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, chat := range s.chats {
		if chat.UserID == userID && chat.IsActive {
			return chat, nil
		}
	}
	return models.Chat{}, repositories.ErrChatNotFound
}

func (s *FakeStore) GetChat(ctx context.Context, chatID int) (models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return models.Chat{}, repositories.ErrChatNotFound
	}
	return chat, nil
}

func (s *FakeStore) ListChats(ctx context.Context) ([]models.ChatSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var summaries []models.ChatSummary
	for _, chat := range s.chats {
		summary := models.ChatSummary{Chat: chat}
		if last, ok := s.lastMessageLocked(chat.ID); ok {
			summary.LastMessage = last.Preview()
		}
		summaries = append(summaries, summary)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

func (s *FakeStore) TouchChat(ctx context.Context, chatID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return repositories.ErrChatNotFound
	}
	chat.UpdatedAt = s.tick()
	s.chats[chatID] = chat
	return nil
}

func (s *FakeStore) DeleteChat(ctx context.Context, chatID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[chatID]; !ok {
		return repositories.ErrChatNotFound
	}
	delete(s.chats, chatID)
	for id, msg := range s.messages {
		if msg.ChatID == chatID {
			delete(s.messages, id)
		}
	}
	return nil
}

func (s *FakeStore) CreateMessage(ctx context.Context, chatID, senderID int, senderRole string, content, fileURL, fileType *string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMsgID++
	msg := models.Message{
		ID:         s.nextMsgID,
		ChatID:     chatID,
		SenderID:   senderID,
		SenderRole: senderRole,
		Content:    content,
		FileURL:    fileURL,
		FileType:   fileType,
		CreatedAt:  s.tick(),
	}
	s.messages[msg.ID] = msg
	return msg, nil
}

func (s *FakeStore) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	return msg, nil
}

func (s *FakeStore) FindMessagesPage(ctx context.Context, chatID, cursor, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var msgs []models.Message
	for _, msg := range s.messages {
		if msg.ChatID == chatID && (cursor == 0 || msg.ID < cursor) {
			msgs = append(msgs, msg)
		}
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ID > msgs[j].ID })
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (s *FakeStore) UpdateContent(ctx context.Context, messageID int, content string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	msg.Content = &content
	msg.IsEdited = true
	s.messages[messageID] = msg
	return msg, nil
}

func (s *FakeStore) Tombstone(ctx context.Context, messageID int) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	msg.IsDeleted = true
	msg.Content = nil
	msg.FileURL = nil
	msg.FileType = nil
	s.messages[messageID] = msg
	return msg, nil
}

func (s *FakeStore) MarkReadExceptSender(ctx context.Context, chatID, readerID int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	updated := 0
	for id, msg := range s.messages {
		if msg.ChatID == chatID && !msg.IsRead && msg.SenderID != readerID {
			msg.IsRead = true
			s.messages[id] = msg
			updated++
		}
	}
	return updated, nil
}

func (s *FakeStore) UnreadByChat(ctx context.Context) ([]models.UnreadCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byChat := make(map[int]int)
	for _, msg := range s.messages {
		if !msg.IsRead && msg.SenderRole != models.RoleAdmin {
			byChat[msg.ChatID]++
		}
	}

	var counts []models.UnreadCount
	for chatID, count := range byChat {
		counts = append(counts, models.UnreadCount{ChatID: chatID, Count: count})
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].ChatID < counts[j].ChatID })
	return counts, nil
}

func (s *FakeStore) CountUnreadForUser(ctx context.Context, chatID int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, msg := range s.messages {
		if msg.ChatID == chatID && !msg.IsRead && msg.SenderRole == models.RoleAdmin {
			count++
		}
	}
	return count, nil
}

// MessageCount reports how many rows exist for a chat, tombstones
// included.
func (s *FakeStore) MessageCount(chatID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, msg := range s.messages {
		if msg.ChatID == chatID {
			count++
		}
	}
	return count
}

func (s *FakeStore) lastMessageLocked(chatID int) (models.Message, bool) {
	var last models.Message
	found := false
	for _, msg := range s.messages {
		if msg.ChatID == chatID && msg.ID > last.ID {
			last = msg
			found = true
		}
	}
	return last, found
}

var _ repositories.ChatRepository = (*FakeStore)(nil)
var _ repositories.MessageRepository = (*FakeStore)(nil)
