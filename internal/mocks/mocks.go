package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"support-chat/internal/models"
	"support-chat/internal/repositories"
)

type ChatRepositoryMock struct {
	mock.Mock
}

func (m *ChatRepositoryMock) GetOrCreateActiveChat(ctx context.Context, userID int) (models.Chat, bool, error) {
	args := m.Called(ctx, userID)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Bool(1), args.Error(2)
}

func (m *ChatRepositoryMock) FindActiveChat(ctx context.Context, userID int) (models.Chat, error) {
	args := m.Called(ctx, userID)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatRepositoryMock) GetChat(ctx context.Context, chatID int) (models.Chat, error) {
	args := m.Called(ctx, chatID)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatRepositoryMock) ListChats(ctx context.Context) ([]models.ChatSummary, error) {
	args := m.Called(ctx)
	var list []models.ChatSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.ChatSummary)
	}
	return list, args.Error(1)
}

func (m *ChatRepositoryMock) TouchChat(ctx context.Context, chatID int) error {
	args := m.Called(ctx, chatID)
	return args.Error(0)
}

func (m *ChatRepositoryMock) DeleteChat(ctx context.Context, chatID int) error {
	args := m.Called(ctx, chatID)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, chatID, senderID int, senderRole string, content, fileURL, fileType *string) (models.Message, error) {
	args := m.Called(ctx, chatID, senderID, senderRole, content, fileURL, fileType)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) FindMessagesPage(ctx context.Context, chatID, cursor, limit int) ([]models.Message, error) {
	args := m.Called(ctx, chatID, cursor, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) UpdateContent(ctx context.Context, messageID int, content string) (models.Message, error) {
	args := m.Called(ctx, messageID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) Tombstone(ctx context.Context, messageID int) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) MarkReadExceptSender(ctx context.Context, chatID, readerID int) (int, error) {
	args := m.Called(ctx, chatID, readerID)
	return args.Int(0), args.Error(1)
}

func (m *MessageRepositoryMock) UnreadByChat(ctx context.Context) ([]models.UnreadCount, error) {
	args := m.Called(ctx)
	var counts []models.UnreadCount
	if val := args.Get(0); val != nil {
		counts = val.([]models.UnreadCount)
	}
	return counts, args.Error(1)
}

func (m *MessageRepositoryMock) CountUnreadForUser(ctx context.Context, chatID int) (int, error) {
	args := m.Called(ctx, chatID)
	return args.Int(0), args.Error(1)
}

var _ repositories.ChatRepository = (*ChatRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
