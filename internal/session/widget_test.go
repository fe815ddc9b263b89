package session

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"support-chat/internal/chat"
	"support-chat/internal/mocks"
	"support-chat/internal/models"
	"support-chat/internal/realtime"
	"support-chat/internal/repositories"
)

func TestWidgetFirstTimeUserStaysDormant(t *testing.T) {
	core, _, hub := newSessionFixture()

	sink := &recordingSink{}
	sess := NewWidgetSession(core, hub, sink, testUser)
	require.NoError(t, sess.Start(context.Background()))
	defer sess.Close()

	assert.Zero(t, sess.ChatID())
	assert.Zero(t, sess.Unread())

	badge, ok := sink.last(FrameUnreadCount)
	require.True(t, ok)
	assert.Equal(t, 0, badge)
}

func TestWidgetOpenCreatesChatLazily(t *testing.T) {
	core, _, hub := newSessionFixture()
	announced := 0
	sub, err := hub.Subscribe(realtime.ChannelAdminChats)
	require.NoError(t, err)
	defer sub.Close()
	sub.Bind(realtime.EventNewChat, func(payload json.RawMessage) { announced++ })

	sink := &recordingSink{}
	sess := NewWidgetSession(core, hub, sink, testUser)
	require.NoError(t, sess.Start(context.Background()))
	defer sess.Close()

	require.NoError(t, sess.Open(context.Background()))

	require.NotZero(t, sess.ChatID())
	assert.Equal(t, 1, announced)
	assert.Equal(t, 1, hub.SubscriberCount(realtime.ChatChannel(sess.ChatID())))
	assert.Equal(t, 1, sink.count(FrameChatOpened))
}

func TestWidgetClosedBadgeCountsAdminMessagesOnly(t *testing.T) {
	core, _, hub := newSessionFixture()
	page, err := core.GetOrCreateActiveChat(context.Background(), testUser, 0, 20)
	require.NoError(t, err)

	sink := &recordingSink{}
	sess := NewWidgetSession(core, hub, sink, testUser)
	require.NoError(t, sess.Start(context.Background()))
	defer sess.Close()
	require.Equal(t, page.Chat.ID, sess.ChatID())

	_, err = core.SendMessage(context.Background(), testAdmin, page.Chat.ID, strptr("hi there"), nil, nil)
	require.NoError(t, err)
	_, err = core.SendMessage(context.Background(), testAdmin, page.Chat.ID, strptr("still around?"), nil, nil)
	require.NoError(t, err)
	// The user's own message from another tab never bumps the badge.
	_, err = core.SendMessage(context.Background(), testUser, page.Chat.ID, strptr("yes"), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, sess.Unread())
	badge, ok := sink.last(FrameUnreadCount)
	require.True(t, ok)
	assert.Equal(t, 2, badge)
	assert.Empty(t, sess.Messages(), "closed widget loads no history")
}

func TestWidgetStartPicksUpExistingBacklog(t *testing.T) {
	core, _, hub := newSessionFixture()
	page, err := core.GetOrCreateActiveChat(context.Background(), testUser, 0, 20)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := core.SendMessage(context.Background(), testAdmin, page.Chat.ID, strptr("offline ping"), nil, nil)
		require.NoError(t, err)
	}

	sink := &recordingSink{}
	sess := NewWidgetSession(core, hub, sink, testUser)
	require.NoError(t, sess.Start(context.Background()))
	defer sess.Close()

	assert.Equal(t, 3, sess.Unread())
	badge, ok := sink.last(FrameUnreadCount)
	require.True(t, ok)
	assert.Equal(t, 3, badge)
}

func TestWidgetOpenSweepsBacklogAndZeroesBadge(t *testing.T) {
	core, _, hub := newSessionFixture()
	page, err := core.GetOrCreateActiveChat(context.Background(), testUser, 0, 20)
	require.NoError(t, err)
	_, err = core.SendMessage(context.Background(), testAdmin, page.Chat.ID, strptr("waiting"), nil, nil)
	require.NoError(t, err)

	sess := NewWidgetSession(core, hub, &recordingSink{}, testUser)
	require.NoError(t, sess.Start(context.Background()))
	defer sess.Close()
	require.Equal(t, 1, sess.Unread())

	require.NoError(t, sess.Open(context.Background()))

	assert.Zero(t, sess.Unread())
	count, err := core.UserUnreadCount(context.Background(), testUser)
	require.NoError(t, err)
	assert.Zero(t, count, "backlog swept on open")
}

func TestWidgetOpenMarksIncomingAdminMessageRead(t *testing.T) {
	core, _, hub := newSessionFixture()

	sess := NewWidgetSession(core, hub, &recordingSink{}, testUser)
	require.NoError(t, sess.Start(context.Background()))
	defer sess.Close()
	require.NoError(t, sess.Open(context.Background()))

	_, err := core.SendMessage(context.Background(), testAdmin, sess.ChatID(), strptr("instant"), nil, nil)
	require.NoError(t, err)

	require.Len(t, sess.Messages(), 1)
	count, err := core.UserUnreadCount(context.Background(), testUser)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, sess.Unread())
}

func TestWidgetCloseNarrowsToBadgeUpdates(t *testing.T) {
	core, _, hub := newSessionFixture()

	sink := &recordingSink{}
	sess := NewWidgetSession(core, hub, sink, testUser)
	require.NoError(t, sess.Start(context.Background()))
	defer sess.Close()
	require.NoError(t, sess.Open(context.Background()))
	chatID := sess.ChatID()

	sess.CloseWidget()
	assert.Equal(t, 1, sink.count(FrameChatClosed))
	// Still one live subscription: only the bindings narrowed.
	assert.Equal(t, 1, hub.SubscriberCount(realtime.ChatChannel(chatID)))

	typingBefore := sink.count(realtime.EventTyping)
	require.NoError(t, core.SetTyping(context.Background(), testAdmin, chatID, true))
	assert.Equal(t, typingBefore, sink.count(realtime.EventTyping), "closed widget ignores typing")
	assert.False(t, sess.AdminTyping())

	_, err := core.SendMessage(context.Background(), testAdmin, chatID, strptr("come back"), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sess.Unread())
	assert.Empty(t, sess.Messages())
}

func TestWidgetSeesAdminTyping(t *testing.T) {
	core, _, hub := newSessionFixture()

	sink := &recordingSink{}
	sess := NewWidgetSession(core, hub, sink, testUser)
	require.NoError(t, sess.Start(context.Background()))
	defer sess.Close()
	require.NoError(t, sess.Open(context.Background()))

	require.NoError(t, core.SetTyping(context.Background(), testAdmin, sess.ChatID(), true))
	assert.True(t, sess.AdminTyping())
	assert.Equal(t, 1, sink.count(realtime.EventTyping))

	// The user's own typing echo is filtered out.
	require.NoError(t, core.SetTyping(context.Background(), testUser, sess.ChatID(), true))
	assert.Equal(t, 1, sink.count(realtime.EventTyping))

	require.NoError(t, core.SetTyping(context.Background(), testAdmin, sess.ChatID(), false))
	assert.False(t, sess.AdminTyping())
}

func TestWidgetAdminReadReceiptFlagsOwnMessages(t *testing.T) {
	core, _, hub := newSessionFixture()

	sink := &recordingSink{}
	sess := NewWidgetSession(core, hub, sink, testUser)
	require.NoError(t, sess.Start(context.Background()))
	defer sess.Close()
	require.NoError(t, sess.Open(context.Background()))

	_, err := core.SendMessage(context.Background(), testUser, sess.ChatID(), strptr("anyone there?"), nil, nil)
	require.NoError(t, err)
	require.False(t, sess.Messages()[0].IsRead)

	require.NoError(t, core.MarkRead(context.Background(), testAdmin, sess.ChatID()))

	assert.True(t, sess.Messages()[0].IsRead)
	assert.Equal(t, 1, sink.count(realtime.MessagesReadEventName(models.RoleAdmin)))
}

func TestWidgetLoadOlderPrependsHistory(t *testing.T) {
	core, _, hub := newSessionFixture()
	page, err := core.GetOrCreateActiveChat(context.Background(), testUser, 0, 20)
	require.NoError(t, err)
	const total = 30
	for i := 0; i < total; i++ {
		_, err := core.SendMessage(context.Background(), testUser, page.Chat.ID, strptr("m"), nil, nil)
		require.NoError(t, err)
	}

	sess := NewWidgetSession(core, hub, &recordingSink{}, testUser)
	require.NoError(t, sess.Start(context.Background()))
	defer sess.Close()
	require.NoError(t, sess.Open(context.Background()))
	require.Len(t, sess.Messages(), 20)

	require.NoError(t, sess.LoadOlder(context.Background()))

	msgs := sess.Messages()
	require.Len(t, msgs, total)
	for i := 1; i < len(msgs); i++ {
		assert.Less(t, msgs[i-1].ID, msgs[i].ID)
	}
}

func TestWidgetTombstoneReflectedInState(t *testing.T) {
	core, _, hub := newSessionFixture()

	sess := NewWidgetSession(core, hub, &recordingSink{}, testUser)
	require.NoError(t, sess.Start(context.Background()))
	defer sess.Close()
	require.NoError(t, sess.Open(context.Background()))

	msg, err := core.SendMessage(context.Background(), testAdmin, sess.ChatID(), strptr("retracted"), nil, nil)
	require.NoError(t, err)
	_, err = core.DeleteMessage(context.Background(), testAdmin, msg.ID)
	require.NoError(t, err)

	msgs := sess.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsDeleted)
	assert.Nil(t, msgs[0].Content)
}

func TestWidgetLoadOlderDropsStalePage(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	hub := realtime.NewHub()
	core := chat.NewCore(chatRepo, msgRepo, hub)

	room := models.Chat{ID: 3, UserID: testUser.ID, IsActive: true}
	chatRepo.On("FindActiveChat", mock.Anything, testUser.ID).
		Return(nil, repositories.ErrChatNotFound)
	chatRepo.On("GetOrCreateActiveChat", mock.Anything, testUser.ID).
		Return(room, false, nil)
	chatRepo.On("GetChat", mock.Anything, 3).Return(room, nil)
	msgRepo.On("FindMessagesPage", mock.Anything, 3, 0, 21).
		Return(readAdminHistory(3, 30, 21), nil).Once()

	sink := &recordingSink{}
	sess := NewWidgetSession(core, hub, sink, testUser)
	require.NoError(t, sess.Start(context.Background()))
	defer sess.Close()
	require.NoError(t, sess.Open(context.Background()))

	// The widget closes while the older page is in flight.
	msgRepo.On("FindMessagesPage", mock.Anything, 3, 11, 21).
		Run(func(mock.Arguments) { sess.CloseWidget() }).
		Return(readAdminHistory(3, 10, 1), nil).Once()

	require.NoError(t, sess.LoadOlder(context.Background()))

	assert.Empty(t, sess.Messages())
	assert.Zero(t, sink.count(FrameOlderMessages), "stale page must not reach the sink")
}
