package session

import (
	"sync"

	"support-chat/internal/auth"
	"support-chat/internal/chat"
	"support-chat/internal/mocks"
	"support-chat/internal/models"
	"support-chat/internal/realtime"
)

var (
	testUser    = auth.Identity{ID: 1, Role: models.RoleUser}
	otherUser   = auth.Identity{ID: 2, Role: models.RoleUser}
	testAdmin   = auth.Identity{ID: 99, Role: models.RoleAdmin}
	secondAdmin = auth.Identity{ID: 100, Role: models.RoleAdmin}
)

type recordedFrame struct {
	Event   string
	Payload any
}

// recordingSink captures every frame a session would push to its
// websocket connection.
type recordingSink struct {
	mu     sync.Mutex
	frames []recordedFrame
}

func (r *recordingSink) Send(event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, recordedFrame{Event: event, Payload: payload})
}

func (r *recordingSink) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, f := range r.frames {
		if f.Event == event {
			n++
		}
	}
	return n
}

func (r *recordingSink) last(event string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.frames) - 1; i >= 0; i-- {
		if r.frames[i].Event == event {
			return r.frames[i].Payload, true
		}
	}
	return nil, false
}

func newSessionFixture() (*chat.Core, *mocks.FakeStore, *realtime.Hub) {
	store := mocks.NewFakeStore()
	hub := realtime.NewHub()
	return chat.NewCore(store, store, hub), store, hub
}

func strptr(s string) *string {
	return &s
}

// readAdminHistory builds a newest-first page of already-read admin
// messages, the shape FindMessagesPage returns.
func readAdminHistory(chatID, newestID, count int) []models.Message {
	msgs := make([]models.Message, 0, count)
	for id := newestID; id > newestID-count; id-- {
		msgs = append(msgs, models.Message{
			ID:         id,
			ChatID:     chatID,
			SenderID:   testAdmin.ID,
			SenderRole: models.RoleAdmin,
			Content:    strptr("m"),
			IsRead:     true,
		})
	}
	return msgs
}
