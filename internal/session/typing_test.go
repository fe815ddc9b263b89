package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support-chat/internal/models"
	"support-chat/internal/realtime"
)

type sendRecorder struct {
	mu    sync.Mutex
	sends []bool
}

func (r *sendRecorder) record(isTyping bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends = append(r.sends, isTyping)
}

func (r *sendRecorder) snapshot() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, len(r.sends))
	copy(out, r.sends)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestTypingNotifierDebouncesBurst(t *testing.T) {
	rec := &sendRecorder{}
	n := newTypingNotifier(rec.record)
	n.idleAfter = 20 * time.Millisecond

	for i := 0; i < 5; i++ {
		n.Keystroke()
	}

	waitFor(t, func() bool { return len(rec.snapshot()) == 2 })
	assert.Equal(t, []bool{true, false}, rec.snapshot())

	// Nothing more after the burst ended.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, []bool{true, false}, rec.snapshot())
}

func TestTypingNotifierSeparateBursts(t *testing.T) {
	rec := &sendRecorder{}
	n := newTypingNotifier(rec.record)
	n.idleAfter = 20 * time.Millisecond

	n.Keystroke()
	waitFor(t, func() bool { return len(rec.snapshot()) == 2 })

	n.Keystroke()
	waitFor(t, func() bool { return len(rec.snapshot()) == 4 })
	assert.Equal(t, []bool{true, false, true, false}, rec.snapshot())
}

func TestTypingNotifierIgnoresStaleIdleTimer(t *testing.T) {
	rec := &sendRecorder{}
	n := newTypingNotifier(rec.record)
	n.idleAfter = time.Hour

	n.Keystroke()
	assert.Equal(t, []bool{true}, rec.snapshot())

	// An idle timer from an older burst fires late: no false goes out.
	n.expire(0)
	assert.Equal(t, []bool{true}, rec.snapshot())

	// The current burst's timer ends it.
	n.expire(1)
	assert.Equal(t, []bool{true, false}, rec.snapshot())

	// A fresh keystroke starts a new burst.
	n.Keystroke()
	assert.Equal(t, []bool{true, false, true}, rec.snapshot())
}

func TestTypingNotifierStopSendsNothing(t *testing.T) {
	rec := &sendRecorder{}
	n := newTypingNotifier(rec.record)
	n.idleAfter = 20 * time.Millisecond

	n.Keystroke()
	n.Stop()

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, []bool{true}, rec.snapshot())
}

func TestTypingDecayTimerClearsUnlessRefreshed(t *testing.T) {
	var mu sync.Mutex
	cleared := 0
	d := typingDecayTimer{after: 20 * time.Millisecond, clear: func() {
		mu.Lock()
		cleared++
		mu.Unlock()
	}}

	d.Refresh()
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return cleared == 1
	})

	d.Refresh()
	d.Cancel()
	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, cleared)
	mu.Unlock()
}

func TestAdminKeystrokeBurstPublishesOnce(t *testing.T) {
	core, _, hub := newSessionFixture()
	page, err := core.GetOrCreateActiveChat(context.Background(), testUser, 0, 20)
	require.NoError(t, err)

	sess := NewAdminSession(core, hub, &recordingSink{}, testAdmin)
	require.NoError(t, sess.Start(context.Background()))
	defer sess.Close()
	require.NoError(t, sess.EnterChat(context.Background(), page.Chat.ID))
	sess.typing.idleAfter = 20 * time.Millisecond

	sub, err := hub.Subscribe(realtime.ChatChannel(page.Chat.ID))
	require.NoError(t, err)
	defer sub.Close()
	var mu sync.Mutex
	var events []models.TypingEvent
	sub.Bind(realtime.EventTyping, func(payload json.RawMessage) {
		var event models.TypingEvent
		require.NoError(t, json.Unmarshal(payload, &event))
		if event.SenderRole != models.RoleAdmin {
			return
		}
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	})

	for i := 0; i < 3; i++ {
		sess.Keystroke()
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 2
	})
	mu.Lock()
	defer mu.Unlock()
	assert.True(t, events[0].IsTyping)
	assert.False(t, events[1].IsTyping)
}

func TestAdminTypingDecayClearsStuckIndicator(t *testing.T) {
	core, _, hub := newSessionFixture()
	page, err := core.GetOrCreateActiveChat(context.Background(), testUser, 0, 20)
	require.NoError(t, err)

	sink := &recordingSink{}
	sess := NewAdminSession(core, hub, sink, testAdmin)
	sess.decay.after = 20 * time.Millisecond
	require.NoError(t, sess.Start(context.Background()))
	defer sess.Close()
	require.NoError(t, sess.EnterChat(context.Background(), page.Chat.ID))

	// A typing-true with no follow-up false, as after a dropped
	// connection on the user side.
	require.NoError(t, core.SetTyping(context.Background(), testUser, page.Chat.ID, true))
	assert.True(t, sess.CounterpartTyping())

	waitFor(t, func() bool {
		payload, ok := sink.last(realtime.EventTyping)
		if !ok {
			return false
		}
		event, ok := payload.(models.TypingEvent)
		return ok && !event.IsTyping && event.SenderRole == models.RoleUser
	})
	assert.False(t, sess.CounterpartTyping())
}

func TestWidgetTypingDecayClearsStuckIndicator(t *testing.T) {
	core, _, hub := newSessionFixture()

	sink := &recordingSink{}
	sess := NewWidgetSession(core, hub, sink, testUser)
	sess.decay.after = 20 * time.Millisecond
	require.NoError(t, sess.Start(context.Background()))
	defer sess.Close()
	require.NoError(t, sess.Open(context.Background()))

	require.NoError(t, core.SetTyping(context.Background(), testAdmin, sess.ChatID(), true))
	assert.True(t, sess.AdminTyping())

	waitFor(t, func() bool {
		payload, ok := sink.last(realtime.EventTyping)
		if !ok {
			return false
		}
		event, ok := payload.(models.TypingEvent)
		return ok && !event.IsTyping && event.SenderRole == models.RoleAdmin
	})
	assert.False(t, sess.AdminTyping())
}
