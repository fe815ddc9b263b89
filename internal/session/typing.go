package session

import (
	"sync"
	"time"
)

// typingIdle is how long after the last keystroke the "stopped typing"
// signal goes out. typingDecay clears a counterpart's typing flag when
// its stop signal never arrives.
const (
	typingIdle  = time.Second
	typingDecay = 3 * time.Second
)

// typingNotifier debounces keystrokes into at most one "typing" signal
// per burst: the first keystroke after idle sends true immediately,
// and an idle timer sends false. Sends happen under the lock so the
// last publish always matches the current state, and each burst
// carries a sequence number so a stale idle timer cannot end a burst
// it does not belong to.
type typingNotifier struct {
	mu        sync.Mutex
	typing    bool
	seq       int
	idleAfter time.Duration
	timer     *time.Timer
	send      func(isTyping bool)
}

func newTypingNotifier(send func(bool)) *typingNotifier {
	return &typingNotifier{idleAfter: typingIdle, send: send}
}

func (n *typingNotifier) Keystroke() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seq++
	seq := n.seq
	if n.timer != nil {
		n.timer.Stop()
	}
	n.timer = time.AfterFunc(n.idleAfter, func() { n.expire(seq) })
	if !n.typing {
		n.typing = true
		n.send(true)
	}
}

func (n *typingNotifier) expire(seq int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if seq != n.seq || !n.typing {
		return
	}
	n.typing = false
	n.send(false)
}

// Stop cancels the idle timer without sending anything.
func (n *typingNotifier) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seq++
	n.typing = false
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}

// typingDecayTimer clears the counterpart-typing flag after the decay
// window unless refreshed.
type typingDecayTimer struct {
	mu    sync.Mutex
	after time.Duration
	timer *time.Timer
	clear func()
}

func (t *typingDecayTimer) Refresh() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.after, t.clear)
}

func (t *typingDecayTimer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
