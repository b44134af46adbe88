package socket

import (
	"sync"
	"time"
)

// typingThrottle suppresses repeated typing-start emissions per room. A
// typing-stop is never throttled: it always clears the room's window so the
// "stopped typing" signal cannot be dropped.
type typingThrottle struct {
	mu       sync.Mutex
	window   time.Duration
	now      func() time.Time
	lastSent map[string]time.Time
}

func newTypingThrottle(window time.Duration, now func() time.Time) *typingThrottle {
	return &typingThrottle{
		window:   window,
		now:      now,
		lastSent: make(map[string]time.Time),
	}
}

// allow reports whether an emission for this room should go out on the wire.
func (t *typingThrottle) allow(room string, isTyping bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !isTyping {
		delete(t.lastSent, room)
		return true
	}

	if last, ok := t.lastSent[room]; ok && t.now().Sub(last) < t.window {
		return false
	}
	t.lastSent[room] = t.now()
	return true
}

// reset drops all throttle state; called on process-wide disconnect.
func (t *typingThrottle) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSent = make(map[string]time.Time)
}
