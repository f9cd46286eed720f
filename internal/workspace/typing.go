// ABOUTME: Transient per-user typing indicators with automatic expiry
// ABOUTME: Each user owns one named, cancellable timer; no global timer table

package workspace

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultTypingTimeout is how long a typing indicator stays lit after
// the last typing event for a user.
const DefaultTypingTimeout = 4 * time.Second

// TypingFunc is invoked when a user's typing state changes in a
// conversation.
type TypingFunc func(userID, convID string, typing bool)

type typingEntry struct {
	convID string
	timer  clockwork.Timer
}

// TypingTracker owns the per-user typing timers. Each typing event
// (re)arms that user's single timer; expiry clears the indicator. The
// timer handle lives on the per-user entry and dies with it, so there
// are no free-running timers to leak across call sites.
type TypingTracker struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	timeout time.Duration
	notify  TypingFunc
	active  map[string]*typingEntry // by user id
	stopped bool
}

// NewTypingTracker creates a tracker. A nil clock uses the real clock;
// a zero timeout uses DefaultTypingTimeout.
func NewTypingTracker(clock clockwork.Clock, timeout time.Duration, notify TypingFunc) *TypingTracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	return &TypingTracker{
		clock:   clock,
		timeout: timeout,
		notify:  notify,
		active:  make(map[string]*typingEntry),
	}
}

// UserTyping lights (or refreshes) the typing indicator for a user in a
// conversation.
func (t *TypingTracker) UserTyping(userID, convID string) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	entry, ok := t.active[userID]
	if ok {
		entry.timer.Stop()
		if entry.convID != convID {
			// Moved conversations mid-typing: clear the old indicator
			// and light the new one.
			prev := entry.convID
			entry.convID = convID
			t.mu.Unlock()
			t.notify(userID, prev, false)
			t.notify(userID, convID, true)
			t.mu.Lock()
		}
		entry.timer = t.clock.AfterFunc(t.timeout, func() { t.expire(userID) })
		t.mu.Unlock()
		return
	}

	entry = &typingEntry{convID: convID}
	entry.timer = t.clock.AfterFunc(t.timeout, func() { t.expire(userID) })
	t.active[userID] = entry
	t.mu.Unlock()

	t.notify(userID, convID, true)
}

// Clear drops the indicator for a user immediately, e.g. when their
// message arrives before the timer fires.
func (t *TypingTracker) Clear(userID string) {
	t.mu.Lock()
	entry, ok := t.active[userID]
	if ok {
		entry.timer.Stop()
		delete(t.active, userID)
	}
	t.mu.Unlock()
	if ok {
		t.notify(userID, entry.convID, false)
	}
}

// Stop cancels all timers. Further typing events are ignored.
func (t *TypingTracker) Stop() {
	t.mu.Lock()
	t.stopped = true
	for id, entry := range t.active {
		entry.timer.Stop()
		delete(t.active, id)
	}
	t.mu.Unlock()
}

func (t *TypingTracker) expire(userID string) {
	t.mu.Lock()
	entry, ok := t.active[userID]
	if ok {
		delete(t.active, userID)
	}
	t.mu.Unlock()
	if ok {
		t.notify(userID, entry.convID, false)
	}
}
