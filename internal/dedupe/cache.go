// ABOUTME: Thread-safe TTL cache of already-processed stream event keys
// ABOUTME: Guards against envelope redelivery surfacing the same event twice

package dedupe

import (
	"container/list"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// entry pairs a key's mark time with its position in the age list.
type entry struct {
	markedAt time.Time
	element  *list.Element
}

// Cache remembers event keys for a bounded time and count. The stream
// redelivers any envelope whose ack was lost, so the same event can
// arrive more than once; callers use CheckAndMark to process each key
// exactly once per TTL window.
//
// Expired entries are pruned opportunistically on writes. There is no
// background goroutine, so a Cache needs no teardown.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // keys oldest-first
	clock   clockwork.Clock
	ttl     time.Duration
	maxSize int
}

// New builds a cache that forgets keys after ttl and never holds more
// than maxSize of them. clock may be nil for the real clock.
func New(clock clockwork.Clock, ttl time.Duration, maxSize int) *Cache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache{
		seen:    make(map[string]*entry),
		order:   list.New(),
		clock:   clock,
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// CheckAndMark reports whether key was already seen within the TTL, and
// marks it seen if not. The check and the mark are atomic: when many
// goroutines race on the same key, exactly one gets false.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if e, ok := c.seen[key]; ok && now.Sub(e.markedAt) < c.ttl {
		return true
	}
	c.markLocked(key, now)
	return false
}

// Seen reports whether key is currently marked, without marking it.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.seen[key]
	return ok && c.clock.Now().Sub(e.markedAt) < c.ttl
}

// Mark records key as seen, refreshing it if already present.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key, c.clock.Now())
}

// Len returns the number of entries held, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *Cache) markLocked(key string, now time.Time) {
	if e, ok := c.seen[key]; ok {
		e.markedAt = now
		c.order.MoveToBack(e.element)
		return
	}

	c.pruneLocked(now)
	if len(c.seen) >= c.maxSize {
		c.evictOldestLocked()
	}

	elem := c.order.PushBack(key)
	c.seen[key] = &entry{markedAt: now, element: elem}
}

// pruneLocked drops expired entries from the front of the age list.
// Refreshed keys move to the back, so the front is always oldest.
func (c *Cache) pruneLocked(now time.Time) {
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		key := front.Value.(string)
		if now.Sub(c.seen[key].markedAt) < c.ttl {
			return
		}
		c.order.Remove(front)
		delete(c.seen, key)
	}
}

func (c *Cache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}
