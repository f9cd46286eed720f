// ABOUTME: Batched read-marking with a trailing flush delay
// ABOUTME: Coalesces rapid reads into one conversations.mark per conversation

package history

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/2389/slack-bridge/internal/api"
	"github.com/2389/slack-bridge/internal/workspace"
)

// DefaultMarkDelay is the trailing window during which further reads
// coalesce into the same flush.
const DefaultMarkDelay = 5 * time.Second

// Marker batches read-position updates. Marking a conversation read
// records the position locally at once but pushes it to the remote
// only after a quiet delay, so scrolling through a backlog produces one
// API call per conversation instead of one per message.
type Marker struct {
	caller   Caller
	registry *workspace.Registry
	clock    clockwork.Clock
	logger   *slog.Logger
	delay    time.Duration

	mu      sync.Mutex
	pending map[string]struct{}
	timer   clockwork.Timer
	stopped bool
}

// NewMarker builds a Marker flushing after delay (DefaultMarkDelay if
// zero).
func NewMarker(caller Caller, registry *workspace.Registry, clock clockwork.Clock, delay time.Duration, logger *slog.Logger) *Marker {
	if delay <= 0 {
		delay = DefaultMarkDelay
	}
	return &Marker{
		caller:   caller,
		registry: registry,
		clock:    clock,
		logger:   logger.With("component", "marker"),
		delay:    delay,
		pending:  make(map[string]struct{}),
	}
}

// MarkRead records that conv has been read up to its latest delivered
// message and schedules a flush. A no-op when nothing new was read.
func (m *Marker) MarkRead(conv string) {
	if _, ok := m.registry.ReadUpToLatest(conv); !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.pending[conv] = struct{}{}
	if m.timer == nil {
		m.timer = m.clock.AfterFunc(m.delay, m.flush)
	}
}

// flush pushes every pending conversation's read position.
func (m *Marker) flush() {
	m.mu.Lock()
	batch := m.pending
	m.pending = make(map[string]struct{})
	m.timer = nil
	m.mu.Unlock()

	for conv := range batch {
		conv := conv
		ts := m.registry.LastRead(conv)
		if ts.IsZero() {
			continue
		}
		m.caller.Post("conversations.mark", func(_ json.RawMessage, err error) {
			if err != nil {
				m.logger.Warn("marking conversation read", "conv", conv, "error", err)
				return
			}
			m.registry.CommitMark(conv)
		}, api.P("channel", conv), api.P("ts", ts.String()))
	}
}

// Stop drops pending marks and disarms the timer. Used at disconnect;
// unsent positions are recovered from the remote on the next login.
func (m *Marker) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	m.pending = make(map[string]struct{})
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
