// ABOUTME: Thread reference resolution, caching, and selection switching
// ABOUTME: Window queries arbitrate zero/one/many matches within one second

package thread

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/2389/slack-bridge/internal/api"
	"github.com/2389/slack-bridge/internal/workspace"
)

// Caller is the slice of the API client the resolver needs.
type Caller interface {
	Call(endpoint string, cb api.Callback, params ...api.Param)
}

// Kind classifies a resolution outcome.
type Kind int

const (
	// Resolved means TS names the thread.
	Resolved Kind = iota
	// NotFound means no message exists in the referenced second.
	NotFound
	// Ambiguous means several messages share the referenced second;
	// Candidates lists them.
	Ambiguous
	// Failed means the input was unparseable or the query errored;
	// Err says which.
	Failed
)

// Candidate is one message competing for an ambiguous reference.
type Candidate struct {
	TS   workspace.Timestamp
	Text string
}

// Outcome is the result of resolving one thread reference.
type Outcome struct {
	Kind       Kind
	TS         workspace.Timestamp
	Candidates []Candidate
	Err        error
}

// OutcomeFunc receives the resolution result. Called exactly once, on
// the caller's goroutine for cache hits and canonical inputs, otherwise
// on the API callback goroutine.
type OutcomeFunc func(Outcome)

// timestamp reference layouts, tried in order.
const (
	layoutClock     = "15:04:05"
	layoutDateTime  = "2006-01-02 15:04:05"
	layoutShortDate = "01/02/06-15:04:05"
)

// Resolver resolves thread references and manages per-conversation
// thread selection.
type Resolver struct {
	caller   Caller
	registry *workspace.Registry
	clock    clockwork.Clock
	logger   *slog.Logger

	mu    sync.Mutex
	cache map[string]workspace.Timestamp // (conv NUL input) -> resolved key
}

// NewResolver builds a Resolver.
func NewResolver(caller Caller, registry *workspace.Registry, clock clockwork.Clock, logger *slog.Logger) *Resolver {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Resolver{
		caller:   caller,
		registry: registry,
		clock:    clock,
		logger:   logger.With("component", "thread"),
		cache:    make(map[string]workspace.Timestamp),
	}
}

func cacheKey(conv, input string) string {
	return conv + "\x00" + input
}

// Resolve turns input into a canonical thread key for conv.
func (r *Resolver) Resolve(conv, input string, cb OutcomeFunc) {
	if workspace.IsCanonicalTS(input) {
		ts, err := workspace.ParseTimestamp(input)
		if err != nil {
			cb(Outcome{Kind: Failed, Err: err})
			return
		}
		cb(Outcome{Kind: Resolved, TS: ts})
		return
	}

	r.mu.Lock()
	cached, ok := r.cache[cacheKey(conv, input)]
	r.mu.Unlock()
	if ok {
		cb(Outcome{Kind: Resolved, TS: cached})
		return
	}

	moment, ok := r.parseReference(input)
	if !ok {
		cb(Outcome{Kind: Failed, Err: fmt.Errorf("unparseable thread reference %q", input)})
		return
	}
	r.queryWindow(conv, input, moment, cb)
}

// parseReference interprets input as a clock time today, or a full date
// and time, in local time.
func (r *Resolver) parseReference(input string) (time.Time, bool) {
	loc := time.Local
	if t, err := time.ParseInLocation(layoutClock, input, loc); err == nil {
		now := r.clock.Now().In(loc)
		return time.Date(now.Year(), now.Month(), now.Day(),
			t.Hour(), t.Minute(), t.Second(), 0, loc), true
	}
	if t, err := time.ParseInLocation(layoutDateTime, input, loc); err == nil {
		return t, true
	}
	if t, err := time.ParseInLocation(layoutShortDate, input, loc); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// queryWindow fetches the one-second window around moment and
// arbitrates the matches.
func (r *Resolver) queryWindow(conv, input string, moment time.Time, cb OutcomeFunc) {
	sec := moment.Unix()
	oldest := fmt.Sprintf("%d.000000", sec)
	latest := fmt.Sprintf("%d.999999", sec)

	r.caller.Call("conversations.history", func(result json.RawMessage, err error) {
		if err != nil {
			cb(Outcome{Kind: Failed, Err: fmt.Errorf("querying second %d: %w", sec, err)})
			return
		}
		var page struct {
			Messages []workspace.WireMessage `json:"messages"`
		}
		if err := json.Unmarshal(result, &page); err != nil {
			cb(Outcome{Kind: Failed, Err: fmt.Errorf("decoding window query: %w", err)})
			return
		}

		var candidates []Candidate
		for _, wm := range page.Messages {
			if wm.Type != "message" {
				continue
			}
			ts, err := workspace.ParseTimestamp(wm.TS)
			if err != nil {
				continue
			}
			candidates = append(candidates, Candidate{TS: ts, Text: wm.Text})
		}

		switch len(candidates) {
		case 0:
			cb(Outcome{Kind: NotFound})
		case 1:
			r.mu.Lock()
			r.cache[cacheKey(conv, input)] = candidates[0].TS
			r.mu.Unlock()
			cb(Outcome{Kind: Resolved, TS: candidates[0].TS})
		default:
			cb(Outcome{Kind: Ambiguous, Candidates: candidates})
		}
	},
		api.P("channel", conv),
		api.P("oldest", oldest),
		api.P("latest", latest),
		api.P("inclusive", "true"),
		api.P("limit", "100"),
	)
}

// InvalidateConversation drops cached resolutions for conv.
func (r *Resolver) InvalidateConversation(conv string) {
	prefix := conv + "\x00"
	r.mu.Lock()
	for k := range r.cache {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(r.cache, k)
		}
	}
	r.mu.Unlock()
}

// SwitchTo resolves input and, on success, selects that thread for
// conv. The outcome is passed through either way.
func (r *Resolver) SwitchTo(conv, input string, cb OutcomeFunc) {
	r.Resolve(conv, input, func(out Outcome) {
		if out.Kind == Resolved {
			r.registry.SetThreadSelection(conv, out.TS.String())
			r.InvalidateConversation(conv)
		}
		cb(out)
	})
}

// SwitchToChannel clears conv's thread selection, returning outbound
// messages to the channel itself.
func (r *Resolver) SwitchToChannel(conv string) {
	r.registry.SetThreadSelection(conv, "")
	r.InvalidateConversation(conv)
}

// SwitchToLatest selects the most recently active thread in conv: the
// message whose newest reply is youngest.
func (r *Resolver) SwitchToLatest(conv string, cb OutcomeFunc) {
	r.caller.Call("conversations.history", func(result json.RawMessage, err error) {
		if err != nil {
			cb(Outcome{Kind: Failed, Err: fmt.Errorf("scanning for latest thread: %w", err)})
			return
		}
		var page struct {
			Messages []workspace.WireMessage `json:"messages"`
		}
		if err := json.Unmarshal(result, &page); err != nil {
			cb(Outcome{Kind: Failed, Err: fmt.Errorf("decoding thread scan: %w", err)})
			return
		}

		var best workspace.Timestamp
		var bestReply workspace.Timestamp
		for _, wm := range page.Messages {
			if wm.LatestReply == "" {
				continue
			}
			reply, err := workspace.ParseTimestamp(wm.LatestReply)
			if err != nil {
				continue
			}
			if reply.After(bestReply) {
				bestReply = reply
				best, _ = workspace.ParseTimestamp(wm.TS)
			}
		}
		if best.IsZero() {
			cb(Outcome{Kind: NotFound})
			return
		}
		r.registry.SetThreadSelection(conv, best.String())
		r.InvalidateConversation(conv)
		cb(Outcome{Kind: Resolved, TS: best})
	},
		api.P("channel", conv),
		api.P("limit", "100"),
	)
}
