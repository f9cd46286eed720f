// ABOUTME: FIFO history job queue with one job in flight and page accumulation
// ABOUTME: Spawns thread-reply jobs and defers fetches for unopened conversations

package history

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"

	"github.com/2389/slack-bridge/internal/api"
	"github.com/2389/slack-bridge/internal/workspace"
)

// DefaultPageLimit is the per-page message count requested from the
// history endpoints.
const DefaultPageLimit = 200

// Caller is the slice of the API client the resolver needs.
type Caller interface {
	Call(endpoint string, cb api.Callback, params ...api.Param)
	Post(endpoint string, cb api.Callback, params ...api.Param)
}

// Sink receives backfilled messages in delivery order.
type Sink interface {
	HistoricMessage(msg workspace.Message)
}

// Config controls fetch behavior.
type Config struct {
	// DisplayThreads spawns a thread fetch when a parent seen in plain
	// history has replies newer than the watermark.
	DisplayThreads bool

	// FetchThreadHistory gates those spawned thread fetches.
	FetchThreadHistory bool

	// OpenOnDemand opens a closed conversation before fetching instead
	// of dropping the job.
	OpenOnDemand bool

	// PageLimit overrides DefaultPageLimit when positive.
	PageLimit int
}

// Resolver runs history jobs one at a time off a FIFO queue.
type Resolver struct {
	caller   Caller
	registry *workspace.Registry
	sink     Sink
	cfg      Config
	logger   *slog.Logger

	queue *queue

	deferredMu sync.Mutex
	deferred   map[string][]*Job
}

// NewResolver builds a Resolver. sink and registry must be non-nil.
func NewResolver(caller Caller, registry *workspace.Registry, sink Sink, cfg Config, logger *slog.Logger) *Resolver {
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = DefaultPageLimit
	}
	r := &Resolver{
		caller:   caller,
		registry: registry,
		sink:     sink,
		cfg:      cfg,
		logger:   logger.With("component", "history"),
		deferred: make(map[string][]*Job),
	}
	r.queue = newQueue(r.startJob)
	return r
}

// FetchConversation queues a plain history fetch for up to maxCount
// messages, newest kept when the cap binds. maxCount of 0 queues
// nothing; negative means no cap. A queued fetch for the same
// conversation is replaced in place.
func (r *Resolver) FetchConversation(conv string, since workspace.Timestamp, maxCount int) {
	if maxCount == 0 {
		return
	}
	r.queue.enqueue(newJob(conv, since, maxCount, "", false))
}

// FetchThread queues a thread fetch. forceParent also delivers the
// parent message itself.
func (r *Resolver) FetchThread(conv, threadTS string, forceParent bool) {
	r.queue.enqueue(newJob(conv, workspace.Timestamp{}, 0, threadTS, forceParent))
}

// ConversationOpened releases jobs that were deferred because conv was
// closed when they ran.
func (r *Resolver) ConversationOpened(conv string) {
	r.deferredMu.Lock()
	jobs := r.deferred[conv]
	delete(r.deferred, conv)
	r.deferredMu.Unlock()
	for _, j := range jobs {
		r.queue.enqueue(j)
	}
}

// startJob begins executing a job the queue has promoted to in-flight.
// Completion is signaled through r.queue.finish, from whatever
// callback goroutine the last page arrives on.
func (r *Resolver) startJob(job *Job) {
	if !r.registry.KnownConversation(job.Conv) || r.registry.IsOpen(job.Conv) {
		r.fetchPage(job, "")
		return
	}
	if !r.cfg.OpenOnDemand {
		r.deferredMu.Lock()
		r.deferred[job.Conv] = append(r.deferred[job.Conv], job)
		r.deferredMu.Unlock()
		r.logger.Debug("deferring history for closed conversation", "job", job.ID, "conv", job.Conv)
		r.queue.finish(job)
		return
	}
	r.caller.Post("conversations.open", func(_ json.RawMessage, err error) {
		if err != nil {
			r.logger.Warn("opening conversation for history", "job", job.ID, "conv", job.Conv, "error", err)
			r.queue.finish(job)
			return
		}
		r.registry.SetOpen(job.Conv, true)
		r.fetchPage(job, "")
	}, api.P("channel", job.Conv))
}

// fetchPage requests one page; the callback either follows the cursor
// or finalizes the job.
func (r *Resolver) fetchPage(job *Job, cursor string) {
	endpoint := "conversations.history"
	params := []api.Param{api.P("channel", job.Conv)}
	if job.ThreadTS != "" {
		endpoint = "conversations.replies"
		params = append(params, api.P("ts", job.ThreadTS))
	}
	if !job.Since.IsZero() {
		params = append(params, api.P("oldest", job.Since.String()))
	}
	limit := r.cfg.PageLimit
	if job.MaxCount > 0 {
		if remaining := job.MaxCount - len(job.collected); remaining < limit {
			limit = remaining
		}
	}
	params = append(params, api.P("limit", strconv.Itoa(limit)))
	if cursor != "" {
		params = append(params, api.P("cursor", cursor))
	}

	r.caller.Call(endpoint, func(result json.RawMessage, err error) {
		if err != nil {
			r.logger.Warn("history fetch failed", "job", job.ID, "conv", job.Conv, "thread", job.ThreadTS, "error", err)
			r.queue.finish(job)
			return
		}
		var page struct {
			Messages         []workspace.WireMessage `json:"messages"`
			ResponseMetadata struct {
				NextCursor string `json:"next_cursor"`
			} `json:"response_metadata"`
		}
		if err := json.Unmarshal(result, &page); err != nil {
			r.logger.Warn("history page undecodable", "job", job.ID, "conv", job.Conv, "error", err)
			r.queue.finish(job)
			return
		}
		job.collected = append(job.collected, page.Messages...)
		// Plain pages arrive newest-first, so trimming the tail keeps
		// the newest maxCount entries.
		if job.MaxCount > 0 && len(job.collected) >= job.MaxCount {
			job.collected = job.collected[:job.MaxCount]
		} else if next := page.ResponseMetadata.NextCursor; next != "" {
			r.fetchPage(job, next)
			return
		}
		r.deliver(job)
		r.queue.finish(job)
	}, params...)
}

// deliver hands the accumulated messages to the sink in chronological
// order and advances the watermark per delivery.
func (r *Resolver) deliver(job *Job) {
	msgs := job.collected
	if job.ThreadTS == "" {
		// Plain history arrives newest-first; flip to reading order.
		for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}
	}

	for _, wm := range msgs {
		if wm.Type != "message" {
			continue
		}
		msg, err := wm.ToMessage(job.Conv)
		if err != nil {
			r.logger.Warn("skipping undecodable history entry", "job", job.ID, "conv", job.Conv, "error", err)
			continue
		}
		msg.Historic = true

		if job.ThreadTS != "" {
			if msg.TS.String() == job.ThreadTS && !job.ForceParent {
				continue // parent already shown in the main transcript
			}
			r.registry.AdvanceLastMessage(job.Conv, msg.TS)
			r.sink.HistoricMessage(msg)
			continue
		}

		if !r.registry.AdvanceLastMessage(job.Conv, msg.TS) {
			continue // at or behind the watermark: already delivered
		}
		r.sink.HistoricMessage(msg)

		if r.shouldFetchThread(job.Conv, wm) {
			r.FetchThread(job.Conv, wm.TS, false)
		}
	}
}

// shouldFetchThread decides whether a parent seen in plain history
// warrants pulling its replies.
func (r *Resolver) shouldFetchThread(conv string, wm workspace.WireMessage) bool {
	if !r.cfg.DisplayThreads || !r.cfg.FetchThreadHistory {
		return false
	}
	if wm.ReplyCount == 0 || wm.LatestReply == "" {
		return false
	}
	latest, err := workspace.ParseTimestamp(wm.LatestReply)
	if err != nil {
		return false
	}
	return latest.After(r.registry.LastMessage(conv))
}
