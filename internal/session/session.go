// ABOUTME: Session type, login sequence, roster loading, and teardown
// ABOUTME: Login is a callback chain; each step validates the previous reply

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/2389/slack-bridge/internal/api"
	"github.com/2389/slack-bridge/internal/dedupe"
	"github.com/2389/slack-bridge/internal/history"
	"github.com/2389/slack-bridge/internal/rtm"
	"github.com/2389/slack-bridge/internal/thread"
	"github.com/2389/slack-bridge/internal/workspace"
)

// Edits and deletes have no order key the registry can gate on, so a
// seen-event cache suppresses redelivered copies. The TTL only has to
// outlive the stream's redelivery horizon.
const (
	seenEventTTL = 5 * time.Minute
	seenEventCap = 4096
)

// Caller is the slice of the API client the session needs.
type Caller interface {
	Call(endpoint string, cb api.Callback, params ...api.Param)
	Post(endpoint string, cb api.Callback, params ...api.Param)
	DisconnectAll()
}

// Stream is the slice of the realtime client the session needs.
type Stream interface {
	Send(typ string, fields map[string]any) error
	Request(typ string, fields map[string]any, cb rtm.ReplyFunc) error
	Close()
}

// Sink receives everything the session surfaces to its host.
// Implementations must not block; they are called from transport
// goroutines.
type Sink interface {
	Message(msg workspace.Message)
	Typing(userID, convID string, typing bool)
	Presence(userID, presence string)
	Topic(convID, topic string)
	Notice(convID, text string)
	Connected()
	Disconnected(err error)
}

// Config tunes session behavior.
type Config struct {
	PingInterval  time.Duration
	TypingTimeout time.Duration
	MarkDelay     time.Duration

	// FetchOnConnect backfills unread conversations right after the
	// roster loads.
	FetchOnConnect bool

	History history.Config
}

// Session is one live connection to a workspace.
type Session struct {
	cfg      Config
	caller   Caller
	registry *workspace.Registry
	hist     *history.Resolver
	marker   *history.Marker
	threads  *thread.Resolver
	typing   *workspace.TypingTracker
	seen     *dedupe.Cache
	sink     Sink
	clock    clockwork.Clock
	logger   *slog.Logger

	// dial is swapped in tests; the default opens a real websocket.
	dial func(ctx context.Context, url string) (Stream, error)

	mu     sync.Mutex
	stream Stream
	ended  bool

	active atomic.Bool
}

// New builds a Session around an API caller and sink. clock may be nil
// for the real clock.
func New(cfg Config, caller Caller, sink Sink, clock clockwork.Clock, logger *slog.Logger) *Session {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	registry := workspace.NewRegistry(logger)

	s := &Session{
		cfg:      cfg,
		caller:   caller,
		registry: registry,
		sink:     sink,
		clock:    clock,
		logger:   logger.With("component", "session"),
	}
	s.hist = history.NewResolver(caller, registry, s, cfg.History, logger)
	s.marker = history.NewMarker(caller, registry, clock, cfg.MarkDelay, logger)
	s.threads = thread.NewResolver(callerOnly{caller}, registry, clock, logger)
	s.typing = workspace.NewTypingTracker(clock, cfg.TypingTimeout, sink.Typing)
	s.seen = dedupe.New(clock, seenEventTTL, seenEventCap)
	s.dial = func(ctx context.Context, url string) (Stream, error) {
		client := rtm.NewClient(rtm.Options{
			Handler:      s,
			Clock:        clock,
			Logger:       logger,
			PingInterval: cfg.PingInterval,
			Active:       s.active.Load,
		})
		if err := client.Connect(ctx, url); err != nil {
			return nil, err
		}
		return client, nil
	}
	return s
}

// callerOnly narrows Caller to the thread resolver's interface.
type callerOnly struct{ Caller }

// Registry exposes the session's object table for hosts that render
// rosters themselves.
func (s *Session) Registry() *workspace.Registry { return s.registry }

// Threads exposes thread reference resolution and selection.
func (s *Session) Threads() *thread.Resolver { return s.threads }

// Start runs the login sequence: obtain the socket URL, verify the
// credential, learn who we are, and connect the stream. The roster
// loads when the stream's hello event arrives. ctx bounds the socket
// dial.
func (s *Session) Start(ctx context.Context) {
	s.caller.Call("apps.connections.open", func(result json.RawMessage, err error) {
		if err != nil {
			s.loginFailed(fmt.Errorf("opening stream url: %w", err))
			return
		}
		var open struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(result, &open); err != nil || open.URL == "" {
			s.loginFailed(fmt.Errorf("stream url missing from connections.open"))
			return
		}
		s.verifyCredential(ctx, open.URL)
	})
}

func (s *Session) verifyCredential(ctx context.Context, socketURL string) {
	s.caller.Call("auth.test", func(result json.RawMessage, err error) {
		if err != nil {
			s.loginFailed(fmt.Errorf("verifying credential: %w", err))
			return
		}
		var auth struct {
			UserID string `json:"user_id"`
			Team   string `json:"team"`
		}
		if err := json.Unmarshal(result, &auth); err != nil || auth.UserID == "" {
			s.loginFailed(fmt.Errorf("auth.test reply missing user id"))
			return
		}
		s.registry.SetSelf(auth.UserID)
		s.logger.Info("credential verified", "user_id", auth.UserID, "team", auth.Team)
		s.fetchSelf(ctx, socketURL, auth.UserID)
	})
}

func (s *Session) fetchSelf(ctx context.Context, socketURL, userID string) {
	s.caller.Call("users.info", func(result json.RawMessage, err error) {
		if err != nil {
			// Not fatal: the roster load will fill the self user in.
			s.logger.Warn("self lookup failed", "error", err)
		} else {
			var info struct {
				User workspace.WireUser `json:"user"`
			}
			if json.Unmarshal(result, &info) == nil && info.User.ID != "" {
				s.registry.UpsertUser(info.User)
			}
		}
		s.connectStream(ctx, socketURL)
	}, api.P("user", userID))
}

func (s *Session) connectStream(ctx context.Context, socketURL string) {
	stream, err := s.dial(ctx, socketURL)
	if err != nil {
		s.loginFailed(fmt.Errorf("connecting stream: %w", err))
		return
	}
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		stream.Close()
		return
	}
	s.stream = stream
	s.mu.Unlock()
}

// onHello finishes login once the remote confirms the stream: load the
// roster, subscribe to presence, and optionally backfill unreads.
func (s *Session) onHello() {
	s.loadUsers("", func() {
		s.loadConversations("", func() {
			s.subscribePresence()
			if s.cfg.FetchOnConnect {
				s.hist.FetchUnread(nil)
			}
			s.logger.Info("login complete")
			s.sink.Connected()
		})
	})
}

// loadUsers pages through users.list.
func (s *Session) loadUsers(cursor string, done func()) {
	params := []api.Param{api.P("limit", "200")}
	if cursor != "" {
		params = append(params, api.P("cursor", cursor))
	}
	s.caller.Call("users.list", func(result json.RawMessage, err error) {
		if err != nil {
			s.logger.Warn("user roster unavailable", "error", err)
			done()
			return
		}
		var page struct {
			Members          []workspace.WireUser `json:"members"`
			ResponseMetadata struct {
				NextCursor string `json:"next_cursor"`
			} `json:"response_metadata"`
		}
		if err := json.Unmarshal(result, &page); err != nil {
			s.logger.Warn("user roster undecodable", "error", err)
			done()
			return
		}
		for _, wu := range page.Members {
			s.registry.UpsertUser(wu)
		}
		if next := page.ResponseMetadata.NextCursor; next != "" {
			s.loadUsers(next, done)
			return
		}
		done()
	}, params...)
}

// loadConversations pages through conversations.list across all types.
func (s *Session) loadConversations(cursor string, done func()) {
	params := []api.Param{
		api.P("types", "public_channel,private_channel,mpim,im"),
		api.P("limit", "200"),
	}
	if cursor != "" {
		params = append(params, api.P("cursor", cursor))
	}
	s.caller.Call("conversations.list", func(result json.RawMessage, err error) {
		if err != nil {
			s.logger.Warn("conversation roster unavailable", "error", err)
			done()
			return
		}
		var page struct {
			Channels         []workspace.WireChannel `json:"channels"`
			ResponseMetadata struct {
				NextCursor string `json:"next_cursor"`
			} `json:"response_metadata"`
		}
		if err := json.Unmarshal(result, &page); err != nil {
			s.logger.Warn("conversation roster undecodable", "error", err)
			done()
			return
		}
		for _, wc := range page.Channels {
			s.registerConversation(wc)
		}
		if next := page.ResponseMetadata.NextCursor; next != "" {
			s.loadConversations(next, done)
			return
		}
		done()
	}, params...)
}

// registerConversation records one roster entry and seeds its sync
// state from the remote's view.
func (s *Session) registerConversation(wc workspace.WireChannel) {
	if wc.IsIM {
		if wc.User != "" {
			s.registry.LinkDM(wc.ID, wc.User)
		}
		s.registry.SetOpen(wc.ID, wc.IsOpen)
	} else {
		s.registry.UpsertChannel(wc)
		s.registry.SetOpen(wc.ID, wc.IsMember)
	}
	if wc.LastRead != "" {
		if ts, err := workspace.ParseTimestamp(wc.LastRead); err == nil {
			s.registry.SetLastRead(wc.ID, ts)
		}
	}
}

// subscribePresence asks the stream for presence updates on DM peers.
func (s *Session) subscribePresence() {
	ids := s.registry.OpenDMs()
	if len(ids) == 0 {
		return
	}
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil {
		return
	}
	if err := stream.Send("presence_sub", map[string]any{"ids": ids}); err != nil {
		s.logger.Warn("presence subscription failed", "error", err)
	}
}

func (s *Session) loginFailed(err error) {
	if api.AuthFailure(err) {
		s.logger.Error("credential rejected", "error", err)
	} else {
		s.logger.Error("login failed", "error", err)
	}
	s.end(err)
}

// Stop disconnects locally. Safe to call at any point in the lifecycle.
func (s *Session) Stop() {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream != nil {
		stream.Close() // teardown continues in Closed
		return
	}
	s.end(nil)
}

// Closed implements rtm.Handler: the stream is gone, take the session
// down with it.
func (s *Session) Closed(err error) {
	s.end(err)
}

// end tears the session down exactly once: cancel queued API work,
// stop timers, and notify the sink.
func (s *Session) end(err error) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.mu.Unlock()

	s.caller.DisconnectAll()
	s.marker.Stop()
	s.typing.Stop()
	s.sink.Disconnected(err)
}

// HistoricMessage implements history.Sink: backfilled messages join the
// same delivery path as live ones.
func (s *Session) HistoricMessage(msg workspace.Message) {
	s.sink.Message(msg)
}

// MarkDisplayed records that the host showed conv to the user, which
// schedules a read-position push.
func (s *Session) MarkDisplayed(conv string) {
	s.marker.MarkRead(conv)
}

// ConversationOpened tells the session the host opened conv through its
// own flow, releasing history fetches deferred while it was closed.
func (s *Session) ConversationOpened(conv string) {
	s.registry.SetOpen(conv, true)
	s.hist.ConversationOpened(conv)
}
