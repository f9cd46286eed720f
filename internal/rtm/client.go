// ABOUTME: Websocket client with id-correlated requests and keepalive pings
// ABOUTME: Protocol violations and transport errors resolve all pending replies

package rtm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"
)

const (
	// DefaultPingInterval is how often the keepalive loop checks in
	// with the remote.
	DefaultPingInterval = 60 * time.Second

	// maxFrameBytes caps outbound frame size. The remote drops the
	// connection on oversized frames, so we refuse locally instead.
	maxFrameBytes = 16 * 1024
)

// ErrClosed resolves requests whose reply can no longer arrive because
// the connection is gone.
var ErrClosed = errors.New("stream closed")

// ErrFrameTooLarge rejects an outbound frame exceeding maxFrameBytes.
var ErrFrameTooLarge = errors.New("frame exceeds 16KiB limit")

// errProtocol tears the connection down when a frame fits none of the
// known shapes.
var errProtocol = errors.New("protocol violation: unroutable frame")

// ReplyFunc receives the correlated reply for a Request: the raw reply
// frame on success, or an error carrying the remote's message.
type ReplyFunc func(reply json.RawMessage, err error)

// Handler receives pushed events and the connection's terminal fate.
// Both are called from the read goroutine; implementations must not
// block for long.
type Handler interface {
	// HandleEvent delivers one pushed event. raw is the full event
	// object, typ its "type" field (may be empty for wrapped events
	// without one).
	HandleEvent(typ string, raw json.RawMessage)

	// Closed fires exactly once when the connection is gone. err is
	// nil for a locally requested close.
	Closed(err error)
}

// State tracks the connection lifecycle.
type State int

const (
	StateInit State = iota
	StateConnecting
	StateEstablished
	StateClosed
)

// Options configures a Client.
type Options struct {
	Handler      Handler
	Clock        clockwork.Clock
	Logger       *slog.Logger
	HTTPClient   *http.Client
	PingInterval time.Duration

	// Active reports whether the user is present; when true the
	// keepalive sends an application-level presence frame instead of
	// a transport ping.
	Active func() bool
}

// Client is a realtime socket connection. A Client is single-use:
// after Closed fires, build a new one to reconnect.
type Client struct {
	handler  Handler
	clock    clockwork.Clock
	logger   *slog.Logger
	http     *http.Client
	pingIvl  time.Duration
	active   func() bool

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	nextID  int64
	pending map[int64]ReplyFunc

	ctx    context.Context
	cancel context.CancelFunc
	closed sync.Once
}

// NewClient builds a Client; call Connect to open the socket.
func NewClient(opts Options) *Client {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pingIvl := opts.PingInterval
	if pingIvl <= 0 {
		pingIvl = DefaultPingInterval
	}
	return &Client{
		handler: opts.Handler,
		clock:   clock,
		logger:  logger.With("component", "rtm"),
		http:    opts.HTTPClient,
		pingIvl: pingIvl,
		active:  opts.Active,
		state:   StateInit,
		nextID:  1,
		pending: make(map[int64]ReplyFunc),
	}
}

// Connect dials the socket URL and starts the read and keepalive
// loops. ctx bounds the dial only; the connection itself lives until
// Close or a transport/protocol failure.
func (c *Client) Connect(ctx context.Context, socketURL string) error {
	c.mu.Lock()
	if c.state != StateInit {
		c.mu.Unlock()
		return fmt.Errorf("connect: client already used (state %d)", c.state)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, socketURL, &websocket.DialOptions{
		HTTPClient: c.http,
	})
	if err != nil {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		return fmt.Errorf("dialing stream: %w", err)
	}
	conn.SetReadLimit(1 << 22)

	c.mu.Lock()
	c.conn = conn
	c.state = StateEstablished
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.mu.Unlock()

	go c.readLoop()
	go c.pingLoop()
	return nil
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Send transmits a fire-and-forget frame of the given type. fields are
// merged into the frame alongside the assigned id.
func (c *Client) Send(typ string, fields map[string]any) error {
	return c.write(typ, fields, nil)
}

// Request transmits a frame and registers cb to receive the correlated
// reply. cb is invoked exactly once: with the reply, with the remote's
// error, or with ErrClosed if the connection dies first. A returned
// error means the frame never went out and cb will not be invoked.
func (c *Client) Request(typ string, fields map[string]any, cb ReplyFunc) error {
	return c.write(typ, fields, cb)
}

// write assigns the next id, registers cb (when given) for the reply,
// marshals, enforces the size cap, and transmits. The id assignment and
// the pending registration share one lock acquisition: the reply can
// arrive on the read goroutine the instant the frame hits the wire, so
// the callback must already be routable. Frame ids are strictly
// increasing across the connection.
func (c *Client) write(typ string, fields map[string]any, cb ReplyFunc) error {
	frame := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		frame[k] = v
	}
	frame["type"] = typ

	c.mu.Lock()
	if c.state != StateEstablished {
		c.mu.Unlock()
		return ErrClosed
	}
	id := c.nextID
	c.nextID++
	if cb != nil {
		c.pending[id] = cb
	}
	conn := c.conn
	ctx := c.ctx
	c.mu.Unlock()

	frame["id"] = id
	var err error
	data, merr := json.Marshal(frame)
	switch {
	case merr != nil:
		err = fmt.Errorf("encoding %s frame: %w", typ, merr)
	case len(data) > maxFrameBytes:
		err = fmt.Errorf("sending %s frame (%d bytes): %w", typ, len(data), ErrFrameTooLarge)
	default:
		if werr := conn.Write(ctx, websocket.MessageText, data); werr != nil {
			err = fmt.Errorf("writing %s frame: %w", typ, werr)
		}
	}
	if err == nil {
		return nil
	}
	if cb != nil && !c.unregister(id) {
		// Teardown consumed the registration and already resolved cb
		// with ErrClosed; the caller must not hear about it twice.
		return nil
	}
	return err
}

// unregister drops a pending registration after a failed write,
// reporting whether it was still ours to drop.
func (c *Client) unregister(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[id]
	delete(c.pending, id)
	return ok
}

// Close shuts the connection down locally. Pending requests resolve
// with ErrClosed and the handler's Closed fires with a nil error.
func (c *Client) Close() {
	c.teardown(nil)
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			c.teardown(fmt.Errorf("reading stream: %w", err))
			return
		}
		if err := c.route(data); err != nil {
			c.teardown(err)
			return
		}
	}
}

// route classifies one inbound frame. Returning a non-nil error is
// connection-fatal.
func (c *Client) route(data []byte) error {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return fmt.Errorf("%w: %v", errProtocol, err)
	}

	switch {
	case frame.EnvelopeID != "":
		// Ack first: the remote redelivers unacked envelopes, and a
		// slow handler must not cause duplicate deliveries.
		if err := c.writeAck(frame.EnvelopeID); err != nil {
			return err
		}
		var et eventType
		_ = json.Unmarshal(frame.Payload.Event, &et)
		c.handler.HandleEvent(et.Type, frame.Payload.Event)
		return nil

	case frame.ReplyTo != nil:
		c.resolveReply(*frame.ReplyTo, data, frame)
		return nil

	case frame.Type != "":
		c.handler.HandleEvent(frame.Type, data)
		return nil

	default:
		return errProtocol
	}
}

func (c *Client) writeAck(envelopeID string) error {
	data, err := json.Marshal(ack{EnvelopeID: envelopeID})
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn, ctx := c.conn, c.ctx
	c.mu.Unlock()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("acking envelope %s: %w", envelopeID, err)
	}
	return nil
}

func (c *Client) resolveReply(id int64, data []byte, frame inboundFrame) {
	c.mu.Lock()
	cb, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		// Replies to ids we never sent (or already resolved) carry no
		// actionable state; dropping one is safe, unlike an unroutable
		// frame.
		c.logger.Warn("reply for unknown frame id", "reply_to", id)
		return
	}
	if frame.OK != nil && !*frame.OK {
		cb(nil, fmt.Errorf("remote rejected frame %d: %s", id, decodeErrorField(frame.Error)))
		return
	}
	cb(json.RawMessage(data), nil)
}

func (c *Client) pingLoop() {
	ticker := c.clock.NewTicker(c.pingIvl)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.Chan():
		}
		if c.active != nil && c.active() {
			// Presence frame doubles as keepalive while the user is
			// around. A failed send closes the stream the same way a
			// failed transport ping does.
			if err := c.Send("tickle", nil); err != nil {
				c.teardown(fmt.Errorf("keepalive send: %w", err))
				return
			}
			continue
		}
		c.mu.Lock()
		conn, ctx := c.conn, c.ctx
		c.mu.Unlock()
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := conn.Ping(pingCtx)
		cancel()
		if err != nil {
			c.teardown(fmt.Errorf("keepalive ping: %w", err))
			return
		}
	}
}

// teardown moves to StateClosed, resolves every pending request with
// ErrClosed in id order, and reports the fate to the handler. Runs its
// body at most once.
func (c *Client) teardown(err error) {
	c.closed.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		conn := c.conn
		pending := c.pending
		c.pending = make(map[int64]ReplyFunc)
		if c.cancel != nil {
			c.cancel()
		}
		c.mu.Unlock()

		if conn != nil {
			if err == nil {
				conn.Close(websocket.StatusNormalClosure, "bye")
			} else {
				conn.Close(websocket.StatusProtocolError, "")
			}
		}

		ids := make([]int64, 0, len(pending))
		for id := range pending {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			pending[id](nil, ErrClosed)
		}

		if err != nil {
			c.logger.Error("stream closed", "error", err)
		} else {
			c.logger.Info("stream closed")
		}
		if c.handler != nil {
			c.handler.Closed(err)
		}
	})
}
