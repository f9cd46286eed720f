// ABOUTME: Queued HTTP client with a single in-flight slot and throttle retry
// ABOUTME: DisconnectAll resolves every pending call with ErrDisconnected, once

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	// DefaultRateLimitDelay is how long a throttled call waits at the
	// head of the queue before its next attempt.
	DefaultRateLimitDelay = 15 * time.Second

	// maxResponseBytes caps how much of a response body we will read.
	maxResponseBytes = 4 << 20
)

// Options configures a Client. BaseURL and Token are required; zero
// values elsewhere select defaults.
type Options struct {
	BaseURL string // e.g. "https://slack.example.com/api"
	Token   string

	HTTPClient     *http.Client
	Clock          clockwork.Clock
	Logger         *slog.Logger
	RateLimitDelay time.Duration
	MaxInFlight    int // concurrent transport operations, default 1
}

// call is one queued unit of work. done is guarded by the client mutex
// and enforces exactly-once resolution.
type call struct {
	method   string
	endpoint string
	params   []Param
	cb       Callback

	ctx    context.Context
	cancel context.CancelFunc
	done   bool
}

// Client serializes calls to the remote API. Submissions are accepted
// from any goroutine; callbacks run on the transport goroutine and must
// not block for long.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	clock   clockwork.Clock
	logger  *slog.Logger
	delay   time.Duration
	slots   int

	mu         sync.Mutex
	queue      []*call
	inFlight   map[*call]struct{}
	parked     bool // head of queue is waiting out a throttle delay
	retryTimer clockwork.Timer
}

// NewClient builds a Client from opts.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	delay := opts.RateLimitDelay
	if delay <= 0 {
		delay = DefaultRateLimitDelay
	}
	slots := opts.MaxInFlight
	if slots <= 0 {
		slots = 1
	}
	return &Client{
		baseURL:  opts.BaseURL,
		token:    opts.Token,
		http:     httpClient,
		clock:    clock,
		logger:   logger.With("component", "api"),
		delay:    delay,
		slots:    slots,
		inFlight: make(map[*call]struct{}),
	}
}

// Call enqueues a GET request. Params become the query string, in
// order. cb may be nil when the result is irrelevant.
func (c *Client) Call(endpoint string, cb Callback, params ...Param) {
	c.submit(http.MethodGet, endpoint, cb, params)
}

// Post enqueues a POST request with a JSON object body built from
// params, preserving order.
func (c *Client) Post(endpoint string, cb Callback, params ...Param) {
	c.submit(http.MethodPost, endpoint, cb, params)
}

func (c *Client) submit(method, endpoint string, cb Callback, params []Param) {
	ctx, cancel := context.WithCancel(context.Background())
	cl := &call{
		method:   method,
		endpoint: endpoint,
		params:   params,
		cb:       cb,
		ctx:      ctx,
		cancel:   cancel,
	}
	c.mu.Lock()
	c.queue = append(c.queue, cl)
	c.dispatchLocked()
	c.mu.Unlock()
}

// dispatchLocked starts queued calls while slots are free. A parked
// head blocks all dispatch until its retry timer fires, preserving
// submission order.
func (c *Client) dispatchLocked() {
	for !c.parked && len(c.queue) > 0 && len(c.inFlight) < c.slots {
		cl := c.queue[0]
		c.queue = c.queue[1:]
		c.inFlight[cl] = struct{}{}
		go c.execute(cl)
	}
}

func (c *Client) execute(cl *call) {
	result, throttled, err := c.perform(cl)
	if throttled {
		c.park(cl)
		return
	}
	c.resolve(cl, result, err)
}

// perform runs one transport attempt. throttled means the remote asked
// us to slow down and the call must be retried, not resolved.
func (c *Client) perform(cl *call) (result json.RawMessage, throttled bool, err error) {
	req, err := c.buildRequest(cl)
	if err != nil {
		return nil, false, fmt.Errorf("building request for %s: %w", cl.endpoint, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if cl.ctx.Err() != nil {
			// Cancelled by DisconnectAll; resolution already happened.
			return nil, false, ErrDisconnected
		}
		return nil, false, fmt.Errorf("calling %s: %w", cl.endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, false, fmt.Errorf("reading %s response: %w", cl.endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("calling %s: unexpected status %d", cl.endpoint, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, false, fmt.Errorf("decoding %s response: %w", cl.endpoint, err)
	}
	if !env.OK {
		if env.Error == rateLimitedCode {
			return nil, true, nil
		}
		return nil, false, &Error{Code: env.Error}
	}
	return json.RawMessage(body), false, nil
}

func (c *Client) buildRequest(cl *call) (*http.Request, error) {
	target := c.baseURL + "/" + cl.endpoint
	var body io.Reader
	if cl.method == http.MethodPost {
		body = bytes.NewReader(encodeJSONObject(cl.params))
	} else if len(cl.params) > 0 {
		target += "?" + encodeQuery(cl.params)
	}
	req, err := http.NewRequestWithContext(cl.ctx, cl.method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if cl.method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	return req, nil
}

// park reinserts a throttled call at the head of the queue and arms the
// retry timer. The head blocks dispatch until the timer fires.
func (c *Client) park(cl *call) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, cl)
	if cl.done {
		// DisconnectAll won the race; nothing left to retry.
		return
	}
	c.logger.Warn("rate limited, retrying", "endpoint", cl.endpoint, "delay", c.delay)
	c.queue = append([]*call{cl}, c.queue...)
	c.parked = true
	c.retryTimer = c.clock.AfterFunc(c.delay, c.unpark)
}

func (c *Client) unpark() {
	c.mu.Lock()
	c.parked = false
	c.retryTimer = nil
	c.dispatchLocked()
	c.mu.Unlock()
}

// resolve delivers a terminal outcome exactly once, then frees the slot.
func (c *Client) resolve(cl *call, result json.RawMessage, err error) {
	c.mu.Lock()
	delete(c.inFlight, cl)
	already := cl.done
	cl.done = true
	c.mu.Unlock()

	cl.cancel()
	if !already && cl.cb != nil {
		cl.cb(result, err)
	}

	c.mu.Lock()
	c.dispatchLocked()
	c.mu.Unlock()
}

// DisconnectAll cancels the in-flight transport operations and resolves
// every pending call with ErrDisconnected, in queue order. Safe to call
// repeatedly and from callbacks; later calls find nothing pending.
func (c *Client) DisconnectAll() {
	c.mu.Lock()
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.parked = false

	var pending []*call
	for cl := range c.inFlight {
		if !cl.done {
			cl.done = true
			pending = append(pending, cl)
		}
	}
	for _, cl := range c.queue {
		if !cl.done {
			cl.done = true
			pending = append(pending, cl)
		}
	}
	c.queue = nil
	c.mu.Unlock()

	for _, cl := range pending {
		cl.cancel()
		if cl.cb != nil {
			cl.cb(nil, ErrDisconnected)
		}
	}
}

// encodeQuery renders params as a query string in submission order.
func encodeQuery(params []Param) string {
	var b bytes.Buffer
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.Value))
	}
	return b.String()
}

// encodeJSONObject renders params as a flat JSON object in submission
// order. Values are always strings; the remote coerces types itself.
func encodeJSONObject(params []Param) []byte {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, p := range params {
		if i > 0 {
			b.WriteByte(',')
		}
		key, _ := json.Marshal(p.Key)
		b.Write(key)
		b.WriteByte(':')
		val, _ := json.Marshal(p.Value)
		b.Write(val)
	}
	b.WriteByte('}')
	return b.Bytes()
}
