// ABOUTME: Tests for queued dispatch, throttle retry, and disconnect semantics
// ABOUTME: Uses httptest servers and a fake clock for the retry delay

package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient(t *testing.T, srv *httptest.Server, clock clockwork.Clock) *Client {
	t.Helper()
	return NewClient(Options{
		BaseURL:    srv.URL,
		Token:      "xoxp-test",
		HTTPClient: srv.Client(),
		Clock:      clock,
		Logger:     testLogger(),
	})
}

type outcome struct {
	endpoint string
	err      error
}

// outcomes collects callback resolutions in arrival order.
type outcomes struct {
	mu   sync.Mutex
	got  []outcome
	wake chan struct{}
}

func newOutcomes() *outcomes {
	return &outcomes{wake: make(chan struct{}, 64)}
}

func (o *outcomes) cb(endpoint string) Callback {
	return func(_ json.RawMessage, err error) {
		o.mu.Lock()
		o.got = append(o.got, outcome{endpoint, err})
		o.mu.Unlock()
		o.wake <- struct{}{}
	}
}

func (o *outcomes) waitFor(t *testing.T, n int) []outcome {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		o.mu.Lock()
		if len(o.got) >= n {
			snapshot := append([]outcome(nil), o.got...)
			o.mu.Unlock()
			return snapshot
		}
		o.mu.Unlock()
		select {
		case <-o.wake:
		case <-deadline:
			t.Fatalf("timed out waiting for %d outcomes", n)
		}
	}
}

func okResponse(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, `{"ok":true}`)
}

func TestClient_FIFOSingleSlot(t *testing.T) {
	var mu sync.Mutex
	var served []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		served = append(served, r.URL.Path)
		mu.Unlock()
		okResponse(w)
	}))
	defer srv.Close()

	c := testClient(t, srv, clockwork.NewRealClock())
	res := newOutcomes()
	c.Call("first", res.cb("first"))
	c.Call("second", res.cb("second"))
	c.Call("third", res.cb("third"))

	got := res.waitFor(t, 3)
	var order []string
	for _, o := range got {
		require.NoError(t, o.err)
		order = append(order, o.endpoint)
	}
	assert.Equal(t, []string{"first", "second", "third"}, order)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/first", "/second", "/third"}, served)
}

func TestClient_RateLimitedRetriesAtHead(t *testing.T) {
	var mu sync.Mutex
	var served []string
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		served = append(served, r.URL.Path)
		first := r.URL.Path == "/throttled" && attempts == 0
		if r.URL.Path == "/throttled" {
			attempts++
		}
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if first {
			io.WriteString(w, `{"ok":false,"error":"ratelimited"}`)
			return
		}
		okResponse(w)
	}))
	defer srv.Close()

	clock := clockwork.NewFakeClock()
	c := testClient(t, srv, clock)
	res := newOutcomes()
	c.Call("throttled", res.cb("throttled"))
	c.Call("queued", res.cb("queued"))

	// The throttled call parks at the head; nothing resolves until the
	// retry timer fires.
	clock.BlockUntil(1)
	res.mu.Lock()
	assert.Empty(t, res.got)
	res.mu.Unlock()

	clock.Advance(DefaultRateLimitDelay)
	got := res.waitFor(t, 2)
	assert.Equal(t, "throttled", got[0].endpoint, "retried call resolves before later submissions")
	assert.Equal(t, "queued", got[1].endpoint)
	for _, o := range got {
		assert.NoError(t, o.err)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/throttled", "/throttled", "/queued"}, served)
}

func TestClient_ApplicationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"ok":false,"error":"channel_not_found"}`)
	}))
	defer srv.Close()

	c := testClient(t, srv, clockwork.NewRealClock())
	res := newOutcomes()
	c.Call("conversations.info", res.cb("conversations.info"))

	got := res.waitFor(t, 1)
	var apiErr *Error
	require.ErrorAs(t, got[0].err, &apiErr)
	assert.Equal(t, "channel_not_found", apiErr.Code)
}

func TestClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(t, srv, clockwork.NewRealClock())
	res := newOutcomes()
	c.Call("auth.test", res.cb("auth.test"))

	got := res.waitFor(t, 1)
	require.Error(t, got[0].err)
	var apiErr *Error
	assert.False(t, errors.As(got[0].err, &apiErr), "transport failures are not application errors")
}

func TestClient_DisconnectAllResolvesEverythingOnce(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		okResponse(w)
	}))
	defer srv.Close()
	defer close(release)

	c := testClient(t, srv, clockwork.NewRealClock())
	res := newOutcomes()
	c.Call("slow", res.cb("slow"))
	c.Call("waiting-a", res.cb("waiting-a"))
	c.Call("waiting-b", res.cb("waiting-b"))

	// Wait until the first call is actually on the wire so the other
	// two are still queued.
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first call never reached the server")
	}

	c.DisconnectAll()
	got := res.waitFor(t, 3)
	for _, o := range got {
		assert.ErrorIs(t, o.err, ErrDisconnected, "endpoint %s", o.endpoint)
	}

	// Idempotent: nothing pending, nothing resolved twice.
	c.DisconnectAll()
	time.Sleep(50 * time.Millisecond)
	res.mu.Lock()
	assert.Len(t, res.got, 3)
	res.mu.Unlock()
}

func TestClient_UsableAfterDisconnectAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		okResponse(w)
	}))
	defer srv.Close()

	c := testClient(t, srv, clockwork.NewRealClock())
	c.DisconnectAll()

	res := newOutcomes()
	c.Call("auth.test", res.cb("auth.test"))
	got := res.waitFor(t, 1)
	assert.NoError(t, got[0].err)
}

func TestClient_DisconnectAllCancelsParkedRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"ok":false,"error":"ratelimited"}`)
	}))
	defer srv.Close()

	clock := clockwork.NewFakeClock()
	c := testClient(t, srv, clock)
	res := newOutcomes()
	c.Call("throttled", res.cb("throttled"))

	clock.BlockUntil(1) // parked, timer armed
	c.DisconnectAll()

	got := res.waitFor(t, 1)
	assert.ErrorIs(t, got[0].err, ErrDisconnected)

	// The stopped timer must not resurrect the call.
	clock.Advance(2 * DefaultRateLimitDelay)
	time.Sleep(50 * time.Millisecond)
	res.mu.Lock()
	assert.Len(t, res.got, 1)
	res.mu.Unlock()
}

func TestClient_PostBodyPreservesOrder(t *testing.T) {
	var body string
	var auth, contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		auth = r.Header.Get("Authorization")
		contentType = r.Header.Get("Content-Type")
		okResponse(w)
	}))
	defer srv.Close()

	c := testClient(t, srv, clockwork.NewRealClock())
	res := newOutcomes()
	c.Post("chat.postMessage", res.cb("chat.postMessage"),
		P("channel", "C1"), P("text", `say "hi"`), P("as_user", "true"))
	res.waitFor(t, 1)

	assert.Equal(t, `{"channel":"C1","text":"say \"hi\"","as_user":"true"}`, body)
	assert.Equal(t, "Bearer xoxp-test", auth)
	assert.Contains(t, contentType, "application/json")
}

func TestClient_GetQueryPreservesOrder(t *testing.T) {
	var rawQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawQuery = r.URL.RawQuery
		okResponse(w)
	}))
	defer srv.Close()

	c := testClient(t, srv, clockwork.NewRealClock())
	res := newOutcomes()
	c.Call("conversations.history", res.cb("conversations.history"),
		P("channel", "C1"), P("oldest", "100.000001"), P("limit", "200"))
	res.waitFor(t, 1)

	assert.Equal(t, "channel=C1&oldest=100.000001&limit=200", rawQuery)
}

func TestAuthFailure(t *testing.T) {
	assert.True(t, AuthFailure(&Error{Code: "invalid_auth"}))
	assert.True(t, AuthFailure(&Error{Code: "not_authed"}))
	assert.True(t, AuthFailure(&Error{Code: "account_inactive"}))
	assert.False(t, AuthFailure(&Error{Code: "channel_not_found"}))
	assert.False(t, AuthFailure(io.EOF))
	assert.False(t, AuthFailure(nil))
}
