// ABOUTME: Call parameter, callback, and error types for the outbound API
// ABOUTME: Application errors carry the remote's error code string verbatim

package api

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrDisconnected resolves calls cancelled by DisconnectAll. A caller
// receiving it must assume no further completion will occur and must
// not assume the remote applied any side effects.
var ErrDisconnected = errors.New("disconnected")

// rateLimitedCode is the one application error code that triggers the
// automatic retry path instead of resolving the call.
const rateLimitedCode = "ratelimited"

// Param is one ordered key/value request parameter. Parameters are
// encoded in submission order.
type Param struct {
	Key   string
	Value string
}

// P is shorthand for constructing a Param.
func P(key, value string) Param {
	return Param{Key: key, Value: value}
}

// Callback receives a call's terminal resolution: the raw response
// payload on success, or a non-nil error. It is invoked exactly once.
type Callback func(result json.RawMessage, err error)

// Error is an application-level failure: the remote returned a
// well-formed response with ok=false and a non-ratelimit error code.
type Error struct {
	Code string // remote error code, e.g. "channel_not_found"
}

func (e *Error) Error() string {
	return fmt.Sprintf("api error: %s", e.Code)
}

// AuthFailure reports whether err is an application error meaning the
// credential is unusable, so the session should give up rather than
// reconnect.
func AuthFailure(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case "not_authed", "invalid_auth", "account_inactive", "token_revoked", "token_expired":
		return true
	}
	return false
}

// envelope is the common response wrapper: a success indicator and, on
// failure, an error code string.
type envelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}
