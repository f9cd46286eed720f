// ABOUTME: Rate-limited outbound caller for the remote workspace API
// ABOUTME: FIFO queue, single in-flight slot, retry-on-throttle, one-shot callbacks

// Package api dispatches request/response calls to the remote workspace
// API. The remote is globally rate-limited per credential, so calls are
// admitted through a FIFO queue with (by default) a single in-flight
// slot: the next call dispatches only after the previous one reaches a
// terminal resolution.
//
// # Outcomes
//
// Every submitted call resolves its callback exactly once:
//
//   - success: the decoded response payload
//   - application error: the remote said ok=false with an error code
//   - transport error: connection, timeout, or decode failure
//   - disconnected: DisconnectAll cancelled the call
//
// The one exception is the remote's rate-limit signal: a call that
// comes back with the "ratelimited" error code is not resolved. It is
// parked at the head of the queue and retried after a configurable
// delay (default 15s), indefinitely. There is no backoff growth and no
// retry cap — an operational choice favoring eventual completion over
// fast failure; sustained throttling can postpone a call indefinitely.
package api
