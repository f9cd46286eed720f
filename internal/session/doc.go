// ABOUTME: Session orchestration: login, roster load, event routing, sends
// ABOUTME: Ties the API client, event stream, history, and thread layers together

// Package session runs one logged-in connection to a workspace. It
// drives the login sequence (open the socket URL, verify the
// credential, load the roster), routes pushed events to the registry
// and the presentation sink, and exposes the outbound operations a
// host embeds: sending, typing, presence, edits, thread selection, and
// read marking.
//
// A Session is single-use. When the stream dies or Stop is called, all
// queued API work is cancelled, timers stop, and the sink's
// Disconnected fires; reconnecting means building a new Session.
package session
