// ABOUTME: Resolves user-supplied thread references to canonical order keys
// ABOUTME: Accepts raw keys, parses clock times, arbitrates one-second windows

// Package thread turns the loose thread references users type into the
// canonical message order keys the remote requires.
//
// A reference is accepted in three shapes: a canonical key
// ("1503435956.000247", used as-is), a clock time ("14:30:15", resolved
// against today), or a date and time ("2017-08-22 14:30:15" or
// "08/22/17-14:30:15"). Clock
// times name a whole second, so resolution queries the conversation for
// that one-second window and arbitrates: exactly one message resolves,
// none is a miss, and several are reported back as candidates for the
// user to pick from by canonical key.
//
// Successful resolutions are cached per (conversation, input) until the
// conversation's thread selection changes, since a selection change is
// the only local event that alters what a reference should mean.
package thread
