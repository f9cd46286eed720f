// ABOUTME: Core workspace entity types: users, channels, messages
// ABOUTME: Wire-shape JSON structs shared by the API and stream layers

package workspace

import (
	"encoding/json"
	"fmt"
)

// ChannelKind classifies a conversation channel.
type ChannelKind int

const (
	ChannelUnknown ChannelKind = iota
	ChannelPublic               // public channel
	ChannelPrivate              // private channel / group
	ChannelMPIM                 // multi-person direct message
	ChannelDeleted              // archived or deleted
)

// User is a workspace member. DMChannel links the user to their
// one-to-one conversation channel, when one has been opened.
type User struct {
	ID        string
	Name      string
	RealName  string
	Presence  string // "active" or "away"
	DMChannel string // conversation id of the open DM, or ""
	Deleted   bool
}

// Channel is a non-DM conversation.
type Channel struct {
	ID       string
	Name     string
	Kind     ChannelKind
	Topic    string
	IsMember bool
}

// Message is one transcript entry as delivered to the presentation
// layer. Text is the raw remote body; rendering is the host's concern.
type Message struct {
	TS       Timestamp
	ThreadTS string // parent order key when part of a thread, else ""
	User     string // author user id
	Username string // bot display-name override, when set
	Subtype  string
	Text     string
	Conv     string // conversation id
	Historic bool   // delivered from a history fetch, not live
}

// IsThreadParent reports whether m starts a thread (its own order key
// is the thread id).
func (m Message) IsThreadParent() bool {
	return m.ThreadTS != "" && m.ThreadTS == m.TS.String()
}

// IsThreadReply reports whether m is a reply inside a thread.
func (m Message) IsThreadReply() bool {
	return m.ThreadTS != "" && m.ThreadTS != m.TS.String()
}

// WireMessage is the JSON shape of a message entry on both the history
// API and the event stream.
type WireMessage struct {
	Type        string          `json:"type"`
	Subtype     string          `json:"subtype"`
	TS          string          `json:"ts"`
	EventTS     string          `json:"event_ts"`
	ThreadTS    string          `json:"thread_ts"`
	User        string          `json:"user"`
	Username    string          `json:"username"`
	Text        string          `json:"text"`
	Channel     string          `json:"channel"`
	LatestReply string          `json:"latest_reply"`
	ReplyCount  int             `json:"reply_count"`
	Hidden      bool            `json:"hidden"`
	Message     json.RawMessage `json:"message"`          // message_changed payload
	Previous    json.RawMessage `json:"previous_message"` // edit/delete predecessor
	Topic       string          `json:"topic"`
}

// ToMessage converts the wire shape into a transcript entry belonging
// to conv. The wire channel field is ignored: history payloads omit it.
func (w WireMessage) ToMessage(conv string) (Message, error) {
	ts, err := ParseTimestamp(w.TS)
	if err != nil {
		return Message{}, fmt.Errorf("message order key %q: %w", w.TS, err)
	}
	return Message{
		TS:       ts,
		ThreadTS: w.ThreadTS,
		User:     w.User,
		Username: w.Username,
		Subtype:  w.Subtype,
		Text:     w.Text,
		Conv:     conv,
	}, nil
}

// WireChannel is the JSON shape of a conversation object.
type WireChannel struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	IsIM        bool   `json:"is_im"`
	IsMPIM      bool   `json:"is_mpim"`
	IsPrivate   bool   `json:"is_private"`
	IsGroup     bool   `json:"is_group"`
	IsMember    bool   `json:"is_member"`
	IsOpen      bool   `json:"is_open"`
	IsArchived  bool   `json:"is_archived"`
	User        string `json:"user"` // peer user id for DMs
	LastRead    string `json:"last_read"`
	Latest      string `json:"latest"`
	UnreadCount int    `json:"unread_count"`
	Topic       struct {
		Value string `json:"value"`
	} `json:"topic"`
}

// Kind derives the ChannelKind from the wire flags.
func (w WireChannel) Kind() ChannelKind {
	switch {
	case w.IsArchived:
		return ChannelDeleted
	case w.IsMPIM:
		return ChannelMPIM
	case w.IsPrivate || w.IsGroup:
		return ChannelPrivate
	}
	return ChannelPublic
}

// WireUser is the JSON shape of a user object.
type WireUser struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Deleted bool   `json:"deleted"`
	Profile struct {
		RealName    string `json:"real_name"`
		DisplayName string `json:"display_name"`
	} `json:"profile"`
}

// DisplayName picks the name used for name-keyed lookups: the display
// name when set, otherwise the account name.
func (w WireUser) DisplayName() string {
	if w.Profile.DisplayName != "" {
		return w.Profile.DisplayName
	}
	return w.Name
}
