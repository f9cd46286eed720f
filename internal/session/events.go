// ABOUTME: Pushed-event routing from the stream into registry, sink, history
// ABOUTME: Message subtypes, typing, presence, DM lifecycle, channel lifecycle

package session

import (
	"encoding/json"
	"fmt"

	"github.com/2389/slack-bridge/internal/workspace"
)

// HandleEvent implements rtm.Handler. Unknown event types are logged
// and dropped; only unroutable frames (handled a layer down) are fatal.
func (s *Session) HandleEvent(typ string, raw json.RawMessage) {
	switch typ {
	case "hello":
		s.onHello()
	case "message":
		s.onMessage(raw)
	case "user_typing":
		s.onUserTyping(raw)
	case "presence_change":
		s.onPresenceChange(raw)
	case "im_open":
		s.onIMOpen(raw)
	case "im_close":
		s.onIMClose(raw)
	case "im_created":
		s.onIMCreated(raw)
	case "channel_joined", "group_joined":
		s.onChannelJoined(raw)
	case "channel_left", "group_left":
		s.onChannelLeft(raw)
	case "member_joined_channel", "member_left_channel":
		s.onMembership(typ, raw)
	case "user_change", "team_join":
		s.onUserChange(raw)
	case "channel_created", "channel_rename", "group_rename":
		s.onChannelUpsert(raw)
	case "channel_archive", "group_archive":
		s.onChannelArchive(raw, true)
	case "channel_unarchive", "group_unarchive":
		s.onChannelArchive(raw, false)
	case "goodbye":
		// The remote is about to drop us; surface it as a stream loss
		// so the host reconnects.
		s.logger.Info("remote said goodbye")
	default:
		s.logger.Debug("unhandled event", "type", typ)
	}
}

func (s *Session) onMessage(raw json.RawMessage) {
	var wm workspace.WireMessage
	if err := json.Unmarshal(raw, &wm); err != nil {
		s.logger.Warn("message event undecodable", "error", err)
		return
	}
	if wm.Hidden && wm.Subtype != "message_changed" && wm.Subtype != "message_deleted" {
		return
	}

	switch wm.Subtype {
	case "message_changed":
		s.onMessageChanged(wm)
	case "message_deleted":
		s.onMessageDeleted(wm)
	case "message_replied":
		s.onMessageReplied(wm)
	case "channel_topic", "group_topic":
		s.onTopicChange(wm)
	default:
		s.deliverLive(wm)
	}
}

// deliverLive handles a plain inbound message (including
// thread_broadcast and bot messages, which keep their subtype).
func (s *Session) deliverLive(wm workspace.WireMessage) {
	msg, err := wm.ToMessage(wm.Channel)
	if err != nil {
		s.logger.Warn("live message has bad order key", "error", err)
		return
	}
	if !s.registry.AdvanceLastMessage(msg.Conv, msg.TS) {
		return // replay of something already delivered
	}
	if msg.User != "" {
		s.typing.Clear(msg.User)
	}
	s.sink.Message(msg)

	if s.registry.IsSelf(msg.User) {
		s.registry.SetLastSent(msg.Conv, msg.TS)
	}
}

// seenEvent reports whether this exact event was already processed.
// An envelope whose ack got lost is redelivered with the same event_ts.
func (s *Session) seenEvent(wm workspace.WireMessage) bool {
	key := wm.EventTS
	if key == "" {
		key = wm.TS
	}
	if key == "" {
		return false
	}
	return s.seen.CheckAndMark(wm.Channel + "\x00" + wm.Subtype + "\x00" + key)
}

func (s *Session) onMessageChanged(wm workspace.WireMessage) {
	if s.seenEvent(wm) {
		return
	}
	var inner workspace.WireMessage
	if err := json.Unmarshal(wm.Message, &inner); err != nil {
		s.logger.Warn("message_changed payload undecodable", "error", err)
		return
	}
	msg, err := inner.ToMessage(wm.Channel)
	if err != nil {
		s.logger.Warn("message_changed has bad order key", "error", err)
		return
	}
	msg.Subtype = "message_changed"
	s.sink.Message(msg)
}

func (s *Session) onMessageDeleted(wm workspace.WireMessage) {
	if s.seenEvent(wm) {
		return
	}
	var prev workspace.WireMessage
	text := ""
	if len(wm.Previous) > 0 && json.Unmarshal(wm.Previous, &prev) == nil {
		text = prev.Text
	}
	if text != "" {
		s.sink.Notice(wm.Channel, fmt.Sprintf("message deleted: %s", text))
	} else {
		s.sink.Notice(wm.Channel, "message deleted")
	}
}

// onMessageReplied keeps threads current: the parent's reply metadata
// changed, so fetch what we haven't seen.
func (s *Session) onMessageReplied(wm workspace.WireMessage) {
	if !s.cfg.History.DisplayThreads || !s.cfg.History.FetchThreadHistory {
		return
	}
	var inner workspace.WireMessage
	if err := json.Unmarshal(wm.Message, &inner); err != nil || inner.ThreadTS == "" {
		return
	}
	latest, err := workspace.ParseTimestamp(inner.LatestReply)
	if err != nil || !latest.After(s.registry.LastMessage(wm.Channel)) {
		return
	}
	s.hist.FetchThread(wm.Channel, inner.ThreadTS, false)
}

func (s *Session) onTopicChange(wm workspace.WireMessage) {
	s.registry.SetTopic(wm.Channel, wm.Topic)
	s.sink.Topic(wm.Channel, wm.Topic)
}

func (s *Session) onUserTyping(raw json.RawMessage) {
	var ev struct {
		User    string `json:"user"`
		Channel string `json:"channel"`
	}
	if json.Unmarshal(raw, &ev) != nil || ev.User == "" {
		return
	}
	if s.registry.IsSelf(ev.User) {
		return
	}
	s.typing.UserTyping(ev.User, ev.Channel)
}

func (s *Session) onPresenceChange(raw json.RawMessage) {
	var ev struct {
		User     string   `json:"user"`
		Users    []string `json:"users"`
		Presence string   `json:"presence"`
	}
	if json.Unmarshal(raw, &ev) != nil {
		return
	}
	ids := ev.Users
	if ev.User != "" {
		ids = append(ids, ev.User)
	}
	for _, id := range ids {
		if s.registry.SetPresence(id, ev.Presence) {
			s.sink.Presence(id, ev.Presence)
		}
	}
}

func (s *Session) onIMOpen(raw json.RawMessage) {
	var ev struct {
		User    string `json:"user"`
		Channel string `json:"channel"`
	}
	if json.Unmarshal(raw, &ev) != nil || ev.Channel == "" {
		return
	}
	s.registry.LinkDM(ev.Channel, ev.User)
	s.registry.SetOpen(ev.Channel, true)
	s.hist.ConversationOpened(ev.Channel)
}

func (s *Session) onIMClose(raw json.RawMessage) {
	var ev struct {
		Channel string `json:"channel"`
	}
	if json.Unmarshal(raw, &ev) != nil || ev.Channel == "" {
		return
	}
	s.registry.SetOpen(ev.Channel, false)
	s.registry.UnlinkDM(ev.Channel)
}

func (s *Session) onIMCreated(raw json.RawMessage) {
	var ev struct {
		User    string                `json:"user"`
		Channel workspace.WireChannel `json:"channel"`
	}
	if json.Unmarshal(raw, &ev) != nil || ev.Channel.ID == "" {
		return
	}
	s.registry.LinkDM(ev.Channel.ID, ev.User)
	s.registry.SetOpen(ev.Channel.ID, ev.Channel.IsOpen)
}

func (s *Session) onChannelJoined(raw json.RawMessage) {
	var ev struct {
		Channel workspace.WireChannel `json:"channel"`
	}
	if json.Unmarshal(raw, &ev) != nil || ev.Channel.ID == "" {
		return
	}
	s.registry.UpsertChannel(ev.Channel)
	s.registry.SetOpen(ev.Channel.ID, true)
	s.hist.ConversationOpened(ev.Channel.ID)
}

func (s *Session) onChannelLeft(raw json.RawMessage) {
	var ev struct {
		Channel string `json:"channel"`
	}
	if json.Unmarshal(raw, &ev) != nil || ev.Channel == "" {
		return
	}
	s.registry.SetOpen(ev.Channel, false)
}

func (s *Session) onMembership(typ string, raw json.RawMessage) {
	var ev struct {
		User    string `json:"user"`
		Channel string `json:"channel"`
	}
	if json.Unmarshal(raw, &ev) != nil || ev.Channel == "" {
		return
	}
	name := ev.User
	if u, ok := s.registry.UserByID(ev.User); ok {
		name = u.Name
	}
	if typ == "member_joined_channel" {
		s.sink.Notice(ev.Channel, fmt.Sprintf("%s joined", name))
	} else {
		s.sink.Notice(ev.Channel, fmt.Sprintf("%s left", name))
	}
}

func (s *Session) onUserChange(raw json.RawMessage) {
	var ev struct {
		User workspace.WireUser `json:"user"`
	}
	if json.Unmarshal(raw, &ev) != nil || ev.User.ID == "" {
		return
	}
	s.registry.UpsertUser(ev.User)
}

func (s *Session) onChannelUpsert(raw json.RawMessage) {
	var ev struct {
		Channel workspace.WireChannel `json:"channel"`
	}
	if json.Unmarshal(raw, &ev) != nil || ev.Channel.ID == "" {
		return
	}
	s.registry.UpsertChannel(ev.Channel)
}

func (s *Session) onChannelArchive(raw json.RawMessage, archived bool) {
	var ev struct {
		Channel string `json:"channel"`
	}
	if json.Unmarshal(raw, &ev) != nil || ev.Channel == "" {
		return
	}
	kind := workspace.ChannelPublic
	if archived {
		kind = workspace.ChannelDeleted
	}
	s.registry.SetChannelKind(ev.Channel, kind)
}
