// ABOUTME: Outbound operations: send, typing, presence, edit, delete, command
// ABOUTME: Sends honor the conversation's thread selection; failures show inline

package session

import (
	"encoding/json"
	"fmt"

	"github.com/2389/slack-bridge/internal/api"
	"github.com/2389/slack-bridge/internal/thread"
	"github.com/2389/slack-bridge/internal/workspace"
)

// SendMessage sends text to conv over the stream. When a thread is
// selected for conv, the message goes to that thread. Send failures are
// surfaced inline as a notice in the conversation.
func (s *Session) SendMessage(conv, text string) {
	s.sendMessage(conv, text, s.registry.ThreadSelection(conv))
}

// SendToChannel sends text to the conversation itself, ignoring any
// thread selection.
func (s *Session) SendToChannel(conv, text string) {
	s.sendMessage(conv, text, "")
}

// SendToThread resolves ref and sends text into that thread, leaving
// conv's thread selection untouched. Resolution problems surface as
// notices.
func (s *Session) SendToThread(conv, ref, text string) {
	s.threads.Resolve(conv, ref, func(out thread.Outcome) {
		switch out.Kind {
		case thread.Resolved:
			s.sendMessage(conv, text, out.TS.String())
		case thread.NotFound:
			s.sink.Notice(conv, fmt.Sprintf("no thread at %s", ref))
		case thread.Ambiguous:
			s.sink.Notice(conv, describeAmbiguity(ref, out.Candidates))
		case thread.Failed:
			s.sink.Notice(conv, fmt.Sprintf("thread reference %s: %v", ref, out.Err))
		}
	})
}

// FetchReplies resolves ref and queues a backfill of that thread.
func (s *Session) FetchReplies(conv, ref string, includeParent bool) {
	s.threads.Resolve(conv, ref, func(out thread.Outcome) {
		switch out.Kind {
		case thread.Resolved:
			s.hist.FetchThread(conv, out.TS.String(), includeParent)
		case thread.NotFound:
			s.sink.Notice(conv, fmt.Sprintf("no thread at %s", ref))
		case thread.Ambiguous:
			s.sink.Notice(conv, describeAmbiguity(ref, out.Candidates))
		case thread.Failed:
			s.sink.Notice(conv, fmt.Sprintf("thread reference %s: %v", ref, out.Err))
		}
	})
}

// describeAmbiguity renders the competing messages so the user can
// re-reference one by its full key.
func describeAmbiguity(ref string, candidates []thread.Candidate) string {
	text := fmt.Sprintf("%q matches %d messages:", ref, len(candidates))
	for _, c := range candidates {
		text += fmt.Sprintf("\n  %s %s", c.TS, c.Text)
	}
	return text
}

func (s *Session) sendMessage(conv, text, threadTS string) {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil {
		s.sink.Notice(conv, "not connected")
		return
	}

	fields := map[string]any{
		"channel": conv,
		"text":    text,
	}
	if threadTS != "" {
		fields["thread_ts"] = threadTS
	}

	err := stream.Request("message", fields, func(reply json.RawMessage, err error) {
		if err != nil {
			s.sink.Notice(conv, fmt.Sprintf("message not sent: %v", err))
			return
		}
		var ok struct {
			TS string `json:"ts"`
		}
		if json.Unmarshal(reply, &ok) != nil || ok.TS == "" {
			return
		}
		ts, err := workspace.ParseTimestamp(ok.TS)
		if err != nil {
			return
		}
		s.registry.SetLastSent(conv, ts)
		s.registry.AdvanceLastMessage(conv, ts)
	})
	if err != nil {
		s.sink.Notice(conv, fmt.Sprintf("message not sent: %v", err))
	}
}

// SendTyping tells the remote the local user is composing in conv.
func (s *Session) SendTyping(conv string) {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil {
		return
	}
	if err := stream.Send("typing", map[string]any{"channel": conv}); err != nil {
		s.logger.Debug("typing frame not sent", "error", err)
	}
}

// SetPresence switches the account between active and away, and feeds
// the keepalive loop's activity probe.
func (s *Session) SetPresence(active bool) {
	s.active.Store(active)
	presence := "away"
	if active {
		presence = "auto"
	}
	s.caller.Post("users.setPresence", func(_ json.RawMessage, err error) {
		if err != nil {
			s.logger.Warn("presence update failed", "error", err)
		}
	}, api.P("presence", presence))
}

// EditLast rewrites our most recent message in conv. A no-op with a
// notice when nothing was sent this session.
func (s *Session) EditLast(conv, text string) {
	last := s.registry.LastSent(conv)
	if last.IsZero() {
		s.sink.Notice(conv, "nothing to edit")
		return
	}
	s.caller.Post("chat.update", func(_ json.RawMessage, err error) {
		if err != nil {
			s.sink.Notice(conv, fmt.Sprintf("edit failed: %v", err))
		}
	},
		api.P("channel", conv),
		api.P("ts", last.String()),
		api.P("text", text),
	)
}

// DeleteLast removes our most recent message in conv.
func (s *Session) DeleteLast(conv string) {
	last := s.registry.LastSent(conv)
	if last.IsZero() {
		s.sink.Notice(conv, "nothing to delete")
		return
	}
	s.caller.Post("chat.delete", func(_ json.RawMessage, err error) {
		if err != nil {
			s.sink.Notice(conv, fmt.Sprintf("delete failed: %v", err))
			return
		}
		s.registry.SetLastSent(conv, workspace.Timestamp{})
	},
		api.P("channel", conv),
		api.P("ts", last.String()),
	)
}

// Command forwards a slash command to the remote.
func (s *Session) Command(conv, command, text string) {
	s.caller.Post("chat.command", func(_ json.RawMessage, err error) {
		if err != nil {
			s.sink.Notice(conv, fmt.Sprintf("%s failed: %v", command, err))
		}
	},
		api.P("channel", conv),
		api.P("command", command),
		api.P("text", text),
	)
}

// FetchHistory queues a backfill of up to maxCount messages in conv
// since the given watermark. maxCount of 0 fetches nothing; negative
// fetches everything past the watermark.
func (s *Session) FetchHistory(conv string, since workspace.Timestamp, maxCount int) {
	s.hist.FetchConversation(conv, since, maxCount)
}

// FetchThreadHistory queues a backfill of one thread, delivering the
// parent too when it was never shown.
func (s *Session) FetchThreadHistory(conv, threadTS string, includeParent bool) {
	s.hist.FetchThread(conv, threadTS, includeParent)
}
