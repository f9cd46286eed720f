// ABOUTME: Console transcript sink: renders session events to stdout
// ABOUTME: Color-codes speakers, threads, presence, and inline notices

package main

import (
	"fmt"
	"sync"

	"github.com/fatih/color"

	"github.com/2389/slack-bridge/internal/session"
	"github.com/2389/slack-bridge/internal/workspace"
)

var (
	speakerColor  = color.New(color.FgCyan, color.Bold)
	threadColor   = color.New(color.FgMagenta)
	noticeColor   = color.New(color.FgYellow)
	presenceColor = color.New(color.FgGreen)
	historicColor = color.New(color.Faint)
)

// consoleSink prints the session transcript. It buffers the terminal
// with a mutex so interleaved goroutines produce whole lines.
type consoleSink struct {
	mu   sync.Mutex
	sess *session.Session
	done chan error

	showParentIndicator bool
	doneOnce            sync.Once
}

func newConsoleSink(showParentIndicator bool) *consoleSink {
	return &consoleSink{
		done:                make(chan error, 1),
		showParentIndicator: showParentIndicator,
	}
}

// attach wires the session back-reference used for name lookups. Must
// run before Start.
func (c *consoleSink) attach(sess *session.Session) {
	c.sess = sess
}

// convName renders a conversation id as "#channel" or "@peer".
func (c *consoleSink) convName(convID string) string {
	reg := c.sess.Registry()
	if ch, ok := reg.ChannelByID(convID); ok && ch.Name != "" {
		return "#" + ch.Name
	}
	if u, ok := reg.DMUser(convID); ok {
		return "@" + u.Name
	}
	return convID
}

func (c *consoleSink) userName(userID, fallback string) string {
	if fallback != "" {
		return fallback
	}
	if u, ok := c.sess.Registry().UserByID(userID); ok && u.Name != "" {
		return u.Name
	}
	return userID
}

func (c *consoleSink) Message(msg workspace.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := ""
	if msg.IsThreadReply() {
		prefix = threadColor.Sprintf("↪ [%s] ", msg.ThreadTS)
	} else if c.showParentIndicator && msg.IsThreadParent() {
		prefix = threadColor.Sprint("✦ ")
	}

	speaker := speakerColor.Sprint(c.userName(msg.User, msg.Username))
	line := fmt.Sprintf("%s %s%s: %s", c.convName(msg.Conv), prefix, speaker, msg.Text)
	if msg.Subtype == "message_changed" {
		line += noticeColor.Sprint(" (edited)")
	}
	if msg.Historic {
		line = historicColor.Sprint(line)
	}
	fmt.Println(line)
}

func (c *consoleSink) Typing(userID, convID string, typing bool) {
	if !typing {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	noticeColor.Printf("%s %s is typing…\n", c.convName(convID), c.userName(userID, ""))
}

func (c *consoleSink) Presence(userID, presence string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	presenceColor.Printf("· %s is now %s\n", c.userName(userID, ""), presence)
}

func (c *consoleSink) Topic(convID, topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	noticeColor.Printf("%s topic: %s\n", c.convName(convID), topic)
}

func (c *consoleSink) Notice(convID, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	noticeColor.Printf("%s %s\n", c.convName(convID), text)
}

func (c *consoleSink) Connected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	presenceColor.Println("connected")
}

func (c *consoleSink) Disconnected(err error) {
	c.mu.Lock()
	if err != nil {
		noticeColor.Printf("disconnected: %v\n", err)
	} else {
		noticeColor.Println("disconnected")
	}
	c.mu.Unlock()
	c.doneOnce.Do(func() { c.done <- err })
}
