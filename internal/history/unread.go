// ABOUTME: Unread backfill: turns users.counts into history jobs at login
// ABOUTME: Fetches each conversation with unreads since its read position

package history

import (
	"encoding/json"

	"github.com/2389/slack-bridge/internal/workspace"
)

// countsEntry is one conversation's unread summary from users.counts.
type countsEntry struct {
	ID          string `json:"id"`
	UnreadCount int    `json:"unread_count"`
	LastRead    string `json:"last_read"`
}

// FetchUnread queries the remote for unread counts and queues a history
// job per conversation with unreads, bounded below by its read
// position. done, when non-nil, fires after the jobs are queued (not
// after they run).
func (r *Resolver) FetchUnread(done func(err error)) {
	r.caller.Call("users.counts", func(result json.RawMessage, err error) {
		if err != nil {
			r.logger.Warn("unread counts unavailable", "error", err)
			if done != nil {
				done(err)
			}
			return
		}
		var counts struct {
			Channels []countsEntry `json:"channels"`
			Groups   []countsEntry `json:"groups"`
			IMs      []countsEntry `json:"ims"`
			MPIMs    []countsEntry `json:"mpims"`
		}
		if err := json.Unmarshal(result, &counts); err != nil {
			r.logger.Warn("unread counts undecodable", "error", err)
			if done != nil {
				done(err)
			}
			return
		}
		queued := 0
		for _, group := range [][]countsEntry{counts.Channels, counts.Groups, counts.IMs, counts.MPIMs} {
			for _, entry := range group {
				if entry.UnreadCount <= 0 {
					continue
				}
				var since workspace.Timestamp
				if entry.LastRead != "" {
					if ts, err := workspace.ParseTimestamp(entry.LastRead); err == nil {
						since = ts
					}
				}
				r.FetchConversation(entry.ID, since, entry.UnreadCount)
				queued++
			}
		}
		r.logger.Info("unread backfill queued", "conversations", queued)
		if done != nil {
			done(nil)
		}
	})
}
