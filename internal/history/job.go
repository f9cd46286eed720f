// ABOUTME: History job descriptor and coalescing key
// ABOUTME: Plain fetches key by conversation, thread fetches by conversation+thread

package history

import (
	"github.com/google/uuid"

	"github.com/2389/slack-bridge/internal/workspace"
)

// Job describes one history fetch. A job targets either a
// conversation's main transcript (ThreadTS empty) or one thread.
type Job struct {
	ID   uuid.UUID
	Conv string

	// Since bounds the fetch: only messages strictly newer are
	// requested. Zero means "as far back as the page limit allows".
	Since workspace.Timestamp

	// MaxCount caps the total messages fetched across pages; zero or
	// negative means no cap beyond the configured page limit.
	MaxCount int

	// ThreadTS selects a thread fetch via the replies endpoint.
	ThreadTS string

	// ForceParent delivers the thread parent itself, used when the
	// parent was never shown in the main transcript.
	ForceParent bool

	collected []workspace.WireMessage
}

// key identifies the job's target for replace-if-queued coalescing.
// The NUL separator cannot occur in ids, so plain and thread jobs for
// the same conversation never collide.
func (j *Job) key() string {
	if j.ThreadTS == "" {
		return j.Conv
	}
	return j.Conv + "\x00" + j.ThreadTS
}

func newJob(conv string, since workspace.Timestamp, maxCount int, threadTS string, forceParent bool) *Job {
	return &Job{
		ID:          uuid.New(),
		Conv:        conv,
		Since:       since,
		MaxCount:    maxCount,
		ThreadTS:    threadTS,
		ForceParent: forceParent,
	}
}
