// ABOUTME: Session-scoped registry of users, channels, and DM links
// ABOUTME: Paired id/name maps written together, plus per-conversation sync state

package workspace

import (
	"log/slog"
	"sync"
)

// Registry is the session-scoped object table for one workspace. Users
// and channels are each indexed by id and by display name; the two maps
// for an entity kind are only ever written together, preserving the
// invariant that id-lookup and name-lookup agree.
type Registry struct {
	mu sync.RWMutex

	selfID string

	users     map[string]*User // by id
	userNames map[string]*User // by display name
	ims       map[string]*User // DM conversation id -> peer user

	channels     map[string]*Channel // by id
	channelNames map[string]*Channel // by name

	convs map[string]*convState

	logger *slog.Logger
}

// convState is the mutable per-conversation synchronization state.
type convState struct {
	lastMessage Timestamp // newest delivered order key, drives read-marking
	lastRead    Timestamp // where the local user has read up to
	lastMark    Timestamp // last watermark actually sent to the remote
	lastSent    Timestamp // our most recent outbound message (edit/delete target)
	threadTS    string    // current thread selection, "" means channel
	open        bool      // transport channel opened / chat joined
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		users:        make(map[string]*User),
		userNames:    make(map[string]*User),
		ims:          make(map[string]*User),
		channels:     make(map[string]*Channel),
		channelNames: make(map[string]*Channel),
		convs:        make(map[string]*convState),
		logger:       logger.With("component", "workspace"),
	}
}

// SetSelf records the authenticated user's id.
func (r *Registry) SetSelf(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selfID = id
}

// SelfID returns the authenticated user's id, or "" before login completes.
func (r *Registry) SelfID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selfID
}

// IsSelf reports whether id is the authenticated user.
func (r *Registry) IsSelf(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return id != "" && id == r.selfID
}

// UpsertUser creates or updates a user from its wire form, keeping the
// id and name maps consistent through renames.
func (r *Registry) UpsertUser(w WireUser) *User {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[w.ID]
	if !ok {
		u = &User{ID: w.ID}
		r.users[w.ID] = u
	}

	name := w.DisplayName()
	if u.Name != name {
		if u.Name != "" && r.userNames[u.Name] == u {
			delete(r.userNames, u.Name)
		}
		u.Name = name
		if name != "" {
			r.userNames[name] = u
		}
	}
	u.RealName = w.Profile.RealName
	u.Deleted = w.Deleted
	return u
}

// UserByID looks a user up by id.
func (r *Registry) UserByID(id string) (*User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	return u, ok
}

// UserByName looks a user up by display name.
func (r *Registry) UserByName(name string) (*User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.userNames[name]
	return u, ok
}

// SetPresence records a presence update for a user. Returns false when
// the user is unknown.
func (r *Registry) SetPresence(userID, presence string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return false
	}
	u.Presence = presence
	return true
}

// UpsertChannel creates or updates a channel from its wire form.
func (r *Registry) UpsertChannel(w WireChannel) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.channels[w.ID]
	if !ok {
		c = &Channel{ID: w.ID}
		r.channels[w.ID] = c
	}

	if w.Name != "" && c.Name != w.Name {
		if c.Name != "" && r.channelNames[c.Name] == c {
			delete(r.channelNames, c.Name)
		}
		c.Name = w.Name
		r.channelNames[w.Name] = c
	}
	if k := w.Kind(); k != ChannelUnknown {
		c.Kind = k
	}
	c.IsMember = w.IsMember
	if w.Topic.Value != "" {
		c.Topic = w.Topic.Value
	}
	return c
}

// SetTopic updates a channel's topic from a streamed topic-change
// event. Returns false when the channel is unknown.
func (r *Registry) SetTopic(id, topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.channels[id]
	if !ok {
		return false
	}
	c.Topic = topic
	return true
}

// SetChannelKind updates only the lifecycle classification of a channel.
func (r *Registry) SetChannelKind(id string, kind ChannelKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.channels[id]
	if !ok {
		return false
	}
	c.Kind = kind
	return true
}

// ChannelByID looks a channel up by id.
func (r *Registry) ChannelByID(id string) (*Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.channels[id]
	return c, ok
}

// ChannelByName looks a channel up by name.
func (r *Registry) ChannelByName(name string) (*Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.channelNames[name]
	return c, ok
}

// LinkDM associates an open DM conversation with its peer user. Any
// previous DM link for the user is dropped first so that the im map
// and the user's DMChannel field stay in step.
func (r *Registry) LinkDM(convID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		r.logger.Warn("DM for unknown user", "conv_id", convID, "user_id", userID)
		return false
	}
	if u.DMChannel != "" && u.DMChannel != convID {
		delete(r.ims, u.DMChannel)
	}
	u.DMChannel = convID
	r.ims[convID] = u
	return true
}

// UnlinkDM removes the DM association for a conversation (im_close).
func (r *Registry) UnlinkDM(convID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.ims[convID]; ok {
		u.DMChannel = ""
		delete(r.ims, convID)
	}
}

// DMUser returns the peer user of a DM conversation.
func (r *Registry) DMUser(convID string) (*User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.ims[convID]
	return u, ok
}

// OpenDMs returns the user ids of all linked DM peers, for presence
// subscription after login.
func (r *Registry) OpenDMs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.ims))
	for _, u := range r.ims {
		ids = append(ids, u.ID)
	}
	return ids
}

// KnownConversation reports whether id names a known channel or DM.
func (r *Registry) KnownConversation(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.channels[id]; ok {
		return true
	}
	_, ok := r.ims[id]
	return ok
}

func (r *Registry) conv(id string) *convState {
	cs, ok := r.convs[id]
	if !ok {
		cs = &convState{}
		r.convs[id] = cs
	}
	return cs
}

// AdvanceLastMessage moves the conversation's newest-message watermark
// forward to ts if ts is newer. The check and the set happen under one
// lock acquisition, so interleaved fetches cannot lose updates.
func (r *Registry) AdvanceLastMessage(convID string, ts Timestamp) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs := r.conv(convID)
	if !ts.After(cs.lastMessage) {
		return false
	}
	cs.lastMessage = ts
	return true
}

// LastMessage returns the newest delivered order key for a conversation.
func (r *Registry) LastMessage(convID string) Timestamp {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cs, ok := r.convs[convID]; ok {
		return cs.lastMessage
	}
	return Timestamp{}
}

// ReadUpToLatest advances the conversation's read position to the
// newest delivered message. It returns the new read watermark and true
// when a remote mark is warranted, or false when the remote mark is
// already at or past the newest message.
func (r *Registry) ReadUpToLatest(convID string) (Timestamp, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs := r.conv(convID)
	if cs.lastMessage.Compare(cs.lastMark) <= 0 {
		return cs.lastMark, false
	}
	cs.lastRead = cs.lastMessage
	return cs.lastRead, true
}

// CommitMark records that the remote mark was sent for the current read
// position and returns the marked watermark.
func (r *Registry) CommitMark(convID string) Timestamp {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs := r.conv(convID)
	cs.lastMark = cs.lastRead
	return cs.lastMark
}

// SetLastRead seeds the read watermark from the remote's view (used when
// conversation metadata arrives with a last_read field).
func (r *Registry) SetLastRead(convID string, ts Timestamp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs := r.conv(convID)
	cs.lastRead = ts
	if ts.After(cs.lastMark) {
		cs.lastMark = ts
	}
}

// LastRead returns the conversation's read watermark.
func (r *Registry) LastRead(convID string) Timestamp {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cs, ok := r.convs[convID]; ok {
		return cs.lastRead
	}
	return Timestamp{}
}

// SetLastSent records the order key of our most recent outbound message,
// the target for edit-last and delete-last operations.
func (r *Registry) SetLastSent(convID string, ts Timestamp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conv(convID).lastSent = ts
}

// LastSent returns the order key of our most recent outbound message.
func (r *Registry) LastSent(convID string) Timestamp {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cs, ok := r.convs[convID]; ok {
		return cs.lastSent
	}
	return Timestamp{}
}

// SetThreadSelection switches the conversation's current thread. An
// empty ts selects the channel itself.
func (r *Registry) SetThreadSelection(convID, ts string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conv(convID).threadTS = ts
}

// ThreadSelection returns the conversation's current thread selection.
func (r *Registry) ThreadSelection(convID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cs, ok := r.convs[convID]; ok {
		return cs.threadTS
	}
	return ""
}

// SetOpen flags whether the conversation's transport channel is open.
func (r *Registry) SetOpen(convID string, open bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conv(convID).open = open
}

// IsOpen reports whether the conversation's transport channel is open.
func (r *Registry) IsOpen(convID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cs, ok := r.convs[convID]; ok {
		return cs.open
	}
	return false
}
