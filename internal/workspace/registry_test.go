// ABOUTME: Tests for the workspace registry's paired id/name maps
// ABOUTME: Covers renames, DM linking, and per-conversation watermark state

package workspace

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func wireUser(id, name string) WireUser {
	return WireUser{ID: id, Name: name}
}

func TestRegistry_UserRenameKeepsMapsAgreeing(t *testing.T) {
	r := testRegistry(t)

	u := r.UpsertUser(wireUser("U1", "alice"))
	byName, ok := r.UserByName("alice")
	require.True(t, ok)
	assert.Same(t, u, byName)

	r.UpsertUser(wireUser("U1", "alice-renamed"))

	_, ok = r.UserByName("alice")
	assert.False(t, ok, "old name must be dropped")
	byName, ok = r.UserByName("alice-renamed")
	require.True(t, ok)
	byID, ok := r.UserByID("U1")
	require.True(t, ok)
	assert.Same(t, byID, byName)
}

func TestRegistry_ChannelRename(t *testing.T) {
	r := testRegistry(t)

	r.UpsertChannel(WireChannel{ID: "C1", Name: "general"})
	r.UpsertChannel(WireChannel{ID: "C1", Name: "general-2"})

	_, ok := r.ChannelByName("general")
	assert.False(t, ok)
	c, ok := r.ChannelByName("general-2")
	require.True(t, ok)
	assert.Equal(t, "C1", c.ID)
}

func TestRegistry_SetTopic(t *testing.T) {
	r := testRegistry(t)
	r.UpsertChannel(WireChannel{ID: "C1", Name: "general"})

	require.True(t, r.SetTopic("C1", "launch day"))
	c, ok := r.ChannelByID("C1")
	require.True(t, ok)
	assert.Equal(t, "launch day", c.Topic)

	assert.False(t, r.SetTopic("C404", "nope"))
}

func TestRegistry_TopicUpdatesDuringRosterLoad(t *testing.T) {
	// Topic-change events arrive on stream goroutines while the roster
	// is still loading on API-callback goroutines; both writers must go
	// through the registry lock.
	r := testRegistry(t)
	wc := WireChannel{ID: "C1", Name: "general"}
	wc.Topic.Value = "roster topic"
	r.UpsertChannel(wc)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				r.UpsertChannel(wc)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				r.SetTopic("C1", "streamed topic")
			}
		}()
	}
	wg.Wait()

	c, ok := r.ChannelByID("C1")
	require.True(t, ok)
	assert.Contains(t, []string{"roster topic", "streamed topic"}, c.Topic)
}

func TestRegistry_LinkDM(t *testing.T) {
	r := testRegistry(t)
	r.UpsertUser(wireUser("U1", "alice"))

	require.True(t, r.LinkDM("D1", "U1"))
	u, ok := r.DMUser("D1")
	require.True(t, ok)
	assert.Equal(t, "U1", u.ID)
	assert.Equal(t, "D1", u.DMChannel)

	// Re-link to a new DM conversation drops the old one.
	require.True(t, r.LinkDM("D2", "U1"))
	_, ok = r.DMUser("D1")
	assert.False(t, ok)
	u, ok = r.DMUser("D2")
	require.True(t, ok)
	assert.Equal(t, "D2", u.DMChannel)

	r.UnlinkDM("D2")
	_, ok = r.DMUser("D2")
	assert.False(t, ok)
	assert.Empty(t, u.DMChannel)
}

func TestRegistry_LinkDMUnknownUser(t *testing.T) {
	r := testRegistry(t)
	assert.False(t, r.LinkDM("D1", "U404"))
}

func TestRegistry_AdvanceLastMessageOnlyForward(t *testing.T) {
	r := testRegistry(t)

	assert.True(t, r.AdvanceLastMessage("C1", MustParseTimestamp("5.000000")))
	assert.False(t, r.AdvanceLastMessage("C1", MustParseTimestamp("3.000000")),
		"older key must not move the watermark")
	assert.False(t, r.AdvanceLastMessage("C1", MustParseTimestamp("5.000000")),
		"equal key must not move the watermark")
	assert.True(t, r.AdvanceLastMessage("C1", MustParseTimestamp("7.000000")))
	assert.Equal(t, "7.000000", r.LastMessage("C1").String())
}

func TestRegistry_ReadUpToLatest(t *testing.T) {
	r := testRegistry(t)

	// Nothing delivered yet: no mark warranted.
	_, ok := r.ReadUpToLatest("C1")
	assert.False(t, ok)

	r.AdvanceLastMessage("C1", MustParseTimestamp("10.000001"))
	read, ok := r.ReadUpToLatest("C1")
	require.True(t, ok)
	assert.Equal(t, "10.000001", read.String())

	marked := r.CommitMark("C1")
	assert.Equal(t, "10.000001", marked.String())

	// Already marked at latest: another read changes nothing.
	_, ok = r.ReadUpToLatest("C1")
	assert.False(t, ok)
}

func TestRegistry_ThreadSelection(t *testing.T) {
	r := testRegistry(t)
	assert.Empty(t, r.ThreadSelection("C1"))
	r.SetThreadSelection("C1", "100.000001")
	assert.Equal(t, "100.000001", r.ThreadSelection("C1"))
	r.SetThreadSelection("C1", "")
	assert.Empty(t, r.ThreadSelection("C1"))
}

func TestRegistry_Self(t *testing.T) {
	r := testRegistry(t)
	assert.False(t, r.IsSelf(""))
	r.SetSelf("U9")
	assert.True(t, r.IsSelf("U9"))
	assert.False(t, r.IsSelf("U1"))
	assert.Equal(t, "U9", r.SelfID())
}
