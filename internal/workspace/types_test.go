// ABOUTME: Tests for wire-shape decoding and conversion to transcript entries
// ABOUTME: Covers nested edit payloads and thread parent/reply classification

package workspace

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWireMessage_ToMessage(t *testing.T) {
	var wm WireMessage
	require.NoError(t, json.Unmarshal([]byte(`{"type":"message","subtype":"message_changed",
		"channel":"C1","message":{"ts":"10.000001","user":"U1","text":"edited"}}`), &wm))

	// The raw nested payload decodes independently of the converter.
	var inner WireMessage
	require.NoError(t, json.Unmarshal(wm.Message, &inner))

	msg, err := inner.ToMessage("C1")
	require.NoError(t, err)
	assert.Equal(t, "10.000001", msg.TS.String())
	assert.Equal(t, "U1", msg.User)
	assert.Equal(t, "edited", msg.Text)
	assert.Equal(t, "C1", msg.Conv)

	_, err = WireMessage{TS: "garbage"}.ToMessage("C1")
	assert.Error(t, err)
}

func TestMessage_ThreadClassification(t *testing.T) {
	parent := Message{TS: MustParseTimestamp("10.000000"), ThreadTS: "10.000000"}
	assert.True(t, parent.IsThreadParent())
	assert.False(t, parent.IsThreadReply())

	reply := Message{TS: MustParseTimestamp("11.000000"), ThreadTS: "10.000000"}
	assert.False(t, reply.IsThreadParent())
	assert.True(t, reply.IsThreadReply())

	plain := Message{TS: MustParseTimestamp("12.000000")}
	assert.False(t, plain.IsThreadParent())
	assert.False(t, plain.IsThreadReply())
}
