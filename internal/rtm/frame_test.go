// ABOUTME: Tests for error-field decoding across the remote's two shapes
// ABOUTME: Object form with msg, bare string form, and garbage fallback

package rtm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeErrorField(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"object form", `{"code":2,"msg":"message text is missing"}`, "message text is missing"},
		{"string form", `"invalid_channel"`, "invalid_channel"},
		{"empty", ``, "unknown error"},
		{"object without msg", `{"code":2}`, `{"code":2}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, decodeErrorField(json.RawMessage(tc.raw)))
		})
	}
}
