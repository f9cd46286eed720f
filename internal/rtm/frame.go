// ABOUTME: Wire frame shapes for the realtime socket and their decode helpers
// ABOUTME: Handles both object-form and string-form error fields in replies

package rtm

import "encoding/json"

// inboundFrame is the superset of fields we inspect on every inbound
// frame. Which fields are set determines how the frame is routed.
type inboundFrame struct {
	EnvelopeID string          `json:"envelope_id"`
	Payload    envelopePayload `json:"payload"`
	Type       string          `json:"type"`
	ReplyTo    *int64          `json:"reply_to"`
	OK         *bool           `json:"ok"`
	Error      json.RawMessage `json:"error"`
}

type envelopePayload struct {
	Event json.RawMessage `json:"event"`
}

// eventType pulls the type field out of a wrapped event.
type eventType struct {
	Type string `json:"type"`
}

// ack is the acknowledgement sent back for each delivery envelope.
type ack struct {
	EnvelopeID string `json:"envelope_id"`
}

// decodeErrorField extracts a human-readable message from a reply's
// error field, which the remote sends either as {"msg": "..."} or as a
// bare string.
func decodeErrorField(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "unknown error"
	}
	var obj struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Msg != "" {
		return obj.Msg
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return s
	}
	return string(raw)
}
