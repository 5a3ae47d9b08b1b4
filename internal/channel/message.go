package channel

import (
	"encoding/json"
	"time"
)

// Well-known message kinds exchanged with the host process. The channel
// itself only interprets the liveness and completion kinds; everything else
// is passed through to the registered handler.
const (
	// KindSendMessage carries an outbound chat request.
	KindSendMessage = "SEND_MESSAGE"

	// KindHeartbeat is the periodic liveness probe.
	KindHeartbeat = "HEARTBEAT"

	// KindPong is the host's reply to a heartbeat.
	KindPong = "PONG"

	// KindStreamChunk carries an incremental text delta for a request.
	KindStreamChunk = "STREAM_CHUNK"

	// KindStreamEnd signals completion of a streamed request. Subject to
	// request-id de-duplication: late or duplicate ends are dropped.
	KindStreamEnd = "STREAM_END"

	// KindStreamError signals a failed streamed request.
	KindStreamError = "STREAM_ERROR"

	// KindResponse is a point-to-point reply to a [Channel.Request] exchange.
	KindResponse = "RESPONSE"
)

// Message is the envelope for every frame crossing the channel, in both
// directions.
type Message struct {
	// Kind discriminates the payload.
	Kind string `json:"kind"`

	// Payload is the kind-specific body.
	Payload json.RawMessage `json:"payload,omitempty"`

	// RequestID correlates messages belonging to a response-expecting
	// exchange. Every message that originates such an exchange carries one;
	// responses with an unknown id are ignored.
	RequestID string `json:"requestId,omitempty"`

	// Timestamp is the sender's clock in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// stamp fills in the timestamp if the caller left it zero.
func (m Message) stamp() Message {
	if m.Timestamp == 0 {
		m.Timestamp = time.Now().UnixMilli()
	}
	return m
}
