package speech

import "encoding/json"

// Wire frame types for the session-scoped synthesis protocol. The session
// speaks JSON text frames over its own WebSocket, independent of the
// reconnecting host channel.
const (
	frameInit      = "init"
	frameText      = "text"
	frameClose     = "close"
	frameReady     = "ready"
	frameAudio     = "audio"
	frameDone      = "done"
	frameError     = "error"
	frameAlignment = "alignment"
)

// initFrame negotiates the session: voice, optional model, optional speed.
type initFrame struct {
	Type    string  `json:"type"`
	VoiceID string  `json:"voiceId"`
	ModelID string  `json:"modelId,omitempty"`
	Speed   float64 `json:"speed,omitempty"`
}

// textFrame carries one text fragment. Flush asks the remote to synthesize
// immediately instead of waiting for more text; it is set on the trailing
// fragment at stream end so a final sub-sentence is never lost.
type textFrame struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Flush bool   `json:"flush,omitempty"`
}

// closeFrame asks the remote to finish the stream gracefully.
type closeFrame struct {
	Type string `json:"type"`
}

// inboundFrame is the union of all frames the remote may send.
type inboundFrame struct {
	Type string `json:"type"`

	// Audio is base64-encoded audio data on "audio" frames.
	Audio string `json:"audio,omitempty"`

	// Message describes the failure on "error" frames.
	Message string `json:"message,omitempty"`

	// Alignment carries character timing data on "alignment" frames.
	// Reserved: parsed and surfaced but not required for correctness.
	Alignment json.RawMessage `json:"alignment,omitempty"`
}
