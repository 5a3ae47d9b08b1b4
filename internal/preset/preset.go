// Package preset persists per-voice calibration values so a voice that has
// already been heard animates correctly from the first frame of its next
// utterance instead of re-learning its loudness profile.
package preset

import "context"

// VoicePreset holds the calibrated loudness profile of one voice. GateDb and
// OpenDb are the endpoints of the dB-to-openness mapping; PeakDb and AvgDb
// are the raw calibration measurements they were derived from, kept so a
// preset can be inspected or re-derived with different margins later.
type VoicePreset struct {
	GateDb  float64 `json:"gateDb"`
	OpenDb  float64 `json:"openDb"`
	MaxOpen float64 `json:"maxOpen"`
	PeakDb  float64 `json:"peakDb"`
	AvgDb   float64 `json:"avgDb"`
}

// Store loads and saves voice presets keyed by voice id.
type Store interface {
	// Load returns the preset for voiceID. ok is false when no preset has
	// been saved for that voice yet.
	Load(ctx context.Context, voiceID string) (p VoicePreset, ok bool, err error)

	// LoadAll returns every saved preset keyed by voice id.
	LoadAll(ctx context.Context) (map[string]VoicePreset, error)

	// Save writes the preset for voiceID, replacing any previous one.
	Save(ctx context.Context, voiceID string, p VoicePreset) error

	// Close releases underlying resources.
	Close() error
}
