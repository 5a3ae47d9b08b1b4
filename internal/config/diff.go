package config

// ChangeSet describes what changed between two configs. Only fields that can
// be applied without a restart are tracked; everything else requires a
// process restart to take effect.
type ChangeSet struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VoiceChanged covers voice_id, model_id, and speed. Applied to the
	// next utterance; the active one keeps its session.
	VoiceChanged bool

	// EnvelopeChanged covers the lip-sync tuning block.
	EnvelopeChanged bool
}

// Any reports whether the change set contains anything to apply.
func (c ChangeSet) Any() bool {
	return c.LogLevelChanged || c.VoiceChanged || c.EnvelopeChanged
}

// Diff compares old and new configs and returns the hot-applicable changes.
func Diff(old, new *Config) ChangeSet {
	var d ChangeSet

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Speech.VoiceID != new.Speech.VoiceID ||
		old.Speech.ModelID != new.Speech.ModelID ||
		old.Speech.Speed != new.Speech.Speed {
		d.VoiceChanged = true
	}

	if old.Envelope != new.Envelope {
		d.EnvelopeChanged = true
	}

	return d
}
