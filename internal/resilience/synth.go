package resilience

import "context"

// Synthesizer produces a complete utterance in one request. It is the
// non-streaming escape hatch used when a streaming speech session dies before
// delivering any audio.
type Synthesizer interface {
	// Synthesize returns the full encoded audio for text spoken by voiceID.
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}

// SynthFallback implements [Synthesizer] with failover across multiple
// synthesis backends, each guarded by its own circuit breaker.
type SynthFallback struct {
	group *FallbackGroup[Synthesizer]
}

var _ Synthesizer = (*SynthFallback)(nil)

// NewSynthFallback creates a [SynthFallback] preferring primary.
func NewSynthFallback(primary Synthesizer, primaryName string, cfg FallbackConfig) *SynthFallback {
	return &SynthFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional synthesis backend.
func (f *SynthFallback) AddFallback(name string, s Synthesizer) {
	f.group.AddFallback(name, s)
}

// Synthesize returns audio from the first healthy backend.
func (f *SynthFallback) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	return TryWithResult(f.group, func(s Synthesizer) ([]byte, error) {
		return s.Synthesize(ctx, text, voiceID)
	})
}
