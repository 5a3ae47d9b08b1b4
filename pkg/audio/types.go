// Package audio defines the playback-side types and I/O seams of the speech
// delivery pipeline: encoded frames arriving off the wire, decoded PCM frames,
// and the Clock/Sink/Decoder interfaces that isolate the real audio device so
// the scheduling logic is fully testable without one.
package audio

// DecodedFrame is a block of interleaved PCM samples ready for playback.
type DecodedFrame struct {
	// PCM holds interleaved little-endian samples.
	PCM []int16

	// SampleRate in Hz (e.g., 16000 for pcm_16000, 48000 for Opus).
	SampleRate int

	// Channels: 1 for mono TTS output, 2 for stereo.
	Channels int
}

// Duration returns the playback duration of the frame in seconds.
func (f DecodedFrame) Duration() float64 {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	return float64(len(f.PCM)) / float64(f.SampleRate*f.Channels)
}

// Decoder turns an encoded wire frame into PCM. Implementations keep codec
// state across calls, so a Decoder instance belongs to exactly one stream.
type Decoder interface {
	Decode(data []byte) (DecodedFrame, error)
}

// Clock exposes the shared playback clock. Now returns seconds on a
// monotonically non-decreasing timeline; all scheduling offsets are computed
// against this value.
type Clock interface {
	Now() float64
}

// Sink plays decoded frames on the shared clock.
//
// Play schedules frame to start at the given clock time and invokes onDone
// (from the sink's own goroutine) once the frame has finished playing.
// Scheduling in the past is interpreted as "start immediately".
type Sink interface {
	Clock
	Play(frame DecodedFrame, at float64, onDone func()) error
}
