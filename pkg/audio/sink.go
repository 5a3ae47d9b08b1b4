package audio

import (
	"encoding/binary"
	"io"
	"log/slog"
	"sync"
	"time"
)

// RealtimeSink plays frames on the wall clock: each frame's PCM is written to
// w at its scheduled start time and onDone fires when the frame's playback
// window has elapsed. The writer is typically a pipe the host renderer
// consumes; a nil writer discards the audio but keeps the timing, which is
// all the lip-sync path needs.
type RealtimeSink struct {
	epoch time.Time

	mu sync.Mutex
	w  io.Writer
}

var _ Sink = (*RealtimeSink)(nil)

// NewRealtimeSink creates a sink whose clock starts at zero now.
func NewRealtimeSink(w io.Writer) *RealtimeSink {
	if w == nil {
		w = io.Discard
	}
	return &RealtimeSink{epoch: time.Now(), w: w}
}

// Now returns seconds elapsed since the sink was created.
func (s *RealtimeSink) Now() float64 {
	return time.Since(s.epoch).Seconds()
}

// Play schedules frame at clock time at. A start time in the past plays
// immediately.
func (s *RealtimeSink) Play(frame DecodedFrame, at float64, onDone func()) error {
	delay := time.Duration((at - s.Now()) * float64(time.Second))
	if delay < 0 {
		delay = 0
	}

	time.AfterFunc(delay, func() {
		buf := make([]byte, len(frame.PCM)*2)
		for i, sample := range frame.PCM {
			binary.LittleEndian.PutUint16(buf[2*i:], uint16(sample))
		}
		s.mu.Lock()
		_, err := s.w.Write(buf)
		s.mu.Unlock()
		if err != nil {
			slog.Warn("audio: sink write failed", "bytes", len(buf), "err", err)
		}
	})
	if onDone != nil {
		playTime := time.Duration(frame.Duration() * float64(time.Second))
		time.AfterFunc(delay+playTime, onDone)
	}
	return nil
}
