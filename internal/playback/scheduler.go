// Package playback implements gapless scheduling of streamed audio frames.
//
// Frames arrive from the network faster or slower than real time; the
// scheduler decodes them strictly in arrival order and schedules each one on
// the shared audio clock so that consecutive frames play back-to-back with no
// gap and no overlap. End-of-stream is detected only when the upstream has
// signalled completion AND the queue has drained naturally, so a graceful
// close never cuts off audio that was already received.
package playback

import (
	"log/slog"
	"sync"

	"github.com/vocello/vocello/pkg/audio"
)

// DefaultQueueCapacity bounds the number of encoded frames waiting for decode.
// On overflow the oldest queued frame is evicted: for live speech, dropping a
// stale chunk is less harmful than growing end-to-end latency without bound.
const DefaultQueueCapacity = 10

// Option configures a [Scheduler] during construction.
type Option func(*Scheduler)

// WithQueueCapacity overrides [DefaultQueueCapacity].
func WithQueueCapacity(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithOnAudioEnd registers fn to be invoked exactly once when playback has
// fully ended: completion signalled, queue drained, and no frame playing.
func WithOnAudioEnd(fn func()) Option {
	return func(s *Scheduler) { s.onAudioEnd = fn }
}

// WithOnFrameDropped registers fn to be invoked whenever a queued frame is
// evicted on overflow or skipped due to a decode failure.
func WithOnFrameDropped(fn func(reason string)) Option {
	return func(s *Scheduler) { s.onFrameDropped = fn }
}

// Scheduler owns one session's playback queue and clock position.
// All exported methods are safe for concurrent use; decode and scheduling are
// strictly sequential — the next frame is popped only after the current
// frame's playback completes, so frames are never reordered even if decode
// latencies differ.
type Scheduler struct {
	sink audio.Sink
	dec  audio.Decoder

	capacity       int
	onAudioEnd     func()
	onFrameDropped func(reason string)

	mu           sync.Mutex
	queue        [][]byte
	nextPlayTime float64
	playing      bool // a frame is scheduled on the sink and not yet complete
	finished     bool // upstream signalled no more input
	ended        bool // audio-end already fired (or suppressed by Discard)
}

// New creates a Scheduler playing through sink with frames decoded by dec.
func New(sink audio.Sink, dec audio.Decoder, opts ...Option) *Scheduler {
	s := &Scheduler{
		sink:     sink,
		dec:      dec,
		capacity: DefaultQueueCapacity,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enqueue appends an encoded frame to the queue, evicting the oldest queued
// frame when the queue is full, and starts playback if the scheduler is idle.
func (s *Scheduler) Enqueue(frame []byte) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	if len(s.queue) >= s.capacity {
		s.queue = s.queue[1:]
		slog.Warn("playback: frame queue full, evicting oldest frame",
			"capacity", s.capacity)
		if s.onFrameDropped != nil {
			s.onFrameDropped("overflow")
		}
	}
	s.queue = append(s.queue, frame)

	if s.playing {
		s.mu.Unlock()
		return
	}
	s.pumpLocked()
}

// Finish marks that no more frames will arrive. If the queue is already
// drained and nothing is playing, the audio-end callback fires immediately;
// otherwise it fires when playback drains naturally.
func (s *Scheduler) Finish() {
	s.mu.Lock()
	s.finished = true
	if s.playing || len(s.queue) > 0 {
		s.mu.Unlock()
		return
	}
	s.endLocked()
}

// Discard drops all queued frames and suppresses the audio-end callback.
// Used for hard cancellation; a frame already handed to the sink plays out.
func (s *Scheduler) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = nil
	s.finished = true
	s.ended = true
}

// Pending returns the number of frames waiting for decode. Nonzero Pending or
// an in-flight frame means end-of-stream has not been reached yet.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.queue)
	if s.playing {
		n++
	}
	return n
}

// pumpLocked pops and plays the next decodable frame. Called with s.mu held;
// releases the lock before returning.
func (s *Scheduler) pumpLocked() {
	for len(s.queue) > 0 {
		frame := s.queue[0]
		s.queue = s.queue[1:]

		decoded, err := s.dec.Decode(frame)
		if err != nil {
			// Malformed frames are skipped, never fatal to the session.
			slog.Warn("playback: dropping undecodable frame",
				"bytes", len(frame), "err", err)
			if s.onFrameDropped != nil {
				s.onFrameDropped("decode")
			}
			continue
		}

		start := s.nextPlayTime
		if now := s.sink.Now(); now > start {
			start = now
		}
		s.nextPlayTime = start + decoded.Duration()
		s.playing = true
		s.mu.Unlock()

		err = s.sink.Play(decoded, start, s.frameDone)
		if err != nil {
			slog.Warn("playback: sink rejected frame", "err", err)
			s.mu.Lock()
			s.playing = false
			continue
		}
		return
	}

	// Queue drained.
	if s.finished {
		s.endLocked()
		return
	}
	s.mu.Unlock()
}

// frameDone is the sink completion callback for the frame in flight.
func (s *Scheduler) frameDone() {
	s.mu.Lock()
	s.playing = false
	s.pumpLocked()
}

// endLocked fires the audio-end callback exactly once. Called with s.mu held;
// releases the lock before returning.
func (s *Scheduler) endLocked() {
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	fn := s.onAudioEnd
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
}
