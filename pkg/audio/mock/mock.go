// Package mock provides in-memory fakes of the audio seams for testing:
// a Sink with a manually advanced clock and a configurable Decoder. Scheduling
// logic tested against these fakes observes exact start times with no real
// audio device and no wall-clock dependence.
package mock

import (
	"errors"
	"sync"

	"github.com/vocello/vocello/pkg/audio"
)

// Play records a single scheduled frame on a [Sink].
type Play struct {
	Frame audio.DecodedFrame
	At    float64
	Done  bool

	onDone func()
}

// Sink is a fake [audio.Sink] driven by a manual clock.
//
// Frames are recorded in scheduling order. Completion callbacks fire only when
// the test advances the clock past a frame's end time, which lets tests
// interleave scheduling and completion deterministically.
type Sink struct {
	mu    sync.Mutex
	now   float64
	plays []*Play
}

// Compile-time interface assertion.
var _ audio.Sink = (*Sink)(nil)

// NewSink creates a Sink whose clock starts at startTime seconds.
func NewSink(startTime float64) *Sink {
	return &Sink{now: startTime}
}

// Now returns the current manual clock time.
func (s *Sink) Now() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Play records the scheduled frame. The completion callback fires from
// [Sink.Advance].
func (s *Sink) Play(frame audio.DecodedFrame, at float64, onDone func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plays = append(s.plays, &Play{Frame: frame, At: at, onDone: onDone})
	return nil
}

// Advance moves the clock to t and fires the completion callback of every
// frame whose end time has been reached, in scheduling order. Callbacks run
// without the lock held so they may call back into the sink.
func (s *Sink) Advance(t float64) {
	s.mu.Lock()
	if t > s.now {
		s.now = t
	}

	var fire []func()
	for _, p := range s.plays {
		if !p.Done && p.At+p.Frame.Duration() <= s.now {
			p.Done = true
			if p.onDone != nil {
				fire = append(fire, p.onDone)
			}
		}
	}
	s.mu.Unlock()

	for _, fn := range fire {
		fn()
	}
}

// CompleteNext advances the clock to the end of the earliest unfinished frame
// and fires its callback. It reports whether such a frame existed.
func (s *Sink) CompleteNext() bool {
	s.mu.Lock()
	var next *Play
	for _, p := range s.plays {
		if !p.Done {
			next = p
			break
		}
	}
	s.mu.Unlock()

	if next == nil {
		return false
	}
	s.Advance(next.At + next.Frame.Duration())
	return true
}

// Plays returns a snapshot of all scheduled frames in scheduling order.
func (s *Sink) Plays() []Play {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Play, len(s.plays))
	for i, p := range s.plays {
		out[i] = *p
	}
	return out
}

// ErrBadFrame is returned by [Decoder.Decode] for payloads registered via
// [Decoder.FailOn].
var ErrBadFrame = errors.New("mock: undecodable frame")

// Decoder is a fake [audio.Decoder] that turns each input byte into one PCM
// sample, so a frame of n bytes at the configured rate has a precisely known
// duration. Specific payloads can be made to fail decoding.
type Decoder struct {
	// SampleRate reported on decoded frames. Defaults to 1000 so that one
	// byte equals exactly one millisecond of audio.
	SampleRate int

	mu      sync.Mutex
	bad     map[string]struct{}
	decoded int
}

// Compile-time interface assertion.
var _ audio.Decoder = (*Decoder)(nil)

// FailOn registers a payload that Decode will reject with [ErrBadFrame].
func (d *Decoder) FailOn(payload []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bad == nil {
		d.bad = make(map[string]struct{})
	}
	d.bad[string(payload)] = struct{}{}
}

// Decoded returns how many frames have been successfully decoded.
func (d *Decoder) Decoded() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.decoded
}

// Decode maps each payload byte to one sample.
func (d *Decoder) Decode(data []byte) (audio.DecodedFrame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.bad[string(data)]; ok {
		return audio.DecodedFrame{}, ErrBadFrame
	}

	rate := d.SampleRate
	if rate <= 0 {
		rate = 1000
	}
	pcm := make([]int16, len(data))
	for i, b := range data {
		pcm[i] = int16(b)
	}
	d.decoded++
	return audio.DecodedFrame{PCM: pcm, SampleRate: rate, Channels: 1}, nil
}
