// Package bus provides a typed in-process publish/subscribe channel used to
// decouple the network layer from audio, animation, and UI consumers.
//
// Delivery is ordered per subscriber and never blocks the publisher: each
// subscriber has a bounded buffer, and when it is full the oldest undelivered
// event is dropped so a slow consumer cannot back-pressure the audio path.
package bus

import (
	"log/slog"
	"sync"
	"time"
)

// Kind identifies the event variant carried by an [Event].
type Kind string

const (
	// KindChannelState signals a Reconnecting Channel state change.
	// Payload: the new state's string form.
	KindChannelState Kind = "channel.state"

	// KindStreamDelta carries an incremental text delta from the host.
	KindStreamDelta Kind = "stream.delta"

	// KindStreamEnd signals the end of a text stream.
	KindStreamEnd Kind = "stream.end"

	// KindStreamError signals a failed text stream.
	KindStreamError Kind = "stream.error"

	// KindSpeakingStarted signals that an utterance began producing audio.
	KindSpeakingStarted Kind = "speaking.started"

	// KindSpeakingStopped signals that an utterance finished or was cancelled.
	KindSpeakingStopped Kind = "speaking.stopped"

	// KindAudioEnded signals that the playback queue for an utterance drained.
	KindAudioEnded Kind = "audio.ended"

	// KindMouthSample carries a mouth-openness sample for the renderer.
	// Payload: float64 in [0,1].
	KindMouthSample Kind = "mouth.sample"
)

// Event is the message envelope flowing over the bus.
type Event struct {
	// Kind discriminates the payload.
	Kind Kind

	// Payload is the event body; its concrete type is fixed per Kind.
	Payload any

	// RequestID correlates the event with a response-expecting exchange.
	// Empty for events that do not originate from such an exchange.
	RequestID string

	// Time is when the event was published.
	Time time.Time
}

// defaultBuffer is the per-subscriber buffer depth.
const defaultBuffer = 64

type subscriber struct {
	ch    chan Event
	kinds map[Kind]struct{} // nil = all kinds
}

func (s *subscriber) wants(k Kind) bool {
	if s.kinds == nil {
		return true
	}
	_, ok := s.kinds[k]
	return ok
}

// Bus fans events out to subscribers. The zero value is not usable; use [New].
// All methods are safe for concurrent use.
type Bus struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	buffer int
	closed bool
}

// Option configures a [Bus] during construction.
type Option func(*Bus)

// WithBuffer sets the per-subscriber buffer depth. Default is 64.
func WithBuffer(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// New creates an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:   make(map[*subscriber]struct{}),
		buffer: defaultBuffer,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Subscribe registers a new subscriber for the given kinds (all kinds when none
// are given) and returns its receive channel plus an unsubscribe function.
// The channel is closed by unsubscribe or by [Bus.Close]; unsubscribe is
// idempotent.
func (b *Bus) Subscribe(kinds ...Kind) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, b.buffer)}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = struct{}{}
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[sub]; ok {
				delete(b.subs, sub)
				close(sub.ch)
			}
			b.mu.Unlock()
		})
	}
	return sub.ch, unsub
}

// Publish delivers ev to every subscriber interested in its kind. When a
// subscriber's buffer is full the oldest buffered event is dropped to make
// room, keeping the publisher non-blocking. Events published after Close are
// discarded.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for sub := range b.subs {
		if !sub.wants(ev.Kind) {
			continue
		}
		for {
			select {
			case sub.ch <- ev:
			default:
				// Buffer full: evict the oldest event and retry.
				select {
				case dropped := <-sub.ch:
					slog.Debug("bus: dropped event for slow subscriber",
						"kind", dropped.Kind)
				default:
				}
				continue
			}
			break
		}
	}
}

// Close shuts the bus down and closes all subscriber channels. Close is
// idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
}
