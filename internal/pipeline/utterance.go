package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vocello/vocello/internal/envelope"
	"github.com/vocello/vocello/internal/observe"
	"github.com/vocello/vocello/internal/playback"
	"github.com/vocello/vocello/internal/resilience"
	"github.com/vocello/vocello/internal/speech"
	"github.com/vocello/vocello/pkg/bus"
	"github.com/vocello/vocello/pkg/segment"
)

// utterance tracks one spoken response from its first text delta to the last
// played audio sample. Its methods are called from the speaker's event loop,
// the session's read goroutine, and the audio sink's completion goroutine.
type utterance struct {
	id      string
	voiceID string
	begun   time.Time
	logger  *slog.Logger
	bus     *bus.Bus
	session *speech.Session
	sched   *playback.Scheduler
	env     *envelope.Extractor
	synth   resilience.Synthesizer
	metrics *observe.Metrics
	onDone  func(id string)

	mu            sync.Mutex
	buffer        string   // text not yet closed by a sentence boundary
	full          strings.Builder
	pending       []string // sentences accumulated before the session was ready
	connected     bool
	streamEnded   bool
	sessionFailed bool
	audioArrived  bool
	started       bool // speaking.started already published
	finished      bool
}

// start begins the session handshake. Text accumulates in pending until the
// remote signals readiness.
func (u *utterance) start(ctx context.Context) {
	go func() {
		if u.session == nil {
			u.onSessionError(nil)
			return
		}
		dialed := time.Now()
		ctx, span := observe.StartUtteranceSpan(ctx, "speech.connect", u.id, u.voiceID)
		ok, err := u.session.Connect(ctx)
		if err != nil {
			span.RecordError(err)
			u.logger.Warn("session connect rejected", "utterance", u.id, "error", err)
		}
		span.End()
		if ok {
			if u.metrics != nil {
				u.metrics.ConnectDuration.Record(ctx, time.Since(dialed).Seconds())
			}
			u.onConnected()
		} else {
			u.onSessionError(err)
		}
	}()
}

// addDelta folds a text delta into the sentence buffer and forwards any
// completed sentences.
func (u *utterance) addDelta(text string) {
	u.mu.Lock()
	if u.finished || u.streamEnded {
		u.mu.Unlock()
		return
	}
	u.full.WriteString(text)
	sentences, rest := segment.Extract(u.buffer + text)
	u.buffer = rest
	connected := u.connected
	if !connected {
		u.pending = append(u.pending, sentences...)
	}
	u.mu.Unlock()

	if connected {
		for _, s := range sentences {
			u.session.SendText(s, false)
		}
	}
}

// endStream marks the text stream complete and flushes the trailing fragment.
func (u *utterance) endStream() {
	u.mu.Lock()
	if u.finished || u.streamEnded {
		u.mu.Unlock()
		return
	}
	u.streamEnded = true
	connected := u.connected
	failed := u.sessionFailed
	var tail string
	if connected {
		tail = u.buffer
		u.buffer = ""
	}
	u.mu.Unlock()

	switch {
	case connected:
		u.session.SendText(tail, true)
	case failed:
		u.fallback()
	}
	// Otherwise the handshake is still in flight; onConnected or
	// onSessionError picks the tail or the fallback up.
}

// onConnected replays text that arrived during the handshake.
func (u *utterance) onConnected() {
	u.mu.Lock()
	if u.finished {
		u.mu.Unlock()
		return
	}
	u.connected = true
	pending := u.pending
	u.pending = nil
	flush := u.streamEnded
	var tail string
	if flush {
		tail = u.buffer
		u.buffer = ""
	}
	u.mu.Unlock()

	for _, s := range pending {
		u.session.SendText(s, false)
	}
	if flush {
		u.session.SendText(tail, true)
	}
}

// onAudio receives one encoded frame from the session's read goroutine.
func (u *utterance) onAudio(frame []byte) {
	u.mu.Lock()
	if u.finished {
		u.mu.Unlock()
		return
	}
	u.audioArrived = true
	first := !u.started
	u.started = true
	u.mu.Unlock()

	if first {
		u.bus.Publish(bus.Event{Kind: bus.KindSpeakingStarted, RequestID: u.id})
	}
	u.sched.Enqueue(frame)
}

// onRemoteFinished handles the remote done frame: all audio for the utterance
// has been enqueued and playback may drain.
func (u *utterance) onRemoteFinished() {
	u.sched.Finish()
}

// onSessionError decides what a dead session means for the utterance: if any
// audio already arrived, what was received plays out; otherwise the whole
// utterance is retried through the synchronous fallback once the text stream
// is complete.
func (u *utterance) onSessionError(err error) {
	u.mu.Lock()
	if u.finished || u.sessionFailed {
		u.mu.Unlock()
		return
	}
	u.sessionFailed = true
	ended := u.streamEnded
	arrived := u.audioArrived
	u.mu.Unlock()

	if err != nil {
		u.logger.Warn("streaming session failed", "utterance", u.id, "error", err)
	}
	if arrived {
		u.sched.Finish()
		return
	}
	if ended {
		u.fallback()
	}
}

// fallback synthesizes the whole utterance in one request. Runs off the event
// loop because it is a blocking network call.
func (u *utterance) fallback() {
	go func() {
		u.mu.Lock()
		text := u.full.String()
		u.mu.Unlock()

		if u.synth == nil || strings.TrimSpace(text) == "" {
			u.sched.Finish()
			return
		}
		data, err := u.synth.Synthesize(context.Background(), text, u.voiceID)
		if err != nil {
			u.logger.Warn("fallback synthesis failed", "utterance", u.id, "error", err)
			if u.metrics != nil {
				u.metrics.RecordFallback(context.Background(), "error")
			}
			u.sched.Finish()
			return
		}
		if u.metrics != nil {
			u.metrics.RecordFallback(context.Background(), "ok")
		}
		u.logger.Info("utterance recovered via fallback synthesis",
			"utterance", u.id, "bytes", len(data))

		u.mu.Lock()
		finished := u.finished
		first := !u.started
		u.started = true
		u.audioArrived = true
		u.mu.Unlock()
		if finished {
			return
		}
		if first {
			u.bus.Publish(bus.Event{Kind: bus.KindSpeakingStarted, RequestID: u.id})
		}
		u.sched.Enqueue(data)
		u.sched.Finish()
	}()
}

// recordFinished closes out instrumentation for the utterance. Runs at most
// once: each caller has just won the race to set u.finished.
func (u *utterance) recordFinished() {
	if u.metrics == nil {
		return
	}
	ctx := context.Background()
	u.metrics.ActiveSessions.Add(ctx, -1)
	u.metrics.UtteranceDuration.Record(ctx, time.Since(u.begun).Seconds())
}

// audioEnded is the scheduler's end-of-playback callback. The session is
// released here, not on the remote done frame, because the remote may keep the
// socket open after it has finished sending audio.
func (u *utterance) audioEnded() {
	u.mu.Lock()
	if u.finished {
		u.mu.Unlock()
		return
	}
	u.finished = true
	u.mu.Unlock()

	u.recordFinished()
	if u.session != nil {
		u.session.Close()
	}
	u.env.Stop()
	u.bus.Publish(bus.Event{Kind: bus.KindAudioEnded, RequestID: u.id})
	u.bus.Publish(bus.Event{Kind: bus.KindSpeakingStopped, RequestID: u.id})
	u.onDone(u.id)
}

// preempt is the teardown invoked when a newer utterance takes over the audio
// output: the transport drops immediately and queued audio is discarded.
func (u *utterance) preempt() {
	u.mu.Lock()
	if u.finished {
		u.mu.Unlock()
		return
	}
	u.finished = true
	started := u.started
	u.mu.Unlock()

	u.recordFinished()
	if u.session != nil {
		u.session.Destroy()
	}
	u.sched.Discard()
	u.env.Stop()
	if started {
		u.bus.Publish(bus.Event{Kind: bus.KindSpeakingStopped, RequestID: u.id})
	}
}

// abort cancels the utterance on a stream error and frees the output slot.
func (u *utterance) abort() {
	u.mu.Lock()
	if u.finished {
		u.mu.Unlock()
		return
	}
	u.finished = true
	started := u.started
	u.mu.Unlock()

	u.recordFinished()
	if u.session != nil {
		u.session.Destroy()
	}
	u.sched.Discard()
	u.env.Stop()
	if started {
		u.bus.Publish(bus.Event{Kind: bus.KindSpeakingStopped, RequestID: u.id})
	}
	u.onDone(u.id)
}
