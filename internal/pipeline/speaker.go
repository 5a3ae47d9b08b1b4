// Package pipeline wires the speech delivery path together: text deltas from
// the bus are segmented into sentences, streamed through a synthesis session,
// scheduled gaplessly on the audio sink, and mirrored into the lip-sync
// envelope. One utterance owns the audio output at a time; starting the next
// one preempts the last.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vocello/vocello/internal/envelope"
	"github.com/vocello/vocello/internal/observe"
	"github.com/vocello/vocello/internal/playback"
	"github.com/vocello/vocello/internal/resilience"
	"github.com/vocello/vocello/internal/speech"
	"github.com/vocello/vocello/pkg/audio"
	"github.com/vocello/vocello/pkg/bus"
)

// defaultFrameInterval is the lip-sync sampling period, roughly one rendered
// frame at 60 fps.
const defaultFrameInterval = 16 * time.Millisecond

// Config holds the speaker's synthesis parameters.
type Config struct {
	// SpeechURL is the streaming synthesis endpoint.
	SpeechURL string

	// VoiceID is the initial voice; changeable via [Speaker.SetVoice].
	VoiceID string

	// ModelID optionally selects a synthesis model.
	ModelID string

	// Speed optionally adjusts speaking rate (1.0 = normal).
	Speed float64

	// ConnectTimeout bounds each session handshake. Zero uses the session
	// default.
	ConnectTimeout time.Duration

	// PlaybackQueue bounds encoded frames waiting for decode per utterance.
	// Zero uses the scheduler default.
	PlaybackQueue int

	// FrameInterval is the mouth-sample publishing period. Zero means the
	// 16ms default.
	FrameInterval time.Duration
}

// Deps are the speaker's collaborators. Synth and Logger are optional.
type Deps struct {
	Bus         *bus.Bus
	Coordinator *speech.Coordinator
	Dialer      speech.Dialer
	Sink        audio.Sink
	NewDecoder  func() audio.Decoder
	Envelope    *envelope.Extractor
	Source      *envelope.PCMSource

	// Synth is the one-shot synthesis fallback used when a streaming
	// session dies before delivering any audio. Nil disables the fallback.
	Synth resilience.Synthesizer

	// Metrics receives per-utterance instrumentation. Nil disables it.
	Metrics *observe.Metrics

	Logger *slog.Logger
}

// Speaker consumes stream events from the bus and produces speech. Run it
// with [Speaker.Run]; everything else is driven by events.
type Speaker struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	mu      sync.Mutex
	voiceID string
	active  *utterance
}

// NewSpeaker validates the wiring and creates a Speaker.
func NewSpeaker(cfg Config, deps Deps) (*Speaker, error) {
	switch {
	case cfg.SpeechURL == "":
		return nil, errors.New("pipeline: SpeechURL must not be empty")
	case cfg.VoiceID == "":
		return nil, errors.New("pipeline: VoiceID must not be empty")
	case deps.Bus == nil, deps.Coordinator == nil, deps.Dialer == nil,
		deps.Sink == nil, deps.NewDecoder == nil, deps.Envelope == nil,
		deps.Source == nil:
		return nil, errors.New("pipeline: missing dependency")
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = defaultFrameInterval
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Speaker{
		cfg:     cfg,
		deps:    deps,
		logger:  deps.Logger,
		voiceID: cfg.VoiceID,
	}, nil
}

// SetVoice changes the voice used by subsequent utterances. Empty ids are
// ignored.
func (sp *Speaker) SetVoice(id string) {
	if id == "" {
		return
	}
	sp.mu.Lock()
	sp.voiceID = id
	sp.mu.Unlock()
}

// Voice returns the voice id used for the next utterance.
func (sp *Speaker) Voice() string {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.voiceID
}

// Run consumes stream events until ctx is cancelled or the bus closes. It
// also drives the lip-sync clock, publishing one mouth sample per frame while
// an utterance is live.
func (sp *Speaker) Run(ctx context.Context) error {
	events, unsub := sp.deps.Bus.Subscribe(
		bus.KindStreamDelta, bus.KindStreamEnd, bus.KindStreamError)
	defer unsub()

	ticker := time.NewTicker(sp.cfg.FrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sp.Cancel()
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				sp.Cancel()
				return nil
			}
			sp.handle(ctx, ev)
		case <-ticker.C:
			sp.tickEnvelope()
		}
	}
}

func (sp *Speaker) handle(ctx context.Context, ev bus.Event) {
	switch ev.Kind {
	case bus.KindStreamDelta:
		text, ok := ev.Payload.(string)
		if !ok || text == "" {
			return
		}
		sp.mu.Lock()
		u := sp.active
		if u == nil || u.id != ev.RequestID {
			u = sp.startUtteranceLocked(ctx, ev.RequestID)
			sp.active = u
		}
		sp.mu.Unlock()
		u.addDelta(text)

	case bus.KindStreamEnd:
		if u := sp.current(ev.RequestID); u != nil {
			u.endStream()
		}

	case bus.KindStreamError:
		if u := sp.current(ev.RequestID); u != nil {
			sp.logger.Info("cancelling utterance after stream error",
				"utterance", u.id)
			u.abort()
		}
	}
}

// current returns the active utterance if it matches id.
func (sp *Speaker) current(id string) *utterance {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.active != nil && sp.active.id == id {
		return sp.active
	}
	return nil
}

// startUtteranceLocked builds the per-utterance machinery and claims the
// audio output, preempting any previous holder. Called with sp.mu held.
func (sp *Speaker) startUtteranceLocked(ctx context.Context, id string) *utterance {
	voice := sp.voiceID

	u := &utterance{
		id:      id,
		voiceID: voice,
		begun:   time.Now(),
		logger:  sp.logger,
		bus:     sp.deps.Bus,
		env:     sp.deps.Envelope,
		synth:   sp.deps.Synth,
		metrics: sp.deps.Metrics,
		onDone:  sp.utteranceDone,
	}
	schedOpts := []playback.Option{playback.WithOnAudioEnd(u.audioEnded)}
	if sp.cfg.PlaybackQueue > 0 {
		schedOpts = append(schedOpts, playback.WithQueueCapacity(sp.cfg.PlaybackQueue))
	}
	if m := sp.deps.Metrics; m != nil {
		m.ActiveSessions.Add(ctx, 1)
		schedOpts = append(schedOpts, playback.WithOnFrameDropped(func(reason string) {
			m.RecordFrameDropped(context.Background(), reason)
		}))
	}
	u.sched = playback.New(
		&tapSink{Sink: sp.deps.Sink, src: sp.deps.Source, metrics: sp.deps.Metrics},
		sp.deps.NewDecoder(),
		schedOpts...,
	)

	session, err := speech.NewSession(sp.deps.Dialer, speech.Config{
		URL:            sp.cfg.SpeechURL,
		VoiceID:        voice,
		ModelID:        sp.cfg.ModelID,
		Speed:          sp.cfg.Speed,
		ConnectTimeout: sp.cfg.ConnectTimeout,
	}, speech.Callbacks{
		OnAudio:    u.onAudio,
		OnFinished: u.onRemoteFinished,
		OnError:    u.onSessionError,
	})
	if err != nil {
		sp.logger.Error("session setup failed", "utterance", id, "error", err)
	}
	u.session = session

	sp.deps.Source.Reset()
	sp.deps.Envelope.Start(voice)
	sp.deps.Coordinator.Acquire(id, u.preempt)

	sp.logger.Debug("utterance started", "utterance", id, "voice_id", voice)
	u.start(ctx)
	return u
}

// utteranceDone releases the output slot after a natural end or an abort.
func (sp *Speaker) utteranceDone(id string) {
	sp.deps.Coordinator.Release(id)
	sp.mu.Lock()
	if sp.active != nil && sp.active.id == id {
		sp.active = nil
	}
	sp.mu.Unlock()
}

// Cancel hard-stops the active utterance, discarding queued audio.
func (sp *Speaker) Cancel() {
	sp.mu.Lock()
	u := sp.active
	sp.mu.Unlock()
	if u != nil {
		u.abort()
	}
}

// tickEnvelope advances the lip-sync envelope one frame and publishes the
// sample while there is anything to animate.
func (sp *Speaker) tickEnvelope() {
	sp.mu.Lock()
	live := sp.active != nil
	sp.mu.Unlock()

	out := sp.deps.Envelope.Tick()
	if live || out > 0 {
		sp.deps.Bus.Publish(bus.Event{Kind: bus.KindMouthSample, Payload: out})
	}
}

// tapSink forwards frames to the real sink while mirroring their PCM into the
// lip-sync signal source.
type tapSink struct {
	audio.Sink
	src     *envelope.PCMSource
	metrics *observe.Metrics
}

func (t *tapSink) Play(frame audio.DecodedFrame, at float64, onDone func()) error {
	if t.metrics != nil {
		t.metrics.FramesScheduled.Add(context.Background(), 1)
	}
	if t.src != nil {
		pcm := frame.PCM
		if frame.Channels == 2 {
			mono := make([]int16, len(pcm)/2)
			for i := range mono {
				mono[i] = int16((int32(pcm[2*i]) + int32(pcm[2*i+1])) / 2)
			}
			pcm = mono
		}
		t.src.Feed(pcm, frame.SampleRate)
	}
	return t.Sink.Play(frame, at, onDone)
}
