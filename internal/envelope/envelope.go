// Package envelope turns the live audio signal of an utterance into a
// per-frame mouth-openness value in [0, 1] for the avatar renderer.
//
// The pipeline per animation frame is: band-limited RMS loudness in dB, a
// hysteretic noise gate, an asymmetric attack/release smoother, and a
// perceptual ease-out curve. The loudness thresholds self-calibrate during
// the first few hundred milliseconds of each utterance and are persisted per
// voice, so a known voice animates correctly from its very first frame.
package envelope

import (
	"context"
	"log/slog"
	"math"
	"sync"

	"github.com/vocello/vocello/internal/preset"
)

// SignalSource exposes the current frequency spectrum of whatever is playing.
// Implementations must be safe for concurrent use; [Extractor.Tick] reads the
// spectrum once per animation frame.
type SignalSource interface {
	// Magnitudes returns the per-bin magnitude spectrum normalized to
	// [0, 1], lowest frequency first, and the width in Hz of one bin.
	// An empty slice means no signal is available yet.
	Magnitudes() (bins []float64, binHz float64)
}

const (
	defaultGateDb     = -55.0
	defaultOpenDb     = -25.0
	defaultHysteresis = 4.0
	defaultMaxOpen    = 1.0
	defaultFormantHz  = 3200.0

	// Per-frame smoothing coefficients at ~60 fps. Attack is fast so the
	// mouth opens on syllable onsets; release is slow so it does not
	// flutter between syllables.
	defaultAttack  = 0.55
	defaultRelease = 0.18

	// Exponential decay applied while not speaking.
	idleDecay = 0.88

	// Envelope level above which the gate is held open even if the
	// instantaneous loudness dipped below the close threshold. Prevents
	// the mouth snapping shut mid-word on a short dip.
	forceOpenFloor = 0.05

	// Floor added before the log so silence maps to a finite dB value.
	dbEpsilon = 1e-6

	// Calibration peaks at or below this are treated as silence and do
	// not produce a preset.
	silenceFloorDb = -70.0

	calibGateMargin = 5.0
	calibOpenMargin = 8.0
)

// Extractor computes the mouth-openness signal for one voice at a time.
// Callers invoke [Extractor.Start] when an utterance begins, [Extractor.Tick]
// once per rendered frame, and [Extractor.Stop] when playback ends.
type Extractor struct {
	src    SignalSource
	store  preset.Store
	logger *slog.Logger

	hysteresis  float64
	attack      float64
	release     float64
	formantHz   float64
	calibFrames int

	baseGateDb float64
	baseOpenDb float64
	baseMax    float64

	mu          sync.Mutex
	presets     map[string]preset.VoicePreset
	voiceID     string
	gateDb      float64
	openDb      float64
	maxOpen     float64
	env         float64
	gateOpen    bool
	speaking    bool
	calibrating bool
	calib       calibrator
}

// Option configures an [Extractor].
type Option func(*Extractor)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) { e.logger = logger }
}

// WithThresholds sets the gate and full-open loudness used before a voice has
// been calibrated.
func WithThresholds(gateDb, openDb float64) Option {
	return func(e *Extractor) { e.baseGateDb, e.baseOpenDb = gateDb, openDb }
}

// WithHysteresis sets the dB gap between the gate's close and open points.
func WithHysteresis(db float64) Option {
	return func(e *Extractor) { e.hysteresis = db }
}

// WithMaxOpen caps the returned openness.
func WithMaxOpen(m float64) Option {
	return func(e *Extractor) { e.baseMax = m }
}

// WithSmoothing sets the per-frame attack and release coefficients in (0, 1].
func WithSmoothing(attack, release float64) Option {
	return func(e *Extractor) { e.attack, e.release = attack, release }
}

// WithFormantBand sets the upper frequency bound of the loudness band.
func WithFormantBand(maxHz float64) Option {
	return func(e *Extractor) { e.formantHz = maxHz }
}

// WithCalibrationFrames sets how many frames of loudness are collected after
// Start before thresholds are derived. Zero disables calibration.
func WithCalibrationFrames(n int) Option {
	return func(e *Extractor) { e.calibFrames = n }
}

// New builds an Extractor reading from src, with saved voice presets loaded
// from store up front.
func New(ctx context.Context, store preset.Store, src SignalSource, opts ...Option) (*Extractor, error) {
	e := &Extractor{
		src:         src,
		store:       store,
		logger:      slog.Default(),
		hysteresis:  defaultHysteresis,
		attack:      defaultAttack,
		release:     defaultRelease,
		formantHz:   defaultFormantHz,
		calibFrames: defaultCalibrationFrames,
		baseGateDb:  defaultGateDb,
		baseOpenDb:  defaultOpenDb,
		baseMax:     defaultMaxOpen,
	}
	for _, opt := range opts {
		opt(e)
	}

	presets, err := store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	e.presets = presets
	e.maxOpen = e.baseMax
	e.gateDb, e.openDb = e.baseGateDb, e.baseOpenDb
	return e, nil
}

// Start resets the extractor for a new utterance spoken by voiceID. A saved
// preset for that voice takes effect immediately; calibration still runs and
// overwrites it.
func (e *Extractor) Start(voiceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.voiceID = voiceID
	e.env = 0
	e.gateOpen = false
	e.speaking = true
	e.gateDb, e.openDb = e.baseGateDb, e.baseOpenDb
	e.maxOpen = e.baseMax
	if p, ok := e.presets[voiceID]; ok {
		e.gateDb, e.openDb = p.GateDb, p.OpenDb
		if p.MaxOpen > 0 {
			e.maxOpen = p.MaxOpen
		}
		e.logger.Debug("voice preset applied",
			slog.String("voice_id", voiceID),
			slog.Float64("gate_db", p.GateDb),
			slog.Float64("open_db", p.OpenDb))
	}
	e.calib.reset(e.calibFrames)
	e.calibrating = e.calibFrames > 0
}

// Stop marks the utterance as over. The envelope keeps decaying toward zero
// on subsequent ticks so the mouth closes smoothly.
func (e *Extractor) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.speaking = false
	e.calibrating = false
}

// Tick advances the envelope by one animation frame and returns the current
// mouth openness in [0, maxOpen].
func (e *Extractor) Tick() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.speaking {
		e.env *= idleDecay
		if e.env < 1e-3 {
			e.env = 0
		}
		return e.outLocked()
	}

	db := e.loudnessDbLocked()

	if e.calibrating && e.calib.add(db) {
		e.finishCalibrationLocked()
	}

	if e.gateOpen {
		if db < e.gateDb {
			e.gateOpen = false
		}
	} else if db > e.gateDb+e.hysteresis {
		e.gateOpen = true
	}

	var target float64
	if e.gateOpen || e.env > forceOpenFloor {
		target = clamp((db-e.gateDb)/(e.openDb-e.gateDb), 0, 1)
	}

	coeff := e.release
	if target > e.env {
		coeff = e.attack
	}
	e.env = clamp(e.env+coeff*(target-e.env), 0, 1)
	return e.outLocked()
}

// loudnessDbLocked reads the spectrum, restricts it to the formant band and
// returns the band RMS in dB.
func (e *Extractor) loudnessDbLocked() float64 {
	bins, binHz := e.src.Magnitudes()
	if len(bins) == 0 || binHz <= 0 {
		return 20 * math.Log10(dbEpsilon)
	}
	n := int(e.formantHz / binHz)
	if n < 1 {
		n = 1
	}
	if n > len(bins) {
		n = len(bins)
	}
	var sum float64
	for _, m := range bins[:n] {
		sum += m * m
	}
	rms := math.Sqrt(sum / float64(n))
	return 20 * math.Log10(rms+dbEpsilon)
}

func (e *Extractor) finishCalibrationLocked() {
	e.calibrating = false
	peakDb, avgDb := e.calib.result()
	if peakDb <= silenceFloorDb {
		e.logger.Debug("calibration discarded, signal was silent",
			slog.String("voice_id", e.voiceID),
			slog.Float64("peak_db", peakDb))
		return
	}

	e.openDb = peakDb
	e.gateDb = math.Min(avgDb-calibGateMargin, e.openDb-calibOpenMargin)

	p := preset.VoicePreset{
		GateDb:  e.gateDb,
		OpenDb:  e.openDb,
		MaxOpen: e.maxOpen,
		PeakDb:  peakDb,
		AvgDb:   avgDb,
	}
	e.presets[e.voiceID] = p
	e.logger.Info("voice calibrated",
		slog.String("voice_id", e.voiceID),
		slog.Float64("gate_db", p.GateDb),
		slog.Float64("open_db", p.OpenDb))

	// Persisting must never stall the render loop.
	voiceID := e.voiceID
	go func() {
		if err := e.store.Save(context.Background(), voiceID, p); err != nil {
			e.logger.Warn("voice preset save failed",
				slog.String("voice_id", voiceID),
				slog.String("error", err.Error()))
		}
	}()
}

func (e *Extractor) outLocked() float64 {
	return clamp(easeOut(e.env), 0, e.maxOpen)
}

// easeOut maps the linear envelope onto a perceptual curve that spends more
// time near open than near closed.
func easeOut(v float64) float64 {
	return 1 - (1-v)*(1-v)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
