package envelope

import (
	"math"
	"sync"
)

const (
	analysisWindowMs = 20
	spectrumBinHz    = 200.0
	spectrumBins     = 16 // covers 100 Hz .. 3.1 kHz at 200 Hz per bin
)

// PCMSource implements [SignalSource] over raw PCM pushed in by the playback
// path. It keeps the most recent analysis window and evaluates a small
// Goertzel filter bank over it on demand, which is far cheaper than a full
// FFT for the handful of bins the extractor needs.
type PCMSource struct {
	rate int
	win  int

	mu  sync.Mutex
	buf []float64
}

var _ SignalSource = (*PCMSource)(nil)

// NewPCMSource creates a source expecting samples at sampleRate. Frames fed
// at a different rate are linearly resampled.
func NewPCMSource(sampleRate int) *PCMSource {
	win := sampleRate * analysisWindowMs / 1000
	return &PCMSource{
		rate: sampleRate,
		win:  win,
		buf:  make([]float64, 0, win),
	}
}

// Feed appends decoded samples to the analysis window. Stereo input should be
// downmixed by the caller first.
func (s *PCMSource) Feed(samples []int16, sampleRate int) {
	if len(samples) == 0 {
		return
	}
	floats := make([]float64, len(samples))
	for i, v := range samples {
		floats[i] = float64(v) / 32768.0
	}
	if sampleRate != s.rate {
		floats = resampleLinear(floats, sampleRate, s.rate)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, floats...)
	if extra := len(s.buf) - s.win; extra > 0 {
		s.buf = append(s.buf[:0], s.buf[extra:]...)
	}
}

// Reset discards any buffered signal.
func (s *PCMSource) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = s.buf[:0]
}

// Magnitudes evaluates the filter bank over the current window.
func (s *PCMSource) Magnitudes() ([]float64, float64) {
	s.mu.Lock()
	window := append([]float64(nil), s.buf...)
	s.mu.Unlock()

	if len(window) == 0 {
		return nil, spectrumBinHz
	}

	bins := make([]float64, spectrumBins)
	for i := range bins {
		freq := spectrumBinHz/2 + float64(i)*spectrumBinHz
		bins[i] = goertzel(window, freq, float64(s.rate))
	}
	return bins, spectrumBinHz
}

// goertzel returns the magnitude of the signal at freq, normalized so a
// full-scale sine at that frequency yields roughly 1.0.
func goertzel(samples []float64, freq, sampleRate float64) float64 {
	coeff := 2 * math.Cos(2*math.Pi*freq/sampleRate)
	var s1, s2 float64
	for _, x := range samples {
		s0 := x + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}
	power := s1*s1 + s2*s2 - coeff*s1*s2
	if power < 0 {
		power = 0
	}
	n := float64(len(samples))
	return math.Sqrt(power) / (n / 2)
}

func resampleLinear(samples []float64, srIn, srOut int) []float64 {
	if srIn == srOut || len(samples) == 0 {
		return samples
	}
	nOut := int(math.Round(float64(len(samples)) * float64(srOut) / float64(srIn)))
	if nOut <= 1 {
		return nil
	}
	out := make([]float64, nOut)
	for i := range out {
		t := float64(i) / float64(nOut-1) * float64(len(samples)-1)
		idx := int(t)
		frac := t - float64(idx)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
		} else {
			out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
		}
	}
	return out
}
