// Package analyser turns raw capture samples into byte spectra and waveforms
// with the same scaling a browser AnalyserNode uses: Blackman window, FFT
// magnitude, exponential smoothing between frames and dB-to-byte mapping.
package analyser

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"

	"github.com/yok-tottii/beatkeeper/internal/features"
)

// Config holds analyser parameters.
type Config struct {
	FFTSize     int
	Smoothing   float64
	MinDecibels float64
	MaxDecibels float64
}

// DefaultConfig returns fftSize 2048, smoothing 0.8 and a -100..-30 dB range.
func DefaultConfig() Config {
	return Config{
		FFTSize:     2048,
		Smoothing:   0.8,
		MinDecibels: -100,
		MaxDecibels: -30,
	}
}

// Analyser keeps the smoothed spectrum between frames. Use one per stream.
type Analyser struct {
	cfg      Config
	smoothed []float64
	frame    []float64
}

// New creates an analyser. Non-power-of-two sizes are rounded up.
func New(cfg Config) *Analyser {
	if cfg.FFTSize < 32 {
		cfg.FFTSize = 32
	}
	size := 1
	for size < cfg.FFTSize {
		size <<= 1
	}
	cfg.FFTSize = size

	if cfg.Smoothing < 0 || cfg.Smoothing >= 1 {
		cfg.Smoothing = DefaultConfig().Smoothing
	}
	if cfg.MaxDecibels <= cfg.MinDecibels {
		cfg.MinDecibels, cfg.MaxDecibels = DefaultConfig().MinDecibels, DefaultConfig().MaxDecibels
	}

	return &Analyser{
		cfg:      cfg,
		smoothed: make([]float64, size/2),
		frame:    make([]float64, size),
	}
}

// FFTSize returns the transform size (samples per frame).
func (a *Analyser) FFTSize() int {
	return a.cfg.FFTSize
}

// BinCount returns the number of frequency bins (FFTSize/2).
func (a *Analyser) BinCount() int {
	return a.cfg.FFTSize / 2
}

// Analyse builds a frame from the most recent samples. Fewer than FFTSize
// samples are right-aligned and padded with silence.
func (a *Analyser) Analyse(samples []float32) features.Frame {
	n := a.cfg.FFTSize
	if len(samples) > n {
		samples = samples[len(samples)-n:]
	}
	pad := n - len(samples)

	timeDomain := make([]uint8, n)
	for i := 0; i < n; i++ {
		var s float64
		if i >= pad {
			s = float64(samples[i-pad])
		}
		a.frame[i] = s
		timeDomain[i] = toByte(128 * (s + 1))
	}

	window.Apply(a.frame, window.Blackman)
	spectrum := fft.FFTReal(a.frame)

	bins := a.BinCount()
	freq := make([]uint8, bins)
	scale := 255 / (a.cfg.MaxDecibels - a.cfg.MinDecibels)
	tau := a.cfg.Smoothing

	for k := 0; k < bins; k++ {
		mag := cmplx.Abs(spectrum[k]) / float64(n)
		v := tau*a.smoothed[k] + (1-tau)*mag
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		a.smoothed[k] = v

		db := math.Inf(-1)
		if v > 0 {
			db = 20 * math.Log10(v)
		}
		freq[k] = toByte(scale * (db - a.cfg.MinDecibels))
	}

	return features.Frame{
		FrequencyBins: freq,
		TimeDomain:    timeDomain,
		BufferLength:  bins,
	}
}

// Reset clears the smoothing state.
func (a *Analyser) Reset() {
	for i := range a.smoothed {
		a.smoothed[i] = 0
	}
}

func toByte(v float64) uint8 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}
