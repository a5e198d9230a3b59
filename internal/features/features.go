// Package features computes per-frame signal features (volume, band energy,
// onset strength, spectral centroid, time-domain energy) from analyser frames.
package features

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Mode selects the frequency band used for band-limited features.
type Mode string

const (
	ModeDrums  Mode = "drums"
	ModeGuitar Mode = "guitar"
	ModeOther  Mode = "other"
)

// Band is a half-open range of frequency bins [Low, High).
type Band struct {
	Low  int
	High int
}

var bands = map[Mode]Band{
	ModeDrums:  {Low: 20, High: 80},
	ModeGuitar: {Low: 40, High: 120},
	ModeOther:  {Low: 0, High: 160},
}

// BandFor returns the bin range for mode. ok is false for unknown modes.
func BandFor(mode Mode) (Band, bool) {
	b, ok := bands[mode]
	return b, ok
}

// ParseMode validates a mode name; unknown names fall back to ModeOther.
func ParseMode(name string) (Mode, bool) {
	m := Mode(name)
	if _, ok := bands[m]; ok {
		return m, true
	}
	return ModeOther, false
}

// Frame is one analysis tick worth of analyser output.
// Bytes are 0..255; 128 is silence in TimeDomain.
type Frame struct {
	FrequencyBins []uint8
	TimeDomain    []uint8
	BufferLength  int
}

// bins returns the usable frequency bins as float64 magnitudes.
func (f Frame) bins() []float64 {
	n := f.BufferLength
	if n > len(f.FrequencyBins) {
		n = len(f.FrequencyBins)
	}
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = float64(f.FrequencyBins[i])
	}
	return out
}

// samples returns the first BufferLength time-domain bytes normalized to [-1, 1].
func (f Frame) samples() []float64 {
	n := f.BufferLength
	if n > len(f.TimeDomain) {
		n = len(f.TimeDomain)
	}
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = (float64(f.TimeDomain[i]) - 128) / 128
	}
	return out
}

// Features is the full feature set for one frame.
type Features struct {
	AverageVolume    float64
	BandVolume       float64
	OnsetStrength    float64
	SpectralCentroid float64
	RMSEnergy        float64
	PeakEnergy       float64
	SpectralEnergy   float64
}

// Extractor keeps the previous spectrum for onset detection and the last
// spectral centroid. It holds a single slot of memory and must only be fed
// one frame at a time.
type Extractor struct {
	previous []float64
	centroid float64
}

// NewExtractor creates an extractor with no previous spectrum.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract computes every feature of f in pipeline order.
func (e *Extractor) Extract(f Frame, mode Mode) Features {
	rms, peak := TimeDomainEnergy(f)
	return Features{
		AverageVolume:    AverageVolume(f),
		BandVolume:       BandVolume(f, mode),
		OnsetStrength:    e.OnsetStrength(f),
		SpectralCentroid: e.SpectralCentroid(f),
		RMSEnergy:        rms,
		PeakEnergy:       peak,
		SpectralEnergy:   SpectralEnergy(f, mode),
	}
}

// AverageVolume is the mean of all frequency bins normalized to 0..1.
func AverageVolume(f Frame) float64 {
	mags := f.bins()
	if len(mags) == 0 {
		return 0
	}
	return floats.Sum(mags) / float64(len(mags)) / 255
}

// BandVolume blends the mean (70%) and peak (30%) of the mode's band.
func BandVolume(f Frame, mode Mode) float64 {
	mags := f.bins()
	band, ok := BandFor(mode)
	if !ok || len(mags) == 0 {
		return 0
	}

	high := band.High
	if high > len(mags) {
		high = len(mags)
	}
	if band.Low >= high {
		return 0
	}

	window := mags[band.Low:high]
	average := floats.Sum(window) / float64(len(window)) / 255
	peak := floats.Max(window) / 255

	return average*0.7 + peak*0.3
}

// OnsetStrength measures positive spectral flux against the previous frame.
// The first call seeds a zero spectrum and returns 0.
func (e *Extractor) OnsetStrength(f Frame) float64 {
	mags := f.bins()
	if e.previous == nil {
		e.previous = make([]float64, len(mags))
		return 0
	}
	if len(mags) == 0 {
		return 0
	}

	var sum float64
	for i, m := range mags {
		var prev float64
		if i < len(e.previous) {
			prev = e.previous[i]
		}
		if d := m - prev; d > 0 {
			sum += d
		}
	}

	e.previous = mags
	return sum / float64(len(mags)) / 255 * 50
}

// SpectralCentroid returns the magnitude-weighted mean bin index and caches it.
func (e *Extractor) SpectralCentroid(f Frame) float64 {
	mags := f.bins()
	total := floats.Sum(mags)
	if total <= 0 {
		e.centroid = 0
		return 0
	}

	index := make([]float64, len(mags))
	if len(mags) > 1 {
		floats.Span(index, 0, float64(len(mags)-1))
	}

	e.centroid = floats.Dot(index, mags) / total
	return e.centroid
}

// Centroid returns the centroid computed by the last SpectralCentroid call.
func (e *Extractor) Centroid() float64 {
	return e.centroid
}

// Reset forgets the previous spectrum and cached centroid.
func (e *Extractor) Reset() {
	e.previous = nil
	e.centroid = 0
}

// TimeDomainEnergy returns the RMS and peak absolute amplitude of the frame.
func TimeDomainEnergy(f Frame) (rms, peak float64) {
	s := f.samples()
	if len(s) == 0 {
		return 0, 0
	}
	rms = floats.Norm(s, 2) / math.Sqrt(float64(len(s)))
	peak = floats.Norm(s, math.Inf(1))
	return rms, peak
}

// SpectralEnergy sums the mode's band and divides by the nominal band width,
// even when the band is clipped by the buffer length.
func SpectralEnergy(f Frame, mode Mode) float64 {
	mags := f.bins()
	band, ok := BandFor(mode)
	if !ok || len(mags) == 0 || band.High <= band.Low {
		return 0
	}

	high := band.High
	if high > len(mags) {
		high = len(mags)
	}

	var sum float64
	if band.Low < high {
		sum = floats.Sum(mags[band.Low:high])
	}
	return sum / float64(band.High-band.Low) / 255
}
