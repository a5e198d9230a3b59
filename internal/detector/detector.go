// Package detector turns per-frame features into beat events using an
// adaptive energy threshold and a rhythm-regularity score, and feeds the
// resulting beat history to the tempo estimator.
package detector

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/yok-tottii/beatkeeper/internal/features"
	"github.com/yok-tottii/beatkeeper/internal/tempo"
)

const (
	energyHistorySize = 30
	thresholdWindow   = 10
	warmupSamples     = 5
	consistencyWindow = 5

	rhythmWindowMs   = 2000
	rhythmMinEntries = 10
	rhythmEnergies   = 20
	nominalBeatMs    = 500

	beatWindowMs = 10000
	minThreshold = 0.01
)

// Config parametrizes detection. Values outside their ranges are clamped by
// Normalize.
type Config struct {
	Sensitivity       float64       `json:"sensitivity"`
	Mode              features.Mode `json:"mode"`
	MinBeatIntervalMs float64       `json:"minBeatIntervalMs"`
	MaxBeatIntervalMs float64       `json:"maxBeatIntervalMs"`
	OnsetThreshold    float64       `json:"onsetThreshold"`
}

// DefaultConfig returns the default detection parameters.
func DefaultConfig() Config {
	return Config{
		Sensitivity:       90,
		Mode:              features.ModeOther,
		MinBeatIntervalMs: 100,
		MaxBeatIntervalMs: 2000,
		OnsetThreshold:    0.05,
	}
}

// Normalize clamps every field into range and replaces unknown modes with
// "other". It reports whether anything had to change.
func (c Config) Normalize() (Config, bool) {
	out := c
	out.Sensitivity = clamp(c.Sensitivity, 0, 100)
	out.OnsetThreshold = clamp(c.OnsetThreshold, 0, 1)
	out.Mode, _ = features.ParseMode(string(c.Mode))
	if out.MinBeatIntervalMs < 0 {
		out.MinBeatIntervalMs = 0
	}
	if out.MaxBeatIntervalMs < out.MinBeatIntervalMs {
		out.MaxBeatIntervalMs = out.MinBeatIntervalMs
	}
	return out, out != c
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Threshold describes the adaptive threshold for one tick.
type Threshold struct {
	Energy                float64
	Mean                  float64
	StdDev                float64
	SpectralCentroid      float64
	SensitivityMultiplier float64
}

// Decision is the outcome of processing one frame.
type Decision struct {
	Features features.Features
	// Evaluated is false when the frame was gated or the detector is still warming up.
	Evaluated        bool
	Energy           float64
	Threshold        Threshold
	Confidence       float64
	RhythmConfidence float64
	Beat             bool
	// Tempo is set when a beat produced an accepted tempo estimate.
	Tempo *tempo.Estimate
}

type rhythmEntry struct {
	time   int64
	energy float64
}

// Detector owns the extractor, energy and rhythm histories, beat history and
// tempo estimator. It is not safe for concurrent use; one analysis goroutine
// feeds it frames in order.
type Detector struct {
	cfg       Config
	extractor *features.Extractor
	estimator *tempo.Estimator

	energies []float64
	rhythm   []rhythmEntry
	beats    []int64
	lastBeat int64
}

// New creates a detector with cfg (normalized).
func New(cfg Config) *Detector {
	cfg, _ = cfg.Normalize()
	return &Detector{
		cfg:       cfg,
		extractor: features.NewExtractor(),
		estimator: tempo.NewEstimator(),
	}
}

// Config returns the active configuration.
func (d *Detector) Config() Config {
	return d.cfg
}

// SetConfig replaces the configuration; it applies from the next frame.
func (d *Detector) SetConfig(cfg Config) {
	d.cfg, _ = cfg.Normalize()
}

// SetSensitivity sets sensitivity, clamped to [0,100].
func (d *Detector) SetSensitivity(s float64) {
	d.cfg.Sensitivity = clamp(s, 0, 100)
}

// SetMode sets the detection mode. Unknown modes fall back to "other" and
// false is returned.
func (d *Detector) SetMode(mode features.Mode) bool {
	m, ok := features.ParseMode(string(mode))
	d.cfg.Mode = m
	return ok
}

// SetMinBeatInterval sets the refractory period in milliseconds.
func (d *Detector) SetMinBeatInterval(ms float64) {
	d.cfg.MinBeatIntervalMs = ms
	d.cfg, _ = d.cfg.Normalize()
}

// SetMaxBeatInterval sets the longest interval used for tempo estimation.
func (d *Detector) SetMaxBeatInterval(ms float64) {
	d.cfg.MaxBeatIntervalMs = ms
	d.cfg, _ = d.cfg.Normalize()
}

// SetOnsetThreshold sets the onset threshold, clamped to [0,1].
func (d *Detector) SetOnsetThreshold(v float64) {
	d.cfg.OnsetThreshold = clamp(v, 0, 1)
}

// Process analyses one frame captured at now (milliseconds).
func (d *Detector) Process(frame features.Frame, now int64) Decision {
	feats := d.extractor.Extract(frame, d.cfg.Mode)
	dec := Decision{Features: feats}

	if float64(now-d.lastBeat) < d.cfg.MinBeatIntervalMs {
		return dec
	}

	energy := feats.RMSEnergy*0.6 + feats.PeakEnergy*0.3 + feats.SpectralEnergy*0.1
	dec.Energy = energy
	if !d.pushEnergy(energy) {
		return dec
	}

	dec.Evaluated = true
	dec.Threshold = d.threshold(feats.SpectralCentroid, frame.BufferLength)
	dec.Confidence = d.confidence(energy, dec.Threshold, feats.SpectralCentroid, frame.BufferLength)
	dec.RhythmConfidence = d.rhythmConfidence(now)

	minConfidence := 0.3
	if d.cfg.Mode == features.ModeOther {
		minConfidence = 0.2
	}

	if energy > dec.Threshold.Energy && math.Max(dec.Confidence, dec.RhythmConfidence) > minConfidence {
		dec.Beat = true
		dec.Tempo = d.recordBeat(now)
	}

	return dec
}

// pushEnergy appends to the energy history and reports whether warm-up is over.
func (d *Detector) pushEnergy(e float64) bool {
	d.energies = append(d.energies, e)
	if len(d.energies) > energyHistorySize {
		d.energies = d.energies[len(d.energies)-energyHistorySize:]
	}
	return len(d.energies) >= warmupSamples
}

func tail(values []float64, n int) []float64 {
	if len(values) > n {
		return values[len(values)-n:]
	}
	return values
}

func modeWeights(mode features.Mode) (base, spectral float64) {
	switch mode {
	case features.ModeDrums:
		return 2.2, 0.3
	case features.ModeGuitar:
		return 1.6, 0.2
	case features.ModeOther:
		return 1.7, 0.15
	default:
		return 1.5, 0.1
	}
}

func (d *Detector) threshold(centroid float64, bufferLength int) Threshold {
	mean, std := stat.PopMeanStdDev(tail(d.energies, thresholdWindow), nil)

	base, spectralWeight := modeWeights(d.cfg.Mode)
	sensitivity := 0.3 + d.cfg.Sensitivity/100*2.2
	base /= sensitivity
	if d.cfg.Mode == features.ModeOther {
		base *= 0.8
	}

	energy := mean*base + std*0.5
	if bufferLength > 0 {
		energy += centroid / float64(bufferLength) * spectralWeight
	}

	return Threshold{
		Energy:                math.Max(energy, minThreshold),
		Mean:                  mean,
		StdDev:                std,
		SpectralCentroid:      centroid,
		SensitivityMultiplier: sensitivity,
	}
}

func (d *Detector) confidence(energy float64, th Threshold, centroid float64, bufferLength int) float64 {
	c := math.Min(0.5, (energy/th.Energy-1)*0.5)

	if bufferLength > 0 {
		c += math.Min(0.3, centroid/(float64(bufferLength)*0.5)*0.3)
	}

	_, std := stat.PopMeanStdDev(tail(d.energies, consistencyWindow), nil)
	c += math.Max(0, 1-std*10) * 0.2

	return clamp(c, 0, 1)
}

func (d *Detector) rhythmConfidence(now int64) float64 {
	d.rhythm = append(d.rhythm, rhythmEntry{time: now, energy: d.energies[len(d.energies)-1]})

	cutoff := now - rhythmWindowMs
	kept := d.rhythm[:0]
	for _, r := range d.rhythm {
		if r.time > cutoff {
			kept = append(kept, r)
		}
	}
	d.rhythm = kept

	if len(d.rhythm) < rhythmMinEntries {
		return 0
	}

	recent := d.rhythm
	if len(recent) > rhythmEnergies {
		recent = recent[len(recent)-rhythmEnergies:]
	}
	energies := make([]float64, len(recent))
	for i, r := range recent {
		energies[i] = r.energy
	}
	mean := stat.Mean(energies, nil)

	var peaks int
	var variation float64
	for i := 1; i < len(energies)-1; i++ {
		prev, cur, next := energies[i-1], energies[i], energies[i+1]
		if cur > prev && cur > next && cur > mean*1.1 {
			peaks++
		}
		variation += math.Abs(cur - prev)
	}

	expected := (now - d.rhythm[0].time) / nominalBeatMs
	if expected < 1 {
		expected = 1
	}

	var score float64
	peakRatio := float64(peaks) / float64(expected)
	if peakRatio > 0.5 && peakRatio < 2.0 {
		score += 0.4
	}

	if mean > 0 {
		variationRatio := variation / float64(len(energies)) / mean
		if variationRatio > 0.1 && variationRatio < 1.0 {
			score += 0.3
		}
	}

	if len(d.beats) >= 3 {
		recentBeats := d.beats
		if len(recentBeats) > 5 {
			recentBeats = recentBeats[len(recentBeats)-5:]
		}
		intervals := make([]float64, 0, len(recentBeats)-1)
		for i := 1; i < len(recentBeats); i++ {
			intervals = append(intervals, float64(recentBeats[i]-recentBeats[i-1]))
		}
		m, std := stat.PopMeanStdDev(intervals, nil)
		if m > 0 {
			score += math.Max(0, 1-std/m) * 0.3
		}
	}

	return math.Min(1, score)
}

// recordBeat appends now to the beat history, prunes it and updates the tempo.
func (d *Detector) recordBeat(now int64) *tempo.Estimate {
	d.lastBeat = now
	d.beats = append(d.beats, now)

	cutoff := now - beatWindowMs
	kept := d.beats[:0]
	for _, b := range d.beats {
		if b > cutoff {
			kept = append(kept, b)
		}
	}
	d.beats = kept

	if len(d.beats) < 2 {
		return nil
	}
	est, ok := d.estimator.Update(d.beats, d.cfg.MinBeatIntervalMs, d.cfg.MaxBeatIntervalMs)
	if !ok {
		return nil
	}
	return &est
}

// Beats returns a copy of the beat history (ms).
func (d *Detector) Beats() []int64 {
	return append([]int64(nil), d.beats...)
}

// SpectralCentroid returns the centroid of the last processed frame.
func (d *Detector) SpectralCentroid() float64 {
	return d.extractor.Centroid()
}

// Estimator exposes the tempo estimator for status reporting.
func (d *Detector) Estimator() *tempo.Estimator {
	return d.estimator
}

// Reset clears beat and tempo state. Energy and rhythm histories are kept so
// detection resumes without a new warm-up.
func (d *Detector) Reset() {
	d.beats = nil
	d.lastBeat = 0
	d.estimator.Reset()
}
