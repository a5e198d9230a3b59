// Package tempo converts beat timestamps into a smoothed BPM estimate with a
// stability confidence.
package tempo

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

const (
	// MinBPM and MaxBPM bound every accepted estimate.
	MinBPM = 30
	MaxBPM = 300

	// DefaultBPM is reported before any beats have been seen.
	DefaultBPM = 120

	historySize = 8
)

// Estimate is the result of one successful update.
type Estimate struct {
	// Raw is the BPM derived from this update's median interval.
	Raw int
	// BPM is the recency-weighted average over the history.
	BPM int
	// Confidence is 0..100; higher means a more stable history.
	Confidence float64
}

// Estimator keeps the last few raw estimates. It is owned by a single
// analysis goroutine.
type Estimator struct {
	history    []int
	detected   int
	confidence float64
}

// NewEstimator creates an estimator reporting DefaultBPM.
func NewEstimator() *Estimator {
	return &Estimator{detected: DefaultBPM}
}

// Intervals returns consecutive beat intervals within [minMs, maxMs].
func Intervals(beats []int64, minMs, maxMs float64) []float64 {
	var out []float64
	for i := 1; i < len(beats); i++ {
		d := float64(beats[i] - beats[i-1])
		if d >= minMs && d <= maxMs {
			out = append(out, d)
		}
	}
	return out
}

// Median returns the upper median (sorted[n/2]); 0 for an empty slice.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return sorted[len(sorted)/2]
}

// FromInterval converts a beat interval to BPM, preferring the half-time
// reading when the direct one is faster than 200 BPM.
func FromInterval(ms float64) int {
	if ms <= 0 {
		return 0
	}
	bpm := int(math.Round(60000 / ms))
	if bpm > 200 {
		half := int(math.Round(60000 / (ms * 2)))
		if half >= 60 && half <= 200 {
			return half
		}
	}
	return bpm
}

// Update estimates tempo from beat timestamps (ms, non-decreasing).
// ok is false when there are no usable intervals or the result is out of range;
// the history is left untouched in that case.
func (e *Estimator) Update(beats []int64, minMs, maxMs float64) (Estimate, bool) {
	intervals := Intervals(beats, minMs, maxMs)
	if len(intervals) == 0 {
		return Estimate{}, false
	}
	return e.Push(FromInterval(Median(intervals)))
}

// Push records a raw BPM value and recomputes the weighted tempo and confidence.
func (e *Estimator) Push(bpm int) (Estimate, bool) {
	if bpm < MinBPM || bpm > MaxBPM {
		return Estimate{}, false
	}

	e.history = append(e.history, bpm)
	if len(e.history) > historySize {
		e.history = e.history[len(e.history)-historySize:]
	}

	values := make([]float64, len(e.history))
	weights := make([]float64, len(e.history))
	for i, v := range e.history {
		values[i] = float64(v)
		weights[i] = float64(i + 1)
	}

	e.detected = int(math.Round(stat.Mean(values, weights)))
	e.confidence = confidence(values)

	return Estimate{Raw: bpm, BPM: e.detected, Confidence: e.confidence}, true
}

func confidence(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	_, std := stat.PopMeanStdDev(values, nil)
	return math.Max(0, math.Min(100, 100-std*2))
}

// Detected returns the current weighted tempo.
func (e *Estimator) Detected() int {
	return e.detected
}

// Confidence returns the current confidence (0..100).
func (e *Estimator) Confidence() float64 {
	return e.confidence
}

// History returns a copy of the raw BPM history, oldest first.
func (e *Estimator) History() []int {
	return append([]int(nil), e.history...)
}

// Reset clears the history and restores DefaultBPM.
func (e *Estimator) Reset() {
	e.history = nil
	e.detected = DefaultBPM
	e.confidence = 0
}
