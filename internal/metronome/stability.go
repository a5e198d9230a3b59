package metronome

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// Stability summarizes how evenly a run of beat timestamps was spaced
type Stability struct {
	Beats        int
	Expected     int
	MeanInterval time.Duration
	Jitter       time.Duration // population stddev of the intervals
	Accuracy     float64       // min(1, beats/expected)
}

// Passed applies the usual acceptance bar: accuracy above 0.95 and under 50ms jitter
func (s Stability) Passed() bool {
	return s.Accuracy > 0.95 && s.Jitter < 50*time.Millisecond
}

// MeasureStability compares beat timestamps against the expected interval.
// The expected beat count covers the span from first to last timestamp.
func MeasureStability(times []time.Time, interval time.Duration) Stability {
	s := Stability{Beats: len(times)}
	if len(times) < 2 || interval <= 0 {
		if len(times) == 1 {
			s.Expected = 1
			s.Accuracy = 1
		}
		return s
	}

	intervals := make([]float64, 0, len(times)-1)
	for i := 1; i < len(times); i++ {
		intervals = append(intervals, float64(times[i].Sub(times[i-1])))
	}
	mean, std := stat.PopMeanStdDev(intervals, nil)

	span := times[len(times)-1].Sub(times[0])
	s.Expected = int((span+interval/2)/interval) + 1
	s.MeanInterval = time.Duration(mean)
	s.Jitter = time.Duration(std)
	s.Accuracy = min(1, float64(s.Beats)/float64(s.Expected))
	return s
}
