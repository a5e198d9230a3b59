package sound

import (
	"sync"
)

type scheduled struct {
	data  []float32
	gain  float32
	start int64 // audio clock frame of the first sample
}

// Mixer sums scheduled one-shots into the output stream. Its clock counts
// frames rendered so far, so onsets are placed against the audio stream
// rather than the wall clock.
type Mixer struct {
	mu     sync.Mutex
	clock  int64
	voices []scheduled
	volume float32
}

// NewMixer creates a mixer with the given master volume.
func NewMixer(volume float64) *Mixer {
	m := &Mixer{}
	m.SetVolume(volume)
	return m
}

// Clock returns the number of frames rendered so far.
func (m *Mixer) Clock() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clock
}

// SetVolume sets the master volume, clamped to [0,1].
func (m *Mixer) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	m.mu.Lock()
	m.volume = float32(v)
	m.mu.Unlock()
}

// Volume returns the master volume.
func (m *Mixer) Volume() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(m.volume)
}

// Schedule queues data to start offset frames after the current clock.
func (m *Mixer) Schedule(data []float32, gain float64, offset int64) {
	if len(data) == 0 {
		return
	}
	if offset < 0 {
		offset = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.voices = append(m.voices, scheduled{data: data, gain: float32(gain), start: m.clock + offset})
}

// Pending returns the number of one-shots not yet fully rendered.
func (m *Mixer) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voices)
}

// Render fills out with the mix for the next len(out) frames and advances
// the clock. It is called from the output stream callback.
func (m *Mixer) Render(out []float32) {
	for i := range out {
		out[i] = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	start := m.clock
	end := start + int64(len(out))

	kept := m.voices[:0]
	for _, v := range m.voices {
		vEnd := v.start + int64(len(v.data))
		if v.start < end && vEnd > start {
			from := v.start
			if from < start {
				from = start
			}
			to := vEnd
			if to > end {
				to = end
			}
			for f := from; f < to; f++ {
				out[f-start] += v.data[f-v.start] * v.gain
			}
		}
		if vEnd > end {
			kept = append(kept, v)
		}
	}
	m.voices = kept

	for i := range out {
		s := out[i] * m.volume
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		out[i] = s
	}

	m.clock = end
}
