package sound

import (
	"math"
)

// Waveform is an oscillator shape.
type Waveform int

const (
	Sine Waveform = iota
	Square
	Sawtooth
	Triangle
)

// Partial is one oscillator in a patch.
type Partial struct {
	Freq float64
	Gain float64
	Wave Waveform
}

// Patch describes a synthesized one-shot: oscillators summed through an
// optional lowpass filter, shaped by a linear attack and an exponential decay
// to Floor at Duration.
type Patch struct {
	Partials []Partial
	Volume   float64
	Attack   float64 // seconds
	Duration float64 // seconds
	Floor    float64
	Lowpass  float64 // cutoff Hz, 0 disables
	Q        float64
}

func oscillator(w Waveform, phase float64) float64 {
	// phase in cycles, [0,1)
	switch w {
	case Square:
		if phase < 0.5 {
			return 1
		}
		return -1
	case Sawtooth:
		return 2*phase - 1
	case Triangle:
		if phase < 0.5 {
			return 4*phase - 1
		}
		return 3 - 4*phase
	default:
		return math.Sin(2 * math.Pi * phase)
	}
}

// envelope returns the gain at t seconds.
func (p Patch) envelope(t float64) float64 {
	if t < 0 || t >= p.Duration {
		return 0
	}
	if t < p.Attack {
		return p.Volume * t / p.Attack
	}
	if p.Volume <= 0 || p.Floor <= 0 {
		return p.Volume
	}
	span := p.Duration - p.Attack
	if span <= 0 {
		return p.Volume
	}
	return p.Volume * math.Pow(p.Floor/p.Volume, (t-p.Attack)/span)
}

// Render synthesizes the patch at sampleRate.
func (p Patch) Render(sampleRate float64) []float32 {
	if sampleRate <= 0 || p.Duration <= 0 {
		return nil
	}

	n := int(p.Duration * sampleRate)
	out := make([]float32, n)

	var lp *biquad
	if p.Lowpass > 0 {
		lp = newLowpass(p.Lowpass, p.Q, sampleRate)
	}

	for i := 0; i < n; i++ {
		t := float64(i) / sampleRate

		var s float64
		for _, part := range p.Partials {
			phase := math.Mod(part.Freq*t, 1)
			s += oscillator(part.Wave, phase) * part.Gain
		}
		if lp != nil {
			s = lp.process(s)
		}

		out[i] = float32(s * p.envelope(t))
	}

	return out
}

// biquad is an RBJ cookbook filter in direct form I.
type biquad struct {
	b0, b1, b2, a1, a2 float64
	x1, x2, y1, y2     float64
}

func newLowpass(cutoff, q, sampleRate float64) *biquad {
	if q <= 0 {
		q = 1
	}
	if cutoff >= sampleRate/2 {
		cutoff = sampleRate/2 - 1
	}

	w0 := 2 * math.Pi * cutoff / sampleRate
	alpha := math.Sin(w0) / (2 * q)
	cos := math.Cos(w0)
	a0 := 1 + alpha

	return &biquad{
		b0: (1 - cos) / 2 / a0,
		b1: (1 - cos) / a0,
		b2: (1 - cos) / 2 / a0,
		a1: -2 * cos / a0,
		a2: (1 - alpha) / a0,
	}
}

func (f *biquad) process(x float64) float64 {
	y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
	f.x2, f.x1 = f.x1, x
	f.y2, f.y1 = f.y1, y
	return y
}
