package analyser

import (
	"math"
	"testing"
)

func sine(freq, sampleRate float64, n int, amp float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*freq*float64(i)/sampleRate))
	}
	return out
}

func TestNew_RoundsToPowerOfTwo(t *testing.T) {
	a := New(Config{FFTSize: 1000, Smoothing: 0.8, MinDecibels: -100, MaxDecibels: -30})
	if a.FFTSize() != 1024 || a.BinCount() != 512 {
		t.Errorf("Expected 1024/512, got %d/%d", a.FFTSize(), a.BinCount())
	}

	d := New(DefaultConfig())
	if d.FFTSize() != 2048 || d.BinCount() != 1024 {
		t.Errorf("Expected 2048/1024, got %d/%d", d.FFTSize(), d.BinCount())
	}
}

func TestAnalyse_Silence(t *testing.T) {
	a := New(DefaultConfig())
	f := a.Analyse(make([]float32, 2048))

	if f.BufferLength != 1024 || len(f.FrequencyBins) != 1024 || len(f.TimeDomain) != 2048 {
		t.Fatalf("Unexpected frame shape: %d %d %d", f.BufferLength, len(f.FrequencyBins), len(f.TimeDomain))
	}
	for i, b := range f.FrequencyBins {
		if b != 0 {
			t.Fatalf("Expected silent bin %d, got %d", i, b)
		}
	}
	for i, b := range f.TimeDomain {
		if b != 128 {
			t.Fatalf("Expected 128 at sample %d, got %d", i, b)
		}
	}
}

func TestAnalyse_PadsShortInput(t *testing.T) {
	a := New(DefaultConfig())
	f := a.Analyse([]float32{1, -1})

	if f.TimeDomain[0] != 128 {
		t.Errorf("Expected padding to be silent, got %d", f.TimeDomain[0])
	}
	if f.TimeDomain[2046] != 255 || f.TimeDomain[2047] != 0 {
		t.Errorf("Expected clamped samples at the end, got %d %d", f.TimeDomain[2046], f.TimeDomain[2047])
	}
}

func TestAnalyse_SinePeaksInItsBin(t *testing.T) {
	a := New(DefaultConfig())
	const rate = 44100.0
	freq := 1000.0
	samples := sine(freq, rate, 2048, 0.01)

	var f = a.Analyse(samples)
	for i := 0; i < 20; i++ {
		f = a.Analyse(samples)
	}

	expected := int(math.Round(freq / (rate / 2048)))
	best := 0
	for i, b := range f.FrequencyBins {
		if b > f.FrequencyBins[best] {
			best = i
		}
	}
	if best < expected-1 || best > expected+1 {
		t.Errorf("Expected peak near bin %d, got %d", expected, best)
	}
	if f.FrequencyBins[best] < 100 {
		t.Errorf("Expected a strong peak, got %d", f.FrequencyBins[best])
	}
}

func TestAnalyse_Smoothing(t *testing.T) {
	a := New(DefaultConfig())
	loud := sine(1000, 44100, 2048, 0.001)

	first := a.Analyse(loud)
	var settled = first
	for i := 0; i < 30; i++ {
		settled = a.Analyse(loud)
	}

	peak := 46
	if first.FrequencyBins[peak] >= settled.FrequencyBins[peak] {
		t.Errorf("Expected smoothing to ramp up: first %d, settled %d", first.FrequencyBins[peak], settled.FrequencyBins[peak])
	}

	a.Reset()
	again := a.Analyse(loud)
	if again.FrequencyBins[peak] != first.FrequencyBins[peak] {
		t.Errorf("Expected Reset to restore the initial response: %d vs %d", again.FrequencyBins[peak], first.FrequencyBins[peak])
	}
}
