package sound

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrInvalidWAV is returned for files the WAV decoder rejects.
var ErrInvalidWAV = errors.New("invalid WAV file")

// Sample is mono PCM in [-1, 1].
type Sample struct {
	Data       []float32
	SampleRate int
}

// Duration returns the sample length in seconds.
func (s Sample) Duration() float64 {
	if s.SampleRate <= 0 {
		return 0
	}
	return float64(len(s.Data)) / float64(s.SampleRate)
}

// LoadWAV decodes a PCM WAV file and downmixes it to mono.
func LoadWAV(path string) (Sample, error) {
	file, err := os.Open(path)
	if err != nil {
		return Sample{}, fmt.Errorf("failed to open sample: %w", err)
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		return Sample{}, fmt.Errorf("%s: %w", path, ErrInvalidWAV)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return Sample{}, fmt.Errorf("failed to read samples from %s: %w", path, err)
	}

	channels := int(decoder.NumChans)
	if channels < 1 {
		channels = 1
	}
	maxVal := float64(int(1) << (uint(decoder.BitDepth) - 1))

	frames := len(buf.Data) / channels
	data := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(buf.Data[i*channels+c])
		}
		data[i] = float32(sum / float64(channels) / maxVal)
	}

	return Sample{Data: data, SampleRate: int(decoder.SampleRate)}, nil
}

// WriteWAV encodes mono float samples as 16-bit PCM.
func WriteWAV(path string, data []float32, sampleRate int) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	enc := wav.NewEncoder(file, sampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           make([]int, len(data)),
		SourceBitDepth: 16,
	}
	for i, v := range data {
		buf.Data[i] = int(math.Max(-1, math.Min(1, float64(v))) * 32767)
	}

	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("failed to write samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", path, err)
	}
	return nil
}

// Resample returns data played back ratio times faster (ratio > 1 shortens
// the sample and raises its pitch), using linear interpolation.
func Resample(data []float32, ratio float64) []float32 {
	if ratio <= 0 || len(data) == 0 {
		return nil
	}
	if ratio == 1 {
		return append([]float32(nil), data...)
	}

	n := int(float64(len(data)) / ratio)
	out := make([]float32, n)
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		frac := float32(pos - float64(j))
		a := data[j]
		b := a
		if j+1 < len(data) {
			b = data[j+1]
		}
		out[i] = a + (b-a)*frac
	}
	return out
}

// Bank holds decoded samples keyed by name (beat voices and spoken numbers).
type Bank struct {
	mu      sync.RWMutex
	samples map[string]Sample
}

// NewBank creates an empty bank.
func NewBank() *Bank {
	return &Bank{samples: make(map[string]Sample)}
}

// numberWords are the spoken count-in sample names for 1..12.
var numberWords = []string{
	"", "one", "two", "three", "four", "five", "six",
	"seven", "eight", "nine", "ten", "eleven", "twelve",
}

// NumberWord returns the sample name for a count-in number.
func NumberWord(n int) string {
	if n > 0 && n < len(numberWords) {
		return numberWords[n]
	}
	return fmt.Sprintf("%d", n)
}

// LoadDir loads <name>.wav for every beat voice and number word found in dir.
// Missing files are skipped; the count of loaded samples is returned along
// with the first decoding error.
func (b *Bank) LoadDir(dir string) (int, error) {
	if dir == "" {
		return 0, nil
	}

	names := make([]string, 0, len(Voices)+len(numberWords))
	for _, v := range Voices {
		names = append(names, string(v))
	}
	names = append(names, numberWords[1:]...)

	var loaded int
	var firstErr error
	for _, name := range names {
		path := filepath.Join(dir, name+".wav")
		if _, err := os.Stat(path); err != nil {
			continue
		}
		s, err := LoadWAV(path)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		b.Set(name, s)
		loaded++
	}

	return loaded, firstErr
}

// Set stores a sample.
func (b *Bank) Set(name string, s Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples[name] = s
}

// Get returns a sample by name.
func (b *Bank) Get(name string) (Sample, bool) {
	if b == nil {
		return Sample{}, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.samples[name]
	return s, ok
}

// Len returns the number of loaded samples.
func (b *Bank) Len() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.samples)
}
