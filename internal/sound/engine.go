// Package sound renders metronome beats and count-ins. Beats use a loaded
// WAV sample when the bank has one and fall back to parametric synthesis
// otherwise; everything is mixed against the output stream's audio clock.
package sound

import (
	"math"
	"sync"

	"github.com/yok-tottii/beatkeeper/internal/logger"
)

// DefaultSampleRate is used when the output device does not report one.
const DefaultSampleRate = 44100

// Config holds output engine settings.
type Config struct {
	SampleRate int
	Volume     float64
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		SampleRate: DefaultSampleRate,
		Volume:     0.5,
	}
}

// Status reports engine readiness.
type Status struct {
	Ready         bool    `json:"ready"`
	SamplesLoaded int     `json:"samplesLoaded"`
	Volume        float64 `json:"volume"`
	SampleRate    int     `json:"sampleRate"`
	Clock         int64   `json:"clock"`
	Error         string  `json:"error,omitempty"`
}

type patchKey struct {
	voice      Voice
	emphasized bool
	mainBeat   bool
}

// Engine schedules beats and count-ins onto a Mixer.
type Engine struct {
	sampleRate int
	mixer      *Mixer
	bank       *Bank
	log        *logger.Logger

	mu     sync.Mutex
	ready  bool
	err    error
	render map[patchKey][]float32
}

// NewEngine creates an engine. bank may be nil for synthesis only.
func NewEngine(cfg Config, bank *Bank, log *logger.Logger) *Engine {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if bank == nil {
		bank = NewBank()
	}

	return &Engine{
		sampleRate: cfg.SampleRate,
		mixer:      NewMixer(cfg.Volume),
		bank:       bank,
		log:        log,
		ready:      true,
		render:     make(map[patchKey][]float32),
	}
}

// SampleRate returns the output sample rate.
func (e *Engine) SampleRate() int {
	return e.sampleRate
}

// Mixer returns the engine's mixer.
func (e *Engine) Mixer() *Mixer {
	return e.mixer
}

// Render fills out with the next block of audio. Output streams call this.
func (e *Engine) Render(out []float32) {
	e.mixer.Render(out)
}

// Fail marks the output as unavailable. The first failure is logged; later
// beats are dropped silently.
func (e *Engine) Fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.ready {
		return
	}
	e.ready = false
	e.err = err
	e.log.Error("Audio output unavailable, continuing without sound: %v", err)
}

// Recover marks the output as available again.
func (e *Engine) Recover() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ready = true
	e.err = nil
}

func (e *Engine) isReady() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

// SetVolume sets the master volume (clamped to [0,1]).
func (e *Engine) SetVolume(v float64) {
	e.mixer.SetVolume(v)
}

// Status returns the current engine status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Status{
		Ready:         e.ready,
		SamplesLoaded: e.bank.Len(),
		Volume:        e.mixer.Volume(),
		SampleRate:    e.sampleRate,
		Clock:         e.mixer.Clock(),
	}
	if e.err != nil {
		s.Error = e.err.Error()
	}
	return s
}

func (e *Engine) patch(key patchKey) []float32 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if data, ok := e.render[key]; ok {
		return data
	}
	data := PatchFor(key.voice, key.emphasized, key.mainBeat).Render(float64(e.sampleRate))
	e.render[key] = data
	return data
}

// sampleData adapts a bank sample to the output rate, sped up by speed.
func (e *Engine) sampleData(s Sample, speed float64) []float32 {
	ratio := speed
	if s.SampleRate > 0 {
		ratio *= float64(s.SampleRate) / float64(e.sampleRate)
	}
	return Resample(s.Data, ratio)
}

// PlayBeat plays one beat now. The classic click uses mainBeat to pick the
// softer subdivision tick.
func (e *Engine) PlayBeat(v Voice, beat int, emphasized, mainBeat bool) {
	if !e.isReady() {
		return
	}

	if s, ok := e.bank.Get(string(v)); ok {
		gain := beatVolume(emphasized)
		if !emphasized && !mainBeat {
			gain = 0.3
		}
		e.mixer.Schedule(e.sampleData(s, 1), gain, 0)
		return
	}

	e.mixer.Schedule(e.patch(patchKey{voice: v, emphasized: emphasized, mainBeat: mainBeat}), 1, 0)
}

// SpeechRate scales spoken count-in words so they fit inside a beat.
func SpeechRate(tempo int) float64 {
	t := float64(tempo)
	switch {
	case tempo > 120:
		return math.Min(3, 1+(t-120)/120)
	case tempo < 80:
		return math.Max(0.5, 0.8+(t-60)/100)
	default:
		return 1
	}
}

// accentPitch raises the first spoken number.
const accentPitch = 1.2

// PlayCountIn schedules beats spoken numbers, one per beat at tempo. Numbers
// without a loaded sample use the count-in tone.
func (e *Engine) PlayCountIn(tempo, beats int) {
	if !e.isReady() || tempo <= 0 || beats <= 0 {
		return
	}

	beatFrames := int64(math.Round(60 / float64(tempo) * float64(e.sampleRate)))
	rate := SpeechRate(tempo)

	for i := 1; i <= beats; i++ {
		offset := int64(i-1) * beatFrames
		accented := i == 1

		if s, ok := e.bank.Get(NumberWord(i)); ok {
			speed := rate
			if accented {
				speed *= accentPitch
			}
			e.mixer.Schedule(e.sampleData(s, speed), 1, offset)
			continue
		}

		e.mixer.Schedule(e.patch(patchKey{voice: voiceCountIn, emphasized: accented}), 1, offset)
	}
}
