// Package metronome is the timing core: a self-clocking scheduler that walks
// beats, subdivisions and bar patterns and tells a Player what to sound.
package metronome

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/yok-tottii/beatkeeper/internal/logger"
	"github.com/yok-tottii/beatkeeper/internal/sound"
)

// ErrAlreadyActive is returned by StartCountIn while playing or counting in
var ErrAlreadyActive = errors.New("metronome is already playing or counting in")

const (
	maxTaps    = 4
	tapTimeout = 3 * time.Second
)

// Player sounds beats. *sound.Engine implements it.
type Player interface {
	PlayBeat(v sound.Voice, beat int, emphasized, mainBeat bool)
	PlayCountIn(tempo, beats int)
}

// State represents the transport state
type State int

const (
	// Stopped means no clicks are scheduled
	Stopped State = iota
	// Playing means the ticker is running
	Playing
	// CountingIn means the spoken count is running and playback starts after it
	CountingIn
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Playing:
		return "Playing"
	case CountingIn:
		return "CountingIn"
	default:
		return "Unknown"
	}
}

// Phase of the active/silent bar pattern
type Phase string

const (
	PhaseActive Phase = "active"
	PhaseSilent Phase = "silent"
)

// Snapshot is a consistent copy of the transport counters and settings
type Snapshot struct {
	State                State    `json:"-"`
	StateName            string   `json:"state"`
	Tempo                int      `json:"tempo"`
	BeatsPerBar          int      `json:"beatsPerBar"`
	CurrentBeat          int      `json:"currentBeat"`
	CurrentSubdivision   int      `json:"currentSubdivision"`
	BarCount             int      `json:"barCount"`
	BeatCount            int      `json:"beatCount"`
	CurrentBar           int      `json:"currentBar"`
	CurrentBarMuted      bool     `json:"isCurrentBarMuted"`
	PatternPhase         Phase    `json:"patternPhase"`
	PatternBarsRemaining int      `json:"patternBarsRemaining"`
	Silent               bool     `json:"isSilent"`
	Settings             Settings `json:"settings"`
}

// effects are player calls and handler invocations collected under the lock
// and run after it is released, in order
type effects []func()

func (e effects) run() {
	for _, f := range e {
		f()
	}
}

// Metronome is the timing core. All methods are safe for concurrent use.
type Metronome struct {
	mu       sync.Mutex
	settings Settings
	player   Player
	log      *logger.Logger

	playing    bool
	countingIn bool

	beatsPerBar        int
	currentBeat        int
	currentSubdivision int
	barCount           int
	beatCount          int

	// mute pattern
	currentBar int
	barMuted   bool

	// active/silent pattern
	phase         Phase
	barsRemaining int
	silent        bool

	taps []time.Time

	stopChan      chan struct{}
	stopTicker    func()
	cancelCountIn func() bool
	countInSeq    uint64

	onBeat     func(Snapshot)
	onSettings func(Settings)

	newTicker func(time.Duration) (<-chan time.Time, func())
	afterFunc func(time.Duration, func()) func() bool
}

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

func realAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// New creates a stopped metronome from persisted settings
func New(settings Settings, player Player, log *logger.Logger) *Metronome {
	settings, fixed := settings.Normalize()
	if len(fixed) > 0 {
		log.Warn("Metronome settings out of range, reset to defaults: %v", fixed)
	}

	m := &Metronome{
		settings:    settings.Clone(),
		player:      player,
		log:         log,
		beatsPerBar: settings.TimeSignature.Numerator,
		currentBeat: 1,
		newTicker:   realTicker,
		afterFunc:   realAfterFunc,
	}
	m.resetPatternLocked()
	return m
}

// OnBeatChanged registers the beatChanged handler, replacing any previous one.
// Handlers run outside the metronome lock and may call back into it.
func (m *Metronome) OnBeatChanged(fn func(Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onBeat = fn
}

// OnSettingsChanged registers the handler called after every settings mutation
func (m *Metronome) OnSettingsChanged(fn func(Settings)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSettings = fn
}

func (m *Metronome) beatDuration() time.Duration {
	return time.Duration(float64(time.Minute) / float64(m.settings.Tempo))
}

func (m *Metronome) tickInterval() time.Duration {
	return m.beatDuration() / time.Duration(m.settings.Subdivision.PerBeat())
}

func (m *Metronome) emitBeatLocked(fx *effects) {
	if m.onBeat == nil {
		return
	}
	fn, snap := m.onBeat, m.snapshotLocked()
	*fx = append(*fx, func() { fn(snap) })
}

func (m *Metronome) settingsChangedLocked(fx *effects) {
	if m.onSettings == nil {
		return
	}
	fn, s := m.onSettings, m.settings.Clone()
	*fx = append(*fx, func() { fn(s) })
}

// Start begins playback on beat 1. It is a no-op while already playing.
func (m *Metronome) Start() {
	var fx effects
	m.mu.Lock()
	m.startLocked(&fx)
	m.mu.Unlock()
	fx.run()
}

func (m *Metronome) startLocked(fx *effects) {
	if m.playing {
		return
	}

	m.playing = true
	m.currentBeat = 1
	m.currentSubdivision = 0
	m.resetPatternLocked()

	m.playBeatLocked(fx)
	m.emitBeatLocked(fx)

	stop := make(chan struct{})
	c, stopTicker := m.newTicker(m.tickInterval())
	m.stopChan = stop
	m.stopTicker = stopTicker
	go m.run(c, stop)

	m.log.Info("Metronome started at %d BPM with %s subdivisions", m.settings.Tempo, m.settings.Subdivision)
}

// run delivers ticks until stop is closed
func (m *Metronome) run(c <-chan time.Time, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-c:
			m.tick(stop)
		}
	}
}

// tick advances one subdivision if stop still belongs to the current run
func (m *Metronome) tick(stop chan struct{}) {
	var fx effects
	m.mu.Lock()
	if !m.playing || m.stopChan != stop {
		m.mu.Unlock()
		return
	}
	m.nextSubdivisionLocked(&fx)
	m.mu.Unlock()
	fx.run()
}

// Stop cancels a pending count-in and stops playback, resetting beat and
// subdivision counters. beatChanged is emitted only if it was playing.
func (m *Metronome) Stop() {
	var fx effects
	m.mu.Lock()
	m.stopLocked(&fx)
	m.mu.Unlock()
	fx.run()
}

func (m *Metronome) stopLocked(fx *effects) {
	if m.countingIn {
		m.stopCountInLocked()
	}

	if !m.playing {
		return
	}

	m.playing = false
	m.currentBeat = 1
	m.currentSubdivision = 0

	if m.stopChan != nil {
		close(m.stopChan)
		m.stopChan = nil
	}
	if m.stopTicker != nil {
		m.stopTicker()
		m.stopTicker = nil
	}

	m.emitBeatLocked(fx)
	m.log.Info("Metronome stopped")
}

// TogglePlayback stops when active, otherwise starts
func (m *Metronome) TogglePlayback() {
	var fx effects
	m.mu.Lock()
	if m.playing || m.countingIn {
		m.stopLocked(&fx)
	} else {
		m.startLocked(&fx)
	}
	m.mu.Unlock()
	fx.run()
}

// StartCountIn speaks one bar of numbers, then resets the bar and beat
// counters and starts playback
func (m *Metronome) StartCountIn() error {
	var fx effects
	m.mu.Lock()
	defer func() {
		m.mu.Unlock()
		fx.run()
	}()

	if m.playing || m.countingIn {
		return ErrAlreadyActive
	}

	m.countingIn = true
	m.countInSeq++
	seq := m.countInSeq

	tempo, beats := m.settings.Tempo, m.settings.TimeSignature.Numerator
	if m.player != nil {
		player := m.player
		fx = append(fx, func() { player.PlayCountIn(tempo, beats) })
	}

	total := m.beatDuration() * time.Duration(beats)
	m.cancelCountIn = m.afterFunc(total, func() { m.finishCountIn(seq) })

	m.log.Info("Starting count-in: %d beats at %d BPM", beats, tempo)
	return nil
}

func (m *Metronome) finishCountIn(seq uint64) {
	var fx effects
	m.mu.Lock()
	if !m.countingIn || m.countInSeq != seq {
		m.mu.Unlock()
		return
	}

	m.countingIn = false
	m.cancelCountIn = nil
	m.barCount = 0
	m.beatCount = 0
	m.startLocked(&fx)
	m.mu.Unlock()
	fx.run()
}

func (m *Metronome) stopCountInLocked() {
	if m.cancelCountIn != nil {
		m.cancelCountIn()
		m.cancelCountIn = nil
	}
	m.countingIn = false
	m.log.Info("Count-in stopped")
}

func (m *Metronome) nextSubdivisionLocked(fx *effects) {
	m.currentSubdivision++
	if m.currentSubdivision >= m.settings.Subdivision.PerBeat() {
		m.currentSubdivision = 0
		m.nextBeatLocked(fx)
	}

	m.playBeatLocked(fx)
	m.emitBeatLocked(fx)
}

func (m *Metronome) nextBeatLocked(fx *effects) {
	m.currentBeat++
	m.beatCount++

	if m.currentBeat > m.beatsPerBar {
		m.currentBeat = 1
		m.barCount++
		m.nextBarLocked()
	}

	m.emitBeatLocked(fx)
}

func (m *Metronome) nextBarLocked() {
	if m.settings.MutePatternEnabled {
		m.currentBar++
		if m.currentBar > 2 {
			m.currentBar = 1
		}
		m.barMuted = m.currentBar == 2
	}

	if m.settings.PatternMode == PatternOn {
		m.barsRemaining--
		if m.barsRemaining <= 0 {
			if m.phase == PhaseActive {
				m.phase = PhaseSilent
				m.barsRemaining = m.settings.SilentBarsPattern
				m.silent = true
			} else {
				m.phase = PhaseActive
				m.barsRemaining = m.settings.ActiveBars
				m.silent = false
			}
		}
	}
}

func (m *Metronome) resetPatternLocked() {
	m.currentBar = 1
	m.barMuted = false
	m.phase = PhaseActive
	m.barsRemaining = m.settings.ActiveBars
	m.silent = false
}

func (m *Metronome) silencedLocked() bool {
	return (m.settings.MutePatternEnabled && m.barMuted) ||
		(m.settings.PatternMode == PatternOn && m.silent)
}

func (m *Metronome) playBeatLocked(fx *effects) {
	if m.silencedLocked() {
		return
	}

	mainBeat := m.currentSubdivision == 0
	if !mainBeat && !m.settings.PlaySubdivisionSounds {
		return
	}
	if m.player == nil {
		return
	}

	player, voice, beat := m.player, m.settings.BeatSound, m.currentBeat
	emphasized := slices.Contains(m.settings.EmphasizedBeats, beat)
	*fx = append(*fx, func() { player.PlayBeat(voice, beat, emphasized, mainBeat) })
}

// restartLocked re-arms the ticker after a timing change
func (m *Metronome) restartLocked(fx *effects) {
	if m.playing {
		m.stopLocked(fx)
		m.startLocked(fx)
	}
}

// SetTempo clamps to [30, 300] and restarts playback if playing
func (m *Metronome) SetTempo(tempo int) {
	var fx effects
	m.mu.Lock()
	m.setTempoLocked(tempo, &fx)
	m.mu.Unlock()
	fx.run()
}

func (m *Metronome) setTempoLocked(tempo int, fx *effects) {
	clamped := clampTempo(tempo)
	if clamped != tempo {
		m.log.Warn("Tempo %d out of range, clamped to %d", tempo, clamped)
	}
	m.settings.Tempo = clamped
	m.restartLocked(fx)
	m.settingsChangedLocked(fx)
}

// AdjustTempo changes the tempo by delta BPM
func (m *Metronome) AdjustTempo(delta int) {
	var fx effects
	m.mu.Lock()
	m.setTempoLocked(m.settings.Tempo+delta, &fx)
	m.mu.Unlock()
	fx.run()
}

// Tap registers a tap at now. With at least two of the last four taps the
// mean interval sets the tempo; it returns that tempo and whether it was
// applied. Taps older than three seconds are forgotten.
func (m *Metronome) Tap(now time.Time) (int, bool) {
	var fx effects
	m.mu.Lock()
	defer func() {
		m.mu.Unlock()
		fx.run()
	}()

	if n := len(m.taps); n > 0 && now.Sub(m.taps[n-1]) >= tapTimeout {
		m.taps = m.taps[:0]
	}
	m.taps = append(m.taps, now)
	if len(m.taps) > maxTaps {
		m.taps = m.taps[len(m.taps)-maxTaps:]
	}

	if len(m.taps) < 2 {
		return 0, false
	}

	intervals := make([]float64, 0, len(m.taps)-1)
	for i := 1; i < len(m.taps); i++ {
		intervals = append(intervals, float64(m.taps[i].Sub(m.taps[i-1]).Milliseconds()))
	}
	mean := stat.Mean(intervals, nil)
	if mean <= 0 {
		return 0, false
	}

	bpm := int(math.Round(60000 / mean))
	if bpm < MinTempo || bpm > MaxTempo {
		return bpm, false
	}
	m.setTempoLocked(bpm, &fx)
	return bpm, true
}

// ApplyDetectedTempo sets the tempo if it is within [30, 300]
func (m *Metronome) ApplyDetectedTempo(tempo int) bool {
	if tempo < MinTempo || tempo > MaxTempo {
		return false
	}
	m.SetTempo(tempo)
	m.log.Info("Applied detected tempo: %d BPM", tempo)
	return true
}

// SetBeatsPerBar sets the numerator, moves to beat 1 and resets the pattern
func (m *Metronome) SetBeatsPerBar(beats int) error {
	if beats < 1 || beats > MaxBeats {
		return fmt.Errorf("beats per bar must be between 1 and %d, got %d", MaxBeats, beats)
	}
	var fx effects
	m.mu.Lock()
	m.setBeatsPerBarLocked(beats)
	m.settingsChangedLocked(&fx)
	m.mu.Unlock()
	fx.run()
	return nil
}

func (m *Metronome) setBeatsPerBarLocked(beats int) {
	m.beatsPerBar = beats
	m.currentBeat = 1
	m.resetPatternLocked()
	m.settings.TimeSignature.Numerator = beats
}

// SetTimeSignature parses "n/d" and applies it
func (m *Metronome) SetTimeSignature(signature string) error {
	ts, err := ParseTimeSignature(signature)
	if err != nil {
		return err
	}
	var fx effects
	m.mu.Lock()
	m.settings.TimeSignature = ts
	m.setBeatsPerBarLocked(ts.Numerator)
	m.settingsChangedLocked(&fx)
	m.mu.Unlock()
	fx.run()
	return nil
}

// SetPatternMode switches the active/silent bar pattern and resets it
func (m *Metronome) SetPatternMode(mode PatternMode) error {
	if mode != PatternNone && mode != PatternOn {
		return fmt.Errorf("invalid pattern mode: %q", mode)
	}
	m.mutate(func() {
		m.settings.PatternMode = mode
		m.resetPatternLocked()
	})
	return nil
}

// SetMutePattern toggles muting every second bar and resets the pattern
func (m *Metronome) SetMutePattern(enabled bool) {
	m.mutate(func() {
		m.settings.MutePatternEnabled = enabled
		m.resetPatternLocked()
	})
}

// SetPatternBars sets how many bars sound and how many stay silent
func (m *Metronome) SetPatternBars(active, silent int) error {
	if active < 1 || silent < 1 {
		return fmt.Errorf("pattern bars must be positive, got %d/%d", active, silent)
	}
	m.mutate(func() {
		m.settings.ActiveBars = active
		m.settings.SilentBarsPattern = silent
		m.resetPatternLocked()
	})
	return nil
}

// SetSubdivision changes ticks per beat, re-arming the ticker if playing
func (m *Metronome) SetSubdivision(s Subdivision) error {
	if _, ok := ParseSubdivision(string(s)); !ok {
		return fmt.Errorf("invalid subdivision: %q", s)
	}
	var fx effects
	m.mu.Lock()
	changed := m.settings.Subdivision != s
	m.settings.Subdivision = s
	if changed {
		m.restartLocked(&fx)
	}
	m.settingsChangedLocked(&fx)
	m.mu.Unlock()
	fx.run()
	return nil
}

// SetEmphasizedBeats replaces the accented beats (1-based)
func (m *Metronome) SetEmphasizedBeats(beats []int) {
	clean := cleanBeats(beats)
	m.mutate(func() { m.settings.EmphasizedBeats = clean })
}

// SetBeatSound selects the click voice
func (m *Metronome) SetBeatSound(v sound.Voice) error {
	if _, ok := sound.ParseVoice(string(v)); !ok {
		return fmt.Errorf("unknown beat sound: %q", v)
	}
	m.mutate(func() { m.settings.BeatSound = v })
	return nil
}

// SetDisplayMode stores how front ends draw beats
func (m *Metronome) SetDisplayMode(mode DisplayMode) error {
	switch mode {
	case DisplayCircle, DisplayDots, DisplayBoth:
	default:
		return fmt.Errorf("invalid display mode: %q", mode)
	}
	m.mutate(func() { m.settings.DisplayMode = mode })
	return nil
}

// SetPlaySubdivisionSounds toggles sounding the ticks between beats
func (m *Metronome) SetPlaySubdivisionSounds(enabled bool) {
	m.mutate(func() { m.settings.PlaySubdivisionSounds = enabled })
}

// SetVoiceEnabled toggles voice commands
func (m *Metronome) SetVoiceEnabled(enabled bool) {
	m.mutate(func() { m.settings.IsVoiceEnabled = enabled })
}

// SetMicrophoneEnabled records whether the listener is running
func (m *Metronome) SetMicrophoneEnabled(enabled bool) {
	m.mutate(func() { m.settings.IsMicrophoneEnabled = enabled })
}

// ResetCounters zeroes the bar and beat counters
func (m *Metronome) ResetCounters() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.barCount = 0
	m.beatCount = 0
}

// Apply replaces all settings at once, e.g. from the settings page
func (m *Metronome) Apply(s Settings) {
	s, fixed := s.Normalize()
	if len(fixed) > 0 {
		m.log.Warn("Ignored invalid settings: %v", fixed)
	}

	var fx effects
	m.mu.Lock()
	retime := s.Tempo != m.settings.Tempo || s.Subdivision != m.settings.Subdivision
	m.settings = s.Clone()
	m.setBeatsPerBarLocked(s.TimeSignature.Numerator)
	if retime {
		m.restartLocked(&fx)
	}
	m.settingsChangedLocked(&fx)
	m.mu.Unlock()
	fx.run()
}

// mutate applies fn under the lock and reports the new settings
func (m *Metronome) mutate(fn func()) {
	var fx effects
	m.mu.Lock()
	fn()
	m.settingsChangedLocked(&fx)
	m.mu.Unlock()
	fx.run()
}

// IsActive reports whether playing or counting in
func (m *Metronome) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing || m.countingIn
}

// GetState returns the transport state
func (m *Metronome) GetState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Metronome) stateLocked() State {
	switch {
	case m.playing:
		return Playing
	case m.countingIn:
		return CountingIn
	default:
		return Stopped
	}
}

// Settings returns a copy of the current settings
func (m *Metronome) Settings() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings.Clone()
}

// Snapshot returns the current counters and settings
func (m *Metronome) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Metronome) snapshotLocked() Snapshot {
	state := m.stateLocked()
	return Snapshot{
		State:                state,
		StateName:            state.String(),
		Tempo:                m.settings.Tempo,
		BeatsPerBar:          m.beatsPerBar,
		CurrentBeat:          m.currentBeat,
		CurrentSubdivision:   m.currentSubdivision,
		BarCount:             m.barCount,
		BeatCount:            m.beatCount,
		CurrentBar:           m.currentBar,
		CurrentBarMuted:      m.barMuted,
		PatternPhase:         m.phase,
		PatternBarsRemaining: m.barsRemaining,
		Silent:               m.silent,
		Settings:             m.settings.Clone(),
	}
}

// Close stops playback and drops the handlers
func (m *Metronome) Close() {
	m.Stop()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onBeat = nil
	m.onSettings = nil
}
