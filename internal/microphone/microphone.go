// Package microphone runs live beat detection: it polls the capture window,
// builds analyser frames and feeds them to the adaptive detector, reporting
// volume, tempo and beat events.
package microphone

import (
	"fmt"
	"sync"
	"time"

	"github.com/yok-tottii/beatkeeper/internal/analyser"
	"github.com/yok-tottii/beatkeeper/internal/audio"
	"github.com/yok-tottii/beatkeeper/internal/detector"
	"github.com/yok-tottii/beatkeeper/internal/features"
	"github.com/yok-tottii/beatkeeper/internal/logger"
)

// ErrorMessage is reported through the Error handler when capture cannot start
const ErrorMessage = "Microphone access denied or not available"

// Handlers receive listener events. They run on the analysis goroutine, in the
// order volume, tempo, beat for a frame. Close must not be called from them.
type Handlers struct {
	BeatDetected  func(ms int64)
	TempoDetected func(bpm int, confidence float64)
	VolumeUpdate  func(level float64)
	Error         func(message string)
}

// PermissionChecker reports whether the OS blocks microphone access
type PermissionChecker interface {
	IsMicrophoneBlocked() bool
}

// Recorder persists listening sessions and tempo detections
type Recorder interface {
	BeginSession(mode string, at time.Time) (string, error)
	RecordDetection(sessionID string, bpm int, confidence float64, at time.Time) error
	EndSession(sessionID string, beats int, at time.Time) error
}

// Config holds listener configuration
type Config struct {
	Audio     audio.Config
	Analyser  analyser.Config
	Detection detector.Config
	// Interval is the analysis period (one frame per tick).
	Interval time.Duration
}

// DefaultConfig returns 60 analyses per second over a 2048-sample window
func DefaultConfig() Config {
	return Config{
		Audio:     audio.DefaultConfig(),
		Analyser:  analyser.DefaultConfig(),
		Detection: detector.DefaultConfig(),
		Interval:  time.Second / 60,
	}
}

// Status is a point-in-time view of the listener
type Status struct {
	IsInitialized    bool          `json:"isInitialized"`
	IsListening      bool          `json:"isListening"`
	DetectedTempo    int           `json:"detectedTempo"`
	TempoConfidence  float64       `json:"tempoConfidence"`
	RecentBeats      int           `json:"recentBeats"`
	TempoHistory     []int         `json:"tempoHistory"`
	DetectionMode    features.Mode `json:"detectionMode"`
	OnsetThreshold   float64       `json:"onsetThreshold"`
	SpectralCentroid float64       `json:"spectralCentroid"`
	Volume           float64       `json:"volume"`
}

// Listener owns the capture driver, analyser and detector
type Listener struct {
	mu       sync.Mutex
	driver   audio.InputDriver
	audioCfg audio.Config
	perms    PermissionChecker
	recorder Recorder
	log      *logger.Logger
	handlers Handlers

	analyser *analyser.Analyser
	detector *detector.Detector
	interval time.Duration
	samples  []float32
	volume   float64

	initialized bool
	listening   bool
	session     string
	stopChan    chan struct{}
	wg          sync.WaitGroup
}

// New creates a listener. perms and recorder may be nil.
func New(driver audio.InputDriver, perms PermissionChecker, recorder Recorder, config Config, log *logger.Logger) *Listener {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	a := analyser.New(config.Analyser)
	return &Listener{
		driver:   driver,
		audioCfg: config.Audio,
		perms:    perms,
		recorder: recorder,
		log:      log,
		analyser: a,
		detector: detector.New(config.Detection),
		interval: config.Interval,
		samples:  make([]float32, a.FFTSize()),
	}
}

// SetHandlers registers the event handlers, replacing previous ones
func (l *Listener) SetHandlers(h Handlers) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = h
}

// RequestAccess checks permission and opens the capture device. Failures are
// reported through the Error handler as well as returned.
func (l *Listener) RequestAccess() error {
	l.mu.Lock()
	err := l.requestAccessLocked()
	onError := l.handlers.Error
	l.mu.Unlock()

	if err != nil && onError != nil {
		onError(ErrorMessage)
	}
	return err
}

func (l *Listener) requestAccessLocked() error {
	if l.initialized {
		return nil
	}

	if l.perms != nil && l.perms.IsMicrophoneBlocked() {
		l.log.Error("Microphone permission denied")
		return audio.ErrPermissionDenied
	}

	if err := l.driver.Initialize(l.audioCfg); err != nil {
		l.log.Error("Failed to open microphone: %v", err)
		return fmt.Errorf("failed to open microphone: %w", err)
	}

	l.initialized = true
	l.log.Info("Microphone access granted and initialized")
	return nil
}

// StartListening opens the microphone if needed and starts analysis
func (l *Listener) StartListening() error {
	l.mu.Lock()
	if l.listening {
		l.mu.Unlock()
		l.log.Warn("Already listening")
		return nil
	}

	if err := l.requestAccessLocked(); err != nil {
		onError := l.handlers.Error
		l.mu.Unlock()
		if onError != nil {
			onError(ErrorMessage)
		}
		return err
	}

	if err := l.driver.StartCapture(); err != nil {
		onError := l.handlers.Error
		l.mu.Unlock()
		l.log.Error("Failed to start capture: %v", err)
		if onError != nil {
			onError(ErrorMessage)
		}
		return fmt.Errorf("failed to start capture: %w", err)
	}

	l.listening = true
	l.stopChan = make(chan struct{})
	l.beginSessionLocked()

	l.wg.Add(1)
	go l.run(l.stopChan)
	l.mu.Unlock()

	l.log.Info("Started listening for beats")
	return nil
}

func (l *Listener) beginSessionLocked() {
	if l.recorder == nil {
		return
	}
	id, err := l.recorder.BeginSession(string(l.detector.Config().Mode), time.Now())
	if err != nil {
		l.log.Warn("Failed to record listening session: %v", err)
		return
	}
	l.session = id
}

// run analyses one frame per tick until stop is closed
func (l *Listener) run(stop chan struct{}) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case t := <-ticker.C:
			l.analyse(t, stop)
		}
	}
}

// analyse processes the newest window captured by t and emits events.
// A tick from a session that has since been stopped or restarted is dropped.
func (l *Listener) analyse(t time.Time, stop chan struct{}) {
	l.mu.Lock()
	if !l.listening || l.stopChan != stop {
		l.mu.Unlock()
		return
	}

	n := l.driver.Latest(l.samples)
	frame := l.analyser.Analyse(l.samples[:n])
	now := t.UnixMilli()
	dec := l.detector.Process(frame, now)
	l.volume = dec.Features.AverageVolume

	h := l.handlers
	recorder, session := l.recorder, l.session
	l.mu.Unlock()

	if h.VolumeUpdate != nil {
		h.VolumeUpdate(dec.Features.AverageVolume)
	}

	if dec.Tempo != nil {
		l.log.Debug("Tempo detected: %d BPM (confidence: %.0f%%)", dec.Tempo.BPM, dec.Tempo.Confidence)
		if h.TempoDetected != nil {
			h.TempoDetected(dec.Tempo.BPM, dec.Tempo.Confidence)
		}
		if recorder != nil && session != "" {
			if err := recorder.RecordDetection(session, dec.Tempo.BPM, dec.Tempo.Confidence, t); err != nil {
				l.log.Warn("Failed to record detection: %v", err)
			}
		}
	}

	if dec.Beat && h.BeatDetected != nil {
		h.BeatDetected(now)
	}
}

// StopListening stops analysis and capture. It does not wait for an
// in-flight frame, so it may be called from a handler.
func (l *Listener) StopListening() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()
}

func (l *Listener) stopLocked() {
	if !l.listening {
		return
	}

	l.listening = false
	close(l.stopChan)
	l.stopChan = nil

	if err := l.driver.StopCapture(); err != nil {
		l.log.Warn("Failed to stop capture: %v", err)
	}

	if l.recorder != nil && l.session != "" {
		if err := l.recorder.EndSession(l.session, len(l.detector.Beats()), time.Now()); err != nil {
			l.log.Warn("Failed to close listening session: %v", err)
		}
	}
	l.session = ""

	l.log.Info("Stopped listening for beats")
}

// SetInputDevice selects the capture device (-1 for the system default).
// The stream is reopened on the next start; a running session restarts.
func (l *Listener) SetInputDevice(id int) error {
	l.mu.Lock()
	wasListening := l.listening
	l.stopLocked()
	l.audioCfg.DeviceID = id
	l.initialized = false
	l.mu.Unlock()

	l.log.Info("Input device set to %d", id)
	if wasListening {
		return l.StartListening()
	}
	return nil
}

// Reset clears beats and tempo; the detected tempo returns to 120
func (l *Listener) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.detector.Reset()
	l.log.Info("Beat detection reset")
}

// IsListening returns whether analysis is running
func (l *Listener) IsListening() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.listening
}

// Status returns the current detection state
func (l *Listener) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	est := l.detector.Estimator()
	cfg := l.detector.Config()
	return Status{
		IsInitialized:    l.initialized,
		IsListening:      l.listening,
		DetectedTempo:    est.Detected(),
		TempoConfidence:  est.Confidence(),
		RecentBeats:      len(l.detector.Beats()),
		TempoHistory:     est.History(),
		DetectionMode:    cfg.Mode,
		OnsetThreshold:   cfg.OnsetThreshold,
		SpectralCentroid: l.detector.SpectralCentroid(),
		Volume:           l.volume,
	}
}

// DetectedTempo returns the current tempo estimate
func (l *Listener) DetectedTempo() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.detector.Estimator().Detected()
}

// DetectionConfig returns the detector configuration
func (l *Listener) DetectionConfig() detector.Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.detector.Config()
}

// SetDetectionConfig replaces the detector configuration
func (l *Listener) SetDetectionConfig(cfg detector.Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n, changed := cfg.Normalize(); changed {
		l.log.Warn("Detection settings out of range, clamped: %+v", n)
	}
	l.detector.SetConfig(cfg)
}

// SetSensitivity sets the detector sensitivity (0..100)
func (l *Listener) SetSensitivity(s float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.detector.SetSensitivity(s)
	l.log.Info("Sensitivity set to: %.0f", l.detector.Config().Sensitivity)
}

// SetDetectionMode sets the instrument mode; unknown modes become "other"
func (l *Listener) SetDetectionMode(mode features.Mode) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.detector.SetMode(mode) {
		l.log.Warn("Unknown detection mode %q, using %q", mode, features.ModeOther)
	}
}

// SetMinBeatInterval sets the refractory period in milliseconds
func (l *Listener) SetMinBeatInterval(ms float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.detector.SetMinBeatInterval(ms)
}

// SetMaxBeatInterval sets the longest interval counted toward tempo
func (l *Listener) SetMaxBeatInterval(ms float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.detector.SetMaxBeatInterval(ms)
}

// SetOnsetThreshold sets the onset threshold (0..1)
func (l *Listener) SetOnsetThreshold(v float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.detector.SetOnsetThreshold(v)
}

// Close stops listening, waits for the analysis goroutine and releases the device
func (l *Listener) Close() error {
	l.mu.Lock()
	l.stopLocked()
	l.mu.Unlock()

	l.wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.initialized = false
	if err := l.driver.Close(); err != nil {
		return fmt.Errorf("failed to close audio driver: %w", err)
	}
	return nil
}

