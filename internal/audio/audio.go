package audio

import (
	"errors"
	"sync"
)

var (
	// ErrPermissionDenied is returned when the OS refuses microphone access.
	ErrPermissionDenied = errors.New("microphone access denied")
	// ErrNoInputDevice is returned when no usable capture device exists.
	ErrNoInputDevice = errors.New("no audio input device available")
	// ErrNoOutputDevice is returned when no usable playback device exists.
	ErrNoOutputDevice = errors.New("no audio output device available")
	// ErrNotInitialized is returned when a stream is used before Initialize.
	ErrNotInitialized = errors.New("audio driver not initialized")
)

// Device represents an audio device
type Device struct {
	ID                int     `json:"id"`
	Name              string  `json:"name"`
	IsDefault         bool    `json:"isDefault"`
	InputChannels     int     `json:"inputChannels"`
	OutputChannels    int     `json:"outputChannels"`
	DefaultSampleRate float64 `json:"defaultSampleRate"`
}

// Direction selects capture or playback devices.
type Direction int

const (
	// Input lists capture devices
	Input Direction = iota
	// Output lists playback devices
	Output
)

// LatencyMode defines the latency priority
type LatencyMode int

const (
	// LowLatency prioritizes low latency (real-time)
	LowLatency LatencyMode = iota
	// HighStability prioritizes stability (larger buffer)
	HighStability
)

// Config holds audio configuration
type Config struct {
	DeviceID        int
	SampleRate      int
	Channels        int
	Latency         LatencyMode
	FramesPerBuffer int
	// HistorySize is how many recent capture samples are kept for analysis.
	HistorySize int
}

// DefaultConfig returns the default audio configuration.
// Sample rate: 44.1kHz, mono, low latency so clicks and detection stay tight.
func DefaultConfig() Config {
	return Config{
		DeviceID:        -1, // -1 means use default device
		SampleRate:      44100,
		Channels:        1,
		Latency:         LowLatency,
		FramesPerBuffer: 512,
		HistorySize:     2048,
	}
}

// InputDriver captures microphone audio into a rolling window of recent
// samples. The abstraction keeps PortAudio replaceable.
type InputDriver interface {
	// ListDevices returns the available devices for a direction
	ListDevices(dir Direction) ([]Device, error)

	// Initialize opens the capture stream with the given configuration
	Initialize(config Config) error

	// StartCapture starts filling the sample window
	StartCapture() error

	// StopCapture stops the capture stream
	StopCapture() error

	// Latest copies the most recent samples into dst, oldest first, and
	// returns how many were written
	Latest(dst []float32) int

	// IsCapturing returns whether capture is active
	IsCapturing() bool

	// Close releases all resources
	Close() error
}

// Renderer fills an output buffer; the sound engine implements it.
type Renderer interface {
	Render(out []float32)
}

// OutputDriver plays whatever a Renderer produces.
type OutputDriver interface {
	Initialize(config Config, r Renderer) error
	Start() error
	Stop() error
	Close() error
}

// Window is a fixed-size ring of the most recent samples.
type Window struct {
	mu    sync.Mutex
	data  []float32
	next  int
	count int
}

// NewWindow creates a window holding size samples.
func NewWindow(size int) *Window {
	if size <= 0 {
		size = 1
	}
	return &Window{data: make([]float32, size)}
}

// Write appends samples, overwriting the oldest.
func (w *Window) Write(samples []float32) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, s := range samples {
		w.data[w.next] = s
		w.next = (w.next + 1) % len(w.data)
		if w.count < len(w.data) {
			w.count++
		}
	}
}

// Latest copies up to len(dst) of the newest samples into dst, oldest first.
func (w *Window) Latest(dst []float32) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := len(dst)
	if n > w.count {
		n = w.count
	}
	start := w.next - n
	if start < 0 {
		start += len(w.data)
	}
	for i := 0; i < n; i++ {
		dst[i] = w.data[(start+i)%len(w.data)]
	}
	return n
}

// Reset discards all samples.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.next = 0
	w.count = 0
}
