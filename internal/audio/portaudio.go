package audio

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// listDevices returns devices that have channels in the given direction.
func listDevices(dir Direction) ([]Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	var defaultDevice *portaudio.DeviceInfo
	if dir == Input {
		defaultDevice, err = portaudio.DefaultInputDevice()
	} else {
		defaultDevice, err = portaudio.DefaultOutputDevice()
	}
	if err != nil {
		// If we can't get the default device, continue without marking any as default
		defaultDevice = nil
	}

	var result []Device
	for i, dev := range devices {
		channels := dev.MaxInputChannels
		if dir == Output {
			channels = dev.MaxOutputChannels
		}
		if channels <= 0 {
			continue
		}

		result = append(result, Device{
			ID:                i,
			Name:              dev.Name,
			IsDefault:         defaultDevice != nil && dev.Name == defaultDevice.Name,
			InputChannels:     dev.MaxInputChannels,
			OutputChannels:    dev.MaxOutputChannels,
			DefaultSampleRate: dev.DefaultSampleRate,
		})
	}

	return result, nil
}

// resolveDevice returns the configured device, or the default one for -1.
func resolveDevice(id int, dir Direction) (*portaudio.DeviceInfo, error) {
	if id == -1 {
		var device *portaudio.DeviceInfo
		var err error
		if dir == Input {
			device, err = portaudio.DefaultInputDevice()
		} else {
			device, err = portaudio.DefaultOutputDevice()
		}
		if err != nil || device == nil {
			if dir == Input {
				return nil, fmt.Errorf("%w: %v", ErrNoInputDevice, err)
			}
			return nil, fmt.Errorf("%w: %v", ErrNoOutputDevice, err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	if id < 0 || id >= len(devices) {
		return nil, fmt.Errorf("invalid device ID: %d", id)
	}
	return devices[id], nil
}

// PortAudioDriver implements InputDriver using PortAudio
type PortAudioDriver struct {
	config      Config
	stream      *portaudio.Stream
	window      *Window
	mu          sync.Mutex
	capturing   bool
	initialized bool
}

// NewPortAudioDriver creates a new PortAudio capture driver
func NewPortAudioDriver() (*PortAudioDriver, error) {
	// Initialize PortAudio
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	return &PortAudioDriver{
		window: NewWindow(DefaultConfig().HistorySize),
	}, nil
}

// ListDevices returns the available devices for a direction
func (d *PortAudioDriver) ListDevices(dir Direction) ([]Device, error) {
	return listDevices(dir)
}

// Initialize opens the capture stream with the given configuration
func (d *PortAudioDriver) Initialize(config Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.capturing {
		return fmt.Errorf("cannot initialize while capturing")
	}

	// Close existing stream if any
	if d.stream != nil {
		if err := d.stream.Close(); err != nil {
			return fmt.Errorf("failed to close existing stream: %w", err)
		}
		d.stream = nil
	}

	device, err := resolveDevice(config.DeviceID, Input)
	if err != nil {
		return err
	}

	// Validate device has input channels
	if device.MaxInputChannels <= 0 {
		return fmt.Errorf("%w: '%s' (ID: %d) has no input channels (output-only device)",
			ErrNoInputDevice, device.Name, config.DeviceID)
	}

	latency := device.DefaultHighInputLatency
	if config.Latency == LowLatency {
		latency = device.DefaultLowInputLatency
	}

	streamParams := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: 1,
			Latency:  latency,
		},
		SampleRate:      float64(config.SampleRate),
		FramesPerBuffer: config.FramesPerBuffer,
	}

	stream, err := portaudio.OpenStream(streamParams, d.callback)
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}

	if config.HistorySize > 0 {
		d.window = NewWindow(config.HistorySize)
	}
	d.stream = stream
	d.config = config
	d.initialized = true

	return nil
}

// callback is called by PortAudio when audio data is available
func (d *PortAudioDriver) callback(in []float32) {
	d.window.Write(in)
}

// StartCapture starts filling the sample window
func (d *PortAudioDriver) StartCapture() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return ErrNotInitialized
	}

	if d.capturing {
		return nil
	}

	d.window.Reset()

	if err := d.stream.Start(); err != nil {
		return fmt.Errorf("failed to start stream: %w", err)
	}

	d.capturing = true
	return nil
}

// StopCapture stops the capture stream
func (d *PortAudioDriver) StopCapture() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.capturing {
		return nil
	}

	if err := d.stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop stream: %w", err)
	}

	d.capturing = false
	return nil
}

// Latest copies the most recent samples into dst
func (d *PortAudioDriver) Latest(dst []float32) int {
	return d.window.Latest(dst)
}

// IsCapturing returns whether capture is currently active
func (d *PortAudioDriver) IsCapturing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.capturing
}

// Close releases all resources
func (d *PortAudioDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.capturing {
		if err := d.stream.Stop(); err != nil {
			return fmt.Errorf("failed to stop stream: %w", err)
		}
		d.capturing = false
	}

	if d.stream != nil {
		if err := d.stream.Close(); err != nil {
			return fmt.Errorf("failed to close stream: %w", err)
		}
		d.stream = nil
	}

	// Terminate PortAudio
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}

	d.initialized = false
	return nil
}

// PortAudioOutput implements OutputDriver using PortAudio
type PortAudioOutput struct {
	config      Config
	stream      *portaudio.Stream
	renderer    Renderer
	scratch     []float32
	mu          sync.Mutex
	playing     bool
	initialized bool
}

// NewPortAudioOutput creates a new PortAudio playback driver
func NewPortAudioOutput() (*PortAudioOutput, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &PortAudioOutput{}, nil
}

// Initialize opens the playback stream feeding it from r
func (o *PortAudioOutput) Initialize(config Config, r Renderer) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stream != nil {
		if o.playing {
			_ = o.stream.Stop()
			o.playing = false
		}
		if err := o.stream.Close(); err != nil {
			return fmt.Errorf("failed to close existing stream: %w", err)
		}
		o.stream = nil
	}

	device, err := resolveDevice(config.DeviceID, Output)
	if err != nil {
		return err
	}
	if device.MaxOutputChannels <= 0 {
		return fmt.Errorf("%w: '%s' (ID: %d) has no output channels", ErrNoOutputDevice, device.Name, config.DeviceID)
	}

	channels := config.Channels
	if channels < 1 {
		channels = 1
	}
	if channels > device.MaxOutputChannels {
		channels = device.MaxOutputChannels
	}

	latency := device.DefaultHighOutputLatency
	if config.Latency == LowLatency {
		latency = device.DefaultLowOutputLatency
	}

	streamParams := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: channels,
			Latency:  latency,
		},
		SampleRate:      float64(config.SampleRate),
		FramesPerBuffer: config.FramesPerBuffer,
	}

	o.renderer = r
	o.config = config
	o.config.Channels = channels

	stream, err := portaudio.OpenStream(streamParams, o.callback)
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}

	o.stream = stream
	o.initialized = true
	return nil
}

// callback renders mono audio and copies it to every output channel
func (o *PortAudioOutput) callback(out []float32) {
	channels := o.config.Channels
	if channels <= 1 {
		o.renderer.Render(out)
		return
	}

	frames := len(out) / channels
	if cap(o.scratch) < frames {
		o.scratch = make([]float32, frames)
	}
	mono := o.scratch[:frames]
	o.renderer.Render(mono)
	for i, s := range mono {
		for c := 0; c < channels; c++ {
			out[i*channels+c] = s
		}
	}
}

// Start starts playback
func (o *PortAudioOutput) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.initialized {
		return ErrNotInitialized
	}
	if o.playing {
		return nil
	}
	if err := o.stream.Start(); err != nil {
		return fmt.Errorf("failed to start stream: %w", err)
	}
	o.playing = true
	return nil
}

// Stop stops playback
func (o *PortAudioOutput) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.playing {
		return nil
	}
	if err := o.stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop stream: %w", err)
	}
	o.playing = false
	return nil
}

// Close releases all resources
func (o *PortAudioOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.playing {
		if err := o.stream.Stop(); err != nil {
			return fmt.Errorf("failed to stop stream: %w", err)
		}
		o.playing = false
	}

	if o.stream != nil {
		if err := o.stream.Close(); err != nil {
			return fmt.Errorf("failed to close stream: %w", err)
		}
		o.stream = nil
	}

	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}

	o.initialized = false
	return nil
}
