package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/yok-tottii/beatkeeper/internal/detector"
	"github.com/yok-tottii/beatkeeper/internal/features"
	"github.com/yok-tottii/beatkeeper/internal/metronome"
)

// AppName is the directory name used under the user config directory
const AppName = "Beatkeeper"

// Config holds application configuration
type Config struct {
	Metronome   metronome.Settings `json:"metronome"`
	Detection   detector.Config    `json:"detection"`
	Audio       AudioConfig        `json:"audio"`
	Hotkeys     HotkeysConfig      `json:"hotkeys"`
	UILanguage  string             `json:"ui_language"` // "ja" or "en"
	ServerPort  int                `json:"server_port"`
	HistoryPath string             `json:"history_path"` // empty disables history
	LogLevel    string             `json:"log_level"`
	mu          sync.RWMutex

	// fixed lists the fields Load had to reset
	fixed []string
}

// AudioConfig holds device and output settings
type AudioConfig struct {
	InputDeviceID  int     `json:"input_device_id"`  // -1 = system default
	OutputDeviceID int     `json:"output_device_id"` // -1 = system default
	SampleRate     int     `json:"sample_rate"`
	SampleDir      string  `json:"sample_dir"` // WAV samples, optional
	Volume         float64 `json:"volume"`     // master volume 0..1
}

// HotkeysConfig holds the global shortcuts
type HotkeysConfig struct {
	Toggle HotkeyConfig `json:"toggle"`
	Tap    HotkeyConfig `json:"tap"`
}

// HotkeyConfig holds hotkey configuration
type HotkeyConfig struct {
	Ctrl  bool   `json:"ctrl"`
	Shift bool   `json:"shift"`
	Alt   bool   `json:"alt"`
	Cmd   bool   `json:"cmd"`
	Key   string `json:"key"` // e.g., "Space"
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Metronome: metronome.DefaultSettings(),
		Detection: detector.DefaultConfig(),
		Audio: AudioConfig{
			InputDeviceID:  -1,
			OutputDeviceID: -1,
			SampleRate:     44100,
			Volume:         0.5,
		},
		Hotkeys: HotkeysConfig{
			Toggle: HotkeyConfig{Ctrl: true, Alt: true, Key: "Space"},
			Tap:    HotkeyConfig{Ctrl: true, Alt: true, Key: "B"},
		},
		UILanguage:  "ja",
		ServerPort:  18765,
		HistoryPath: DefaultHistoryPath(),
		LogLevel:    "INFO",
	}
}

// Load loads configuration from the specified path. Fields missing from the
// file keep their defaults; zero metronome values fall back to defaults.
func Load(path string) (*Config, error) {
	// If file doesn't exist, return default config
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON over the defaults
	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.Metronome, config.fixed = config.Metronome.Normalize()
	var changed bool
	if config.Detection, changed = config.Detection.Normalize(); changed {
		config.fixed = append(config.fixed, "detection")
	}

	if config.Hotkeys.Toggle.Key == "" {
		config.Hotkeys.Toggle.Key = "Space"
	}
	if config.Hotkeys.Tap.Key == "" {
		config.Hotkeys.Tap.Key = "B"
	}

	return config, nil
}

// FixedFields returns the names of invalid fields Load replaced
func (c *Config) FixedFields() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.fixed...)
}

// Save saves configuration to the specified path
func (c *Config) Save(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Marshal to JSON
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write to a temp file and rename so a crash never leaves half a file
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace config file: %w", err)
	}

	return nil
}

// appDir returns <UserConfigDir>/Beatkeeper
func appDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		homeDir, _ := os.UserHomeDir()
		dir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(dir, AppName)
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	return filepath.Join(appDir(), "config.json")
}

// DefaultHistoryPath returns the default history database path
func DefaultHistoryPath() string {
	return filepath.Join(appDir(), "history.db")
}

// DefaultSampleDir returns the directory searched for WAV samples
func DefaultSampleDir() string {
	return filepath.Join(appDir(), "samples")
}

// SetMetronome stores the metronome settings
func (c *Config) SetMetronome(s metronome.Settings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Metronome = s.Clone()
}

// GetMetronome returns a copy of the metronome settings
func (c *Config) GetMetronome() metronome.Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Metronome.Clone()
}

// SetDetection stores the detection settings
func (c *Config) SetDetection(d detector.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Detection = d
}

// GetDetection returns the detection settings
func (c *Config) GetDetection() detector.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Detection
}

// Update updates configuration fields. Numbers arrive as float64 from JSON.
func (c *Config) Update(updates map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Apply updates
	for key, value := range updates {
		switch key {
		case "ui_language":
			if v, ok := value.(string); ok {
				if v != "ja" && v != "en" {
					return fmt.Errorf("invalid ui_language: %s", v)
				}
				c.UILanguage = v
			}
		case "server_port":
			if v, ok := value.(float64); ok {
				if v < 1024 || v > 65535 {
					return fmt.Errorf("invalid server_port: %v", v)
				}
				c.ServerPort = int(v)
			}
		case "history_path":
			if v, ok := value.(string); ok {
				c.HistoryPath = v
			}
		case "log_level":
			if v, ok := value.(string); ok {
				c.LogLevel = strings.ToUpper(v)
			}
		case "audio":
			if v, ok := value.(map[string]interface{}); ok {
				if err := c.updateAudio(v); err != nil {
					return err
				}
			}
		case "detection":
			if v, ok := value.(map[string]interface{}); ok {
				if err := c.updateDetection(v); err != nil {
					return err
				}
			}
		case "hotkeys":
			if v, ok := value.(map[string]interface{}); ok {
				if h, ok := v["toggle"].(map[string]interface{}); ok {
					updateHotkey(&c.Hotkeys.Toggle, h)
				}
				if h, ok := v["tap"].(map[string]interface{}); ok {
					updateHotkey(&c.Hotkeys.Tap, h)
				}
			}
		}
	}

	return nil
}

func (c *Config) updateAudio(v map[string]interface{}) error {
	if id, ok := v["input_device_id"].(float64); ok {
		c.Audio.InputDeviceID = int(id)
	}
	if id, ok := v["output_device_id"].(float64); ok {
		c.Audio.OutputDeviceID = int(id)
	}
	if sr, ok := v["sample_rate"].(float64); ok {
		if !validSampleRate(int(sr)) {
			return fmt.Errorf("invalid sample_rate: %v", sr)
		}
		c.Audio.SampleRate = int(sr)
	}
	if dir, ok := v["sample_dir"].(string); ok {
		c.Audio.SampleDir = dir
	}
	if vol, ok := v["volume"].(float64); ok {
		if vol < 0 || vol > 1 {
			return fmt.Errorf("invalid volume: %v (must be between 0 and 1)", vol)
		}
		c.Audio.Volume = vol
	}
	return nil
}

func (c *Config) updateDetection(v map[string]interface{}) error {
	d := c.Detection
	if s, ok := v["sensitivity"].(float64); ok {
		d.Sensitivity = s
	}
	if m, ok := v["mode"].(string); ok {
		mode, valid := features.ParseMode(m)
		if !valid {
			return fmt.Errorf("invalid detection mode: %s", m)
		}
		d.Mode = mode
	}
	if ms, ok := v["minBeatIntervalMs"].(float64); ok {
		d.MinBeatIntervalMs = ms
	}
	if ms, ok := v["maxBeatIntervalMs"].(float64); ok {
		d.MaxBeatIntervalMs = ms
	}
	if th, ok := v["onsetThreshold"].(float64); ok {
		d.OnsetThreshold = th
	}
	c.Detection, _ = d.Normalize()
	return nil
}

func updateHotkey(hk *HotkeyConfig, v map[string]interface{}) {
	if ctrl, ok := v["ctrl"].(bool); ok {
		hk.Ctrl = ctrl
	}
	if shift, ok := v["shift"].(bool); ok {
		hk.Shift = shift
	}
	if alt, ok := v["alt"].(bool); ok {
		hk.Alt = alt
	}
	if cmd, ok := v["cmd"].(bool); ok {
		hk.Cmd = cmd
	}
	if key, ok := v["key"].(string); ok {
		hk.Key = key
	}
}

func validSampleRate(sr int) bool {
	switch sr {
	case 22050, 32000, 44100, 48000, 88200, 96000:
		return true
	}
	return false
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &Config{
		Metronome:   c.Metronome.Clone(),
		Detection:   c.Detection,
		Audio:       c.Audio,
		Hotkeys:     c.Hotkeys,
		UILanguage:  c.UILanguage,
		ServerPort:  c.ServerPort,
		HistoryPath: c.HistoryPath,
		LogLevel:    c.LogLevel,
	}
}

// ExpandPath expands ~ to home directory in file paths
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	// Expand ~ to home directory
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(homeDir, path[2:]), nil
	}

	// Return absolute path
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	return absPath, nil
}

// GetSampleDir returns the expanded sample directory, or the default one
func (c *Config) GetSampleDir() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Audio.SampleDir == "" {
		return DefaultSampleDir(), nil
	}
	return ExpandPath(c.Audio.SampleDir)
}

// GetHistoryPath returns the expanded history database path
func (c *Config) GetHistoryPath() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return ExpandPath(c.HistoryPath)
}

// Validate validates all configuration fields
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Validate metronome
	m := c.Metronome
	if m.Tempo < metronome.MinTempo || m.Tempo > metronome.MaxTempo {
		return fmt.Errorf("invalid tempo: %d (must be between %d and %d)", m.Tempo, metronome.MinTempo, metronome.MaxTempo)
	}
	if err := m.TimeSignature.Validate(); err != nil {
		return fmt.Errorf("invalid time signature: %w", err)
	}
	if m.ActiveBars < 1 || m.SilentBarsPattern < 1 {
		return fmt.Errorf("invalid bar pattern: %d/%d (must be positive)", m.ActiveBars, m.SilentBarsPattern)
	}

	// Validate detection
	d := c.Detection
	if d.Sensitivity < 0 || d.Sensitivity > 100 {
		return fmt.Errorf("invalid sensitivity: %v (must be between 0 and 100)", d.Sensitivity)
	}
	if d.OnsetThreshold < 0 || d.OnsetThreshold > 1 {
		return fmt.Errorf("invalid onset threshold: %v (must be between 0 and 1)", d.OnsetThreshold)
	}
	if d.MinBeatIntervalMs < 0 || d.MaxBeatIntervalMs < d.MinBeatIntervalMs {
		return fmt.Errorf("invalid beat interval range: %v-%v ms", d.MinBeatIntervalMs, d.MaxBeatIntervalMs)
	}
	if _, ok := features.ParseMode(string(d.Mode)); !ok {
		return fmt.Errorf("invalid detection mode: %s", d.Mode)
	}

	// Validate audio
	if !validSampleRate(c.Audio.SampleRate) {
		return fmt.Errorf("invalid sample_rate: %d", c.Audio.SampleRate)
	}
	if c.Audio.Volume < 0 || c.Audio.Volume > 1 {
		return fmt.Errorf("invalid volume: %v (must be between 0 and 1)", c.Audio.Volume)
	}

	// Validate UI language
	if c.UILanguage != "ja" && c.UILanguage != "en" {
		return fmt.Errorf("invalid ui_language: %s (must be 'ja' or 'en')", c.UILanguage)
	}

	// Validate server port
	if c.ServerPort < 1024 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server_port: %d (must be between 1024 and 65535)", c.ServerPort)
	}

	// Validate hotkeys
	if c.Hotkeys.Toggle.Key == "" || c.Hotkeys.Tap.Key == "" {
		return fmt.Errorf("hotkey key cannot be empty")
	}

	return nil
}
