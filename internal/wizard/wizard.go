package wizard

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Step names one first-run task
type Step string

const (
	// StepMicrophone is done once live listening has started successfully
	StepMicrophone Step = "microphone"
	// StepPlayback is done once the metronome has played
	StepPlayback Step = "playback"
	// StepHotkeys is done once the shortcuts were reviewed in the settings page
	StepHotkeys Step = "hotkeys"
)

// SetupWizard manages the initial application setup flow
type SetupWizard struct {
	configDir     string
	configPath    string
	setupFlagFile string
	progressFile  string
	mu            sync.RWMutex
}

// NewSetupWizard creates a setup wizard keeping its state next to configPath
func NewSetupWizard(configPath string) (*SetupWizard, error) {
	configDir := filepath.Dir(configPath)

	// Ensure config directory exists
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	return &SetupWizard{
		configDir:     configDir,
		configPath:    configPath,
		setupFlagFile: filepath.Join(configDir, ".setup_completed"),
		progressFile:  filepath.Join(configDir, ".setup_progress.json"),
	}, nil
}

// IsFirstRun checks if this is the first run of the application
func (w *SetupWizard) IsFirstRun() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	// First run if config doesn't exist
	_, err := os.Stat(w.configPath)
	return os.IsNotExist(err)
}

// IsSetupCompleted checks if the initial setup has been completed
func (w *SetupWizard) IsSetupCompleted() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	_, err := os.Stat(w.setupFlagFile)
	return !os.IsNotExist(err)
}

// MarkSetupCompleted marks the setup as completed
func (w *SetupWizard) MarkSetupCompleted() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Create the setup completed flag file
	file, err := os.Create(w.setupFlagFile)
	if err != nil {
		return fmt.Errorf("failed to create setup flag file: %w", err)
	}
	file.Close()

	return nil
}

// ShouldShowWizard returns true if the settings page should open on start:
// the config does not exist yet or setup was never completed.
func (w *SetupWizard) ShouldShowWizard() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if _, err := os.Stat(w.configPath); os.IsNotExist(err) {
		return true
	}

	_, setupErr := os.Stat(w.setupFlagFile)
	return os.IsNotExist(setupErr)
}

// SetupProgress reports which first-run steps are done
type SetupProgress struct {
	MicrophoneReady  bool `json:"microphone_ready"`
	PlaybackTested   bool `json:"playback_tested"`
	HotkeyConfigured bool `json:"hotkey_configured"`
	Completed        bool `json:"completed"`
}

// GetProgress returns the current setup progress
func (w *SetupWizard) GetProgress() SetupProgress {
	w.mu.RLock()
	defer w.mu.RUnlock()

	steps := w.readSteps()
	_, err := os.Stat(w.setupFlagFile)

	return SetupProgress{
		MicrophoneReady:  steps[StepMicrophone],
		PlaybackTested:   steps[StepPlayback],
		HotkeyConfigured: steps[StepHotkeys],
		Completed:        err == nil,
	}
}

// MarkStep records a finished step. Marking a step twice is a no-op.
func (w *SetupWizard) MarkStep(step Step) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	steps := w.readSteps()
	if steps[step] {
		return nil
	}
	steps[step] = true

	data, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("failed to marshal setup progress: %w", err)
	}
	if err := os.WriteFile(w.progressFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write setup progress: %w", err)
	}
	return nil
}

// readSteps returns the recorded steps; a missing or corrupt file reads as none
func (w *SetupWizard) readSteps() map[Step]bool {
	steps := map[Step]bool{}
	data, err := os.ReadFile(w.progressFile)
	if err != nil {
		return steps
	}
	if err := json.Unmarshal(data, &steps); err != nil {
		return map[Step]bool{}
	}
	return steps
}

// ResetSetup resets the setup state (for testing or manual reset)
func (w *SetupWizard) ResetSetup() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, f := range []string{w.setupFlagFile, w.progressFile} {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", filepath.Base(f), err)
		}
	}

	return nil
}

// GetConfigDir returns the configuration directory
func (w *SetupWizard) GetConfigDir() string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.configDir
}

// GetConfigPath returns the configuration file path
func (w *SetupWizard) GetConfigPath() string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.configPath
}
