package wizard

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestWizard(t *testing.T) *SetupWizard {
	t.Helper()
	wizard, err := NewSetupWizard(filepath.Join(t.TempDir(), "Beatkeeper", "config.json"))
	if err != nil {
		t.Fatalf("Failed to create wizard: %v", err)
	}
	return wizard
}

func TestNewSetupWizard(t *testing.T) {
	wizard := newTestWizard(t)

	if wizard.configDir == "" {
		t.Error("Expected configDir to be set")
	}

	if _, err := os.Stat(wizard.configDir); err != nil {
		t.Errorf("Expected config directory to be created: %v", err)
	}

	if filepath.Dir(wizard.setupFlagFile) != wizard.configDir {
		t.Error("Expected setupFlagFile next to the config")
	}
}

func TestIsFirstRun(t *testing.T) {
	wizard := newTestWizard(t)

	if !wizard.IsFirstRun() {
		t.Error("Expected IsFirstRun to return true when config doesn't exist")
	}

	// Create a dummy config file
	if err := os.WriteFile(wizard.configPath, []byte("{}"), 0644); err != nil {
		t.Fatalf("Failed to create dummy config: %v", err)
	}

	// Now it should not be first run
	if wizard.IsFirstRun() {
		t.Error("Expected IsFirstRun to return false when config exists")
	}
}

func TestSetupCompleted(t *testing.T) {
	wizard := newTestWizard(t)

	if wizard.IsSetupCompleted() {
		t.Error("Expected IsSetupCompleted to return false when flag doesn't exist")
	}

	if err := wizard.MarkSetupCompleted(); err != nil {
		t.Fatalf("Failed to mark setup completed: %v", err)
	}

	if !wizard.IsSetupCompleted() {
		t.Error("Expected IsSetupCompleted to return true after marking")
	}

	if err := wizard.ResetSetup(); err != nil {
		t.Fatalf("Failed to reset setup: %v", err)
	}

	if wizard.IsSetupCompleted() {
		t.Error("Expected IsSetupCompleted to return false after reset")
	}
}

func TestShouldShowWizard(t *testing.T) {
	wizard := newTestWizard(t)

	// No config yet
	if !wizard.ShouldShowWizard() {
		t.Error("Expected wizard on first run")
	}

	// Config exists but setup not completed
	if err := os.WriteFile(wizard.configPath, []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	if !wizard.ShouldShowWizard() {
		t.Error("Expected wizard until setup is completed")
	}

	if err := wizard.MarkSetupCompleted(); err != nil {
		t.Fatal(err)
	}
	if wizard.ShouldShowWizard() {
		t.Error("Expected no wizard after setup is completed")
	}
}

func TestProgress(t *testing.T) {
	wizard := newTestWizard(t)

	if p := wizard.GetProgress(); p.MicrophoneReady || p.PlaybackTested || p.HotkeyConfigured || p.Completed {
		t.Errorf("Expected empty progress, got %+v", p)
	}

	if err := wizard.MarkStep(StepPlayback); err != nil {
		t.Fatalf("MarkStep failed: %v", err)
	}
	if err := wizard.MarkStep(StepPlayback); err != nil {
		t.Fatalf("Second MarkStep failed: %v", err)
	}
	if err := wizard.MarkStep(StepMicrophone); err != nil {
		t.Fatal(err)
	}

	p := wizard.GetProgress()
	if !p.PlaybackTested || !p.MicrophoneReady || p.HotkeyConfigured {
		t.Errorf("Unexpected progress: %+v", p)
	}

	// Progress survives a new wizard on the same directory
	again, err := NewSetupWizard(wizard.configPath)
	if err != nil {
		t.Fatal(err)
	}
	if !again.GetProgress().PlaybackTested {
		t.Error("Expected progress to persist")
	}

	if err := wizard.ResetSetup(); err != nil {
		t.Fatal(err)
	}
	if p := wizard.GetProgress(); p.PlaybackTested {
		t.Errorf("Expected progress cleared after reset, got %+v", p)
	}
}

func TestProgress_CorruptFile(t *testing.T) {
	wizard := newTestWizard(t)

	if err := os.WriteFile(wizard.progressFile, []byte("garbage"), 0600); err != nil {
		t.Fatal(err)
	}
	if p := wizard.GetProgress(); p.MicrophoneReady {
		t.Error("Corrupt progress should read as empty")
	}
	if err := wizard.MarkStep(StepHotkeys); err != nil {
		t.Fatalf("MarkStep should overwrite a corrupt file: %v", err)
	}
	if !wizard.GetProgress().HotkeyConfigured {
		t.Error("Expected hotkeys step after overwrite")
	}
}

func TestGetters(t *testing.T) {
	wizard := newTestWizard(t)

	if wizard.GetConfigDir() != filepath.Dir(wizard.GetConfigPath()) {
		t.Error("Config dir should contain the config path")
	}
}
