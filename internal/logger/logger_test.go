package logger

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func todayLogPath(dir string) string {
	return filepath.Join(dir, fmt.Sprintf("beatkeeper-%s.log", time.Now().Format("20060102")))
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Level != INFO {
		t.Errorf("Expected default level INFO, got %v", config.Level)
	}

	if config.RetentionDays != 7 {
		t.Errorf("Expected retention days 7, got %d", config.RetentionDays)
	}

	if config.LogDir == "" {
		t.Error("Expected non-empty log directory")
	}
}

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{DEBUG, "DEBUG"},
		{INFO, "INFO"},
		{WARN, "WARN"},
		{ERROR, "ERROR"},
		{Level(42), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if result := tt.level.String(); result != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   DEBUG,
		"INFO":    INFO,
		"warning": WARN,
		"Error":   ERROR,
		"bogus":   INFO,
	}

	for name, want := range tests {
		if got := ParseLevel(name); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestNew(t *testing.T) {
	tempDir := t.TempDir()

	logger, err := New(Config{LogDir: tempDir, Level: INFO, RetentionDays: 7})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	if _, err := os.Stat(todayLogPath(tempDir)); os.IsNotExist(err) {
		t.Errorf("Log file was not created: %s", todayLogPath(tempDir))
	}
}

func TestLogging(t *testing.T) {
	tempDir := t.TempDir()
	var echo bytes.Buffer

	logger, err := New(Config{LogDir: tempDir, Level: DEBUG, RetentionDays: 7, Echo: &echo})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	logger.Debug("Debug message")
	logger.Info("Info message %d", 2)
	logger.Warn("Warn message")
	logger.Error("Error message")

	content, err := os.ReadFile(todayLogPath(tempDir))
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	for _, output := range []string{string(content), echo.String()} {
		for _, want := range []string{"[DEBUG] ", "Debug message", "[INFO] ", "Info message 2", "[WARN] ", "Warn message", "[ERROR] ", "Error message"} {
			if !strings.Contains(output, want) {
				t.Errorf("%q not found in log output", want)
			}
		}
	}
}

func TestLogLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf, WARN)

	logger.Debug("Debug message")
	logger.Info("Info message")
	logger.Warn("Warn message")
	logger.Error("Error message")

	logContent := buf.String()

	if strings.Contains(logContent, "Debug message") {
		t.Error("Debug message should not be logged at WARN level")
	}
	if strings.Contains(logContent, "Info message") {
		t.Error("Info message should not be logged at WARN level")
	}
	if !strings.Contains(logContent, "Warn message") {
		t.Error("Warn message not found in log")
	}
	if !strings.Contains(logContent, "Error message") {
		t.Error("Error message not found in log")
	}
}

func TestSetLevel(t *testing.T) {
	logger := NewWriter(&bytes.Buffer{}, INFO)

	if logger.GetLevel() != INFO {
		t.Errorf("Expected initial level INFO, got %v", logger.GetLevel())
	}

	logger.SetLevel(DEBUG)

	if logger.GetLevel() != DEBUG {
		t.Errorf("Expected level DEBUG, got %v", logger.GetLevel())
	}
}

func TestNilLogger(t *testing.T) {
	var logger *Logger

	// Must not panic
	logger.Info("ignored")
	logger.Error("ignored %v", 1)
	logger.SetLevel(DEBUG)

	if err := logger.Close(); err != nil {
		t.Errorf("Close on nil logger returned %v", err)
	}
}

func TestCleanOldLogs(t *testing.T) {
	tempDir := t.TempDir()

	oldDate := time.Now().AddDate(0, 0, -10)
	oldLogPath := filepath.Join(tempDir, fmt.Sprintf("beatkeeper-%s.log", oldDate.Format("20060102")))

	if err := os.WriteFile(oldLogPath, []byte("old log"), 0644); err != nil {
		t.Fatalf("Failed to create old log file: %v", err)
	}

	if err := os.Chtimes(oldLogPath, oldDate, oldDate); err != nil {
		t.Fatalf("Failed to change file times: %v", err)
	}

	logger, err := New(Config{LogDir: tempDir, Level: INFO, RetentionDays: 7})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	if _, err := os.Stat(oldLogPath); !os.IsNotExist(err) {
		t.Error("Old log file should have been deleted")
	}

	if _, err := os.Stat(todayLogPath(tempDir)); os.IsNotExist(err) {
		t.Error("Current log file should exist")
	}
}
