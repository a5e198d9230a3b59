package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents the logging level
type Level int

const (
	// DEBUG level for detailed debugging information
	DEBUG Level = iota
	// INFO level for informational messages
	INFO
	// WARN level for warning messages
	WARN
	// ERROR level for error messages
	ERROR
)

// String returns the string representation of the level
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name (case-insensitive) to a Level.
// Unknown names fall back to INFO.
func ParseLevel(name string) Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Logger handles logging to file with daily rotation.
// A nil *Logger is valid and discards everything.
type Logger struct {
	mu            sync.RWMutex
	level         Level
	file          *os.File
	echo          io.Writer
	infoLog       *log.Logger
	warnLog       *log.Logger
	errorLog      *log.Logger
	debugLog      *log.Logger
	logDir        string
	currentDay    string
	retentionDays int
}

// Config holds logger configuration
type Config struct {
	LogDir        string
	Level         Level
	RetentionDays int
	// Echo, when set, receives a copy of every line (stderr for the terminal UI, buffers in tests).
	Echo io.Writer
}

// DefaultConfig returns the default logger configuration
func DefaultConfig() Config {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}

	return Config{
		LogDir:        filepath.Join(dir, "Beatkeeper", "logs"),
		Level:         INFO,
		RetentionDays: 7,
	}
}

// New creates a new file-backed logger
func New(config Config) (*Logger, error) {
	l := &Logger{
		level:         config.Level,
		logDir:        config.LogDir,
		retentionDays: config.RetentionDays,
		echo:          config.Echo,
	}

	if err := l.rotateLog(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return l, nil
}

// NewWriter creates a logger that writes only to w, without a log file.
func NewWriter(w io.Writer, level Level) *Logger {
	l := &Logger{level: level, currentDay: "-"}
	l.setOutput(w)
	return l
}

// setOutput recreates the per-level loggers; callers hold mu.
func (l *Logger) setOutput(w io.Writer) {
	l.infoLog = log.New(w, "[INFO] ", log.LstdFlags)
	l.warnLog = log.New(w, "[WARN] ", log.LstdFlags)
	l.errorLog = log.New(w, "[ERROR] ", log.LstdFlags)
	l.debugLog = log.New(w, "[DEBUG] ", log.LstdFlags)
}

// rotateLog rotates the log file if necessary
func (l *Logger) rotateLog() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	today := time.Now().Format("20060102")

	if l.currentDay == today && l.file != nil {
		return nil
	}

	if l.file != nil {
		l.file.Close()
	}

	if err := os.MkdirAll(l.logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	filename := fmt.Sprintf("beatkeeper-%s.log", today)
	filePath := filepath.Join(l.logDir, filename)

	file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	l.file = file
	l.currentDay = today

	var out io.Writer = file
	if l.echo != nil {
		out = io.MultiWriter(file, l.echo)
	}
	l.setOutput(out)

	if err := l.cleanOldLogs(); err != nil {
		l.warnLog.Printf("Failed to clean old logs: %v", err)
	}

	return nil
}

// cleanOldLogs deletes log files older than retentionDays
func (l *Logger) cleanOldLogs() error {
	cutoffDate := time.Now().AddDate(0, 0, -l.retentionDays)

	entries, err := os.ReadDir(l.logDir)
	if err != nil {
		return fmt.Errorf("failed to read log directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".log" {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoffDate) {
			// Continue even if we can't delete a file
			_ = os.Remove(filepath.Join(l.logDir, entry.Name()))
		}
	}

	return nil
}

// checkRotation checks if log rotation is needed and performs it
func (l *Logger) checkRotation() {
	l.mu.RLock()
	currentDay := l.currentDay
	fileBacked := l.logDir != ""
	l.mu.RUnlock()

	if !fileBacked {
		return
	}

	if currentDay != time.Now().Format("20060102") {
		if err := l.rotateLog(); err != nil {
			// Can't log this error since logging is failing
			fmt.Fprintf(os.Stderr, "Failed to rotate log: %v\n", err)
		}
	}
}

func (l *Logger) logAt(level Level, pick func(*Logger) *log.Logger, format string, v ...interface{}) {
	if l == nil {
		return
	}

	l.mu.RLock()
	current := l.level
	l.mu.RUnlock()

	if current > level {
		return
	}

	l.checkRotation()
	l.mu.RLock()
	target := pick(l)
	l.mu.RUnlock()
	if target != nil {
		target.Printf(format, v...)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	l.logAt(DEBUG, func(l *Logger) *log.Logger { return l.debugLog }, format, v...)
}

// Info logs an informational message
func (l *Logger) Info(format string, v ...interface{}) {
	l.logAt(INFO, func(l *Logger) *log.Logger { return l.infoLog }, format, v...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, v ...interface{}) {
	l.logAt(WARN, func(l *Logger) *log.Logger { return l.warnLog }, format, v...)
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	l.logAt(ERROR, func(l *Logger) *log.Logger { return l.errorLog }, format, v...)
}

// Close closes the log file
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level Level) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.level = level
}

// GetLevel returns the current logging level
func (l *Logger) GetLevel() Level {
	if l == nil {
		return ERROR
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.level
}
