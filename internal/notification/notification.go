package notification

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// NotificationType represents the type of notification
type NotificationType string

const (
	// TypeInfo is an informational notification
	TypeInfo NotificationType = "info"
	// TypeWarning is a warning notification
	TypeWarning NotificationType = "warning"
	// TypeError is an error notification
	TypeError NotificationType = "error"
	// TypeSuccess is a success notification
	TypeSuccess NotificationType = "success"
)

// Notification represents a desktop notification
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
}

// Translator supplies localized message text
type Translator interface {
	Translate(key string) string
	TranslateWithFormat(key string, params map[string]string) string
}

// NotificationManager handles sending notifications to the user
type NotificationManager struct {
	appName string
	tr      Translator
	goos    string
	run     func(name string, args ...string) error
}

// NewNotificationManager creates a new notification manager. tr may be nil,
// in which case message keys are sent untranslated.
func NewNotificationManager(appName string, tr Translator) *NotificationManager {
	return &NotificationManager{
		appName: appName,
		tr:      tr,
		goos:    runtime.GOOS,
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
}

// Send sends a notification through the platform notifier: osascript on
// macOS, notify-send on Linux and a PowerShell balloon on Windows
func (nm *NotificationManager) Send(notification *Notification) error {
	if notification == nil {
		return fmt.Errorf("notification cannot be nil")
	}

	name, args, err := nm.command(notification)
	if err != nil {
		return err
	}

	if err := nm.run(name, args...); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}

	return nil
}

func (nm *NotificationManager) command(n *Notification) (string, []string, error) {
	switch nm.goos {
	case "darwin":
		script := fmt.Sprintf(
			`display notification "%s" with title "%s"`,
			escapeAppleScript(n.Message),
			escapeAppleScript(n.Title),
		)
		return "osascript", []string{"-e", script}, nil
	case "linux":
		urgency := "normal"
		if n.Type == TypeError {
			urgency = "critical"
		}
		return "notify-send", []string{"-a", nm.appName, "-u", urgency, n.Title, n.Message}, nil
	case "windows":
		script := fmt.Sprintf(
			`[reflection.assembly]::loadwithpartialname('System.Windows.Forms') | Out-Null; `+
				`$n = New-Object System.Windows.Forms.NotifyIcon; $n.Icon = [System.Drawing.SystemIcons]::Information; `+
				`$n.Visible = $true; $n.ShowBalloonTip(5000, '%s', '%s', 'None')`,
			escapePowerShell(n.Title),
			escapePowerShell(n.Message),
		)
		return "powershell", []string{"-NoProfile", "-Command", script}, nil
	}
	return "", nil, fmt.Errorf("notifications are not supported on %s", nm.goos)
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

func escapePowerShell(s string) string {
	return strings.ReplaceAll(s, `'`, `''`)
}

func (nm *NotificationManager) text(key string, params map[string]string) string {
	if nm.tr == nil {
		return key
	}
	if params == nil {
		return nm.tr.Translate(key)
	}
	return nm.tr.TranslateWithFormat(key, params)
}

// SendInfo sends an informational notification
func (nm *NotificationManager) SendInfo(title, message string) error {
	return nm.Send(&Notification{
		Title:   title,
		Message: message,
		Type:    TypeInfo,
	})
}

// SendWarning sends a warning notification
func (nm *NotificationManager) SendWarning(title, message string) error {
	return nm.Send(&Notification{
		Title:   title,
		Message: message,
		Type:    TypeWarning,
	})
}

// SendError sends an error notification
func (nm *NotificationManager) SendError(title, message string) error {
	return nm.Send(&Notification{
		Title:   title,
		Message: message,
		Type:    TypeError,
	})
}

// SendSuccess sends a success notification
func (nm *NotificationManager) SendSuccess(title, message string) error {
	return nm.Send(&Notification{
		Title:   title,
		Message: message,
		Type:    TypeSuccess,
	})
}

// MicrophoneUnavailable reports that live listening could not start
func (nm *NotificationManager) MicrophoneUnavailable() error {
	return nm.SendError(nm.appName, nm.text("error.mic_unavailable", nil))
}

// OutputUnavailable reports that beats will not be audible
func (nm *NotificationManager) OutputUnavailable() error {
	return nm.SendWarning(nm.appName, nm.text("error.no_output", nil))
}

// TempoDetected reports a new detected tempo
func (nm *NotificationManager) TempoDetected(bpm int) error {
	return nm.SendInfo(nm.appName, nm.text("notification.tempo_detected", map[string]string{"bpm": fmt.Sprint(bpm)}))
}

// TempoApplied reports that the detected tempo was applied to the metronome
func (nm *NotificationManager) TempoApplied(bpm int) error {
	return nm.SendSuccess(nm.appName, nm.text("notification.tempo_applied", map[string]string{"bpm": fmt.Sprint(bpm)}))
}

// HotkeyConflict warns that a shortcut is taken by another application
func (nm *NotificationManager) HotkeyConflict(hotkey, owner string) error {
	return nm.SendWarning(nm.appName, nm.text("error.hotkey_conflict", map[string]string{"hotkey": hotkey, "name": owner}))
}

// HotkeyRegistrationFailed reports a shortcut that could not be registered
func (nm *NotificationManager) HotkeyRegistrationFailed(hotkey string) error {
	return nm.SendError(nm.appName, nm.text("error.hotkey_register", map[string]string{"hotkey": hotkey}))
}

// SettingsReset reports settings fields that were invalid on load
func (nm *NotificationManager) SettingsReset(fields []string) error {
	return nm.SendWarning(nm.appName, nm.text("error.settings_invalid", map[string]string{"fields": strings.Join(fields, ", ")}))
}
