package hotkey

import "strings"

// ConflictInfo represents information about a known shortcut conflict
type ConflictInfo struct {
	Name        string
	Description string
	Binding     Binding
}

// knownConflicts contains shortcuts commonly taken by the OS or launchers
var knownConflicts = []ConflictInfo{
	{
		Name:        "Spotlight",
		Description: "macOS Spotlight search",
		Binding:     Binding{Cmd: true, Key: "Space"},
	},
	{
		Name:        "Raycast",
		Description: "Raycast launcher (common default)",
		Binding:     Binding{Alt: true, Key: "Space"},
	},
	{
		Name:        "IME Switch",
		Description: "Input method editor switch",
		Binding:     Binding{Ctrl: true, Key: "Space"},
	},
	{
		Name:        "Force Quit",
		Description: "macOS Force Quit",
		Binding:     Binding{Cmd: true, Alt: true, Key: "Escape"},
	},
	{
		Name:        "Terminal",
		Description: "Ubuntu terminal launcher",
		Binding:     Binding{Ctrl: true, Alt: true, Key: "T"},
	},
	{
		Name:        "Lock Screen",
		Description: "Windows and GNOME screen lock",
		Binding:     Binding{Cmd: true, Key: "L"},
	},
	{
		Name:        "Security Screen",
		Description: "Windows security screen",
		Binding:     Binding{Ctrl: true, Alt: true, Key: "Delete"},
	},
}

// CheckConflicts checks if the given hotkey conflicts with known system shortcuts
func CheckConflicts(b Binding) []ConflictInfo {
	var conflicts []ConflictInfo

	for _, known := range knownConflicts {
		if b.Equal(known.Binding) {
			conflicts = append(conflicts, known)
		}
	}

	return conflicts
}

// FormatHotkey returns a compact glyph form such as "⌃⌥Space"
func FormatHotkey(b Binding) string {
	result := ""

	if b.Ctrl {
		result += "⌃"
	}
	if b.Shift {
		result += "⇧"
	}
	if b.Alt {
		result += "⌥"
	}
	if b.Cmd {
		result += "⌘"
	}

	return result + keyLabel(b.Key)
}

// keyLabel shortens the key names that have a usual abbreviation
func keyLabel(key string) string {
	switch key {
	case "Escape":
		return "Esc"
	case "":
		return "Unknown"
	}
	if _, ok := ParseKey(key); !ok {
		return "Unknown"
	}
	return strings.ToUpper(key[:1]) + key[1:]
}
