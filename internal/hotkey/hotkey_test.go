package hotkey

import (
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	m := New()
	if m == nil {
		t.Fatal("New() returned nil")
	}

	bindings := m.GetBindings()
	if len(bindings) != 2 {
		t.Errorf("Expected 2 bindings, got %d", len(bindings))
	}

	toggle := bindings[ActionToggle]
	if !toggle.Ctrl || !toggle.Alt || toggle.Key != "Space" {
		t.Errorf("Unexpected toggle binding: %+v", toggle)
	}

	if err := ValidateBindings(bindings); err != nil {
		t.Errorf("Default bindings should be valid: %v", err)
	}
}

func TestParseKey(t *testing.T) {
	for _, name := range []string{"Space", "A", "b", "7", "Escape", "Return", "Tab", "Delete"} {
		if _, ok := ParseKey(name); !ok {
			t.Errorf("Expected %q to parse", name)
		}
	}
	for _, name := range []string{"", "F13", "space", "!"} {
		if _, ok := ParseKey(name); ok {
			t.Errorf("Expected %q to be rejected", name)
		}
	}
}

func TestBindingValidate(t *testing.T) {
	tests := []struct {
		name    string
		binding Binding
		wantErr bool
	}{
		{"Ctrl+Alt+Space", Binding{Ctrl: true, Alt: true, Key: "Space"}, false},
		{"Shift+t", Binding{Shift: true, Key: "t"}, false},
		{"No modifier", Binding{Key: "Space"}, true},
		{"Unknown key", Binding{Ctrl: true, Key: "F13"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.binding.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateBindings_Duplicate(t *testing.T) {
	bindings := map[Action]Binding{
		ActionToggle: {Ctrl: true, Key: "B"},
		ActionTap:    {Ctrl: true, Key: "b"},
	}
	if err := ValidateBindings(bindings); err == nil {
		t.Error("Expected error for duplicate bindings")
	}
}

func TestCheckConflicts(t *testing.T) {
	tests := []struct {
		name           string
		binding        Binding
		expectConflict bool
	}{
		{
			name:           "Spotlight conflict (Cmd+Space)",
			binding:        Binding{Cmd: true, Key: "Space"},
			expectConflict: true,
		},
		{
			name:           "No conflict (Ctrl+Alt+Space)",
			binding:        Binding{Ctrl: true, Alt: true, Key: "Space"},
			expectConflict: false,
		},
		{
			name:           "Force Quit conflict (Cmd+Alt+Esc)",
			binding:        Binding{Cmd: true, Alt: true, Key: "Escape"},
			expectConflict: true,
		},
		{
			name:           "Terminal conflict (Ctrl+Alt+t)",
			binding:        Binding{Ctrl: true, Alt: true, Key: "t"},
			expectConflict: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conflicts := CheckConflicts(tt.binding)
			hasConflict := len(conflicts) > 0

			if hasConflict != tt.expectConflict {
				t.Errorf("Expected conflict=%v, got conflict=%v (found %d conflicts)",
					tt.expectConflict, hasConflict, len(conflicts))
			}
		})
	}
}

func TestFormatHotkey(t *testing.T) {
	tests := []struct {
		name     string
		binding  Binding
		expected string
	}{
		{"Ctrl+Alt+Space", Binding{Ctrl: true, Alt: true, Key: "Space"}, "⌃⌥Space"},
		{"Cmd+Space", Binding{Cmd: true, Key: "Space"}, "⌘Space"},
		{"Shift+Cmd+a", Binding{Cmd: true, Shift: true, Key: "a"}, "⇧⌘A"},
		{"Escape", Binding{Ctrl: true, Key: "Escape"}, "⌃Esc"},
		{"Digit", Binding{Alt: true, Key: "7"}, "⌥7"},
		{"Unknown", Binding{Ctrl: true, Key: "F13"}, "⌃Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FormatHotkey(tt.binding)
			if result != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestLabel(t *testing.T) {
	b := Binding{Ctrl: true, Shift: true, Alt: true, Cmd: true, Key: "T"}
	if got := b.Label(); got != "Ctrl+Shift+Alt+Cmd+T" {
		t.Errorf("Unexpected label %q", got)
	}
}

func TestModifiers(t *testing.T) {
	if got := modifiers(Binding{Ctrl: true, Alt: true, Key: "Space"}); len(got) != 2 {
		t.Errorf("Expected 2 modifiers, got %d", len(got))
	}
	if got := modifiers(Binding{Key: "Space"}); len(got) != 0 {
		t.Errorf("Expected no modifiers, got %d", len(got))
	}
}

func TestManagerLifecycle(t *testing.T) {
	m := New()

	// Initially should not be running
	if m.IsRunning() {
		t.Error("Manager should not be running initially")
	}

	// Close should be safe on non-running manager
	if err := m.Close(); err != nil {
		t.Errorf("Close() on non-running manager returned error: %v", err)
	}

	// Invalid bindings are rejected before anything touches the OS
	err := m.Register(map[Action]Binding{ActionToggle: {Key: "Space"}})
	if err == nil {
		t.Error("Expected error for a binding without modifiers")
	}
	if m.IsRunning() {
		t.Error("Manager should not run after a failed Register")
	}

	// Note: We cannot test actual registration here because it requires
	// a display server and may conflict with the test environment.
}

func TestEventChannel(t *testing.T) {
	m := New()

	eventChan := m.Events()
	if eventChan == nil {
		t.Fatal("Events() returned nil channel")
	}

	// Channel should be non-blocking initially
	select {
	case <-eventChan:
		t.Error("Events channel should be empty initially")
	case <-time.After(10 * time.Millisecond):
		// Expected: timeout
	}
}

func TestGetBindings_ReturnsCopy(t *testing.T) {
	m := New()

	bindings := m.GetBindings()
	bindings[ActionTap] = Binding{Shift: true, Key: "Z"}

	if m.GetBindings()[ActionTap].Key != "B" {
		t.Error("GetBindings should return a copy")
	}
}
