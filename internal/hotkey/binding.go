package hotkey

import (
	"fmt"
	"strings"

	"golang.design/x/hotkey"
)

// Binding is a platform-neutral shortcut description. Alt is Option on macOS
// and Cmd is the Command or Windows key.
type Binding struct {
	Ctrl  bool   `json:"ctrl"`
	Shift bool   `json:"shift"`
	Alt   bool   `json:"alt"`
	Cmd   bool   `json:"cmd"`
	Key   string `json:"key"`
}

var keys = map[string]hotkey.Key{
	"Space":  hotkey.KeySpace,
	"A":      hotkey.KeyA,
	"B":      hotkey.KeyB,
	"C":      hotkey.KeyC,
	"D":      hotkey.KeyD,
	"E":      hotkey.KeyE,
	"F":      hotkey.KeyF,
	"G":      hotkey.KeyG,
	"H":      hotkey.KeyH,
	"I":      hotkey.KeyI,
	"J":      hotkey.KeyJ,
	"K":      hotkey.KeyK,
	"L":      hotkey.KeyL,
	"M":      hotkey.KeyM,
	"N":      hotkey.KeyN,
	"O":      hotkey.KeyO,
	"P":      hotkey.KeyP,
	"Q":      hotkey.KeyQ,
	"R":      hotkey.KeyR,
	"S":      hotkey.KeyS,
	"T":      hotkey.KeyT,
	"U":      hotkey.KeyU,
	"V":      hotkey.KeyV,
	"W":      hotkey.KeyW,
	"X":      hotkey.KeyX,
	"Y":      hotkey.KeyY,
	"Z":      hotkey.KeyZ,
	"0":      hotkey.Key0,
	"1":      hotkey.Key1,
	"2":      hotkey.Key2,
	"3":      hotkey.Key3,
	"4":      hotkey.Key4,
	"5":      hotkey.Key5,
	"6":      hotkey.Key6,
	"7":      hotkey.Key7,
	"8":      hotkey.Key8,
	"9":      hotkey.Key9,
	"Escape": hotkey.KeyEscape,
	"Return": hotkey.KeyReturn,
	"Tab":    hotkey.KeyTab,
	"Delete": hotkey.KeyDelete,
}

// ParseKey converts a key name ("Space", "A", "7", "Escape") to a key code.
// Letters are case-insensitive.
func ParseKey(name string) (hotkey.Key, bool) {
	if k, ok := keys[name]; ok {
		return k, true
	}
	if len(name) == 1 {
		k, ok := keys[strings.ToUpper(name)]
		return k, ok
	}
	return 0, false
}

// Validate checks that the key is known and at least one modifier is set
func (b Binding) Validate() error {
	if _, ok := ParseKey(b.Key); !ok {
		return fmt.Errorf("unknown key: %q", b.Key)
	}
	if !b.Ctrl && !b.Shift && !b.Alt && !b.Cmd {
		return fmt.Errorf("hotkey %s needs at least one modifier", b.Key)
	}
	return nil
}

// Equal reports whether two bindings press the same keys
func (b Binding) Equal(o Binding) bool {
	return b.Ctrl == o.Ctrl && b.Shift == o.Shift && b.Alt == o.Alt && b.Cmd == o.Cmd &&
		strings.EqualFold(b.Key, o.Key)
}

// Label returns a plain-text form such as "Ctrl+Alt+Space"
func (b Binding) Label() string {
	var parts []string
	if b.Ctrl {
		parts = append(parts, "Ctrl")
	}
	if b.Shift {
		parts = append(parts, "Shift")
	}
	if b.Alt {
		parts = append(parts, "Alt")
	}
	if b.Cmd {
		parts = append(parts, "Cmd")
	}
	return strings.Join(append(parts, b.Key), "+")
}

// ValidateBindings validates each binding and rejects duplicates
func ValidateBindings(bindings map[Action]Binding) error {
	seen := make(map[Action]Binding, len(bindings))
	for action, b := range bindings {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("invalid %s hotkey: %w", action, err)
		}
		for other, ob := range seen {
			if b.Equal(ob) {
				return fmt.Errorf("%s and %s hotkeys are both %s", other, action, b.Label())
			}
		}
		seen[action] = b
	}
	return nil
}
