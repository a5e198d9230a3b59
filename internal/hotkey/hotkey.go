package hotkey

import (
	"fmt"
	"sync"
	"time"

	"golang.design/x/hotkey"
)

// Action names what a global shortcut does
type Action string

const (
	// ActionToggle starts or stops the metronome
	ActionToggle Action = "toggle"
	// ActionTap registers a tap-tempo tap
	ActionTap Action = "tap"
)

// Event represents a hotkey press
type Event struct {
	Action Action
	At     time.Time
}

type entry struct {
	hk      *hotkey.Hotkey
	binding Binding
}

// Manager manages global hotkey registration and events
type Manager struct {
	entries   map[Action]*entry
	bindings  map[Action]Binding
	eventChan chan Event
	stopChan  chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool
	now       func() time.Time
}

// New creates a new hotkey manager with the default bindings
func New() *Manager {
	return &Manager{
		bindings:  DefaultBindings(),
		eventChan: make(chan Event, 10),
		stopChan:  make(chan struct{}),
		now:       time.Now,
	}
}

// DefaultBindings returns Ctrl+Alt+Space for toggle and Ctrl+Alt+B for tap
func DefaultBindings() map[Action]Binding {
	return map[Action]Binding{
		ActionToggle: {Ctrl: true, Alt: true, Key: "Space"},
		ActionTap:    {Ctrl: true, Alt: true, Key: "B"},
	}
}

// Register registers every binding with the system. On failure nothing
// stays registered.
func (m *Manager) Register(bindings map[Action]Binding) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("hotkey is already running, call Close() first")
	}

	if err := ValidateBindings(bindings); err != nil {
		return err
	}

	// Recreate channels (they may have been closed by a previous Close())
	m.stopChan = make(chan struct{})
	m.eventChan = make(chan Event, 10)

	entries := make(map[Action]*entry, len(bindings))
	for action, b := range bindings {
		key, _ := ParseKey(b.Key)
		hk := hotkey.New(modifiers(b), key)
		if err := hk.Register(); err != nil {
			for _, e := range entries {
				_ = e.hk.Unregister()
			}
			return fmt.Errorf("failed to register %s hotkey %s: %w", action, b.Label(), err)
		}
		entries[action] = &entry{hk: hk, binding: b}
	}

	m.entries = entries
	m.bindings = cloneBindings(bindings)
	m.running = true

	// Start listening, one goroutine per shortcut
	for action, e := range entries {
		m.wg.Add(1)
		go m.listen(action, e.hk, m.stopChan, m.eventChan)
	}

	return nil
}

// listen forwards keydown events for one shortcut. A full channel drops the
// press rather than blocking the OS event loop.
func (m *Manager) listen(action Action, hk *hotkey.Hotkey, stop chan struct{}, events chan Event) {
	defer m.wg.Done()

	for {
		select {
		case <-hk.Keydown():
			select {
			case events <- Event{Action: action, At: m.now()}:
			default:
			}

		case <-hk.Keyup():

		case <-stop:
			return
		}
	}
}

// Events returns the event channel for receiving hotkey events
func (m *Manager) Events() <-chan Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.eventChan
}

// Close unregisters all hotkeys and stops listening
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	var unregisterErr error

	// Signal the listeners to stop
	close(m.stopChan)

	// Wait for the listener goroutines to finish
	m.wg.Wait()

	// Unregister the hotkeys
	// 注意: エラーが発生しても続行し、必ずクリーンアップを実行する
	for action, e := range m.entries {
		if err := e.hk.Unregister(); err != nil && unregisterErr == nil {
			unregisterErr = fmt.Errorf("failed to unregister %s hotkey: %w", action, err)
		}
	}
	m.entries = nil

	// Close event channel to notify consumers of shutdown
	if m.eventChan != nil {
		close(m.eventChan)
		m.eventChan = nil
	}

	// 必ず running フラグを false にセット
	// これにより、Unregister() が失敗しても次の Register() が可能になる
	m.running = false

	return unregisterErr
}

// Reload replaces the registered bindings. When the new set cannot be
// registered the previous one is restored.
func (m *Manager) Reload(bindings map[Action]Binding) error {
	old := m.GetBindings()
	wasRunning := m.IsRunning()

	if err := m.Close(); err != nil {
		return err
	}

	if err := m.Register(bindings); err != nil {
		if wasRunning {
			if rerr := m.Register(old); rerr != nil {
				return fmt.Errorf("%w (restore failed: %v)", err, rerr)
			}
		}
		return err
	}
	return nil
}

// IsRunning returns whether the hotkeys are currently registered
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// GetBindings returns a copy of the current bindings
func (m *Manager) GetBindings() map[Action]Binding {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneBindings(m.bindings)
}

func cloneBindings(in map[Action]Binding) map[Action]Binding {
	out := make(map[Action]Binding, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
