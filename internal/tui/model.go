// Package tui provides the Bubbletea terminal front end: live beat display,
// keyboard transport control and the tempo detected from the microphone.
package tui

import (
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/yok-tottii/beatkeeper/internal/command"
	"github.com/yok-tottii/beatkeeper/internal/metronome"
)

// Metronome is the transport the TUI drives
type Metronome interface {
	command.Target
	TogglePlayback()
	StartCountIn() error
	Tap(now time.Time) (int, bool)
	ApplyDetectedTempo(tempo int) bool
	Snapshot() metronome.Snapshot
}

// Listener is the live beat detector; nil disables the microphone keys
type Listener interface {
	StartListening() error
	StopListening()
	IsListening() bool
	DetectedTempo() int
}

// BeatMsg carries a metronome snapshot after every beat or settings change
type BeatMsg metronome.Snapshot

// TempoMsg carries a new tempo estimate from the listener
type TempoMsg struct {
	Tempo      int
	Confidence float64
}

// VolumeMsg carries the input level, 0..1
type VolumeMsg float64

// PulseMsg marks a beat heard on the microphone
type PulseMsg struct{}

// ErrorMsg is shown in the status line
type ErrorMsg string

// Model is the Bubbletea model for the metronome UI
type Model struct {
	met      Metronome
	listener Listener

	Snapshot   metronome.Snapshot
	Detected   int
	Confidence float64
	Volume     float64
	Listening  bool
	Pulse      bool
	Status     string

	// Command entry, opened with ':'
	Typing bool
	Input  string

	// Events from the audio side; main forwards handler calls here
	Events chan tea.Msg

	Width  int
	Height int

	now func() time.Time
}

// NewModel creates a new UI model
func NewModel(met Metronome, listener Listener) Model {
	m := Model{
		met:      met,
		listener: listener,
		Events:   make(chan tea.Msg, 100), // Buffered channel
		now:      time.Now,
	}
	if met != nil {
		m.Snapshot = met.Snapshot()
	}
	if listener != nil {
		m.Listening = listener.IsListening()
		m.Detected = listener.DetectedTempo()
	}
	return m
}

// Send queues an event without blocking; events are dropped when the UI
// falls behind
func (m Model) Send(msg tea.Msg) {
	select {
	case m.Events <- msg:
	default:
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.Events)
}

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.Typing {
			return m.updateInput(msg)
		}
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height

	case BeatMsg:
		m.Snapshot = metronome.Snapshot(msg)
		m.Pulse = false
		return m, waitForEvent(m.Events)

	case TempoMsg:
		m.Detected = msg.Tempo
		m.Confidence = msg.Confidence
		return m, waitForEvent(m.Events)

	case VolumeMsg:
		m.Volume = float64(msg)
		return m, waitForEvent(m.Events)

	case PulseMsg:
		m.Pulse = true
		return m, waitForEvent(m.Events)

	case ErrorMsg:
		m.Status = string(msg)
		m.Listening = m.listener != nil && m.listener.IsListening()
		return m, waitForEvent(m.Events)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case " ", "space", "enter":
		m.met.TogglePlayback()
	case "c":
		if err := m.met.StartCountIn(); err != nil {
			m.Status = err.Error()
		}
	case "t":
		if bpm, ok := m.met.Tap(m.now()); ok {
			m.Status = ""
		} else if bpm > 0 {
			m.Status = "tap tempo out of range"
		}
	case "up", "k":
		m.met.AdjustTempo(1)
	case "down", "j":
		m.met.AdjustTempo(-1)
	case "right", "+", "=":
		m.met.AdjustTempo(10)
	case "left", "-":
		m.met.AdjustTempo(-10)
	case "s":
		if err := m.met.SetTimeSignature(nextSignature(m.Snapshot.Settings.TimeSignature.String())); err != nil {
			m.Status = err.Error()
		}
	case "r":
		m.met.ResetCounters()
	case "l":
		m.toggleListening()
	case "a":
		if !m.met.ApplyDetectedTempo(m.Detected) {
			m.Status = "no detected tempo"
		}
	case ":":
		m.Typing = true
		m.Input = ""
		return m, nil
	default:
		return m, nil
	}

	m.Snapshot = m.met.Snapshot()
	return m, nil
}

func (m *Model) toggleListening() {
	if m.listener == nil {
		m.Status = "microphone disabled"
		return
	}
	if m.listener.IsListening() {
		m.listener.StopListening()
	} else if err := m.listener.StartListening(); err != nil {
		m.Status = err.Error()
	}
	m.Listening = m.listener.IsListening()
	if !m.Listening {
		m.Volume = 0
	}
}

func (m Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc, tea.KeyCtrlC:
		m.Typing = false
		m.Input = ""
	case tea.KeyEnter:
		m.Typing = false
		m.Status = m.runCommand(m.Input)
		m.Input = ""
		m.Snapshot = m.met.Snapshot()
	case tea.KeyBackspace:
		if r := []rune(m.Input); len(r) > 0 {
			m.Input = string(r[:len(r)-1])
		}
	case tea.KeySpace:
		m.Input += " "
	case tea.KeyRunes:
		m.Input += string(msg.Runes)
	}
	return m, nil
}

// runCommand applies a spoken-style command and returns the status line
func (m Model) runCommand(text string) string {
	cmd, ok := command.Parse(text)
	if !ok {
		return "unknown command: " + strings.Join(command.Help(), ", ")
	}
	if err := cmd.Apply(m.met); err != nil {
		return err.Error()
	}
	return ""
}

// nextSignature cycles through the common time signatures
func nextSignature(current string) string {
	for i, sig := range command.Signatures {
		if sig == current {
			return command.Signatures[(i+1)%len(command.Signatures)]
		}
	}
	return command.Signatures[0]
}

// View renders the UI
func (m Model) View() string {
	return renderView(m)
}

// waitForEvent creates a command that waits for the next audio event
func waitForEvent(events chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-events
	}
}
