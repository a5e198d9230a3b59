package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/yok-tottii/beatkeeper/internal/metronome"
)

// Color palette
var (
	primaryColor = lipgloss.Color("#4CC25B")
	accentColor  = lipgloss.Color("#F19E39")
	listenColor  = lipgloss.Color("#398BF1")
	mutedColor   = lipgloss.Color("#888888")
	dimColor     = lipgloss.Color("#45474C")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	tempoStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	statusStyle = lipgloss.NewStyle().
			Foreground(accentColor)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)
)

const meterWidth = 24

func renderView(m Model) string {
	var b strings.Builder

	b.WriteString(renderHeader(m))
	b.WriteString("\n\n")
	b.WriteString(renderBeats(m.Snapshot))
	b.WriteString("\n\n")
	b.WriteString(renderMicrophone(m))
	b.WriteString("\n\n")

	if m.Typing {
		b.WriteString("> " + m.Input + "▏")
	} else if m.Status != "" {
		b.WriteString(statusStyle.Render(m.Status))
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("space start/stop · c count-in · t tap · ↑↓ ±1 · ←→ ±10 · s signature · l listen · a apply · : command · q quit"))
	b.WriteString("\n")

	return b.String()
}

// renderHeader renders the tempo, signature and transport state
func renderHeader(m Model) string {
	s := m.Snapshot
	tempo := tempoStyle.Render(fmt.Sprintf("♩ = %d", s.Tempo))

	state := labelStyle.Render(s.StateName)
	switch s.State {
	case metronome.Playing:
		state = titleStyle.Render("▶ " + s.StateName)
	case metronome.CountingIn:
		state = statusStyle.Render("● " + s.StateName)
	}

	return fmt.Sprintf("%s  %s  %s  %s",
		titleStyle.Render("Beatkeeper"),
		tempo,
		s.Settings.TimeSignature.String(),
		state)
}

// renderBeats draws one dot per beat; the current beat is lit and emphasized
// beats are larger
func renderBeats(s metronome.Snapshot) string {
	emphasized := make(map[int]bool, len(s.Settings.EmphasizedBeats))
	for _, b := range s.Settings.EmphasizedBeats {
		emphasized[b] = true
	}

	active := s.State != metronome.Stopped
	dots := make([]string, 0, s.BeatsPerBar)
	for beat := 1; beat <= s.BeatsPerBar; beat++ {
		glyph := "○"
		if emphasized[beat] {
			glyph = "◎"
		}

		style := lipgloss.NewStyle().Foreground(dimColor)
		if active && beat == s.CurrentBeat && !s.Silent {
			glyph = "●"
			style = style.Foreground(primaryColor)
			if emphasized[beat] {
				style = style.Foreground(accentColor)
			}
		}
		dots = append(dots, style.Render(glyph))
	}

	line := strings.Join(dots, " ")
	if s.Settings.PatternMode != metronome.PatternNone && active {
		line += labelStyle.Render(fmt.Sprintf("   %s · %d bars left", s.PatternPhase, s.PatternBarsRemaining))
	}
	if active {
		line += labelStyle.Render(fmt.Sprintf("   bar %d", s.CurrentBar))
	}
	return line
}

// renderMicrophone renders the listen state, input meter and detected tempo
func renderMicrophone(m Model) string {
	if !m.Listening {
		detected := "–"
		if m.Detected > 0 {
			detected = fmt.Sprintf("%d BPM", m.Detected)
		}
		return labelStyle.Render("mic off   detected: " + detected)
	}

	pulse := lipgloss.NewStyle().Foreground(dimColor).Render("◌")
	if m.Pulse {
		pulse = lipgloss.NewStyle().Foreground(listenColor).Render("◉")
	}

	detected := labelStyle.Render("listening…")
	if m.Detected > 0 {
		detected = fmt.Sprintf("%d BPM %s", m.Detected,
			labelStyle.Render(fmt.Sprintf("(%.0f%%)", m.Confidence)))
	}

	return fmt.Sprintf("%s %s  %s", pulse, renderMeter(m.Volume, meterWidth), detected)
}

// renderMeter renders a level bar
func renderMeter(level float64, width int) string {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}

	filled := int(level*float64(width) + 0.5)
	bar := lipgloss.NewStyle().Foreground(listenColor).Render(strings.Repeat("█", filled))
	rest := lipgloss.NewStyle().Foreground(dimColor).Render(strings.Repeat("░", width-filled))
	return bar + rest
}
