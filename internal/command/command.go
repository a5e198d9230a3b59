// Package command parses spoken or typed metronome commands such as
// "tempo 96", "faster" or "time signature 6 8".
package command

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind identifies a command
type Kind int

const (
	// Unknown means the text matched no command
	Unknown Kind = iota
	SetTempo
	AdjustTempo
	Start
	Stop
	TimeSignature
	BeatsPerBar
	ResetCounters
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case SetTempo:
		return "SetTempo"
	case AdjustTempo:
		return "AdjustTempo"
	case Start:
		return "Start"
	case Stop:
		return "Stop"
	case TimeSignature:
		return "TimeSignature"
	case BeatsPerBar:
		return "BeatsPerBar"
	case ResetCounters:
		return "ResetCounters"
	default:
		return "Unknown"
	}
}

// TempoStep is the change applied by "faster" and "slower"
const TempoStep = 10

// Signatures lists the time signatures a command can select
var Signatures = []string{"4/4", "3/4", "2/4", "6/8", "9/8", "12/8"}

var (
	tempoPattern = regexp.MustCompile(`tempo (\d+)`)
	beatsPattern = regexp.MustCompile(`(\d+) beats?`)
)

// Command is a parsed command
type Command struct {
	Kind      Kind   `json:"kind"`
	Tempo     int    `json:"tempo,omitempty"`
	Delta     int    `json:"delta,omitempty"`
	Signature string `json:"signature,omitempty"`
	Beats     int    `json:"beats,omitempty"`
}

// Parse recognizes a command in text. Matching is by substring in a fixed
// order, so "restart" reads as start.
func Parse(text string) (Command, bool) {
	text = strings.ToLower(strings.TrimSpace(text))

	if strings.Contains(text, "tempo") {
		if m := tempoPattern.FindStringSubmatch(text); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				return Command{Kind: SetTempo, Tempo: n}, true
			}
		}
	}

	if strings.Contains(text, "faster") {
		return Command{Kind: AdjustTempo, Delta: TempoStep}, true
	}
	if strings.Contains(text, "slower") {
		return Command{Kind: AdjustTempo, Delta: -TempoStep}, true
	}

	if strings.Contains(text, "start") || strings.Contains(text, "play") {
		return Command{Kind: Start}, true
	}
	if strings.Contains(text, "stop") {
		return Command{Kind: Stop}, true
	}

	if strings.Contains(text, "time signature") {
		for _, sig := range Signatures {
			if strings.Contains(text, strings.Replace(sig, "/", " ", 1)) {
				return Command{Kind: TimeSignature, Signature: sig}, true
			}
		}
	}

	if m := beatsPattern.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n >= 1 && n <= 12 {
			return Command{Kind: BeatsPerBar, Beats: n}, true
		}
	}

	if strings.Contains(text, "reset") {
		return Command{Kind: ResetCounters}, true
	}

	return Command{}, false
}

// Target is what commands act on; *metronome.Metronome implements it
type Target interface {
	SetTempo(tempo int)
	AdjustTempo(delta int)
	Start()
	Stop()
	SetTimeSignature(signature string) error
	SetBeatsPerBar(beats int) error
	ResetCounters()
}

// Apply runs the command against t
func (c Command) Apply(t Target) error {
	switch c.Kind {
	case SetTempo:
		t.SetTempo(c.Tempo)
	case AdjustTempo:
		t.AdjustTempo(c.Delta)
	case Start:
		t.Start()
	case Stop:
		t.Stop()
	case TimeSignature:
		if err := t.SetTimeSignature(c.Signature); err != nil {
			return fmt.Errorf("failed to set time signature: %w", err)
		}
	case BeatsPerBar:
		if err := t.SetBeatsPerBar(c.Beats); err != nil {
			return fmt.Errorf("failed to set beats per bar: %w", err)
		}
	case ResetCounters:
		t.ResetCounters()
	default:
		return fmt.Errorf("unrecognized command")
	}
	return nil
}

// Help lists the supported commands
func Help() []string {
	return []string{
		`"tempo 120" - set a specific tempo`,
		`"faster" / "slower" - change tempo by 10`,
		`"start" or "play" - start the metronome`,
		`"stop" - stop the metronome`,
		`"time signature 3 4" - set 3/4 (4/4 3/4 2/4 6/8 9/8 12/8)`,
		`"4 beats" - set beats per bar (1-12)`,
		`"reset" - reset bar and beat counters`,
	}
}
