package metronome

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/yok-tottii/beatkeeper/internal/sound"
)

// Tempo limits in BPM
const (
	MinTempo     = 30
	MaxTempo     = 300
	DefaultTempo = 120
	MaxBeats     = 12
)

// Subdivision is the number of ticks each beat is divided into
type Subdivision string

const (
	Quarter   Subdivision = "quarter"
	Eighth    Subdivision = "eighth"
	Sixteenth Subdivision = "sixteenth"
)

// PerBeat returns how many ticks make up one beat
func (s Subdivision) PerBeat() int {
	switch s {
	case Eighth:
		return 2
	case Sixteenth:
		return 4
	default:
		return 1
	}
}

// ParseSubdivision parses a subdivision name. Unknown names yield Quarter.
func ParseSubdivision(name string) (Subdivision, bool) {
	switch s := Subdivision(strings.ToLower(strings.TrimSpace(name))); s {
	case Quarter, Eighth, Sixteenth:
		return s, true
	default:
		return Quarter, false
	}
}

// PatternMode selects whether bars alternate between sounding and silent
type PatternMode string

const (
	PatternNone PatternMode = "none"
	PatternOn   PatternMode = "pattern"
)

// DisplayMode is how the front ends draw the beat
type DisplayMode string

const (
	DisplayCircle DisplayMode = "circle"
	DisplayDots   DisplayMode = "dots"
	DisplayBoth   DisplayMode = "both"
)

// TimeSignature is numerator/denominator, e.g. 6/8
type TimeSignature struct {
	Numerator   int `json:"numerator"`
	Denominator int `json:"denominator"`
}

// String returns "n/d"
func (ts TimeSignature) String() string {
	return fmt.Sprintf("%d/%d", ts.Numerator, ts.Denominator)
}

// ParseTimeSignature parses "n/d" with 1 <= n <= 12 and d a power of two up to 32
func ParseTimeSignature(s string) (TimeSignature, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 2 {
		return TimeSignature{}, fmt.Errorf("invalid time signature: %q", s)
	}
	num, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return TimeSignature{}, fmt.Errorf("invalid time signature numerator: %w", err)
	}
	den, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return TimeSignature{}, fmt.Errorf("invalid time signature denominator: %w", err)
	}
	ts := TimeSignature{Numerator: num, Denominator: den}
	if err := ts.Validate(); err != nil {
		return TimeSignature{}, err
	}
	return ts, nil
}

// Validate checks the numerator range and the denominator
func (ts TimeSignature) Validate() error {
	if ts.Numerator < 1 || ts.Numerator > MaxBeats {
		return fmt.Errorf("beats per bar must be between 1 and %d, got %d", MaxBeats, ts.Numerator)
	}
	switch ts.Denominator {
	case 1, 2, 4, 8, 16, 32:
		return nil
	}
	return fmt.Errorf("invalid time signature denominator: %d", ts.Denominator)
}

// Settings are the persisted metronome fields
type Settings struct {
	Tempo                 int           `json:"tempo"`
	TimeSignature         TimeSignature `json:"timeSignature"`
	BeatSound             sound.Voice   `json:"beatSound"`
	EmphasizedBeats       []int         `json:"emphasizedBeats"`
	Subdivision           Subdivision   `json:"subdivision"`
	PlaySubdivisionSounds bool          `json:"playSubdivisionSounds"`
	PatternMode           PatternMode   `json:"patternMode"`
	ActiveBars            int           `json:"activeBars"`
	SilentBarsPattern     int           `json:"silentBarsPattern"`
	MutePatternEnabled    bool          `json:"mutePatternEnabled"`
	IsVoiceEnabled        bool          `json:"isVoiceEnabled"`
	IsMicrophoneEnabled   bool          `json:"isMicrophoneEnabled"`
	DisplayMode           DisplayMode   `json:"displayMode"`
}

// DefaultSettings returns the settings of a fresh install
func DefaultSettings() Settings {
	return Settings{
		Tempo:             DefaultTempo,
		TimeSignature:     TimeSignature{Numerator: 4, Denominator: 4},
		BeatSound:         sound.VoiceClassic,
		EmphasizedBeats:   []int{1},
		Subdivision:       Quarter,
		PatternMode:       PatternNone,
		ActiveBars:        2,
		SilentBarsPattern: 2,
		DisplayMode:       DisplayCircle,
	}
}

// Normalize fills zero values with defaults and clamps out-of-range fields.
// It reports the names of the fields it had to change.
func (s Settings) Normalize() (Settings, []string) {
	d := DefaultSettings()
	var fixed []string

	switch {
	case s.Tempo == 0:
		s.Tempo = d.Tempo
	case s.Tempo < MinTempo || s.Tempo > MaxTempo:
		s.Tempo = clampTempo(s.Tempo)
		fixed = append(fixed, "tempo")
	}

	if s.TimeSignature == (TimeSignature{}) {
		s.TimeSignature = d.TimeSignature
	} else if err := s.TimeSignature.Validate(); err != nil {
		s.TimeSignature = d.TimeSignature
		fixed = append(fixed, "timeSignature")
	}

	if s.BeatSound == "" {
		s.BeatSound = d.BeatSound
	} else if v, ok := sound.ParseVoice(string(s.BeatSound)); !ok {
		s.BeatSound = v
		fixed = append(fixed, "beatSound")
	}

	if s.EmphasizedBeats == nil {
		s.EmphasizedBeats = d.EmphasizedBeats
	} else {
		s.EmphasizedBeats = cleanBeats(s.EmphasizedBeats)
	}

	if s.Subdivision == "" {
		s.Subdivision = d.Subdivision
	} else if v, ok := ParseSubdivision(string(s.Subdivision)); !ok {
		s.Subdivision = v
		fixed = append(fixed, "subdivision")
	}

	switch s.PatternMode {
	case "":
		s.PatternMode = d.PatternMode
	case PatternNone, PatternOn:
	default:
		s.PatternMode = d.PatternMode
		fixed = append(fixed, "patternMode")
	}

	if s.ActiveBars <= 0 {
		s.ActiveBars = d.ActiveBars
	}
	if s.SilentBarsPattern <= 0 {
		s.SilentBarsPattern = d.SilentBarsPattern
	}

	switch s.DisplayMode {
	case "":
		s.DisplayMode = d.DisplayMode
	case DisplayCircle, DisplayDots, DisplayBoth:
	default:
		s.DisplayMode = d.DisplayMode
		fixed = append(fixed, "displayMode")
	}

	return s, fixed
}

// Clone returns a deep copy
func (s Settings) Clone() Settings {
	s.EmphasizedBeats = slices.Clone(s.EmphasizedBeats)
	return s
}

// cleanBeats drops non-positive beats, sorts and removes duplicates
func cleanBeats(beats []int) []int {
	out := make([]int, 0, len(beats))
	for _, b := range beats {
		if b >= 1 && b <= MaxBeats {
			out = append(out, b)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func clampTempo(t int) int {
	return max(MinTempo, min(MaxTempo, t))
}
