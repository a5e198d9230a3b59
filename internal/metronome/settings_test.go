package metronome

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/yok-tottii/beatkeeper/internal/sound"
)

func TestSubdivision_PerBeat(t *testing.T) {
	tests := []struct {
		s    Subdivision
		want int
	}{
		{Quarter, 1},
		{Eighth, 2},
		{Sixteenth, 4},
		{"triplet", 1},
	}
	for _, tt := range tests {
		if got := tt.s.PerBeat(); got != tt.want {
			t.Errorf("%s.PerBeat() = %d, want %d", tt.s, got, tt.want)
		}
	}
}

func TestParseTimeSignature(t *testing.T) {
	ts, err := ParseTimeSignature(" 12/8 ")
	if err != nil {
		t.Fatalf("ParseTimeSignature failed: %v", err)
	}
	if ts.Numerator != 12 || ts.Denominator != 8 || ts.String() != "12/8" {
		t.Errorf("Unexpected time signature %v", ts)
	}
}

func TestNormalize_FillsDefaults(t *testing.T) {
	s, fixed := Settings{}.Normalize()
	if len(fixed) != 0 {
		t.Errorf("Zero values are defaults, not fixes: %v", fixed)
	}

	d := DefaultSettings()
	if s.Tempo != d.Tempo || s.TimeSignature != d.TimeSignature || s.BeatSound != d.BeatSound ||
		s.Subdivision != d.Subdivision || s.PatternMode != d.PatternMode ||
		s.ActiveBars != 2 || s.SilentBarsPattern != 2 || s.DisplayMode != DisplayCircle {
		t.Errorf("Expected defaults, got %+v", s)
	}
	if len(s.EmphasizedBeats) != 1 || s.EmphasizedBeats[0] != 1 {
		t.Errorf("Expected emphasized [1], got %v", s.EmphasizedBeats)
	}
}

func TestNormalize_KeepsEmptyEmphasis(t *testing.T) {
	var s Settings
	if err := json.Unmarshal([]byte(`{"emphasizedBeats":[]}`), &s); err != nil {
		t.Fatal(err)
	}
	s, _ = s.Normalize()
	if s.EmphasizedBeats == nil || len(s.EmphasizedBeats) != 0 {
		t.Errorf("An explicit empty list means no accents, got %v", s.EmphasizedBeats)
	}
}

func TestNormalize_FixesInvalid(t *testing.T) {
	s := Settings{
		Tempo:         500,
		TimeSignature: TimeSignature{Numerator: 4, Denominator: 5},
		BeatSound:     "cowbell",
		Subdivision:   "triplet",
		PatternMode:   "random",
		DisplayMode:   "bars",
	}
	s, fixed := s.Normalize()

	if s.Tempo != MaxTempo || s.BeatSound != sound.VoiceClassic || s.Subdivision != Quarter ||
		s.PatternMode != PatternNone || s.DisplayMode != DisplayCircle ||
		s.TimeSignature != (TimeSignature{4, 4}) {
		t.Errorf("Unexpected normalized settings: %+v", s)
	}
	if len(fixed) != 6 {
		t.Errorf("Expected 6 fixed fields, got %v", fixed)
	}
}

func TestSettings_CloneIsDeep(t *testing.T) {
	s := DefaultSettings()
	c := s.Clone()
	c.EmphasizedBeats[0] = 3
	if s.EmphasizedBeats[0] != 1 {
		t.Error("Clone should not share the emphasized beats slice")
	}
}

func TestMeasureStability(t *testing.T) {
	base := time.Unix(0, 0)
	var even []time.Time
	for i := 0; i < 10; i++ {
		even = append(even, base.Add(time.Duration(i)*500*time.Millisecond))
	}

	s := MeasureStability(even, 500*time.Millisecond)
	if s.Beats != 10 || s.Expected != 10 || s.Accuracy != 1 || s.Jitter != 0 {
		t.Errorf("Unexpected stability for an even run: %+v", s)
	}
	if s.MeanInterval != 500*time.Millisecond || !s.Passed() {
		t.Errorf("Expected a passing 500ms run, got %+v", s)
	}

	// Dropping every other beat halves the accuracy
	var sparse []time.Time
	for i := 0; i < len(even); i += 2 {
		sparse = append(sparse, even[i])
	}
	s = MeasureStability(sparse, 500*time.Millisecond)
	if s.Expected != 9 || s.Passed() {
		t.Errorf("Expected a failing sparse run, got %+v", s)
	}

	if s := MeasureStability(nil, time.Second); s.Accuracy != 0 || s.Passed() {
		t.Errorf("Expected empty run to fail, got %+v", s)
	}
}
