package command

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		text string
		want Command
		ok   bool
	}{
		{"tempo 96", Command{Kind: SetTempo, Tempo: 96}, true},
		{"  Set TEMPO 140 please", Command{Kind: SetTempo, Tempo: 140}, true},
		{"faster", Command{Kind: AdjustTempo, Delta: 10}, true},
		{"a bit slower", Command{Kind: AdjustTempo, Delta: -10}, true},
		{"start", Command{Kind: Start}, true},
		{"play", Command{Kind: Start}, true},
		{"restart", Command{Kind: Start}, true},
		{"stop", Command{Kind: Stop}, true},
		{"time signature 3 4", Command{Kind: TimeSignature, Signature: "3/4"}, true},
		{"time signature 12 8", Command{Kind: TimeSignature, Signature: "12/8"}, true},
		{"4 beats", Command{Kind: BeatsPerBar, Beats: 4}, true},
		{"1 beat", Command{Kind: BeatsPerBar, Beats: 1}, true},
		{"13 beats", Command{}, false},
		{"reset", Command{Kind: ResetCounters}, true},
		{"tempo", Command{}, false},
		{"time signature 5 4", Command{}, false},
		{"hello", Command{}, false},
		{"", Command{}, false},
	}

	for _, tt := range tests {
		got, ok := Parse(tt.text)
		if ok != tt.ok || got != tt.want {
			t.Errorf("Parse(%q) = %+v, %v; want %+v, %v", tt.text, got, ok, tt.want, tt.ok)
		}
	}
}

type recorder struct {
	calls []string
	err   error
}

func (r *recorder) SetTempo(int)    { r.calls = append(r.calls, "SetTempo") }
func (r *recorder) AdjustTempo(int) { r.calls = append(r.calls, "AdjustTempo") }
func (r *recorder) Start()          { r.calls = append(r.calls, "Start") }
func (r *recorder) Stop()           { r.calls = append(r.calls, "Stop") }
func (r *recorder) ResetCounters()  { r.calls = append(r.calls, "ResetCounters") }

func (r *recorder) SetTimeSignature(string) error {
	r.calls = append(r.calls, "SetTimeSignature")
	return r.err
}

func (r *recorder) SetBeatsPerBar(int) error {
	r.calls = append(r.calls, "SetBeatsPerBar")
	return r.err
}

func TestApply(t *testing.T) {
	r := &recorder{}
	for _, text := range []string{"tempo 100", "faster", "start", "stop", "time signature 6 8", "3 beats", "reset"} {
		c, ok := Parse(text)
		if !ok {
			t.Fatalf("Parse(%q) failed", text)
		}
		if err := c.Apply(r); err != nil {
			t.Fatalf("Apply(%q) failed: %v", text, err)
		}
	}

	want := []string{"SetTempo", "AdjustTempo", "Start", "Stop", "SetTimeSignature", "SetBeatsPerBar", "ResetCounters"}
	if len(r.calls) != len(want) {
		t.Fatalf("Expected %v, got %v", want, r.calls)
	}
	for i := range want {
		if r.calls[i] != want[i] {
			t.Errorf("Call %d: expected %s, got %s", i, want[i], r.calls[i])
		}
	}

	if err := (Command{}).Apply(r); err == nil {
		t.Error("Expected error for an unknown command")
	}

	r.err = errors.New("boom")
	c, _ := Parse("4 beats")
	if err := c.Apply(r); !errors.Is(err, r.err) {
		t.Errorf("Expected wrapped error, got %v", err)
	}
}

func TestKind_String(t *testing.T) {
	if SetTempo.String() != "SetTempo" || Kind(42).String() != "Unknown" {
		t.Error("Unexpected Kind names")
	}
}
