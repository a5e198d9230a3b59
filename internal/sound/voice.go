package sound

// Voice names a beat sound.
type Voice string

const (
	VoiceClassic Voice = "classic"
	VoiceWood    Voice = "wood"
	VoiceBass    Voice = "bass"
	VoicePiano   Voice = "piano"

	voiceCountIn Voice = "countin"
)

// Voices lists the selectable beat sounds.
var Voices = []Voice{VoiceClassic, VoiceWood, VoiceBass, VoicePiano}

// ParseVoice validates a voice name; unknown names fall back to classic.
func ParseVoice(name string) (Voice, bool) {
	for _, v := range Voices {
		if string(v) == name {
			return v, true
		}
	}
	return VoiceClassic, false
}

// ClassicClick is the square-wave metronome click. Emphasized beats are
// highest and loudest, subdivision ticks lowest and softest.
func ClassicClick(emphasized, mainBeat bool) Patch {
	freq, volume := 600.0, 0.3
	switch {
	case emphasized:
		freq, volume = 1200, 0.8
	case mainBeat:
		freq, volume = 800, 0.6
	}

	return Patch{
		Partials: []Partial{{Freq: freq, Gain: 1, Wave: Square}},
		Volume:   volume,
		Attack:   0.01,
		Duration: 0.1,
		Floor:    0.01,
	}
}

// WoodBlock is three sine harmonics through a 2 kHz lowpass.
func WoodBlock(emphasized bool) Patch {
	base := 600.0
	if emphasized {
		base = 800
	}

	return Patch{
		Partials: []Partial{
			{Freq: base, Gain: 1, Wave: Sine},
			{Freq: base * 2, Gain: 1, Wave: Sine},
			{Freq: base * 3, Gain: 1, Wave: Sine},
		},
		Volume:   beatVolume(emphasized),
		Attack:   0.001,
		Duration: 0.15,
		Floor:    0.01,
		Lowpass:  2000,
		Q:        2,
	}
}

// BassGuitar is a sawtooth plus an octave sine through an 800 Hz lowpass.
func BassGuitar(emphasized bool) Patch {
	freq := 185.0
	if emphasized {
		freq = 200
	}

	return Patch{
		Partials: []Partial{
			{Freq: freq, Gain: 1, Wave: Sawtooth},
			{Freq: freq * 2, Gain: 1, Wave: Sine},
		},
		Volume:   beatVolume(emphasized),
		Attack:   0.01,
		Duration: 0.3,
		Floor:    0.01,
		Lowpass:  800,
		Q:        1,
	}
}

// Piano is a fundamental with second and third harmonics.
func Piano(emphasized bool) Patch {
	freq := 440.0
	if emphasized {
		freq = 880
	}

	return Patch{
		Partials: []Partial{
			{Freq: freq, Gain: 1, Wave: Sine},
			{Freq: freq * 2, Gain: 1, Wave: Sine},
			{Freq: freq * 3, Gain: 1, Wave: Sine},
		},
		Volume:   beatVolume(emphasized),
		Attack:   0.01,
		Duration: 0.4,
		Floor:    0.01,
		Lowpass:  2000,
		Q:        1,
	}
}

// CountInTone is the synthesized count-in used when no spoken sample is loaded.
func CountInTone(accented bool) Patch {
	base, volume := 300.0, 0.5
	if accented {
		base, volume = 400, 0.7
	}

	return Patch{
		Partials: []Partial{
			{Freq: base, Gain: 1, Wave: Sawtooth},
			{Freq: base * 1.5, Gain: 1, Wave: Triangle},
		},
		Volume:   volume,
		Attack:   0.005,
		Duration: 0.08,
		Floor:    0.001,
		Lowpass:  800,
		Q:        2,
	}
}

func beatVolume(emphasized bool) float64 {
	if emphasized {
		return 0.8
	}
	return 0.6
}

// PatchFor returns the synthesis fallback for a beat.
func PatchFor(v Voice, emphasized, mainBeat bool) Patch {
	switch v {
	case VoiceWood:
		return WoodBlock(emphasized)
	case VoiceBass:
		return BassGuitar(emphasized)
	case VoicePiano:
		return Piano(emphasized)
	case voiceCountIn:
		return CountInTone(emphasized)
	default:
		return ClassicClick(emphasized, mainBeat)
	}
}
