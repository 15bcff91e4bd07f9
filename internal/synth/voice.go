package synth

import (
	"math"

	"github.com/satindergrewal/infinitechno/internal/music"
)

// voice shapes one role. Waveforms are evaluated from time since note-on,
// so a voice holds no oscillator state.
type voice struct {
	attack    float64 // seconds
	release   float64
	decay     float64 // exponential decay rate while held, 0 for sustain
	retrigger float64 // beats between plucks, 0 for none
	octave    int
	pan       float64 // -1 left .. 1 right
	gain      float64
	wave      func(freq, t float64) float64
}

// voices lists the palette of each role. Roles with several voices pick
// one per note from the humanization hash.
var voices = map[music.Role][]voice{
	music.Bass: {{
		attack:  0.005,
		release: 0.06,
		decay:   1.5,
		pan:     0,
		gain:    0.5,
		wave:    bassWave,
	}},
	music.Melody: {
		{ // brass lead
			attack:  0.05,
			release: 0.15,
			pan:     -0.25,
			gain:    0.22,
			wave:    brassWave,
		},
		{ // xylophone
			attack:  0.001,
			release: 0.08,
			decay:   9,
			pan:     -0.25,
			gain:    0.3,
			wave:    xyloWave,
		},
		{ // acid
			attack:  0.001,
			release: 0.05,
			decay:   4,
			pan:     -0.25,
			gain:    0.18,
			wave:    acidWave,
		},
	},
	music.Pad: {{
		attack:  0.3,
		release: 0.5,
		pan:     0.1,
		gain:    0.16,
		wave:    padWave,
	}},
	music.Arp: {{
		attack:    0.002,
		release:   0.05,
		decay:     18,
		retrigger: 0.25,
		octave:    1,
		pan:       0.35,
		gain:      0.2,
		wave:      pluckWave,
	}},
}

// maxRelease is the longest release in a palette.
func maxRelease(pal []voice) float64 {
	r := 0.0
	for _, v := range pal {
		r = math.Max(r, v.release)
	}
	return r
}

// envelope returns the amplitude at t seconds after note-on for a note held
// dur seconds.
func (v voice) envelope(t, dur float64) float64 {
	if t < 0 {
		return 0
	}
	level := func(t float64) float64 {
		a := 1.0
		if v.attack > 0 && t < v.attack {
			a = t / v.attack
		}
		if v.decay > 0 {
			a *= math.Exp(-v.decay * t)
		}
		return a
	}
	if t <= dur {
		return level(t)
	}
	r := t - dur
	if r >= v.release {
		return 0
	}
	return level(dur) * (1 - r/v.release)
}

// additiveSaw sums harmonics up to cutoff, which doubles as a low-pass.
func additiveSaw(freq, t, cutoff float64, maxHarmonics int) float64 {
	sum := 0.0
	for k := 1; k <= maxHarmonics; k++ {
		h := freq * float64(k)
		if h > cutoff {
			break
		}
		sum += math.Sin(2*math.Pi*h*t) / float64(k)
	}
	return sum * 2 / math.Pi
}

func bassWave(freq, t float64) float64 {
	return 0.55*math.Sin(2*math.Pi*freq*t) + 0.45*additiveSaw(freq*1.01, t, 900, 16)
}

var brassDetune = []float64{1, 1.005, 0.995}

func brassWave(freq, t float64) float64 {
	sum := 0.0
	for _, d := range brassDetune {
		sum += additiveSaw(freq*d, t, 4000, 8)
	}
	return sum / float64(len(brassDetune))
}

var padDetune = []float64{1, 1.003, 0.997}

func padWave(freq, t float64) float64 {
	sum := 0.0
	for _, d := range padDetune {
		sum += math.Sin(2 * math.Pi * freq * d * t)
	}
	sum += 0.3 * math.Sin(2*math.Pi*freq*2*t)
	return sum / (float64(len(padDetune)) + 0.3)
}

// xyloWave is a struck bar: the fundamental plus a fast-fading inharmonic
// partial.
func xyloWave(freq, t float64) float64 {
	return (math.Sin(2*math.Pi*freq*t) + 0.5*math.Exp(-14*t)*math.Sin(2*math.Pi*freq*3.93*t)) / 1.5
}

// additiveSquare sums odd harmonics up to cutoff.
func additiveSquare(freq, t, cutoff float64, maxHarmonics int) float64 {
	sum := 0.0
	for k := 1; k <= maxHarmonics; k += 2 {
		h := freq * float64(k)
		if h > cutoff {
			break
		}
		sum += math.Sin(2*math.Pi*h*t) / float64(k)
	}
	return sum * 4 / math.Pi
}

func acidWave(freq, t float64) float64 {
	return (additiveSaw(freq, t, 3000, 12) + 0.5*additiveSquare(freq, t, 3000, 12)) / 1.5
}

func pluckWave(freq, t float64) float64 {
	return additiveSaw(freq, t, 8000, 6)
}

// panGains is an equal-power pan law.
func panGains(pan float64) (l, r float64) {
	theta := (pan + 1) * math.Pi / 4
	return math.Cos(theta), math.Sin(theta)
}
