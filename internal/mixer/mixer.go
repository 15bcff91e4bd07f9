// Package mixer sums layers, runs the effects chain and limits the result
// under a fixed ceiling.
package mixer

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"

	"github.com/satindergrewal/infinitechno/internal/audio"
	"github.com/satindergrewal/infinitechno/internal/effects"
)

// Layer is one rendered role (or the drum bed) with its gain.
type Layer struct {
	Name    string
	Samples audio.Block
	Gain    float64
}

// Config holds the mixer parameters.
type Config struct {
	Ceiling    float64 // absolute output limit
	Knee       float64 // soft-knee width below the ceiling
	MasterGain float64
	TargetRMS  float64 // auto-gain aim
	Bounds     effects.Bounds
}

// DefaultConfig returns the stock mixer settings.
func DefaultConfig() Config {
	return Config{
		Ceiling:    0.98,
		Knee:       0.2,
		MasterGain: 0.8,
		TargetRMS:  0.25,
		Bounds:     effects.DefaultBounds,
	}
}

const (
	autoGainMin    = 0.5
	autoGainMax    = 2
	autoGainSmooth = 0.05 // per block
	silenceRMS     = 1e-4
)

// Mixer is owned by the engine goroutine.
type Mixer struct {
	cfg      Config
	chain    *effects.Chain
	rng      *rand.Rand
	state    effects.State
	preset   string
	autoGain float64
}

// New returns a mixer starting from the "dry" preset.
func New(cfg Config, sampleRate int, bpm float64, rng *rand.Rand) *Mixer {
	return &Mixer{
		cfg:      cfg,
		chain:    effects.NewChain(sampleRate, bpm, cfg.Bounds),
		rng:      rng,
		state:    effects.Presets["dry"],
		preset:   "dry",
		autoGain: 1,
	}
}

// State returns the current effect parameters.
func (m *Mixer) State() effects.State {
	return m.state
}

// Preset returns the preset the state was last re-rolled around.
func (m *Mixer) Preset() string {
	return m.preset
}

// Drift nudges the effect state by one bounded random step.
func (m *Mixer) Drift() {
	m.state = m.cfg.Bounds.Drift(m.state, m.rng)
}

// Reroll scatters the effect state around one of presets. Unknown names are
// ignored; with none usable the current state is re-rolled in place.
func (m *Mixer) Reroll(presets []string) {
	var known []string
	for _, p := range presets {
		if _, ok := effects.Presets[p]; ok {
			known = append(known, p)
		}
	}
	base := m.state
	if len(known) > 0 {
		m.preset = known[m.rng.IntN(len(known))]
		base = effects.Presets[m.preset]
	}
	m.state = m.cfg.Bounds.Reroll(base, m.rng)
}

// Mix sums the layers and returns a new block within the ceiling. All layers
// must have the same length.
func (m *Mixer) Mix(layers []Layer) (audio.Block, error) {
	if len(layers) == 0 {
		return nil, errors.New("mix: no layers")
	}
	n := len(layers[0].Samples)
	out := audio.NewBlock(n)
	for _, l := range layers {
		if len(l.Samples) != n {
			return nil, errors.Errorf("mix: layer %s has %d samples, want %d", l.Name, len(l.Samples), n)
		}
		if l.Gain == 0 {
			continue
		}
		for i, s := range l.Samples {
			out[i][0] += finite(s[0]) * l.Gain
			out[i][1] += finite(s[1]) * l.Gain
		}
	}

	m.chain.Process(m.state, out)

	if rms := out.RMS(); rms > silenceRMS && !math.IsNaN(rms) && !math.IsInf(rms, 0) {
		target := min(max(m.cfg.TargetRMS/rms, autoGainMin), autoGainMax)
		m.autoGain += (target - m.autoGain) * autoGainSmooth
	}
	g := m.cfg.MasterGain * m.autoGain
	for i := range out {
		out[i][0] = m.limit(out[i][0] * g)
		out[i][1] = m.limit(out[i][1] * g)
	}
	return out, nil
}

// limit applies a tanh soft knee starting at Ceiling-Knee and a hard clamp
// at Ceiling.
func (m *Mixer) limit(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	c, k := m.cfg.Ceiling, m.cfg.Knee
	a := math.Abs(x)
	if k > 0 && a > c-k {
		a = c - k + k*math.Tanh((a-(c-k))/k)
	}
	a = math.Min(a, c)
	return math.Copysign(a, x)
}

func finite(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return x
}
