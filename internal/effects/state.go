// Package effects holds the stochastic effect parameters and the per-sample
// processors that apply them.
package effects

import (
	"math/rand/v2"
	"sort"
)

// Distortion is a tanh waveshaper blended with the dry signal.
type Distortion struct {
	Drive float64 `json:"drive"`
	Mix   float64 `json:"mix"`
}

// Delay is a feedback echo. Time is measured in beats.
type Delay struct {
	Time     float64 `json:"time"`
	Feedback float64 `json:"feedback"`
	Mix      float64 `json:"mix"`
}

// Reverb is a damped comb-filter tank.
type Reverb struct {
	Size    float64 `json:"size"`
	Damping float64 `json:"damping"`
	Mix     float64 `json:"mix"`
}

// State is the full effect parameter set applied to one block.
type State struct {
	Distortion Distortion `json:"distortion"`
	Delay      Delay      `json:"delay"`
	Reverb     Reverb     `json:"reverb"`
}

// Range is an inclusive parameter interval.
type Range struct {
	Min, Max float64
}

func (r Range) clamp(v float64) float64 {
	return min(max(v, r.Min), r.Max)
}

func (r Range) contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

func (r Range) width() float64 {
	return r.Max - r.Min
}

// Bounds limits every effect parameter.
type Bounds struct {
	Drive     Range
	DistMix   Range
	DelayTime Range
	Feedback  Range
	DelayMix  Range
	Size      Range
	Damping   Range
	ReverbMix Range

	DriftStep  float64 // per-block walk, fraction of each range
	RerollSpan float64 // spread around a preset, fraction of each range
}

// DefaultBounds keeps every processor stable: feedback stays well below
// unity and the reverb tank gain below 0.98.
var DefaultBounds = Bounds{
	Drive:     Range{1, 4},
	DistMix:   Range{0, 0.6},
	DelayTime: Range{0.25, 1},
	Feedback:  Range{0, 0.6},
	DelayMix:  Range{0, 0.4},
	Size:      Range{0.1, 0.9},
	Damping:   Range{0.1, 0.7},
	ReverbMix: Range{0, 0.5},

	DriftStep:  0.004,
	RerollSpan: 0.15,
}

// Clamp forces s into the bounds.
func (b Bounds) Clamp(s State) State {
	s.Distortion.Drive = b.Drive.clamp(s.Distortion.Drive)
	s.Distortion.Mix = b.DistMix.clamp(s.Distortion.Mix)
	s.Delay.Time = b.DelayTime.clamp(s.Delay.Time)
	s.Delay.Feedback = b.Feedback.clamp(s.Delay.Feedback)
	s.Delay.Mix = b.DelayMix.clamp(s.Delay.Mix)
	s.Reverb.Size = b.Size.clamp(s.Reverb.Size)
	s.Reverb.Damping = b.Damping.clamp(s.Reverb.Damping)
	s.Reverb.Mix = b.ReverbMix.clamp(s.Reverb.Mix)
	return s
}

// Contains reports whether every parameter of s is in bounds.
func (b Bounds) Contains(s State) bool {
	return b.Drive.contains(s.Distortion.Drive) &&
		b.DistMix.contains(s.Distortion.Mix) &&
		b.DelayTime.contains(s.Delay.Time) &&
		b.Feedback.contains(s.Delay.Feedback) &&
		b.DelayMix.contains(s.Delay.Mix) &&
		b.Size.contains(s.Reverb.Size) &&
		b.Damping.contains(s.Reverb.Damping) &&
		b.ReverbMix.contains(s.Reverb.Mix)
}

// Drift moves every parameter by a small bounded random step.
func (b Bounds) Drift(s State, rng *rand.Rand) State {
	return b.perturb(s, rng, b.DriftStep)
}

// Reroll scatters the parameters around a preset.
func (b Bounds) Reroll(preset State, rng *rand.Rand) State {
	return b.perturb(preset, rng, b.RerollSpan)
}

func (b Bounds) perturb(s State, rng *rand.Rand, frac float64) State {
	step := func(v float64, r Range) float64 {
		return r.clamp(v + (rng.Float64()*2-1)*frac*r.width())
	}
	s.Distortion.Drive = step(s.Distortion.Drive, b.Drive)
	s.Distortion.Mix = step(s.Distortion.Mix, b.DistMix)
	s.Delay.Time = step(s.Delay.Time, b.DelayTime)
	s.Delay.Feedback = step(s.Delay.Feedback, b.Feedback)
	s.Delay.Mix = step(s.Delay.Mix, b.DelayMix)
	s.Reverb.Size = step(s.Reverb.Size, b.Size)
	s.Reverb.Damping = step(s.Reverb.Damping, b.Damping)
	s.Reverb.Mix = step(s.Reverb.Mix, b.ReverbMix)
	return s
}

// Presets are the named starting points sections choose from.
var Presets = map[string]State{
	"dry": {
		Distortion: Distortion{Drive: 1, Mix: 0},
		Delay:      Delay{Time: 0.5, Feedback: 0.2, Mix: 0.05},
		Reverb:     Reverb{Size: 0.3, Damping: 0.5, Mix: 0.08},
	},
	"dub": {
		Distortion: Distortion{Drive: 1.2, Mix: 0.1},
		Delay:      Delay{Time: 0.75, Feedback: 0.5, Mix: 0.3},
		Reverb:     Reverb{Size: 0.5, Damping: 0.5, Mix: 0.2},
	},
	"grit": {
		Distortion: Distortion{Drive: 3, Mix: 0.5},
		Delay:      Delay{Time: 0.25, Feedback: 0.2, Mix: 0.1},
		Reverb:     Reverb{Size: 0.3, Damping: 0.6, Mix: 0.1},
	},
	"wash": {
		Distortion: Distortion{Drive: 1, Mix: 0},
		Delay:      Delay{Time: 1, Feedback: 0.4, Mix: 0.2},
		Reverb:     Reverb{Size: 0.85, Damping: 0.3, Mix: 0.45},
	},
	"space": {
		Distortion: Distortion{Drive: 1, Mix: 0},
		Delay:      Delay{Time: 0.75, Feedback: 0.55, Mix: 0.35},
		Reverb:     Reverb{Size: 0.9, Damping: 0.2, Mix: 0.5},
	},
}

// PresetNames returns the preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(Presets))
	for n := range Presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
