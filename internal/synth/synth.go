// Package synth renders role patterns and the percussion bed into stereo
// sample windows. Every output sample is a pure function of the seed, the
// pattern and its position in time.
package synth

import (
	"math"

	"github.com/pkg/errors"

	"github.com/satindergrewal/infinitechno/internal/music"
	"github.com/satindergrewal/infinitechno/internal/selector"
)

// Humanization limits.
const (
	timingJitter   = 0.004 // seconds
	velocityJitter = 8
)

// Synth renders layers at a fixed sample rate and tempo.
type Synth struct {
	sampleRate     float64
	bpm            float64
	seed           uint64
	barSamples     int
	samplesPerBeat float64
	presence       map[music.Role]float64
}

// New returns a synth in which every role plays every bar; see
// SetPresence. The bar length is rounded to whole samples so bar boundaries
// fall exactly on sample indices.
func New(sampleRate int, bpm float64, seed uint64) *Synth {
	bar := int(math.Round(float64(sampleRate) * 60 / bpm * music.BeatsPerBar))
	return &Synth{
		sampleRate:     float64(sampleRate),
		bpm:            bpm,
		seed:           seed,
		barSamples:     bar,
		samplesPerBeat: float64(bar) / music.BeatsPerBar,
	}
}

// BarSamples returns the length of one bar in samples.
func (s *Synth) BarSamples() int {
	return s.barSamples
}

// SampleRate returns the output sample rate.
func (s *Synth) SampleRate() int {
	return int(s.sampleRate)
}

// Render overwrites out with the window [offset, offset+len(out)) of bar
// (counted from the pattern start) of ap.
func (s *Synth) Render(role music.Role, ap selector.ActivePattern, bar, offset int, out [][2]float64) error {
	clear(out)
	f := ap.Fragment
	if err := f.Validate(); err != nil {
		return errors.Wrapf(err, "render %s", role)
	}
	if bar < 0 || offset < 0 || offset+len(out) > s.barSamples {
		return errors.Errorf("render %s: window bar %d [%d, %d) outside bar of %d samples",
			role, bar, offset, offset+len(out), s.barSamples)
	}
	pal, ok := voices[role]
	if !ok {
		return errors.Errorf("render: no voice for role %s", role)
	}
	if len(f.Events) == 0 || len(out) == 0 {
		return nil
	}

	n0 := bar*s.barSamples + offset // first sample, counted from pattern start
	n1 := n0 + len(out)
	spb := s.samplesPerBeat
	loop := f.Beats()

	maxEnd := 0.0
	for _, e := range f.Events {
		maxEnd = math.Max(maxEnd, e.End())
	}
	jitter := timingJitter * s.bpm / 60 // beats
	tail := maxRelease(pal)*s.bpm/60 + jitter
	kFirst := max(int(math.Floor((float64(n0)/spb-maxEnd-tail)/loop)), 0)
	kLast := int(math.Floor((float64(n1-1)/spb + jitter) / loop))

	fragID := stringID(f.ID)
	beatSec := 60 / s.bpm

	for k := kFirst; k <= kLast; k++ {
		keep := s.audible(role, f, k)
		for idx, e := range f.Events {
			if !keep[idx] {
				continue
			}
			h := hashOf(s.seed, uint64(role), fragID, uint64(k), uint64(idx))
			v := pick(pal, h)
			start := (float64(k)*loop+e.Start)*spb + bipolar(h)*timingJitter*s.sampleRate
			vel := float64(e.Velocity) + bipolar(mix64(h))*velocityJitter
			amp := v.gain * math.Min(math.Max(vel, 1), 127) / 127
			dur := e.Duration * beatSec
			end := start + (dur+v.release)*s.sampleRate

			lo := max(int(math.Ceil(start)), n0)
			hi := min(int(math.Ceil(end)), n1)
			if lo >= hi {
				continue
			}
			freq := music.MIDIToFreq(float64(e.Pitch + 12*v.octave))
			gl, gr := panGains(v.pan)
			for n := lo; n < hi; n++ {
				t := (float64(n) - start) / s.sampleRate
				var x float64
				if v.retrigger > 0 {
					x = s.pluck(v, freq, t, dur)
				} else {
					x = v.envelope(t, dur) * v.wave(freq, t)
				}
				if x == 0 {
					continue
				}
				out[n-n0][0] += x * amp * gl
				out[n-n0][1] += x * amp * gr
			}
		}
	}
	return nil
}

// pluck retriggers the voice every retrigger beats while the note is held.
func (s *Synth) pluck(v voice, freq, t, dur float64) float64 {
	step := v.retrigger * 60 / s.bpm
	if t > dur+v.release {
		return 0
	}
	local := math.Mod(math.Min(t, dur), step)
	if t > dur {
		local += t - dur
	}
	env := v.envelope(local, step)
	if t > dur {
		env *= 1 - (t-dur)/v.release
	}
	return env * v.wave(freq, local)
}
