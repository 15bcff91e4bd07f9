package synth

import (
	"math"

	"github.com/pkg/errors"
)

const (
	hatProbability = 0.9
	drumTail       = 0.45 // seconds, longest hit
)

// RenderDrums overwrites out with the percussion bed for the window
// [offset, offset+len(out)) of absolute bar: kick on every beat, clap on
// beats two and four, sixteenth hats that each play with 90% probability.
func (s *Synth) RenderDrums(bar, offset int, level float64, out [][2]float64) error {
	clear(out)
	if bar < 0 || offset < 0 || offset+len(out) > s.barSamples {
		return errors.Errorf("render drums: window bar %d [%d, %d) outside bar of %d samples",
			bar, offset, offset+len(out), s.barSamples)
	}
	if level <= 0 || len(out) == 0 {
		return nil
	}

	n0 := bar*s.barSamples + offset
	n1 := n0 + len(out)
	stepSamples := s.samplesPerBeat / 4
	first := max(int(math.Floor((float64(n0)-drumTail*s.sampleRate)/stepSamples)), 0)
	last := int(math.Floor(float64(n1-1) / stepSamples))

	for step := first; step <= last; step++ {
		start := float64(step) * stepSamples
		id := uint64(step) * 4
		if step%4 == 0 {
			s.hit(out, n0, start, level*0.8, kick, id)
		}
		if step%16 == 4 || step%16 == 12 {
			s.hit(out, n0, start, level*0.3, clap, id+1)
		}
		if unit(hashOf(s.seed, 0x4a7, uint64(step))) < hatProbability {
			s.hit(out, n0, start, level*0.12, hat, id+2)
		}
	}
	return nil
}

type drumFunc func(t float64, noise func(n int) float64, n int) float64

func (s *Synth) hit(out [][2]float64, n0 int, start, amp float64, fn drumFunc, id uint64) {
	lo := max(int(math.Ceil(start)), n0)
	hi := min(int(math.Ceil(start+drumTail*s.sampleRate)), n0+len(out))
	noise := func(n int) float64 {
		return bipolar(hashOf(s.seed, id, uint64(n)))
	}
	for n := lo; n < hi; n++ {
		j := n - int(math.Ceil(start))
		x := amp * fn(float64(j)/s.sampleRate, noise, j)
		out[n-n0][0] += x
		out[n-n0][1] += x
	}
}

// kick is a sine swept from 150 Hz down to 50 Hz.
func kick(t float64, _ func(int) float64, _ int) float64 {
	phase := 2 * math.Pi * (50*t + 100*(1-math.Exp(-t*30))/30)
	return math.Sin(phase) * math.Exp(-t*9)
}

func clap(t float64, noise func(int) float64, n int) float64 {
	return noise(n) * math.Exp(-t*25)
}

// hat differentiates the noise to push it up the spectrum.
func hat(t float64, noise func(int) float64, n int) float64 {
	return 0.5 * (noise(n) - noise(n-1)) * math.Exp(-t*70)
}
