package effects

import (
	"math"
	"math/rand/v2"
	"testing"
)

func TestPresetsWithinBounds(t *testing.T) {
	for _, name := range PresetNames() {
		if !DefaultBounds.Contains(Presets[name]) {
			t.Errorf("preset %s is out of bounds: %+v", name, Presets[name])
		}
	}
}

func TestDriftStaysBounded(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	s := Presets["grit"]
	for i := 0; i < 100000; i++ {
		s = DefaultBounds.Drift(s, rng)
		if !DefaultBounds.Contains(s) {
			t.Fatalf("step %d left bounds: %+v", i, s)
		}
	}
}

func TestDriftIsSmall(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	s := Presets["dub"]
	next := DefaultBounds.Drift(s, rng)
	limit := DefaultBounds.DriftStep*DefaultBounds.Drive.width() + 1e-12
	if d := math.Abs(next.Distortion.Drive - s.Distortion.Drive); d > limit {
		t.Errorf("drive moved %v in one step, limit %v", d, limit)
	}
}

func TestRerollBounded(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	for _, name := range PresetNames() {
		for i := 0; i < 1000; i++ {
			if s := DefaultBounds.Reroll(Presets[name], rng); !DefaultBounds.Contains(s) {
				t.Fatalf("reroll of %s out of bounds: %+v", name, s)
			}
		}
	}
}

func TestClamp(t *testing.T) {
	s := DefaultBounds.Clamp(State{
		Distortion: Distortion{Drive: 100, Mix: -1},
		Delay:      Delay{Time: 0, Feedback: 2, Mix: 1},
		Reverb:     Reverb{Size: 5, Damping: 0, Mix: 0.3},
	})
	if !DefaultBounds.Contains(s) {
		t.Errorf("Clamp result out of bounds: %+v", s)
	}
	if s.Reverb.Mix != 0.3 {
		t.Errorf("in-range value changed: %v", s.Reverb.Mix)
	}
}

func TestChainSilenceStaysSilent(t *testing.T) {
	c := NewChain(48000, 128, DefaultBounds)
	buf := make([][2]float64, 4800)
	c.Process(Presets["space"], buf)
	for i, s := range buf {
		if s != [2]float64{} {
			t.Fatalf("sample %d = %v, want silence", i, s)
		}
	}
}

func TestChainDryPassThrough(t *testing.T) {
	c := NewChain(8000, 120, DefaultBounds)
	s := State{Delay: Delay{Time: 0.5}, Reverb: Reverb{Size: 0.5}}
	buf := [][2]float64{{0.5, -0.25}, {0.1, 0.2}}
	want := append([][2]float64(nil), buf...)
	c.Process(s, buf)
	for i := range buf {
		if buf[i] != want[i] {
			t.Errorf("sample %d = %v, want %v unchanged", i, buf[i], want[i])
		}
	}
}

func TestChainDelayEcho(t *testing.T) {
	const rate = 8000
	c := NewChain(rate, 120, DefaultBounds) // 4000 samples per beat
	s := State{Delay: Delay{Time: 0.25, Feedback: 0, Mix: 0.5}}
	buf := make([][2]float64, 2000)
	buf[0] = [2]float64{1, 1}
	c.Process(s, buf)
	if got := buf[1000][0]; math.Abs(got-0.5) > 1e-12 {
		t.Errorf("echo at quarter beat = %v, want 0.5", got)
	}
	if got := buf[1050][1]; math.Abs(got-0.5) > 1e-12 {
		t.Errorf("right echo = %v, want 0.5 at offset tap", got)
	}
}

func TestChainReverbDecays(t *testing.T) {
	c := NewChain(8000, 120, DefaultBounds)
	s := State{Reverb: Reverb{Size: 0.9, Damping: 0.2, Mix: 0.5}}
	impulse := make([][2]float64, 8000)
	impulse[0] = [2]float64{1, 1}
	c.Process(s, impulse)

	tail := make([][2]float64, 8000*4)
	c.Process(s, tail)
	early, late := 0.0, 0.0
	for i, v := range tail {
		if math.IsNaN(v[0]) || math.IsInf(v[0], 0) {
			t.Fatalf("non-finite sample at %d", i)
		}
		if i < 8000 {
			early = math.Max(early, math.Abs(v[0]))
		} else if i >= 3*8000 {
			late = math.Max(late, math.Abs(v[0]))
		}
	}
	if late >= early {
		t.Errorf("reverb tail not decaying: early peak %v, late peak %v", early, late)
	}
}
