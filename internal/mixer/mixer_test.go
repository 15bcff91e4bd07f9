package mixer

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/satindergrewal/infinitechno/internal/audio"
	"github.com/satindergrewal/infinitechno/internal/effects"
)

const (
	testRate  = 8000
	testBlock = 400
)

func newMixer(seed uint64) *Mixer {
	return New(DefaultConfig(), testRate, 128, rand.New(rand.NewPCG(seed, seed)))
}

func noiseLayer(rng *rand.Rand, amp float64) Layer {
	b := audio.NewBlock(testBlock)
	for i := range b {
		b[i] = [2]float64{(rng.Float64()*2 - 1) * amp, (rng.Float64()*2 - 1) * amp}
	}
	return Layer{Name: "noise", Samples: b, Gain: 1}
}

func TestMixNeverExceedsCeiling(t *testing.T) {
	cfg := DefaultConfig()
	rng := rand.New(rand.NewPCG(1, 2))
	for _, preset := range effects.PresetNames() {
		m := newMixer(3)
		for i := 0; i < 200; i++ {
			if i%20 == 0 {
				m.Reroll([]string{preset})
			}
			m.Drift()
			if !cfg.Bounds.Contains(m.State()) {
				t.Fatalf("%s: effect state left bounds: %+v", preset, m.State())
			}
			out, err := m.Mix([]Layer{noiseLayer(rng, 4), noiseLayer(rng, 4), noiseLayer(rng, 0.1)})
			if err != nil {
				t.Fatal(err)
			}
			if p := out.Peak(); p > cfg.Ceiling {
				t.Fatalf("%s block %d: peak %v above ceiling %v", preset, i, p, cfg.Ceiling)
			}
		}
	}
}

func TestMixReplacesNonFinite(t *testing.T) {
	m := newMixer(4)
	b := audio.NewBlock(testBlock)
	b[0] = [2]float64{math.NaN(), math.Inf(1)}
	b[1] = [2]float64{math.Inf(-1), 0.2}
	out, err := m.Mix([]Layer{{Name: "bad", Samples: b, Gain: 1}})
	if err != nil {
		t.Fatal(err)
	}
	for i, s := range out {
		for ch := 0; ch < 2; ch++ {
			if math.IsNaN(s[ch]) || math.IsInf(s[ch], 0) {
				t.Fatalf("sample %d ch %d is %v", i, ch, s[ch])
			}
		}
	}
}

func TestMixRejectsMismatchedLayers(t *testing.T) {
	m := newMixer(5)
	if _, err := m.Mix(nil); err == nil {
		t.Error("Mix(nil) should fail")
	}
	_, err := m.Mix([]Layer{
		{Name: "a", Samples: audio.NewBlock(10), Gain: 1},
		{Name: "b", Samples: audio.NewBlock(11), Gain: 1},
	})
	if err == nil {
		t.Error("mismatched layer lengths should fail")
	}
}

func TestMixSilenceStaysSilent(t *testing.T) {
	m := newMixer(6)
	out, err := m.Mix([]Layer{{Name: "quiet", Samples: audio.NewBlock(testBlock), Gain: 1}})
	if err != nil {
		t.Fatal(err)
	}
	if out.Peak() != 0 {
		t.Errorf("silent input produced peak %v", out.Peak())
	}
}

func TestLimiterCurve(t *testing.T) {
	m := newMixer(7)
	c, k := m.cfg.Ceiling, m.cfg.Knee
	if got := m.limit(0.3); got != 0.3 {
		t.Errorf("below the knee should pass through, got %v", got)
	}
	if got := m.limit(-100); got < -c || got > -(c-k) {
		t.Errorf("limit(-100) = %v, want within [-%v, -%v]", got, c, c-k)
	}
	prev := 0.0
	for x := 0.0; x < 5; x += 0.01 {
		y := m.limit(x)
		if y < prev {
			t.Fatalf("limiter not monotonic at %v", x)
		}
		prev = y
	}
	if m.limit(math.NaN()) != 0 {
		t.Error("NaN should limit to 0")
	}
}

func TestRerollUnknownPreset(t *testing.T) {
	m := newMixer(8)
	m.Reroll([]string{"no-such-preset"})
	if m.Preset() != "dry" {
		t.Errorf("Preset = %q, want unchanged dry", m.Preset())
	}
	if !m.cfg.Bounds.Contains(m.State()) {
		t.Errorf("state out of bounds: %+v", m.State())
	}
	m.Reroll([]string{"wash"})
	if m.Preset() != "wash" {
		t.Errorf("Preset = %q, want wash", m.Preset())
	}
}
