package section

import (
	"math/rand/v2"
	"testing"

	"github.com/satindergrewal/infinitechno/internal/effects"
	"github.com/satindergrewal/infinitechno/internal/music"
)

// --- table integrity ---

func TestTransitionsNeverTargetIntroOrSelf(t *testing.T) {
	for from, targets := range DefaultTransitions() {
		for to, w := range targets {
			if w <= 0 {
				continue
			}
			if to == Intro {
				t.Errorf("%s lists INTRO as a target", from)
			}
			if to == from {
				t.Errorf("%s lists itself as a target", from)
			}
		}
	}
}

func TestEveryKindHasProfile(t *testing.T) {
	profiles := DefaultProfiles()
	for _, k := range Kinds {
		p, ok := profiles[k]
		if !ok {
			t.Errorf("no profile for %s", k)
			continue
		}
		if p.Kind != k {
			t.Errorf("profile for %s is tagged %s", k, p.Kind)
		}
		if len(p.Presets) == 0 {
			t.Errorf("%s has no effect presets", k)
		}
		for _, name := range p.Presets {
			if _, ok := effects.Presets[name]; !ok {
				t.Errorf("%s references unknown preset %q", k, name)
			}
		}
	}
}

func TestIntroRolesAreBassAndMelody(t *testing.T) {
	p := DefaultProfiles()[Intro]
	for _, r := range music.Roles {
		want := r == music.Bass || r == music.Melody
		if p.Active(r) != want {
			t.Errorf("INTRO Active(%s) = %v, want %v", r, p.Active(r), want)
		}
	}
}

// --- machine behaviour ---

func run(m *Machine, bars int) []Kind {
	kinds := make([]Kind, bars)
	for b := 0; b < bars; b++ {
		m.Advance(b)
		kinds[b] = m.Kind()
	}
	return kinds
}

func TestIntroThenVerse(t *testing.T) {
	cfg := DefaultConfig()
	m := NewMachine(cfg, rand.New(rand.NewPCG(1, 1)))
	kinds := run(m, cfg.IntroBars+1)
	for b := 0; b < cfg.IntroBars; b++ {
		if kinds[b] != Intro {
			t.Fatalf("bar %d = %s, want INTRO", b, kinds[b])
		}
	}
	if kinds[cfg.IntroBars] != Verse {
		t.Errorf("bar %d = %s, want VERSE", cfg.IntroBars, kinds[cfg.IntroBars])
	}
}

func TestAdvanceOncePerBar(t *testing.T) {
	cfg := DefaultConfig()
	m := NewMachine(cfg, rand.New(rand.NewPCG(2, 2)))
	run(m, cfg.IntroBars)
	if !m.Advance(cfg.IntroBars) {
		t.Fatal("expected a transition at the end of the intro")
	}
	for i := 0; i < 3; i++ {
		if m.Advance(cfg.IntroBars) {
			t.Fatal("second Advance for the same bar transitioned")
		}
	}
	if m.Advance(cfg.IntroBars - 1) {
		t.Fatal("Advance for an earlier bar transitioned")
	}
}

func TestNoConsecutiveRepeatAndLengths(t *testing.T) {
	cfg := DefaultConfig()
	for seed := uint64(0); seed < 20; seed++ {
		m := NewMachine(cfg, rand.New(rand.NewPCG(seed, 7)))
		prev := m.Kind()
		for b := 0; b < 5000; b++ {
			if !m.Advance(b) {
				continue
			}
			if m.Kind() == prev {
				t.Fatalf("seed %d bar %d: %s followed itself", seed, b, prev)
			}
			if m.Kind() == Intro {
				t.Fatalf("seed %d bar %d: returned to INTRO", seed, b)
			}
			st := m.Status(b)
			if st.Length < cfg.MinBars || st.Length > cfg.MaxBars {
				t.Fatalf("seed %d bar %d: %s length %d outside [%d, %d]", seed, b, m.Kind(), st.Length, cfg.MinBars, cfg.MaxBars)
			}
			prev = m.Kind()
		}
	}
}

func assertChorusEvery64(t *testing.T, kinds []Kind) {
	t.Helper()
	for start := 0; start+64 <= len(kinds); start++ {
		found := false
		for _, k := range kinds[start : start+64] {
			if k == Chorus {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("no CHORUS in bars [%d, %d)", start, start+64)
		}
	}
}

func TestChorusInEvery64BarWindow(t *testing.T) {
	for seed := uint64(0); seed < 50; seed++ {
		m := NewMachine(DefaultConfig(), rand.New(rand.NewPCG(seed, seed^0xbeef)))
		assertChorusEvery64(t, run(m, 2000))
	}
}

func TestChorusForcedWhenWeightsAvoidIt(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Transitions = map[Kind]map[Kind]float64{
		Intro:     {Verse: 1},
		Verse:     {Breakdown: 1},
		Breakdown: {Verse: 1},
		Chorus:    {Verse: 1},
	}
	m := NewMachine(cfg, rand.New(rand.NewPCG(9, 9)))
	kinds := run(m, 1000)
	assertChorusEvery64(t, kinds)

	streak := 0
	for b, k := range kinds {
		if k == Chorus {
			streak = 0
			continue
		}
		streak++
		if streak > cfg.ChorusWithin {
			t.Fatalf("bar %d: %d bars without a chorus, limit %d", b, streak, cfg.ChorusWithin)
		}
	}
}

func TestStatusRemaining(t *testing.T) {
	cfg := DefaultConfig()
	m := NewMachine(cfg, rand.New(rand.NewPCG(4, 4)))
	m.Advance(0)
	st := m.Status(3)
	if st.Kind != "INTRO" || st.Remaining != cfg.IntroBars-3 {
		t.Errorf("Status(3) = %+v, want INTRO with %d remaining", st, cfg.IntroBars-3)
	}
}
