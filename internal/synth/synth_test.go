package synth

import (
	"math"
	"testing"

	"github.com/satindergrewal/infinitechno/internal/music"
	"github.com/satindergrewal/infinitechno/internal/selector"
)

const testRate = 8000

func pattern(role music.Role) selector.ActivePattern {
	f := music.Fragment{
		ID:   "test/1/0",
		Role: role,
		Bars: 2,
		Events: []music.Event{
			{Pitch: 57, Start: 0, Duration: 1, Velocity: 100},
			{Pitch: 60, Start: 1.5, Duration: 0.5, Velocity: 90},
			{Pitch: 64, Start: 3, Duration: 2, Velocity: 110},
			{Pitch: 62, Start: 7.5, Duration: 0.5, Velocity: 80},
		},
	}
	return selector.ActivePattern{Role: role, Fragment: f, Hold: 8, Remaining: 8}
}

func render(t *testing.T, s *Synth, role music.Role, bar int) [][2]float64 {
	t.Helper()
	out := make([][2]float64, s.BarSamples())
	if err := s.Render(role, pattern(role), bar, 0, out); err != nil {
		t.Fatalf("Render(%s, bar %d): %v", role, bar, err)
	}
	return out
}

func peak(buf [][2]float64) float64 {
	p := 0.0
	for _, s := range buf {
		p = math.Max(p, math.Max(math.Abs(s[0]), math.Abs(s[1])))
	}
	return p
}

func TestBarSamples(t *testing.T) {
	if got := New(48000, 128, 1).BarSamples(); got != 90000 {
		t.Errorf("BarSamples at 128 BPM = %d, want 90000", got)
	}
	if got := New(testRate, 120, 1).BarSamples(); got != 16000 {
		t.Errorf("BarSamples at 120 BPM = %d, want 16000", got)
	}
}

func TestRenderDeterministic(t *testing.T) {
	for _, role := range music.Roles {
		a := render(t, New(testRate, 120, 42), role, 3)
		b := render(t, New(testRate, 120, 42), role, 3)
		for i := range a {
			if a[i] != b[i] {
				t.Fatalf("%s: sample %d differs between identical synths", role, i)
			}
		}
		if peak(a) == 0 {
			t.Errorf("%s: bar 3 is silent", role)
		}
	}
}

func TestRenderSeedChangesHumanization(t *testing.T) {
	a := render(t, New(testRate, 120, 1), music.Melody, 0)
	b := render(t, New(testRate, 120, 2), music.Melody, 0)
	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different seeds rendered identical audio")
	}
}

func TestRenderPartitionIndependent(t *testing.T) {
	s := New(testRate, 120, 7)
	s.SetPresence(DefaultPresence())
	for _, role := range music.Roles {
		whole := render(t, s, role, 1)
		pieces := make([][2]float64, 0, len(whole))
		for offset := 0; offset < len(whole); {
			n := min(333, len(whole)-offset)
			buf := make([][2]float64, n)
			if err := s.Render(role, pattern(role), 1, offset, buf); err != nil {
				t.Fatal(err)
			}
			pieces = append(pieces, buf...)
			offset += n
		}
		for i := range whole {
			if whole[i] != pieces[i] {
				t.Fatalf("%s: sample %d = %v in pieces, %v whole", role, i, pieces[i], whole[i])
			}
		}
	}
}

func TestRenderReleaseCrossesLoopBoundary(t *testing.T) {
	s := New(testRate, 120, 3)
	// The last event of pattern bar 1 ends on the loop boundary; its release
	// must ring into the next iteration.
	out := make([][2]float64, 200)
	if err := s.Render(music.Pad, pattern(music.Pad), 2, 0, out); err != nil {
		t.Fatal(err)
	}
	if peak(out) == 0 {
		t.Error("no release tail after the loop boundary")
	}
}

func TestRenderRejectsBadInput(t *testing.T) {
	s := New(testRate, 120, 1)
	out := make([][2]float64, 100)

	if err := s.Render(music.Bass, pattern(music.Bass), 0, s.BarSamples()-50, out); err == nil {
		t.Error("window past bar end should fail")
	}
	bad := pattern(music.Bass)
	bad.Fragment.Bars = 0
	if err := s.Render(music.Bass, bad, 0, 0, out); err == nil {
		t.Error("invalid fragment should fail")
	}
	if peak(out) != 0 {
		t.Error("failed render left samples in out")
	}
}

func TestRenderEmptyFragmentSilent(t *testing.T) {
	s := New(testRate, 120, 1)
	out := make([][2]float64, 100)
	out[0] = [2]float64{1, 1}
	ap := selector.ActivePattern{Role: music.Bass, Fragment: music.Fragment{ID: "empty", Bars: 1}}
	if err := s.Render(music.Bass, ap, 0, 0, out); err != nil {
		t.Fatal(err)
	}
	if peak(out) != 0 {
		t.Error("empty fragment should render silence")
	}
}

func TestPanPlacesLayers(t *testing.T) {
	out := render(t, New(testRate, 120, 1), music.Arp, 0)
	var l, r float64
	for _, s := range out {
		l += s[0] * s[0]
		r += s[1] * s[1]
	}
	if r <= l {
		t.Errorf("arp should sit right of centre: left energy %v, right %v", l, r)
	}
}

func TestDrums(t *testing.T) {
	s := New(testRate, 120, 5)
	out := make([][2]float64, s.BarSamples())

	if err := s.RenderDrums(0, 0, 0, out); err != nil {
		t.Fatal(err)
	}
	if peak(out) != 0 {
		t.Error("level 0 should be silent")
	}

	if err := s.RenderDrums(4, 0, 1, out); err != nil {
		t.Fatal(err)
	}
	beat := s.BarSamples() / 4
	for b := 0; b < 4; b++ {
		if peak(out[b*beat:b*beat+200]) < 0.1 {
			t.Errorf("no kick on beat %d", b+1)
		}
	}

	whole := append([][2]float64(nil), out...)
	for offset := 0; offset < len(whole); offset += 500 {
		n := min(500, len(whole)-offset)
		buf := make([][2]float64, n)
		if err := s.RenderDrums(4, offset, 1, buf); err != nil {
			t.Fatal(err)
		}
		for i := range buf {
			if buf[i] != whole[offset+i] {
				t.Fatalf("drum sample %d differs when rendered in pieces", offset+i)
			}
		}
	}
}

func TestPresenceRates(t *testing.T) {
	s := New(testRate, 120, 9)
	s.SetPresence(DefaultPresence())
	const bars = 4000
	for role, want := range DefaultPresence() {
		played := 0
		for bar := 0; bar < bars; bar++ {
			if s.Plays(role, "test/1/0", bar) {
				played++
			}
		}
		if got := float64(played) / bars; math.Abs(got-want) > 0.03 {
			t.Errorf("%s plays %.3f of bars, want about %.2f", role, got, want)
		}
	}
	if !New(testRate, 120, 9).Plays(music.Arp, "test/1/0", 3) {
		t.Error("a synth without presence settings should always play")
	}
}

func TestRestingBarIsSilent(t *testing.T) {
	s := New(testRate, 120, 4)
	s.SetPresence(DefaultPresence())
	ap := pattern(music.Arp)

	rest := -1
	for bar := 1; bar < 200; bar++ {
		// neighbours rest too, so no tail or early note reaches the bar
		if !s.Plays(music.Arp, ap.Fragment.ID, bar-1) && !s.Plays(music.Arp, ap.Fragment.ID, bar) &&
			!s.Plays(music.Arp, ap.Fragment.ID, bar+1) {
			rest = bar
			break
		}
	}
	if rest < 0 {
		t.Fatal("arp never rested three bars running")
	}
	out := make([][2]float64, s.BarSamples())
	if err := s.Render(music.Arp, ap, rest, 0, out); err != nil {
		t.Fatal(err)
	}
	if peak(out) != 0 {
		t.Errorf("arp rests in bar %d but rendered peak %v", rest, peak(out))
	}
	if peak(render(t, New(testRate, 120, 4), music.Arp, rest)) == 0 {
		t.Errorf("bar %d should sound when every bar plays", rest)
	}
}

func TestMelodyPaletteUsesEveryVoice(t *testing.T) {
	pal := voices[music.Melody]
	seen := map[float64]bool{}
	for i := uint64(0); i < 300; i++ {
		seen[pick(pal, hashOf(1, uint64(music.Melody), i)).gain] = true
	}
	if len(seen) != len(pal) {
		t.Errorf("melody notes used %d of %d voices", len(seen), len(pal))
	}
	for _, role := range []music.Role{music.Bass, music.Pad, music.Arp} {
		if len(voices[role]) != 1 {
			t.Errorf("%s has %d voices, want 1", role, len(voices[role]))
		}
	}
}

func TestStepGridThinsMelody(t *testing.T) {
	s := New(testRate, 120, 11)
	f := music.Fragment{ID: "sixteenths", Role: music.Melody, Bars: 1}
	for i := 0; i < 16; i++ {
		f.Events = append(f.Events, music.Event{Pitch: 60 + i%5, Start: float64(i) / 4, Duration: 0.25, Velocity: 100})
	}

	grids := map[int]bool{}
	for bar := 0; bar < 60; bar++ {
		steps := s.Steps(music.Melody, f.ID, bar)
		grids[steps] = true
		kept := 0
		for _, ok := range s.audible(music.Melody, f, bar) {
			if ok {
				kept++
			}
		}
		if kept != steps {
			t.Fatalf("bar %d on a %d-step grid kept %d notes", bar, steps, kept)
		}
	}
	for _, n := range []int{4, 8, 16} {
		if !grids[n] {
			t.Errorf("no bar used the %d-step grid", n)
		}
	}
	if s.Steps(music.Bass, f.ID, 0) != 0 {
		t.Error("bass should play its fragment unthinned")
	}
}
