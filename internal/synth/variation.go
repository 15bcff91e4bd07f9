package synth

import (
	"github.com/satindergrewal/infinitechno/internal/music"
)

// Hash salts separating the per-bar and per-note decisions.
const (
	saltVoice uint64 = iota + 1
	saltPresence
	saltSteps
)

// DefaultPresence is the chance that a role plays a given bar.
func DefaultPresence() map[music.Role]float64 {
	return map[music.Role]float64{
		music.Bass:   0.95,
		music.Melody: 0.8,
		music.Pad:    1,
		music.Arp:    0.5,
	}
}

// stepChoices are the melody grids a bar can use: 4, 8 or 16 steps.
var stepChoices = map[music.Role][]int{
	music.Melody: {4, 8, 16},
}

// SetPresence replaces the per-role bar presence. Roles missing from p
// always play.
func (s *Synth) SetPresence(p map[music.Role]float64) {
	s.presence = make(map[music.Role]float64, len(p))
	for r, v := range p {
		s.presence[r] = v
	}
}

// Plays reports whether role sounds in pattern bar bar of the fragment.
func (s *Synth) Plays(role music.Role, fragment string, bar int) bool {
	p, ok := s.presence[role]
	if !ok || p >= 1 {
		return true
	}
	return unit(hashOf(s.seed, uint64(role), stringID(fragment), uint64(bar), saltPresence)) < p
}

// Steps returns the step grid of a pattern bar, or 0 when the role plays
// its fragment unthinned.
func (s *Synth) Steps(role music.Role, fragment string, bar int) int {
	choices := stepChoices[role]
	if len(choices) == 0 {
		return 0
	}
	h := hashOf(s.seed, uint64(role), stringID(fragment), uint64(bar), saltSteps)
	return choices[h%uint64(len(choices))]
}

// audible marks the events of loop iteration k that play. A note is dropped
// when its bar is silent, or when an earlier note already starts in the same
// cell of that bar's step grid.
func (s *Synth) audible(role music.Role, f music.Fragment, k int) []bool {
	keep := make([]bool, len(f.Events))
	first := map[[2]int]int{}
	loop := f.Beats()
	for idx, e := range f.Events {
		pos := float64(k)*loop + e.Start
		bar := int(pos / music.BeatsPerBar)
		if !s.Plays(role, f.ID, bar) {
			continue
		}
		steps := s.Steps(role, f.ID, bar)
		if steps == 0 {
			keep[idx] = true
			continue
		}
		cell := [2]int{bar, int((pos - float64(bar)*music.BeatsPerBar) * float64(steps) / music.BeatsPerBar)}
		if j, ok := first[cell]; !ok || e.Start < f.Events[j].Start {
			first[cell] = idx
		}
	}
	for _, idx := range first {
		keep[idx] = true
	}
	return keep
}

// pick chooses the voice for one note from the role's palette.
func pick(pal []voice, h uint64) voice {
	if len(pal) == 1 {
		return pal[0]
	}
	return pal[mix64(h^saltVoice)%uint64(len(pal))]
}
