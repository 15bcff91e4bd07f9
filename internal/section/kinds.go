// Package section drives the macro structure: which kind of section is
// playing, which roles it activates and when it changes.
package section

import (
	"fmt"

	"github.com/satindergrewal/infinitechno/internal/music"
)

// Kind is a section type.
type Kind int

const (
	Intro Kind = iota
	Verse
	Chorus
	Breakdown
)

// Kinds lists every section kind.
var Kinds = []Kind{Intro, Verse, Chorus, Breakdown}

func (k Kind) String() string {
	switch k {
	case Intro:
		return "INTRO"
	case Verse:
		return "VERSE"
	case Chorus:
		return "CHORUS"
	case Breakdown:
		return "BREAKDOWN"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Profile describes what a section sounds like.
type Profile struct {
	Kind      Kind
	Roles     map[music.Role]float64 // active roles and their intensity multiplier
	Intensity float64
	Drums     float64
	Presets   []string // effect presets the mixer re-rolls around
}

// Active reports whether the section plays role r.
func (p Profile) Active(r music.Role) bool {
	return p.Roles[r] > 0
}

// Gain maps the role multiplier and section intensity to a layer gain.
func (p Profile) Gain(r music.Role) float64 {
	return p.Roles[r] * p.Intensity
}

// DefaultProfiles are the stock arrangement: a sparse
// intro, a driving verse, a full chorus and a drumless breakdown.
func DefaultProfiles() map[Kind]Profile {
	return map[Kind]Profile{
		Intro: {
			Kind:      Intro,
			Roles:     map[music.Role]float64{music.Bass: 0.6, music.Melody: 0.5},
			Intensity: 0.4,
			Drums:     0.6,
			Presets:   []string{"dry", "dub"},
		},
		Verse: {
			Kind:      Verse,
			Roles:     map[music.Role]float64{music.Bass: 0.9, music.Melody: 0.7, music.Arp: 0.5},
			Intensity: 0.7,
			Drums:     0.9,
			Presets:   []string{"dry", "dub", "grit"},
		},
		Chorus: {
			Kind:      Chorus,
			Roles:     map[music.Role]float64{music.Bass: 1, music.Melody: 1, music.Pad: 0.6, music.Arp: 0.8},
			Intensity: 1,
			Drums:     1,
			Presets:   []string{"wash", "grit", "dub"},
		},
		Breakdown: {
			Kind:      Breakdown,
			Roles:     map[music.Role]float64{music.Pad: 0.9, music.Melody: 0.5, music.Arp: 0.4},
			Intensity: 0.35,
			Drums:     0,
			Presets:   []string{"wash", "space"},
		},
	}
}

// DefaultTransitions weights the next section by the current one. INTRO is
// never a target and a kind never follows itself.
func DefaultTransitions() map[Kind]map[Kind]float64 {
	return map[Kind]map[Kind]float64{
		Intro:     {Verse: 1},
		Verse:     {Chorus: 3, Breakdown: 1},
		Chorus:    {Verse: 2, Breakdown: 2},
		Breakdown: {Verse: 1, Chorus: 2},
	}
}
