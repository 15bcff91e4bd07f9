// Package selector picks fragments for each role and keeps the active
// pattern bank.
package selector

import (
	"log"
	"math"
	"math/rand/v2"

	apperrors "github.com/satindergrewal/infinitechno/internal/errors"
	"github.com/satindergrewal/infinitechno/internal/music"
	"github.com/satindergrewal/infinitechno/internal/section"
)

// DefaultTolerance is how far fragment energy may sit from section
// intensity before the fragment is considered incompatible.
const DefaultTolerance = 0.35

// Selector chooses fragments from a key-conformed pool.
type Selector struct {
	pool      music.Pool
	energy    map[string]float64
	rng       *rand.Rand
	Tolerance float64
}

// New conforms every fragment to the global key and precomputes energies.
// Fragments that would leave the MIDI range after transposition are dropped.
func New(pool music.Pool, key int, minor bool, rng *rand.Rand) *Selector {
	s := &Selector{
		pool:      music.Pool{},
		energy:    map[string]float64{},
		rng:       rng,
		Tolerance: DefaultTolerance,
	}

	dropped := 0
	for _, role := range music.Roles {
		for _, f := range pool[role] {
			conformed, ok := f.Transpose(music.ShortestShift(relativeTonic(f, minor), key))
			if !ok {
				dropped++
				continue
			}
			s.pool.Add(conformed)
		}
		s.scoreRole(role)
	}
	if dropped > 0 {
		log.Printf("Selector: %d fragments dropped (out of MIDI range after key conform)", dropped)
	}
	return s
}

// relativeTonic expresses a fragment's tonic in the global mode, so a C major
// fragment counts as A minor rather than being shifted a minor third.
func relativeTonic(f music.Fragment, globalMinor bool) int {
	switch {
	case f.Minor == globalMinor:
		return f.Key
	case globalMinor:
		return music.PitchClass(f.Key + 9)
	default:
		return music.PitchClass(f.Key + 3)
	}
}

func (s *Selector) scoreRole(role music.Role) {
	var maxD, maxV float64
	for _, f := range s.pool[role] {
		maxD = math.Max(maxD, f.Density)
		maxV = math.Max(maxV, f.Velocity)
	}
	for _, f := range s.pool[role] {
		e := 0.0
		if maxD > 0 {
			e += 0.5 * f.Density / maxD
		}
		if maxV > 0 {
			e += 0.5 * f.Velocity / maxV
		}
		s.energy[f.ID] = e
	}
}

// Pool returns the conformed pool.
func (s *Selector) Pool() music.Pool {
	return s.pool
}

// Energy returns the normalised energy of a conformed fragment.
func (s *Selector) Energy(id string) float64 {
	return s.energy[id]
}

// Select returns a fragment for role suited to the section. Inactive roles
// get ErrRoleInactive; an empty role pool gets ErrNoFragments. Both are
// wrapped in a SelectionError.
func (s *Selector) Select(role music.Role, p section.Profile) (music.Fragment, error) {
	if !p.Active(role) {
		return music.Fragment{}, &apperrors.SelectionError{Role: role.String(), Err: apperrors.ErrRoleInactive}
	}
	frags := s.pool[role]
	if len(frags) == 0 {
		return music.Fragment{}, &apperrors.SelectionError{Role: role.String(), Err: apperrors.ErrNoFragments}
	}

	var compatible []music.Fragment
	for _, f := range frags {
		if math.Abs(s.energy[f.ID]-p.Intensity) <= s.Tolerance {
			compatible = append(compatible, f)
		}
	}
	if len(compatible) == 0 {
		compatible = frags
	}
	return compatible[s.rng.IntN(len(compatible))], nil
}
