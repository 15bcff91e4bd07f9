package selector

import (
	"errors"
	"log"
	"math/rand/v2"

	apperrors "github.com/satindergrewal/infinitechno/internal/errors"
	"github.com/satindergrewal/infinitechno/internal/music"
	"github.com/satindergrewal/infinitechno/internal/section"
)

// ActivePattern is a fragment currently assigned to a role.
type ActivePattern struct {
	Role      music.Role     `json:"role"`
	Fragment  music.Fragment `json:"-"`
	Hold      int            `json:"hold"`
	Remaining int            `json:"remaining"`
	StartBar  int            `json:"start_bar"`
}

// PatternBar converts an absolute bar into the pattern's own bar count.
func (ap ActivePattern) PatternBar(bar int) int {
	return bar - ap.StartBar
}

// HoldConfig bounds how many bars a pattern plays before reselection.
type HoldConfig struct {
	BassMin, BassMax int
	Min, Max         int
}

// Change lists the patterns a bar boundary replaced or dropped.
type Change struct {
	Started []ActivePattern
	Stopped []ActivePattern // roles that left the section
}

// Bank keeps at most one ActivePattern per role. Owned by the engine
// goroutine.
type Bank struct {
	sel    *Selector
	holds  HoldConfig
	rng    *rand.Rand
	active map[music.Role]ActivePattern
}

// NewBank returns an empty bank.
func NewBank(sel *Selector, holds HoldConfig, rng *rand.Rand) *Bank {
	return &Bank{
		sel:    sel,
		holds:  holds,
		rng:    rng,
		active: map[music.Role]ActivePattern{},
	}
}

// OnBar updates the bank at a bar boundary. Countdowns are derived from the
// bar, so calling it twice for the same bar is harmless. On a section change
// every role except bass is reselected; bass keeps its groove until its hold
// expires.
func (b *Bank) OnBar(bar int, p section.Profile, changed bool) Change {
	var ch Change
	for _, role := range music.Roles {
		ap, ok := b.active[role]
		if !p.Active(role) {
			if ok {
				delete(b.active, role)
				ch.Stopped = append(ch.Stopped, ap)
			}
			continue
		}

		if ok {
			ap.Remaining = ap.Hold - (bar - ap.StartBar)
			b.active[role] = ap
			if ap.Remaining > 0 && !(changed && role != music.Bass) {
				continue
			}
		}

		frag, err := b.sel.Select(role, p)
		if err != nil {
			delete(b.active, role)
			if changed && errors.Is(err, apperrors.ErrNoFragments) {
				log.Printf("Role %s muted for %s: %v", role, p.Kind, err)
			}
			continue
		}
		hold := b.drawHold(role)
		next := ActivePattern{Role: role, Fragment: frag, Hold: hold, Remaining: hold, StartBar: bar}
		b.active[role] = next
		ch.Started = append(ch.Started, next)
	}
	return ch
}

func (b *Bank) drawHold(role music.Role) int {
	lo, hi := b.holds.Min, b.holds.Max
	if role == music.Bass {
		lo, hi = b.holds.BassMin, b.holds.BassMax
	}
	if hi < lo {
		hi = lo
	}
	return lo + b.rng.IntN(hi-lo+1)
}

// Active returns the pattern for role, if any.
func (b *Bank) Active(role music.Role) (ActivePattern, bool) {
	ap, ok := b.active[role]
	return ap, ok
}

// Patterns returns the active patterns in role order.
func (b *Bank) Patterns() []ActivePattern {
	out := make([]ActivePattern, 0, len(b.active))
	for _, role := range music.Roles {
		if ap, ok := b.active[role]; ok {
			out = append(out, ap)
		}
	}
	return out
}
