package section

import (
	"log"
	"math/rand/v2"
)

// Config holds the structure parameters.
type Config struct {
	IntroBars    int
	MinBars      int
	MaxBars      int
	ChorusWithin int // longest run of bars without a chorus
	Transitions  map[Kind]map[Kind]float64
	Profiles     map[Kind]Profile
}

// DefaultConfig returns the stock structure.
func DefaultConfig() Config {
	return Config{
		IntroBars:    8,
		MinBars:      8,
		MaxBars:      16,
		ChorusWithin: 32,
		Transitions:  DefaultTransitions(),
		Profiles:     DefaultProfiles(),
	}
}

// Status is the machine state exposed in engine snapshots.
type Status struct {
	Kind      string  `json:"kind"`
	StartBar  int     `json:"start_bar"`
	Length    int     `json:"length"`
	Remaining int     `json:"remaining"`
	Intensity float64 `json:"intensity"`
}

// Machine is the section state machine. It is owned by the engine
// goroutine and is not safe for concurrent use.
type Machine struct {
	cfg Config
	rng *rand.Rand

	current       Kind
	start         int // bar the current section began
	length        int
	lastChorusEnd int
	lastBar       int
}

// NewMachine starts in INTRO at bar 0.
func NewMachine(cfg Config, rng *rand.Rand) *Machine {
	return &Machine{
		cfg:     cfg,
		rng:     rng,
		current: Intro,
		length:  cfg.IntroBars,
		lastBar: -1,
	}
}

// Kind returns the current section kind.
func (m *Machine) Kind() Kind {
	return m.current
}

// Profile returns the current section profile.
func (m *Machine) Profile() Profile {
	return m.cfg.Profiles[m.current]
}

// Status reports the section position relative to bar.
func (m *Machine) Status(bar int) Status {
	return Status{
		Kind:      m.current.String(),
		StartBar:  m.start,
		Length:    m.length,
		Remaining: max(m.start+m.length-bar, 0),
		Intensity: m.Profile().Intensity,
	}
}

// Advance evaluates the bar boundary at bar and reports whether the section
// changed. Repeated calls for the same or an earlier bar are no-ops.
func (m *Machine) Advance(bar int) bool {
	if bar <= m.lastBar {
		return false
	}
	m.lastBar = bar
	if bar < m.start+m.length {
		return false
	}

	prev := m.current
	m.enter(m.next(bar), bar)
	log.Printf("Section transition: %s -> %s at bar %d (%d bars)", prev, m.current, bar, m.length)
	return true
}

func (m *Machine) next(bar int) Kind {
	if m.current == Intro {
		return Verse
	}
	if m.current != Chorus && bar-m.lastChorusEnd+m.cfg.MinBars > m.cfg.ChorusWithin {
		return Chorus
	}

	var (
		kinds []Kind
		total float64
	)
	for _, k := range Kinds {
		w := m.cfg.Transitions[m.current][k]
		if k == Intro || k == m.current || w <= 0 {
			continue
		}
		kinds = append(kinds, k)
		total += w
	}
	if len(kinds) == 0 {
		for _, k := range []Kind{Verse, Chorus, Breakdown} {
			if k != m.current {
				return k
			}
		}
	}

	r := m.rng.Float64() * total
	for _, k := range kinds {
		r -= m.cfg.Transitions[m.current][k]
		if r < 0 {
			return k
		}
	}
	return kinds[len(kinds)-1]
}

func (m *Machine) enter(k Kind, bar int) {
	if m.current == Chorus {
		m.lastChorusEnd = bar
	}
	m.current = k
	m.start = bar
	m.length = m.drawLength()
	if k != Chorus {
		room := m.cfg.ChorusWithin - (bar - m.lastChorusEnd)
		m.length = max(min(m.length, room), 1)
	}
}

// drawLength picks a section length in [MinBars, MaxBars].
func (m *Machine) drawLength() int {
	spread := m.cfg.MaxBars - m.cfg.MinBars + 1
	if spread <= 0 {
		spread = 1
	}
	return m.cfg.MinBars + m.rng.IntN(spread)
}
