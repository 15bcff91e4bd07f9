package music

import (
	"fmt"
	"math"
	"strings"
)

// BeatsPerBar is fixed: everything is 4/4.
const BeatsPerBar = 4

// Role is the functional category of a musical layer.
type Role int

const (
	Bass Role = iota
	Melody
	Pad
	Arp
)

// Roles lists every role in render order.
var Roles = []Role{Bass, Melody, Pad, Arp}

func (r Role) String() string {
	switch r {
	case Bass:
		return "bass"
	case Melody:
		return "melody"
	case Pad:
		return "pad"
	case Arp:
		return "arp"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// ParseRole maps a role name back to its Role.
func ParseRole(s string) (Role, bool) {
	for _, r := range Roles {
		if strings.EqualFold(s, r.String()) {
			return r, true
		}
	}
	return 0, false
}

// Event is a single note, timed in beats from the start of its fragment.
type Event struct {
	Pitch    int     `json:"pitch"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Velocity int     `json:"velocity"`
}

// End returns the beat at which the note is released.
func (e Event) End() float64 {
	return e.Start + e.Duration
}

// Fragment is a loopable note sequence extracted from a reference file.
// Fragments are treated as immutable; Transpose returns a copy.
type Fragment struct {
	ID       string  `json:"id"`
	Role     Role    `json:"role"`
	Source   string  `json:"source"`
	Track    string  `json:"track"`
	Events   []Event `json:"events"`
	Key      int     `json:"key"` // pitch class of the tonic, 0 = C
	Minor    bool    `json:"minor"`
	BPM      float64 `json:"bpm"`
	Bars     int     `json:"bars"`
	Density  float64 `json:"density"` // notes per beat
	Velocity float64 `json:"velocity"`
}

// Beats returns the loop length in beats.
func (f Fragment) Beats() float64 {
	return float64(f.Bars * BeatsPerBar)
}

// Validate checks the loop invariants: at least one bar and every event
// starting inside the loop.
func (f Fragment) Validate() error {
	if f.Bars < 1 {
		return fmt.Errorf("fragment %s: loop length %d bars", f.ID, f.Bars)
	}
	limit := f.Beats()
	for i, e := range f.Events {
		if e.Start < 0 || e.Start >= limit {
			return fmt.Errorf("fragment %s: event %d starts at beat %.3f outside [0, %.0f)", f.ID, i, e.Start, limit)
		}
		if e.Duration <= 0 {
			return fmt.Errorf("fragment %s: event %d has duration %.3f", f.ID, i, e.Duration)
		}
	}
	return nil
}

// Transpose shifts every pitch by semitones. ok is false if any pitch would
// leave the MIDI range.
func (f Fragment) Transpose(semitones int) (Fragment, bool) {
	if semitones == 0 {
		return f, true
	}
	events := make([]Event, len(f.Events))
	for i, e := range f.Events {
		e.Pitch += semitones
		if e.Pitch < 0 || e.Pitch > 127 {
			return Fragment{}, false
		}
		events[i] = e
	}
	f.Events = events
	f.Key = PitchClass(f.Key + semitones)
	return f, true
}

// KeyName renders the detected key, e.g. "A minor".
func (f Fragment) KeyName() string {
	mode := "major"
	if f.Minor {
		mode = "minor"
	}
	return NoteNames[PitchClass(f.Key)] + " " + mode
}

// Pool is the fragment library, grouped by role.
type Pool map[Role][]Fragment

// Add appends a fragment under its role.
func (p Pool) Add(f Fragment) {
	p[f.Role] = append(p[f.Role], f)
}

// Count returns the number of fragments for a role.
func (p Pool) Count(r Role) int {
	return len(p[r])
}

// Total returns the number of fragments across all roles.
func (p Pool) Total() int {
	n := 0
	for _, frags := range p {
		n += len(frags)
	}
	return n
}

// NoteNames indexes pitch classes by sharp name.
var NoteNames = []string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

var flatNames = map[string]int{"Db": 1, "Eb": 3, "Gb": 6, "Ab": 8, "Bb": 10}

// PitchClass wraps any semitone value into 0..11.
func PitchClass(n int) int {
	return ((n % 12) + 12) % 12
}

// ParseKey parses "A minor", "F# major", "Eb", "c min". The mode defaults to
// minor.
func ParseKey(s string) (pitchClass int, minor bool, err error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, false, fmt.Errorf("empty key")
	}
	root := fields[0]
	if len(root) > 0 {
		root = strings.ToUpper(root[:1]) + root[1:]
	}
	pc := -1
	for i, name := range NoteNames {
		if name == root {
			pc = i
		}
	}
	if v, ok := flatNames[root]; ok {
		pc = v
	}
	if pc < 0 {
		return 0, false, fmt.Errorf("unknown key root %q", fields[0])
	}
	minor = true
	if len(fields) > 1 {
		switch strings.ToLower(fields[1]) {
		case "major", "maj":
			minor = false
		case "minor", "min", "m":
		default:
			return 0, false, fmt.Errorf("unknown key mode %q", fields[1])
		}
	}
	return pc, minor, nil
}

// MIDIToFreq converts a (possibly fractional) MIDI note number to Hz.
func MIDIToFreq(note float64) float64 {
	return 440 * math.Pow(2, (note-69)/12)
}

// ShortestShift returns the semitone shift in [-6, 5] that moves pitch
// class from onto pitch class to.
func ShortestShift(from, to int) int {
	d := PitchClass(to - from)
	if d > 5 {
		d -= 12
	}
	return d
}
