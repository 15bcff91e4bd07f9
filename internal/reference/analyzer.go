// Package reference turns a directory of MIDI files into a fragment pool.
package reference

import (
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	apperrors "github.com/satindergrewal/infinitechno/internal/errors"
	"github.com/satindergrewal/infinitechno/internal/music"
)

// drumChannel is the General MIDI percussion channel (10, zero based).
const drumChannel = 9

// Analyzer extracts fragments from reference MIDI files.
type Analyzer struct {
	MaxBars      int // longest loop considered
	MaxFragments int // fragments kept per track
	MinNotes     int // tracks with fewer notes are ignored
}

// NewAnalyzer returns an analyzer with the defaults used by the engine.
func NewAnalyzer() *Analyzer {
	return &Analyzer{MaxBars: 16, MaxFragments: 4, MinNotes: 4}
}

// Library is the outcome of analyzing a directory.
type Library struct {
	Pool    music.Pool
	Files   int
	Skipped []error
}

// AnalyzeDir parses every .mid/.midi file in dir. Malformed files are logged
// and skipped; only an unreadable directory is an error.
func (a *Analyzer) AnalyzeDir(dir string) (*Library, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read reference dir %s", dir)
	}

	lib := &Library{Pool: music.Pool{}}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".mid" && ext != ".midi" {
			continue
		}
		lib.Files++

		frags, err := a.AnalyzeFile(filepath.Join(dir, e.Name()))
		if err != nil {
			log.Printf("Warning: skipped %s: %v", e.Name(), err)
			lib.Skipped = append(lib.Skipped, err)
			continue
		}
		for _, f := range frags {
			lib.Pool.Add(f)
		}
	}

	log.Printf("Pattern library: %d files, %d skipped, bass=%d melody=%d pad=%d arp=%d",
		lib.Files, len(lib.Skipped),
		lib.Pool.Count(music.Bass), lib.Pool.Count(music.Melody),
		lib.Pool.Count(music.Pad), lib.Pool.Count(music.Arp))
	return lib, nil
}

// AnalyzeFile parses one MIDI file. Any failure is a *apperrors.ParseError.
func (a *Analyzer) AnalyzeFile(path string) (frags []music.Fragment, err error) {
	defer func() {
		if r := recover(); r != nil {
			frags = nil
			err = &apperrors.ParseError{Path: path, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	s, err := smf.ReadFile(path)
	if err != nil {
		return nil, &apperrors.ParseError{Path: path, Err: err}
	}

	mt, ok := s.TimeFormat.(smf.MetricTicks)
	if !ok {
		return nil, &apperrors.ParseError{Path: path, Err: errors.New("SMPTE time format not supported")}
	}
	tpq := float64(mt.Resolution())
	if tpq <= 0 {
		return nil, &apperrors.ParseError{Path: path, Err: errors.New("zero ticks per quarter note")}
	}

	bpm := 120.0
	if tc := s.TempoChanges(); len(tc) > 0 && tc[0].BPM > 0 {
		// tempo is stored as whole microseconds per quarter note
		bpm = math.Round(tc[0].BPM*100) / 100
	}

	source := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	for ti, track := range s.Tracks {
		name, notes := collectNotes(track, tpq)
		if len(notes) < a.MinNotes {
			continue
		}
		role := inferRole(name, notes)
		for si, events := range a.segment(notes) {
			f := buildFragment(events.events, events.bars)
			f.ID = fmt.Sprintf("%s/%d/%d", source, ti, si)
			f.Role = role
			f.Source = source
			f.Track = name
			f.BPM = bpm
			if err := f.Validate(); err != nil {
				return nil, &apperrors.ParseError{Path: path, Err: err}
			}
			frags = append(frags, f)
		}
	}

	if len(frags) == 0 {
		return nil, &apperrors.ParseError{Path: path, Err: errors.New("no usable note tracks")}
	}
	return frags, nil
}

type heldNote struct {
	start uint64
	vel   uint8
}

// collectNotes pairs note starts and ends per channel+key and converts ticks
// to beats. Notes still held at the end of the track are closed there.
func collectNotes(track smf.Track, tpq float64) (string, []music.Event) {
	var (
		name  string
		abs   uint64
		notes []music.Event
	)
	open := make(map[[2]uint8][]heldNote)

	emit := func(key uint8, h heldNote, end uint64) {
		dur := float64(end-h.start) / tpq
		if dur < 1.0/64 {
			dur = 1.0 / 64
		}
		notes = append(notes, music.Event{
			Pitch:    int(key),
			Start:    float64(h.start) / tpq,
			Duration: dur,
			Velocity: int(h.vel),
		})
	}

	for _, ev := range track {
		abs += uint64(ev.Delta)

		var text string
		if ev.Message.GetMetaTrackName(&text) {
			name = strings.TrimSpace(text)
			continue
		}

		msg := midi.Message(ev.Message)
		var ch, key, vel uint8
		switch {
		case msg.GetNoteStart(&ch, &key, &vel):
			if ch == drumChannel {
				continue
			}
			k := [2]uint8{ch, key}
			open[k] = append(open[k], heldNote{start: abs, vel: vel})
		case msg.GetNoteEnd(&ch, &key):
			k := [2]uint8{ch, key}
			stack := open[k]
			if len(stack) == 0 {
				continue
			}
			emit(key, stack[0], abs)
			open[k] = stack[1:]
		}
	}

	for k, stack := range open {
		for _, h := range stack {
			emit(k[1], h, abs)
		}
	}

	sort.Slice(notes, func(i, j int) bool {
		if notes[i].Start != notes[j].Start {
			return notes[i].Start < notes[j].Start
		}
		return notes[i].Pitch < notes[j].Pitch
	})
	return name, notes
}

// inferRole applies the role heuristics: track name first, then pitch
// range and note density.
func inferRole(name string, notes []music.Event) music.Role {
	lname := strings.ToLower(name)
	switch {
	case strings.Contains(lname, "bass"):
		return music.Bass
	case strings.Contains(lname, "pad"), strings.Contains(lname, "string"), strings.Contains(lname, "choir"):
		return music.Pad
	case strings.Contains(lname, "arp"):
		return music.Arp
	case strings.Contains(lname, "lead"), strings.Contains(lname, "melody"):
		return music.Melody
	}

	lo, hi, sum := 127, 0, 0
	for _, n := range notes {
		sum += n.Pitch
		lo = min(lo, n.Pitch)
		hi = max(hi, n.Pitch)
	}
	avg := float64(sum) / float64(len(notes))
	span := math.Max(notes[len(notes)-1].End()-notes[0].Start, 1)
	density := float64(len(notes)) / span

	switch {
	case avg < 45:
		return music.Bass
	case density > 2:
		return music.Arp
	case hi-lo < 12 && density < 0.5:
		return music.Pad
	default:
		return music.Melody
	}
}

type segment struct {
	events []music.Event
	bars   int
}

// segment aligns notes to the bar grid and cuts them into loop-length
// fragments. Durations are clipped at the loop end.
func (a *Analyzer) segment(notes []music.Event) []segment {
	firstBar := math.Floor(notes[0].Start / music.BeatsPerBar)
	origin := firstBar * music.BeatsPerBar
	shifted := make([]music.Event, len(notes))
	for i, n := range notes {
		n.Start -= origin
		shifted[i] = n
	}
	totalBars := int(shifted[len(shifted)-1].Start/music.BeatsPerBar) + 1
	bars := a.loopLength(shifted, totalBars)
	loopBeats := float64(bars * music.BeatsPerBar)

	var out []segment
	for s := 0; s*bars < totalBars && len(out) < a.MaxFragments; s++ {
		lo := float64(s) * loopBeats
		hi := lo + loopBeats
		var events []music.Event
		for _, n := range shifted {
			if n.Start < lo || n.Start >= hi {
				continue
			}
			n.Start -= lo
			n.Duration = math.Min(n.Duration, loopBeats-n.Start)
			events = append(events, n)
		}
		if len(events) > 0 {
			out = append(out, segment{events: events, bars: bars})
		}
	}
	return out
}

// loopLength returns the smallest power-of-two bar count whose content
// repeats in the span that follows. Without a clean repeat it returns the
// largest power of two that fits.
func (a *Analyzer) loopLength(notes []music.Event, totalBars int) int {
	for l := 1; l <= a.MaxBars && 2*l <= totalBars; l *= 2 {
		if repeats(notes, l) {
			return l
		}
	}
	l := 1
	for l*2 <= totalBars && l*2 <= a.MaxBars {
		l *= 2
	}
	return l
}

type gridNote struct {
	pitch int
	step  int
}

func repeats(notes []music.Event, bars int) bool {
	span := float64(bars * music.BeatsPerBar)
	first := map[gridNote]bool{}
	second := map[gridNote]bool{}
	for _, n := range notes {
		step := int(math.Round(math.Mod(n.Start, span) * 4)) // sixteenths
		g := gridNote{pitch: n.Pitch, step: step}
		switch {
		case n.Start < span:
			first[g] = true
		case n.Start < 2*span:
			second[g] = true
		}
	}
	if len(first) == 0 || len(first) != len(second) {
		return false
	}
	for g := range first {
		if !second[g] {
			return false
		}
	}
	return true
}

func buildFragment(events []music.Event, bars int) music.Fragment {
	velSum := 0
	for _, e := range events {
		velSum += e.Velocity
	}
	f := music.Fragment{
		Events: events,
		Bars:   bars,
	}
	f.Density = float64(len(events)) / f.Beats()
	f.Velocity = float64(velSum) / float64(len(events))
	f.Key, f.Minor = DetectKey(events)
	return f
}
