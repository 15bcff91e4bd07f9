package reference

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	apperrors "github.com/satindergrewal/infinitechno/internal/errors"
	"github.com/satindergrewal/infinitechno/internal/music"
)

const testTPQ = 480

type testNote struct {
	ch    uint8
	key   uint8
	start uint32 // ticks
	dur   uint32
}

// writeMIDI writes a two-track SMF: tempo map plus one note track.
func writeMIDI(t *testing.T, path string, bpm float64, notes []testNote) {
	t.Helper()

	type timed struct {
		at  uint32
		off bool
		msg midi.Message
	}
	var evs []timed
	for _, n := range notes {
		evs = append(evs,
			timed{at: n.start, msg: midi.NoteOn(n.ch, n.key, 100)},
			timed{at: n.start + n.dur, off: true, msg: midi.NoteOff(n.ch, n.key)})
	}
	sort.SliceStable(evs, func(i, j int) bool {
		if evs[i].at != evs[j].at {
			return evs[i].at < evs[j].at
		}
		return evs[i].off && !evs[j].off
	})

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(testTPQ)

	var tempo smf.Track
	tempo.Add(0, smf.MetaTempo(bpm))
	tempo.Close(0)

	var tr smf.Track
	var last uint32
	for _, e := range evs {
		tr.Add(e.at-last, e.msg)
		last = e.at
	}
	tr.Close(0)

	if err := s.Add(tempo); err != nil {
		t.Fatalf("add tempo track: %v", err)
	}
	if err := s.Add(tr); err != nil {
		t.Fatalf("add note track: %v", err)
	}
	if err := s.WriteFile(path); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// repeatBars lays a per-bar pitch pattern out over bars, one note per beat.
func repeatBars(pattern []uint8, bars int, dur uint32) []testNote {
	var out []testNote
	for i := 0; i < bars*4; i++ {
		out = append(out, testNote{
			key:   pattern[i%len(pattern)],
			start: uint32(i) * testTPQ,
			dur:   dur,
		})
	}
	return out
}

func TestAnalyzeDirBuildsPool(t *testing.T) {
	dir := t.TempDir()
	writeMIDI(t, filepath.Join(dir, "bass.mid"), 126, repeatBars([]uint8{33, 33, 36, 33}, 4, testTPQ/2))
	writeMIDI(t, filepath.Join(dir, "lead.midi"), 126, repeatBars([]uint8{69, 72, 76, 74, 72, 69, 67, 69}, 8, testTPQ))
	if err := os.WriteFile(filepath.Join(dir, "broken.mid"), []byte("not a midi file"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	lib, err := NewAnalyzer().AnalyzeDir(dir)
	if err != nil {
		t.Fatalf("AnalyzeDir: %v", err)
	}
	if lib.Files != 3 {
		t.Errorf("Files = %d, want 3", lib.Files)
	}
	if len(lib.Skipped) != 1 {
		t.Fatalf("Skipped = %d, want 1", len(lib.Skipped))
	}
	var pe *apperrors.ParseError
	if !errors.As(lib.Skipped[0], &pe) {
		t.Errorf("skip reason %v is not a ParseError", lib.Skipped[0])
	}

	bass := lib.Pool[music.Bass]
	if len(bass) == 0 {
		t.Fatal("no bass fragments")
	}
	for _, f := range bass {
		if f.Bars != 1 {
			t.Errorf("bass fragment %s loops over %d bars, want 1", f.ID, f.Bars)
		}
		if f.BPM != 126 {
			t.Errorf("bass fragment BPM = %v, want exactly 126 after tempo rounding", f.BPM)
		}
	}

	lead := lib.Pool[music.Melody]
	if len(lead) == 0 {
		t.Fatal("no melody fragments")
	}
	for _, f := range lead {
		if f.Bars != 2 {
			t.Errorf("melody fragment %s loops over %d bars, want 2", f.ID, f.Bars)
		}
		if len(f.Events) != 8 {
			t.Errorf("melody fragment %s has %d events, want 8", f.ID, len(f.Events))
		}
	}

	if lib.Pool.Count(music.Arp) != 0 || lib.Pool.Count(music.Pad) != 0 {
		t.Errorf("unexpected arp/pad fragments: %d/%d", lib.Pool.Count(music.Arp), lib.Pool.Count(music.Pad))
	}
	for _, frags := range lib.Pool {
		for _, f := range frags {
			if err := f.Validate(); err != nil {
				t.Errorf("invalid fragment: %v", err)
			}
		}
	}
}

func TestAnalyzeDirMissing(t *testing.T) {
	if _, err := NewAnalyzer().AnalyzeDir(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("missing directory should be an error")
	}
}

func TestAnalyzeFileIgnoresDrumChannel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drums.mid")
	notes := repeatBars([]uint8{36, 38, 42, 38}, 4, testTPQ/4)
	for i := range notes {
		notes[i].ch = drumChannel
	}
	writeMIDI(t, path, 128, notes)

	_, err := NewAnalyzer().AnalyzeFile(path)
	var pe *apperrors.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("drum-only file: err = %v, want ParseError", err)
	}
	if pe.Path != path {
		t.Errorf("ParseError.Path = %q, want %q", pe.Path, path)
	}
}

func TestAnalyzeFileDefaultTempo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notempo.mid")

	var tr smf.Track
	for i := 0; i < 8; i++ {
		tr.Add(0, midi.NoteOn(0, 60, 90))
		tr.Add(testTPQ, midi.NoteOff(0, 60))
	}
	tr.Close(0)
	s := smf.New()
	s.TimeFormat = smf.MetricTicks(testTPQ)
	if err := s.Add(tr); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteFile(path); err != nil {
		t.Fatal(err)
	}

	frags, err := NewAnalyzer().AnalyzeFile(path)
	if err != nil {
		t.Fatalf("AnalyzeFile: %v", err)
	}
	if frags[0].BPM != 120 {
		t.Errorf("BPM = %v, want default 120", frags[0].BPM)
	}
}

func TestAnalyzeFileRoundsTempo(t *testing.T) {
	for _, bpm := range []float64{126, 127.5, 133.33} {
		path := filepath.Join(t.TempDir(), "tempo.mid")
		writeMIDI(t, path, bpm, repeatBars([]uint8{60, 64, 67, 64}, 2, testTPQ/2))
		frags, err := NewAnalyzer().AnalyzeFile(path)
		if err != nil {
			t.Fatalf("AnalyzeFile: %v", err)
		}
		if len(frags) == 0 {
			t.Fatalf("tempo %v: no fragments", bpm)
		}
		if frags[0].BPM != bpm {
			t.Errorf("tempo %v read back as %v", bpm, frags[0].BPM)
		}
	}
}

func TestCollectNotesClosesHangingNotes(t *testing.T) {
	var tr smf.Track
	tr.Add(0, midi.NoteOn(0, 60, 100))
	tr.Add(testTPQ*2, midi.NoteOn(0, 64, 80))
	tr.Add(testTPQ, midi.NoteOff(0, 64))
	tr.Close(testTPQ)

	_, notes := collectNotes(tr, testTPQ)
	if len(notes) != 2 {
		t.Fatalf("got %d notes, want 2", len(notes))
	}
	if notes[0].Pitch != 60 || notes[0].Duration != 4 {
		t.Errorf("hanging note = %+v, want pitch 60 lasting 4 beats", notes[0])
	}
	if notes[1].Pitch != 64 || notes[1].Start != 2 || notes[1].Duration != 1 {
		t.Errorf("closed note = %+v, want pitch 64 at beat 2 for 1 beat", notes[1])
	}
}

func TestInferRole(t *testing.T) {
	mid := []music.Event{{Pitch: 60, Start: 0, Duration: 1}, {Pitch: 67, Start: 1, Duration: 1}}
	tests := []struct {
		name  string
		track string
		notes []music.Event
		want  music.Role
	}{
		{"named bass", "Sub Bass", mid, music.Bass},
		{"named strings", "Strings", mid, music.Pad},
		{"named arp", "ARP 1", mid, music.Arp},
		{"low register", "", []music.Event{{Pitch: 36, Start: 0, Duration: 1}, {Pitch: 40, Start: 1, Duration: 1}}, music.Bass},
		{"dense", "", []music.Event{
			{Pitch: 72, Start: 0, Duration: 0.25}, {Pitch: 76, Start: 0.25, Duration: 0.25},
			{Pitch: 79, Start: 0.5, Duration: 0.25}, {Pitch: 84, Start: 0.75, Duration: 0.25},
		}, music.Arp},
		{"sparse narrow", "", []music.Event{{Pitch: 60, Start: 0, Duration: 8}, {Pitch: 64, Start: 8, Duration: 8}}, music.Pad},
		{"fallback", "", mid, music.Melody},
	}
	for _, tt := range tests {
		if got := inferRole(tt.track, tt.notes); got != tt.want {
			t.Errorf("%s: inferRole = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestLoopLengthWithoutRepeat(t *testing.T) {
	a := NewAnalyzer()
	var notes []music.Event
	for i := 0; i < 12; i++ {
		notes = append(notes, music.Event{Pitch: 60 + i, Start: float64(i), Duration: 1})
	}
	if got := a.loopLength(notes, 3); got != 2 {
		t.Errorf("loopLength over 3 unique bars = %d, want 2", got)
	}
}

func TestDetectKey(t *testing.T) {
	tests := []struct {
		name  string
		notes []int
		tonic int
		minor bool
	}{
		{"A minor", []int{57, 57, 60, 64, 57, 62, 64, 57}, 9, true},
		{"C major", []int{60, 60, 64, 67, 60, 65, 67, 60}, 0, false},
	}
	for _, tt := range tests {
		var evs []music.Event
		for i, p := range tt.notes {
			evs = append(evs, music.Event{Pitch: p, Start: float64(i), Duration: 1})
		}
		tonic, minor := DetectKey(evs)
		if tonic != tt.tonic || minor != tt.minor {
			t.Errorf("%s: DetectKey = %d/%v, want %d/%v", tt.name, tonic, minor, tt.tonic, tt.minor)
		}
	}
}
