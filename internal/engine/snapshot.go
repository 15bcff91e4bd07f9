package engine

import (
	"github.com/satindergrewal/infinitechno/internal/effects"
	"github.com/satindergrewal/infinitechno/internal/music"
	"github.com/satindergrewal/infinitechno/internal/recorder"
	"github.com/satindergrewal/infinitechno/internal/section"
)

// PatternStatus describes one playing role.
type PatternStatus struct {
	Role      string  `json:"role"`
	Fragment  string  `json:"fragment"`
	Source    string  `json:"source"`
	Bars      int     `json:"bars"`
	Hold      int     `json:"hold"`
	Remaining int     `json:"remaining"`
	Gain      float64 `json:"gain"`
	Resting   bool    `json:"resting,omitempty"` // sits out the current bar
}

// Snapshot is a read-only copy of the engine state, refreshed every tick.
type Snapshot struct {
	Tick        uint64          `json:"tick"`
	Bar         int             `json:"bar"`
	Beat        int             `json:"beat"` // 1-based beat within the bar
	Elapsed     float64         `json:"elapsed_seconds"`
	BPM         float64         `json:"bpm"`
	Key         string          `json:"key"`
	Seed        uint64          `json:"seed"`
	Section     section.Status  `json:"section"`
	Patterns    []PatternStatus `json:"patterns"`
	Effects     effects.State   `json:"effects"`
	Preset      string          `json:"preset"`
	Fading      int             `json:"fading"`
	Recording   recorder.Status `json:"recording"`
	VizMode     string          `json:"viz_mode"`
	LayerErrors uint64          `json:"layer_errors"`
}

// Snapshot returns the state as of the last completed tick.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap
}

func (e *Engine) updateSnapshot() {
	barLen := e.synth.BarSamples()
	bar := e.position / barLen
	s := Snapshot{
		Tick:        e.tick,
		Bar:         bar,
		Beat:        (e.position%barLen)*music.BeatsPerBar/barLen + 1,
		Elapsed:     float64(e.position) / float64(e.opts.SampleRate),
		BPM:         e.opts.BPM,
		Key:         e.opts.KeyName(),
		Seed:        e.opts.Seed,
		Section:     e.machine.Status(bar),
		Effects:     e.mixer.State(),
		Preset:      e.mixer.Preset(),
		Fading:      len(e.fading),
		Recording:   e.rec.Status(),
		VizMode:     e.vizMode.String(),
		LayerErrors: e.layerErrors,
	}
	for _, ap := range e.bank.Patterns() {
		s.Patterns = append(s.Patterns, PatternStatus{
			Role:      ap.Role.String(),
			Fragment:  ap.Fragment.ID,
			Source:    ap.Fragment.Source,
			Bars:      ap.Fragment.Bars,
			Hold:      ap.Hold,
			Remaining: ap.Hold - (bar - ap.StartBar),
			Gain:      e.gains[ap.Role].At(e.position),
			Resting:   !e.synth.Plays(ap.Role, ap.Fragment.ID, ap.PatternBar(bar)),
		})
	}

	e.mu.Lock()
	e.snap = s
	e.mu.Unlock()
}
