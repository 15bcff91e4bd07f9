// Package engine runs the streaming loop: it advances the arrangement at bar
// boundaries, renders and mixes each block, and feeds the device, the
// recorder, the visualization feed and the broadcaster.
package engine

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/satindergrewal/infinitechno/internal/audio"
	"github.com/satindergrewal/infinitechno/internal/config"
	"github.com/satindergrewal/infinitechno/internal/device"
	apperrors "github.com/satindergrewal/infinitechno/internal/errors"
	"github.com/satindergrewal/infinitechno/internal/mixer"
	"github.com/satindergrewal/infinitechno/internal/music"
	"github.com/satindergrewal/infinitechno/internal/recorder"
	"github.com/satindergrewal/infinitechno/internal/section"
	"github.com/satindergrewal/infinitechno/internal/selector"
	"github.com/satindergrewal/infinitechno/internal/synth"
	"github.com/satindergrewal/infinitechno/internal/viz"
)

// Options fixes the musical frame and structure for one run.
type Options struct {
	SampleRate int
	BlockSize  int
	BPM        float64
	Key        int // tonic pitch class
	Minor      bool
	Seed       uint64
	RampBeats  float64 // gain glide after a section change
	Section    section.Config
	Holds      selector.HoldConfig
	Mixer      mixer.Config
	Presence   map[music.Role]float64 // chance a role plays a bar; nil plays every bar
	VizMode    viz.Mode
}

// OptionsFromConfig derives engine options. A zero seed is replaced by a
// time-based one.
func OptionsFromConfig(cfg config.Config) (Options, error) {
	key, minor, err := music.ParseKey(cfg.Key)
	if err != nil {
		return Options{}, errors.Wrap(err, "key")
	}
	mode, err := viz.ParseMode(cfg.VizMode)
	if err != nil {
		return Options{}, err
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	sc := section.DefaultConfig()
	sc.IntroBars = cfg.IntroBars
	sc.MinBars = cfg.SectionMinBars
	sc.MaxBars = cfg.SectionMaxBars
	sc.ChorusWithin = cfg.ChorusWithin

	mc := mixer.DefaultConfig()
	mc.Ceiling = cfg.Ceiling
	mc.Knee = cfg.Knee
	mc.MasterGain = cfg.MasterGain

	return Options{
		SampleRate: cfg.SampleRate,
		BlockSize:  cfg.BlockSize,
		BPM:        cfg.BPM,
		Key:        key,
		Minor:      minor,
		Seed:       seed,
		RampBeats:  cfg.RampBeats,
		Section:    sc,
		Holds: selector.HoldConfig{
			BassMin: cfg.BassHoldMin, BassMax: cfg.BassHoldMax,
			Min: cfg.HoldMin, Max: cfg.HoldMax,
		},
		Mixer:    mc,
		Presence: synth.DefaultPresence(),
		VizMode:  mode,
	}, nil
}

// KeyName formats the global key, e.g. "A minor".
func (o Options) KeyName() string {
	q := "major"
	if o.Minor {
		q = "minor"
	}
	return fmt.Sprintf("%s %s", music.NoteNames[music.PitchClass(o.Key)], q)
}

// fade keeps rendering a pattern that left the mix while its gain glides
// to zero.
type fade struct {
	pattern selector.ActivePattern
	ramp    audio.Ramp
	buf     audio.Block
}

const (
	broadcastBuffer = 16
	swapFadeBeats   = 1 // fade of a replaced pattern's tail
)

// Engine is owned by the goroutine that calls Tick or Run. Other goroutines
// use Snapshot, ToggleRecording, ToggleVizMode and Frames.
type Engine struct {
	opts Options

	synth   *synth.Synth
	sel     *selector.Selector
	machine *section.Machine
	bank    *selector.Bank
	mixer   *mixer.Mixer
	dev     device.Device
	rec     *recorder.Recorder
	feed    *viz.Feed
	frames  chan []int16

	gains    map[music.Role]audio.Ramp
	drums    audio.Ramp
	fading   []*fade
	position int // absolute sample index of the next block
	lastBar  int
	tick     uint64
	vizMode  viz.Mode

	layerErrors uint64
	failedAt    map[string]int // bar of the last logged failure per layer

	// toggle presses since the last tick; an even count cancels out
	recordReq atomic.Uint32
	vizReq    atomic.Uint32

	mu   sync.RWMutex
	snap Snapshot
}

// New builds an engine over the analyzed pool. The arrangement for bar 0
// is chosen before New returns.
func New(opts Options, pool music.Pool, dev device.Device, rec *recorder.Recorder, feed *viz.Feed) *Engine {
	root := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	split := func() *rand.Rand {
		return rand.New(rand.NewPCG(root.Uint64(), root.Uint64()))
	}

	sel := selector.New(pool, opts.Key, opts.Minor, split())
	syn := synth.New(opts.SampleRate, opts.BPM, opts.Seed)
	if opts.Presence != nil {
		syn.SetPresence(opts.Presence)
	}
	e := &Engine{
		opts:     opts,
		synth:    syn,
		sel:      sel,
		machine:  section.NewMachine(opts.Section, split()),
		bank:     selector.NewBank(sel, opts.Holds, split()),
		mixer:    mixer.New(opts.Mixer, opts.SampleRate, opts.BPM, split()),
		dev:      dev,
		rec:      rec,
		feed:     feed,
		frames:   make(chan []int16, broadcastBuffer),
		gains:    map[music.Role]audio.Ramp{},
		lastBar:  -1,
		vizMode:  opts.VizMode,
		failedAt: map[string]int{},
	}
	for _, r := range music.Roles {
		e.gains[r] = audio.Hold(0)
	}
	e.drums = audio.Hold(0)

	log.Printf("Engine: %d Hz, block %d, %.1f BPM, %s, seed %d, %d fragments",
		opts.SampleRate, opts.BlockSize, opts.BPM, opts.KeyName(), opts.Seed, sel.Pool().Total())
	e.onBar(0)
	e.updateSnapshot()
	return e
}

// Frames delivers interleaved int16 copies of every block. Frames are dropped
// when nobody reads. The channel is closed when Run returns.
func (e *Engine) Frames() <-chan []int16 {
	return e.frames
}

// ToggleRecording asks the engine to start or stop recording at the next
// tick boundary. Two toggles before the same tick cancel out.
func (e *Engine) ToggleRecording() {
	e.recordReq.Add(1)
}

// ToggleVizMode asks the engine to switch visualization detail at the next
// tick boundary.
func (e *Engine) ToggleVizMode() {
	e.vizReq.Add(1)
}

// Run ticks until ctx is cancelled or the device fails, then stops any
// recording, waits for pending WAV writes and closes the device. Device
// failures are returned; cancellation is not an error.
func (e *Engine) Run(ctx context.Context) error {
	defer e.shutdown()
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := e.Tick(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			log.Printf("Engine stopped: %v", err)
			return err
		}
	}
}

func (e *Engine) shutdown() {
	if e.rec.Active() {
		if _, err := e.rec.Stop(); err != nil {
			log.Printf("Recording not saved: %v", err)
		}
	}
	e.rec.Wait()
	if err := e.dev.Close(); err != nil {
		log.Printf("Device close: %v", err)
	}
	close(e.frames)
	e.updateSnapshot()
	log.Printf("Engine shut down after %d blocks", e.tick)
}

// Tick renders, mixes and delivers one block. Only device errors and
// cancellation are returned.
func (e *Engine) Tick(ctx context.Context) error {
	e.observeControls()

	n := e.opts.BlockSize
	barLen := e.synth.BarSamples()
	drums := audio.NewBlock(n)
	roles := make(map[music.Role]audio.Block, len(music.Roles))
	for _, r := range music.Roles {
		roles[r] = audio.NewBlock(n)
	}
	for _, f := range e.fading {
		f.buf = audio.NewBlock(n)
	}

	for done := 0; done < n; {
		bar, off := e.position/barLen, e.position%barLen
		if off == 0 {
			e.onBar(bar)
		}
		span := min(n-done, barLen-off)
		e.renderSpan(bar, off, done, span, drums, roles)
		e.position += span
		done += span
	}

	layers := make([]mixer.Layer, 0, len(music.Roles)+1+len(e.fading))
	layers = append(layers, mixer.Layer{Name: "drums", Samples: drums, Gain: 1})
	for _, r := range music.Roles {
		layers = append(layers, mixer.Layer{Name: r.String(), Samples: roles[r], Gain: 1})
	}
	live := e.fading[:0]
	for _, f := range e.fading {
		layers = append(layers, mixer.Layer{Name: "fade:" + f.pattern.Role.String(), Samples: f.buf, Gain: 1})
		if !f.ramp.Done(e.position) {
			live = append(live, f)
		}
	}
	clear(e.fading[len(live):])
	e.fading = live

	out := e.mix(layers, n)
	e.tick++

	if err := e.dev.Write(ctx, out); err != nil {
		if apperrors.IsFatal(err) {
			return err
		}
		return errors.Wrap(err, "device write")
	}
	if e.rec.Active() {
		e.rec.Append(out)
	}

	sum := viz.Analyze(out, e.opts.SampleRate, e.vizMode.Bands())
	sum.Tick = e.tick
	sum.Mode = e.vizMode.String()
	e.feed.Publish(sum)

	select {
	case e.frames <- out.ToInt16():
	default:
	}

	e.updateSnapshot()
	return nil
}

func (e *Engine) observeControls() {
	if e.recordReq.Swap(0)%2 == 1 {
		if e.rec.Active() {
			if _, err := e.rec.Stop(); err != nil {
				log.Printf("Recording not saved: %v", err)
			}
		} else {
			e.rec.Start()
		}
	}
	if e.vizReq.Swap(0)%2 == 1 {
		e.vizMode = e.vizMode.Toggle()
		log.Printf("Visualization mode: %s", e.vizMode)
	}
}

// onBar runs the bar-boundary bookkeeping exactly once per bar.
func (e *Engine) onBar(bar int) {
	if bar <= e.lastBar {
		return
	}
	first := e.lastBar < 0
	e.lastBar = bar

	changed := e.machine.Advance(bar) || first
	profile := e.machine.Profile()

	prev := map[music.Role]selector.ActivePattern{}
	for _, ap := range e.bank.Patterns() {
		prev[ap.Role] = ap
	}
	ch := e.bank.OnBar(bar, profile, changed)

	rampLen := int(e.opts.RampBeats * float64(e.synth.BarSamples()) / music.BeatsPerBar)
	beat := e.synth.BarSamples() / music.BeatsPerBar

	for _, ap := range ch.Stopped {
		e.fading = append(e.fading, &fade{
			pattern: ap,
			ramp:    e.gains[ap.Role].Retarget(0, e.position, rampLen),
			buf:     audio.NewBlock(e.opts.BlockSize),
		})
		e.gains[ap.Role] = audio.Hold(0)
	}
	for _, ap := range ch.Started {
		old, ok := prev[ap.Role]
		if !ok || first {
			continue
		}
		g := e.gains[ap.Role]
		e.fading = append(e.fading, &fade{
			pattern: old,
			ramp:    audio.Ramp{From: g.At(e.position), To: 0, Start: e.position, Length: swapFadeBeats * beat},
			buf:     audio.NewBlock(e.opts.BlockSize),
		})
		e.gains[ap.Role] = audio.Ramp{From: 0, To: g.To, Start: e.position, Length: swapFadeBeats * beat}
	}

	if changed {
		for _, r := range music.Roles {
			if _, ok := e.bank.Active(r); !ok {
				continue
			}
			e.gains[r] = e.gains[r].Retarget(profile.Gain(r), e.position, rampLen)
		}
		e.drums = e.drums.Retarget(profile.Drums, e.position, rampLen)
		e.mixer.Reroll(profile.Presets)
		log.Printf("Bar %d: %s, effects around %q", bar, profile.Kind, e.mixer.Preset())
	}
}

// renderSpan renders span samples of bar starting at offset into the layer
// buffers at index at, applying the gain ramps.
func (e *Engine) renderSpan(bar, offset, at, span int, drums audio.Block, roles map[music.Role]audio.Block) {
	pos := e.position

	d := drums[at : at+span]
	e.safely("drums", bar, d, func() error {
		return e.synth.RenderDrums(bar, offset, 1, d)
	})
	applyRamp(d, e.drums, pos)

	for _, r := range music.Roles {
		ap, ok := e.bank.Active(r)
		if !ok {
			continue
		}
		buf := roles[r][at : at+span]
		e.safely(r.String(), bar, buf, func() error {
			return e.synth.Render(r, ap, ap.PatternBar(bar), offset, buf)
		})
		applyRamp(buf, e.gains[r], pos)
	}

	for _, f := range e.fading {
		if f.ramp.Done(pos) {
			continue
		}
		buf := f.buf[at : at+span]
		ap := f.pattern
		e.safely("fade:"+ap.Role.String(), bar, buf, func() error {
			return e.synth.Render(ap.Role, ap, ap.PatternBar(bar), offset, buf)
		})
		applyRamp(buf, f.ramp, pos)
	}
}

func applyRamp(b audio.Block, r audio.Ramp, pos int) {
	for i := range b {
		g := r.At(pos + i)
		b[i][0] *= g
		b[i][1] *= g
	}
}

// safely runs a layer render. Errors and panics leave the layer silent for
// this span and are logged at most once per bar and layer.
func (e *Engine) safely(layer string, bar int, out audio.Block, render func() error) {
	defer func() {
		if r := recover(); r != nil {
			clear(out)
			e.layerFailed(layer, bar, errors.Errorf("panic: %v", r))
		}
	}()
	if err := render(); err != nil {
		clear(out)
		e.layerFailed(layer, bar, err)
	}
}

func (e *Engine) layerFailed(layer string, bar int, err error) {
	e.layerErrors++
	if last, ok := e.failedAt[layer]; ok && last == bar {
		return
	}
	e.failedAt[layer] = bar
	log.Printf("Layer %s silenced at bar %d: %v", layer, bar, err)
}

// mix returns silence when mixing fails.
func (e *Engine) mix(layers []mixer.Layer, n int) (out audio.Block) {
	defer func() {
		if r := recover(); r != nil {
			e.layerFailed("mix", e.lastBar, errors.Errorf("panic: %v", r))
			out = audio.NewBlock(n)
		}
	}()
	e.mixer.Drift()
	out, err := e.mixer.Mix(layers)
	if err != nil {
		e.layerFailed("mix", e.lastBar, err)
		return audio.NewBlock(n)
	}
	return out
}
