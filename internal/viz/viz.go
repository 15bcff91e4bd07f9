// Package viz turns mixed blocks into compact spectrum summaries for the
// terminal and HTTP surfaces.
package viz

import (
	"math"
	"sync/atomic"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
	"github.com/pkg/errors"

	"github.com/satindergrewal/infinitechno/internal/audio"
)

// Mode selects the level of detail.
type Mode int

const (
	Full Mode = iota
	Reduced
)

func (m Mode) String() string {
	if m == Reduced {
		return "reduced"
	}
	return "full"
}

// Bands returns the number of spectrum bands drawn in this mode.
func (m Mode) Bands() int {
	if m == Reduced {
		return 8
	}
	return 32
}

// Toggle returns the other mode.
func (m Mode) Toggle() Mode {
	if m == Reduced {
		return Full
	}
	return Reduced
}

// ParseMode accepts "full" or "reduced".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "full":
		return Full, nil
	case "reduced":
		return Reduced, nil
	}
	return Full, errors.Errorf("unknown viz mode %q", s)
}

const (
	maxFrame = 4096
	minFreq  = 30.0
	maxFreq  = 16000.0
	floorDB  = -60.0

	bassTop = 250.0
	midTop  = 4000.0
)

// Summary describes one block. Spectrum values and the band energies are in
// [0, 1].
type Summary struct {
	Tick     uint64    `json:"tick"`
	Mode     string    `json:"mode"`
	RMS      float64   `json:"rms"`
	Peak     float64   `json:"peak"`
	Bass     float64   `json:"bass"`
	Mid      float64   `json:"mid"`
	High     float64   `json:"high"`
	Spectrum []float64 `json:"spectrum"`
}

// Analyze computes a summary of b with the given number of log-spaced bands.
func Analyze(b audio.Block, sampleRate, bands int) Summary {
	s := Summary{
		RMS:      b.RMS(),
		Peak:     b.Peak(),
		Spectrum: make([]float64, bands),
	}
	if len(b) == 0 || bands <= 0 {
		return s
	}
	if len(b) > maxFrame {
		b = b[len(b)-maxFrame:]
	}

	mono := make([]float64, len(b))
	for i, v := range b {
		mono[i] = (v[0] + v[1]) / 2
	}
	window.Apply(mono, window.Hann)
	size := nextPow2(len(mono))
	frame := make([]float64, size)
	copy(frame, mono)

	bins := fft.FFTReal(frame)
	mag := make([]float64, size/2+1)
	scale := 4 / float64(len(mono)) // Hann coherent gain is 0.5
	for i := range mag {
		mag[i] = math.Hypot(real(bins[i]), imag(bins[i])) * scale
	}

	hz := float64(sampleRate) / float64(size)
	top := math.Min(maxFreq, float64(sampleRate)/2)
	var bass, mid, high []float64
	for k := 0; k < bands; k++ {
		lo := minFreq * math.Pow(top/minFreq, float64(k)/float64(bands))
		hi := minFreq * math.Pow(top/minFreq, float64(k+1)/float64(bands))
		v := level(bandMag(mag, lo, hi, hz))
		s.Spectrum[k] = v
		switch center := math.Sqrt(lo * hi); {
		case center < bassTop:
			bass = append(bass, v)
		case center < midTop:
			mid = append(mid, v)
		default:
			high = append(high, v)
		}
	}
	s.Bass, s.Mid, s.High = mean(bass), mean(mid), mean(high)
	return s
}

// bandMag returns the largest bin magnitude in [lo, hi), or the nearest bin
// when the band is narrower than one bin.
func bandMag(mag []float64, lo, hi, hz float64) float64 {
	i0 := int(math.Ceil(lo / hz))
	i1 := int(math.Ceil(hi / hz))
	if i1 <= i0 {
		i := min(int(math.Round((lo+hi)/2/hz)), len(mag)-1)
		return mag[i]
	}
	peak := 0.0
	for i := i0; i < i1 && i < len(mag); i++ {
		peak = math.Max(peak, mag[i])
	}
	return peak
}

// level maps a linear magnitude onto [0, 1] over a 60 dB range.
func level(m float64) float64 {
	if m <= 0 {
		return 0
	}
	db := 20 * math.Log10(m)
	return math.Min(math.Max((db-floorDB)/-floorDB, 0), 1)
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Feed holds the latest summary. The engine publishes, any number of
// readers poll.
type Feed struct {
	latest atomic.Pointer[Summary]
}

// Publish replaces the latest summary.
func (f *Feed) Publish(s Summary) {
	f.latest.Store(&s)
}

// Latest returns the most recent summary and whether one was published.
func (f *Feed) Latest() (Summary, bool) {
	p := f.latest.Load()
	if p == nil {
		return Summary{}, false
	}
	return *p, true
}
