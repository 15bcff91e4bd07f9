package effects

import "math"

// Chain runs distortion, delay and reverb over stereo samples. It keeps the
// delay and reverb memory between blocks, so one Chain serves one stream.
type Chain struct {
	samplesPerBeat float64
	delay          [2]delayLine
	reverb         [2]reverbTank
}

// NewChain sizes the delay lines for the longest delay the bounds allow.
func NewChain(sampleRate int, bpm float64, b Bounds) *Chain {
	c := &Chain{samplesPerBeat: float64(sampleRate) * 60 / bpm}
	maxDelay := int(math.Ceil(b.DelayTime.Max*c.samplesPerBeat*1.05)) + 1
	for ch := range c.delay {
		c.delay[ch].buf = make([]float64, maxDelay)
		c.reverb[ch].init(float64(sampleRate), ch)
	}
	return c
}

// Process applies s to buf in place.
func (c *Chain) Process(s State, buf [][2]float64) {
	n := s.Delay.Time * c.samplesPerBeat
	taps := [2]int{int(n), int(n * 1.05)} // right channel slightly late for width
	norm := math.Tanh(s.Distortion.Drive)
	g := 0.7 + 0.28*s.Reverb.Size

	for i := range buf {
		for ch := 0; ch < 2; ch++ {
			x := buf[i][ch]
			if s.Distortion.Mix > 0 && norm > 0 {
				x = (1-s.Distortion.Mix)*x + s.Distortion.Mix*math.Tanh(s.Distortion.Drive*x)/norm
			}
			x = c.delay[ch].process(x, taps[ch], s.Delay.Feedback, s.Delay.Mix)
			x = c.reverb[ch].process(x, g, s.Reverb.Damping, s.Reverb.Mix)
			buf[i][ch] = x
		}
	}
}

type delayLine struct {
	buf []float64
	i   int
}

func (d *delayLine) process(x float64, tap int, feedback, mix float64) float64 {
	l := len(d.buf)
	tap = min(max(tap, 1), l-1)
	y := d.buf[(d.i-tap+l)%l]
	d.buf[d.i] = x + feedback*y
	d.i = (d.i + 1) % l
	return x + mix*y
}

// Comb lengths in seconds; the right channel is offset to decorrelate.
var combTimes = []float64{0.0297, 0.0371, 0.0411, 0.0437}

const stereoSpread = 23

type comb struct {
	buf  []float64
	i    int
	filt float64
}

type reverbTank struct {
	combs []comb
	dc    DCFilter
}

func (r *reverbTank) init(sampleRate float64, ch int) {
	r.combs = make([]comb, len(combTimes))
	for i, t := range combTimes {
		r.combs[i].buf = make([]float64, int(t*sampleRate)+ch*stereoSpread+1)
	}
	r.dc.Init(sampleRate)
}

func (r *reverbTank) process(x, g, damping, mix float64) float64 {
	wet := 0.0
	for i := range r.combs {
		c := &r.combs[i]
		y := c.buf[c.i]
		c.filt = y*(1-damping) + c.filt*damping
		c.buf[c.i] = x + g*c.filt
		c.i = (c.i + 1) % len(c.buf)
		wet += y
	}
	wet = r.dc.Filter(wet / float64(len(r.combs)))
	return (1-mix)*x + mix*wet
}

// DCFilter is a one-pole high-pass at 10 Hz.
type DCFilter struct {
	a, x, y float64
}

func (f *DCFilter) Init(sampleRate float64) {
	rc := 1 / (2 * math.Pi * 10)
	f.a = rc / (rc + 1/sampleRate)
}

func (f *DCFilter) Filter(x float64) float64 {
	f.y = f.a * (f.y + x - f.x)
	f.x = x
	return f.y
}
