package audio

// Smoothstep returns the smoothstep interpolation for t in [0,1].
// Formula: 3t^2 - 2t^3.
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// Ramp glides a gain from From to To over Length samples starting at sample
// Start, following the smoothstep curve.
type Ramp struct {
	From, To float64
	Start    int
	Length   int
}

// Hold returns a ramp that stays at g.
func Hold(g float64) Ramp {
	return Ramp{From: g, To: g}
}

// At returns the gain at absolute sample n.
func (r Ramp) At(n int) float64 {
	if r.Length <= 0 || n >= r.Start+r.Length {
		return r.To
	}
	if n <= r.Start {
		return r.From
	}
	p := Smoothstep(float64(n-r.Start) / float64(r.Length))
	return r.From + (r.To-r.From)*p
}

// Done reports whether the ramp has reached its target by sample n.
func (r Ramp) Done(n int) bool {
	return n >= r.Start+r.Length
}

// Retarget starts a new glide from the gain at sample n.
func (r Ramp) Retarget(to float64, n, length int) Ramp {
	return Ramp{From: r.At(n), To: to, Start: n, Length: length}
}
