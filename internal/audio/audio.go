// Package audio defines the stereo block format shared by the engine, the
// output devices and the broadcasters.
package audio

import (
	"math"
	"time"
)

// Stream defaults. The engine block is one 20ms frame unless configured
// otherwise.
const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960 // samples per channel per 20ms frame
)

// Block is a run of stereo samples in [-1, 1].
type Block [][2]float64

// NewBlock returns a silent block of n frames.
func NewBlock(n int) Block {
	return make(Block, n)
}

// Clone returns an independent copy.
func (b Block) Clone() Block {
	c := make(Block, len(b))
	copy(c, b)
	return c
}

// Duration returns the playback length at sampleRate.
func (b Block) Duration(sampleRate int) time.Duration {
	return time.Duration(len(b)) * time.Second / time.Duration(sampleRate)
}

// Peak returns the largest absolute sample across both channels.
func (b Block) Peak() float64 {
	p := 0.0
	for _, s := range b {
		p = math.Max(p, math.Max(math.Abs(s[0]), math.Abs(s[1])))
	}
	return p
}

// RMS returns the root mean square over both channels.
func (b Block) RMS() float64 {
	if len(b) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range b {
		sum += s[0]*s[0] + s[1]*s[1]
	}
	return math.Sqrt(sum / float64(2*len(b)))
}

// ToInt16 interleaves the block as 16-bit PCM, clipping to the int16 range.
func (b Block) ToInt16() []int16 {
	out := make([]int16, len(b)*Channels)
	for i, s := range b {
		out[i*2] = toInt16(s[0])
		out[i*2+1] = toInt16(s[1])
	}
	return out
}

func toInt16(x float64) int16 {
	v := x * 32767
	if v > 32767 {
		v = 32767
	} else if v < -32768 {
		v = -32768
	}
	return int16(v)
}
