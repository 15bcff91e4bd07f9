package device

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"

	"github.com/satindergrewal/infinitechno/internal/audio"
	apperrors "github.com/satindergrewal/infinitechno/internal/errors"
)

// Speaker plays blocks on the system audio device through beep. Blocks are
// queued on a bounded channel drained by the speaker callback.
type Speaker struct {
	queue chan audio.Block
	limit int64

	cur       audio.Block // callback goroutine only
	underruns atomic.Int64
	primed    atomic.Bool

	closed    chan struct{}
	closeOnce sync.Once
	shutdown  func()
}

// OpenSpeaker initialises the speaker and starts playback.
func OpenSpeaker(sampleRate, blockSize, queue, underrunLimit int) (*Speaker, error) {
	if err := speaker.Init(beep.SampleRate(sampleRate), blockSize); err != nil {
		return nil, &apperrors.DeviceError{Op: "open speaker", Err: err}
	}
	s := newSpeaker(queue, underrunLimit)
	s.shutdown = speaker.Close
	speaker.Play(beep.StreamerFunc(s.stream))
	log.Printf("Speaker open: %d Hz, %d-sample blocks, queue %d", sampleRate, blockSize, queue)
	return s, nil
}

func newSpeaker(queue, underrunLimit int) *Speaker {
	return &Speaker{
		queue:  make(chan audio.Block, queue),
		limit:  int64(underrunLimit),
		closed: make(chan struct{}),
	}
}

// stream fills samples from the queue. An empty queue plays silence and,
// once the queue has been full, counts as an underrun.
func (s *Speaker) stream(samples [][2]float64) (int, bool) {
	filled := 0
	for filled < len(samples) {
		if len(s.cur) == 0 {
			select {
			case b := <-s.queue:
				s.cur = b
				continue
			default:
			}
			clear(samples[filled:])
			if s.primed.Load() {
				s.underruns.Add(1)
			}
			return len(samples), true
		}
		n := copy(samples[filled:], s.cur)
		s.cur = s.cur[n:]
		filled += n
	}
	s.underruns.Store(0)
	return len(samples), true
}

// Write queues b, waiting while the queue is full. It fails once more than
// the configured number of consecutive callbacks ran dry.
func (s *Speaker) Write(ctx context.Context, b audio.Block) error {
	if n := s.underruns.Load(); n > s.limit {
		return &apperrors.DeviceError{Op: "write", Err: apperrors.ErrUnderrun}
	}
	select {
	case <-s.closed:
		return &apperrors.DeviceError{Op: "write", Err: apperrors.ErrDeviceClosed}
	case <-ctx.Done():
		return ctx.Err()
	case s.queue <- b:
	}
	if len(s.queue) == cap(s.queue) {
		s.primed.Store(true)
	}
	return nil
}

// Underruns returns the current run of starved callbacks.
func (s *Speaker) Underruns() int64 {
	return s.underruns.Load()
}

// Close stops playback. Further writes fail with ErrDeviceClosed.
func (s *Speaker) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.shutdown != nil {
			s.shutdown()
		}
	})
	return nil
}
