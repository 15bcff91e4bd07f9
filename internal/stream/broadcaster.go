package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

// Broadcaster fans the engine's interleaved int16 blocks out to network
// listeners. A listener that falls behind loses blocks; the engine is never
// held up.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
	closed    bool
	dropped   atomic.Int64
}

// Listener receives engine blocks until it is unsubscribed or the engine
// stops.
type Listener struct {
	C       chan []int16
	done    chan struct{}
	stop    sync.Once
	dropped atomic.Int64
}

// Done is closed when the listener should stop reading.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Dropped returns how many blocks this listener missed.
func (l *Listener) Dropped() int64 {
	return l.dropped.Load()
}

func (l *Listener) end() {
	l.stop.Do(func() { close(l.done) })
}

// listenerBuffer holds about three seconds of 20ms blocks.
const listenerBuffer = 150

// NewBroadcaster creates a broadcaster with no listeners.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		listeners: make(map[*Listener]struct{}),
	}
}

// Subscribe registers a listener. After the broadcast has ended the
// listener comes back already done.
func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{
		C:    make(chan []int16, listenerBuffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		l.end()
		return l
	}
	b.listeners[l] = struct{}{}
	return l
}

// Unsubscribe removes a listener and signals it to stop.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	delete(b.listeners, l)
	b.mu.Unlock()
	l.end()
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Dropped returns how many blocks were skipped across all listeners.
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}

// Run fans blocks from the engine's Frames channel out until ctx is done or
// the channel is closed, then ends every listener.
func (b *Broadcaster) Run(ctx context.Context, frames <-chan []int16) {
	defer b.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		case block, ok := <-frames:
			if !ok {
				return
			}
			b.fanOut(block)
		}
	}
}

func (b *Broadcaster) fanOut(block []int16) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for l := range b.listeners {
		select {
		case l.C <- block:
		default:
			l.dropped.Add(1)
			b.dropped.Add(1)
		}
	}
}

func (b *Broadcaster) shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for l := range b.listeners {
		delete(b.listeners, l)
		l.end()
	}
}

// Reframer regroups interleaved samples into fixed-size frames. Encoders
// like Opus only accept whole frames, while engine blocks can have any
// length.
type Reframer struct {
	size int
	buf  []int16
}

// NewReframer returns a reframer emitting frames of size interleaved samples.
func NewReframer(size int) *Reframer {
	return &Reframer{size: size}
}

// Push appends pcm and returns every complete frame. Leftover samples wait
// for the next call.
func (r *Reframer) Push(pcm []int16) [][]int16 {
	r.buf = append(r.buf, pcm...)
	var frames [][]int16
	for len(r.buf) >= r.size {
		f := make([]int16, r.size)
		copy(f, r.buf[:r.size])
		frames = append(frames, f)
		r.buf = r.buf[r.size:]
	}
	if len(r.buf) == 0 {
		r.buf = nil
	}
	return frames
}
