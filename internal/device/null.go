package device

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/satindergrewal/infinitechno/internal/audio"
	apperrors "github.com/satindergrewal/infinitechno/internal/errors"
)

// Null discards blocks, paced by a ticker at the block duration so the
// engine runs in real time on hosts without audio hardware. A zero period
// disables pacing.
type Null struct {
	ticker  *time.Ticker
	written atomic.Int64

	closed    chan struct{}
	closeOnce sync.Once
}

// NewNull returns a null device that accepts one block per period.
func NewNull(period time.Duration) *Null {
	n := &Null{closed: make(chan struct{})}
	if period > 0 {
		n.ticker = time.NewTicker(period)
	}
	return n
}

// Write waits for the next tick, then drops b.
func (n *Null) Write(ctx context.Context, b audio.Block) error {
	select {
	case <-n.closed:
		return &apperrors.DeviceError{Op: "write", Err: apperrors.ErrDeviceClosed}
	default:
	}
	if n.ticker != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-n.closed:
			return &apperrors.DeviceError{Op: "write", Err: apperrors.ErrDeviceClosed}
		case <-n.ticker.C:
		}
	}
	n.written.Add(1)
	return nil
}

// Written returns the number of blocks accepted.
func (n *Null) Written() int64 {
	return n.written.Load()
}

func (n *Null) Close() error {
	n.closeOnce.Do(func() {
		close(n.closed)
		if n.ticker != nil {
			n.ticker.Stop()
		}
	})
	return nil
}
