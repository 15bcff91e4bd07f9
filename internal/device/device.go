// Package device provides the audio sinks the engine writes blocks to.
package device

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/satindergrewal/infinitechno/internal/audio"
)

// Device accepts fixed-size blocks. Write blocks until the device can take
// the block; that wait is what paces the engine.
type Device interface {
	Write(ctx context.Context, b audio.Block) error
	Close() error
}

// Open returns the device named by kind: "speaker" or "null".
func Open(kind string, sampleRate, blockSize, queue, underrunLimit int) (Device, error) {
	switch kind {
	case "speaker":
		return OpenSpeaker(sampleRate, blockSize, queue, underrunLimit)
	case "null":
		return NewNull(time.Duration(blockSize) * time.Second / time.Duration(sampleRate)), nil
	default:
		return nil, errors.Errorf("unknown device %q", kind)
	}
}
