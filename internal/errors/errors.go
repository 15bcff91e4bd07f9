package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for expected failure modes
var (
	ErrNoFragments    = errors.New("no fragments for role")
	ErrRoleInactive   = errors.New("role inactive in section")
	ErrUnderrun       = errors.New("audio device underrun")
	ErrDeviceClosed   = errors.New("audio device closed")
	ErrNotRecording   = errors.New("no active recording")
	ErrEmptyRecording = errors.New("recording has no audio")
)

// ParseError marks a reference file that could not be turned into fragments.
// The analyzer skips the file and keeps going.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// SelectionError is returned when no fragment can be chosen for a role.
type SelectionError struct {
	Role string
	Err  error
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("select %s: %v", e.Role, e.Err)
}

func (e *SelectionError) Unwrap() error {
	return e.Err
}

// DeviceError represents a failure of the audio output device. It is fatal
// for streaming.
type DeviceError struct {
	Op  string // "open", "write", "close"
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// RecordingError aborts a recording session. Streaming continues.
type RecordingError struct {
	Path string
	Err  error
}

func (e *RecordingError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("recording: %v", e.Err)
	}
	return fmt.Sprintf("recording %s: %v", e.Path, e.Err)
}

func (e *RecordingError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err should stop the streaming engine.
func IsFatal(err error) bool {
	var de *DeviceError
	return errors.As(err, &de)
}
