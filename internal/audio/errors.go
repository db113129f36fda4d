package audio

import (
	"errors"
	"fmt"
	"time"
)

// ErrEmptyCapture matches any EmptyCaptureError via errors.Is.
var ErrEmptyCapture = errors.New("no audio frames captured")

// ErrInputOverflow is returned by Stream.Read alongside valid samples when
// the device reported an input overflow. Recorders treat it as non-fatal.
var ErrInputOverflow = errors.New("audio input overflowed")

// DeviceError reports an unavailable or failing capture device.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio device %s failed: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// EmptyCaptureError reports a capture that produced no samples.
type EmptyCaptureError struct {
	Duration time.Duration
}

func (e *EmptyCaptureError) Error() string {
	return fmt.Sprintf("%s in %s", ErrEmptyCapture.Error(), e.Duration)
}

func (e *EmptyCaptureError) Is(target error) bool { return target == ErrEmptyCapture }

// StorageError reports a failure writing or reading a clip file.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("clip storage %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("clip storage %s %s failed: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
