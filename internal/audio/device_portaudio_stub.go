//go:build !portaudio

package audio

import (
	"context"
	"errors"
)

// PortAudioSupported reports whether this binary can open a microphone.
const PortAudioSupported = false

// PortAudioDevice is unavailable in builds without the portaudio tag.
type PortAudioDevice struct{}

func NewPortAudioDevice() Device { return PortAudioDevice{} }

func (PortAudioDevice) Open(context.Context, Format, int) (Stream, error) {
	return nil, errors.New("built without portaudio support (rebuild with -tags portaudio)")
}
