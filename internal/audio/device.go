package audio

import (
	"context"
	"time"
)

// Device opens capture streams. Implementations exist for PortAudio, the
// NATS bus, and synthetic silence.
type Device interface {
	Open(ctx context.Context, format Format, framesPerBuffer int) (Stream, error)
}

// Stream is an open capture stream.
type Stream interface {
	// Read fills buf with the next samples in capture order and returns how
	// many it wrote. It may return ErrInputOverflow together with valid samples.
	Read(buf []int16) (int, error)
	Close() error
}

// SilenceDevice produces zero samples. With Realtime set it paces reads at
// the rate a real device would deliver them.
type SilenceDevice struct {
	Realtime bool
}

func (d SilenceDevice) Open(_ context.Context, format Format, _ int) (Stream, error) {
	return &silenceStream{format: format, realtime: d.Realtime}, nil
}

type silenceStream struct {
	format   Format
	realtime bool
}

func (s *silenceStream) Read(buf []int16) (int, error) {
	if s.realtime {
		frames := len(buf) / s.format.Channels
		time.Sleep(time.Duration(frames) * time.Second / time.Duration(s.format.SampleRate))
	}
	clear(buf)
	return len(buf), nil
}

func (s *silenceStream) Close() error { return nil }
