//go:build portaudio

package audio

import (
	"context"
	"errors"
	"fmt"

	"github.com/gordonklaus/portaudio"
)

const PortAudioSupported = true

// PortAudioDevice captures from the system default input device.
type PortAudioDevice struct{}

func NewPortAudioDevice() Device { return PortAudioDevice{} }

func (PortAudioDevice) Open(_ context.Context, format Format, framesPerBuffer int) (Stream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	buf := make([]int16, framesPerBuffer*format.Channels)
	stream, err := portaudio.OpenDefaultStream(format.Channels, 0, float64(format.SampleRate), framesPerBuffer, buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open default input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("start input stream: %w", err)
	}
	return &portAudioStream{stream: stream, buf: buf}, nil
}

type portAudioStream struct {
	stream *portaudio.Stream
	buf    []int16
}

func (s *portAudioStream) Read(out []int16) (int, error) {
	err := s.stream.Read()
	if err != nil && !errors.Is(err, portaudio.InputOverflowed) {
		return 0, err
	}
	n := copy(out, s.buf)
	if err != nil {
		return n, ErrInputOverflow
	}
	return n, nil
}

func (s *portAudioStream) Close() error {
	var errs []error
	if err := s.stream.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := s.stream.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := portaudio.Terminate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
