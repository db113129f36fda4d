package audio

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-translate/internal/protocol"
	"github.com/nats-io/nats.go"
)

// BusDevice captures PCM frames published on audio.frame.<source> by a
// remote microphone.
type BusDevice struct {
	conn    *nats.Conn
	subject string
	poll    time.Duration
}

func NewBusDevice(conn *nats.Conn, source string) *BusDevice {
	return &BusDevice{
		conn:    conn,
		subject: protocol.SubjectAudioFramePrefix + "." + source,
		poll:    100 * time.Millisecond,
	}
}

func (d *BusDevice) Open(_ context.Context, format Format, framesPerBuffer int) (Stream, error) {
	if d.conn == nil {
		return nil, fmt.Errorf("bus device has no connection")
	}
	ch := make(chan *nats.Msg, 256)
	sub, err := d.conn.ChanSubscribe(d.subject, ch)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", d.subject, err)
	}
	return &busStream{sub: sub, ch: ch, format: format, poll: d.poll}, nil
}

type busStream struct {
	sub     *nats.Subscription
	ch      chan *nats.Msg
	format  Format
	poll    time.Duration
	pending []int16
}

// Read returns whatever samples are buffered, waiting up to one poll
// interval for the next frame. A quiet bus yields (0, nil).
func (s *busStream) Read(buf []int16) (int, error) {
	if len(s.pending) == 0 {
		timer := time.NewTimer(s.poll)
		defer timer.Stop()
		select {
		case msg := <-s.ch:
			if err := s.accept(msg.Data); err != nil {
				return 0, err
			}
		case <-timer.C:
			return 0, nil
		}
	}
	n := copy(buf, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *busStream) accept(data []byte) error {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return fmt.Errorf("decode audio frame: %w", err)
	}
	if frame.SampleRate != s.format.SampleRate || frame.Channels != s.format.Channels {
		return fmt.Errorf("audio frame format %d Hz/%d ch does not match %d Hz/%d ch",
			frame.SampleRate, frame.Channels, s.format.SampleRate, s.format.Channels)
	}
	if len(frame.PCM)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	for i := 0; i+1 < len(frame.PCM); i += 2 {
		s.pending = append(s.pending, int16(binary.LittleEndian.Uint16(frame.PCM[i:])))
	}
	return nil
}

func (s *busStream) Close() error {
	return s.sub.Unsubscribe()
}
