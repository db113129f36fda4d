package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Format describes interleaved signed PCM.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// ClipFormat is the only format clips are captured and stored in.
var ClipFormat = Format{SampleRate: 16000, Channels: 1, BitDepth: 16}

// SampleWidthBytes returns the size of one sample in bytes.
func (f Format) SampleWidthBytes() int { return f.BitDepth / 8 }

// Clip is one captured recording persisted as a WAV file. The run that
// created it owns the file.
type Clip struct {
	Path     string
	Format   Format
	Frames   int
	Duration time.Duration
}

func (c Clip) SampleRate() int       { return c.Format.SampleRate }
func (c Clip) Channels() int         { return c.Format.Channels }
func (c Clip) SampleWidthBytes() int { return c.Format.SampleWidthBytes() }

// Remove deletes the backing file. Removing an already missing file is not an error.
func (c Clip) Remove() error {
	if c.Path == "" {
		return nil
	}
	if err := os.Remove(c.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &StorageError{Op: "remove", Path: c.Path, Err: err}
	}
	return nil
}

// WriteClip stores samples as a WAV file in a new temp file under dir
// (the OS temp dir when empty).
func WriteClip(dir string, samples []int16, format Format) (Clip, error) {
	file, err := os.CreateTemp(dir, "loqa_clip_*.wav")
	if err != nil {
		return Clip{}, &StorageError{Op: "create", Err: err}
	}
	path := file.Name()

	if err := encodeWAV(file, samples, format); err != nil {
		file.Close()
		os.Remove(path)
		return Clip{}, &StorageError{Op: "write", Path: path, Err: err}
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return Clip{}, &StorageError{Op: "close", Path: path, Err: err}
	}

	frames := len(samples) / format.Channels
	return Clip{
		Path:     path,
		Format:   format,
		Frames:   frames,
		Duration: time.Duration(frames) * time.Second / time.Duration(format.SampleRate),
	}, nil
}

func encodeWAV(w io.WriteSeeker, samples []int16, format Format) error {
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		Data:           make([]int, len(samples)),
		SourceBitDepth: format.BitDepth,
	}
	for i, s := range samples {
		buffer.Data[i] = int(s)
	}

	enc := wav.NewEncoder(w, format.SampleRate, format.BitDepth, format.Channels, 1)
	if err := enc.Write(buffer); err != nil {
		enc.Close()
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// ReadClip decodes a WAV file into float32 samples normalised to [-1, 1].
func ReadClip(path string) ([]float32, Format, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, Format{}, &StorageError{Op: "open", Path: path, Err: err}
	}
	defer file.Close()

	dec := wav.NewDecoder(file)
	if !dec.IsValidFile() {
		return nil, Format{}, &StorageError{Op: "decode", Path: path, Err: errors.New("invalid wav file")}
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, Format{}, &StorageError{Op: "decode", Path: path, Err: err}
	}
	if buf == nil {
		return nil, Format{}, &StorageError{Op: "decode", Path: path, Err: errors.New("empty wav buffer")}
	}

	bitDepth := int(dec.BitDepth)
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float32(int(1) << (bitDepth - 1))
	out := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		out[i] = float32(v) / scale
	}
	return out, Format{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   bitDepth,
	}, nil
}
