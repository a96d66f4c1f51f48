// Package audio wraps the WAV codec with the conversions the voice pipeline
// needs: reference normalization and in-order segment stitching.
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

// ErrDecode reports input that the codec cannot read as audio.
var ErrDecode = errors.New("audio: undecodable input")

const (
	formatPCM        = 1
	formatExtensible = 0xFFFE

	// OutputBitDepth is the bit depth of every file this package writes.
	OutputBitDepth = 16
)

// Track describes a decoded or written PCM stream.
type Track struct {
	SampleRate int
	Channels   int
	Frames     int
}

// Duration returns the play length of the track.
func (t Track) Duration() time.Duration {
	if t.SampleRate <= 0 {
		return 0
	}
	return time.Duration(t.Frames) * time.Second / time.Duration(t.SampleRate)
}

// decoded is an interleaved sample stream scaled to 16-bit.
type decoded struct {
	Track
	Data []int
}

func decode(r io.ReadSeeker) (decoded, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return decoded{}, fmt.Errorf("%w: not a wav stream", ErrDecode)
	}
	if d.WavAudioFormat != formatPCM && d.WavAudioFormat != formatExtensible {
		return decoded{}, fmt.Errorf("%w: unsupported wav encoding %d", ErrDecode, d.WavAudioFormat)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return decoded{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if buf == nil || buf.Format == nil || buf.Format.NumChannels <= 0 || buf.Format.SampleRate <= 0 {
		return decoded{}, fmt.Errorf("%w: missing format", ErrDecode)
	}
	channels := buf.Format.NumChannels
	if len(buf.Data) < channels {
		return decoded{}, fmt.Errorf("%w: no samples", ErrDecode)
	}
	data := requantize(buf.Data, int(d.BitDepth))
	frames := len(data) / channels
	return decoded{
		Track: Track{SampleRate: buf.Format.SampleRate, Channels: channels, Frames: frames},
		Data:  data[:frames*channels],
	}, nil
}

func decodeFile(path string) (decoded, error) {
	f, err := os.Open(path)
	if err != nil {
		return decoded{}, err
	}
	defer f.Close()
	return decode(f)
}

// Inspect reads the header of a WAV file and reports its layout and length.
func Inspect(path string) (Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return Track{}, err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return Track{}, fmt.Errorf("%w: not a wav stream", ErrDecode)
	}
	if err := d.FwdToPCM(); err != nil {
		return Track{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	frameSize := int64(d.NumChans) * int64(d.BitDepth) / 8
	if frameSize <= 0 {
		return Track{}, fmt.Errorf("%w: invalid frame size", ErrDecode)
	}
	return Track{
		SampleRate: int(d.SampleRate),
		Channels:   int(d.NumChans),
		Frames:     int(d.PCMLen() / frameSize),
	}, nil
}

// WriteWAV writes interleaved 16-bit samples to path. A partially written
// file is removed on failure.
func WriteWAV(path string, data []int, sampleRate, channels int) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close wav: %w", cerr)
		}
		if err != nil {
			os.Remove(path)
		}
	}()

	enc := wav.NewEncoder(file, sampleRate, OutputBitDepth, channels, formatPCM)
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: OutputBitDepth,
	}
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
