package audio

import (
	"errors"
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Stitcher concatenates segment WAV files, in the order they are appended,
// into one track. Samples are copied as-is: no cross-fade, trimming or gain
// change.
//
// The output layout is fixed by the first segment, and a later segment with
// a different rate or channel count is converted to it. This differs from
// merging toward the highest rate and channel count seen: a lower-rate first
// segment downsamples the rest. A single engine emits one layout for every
// segment, so only mixed engines would notice.
type Stitcher struct {
	path   string
	file   *os.File
	enc    *wav.Encoder
	track  Track
	closed bool
}

func NewStitcher(path string) *Stitcher {
	return &Stitcher{path: path}
}

// Path returns the output file location.
func (s *Stitcher) Path() string { return s.path }

// Append decodes segmentPath and adds its samples to the end of the track.
func (s *Stitcher) Append(segmentPath string) error {
	if s.closed {
		return errors.New("stitcher closed")
	}
	seg, err := decodeFile(segmentPath)
	if err != nil {
		return fmt.Errorf("read segment %s: %w", segmentPath, err)
	}

	if s.enc == nil {
		file, err := os.Create(s.path)
		if err != nil {
			return fmt.Errorf("create combined track: %w", err)
		}
		s.file = file
		s.track = Track{SampleRate: seg.SampleRate, Channels: seg.Channels}
		s.enc = wav.NewEncoder(file, seg.SampleRate, OutputBitDepth, seg.Channels, formatPCM)
	}

	data := conform(seg, s.track.SampleRate, s.track.Channels)
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: s.track.Channels, SampleRate: s.track.SampleRate},
		Data:           data,
		SourceBitDepth: OutputBitDepth,
	}
	if err := s.enc.Write(buffer); err != nil {
		return fmt.Errorf("append segment: %w", err)
	}
	s.track.Frames += len(data) / s.track.Channels
	return nil
}

// Close finalizes the WAV header and returns the combined track layout.
func (s *Stitcher) Close() (Track, error) {
	if s.closed {
		return s.track, errors.New("stitcher closed")
	}
	s.closed = true
	if s.enc == nil {
		return Track{}, errors.New("no segments appended")
	}
	var errs []error
	if err := s.enc.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close wav encoder: %w", err))
	}
	if err := s.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close combined track: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		os.Remove(s.path)
		return Track{}, err
	}
	return s.track, nil
}

// Abort discards the partial output.
func (s *Stitcher) Abort() {
	if s.closed {
		return
	}
	s.closed = true
	if s.file != nil {
		s.file.Close()
		os.Remove(s.path)
	}
}
