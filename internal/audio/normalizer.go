package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
)

// ReferenceChannels is the channel count the synthesis engine expects for a
// speaker reference.
const ReferenceChannels = 1

// Normalizer turns an uploaded speaker sample into the canonical reference
// layout: mono, 16-bit, at SampleRate.
type Normalizer struct {
	SampleRate int
}

func NewNormalizer(sampleRate int) *Normalizer {
	return &Normalizer{SampleRate: sampleRate}
}

// Normalize decodes raw, converts it and writes a new WAV file inside dir.
// The caller owns the returned file. Undecodable input yields ErrDecode and
// leaves nothing behind.
func (n *Normalizer) Normalize(ctx context.Context, raw []byte, dir string) (string, Track, error) {
	if err := ctx.Err(); err != nil {
		return "", Track{}, err
	}
	src, err := decode(bytes.NewReader(raw))
	if err != nil {
		return "", Track{}, err
	}

	data := conform(src, n.SampleRate, ReferenceChannels)
	if err := ctx.Err(); err != nil {
		return "", Track{}, err
	}

	file, err := os.CreateTemp(dir, "reference-*.wav")
	if err != nil {
		return "", Track{}, fmt.Errorf("temp file: %w", err)
	}
	path := file.Name()
	file.Close()

	if err := WriteWAV(path, data, n.SampleRate, ReferenceChannels); err != nil {
		os.Remove(path)
		return "", Track{}, err
	}
	return path, Track{SampleRate: n.SampleRate, Channels: ReferenceChannels, Frames: len(data) / ReferenceChannels}, nil
}
