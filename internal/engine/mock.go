package engine

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"
	"unicode/utf8"

	"github.com/loqalabs/loqa-voiceclone/internal/audio"
)

// MockSampleRate matches the output rate of the hosted cloning model.
const MockSampleRate = 24000

type mockSynth struct {
	perChar time.Duration
}

// NewMockSynth returns a synthesizer that writes a deterministic tone whose
// length is proportional to the number of characters in the text.
func NewMockSynth(perChar time.Duration) Synthesizer {
	if perChar <= 0 {
		perChar = 60 * time.Millisecond
	}
	return &mockSynth{perChar: perChar}
}

func (m *mockSynth) Synthesize(ctx context.Context, req Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(req.ReferencePath); err != nil {
		return fmt.Errorf("reference voice: %w", err)
	}
	chars := utf8.RuneCountInString(req.Text)
	frames := int(int64(chars) * int64(m.perChar) * MockSampleRate / int64(time.Second))
	data := make([]int, frames)
	for i := range data {
		data[i] = int(6000 * math.Sin(2*math.Pi*220*float64(i)/MockSampleRate))
	}
	return audio.WriteWAV(req.OutputPath, data, MockSampleRate, 1)
}
