// Package engine fronts the opaque voice-cloning model. The model is only
// ever asked one thing: speak this text in the voice of this reference.
package engine

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable is returned for every call when the engine failed to
	// initialize at startup.
	ErrUnavailable = errors.New("engine unavailable")
	// ErrEngine wraps a failure of a single synthesis call.
	ErrEngine = errors.New("engine synthesis failed")
)

// Request describes one synthesis call.
type Request struct {
	Text          string
	ReferencePath string
	Language      string
	// OutputPath is where the engine writes the resulting WAV file. The
	// caller owns the file whether or not the call succeeds.
	OutputPath string
}

// Synthesizer is the contract every engine backend implements.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) error
}
