package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-voiceclone/internal/config"
)

// Handle is the process-wide engine. It is either ready, wrapping a backend,
// or unavailable with the reason initialization failed.
type Handle struct {
	synth  Synthesizer
	reason error
	// sem serializes calls when the backend is not known to be safe for
	// concurrent use. Nil means calls run concurrently.
	sem chan struct{}
}

// Ready wraps a working backend.
func Ready(synth Synthesizer, serialize bool) *Handle {
	h := &Handle{synth: synth}
	if serialize {
		h.sem = make(chan struct{}, 1)
	}
	return h
}

// Unavailable returns a handle that fails every call with ErrUnavailable.
func Unavailable(reason error) *Handle {
	if reason == nil {
		reason = errors.New("not initialized")
	}
	return &Handle{reason: reason}
}

// Open initializes the configured backend once. Initialization failures do
// not stop the process; they produce an unavailable handle.
func Open(cfg config.EngineConfig, log *slog.Logger) *Handle {
	log = log.With(slog.String("component", "engine"))

	var (
		synth Synthesizer
		err   error
	)
	switch cfg.Mode {
	case "exec":
		synth, err = NewExecSynth(cfg.Command)
	case "mock":
		synth = NewMockSynth(time.Duration(cfg.MockCharMS) * time.Millisecond)
	default:
		err = fmt.Errorf("unknown engine mode %q", cfg.Mode)
	}
	if err != nil {
		log.Error("failed to initialize engine", slog.String("mode", cfg.Mode), slog.String("error", err.Error()))
		return Unavailable(err)
	}

	log.Info("engine ready", slog.String("mode", cfg.Mode), slog.Bool("serialized", !cfg.Concurrent))
	return Ready(synth, !cfg.Concurrent)
}

// Ready reports whether the engine initialized.
func (h *Handle) Ready() bool {
	return h != nil && h.synth != nil
}

// Err returns nil for a ready engine and an ErrUnavailable error otherwise.
func (h *Handle) Err() error {
	if h.Ready() {
		return nil
	}
	if h == nil {
		return ErrUnavailable
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, h.reason)
}

// Synthesize runs one engine call. Failures of the call itself are wrapped
// in ErrEngine; cancellation is returned as the context error.
func (h *Handle) Synthesize(ctx context.Context, req Request) error {
	if err := h.Err(); err != nil {
		return err
	}
	if h.sem != nil {
		select {
		case h.sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		defer func() { <-h.sem }()
	}

	if err := h.synth.Synthesize(ctx, req); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %w", ErrEngine, err)
	}
	return nil
}
