package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/loqalabs/loqa-voiceclone/internal/audio"
	"github.com/loqalabs/loqa-voiceclone/internal/engine"
)

// Kind classifies why a run failed.
type Kind int

const (
	KindInternal Kind = iota
	KindClientInput
	KindDecode
	KindEngineUnavailable
	KindEngine
	KindStorage
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindClientInput:
		return "client_input"
	case KindDecode:
		return "decode"
	case KindEngineUnavailable:
		return "engine_unavailable"
	case KindEngine:
		return "engine"
	case KindStorage:
		return "storage"
	case KindTimeout:
		return "timeout"
	default:
		return "internal"
	}
}

// Client input failures. The messages are returned to callers verbatim.
var (
	ErrMissingVoice        = errors.New("voice file missing")
	ErrMissingText         = errors.New("text missing")
	ErrVoiceTooLarge       = errors.New("voice file exceeds size limit")
	ErrUnsupportedLanguage = errors.New("unsupported language")
)

// Error is returned by Run for every failure. Err carries the cause.
type Error struct {
	Kind  Kind
	State State
	Err   error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the failure kind of err, or KindInternal when err did not
// come from a run.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindInternal
}

func fail(kind Kind, state State, err error) *Error {
	return &Error{Kind: kind, State: state, Err: err}
}

// classify maps a cause raised while in state to a run error.
func classify(state State, err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fail(KindTimeout, state, fmt.Errorf("run timed out while %s: %w", state, err))
	case errors.Is(err, context.Canceled):
		return fail(KindInternal, state, fmt.Errorf("run canceled while %s: %w", state, err))
	case errors.Is(err, engine.ErrUnavailable):
		return fail(KindEngineUnavailable, state, err)
	case errors.Is(err, engine.ErrEngine):
		return fail(KindEngine, state, fmt.Errorf("synthesis failed: %w", err))
	case errors.Is(err, audio.ErrDecode) && state == StateNormalizing:
		return fail(KindDecode, state, fmt.Errorf("unable to process voice file: %w", err))
	case errors.Is(err, audio.ErrDecode):
		// Segment audio produced by the engine could not be read back.
		return fail(KindEngine, state, fmt.Errorf("synthesis failed: %w", err))
	case state == StatePersisting:
		return fail(KindStorage, state, fmt.Errorf("store artifact: %w", err))
	default:
		return fail(KindInternal, state, err)
	}
}
