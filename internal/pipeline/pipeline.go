// Package pipeline turns one clone request into one stored artifact:
// validate, normalize the reference, segment the text, synthesize each
// segment, stitch, persist. Every exit path removes the run's scratch files.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/loqalabs/loqa-voiceclone/internal/artifact"
	"github.com/loqalabs/loqa-voiceclone/internal/audio"
	"github.com/loqalabs/loqa-voiceclone/internal/config"
	"github.com/loqalabs/loqa-voiceclone/internal/engine"
	"github.com/loqalabs/loqa-voiceclone/internal/eventstore"
	"github.com/loqalabs/loqa-voiceclone/internal/protocol"
	"github.com/loqalabs/loqa-voiceclone/internal/segment"
)

const instrumentationName = "github.com/loqalabs/loqa-voiceclone/pipeline"

// State is a step of a run.
type State string

const (
	StateValidating   State = "validating"
	StateNormalizing  State = "normalizing"
	StateSegmenting   State = "segmenting"
	StateSynthesizing State = "synthesizing"
	StateStitching    State = "stitching"
	StatePersisting   State = "persisting"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

// Request is one clone request. Voice holds the uploaded sample bytes; nil
// means no sample was uploaded.
type Request struct {
	Text     string
	Voice    []byte
	Language string
}

// Result describes a finished run.
type Result struct {
	RunID      string
	ArtifactID artifact.ID
	Segments   int
	Duration   time.Duration
}

// Ledger records run timelines.
type Ledger interface {
	BeginRun(ctx context.Context, run eventstore.Run) error
	AppendEvent(ctx context.Context, evt eventstore.Event) error
	FinishRun(ctx context.Context, runID, state, errorKind, artifactID string) error
}

// Publisher broadcasts run events.
type Publisher interface {
	Publish(subject string, v any) error
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithLedger records every run transition in l.
func WithLedger(l Ledger) Option {
	return func(p *Pipeline) { p.ledger = l }
}

// WithPublisher broadcasts every run transition through pub.
func WithPublisher(pub Publisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

type Pipeline struct {
	cfg             config.PipelineConfig
	languages       []string
	defaultLanguage string
	engine          *engine.Handle
	normalizer      *audio.Normalizer
	store           *artifact.Store
	ledger          Ledger
	publisher       Publisher
	log             *slog.Logger
	tracer          trace.Tracer
	metrics         *metrics
}

func New(cfg config.Config, handle *engine.Handle, store *artifact.Store, log *slog.Logger, opts ...Option) *Pipeline {
	log = log.With(slog.String("component", "pipeline"))
	p := &Pipeline{
		cfg:             cfg.Pipeline,
		languages:       cfg.Engine.Languages,
		defaultLanguage: cfg.Engine.DefaultLanguage,
		engine:          handle,
		normalizer:      audio.NewNormalizer(cfg.Pipeline.ReferenceRate),
		store:           store,
		log:             log,
		tracer:          otel.Tracer(instrumentationName),
		metrics:         newMetrics(otel.Meter(instrumentationName), log),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Languages returns the accepted language codes.
func (p *Pipeline) Languages() []string {
	return slices.Clone(p.languages)
}

type run struct {
	id       string
	language string
	segments int
	state    State
	log      *slog.Logger
}

// Run executes one request to completion. Failures are returned as *Error.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	r := &run{id: uuid.NewString(), language: strings.TrimSpace(req.Language)}
	if r.language == "" {
		r.language = p.defaultLanguage
	}
	r.log = p.log.With(slog.String("run_id", r.id))

	ctx, span := p.tracer.Start(ctx, "voiceclone.run", trace.WithAttributes(
		attribute.String("run.id", r.id),
		attribute.String("run.language", r.language),
		attribute.Int("run.text_chars", utf8.RuneCountInString(req.Text)),
		attribute.Int("run.voice_bytes", len(req.Voice)),
	))
	defer span.End()

	// Bookkeeping outlives the run's deadline so failures are still recorded.
	bookCtx := context.WithoutCancel(ctx)
	if p.ledger != nil {
		err := p.ledger.BeginRun(bookCtx, eventstore.Run{
			ID:         r.id,
			Language:   r.language,
			TextChars:  utf8.RuneCountInString(req.Text),
			VoiceBytes: int64(len(req.Voice)),
			Segments:   segment.Count(req.Text, p.cfg.SegmentLength),
			State:      string(StateValidating),
		})
		if err != nil {
			r.log.Warn("failed to record run", slogError(err))
		}
	}

	started := time.Now()
	res, err := p.execute(ctx, r, req)
	elapsed := time.Since(started)
	if err != nil {
		perr := classify(r.state, err)
		p.transition(bookCtx, r, StateFailed, protocol.RunEvent{ErrorKind: perr.Kind.String(), Error: perr.Error()}, perr.Error())
		p.finishLedger(bookCtx, r, StateFailed, perr.Kind.String(), "")
		p.metrics.runFinished(bookCtx, perr.Kind.String(), elapsed, r.segments)
		span.RecordError(perr)
		span.SetStatus(codes.Error, perr.Kind.String())
		r.log.Warn("run failed",
			slog.String("kind", perr.Kind.String()),
			slog.String("state", string(perr.State)),
			slogError(perr.Err),
			slog.Duration("elapsed", elapsed))
		return Result{RunID: r.id}, perr
	}

	p.transition(bookCtx, r, StateDone, protocol.RunEvent{ArtifactID: string(res.ArtifactID)}, "")
	p.finishLedger(bookCtx, r, StateDone, "", string(res.ArtifactID))
	p.metrics.runFinished(bookCtx, "ok", elapsed, r.segments)
	span.SetAttributes(attribute.Int("run.segments", res.Segments), attribute.String("run.artifact", string(res.ArtifactID)))
	r.log.Info("run complete",
		slog.String("artifact", string(res.ArtifactID)),
		slog.Int("segments", res.Segments),
		slog.Duration("audio", res.Duration),
		slog.Duration("elapsed", elapsed))
	return res, nil
}

func (p *Pipeline) execute(ctx context.Context, r *run, req Request) (Result, error) {
	p.enter(ctx, r, StateValidating)
	if err := p.validate(r, req); err != nil {
		return Result{}, err
	}

	workDir, err := os.MkdirTemp(p.cfg.TempDir, "voiceclone-run-*")
	if err != nil {
		return Result{}, fmt.Errorf("create work dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			r.log.Warn("failed to remove work dir", slog.String("dir", workDir), slogError(err))
		}
	}()

	p.enter(ctx, r, StateNormalizing)
	refPath, ref, err := p.normalizer.Normalize(ctx, req.Voice, workDir)
	if err != nil {
		return Result{}, err
	}
	r.log.Debug("reference normalized", slog.Duration("duration", ref.Duration()))

	p.enter(ctx, r, StateSegmenting)
	segments := segment.All(req.Text, p.cfg.SegmentLength)
	r.segments = len(segments)

	finalPath, err := p.synthesize(ctx, r, segments, refPath, workDir)
	if err != nil {
		return Result{}, err
	}
	track, err := audio.Inspect(finalPath)
	if err != nil {
		return Result{}, err
	}

	p.enter(ctx, r, StatePersisting)
	id, err := p.store.PutFile(finalPath)
	if err != nil {
		return Result{}, err
	}
	return Result{RunID: r.id, ArtifactID: id, Segments: len(segments), Duration: track.Duration()}, nil
}

// validate rejects requests before any audio work happens. An unavailable
// engine is reported here so uploads are never decoded for nothing.
func (p *Pipeline) validate(r *run, req Request) error {
	// A nil Voice means no upload at all. An empty upload is decoded and
	// fails there.
	if req.Voice == nil {
		return fail(KindClientInput, StateValidating, ErrMissingVoice)
	}
	if req.Text == "" {
		return fail(KindClientInput, StateValidating, ErrMissingText)
	}
	if limit := p.cfg.MaxVoiceBytes; limit > 0 && int64(len(req.Voice)) > limit {
		return fail(KindClientInput, StateValidating, fmt.Errorf("%w of %d MB", ErrVoiceTooLarge, limit>>20))
	}
	if len(p.languages) > 0 && !slices.Contains(p.languages, r.language) {
		return fail(KindClientInput, StateValidating, fmt.Errorf("%w %q", ErrUnsupportedLanguage, r.language))
	}
	if err := p.engine.Err(); err != nil {
		return fail(KindEngineUnavailable, StateValidating, err)
	}
	return nil
}

func (p *Pipeline) synthesize(ctx context.Context, r *run, segments []segment.Segment, refPath, workDir string) (string, error) {
	if len(segments) == 1 {
		p.enterSegment(ctx, r, 0)
		path, err := p.synthesizeSegment(ctx, r, segments[0], refPath, workDir)
		if err != nil {
			return "", err
		}
		// A single segment is already the final track.
		p.enter(ctx, r, StateStitching)
		return path, nil
	}
	if p.cfg.SegmentWorkers > 1 {
		return p.synthesizeParallel(ctx, r, segments, refPath, workDir)
	}

	stitcher := audio.NewStitcher(filepath.Join(workDir, "combined.wav"))
	for _, seg := range segments {
		p.enterSegment(ctx, r, seg.Index)
		path, err := p.synthesizeSegment(ctx, r, seg, refPath, workDir)
		if err != nil {
			stitcher.Abort()
			return "", err
		}
		err = stitcher.Append(path)
		os.Remove(path)
		if err != nil {
			stitcher.Abort()
			return "", err
		}
	}
	p.enter(ctx, r, StateStitching)
	if _, err := stitcher.Close(); err != nil {
		return "", err
	}
	return stitcher.Path(), nil
}

// synthesizeParallel runs up to SegmentWorkers engine calls at once and
// folds the results strictly in segment order. The first failure cancels
// the calls still in flight.
func (p *Pipeline) synthesizeParallel(ctx context.Context, r *run, segments []segment.Segment, refPath, workDir string) (string, error) {
	paths := make([]string, len(segments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.SegmentWorkers)
	for _, seg := range segments {
		if gctx.Err() != nil {
			break
		}
		p.enterSegment(ctx, r, seg.Index)
		g.Go(func() error {
			path, err := p.synthesizeSegment(gctx, r, seg, refPath, workDir)
			if err != nil {
				return err
			}
			paths[seg.Index] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.enter(ctx, r, StateStitching)
	stitcher := audio.NewStitcher(filepath.Join(workDir, "combined.wav"))
	for _, path := range paths {
		err := stitcher.Append(path)
		os.Remove(path)
		if err != nil {
			stitcher.Abort()
			return "", err
		}
	}
	if _, err := stitcher.Close(); err != nil {
		return "", err
	}
	return stitcher.Path(), nil
}

func (p *Pipeline) synthesizeSegment(ctx context.Context, r *run, seg segment.Segment, refPath, workDir string) (string, error) {
	ctx, span := p.tracer.Start(ctx, "voiceclone.segment", trace.WithAttributes(
		attribute.Int("segment.index", seg.Index),
		attribute.Int("segment.chars", utf8.RuneCountInString(seg.Content)),
	))
	defer span.End()

	path := filepath.Join(workDir, fmt.Sprintf("segment-%04d.wav", seg.Index))
	started := time.Now()
	err := p.engine.Synthesize(ctx, engine.Request{
		Text:          seg.Content,
		ReferencePath: refPath,
		Language:      r.language,
		OutputPath:    path,
	})
	p.metrics.segmentFinished(ctx, time.Since(started), err)
	if err != nil {
		os.Remove(path)
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis failed")
		return "", fmt.Errorf("segment %d of %d: %w", seg.Index+1, r.segments, err)
	}
	r.log.Debug("segment synthesized", slog.Int("segment", seg.Index+1), slog.Int("segments", r.segments))
	return path, nil
}

func (p *Pipeline) enter(ctx context.Context, r *run, state State) {
	p.transition(context.WithoutCancel(ctx), r, state, protocol.RunEvent{}, "")
}

func (p *Pipeline) enterSegment(ctx context.Context, r *run, index int) {
	detail := fmt.Sprintf("segment %d/%d", index+1, r.segments)
	p.transition(context.WithoutCancel(ctx), r, StateSynthesizing, protocol.RunEvent{Segment: index + 1}, detail)
}

// transition moves r into state and fans the change out to the ledger, the
// bus and metrics. None of these can fail the run.
func (p *Pipeline) transition(ctx context.Context, r *run, state State, evt protocol.RunEvent, detail string) {
	if state != StateFailed {
		r.state = state
	}
	trace.SpanFromContext(ctx).AddEvent(string(state))
	p.metrics.transition(ctx, state)

	if p.ledger != nil {
		if err := p.ledger.AppendEvent(ctx, eventstore.Event{RunID: r.id, Type: string(state), Detail: detail}); err != nil {
			r.log.Warn("failed to record run event", slog.String("state", string(state)), slogError(err))
		}
	}
	if p.publisher != nil {
		evt.RunID = r.id
		evt.State = string(state)
		evt.Language = r.language
		evt.Segments = r.segments
		evt.Timestamp = time.Now().UTC()
		if err := p.publisher.Publish(protocol.RunSubject(string(state)), evt); err != nil {
			r.log.Warn("failed to publish run event", slog.String("state", string(state)), slogError(err))
		}
	}
}

func (p *Pipeline) finishLedger(ctx context.Context, r *run, state State, kind, artifactID string) {
	if p.ledger == nil {
		return
	}
	if err := p.ledger.FinishRun(ctx, r.id, string(state), kind, artifactID); err != nil {
		r.log.Warn("failed to finish run record", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
