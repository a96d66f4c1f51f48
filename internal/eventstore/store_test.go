package eventstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-voiceclone/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{RetentionMode: "ephemeral"}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if err := es.BeginRun(ctx, Run{ID: "r1", State: "validating"}); err != nil {
		t.Fatalf("begin run on ephemeral store: %v", err)
	}
	if _, err := es.GetRun(ctx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from ephemeral store, got %v", err)
	}
}

func TestRunTimeline(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "runs.db"), RetentionMode: "session"}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	ctx := context.Background()
	runID := "run-123"
	if err := es.BeginRun(ctx, Run{ID: runID, Language: "fa", TextChars: 12000, VoiceBytes: 4096, Segments: 3, State: "validating"}); err != nil {
		t.Fatalf("begin run: %v", err)
	}
	for _, state := range []string{"normalizing", "segmenting", "synthesizing", "stitching", "persisting", "done"} {
		if err := es.AppendEvent(ctx, Event{RunID: runID, Type: state}); err != nil {
			t.Fatalf("append %s: %v", state, err)
		}
	}
	if err := es.FinishRun(ctx, runID, "done", "", "0123456789abcdef0123456789abcdef"); err != nil {
		t.Fatalf("finish run: %v", err)
	}

	run, err := es.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.State != "done" || run.Segments != 3 || run.ArtifactID == "" || run.FinishedAt.IsZero() {
		t.Fatalf("unexpected run %+v", run)
	}

	events, err := es.ListRunEvents(ctx, runID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 6 {
		t.Fatalf("expected 6 events, got %d", len(events))
	}
	if events[0].Type != "normalizing" || events[5].Type != "done" {
		t.Fatalf("events out of order: %v", events)
	}

	if _, err := es.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPruneByDaysAndRuns(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "runs.db"), RetentionMode: "persistent", RetentionDays: 1, MaxRuns: 1}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	ctx := context.Background()
	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.BeginRun(ctx, Run{ID: "old-run", State: "validating"}); err != nil {
		t.Fatalf("begin run: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{RunID: "old-run", Type: "failed"}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.BeginRun(ctx, Run{ID: "new-run", State: "validating"}); err != nil {
		t.Fatalf("begin run: %v", err)
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListRunEvents(ctx, "old-run", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old run pruned")
	}
	if _, err := es.GetRun(ctx, "new-run"); err != nil {
		t.Fatalf("expected new run kept: %v", err)
	}
}
