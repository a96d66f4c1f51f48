package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/loqa-voiceclone/internal/audio"
	"github.com/loqalabs/loqa-voiceclone/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeReference(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "reference.wav")
	if err := audio.WriteWAV(path, make([]int, 16000), 16000, 1); err != nil {
		t.Fatalf("write reference: %v", err)
	}
	return path
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("exec engine tests need a POSIX shell")
	}
}

func TestMockSynthDurationTracksText(t *testing.T) {
	dir := t.TempDir()
	ref := writeReference(t, dir)
	h := Ready(NewMockSynth(10*time.Millisecond), true)

	out := filepath.Join(dir, "out.wav")
	if err := h.Synthesize(context.Background(), Request{Text: "Hello", ReferencePath: ref, Language: "en", OutputPath: out}); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	track, err := audio.Inspect(out)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if track.Duration() != 50*time.Millisecond {
		t.Fatalf("expected 50ms of audio, got %s", track.Duration())
	}
	if track.SampleRate != MockSampleRate {
		t.Fatalf("unexpected sample rate %d", track.SampleRate)
	}
}

func TestMockSynthNeedsReference(t *testing.T) {
	dir := t.TempDir()
	h := Ready(NewMockSynth(0), true)
	err := h.Synthesize(context.Background(), Request{Text: "hi", ReferencePath: filepath.Join(dir, "nope.wav"), OutputPath: filepath.Join(dir, "o.wav")})
	if !errors.Is(err, ErrEngine) {
		t.Fatalf("expected ErrEngine, got %v", err)
	}
}

func TestUnavailableFailsFast(t *testing.T) {
	h := Unavailable(errors.New("model weights missing"))
	if h.Ready() {
		t.Fatal("expected handle not ready")
	}
	err := h.Synthesize(context.Background(), Request{Text: "hi"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "model weights missing") {
		t.Fatalf("expected reason in error, got %v", err)
	}
}

func TestOpenModes(t *testing.T) {
	if h := Open(config.EngineConfig{Mode: "mock"}, newLogger()); !h.Ready() {
		t.Fatalf("expected mock engine ready, got %v", h.Err())
	}
	h := Open(config.EngineConfig{Mode: "exec", Command: "definitely-not-a-real-engine-binary --fast"}, newLogger())
	if h.Ready() {
		t.Fatal("expected missing binary to leave engine unavailable")
	}
	if !errors.Is(h.Err(), ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", h.Err())
	}
	if h := Open(config.EngineConfig{Mode: "exec", Command: "'unterminated"}, newLogger()); h.Ready() {
		t.Fatal("expected unparsable command to leave engine unavailable")
	}
}

func TestExecSynthWritesOutput(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	ref := writeReference(t, dir)
	script := `cat > "$(dirname "$0")/stdin.json"; while [ $# -gt 0 ]; do if [ "$1" = --output ]; then out="$2"; fi; shift; done; cp "` + ref + `" "$out"`
	synth, err := NewExecSynth("sh -c '" + script + "' " + filepath.Join(dir, "engine"))
	if err != nil {
		t.Fatalf("new exec synth: %v", err)
	}

	out := filepath.Join(dir, "segment.wav")
	h := Ready(synth, true)
	if err := h.Synthesize(context.Background(), Request{Text: "salam", ReferencePath: ref, Language: "fa", OutputPath: out}); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if _, err := audio.Inspect(out); err != nil {
		t.Fatalf("expected wav output: %v", err)
	}
	stdin, err := os.ReadFile(filepath.Join(dir, "stdin.json"))
	if err != nil {
		t.Fatalf("read captured stdin: %v", err)
	}
	if !strings.Contains(string(stdin), `"text":"salam"`) || !strings.Contains(string(stdin), `"language":"fa"`) {
		t.Fatalf("unexpected request payload %s", stdin)
	}
}

func TestExecSynthFailure(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	synth, err := NewExecSynth(`sh -c 'echo out of memory >&2; exit 3'`)
	if err != nil {
		t.Fatalf("new exec synth: %v", err)
	}
	err = Ready(synth, true).Synthesize(context.Background(), Request{Text: "x", ReferencePath: writeReference(t, dir), OutputPath: filepath.Join(dir, "o.wav")})
	if !errors.Is(err, ErrEngine) {
		t.Fatalf("expected ErrEngine, got %v", err)
	}
	if !strings.Contains(err.Error(), "out of memory") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestExecSynthMissingOutput(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	synth, err := NewExecSynth(`sh -c 'cat > /dev/null'`)
	if err != nil {
		t.Fatal(err)
	}
	err = Ready(synth, true).Synthesize(context.Background(), Request{Text: "x", ReferencePath: writeReference(t, dir), OutputPath: filepath.Join(dir, "o.wav")})
	if !errors.Is(err, ErrEngine) {
		t.Fatalf("expected ErrEngine, got %v", err)
	}
}

type countingSynth struct {
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (c *countingSynth) Synthesize(ctx context.Context, req Request) error {
	n := c.active.Add(1)
	defer c.active.Add(-1)
	for {
		old := c.maxSeen.Load()
		if n <= old || c.maxSeen.CompareAndSwap(old, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return nil
}

func TestSerializedHandleRunsOneCallAtATime(t *testing.T) {
	synth := &countingSynth{}
	h := Ready(synth, true)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.Synthesize(context.Background(), Request{Text: "x"})
		}()
	}
	wg.Wait()
	if synth.maxSeen.Load() != 1 {
		t.Fatalf("expected serialized calls, saw %d concurrent", synth.maxSeen.Load())
	}
}

type blockingSynth struct{ release chan struct{} }

func (b *blockingSynth) Synthesize(ctx context.Context, req Request) error {
	<-b.release
	return nil
}

func TestSerializedHandleWaitHonoursContext(t *testing.T) {
	synth := &blockingSynth{release: make(chan struct{})}
	h := Ready(synth, true)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.Synthesize(context.Background(), Request{})
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := h.Synthesize(ctx, Request{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded while waiting for engine, got %v", err)
	}
	close(synth.release)
	<-done
}
