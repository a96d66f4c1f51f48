package artifact

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "generated"), newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func TestPutAndResolve(t *testing.T) {
	s := openStore(t)
	id, err := s.Put(strings.NewReader("RIFF-audio"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := ParseID(string(id)); err != nil {
		t.Fatalf("minted id %q is not well formed", id)
	}

	first, err := s.Resolve(id)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := s.Resolve(id)
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	a, _ := os.ReadFile(first)
	b, _ := os.ReadFile(second)
	if !bytes.Equal(a, b) || string(a) != "RIFF-audio" {
		t.Fatalf("expected identical content, got %q and %q", a, b)
	}
	if filepath.Base(first) != id.Filename() {
		t.Fatalf("unexpected artifact name %s", first)
	}
}

func TestIDsAreUnique(t *testing.T) {
	s := openStore(t)
	seen := map[ID]bool{}
	for i := 0; i < 200; i++ {
		id, err := s.Put(strings.NewReader("x"))
		if err != nil {
			t.Fatal(err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestResolveUnknown(t *testing.T) {
	s := openStore(t)
	for _, id := range []ID{"", "0123456789abcdef0123456789abcdef", "../../etc/passwd", "ZZZZ56789abcdef0123456789abcdef0"} {
		if _, err := s.Resolve(id); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%q: expected ErrNotFound, got %v", id, err)
		}
	}
}

func TestParseIDAcceptsFilename(t *testing.T) {
	id, err := ParseID("0123456789abcdef0123456789abcdef.wav")
	if err != nil || id != "0123456789abcdef0123456789abcdef" {
		t.Fatalf("unexpected parse result %q, %v", id, err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestPutFailureLeavesNothing(t *testing.T) {
	s := openStore(t)
	if _, err := s.Put(failingReader{}); err == nil {
		t.Fatal("expected put to fail")
	}
	entries, _ := os.ReadDir(s.Dir())
	if len(entries) != 0 {
		t.Fatalf("expected empty store, found %d entries", len(entries))
	}
}

func TestPruneRemovesOldArtifacts(t *testing.T) {
	s := openStore(t)
	oldID, _ := s.Put(strings.NewReader("old"))
	newID, _ := s.Put(strings.NewReader("new"))
	oldPath, _ := s.Resolve(oldID)
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(oldPath, past, past); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}
	_ = os.Chtimes(filepath.Join(s.Dir(), "notes.txt"), past, past)

	removed, err := s.Prune(24 * time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := s.Resolve(oldID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected old artifact gone, got %v", err)
	}
	if _, err := s.Resolve(newID); err != nil {
		t.Fatalf("expected new artifact kept: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Dir(), "notes.txt")); err != nil {
		t.Fatalf("expected unrelated file kept: %v", err)
	}
	if n, _ := s.Prune(0); n != 0 {
		t.Fatalf("expected zero retention to disable pruning")
	}
}
