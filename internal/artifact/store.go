// Package artifact persists finished recordings under opaque identifiers.
package artifact

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for identifiers with no stored artifact.
var ErrNotFound = errors.New("artifact not found")

// Extension is appended to every artifact identifier on disk.
const Extension = ".wav"

// ID is the opaque handle of a stored artifact: 32 lowercase hex characters.
type ID string

// Filename returns the on-disk name of the artifact.
func (id ID) Filename() string { return string(id) + Extension }

// ParseID accepts either a bare identifier or its filename.
func ParseID(s string) (ID, error) {
	s = strings.TrimSuffix(s, Extension)
	if len(s) != 32 {
		return "", ErrNotFound
	}
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return "", ErrNotFound
		}
	}
	return ID(s), nil
}

func newID() ID {
	u := uuid.New()
	return ID(strings.ReplaceAll(u.String(), "-", ""))
}

// Store keeps artifacts as files in a single directory. Identifiers are
// random, so concurrent writers never collide and no locking is needed.
type Store struct {
	dir   string
	log   *slog.Logger
	clock func() time.Time
}

// Open creates the directory if needed and returns a store rooted at it.
func Open(dir string, log *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Store{
		dir:   dir,
		log:   log.With(slog.String("component", "artifact-store")),
		clock: time.Now,
	}, nil
}

// Dir returns the storage directory.
func (s *Store) Dir() string { return s.dir }

// Put copies r into a new artifact. The artifact becomes visible only once
// completely written.
func (s *Store) Put(r io.Reader) (ID, error) {
	id := newID()
	tmp, err := os.CreateTemp(s.dir, ".incoming-*")
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}
	tmpPath := tmp.Name()

	_, err = io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(s.dir, id.Filename())); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("commit artifact: %w", err)
	}
	return id, nil
}

// PutFile stores the contents of the file at path.
func (s *Store) PutFile(path string) (ID, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open artifact source: %w", err)
	}
	defer f.Close()
	return s.Put(f)
}

// Resolve maps an identifier to its storage path.
func (s *Store) Resolve(id ID) (string, error) {
	if _, err := ParseID(string(id)); err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, id.Filename())
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", ErrNotFound
	}
	return path, nil
}

// Open returns a reader for the artifact. The caller closes it.
func (s *Store) Open(id ID) (*os.File, error) {
	path, err := s.Resolve(id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

// Prune deletes artifacts older than maxAge, plus abandoned partial writes.
// A non-positive maxAge disables pruning.
func (s *Store) Prune(maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	cutoff := s.clock().Add(-maxAge)
	removed := 0
	var errs []error
	for _, e := range entries {
		name := e.Name()
		partial := strings.HasPrefix(name, ".incoming-")
		if !partial {
			if _, err := ParseID(name); err != nil || !strings.HasSuffix(name, Extension) {
				continue
			}
		}
		info, err := e.Info()
		if err != nil || !info.Mode().IsRegular() || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.Info("pruned artifacts", slog.Int("removed", removed), slog.Duration("max_age", maxAge))
	}
	return removed, errors.Join(errs...)
}
