package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// ErrMissing is returned by UpdateExisting when the store file does not exist
var ErrMissing = errors.New("store file does not exist")

// One mutex per absolute path, shared by every handle in the process.
var locks sync.Map

func lockFor(path string) *sync.Mutex {
	m, _ := locks.LoadOrStore(path, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// JSONStore persists an ordered sequence of T as a single JSON array file.
// Every mutation loads the whole array, changes it in memory and writes the
// whole array back while holding the path's lock.
type JSONStore[T any] struct {
	path string
	mu   *sync.Mutex
	log  zerolog.Logger
}

// NewJSONStore creates a store backed by the file at path. The file is not
// touched until the first read or write.
func NewJSONStore[T any](path string, log zerolog.Logger) (*JSONStore[T], error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store path: %w", err)
	}
	return &JSONStore[T]{
		path: abs,
		mu:   lockFor(abs),
		log:  log.With().Str("component", "json_store").Str("file", filepath.Base(abs)).Logger(),
	}, nil
}

// Path returns the absolute path of the backing file
func (s *JSONStore[T]) Path() string {
	return s.path
}

// Exists reports whether the backing file is present
func (s *JSONStore[T]) Exists() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exists()
}

// Load returns the stored sequence. A missing file reads as empty.
func (s *JSONStore[T]) Load() ([]T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, _, err := s.read()
	return items, err
}

// Append adds items to the end of the sequence
func (s *JSONStore[T]) Append(items ...T) error {
	return s.Update(func(current []T) ([]T, error) {
		return append(current, items...), nil
	})
}

// Update runs fn over the current sequence and persists its result. The file
// is materialized as an empty array first when missing. If fn returns an
// error nothing is written.
func (s *JSONStore[T]) Update(fn func([]T) ([]T, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.exists()
	if err != nil {
		return err
	}
	if !ok {
		if err := s.write([]T{}); err != nil {
			return err
		}
	}
	return s.update(fn)
}

// UpdateExisting is Update for stores that must already exist; it returns
// ErrMissing instead of creating the file.
func (s *JSONStore[T]) UpdateExisting(fn func([]T) ([]T, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.exists()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", s.path, ErrMissing)
	}
	return s.update(fn)
}

// Truncate replaces the stored sequence with an empty array
func (s *JSONStore[T]) Truncate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write([]T{})
}

func (s *JSONStore[T]) update(fn func([]T) ([]T, error)) error {
	items, _, err := s.read()
	if err != nil {
		return err
	}
	next, err := fn(items)
	if err != nil {
		return err
	}
	return s.write(next)
}

func (s *JSONStore[T]) exists() (bool, error) {
	_, err := os.Stat(s.path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", s.path, err)
}

func (s *JSONStore[T]) read() ([]T, bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []T{}, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	items := []T{}
	if len(bytes.TrimSpace(data)) == 0 {
		return items, true, nil
	}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, true, fmt.Errorf("failed to decode %s: %w", s.path, err)
	}
	if items == nil {
		items = []T{}
	}
	return items, true, nil
}

// write replaces the file atomically through a temp file in the same directory
func (s *JSONStore[T]) write(items []T) error {
	if items == nil {
		items = []T{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(items); err != nil {
		return fmt.Errorf("failed to encode %s: %w", s.path, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.path, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}

	s.log.Debug().Int("entries", len(items)).Msg("store written")
	return nil
}
