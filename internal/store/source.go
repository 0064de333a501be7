package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrUnavailable is returned when a file that must be read is missing
var ErrUnavailable = errors.New("storage unavailable")

// Source is a read-only JSON array file held in memory. It is reloaded only
// on request, and Refresh only reloads when the file's modification time has
// changed since the last load.
type Source[T any] struct {
	path string
	log  zerolog.Logger

	mu      sync.RWMutex
	items   []T
	modTime time.Time
	size    int64
}

// NewSource creates an unloaded source for path
func NewSource[T any](path string, log zerolog.Logger) *Source[T] {
	return &Source[T]{
		path:  path,
		log:   log,
		items: []T{},
	}
}

// Path returns the backing file path
func (s *Source[T]) Path() string {
	return s.path
}

// Load reads the file unconditionally
func (s *Source[T]) Load() error {
	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", s.path, ErrUnavailable)
		}
		return fmt.Errorf("failed to stat %s: %w", s.path, err)
	}
	return s.load(info)
}

// Refresh reloads the file when it changed since the last load. It reports
// whether a reload happened.
func (s *Source[T]) Refresh() (bool, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("%s: %w", s.path, ErrUnavailable)
		}
		return false, fmt.Errorf("failed to stat %s: %w", s.path, err)
	}

	s.mu.RLock()
	unchanged := info.ModTime().Equal(s.modTime) && info.Size() == s.size
	s.mu.RUnlock()
	if unchanged {
		return false, nil
	}
	if err := s.load(info); err != nil {
		return false, err
	}
	return true, nil
}

// Items returns the loaded entries. Callers must not modify the slice.
func (s *Source[T]) Items() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items
}

func (s *Source[T]) load(info os.FileInfo) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	items := []T{}
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("failed to decode %s: %w", s.path, err)
	}
	if items == nil {
		items = []T{}
	}

	s.mu.Lock()
	s.items = items
	s.modTime = info.ModTime()
	s.size = info.Size()
	s.mu.Unlock()

	s.log.Info().Str("file", s.path).Int("count", len(items)).Msg("loaded")
	return nil
}
