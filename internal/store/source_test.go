package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSource_LoadMissing(t *testing.T) {
	s := NewSource[entry](filepath.Join(t.TempDir(), "none.json"), zerolog.Nop())

	err := s.Load()
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Empty(t, s.Items())

	_, err = s.Refresh()
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestSource_RefreshOnlyOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dir.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":1}]`), 0644))

	s := NewSource[entry](path, zerolog.Nop())
	require.NoError(t, s.Load())
	require.Len(t, s.Items(), 1)

	reloaded, err := s.Refresh()
	require.NoError(t, err)
	assert.False(t, reloaded)

	require.NoError(t, os.WriteFile(path, []byte(`[{"id":1},{"id":2}]`), 0644))
	later := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, later, later))

	reloaded, err = s.Refresh()
	require.NoError(t, err)
	assert.True(t, reloaded)
	assert.Len(t, s.Items(), 2)
}

func TestSource_RefreshPicksUpLateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "late.json")
	s := NewSource[entry](path, zerolog.Nop())
	require.Error(t, s.Load())

	require.NoError(t, os.WriteFile(path, []byte(`[{"id":7}]`), 0644))
	reloaded, err := s.Refresh()
	require.NoError(t, err)
	assert.True(t, reloaded)
	assert.Equal(t, 7, s.Items()[0].ID)
}

func TestSource_CorruptFileKeepsPreviousItems(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dir.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":1}]`), 0644))
	s := NewSource[entry](path, zerolog.Nop())
	require.NoError(t, s.Load())

	require.NoError(t, os.WriteFile(path, []byte(`[{"id":`), 0644))
	later := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, later, later))

	_, err := s.Refresh()
	assert.Error(t, err)
	assert.Len(t, s.Items(), 1)
}
