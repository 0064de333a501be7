package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	ID   int    `json:"id"`
	Note string `json:"note"`
}

func newStore(t *testing.T, name string) *JSONStore[entry] {
	t.Helper()
	s, err := NewJSONStore[entry](filepath.Join(t.TempDir(), name), zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	s := newStore(t, "missing.json")

	items, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, items)

	ok, err := s.Exists()
	require.NoError(t, err)
	assert.False(t, ok, "reading must not create the file")
}

func TestAppend_MaterializesAndPreservesOrder(t *testing.T) {
	s := newStore(t, "log.json")

	require.NoError(t, s.Append(entry{ID: 1}))
	require.NoError(t, s.Append(entry{ID: 2}, entry{ID: 3}))

	items, err := s.Load()
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{items[0].ID, items[1].ID, items[2].ID})
}

func TestWrite_PrettyPrintedWithoutHTMLEscaping(t *testing.T) {
	s := newStore(t, "pretty.json")
	require.NoError(t, s.Append(entry{ID: 1, Note: "a<b & c"}))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "[\n  {\n    \"id\": 1,"))
	assert.Contains(t, string(data), "a<b & c")
}

func TestUpdate_ErrorLeavesFileUntouched(t *testing.T) {
	s := newStore(t, "ledger.json")
	require.NoError(t, s.Append(entry{ID: 1, Note: "before"}))

	boom := errors.New("boom")
	err := s.Update(func(items []entry) ([]entry, error) {
		items[0].Note = "after"
		return items, boom
	})
	assert.ErrorIs(t, err, boom)

	items, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "before", items[0].Note)
}

func TestUpdateExisting_MissingFile(t *testing.T) {
	s := newStore(t, "absent.json")

	called := false
	err := s.UpdateExisting(func(items []entry) ([]entry, error) {
		called = true
		return items, nil
	})
	assert.ErrorIs(t, err, ErrMissing)
	assert.False(t, called)
}

func TestTruncate(t *testing.T) {
	s := newStore(t, "clear.json")

	// Truncating a store that never existed still leaves an empty array behind
	require.NoError(t, s.Truncate())
	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(string(data)))

	require.NoError(t, s.Append(entry{ID: 1}))
	require.NoError(t, s.Truncate())
	require.NoError(t, s.Truncate())

	items, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestLoad_EmptyAndNullFiles(t *testing.T) {
	for _, content := range []string{"", "  \n", "null"} {
		s := newStore(t, "odd.json")
		require.NoError(t, os.WriteFile(s.Path(), []byte(content), 0644))

		items, err := s.Load()
		require.NoError(t, err, "content %q", content)
		assert.NotNil(t, items)
		assert.Empty(t, items)
	}
}

func TestLoad_CorruptFile(t *testing.T) {
	s := newStore(t, "corrupt.json")
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0644))

	_, err := s.Load()
	assert.Error(t, err)
}

func TestConcurrentUpdates_NoLostWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.json")
	a, err := NewJSONStore[entry](path, zerolog.Nop())
	require.NoError(t, err)
	b, err := NewJSONStore[entry](path, zerolog.Nop())
	require.NoError(t, err)

	const writers = 40
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := a
			if i%2 == 1 {
				s = b
			}
			assert.NoError(t, s.Append(entry{ID: i}))
		}(i)
	}
	wg.Wait()

	items, err := a.Load()
	require.NoError(t, err)
	assert.Len(t, items, writers)
}
