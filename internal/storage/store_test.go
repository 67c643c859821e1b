package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDoc struct {
	Name    string    `json:"name"`
	Count   int       `json:"count"`
	Updated time.Time `json:"updated"`
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "data", "doc.json"))
	require.NoError(t, err)

	want := testDoc{Name: "outages", Count: 3, Updated: time.Date(2026, 2, 11, 8, 30, 0, 0, time.UTC)}
	require.NoError(t, store.Save(want))

	var got testDoc
	require.NoError(t, store.Load(&got))
	assert.Equal(t, want, got)
}

func TestLoadMissingFileReturnsNotFound(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "doc.json"))
	require.NoError(t, err)

	var got testDoc
	err = store.Load(&got)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveReplacesPreviousSnapshot(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "doc.json"))
	require.NoError(t, err)

	require.NoError(t, store.Save(testDoc{Name: "first", Count: 1}))
	require.NoError(t, store.Save(testDoc{Name: "second", Count: 2}))

	var got testDoc
	require.NoError(t, store.Load(&got))
	assert.Equal(t, "second", got.Name)
	assert.Equal(t, 2, got.Count)
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "doc.json"))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Save(testDoc{Count: i}))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "doc.json", entries[0].Name())
}
