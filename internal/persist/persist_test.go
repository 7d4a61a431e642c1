package persist

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Name  string    `json:"name"`
	Items []float64 `json:"items"`
}

func TestWriteThenRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "doc.json")

	want := doc{Name: "a", Items: []float64{1, 2.5}}
	require.NoError(t, WriteJSON(path, want))

	var got doc
	found, err := ReadJSON(path, &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, want, got)
}

func TestReadMissing(t *testing.T) {
	var got doc
	found, err := ReadJSON(filepath.Join(t.TempDir(), "nope.json"), &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestReadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"name":`), 0o644))

	var got doc
	found, err := ReadJSON(path, &got)
	assert.True(t, found)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorrupt))
}

func TestReadEmptyIsCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	var got doc
	_, err := ReadJSON(path, &got)
	assert.True(t, errors.Is(err, ErrCorrupt))
}

func TestQuarantine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	dest, err := Quarantine(path)
	require.NoError(t, err)

	_, err = os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "garbage", string(data))
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	require.NoError(t, WriteJSON(path, doc{Name: "x"}))
	require.NoError(t, WriteJSON(path, doc{Name: "y"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-")
	}

	var got doc
	_, err = ReadJSON(path, &got)
	require.NoError(t, err)
	assert.Equal(t, "y", got.Name)
}

func TestRemoveMissingIsNoop(t *testing.T) {
	require.NoError(t, Remove(filepath.Join(t.TempDir(), "gone.json")))
}
