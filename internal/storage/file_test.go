package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_MissingTable(t *testing.T) {
	store := NewFileStore(t.TempDir())

	got := map[string]int{}
	err := store.ReadTable("keys", &got)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFileStore_RoundTrip(t *testing.T) {
	store := NewFileStore(t.TempDir())

	want := map[string]int{"FREE-AAAA0000": 3, "FREE-BBBB1111": 1}
	require.NoError(t, store.WriteTable("keys", want))

	got := map[string]int{}
	require.NoError(t, store.ReadTable("keys", &got))
	assert.Equal(t, want, got)
}

func TestFileStore_MalformedTable(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "keys.json"), []byte("{not json"), 0644))

	got := map[string]int{}
	err := store.ReadTable("keys", &got)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse table")
}

func TestFileStore_CreatesDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	store := NewFileStore(dir)

	require.NoError(t, store.WriteTable("tokens", map[string]string{}))

	_, err := os.Stat(filepath.Join(dir, "tokens.json"))
	assert.NoError(t, err)
}
