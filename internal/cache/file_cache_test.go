package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func TestFileCacheRoundTrip(t *testing.T) {
	fc := NewFileCache[[]entry](t.TempDir(), "tasks")
	key := fc.GenerateKey("ATTO", "LST", 42)

	_, ok := fc.Get(key)
	assert.False(t, ok)

	want := []entry{{"a", 1.5}, {"b", -2}}
	require.NoError(t, fc.Set(key, want))
	got, ok := fc.Get(key)
	require.True(t, ok)
	assert.Equal(t, want, got)

	_, err := os.Stat(filepath.Join(fc.cacheDir, key+".json.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileCacheKeys(t *testing.T) {
	fc := NewFileCache[int](t.TempDir())
	assert.Equal(t, fc.GenerateKey("a", 1), fc.GenerateKey("a", 1))
	assert.NotEqual(t, fc.GenerateKey("a", 1), fc.GenerateKey("a", 2))
	assert.Len(t, fc.GenerateKey("x"), 40)
}

func TestFileCacheRejectsTamperedEntry(t *testing.T) {
	fc := NewFileCache[entry](t.TempDir())
	key := fc.GenerateKey("k")
	require.NoError(t, fc.Set(key, entry{"a", 1}))

	path := filepath.Join(fc.cacheDir, key+".json")
	// same shape, different value, stale checksum
	tampered := []byte(`{"data":{"name":"a","value":2},"created_at":"2024-01-01T00:00:00Z","checksum":"00"}`)
	require.NoError(t, os.WriteFile(path, tampered, 0o644))

	_, ok := fc.Get(key)
	assert.False(t, ok)
}

func TestFileCacheDelete(t *testing.T) {
	fc := NewFileCache[int](t.TempDir())
	key := fc.GenerateKey("k")
	require.NoError(t, fc.Set(key, 7))
	require.NoError(t, fc.Delete(key))
	_, ok := fc.Get(key)
	assert.False(t, ok)
	assert.NoError(t, fc.Delete(key))
}
