package filelock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockUnlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.lock")
	fl := New(path)

	require.NoError(t, fl.Lock())
	require.NoError(t, fl.Unlock())
}

func TestTryLockHeldElsewhere(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.lock")
	first := New(path)
	require.NoError(t, first.Lock())
	defer first.Unlock()

	ok, err := New(path).TryLock()
	require.NoError(t, err)
	assert.False(t, ok, "a held lock cannot be re-acquired")
}

func TestAtomicWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.json")

	require.NoError(t, AtomicWrite(path, []byte("first")))
	require.NoError(t, AtomicWrite(path, []byte("second")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLockAndWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, LockAndWrite(path, []byte("data")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
}
