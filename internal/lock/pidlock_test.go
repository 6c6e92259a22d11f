package lock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquirePIDLockWritesPID(t *testing.T) {
	t.Parallel()

	lockPath := PathFor(filepath.Join(t.TempDir(), "data", "hackscore.db"))
	l, err := AcquirePIDLock(lockPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Release() })

	assert.Equal(t, lockPath, l.Path())
	pid, err := ReadPID(lockPath)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestAcquirePIDLockIsExclusive(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "hackscore.db.lock")
	first, err := AcquirePIDLock(lockPath)
	require.NoError(t, err)

	// flock is per open file description, so a second open in this process
	// conflicts just like another process would.
	_, err = AcquirePIDLock(lockPath)
	require.ErrorIs(t, err, ErrLocked)
	assert.Contains(t, err.Error(), "pid")

	require.NoError(t, first.Release())
	second, err := AcquirePIDLock(lockPath)
	require.NoError(t, err)
	require.NoError(t, second.Release())
	require.NoError(t, second.Release(), "release is idempotent")
}

func TestAcquirePIDLockEmptyPath(t *testing.T) {
	_, err := AcquirePIDLock("")
	assert.Error(t, err)
}

func TestReadPIDGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.lock")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0o600))
	_, err := ReadPID(path)
	assert.Error(t, err)
}
