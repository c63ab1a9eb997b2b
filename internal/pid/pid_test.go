package pid_test

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"codeberg.org/dltlab/dltcal/internal/errors"
	"codeberg.org/dltlab/dltcal/internal/pid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireWritesOwnPID(t *testing.T) {
	dir := t.TempDir()

	f, err := pid.Acquire(dir, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, pid.DefaultName), f.Path())

	b, err := os.ReadFile(f.Path())
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(b))

	require.NoError(t, f.Release())
	assert.NoFileExists(t, f.Path())
}

func TestAcquireRefusesLiveOwner(t *testing.T) {
	dir := t.TempDir()

	f, err := pid.Acquire(dir, "run.pid")
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Release() })

	_, err = pid.Acquire(dir, "run.pid")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrAlreadyRunning))
}

func TestAcquireTakesOverStaleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.pid")

	for _, content := range []string{"999999999", "not a pid"} {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		f, err := pid.Acquire(dir, "run.pid")
		require.NoError(t, err, content)
		require.NoError(t, f.Release())
	}
}

func TestReleaseLeavesForeignFile(t *testing.T) {
	dir := t.TempDir()

	f, err := pid.Acquire(dir, "run.pid")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(f.Path(), []byte("1"), 0o600))

	require.NoError(t, f.Release())
	assert.FileExists(t, f.Path())
}
