package infra

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/sysdaemon/internal/config"
	"github.com/eliteGoblin/sysdaemon/internal/domain"
)

func newTestPidManager(t *testing.T) (*PidFileManager, *recordingLogger) {
	t.Helper()
	cfg := config.Default("worker1")
	uid, gid := os.Getuid(), os.Getgid()
	cfg.AppRunAsUID, cfg.AppRunAsGID = &uid, &gid
	log := &recordingLogger{}
	return NewPidFileManager(&cfg, log), log
}

func TestPidFileManager_WriteRead(t *testing.T) {
	m, _ := newTestPidManager(t)
	path := filepath.Join(t.TempDir(), "run", "worker1", "worker1.pid")

	require.NoError(t, m.Write(path, 4321))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "4321", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	pid, ok, err := m.Read(path)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 4321, pid)
}

func TestPidFileManager_WriteRejectsSharedDirectory(t *testing.T) {
	m, _ := newTestPidManager(t)
	dir := t.TempDir()

	tests := []string{
		filepath.Join(dir, "worker1.pid"),
		filepath.Join(dir, "other", "worker1.pid"),
		"worker1/worker1.pid",
		"/worker1.pid",
	}
	for _, path := range tests {
		t.Run(path, func(t *testing.T) {
			err := m.Write(path, 1)
			assert.ErrorIs(t, err, domain.ErrPidFile)
		})
	}
	_, err := os.Stat(filepath.Join(dir, "other"))
	assert.True(t, os.IsNotExist(err), "rejected write must not create directories")
}

func TestPidFileManager_Read(t *testing.T) {
	m, _ := newTestPidManager(t)
	dir := filepath.Join(t.TempDir(), "worker1")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	t.Run("absent", func(t *testing.T) {
		pid, ok, err := m.Read(filepath.Join(dir, "missing.pid"))
		assert.NoError(t, err)
		assert.False(t, ok)
		assert.Zero(t, pid)
	})

	t.Run("trims whitespace", func(t *testing.T) {
		path := filepath.Join(dir, "spaced.pid")
		require.NoError(t, os.WriteFile(path, []byte("  99\n"), 0o644))
		pid, ok, err := m.Read(path)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 99, pid)
	})

	t.Run("garbage", func(t *testing.T) {
		path := filepath.Join(dir, "garbage.pid")
		require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0o644))
		_, ok, err := m.Read(path)
		assert.True(t, ok)
		assert.ErrorIs(t, err, domain.ErrPidFile)
	})
}

func TestPidFileManager_Remove(t *testing.T) {
	m, _ := newTestPidManager(t)
	path := filepath.Join(t.TempDir(), "worker1", "worker1.pid")
	require.NoError(t, m.Write(path, 12))

	require.NoError(t, m.Remove(path))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(path + lockSuffix)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, m.Remove(path), "removing an absent pid file is not an error")
}

func TestMkdirAllOwned(t *testing.T) {
	base := t.TempDir()

	t.Run("creates nested levels", func(t *testing.T) {
		target := filepath.Join(base, "a", "b", "c")
		require.NoError(t, MkdirAllOwned(target, 0o755, os.Getuid(), os.Getgid()))
		assert.DirExists(t, target)
		require.NoError(t, MkdirAllOwned(target, 0o755, os.Getuid(), os.Getgid()), "idempotent")
	})

	t.Run("file in the way", func(t *testing.T) {
		blocker := filepath.Join(base, "blocker")
		require.NoError(t, os.WriteFile(blocker, nil, 0o644))
		err := MkdirAllOwned(filepath.Join(blocker, "x", "y"), 0o755, -1, -1)
		assert.Error(t, err)
	})
}

func TestDirWritable(t *testing.T) {
	base := t.TempDir()

	ok, checked, owner := DirWritable(filepath.Join(base, "not", "yet"))
	assert.True(t, ok)
	assert.Equal(t, base, checked)
	assert.Equal(t, os.Getuid(), owner)
}
