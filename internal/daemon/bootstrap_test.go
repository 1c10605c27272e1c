package daemon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecSpawner_IsChild(t *testing.T) {
	s := NewExecSpawner("worker1", "", nil)

	t.Setenv(ChildEnv, "")
	assert.False(t, s.IsChild())

	t.Setenv(ChildEnv, "worker2")
	assert.False(t, s.IsChild(), "marker belongs to another daemon")

	t.Setenv(ChildEnv, "worker1")
	assert.True(t, s.IsChild())
}

func TestExecSpawner_Spawn(t *testing.T) {
	s := NewExecSpawner("worker1", "/bin/sh", []string{"-c", `test "$SYSDAEMON_CHILD" = worker1`})

	pid, err := s.Spawn()
	require.NoError(t, err)
	assert.Positive(t, pid)
}

func TestExecSpawner_SpawnMissingBinary(t *testing.T) {
	s := NewExecSpawner("worker1", "/nonexistent/sysdaemon", nil)

	_, err := s.Spawn()
	assert.Error(t, err)
}
